package log

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/klauspost/compress/zstd"

	"outpost.client/internal/protocol"
)

// FrameEntry is one recorded frame. Payload keeps the exact wire bytes so a
// recording can be replayed; Attrs is the decoded attribute map for reading.
type FrameEntry struct {
	Session string         `json:"session"`
	T       float64        `json:"t"`
	Dir     string         `json:"dir"`
	Type    string         `json:"type"`
	Code    uint16         `json:"code"`
	Payload []byte         `json:"payload"`
	Attrs   map[string]any `json:"attrs,omitempty"`
}

func (e FrameEntry) Message() protocol.Message {
	return protocol.Message{Type: protocol.Type(e.Code), Payload: e.Payload}
}

// FrameRecorder writes every frame of one session.
type FrameRecorder struct {
	w       *SegmentWriter
	session string
	now     func() time.Time
}

func NewFrameRecorder(dir, session string) *FrameRecorder {
	return &FrameRecorder{
		w:       NewSegmentWriter(dir, "frames"),
		session: session,
		now:     time.Now,
	}
}

// Record appends m. dir is "in" or "out".
func (r *FrameRecorder) Record(dir string, m protocol.Message) error {
	e := FrameEntry{
		Session: r.session,
		T:       float64(r.now().UnixNano()) / 1e9,
		Dir:     dir,
		Type:    m.Type.String(),
		Code:    uint16(m.Type),
		Payload: m.Payload,
	}
	if m.Type.Known() {
		if attrs, err := m.Attrs(); err == nil {
			e.Attrs = attrs
		}
	}
	return r.w.Write(e)
}

// OnSegmentClosed registers fn to run with the path of each finished file.
func (r *FrameRecorder) OnSegmentClosed(fn func(path string)) { r.w.OnClose = fn }

func (r *FrameRecorder) Flush() error { return r.w.Flush() }
func (r *FrameRecorder) Close() error { return r.w.Close() }

// RecordingFiles lists the frame recordings in dir, oldest first.
func RecordingFiles(dir string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(dir, "frames-*.jsonl.zst"))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// ReadFrames calls fn for every entry in path, in file order. A truncated
// final line (an unclean shutdown) ends the file without error.
func ReadFrames(path string, fn func(FrameEntry) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 64*1024)
	for line := 1; ; line++ {
		b, err := br.ReadBytes('\n')
		if len(b) > 0 && b[len(b)-1] == '\n' {
			var e FrameEntry
			if jerr := json.Unmarshal(b, &e); jerr != nil {
				return fmt.Errorf("%s:%d: %w", filepath.Base(path), line, jerr)
			}
			if ferr := fn(e); ferr != nil {
				return ferr
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil
			}
			return err
		}
	}
}
