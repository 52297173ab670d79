// Package log records the frames of a session as zstd-compressed JSONL.
package log

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
)

const segmentLayout = "2006-01-02-15"

// SegmentWriter appends JSON lines to hourly segments named
// <prefix>-<YYYY-MM-DD-HH>.jsonl.zst under dir. A segment is finished when the
// hour changes or the writer is closed; OnClose then sees its path.
type SegmentWriter struct {
	dir    string
	prefix string
	now    func() time.Time

	// OnClose, if set, runs after a segment has been fully written.
	OnClose func(path string)

	mu  sync.Mutex
	seg *segment
}

type segment struct {
	key   string
	path  string
	f     *os.File
	zw    *zstd.Encoder
	buf   *bufio.Writer
	enc   *json.Encoder
	lines int
}

func NewSegmentWriter(dir, prefix string) *SegmentWriter {
	return &SegmentWriter{dir: dir, prefix: prefix, now: time.Now}
}

// Write appends v as one JSON line.
func (w *SegmentWriter) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	key := w.now().UTC().Format(segmentLayout)
	if w.seg == nil || w.seg.key != key {
		if err := w.finishLocked(); err != nil {
			return err
		}
		seg, err := w.open(key)
		if err != nil {
			return err
		}
		w.seg = seg
	}
	if err := w.seg.enc.Encode(v); err != nil {
		return fmt.Errorf("recorder: %s: %w", w.seg.path, err)
	}
	w.seg.lines++
	return nil
}

// Flush pushes buffered lines through the compressor to the file, so a
// crash loses at most what was written since.
func (w *SegmentWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.seg == nil {
		return nil
	}
	if err := w.seg.buf.Flush(); err != nil {
		return err
	}
	return w.seg.zw.Flush()
}

func (w *SegmentWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.finishLocked()
}

func (w *SegmentWriter) open(key string) (*segment, error) {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return nil, fmt.Errorf("recorder: %w", err)
	}
	path := filepath.Join(w.dir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, key))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("recorder: %w", err)
	}
	zw, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("recorder: %s: %w", path, err)
	}
	buf := bufio.NewWriterSize(zw, 128*1024)
	return &segment{key: key, path: path, f: f, zw: zw, buf: buf, enc: json.NewEncoder(buf)}, nil
}

func (w *SegmentWriter) finishLocked() error {
	seg := w.seg
	if seg == nil {
		return nil
	}
	w.seg = nil
	err := errors.Join(seg.buf.Flush(), seg.zw.Close(), seg.f.Close())
	if err != nil {
		return fmt.Errorf("recorder: close %s: %w", seg.path, err)
	}
	if w.OnClose != nil && seg.lines > 0 {
		w.OnClose(seg.path)
	}
	return nil
}
