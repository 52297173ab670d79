package main

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"

	"outpost.client/internal/gamestate"
	persistlog "outpost.client/internal/persistence/log"
	"outpost.client/internal/protocol"
)

// replayer feeds recorded inbound gamestate frames through a fresh diff
// engine per session and tallies the events it produces.
type replayer struct {
	sustained []string
	session   string
	verbose   bool
	out       io.Writer

	engines   map[string]*gamestate.Engine
	frames    int
	snapshots int
	counts    map[gamestate.EventKind]int
}

func newReplayer(sustained []string, session string, verbose bool, out io.Writer) *replayer {
	return &replayer{
		sustained: sustained,
		session:   session,
		verbose:   verbose,
		out:       out,
		engines:   make(map[string]*gamestate.Engine),
		counts:    make(map[gamestate.EventKind]int),
	}
}

func (r *replayer) replayFile(path string) error {
	return persistlog.ReadFrames(path, r.replayEntry)
}

func (r *replayer) replayEntry(e persistlog.FrameEntry) error {
	if r.session != "" && e.Session != r.session {
		return nil
	}
	r.frames++
	if e.Dir != "in" || protocol.Type(e.Code) != protocol.TypeGamestate {
		return nil
	}
	snap, err := gamestate.DecodeSnapshot(e.Message())
	if err != nil {
		return fmt.Errorf("session %s t=%.3f: %w", e.Session, e.T, err)
	}
	eng, ok := r.engines[e.Session]
	if !ok {
		eng = gamestate.NewEngine(gamestate.EngineConfig{SustainedActions: r.sustained})
		r.engines[e.Session] = eng
	}
	r.snapshots++
	for _, ev := range eng.Process(snap) {
		r.counts[ev.Kind()]++
		if r.verbose {
			fmt.Fprintf(r.out, "%s t=%.3f %s %+v\n", e.Session, snap.ServerTime, ev.Kind(), ev)
		}
	}
	return nil
}

func (r *replayer) summary(w io.Writer) {
	fmt.Fprintf(w, "replay ok: sessions=%d frames=%d snapshots=%d\n", len(r.engines), r.frames, r.snapshots)
	for _, k := range slices.Sorted(maps.Keys(r.counts)) {
		fmt.Fprintf(w, "  %-26s %d\n", k, r.counts[k])
	}
}

func splitList(s string) []string {
	out := []string{}
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
