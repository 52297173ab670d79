package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"outpost.client/internal/persistence/indexdb"
)

// printSessions lists indexed sessions, newest first, with their clock
// samples and departures. A non-empty session restricts the listing.
func printSessions(ctx context.Context, w io.Writer, dbPath, session string, limit int) error {
	r, err := indexdb.OpenReader(dbPath)
	if err != nil {
		return fmt.Errorf("open index: %w", err)
	}
	defer r.Close()

	sessions, err := r.Sessions(ctx, limit)
	if err != nil {
		return err
	}
	shown := 0
	for _, s := range sessions {
		if session != "" && s.ID != session {
			continue
		}
		shown++
		fmt.Fprintf(w, "session %s player=%d(%s) server=%s/%s started=%s",
			s.ID, s.PlayerID, s.PlayerName, s.Transport, s.Server, s.StartedAt.Format(time.RFC3339))
		if !s.EndedAt.IsZero() {
			fmt.Fprintf(w, " ended=%s reason=%s frames_in=%d frames_out=%d discarded=%d",
				s.EndedAt.Format(time.RFC3339), s.EndReason, s.FramesIn, s.FramesOut, s.Discarded)
		}
		fmt.Fprintln(w)

		clock, err := r.ClockSamples(ctx, s.ID)
		if err != nil {
			return err
		}
		for _, c := range clock {
			fmt.Fprintf(w, "  clock ping=%d rtt=%.1fms delta=%.4fs\n", c.PingID, c.RTT*1000, c.Delta)
		}
		leaves, err := r.Leaves(ctx, s.ID)
		if err != nil {
			return err
		}
		for _, l := range leaves {
			fmt.Fprintf(w, "  leave player=%d reason=%s at=%s\n", l.PlayerID, l.Reason, l.At.Format(time.RFC3339))
		}
	}
	if shown == 0 {
		fmt.Fprintln(w, "no indexed sessions")
	}
	return nil
}
