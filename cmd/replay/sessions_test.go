package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"outpost.client/internal/persistence/indexdb"
)

func TestPrintSessions(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "index.sqlite")
	idx, err := indexdb.OpenSQLite(dbPath)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	idx.StartSession(indexdb.SessionRow{ID: "s1", Server: "127.0.0.1:7400", Transport: "tcp", PlayerID: 7, PlayerName: "ada", StartedAt: start})
	idx.StartSession(indexdb.SessionRow{ID: "s2", Server: "127.0.0.1:7400", Transport: "ws", PlayerID: 9, PlayerName: "cy", StartedAt: start.Add(time.Hour)})
	idx.RecordClock(indexdb.ClockRow{Session: "s1", PingID: 1, RTT: 0.05, Delta: 35, At: start})
	idx.RecordLeave(indexdb.RosterRow{Session: "s1", PlayerID: 7, Reason: "quit", At: start.Add(time.Minute)})
	idx.EndSession(indexdb.SessionRow{ID: "s1", EndedAt: start.Add(time.Minute), EndReason: "quit", FramesIn: 12, FramesOut: 3})
	if err := idx.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	var out bytes.Buffer
	if err := printSessions(context.Background(), &out, dbPath, "s1", 10); err != nil {
		t.Fatalf("printSessions: %v", err)
	}
	got := out.String()
	for _, want := range []string{
		"session s1 player=7(ada) server=tcp/127.0.0.1:7400",
		"reason=quit frames_in=12",
		"clock ping=1 rtt=50.0ms delta=35.0000s",
		"leave player=7 reason=quit",
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("missing %q in:\n%s", want, got)
		}
	}
	if strings.Contains(got, "s2") {
		t.Fatalf("session filter ignored:\n%s", got)
	}

	out.Reset()
	if err := printSessions(context.Background(), &out, dbPath, "nope", 10); err != nil {
		t.Fatalf("printSessions: %v", err)
	}
	if !strings.Contains(out.String(), "no indexed sessions") {
		t.Fatalf("empty listing: %q", out.String())
	}
}
