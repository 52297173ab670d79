package indexdb

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Reader runs queries against an index file. It uses its own handle, so it
// can be opened while a writer is active.
type Reader struct {
	db *sql.DB
}

func OpenReader(path string) (*Reader, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000;"); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Reader{db: db}, nil
}

func (r *Reader) Close() error { return r.db.Close() }

func parseTS(s sql.NullString) time.Time {
	if !s.Valid {
		return time.Time{}
	}
	t, _ := time.Parse(time.RFC3339Nano, s.String)
	return t
}

// Sessions returns the most recent sessions first.
func (r *Reader) Sessions(ctx context.Context, limit int) ([]SessionRow, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `SELECT id,server,transport,player_id,player_name,started_at,ended_at,end_reason,frames_in,frames_out,discarded
		FROM sessions ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("indexdb: sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionRow
	for rows.Next() {
		var (
			s                 SessionRow
			playerID          int64
			started, ended    sql.NullString
			reason            sql.NullString
			in, outN, dropped int64
		)
		if err := rows.Scan(&s.ID, &s.Server, &s.Transport, &playerID, &s.PlayerName, &started, &ended, &reason, &in, &outN, &dropped); err != nil {
			return nil, err
		}
		s.PlayerID = uint64(playerID)
		s.StartedAt = parseTS(started)
		s.EndedAt = parseTS(ended)
		s.EndReason = reason.String
		s.FramesIn, s.FramesOut, s.Discarded = uint64(in), uint64(outN), uint64(dropped)
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *Reader) ClockSamples(ctx context.Context, session string) ([]ClockRow, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT ping_id,rtt,delta,recorded_at FROM clock_samples WHERE session_id=? ORDER BY ping_id`, session)
	if err != nil {
		return nil, fmt.Errorf("indexdb: clock samples: %w", err)
	}
	defer rows.Close()

	var out []ClockRow
	for rows.Next() {
		var (
			c      ClockRow
			pingID int64
			at     sql.NullString
		)
		if err := rows.Scan(&pingID, &c.RTT, &c.Delta, &at); err != nil {
			return nil, err
		}
		c.Session = session
		c.PingID = uint64(pingID)
		c.At = parseTS(at)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *Reader) Leaves(ctx context.Context, session string) ([]RosterRow, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT player_id,reason,recorded_at FROM leaves WHERE session_id=? ORDER BY seq`, session)
	if err != nil {
		return nil, fmt.Errorf("indexdb: leaves: %w", err)
	}
	defer rows.Close()

	var out []RosterRow
	for rows.Next() {
		var (
			ro       RosterRow
			playerID int64
			at       sql.NullString
		)
		if err := rows.Scan(&playerID, &ro.Reason, &at); err != nil {
			return nil, err
		}
		ro.Session = session
		ro.PlayerID = uint64(playerID)
		ro.At = parseTS(at)
		out = append(out, ro)
	}
	return out, rows.Err()
}
