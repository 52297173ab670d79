// Package indexdb keeps a queryable SQLite index of client sessions: when they
// ran, how the clock offset evolved, and who joined or left.
package indexdb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"
)

type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropSession atomic.Uint64
	dropClock   atomic.Uint64
	dropRoster  atomic.Uint64
}

type reqKind int

const (
	reqSessionStart reqKind = iota + 1
	reqSessionEnd
	reqClock
	reqJoin
	reqLeave
)

type req struct {
	kind reqKind

	session SessionRow
	clock   ClockRow
	roster  RosterRow
}

// SessionRow describes one connection from handshake to leave.
type SessionRow struct {
	ID         string
	Server     string
	Transport  string
	PlayerID   uint64
	PlayerName string
	StartedAt  time.Time
	EndedAt    time.Time
	EndReason  string
	FramesIn   uint64
	FramesOut  uint64
	Discarded  uint64
}

type ClockRow struct {
	Session string
	PingID  uint64
	RTT     float64
	Delta   float64
	At      time.Time
}

type RosterRow struct {
	Session  string
	PlayerID uint64
	Name     string
	Reason   string
	At       time.Time
}

type Stats struct {
	QueueDepth    int
	QueueCapacity int

	DropSessionTotal uint64
	DropClockTotal   uint64
	DropRosterTotal  uint64
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan req, 4096),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1');`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			server TEXT NOT NULL,
			transport TEXT NOT NULL,
			player_id INTEGER NOT NULL,
			player_name TEXT NOT NULL,
			started_at TEXT NOT NULL,
			ended_at TEXT,
			end_reason TEXT,
			frames_in INTEGER NOT NULL DEFAULT 0,
			frames_out INTEGER NOT NULL DEFAULT 0,
			discarded INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE TABLE IF NOT EXISTS clock_samples (
			session_id TEXT NOT NULL,
			ping_id INTEGER NOT NULL,
			rtt REAL NOT NULL,
			delta REAL NOT NULL,
			recorded_at TEXT NOT NULL,
			PRIMARY KEY (session_id, ping_id)
		);`,
		`CREATE TABLE IF NOT EXISTS joins (
			session_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			player_id INTEGER NOT NULL,
			name TEXT NOT NULL,
			recorded_at TEXT NOT NULL,
			PRIMARY KEY (session_id, seq)
		);`,
		`CREATE TABLE IF NOT EXISTS leaves (
			session_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			player_id INTEGER NOT NULL,
			reason TEXT NOT NULL,
			recorded_at TEXT NOT NULL,
			PRIMARY KEY (session_id, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_leaves_reason ON leaves(reason);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

// Close drains queued writes and closes the database.
func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:       len(s.ch),
		QueueCapacity:    cap(s.ch),
		DropSessionTotal: s.dropSession.Load(),
		DropClockTotal:   s.dropClock.Load(),
		DropRosterTotal:  s.dropRoster.Load(),
	}
}

// enqueue never blocks the caller: when the writer falls behind the row is
// dropped and counted. Recordings remain the source of truth.
func (s *SQLiteIndex) enqueue(r req) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- r:
	default:
		switch r.kind {
		case reqSessionStart, reqSessionEnd:
			s.dropSession.Add(1)
		case reqClock:
			s.dropClock.Add(1)
		default:
			s.dropRoster.Add(1)
		}
	}
}

func (s *SQLiteIndex) StartSession(r SessionRow) { s.enqueue(req{kind: reqSessionStart, session: r}) }
func (s *SQLiteIndex) EndSession(r SessionRow)   { s.enqueue(req{kind: reqSessionEnd, session: r}) }
func (s *SQLiteIndex) RecordClock(r ClockRow)    { s.enqueue(req{kind: reqClock, clock: r}) }
func (s *SQLiteIndex) RecordJoin(r RosterRow)    { s.enqueue(req{kind: reqJoin, roster: r}) }
func (s *SQLiteIndex) RecordLeave(r RosterRow)   { s.enqueue(req{kind: reqLeave, roster: r}) }

func ts(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertSession, _ := s.db.Prepare(`INSERT OR REPLACE INTO sessions(id,server,transport,player_id,player_name,started_at) VALUES(?,?,?,?,?,?)`)
	endSession, _ := s.db.Prepare(`UPDATE sessions SET ended_at=?, end_reason=?, frames_in=?, frames_out=?, discarded=? WHERE id=?`)
	insertClock, _ := s.db.Prepare(`INSERT OR REPLACE INTO clock_samples(session_id,ping_id,rtt,delta,recorded_at) VALUES(?,?,?,?,?)`)
	insertJoin, _ := s.db.Prepare(`INSERT INTO joins(session_id,seq,player_id,name,recorded_at) VALUES(?,?,?,?,?)`)
	insertLeave, _ := s.db.Prepare(`INSERT INTO leaves(session_id,seq,player_id,reason,recorded_at) VALUES(?,?,?,?,?)`)
	defer func() {
		for _, st := range []*sql.Stmt{insertSession, endSession, insertClock, insertJoin, insertLeave} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 500
		commitMaxWait = time.Second

		joinSeq  = map[string]int{}
		leaveSeq = map[string]int{}
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	exec := func(st *sql.Stmt, args ...any) {
		if st == nil || tx == nil {
			return
		}
		if _, err := tx.Stmt(st).Exec(args...); err != nil {
			rollback()
			return
		}
		opCount++
	}

	ticker := time.NewTicker(commitMaxWait)
	defer ticker.Stop()

	for {
		select {
		case r, ok := <-s.ch:
			if !ok {
				commit()
				return
			}
			begin()
			if tx == nil {
				continue
			}
			switch r.kind {
			case reqSessionStart:
				se := r.session
				exec(insertSession, se.ID, se.Server, se.Transport, int64(se.PlayerID), se.PlayerName, ts(se.StartedAt))
			case reqSessionEnd:
				se := r.session
				exec(endSession, ts(se.EndedAt), se.EndReason, int64(se.FramesIn), int64(se.FramesOut), int64(se.Discarded), se.ID)
			case reqClock:
				c := r.clock
				exec(insertClock, c.Session, int64(c.PingID), c.RTT, c.Delta, ts(c.At))
			case reqJoin:
				ro := r.roster
				seq := joinSeq[ro.Session]
				joinSeq[ro.Session] = seq + 1
				exec(insertJoin, ro.Session, seq, int64(ro.PlayerID), ro.Name, ts(ro.At))
			case reqLeave:
				ro := r.roster
				seq := leaveSeq[ro.Session]
				leaveSeq[ro.Session] = seq + 1
				exec(insertLeave, ro.Session, seq, int64(ro.PlayerID), ro.Reason, ts(ro.At))
			}
			if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
				commit()
			}
		case <-ticker.C:
			if tx != nil && time.Since(lastCommit) >= commitMaxWait {
				commit()
			}
		}
	}
}
