// Package client wires the protocol pieces into one game session: handshake,
// per-tick polling and dispatch, snapshot diffing, entity interpolation and
// outbound actions.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"maps"
	"slices"
	"time"

	"outpost.client/internal/clocksync"
	"outpost.client/internal/entities"
	"outpost.client/internal/events"
	"outpost.client/internal/gamestate"
	"outpost.client/internal/persistence/indexdb"
	"outpost.client/internal/protocol"
	"outpost.client/internal/proxy"
	"outpost.client/internal/transport"
	"outpost.client/internal/wire"
)

// Recorder receives every frame crossing the session.
type Recorder interface {
	Record(dir string, m protocol.Message) error
	Flush() error
	Close() error
}

// Index receives session metadata.
type Index interface {
	StartSession(indexdb.SessionRow)
	EndSession(indexdb.SessionRow)
	RecordClock(indexdb.ClockRow)
	RecordJoin(indexdb.RosterRow)
	RecordLeave(indexdb.RosterRow)
}

type Options struct {
	Name string
	// Server and Transport are informational, for the index.
	Server    string
	Transport string
	SessionID string

	MaxPayload uint32
	ReadChunk  int

	SustainedActions []string
	// ResyncInterval sends a fresh ping this often; zero disables re-sync.
	ResyncInterval time.Duration

	// Now is the local clock in seconds (clocksync.WallClock if nil).
	Now    func() float64
	Logger *log.Logger

	Recorder Recorder
	Index    Index
}

var (
	ErrEnded     = errors.New("client: session ended")
	ErrNotJoined = errors.New("client: not joined")
)

// LeaveError reports why the local player is no longer in the session.
type LeaveError struct {
	Reason string
	// Err is the transport error behind a synthesized disconnect.
	Err error
}

func (e *LeaveError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("client: left session (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("client: left session (%s)", e.Reason)
}

func (e *LeaveError) Unwrap() error { return e.Err }

const recorderFlushEvery = 1.0 // seconds

type Player struct {
	ID   uint64
	Name string
}

// Session is the single context object for one connection. It is driven from
// one goroutine: Handshake once, then Tick (or Run) until it returns an error.
type Session struct {
	id     string
	opts   Options
	log    *log.Logger
	now    func() float64
	stream transport.Stream

	proxy    *proxy.Proxy
	clock    *clocksync.Synchronizer
	engine   *gamestate.Engine
	bus      *events.Bus
	registry *entities.Registry

	self      Player
	joined    bool
	roster    map[uint64]string
	lastPing  float64
	lastFlush float64

	// snapshotAge is how old the latest gamestate was on arrival, measured
	// on the local clock; valid only once the clock has synced.
	snapshotAge     float64
	haveSnapshotAge bool

	ended    bool
	leaveErr *LeaveError
	closed   bool
}

func New(stream transport.Stream, opts Options) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	now := opts.Now
	if now == nil {
		now = clocksync.WallClock
	}
	id := opts.SessionID
	if id == "" {
		id = fmt.Sprintf("%s-%d", opts.Name, time.Now().UnixNano())
	}

	s := &Session{
		id:     id,
		opts:   opts,
		log:    logger,
		now:    now,
		stream: stream,
		proxy: proxy.New(stream, proxy.Options{
			MaxPayload: opts.MaxPayload,
			ReadChunk:  opts.ReadChunk,
			Logger:     logger,
		}),
		clock:    clocksync.New(now),
		engine:   gamestate.NewEngine(gamestate.EngineConfig{SustainedActions: opts.SustainedActions}),
		bus:      events.NewBus(),
		registry: entities.NewRegistry(logger),
		roster:   make(map[uint64]string),
	}
	s.registry.Attach(s.bus)

	s.proxy.Register(protocol.TypePong, s.clock.Handler(logger, s.onClockSample))
	s.proxy.Register(protocol.TypeStay, s.handleStay)
	s.proxy.Register(protocol.TypeJoined, s.handleJoined)
	s.proxy.Register(protocol.TypeLeave, s.handleLeave)
	s.proxy.Register(protocol.TypeGamestate, s.handleGamestate)

	if opts.Recorder != nil {
		rec := opts.Recorder
		failed := false
		s.proxy.Observe(func(dir proxy.Direction, m protocol.Message) {
			if err := rec.Record(dir.String(), m); err != nil && !failed {
				failed = true
				s.log.Printf("recorder: %v (further errors suppressed)", err)
			}
		})
	}
	return s
}

func (s *Session) ID() string                     { return s.id }
func (s *Session) Self() Player                   { return s.self }
func (s *Session) Joined() bool                   { return s.joined }
func (s *Session) Bus() *events.Bus               { return s.bus }
func (s *Session) Registry() *entities.Registry   { return s.registry }
func (s *Session) Clock() *clocksync.Synchronizer { return s.clock }
func (s *Session) Engine() *gamestate.Engine      { return s.engine }
func (s *Session) Stats() proxy.Stats             { return s.proxy.Stats() }

// SnapshotAge reports how long ago, on the local clock, the server stamped
// the most recent gamestate. ok is false until a gamestate has arrived after
// the clock synced.
func (s *Session) SnapshotAge() (age float64, ok bool) {
	return s.snapshotAge, s.haveSnapshotAge
}

// Roster returns the players currently in the session, by ascending id.
func (s *Session) Roster() []Player {
	out := make([]Player, 0, len(s.roster))
	for _, id := range slices.Sorted(maps.Keys(s.roster)) {
		out = append(out, Player{ID: id, Name: s.roster[id]})
	}
	return out
}

// Ended returns the reason the session ended, or nil while it is live.
func (s *Session) Ended() *LeaveError {
	if !s.ended {
		return nil
	}
	return s.leaveErr
}

// Handshake sends ping and join together, then waits for stay. A pong that
// arrives first is dispatched to the clock; one that never arrives leaves the
// clock unsynced (delta 0) and is handled by Tick if it shows up later. A
// leave with id 0 instead of stay (full server, bad version) is returned as
// a *LeaveError.
func (s *Session) Handshake(ctx context.Context) error {
	if _, err := s.ping(); err != nil {
		return err
	}
	join := protocol.JoinMsg{Name: s.opts.Name, ProtocolVersion: protocol.Version}
	if err := s.proxy.Send(protocol.TypeJoin, join, nil); err != nil {
		return err
	}
	if err := s.proxy.Push(); err != nil {
		return fmt.Errorf("client: handshake: %w", err)
	}

	for !s.joined {
		m, err := s.proxy.WaitForAny(ctx, protocol.TypeStay, protocol.TypeLeave, protocol.TypePong)
		if err != nil {
			return fmt.Errorf("client: handshake: %w", err)
		}
		if m.Type == protocol.TypeLeave {
			var leave protocol.LeaveMsg
			if err := m.Decode(&leave); err != nil {
				return err
			}
			if leave.ID != 0 {
				s.log.Printf("handshake: ignoring leave for player %d", leave.ID)
				continue
			}
			s.ended = true
			s.leaveErr = &LeaveError{Reason: leave.Reason}
			return s.leaveErr
		}
		if err := s.proxy.Dispatch(m); err != nil {
			return err
		}
	}
	if s.clock.Synced() {
		s.log.Printf("clock synced delta=%.4fs rtt=%.4fs", s.clock.Delta(), s.clock.Last().RTT)
	} else {
		s.log.Printf("joined before pong; clock still syncing")
	}

	if s.opts.Index != nil {
		s.opts.Index.StartSession(indexdb.SessionRow{
			ID:         s.id,
			Server:     s.opts.Server,
			Transport:  s.opts.Transport,
			PlayerID:   s.self.ID,
			PlayerName: s.self.Name,
			StartedAt:  time.Now(),
		})
	}
	s.log.Printf("joined as id=%d name=%s players=%d", s.self.ID, s.self.Name, len(s.roster))
	return nil
}

// Tick runs one iteration of the game loop: drain and dispatch inbound
// messages, advance interpolation by dt seconds, re-sync the clock when due,
// and flush outbound messages. Losing the connection synthesizes a
// disconnected leave for ourselves; the returned error is then a *LeaveError.
func (s *Session) Tick(dt float64) error {
	if s.ended {
		return s.leaveErr
	}
	if s.closed {
		return ErrEnded
	}

	if _, err := s.proxy.PollAndDispatch(); err != nil {
		if !s.ended && isConnectionError(err) {
			return s.disconnect(err)
		}
		return err
	}
	if s.ended {
		return s.leaveErr
	}

	s.registry.Update(dt)

	if s.opts.ResyncInterval > 0 && !s.clock.Syncing() &&
		s.now()-s.lastPing >= s.opts.ResyncInterval.Seconds() {
		if _, err := s.ping(); err != nil {
			return err
		}
	}

	if err := s.proxy.Push(); err != nil {
		return s.disconnect(err)
	}

	if s.opts.Recorder != nil && s.now()-s.lastFlush >= recorderFlushEvery {
		s.lastFlush = s.now()
		if err := s.opts.Recorder.Flush(); err != nil {
			s.log.Printf("recorder flush: %v", err)
		}
	}
	return nil
}

// Run calls Tick and then onTick (may be nil, e.g. a render hook) with the
// same dt every interval, until ctx is done or the session ends. A cancelled
// ctx is not an error.
func (s *Session) Run(ctx context.Context, interval time.Duration, onTick func(dt float64) error) error {
	t := time.NewTicker(interval)
	defer t.Stop()
	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-t.C:
			dt := now.Sub(last).Seconds()
			last = now
			if err := s.Tick(dt); err != nil {
				return err
			}
			if onTick != nil {
				if err := onTick(dt); err != nil {
					return err
				}
			}
		}
	}
}

// Close records the end of the session and closes the stream.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	reason := protocol.ReasonQuit
	if s.leaveErr != nil {
		reason = s.leaveErr.Reason
	}
	if s.opts.Index != nil && s.joined {
		st := s.proxy.Stats()
		s.opts.Index.EndSession(indexdb.SessionRow{
			ID:        s.id,
			EndedAt:   time.Now(),
			EndReason: reason,
			FramesIn:  st.FramesIn,
			FramesOut: st.FramesOut,
			Discarded: st.Discarded,
		})
	}
	var errs []error
	if s.opts.Recorder != nil {
		errs = append(errs, s.opts.Recorder.Close())
	}
	errs = append(errs, s.stream.Close())
	return errors.Join(errs...)
}

func (s *Session) ping() (uint64, error) {
	id, err := s.clock.Ping(s.proxy)
	if err != nil {
		return 0, err
	}
	s.lastPing = s.now()
	return id, nil
}

// disconnect dispatches a locally made leave for ourselves so every leave
// handler sees the same path as a server-initiated one.
func (s *Session) disconnect(cause error) error {
	m, err := protocol.NewMessage(protocol.TypeLeave, protocol.LeaveMsg{ID: s.self.ID, Reason: protocol.ReasonDisconnected})
	if err != nil {
		return err
	}
	if err := s.proxy.Dispatch(m); err != nil {
		return err
	}
	if s.leaveErr == nil {
		s.ended = true
		s.leaveErr = &LeaveError{Reason: protocol.ReasonDisconnected}
	}
	s.leaveErr.Err = cause
	return s.leaveErr
}

func isConnectionError(err error) bool {
	var herr *proxy.HandlerError
	if errors.As(err, &herr) {
		return false
	}
	return !errors.Is(err, wire.ErrFrameTooLarge)
}
