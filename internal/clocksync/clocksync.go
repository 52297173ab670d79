// Package clocksync estimates the offset between the local clock and the
// server clock with a ping/pong exchange.
//
// Both legs of a round trip are assumed to take equal time, so for a pong
// carrying server time S received at local time N for a ping flushed at T:
//
//	delta = N - S + (N - T) / 2
//
// Times are seconds as float64, the unit the server stamps gamestates with.
package clocksync

import (
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"outpost.client/internal/protocol"
)

var ErrUnknownPing = errors.New("clocksync: pong for unknown ping id")

// Sender is the part of the message proxy the synchronizer needs.
type Sender interface {
	Send(t protocol.Type, v any, onSent func()) error
}

// Sample is the result of one completed round.
type Sample struct {
	ID    uint64
	RTT   float64
	Delta float64
}

type Synchronizer struct {
	now func() float64

	nextID uint64
	sentAt map[uint64]float64
	// queued counts pings enqueued but not yet flushed.
	queued map[uint64]struct{}

	delta  float64
	synced bool
	last   Sample
}

// WallClock returns the local wall clock in unix seconds.
func WallClock() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}

// New returns a synchronizer reading local time from now (WallClock if nil).
func New(now func() float64) *Synchronizer {
	if now == nil {
		now = WallClock
	}
	return &Synchronizer{
		now:    now,
		sentAt: make(map[uint64]float64),
		queued: make(map[uint64]struct{}),
	}
}

// Ping enqueues a ping with a fresh id. The send time is recorded when the
// proxy actually flushes the frame, not now.
func (s *Synchronizer) Ping(out Sender) (uint64, error) {
	s.nextID++
	id := s.nextID
	msg := protocol.PingMsg{ID: id, Time: s.now()}
	s.queued[id] = struct{}{}
	err := out.Send(protocol.TypePing, msg, func() {
		delete(s.queued, id)
		s.sentAt[id] = s.now()
	})
	if err != nil {
		delete(s.queued, id)
		return 0, fmt.Errorf("clocksync: ping %d: %w", id, err)
	}
	return id, nil
}

// HandlePong completes the round for pong.ID and updates Delta.
func (s *Synchronizer) HandlePong(pong protocol.PongMsg) (Sample, error) {
	sent, ok := s.sentAt[pong.ID]
	if !ok {
		return Sample{}, fmt.Errorf("%w: %d", ErrUnknownPing, pong.ID)
	}
	delete(s.sentAt, pong.ID)

	now := s.now()
	rtt := now - sent
	s.delta = now - pong.Time + rtt/2
	s.synced = true
	s.last = Sample{ID: pong.ID, RTT: rtt, Delta: s.delta}
	return s.last, nil
}

// Handler adapts HandlePong to a proxy handler. A pong for an unknown id
// (e.g. a duplicate) is logged and otherwise ignored.
func (s *Synchronizer) Handler(logger *log.Logger, onSample func(Sample)) func(protocol.Message) error {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return func(m protocol.Message) error {
		var pong protocol.PongMsg
		if err := m.Decode(&pong); err != nil {
			return err
		}
		sample, err := s.HandlePong(pong)
		if errors.Is(err, ErrUnknownPing) {
			logger.Printf("ignore %v", err)
			return nil
		}
		if err != nil {
			return err
		}
		if onSample != nil {
			onSample(sample)
		}
		return nil
	}
}

// Delta is the offset added to server timestamps to place them on the local
// clock (0 until synced).
func (s *Synchronizer) Delta() float64 { return s.delta }

// Synced reports whether at least one round has completed.
func (s *Synchronizer) Synced() bool { return s.synced }

// Syncing reports whether any ping is still waiting for its pong.
func (s *Synchronizer) Syncing() bool { return len(s.sentAt) > 0 || len(s.queued) > 0 }

// Last returns the most recent completed sample.
func (s *Synchronizer) Last() Sample { return s.last }

// ServerNow estimates the current server time.
func (s *Synchronizer) ServerNow() float64 { return s.now() - s.delta }

// ToLocal converts a server timestamp to the local clock.
func (s *Synchronizer) ToLocal(serverTime float64) float64 { return serverTime + s.delta }
