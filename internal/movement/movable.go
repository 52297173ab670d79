// Package movement advances entity positions continuously between the
// discrete waypoint commands the server sends.
package movement

import (
	"errors"

	"outpost.client/internal/mathx"
)

var ErrInvalidSpeed = errors.New("movement: speed must be positive")

// Movable is the per-entity interpolation state.
//
// Idle: no next waypoint. Moving: next waypoint set and speed > 0.
type Movable struct {
	pos mathx.Vec2

	next    mathx.Vec2
	hasNext bool
	// path holds the waypoints after next.
	path  []mathx.Vec2
	speed float64

	dir    mathx.Vec2
	hasDir bool
}

// NewMovable returns an idle Movable at pos.
func NewMovable(pos mathx.Vec2) *Movable {
	return &Movable{pos: pos}
}

// Move anchors the entity at pos and starts walking path at speed. It replaces
// any motion in flight; the server's update wins over local progress.
// An empty path is a plain SetPosition.
func (m *Movable) Move(pos mathx.Vec2, path []mathx.Vec2, speed float64) error {
	if len(path) == 0 {
		m.SetPosition(pos)
		return nil
	}
	if !(speed > 0) {
		return ErrInvalidSpeed
	}
	m.pos = pos
	m.next = path[0]
	m.hasNext = true
	m.path = append(m.path[:0], path[1:]...)
	m.speed = speed
	if d, ok := m.next.Sub(pos).Normalize(); ok {
		m.dir, m.hasDir = d, true
	}
	return nil
}

// SetPosition snaps to p and clears all motion.
func (m *Movable) SetPosition(p mathx.Vec2) {
	m.pos = p
	m.stop()
}

// Update advances the entity by speed*dt along its path. Waypoints reached
// within the tick are consumed and the leftover distance carries over to the
// next segment. Arrival at the final waypoint lands exactly on it.
func (m *Movable) Update(dt float64) {
	if !m.hasNext || dt <= 0 {
		return
	}
	travel := m.speed * dt

	// Each iteration either finishes the tick or consumes one waypoint.
	for {
		seg := m.next.Sub(m.pos)
		remaining := seg.Len()
		if travel < remaining {
			d := seg.Scale(1 / remaining)
			m.pos = m.pos.Add(d.Scale(travel))
			m.dir, m.hasDir = d, true
			return
		}
		if len(m.path) == 0 {
			m.pos = m.next
			m.stop()
			return
		}
		travel -= remaining
		m.pos = m.next
		m.next = m.path[0]
		m.path = m.path[1:]
	}
}

func (m *Movable) stop() {
	m.next = mathx.Vec2{}
	m.hasNext = false
	m.path = nil
	m.speed = 0
	m.dir = mathx.Vec2{}
	m.hasDir = false
}

func (m *Movable) Position() mathx.Vec2 { return m.pos }

// Next returns the waypoint currently being walked toward.
func (m *Movable) Next() (mathx.Vec2, bool) { return m.next, m.hasNext }

// Path returns a copy of the waypoints after Next.
func (m *Movable) Path() []mathx.Vec2 {
	return append([]mathx.Vec2(nil), m.path...)
}

func (m *Movable) Speed() float64 { return m.speed }

// Direction is the unit vector of the last movement step, if any.
func (m *Movable) Direction() (mathx.Vec2, bool) { return m.dir, m.hasDir }

func (m *Movable) Moving() bool { return m.hasNext }

// Remaining is the distance left to travel along the path.
func (m *Movable) Remaining() float64 {
	if !m.hasNext {
		return 0
	}
	total := mathx.Dist(m.pos, m.next)
	prev := m.next
	for _, p := range m.path {
		total += mathx.Dist(prev, p)
		prev = p
	}
	return total
}
