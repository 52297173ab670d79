// Package gamestate turns the periodic authoritative snapshots into discrete
// domain events by diffing each snapshot against the one before it.
package gamestate

import (
	"outpost.client/internal/mathx"
)

// ID is a server-assigned identity, unique per category while live.
type ID uint64

// Entity actions as sent by the server.
const (
	ActionIdle   = "idle"
	ActionMove   = "move"
	ActionBuild  = "build"
	ActionRepair = "repair"
	ActionAttack = "attack"
	ActionUse    = "use"
	ActionDead   = "dead"
)

// Category names, also used in AttributeError.
const (
	CategoryEntities  = "entities"
	CategoryBuildings = "buildings"
	CategoryObjects   = "objects"
	CategoryTime      = "time"
)

type TimeOfDay struct {
	Day    int
	Hour   int
	Minute int
}

type Entity struct {
	Kind   string
	Name   string
	Pos    mathx.Vec2
	CurHP  int
	MaxHP  int
	Action string
	// Speed is meaningful only while Action is ActionMove.
	Speed  float64
	Target ID
}

type Building struct {
	Kind      string
	Pos       mathx.Vec2
	CurHP     int
	MaxHP     int
	Completed bool
	Owner     ID
}

type Object struct {
	Kind string
	Pos  mathx.Vec2
}

// Snapshot is one authoritative state push. Nil category maps are empty.
type Snapshot struct {
	ServerTime float64
	Time       *TimeOfDay
	Entities   map[ID]Entity
	Buildings  map[ID]Building
	Objects    map[ID]Object
}

// Manager keeps the two most recent snapshots in a ring buffer.
type Manager struct {
	slots  [2]*Snapshot
	cursor int
	pushes uint64
}

// Push stores s in the next slot, overwriting the snapshot from two pushes ago.
func (m *Manager) Push(s *Snapshot) {
	m.slots[m.cursor] = s
	m.cursor = (m.cursor + 1) % len(m.slots)
	m.pushes++
}

// Get returns the n most recent snapshots, most recent first. Slots not yet
// filled are nil. n is clamped to the buffer size.
func (m *Manager) Get(n int) []*Snapshot {
	if n > len(m.slots) {
		n = len(m.slots)
	}
	if n < 0 {
		n = 0
	}
	out := make([]*Snapshot, n)
	for i := 0; i < n; i++ {
		idx := (m.cursor - 1 - i + 2*len(m.slots)) % len(m.slots)
		out[i] = m.slots[idx]
	}
	return out
}

// Latest is the most recently pushed snapshot, or nil.
func (m *Manager) Latest() *Snapshot { return m.Get(1)[0] }

// Pushes counts every Push since construction.
func (m *Manager) Pushes() uint64 { return m.pushes }
