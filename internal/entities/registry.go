// Package entities keeps the local counterpart of every server entity and
// applies domain events to it.
package entities

import (
	"errors"
	"fmt"
	"io"
	"log"
	"maps"
	"slices"

	"outpost.client/internal/events"
	"outpost.client/internal/gamestate"
	"outpost.client/internal/mathx"
	"outpost.client/internal/movement"
)

var ErrDuplicateID = errors.New("entities: server id already mapped")

// Entity is the client-side state of one server entity.
type Entity struct {
	ServerID gamestate.ID
	LocalID  uint64

	Kind   string
	Name   string
	CurHP  int
	MaxHP  int
	Action string
	// Sustaining is the tracked action that began the current sustained run,
	// if any. Switching to another tracked action keeps the run going.
	Sustaining string

	Movable *movement.Movable
}

func (e *Entity) Position() mathx.Vec2 { return e.Movable.Position() }

// Registry maps server ids 1:1 to local entities for their lifetime.
type Registry struct {
	byServer  map[gamestate.ID]*Entity
	nextLocal uint64
	log       *log.Logger
}

func NewRegistry(logger *log.Logger) *Registry {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Registry{byServer: make(map[gamestate.ID]*Entity), log: logger}
}

// Attach subscribes the registry to the entity events on bus.
func (r *Registry) Attach(bus *events.Bus) {
	bus.Subscribe(gamestate.KindEntityAppeared, func(ev gamestate.Event) error {
		e := ev.(gamestate.EntityAppeared)
		_, err := r.Spawn(e.ID, e.Entity)
		return err
	})
	bus.Subscribe(gamestate.KindEntityDisappeared, func(ev gamestate.Event) error {
		e := ev.(gamestate.EntityDisappeared)
		if !r.Remove(e.ID) {
			r.log.Printf("disappear for unmapped entity %d", e.ID)
		}
		return nil
	})
	bus.Subscribe(gamestate.KindEntityIdle, func(ev gamestate.Event) error {
		e := ev.(gamestate.EntityIdle)
		if ent, ok := r.lookup(e.ID, "idle"); ok {
			ent.Movable.SetPosition(e.Pos)
		}
		return nil
	})
	bus.Subscribe(gamestate.KindEntityMove, func(ev gamestate.Event) error {
		e := ev.(gamestate.EntityMove)
		ent, ok := r.lookup(e.ID, "move")
		if !ok {
			return nil
		}
		if err := ent.Movable.Move(e.From, e.Path, e.Speed); err != nil {
			return fmt.Errorf("entity %d: %w", e.ID, err)
		}
		return nil
	})
	bus.Subscribe(gamestate.KindEntityChanged, func(ev gamestate.Event) error {
		e := ev.(gamestate.EntityChanged)
		if ent, ok := r.lookup(e.ID, "change"); ok {
			switch e.Attribute {
			case gamestate.AttrHP:
				ent.CurHP, ent.MaxHP = e.New.CurHP, e.New.MaxHP
			case gamestate.AttrAction:
				ent.Action = e.New.Action
			}
		}
		return nil
	})
	bus.Subscribe(gamestate.KindSustainedActionStarted, func(ev gamestate.Event) error {
		e := ev.(gamestate.SustainedActionStarted)
		if ent, ok := r.lookup(e.ID, "sustain start"); ok {
			ent.Sustaining = e.Action
		}
		return nil
	})
	bus.Subscribe(gamestate.KindSustainedActionStopped, func(ev gamestate.Event) error {
		e := ev.(gamestate.SustainedActionStopped)
		if ent, ok := r.lookup(e.ID, "sustain stop"); ok {
			ent.Sustaining = ""
		}
		return nil
	})
}

// Spawn creates the local entity for id, placed at the snapshot position.
func (r *Registry) Spawn(id gamestate.ID, s gamestate.Entity) (*Entity, error) {
	if _, ok := r.byServer[id]; ok {
		return nil, fmt.Errorf("%w: %d", ErrDuplicateID, id)
	}
	r.nextLocal++
	ent := &Entity{
		ServerID: id,
		LocalID:  r.nextLocal,
		Kind:     s.Kind,
		Name:     s.Name,
		CurHP:    s.CurHP,
		MaxHP:    s.MaxHP,
		Action:   s.Action,
		Movable:  movement.NewMovable(s.Pos),
	}
	r.byServer[id] = ent
	return ent, nil
}

// Remove drops the mapping for id. It reports whether id was mapped.
func (r *Registry) Remove(id gamestate.ID) bool {
	if _, ok := r.byServer[id]; !ok {
		return false
	}
	delete(r.byServer, id)
	return true
}

func (r *Registry) Lookup(id gamestate.ID) (*Entity, bool) {
	ent, ok := r.byServer[id]
	return ent, ok
}

func (r *Registry) lookup(id gamestate.ID, what string) (*Entity, bool) {
	ent, ok := r.byServer[id]
	if !ok {
		r.log.Printf("%s for unmapped entity %d", what, id)
	}
	return ent, ok
}

func (r *Registry) Len() int { return len(r.byServer) }

// Each calls fn for every entity in ascending server id order.
func (r *Registry) Each(fn func(*Entity)) {
	for _, id := range slices.Sorted(maps.Keys(r.byServer)) {
		fn(r.byServer[id])
	}
}

// Update advances every entity's interpolator by dt seconds.
func (r *Registry) Update(dt float64) {
	for _, ent := range r.byServer {
		ent.Movable.Update(dt)
	}
}
