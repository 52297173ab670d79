package gamestate

import (
	"maps"
	"slices"

	"outpost.client/internal/mathx"
)

// DefaultSustainedActions are the actions that fire start/stop events.
var DefaultSustainedActions = []string{ActionBuild, ActionRepair}

type EngineConfig struct {
	// SustainedActions overrides DefaultSustainedActions when non-nil.
	SustainedActions []string
}

// Engine diffs each new snapshot against the previous one. Its output depends
// only on that pair, and events come out in a fixed order:
//
//	time tick,
//	entities:  disappeared, appeared (ascending id), then per surviving id
//	           attribute changes, sustained start/stop, move or idle,
//	buildings: disappeared, appeared, status changes,
//	objects:   disappeared, appeared.
type Engine struct {
	states    Manager
	sustained map[string]bool
}

func NewEngine(cfg EngineConfig) *Engine {
	actions := cfg.SustainedActions
	if actions == nil {
		actions = DefaultSustainedActions
	}
	sustained := make(map[string]bool, len(actions))
	for _, a := range actions {
		sustained[a] = true
	}
	return &Engine{sustained: sustained}
}

// States exposes the snapshot ring buffer.
func (e *Engine) States() *Manager { return &e.states }

// Process pushes s and returns the events describing what changed since the
// previous snapshot. On the very first snapshot everything present appears
// and rules that compare against an older snapshot are skipped.
func (e *Engine) Process(s *Snapshot) []Event {
	e.states.Push(s)
	pair := e.states.Get(2)
	cur, old := pair[0], pair[1]

	var out []Event
	if old != nil {
		out = appendTime(out, old.Time, cur.Time)
	}
	var (
		oldEntities  map[ID]Entity
		oldBuildings map[ID]Building
		oldObjects   map[ID]Object
	)
	if old != nil {
		oldEntities, oldBuildings, oldObjects = old.Entities, old.Buildings, old.Objects
	}
	out = e.appendEntities(out, oldEntities, cur.Entities, old != nil)
	out = appendBuildings(out, oldBuildings, cur.Buildings)
	out = appendObjects(out, oldObjects, cur.Objects)
	return out
}

func appendTime(out []Event, old, cur *TimeOfDay) []Event {
	if old == nil || cur == nil {
		return out
	}
	if old.Minute != cur.Minute {
		out = append(out, TimeTick{Time: *cur})
	}
	return out
}

func (e *Engine) appendEntities(out []Event, old, cur map[ID]Entity, haveOld bool) []Event {
	appeared, disappeared, kept := diffIDs(old, cur)
	for _, id := range disappeared {
		out = append(out, EntityDisappeared{ID: id, Entity: old[id]})
	}
	for _, id := range appeared {
		out = append(out, EntityAppeared{ID: id, Entity: cur[id]})
	}
	if !haveOld {
		return out
	}
	for _, id := range kept {
		was, now := old[id], cur[id]

		if was.CurHP != now.CurHP || was.MaxHP != now.MaxHP {
			out = append(out, EntityChanged{ID: id, Attribute: AttrHP, Old: was, New: now})
		}
		if was.Action != now.Action || was.Target != now.Target {
			out = append(out, EntityChanged{ID: id, Attribute: AttrAction, Old: was, New: now})
		}

		wasSustained, nowSustained := e.sustained[was.Action], e.sustained[now.Action]
		switch {
		case wasSustained && !nowSustained:
			out = append(out, SustainedActionStopped{ID: id, Action: was.Action})
		case !wasSustained && nowSustained:
			out = append(out, SustainedActionStarted{ID: id, Action: now.Action})
		}

		if now.Action == ActionMove {
			out = append(out, EntityMove{ID: id, From: was.Pos, Path: []mathx.Vec2{now.Pos}, Speed: now.Speed})
		} else if was.Pos != now.Pos || was.Action != now.Action {
			out = append(out, EntityIdle{ID: id, Pos: now.Pos})
		}
	}
	return out
}

func appendBuildings(out []Event, old, cur map[ID]Building) []Event {
	appeared, disappeared, kept := diffIDs(old, cur)
	for _, id := range disappeared {
		out = append(out, BuildingDisappeared{ID: id, Building: old[id]})
	}
	for _, id := range appeared {
		out = append(out, BuildingAppeared{ID: id, Building: cur[id]})
	}
	for _, id := range kept {
		was, now := old[id], cur[id]
		if was.CurHP != now.CurHP || was.MaxHP != now.MaxHP || was.Completed != now.Completed {
			out = append(out, BuildingStatusChanged{ID: id, Old: was, New: now})
		}
	}
	return out
}

func appendObjects(out []Event, old, cur map[ID]Object) []Event {
	appeared, disappeared, _ := diffIDs(old, cur)
	for _, id := range disappeared {
		out = append(out, ObjectDisappeared{ID: id, Object: old[id]})
	}
	for _, id := range appeared {
		out = append(out, ObjectAppeared{ID: id, Object: cur[id]})
	}
	return out
}

// diffIDs splits identities into new-only, old-only and shared sets, each in
// ascending order. Attribute values play no part here.
func diffIDs[V any](old, cur map[ID]V) (appeared, disappeared, kept []ID) {
	for _, id := range slices.Sorted(maps.Keys(cur)) {
		if _, ok := old[id]; ok {
			kept = append(kept, id)
		} else {
			appeared = append(appeared, id)
		}
	}
	for _, id := range slices.Sorted(maps.Keys(old)) {
		if _, ok := cur[id]; !ok {
			disappeared = append(disappeared, id)
		}
	}
	return appeared, disappeared, kept
}
