package gamestate

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"

	"outpost.client/internal/mathx"
	"outpost.client/internal/protocol"
)

var (
	ErrMissingAttribute = errors.New("gamestate: missing attribute")
	ErrBadID            = errors.New("gamestate: malformed server id")
)

// AttributeError reports a snapshot record that violates the data contract
// between server and client.
type AttributeError struct {
	Category  string
	ID        string
	Attribute string
	Err       error
}

func (e *AttributeError) Error() string {
	if e.Attribute == "" {
		return fmt.Sprintf("%v: %s[%s]", e.Err, e.Category, e.ID)
	}
	return fmt.Sprintf("%v: %s[%s].%s", e.Err, e.Category, e.ID, e.Attribute)
}

func (e *AttributeError) Unwrap() error { return e.Err }

func missing(category, id, attr string) error {
	return &AttributeError{Category: category, ID: id, Attribute: attr, Err: ErrMissingAttribute}
}

// DecodeSnapshot decodes and validates a gamestate message.
func DecodeSnapshot(m protocol.Message) (*Snapshot, error) {
	var gs protocol.GamestateMsg
	if err := m.Decode(&gs); err != nil {
		return nil, err
	}
	return FromWire(gs)
}

// FromWire validates the wire records and converts them to a Snapshot.
func FromWire(gs protocol.GamestateMsg) (*Snapshot, error) {
	s := &Snapshot{
		ServerTime: gs.Timestamp,
		Entities:   make(map[ID]Entity, len(gs.Entities)),
		Buildings:  make(map[ID]Building, len(gs.Buildings)),
		Objects:    make(map[ID]Object, len(gs.Objects)),
	}

	if gs.Time != nil {
		t := gs.Time
		switch {
		case t.Day == nil:
			return nil, missing(CategoryTime, "", "day")
		case t.Hour == nil:
			return nil, missing(CategoryTime, "", "hour")
		case t.Minute == nil:
			return nil, missing(CategoryTime, "", "minute")
		}
		s.Time = &TimeOfDay{Day: *t.Day, Hour: *t.Hour, Minute: *t.Minute}
	}

	// Sorted keys make the reported error deterministic.
	for _, key := range slices.Sorted(maps.Keys(gs.Entities)) {
		r := gs.Entities[key]
		id, err := parseID(CategoryEntities, key)
		if err != nil {
			return nil, err
		}
		e, err := entityFromWire(key, r)
		if err != nil {
			return nil, err
		}
		s.Entities[id] = e
	}
	for _, key := range slices.Sorted(maps.Keys(gs.Buildings)) {
		r := gs.Buildings[key]
		id, err := parseID(CategoryBuildings, key)
		if err != nil {
			return nil, err
		}
		b, err := buildingFromWire(key, r)
		if err != nil {
			return nil, err
		}
		s.Buildings[id] = b
	}
	for _, key := range slices.Sorted(maps.Keys(gs.Objects)) {
		r := gs.Objects[key]
		id, err := parseID(CategoryObjects, key)
		if err != nil {
			return nil, err
		}
		switch {
		case r.Kind == nil:
			return nil, missing(CategoryObjects, key, "kind")
		case r.Pos == nil:
			return nil, missing(CategoryObjects, key, "pos")
		}
		s.Objects[id] = Object{Kind: *r.Kind, Pos: mathx.FromArray(*r.Pos)}
	}
	return s, nil
}

func entityFromWire(key string, r protocol.EntityRecord) (Entity, error) {
	switch {
	case r.Kind == nil:
		return Entity{}, missing(CategoryEntities, key, "kind")
	case r.Pos == nil:
		return Entity{}, missing(CategoryEntities, key, "pos")
	case r.CurHP == nil:
		return Entity{}, missing(CategoryEntities, key, "cur_hp")
	case r.MaxHP == nil:
		return Entity{}, missing(CategoryEntities, key, "max_hp")
	case r.Action == nil:
		return Entity{}, missing(CategoryEntities, key, "action")
	}
	e := Entity{
		Kind:   *r.Kind,
		Name:   r.Name,
		Pos:    mathx.FromArray(*r.Pos),
		CurHP:  *r.CurHP,
		MaxHP:  *r.MaxHP,
		Action: *r.Action,
	}
	if e.Action == ActionMove {
		if r.Speed == nil || !(*r.Speed > 0) {
			return Entity{}, missing(CategoryEntities, key, "speed")
		}
		e.Speed = *r.Speed
	}
	if r.Target != nil {
		e.Target = ID(*r.Target)
	}
	return e, nil
}

func buildingFromWire(key string, r protocol.BuildingRecord) (Building, error) {
	switch {
	case r.Kind == nil:
		return Building{}, missing(CategoryBuildings, key, "kind")
	case r.Pos == nil:
		return Building{}, missing(CategoryBuildings, key, "pos")
	case r.CurHP == nil:
		return Building{}, missing(CategoryBuildings, key, "cur_hp")
	case r.MaxHP == nil:
		return Building{}, missing(CategoryBuildings, key, "max_hp")
	case r.Completed == nil:
		return Building{}, missing(CategoryBuildings, key, "completed")
	}
	return Building{
		Kind:      *r.Kind,
		Pos:       mathx.FromArray(*r.Pos),
		CurHP:     *r.CurHP,
		MaxHP:     *r.MaxHP,
		Completed: *r.Completed,
		Owner:     ID(r.Owner),
	}, nil
}

func parseID(category, key string) (ID, error) {
	n, err := strconv.ParseUint(key, 10, 64)
	if err != nil {
		return 0, &AttributeError{Category: category, ID: key, Err: ErrBadID}
	}
	return ID(n), nil
}

// ToWire converts a Snapshot back to its wire form (used by the mock server
// and tests).
func ToWire(s *Snapshot) protocol.GamestateMsg {
	gs := protocol.GamestateMsg{Timestamp: s.ServerTime}
	if s.Time != nil {
		d, h, m := s.Time.Day, s.Time.Hour, s.Time.Minute
		gs.Time = &protocol.TimeRecord{Day: &d, Hour: &h, Minute: &m}
	}
	if len(s.Entities) > 0 {
		gs.Entities = make(map[string]protocol.EntityRecord, len(s.Entities))
		for id, e := range s.Entities {
			kind, action := e.Kind, e.Action
			pos := e.Pos.Array()
			curHP, maxHP := e.CurHP, e.MaxHP
			r := protocol.EntityRecord{Kind: &kind, Name: e.Name, Pos: &pos, CurHP: &curHP, MaxHP: &maxHP, Action: &action}
			if e.Action == ActionMove {
				speed := e.Speed
				r.Speed = &speed
			}
			if e.Target != 0 {
				target := uint64(e.Target)
				r.Target = &target
			}
			gs.Entities[strconv.FormatUint(uint64(id), 10)] = r
		}
	}
	if len(s.Buildings) > 0 {
		gs.Buildings = make(map[string]protocol.BuildingRecord, len(s.Buildings))
		for id, b := range s.Buildings {
			kind := b.Kind
			pos := b.Pos.Array()
			curHP, maxHP := b.CurHP, b.MaxHP
			done := b.Completed
			gs.Buildings[strconv.FormatUint(uint64(id), 10)] = protocol.BuildingRecord{
				Kind: &kind, Pos: &pos, CurHP: &curHP, MaxHP: &maxHP, Completed: &done, Owner: uint64(b.Owner),
			}
		}
	}
	if len(s.Objects) > 0 {
		gs.Objects = make(map[string]protocol.ObjectRecord, len(s.Objects))
		for id, o := range s.Objects {
			kind := o.Kind
			pos := o.Pos.Array()
			gs.Objects[strconv.FormatUint(uint64(id), 10)] = protocol.ObjectRecord{Kind: &kind, Pos: &pos}
		}
	}
	return gs
}
