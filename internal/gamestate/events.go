package gamestate

import "outpost.client/internal/mathx"

// EventKind names a domain event for subscription and logging.
type EventKind string

const (
	KindEntityAppeared         EventKind = "entity_appeared"
	KindEntityDisappeared      EventKind = "entity_disappeared"
	KindEntityIdle             EventKind = "entity_idle"
	KindEntityMove             EventKind = "entity_move"
	KindEntityChanged          EventKind = "entity_changed"
	KindSustainedActionStarted EventKind = "sustained_action_started"
	KindSustainedActionStopped EventKind = "sustained_action_stopped"
	KindBuildingAppeared       EventKind = "building_appeared"
	KindBuildingDisappeared    EventKind = "building_disappeared"
	KindBuildingStatusChanged  EventKind = "building_status_changed"
	KindObjectAppeared         EventKind = "object_appeared"
	KindObjectDisappeared      EventKind = "object_disappeared"
	KindTimeTick               EventKind = "time_tick"
)

// Event is a domain event produced by one diff cycle.
type Event interface {
	Kind() EventKind
}

// Attributes compared on entities present in both snapshots.
const (
	AttrHP     = "hp"
	AttrAction = "action"
)

type EntityAppeared struct {
	ID     ID
	Entity Entity
}

type EntityDisappeared struct {
	ID     ID
	Entity Entity
}

// EntityIdle pins a non-moving entity at an absolute position.
type EntityIdle struct {
	ID  ID
	Pos mathx.Vec2
}

// EntityMove extends the entity's path by the waypoints in Path, starting
// from the authoritative anchor From.
type EntityMove struct {
	ID    ID
	From  mathx.Vec2
	Path  []mathx.Vec2
	Speed float64
}

type EntityChanged struct {
	ID        ID
	Attribute string
	Old       Entity
	New       Entity
}

type SustainedActionStarted struct {
	ID     ID
	Action string
}

type SustainedActionStopped struct {
	ID     ID
	Action string
}

type BuildingAppeared struct {
	ID       ID
	Building Building
}

type BuildingDisappeared struct {
	ID       ID
	Building Building
}

type BuildingStatusChanged struct {
	ID  ID
	Old Building
	New Building
}

type ObjectAppeared struct {
	ID     ID
	Object Object
}

type ObjectDisappeared struct {
	ID     ID
	Object Object
}

// TimeTick fires when the in-game minute changes.
type TimeTick struct {
	Time TimeOfDay
}

func (EntityAppeared) Kind() EventKind         { return KindEntityAppeared }
func (EntityDisappeared) Kind() EventKind      { return KindEntityDisappeared }
func (EntityIdle) Kind() EventKind             { return KindEntityIdle }
func (EntityMove) Kind() EventKind             { return KindEntityMove }
func (EntityChanged) Kind() EventKind          { return KindEntityChanged }
func (SustainedActionStarted) Kind() EventKind { return KindSustainedActionStarted }
func (SustainedActionStopped) Kind() EventKind { return KindSustainedActionStopped }
func (BuildingAppeared) Kind() EventKind       { return KindBuildingAppeared }
func (BuildingDisappeared) Kind() EventKind    { return KindBuildingDisappeared }
func (BuildingStatusChanged) Kind() EventKind  { return KindBuildingStatusChanged }
func (ObjectAppeared) Kind() EventKind         { return KindObjectAppeared }
func (ObjectDisappeared) Kind() EventKind      { return KindObjectDisappeared }
func (TimeTick) Kind() EventKind               { return KindTimeTick }
