package protocol

// Struct tags are shared by the CBOR wire codec and JSON recordings.

// PING (client -> server)
type PingMsg struct {
	ID   uint64  `json:"id"`
	Time float64 `json:"time"`
}

// PONG (server -> client). Time is the server clock when the pong was sent.
type PongMsg struct {
	ID   uint64  `json:"id"`
	Time float64 `json:"time"`
}

// JOIN (client -> server)
type JoinMsg struct {
	Name            string `json:"name"`
	ProtocolVersion string `json:"protocol_version"`
}

// JOINED (server -> client): another player entered the session.
type JoinedMsg struct {
	ID   uint64 `json:"id"`
	Name string `json:"name"`
}

// STAY (server -> client): join acknowledgement with the assigned identity
// and the current roster.
type StayMsg struct {
	ID      uint64      `json:"id"`
	Name    string      `json:"name"`
	Players []PlayerRef `json:"players"`
}

type PlayerRef struct {
	ID   uint64 `json:"id"`
	Name string `json:"name"`
}

// LEAVE (server -> client, or synthesized locally on disconnect)
type LeaveMsg struct {
	ID     uint64 `json:"id"`
	Reason string `json:"reason"`
}

// GAMESTATE (server -> client): one authoritative snapshot. Category maps are
// keyed by the decimal server id. Pointer fields are required attributes and
// are validated by the gamestate package.
type GamestateMsg struct {
	Timestamp float64                   `json:"timestamp"`
	Time      *TimeRecord               `json:"time,omitempty"`
	Entities  map[string]EntityRecord   `json:"entities,omitempty"`
	Buildings map[string]BuildingRecord `json:"buildings,omitempty"`
	Objects   map[string]ObjectRecord   `json:"objects,omitempty"`
}

type TimeRecord struct {
	Day    *int `json:"day"`
	Hour   *int `json:"hour"`
	Minute *int `json:"minute"`
}

type EntityRecord struct {
	Kind   *string     `json:"kind"`
	Name   string      `json:"name,omitempty"`
	Pos    *[2]float64 `json:"pos"`
	CurHP  *int        `json:"cur_hp"`
	MaxHP  *int        `json:"max_hp"`
	Action *string     `json:"action"`
	Speed  *float64    `json:"speed,omitempty"`
	Target *uint64     `json:"target,omitempty"`
}

type BuildingRecord struct {
	Kind      *string     `json:"kind"`
	Pos       *[2]float64 `json:"pos"`
	CurHP     *int        `json:"cur_hp"`
	MaxHP     *int        `json:"max_hp"`
	Completed *bool       `json:"completed"`
	Owner     uint64      `json:"owner,omitempty"`
}

type ObjectRecord struct {
	Kind *string     `json:"kind"`
	Pos  *[2]float64 `json:"pos"`
}

// MOVE (client -> server)
type MoveMsg struct {
	Target [2]float64 `json:"target"`
}

// BUILD (client -> server)
type BuildMsg struct {
	Kind string     `json:"kind"`
	Pos  [2]float64 `json:"pos"`
}

// REPAIR (client -> server)
type RepairMsg struct {
	Target uint64 `json:"target"`
}

// USE (client -> server)
type UseMsg struct {
	Target uint64 `json:"target"`
}
