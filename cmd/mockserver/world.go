package main

import (
	"context"
	"io"
	"log"
	"maps"
	"math"
	"math/rand"
	"slices"
	"sync/atomic"
	"time"

	"outpost.client/internal/clocksync"
	"outpost.client/internal/gamestate"
	"outpost.client/internal/mathx"
	"outpost.client/internal/protocol"
)

type worldConfig struct {
	TickRateHz int
	Zombies    int
	Trees      int
	MaxPlayers int
	BoundaryR  float64
	Seed       int64
	// Now stamps pongs and gamestates (clocksync.WallClock if nil).
	Now func() float64
}

const (
	playerSpeed   = 3.0
	zombieSpeed   = 1.2
	buildingHP    = 20
	outboxSize    = 64
	minutesPerDay = 24 * 60
)

type joinRequest struct {
	Name            string
	ProtocolVersion string
	Out             chan protocol.Message
	Resp            chan joinResponse
}

type joinResponse struct {
	Stay   protocol.StayMsg
	Reject string
}

type leaveRequest struct {
	ID     uint64
	Reason string
}

type actionEnvelope struct {
	PlayerID uint64
	Msg      protocol.Message
}

type mob struct {
	gamestate.Entity
	dest     mathx.Vec2
	work     gamestate.ID
	wanderAt uint64
}

type player struct {
	name string
	out  chan protocol.Message
}

// world is a tiny authoritative simulation. All state is owned by the Run
// goroutine; connections talk to it over channels.
type world struct {
	cfg worldConfig
	log *log.Logger
	rng *rand.Rand

	join  chan joinRequest
	leave chan leaveRequest
	inbox chan actionEnvelope
	done  chan struct{}

	tick    uint64
	nextID  uint64
	minutes int

	players   map[uint64]*player
	mobs      map[gamestate.ID]*mob
	buildings map[gamestate.ID]*gamestate.Building
	objects   map[gamestate.ID]gamestate.Object

	// Read by /metrics from other goroutines.
	curTick    atomic.Uint64
	curPlayers atomic.Int64
	dropped    atomic.Uint64
}

type worldMetrics struct {
	Tick    uint64
	Players int64
	Dropped uint64
}

func (w *world) Metrics() worldMetrics {
	return worldMetrics{Tick: w.curTick.Load(), Players: w.curPlayers.Load(), Dropped: w.dropped.Load()}
}

func newWorld(cfg worldConfig, logger *log.Logger) *world {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if cfg.TickRateHz <= 0 {
		cfg.TickRateHz = 10
	}
	if cfg.BoundaryR <= 0 {
		cfg.BoundaryR = 32
	}
	if cfg.Now == nil {
		cfg.Now = clocksync.WallClock
	}
	w := &world{
		cfg:       cfg,
		log:       logger,
		rng:       rand.New(rand.NewSource(cfg.Seed)),
		join:      make(chan joinRequest),
		leave:     make(chan leaveRequest, 16),
		inbox:     make(chan actionEnvelope, 256),
		done:      make(chan struct{}),
		minutes:   8 * 60,
		players:   make(map[uint64]*player),
		mobs:      make(map[gamestate.ID]*mob),
		buildings: make(map[gamestate.ID]*gamestate.Building),
		objects:   make(map[gamestate.ID]gamestate.Object),
	}
	for i := 0; i < cfg.Zombies; i++ {
		id := w.newID()
		w.mobs[id] = &mob{Entity: gamestate.Entity{
			Kind:   "zombie",
			Pos:    w.randomPos(),
			CurHP:  5,
			MaxHP:  5,
			Action: gamestate.ActionIdle,
		}}
	}
	for i := 0; i < cfg.Trees; i++ {
		w.objects[w.newID()] = gamestate.Object{Kind: "tree", Pos: w.randomPos()}
	}
	return w
}

func (w *world) newID() gamestate.ID {
	w.nextID++
	return gamestate.ID(w.nextID)
}

func (w *world) randomPos() mathx.Vec2 {
	r := w.cfg.BoundaryR
	return mathx.Vec2{X: math.Round((w.rng.Float64()*2-1)*r*10) / 10, Y: math.Round((w.rng.Float64()*2-1)*r*10) / 10}
}

func (w *world) clamp(p mathx.Vec2) mathx.Vec2 {
	r := w.cfg.BoundaryR
	return mathx.Vec2{X: max(-r, min(r, p.X)), Y: max(-r, min(r, p.Y))}
}

// Run steps the world at the configured tick rate until ctx is done.
func (w *world) Run(ctx context.Context) error {
	defer close(w.done)
	t := time.NewTicker(time.Second / time.Duration(w.cfg.TickRateHz))
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case req := <-w.join:
			req.Resp <- w.handleJoin(req)
		case req := <-w.leave:
			w.handleLeave(req)
		case env := <-w.inbox:
			w.handleAction(env)
		case <-t.C:
			w.step()
		}
	}
}

// requestJoin returns false when the world has stopped.
func (w *world) requestJoin(req joinRequest) (joinResponse, bool) {
	select {
	case w.join <- req:
	case <-w.done:
		return joinResponse{}, false
	}
	select {
	case resp := <-req.Resp:
		return resp, true
	case <-w.done:
		return joinResponse{}, false
	}
}

func (w *world) requestLeave(id uint64, reason string) {
	select {
	case w.leave <- leaveRequest{ID: id, Reason: reason}:
	case <-w.done:
	}
}

func (w *world) submit(env actionEnvelope) {
	select {
	case w.inbox <- env:
	case <-w.done:
	}
}

func (w *world) handleJoin(req joinRequest) joinResponse {
	if req.ProtocolVersion != protocol.Version {
		return joinResponse{Reject: protocol.ReasonBadVersion}
	}
	if w.cfg.MaxPlayers > 0 && len(w.players) >= w.cfg.MaxPlayers {
		return joinResponse{Reject: protocol.ReasonServerFull}
	}
	name := req.Name
	if name == "" {
		name = "player"
	}
	id := w.newID()
	w.mobs[id] = &mob{Entity: gamestate.Entity{
		Kind:   "player",
		Name:   name,
		Pos:    w.randomPos(),
		CurHP:  10,
		MaxHP:  10,
		Action: gamestate.ActionIdle,
	}}

	stay := protocol.StayMsg{ID: uint64(id), Name: name}
	for _, pid := range slices.Sorted(maps.Keys(w.players)) {
		stay.Players = append(stay.Players, protocol.PlayerRef{ID: pid, Name: w.players[pid].name})
	}
	w.broadcast(protocol.TypeJoined, protocol.JoinedMsg{ID: uint64(id), Name: name})
	w.players[uint64(id)] = &player{name: name, out: req.Out}
	w.curPlayers.Store(int64(len(w.players)))
	w.log.Printf("join id=%d name=%s players=%d", id, name, len(w.players))
	return joinResponse{Stay: stay}
}

func (w *world) handleLeave(req leaveRequest) {
	if _, ok := w.players[req.ID]; !ok {
		return
	}
	delete(w.players, req.ID)
	delete(w.mobs, gamestate.ID(req.ID))
	w.curPlayers.Store(int64(len(w.players)))
	w.broadcast(protocol.TypeLeave, protocol.LeaveMsg{ID: req.ID, Reason: req.Reason})
	w.log.Printf("leave id=%d reason=%s players=%d", req.ID, req.Reason, len(w.players))
}

func (w *world) handleAction(env actionEnvelope) {
	m, ok := w.mobs[gamestate.ID(env.PlayerID)]
	if !ok {
		return
	}
	switch env.Msg.Type {
	case protocol.TypeMove:
		var mv protocol.MoveMsg
		if err := env.Msg.Decode(&mv); err != nil {
			return
		}
		m.dest = w.clamp(mathx.FromArray(mv.Target))
		m.Action = gamestate.ActionMove
		m.Speed = playerSpeed
		m.Target = 0
	case protocol.TypeBuild:
		var b protocol.BuildMsg
		if err := env.Msg.Decode(&b); err != nil || b.Kind == "" {
			return
		}
		id := w.newID()
		w.buildings[id] = &gamestate.Building{
			Kind:  b.Kind,
			Pos:   w.clamp(mathx.FromArray(b.Pos)),
			CurHP: 1,
			MaxHP: buildingHP,
			Owner: gamestate.ID(env.PlayerID),
		}
		m.startWork(gamestate.ActionBuild, id)
	case protocol.TypeRepair:
		var r protocol.RepairMsg
		if err := env.Msg.Decode(&r); err != nil {
			return
		}
		b, ok := w.buildings[gamestate.ID(r.Target)]
		if !ok || !b.Completed || b.CurHP >= b.MaxHP {
			return
		}
		m.startWork(gamestate.ActionRepair, gamestate.ID(r.Target))
	case protocol.TypeUse:
		var u protocol.UseMsg
		if err := env.Msg.Decode(&u); err != nil {
			return
		}
		if _, ok := w.objects[gamestate.ID(u.Target)]; !ok {
			return
		}
		delete(w.objects, gamestate.ID(u.Target))
		m.Action = gamestate.ActionUse
		m.Target = gamestate.ID(u.Target)
	}
}

func (m *mob) startWork(action string, building gamestate.ID) {
	m.Action = action
	m.Target = building
	m.work = building
	m.Speed = 0
}

func (m *mob) idle() {
	m.Action = gamestate.ActionIdle
	m.Target = 0
	m.work = 0
	m.Speed = 0
}

func (w *world) step() {
	w.tick++
	w.curTick.Store(w.tick)
	w.minutes = (w.minutes + 1) % (minutesPerDay * 1000)
	dt := 1 / float64(w.cfg.TickRateHz)

	for _, id := range slices.Sorted(maps.Keys(w.mobs)) {
		m := w.mobs[id]
		switch m.Action {
		case gamestate.ActionMove:
			d := m.dest.Sub(m.Pos)
			stepLen := m.Speed * dt
			if d.Len() <= stepLen {
				m.Pos = m.dest
				m.idle()
				continue
			}
			dir, _ := d.Normalize()
			m.Pos = m.Pos.Add(dir.Scale(stepLen))
		case gamestate.ActionBuild, gamestate.ActionRepair:
			b, ok := w.buildings[m.work]
			if !ok {
				m.idle()
				continue
			}
			b.CurHP++
			if b.CurHP >= b.MaxHP {
				b.CurHP = b.MaxHP
				b.Completed = true
				m.idle()
			}
		case gamestate.ActionUse:
			m.idle()
		case gamestate.ActionIdle:
			if m.Kind == "zombie" && w.tick >= m.wanderAt {
				m.dest = w.randomPos()
				m.Action = gamestate.ActionMove
				m.Speed = zombieSpeed
				m.wanderAt = w.tick + uint64(20+w.rng.Intn(40))
			}
		}
	}
	// Buildings slowly wear down so there is something to repair.
	if w.tick%50 == 0 {
		for _, b := range w.buildings {
			if b.Completed && b.CurHP > 1 {
				b.CurHP--
			}
		}
	}

	w.broadcast(protocol.TypeGamestate, gamestate.ToWire(w.snapshot()))
}

func (w *world) snapshot() *gamestate.Snapshot {
	day := w.minutes / minutesPerDay
	s := &gamestate.Snapshot{
		ServerTime: w.cfg.Now(),
		Time:       &gamestate.TimeOfDay{Day: day + 1, Hour: (w.minutes / 60) % 24, Minute: w.minutes % 60},
		Entities:   make(map[gamestate.ID]gamestate.Entity, len(w.mobs)),
		Buildings:  make(map[gamestate.ID]gamestate.Building, len(w.buildings)),
		Objects:    maps.Clone(w.objects),
	}
	for id, m := range w.mobs {
		s.Entities[id] = m.Entity
	}
	for id, b := range w.buildings {
		s.Buildings[id] = *b
	}
	return s
}

// broadcast drops the message for any player whose outbox is full; a slow
// client simply misses snapshots.
func (w *world) broadcast(t protocol.Type, v any) {
	if len(w.players) == 0 {
		return
	}
	m, err := protocol.NewMessage(t, v)
	if err != nil {
		w.log.Printf("encode %s: %v", t, err)
		return
	}
	for _, p := range w.players {
		select {
		case p.out <- m:
		default:
			w.dropped.Add(1)
		}
	}
}
