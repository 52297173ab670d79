package client

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"outpost.client/internal/gamestate"
	"outpost.client/internal/mathx"
	"outpost.client/internal/persistence/indexdb"
	"outpost.client/internal/protocol"
	"outpost.client/internal/proxy"
	"outpost.client/internal/transport"
)

// script plays the server side of a session over an in-memory pipe.
type script struct {
	stream *transport.MemStream
	p      *proxy.Proxy
}

func newScript() (*script, *transport.MemStream) {
	srv, cli := transport.Pipe()
	return &script{stream: srv, p: proxy.New(srv, proxy.Options{})}, cli
}

func (sc *script) expect(typ protocol.Type, v any) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	m, err := sc.p.WaitFor(ctx, typ)
	if err != nil {
		return err
	}
	if v == nil {
		return nil
	}
	return m.Decode(v)
}

func (sc *script) send(typ protocol.Type, v any) error {
	if err := sc.p.Send(typ, v, nil); err != nil {
		return err
	}
	return sc.p.Push()
}

// serveHandshake answers ping with a pong stamped serverTime and join with reply.
func (sc *script) serveHandshake(serverTime float64, replyType protocol.Type, reply any) <-chan error {
	errc := make(chan error, 1)
	go func() {
		var ping protocol.PingMsg
		if err := sc.expect(protocol.TypePing, &ping); err != nil {
			errc <- err
			return
		}
		if err := sc.send(protocol.TypePong, protocol.PongMsg{ID: ping.ID, Time: serverTime}); err != nil {
			errc <- err
			return
		}
		var join protocol.JoinMsg
		if err := sc.expect(protocol.TypeJoin, &join); err != nil {
			errc <- err
			return
		}
		if join.ProtocolVersion != protocol.Version {
			errc <- errors.New("bad protocol version in join")
			return
		}
		errc <- sc.send(replyType, reply)
	}()
	return errc
}

type fakeIndex struct {
	started []indexdb.SessionRow
	ended   []indexdb.SessionRow
	clock   []indexdb.ClockRow
	joins   []indexdb.RosterRow
	leaves  []indexdb.RosterRow
}

func (f *fakeIndex) StartSession(r indexdb.SessionRow) { f.started = append(f.started, r) }
func (f *fakeIndex) EndSession(r indexdb.SessionRow)   { f.ended = append(f.ended, r) }
func (f *fakeIndex) RecordClock(r indexdb.ClockRow)    { f.clock = append(f.clock, r) }
func (f *fakeIndex) RecordJoin(r indexdb.RosterRow)    { f.joins = append(f.joins, r) }
func (f *fakeIndex) RecordLeave(r indexdb.RosterRow)   { f.leaves = append(f.leaves, r) }

type fakeRecorder struct {
	frames []string
	closed bool
}

func (r *fakeRecorder) Record(dir string, m protocol.Message) error {
	r.frames = append(r.frames, dir+":"+m.Type.String())
	return nil
}
func (r *fakeRecorder) Flush() error { return nil }

func (r *fakeRecorder) Close() error {
	r.closed = true
	return nil
}

type fakeClock struct{ t float64 }

func (c *fakeClock) now() float64 { return c.t }

func joinedSession(t *testing.T, opts Options) (*Session, *script, *fakeClock) {
	t.Helper()
	sc, cli := newScript()
	clk := &fakeClock{t: 1040}
	opts.Name = "ada"
	opts.Now = clk.now
	s := New(cli, opts)

	errc := sc.serveHandshake(1000, protocol.TypeStay, protocol.StayMsg{
		ID:      7,
		Name:    "ada",
		Players: []protocol.PlayerRef{{ID: 8, Name: "bob"}},
	})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := s.Handshake(ctx); err != nil {
		t.Fatalf("Handshake: %v", err)
	}
	if err := <-errc; err != nil {
		t.Fatalf("server script: %v", err)
	}
	return s, sc, clk
}

func tickUntil(t *testing.T, s *Session, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not reached")
		}
		if err := s.Tick(0); err != nil {
			t.Fatalf("Tick: %v", err)
		}
		time.Sleep(time.Millisecond)
	}
}

func gamestateMsg(entities map[gamestate.ID]gamestate.Entity) protocol.GamestateMsg {
	return gamestate.ToWire(&gamestate.Snapshot{ServerTime: 1001, Entities: entities})
}

func TestHandshake_SyncsClockAndJoins(t *testing.T) {
	idx := &fakeIndex{}
	s, _, _ := joinedSession(t, Options{Index: idx, SessionID: "s1"})

	// Constant local clock: rtt 0, delta = 1040 - 1000.
	if !s.Clock().Synced() || s.Clock().Delta() != 40 {
		t.Fatalf("clock: synced=%v delta=%v", s.Clock().Synced(), s.Clock().Delta())
	}
	if s.Self() != (Player{ID: 7, Name: "ada"}) || !s.Joined() {
		t.Fatalf("self: %+v", s.Self())
	}
	roster := s.Roster()
	if len(roster) != 2 || roster[0].ID != 7 || roster[1].ID != 8 {
		t.Fatalf("roster: %+v", roster)
	}
	if len(idx.started) != 1 || idx.started[0].PlayerID != 7 || len(idx.clock) != 1 {
		t.Fatalf("index: %+v", idx)
	}
}

func TestHandshake_RejectedWithLeave(t *testing.T) {
	sc, cli := newScript()
	s := New(cli, Options{Name: "late"})
	errc := sc.serveHandshake(5, protocol.TypeLeave, protocol.LeaveMsg{Reason: protocol.ReasonServerFull})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	err := s.Handshake(ctx)
	var lerr *LeaveError
	if !errors.As(err, &lerr) || lerr.Reason != protocol.ReasonServerFull {
		t.Fatalf("expected server_full leave, got %v", err)
	}
	if err := <-errc; err != nil {
		t.Fatalf("server script: %v", err)
	}
	if s.Ended() == nil {
		t.Fatalf("session should be ended")
	}
}

func TestHandshake_Timeout(t *testing.T) {
	_, cli := newScript()
	s := New(cli, Options{Name: "ada"})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := s.Handshake(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestHandshake_JoinsWithoutPong(t *testing.T) {
	sc, cli := newScript()
	clk := &fakeClock{t: 1040}
	s := New(cli, Options{Name: "ada", Now: clk.now})

	errc := make(chan error, 1)
	go func() {
		var ping protocol.PingMsg
		if err := sc.expect(protocol.TypePing, &ping); err != nil {
			errc <- err
			return
		}
		if err := sc.expect(protocol.TypeJoin, nil); err != nil {
			errc <- err
			return
		}
		errc <- sc.send(protocol.TypeStay, protocol.StayMsg{ID: 7, Name: "ada"})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := s.Handshake(ctx); err != nil {
		t.Fatalf("Handshake: %v", err)
	}
	if err := <-errc; err != nil {
		t.Fatalf("server script: %v", err)
	}
	if !s.Joined() || s.Clock().Synced() || !s.Clock().Syncing() || s.Clock().Delta() != 0 {
		t.Fatalf("joined=%v synced=%v syncing=%v delta=%v",
			s.Joined(), s.Clock().Synced(), s.Clock().Syncing(), s.Clock().Delta())
	}

	// The late pong is picked up by the game loop.
	if err := sc.send(protocol.TypePong, protocol.PongMsg{ID: 1, Time: 1000}); err != nil {
		t.Fatalf("send pong: %v", err)
	}
	tickUntil(t, s, func() bool { return s.Clock().Synced() })
	if s.Clock().Delta() != 40 || s.Clock().Syncing() {
		t.Fatalf("late pong: delta=%v syncing=%v", s.Clock().Delta(), s.Clock().Syncing())
	}
}

func TestHandshake_LeaveForOtherPlayerIsNotRejection(t *testing.T) {
	sc, cli := newScript()
	s := New(cli, Options{Name: "ada"})

	errc := make(chan error, 1)
	go func() {
		if err := sc.expect(protocol.TypeJoin, nil); err != nil {
			errc <- err
			return
		}
		if err := sc.send(protocol.TypeLeave, protocol.LeaveMsg{ID: 9, Reason: protocol.ReasonQuit}); err != nil {
			errc <- err
			return
		}
		errc <- sc.send(protocol.TypeStay, protocol.StayMsg{ID: 7, Name: "ada"})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := s.Handshake(ctx); err != nil {
		t.Fatalf("Handshake: %v", err)
	}
	if err := <-errc; err != nil {
		t.Fatalf("server script: %v", err)
	}
	if s.Ended() != nil || s.Self().ID != 7 {
		t.Fatalf("ended=%v self=%+v", s.Ended(), s.Self())
	}
}

func TestTick_SnapshotAgeOnLocalClock(t *testing.T) {
	s, sc, clk := joinedSession(t, Options{})
	if _, ok := s.SnapshotAge(); ok {
		t.Fatalf("no gamestate yet")
	}

	// delta is 40, so server time 1001 is local 1041.
	clk.t = 1041.25
	if err := sc.send(protocol.TypeGamestate, gamestateMsg(nil)); err != nil {
		t.Fatalf("send: %v", err)
	}
	tickUntil(t, s, func() bool {
		_, ok := s.SnapshotAge()
		return ok
	})
	if age, _ := s.SnapshotAge(); age != 0.25 {
		t.Fatalf("age: got %v want 0.25", age)
	}
	if got := s.Clock().ServerNow(); got != 1001.25 {
		t.Fatalf("ServerNow: got %v", got)
	}
}

func TestTick_GamestateDrivesRegistry(t *testing.T) {
	s, sc, _ := joinedSession(t, Options{})

	var seen []gamestate.EventKind
	s.Bus().SubscribeAll(func(ev gamestate.Event) error {
		seen = append(seen, ev.Kind())
		return nil
	})

	idle := func(x float64) gamestate.Entity {
		return gamestate.Entity{Kind: "player", Pos: mathx.Vec2{X: x}, CurHP: 10, MaxHP: 10, Action: gamestate.ActionIdle}
	}
	if err := sc.send(protocol.TypeGamestate, gamestateMsg(map[gamestate.ID]gamestate.Entity{7: idle(0), 8: idle(5)})); err != nil {
		t.Fatalf("send: %v", err)
	}
	tickUntil(t, s, func() bool { return s.Registry().Len() == 2 })

	walking := idle(0)
	walking.Pos = mathx.Vec2{X: 3}
	walking.Action = gamestate.ActionMove
	walking.Speed = 1
	if err := sc.send(protocol.TypeGamestate, gamestateMsg(map[gamestate.ID]gamestate.Entity{7: walking, 8: idle(5)})); err != nil {
		t.Fatalf("send: %v", err)
	}
	me, _ := s.Registry().Lookup(7)
	tickUntil(t, s, func() bool { return me.Movable.Moving() })

	if err := s.Tick(2); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if me.Position() != (mathx.Vec2{X: 2}) {
		t.Fatalf("interpolated position: %+v", me.Position())
	}
	if err := s.Tick(5); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if me.Position() != (mathx.Vec2{X: 3}) || me.Movable.Moving() {
		t.Fatalf("arrival: %+v moving=%v", me.Position(), me.Movable.Moving())
	}

	want := []gamestate.EventKind{
		gamestate.KindEntityAppeared, gamestate.KindEntityAppeared,
		gamestate.KindEntityChanged, gamestate.KindEntityMove,
	}
	if len(seen) != len(want) {
		t.Fatalf("events: %v", seen)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("events: %v", seen)
		}
	}
}

func TestTick_LeaveForOtherRemovesOnlyThatPlayer(t *testing.T) {
	idx := &fakeIndex{}
	s, sc, _ := joinedSession(t, Options{Index: idx})
	idle := gamestate.Entity{Kind: "player", CurHP: 1, MaxHP: 1, Action: gamestate.ActionIdle}
	if err := sc.send(protocol.TypeGamestate, gamestateMsg(map[gamestate.ID]gamestate.Entity{7: idle, 8: idle})); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := sc.send(protocol.TypeJoined, protocol.JoinedMsg{ID: 9, Name: "cy"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := sc.send(protocol.TypeLeave, protocol.LeaveMsg{ID: 8, Reason: protocol.ReasonQuit}); err != nil {
		t.Fatalf("send: %v", err)
	}
	tickUntil(t, s, func() bool { return len(idx.leaves) == 1 })

	if _, ok := s.Registry().Lookup(8); ok {
		t.Fatalf("entity 8 should be gone")
	}
	if _, ok := s.Registry().Lookup(7); !ok {
		t.Fatalf("own entity should remain")
	}
	roster := s.Roster()
	if len(roster) != 2 || roster[0].ID != 7 || roster[1].ID != 9 {
		t.Fatalf("roster: %+v", roster)
	}
	if s.Ended() != nil {
		t.Fatalf("session should still be live")
	}
}

func TestTick_LeaveForSelfEndsSession(t *testing.T) {
	s, sc, _ := joinedSession(t, Options{})
	if err := sc.send(protocol.TypeLeave, protocol.LeaveMsg{ID: 7, Reason: protocol.ReasonKicked}); err != nil {
		t.Fatalf("send: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		err := s.Tick(0)
		if err != nil {
			var lerr *LeaveError
			if !errors.As(err, &lerr) || lerr.Reason != protocol.ReasonKicked || lerr.Err != nil {
				t.Fatalf("expected kicked, got %v", err)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("session did not end")
		}
		time.Sleep(time.Millisecond)
	}
	if err := s.Move(mathx.Vec2{}); err == nil {
		t.Fatalf("actions after leave should fail")
	}
}

func TestTick_PeerCloseSynthesizesDisconnect(t *testing.T) {
	idx := &fakeIndex{}
	rec := &fakeRecorder{}
	s, sc, _ := joinedSession(t, Options{Index: idx, Recorder: rec})
	_ = sc.stream.Close()

	var err error
	deadline := time.Now().Add(2 * time.Second)
	for err == nil && time.Now().Before(deadline) {
		err = s.Tick(0)
	}
	var lerr *LeaveError
	if !errors.As(err, &lerr) || lerr.Reason != protocol.ReasonDisconnected {
		t.Fatalf("expected disconnected leave, got %v", err)
	}
	if !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF cause, got %v", err)
	}
	if len(idx.leaves) != 1 || idx.leaves[0].PlayerID != 7 {
		t.Fatalf("leave not indexed: %+v", idx.leaves)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if len(idx.ended) != 1 || idx.ended[0].EndReason != protocol.ReasonDisconnected {
		t.Fatalf("end not indexed: %+v", idx.ended)
	}
	if !rec.closed || len(rec.frames) < 4 {
		t.Fatalf("recorder: closed=%v frames=%v", rec.closed, rec.frames)
	}
	if rec.frames[0] != "out:ping" || rec.frames[1] != "in:pong" {
		t.Fatalf("recorded order: %v", rec.frames)
	}
}

func TestActions_SentOnNextTick(t *testing.T) {
	s, sc, _ := joinedSession(t, Options{})
	if err := s.Move(mathx.Vec2{X: 4, Y: 2}); err != nil {
		t.Fatalf("Move: %v", err)
	}
	if err := s.Build("wall", mathx.Vec2{X: 1, Y: 1}); err != nil {
		t.Fatalf("Build: %v", err)
	}
	if err := s.Repair(12); err != nil {
		t.Fatalf("Repair: %v", err)
	}
	if err := s.Use(30); err != nil {
		t.Fatalf("Use: %v", err)
	}
	if err := s.Tick(0); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	var mv protocol.MoveMsg
	if err := sc.expect(protocol.TypeMove, &mv); err != nil || mv.Target != [2]float64{4, 2} {
		t.Fatalf("move: %+v err=%v", mv, err)
	}
	var b protocol.BuildMsg
	if err := sc.expect(protocol.TypeBuild, &b); err != nil || b.Kind != "wall" {
		t.Fatalf("build: %+v err=%v", b, err)
	}
	var r protocol.RepairMsg
	if err := sc.expect(protocol.TypeRepair, &r); err != nil || r.Target != 12 {
		t.Fatalf("repair: %+v err=%v", r, err)
	}
	var u protocol.UseMsg
	if err := sc.expect(protocol.TypeUse, &u); err != nil || u.Target != 30 {
		t.Fatalf("use: %+v err=%v", u, err)
	}
}

func TestActions_BeforeJoin(t *testing.T) {
	_, cli := newScript()
	s := New(cli, Options{Name: "ada"})
	if err := s.Use(1); !errors.Is(err, ErrNotJoined) {
		t.Fatalf("expected ErrNotJoined, got %v", err)
	}
}

func TestTick_PeriodicResync(t *testing.T) {
	s, sc, clk := joinedSession(t, Options{ResyncInterval: 10 * time.Second})

	if err := s.Tick(0); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	clk.t += 11
	if err := s.Tick(0); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if !s.Clock().Syncing() {
		t.Fatalf("expected an outstanding ping")
	}
	var ping protocol.PingMsg
	if err := sc.expect(protocol.TypePing, &ping); err != nil {
		t.Fatalf("expect ping: %v", err)
	}
	if err := sc.send(protocol.TypePong, protocol.PongMsg{ID: ping.ID, Time: 1041}); err != nil {
		t.Fatalf("send: %v", err)
	}
	tickUntil(t, s, func() bool { return !s.Clock().Syncing() })
	if s.Clock().Delta() != 10 {
		t.Fatalf("delta after resync: %v", s.Clock().Delta())
	}
}

func TestTick_BadGamestateIsFatal(t *testing.T) {
	s, sc, _ := joinedSession(t, Options{})
	bad := map[string]any{"entities": map[string]any{"3": map[string]any{"kind": "zombie"}}}
	if err := sc.send(protocol.TypeGamestate, bad); err != nil {
		t.Fatalf("send: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		err := s.Tick(0)
		if err == nil {
			time.Sleep(time.Millisecond)
			continue
		}
		var herr *proxy.HandlerError
		if !errors.As(err, &herr) || !errors.Is(err, gamestate.ErrMissingAttribute) {
			t.Fatalf("expected handler error, got %v", err)
		}
		return
	}
	t.Fatalf("no error")
}

func TestRun_StopsOnLeaveAndCallsHook(t *testing.T) {
	s, sc, _ := joinedSession(t, Options{})
	ticks := 0
	hook := func(dt float64) error {
		ticks++
		if ticks == 3 {
			return sc.send(protocol.TypeLeave, protocol.LeaveMsg{ID: 7, Reason: protocol.ReasonTimeout})
		}
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	err := s.Run(ctx, 5*time.Millisecond, hook)
	var lerr *LeaveError
	if !errors.As(err, &lerr) || lerr.Reason != protocol.ReasonTimeout {
		t.Fatalf("expected timeout leave, got %v", err)
	}
	if ticks < 3 {
		t.Fatalf("hook ran %d times", ticks)
	}
}

func TestRun_ContextCancelIsClean(t *testing.T) {
	s, _, _ := joinedSession(t, Options{})
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := s.Run(ctx, 5*time.Millisecond, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
}
