package movement

import (
	"errors"
	"math"
	"testing"

	"outpost.client/internal/mathx"
)

func v(x, y float64) mathx.Vec2 { return mathx.Vec2{X: x, Y: y} }

func TestUpdate_SimpleArrival(t *testing.T) {
	m := NewMovable(v(0, 0))
	if err := m.Move(v(0, 0), []mathx.Vec2{v(10, 0)}, 5); err != nil {
		t.Fatalf("Move: %v", err)
	}
	m.Update(2)
	if m.Position() != v(10, 0) {
		t.Fatalf("position: got %+v", m.Position())
	}
	if m.Moving() || m.Speed() != 0 || len(m.Path()) != 0 {
		t.Fatalf("expected idle: moving=%v speed=%v", m.Moving(), m.Speed())
	}
	if _, ok := m.Direction(); ok {
		t.Fatalf("direction must be cleared on arrival")
	}
}

func TestUpdate_MultiWaypointOvershoot(t *testing.T) {
	m := NewMovable(v(0, 0))
	if err := m.Move(v(0, 0), []mathx.Vec2{v(1, 0), v(1, 1)}, 10); err != nil {
		t.Fatalf("Move: %v", err)
	}
	m.Update(0.5)
	if m.Position() != v(1, 1) {
		t.Fatalf("position: got %+v", m.Position())
	}
	if m.Moving() {
		t.Fatalf("expected idle after consuming both waypoints")
	}
}

func TestUpdate_PartialTick(t *testing.T) {
	m := NewMovable(v(0, 0))
	if err := m.Move(v(0, 0), []mathx.Vec2{v(10, 0)}, 5); err != nil {
		t.Fatalf("Move: %v", err)
	}
	m.Update(1)
	if m.Position() != v(5, 0) {
		t.Fatalf("position: got %+v", m.Position())
	}
	if !m.Moving() {
		t.Fatalf("expected still moving")
	}
	d, ok := m.Direction()
	if !ok || !mathx.ApproxEqual(d, v(1, 0), 1e-12) {
		t.Fatalf("direction: got %+v ok=%v", d, ok)
	}
	if r := m.Remaining(); r != 5 {
		t.Fatalf("remaining: got %v", r)
	}
}

func TestUpdate_CarriesOverIntoNextSegment(t *testing.T) {
	m := NewMovable(v(0, 0))
	_ = m.Move(v(0, 0), []mathx.Vec2{v(3, 0), v(3, 10)}, 1)
	m.Update(5)
	if !mathx.ApproxEqual(m.Position(), v(3, 2), 1e-12) {
		t.Fatalf("position: got %+v", m.Position())
	}
	next, ok := m.Next()
	if !ok || next != v(3, 10) {
		t.Fatalf("next: got %+v ok=%v", next, ok)
	}
	d, _ := m.Direction()
	if !mathx.ApproxEqual(d, v(0, 1), 1e-12) {
		t.Fatalf("direction: got %+v", d)
	}
}

func TestUpdate_ExactArrivalNoDrift(t *testing.T) {
	m := NewMovable(v(0, 0))
	target := v(0.3, 0.7)
	_ = m.Move(v(0.1, 0.1), []mathx.Vec2{target}, 0.37)
	for i := 0; i < 1000 && m.Moving(); i++ {
		m.Update(1.0 / 60)
	}
	if m.Moving() {
		t.Fatalf("never arrived")
	}
	if m.Position() != target {
		t.Fatalf("arrival not exact: got %+v want %+v", m.Position(), target)
	}
}

func TestUpdate_ZeroLengthSegment(t *testing.T) {
	m := NewMovable(v(2, 2))
	_ = m.Move(v(2, 2), []mathx.Vec2{v(2, 2), v(2, 2), v(4, 2)}, 1)
	m.Update(1)
	p := m.Position()
	if math.IsNaN(p.X) || math.IsNaN(p.Y) {
		t.Fatalf("NaN position")
	}
	if !mathx.ApproxEqual(p, v(3, 2), 1e-12) {
		t.Fatalf("position: got %+v", p)
	}
}

func TestMove_SupersedesInFlight(t *testing.T) {
	m := NewMovable(v(0, 0))
	_ = m.Move(v(0, 0), []mathx.Vec2{v(10, 0)}, 1)
	m.Update(3)
	_ = m.Move(v(5, 5), []mathx.Vec2{v(5, 9)}, 2)
	if m.Position() != v(5, 5) {
		t.Fatalf("anchor not applied: %+v", m.Position())
	}
	m.Update(1)
	if m.Position() != v(5, 7) {
		t.Fatalf("position: got %+v", m.Position())
	}
}

func TestSetPosition_ClearsMotion(t *testing.T) {
	m := NewMovable(v(0, 0))
	_ = m.Move(v(0, 0), []mathx.Vec2{v(10, 0), v(20, 0)}, 1)
	m.SetPosition(v(-1, -1))
	if m.Moving() || m.Speed() != 0 || len(m.Path()) != 0 {
		t.Fatalf("motion not cleared")
	}
	m.Update(10)
	if m.Position() != v(-1, -1) {
		t.Fatalf("idle update moved entity: %+v", m.Position())
	}
}

func TestMove_RejectsNonPositiveSpeed(t *testing.T) {
	m := NewMovable(v(0, 0))
	if err := m.Move(v(1, 1), []mathx.Vec2{v(2, 2)}, 0); !errors.Is(err, ErrInvalidSpeed) {
		t.Fatalf("expected ErrInvalidSpeed, got %v", err)
	}
	if m.Moving() || m.Position() != v(0, 0) {
		t.Fatalf("state must be unchanged")
	}
	if err := m.Move(v(1, 1), nil, 0); err != nil {
		t.Fatalf("empty path: %v", err)
	}
	if m.Position() != v(1, 1) || m.Moving() {
		t.Fatalf("empty path should snap: %+v", m.Position())
	}
}
