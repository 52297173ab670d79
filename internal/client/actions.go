package client

import (
	"outpost.client/internal/mathx"
	"outpost.client/internal/protocol"
)

// The action helpers queue a request; it goes out on the next Tick.

func (s *Session) Move(target mathx.Vec2) error {
	return s.send(protocol.TypeMove, protocol.MoveMsg{Target: target.Array()})
}

func (s *Session) Build(kind string, pos mathx.Vec2) error {
	return s.send(protocol.TypeBuild, protocol.BuildMsg{Kind: kind, Pos: pos.Array()})
}

func (s *Session) Repair(building uint64) error {
	return s.send(protocol.TypeRepair, protocol.RepairMsg{Target: building})
}

func (s *Session) Use(object uint64) error {
	return s.send(protocol.TypeUse, protocol.UseMsg{Target: object})
}

func (s *Session) send(t protocol.Type, v any) error {
	if s.ended {
		return s.leaveErr
	}
	if s.closed {
		return ErrEnded
	}
	if !s.joined {
		return ErrNotJoined
	}
	return s.proxy.Send(t, v, nil)
}
