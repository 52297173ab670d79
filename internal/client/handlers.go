package client

import (
	"time"

	"outpost.client/internal/clocksync"
	"outpost.client/internal/gamestate"
	"outpost.client/internal/persistence/indexdb"
	"outpost.client/internal/protocol"
)

func (s *Session) onClockSample(sample clocksync.Sample) {
	if s.opts.Index != nil {
		s.opts.Index.RecordClock(indexdb.ClockRow{
			Session: s.id,
			PingID:  sample.ID,
			RTT:     sample.RTT,
			Delta:   sample.Delta,
			At:      time.Now(),
		})
	}
}

func (s *Session) handleStay(m protocol.Message) error {
	var stay protocol.StayMsg
	if err := m.Decode(&stay); err != nil {
		return err
	}
	s.self = Player{ID: stay.ID, Name: stay.Name}
	s.joined = true
	clear(s.roster)
	for _, p := range stay.Players {
		s.roster[p.ID] = p.Name
	}
	s.roster[stay.ID] = stay.Name
	return nil
}

func (s *Session) handleJoined(m protocol.Message) error {
	var j protocol.JoinedMsg
	if err := m.Decode(&j); err != nil {
		return err
	}
	s.roster[j.ID] = j.Name
	s.log.Printf("player joined id=%d name=%s", j.ID, j.Name)
	if s.opts.Index != nil {
		s.opts.Index.RecordJoin(indexdb.RosterRow{Session: s.id, PlayerID: j.ID, Name: j.Name, At: time.Now()})
	}
	return nil
}

// handleLeave ends the session when the departing id is ours; otherwise only
// that player and its entity are removed.
func (s *Session) handleLeave(m protocol.Message) error {
	var leave protocol.LeaveMsg
	if err := m.Decode(&leave); err != nil {
		return err
	}
	if !protocol.IsKnownReason(leave.Reason) {
		s.log.Printf("leave id=%d with unrecognized reason %q", leave.ID, leave.Reason)
	}
	if s.opts.Index != nil {
		s.opts.Index.RecordLeave(indexdb.RosterRow{Session: s.id, PlayerID: leave.ID, Reason: leave.Reason, At: time.Now()})
	}
	if s.joined && leave.ID == s.self.ID {
		s.ended = true
		s.leaveErr = &LeaveError{Reason: leave.Reason}
		s.log.Printf("left session reason=%s", leave.Reason)
		return nil
	}
	delete(s.roster, leave.ID)
	s.registry.Remove(gamestate.ID(leave.ID))
	s.log.Printf("player left id=%d reason=%s", leave.ID, leave.Reason)
	return nil
}

func (s *Session) handleGamestate(m protocol.Message) error {
	if s.ended {
		return nil
	}
	snap, err := gamestate.DecodeSnapshot(m)
	if err != nil {
		return err
	}
	if s.clock.Synced() {
		s.snapshotAge = s.now() - s.clock.ToLocal(snap.ServerTime)
		s.haveSnapshotAge = true
	}
	return s.bus.PublishAll(s.engine.Process(snap))
}
