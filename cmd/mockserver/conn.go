package main

import (
	"context"
	"errors"
	"time"

	"outpost.client/internal/protocol"
	"outpost.client/internal/proxy"
	"outpost.client/internal/transport"
)

const (
	handshakeTimeout = 10 * time.Second
	pumpInterval     = 5 * time.Millisecond
)

var actionTypes = []protocol.Type{protocol.TypeMove, protocol.TypeBuild, protocol.TypeRepair, protocol.TypeUse}

// serve runs one client connection: the ping/join handshake, then a loop that
// forwards world broadcasts and submits the client's actions.
func (w *world) serve(s transport.Stream, remote string) {
	defer s.Close()
	p := proxy.New(s, proxy.Options{Logger: w.log})
	p.Register(protocol.TypePing, w.answerPing(p))

	out := make(chan protocol.Message, outboxSize)
	id, ok := w.handshake(p, out, remote)
	if !ok {
		return
	}
	reason := protocol.ReasonDisconnected
	defer func() { w.requestLeave(id, reason) }()

	for _, t := range actionTypes {
		p.Register(t, func(m protocol.Message) error {
			w.submit(actionEnvelope{PlayerID: id, Msg: m})
			return nil
		})
	}

	tick := time.NewTicker(pumpInterval)
	defer tick.Stop()
	for {
		select {
		case <-w.done:
			return
		case m := <-out:
			p.Enqueue(m, nil)
		drain:
			for {
				select {
				case m := <-out:
					p.Enqueue(m, nil)
				default:
					break drain
				}
			}
		case <-tick.C:
		}
		if _, err := p.PollAndDispatch(); err != nil {
			var herr *proxy.HandlerError
			if errors.As(err, &herr) {
				reason = protocol.ReasonProtocol
			}
			w.log.Printf("conn %s id=%d: %v", remote, id, err)
			return
		}
		if err := p.Push(); err != nil {
			w.log.Printf("conn %s id=%d: push: %v", remote, id, err)
			return
		}
	}
}

func (w *world) answerPing(p *proxy.Proxy) proxy.Handler {
	return func(m protocol.Message) error {
		var ping protocol.PingMsg
		if err := m.Decode(&ping); err != nil {
			return err
		}
		return p.Send(protocol.TypePong, protocol.PongMsg{ID: ping.ID, Time: w.cfg.Now()}, nil)
	}
}

// handshake answers pings until a join arrives, then asks the world to admit
// the player. Rejections are reported to the client as a leave.
func (w *world) handshake(p *proxy.Proxy, out chan protocol.Message, remote string) (uint64, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), handshakeTimeout)
	defer cancel()
	for {
		m, err := p.WaitForAny(ctx, protocol.TypePing, protocol.TypeJoin)
		if err != nil {
			w.log.Printf("conn %s: handshake: %v", remote, err)
			return 0, false
		}
		if m.Type == protocol.TypePing {
			if err := p.Dispatch(m); err != nil {
				w.log.Printf("conn %s: ping: %v", remote, err)
				return 0, false
			}
			if err := p.Push(); err != nil {
				return 0, false
			}
			continue
		}

		var join protocol.JoinMsg
		if err := m.Decode(&join); err != nil {
			w.log.Printf("conn %s: join: %v", remote, err)
			return 0, false
		}
		resp, ok := w.requestJoin(joinRequest{
			Name:            join.Name,
			ProtocolVersion: join.ProtocolVersion,
			Out:             out,
			Resp:            make(chan joinResponse, 1),
		})
		if !ok {
			return 0, false
		}
		if resp.Reject != "" {
			w.log.Printf("conn %s: join rejected: %s", remote, resp.Reject)
			_ = p.Send(protocol.TypeLeave, protocol.LeaveMsg{Reason: resp.Reject}, nil)
			_ = p.Push()
			return 0, false
		}
		if err := p.Send(protocol.TypeStay, resp.Stay, nil); err != nil {
			w.requestLeave(resp.Stay.ID, protocol.ReasonProtocol)
			return 0, false
		}
		if err := p.Push(); err != nil {
			w.requestLeave(resp.Stay.ID, protocol.ReasonDisconnected)
			return 0, false
		}
		return resp.Stay.ID, true
	}
}
