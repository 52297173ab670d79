// Package events fans domain events out to subscribers registered at startup.
package events

import (
	"outpost.client/internal/gamestate"
)

type Listener func(gamestate.Event) error

// Bus delivers events synchronously, in subscription order. It is owned by a
// single session and is not safe for concurrent use.
type Bus struct {
	byKind map[gamestate.EventKind][]Listener
	all    []Listener
}

func NewBus() *Bus {
	return &Bus{byKind: make(map[gamestate.EventKind][]Listener)}
}

// Subscribe registers l for events of kind k.
func (b *Bus) Subscribe(k gamestate.EventKind, l Listener) {
	b.byKind[k] = append(b.byKind[k], l)
}

// SubscribeAll registers l for every event. Catch-all listeners run after the
// kind-specific ones.
func (b *Bus) SubscribeAll(l Listener) {
	b.all = append(b.all, l)
}

// Publish delivers ev and stops at the first listener error.
func (b *Bus) Publish(ev gamestate.Event) error {
	for _, l := range b.byKind[ev.Kind()] {
		if err := l(ev); err != nil {
			return err
		}
	}
	for _, l := range b.all {
		if err := l(ev); err != nil {
			return err
		}
	}
	return nil
}

// PublishAll delivers evs in order.
func (b *Bus) PublishAll(evs []gamestate.Event) error {
	for _, ev := range evs {
		if err := b.Publish(ev); err != nil {
			return err
		}
	}
	return nil
}
