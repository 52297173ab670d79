package events

import (
	"errors"
	"testing"

	"outpost.client/internal/gamestate"
)

func TestBus_OrderAndFiltering(t *testing.T) {
	b := NewBus()
	var got []string
	b.Subscribe(gamestate.KindEntityAppeared, func(gamestate.Event) error { got = append(got, "a1"); return nil })
	b.Subscribe(gamestate.KindEntityAppeared, func(gamestate.Event) error { got = append(got, "a2"); return nil })
	b.Subscribe(gamestate.KindTimeTick, func(gamestate.Event) error { got = append(got, "tick"); return nil })
	b.SubscribeAll(func(ev gamestate.Event) error { got = append(got, "all:"+string(ev.Kind())); return nil })

	err := b.PublishAll([]gamestate.Event{
		gamestate.EntityAppeared{ID: 1},
		gamestate.ObjectAppeared{ID: 2},
	})
	if err != nil {
		t.Fatalf("PublishAll: %v", err)
	}
	want := []string{"a1", "a2", "all:entity_appeared", "all:object_appeared"}
	if len(got) != len(want) {
		t.Fatalf("got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v want %v", got, want)
		}
	}
}

func TestBus_StopsOnError(t *testing.T) {
	b := NewBus()
	boom := errors.New("boom")
	calls := 0
	b.SubscribeAll(func(gamestate.Event) error { calls++; return boom })
	err := b.PublishAll([]gamestate.Event{gamestate.TimeTick{}, gamestate.TimeTick{}})
	if !errors.Is(err, boom) || calls != 1 {
		t.Fatalf("err=%v calls=%d", err, calls)
	}
}
