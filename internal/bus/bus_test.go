package bus

import (
	"context"
	"testing"
	"time"
)

func TestMessageBus_ArrivalOrder(t *testing.T) {
	b := NewMessageBus(4)
	for _, text := range []string{"a", "b", "c"} {
		if !b.PublishInbound(InboundEvent{Kind: EventMessage, Text: text}) {
			t.Fatalf("publish %q rejected", text)
		}
	}
	ctx := context.Background()
	for _, want := range []string{"a", "b", "c"} {
		ev, ok := b.ConsumeInbound(ctx)
		if !ok {
			t.Fatal("consume returned !ok")
		}
		if ev.Text != want {
			t.Fatalf("got %q, want %q", ev.Text, want)
		}
	}
}

func TestMessageBus_FullQueueDrops(t *testing.T) {
	b := NewMessageBus(1)
	if !b.PublishInbound(InboundEvent{Text: "first"}) {
		t.Fatal("first publish rejected")
	}
	if b.PublishInbound(InboundEvent{Text: "second"}) {
		t.Fatal("expected second publish to be dropped")
	}
	if b.Len() != 1 {
		t.Fatalf("len = %d, want 1", b.Len())
	}
}

func TestMessageBus_ConsumeObservesCancel(t *testing.T) {
	b := NewMessageBus(1)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan bool)
	go func() {
		_, ok := b.ConsumeInbound(ctx)
		done <- ok
	}()
	cancel()
	select {
	case ok := <-done:
		if ok {
			t.Fatal("expected !ok after cancel")
		}
	case <-time.After(time.Second):
		t.Fatal("consume did not return after cancel")
	}
}

func TestMessageBus_Close(t *testing.T) {
	b := NewMessageBus(1)
	b.Close()
	b.Close()
	if b.PublishInbound(InboundEvent{}) {
		t.Fatal("publish after close should fail")
	}
	if _, ok := b.ConsumeInbound(context.Background()); ok {
		t.Fatal("consume after close should return !ok")
	}
}
