package bus

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestConnectWithEmptyURLReturnsNilBus(t *testing.T) {
	b, err := Connect("", zerolog.Nop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b != nil {
		t.Fatalf("expected a nil *Bus for an empty url, got %+v", b)
	}
}

func TestNilBusMethodsAreNoOps(t *testing.T) {
	var b *Bus

	// None of these must panic on a nil receiver — callers (Hub) treat
	// "no backplane" as a first-class mode, not a special case.
	b.Close()
	b.PublishChannel("x", []byte("hi"))
	b.PublishBroadcastAll([]byte("hi"))
	if err := b.SubscribeChannel("x", func([]byte) {}); err != nil {
		t.Errorf("SubscribeChannel on nil bus: %v", err)
	}
	if err := b.SubscribeBroadcastAll(func([]byte) {}); err != nil {
		t.Errorf("SubscribeBroadcastAll on nil bus: %v", err)
	}
}
