package bus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("provider.", 10)
	defer unsub()

	b.Publish(Event{Kind: KindProviderStatus, Session: "s1", Payload: "test"})

	select {
	case evt := <-ch:
		if evt.Kind != KindProviderStatus {
			t.Errorf("got kind %q, want %q", evt.Kind, KindProviderStatus)
		}
		if evt.Session != "s1" {
			t.Errorf("got session %q, want s1", evt.Session)
		}
		if evt.Timestamp.IsZero() {
			t.Error("publish should stamp a zero timestamp")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestNamespaceFiltering(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("signal.", 10)
	defer unsub()

	b.Publish(Event{Kind: KindProviderMessage})
	b.Publish(Event{Kind: KindSignalOffer})

	select {
	case evt := <-ch:
		if evt.Kind != KindSignalOffer {
			t.Errorf("got kind %q, want %q", evt.Kind, KindSignalOffer)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}

	// Ensure the provider event was not delivered.
	select {
	case evt := <-ch:
		t.Errorf("unexpected event: %v", evt)
	case <-time.After(50 * time.Millisecond):
		// Expected: no more events.
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("provider.", 10)
	unsub()

	b.Publish(Event{Kind: KindProviderStatus})

	select {
	case evt := <-ch:
		t.Errorf("received event after unsubscribe: %v", evt)
	case <-time.After(50 * time.Millisecond):
		// Expected.
	}
}

func TestDropOnFullBuffer(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("notice.", 1)
	defer unsub()

	// Fill buffer.
	b.Publish(Event{Kind: KindNoticePosted})
	// This should be dropped (non-blocking).
	b.Publish(Event{Kind: KindNoticeCleared})

	evt := <-ch
	if evt.Kind != KindNoticePosted {
		t.Errorf("got %q, want %q", evt.Kind, KindNoticePosted)
	}
}
