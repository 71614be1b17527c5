package notify

import (
	"context"
	"testing"
	"time"

	"github.com/matheus3301/wppdash/internal/bus"
	"github.com/matheus3301/wppdash/internal/model"
)

func mergeResult(fromMe bool, group bool) model.MergeResult {
	return model.MergeResult{
		SessionID: "s1",
		Conversation: model.Conversation{
			ID:      "c1",
			Name:    "Family",
			IsGroup: group,
		},
		Message: model.Message{
			ID:     "m1",
			FromMe: fromMe,
			Body:   "hello there",
			Sender: &model.Sender{Pushname: "Alice"},
		},
	}
}

func TestPostAndCurrent(t *testing.T) {
	d := New(bus.New(), nil, time.Minute)
	d.Post(model.Notification{Title: "Alice", Body: "hi", SessionID: "s1", ConversationID: "c1"})

	n := d.Current()
	if n == nil || n.Title != "Alice" {
		t.Fatalf("current = %+v, want posted notice", n)
	}
	if n.CreatedAt == 0 {
		t.Error("createdAt not stamped")
	}
}

func TestNewNoticeReplaces(t *testing.T) {
	d := New(bus.New(), nil, time.Minute)
	d.Post(model.Notification{Title: "first"})
	d.Post(model.Notification{Title: "second"})

	if n := d.Current(); n == nil || n.Title != "second" {
		t.Fatalf("current = %+v, want the second notice", n)
	}
}

func TestExpiry(t *testing.T) {
	d := New(bus.New(), nil, 30*time.Millisecond)
	d.Post(model.Notification{Title: "ephemeral"})

	deadline := time.Now().Add(time.Second)
	for d.Current() != nil {
		if time.Now().After(deadline) {
			t.Fatal("notice still visible past its timeout")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestReplaceRearmsTimer(t *testing.T) {
	d := New(bus.New(), nil, 60*time.Millisecond)
	d.Post(model.Notification{Title: "first"})
	time.Sleep(40 * time.Millisecond)
	d.Post(model.Notification{Title: "second"})
	// The first notice's timer would fire now; it must not clear the
	// replacement.
	time.Sleep(30 * time.Millisecond)

	if n := d.Current(); n == nil || n.Title != "second" {
		t.Fatalf("current = %+v, want second notice still visible", n)
	}
}

func TestDismiss(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("notice.", 10)
	defer unsub()

	d := New(b, nil, time.Minute)
	d.Post(model.Notification{Title: "x"})
	d.Dismiss()

	if d.Current() != nil {
		t.Error("notice visible after dismiss")
	}
	// Posted then cleared.
	kinds := drainKinds(ch)
	if len(kinds) != 2 || kinds[0] != bus.KindNoticePosted || kinds[1] != bus.KindNoticeCleared {
		t.Errorf("events = %v", kinds)
	}

	// Dismissing an empty dispatcher publishes nothing.
	d.Dismiss()
	if kinds := drainKinds(ch); len(kinds) != 0 {
		t.Errorf("extra events on empty dismiss: %v", kinds)
	}
}

func TestClickRoutesAndClears(t *testing.T) {
	d := New(bus.New(), nil, time.Minute)
	d.Post(model.Notification{Title: "Alice", SessionID: "s1", ConversationID: "c1"})

	route, ok := d.Click()
	if !ok {
		t.Fatal("click should route")
	}
	if route.SessionID != "s1" || route.ConversationID != "c1" {
		t.Errorf("route = %+v", route)
	}
	if d.Current() != nil {
		t.Error("notice visible after click")
	}
}

func TestClickCallNoticeDoesNotRoute(t *testing.T) {
	d := New(bus.New(), nil, time.Minute)
	d.Post(model.Notification{Title: "Incoming voice call", SessionID: "s1", IsCall: true})

	if _, ok := d.Click(); ok {
		t.Error("call notices are dismiss-only")
	}
	if d.Current() != nil {
		t.Error("notice visible after click")
	}
}

func TestMergeEventsDriveNotices(t *testing.T) {
	b := bus.New()
	d := New(b, nil, time.Minute)
	d.Start(context.Background())
	defer d.Stop()

	b.Publish(bus.Event{Kind: bus.KindMessageMerged, Payload: mergeResult(false, false)})

	n := waitForNotice(t, d)
	if n.Title != "Alice" || n.Body != "hello there" {
		t.Errorf("notice = %+v", n)
	}
}

func TestOwnMessagesDoNotNotify(t *testing.T) {
	b := bus.New()
	d := New(b, nil, time.Minute)
	d.Start(context.Background())
	defer d.Stop()

	b.Publish(bus.Event{Kind: bus.KindMessageMerged, Payload: mergeResult(true, false)})
	// Follow with a foreign message; when it shows up we know the first
	// event was processed and skipped.
	follow := mergeResult(false, false)
	follow.Message.Sender = &model.Sender{Pushname: "Bob"}
	b.Publish(bus.Event{Kind: bus.KindMessageMerged, Payload: follow})

	n := waitForNotice(t, d)
	if n.Title != "Bob" {
		t.Errorf("notice = %+v, want the foreign message only", n)
	}
}

func TestGroupTitle(t *testing.T) {
	b := bus.New()
	d := New(b, nil, time.Minute)
	d.Start(context.Background())
	defer d.Stop()

	b.Publish(bus.Event{Kind: bus.KindMessageMerged, Payload: mergeResult(false, true)})

	n := waitForNotice(t, d)
	if n.Title != "Alice @ Family" {
		t.Errorf("title = %q, want sender @ chat", n.Title)
	}
}

func TestMediaBody(t *testing.T) {
	b := bus.New()
	d := New(b, nil, time.Minute)
	d.Start(context.Background())
	defer d.Stop()

	res := mergeResult(false, false)
	res.Message.HasMedia = true
	res.Message.Type = "image"
	b.Publish(bus.Event{Kind: bus.KindMessageMerged, Payload: res})

	n := waitForNotice(t, d)
	if n.Body != "Media (image)" {
		t.Errorf("body = %q", n.Body)
	}
}

func TestProviderCallAlert(t *testing.T) {
	b := bus.New()
	d := New(b, nil, time.Minute)
	d.Start(context.Background())
	defer d.Stop()

	b.Publish(bus.Event{Kind: bus.KindProviderCallAlert, Payload: model.ProviderCallAlert{
		SessionID: "s1",
		From:      "+5511999999999",
		IsVideo:   true,
	}})

	n := waitForNotice(t, d)
	if n.Title != "Incoming video call" || !n.IsCall {
		t.Errorf("notice = %+v", n)
	}
	if n.Body != "+5511999999999" {
		t.Errorf("body = %q", n.Body)
	}
}

func waitForNotice(t *testing.T, d *Dispatcher) model.Notification {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for {
		if n := d.Current(); n != nil {
			return *n
		}
		if time.Now().After(deadline) {
			t.Fatal("timeout waiting for notice")
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func drainKinds(ch <-chan bus.Event) []string {
	var kinds []string
	for {
		select {
		case evt := <-ch:
			kinds = append(kinds, evt.Kind)
		default:
			return kinds
		}
	}
}
