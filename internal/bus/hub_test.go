// SPDX-License-Identifier: MIT

package bus

import (
	"context"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func recvEvent(t *testing.T, sub *Subscription) Event {
	t.Helper()
	select {
	case ev := <-sub.C():
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func assertNoEvent(t *testing.T, sub *Subscription) {
	t.Helper()
	select {
	case ev := <-sub.C():
		t.Fatalf("unexpected event: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_FanOutIsolation(t *testing.T) {
	hub := NewHub()

	a1 := hub.SubscribeSession("A")
	a2 := hub.SubscribeSession("A")
	b := hub.SubscribeSession("B")
	defer a1.Close()
	defer a2.Close()
	defer b.Close()

	delivered := hub.PublishToSession("A", NewSessionEvent("A", KindRequestUpdate, "Update", "your waiter is coming"))
	if delivered != 2 {
		t.Fatalf("expected 2 deliveries, got %d", delivered)
	}

	for _, sub := range []*Subscription{a1, a2} {
		ev := recvEvent(t, sub)
		if ev.Kind != KindRequestUpdate || ev.SessionID != "A" {
			t.Errorf("unexpected event: %+v", ev)
		}
	}
	assertNoEvent(t, b)
}

func TestHub_SessionsAndWaitersAreSeparateAudiences(t *testing.T) {
	hub := NewHub()

	session := hub.SubscribeSession("42")
	waiter := hub.SubscribeWaiter("42")
	defer session.Close()
	defer waiter.Close()

	hub.PublishToWaiter("42", NewWaiterEvent("42", KindRequestUpdate, "Buzz", "table 7 calls"))

	ev := recvEvent(t, waiter)
	if ev.WaiterID != "42" || ev.SessionID != "" {
		t.Errorf("unexpected event addressing: %+v", ev)
	}
	assertNoEvent(t, session)
}

func TestHub_DeliveryOrder(t *testing.T) {
	hub := NewHub()
	sub := hub.SubscribeSession("A")
	defer sub.Close()

	for i := 0; i < 10; i++ {
		ev, err := NewSessionEvent("A", KindOrderUpdate, "Order", "progress").WithPayload(map[string]int{"seq": i})
		if err != nil {
			t.Fatalf("payload: %v", err)
		}
		hub.PublishToSession("A", ev)
	}

	for i := 0; i < 10; i++ {
		ev := recvEvent(t, sub)
		want := byte('0' + i)
		if len(ev.Payload) == 0 || ev.Payload[len(ev.Payload)-2] != want {
			t.Fatalf("event %d out of order: %s", i, ev.Payload)
		}
	}
}

func TestHub_SlowConsumerDropsInsteadOfBlocking(t *testing.T) {
	hub := NewHub(WithBuffer(2))
	slow := hub.SubscribeSession("A")
	defer slow.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			hub.PublishToSession("A", NewSessionEvent("A", KindOrderUpdate, "", ""))
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher blocked on a stalled consumer")
	}

	// Only the buffered events survive.
	if got := len(slow.ch); got != 2 {
		t.Errorf("expected 2 buffered events, got %d", got)
	}
}

func TestHub_PublishWithoutSubscribersIsSilentDrop(t *testing.T) {
	hub := NewHub()
	if delivered := hub.PublishToSession("ghost", NewSessionEvent("ghost", KindRequestUpdate, "", "")); delivered != 0 {
		t.Errorf("expected 0 deliveries, got %d", delivered)
	}
}

func TestHub_CloseIsIdempotent(t *testing.T) {
	hub := NewHub()
	sub := hub.SubscribeSession("A")

	sub.Close()
	sub.Close()
	sub.Close()

	if counts := hub.Counts(); counts.Total != 0 {
		t.Errorf("expected 0 connections, got %+v", counts)
	}

	select {
	case <-sub.Done():
	default:
		t.Error("expected Done to be closed")
	}
}

func TestHub_Counts(t *testing.T) {
	hub := NewHub()

	s1 := hub.SubscribeSession("A")
	s2 := hub.SubscribeSession("A")
	w1 := hub.SubscribeWaiter("w-1")

	counts := hub.Counts()
	if counts.Sessions != 2 || counts.Waiters != 1 || counts.Total != 3 {
		t.Fatalf("unexpected counts: %+v", counts)
	}
	if !hub.HasSessionConns("A") || hub.HasSessionConns("B") {
		t.Error("HasSessionConns wrong")
	}
	if !hub.HasWaiterConns("w-1") || hub.HasWaiterConns("w-2") {
		t.Error("HasWaiterConns wrong")
	}

	s1.Close()
	s2.Close()
	w1.Close()

	if counts := hub.Counts(); counts.Total != 0 {
		t.Errorf("expected all connections released, got %+v", counts)
	}
}

func TestHub_NoLeakAfterManyOpenCloseCycles(t *testing.T) {
	defer goleak.VerifyNone(t)

	hub := NewHub()
	for i := 0; i < 10000; i++ {
		sub := hub.SubscribeSession("same-key")
		sub.Close()
	}

	if counts := hub.Counts(); counts.Total != 0 {
		t.Fatalf("expected 0 connections after churn, got %+v", counts)
	}
	hub.mu.RLock()
	entries := len(hub.subs)
	hub.mu.RUnlock()
	if entries != 0 {
		t.Fatalf("expected empty subscription table, got %d entries", entries)
	}
}

func TestHub_HeartbeatBroadcast(t *testing.T) {
	hub := NewHub()
	session := hub.SubscribeSession("A")
	waiter := hub.SubscribeWaiter("w-1")
	defer session.Close()
	defer waiter.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.RunHeartbeat(ctx, 20*time.Millisecond)

	for _, sub := range []*Subscription{session, waiter} {
		ev := recvEvent(t, sub)
		if ev.Kind != KindHeartbeat {
			t.Errorf("expected heartbeat, got %s", ev.Kind)
		}
	}
}

func TestHub_Shutdown(t *testing.T) {
	hub := NewHub()
	sub := hub.SubscribeSession("A")

	hub.Shutdown()

	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatal("expected subscription to be released on shutdown")
	}

	// Subscriptions opened after shutdown come back already released.
	late := hub.SubscribeSession("B")
	select {
	case <-late.Done():
	default:
		t.Error("expected post-shutdown subscription to be released")
	}

	// Shutdown twice is fine.
	hub.Shutdown()
}

func TestHub_CloseAfterShutdownSubscribe(t *testing.T) {
	hub := NewHub()
	hub.Shutdown()

	sub := hub.SubscribeSession("late")
	select {
	case <-sub.Done():
	default:
		t.Fatal("expected post-shutdown subscription to be released")
	}

	// The stream handler always defers Close; it must stay a no-op here.
	sub.Close()
	sub.Close()

	if counts := hub.Counts(); counts.Total != 0 {
		t.Errorf("expected no bookkeeping for a post-shutdown subscription, got %+v", counts)
	}
}
