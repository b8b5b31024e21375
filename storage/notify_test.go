package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/sportscave1/task-manager/domain"
)

func expectSignal(t *testing.T, ch <-chan struct{}, want bool) {
	t.Helper()
	wait := 50 * time.Millisecond
	if want {
		wait = 2 * time.Second
	}
	select {
	case <-ch:
		if !want {
			t.Fatalf("unexpected signal")
		}
	case <-time.After(wait):
		if want {
			t.Fatalf("timed out waiting for signal")
		}
	}
}

func TestNotifierLocalSignalsOwnerOnly(t *testing.T) {
	n := NewNotifier(nil, "", nil)
	alice, stopAlice := n.Watch("alice")
	defer stopAlice()
	bob, stopBob := n.Watch("bob")
	defer stopBob()

	if err := n.Publish(context.Background(), domain.Event{UserID: "alice"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	expectSignal(t, alice, true)
	expectSignal(t, bob, false)
}

func TestNotifierCoalescesSignals(t *testing.T) {
	n := NewNotifier(nil, "", nil)
	ch, stop := n.Watch("alice")
	defer stop()

	for i := 0; i < 5; i++ {
		_ = n.Publish(context.Background(), domain.Event{UserID: "alice"})
	}
	expectSignal(t, ch, true)
	expectSignal(t, ch, false)
}

func TestNotifierStopRemovesWatcher(t *testing.T) {
	n := NewNotifier(nil, "", nil)
	ch, stop := n.Watch("alice")
	stop()
	stop()

	_ = n.Publish(context.Background(), domain.Event{UserID: "alice"})
	expectSignal(t, ch, false)
	if len(n.watchers) != 0 {
		t.Fatalf("expected watcher set to be dropped, got %d", len(n.watchers))
	}
}

func TestNotifierBlankWatcherSeesEveryone(t *testing.T) {
	n := NewNotifier(nil, "", nil)
	all, stop := n.Watch("")
	defer stop()

	_ = n.Publish(context.Background(), domain.Event{UserID: "carol"})
	expectSignal(t, all, true)
}

func TestNotifierRedisRoundTrip(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	n := NewNotifier(client, "task-changes", nil)
	go n.Run(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for {
		subs, err := client.PubSubNumSub(ctx, "task-changes").Result()
		if err == nil && subs["task-changes"] > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("subscription never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	ch, stop := n.Watch("alice")
	defer stop()
	if err := n.Publish(ctx, domain.Event{UserID: "alice"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	expectSignal(t, ch, true)
}

type stubSink struct {
	calls int
	err   error
}

func (s *stubSink) Publish(context.Context, domain.Event) error {
	s.calls++
	return s.err
}

func TestFanOutDeliversToAllAndJoinsErrors(t *testing.T) {
	errA := errors.New("a down")
	first := &stubSink{err: errA}
	second := &stubSink{}
	err := FanOut{first, second}.Publish(context.Background(), domain.Event{})
	if !errors.Is(err, errA) {
		t.Fatalf("expected joined error, got %v", err)
	}
	if first.calls != 1 || second.calls != 1 {
		t.Fatalf("expected both sinks called, got %d %d", first.calls, second.calls)
	}
	if err := (FanOut{second}).Publish(context.Background(), domain.Event{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
