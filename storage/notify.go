package storage

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/sportscave1/task-manager/domain"
)

// Notifier wakes task streams when a user's tasks change. With a Redis client
// changes travel over pub/sub so every instance hears them; without one only
// streams in this process are woken.
type Notifier struct {
	redis   *redis.Client
	channel string
	logger  *log.Logger

	mu       sync.Mutex
	watchers map[string]map[chan struct{}]struct{}
}

// NewNotifier creates a Notifier. client may be nil.
func NewNotifier(client *redis.Client, channel string, logger *log.Logger) *Notifier {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Notifier{
		redis:    client,
		channel:  channel,
		logger:   logger,
		watchers: make(map[string]map[chan struct{}]struct{}),
	}
}

// Publish implements domain.EventSink.
func (n *Notifier) Publish(ctx context.Context, ev domain.Event) error {
	if n.redis == nil {
		n.notify(ev.UserID)
		return nil
	}
	return n.redis.Publish(ctx, n.channel, ev.UserID).Err()
}

// Run relays pub/sub messages to local watchers until ctx is done,
// resubscribing when the channel drops.
func (n *Notifier) Run(ctx context.Context) {
	if n.redis == nil {
		return
	}
	for {
		sub := n.redis.Subscribe(ctx, n.channel)
		ch := sub.Channel()
	recv:
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break recv
				}
				n.notify(msg.Payload)
			}
		}
		_ = sub.Close()
		if ctx.Err() != nil {
			return
		}
		n.logger.Error("task change subscription closed, reconnecting")
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}

// Watch returns a channel that receives a signal after userID's tasks change.
// Signals coalesce; stop must be called once the caller is done.
func (n *Notifier) Watch(userID string) (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	n.mu.Lock()
	if n.watchers[userID] == nil {
		n.watchers[userID] = make(map[chan struct{}]struct{})
	}
	n.watchers[userID][ch] = struct{}{}
	n.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			n.mu.Lock()
			defer n.mu.Unlock()
			cur := n.watchers[userID]
			delete(cur, ch)
			if len(cur) == 0 {
				delete(n.watchers, userID)
			}
		})
	}
}

// notify signals watchers of userID and anyone watching every task.
func (n *Notifier) notify(userID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, owner := range []string{userID, ""} {
		for ch := range n.watchers[owner] {
			select {
			case ch <- struct{}{}:
			default:
			}
		}
		if userID == "" {
			break
		}
	}
}

// FanOut delivers each event to every sink in order.
type FanOut []domain.EventSink

func (f FanOut) Publish(ctx context.Context, ev domain.Event) error {
	var errs []error
	for _, s := range f {
		if err := s.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
