package storage

import (
	"context"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/sportscave1/task-manager/domain"
)

var errPublisherClosed = errors.New("publisher is closed")

// PublisherConfig tunes an AsyncPublisher.
type PublisherConfig struct {
	Workers        int
	Buffer         int
	PublishTimeout time.Duration
	HandoffTimeout time.Duration
}

// AsyncPublisher hands events to a fixed pool of workers so request handlers
// do not wait on the queue. When the buffer stays full for longer than the
// handoff timeout the event is published inline instead.
type AsyncPublisher struct {
	next   domain.EventSink
	cfg    PublisherConfig
	logger *log.Logger

	jobs   chan domain.Event
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
}

// NewAsyncPublisher starts cfg.Workers goroutines delivering to next.
func NewAsyncPublisher(next domain.EventSink, cfg PublisherConfig, logger *log.Logger) *AsyncPublisher {
	if next == nil {
		panic("storage.NewAsyncPublisher: sink is nil")
	}
	if logger == nil {
		panic("storage.NewAsyncPublisher: logger is nil")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Buffer < 0 {
		cfg.Buffer = 0
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 30 * time.Second
	}

	p := &AsyncPublisher{
		next:   next,
		cfg:    cfg,
		logger: logger,
		jobs:   make(chan domain.Event, cfg.Buffer),
	}
	for i := 0; i < cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	logger.Infof("event publisher started, workers: %d, buffer: %d, timeout: %v, handoff: %v",
		cfg.Workers, cfg.Buffer, cfg.PublishTimeout, cfg.HandoffTimeout)
	return p
}

// Publish queues ev for delivery. It only returns an error when the event had
// to be delivered inline and that delivery failed, or after Close.
func (p *AsyncPublisher) Publish(ctx context.Context, ev domain.Event) error {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return errPublisherClosed
	}
	handed := p.handoff(ev)
	p.mu.RUnlock()
	if handed {
		return nil
	}

	p.logger.Warn("event buffer saturated; publishing inline")
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.PublishTimeout)
	defer cancel()
	return p.next.Publish(pctx, ev)
}

func (p *AsyncPublisher) handoff(ev domain.Event) bool {
	select {
	case p.jobs <- ev:
		return true
	default:
	}
	if p.cfg.HandoffTimeout <= 0 {
		return false
	}

	timer := time.NewTimer(p.cfg.HandoffTimeout)
	defer timer.Stop()
	select {
	case p.jobs <- ev:
		return true
	case <-timer.C:
		return false
	}
}

func (p *AsyncPublisher) worker(id int) {
	defer p.wg.Done()
	for ev := range p.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), p.cfg.PublishTimeout)
		err := p.next.Publish(ctx, ev)
		cancel()
		if err != nil {
			p.logger.WithFields(log.Fields{
				"event":  ev.ID,
				"type":   ev.Type,
				"task":   ev.EntityID,
				"worker": id,
			}).Errorf("publish failed: %v", err)
		}
	}
}

// Close stops accepting events and waits for queued ones to be delivered.
func (p *AsyncPublisher) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()
	p.wg.Wait()
}
