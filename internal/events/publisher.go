package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"fintrack/internal/api"
	"fintrack/internal/log"
)

const (
	defaultQueueSize = 64
	flushTimeout     = 5 * time.Second
)

// EventPublisher is the part of Client the Publisher needs.
type EventPublisher interface {
	Publish(ctx context.Context, e *SessionEvent) error
}

// Publisher turns session transitions into events. It satisfies the
// gateway's LogoutNotifier, so a forced logout reaches every subscriber.
//
// Events are queued and sent by a single goroutine, so a slow or unreachable
// broker never holds up the caller. When the queue is full the event is
// dropped and logged.
type Publisher struct {
	events EventPublisher
	host   string
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan *SessionEvent
	done   chan struct{}
}

func NewPublisher(events EventPublisher, logger *slog.Logger) *Publisher {
	return newPublisher(events, logger, defaultQueueSize)
}

func newPublisher(events EventPublisher, logger *slog.Logger, size int) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	host, _ := os.Hostname()
	p := &Publisher{
		events: events,
		host:   host,
		logger: logger,
		queue:  make(chan *SessionEvent, size),
		done:   make(chan struct{}),
	}
	go p.run()
	return p
}

// SessionEnded implements gateway.LogoutNotifier.
func (p *Publisher) SessionEnded(ctx context.Context, reason error) {
	t := SessionEnded
	if errors.Is(reason, api.ErrSignedOut) {
		t = SignedOut
	}
	msg := ""
	if reason != nil {
		msg = reason.Error()
	}
	p.enqueue(ctx, NewSessionEvent(t, msg))
}

// SignedIn announces a fresh login.
func (p *Publisher) SignedIn(ctx context.Context, username string) {
	e := NewSessionEvent(SignedIn, "")
	e.Username = username
	p.enqueue(ctx, e)
}

// Close stops accepting events and waits up to flushTimeout for the queued
// ones to go out.
func (p *Publisher) Close() error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()

	select {
	case <-p.done:
		return nil
	case <-time.After(flushTimeout):
		return fmt.Errorf("flush session events: %d left unsent", len(p.queue))
	}
}

func (p *Publisher) enqueue(ctx context.Context, e *SessionEvent) {
	e.Host = p.host

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		p.logger.WarnContext(ctx, "Session event after close, dropped", "type", e.Type)
		return
	}
	select {
	case p.queue <- e:
	default:
		p.logger.WarnContext(ctx, "Session event queue full, dropped",
			log.FieldOperation, log.OpPublish,
			"type", e.Type)
	}
}

func (p *Publisher) run() {
	defer close(p.done)
	for e := range p.queue {
		if err := p.events.Publish(context.Background(), e); err != nil {
			p.logger.Warn("Failed to publish session event",
				log.FieldOperation, log.OpPublish,
				"type", e.Type,
				log.FieldError, err.Error())
		}
	}
}
