package events

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

var (
	// ErrClosed is returned when publishing to a closed bus
	ErrClosed = errors.New("event bus closed")
	// ErrNoSubscriber is returned by MemoryBus.Publish while no handler is subscribed
	ErrNoSubscriber = errors.New("no subscriber")
)

// MemoryBus is an in-process publisher and subscriber. Publish runs the subscribed
// handler on the caller's goroutine and returns its error, so the outbox relay only
// marks an event sent once it has been handled. Malformed messages are dropped.
type MemoryBus struct {
	mu      sync.RWMutex
	handler Handler
	done    chan struct{}
	once    sync.Once
	logger  *zap.Logger
}

// NewMemoryBus creates an empty bus
func NewMemoryBus(logger *zap.Logger) *MemoryBus {
	return &MemoryBus{
		done:   make(chan struct{}),
		logger: logger,
	}
}

// Publish hands msg to the subscribed handler and waits for the result
func (b *MemoryBus) Publish(ctx context.Context, msg Message) error {
	select {
	case <-b.done:
		return ErrClosed
	default:
	}

	b.mu.RLock()
	h := b.handler
	b.mu.RUnlock()
	if h == nil {
		return ErrNoSubscriber
	}

	err := h.Handle(ctx, msg)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrMalformed):
		b.logger.Error("Dropping malformed message",
			zap.String("topic", msg.Topic),
			zap.String("key", msg.Key),
			zap.Error(err),
		)
		return nil
	default:
		return fmt.Errorf("handler failed for %s: %w", msg.Topic, err)
	}
}

// Subscribe installs h and blocks until ctx is done or the bus is closed.
// Only one handler may be subscribed at a time.
func (b *MemoryBus) Subscribe(ctx context.Context, h Handler) error {
	b.mu.Lock()
	if b.handler != nil {
		b.mu.Unlock()
		return errors.New("memory bus already has a subscriber")
	}
	b.handler = h
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		b.handler = nil
		b.mu.Unlock()
	}()

	select {
	case <-ctx.Done():
	case <-b.done:
	}
	return nil
}

// Close stops subscribers and rejects further publishes
func (b *MemoryBus) Close() error {
	b.once.Do(func() { close(b.done) })
	return nil
}
