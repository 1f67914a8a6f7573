package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformed marks a message that can never be handled. Consumers drop it instead of redelivering.
var ErrMalformed = errors.New("malformed message")

// Message is a broker-neutral event
type Message struct {
	Topic   string
	Key     string
	Payload []byte
}

// Publisher hands messages to a broker
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
	Close() error
}

// Handler processes a single delivery. It should be idempotent.
// Return nil => ack; return error => redeliver, unless the error wraps ErrMalformed.
type Handler interface {
	Handle(ctx context.Context, msg Message) error
}

// HandlerFunc adapts a function into a Handler
type HandlerFunc func(ctx context.Context, msg Message) error

func (f HandlerFunc) Handle(ctx context.Context, msg Message) error {
	return f(ctx, msg)
}

// Subscriber delivers messages to a handler until ctx is done
type Subscriber interface {
	Subscribe(ctx context.Context, h Handler) error
	Close() error
}

// JSONHandler adapts a typed function into a raw message handler.
// It unmarshals the payload into T and calls HandleFunc(ctx, T).
type JSONHandler[T any] struct {
	HandleFunc func(ctx context.Context, msg T) error
}

func (h JSONHandler[T]) Handle(ctx context.Context, msg Message) error {
	var v T
	if err := json.Unmarshal(msg.Payload, &v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return h.HandleFunc(ctx, v)
}

// Router dispatches messages to the handler registered for their topic.
// Messages on unknown topics are acknowledged and ignored.
type Router struct {
	handlers map[string]Handler
}

// NewRouter creates an empty Router
func NewRouter() *Router {
	return &Router{handlers: make(map[string]Handler)}
}

// Register associates a topic with a handler
func (r *Router) Register(topic string, h Handler) {
	r.handlers[topic] = h
}

// Topics lists the registered topics
func (r *Router) Topics() []string {
	topics := make([]string, 0, len(r.handlers))
	for topic := range r.handlers {
		topics = append(topics, topic)
	}
	return topics
}

func (r *Router) Handle(ctx context.Context, msg Message) error {
	h, ok := r.handlers[msg.Topic]
	if !ok {
		return nil
	}
	return h.Handle(ctx, msg)
}
