package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const headerKey = "x-event-key"

// RabbitBus publishes to a durable topic exchange and consumes from a queue bound to it.
// Deliveries are acked manually after the handler succeeds. Publishing owns a channel in
// confirm mode; every Subscribe call opens its own channel.
type RabbitBus struct {
	conn         *amqp.Connection
	ch           *amqp.Channel
	exchange     string
	queue        string
	prefetch     int
	callTimeout  time.Duration
	requeueDelay time.Duration
	logger       *zap.Logger
}

// NewRabbitBus dials url and sets up the exchange, the queue and one binding per topic once at startup
func NewRabbitBus(url, exchange, queue string, topics []string, logger *zap.Logger) (*RabbitBus, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	bus := &RabbitBus{
		conn:         conn,
		ch:           ch,
		exchange:     exchange,
		queue:        queue,
		prefetch:     50,
		callTimeout:  10 * time.Second,
		requeueDelay: 2 * time.Second,
		logger:       logger,
	}
	if err := bus.declare(topics); err != nil {
		_ = bus.Close()
		return nil, err
	}
	return bus, nil
}

func (b *RabbitBus) declare(topics []string) error {
	if err := b.ch.ExchangeDeclare(
		b.exchange,
		"topic",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}

	q, err := b.ch.QueueDeclare(
		b.queue,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}

	for _, topic := range topics {
		if err := b.ch.QueueBind(q.Name, topic, b.exchange, false, nil); err != nil {
			return fmt.Errorf("queue bind %s: %w", topic, err)
		}
	}

	if err := b.ch.Confirm(false); err != nil {
		return fmt.Errorf("enable confirm mode: %w", err)
	}
	return nil
}

// Publish sends msg with the topic as routing key and waits for the broker confirm
func (b *RabbitBus) Publish(ctx context.Context, msg Message) error {
	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent, // survive broker restarts
		MessageId:    msg.Key,
		Timestamp:    time.Now().UTC(),
		Headers:      amqp.Table{headerKey: msg.Key},
		Body:         msg.Payload,
	}

	confirm, err := b.ch.PublishWithDeferredConfirmWithContext(ctx, b.exchange, msg.Topic, false, false, pub)
	if err != nil {
		return fmt.Errorf("publish: %w", err)
	}

	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("wait for confirm: %w", err)
	}
	if !acked {
		return errors.New("publish was nacked by the broker")
	}
	return nil
}

// Subscribe consumes the queue on a dedicated channel until ctx is done. Failed deliveries
// are requeued after requeueDelay, malformed ones are dropped.
func (b *RabbitBus) Subscribe(ctx context.Context, h Handler) error {
	ch, err := b.conn.Channel()
	if err != nil {
		return fmt.Errorf("open consumer channel: %w", err)
	}
	defer ch.Close()

	// fair dispatch
	if err := ch.Qos(b.prefetch, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}

	deliveries, err := ch.Consume(
		b.queue,
		"c_"+b.queue,
		false, // manual ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("rabbitmq delivery channel closed")
			}
			b.handle(ctx, h, d)
		}
	}
}

func (b *RabbitBus) handle(ctx context.Context, h Handler, d amqp.Delivery) {
	key, _ := d.Headers[headerKey].(string)
	msg := Message{Topic: d.RoutingKey, Key: key, Payload: d.Body}

	callCtx, cancel := context.WithTimeout(ctx, b.callTimeout)
	err := h.Handle(callCtx, msg)
	cancel()

	if err == nil {
		_ = d.Ack(false)
		return
	}

	requeue := !errors.Is(err, ErrMalformed)
	b.logger.Warn("Handler error",
		zap.String("queue", b.queue),
		zap.String("routing_key", d.RoutingKey),
		zap.Bool("requeue", requeue),
		zap.Error(err),
	)
	// hold the delivery so a persistent failure does not spin through redeliveries
	if requeue {
		sleep(ctx, b.requeueDelay)
	}
	_ = d.Nack(false, requeue)
}

// Close closes the channel and the connection
func (b *RabbitBus) Close() error {
	var errs []error
	if b.ch != nil {
		errs = append(errs, b.ch.Close())
	}
	if b.conn != nil {
		errs = append(errs, b.conn.Close())
	}
	return errors.Join(errs...)
}
