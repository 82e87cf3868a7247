package bus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"users_server/core/domain"
	"users_server/core/port/in"
	"users_server/pkg/apperr"
	"users_server/pkg/metrics"

	"github.com/go-pkgz/pool"
	"github.com/goccy/go-json"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// RPC error reply headers.
const (
	HeaderError      = "-x-error"
	HeaderType       = "-x-type"
	HeaderStatusCode = "-x-status-code"

	errorTypeRMQ = "RMQ"
)

var errNotConnected = errors.New("amqp: not connected")

// AMQPConfig holds RabbitMQ consumer configuration.
type AMQPConfig struct {
	URL         string
	Exchange    string
	Queue       string
	ConsumerTag string
	RoutingKeys []string

	Prefetch       int
	Workers        int
	HandlerTimeout time.Duration

	Logger  zerolog.Logger
	Metrics metrics.Recorder
}

// AMQPConsumer consumes events from a durable queue bound to a topic
// exchange. Deliveries are processed by a worker group and acknowledged
// manually.
type AMQPConsumer struct {
	cfg        AMQPConfig
	dispatcher Dispatcher
	log        zerolog.Logger
	metrics    metrics.Recorder

	conn    *amqp.Connection
	ch      *amqp.Channel
	publish replyPublisher
}

// replyPublisher sends an RPC reply to the default exchange.
type replyPublisher func(ctx context.Context, replyTo string, msg amqp.Publishing) error

// NewAMQPConsumer creates a new AMQPConsumer.
func NewAMQPConsumer(dispatcher Dispatcher, cfg AMQPConfig) *AMQPConsumer {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = cfg.Workers * 4
	}
	if cfg.HandlerTimeout <= 0 {
		cfg.HandlerTimeout = 10 * time.Second
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Nop{}
	}

	return &AMQPConsumer{
		cfg:        cfg,
		dispatcher: dispatcher,
		log:        cfg.Logger.With().Str("component", "amqp_consumer").Logger(),
		metrics:    cfg.Metrics,
	}
}

// Connect dials the broker and declares the exchange, queue and bindings.
func (c *AMQPConsumer) Connect() error {
	conn, err := amqp.Dial(c.cfg.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open a channel: %w", err)
	}

	if err := c.declare(ch); err != nil {
		ch.Close()
		conn.Close()
		return err
	}

	c.conn, c.ch = conn, ch
	c.publish = func(ctx context.Context, replyTo string, msg amqp.Publishing) error {
		return ch.PublishWithContext(ctx, "", replyTo, false, false, msg)
	}
	return nil
}

func (c *AMQPConsumer) declare(ch *amqp.Channel) error {
	if err := ch.Qos(c.cfg.Prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	err := ch.ExchangeDeclare(
		c.cfg.Exchange,
		amqp.ExchangeTopic,
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to declare exchange %s: %w", c.cfg.Exchange, err)
	}

	q, err := ch.QueueDeclare(
		c.cfg.Queue,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", c.cfg.Queue, err)
	}

	for _, key := range c.cfg.RoutingKeys {
		if err := ch.QueueBind(q.Name, key, c.cfg.Exchange, false, nil); err != nil {
			return fmt.Errorf("failed to bind %s to %s: %w", key, q.Name, err)
		}
	}
	return nil
}

// Run consumes until ctx is cancelled or the broker closes the channel.
// In-flight deliveries are finished before Run returns.
func (c *AMQPConsumer) Run(ctx context.Context) error {
	if c.ch == nil {
		return errNotConnected
	}

	deliveries, err := c.ch.Consume(
		c.cfg.Queue,
		c.cfg.ConsumerTag,
		false, // manual ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	// Workers run on a detached context so shutdown drains instead of
	// abandoning half-processed deliveries.
	workers := pool.New[amqp.Delivery](c.cfg.Workers, &deliveryWorker{consumer: c}).
		WithBatchSize(1).
		WithWorkerChanSize(1).
		WithContinueOnError()
	if err := workers.Go(context.WithoutCancel(ctx)); err != nil {
		return fmt.Errorf("failed to start worker group: %w", err)
	}

	c.log.Info().
		Str("exchange", c.cfg.Exchange).
		Str("queue", c.cfg.Queue).
		Strs("routing_keys", c.cfg.RoutingKeys).
		Int("workers", c.cfg.Workers).
		Msg("starting consumer")

	runErr := c.pump(ctx, deliveries, workers.Submit)

	closeCtx, cancel := context.WithTimeout(context.Background(), c.cfg.HandlerTimeout+5*time.Second)
	defer cancel()
	if err := workers.Close(closeCtx); err != nil {
		c.log.Warn().Err(err).Msg("worker group did not drain cleanly")
	}
	return runErr
}

func (c *AMQPConsumer) pump(ctx context.Context, deliveries <-chan amqp.Delivery, submit func(amqp.Delivery)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("amqp: delivery channel closed")
			}
			submit(d)
		}
	}
}

// deliveryWorker implements pool.Worker for AMQP deliveries.
type deliveryWorker struct {
	consumer *AMQPConsumer
}

// Do implements pool.Worker interface.
func (w *deliveryWorker) Do(ctx context.Context, d amqp.Delivery) error {
	w.consumer.handle(ctx, d)
	return nil
}

func (c *AMQPConsumer) handle(ctx context.Context, d amqp.Delivery) {
	start := time.Now()
	hctx, cancel := context.WithTimeout(ctx, c.cfg.HandlerTimeout)
	defer cancel()

	profile, err := c.dispatcher.Dispatch(hctx, d.RoutingKey, d.Body)
	outcome := Outcome(err)
	c.metrics.RecordEvent(d.RoutingKey, outcome, time.Since(start))

	action := settle(err, d.Redelivered)
	log := c.log.With().
		Str("routing_key", d.RoutingKey).
		Str("correlation_id", d.CorrelationId).
		Str("outcome", outcome).
		Str("action", action.String()).
		Logger()

	switch {
	case err == nil:
		log.Debug().Msg("event processed")
	case outcome == metrics.OutcomeNotFound:
		log.Warn().Err(err).Msg("event target not found, nothing to do")
	case action == settleAck:
		log.Warn().Err(err).Msg("event rejected")
	default:
		log.Error().Err(err).Msg("event failed")
	}

	// A requeued delivery will be answered on its redelivery.
	if d.ReplyTo != "" && action != settleRequeue {
		c.reply(ctx, d, profile, err)
	}

	var ackErr error
	switch action {
	case settleAck:
		ackErr = d.Ack(false)
	case settleRequeue:
		ackErr = d.Nack(false, true)
	case settleReject:
		ackErr = d.Nack(false, false)
	}
	if ackErr != nil {
		log.Error().Err(ackErr).Msg("error acknowledging message")
	}
}

func (c *AMQPConsumer) reply(ctx context.Context, d amqp.Delivery, profile *domain.UserProfile, dispatchErr error) {
	msg, err := buildReply(d.CorrelationId, profile, dispatchErr)
	if err != nil {
		c.log.Error().Err(err).Str("correlation_id", d.CorrelationId).Msg("error building reply")
		return
	}

	if c.publish == nil {
		c.log.Error().Err(errNotConnected).Str("reply_to", d.ReplyTo).Msg("error publishing reply")
		return
	}

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := c.publish(pctx, d.ReplyTo, msg); err != nil {
		c.log.Error().Err(err).Str("reply_to", d.ReplyTo).Msg("error publishing reply")
	}
}

// buildReply renders an RPC reply: the profile on success, error headers
// and an empty body on failure.
func buildReply(correlationID string, profile *domain.UserProfile, dispatchErr error) (amqp.Publishing, error) {
	msg := amqp.Publishing{
		ContentType:   "application/json",
		CorrelationId: correlationID,
		Timestamp:     time.Now().UTC(),
	}

	if dispatchErr != nil {
		appErr := apperr.AsAppError(dispatchErr)
		msg.Headers = amqp.Table{
			HeaderError:      appErr.Message,
			HeaderType:       errorTypeRMQ,
			HeaderStatusCode: int32(appErr.Status),
		}
		return msg, nil
	}

	body, err := json.Marshal(in.NewProfileResponse(profile))
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("failed to marshal reply: %w", err)
	}
	msg.Body = body
	return msg, nil
}

// Ping reports whether the broker connection is open.
func (c *AMQPConsumer) Ping(_ context.Context) error {
	if c.conn == nil || c.conn.IsClosed() {
		return errNotConnected
	}
	return nil
}

// Close closes the channel and the connection.
func (c *AMQPConsumer) Close() error {
	var errs []error
	if c.ch != nil {
		errs = append(errs, c.ch.Close())
	}
	if c.conn != nil {
		errs = append(errs, c.conn.Close())
	}
	return errors.Join(errs...)
}
