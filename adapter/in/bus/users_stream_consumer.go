package bus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"users_server/pkg/metrics"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Stream message field carrying the JSON payload.
const streamDataField = "data"

// DeadLetterStream returns the dead letter stream for a stream.
func DeadLetterStream(stream string) string {
	return "dlq:" + stream
}

// StreamConfig holds Redis Streams consumer configuration. Each routing
// key is read from the stream of the same name.
type StreamConfig struct {
	Group    string
	Consumer string
	Streams  []string
	Logger   zerolog.Logger
	Metrics  metrics.Recorder

	HandlerTimeout time.Duration

	// Optional: pending reclaim settings
	PendingCheckInterval time.Duration
	PendingIdleTime      time.Duration
	MaxRetries           int
}

// StreamConsumer consumes events from Redis Streams through a consumer group.
type StreamConsumer struct {
	client     *redis.Client
	dispatcher Dispatcher
	group      string
	consumer   string
	streams    []string
	log        zerolog.Logger
	metrics    metrics.Recorder

	handlerTimeout       time.Duration
	pendingCheckInterval time.Duration
	pendingIdleTime      time.Duration
	maxRetries           int
}

// NewStreamConsumer creates a new StreamConsumer.
func NewStreamConsumer(client *redis.Client, dispatcher Dispatcher, cfg StreamConfig) *StreamConsumer {
	pendingCheckInterval := cfg.PendingCheckInterval
	if pendingCheckInterval == 0 {
		pendingCheckInterval = 30 * time.Second
	}

	pendingIdleTime := cfg.PendingIdleTime
	if pendingIdleTime == 0 {
		pendingIdleTime = 2 * time.Minute
	}

	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 3
	}

	handlerTimeout := cfg.HandlerTimeout
	if handlerTimeout == 0 {
		handlerTimeout = 10 * time.Second
	}

	rec := cfg.Metrics
	if rec == nil {
		rec = metrics.Nop{}
	}

	return &StreamConsumer{
		client:               client,
		dispatcher:           dispatcher,
		group:                cfg.Group,
		consumer:             cfg.Consumer,
		streams:              cfg.Streams,
		log:                  cfg.Logger.With().Str("component", "stream_consumer").Logger(),
		metrics:              rec,
		handlerTimeout:       handlerTimeout,
		pendingCheckInterval: pendingCheckInterval,
		pendingIdleTime:      pendingIdleTime,
		maxRetries:           maxRetries,
	}
}

// Run starts consuming messages.
func (c *StreamConsumer) Run(ctx context.Context) error {
	c.log.Info().
		Str("group", c.group).
		Str("consumer", c.consumer).
		Strs("streams", c.streams).
		Msg("starting consumer")

	for _, stream := range c.streams {
		c.createConsumerGroup(ctx, stream)
	}

	go c.processPendingMessages(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		result, err := c.readMessages(ctx)
		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			c.log.Error().Err(err).Msg("error reading from streams")
			time.Sleep(time.Second)
			continue
		}

		for _, stream := range result {
			for _, msg := range stream.Messages {
				if err := c.processMessage(ctx, stream.Stream, msg); err != nil {
					// Left pending for the reclaim loop.
					c.log.Error().
						Err(err).
						Str("stream", stream.Stream).
						Str("id", msg.ID).
						Msg("error processing message")
					continue
				}
				c.ack(ctx, stream.Stream, msg.ID)
			}
		}
	}
}

// Ping checks the Redis connection.
func (c *StreamConsumer) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *StreamConsumer) ack(ctx context.Context, stream, id string) {
	if err := c.client.XAck(ctx, stream, c.group, id).Err(); err != nil {
		c.log.Error().
			Err(err).
			Str("stream", stream).
			Str("id", id).
			Msg("error acknowledging message")
	}
}

// processPendingMessages periodically reclaims stuck pending messages.
func (c *StreamConsumer) processPendingMessages(ctx context.Context) {
	ticker := time.NewTicker(c.pendingCheckInterval)
	defer ticker.Stop()

	c.log.Info().
		Dur("check_interval", c.pendingCheckInterval).
		Dur("idle_time", c.pendingIdleTime).
		Int("max_retries", c.maxRetries).
		Msg("starting pending message processor")

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.claimAndProcessPending(ctx)
		}
	}
}

// claimAndProcessPending claims messages idle past pendingIdleTime and
// retries them, moving them to the dead letter stream after maxRetries.
func (c *StreamConsumer) claimAndProcessPending(ctx context.Context) {
	for _, stream := range c.streams {
		pending, err := c.client.XPendingExt(ctx, &redis.XPendingExtArgs{
			Stream: stream,
			Group:  c.group,
			Start:  "-",
			End:    "+",
			Count:  100,
		}).Result()
		if err != nil {
			if !errors.Is(err, redis.Nil) {
				c.log.Error().Err(err).Str("stream", stream).Msg("error getting pending messages")
			}
			continue
		}

		for _, p := range pending {
			if p.Idle < c.pendingIdleTime {
				continue
			}

			if int(p.RetryCount) >= c.maxRetries {
				c.log.Warn().
					Str("stream", stream).
					Str("id", p.ID).
					Int64("retries", p.RetryCount).
					Msg("message exceeded max retries, moving to DLQ")

				if err := c.moveToDeadLetterQueue(ctx, stream, p.ID); err != nil {
					c.log.Error().Err(err).Str("id", p.ID).Msg("error moving message to DLQ")
					continue
				}
				c.ack(ctx, stream, p.ID)
				continue
			}

			claimed, err := c.client.XClaim(ctx, &redis.XClaimArgs{
				Stream:   stream,
				Group:    c.group,
				Consumer: c.consumer,
				MinIdle:  c.pendingIdleTime,
				Messages: []string{p.ID},
			}).Result()
			if err != nil {
				c.log.Error().Err(err).Str("id", p.ID).Msg("error claiming message")
				continue
			}

			for _, msg := range claimed {
				if err := c.processMessage(ctx, stream, msg); err != nil {
					c.log.Error().
						Err(err).
						Str("stream", stream).
						Str("id", msg.ID).
						Msg("error reprocessing pending message")
					continue
				}
				c.ack(ctx, stream, msg.ID)
			}
		}
	}
}

// createConsumerGroup creates a consumer group if it doesn't exist.
func (c *StreamConsumer) createConsumerGroup(ctx context.Context, stream string) {
	err := c.client.XGroupCreateMkStream(ctx, stream, c.group, "0").Err()
	if err != nil && err.Error() != "BUSYGROUP Consumer Group name already exists" {
		c.log.Warn().Err(err).Str("stream", stream).Msg("error creating consumer group")
	}
}

// readMessages reads messages from all streams using XREADGROUP.
func (c *StreamConsumer) readMessages(ctx context.Context) ([]redis.XStream, error) {
	if len(c.streams) == 0 {
		return nil, redis.Nil
	}

	args := make([]string, len(c.streams)*2)
	for i, stream := range c.streams {
		args[i] = stream
		args[len(c.streams)+i] = ">"
	}

	return c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.group,
		Consumer: c.consumer,
		Streams:  args,
		Count:    10,
		Block:    5 * time.Second,
	}).Result()
}

// processMessage dispatches one message. A nil return means the message
// is settled and may be acknowledged; permanent failures are logged and
// settled too.
func (c *StreamConsumer) processMessage(ctx context.Context, stream string, msg redis.XMessage) error {
	body, err := messageData(msg)
	if err != nil {
		// Malformed envelopes can never succeed.
		c.log.Warn().Err(err).Str("stream", stream).Str("id", msg.ID).Msg("dropping message")
		c.metrics.RecordEvent(stream, metrics.OutcomeInvalid, 0)
		return nil
	}

	start := time.Now()
	hctx, cancel := context.WithTimeout(ctx, c.handlerTimeout)
	defer cancel()

	_, err = c.dispatcher.Dispatch(hctx, stream, body)
	outcome := Outcome(err)
	c.metrics.RecordEvent(stream, outcome, time.Since(start))

	switch {
	case err == nil:
		c.log.Debug().Str("stream", stream).Str("id", msg.ID).Msg("event processed")
		return nil
	case IsPermanent(err):
		c.log.Warn().
			Err(err).
			Str("stream", stream).
			Str("id", msg.ID).
			Str("outcome", outcome).
			Msg("event rejected")
		return nil
	default:
		return err
	}
}

func messageData(msg redis.XMessage) ([]byte, error) {
	data, ok := msg.Values[streamDataField]
	if !ok {
		return nil, fmt.Errorf("invalid message format: missing %s field", streamDataField)
	}

	dataStr, ok := data.(string)
	if !ok {
		return nil, fmt.Errorf("invalid message format: %s is not a string", streamDataField)
	}
	return []byte(dataStr), nil
}

// moveToDeadLetterQueue copies a failed message to its dead letter stream.
func (c *StreamConsumer) moveToDeadLetterQueue(ctx context.Context, stream string, msgID string) error {
	messages, err := c.client.XRange(ctx, stream, msgID, msgID).Result()
	if err != nil {
		return fmt.Errorf("failed to read message for DLQ: %w", err)
	}

	if len(messages) == 0 {
		return fmt.Errorf("message %s not found in stream %s", msgID, stream)
	}

	dlqStream := DeadLetterStream(stream)
	_, err = c.client.XAdd(ctx, &redis.XAddArgs{
		Stream: dlqStream,
		Values: deadLetterValues(stream, c.group, c.consumer, messages[0], time.Now()),
	}).Result()
	if err != nil {
		return fmt.Errorf("failed to add message to DLQ: %w", err)
	}

	c.log.Info().
		Str("dlq_stream", dlqStream).
		Str("original_stream", stream).
		Str("original_id", msgID).
		Msg("message moved to DLQ")

	return nil
}

func deadLetterValues(stream, group, consumer string, msg redis.XMessage, failedAt time.Time) map[string]interface{} {
	values := map[string]interface{}{
		"original_stream": stream,
		"original_id":     msg.ID,
		"failed_at":       failedAt.UTC().Format(time.RFC3339),
		"consumer":        consumer,
		"group":           group,
	}
	for k, v := range msg.Values {
		values["original_"+k] = v
	}
	return values
}
