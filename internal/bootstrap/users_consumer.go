package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"users_server/adapter/in/bus"
	"users_server/adapter/in/event"
	"users_server/config"
	"users_server/pkg/logger"

	"github.com/rs/zerolog"
)

const consumerStopTimeout = 30 * time.Second

// busRunner is a bus transport.
type busRunner interface {
	Run(ctx context.Context) error
	Ping(ctx context.Context) error
}

// Consumer runs the configured bus transport against the event handler.
type Consumer struct {
	runner busRunner
	close  func() error
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	zlog   zerolog.Logger
}

func NewConsumer(deps *Dependencies) (*Consumer, error) {
	cfg := deps.Config
	zlog := logger.Zerolog("consumer")
	handler := event.NewHandler(deps.ProfileService)

	c := &Consumer{zlog: zlog, close: func() error { return nil }}
	c.ctx, c.cancel = context.WithCancel(context.Background())

	switch cfg.BusDriver {
	case config.BusDriverAMQP:
		amqpConsumer := bus.NewAMQPConsumer(handler, bus.AMQPConfig{
			URL:            cfg.AMQPURL(),
			Exchange:       cfg.RMQExchangeName,
			Queue:          cfg.RMQQueueName,
			ConsumerTag:    cfg.RMQServiceName + "-" + cfg.ConsumerID,
			RoutingKeys:    event.RoutingKeys,
			Prefetch:       cfg.RMQPrefetch,
			Workers:        cfg.BusWorkers,
			HandlerTimeout: cfg.BusHandlerTimeout,
			Logger:         zlog,
			Metrics:        deps.Metrics,
		})
		if err := amqpConsumer.Connect(); err != nil {
			c.cancel()
			return nil, err
		}
		c.runner = amqpConsumer
		c.close = amqpConsumer.Close

	case config.BusDriverRedis:
		if deps.Redis == nil {
			c.cancel()
			return nil, errors.New("redis bus requires REDIS_URL")
		}
		c.runner = bus.NewStreamConsumer(deps.Redis, handler, bus.StreamConfig{
			Group:                cfg.ConsumerGroup,
			Consumer:             cfg.ConsumerID,
			Streams:              event.RoutingKeys,
			Logger:               zlog,
			Metrics:              deps.Metrics,
			HandlerTimeout:       cfg.BusHandlerTimeout,
			PendingCheckInterval: time.Duration(cfg.ConsumerPendingCheckSec) * time.Second,
			MaxRetries:           cfg.ConsumerMaxRetries,
		})

	default:
		c.cancel()
		return nil, fmt.Errorf("unknown bus driver %q", cfg.BusDriver)
	}

	// Released by Start, so a Stop that races ahead of Start still waits.
	c.wg.Add(1)
	zlog.Info().Str("driver", cfg.BusDriver).Msg("bus consumer configured")
	return c, nil
}

// Start blocks until Stop is called or the transport fails. It must be
// called exactly once.
func (c *Consumer) Start() error {
	defer c.wg.Done()
	if c.ctx.Err() != nil {
		return nil
	}

	err := c.runner.Run(c.ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Stop cancels consumption and waits for in-flight events.
func (c *Consumer) Stop() {
	c.cancel()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(consumerStopTimeout):
		c.zlog.Warn().Msg("consumer stop timed out")
	}

	if err := c.close(); err != nil {
		c.zlog.Warn().Err(err).Msg("error closing bus connection")
	}
}

func (c *Consumer) Ping(ctx context.Context) error {
	return c.runner.Ping(ctx)
}
