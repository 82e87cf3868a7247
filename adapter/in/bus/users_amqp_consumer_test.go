package bus

import (
	"context"
	"sync"
	"testing"
	"time"

	"users_server/core/domain"
	"users_server/pkg/apperr"
	"users_server/pkg/metrics"

	"github.com/goccy/go-json"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const aliceID = "507f1f77bcf86cd799439011"

type stubDispatcher struct {
	profile *domain.UserProfile
	err     error
	keys    []string
}

func (s *stubDispatcher) Dispatch(_ context.Context, routingKey string, _ []byte) (*domain.UserProfile, error) {
	s.keys = append(s.keys, routingKey)
	return s.profile, s.err
}

type ackCall struct {
	method  string
	requeue bool
}

type fakeAcknowledger struct {
	mu    sync.Mutex
	calls []ackCall
}

func (a *fakeAcknowledger) Ack(uint64, bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, ackCall{method: "ack"})
	return nil
}

func (a *fakeAcknowledger) Nack(_ uint64, _ bool, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, ackCall{method: "nack", requeue: requeue})
	return nil
}

func (a *fakeAcknowledger) Reject(_ uint64, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, ackCall{method: "reject", requeue: requeue})
	return nil
}

type sentReply struct {
	replyTo string
	msg     amqp.Publishing
}

func newTestConsumer(d Dispatcher) (*AMQPConsumer, *[]sentReply) {
	c := NewAMQPConsumer(d, AMQPConfig{Logger: zerolog.Nop(), HandlerTimeout: time.Second})
	var sent []sentReply
	c.publish = func(_ context.Context, replyTo string, msg amqp.Publishing) error {
		sent = append(sent, sentReply{replyTo, msg})
		return nil
	}
	return c, &sent
}

func TestBuildReply_Success(t *testing.T) {
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	msg, err := buildReply("corr-1", &domain.UserProfile{ID: aliceID, Email: "alice@mail.com", CreatedAt: ts, UpdatedAt: ts}, nil)
	require.NoError(t, err)

	assert.Equal(t, "corr-1", msg.CorrelationId)
	assert.Equal(t, "application/json", msg.ContentType)
	assert.Nil(t, msg.Headers)

	var body map[string]any
	require.NoError(t, json.Unmarshal(msg.Body, &body))
	assert.Equal(t, aliceID, body["_id"])
	assert.Equal(t, "alice@mail.com", body["email"])
}

func TestBuildReply_Error(t *testing.T) {
	msg, err := buildReply("corr-2", nil, apperr.Violations([]string{"userId must be a mongodb id", "userId must be a string"}))
	require.NoError(t, err)

	assert.Empty(t, msg.Body)
	assert.Equal(t, amqp.Table{
		HeaderError:      "userId must be a mongodb id; userId must be a string",
		HeaderType:       "RMQ",
		HeaderStatusCode: int32(400),
	}, msg.Headers)
}

func TestAMQPConsumer_Handle(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		redelivered bool
		replyTo     string
		wantAck     ackCall
		wantReplies int
	}{
		{"success with reply", nil, false, "amq.rabbitmq.reply-to", ackCall{method: "ack"}, 1},
		{"success without reply", nil, false, "", ackCall{method: "ack"}, 0},
		{"not found is settled", apperr.NotFound("user"), false, "", ackCall{method: "ack"}, 0},
		{"conflict is settled with reply", apperr.Conflict("dup"), false, "reply-q", ackCall{method: "ack"}, 1},
		{"transient is requeued without reply", apperr.DatabaseError("insert", nil), false, "reply-q", ackCall{method: "nack", requeue: true}, 0},
		{"transient redelivery is dropped", apperr.DatabaseError("insert", nil), true, "reply-q", ackCall{method: "nack"}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dispatcher := &stubDispatcher{profile: &domain.UserProfile{ID: aliceID}, err: tt.err}
			if tt.err != nil {
				dispatcher.profile = nil
			}
			c, sent := newTestConsumer(dispatcher)
			ack := &fakeAcknowledger{}

			c.handle(context.Background(), amqp.Delivery{
				Acknowledger:  ack,
				RoutingKey:    "user.created",
				ReplyTo:       tt.replyTo,
				CorrelationId: "corr",
				Redelivered:   tt.redelivered,
				Body:          []byte(`{}`),
			})

			assert.Equal(t, []ackCall{tt.wantAck}, ack.calls)
			assert.Len(t, *sent, tt.wantReplies)
			assert.Equal(t, []string{"user.created"}, dispatcher.keys)
		})
	}
}

func TestAMQPConsumer_PumpStops(t *testing.T) {
	c, _ := newTestConsumer(&stubDispatcher{})

	deliveries := make(chan amqp.Delivery, 2)
	deliveries <- amqp.Delivery{RoutingKey: "user.deleted"}
	close(deliveries)

	var submitted []amqp.Delivery
	err := c.pump(context.Background(), deliveries, func(d amqp.Delivery) { submitted = append(submitted, d) })
	assert.Error(t, err)
	assert.Len(t, submitted, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = c.pump(ctx, make(chan amqp.Delivery), func(amqp.Delivery) {})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAMQPConsumer_NotConnected(t *testing.T) {
	c := NewAMQPConsumer(&stubDispatcher{}, AMQPConfig{Metrics: metrics.Nop{}})
	assert.ErrorIs(t, c.Run(context.Background()), errNotConnected)
	assert.ErrorIs(t, c.Ping(context.Background()), errNotConnected)
	assert.NoError(t, c.Close())
}
