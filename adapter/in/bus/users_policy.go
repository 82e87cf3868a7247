// Package bus delivers identity lifecycle events from RabbitMQ or Redis
// Streams to the event handler.
package bus

import (
	"context"

	"users_server/core/domain"
	"users_server/pkg/apperr"
	"users_server/pkg/metrics"
)

// Dispatcher handles one event body for a routing key.
type Dispatcher interface {
	Dispatch(ctx context.Context, routingKey string, body []byte) (*domain.UserProfile, error)
}

// IsPermanent reports whether redelivering the same message cannot help.
// Any application error with a 4xx status is permanent.
func IsPermanent(err error) bool {
	return err != nil && apperr.IsClientError(err)
}

// Outcome classifies a dispatch result for metrics and logs.
func Outcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeOK
	case apperr.HasCode(err, apperr.CodeNotFound):
		return metrics.OutcomeNotFound
	case apperr.HasCode(err, apperr.CodeConflict):
		return metrics.OutcomeConflict
	case IsPermanent(err):
		return metrics.OutcomeInvalid
	default:
		return metrics.OutcomeFailed
	}
}

// settlement is what the transport does with a delivery after dispatch.
type settlement int

const (
	settleAck settlement = iota
	settleRequeue
	settleReject
)

func (s settlement) String() string {
	switch s {
	case settleAck:
		return "ack"
	case settleRequeue:
		return "requeue"
	default:
		return "reject"
	}
}

// settle acks successes and permanent failures. A transient failure is
// requeued once; a failed redelivery is rejected.
func settle(err error, redelivered bool) settlement {
	if err == nil || IsPermanent(err) {
		return settleAck
	}
	if redelivered {
		return settleReject
	}
	return settleRequeue
}
