package bus

import (
	"errors"
	"fmt"
	"testing"

	"users_server/pkg/apperr"
	"users_server/pkg/metrics"

	"github.com/stretchr/testify/assert"
)

func TestPolicy(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		permanent   bool
		outcome     string
		first, next settlement
	}{
		{"ok", nil, false, metrics.OutcomeOK, settleAck, settleAck},
		{"validation", apperr.Violations([]string{"userId must be a string"}), true, metrics.OutcomeInvalid, settleAck, settleAck},
		{"not found", fmt.Errorf("delete profile: %w", apperr.NotFound("user")), true, metrics.OutcomeNotFound, settleAck, settleAck},
		{"conflict", apperr.Conflict("dup"), true, metrics.OutcomeConflict, settleAck, settleAck},
		{"unknown key", apperr.BadRequest("unknown routing key: x"), true, metrics.OutcomeInvalid, settleAck, settleAck},
		{"store down", apperr.DatabaseError("insert", errors.New("reset")), false, metrics.OutcomeFailed, settleRequeue, settleReject},
		{"breaker open", apperr.Unavailable("mongodb", nil), false, metrics.OutcomeFailed, settleRequeue, settleReject},
		{"plain error", errors.New("boom"), false, metrics.OutcomeFailed, settleRequeue, settleReject},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.permanent, IsPermanent(tt.err))
			assert.Equal(t, tt.outcome, Outcome(tt.err))
			assert.Equal(t, tt.first, settle(tt.err, false))
			assert.Equal(t, tt.next, settle(tt.err, true))
		})
	}
}
