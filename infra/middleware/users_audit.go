package middleware

import (
	"context"
	"errors"
	"time"

	"users_server/pkg/apperr"
	"users_server/pkg/logger"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const auditStream = "audit:users"

// AuditEvent records one profile mutation made over HTTP.
type AuditEvent struct {
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	ActorID    string    `json:"actor_id,omitempty"`
	ActorRole  string    `json:"actor_role,omitempty"`
	Action     string    `json:"action"`
	ResourceID string    `json:"resource_id,omitempty"`
	Method     string    `json:"method"`
	Route      string    `json:"route"`
	IP         string    `json:"ip"`
	StatusCode int       `json:"status_code"`
	Duration   int64     `json:"duration_ms"`
	RequestID  string    `json:"request_id"`
	Success    bool      `json:"success"`
}

// Auditor writes audit events to a Redis stream. Without Redis the events
// only go to the log.
type Auditor struct {
	redis  *redis.Client
	stream string
	write  func(ctx context.Context, event *AuditEvent) error
}

func NewAuditor(redisClient *redis.Client) *Auditor {
	a := &Auditor{redis: redisClient, stream: auditStream}
	a.write = a.writeStream
	if redisClient == nil {
		logger.Warn("Redis client not provided, audit events are logged only")
		a.write = a.writeLog
	}
	return a
}

func (a *Auditor) writeStream(ctx context.Context, event *AuditEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	return a.redis.XAdd(ctx, &redis.XAddArgs{
		Stream: a.stream,
		Values: map[string]interface{}{
			"event": string(data),
		},
		MaxLen: 100000, // Keep last 100k events
		Approx: true,
	}).Err()
}

func (a *Auditor) writeLog(_ context.Context, event *AuditEvent) error {
	logger.WithFields(map[string]any{
		"audit_id":    event.ID,
		"actor_id":    event.ActorID,
		"action":      event.Action,
		"resource_id": event.ResourceID,
		"status":      event.StatusCode,
	}).Info("audit")
	return nil
}

// Record stamps and stores an event.
func (a *Auditor) Record(ctx context.Context, event *AuditEvent) error {
	event.ID = uuid.NewString()
	event.Timestamp = time.Now().UTC()
	return a.write(ctx, event)
}

// auditActions maps mutating routes to audit actions.
var auditActions = map[string]string{
	fiber.MethodPatch + " /api/users/iam": "profile_update_own",
	fiber.MethodPatch + " /api/users/:id": "profile_update",
}

// AuditMutations records every audited route after it has been served.
func AuditMutations(a *Auditor) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		route := c.Route().Path
		action, ok := auditActions[c.Method()+" "+route]
		if !ok {
			return err
		}

		status := c.Response().StatusCode()
		if err != nil {
			status = errorStatus(err)
		}
		requestID, _ := c.Locals(LocalRequestID).(string)

		// The event outlives the request; fiber strings alias its buffers.
		event := &AuditEvent{
			Action:     action,
			ResourceID: utils.CopyString(c.Params("id")),
			Method:     utils.CopyString(c.Method()),
			Route:      utils.CopyString(route),
			IP:         utils.CopyString(c.IP()),
			StatusCode: status,
			Duration:   time.Since(start).Milliseconds(),
			RequestID:  utils.CopyString(requestID),
			Success:    err == nil && status < 400,
		}
		if identity, ok := GetIdentity(c); ok {
			event.ActorID = identity.ID
			event.ActorRole = string(identity.Role)
			if event.ResourceID == "" {
				event.ResourceID = identity.ID
			}
		}

		// Async logging to not block response
		go func() {
			if logErr := a.Record(context.Background(), event); logErr != nil {
				logger.WithError(logErr).Warn("Failed to record audit event")
			}
		}()

		return err
	}
}

func errorStatus(err error) int {
	var appErr *apperr.AppError
	var fiberErr *fiber.Error
	switch {
	case errors.As(err, &appErr):
		return appErr.Status
	case errors.As(err, &fiberErr):
		return fiberErr.Code
	default:
		return fiber.StatusInternalServerError
	}
}
