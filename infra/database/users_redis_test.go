package database

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewRedis_BadURL(t *testing.T) {
	_, err := NewRedis(context.Background(), "not-a-redis-url")
	assert.ErrorContains(t, err, "invalid REDIS_URL")
}
