package migrator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/loomhq/loom/apps/server/internal/migrations"
	"github.com/loomhq/loom/pkg/api"
)

// Compile-time check: *RedisBusNotifier implements migrations.MigratorNotifier.
var _ migrations.MigratorNotifier = (*RedisBusNotifier)(nil)

// RedisBusNotifier implements MigratorNotifier by publishing DispatchStepRequest
// on a per-migrator Redis pub/sub channel, <prefix>:<migratorApp>, so each
// migrator subscribes only to its own dispatches. Delivery is at-least-once
// from the workflow's perspective: a dispatch with no subscriber is retried by
// the activity layer.
type RedisBusNotifier struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisBusNotifier creates a notifier publishing on channels under the
// given prefix.
func NewRedisBusNotifier(rdb *redis.Client, prefix string) *RedisBusNotifier {
	return &RedisBusNotifier{rdb: rdb, prefix: prefix}
}

// Channel returns the pub/sub channel dispatches for the given migrator app
// are published on. Migrator subscribers use the same derivation.
func (n *RedisBusNotifier) Channel(migratorApp string) string {
	return n.prefix + ":" + migratorApp
}

// Dispatch publishes the step request as JSON on the owning migrator's channel.
func (n *RedisBusNotifier) Dispatch(ctx context.Context, req api.DispatchStepRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal dispatch request: %w", err)
	}
	if err := n.rdb.Publish(ctx, n.Channel(req.MigratorApp), body).Err(); err != nil {
		return fmt.Errorf("publish dispatch for step %q: %w", req.StepName, err)
	}
	return nil
}
