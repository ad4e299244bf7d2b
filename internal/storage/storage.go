// Package storage defines the persistence interface and its implementations.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"meme_bot/internal/model"
)

// ErrNotFound is returned when a key holds no value.
var ErrNotFound = errors.New("not found")

// Storage is the interface for all persistence operations. Every method touches
// a single logical key; none of them needs a cross-key transaction.
type Storage interface {
	// PushItems appends items to the tail of a category pool, resets the pool
	// TTL and returns the new pool length.
	PushItems(ctx context.Context, category model.Category, items []model.Item, ttl time.Duration) (int, error)
	// PopItem atomically removes and returns the head of a category pool.
	// It returns ErrNotFound when the pool is empty or expired.
	PopItem(ctx context.Context, category model.Category) (*model.Item, error)
	PoolLen(ctx context.Context, category model.Category) (int, error)

	// SaveSchedule writes the schedule record and adds the tenant to the
	// membership set.
	SaveSchedule(ctx context.Context, s *model.Schedule) error
	// UpdateSchedule overwrites an existing record without touching
	// membership. It returns ErrNotFound if the record is gone.
	UpdateSchedule(ctx context.Context, s *model.Schedule) error
	GetSchedule(ctx context.Context, tenantID string) (*model.Schedule, error)
	// DeleteSchedule removes the record and the membership entry.
	DeleteSchedule(ctx context.Context, tenantID string) error
	ListScheduledTenants(ctx context.Context) ([]string, error)
	RemoveScheduledTenant(ctx context.Context, tenantID string) error

	// GetHistory returns the turns of a channel, or an empty slice if the
	// history is absent or expired.
	GetHistory(ctx context.Context, tenantID, channelID string) ([]model.Turn, error)
	// SaveHistory replaces the turns of a channel and refreshes its TTL.
	SaveHistory(ctx context.Context, tenantID, channelID string, turns []model.Turn, ttl time.Duration) error

	SetAIChannel(ctx context.Context, tenantID, channelID string) error
	GetAIChannel(ctx context.Context, tenantID string) (string, error)
	ClearAIChannel(ctx context.Context, tenantID string) error

	Close() error
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, model.ErrStoreUnavailable, err)
}
