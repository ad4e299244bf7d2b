// Package scheduler posts content to tenant destinations on a fixed interval.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"meme_bot/internal/metrics"
	"meme_bot/internal/model"
	"meme_bot/internal/storage"
)

const (
	DefaultTickInterval = time.Minute
	DefaultRetryDelay   = 5 * time.Minute
	DefaultWarmup       = 5 * time.Second

	// firstFireDelay is how long a freshly enabled schedule waits before its
	// first post.
	firstFireDelay = 60 * time.Second
)

// Sender delivers a content item to a destination.
type Sender interface {
	Deliver(ctx context.Context, destination string, item model.Item) error
}

// Content hands out one item of a category at a time.
type Content interface {
	Pop(ctx context.Context, category model.Category) (model.Item, error)
}

// Scheduler fires due auto-post schedules.
type Scheduler struct {
	store   storage.Storage
	content Content
	sender  Sender
	metrics *metrics.Metrics
	log     *slog.Logger

	now        func() time.Time
	tick       time.Duration
	warmup     time.Duration
	retryDelay time.Duration

	running atomic.Bool
}

// New creates a Scheduler with the default tick, warm-up and retry delay.
func New(store storage.Storage, content Content, sender Sender, m *metrics.Metrics, log *slog.Logger) *Scheduler {
	return &Scheduler{
		store:      store,
		content:    content,
		sender:     sender,
		metrics:    m,
		log:        log,
		now:        time.Now,
		tick:       DefaultTickInterval,
		warmup:     DefaultWarmup,
		retryDelay: DefaultRetryDelay,
	}
}

// SetTickInterval overrides the default 1-minute tick.
func (s *Scheduler) SetTickInterval(d time.Duration) {
	if d > 0 {
		s.tick = d
	}
}

// SetRetryDelay overrides the delay applied after a failed post.
func (s *Scheduler) SetRetryDelay(d time.Duration) {
	if d > 0 {
		s.retryDelay = d
	}
}

// Enable creates or replaces the schedule of a tenant. The interval is clamped
// into the supported range and the first post is due a minute from now.
func (s *Scheduler) Enable(ctx context.Context, tenantID, destination string, minutes int, category model.Category) (*model.Schedule, error) {
	if category == "" {
		category = model.CategoryMeme
	}
	sched := &model.Schedule{
		TenantID:        tenantID,
		ChannelID:       destination,
		Category:        category,
		IntervalMinutes: model.ClampInterval(minutes),
		NextFireAt:      s.now().Add(firstFireDelay).UTC(),
	}
	if err := s.store.SaveSchedule(ctx, sched); err != nil {
		return nil, fmt.Errorf("enable auto-post: %w", err)
	}
	s.log.Info("auto-post enabled", "tenant_id", tenantID, "channel_id", destination,
		"interval_minutes", sched.IntervalMinutes, "category", category)
	return sched, nil
}

// Disable removes the schedule of a tenant. Disabling an absent schedule is a
// no-op.
func (s *Scheduler) Disable(ctx context.Context, tenantID string) error {
	if err := s.store.DeleteSchedule(ctx, tenantID); err != nil {
		return fmt.Errorf("disable auto-post: %w", err)
	}
	s.log.Info("auto-post disabled", "tenant_id", tenantID)
	return nil
}

// Status returns the schedule of a tenant and whether it exists.
func (s *Scheduler) Status(ctx context.Context, tenantID string) (model.Schedule, bool, error) {
	sched, err := s.store.GetSchedule(ctx, tenantID)
	if errors.Is(err, storage.ErrNotFound) {
		return model.Schedule{}, false, nil
	}
	if err != nil {
		return model.Schedule{}, false, fmt.Errorf("auto-post status: %w", err)
	}
	return *sched, true, nil
}

// Run ticks once after the warm-up delay and then on every tick interval,
// blocking until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	warmup := time.NewTimer(s.warmup)
	defer warmup.Stop()

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-warmup.C:
			s.Tick(ctx)
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick fires every due schedule once. It returns false without doing anything
// if another tick is still running.
func (s *Scheduler) Tick(ctx context.Context) bool {
	if !s.running.CompareAndSwap(false, true) {
		s.log.Warn("previous tick still running, skipping")
		return false
	}
	defer s.running.Store(false)

	tenants, err := s.store.ListScheduledTenants(ctx)
	if err != nil {
		s.log.Error("list scheduled tenants", "error", err)
		return true
	}

	for _, tenantID := range tenants {
		if ctx.Err() != nil {
			break
		}
		s.processTenant(ctx, tenantID)
	}
	return true
}

func (s *Scheduler) processTenant(ctx context.Context, tenantID string) {
	sched, err := s.store.GetSchedule(ctx, tenantID)
	if errors.Is(err, storage.ErrNotFound) {
		s.log.Warn("schedule record missing, dropping tenant", "tenant_id", tenantID)
		if err := s.store.RemoveScheduledTenant(ctx, tenantID); err != nil {
			s.log.Error("remove scheduled tenant", "tenant_id", tenantID, "error", err)
		}
		return
	}
	if err != nil {
		s.log.Error("load schedule", "tenant_id", tenantID, "error", err)
		return
	}

	now := s.now()
	if now.Before(sched.NextFireAt) {
		return
	}

	if err := s.fire(ctx, sched); err != nil {
		s.metrics.Delivery("failed")
		sched.NextFireAt = now.Add(s.retryDelay).UTC()
		s.log.Warn("auto-post failed", "tenant_id", tenantID, "channel_id", sched.ChannelID,
			"retry_at", sched.NextFireAt, "error", err)
	} else {
		s.metrics.Delivery("ok")
		sched.NextFireAt = now.Add(sched.Interval()).UTC()
		s.log.Debug("auto-post delivered", "tenant_id", tenantID, "channel_id", sched.ChannelID,
			"next_fire_at", sched.NextFireAt)
	}

	err = s.store.UpdateSchedule(ctx, sched)
	if errors.Is(err, storage.ErrNotFound) {
		s.log.Info("schedule disabled during delivery", "tenant_id", tenantID)
		return
	}
	if err != nil {
		s.log.Error("reschedule", "tenant_id", tenantID, "error", err)
	}
}

func (s *Scheduler) fire(ctx context.Context, sched *model.Schedule) error {
	category := sched.Category
	if category == "" {
		category = model.CategoryMeme
	}
	item, err := s.content.Pop(ctx, category)
	if err != nil {
		return err
	}
	if err := s.sender.Deliver(ctx, sched.ChannelID, item); err != nil {
		return err
	}
	return nil
}
