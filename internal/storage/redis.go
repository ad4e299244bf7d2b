package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"meme_bot/internal/model"
)

const (
	defaultRedisTimeout = 5 * time.Second
	scheduledTenantsKey = "autopost:tenants"
)

func poolKey(c model.Category) string     { return "content:" + string(c) + ":queue" }
func scheduleKey(tenantID string) string  { return "autopost:cfg:" + tenantID }
func aiChannelKey(tenantID string) string { return "ai:channel:" + tenantID }

func historyKey(tenantID, channelID string) string {
	return "channel:history:" + tenantID + ":" + channelID
}

// Redis implements Storage on top of Redis lists, sets and strings.
// Pool and history expiry are native key TTLs.
type Redis struct {
	client goredis.UniversalClient
}

// NewRedis wraps an existing client.
func NewRedis(client goredis.UniversalClient) *Redis {
	return &Redis{client: client}
}

// DialRedis connects to the Redis server at url and verifies it with a ping.
func DialRedis(ctx context.Context, url string) (*Redis, error) {
	if url == "" {
		return nil, fmt.Errorf("redis url is required")
	}
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if opts.DialTimeout == 0 {
		opts.DialTimeout = defaultRedisTimeout
	}
	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = defaultRedisTimeout
	}
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = defaultRedisTimeout
	}

	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedis(client), nil
}

// Close closes the underlying client.
func (r *Redis) Close() error {
	return r.client.Close()
}

// PushItems appends items with RPUSH and resets the list TTL in one MULTI.
func (r *Redis) PushItems(ctx context.Context, category model.Category, items []model.Item, ttl time.Duration) (int, error) {
	if len(items) == 0 {
		return r.PoolLen(ctx, category)
	}
	values := make([]any, 0, len(items))
	for _, it := range items {
		payload, err := json.Marshal(it)
		if err != nil {
			return 0, fmt.Errorf("marshal item: %w", err)
		}
		values = append(values, payload)
	}

	key := poolKey(category)
	var push *goredis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		push = pipe.RPush(ctx, key, values...)
		pipe.Expire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return 0, unavailable("push items", err)
	}
	return int(push.Val()), nil
}

// PopItem removes the head of the pool with LPOP.
func (r *Redis) PopItem(ctx context.Context, category model.Category) (*model.Item, error) {
	raw, err := r.client.LPop(ctx, poolKey(category)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, unavailable("pop item", err)
	}

	var it model.Item
	if err := json.Unmarshal(raw, &it); err != nil {
		return nil, fmt.Errorf("decode item: %w", err)
	}
	return &it, nil
}

// PoolLen returns LLEN of the pool list.
func (r *Redis) PoolLen(ctx context.Context, category model.Category) (int, error) {
	n, err := r.client.LLen(ctx, poolKey(category)).Result()
	if err != nil {
		return 0, unavailable("pool length", err)
	}
	return int(n), nil
}

// SaveSchedule stores the record as JSON and adds the tenant to the set.
func (r *Redis) SaveSchedule(ctx context.Context, s *model.Schedule) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal schedule: %w", err)
	}
	_, err = r.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.SAdd(ctx, scheduledTenantsKey, s.TenantID)
		pipe.Set(ctx, scheduleKey(s.TenantID), raw, 0)
		return nil
	})
	if err != nil {
		return unavailable("save schedule", err)
	}
	return nil
}

// UpdateSchedule overwrites the record with SET XX so a deleted schedule
// stays deleted.
func (r *Redis) UpdateSchedule(ctx context.Context, s *model.Schedule) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal schedule: %w", err)
	}
	err = r.client.SetArgs(ctx, scheduleKey(s.TenantID), raw, goredis.SetArgs{Mode: "XX"}).Err()
	if errors.Is(err, goredis.Nil) {
		return ErrNotFound
	}
	if err != nil {
		return unavailable("update schedule", err)
	}
	return nil
}

// GetSchedule loads the schedule record of a tenant.
func (r *Redis) GetSchedule(ctx context.Context, tenantID string) (*model.Schedule, error) {
	raw, err := r.client.Get(ctx, scheduleKey(tenantID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, unavailable("get schedule", err)
	}
	var s model.Schedule
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode schedule: %w", err)
	}
	return &s, nil
}

// DeleteSchedule removes the record and the membership entry.
func (r *Redis) DeleteSchedule(ctx context.Context, tenantID string) error {
	_, err := r.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.SRem(ctx, scheduledTenantsKey, tenantID)
		pipe.Del(ctx, scheduleKey(tenantID))
		return nil
	})
	if err != nil {
		return unavailable("delete schedule", err)
	}
	return nil
}

// ListScheduledTenants returns the members of the tenant set.
func (r *Redis) ListScheduledTenants(ctx context.Context) ([]string, error) {
	ids, err := r.client.SMembers(ctx, scheduledTenantsKey).Result()
	if err != nil {
		return nil, unavailable("list scheduled tenants", err)
	}
	return ids, nil
}

// RemoveScheduledTenant removes a tenant from the set only.
func (r *Redis) RemoveScheduledTenant(ctx context.Context, tenantID string) error {
	if err := r.client.SRem(ctx, scheduledTenantsKey, tenantID).Err(); err != nil {
		return unavailable("remove scheduled tenant", err)
	}
	return nil
}

// GetHistory loads a channel's turns; an expired key reads as empty.
func (r *Redis) GetHistory(ctx context.Context, tenantID, channelID string) ([]model.Turn, error) {
	raw, err := r.client.Get(ctx, historyKey(tenantID, channelID)).Result()
	if errors.Is(err, goredis.Nil) {
		return []model.Turn{}, nil
	}
	if err != nil {
		return nil, unavailable("get history", err)
	}
	return decodeTurns(raw)
}

// SaveHistory writes a channel's turns with SET EX.
func (r *Redis) SaveHistory(ctx context.Context, tenantID, channelID string, turns []model.Turn, ttl time.Duration) error {
	raw, err := json.Marshal(turns)
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}
	if err := r.client.Set(ctx, historyKey(tenantID, channelID), raw, ttl).Err(); err != nil {
		return unavailable("save history", err)
	}
	return nil
}

// SetAIChannel stores the AI channel pointer of a tenant.
func (r *Redis) SetAIChannel(ctx context.Context, tenantID, channelID string) error {
	if err := r.client.Set(ctx, aiChannelKey(tenantID), channelID, 0).Err(); err != nil {
		return unavailable("set ai channel", err)
	}
	return nil
}

// GetAIChannel loads the AI channel pointer of a tenant.
func (r *Redis) GetAIChannel(ctx context.Context, tenantID string) (string, error) {
	channelID, err := r.client.Get(ctx, aiChannelKey(tenantID)).Result()
	if errors.Is(err, goredis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", unavailable("get ai channel", err)
	}
	return channelID, nil
}

// ClearAIChannel deletes the AI channel pointer of a tenant.
func (r *Redis) ClearAIChannel(ctx context.Context, tenantID string) error {
	if err := r.client.Del(ctx, aiChannelKey(tenantID)).Err(); err != nil {
		return unavailable("clear ai channel", err)
	}
	return nil
}
