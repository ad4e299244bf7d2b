package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"meme_bot/internal/model"
)

// backend is a Storage under test plus a hook that moves its clock forward.
type backend struct {
	store   Storage
	advance func(d time.Duration)
}

func memes(titles ...string) []model.Item {
	items := make([]model.Item, 0, len(titles))
	for _, t := range titles {
		items = append(items, model.Item{Category: model.CategoryMeme, Title: t, ImageURL: "https://i.example.com/" + t + ".png"})
	}
	return items
}

func runSuite(t *testing.T, newBackend func(t *testing.T) backend) {
	t.Run("pool fifo", func(t *testing.T) { testPoolFIFO(t, newBackend(t)) })
	t.Run("pool isolation", func(t *testing.T) { testPoolIsolation(t, newBackend(t)) })
	t.Run("pool ttl", func(t *testing.T) { testPoolTTL(t, newBackend(t)) })
	t.Run("concurrent pop", func(t *testing.T) { testConcurrentPop(t, newBackend(t)) })
	t.Run("schedule lifecycle", func(t *testing.T) { testScheduleLifecycle(t, newBackend(t)) })
	t.Run("membership self heal", func(t *testing.T) { testRemoveScheduledTenant(t, newBackend(t)) })
	t.Run("history", func(t *testing.T) { testHistory(t, newBackend(t)) })
	t.Run("ai channel", func(t *testing.T) { testAIChannel(t, newBackend(t)) })
}

func testPoolFIFO(t *testing.T, b backend) {
	ctx := context.Background()

	n, err := b.store.PushItems(ctx, model.CategoryMeme, memes("a", "b"), time.Hour)
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	if diff := cmp.Diff(2, n); diff != "" {
		t.Errorf("length after first push (-want +got):\n%s", diff)
	}
	n, err = b.store.PushItems(ctx, model.CategoryMeme, memes("c"), time.Hour)
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	if diff := cmp.Diff(3, n); diff != "" {
		t.Errorf("length after second push (-want +got):\n%s", diff)
	}

	var got []string
	for range 3 {
		it, err := b.store.PopItem(ctx, model.CategoryMeme)
		if err != nil {
			t.Fatalf("pop: %v", err)
		}
		got = append(got, it.Title)
	}
	if diff := cmp.Diff([]string{"a", "b", "c"}, got); diff != "" {
		t.Errorf("pop order (-want +got):\n%s", diff)
	}

	if _, err := b.store.PopItem(ctx, model.CategoryMeme); !errors.Is(err, ErrNotFound) {
		t.Errorf("pop on empty pool: want ErrNotFound, got %v", err)
	}
}

func testPoolIsolation(t *testing.T, b backend) {
	ctx := context.Background()

	if _, err := b.store.PushItems(ctx, model.CategoryMeme, memes("m"), time.Hour); err != nil {
		t.Fatalf("push: %v", err)
	}
	joke := model.Item{Category: model.CategoryJoke, Text: "knock knock"}
	if _, err := b.store.PushItems(ctx, model.CategoryJoke, []model.Item{joke}, time.Hour); err != nil {
		t.Fatalf("push: %v", err)
	}

	got, err := b.store.PopItem(ctx, model.CategoryJoke)
	if err != nil {
		t.Fatalf("pop: %v", err)
	}
	if diff := cmp.Diff(joke, *got); diff != "" {
		t.Errorf("popped joke (-want +got):\n%s", diff)
	}

	n, err := b.store.PoolLen(ctx, model.CategoryMeme)
	if err != nil {
		t.Fatalf("len: %v", err)
	}
	if diff := cmp.Diff(1, n); diff != "" {
		t.Errorf("meme pool length (-want +got):\n%s", diff)
	}
}

func testPoolTTL(t *testing.T, b backend) {
	ctx := context.Background()

	if _, err := b.store.PushItems(ctx, model.CategoryMeme, memes("old"), time.Minute); err != nil {
		t.Fatalf("push: %v", err)
	}
	b.advance(2 * time.Minute)

	n, err := b.store.PoolLen(ctx, model.CategoryMeme)
	if err != nil {
		t.Fatalf("len: %v", err)
	}
	if n != 0 {
		t.Errorf("expected expired pool to be empty, got %d", n)
	}
	if _, err := b.store.PopItem(ctx, model.CategoryMeme); !errors.Is(err, ErrNotFound) {
		t.Errorf("pop on expired pool: want ErrNotFound, got %v", err)
	}

	n, err = b.store.PushItems(ctx, model.CategoryMeme, memes("new"), time.Minute)
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	if diff := cmp.Diff(1, n); diff != "" {
		t.Errorf("length after refill (-want +got):\n%s", diff)
	}
	it, err := b.store.PopItem(ctx, model.CategoryMeme)
	if err != nil {
		t.Fatalf("pop: %v", err)
	}
	if it.Title != "new" {
		t.Errorf("expected fresh item, got %q", it.Title)
	}
}

func testConcurrentPop(t *testing.T, b backend) {
	ctx := context.Background()

	if _, err := b.store.PushItems(ctx, model.CategoryMeme, memes("only"), time.Hour); err != nil {
		t.Fatalf("push: %v", err)
	}

	const callers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := b.store.PopItem(ctx, model.CategoryMeme)
			if err == nil {
				mu.Lock()
				winners++
				mu.Unlock()
				return
			}
			if !errors.Is(err, ErrNotFound) {
				t.Errorf("pop: %v", err)
			}
		}()
	}
	wg.Wait()

	if diff := cmp.Diff(1, winners); diff != "" {
		t.Errorf("successful pops (-want +got):\n%s", diff)
	}
}

func testScheduleLifecycle(t *testing.T, b backend) {
	ctx := context.Background()

	if _, err := b.store.GetSchedule(ctx, "g1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("get missing schedule: want ErrNotFound, got %v", err)
	}

	next := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	want := model.Schedule{TenantID: "g1", ChannelID: "c1", Category: model.CategoryMeme, IntervalMinutes: 10, NextFireAt: next}
	if err := b.store.SaveSchedule(ctx, &want); err != nil {
		t.Fatalf("save: %v", err)
	}
	// Saving twice must not duplicate membership.
	if err := b.store.SaveSchedule(ctx, &want); err != nil {
		t.Fatalf("save again: %v", err)
	}

	got, err := b.store.GetSchedule(ctx, "g1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if diff := cmp.Diff(want, *got); diff != "" {
		t.Errorf("schedule mismatch (-want +got):\n%s", diff)
	}

	ids, err := b.store.ListScheduledTenants(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if diff := cmp.Diff([]string{"g1"}, ids); diff != "" {
		t.Errorf("membership (-want +got):\n%s", diff)
	}

	want.NextFireAt = next.Add(10 * time.Minute)
	if err := b.store.UpdateSchedule(ctx, &want); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, err = b.store.GetSchedule(ctx, "g1")
	if err != nil {
		t.Fatalf("get after update: %v", err)
	}
	if diff := cmp.Diff(want, *got); diff != "" {
		t.Errorf("updated schedule mismatch (-want +got):\n%s", diff)
	}

	if err := b.store.DeleteSchedule(ctx, "g1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := b.store.UpdateSchedule(ctx, &want); !errors.Is(err, ErrNotFound) {
		t.Errorf("update deleted schedule: want ErrNotFound, got %v", err)
	}
	if err := b.store.DeleteSchedule(ctx, "g1"); err != nil {
		t.Fatalf("delete absent schedule: %v", err)
	}
	if _, err := b.store.GetSchedule(ctx, "g1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("get deleted schedule: want ErrNotFound, got %v", err)
	}
	ids, err = b.store.ListScheduledTenants(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("expected empty membership, got %v", ids)
	}
}

func testRemoveScheduledTenant(t *testing.T, b backend) {
	ctx := context.Background()

	s := model.Schedule{TenantID: "g2", ChannelID: "c2", Category: model.CategoryMeme, IntervalMinutes: 5, NextFireAt: time.Now()}
	if err := b.store.SaveSchedule(ctx, &s); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := b.store.RemoveScheduledTenant(ctx, "g2"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	ids, err := b.store.ListScheduledTenants(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("expected empty membership, got %v", ids)
	}
	if _, err := b.store.GetSchedule(ctx, "g2"); err != nil {
		t.Errorf("record should survive membership removal: %v", err)
	}
}

func testHistory(t *testing.T, b backend) {
	ctx := context.Background()

	got, err := b.store.GetHistory(ctx, "g1", "c1")
	if err != nil {
		t.Fatalf("get empty: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty history, got %v", got)
	}

	turns := []model.Turn{
		{ID: "1", Role: model.RoleUser, Speaker: "ann", Text: "hi"},
		{Role: model.RoleAssistant, Speaker: "bot", Text: "hey"},
	}
	if err := b.store.SaveHistory(ctx, "g1", "c1", turns, time.Minute); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err = b.store.GetHistory(ctx, "g1", "c1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if diff := cmp.Diff(turns, got); diff != "" {
		t.Errorf("history mismatch (-want +got):\n%s", diff)
	}

	other, err := b.store.GetHistory(ctx, "g1", "c2")
	if err != nil {
		t.Fatalf("get other channel: %v", err)
	}
	if len(other) != 0 {
		t.Errorf("expected channels to be independent, got %v", other)
	}

	b.advance(45 * time.Second)
	if err := b.store.SaveHistory(ctx, "g1", "c1", turns, time.Minute); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	b.advance(45 * time.Second)
	got, err = b.store.GetHistory(ctx, "g1", "c1")
	if err != nil {
		t.Fatalf("get after refresh: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("expected refreshed history to survive, got %v", got)
	}

	b.advance(2 * time.Minute)
	got, err = b.store.GetHistory(ctx, "g1", "c1")
	if err != nil {
		t.Fatalf("get after expiry: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected history to expire, got %v", got)
	}
}

func testAIChannel(t *testing.T, b backend) {
	ctx := context.Background()

	if _, err := b.store.GetAIChannel(ctx, "g1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("get unset: want ErrNotFound, got %v", err)
	}
	if err := b.store.SetAIChannel(ctx, "g1", "c1"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := b.store.SetAIChannel(ctx, "g1", "c9"); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	got, err := b.store.GetAIChannel(ctx, "g1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if diff := cmp.Diff("c9", got); diff != "" {
		t.Errorf("ai channel (-want +got):\n%s", diff)
	}
	if err := b.store.ClearAIChannel(ctx, "g1"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, err := b.store.GetAIChannel(ctx, "g1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("get cleared: want ErrNotFound, got %v", err)
	}
}
