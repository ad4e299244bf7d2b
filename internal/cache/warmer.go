package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultKeepWarmInterval is how often pools are checked against their
// watermark while the bot is idle.
const DefaultKeepWarmInterval = 30 * time.Minute

// Warmer periodically tops up pools that expired or drained while idle.
type Warmer struct {
	cache   *Cache
	cron    *cron.Cron
	timeout time.Duration
	log     *slog.Logger
}

// NewWarmer registers the keep-warm job; Start begins running it.
func NewWarmer(c *Cache, interval time.Duration, log *slog.Logger) (*Warmer, error) {
	if interval <= 0 {
		interval = DefaultKeepWarmInterval
	}
	w := &Warmer{
		cache:   c,
		timeout: interval,
		log:     log,
	}
	w.cron = cron.New(cron.WithChain(cron.SkipIfStillRunning(cronLogger{log})))
	if _, err := w.cron.AddFunc("@every "+interval.String(), w.run); err != nil {
		return nil, fmt.Errorf("schedule keep-warm: %w", err)
	}
	return w, nil
}

func (w *Warmer) run() {
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()
	if err := w.cache.Warm(ctx); err != nil {
		w.log.Warn("keep-warm failed", "error", err)
	}
}

// Start runs the job until ctx is cancelled, then waits for a running job.
func (w *Warmer) Start(ctx context.Context) {
	w.cron.Start()
	w.log.Info("keep-warm started", "entries", len(w.cron.Entries()))
	<-ctx.Done()
	<-w.cron.Stop().Done()
}

// cronLogger routes cron's own messages to slog.
type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error(msg, append(keysAndValues, "error", err)...)
}
