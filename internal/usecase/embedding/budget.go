package embedding

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vekku/brain/internal/domain"
)

// BudgetAction defines behavior when the token budget is exhausted.
type BudgetAction string

const (
	// BudgetActionWarn logs a warning but lets the request through.
	BudgetActionWarn BudgetAction = "warn"
	// BudgetActionReject fails the request with domain.ErrEmbeddingQuotaExceeded.
	BudgetActionReject BudgetAction = "reject"
)

// Budget windows.
const (
	PeriodDaily   = "daily"
	PeriodMonthly = "monthly"
)

const (
	dailyKeyTTL   = 48 * time.Hour
	monthlyKeyTTL = 62 * 24 * time.Hour
)

// BudgetStore persists window counters. IncrBy may be called repeatedly for the same key.
type BudgetStore interface {
	IncrBy(ctx context.Context, key string, val int64, ttl time.Duration) error
	Get(ctx context.Context, key string) (int64, error)
}

// BudgetConfig configures a BudgetTracker. Zero limits mean unlimited.
type BudgetConfig struct {
	Provider     string
	KeyPrefix    string
	DailyLimit   int64
	MonthlyLimit int64
	Action       BudgetAction
}

type window struct {
	period string
	limit  int64
	used   int64
	start  time.Time
}

func (w *window) truncate(t time.Time) time.Time {
	if w.period == PeriodDaily {
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	}
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

func (w *window) roll(now time.Time) {
	if s := w.truncate(now); s.After(w.start) {
		w.start = s
		w.used = 0
	}
}

func (w *window) exceeded() bool { return w.limit > 0 && w.used >= w.limit }

func (w *window) remaining() int64 {
	if w.limit == 0 {
		return -1
	}
	return max(w.limit-w.used, 0)
}

func (w *window) ttl() time.Duration {
	if w.period == PeriodDaily {
		return dailyKeyTTL
	}
	return monthlyKeyTTL
}

func (w *window) stamp(t time.Time) string {
	if w.period == PeriodDaily {
		return t.Format("2006-01-02")
	}
	return t.Format("2006-01")
}

// BudgetTracker enforces daily and monthly token limits.
// Check is in-memory only; Record updates memory first, then writes behind to the store.
type BudgetTracker struct {
	mu      sync.Mutex
	cfg     BudgetConfig
	daily   window
	monthly window
	store   BudgetStore
	logger  *zap.Logger
	now     func() time.Time
}

// NewBudgetTracker creates a tracker with the given limits.
func NewBudgetTracker(cfg BudgetConfig, logger *zap.Logger) *BudgetTracker {
	if cfg.Action == "" {
		cfg.Action = BudgetActionWarn
	}
	b := &BudgetTracker{
		cfg:     cfg,
		daily:   window{period: PeriodDaily, limit: cfg.DailyLimit},
		monthly: window{period: PeriodMonthly, limit: cfg.MonthlyLimit},
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
	now := b.now()
	b.daily.start = b.daily.truncate(now)
	b.monthly.start = b.monthly.truncate(now)
	return b
}

// WithStore attaches persistence and loads the current window counters from it.
// Load failures are logged; the tracker then starts from zero.
func (b *BudgetTracker) WithStore(ctx context.Context, store BudgetStore) *BudgetTracker {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.store = store
	now := b.now()
	for _, w := range []*window{&b.daily, &b.monthly} {
		val, err := store.Get(ctx, b.key(w, now))
		if err != nil {
			b.logger.Warn("Failed to load budget window", zap.String("period", w.period), zap.Error(err))
			continue
		}
		w.used = val
	}

	b.logger.Info("Budget loaded",
		zap.String("provider", b.cfg.Provider),
		zap.Int64("daily_used", b.daily.used),
		zap.Int64("monthly_used", b.monthly.used),
	)
	return b
}

func (b *BudgetTracker) key(w *window, t time.Time) string {
	return fmt.Sprintf("%sbudget:%s:%s:%s", b.cfg.KeyPrefix, b.cfg.Provider, w.period, w.stamp(t))
}

// Check reports whether a new embedding request may proceed.
func (b *BudgetTracker) Check(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.rollLocked()
	if !b.daily.exceeded() && !b.monthly.exceeded() {
		return nil
	}
	if b.cfg.Action == BudgetActionReject {
		return domain.ErrEmbeddingQuotaExceeded
	}

	b.logger.Warn("Token budget exceeded",
		zap.String("provider", b.cfg.Provider),
		zap.Int64("daily_used", b.daily.used),
		zap.Int64("daily_limit", b.daily.limit),
		zap.Int64("monthly_used", b.monthly.used),
		zap.Int64("monthly_limit", b.monthly.limit),
	)
	return nil
}

// Record adds consumed tokens to both windows.
func (b *BudgetTracker) Record(tokens int64) {
	if tokens <= 0 {
		return
	}

	b.mu.Lock()
	b.rollLocked()
	b.daily.used += tokens
	b.monthly.used += tokens
	store := b.store
	now := b.now()
	writes := []struct {
		key string
		ttl time.Duration
	}{
		{b.key(&b.daily, now), b.daily.ttl()},
		{b.key(&b.monthly, now), b.monthly.ttl()},
	}
	b.mu.Unlock()

	if store == nil {
		return
	}

	// Detached from the request: a cancelled caller must not lose the write.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for _, w := range writes {
		if err := store.IncrBy(ctx, w.key, tokens, w.ttl); err != nil {
			b.logger.Warn("Failed to persist budget", zap.String("key", w.key), zap.Error(err))
		}
	}
}

// RemainingDaily returns tokens left today, or -1 when unlimited.
func (b *BudgetTracker) RemainingDaily() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollLocked()
	return b.daily.remaining()
}

// RemainingMonthly returns tokens left this month, or -1 when unlimited.
func (b *BudgetTracker) RemainingMonthly() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollLocked()
	return b.monthly.remaining()
}

// DailyUsed returns tokens consumed today.
func (b *BudgetTracker) DailyUsed() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollLocked()
	return b.daily.used
}

// MonthlyUsed returns tokens consumed this month.
func (b *BudgetTracker) MonthlyUsed() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollLocked()
	return b.monthly.used
}

func (b *BudgetTracker) rollLocked() {
	now := b.now()
	b.daily.roll(now)
	b.monthly.roll(now)
}

// DailyLimit returns the configured daily limit; 0 means unlimited.
func (b *BudgetTracker) DailyLimit() int64 { return b.cfg.DailyLimit }

// MonthlyLimit returns the configured monthly limit; 0 means unlimited.
func (b *BudgetTracker) MonthlyLimit() int64 { return b.cfg.MonthlyLimit }
