package rates

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chat-escrow/backend/internal/metrics"
	"github.com/chat-escrow/backend/internal/models"
	"github.com/chat-escrow/backend/internal/registry"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var ErrNoRateAvailable = errors.New("no exchange rate available")

// Snapshot is the last successfully fetched price. It is replaced whole.
type Snapshot struct {
	Price      decimal.Decimal `json:"price"`
	ObservedAt time.Time       `json:"observed_at"`
}

// Notifier receives display updates caused by a price change.
type Notifier interface {
	RateChanged(ctx context.Context, price decimal.Decimal, observedAt time.Time)
	DealUpdated(ctx context.Context, deal models.Deal)
}

// Store persists the last good snapshot across restarts.
type Store interface {
	Save(ctx context.Context, snap Snapshot) error
	Load(ctx context.Context) (Snapshot, error)
}

type Cache struct {
	// refreshMu serializes Refresh so snapshots and repricing apply in
	// fetch order.
	refreshMu sync.Mutex

	mu   sync.RWMutex
	snap Snapshot
	have bool

	oracle   Oracle
	store    Store
	deals    *registry.Registry
	notifier Notifier
	decimals int32
	log      *zap.Logger
	now      func() time.Time
}

// NewCache creates a cache converting to a coin with the given number of
// decimals. store and notifier may be nil.
func NewCache(oracle Oracle, store Store, deals *registry.Registry, notifier Notifier, decimals int32, log *zap.Logger) *Cache {
	return &Cache{
		oracle:   oracle,
		store:    store,
		deals:    deals,
		notifier: notifier,
		decimals: decimals,
		log:      log,
		now:      time.Now,
	}
}

// Restore loads the persisted snapshot, if any, so conversions work before
// the first refresh completes.
func (c *Cache) Restore(ctx context.Context) {
	if c.store == nil {
		return
	}
	snap, err := c.store.Load(ctx)
	if err != nil {
		c.log.Info("no stored rate snapshot", zap.Error(err))
		return
	}
	if !snap.Price.IsPositive() {
		return
	}

	c.mu.Lock()
	if !c.have {
		c.snap = snap
		c.have = true
	}
	c.mu.Unlock()

	metrics.Escrow.Rate.Set(snap.Price.InexactFloat64())
	c.log.Info("rate snapshot restored",
		zap.String("price", snap.Price.String()),
		zap.Time("observed_at", snap.ObservedAt),
	)
}

// Refresh fetches a new price. On failure the previous snapshot stays in
// place. changed reports whether the price differs from the previous one.
// Concurrent calls run one at a time.
func (c *Cache) Refresh(ctx context.Context) (bool, error) {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	price, err := c.oracle.Price(ctx)
	if err != nil {
		metrics.Escrow.RateRefreshes.WithLabelValues("error").Inc()
		c.log.Warn("rate refresh failed, keeping previous snapshot", zap.Error(err))
		return false, fmt.Errorf("refresh rate: %w", err)
	}

	snap := Snapshot{Price: price, ObservedAt: c.now()}

	c.mu.Lock()
	changed := !c.have || !c.snap.Price.Equal(price)
	c.snap = snap
	c.have = true
	c.mu.Unlock()

	metrics.Escrow.RateRefreshes.WithLabelValues("ok").Inc()
	metrics.Escrow.Rate.Set(price.InexactFloat64())

	if c.store != nil {
		if err := c.store.Save(ctx, snap); err != nil {
			c.log.Warn("failed to persist rate snapshot", zap.Error(err))
		}
	}

	if changed {
		c.log.Info("rate updated", zap.String("price", price.String()))
		c.reprice(ctx, snap)
	}
	return changed, nil
}

// reprice recomputes the coin amount of every deal that has an amount but
// no invoice yet.
func (c *Cache) reprice(ctx context.Context, snap Snapshot) {
	if c.deals == nil {
		return
	}
	updated := c.deals.UpdateWhere(
		func(d models.Deal) bool { return d.Stage.BeforeInvoice() && d.HasAmount() },
		func(d *models.Deal) error {
			d.AmountCoin = c.convert(d.AmountUSD, snap.Price)
			d.Rate = snap.Price
			return nil
		},
	)

	if c.notifier == nil {
		return
	}
	for _, d := range updated {
		c.notifier.DealUpdated(ctx, d)
	}
	c.notifier.RateChanged(ctx, snap.Price, snap.ObservedAt)
}

func (c *Cache) Current() (Snapshot, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.have {
		return Snapshot{}, ErrNoRateAvailable
	}
	return c.snap, nil
}

// ConvertUSDToCoin returns the coin amount for usd at the current price
// together with the price used.
func (c *Cache) ConvertUSDToCoin(usd decimal.Decimal) (decimal.Decimal, decimal.Decimal, error) {
	snap, err := c.Current()
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	return c.convert(usd, snap.Price), snap.Price, nil
}

func (c *Cache) ConvertCoinToUSD(coin decimal.Decimal) (decimal.Decimal, error) {
	snap, err := c.Current()
	if err != nil {
		return decimal.Zero, err
	}
	return coin.Mul(snap.Price).Round(2), nil
}

func (c *Cache) convert(usd, price decimal.Decimal) decimal.Decimal {
	return usd.DivRound(price, c.decimals)
}

// Run refreshes immediately and then every interval until ctx is done.
// Failures are logged and never stop the loop.
func (c *Cache) Run(ctx context.Context, interval time.Duration) {
	_, _ = c.Refresh(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			_, _ = c.Refresh(ctx)
		case <-ctx.Done():
			return
		}
	}
}
