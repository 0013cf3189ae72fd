package monitor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/chat-escrow/backend/internal/chain"
	"github.com/chat-escrow/backend/internal/metrics"
	"github.com/chat-escrow/backend/internal/models"
	"github.com/chat-escrow/backend/internal/registry"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var ErrAlreadyRunning = errors.New("payment monitor already running for deal")

// invoiceSlack tolerates clock skew between this host and the chain
// explorer when discarding transfers older than the invoice.
const invoiceSlack = time.Minute

// Handler receives the monitor's findings for one deal.
type Handler interface {
	// OnPayment is called for the matched transfer on every poll until it
	// reports final.
	OnPayment(ctx context.Context, dealID string, tx chain.Transaction) (final bool, err error)
	// OnPaymentTimeout is called once when the deal-wide deadline passes
	// before any transfer matched.
	OnPaymentTimeout(ctx context.Context, dealID string)
}

type Config struct {
	Address     string
	Interval    time.Duration
	Tolerance   decimal.Decimal
	DealTimeout time.Duration
}

type watcher struct {
	dealID   string
	stop     chan struct{}
	stopOnce sync.Once
}

func (w *watcher) halt() {
	w.stopOnce.Do(func() { close(w.stop) })
}

// Monitor polls the chain for each deal awaiting payment, one goroutine
// per deal.
type Monitor struct {
	lookup  chain.Lookup
	deals   *registry.Registry
	claims  TxClaims
	handler Handler
	cfg     Config
	log     *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	watchers map[string]*watcher
}

func New(lookup chain.Lookup, deals *registry.Registry, claims TxClaims, cfg Config, log *zap.Logger) *Monitor {
	ctx, cancel := context.WithCancel(context.Background())
	return &Monitor{
		lookup:   lookup,
		deals:    deals,
		claims:   claims,
		cfg:      cfg,
		log:      log,
		ctx:      ctx,
		cancel:   cancel,
		watchers: make(map[string]*watcher),
	}
}

// SetHandler must be called before the first Start.
func (m *Monitor) SetHandler(h Handler) {
	m.handler = h
}

func (m *Monitor) Start(dealID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.watchers[dealID]; ok {
		return ErrAlreadyRunning
	}
	w := &watcher{dealID: dealID, stop: make(chan struct{})}
	m.watchers[dealID] = w
	metrics.Escrow.MonitorsRunning.Inc()

	m.wg.Add(1)
	go m.watch(w)
	return nil
}

// Stop ends monitoring of the deal. Stopping a deal that is not monitored
// is a no-op.
func (m *Monitor) Stop(dealID string) {
	m.mu.Lock()
	w, ok := m.watchers[dealID]
	m.mu.Unlock()
	if ok {
		w.halt()
	}
}

func (m *Monitor) Running(dealID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.watchers[dealID]
	return ok
}

// Close stops every watcher and waits for them to exit.
func (m *Monitor) Close() {
	m.cancel()
	m.wg.Wait()
}

func (m *Monitor) finish(w *watcher) {
	m.mu.Lock()
	if m.watchers[w.dealID] == w {
		delete(m.watchers, w.dealID)
		metrics.Escrow.MonitorsRunning.Dec()
	}
	m.mu.Unlock()
	m.wg.Done()
}

func (m *Monitor) watch(w *watcher) {
	defer m.finish(w)
	log := m.log.With(zap.String("deal_id", w.dealID))

	deal, err := m.deals.Get(w.dealID)
	if err != nil {
		log.Warn("payment monitor started for unknown deal", zap.Error(err))
		return
	}

	var deadline <-chan time.Time
	if m.cfg.DealTimeout > 0 {
		timer := time.NewTimer(time.Until(deal.StartTime.Add(m.cfg.DealTimeout)))
		defer timer.Stop()
		deadline = timer.C
	}

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	log.Info("payment monitor started",
		zap.String("expected", deal.AmountCoin.String()),
		zap.String("address", m.cfg.Address),
	)

	var matched string
	for {
		select {
		case <-m.ctx.Done():
			return
		case <-w.stop:
			log.Info("payment monitor stopped")
			return
		case <-deadline:
			log.Info("deal timed out waiting for payment")
			m.handler.OnPaymentTimeout(m.ctx, w.dealID)
			return
		case <-ticker.C:
			var done bool
			matched, done = m.poll(w.dealID, matched, log)
			if done {
				return
			}
			if matched != "" {
				deadline = nil
			}
		}
	}
}

// poll runs one lookup. It returns the matched txid (possibly newly
// claimed) and whether monitoring is finished.
func (m *Monitor) poll(dealID, matched string, log *zap.Logger) (string, bool) {
	deal, err := m.deals.Get(dealID)
	if err != nil {
		log.Info("deal gone, stopping payment monitor", zap.Error(err))
		return matched, true
	}
	if deal.Stage != models.StageAwaitingPayment && deal.Stage != models.StagePaymentDetected {
		log.Info("deal no longer awaiting payment", zap.String("stage", string(deal.Stage)))
		return matched, true
	}

	txs, err := m.lookup.AddressTransactions(m.ctx, m.cfg.Address)
	if err != nil {
		metrics.Escrow.LookupErrors.Inc()
		log.Warn("chain lookup failed, retrying next tick", zap.Error(err))
		return matched, false
	}

	if matched == "" {
		matched = m.match(deal, txs, log)
		if matched == "" {
			return "", false
		}
	}

	for _, tx := range txs {
		if tx.TxID != matched {
			continue
		}
		final, err := m.handler.OnPayment(m.ctx, dealID, tx)
		if err != nil {
			if errors.Is(err, registry.ErrNotFound) {
				return matched, true
			}
			log.Warn("payment handler failed", zap.String("txid", tx.TxID), zap.Error(err))
			return matched, false
		}
		return matched, final
	}
	log.Debug("matched transaction not in lookup result", zap.String("txid", matched))
	return matched, false
}

func (m *Monitor) match(deal models.Deal, txs []chain.Transaction, log *zap.Logger) string {
	for _, tx := range txs {
		if !chain.Matches(tx.Value, deal.AmountCoin, m.cfg.Tolerance) {
			continue
		}
		if deal.InvoicedAt != nil && !tx.Time.IsZero() && tx.Time.Before(deal.InvoicedAt.Add(-invoiceSlack)) {
			continue
		}

		ok, err := m.claims.Claim(m.ctx, tx.TxID, deal.ID)
		if err != nil {
			log.Warn("failed to claim transaction", zap.String("txid", tx.TxID), zap.Error(err))
			return ""
		}
		if !ok {
			metrics.Escrow.TxClaimConflicts.Inc()
			log.Warn("transaction matches deal amount but is credited to another deal",
				zap.String("txid", tx.TxID),
				zap.String("value", tx.Value.String()),
			)
			continue
		}

		metrics.Escrow.PaymentsMatched.Inc()
		log.Info("payment matched",
			zap.String("txid", tx.TxID),
			zap.String("value", tx.Value.String()),
			zap.Int("confirmations", tx.Confirmations),
		)
		return tx.TxID
	}
	return ""
}
