package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/chat-escrow/backend/internal/chain"
	"github.com/chat-escrow/backend/internal/models"
	"github.com/chat-escrow/backend/internal/registry"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const custodial = "Lcustodial"

type scriptedLookup struct {
	mu      sync.Mutex
	results [][]chain.Transaction
	errs    []error
	calls   int
}

func (l *scriptedLookup) AddressTransactions(ctx context.Context, address string) ([]chain.Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	i := l.calls
	l.calls++
	if i < len(l.errs) && l.errs[i] != nil {
		return nil, l.errs[i]
	}
	if len(l.results) == 0 {
		return nil, nil
	}
	if i >= len(l.results) {
		i = len(l.results) - 1
	}
	return l.results[i], nil
}

func (l *scriptedLookup) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

type recordingHandler struct {
	mu       sync.Mutex
	required int
	payments []chain.Transaction
	timeouts int
	done     chan struct{}
	once     sync.Once
}

func newRecordingHandler(required int) *recordingHandler {
	return &recordingHandler{required: required, done: make(chan struct{})}
}

func (h *recordingHandler) OnPayment(ctx context.Context, dealID string, tx chain.Transaction) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.payments = append(h.payments, tx)
	final := tx.Confirmations >= h.required
	if final {
		h.once.Do(func() { close(h.done) })
	}
	return final, nil
}

func (h *recordingHandler) OnPaymentTimeout(ctx context.Context, dealID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.timeouts++
	h.once.Do(func() { close(h.done) })
}

func (h *recordingHandler) snapshot() ([]chain.Transaction, int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]chain.Transaction(nil), h.payments...), h.timeouts
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func awaitingDeal(id, coin string) models.Deal {
	now := time.Now()
	return models.Deal{
		ID:         id,
		Stage:      models.StageAwaitingPayment,
		AmountUSD:  d("1.50"),
		AmountCoin: d(coin),
		StartTime:  now,
		InvoicedAt: &now,
	}
}

func newTestMonitor(t *testing.T, lookup chain.Lookup, reg *registry.Registry, h Handler, timeout time.Duration) *Monitor {
	t.Helper()
	m := New(lookup, reg, NewMemoryClaims(), Config{
		Address:     custodial,
		Interval:    5 * time.Millisecond,
		Tolerance:   decimal.New(1, -8),
		DealTimeout: timeout,
	}, zap.NewNop())
	m.SetHandler(h)
	t.Cleanup(m.Close)
	return m
}

func waitDone(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for monitor")
	}
}

func waitStopped(t *testing.T, m *Monitor, id string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for m.Running(id) {
		if time.Now().After(deadline) {
			t.Fatalf("monitor for %s still running", id)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestMonitorFollowsConfirmationsUntilFinal(t *testing.T) {
	reg := registry.New()
	_, _ = reg.Create(awaitingDeal("deal-1", "0.02307692"))

	now := time.Now()
	tx := func(conf int) chain.Transaction {
		return chain.Transaction{TxID: "pay", Value: d("0.02307692"), Confirmations: conf, Time: now}
	}
	lookup := &scriptedLookup{results: [][]chain.Transaction{
		{},
		{tx(3)},
		{tx(6)},
	}}
	h := newRecordingHandler(6)
	m := newTestMonitor(t, lookup, reg, h, time.Hour)

	if err := m.Start("deal-1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitDone(t, h.done)
	waitStopped(t, m, "deal-1")

	payments, timeouts := h.snapshot()
	if timeouts != 0 {
		t.Errorf("timeouts = %d, want 0", timeouts)
	}
	if len(payments) != 2 {
		t.Fatalf("OnPayment calls = %d, want 2", len(payments))
	}
	if payments[0].Confirmations != 3 || payments[1].Confirmations != 6 {
		t.Errorf("confirmations seen = %d, %d; want 3, 6", payments[0].Confirmations, payments[1].Confirmations)
	}
}

func TestMonitorIgnoresMismatchedAmounts(t *testing.T) {
	reg := registry.New()
	_, _ = reg.Create(awaitingDeal("deal-1", "0.02307692"))

	now := time.Now()
	lookup := &scriptedLookup{results: [][]chain.Transaction{{
		{TxID: "close", Value: d("0.02307693"), Confirmations: 6, Time: now},
		{TxID: "old", Value: d("0.02307692"), Confirmations: 600, Time: now.Add(-24 * time.Hour)},
	}}}
	h := newRecordingHandler(6)
	m := newTestMonitor(t, lookup, reg, h, time.Hour)

	_ = m.Start("deal-1")
	for lookup.count() < 5 {
		time.Sleep(time.Millisecond)
	}
	m.Stop("deal-1")
	waitStopped(t, m, "deal-1")

	if payments, _ := h.snapshot(); len(payments) != 0 {
		t.Errorf("OnPayment called for %v", payments)
	}
}

func TestMonitorRetriesLookupErrors(t *testing.T) {
	reg := registry.New()
	_, _ = reg.Create(awaitingDeal("deal-1", "0.5"))

	boom := errors.New("explorer down")
	lookup := &scriptedLookup{
		errs:    []error{boom, boom, boom},
		results: [][]chain.Transaction{{{TxID: "pay", Value: d("0.5"), Confirmations: 6}}},
	}
	h := newRecordingHandler(6)
	m := newTestMonitor(t, lookup, reg, h, time.Hour)

	_ = m.Start("deal-1")
	waitDone(t, h.done)

	if lookup.count() < 4 {
		t.Errorf("lookup calls = %d, want at least 4", lookup.count())
	}
}

func TestMonitorTimeoutFiresOnce(t *testing.T) {
	reg := registry.New()
	deal := awaitingDeal("deal-1", "0.5")
	deal.StartTime = time.Now().Add(-time.Hour)
	_, _ = reg.Create(deal)

	h := newRecordingHandler(6)
	m := newTestMonitor(t, &scriptedLookup{}, reg, h, 30*time.Millisecond)

	_ = m.Start("deal-1")
	waitDone(t, h.done)
	waitStopped(t, m, "deal-1")
	time.Sleep(30 * time.Millisecond)

	if _, timeouts := h.snapshot(); timeouts != 1 {
		t.Errorf("timeouts = %d, want 1", timeouts)
	}
}

func TestMonitorTimeoutIgnoredAfterMatch(t *testing.T) {
	reg := registry.New()
	_, _ = reg.Create(awaitingDeal("deal-1", "0.5"))

	lookup := &scriptedLookup{results: [][]chain.Transaction{{{TxID: "pay", Value: d("0.5"), Confirmations: 1}}}}
	h := newRecordingHandler(6)
	m := newTestMonitor(t, lookup, reg, h, 50*time.Millisecond)

	_ = m.Start("deal-1")
	time.Sleep(150 * time.Millisecond)

	payments, timeouts := h.snapshot()
	if timeouts != 0 {
		t.Errorf("timeouts = %d after match, want 0", timeouts)
	}
	if len(payments) == 0 {
		t.Error("expected OnPayment calls while waiting for confirmations")
	}
	if !m.Running("deal-1") {
		t.Error("monitor stopped before payment was final")
	}
}

func TestMonitorStartTwice(t *testing.T) {
	reg := registry.New()
	_, _ = reg.Create(awaitingDeal("deal-1", "0.5"))
	m := newTestMonitor(t, &scriptedLookup{}, reg, newRecordingHandler(6), time.Hour)

	if err := m.Start("deal-1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := m.Start("deal-1"); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Start err = %v, want ErrAlreadyRunning", err)
	}

	m.Stop("deal-1")
	m.Stop("deal-1")
	m.Stop("never-started")
	waitStopped(t, m, "deal-1")
}

func TestMonitorStopsWhenDealRemoved(t *testing.T) {
	reg := registry.New()
	_, _ = reg.Create(awaitingDeal("deal-1", "0.5"))
	m := newTestMonitor(t, &scriptedLookup{}, reg, newRecordingHandler(6), time.Hour)

	_ = m.Start("deal-1")
	reg.Remove("deal-1")
	waitStopped(t, m, "deal-1")
}

func TestMonitorTxCreditedToOneDeal(t *testing.T) {
	reg := registry.New()
	_, _ = reg.Create(awaitingDeal("deal-a", "0.5"))
	_, _ = reg.Create(awaitingDeal("deal-b", "0.5"))

	lookup := &scriptedLookup{results: [][]chain.Transaction{{{TxID: "pay", Value: d("0.5"), Confirmations: 6}}}}
	ha := newRecordingHandler(6)
	hb := newRecordingHandler(6)

	claims := NewMemoryClaims()
	cfg := Config{Address: custodial, Interval: 5 * time.Millisecond, Tolerance: decimal.New(1, -8)}
	ma := New(lookup, reg, claims, cfg, zap.NewNop())
	ma.SetHandler(ha)
	mb := New(lookup, reg, claims, cfg, zap.NewNop())
	mb.SetHandler(hb)
	defer ma.Close()
	defer mb.Close()

	_ = ma.Start("deal-a")
	waitDone(t, ha.done)
	_ = mb.Start("deal-b")
	time.Sleep(50 * time.Millisecond)

	if payments, _ := hb.snapshot(); len(payments) != 0 {
		t.Errorf("deal-b credited with a transfer already claimed by deal-a: %v", payments)
	}
}

func TestClaims(t *testing.T) {
	c := NewMemoryClaims()
	ctx := context.Background()

	tests := []struct {
		txid, deal string
		want       bool
	}{
		{"tx1", "a", true},
		{"tx1", "a", true},
		{"tx1", "b", false},
		{"tx2", "b", true},
	}
	for _, tt := range tests {
		got, err := c.Claim(ctx, tt.txid, tt.deal)
		if err != nil {
			t.Fatalf("Claim: %v", err)
		}
		if got != tt.want {
			t.Errorf("Claim(%s, %s) = %v, want %v", tt.txid, tt.deal, got, tt.want)
		}
	}
}
