package rates

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/chat-escrow/backend/internal/models"
	"github.com/chat-escrow/backend/internal/registry"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type fakeOracle struct {
	mu    sync.Mutex
	price decimal.Decimal
	err   error
	calls int
}

func (o *fakeOracle) Price(ctx context.Context) (decimal.Decimal, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls++
	return o.price, o.err
}

func (o *fakeOracle) set(price string, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if price != "" {
		o.price = decimal.RequireFromString(price)
	}
	o.err = err
}

type memStore struct {
	snap *Snapshot
}

func (s *memStore) Save(ctx context.Context, snap Snapshot) error {
	s.snap = &snap
	return nil
}

func (s *memStore) Load(ctx context.Context) (Snapshot, error) {
	if s.snap == nil {
		return Snapshot{}, errors.New("empty")
	}
	return *s.snap, nil
}

type recordingNotifier struct {
	mu          sync.Mutex
	rateChanges int
	updated     []string
}

func (n *recordingNotifier) RateChanged(ctx context.Context, price decimal.Decimal, observedAt time.Time) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.rateChanges++
}

func (n *recordingNotifier) DealUpdated(ctx context.Context, deal models.Deal) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.updated = append(n.updated, deal.ID)
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// sequenceOracle returns prices in order, repeating the last one.
type sequenceOracle struct {
	mu     sync.Mutex
	prices []string
}

func (o *sequenceOracle) Price(ctx context.Context) (decimal.Decimal, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	p := o.prices[0]
	if len(o.prices) > 1 {
		o.prices = o.prices[1:]
	}
	return decimal.RequireFromString(p), nil
}

// gatedStore holds its first Save until release is closed.
type gatedStore struct {
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (s *gatedStore) Save(ctx context.Context, snap Snapshot) error {
	first := false
	s.once.Do(func() { first = true })
	if first {
		close(s.entered)
		<-s.release
	}
	return nil
}

func (s *gatedStore) Load(ctx context.Context) (Snapshot, error) {
	return Snapshot{}, errors.New("empty")
}

func TestCurrentBeforeFirstFetch(t *testing.T) {
	c := NewCache(&fakeOracle{}, nil, nil, nil, 8, zap.NewNop())
	if _, err := c.Current(); !errors.Is(err, ErrNoRateAvailable) {
		t.Fatalf("Current() err = %v, want ErrNoRateAvailable", err)
	}
	if _, _, err := c.ConvertUSDToCoin(d("1")); !errors.Is(err, ErrNoRateAvailable) {
		t.Fatalf("ConvertUSDToCoin err = %v, want ErrNoRateAvailable", err)
	}
}

func TestConversions(t *testing.T) {
	tests := []struct {
		name     string
		price    string
		decimals int32
		usd      string
		want     string
	}{
		{"ltc", "65", 8, "1.50", "0.02307692"},
		{"ltc round half up", "3", 8, "2", "0.66666667"},
		{"ton nine decimals", "5.5", 9, "1", "0.181818182"},
		{"minimum", "100", 8, "0.10", "0.001"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := &fakeOracle{}
			o.set(tt.price, nil)
			c := NewCache(o, nil, nil, nil, tt.decimals, zap.NewNop())
			if _, err := c.Refresh(context.Background()); err != nil {
				t.Fatalf("Refresh: %v", err)
			}

			coin, rate, err := c.ConvertUSDToCoin(d(tt.usd))
			if err != nil {
				t.Fatalf("ConvertUSDToCoin: %v", err)
			}
			if !coin.Equal(d(tt.want)) {
				t.Errorf("coin = %s, want %s", coin, tt.want)
			}
			if !rate.Equal(d(tt.price)) {
				t.Errorf("rate = %s, want %s", rate, tt.price)
			}
		})
	}
}

func TestConvertCoinToUSD(t *testing.T) {
	o := &fakeOracle{}
	o.set("65", nil)
	c := NewCache(o, nil, nil, nil, 8, zap.NewNop())
	_, _ = c.Refresh(context.Background())

	usd, err := c.ConvertCoinToUSD(d("0.02307692"))
	if err != nil {
		t.Fatalf("ConvertCoinToUSD: %v", err)
	}
	if !usd.Equal(d("1.5")) {
		t.Errorf("usd = %s, want 1.5", usd)
	}
}

func TestRefreshFailureKeepsSnapshot(t *testing.T) {
	o := &fakeOracle{}
	o.set("65", nil)
	c := NewCache(o, nil, nil, nil, 8, zap.NewNop())
	if _, err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	first, _ := c.Current()

	o.set("", errors.New("oracle down"))
	changed, err := c.Refresh(context.Background())
	if err == nil {
		t.Fatal("expected refresh error")
	}
	if changed {
		t.Error("failed refresh reported a change")
	}

	got, err := c.Current()
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if !got.Price.Equal(first.Price) || !got.ObservedAt.Equal(first.ObservedAt) {
		t.Errorf("snapshot changed after failure: %+v -> %+v", first, got)
	}
}

func TestRefreshRepricesOnlyBeforeInvoice(t *testing.T) {
	reg := registry.New()
	deals := []models.Deal{
		{ID: "pending", Stage: models.StageAmountConfirmation, AmountUSD: d("1.50"), AmountCoin: d("0.02307692"), Rate: d("65")},
		{ID: "no-amount", Stage: models.StageAwaitingAmount},
		{ID: "invoiced", Stage: models.StageAwaitingPayment, AmountUSD: d("1.50"), AmountCoin: d("0.02307692"), Rate: d("65")},
	}
	for _, deal := range deals {
		if _, err := reg.Create(deal); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	o := &fakeOracle{}
	o.set("65", nil)
	n := &recordingNotifier{}
	c := NewCache(o, nil, reg, n, 8, zap.NewNop())
	_, _ = c.Refresh(context.Background())
	n.updated = nil
	n.rateChanges = 0

	o.set("75", nil)
	changed, err := c.Refresh(context.Background())
	if err != nil || !changed {
		t.Fatalf("Refresh changed=%v err=%v", changed, err)
	}

	pending, _ := reg.Get("pending")
	if !pending.AmountCoin.Equal(d("0.02")) || !pending.Rate.Equal(d("75")) {
		t.Errorf("pending deal not repriced: coin=%s rate=%s", pending.AmountCoin, pending.Rate)
	}
	invoiced, _ := reg.Get("invoiced")
	if !invoiced.AmountCoin.Equal(d("0.02307692")) {
		t.Errorf("invoiced deal repriced: coin=%s", invoiced.AmountCoin)
	}
	noAmount, _ := reg.Get("no-amount")
	if !noAmount.AmountCoin.IsZero() {
		t.Errorf("deal without amount repriced: coin=%s", noAmount.AmountCoin)
	}

	if len(n.updated) != 1 || n.updated[0] != "pending" {
		t.Errorf("DealUpdated for %v, want [pending]", n.updated)
	}
	if n.rateChanges != 1 {
		t.Errorf("RateChanged calls = %d, want 1", n.rateChanges)
	}

	// same price again: nothing to reprice
	changed, _ = c.Refresh(context.Background())
	if changed {
		t.Error("unchanged price reported as changed")
	}
	if n.rateChanges != 1 {
		t.Errorf("RateChanged calls = %d after unchanged refresh", n.rateChanges)
	}
}

func TestConcurrentRefreshAppliesInFetchOrder(t *testing.T) {
	reg := registry.New()
	if _, err := reg.Create(models.Deal{ID: "pending", Stage: models.StageAmountConfirmation, AmountUSD: d("8"), Rate: d("50")}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	store := &gatedStore{entered: make(chan struct{}), release: make(chan struct{})}
	c := NewCache(&sequenceOracle{prices: []string{"65", "80"}}, store, reg, nil, 8, zap.NewNop())

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = c.Refresh(context.Background())
	}()
	<-store.entered

	go func() {
		defer wg.Done()
		_, _ = c.Refresh(context.Background())
	}()
	time.Sleep(20 * time.Millisecond)
	close(store.release)
	wg.Wait()

	snap, err := c.Current()
	if err != nil || !snap.Price.Equal(d("80")) {
		t.Fatalf("Current = %s, %v, want 80", snap.Price, err)
	}
	deal, _ := reg.Get("pending")
	if !deal.Rate.Equal(d("80")) || !deal.AmountCoin.Equal(d("0.1")) {
		t.Errorf("deal priced at rate=%s coin=%s, want the latest rate 80", deal.Rate, deal.AmountCoin)
	}
}

func TestStoreRoundTripOnRestore(t *testing.T) {
	store := &memStore{}
	o := &fakeOracle{}
	o.set("65", nil)
	c := NewCache(o, store, nil, nil, 8, zap.NewNop())
	_, _ = c.Refresh(context.Background())
	if store.snap == nil {
		t.Fatal("snapshot not persisted")
	}

	restarted := NewCache(&fakeOracle{err: errors.New("down")}, store, nil, nil, 8, zap.NewNop())
	restarted.Restore(context.Background())
	snap, err := restarted.Current()
	if err != nil {
		t.Fatalf("Current after Restore: %v", err)
	}
	if !snap.Price.Equal(d("65")) {
		t.Errorf("restored price = %s, want 65", snap.Price)
	}
}

func TestRunRefreshesImmediately(t *testing.T) {
	o := &fakeOracle{}
	o.set("65", nil)
	c := NewCache(o, nil, nil, nil, 8, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx, time.Hour)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for {
		if _, err := c.Current(); err == nil {
			break
		}
		select {
		case <-deadline:
			t.Fatal("Run did not refresh")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	<-done
}

func TestCoinGeckoPrice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/simple/price" || r.URL.Query().Get("ids") != "litecoin" || r.URL.Query().Get("vs_currencies") != "usd" {
			t.Errorf("unexpected request %s", r.URL.String())
		}
		_, _ = w.Write([]byte(`{"litecoin":{"usd":65.12}}`))
	}))
	defer srv.Close()

	price, err := NewCoinGecko(srv.URL, "litecoin", zap.NewNop()).Price(context.Background())
	if err != nil {
		t.Fatalf("Price: %v", err)
	}
	if !price.Equal(d("65.12")) {
		t.Errorf("price = %s, want 65.12", price)
	}
}

func TestCoinGeckoErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"rate limited", http.StatusTooManyRequests, `{}`},
		{"missing coin", http.StatusOK, `{"bitcoin":{"usd":1}}`},
		{"zero price", http.StatusOK, `{"litecoin":{"usd":0}}`},
		{"garbage", http.StatusOK, `not json`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			if _, err := NewCoinGecko(srv.URL, "litecoin", zap.NewNop()).Price(context.Background()); err == nil {
				t.Error("expected error")
			}
		})
	}
}
