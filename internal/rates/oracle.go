package rates

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Oracle returns the current USD price of one coin.
type Oracle interface {
	Price(ctx context.Context) (decimal.Decimal, error)
}

// CoinGecko queries the simple/price endpoint for a single coin id.
type CoinGecko struct {
	baseURL    string
	coinID     string
	httpClient *http.Client
	log        *zap.Logger
}

func NewCoinGecko(baseURL, coinID string, log *zap.Logger) *CoinGecko {
	return &CoinGecko{
		baseURL: strings.TrimRight(baseURL, "/"),
		coinID:  coinID,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		log: log,
	}
}

func (c *CoinGecko) Price(ctx context.Context) (decimal.Decimal, error) {
	q := url.Values{}
	q.Set("ids", c.coinID)
	q.Set("vs_currencies", "usd")
	endpoint := c.baseURL + "/simple/price?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return decimal.Zero, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("price oracle unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return decimal.Zero, fmt.Errorf("price oracle returned %d: %s", resp.StatusCode, string(body))
	}

	var parsed map[string]map[string]decimal.Decimal
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return decimal.Zero, fmt.Errorf("decode price response: %w", err)
	}
	price, ok := parsed[c.coinID]["usd"]
	if !ok {
		return decimal.Zero, fmt.Errorf("price response has no usd quote for %s", c.coinID)
	}
	if !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("non-positive price %s for %s", price, c.coinID)
	}
	return price, nil
}
