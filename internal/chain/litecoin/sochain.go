package litecoin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/chat-escrow/backend/internal/chain"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// SoChainClient looks up address transactions through the SoChain v2 API.
type SoChainClient struct {
	baseURL    string
	network    string
	httpClient *http.Client
	log        *zap.Logger
}

func NewSoChainClient(baseURL string, log *zap.Logger) *SoChainClient {
	return &SoChainClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		network: "LTC",
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		log: log,
	}
}

type sochainAddressResponse struct {
	Status string `json:"status"`
	Data   struct {
		Address string `json:"address"`
		Txs     []struct {
			TxID          string          `json:"txid"`
			Value         decimal.Decimal `json:"value"`
			Confirmations int             `json:"confirmations"`
			Time          int64           `json:"time"`
		} `json:"txs"`
	} `json:"data"`
}

func (c *SoChainClient) AddressTransactions(ctx context.Context, address string) ([]chain.Transaction, error) {
	url := fmt.Sprintf("%s/address/%s/%s", c.baseURL, c.network, address)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sochain unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("sochain returned %d: %s", resp.StatusCode, string(body))
	}

	var parsed sochainAddressResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode sochain response: %w", err)
	}
	if parsed.Status != "" && parsed.Status != "success" {
		return nil, fmt.Errorf("sochain status %q", parsed.Status)
	}

	txs := make([]chain.Transaction, 0, len(parsed.Data.Txs))
	for _, tx := range parsed.Data.Txs {
		txs = append(txs, chain.Transaction{
			TxID:          tx.TxID,
			Value:         tx.Value,
			Confirmations: tx.Confirmations,
			Time:          time.Unix(tx.Time, 0),
		})
	}
	return txs, nil
}
