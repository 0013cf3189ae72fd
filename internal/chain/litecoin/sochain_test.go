package litecoin

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func TestSoChainAddressTransactions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/address/LTC/Laddr" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{
			"status": "success",
			"data": {
				"address": "Laddr",
				"txs": [
					{"txid": "abc", "value": "0.02307692", "confirmations": 3, "time": 1700000000},
					{"txid": "def", "value": "1.00000000", "confirmations": 120, "time": 1690000000}
				]
			}
		}`))
	}))
	defer srv.Close()

	c := NewSoChainClient(srv.URL+"/", zap.NewNop())
	txs, err := c.AddressTransactions(context.Background(), "Laddr")
	if err != nil {
		t.Fatalf("AddressTransactions: %v", err)
	}
	if len(txs) != 2 {
		t.Fatalf("len(txs) = %d, want 2", len(txs))
	}
	if txs[0].TxID != "abc" || txs[0].Confirmations != 3 {
		t.Errorf("txs[0] = %+v", txs[0])
	}
	if !txs[0].Value.Equal(decimal.RequireFromString("0.02307692")) {
		t.Errorf("txs[0].Value = %s", txs[0].Value)
	}
	if txs[0].Time.Unix() != 1700000000 {
		t.Errorf("txs[0].Time = %v", txs[0].Time)
	}
}

func TestSoChainNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewSoChainClient(srv.URL, zap.NewNop())
	if _, err := c.AddressTransactions(context.Background(), "Laddr"); err == nil {
		t.Fatal("expected error on 429")
	}
}

func TestSoChainFailStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"fail","data":{}}`))
	}))
	defer srv.Close()

	c := NewSoChainClient(srv.URL, zap.NewNop())
	if _, err := c.AddressTransactions(context.Background(), "Laddr"); err == nil {
		t.Fatal("expected error on fail status")
	}
}
