package litecoin

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/ybbus/jsonrpc/v3"
	"go.uber.org/zap"
)

const coinDecimals = 8

var dustThreshold = decimal.New(1, -5)

// RPCBroadcaster builds, signs and broadcasts payouts through a litecoind
// node. The node needs no wallet: inputs come from scantxoutset and the
// transaction is signed with the custodial WIF key.
type RPCBroadcaster struct {
	rpc              jsonrpc.RPCClient
	custodialAddress string
	fee              decimal.Decimal
	log              *zap.Logger
}

func NewRPCBroadcaster(endpoint, user, password, custodialAddress string, fee decimal.Decimal, log *zap.Logger) *RPCBroadcaster {
	headers := map[string]string{}
	if user != "" {
		creds := base64.StdEncoding.EncodeToString([]byte(user + ":" + password))
		headers["Authorization"] = "Basic " + creds
	}
	client := jsonrpc.NewClientWithOpts(endpoint, &jsonrpc.RPCClientOpts{
		HTTPClient:    &http.Client{Timeout: 30 * time.Second},
		CustomHeaders: headers,
	})
	return &RPCBroadcaster{
		rpc:              client,
		custodialAddress: custodialAddress,
		fee:              fee,
		log:              log,
	}
}

type scanResult struct {
	Success  bool `json:"success"`
	Unspents []struct {
		TxID   string          `json:"txid"`
		Vout   int             `json:"vout"`
		Amount decimal.Decimal `json:"amount"`
	} `json:"unspents"`
	TotalAmount decimal.Decimal `json:"total_amount"`
}

type txInput struct {
	TxID string `json:"txid"`
	Vout int    `json:"vout"`
}

type signResult struct {
	Hex      string `json:"hex"`
	Complete bool   `json:"complete"`
}

func amountParam(d decimal.Decimal) json.Number {
	return json.Number(d.StringFixed(coinDecimals))
}

func (b *RPCBroadcaster) Send(ctx context.Context, to string, amount decimal.Decimal, key string) (string, error) {
	if to == b.custodialAddress {
		return "", fmt.Errorf("destination is the custodial address")
	}
	if !amount.IsPositive() {
		return "", fmt.Errorf("amount must be positive")
	}

	var scan scanResult
	err := b.rpc.CallFor(ctx, &scan, "scantxoutset", "start", []string{"addr(" + b.custodialAddress + ")"})
	if err != nil {
		return "", fmt.Errorf("scantxoutset: %w", err)
	}
	if !scan.Success {
		return "", fmt.Errorf("scantxoutset did not complete")
	}

	need := amount.Add(b.fee)
	var inputs []txInput
	total := decimal.Zero
	for _, u := range scan.Unspents {
		inputs = append(inputs, txInput{TxID: u.TxID, Vout: u.Vout})
		total = total.Add(u.Amount)
		if total.GreaterThanOrEqual(need) {
			break
		}
	}
	if total.LessThan(need) {
		return "", fmt.Errorf("insufficient custodial balance: have %s, need %s", total.StringFixed(coinDecimals), need.StringFixed(coinDecimals))
	}

	outputs := map[string]json.Number{to: amountParam(amount)}
	if change := total.Sub(need); change.GreaterThan(dustThreshold) {
		outputs[b.custodialAddress] = amountParam(change)
	}

	var rawHex string
	if err := b.rpc.CallFor(ctx, &rawHex, "createrawtransaction", inputs, outputs); err != nil {
		return "", fmt.Errorf("createrawtransaction: %w", err)
	}

	var signed signResult
	if err := b.rpc.CallFor(ctx, &signed, "signrawtransactionwithkey", rawHex, []string{key}); err != nil {
		return "", fmt.Errorf("signrawtransactionwithkey: %w", err)
	}
	if !signed.Complete {
		return "", fmt.Errorf("transaction signing incomplete")
	}

	var txid string
	if err := b.rpc.CallFor(ctx, &txid, "sendrawtransaction", signed.Hex); err != nil {
		return "", fmt.Errorf("sendrawtransaction: %w", err)
	}

	b.log.Info("payout broadcast",
		zap.String("txid", txid),
		zap.String("to", to),
		zap.String("amount", amount.StringFixed(coinDecimals)),
		zap.Int("inputs", len(inputs)),
	)
	return txid, nil
}
