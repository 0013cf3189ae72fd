package ton

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/chat-escrow/backend/internal/chain"
	"github.com/shopspring/decimal"
	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/liteclient"
	"github.com/xssnick/tonutils-go/tlb"
	liteapi "github.com/xssnick/tonutils-go/ton"
	"github.com/xssnick/tonutils-go/ton/wallet"
	"go.uber.org/zap"
)

const (
	Decimals    = 9
	txBatchSize = 100
)

type Config struct {
	Network        string // mainnet/testnet
	LiteServerHost string
	LiteServerPort int
	LiteServerKey  string
}

// Connect establishes a connection to the TON network.
// If a lite server host and key are set, connects to that server only.
// Otherwise, lite servers are discovered from the global config for the network.
func Connect(ctx context.Context, cfg Config, log *zap.Logger) (liteapi.APIClientWrapped, error) {
	client := liteclient.NewConnectionPool()

	if cfg.LiteServerHost != "" && cfg.LiteServerKey != "" {
		addr := fmt.Sprintf("%s:%d", cfg.LiteServerHost, cfg.LiteServerPort)
		log.Info("connecting to lite server", zap.String("addr", addr))
		if err := client.AddConnection(ctx, addr, cfg.LiteServerKey); err != nil {
			return nil, fmt.Errorf("connect to lite server %s: %w", addr, err)
		}
	} else {
		configURL := "https://ton.org/testnet-global.config.json"
		if strings.EqualFold(cfg.Network, "mainnet") {
			configURL = "https://ton.org/global.config.json"
		}
		log.Info("connecting via global config", zap.String("url", configURL), zap.String("network", cfg.Network))
		if err := client.AddConnectionsFromConfigUrl(ctx, configURL); err != nil {
			return nil, fmt.Errorf("connect via config %s: %w", configURL, err)
		}
	}

	proofPolicy := liteapi.ProofCheckPolicyFast
	if strings.EqualFold(cfg.Network, "mainnet") {
		proofPolicy = liteapi.ProofCheckPolicySecure
	}

	return liteapi.NewAPIClient(client, proofPolicy).WithRetry(), nil
}

type accountAPI interface {
	CurrentMasterchainInfo(ctx context.Context) (*liteapi.BlockIDExt, error)
	GetAccount(ctx context.Context, block *liteapi.BlockIDExt, addr *address.Address) (*tlb.Account, error)
	ListTransactions(ctx context.Context, addr *address.Address, num uint32, lt uint64, txHash []byte) ([]*tlb.Transaction, error)
}

// Lookup lists incoming transfers of an account from lite servers.
// TON has fast finality, so every returned transfer is reported with
// the configured confirmation threshold.
type Lookup struct {
	api           accountAPI
	confirmations int
	log           *zap.Logger
}

func NewLookup(api accountAPI, confirmations int, log *zap.Logger) *Lookup {
	return &Lookup{api: api, confirmations: confirmations, log: log}
}

func (l *Lookup) AddressTransactions(ctx context.Context, addr string) ([]chain.Transaction, error) {
	account, err := address.ParseAddr(addr)
	if err != nil {
		return nil, fmt.Errorf("parse address: %w", err)
	}

	block, err := l.api.CurrentMasterchainInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("get master block: %w", err)
	}

	state, err := l.api.GetAccount(ctx, block, account)
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	if state == nil || !state.IsActive || state.LastTxLT == 0 {
		return nil, nil
	}

	txs, err := l.api.ListTransactions(ctx, account, txBatchSize, state.LastTxLT, state.LastTxHash)
	if err != nil {
		return nil, fmt.Errorf("list transactions (lt=%d): %w", state.LastTxLT, err)
	}

	out := make([]chain.Transaction, 0, len(txs))
	for _, tx := range txs {
		if t, ok := l.incoming(tx); ok {
			out = append(out, t)
		}
	}
	return out, nil
}

func (l *Lookup) incoming(tx *tlb.Transaction) (chain.Transaction, bool) {
	if tx == nil || tx.IO.In == nil {
		return chain.Transaction{}, false
	}
	inMsg, ok := tx.IO.In.Msg.(*tlb.InternalMessage)
	if !ok || inMsg == nil || inMsg.Bounced {
		return chain.Transaction{}, false
	}
	nano := inMsg.Amount.Nano()
	if nano.Sign() <= 0 {
		return chain.Transaction{}, false
	}

	from := ""
	if inMsg.SrcAddr != nil {
		from = inMsg.SrcAddr.String()
	}
	return chain.Transaction{
		TxID:          hex.EncodeToString(tx.Hash),
		Value:         decimal.NewFromBigInt(nano, -Decimals),
		Confirmations: l.confirmations,
		Time:          time.Unix(int64(tx.Now), 0),
		From:          from,
		Memo:          extractComment(inMsg),
	}, true
}

// extractComment parses a text comment from an InternalMessage body.
// Text comments have opcode 0x00000000 followed by UTF-8 text.
func extractComment(inMsg *tlb.InternalMessage) string {
	body := inMsg.Body
	if body == nil {
		return ""
	}

	slice := body.BeginParse()
	if slice.BitsLeft() < 32 {
		return ""
	}

	op, err := slice.LoadUInt(32)
	if err != nil || op != 0 {
		return ""
	}

	remaining := slice.BitsLeft()
	if remaining < 8 {
		return ""
	}

	data, err := slice.LoadSlice(remaining)
	if err != nil {
		return ""
	}

	return strings.TrimSpace(string(data))
}

// WalletBroadcaster pays out from a v4r2 wallet derived from the seed
// phrase passed as the key.
type WalletBroadcaster struct {
	api liteapi.APIClientWrapped
	log *zap.Logger
}

func NewWalletBroadcaster(api liteapi.APIClientWrapped, log *zap.Logger) *WalletBroadcaster {
	return &WalletBroadcaster{api: api, log: log}
}

func (b *WalletBroadcaster) Send(ctx context.Context, to string, amount decimal.Decimal, key string) (string, error) {
	dst, err := address.ParseAddr(to)
	if err != nil {
		return "", fmt.Errorf("parse destination: %w", err)
	}
	if !amount.IsPositive() {
		return "", fmt.Errorf("amount must be positive")
	}

	coins, err := tlb.FromTON(amount.StringFixed(Decimals))
	if err != nil {
		return "", fmt.Errorf("convert amount: %w", err)
	}

	w, err := wallet.FromSeed(b.api, strings.Fields(key), wallet.V4R2)
	if err != nil {
		return "", fmt.Errorf("load wallet: %w", err)
	}
	if w.WalletAddress().Equals(dst) {
		return "", fmt.Errorf("destination is the custodial address")
	}

	tx, _, err := w.TransferWaitTransaction(ctx, dst, coins, "")
	if err != nil {
		return "", fmt.Errorf("transfer: %w", err)
	}

	txid := hex.EncodeToString(tx.Hash)
	b.log.Info("payout broadcast",
		zap.String("txid", txid),
		zap.String("to", dst.String()),
		zap.String("amount", coins.String()),
	)
	return txid, nil
}

type AddressValidator struct{}

func NewAddressValidator() AddressValidator { return AddressValidator{} }

func (AddressValidator) ValidateAddress(addr string) error {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return fmt.Errorf("empty address")
	}
	if _, err := address.ParseAddr(addr); err != nil {
		return fmt.Errorf("invalid TON address: %w", err)
	}
	return nil
}
