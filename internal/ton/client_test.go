package ton

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/tlb"
	liteapi "github.com/xssnick/tonutils-go/ton"
	"github.com/xssnick/tonutils-go/tvm/cell"
	"go.uber.org/zap"
)

const (
	hotWallet = "EQCD39VS5jcptHL8vMjEXrzGaRcCVYto7HUn4bpAOg8xqB2N"
	payer     = "EQDtFpEwcFAEcRe5mLVh2N6C0x-_hJEM7W61_JLnSF74p4q2"
)

type fakeAccountAPI struct {
	account *tlb.Account
	txs     []*tlb.Transaction
	err     error
	listed  int
}

func (f *fakeAccountAPI) CurrentMasterchainInfo(ctx context.Context) (*liteapi.BlockIDExt, error) {
	return &liteapi.BlockIDExt{}, f.err
}

func (f *fakeAccountAPI) GetAccount(ctx context.Context, block *liteapi.BlockIDExt, addr *address.Address) (*tlb.Account, error) {
	return f.account, nil
}

func (f *fakeAccountAPI) ListTransactions(ctx context.Context, addr *address.Address, num uint32, lt uint64, txHash []byte) ([]*tlb.Transaction, error) {
	f.listed++
	return f.txs, nil
}

func comment(text string) *cell.Cell {
	return cell.BeginCell().MustStoreUInt(0, 32).MustStoreSlice([]byte(text), uint(len(text)*8)).EndCell()
}

func incomingTx(hash byte, amount string, bounced bool, body *cell.Cell) *tlb.Transaction {
	tx := &tlb.Transaction{LT: uint64(hash), Now: 1700000000, Hash: []byte{hash}}
	tx.IO.In = &tlb.Message{
		MsgType: tlb.MsgTypeInternal,
		Msg: &tlb.InternalMessage{
			Bounced: bounced,
			SrcAddr: address.MustParseAddr(payer),
			DstAddr: address.MustParseAddr(hotWallet),
			Amount:  tlb.MustFromTON(amount),
			Body:    body,
		},
	}
	return tx
}

func TestLookupAddressTransactions(t *testing.T) {
	api := &fakeAccountAPI{
		account: &tlb.Account{IsActive: true, LastTxLT: 10, LastTxHash: []byte{0x0a}},
		txs: []*tlb.Transaction{
			incomingTx(0x01, "0.5", false, comment("ABC123")),
			incomingTx(0x02, "1", true, nil),
			{LT: 3, Hash: []byte{0x03}},
		},
	}

	l := NewLookup(api, 6, zap.NewNop())
	txs, err := l.AddressTransactions(context.Background(), hotWallet)
	if err != nil {
		t.Fatalf("AddressTransactions: %v", err)
	}
	if len(txs) != 1 {
		t.Fatalf("len(txs) = %d, want 1 (bounced and outgoing skipped)", len(txs))
	}

	got := txs[0]
	if got.TxID != "01" {
		t.Errorf("TxID = %q, want 01", got.TxID)
	}
	if !got.Value.Equal(decimal.RequireFromString("0.5")) {
		t.Errorf("Value = %s, want 0.5", got.Value)
	}
	if got.Confirmations != 6 {
		t.Errorf("Confirmations = %d, want 6", got.Confirmations)
	}
	if got.Memo != "ABC123" {
		t.Errorf("Memo = %q, want ABC123", got.Memo)
	}
}

func TestLookupInactiveAccount(t *testing.T) {
	api := &fakeAccountAPI{account: &tlb.Account{IsActive: false}}
	l := NewLookup(api, 6, zap.NewNop())

	txs, err := l.AddressTransactions(context.Background(), hotWallet)
	if err != nil {
		t.Fatalf("AddressTransactions: %v", err)
	}
	if len(txs) != 0 || api.listed != 0 {
		t.Errorf("inactive account: txs=%d listed=%d", len(txs), api.listed)
	}
}

func TestLookupErrors(t *testing.T) {
	l := NewLookup(&fakeAccountAPI{err: errors.New("timeout")}, 6, zap.NewNop())
	if _, err := l.AddressTransactions(context.Background(), hotWallet); err == nil {
		t.Error("expected error from lite server")
	}
	if _, err := l.AddressTransactions(context.Background(), "not-an-address"); err == nil {
		t.Error("expected error for bad address")
	}
}

func TestExtractComment(t *testing.T) {
	tests := []struct {
		name string
		body *cell.Cell
		want string
	}{
		{"text", comment("  hello "), "hello"},
		{"nil body", nil, ""},
		{"non-zero opcode", cell.BeginCell().MustStoreUInt(0x0f8a7ea5, 32).EndCell(), ""},
		{"opcode only", cell.BeginCell().MustStoreUInt(0, 32).EndCell(), ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := extractComment(&tlb.InternalMessage{Body: tt.body})
			if got != tt.want {
				t.Errorf("extractComment() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestValidateAddress(t *testing.T) {
	v := NewAddressValidator()
	tests := []struct {
		addr  string
		valid bool
	}{
		{hotWallet, true},
		{payer, true},
		{"EQCD39VS5jcptHL8vMjEXrzGaRcCVYto7HUn4bpAOg8xqB2A", false},
		{"LKKHMBjCU89fyFNgSRprDoD8Jb25N8uWvd", false},
		{"", false},
	}
	for _, tt := range tests {
		err := v.ValidateAddress(tt.addr)
		if (err == nil) != tt.valid {
			t.Errorf("ValidateAddress(%q) err = %v, want valid=%v", tt.addr, err, tt.valid)
		}
	}
}
