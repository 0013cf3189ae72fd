package models

import "time"

const (
	EscrowStatusAwaiting = "awaiting"
	EscrowStatusFunded   = "funded"
	EscrowStatusReleased = "released"
	EscrowStatusExpired  = "expired"
)

// EscrowLedger is the durable record of one invoiced deal.
type EscrowLedger struct {
	DealID          string     `json:"deal_id"`
	DealCode        string     `json:"deal_code"`
	Network         string     `json:"network"`
	AmountUSD       string     `json:"amount_usd"`
	AmountCoin      string     `json:"amount_coin"`
	Rate            string     `json:"rate"`
	DepositAddress  string     `json:"deposit_address"`
	SenderID        int64      `json:"sender_id"`
	ReceiverID      int64      `json:"receiver_id"`
	FundedAt        *time.Time `json:"funded_at,omitempty"`
	FundingTxHash   *string    `json:"funding_tx_hash,omitempty"`
	ReleaseAddress  *string    `json:"release_address,omitempty"`
	ReleaseTxHash   *string    `json:"release_tx_hash,omitempty"`
	ReleasedAt      *time.Time `json:"released_at,omitempty"`
	ReleasedByAdmin bool       `json:"released_by_admin"`
	Status          string     `json:"status"`
	CreatedAt       time.Time  `json:"created_at"`
}
