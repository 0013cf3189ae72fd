package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Stage string

// Deal stages
const (
	StageRoleSelection      Stage = "role_selection"
	StageRoleConfirmation   Stage = "role_confirmation"
	StageAwaitingAmount     Stage = "awaiting_amount"
	StageAmountConfirmation Stage = "amount_confirmation"
	StageAwaitingPayment    Stage = "awaiting_payment"
	StagePaymentDetected    Stage = "payment_detected"
	StageAwaitingRelease    Stage = "awaiting_release"
	StageReleased           Stage = "released"
	StageCancelled          Stage = "cancelled"
	StageExpired            Stage = "expired"
)

// Valid stage transitions: from -> []to.
// Operator override release is not listed here, see CanOverrideRelease.
var ValidStageTransitions = map[Stage][]Stage{
	StageRoleSelection:      {StageRoleConfirmation, StageCancelled, StageExpired},
	StageRoleConfirmation:   {StageAwaitingAmount, StageRoleSelection, StageExpired},
	StageAwaitingAmount:     {StageAmountConfirmation, StageCancelled, StageExpired},
	StageAmountConfirmation: {StageAwaitingPayment, StageAwaitingAmount, StageExpired},
	StageAwaitingPayment:    {StagePaymentDetected, StageAwaitingRelease, StageExpired},
	StagePaymentDetected:    {StageAwaitingRelease},
	StageAwaitingRelease:    {StageReleased},
	StageReleased:           {},
	StageCancelled:          {},
	StageExpired:            {},
}

func IsValidTransition(from, to Stage) bool {
	allowed, ok := ValidStageTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

func (s Stage) IsTerminal() bool {
	return s == StageReleased || s == StageCancelled || s == StageExpired
}

// BeforeInvoice reports whether the coin amount of a deal in this stage still
// follows the market rate.
func (s Stage) BeforeInvoice() bool {
	switch s {
	case StageRoleSelection, StageRoleConfirmation, StageAwaitingAmount, StageAmountConfirmation:
		return true
	}
	return false
}

// AwaitsInput reports whether the stage is blocked on a single human action
// and therefore runs under the per-message wait.
func (s Stage) AwaitsInput() bool {
	return s.BeforeInvoice()
}

// CanOverrideRelease reports whether an operator may force a release from s.
func CanOverrideRelease(s Stage) bool {
	return !s.IsTerminal() && !s.BeforeInvoice()
}

type Deal struct {
	ID             string          `json:"id"`
	Code           string          `json:"code"`
	CreatorID      int64           `json:"creator_id"`
	CounterpartyID int64           `json:"counterparty_id"`
	Sender         *int64          `json:"sender,omitempty"`
	Receiver       *int64          `json:"receiver,omitempty"`
	Stage          Stage           `json:"stage"`
	AmountUSD      decimal.Decimal `json:"amount_usd"`
	AmountCoin     decimal.Decimal `json:"amount_coin"`
	Rate           decimal.Decimal `json:"rate"`
	StartTime      time.Time       `json:"start_time"`
	InvoicedAt     *time.Time      `json:"invoiced_at,omitempty"`
	Confirmations  int             `json:"confirmations"`
	PaymentTxID    string          `json:"payment_tx_id,omitempty"`
	Acks           []int64         `json:"acks,omitempty"`
	Releasing      bool            `json:"-"`
	ReleaseTxID    string          `json:"release_tx_id,omitempty"`
	ReleaseAddress string          `json:"release_address,omitempty"`
	UpdatedAt      time.Time       `json:"updated_at"`
	// Revision increases by one on every committed change.
	Revision uint64 `json:"revision"`
}

// Clone returns a copy that shares no pointers with d.
func (d Deal) Clone() Deal {
	c := d
	if d.Sender != nil {
		v := *d.Sender
		c.Sender = &v
	}
	if d.Receiver != nil {
		v := *d.Receiver
		c.Receiver = &v
	}
	if d.InvoicedAt != nil {
		v := *d.InvoicedAt
		c.InvoicedAt = &v
	}
	if d.Acks != nil {
		c.Acks = append([]int64(nil), d.Acks...)
	}
	return c
}

func (d *Deal) IsSender(userID int64) bool {
	return d.Sender != nil && *d.Sender == userID
}

func (d *Deal) IsReceiver(userID int64) bool {
	return d.Receiver != nil && *d.Receiver == userID
}

// IsParticipant reports whether userID holds one of the two assigned roles.
func (d *Deal) IsParticipant(userID int64) bool {
	return d.IsSender(userID) || d.IsReceiver(userID)
}

// IsParty reports whether userID belongs to the session at all.
func (d *Deal) IsParty(userID int64) bool {
	return userID == d.CreatorID || userID == d.CounterpartyID || d.IsParticipant(userID)
}

func (d *Deal) HasAmount() bool {
	return d.AmountCoin.IsPositive()
}

func (d *Deal) Ack(userID int64) {
	for _, id := range d.Acks {
		if id == userID {
			return
		}
	}
	d.Acks = append(d.Acks, userID)
}

func (d *Deal) ClearRoles() {
	d.Sender = nil
	d.Receiver = nil
	d.Acks = nil
}

func (d *Deal) ClearAmount() {
	d.AmountUSD = decimal.Zero
	d.AmountCoin = decimal.Zero
	d.Rate = decimal.Zero
	d.Acks = nil
}
