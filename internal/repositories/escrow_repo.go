package repositories

import (
	"context"
	"errors"

	"github.com/chat-escrow/backend/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrLedgerNotFound = errors.New("escrow ledger entry not found")

// EscrowRepo persists invoiced deals so funded escrows survive a restart of
// the in-memory registry.
type EscrowRepo struct {
	pool *pgxpool.Pool
}

func NewEscrowRepo(pool *pgxpool.Pool) *EscrowRepo {
	return &EscrowRepo{pool: pool}
}

func (r *EscrowRepo) Create(ctx context.Context, e *models.EscrowLedger) error {
	if e.Status == "" {
		e.Status = models.EscrowStatusAwaiting
	}
	return r.pool.QueryRow(ctx, `
		INSERT INTO escrow_ledger (deal_id, deal_code, network, amount_usd, amount_coin, rate,
		                           deposit_address, sender_id, receiver_id, status)
		VALUES ($1, $2, $3, $4::numeric, $5::numeric, $6::numeric, $7, $8, $9, $10)
		ON CONFLICT (deal_id) DO UPDATE SET amount_coin = EXCLUDED.amount_coin, rate = EXCLUDED.rate
		RETURNING created_at
	`, e.DealID, e.DealCode, e.Network, e.AmountUSD, e.AmountCoin, e.Rate,
		e.DepositAddress, e.SenderID, e.ReceiverID, e.Status).Scan(&e.CreatedAt)
}

const ledgerColumns = `
	deal_id, deal_code, network, amount_usd::text, amount_coin::text, rate::text,
	deposit_address, sender_id, receiver_id,
	funded_at, funding_tx_hash, release_address, release_tx_hash, released_at,
	released_by_admin, status, created_at`

func scanLedger(row pgx.Row) (*models.EscrowLedger, error) {
	var e models.EscrowLedger
	err := row.Scan(&e.DealID, &e.DealCode, &e.Network, &e.AmountUSD, &e.AmountCoin, &e.Rate,
		&e.DepositAddress, &e.SenderID, &e.ReceiverID,
		&e.FundedAt, &e.FundingTxHash, &e.ReleaseAddress, &e.ReleaseTxHash, &e.ReleasedAt,
		&e.ReleasedByAdmin, &e.Status, &e.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrLedgerNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *EscrowRepo) GetByDealID(ctx context.Context, dealID string) (*models.EscrowLedger, error) {
	return scanLedger(r.pool.QueryRow(ctx, `SELECT `+ledgerColumns+` FROM escrow_ledger WHERE deal_id = $1`, dealID))
}

func (r *EscrowRepo) GetByCode(ctx context.Context, code string) (*models.EscrowLedger, error) {
	return scanLedger(r.pool.QueryRow(ctx, `SELECT `+ledgerColumns+` FROM escrow_ledger WHERE deal_code = $1`, code))
}

// ListByStatus returns entries in creation order.
func (r *EscrowRepo) ListByStatus(ctx context.Context, status string, limit int) ([]models.EscrowLedger, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `SELECT `+ledgerColumns+` FROM escrow_ledger WHERE status = $1 ORDER BY created_at LIMIT $2`, status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.EscrowLedger
	for rows.Next() {
		e, err := scanLedger(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func (r *EscrowRepo) MarkFunded(ctx context.Context, dealID, txHash string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE escrow_ledger SET status = 'funded', funded_at = now(), funding_tx_hash = $1
		WHERE deal_id = $2 AND status = 'awaiting'
	`, txHash, dealID)
	return err
}

func (r *EscrowRepo) MarkReleased(ctx context.Context, dealID, address, txHash string, byOperator bool) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE escrow_ledger
		SET status = 'released', released_at = now(), release_address = $1, release_tx_hash = $2, released_by_admin = $3
		WHERE deal_id = $4 AND status IN ('awaiting', 'funded')
	`, address, txHash, byOperator, dealID)
	return err
}

func (r *EscrowRepo) MarkExpired(ctx context.Context, dealID string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE escrow_ledger SET status = 'expired'
		WHERE deal_id = $1 AND status = 'awaiting'
	`, dealID)
	return err
}
