package repositories

import (
	"context"
	"fmt"
	"strings"

	"github.com/chat-escrow/backend/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// EntityDeal is the entity type of deal stage and payout entries.
const EntityDeal = "deal"

const auditColumns = `id, actor_user_id, actor_type, action, entity_type, entity_id, meta, created_at`

// AuditRepo stores the deal audit trail. Deal entries carry the deal code in
// meta so an operator can follow a deal after its session id is gone.
type AuditRepo struct {
	pool *pgxpool.Pool
}

func NewAuditRepo(pool *pgxpool.Pool) *AuditRepo {
	return &AuditRepo{pool: pool}
}

func (r *AuditRepo) Log(ctx context.Context, entry models.AuditLog) error {
	if entry.EntityType == "" {
		entry.EntityType = EntityDeal
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO audit_log (actor_user_id, actor_type, action, entity_type, entity_id, meta)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, entry.ActorUserID, entry.ActorType, entry.Action, entry.EntityType, entry.EntityID, entry.Meta)
	if err != nil {
		return fmt.Errorf("insert audit entry %s: %w", entry.Action, err)
	}
	return nil
}

// GetByEntity returns the newest entries first.
func (r *AuditRepo) GetByEntity(ctx context.Context, entityType, entityID string, limit, offset int) ([]models.AuditLog, error) {
	limit, offset = pageBounds(limit, offset)
	rows, err := r.pool.Query(ctx, `
		SELECT `+auditColumns+`
		FROM audit_log WHERE entity_type = $1 AND entity_id = $2
		ORDER BY created_at DESC LIMIT $3 OFFSET $4
	`, entityType, entityID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query audit for %s %s: %w", entityType, entityID, err)
	}
	return collectAudit(rows)
}

// ListByDealCode returns the stage history of the deal with the given code,
// oldest first.
func (r *AuditRepo) ListByDealCode(ctx context.Context, code string, limit, offset int) ([]models.AuditLog, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	limit, offset = pageBounds(limit, offset)
	rows, err := r.pool.Query(ctx, `
		SELECT `+auditColumns+`
		FROM audit_log WHERE entity_type = $1 AND meta->>'deal_code' = $2
		ORDER BY created_at ASC LIMIT $3 OFFSET $4
	`, EntityDeal, code, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query audit for deal %s: %w", code, err)
	}
	return collectAudit(rows)
}

func collectAudit(rows pgx.Rows) ([]models.AuditLog, error) {
	defer rows.Close()

	var logs []models.AuditLog
	for rows.Next() {
		var l models.AuditLog
		if err := rows.Scan(&l.ID, &l.ActorUserID, &l.ActorType, &l.Action, &l.EntityType, &l.EntityID, &l.Meta, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

func pageBounds(limit, offset int) (int, int) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
