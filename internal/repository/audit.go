package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/connexus-ai/kernel-memory/internal/model"
)

// AuditEntry builds a ready-to-Create audit log entry, generating its id
// and timestamp, so callers never duplicate that bookkeeping at each call
// site.
func AuditEntry(action, index, resourceID, resourceType string) model.AuditLog {
	return model.AuditLog{
		ID:           uuid.NewString(),
		Action:       action,
		Index:        index,
		ResourceID:   resourceID,
		ResourceType: resourceType,
		CreatedAt:    time.Now().UTC(),
	}
}

// AuditRepository persists the pipeline lifecycle events of §4.1/§4.3
// (upload, completed, failed, poisoned, document/index delete) to a
// postgres table, independent of the per-document status JSON the
// Document Store holds.
type AuditRepository struct {
	pool *pgxpool.Pool
}

func NewAuditRepository(pool *pgxpool.Pool) *AuditRepository {
	return &AuditRepository{pool: pool}
}

// Create inserts one audit entry. A nil *AuditRepository is never called
// directly by handlers — callers guard on hc.Audit == nil first.
func (r *AuditRepository) Create(ctx context.Context, entry model.AuditLog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO kernel_memory_audit_log (id, action, index, resource_id, resource_type, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.ID, entry.Action, entry.Index, entry.ResourceID, entry.ResourceType, entry.Details, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("repository.AuditRepository.Create: %w", err)
	}
	return nil
}

// ListFilter narrows List to a resource and/or action.
type ListFilter struct {
	Index      string
	ResourceID string
	Action     string
	Limit      int
}

// List returns audit entries matching f, most recent first.
func (r *AuditRepository) List(ctx context.Context, f ListFilter) ([]model.AuditLog, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT id, action, index, resource_id, resource_type, details, created_at
		FROM kernel_memory_audit_log WHERE 1=1`
	var args []any
	argIdx := 1
	if f.Index != "" {
		query += fmt.Sprintf(" AND index = $%d", argIdx)
		args = append(args, f.Index)
		argIdx++
	}
	if f.ResourceID != "" {
		query += fmt.Sprintf(" AND resource_id = $%d", argIdx)
		args = append(args, f.ResourceID)
		argIdx++
	}
	if f.Action != "" {
		query += fmt.Sprintf(" AND action = $%d", argIdx)
		args = append(args, f.Action)
		argIdx++
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("repository.AuditRepository.List: %w", err)
	}
	defer rows.Close()

	var out []model.AuditLog
	for rows.Next() {
		var e model.AuditLog
		if err := rows.Scan(&e.ID, &e.Action, &e.Index, &e.ResourceID, &e.ResourceType, &e.Details, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("repository.AuditRepository.List: scan: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository.AuditRepository.List: %w", err)
	}
	return out, nil
}
