package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// IndexRecord is one registered index: its normalized name, the first time
// a document was uploaded into it, and the last time any document in it
// changed. Kernel Memory's per-index embedding tables (idx_<name>, created
// lazily by memorydb.PgvectorMemoryDB) carry the vectors; this table is the
// queryable catalog of which indexes exist at all, for callers that want to
// list indexes without scanning information_schema themselves.
type IndexRecord struct {
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IndexRegistry implements the index-catalog half of repository (§0): a
// small postgres-backed CRUD surface over the registry table the migration
// runner creates, following the same Repo-wraps-pgxpool.Pool shape as the
// teacher's FolderRepo.
type IndexRegistry struct {
	pool *pgxpool.Pool
}

// NewIndexRegistry creates an IndexRegistry.
func NewIndexRegistry(pool *pgxpool.Pool) *IndexRegistry {
	return &IndexRegistry{pool: pool}
}

// Touch upserts an index's registry row: first-seen indexes are inserted,
// already-known indexes only get their updated_at bumped. Handlers call
// this whenever a document lands in an index (upload, or any step that
// mutates an index's embedding records), so the registry never needs its
// own separate "create index" operation.
func (r *IndexRegistry) Touch(ctx context.Context, name string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO kernel_memory_indexes (name, created_at, updated_at)
		VALUES ($1, now(), now())
		ON CONFLICT (name) DO UPDATE SET updated_at = now()`,
		name,
	)
	if err != nil {
		return fmt.Errorf("repository.IndexRegistry.Touch: %w", err)
	}
	return nil
}

// List returns every registered index, most recently updated first.
func (r *IndexRegistry) List(ctx context.Context) ([]IndexRecord, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT name, created_at, updated_at FROM kernel_memory_indexes ORDER BY updated_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("repository.IndexRegistry.List: %w", err)
	}
	defer rows.Close()

	var out []IndexRecord
	for rows.Next() {
		var rec IndexRecord
		if err := rows.Scan(&rec.Name, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("repository.IndexRegistry.List: scan: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository.IndexRegistry.List: %w", err)
	}
	return out, nil
}

// Delete removes an index's registry row. It does not touch the index's
// embedding table or documents — callers run this after DeleteIndexHandler
// has already torn down the Memory DB and Document Store sides.
func (r *IndexRegistry) Delete(ctx context.Context, name string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM kernel_memory_indexes WHERE name = $1`, name)
	if err != nil {
		return fmt.Errorf("repository.IndexRegistry.Delete: %w", err)
	}
	return nil
}

// Get returns a single index's registry row, or pgx.ErrNoRows if it has
// never been touched.
func (r *IndexRegistry) Get(ctx context.Context, name string) (IndexRecord, error) {
	var rec IndexRecord
	err := r.pool.QueryRow(ctx,
		`SELECT name, created_at, updated_at FROM kernel_memory_indexes WHERE name = $1`,
		name,
	).Scan(&rec.Name, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return IndexRecord{}, err
		}
		return IndexRecord{}, fmt.Errorf("repository.IndexRegistry.Get: %w", err)
	}
	return rec, nil
}
