// Package memorydb implements the Memory DB (vector + tag store) contract.
package memorydb

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"log/slog"
	"regexp"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/connexus-ai/kernel-memory/internal/model"
)

// PgvectorMemoryDB implements MemoryDB over Postgres + pgvector, generalizing
// the teacher's ChunkRepo (per-tenant document_chunks table, pgx batch
// insert, "<=>" cosine distance search) into one table per normalized index
// with a jsonb tags column carrying the DNF filter contract.
type PgvectorMemoryDB struct {
	pool  *pgxpool.Pool
	graph *GraphTagIndex // optional, nil unless GRAPH_TAG_INDEX_ENABLED
}

// NewPgvectorMemoryDB creates a PgvectorMemoryDB over an existing pool.
func NewPgvectorMemoryDB(pool *pgxpool.Pool) *PgvectorMemoryDB {
	return &PgvectorMemoryDB{pool: pool}
}

// SetGraphTagIndex attaches the optional Neo4j tag-equality accelerator.
// When set, Upsert/Delete/DeleteIndex mirror membership changes into the
// graph so it stays consistent with the table it indexes.
func (m *PgvectorMemoryDB) SetGraphTagIndex(g *GraphTagIndex) {
	m.graph = g
}

var _ MemoryDB = (*PgvectorMemoryDB)(nil)

var validTableSuffix = regexp.MustCompile(`^[a-z0-9-]+$`)

// tableName maps a normalized index to its backing table. Index names are
// normalized at the model layer before reaching here, but a defensive check
// avoids building a query against an unsanitized identifier.
func tableName(index string) (string, error) {
	if !validTableSuffix.MatchString(index) {
		return "", fmt.Errorf("memorydb.tableName: index %q is not normalized", index)
	}
	return "idx_" + index, nil
}

// CreateIndex creates the backing table for index if absent, sized for
// vectorSize-dimensional embeddings.
func (m *PgvectorMemoryDB) CreateIndex(ctx context.Context, index string, vectorSize int) error {
	table, err := tableName(index)
	if err != nil {
		return err
	}
	_, err = m.pool.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			tags JSONB NOT NULL DEFAULT '{}'::jsonb,
			payload JSONB NOT NULL DEFAULT '{}'::jsonb,
			embedding vector(%d) NOT NULL
		)`, table, vectorSize))
	if err != nil {
		return fmt.Errorf("memorydb.PgvectorMemoryDB.CreateIndex: %w", err)
	}
	_, err = m.pool.Exec(ctx, fmt.Sprintf(
		`CREATE INDEX IF NOT EXISTS %s_tags_idx ON %s USING gin (tags)`, table, table))
	if err != nil {
		return fmt.Errorf("memorydb.PgvectorMemoryDB.CreateIndex: tags index: %w", err)
	}
	slog.Info("memory db index created", "index", index)
	return nil
}

func (m *PgvectorMemoryDB) DeleteIndex(ctx context.Context, index string) error {
	table, err := tableName(index)
	if err != nil {
		return err
	}
	_, err = m.pool.Exec(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s`, table))
	if err != nil {
		return fmt.Errorf("memorydb.PgvectorMemoryDB.DeleteIndex: %w", err)
	}
	if m.graph != nil {
		if err := m.graph.DropIndex(ctx, index); err != nil {
			return fmt.Errorf("memorydb.PgvectorMemoryDB.DeleteIndex: drop from graph: %w", err)
		}
	}
	slog.Info("memory db index deleted", "index", index)
	return nil
}

func (m *PgvectorMemoryDB) ListIndexes(ctx context.Context) ([]string, error) {
	rows, err := m.pool.Query(ctx, `
		SELECT table_name FROM information_schema.tables
		WHERE table_schema = 'public' AND table_name LIKE 'idx_%'`)
	if err != nil {
		return nil, fmt.Errorf("memorydb.PgvectorMemoryDB.ListIndexes: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var table string
		if err := rows.Scan(&table); err != nil {
			return nil, fmt.Errorf("memorydb.PgvectorMemoryDB.ListIndexes: scan: %w", err)
		}
		out = append(out, table[len("idx_"):])
	}
	return out, rows.Err()
}

// Upsert is content-addressed on rec.ID (I5): re-running a handler against
// the same chunk overwrites its row rather than inserting a duplicate.
func (m *PgvectorMemoryDB) Upsert(ctx context.Context, index string, rec model.EmbeddingRecord) (string, error) {
	table, err := tableName(index)
	if err != nil {
		return "", err
	}
	tagsJSON, err := json.Marshal(rec.Tags)
	if err != nil {
		return "", fmt.Errorf("memorydb.PgvectorMemoryDB.Upsert: marshal tags: %w", err)
	}
	payloadJSON, err := json.Marshal(rec.Payload)
	if err != nil {
		return "", fmt.Errorf("memorydb.PgvectorMemoryDB.Upsert: marshal payload: %w", err)
	}
	embedding := pgvector.NewVector(rec.Vector)

	_, err = m.pool.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, tags, payload, embedding)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET tags = $2, payload = $3, embedding = $4`, table),
		rec.ID, tagsJSON, payloadJSON, embedding)
	if err != nil {
		return "", fmt.Errorf("memorydb.PgvectorMemoryDB.Upsert: %w", err)
	}
	if m.graph != nil {
		if err := m.graph.IndexRecord(ctx, index, rec); err != nil {
			return "", fmt.Errorf("memorydb.PgvectorMemoryDB.Upsert: mirror to graph: %w", err)
		}
	}
	return rec.ID, nil
}

// GetList returns every record matching the DNF filter, upgrading any
// record stored without a schema tag in memory before yielding it (§9).
func (m *PgvectorMemoryDB) GetList(ctx context.Context, index string, filters []model.TagFilterGroup, limit int, withEmbeddings bool) (iter.Seq2[model.EmbeddingRecord, error], error) {
	table, err := tableName(index)
	if err != nil {
		return nil, err
	}
	where, args := compileFilters(filters, 1)

	cols := "id, tags, payload"
	if withEmbeddings {
		cols += ", embedding"
	}
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE %s`, cols, table, where)
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := m.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("memorydb.PgvectorMemoryDB.GetList: %w", err)
	}

	return func(yield func(model.EmbeddingRecord, error) bool) {
		defer rows.Close()
		for rows.Next() {
			rec, err := scanRecord(rows, withEmbeddings)
			if err != nil {
				yield(model.EmbeddingRecord{}, fmt.Errorf("memorydb.PgvectorMemoryDB.GetList: scan: %w", err))
				return
			}
			rec.UpgradeSchema()
			if !yield(rec, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(model.EmbeddingRecord{}, fmt.Errorf("memorydb.PgvectorMemoryDB.GetList: rows: %w", err))
		}
	}, nil
}

// GetSimilarList ranks records by cosine similarity (1 - cosine distance),
// generalizing the teacher's SimilaritySearch threshold/ORDER BY pattern to
// an arbitrary DNF tag filter instead of a fixed user/privilege clause.
func (m *PgvectorMemoryDB) GetSimilarList(ctx context.Context, index string, query model.SimilarityQuery, limit int, minRelevance float64, filters []model.TagFilterGroup, withEmbeddings bool) (iter.Seq2[model.ScoredRecord, error], error) {
	table, err := tableName(index)
	if err != nil {
		return nil, err
	}
	if len(query.Vector) == 0 {
		return nil, fmt.Errorf("memorydb.PgvectorMemoryDB.GetSimilarList: query vector is required")
	}
	embedding := pgvector.NewVector(query.Vector)

	where, filterArgs := compileFilters(filters, 3)

	cols := "id, tags, payload"
	if withEmbeddings {
		cols += ", embedding"
	}

	sql := fmt.Sprintf(`
		SELECT %s, 1 - (embedding <=> $1::vector) AS similarity
		FROM %s
		WHERE (1 - (embedding <=> $1::vector)) > $2 AND %s
		ORDER BY embedding <=> $1::vector
		LIMIT $%d`, cols, table, where, len(filterArgs)+3)

	args := append([]any{embedding, minRelevance}, filterArgs...)
	args = append(args, limit)

	rows, err := m.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("memorydb.PgvectorMemoryDB.GetSimilarList: %w", err)
	}

	return func(yield func(model.ScoredRecord, error) bool) {
		defer rows.Close()
		for rows.Next() {
			var score float64
			rec, err := scanScoredRecord(rows, withEmbeddings, &score)
			if err != nil {
				yield(model.ScoredRecord{}, fmt.Errorf("memorydb.PgvectorMemoryDB.GetSimilarList: scan: %w", err))
				return
			}
			rec.UpgradeSchema()
			if !yield(model.ScoredRecord{Record: rec, Score: score}, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(model.ScoredRecord{}, fmt.Errorf("memorydb.PgvectorMemoryDB.GetSimilarList: rows: %w", err))
		}
	}, nil
}

func (m *PgvectorMemoryDB) Delete(ctx context.Context, index string, rec model.EmbeddingRecord) error {
	table, err := tableName(index)
	if err != nil {
		return err
	}
	_, err = m.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, table), rec.ID)
	if err != nil {
		return fmt.Errorf("memorydb.PgvectorMemoryDB.Delete: %w", err)
	}
	if m.graph != nil {
		if err := m.graph.RemoveRecord(ctx, index, rec.ID); err != nil {
			return fmt.Errorf("memorydb.PgvectorMemoryDB.Delete: remove from graph: %w", err)
		}
	}
	return nil
}

func scanRecord(rows pgx.Rows, withEmbeddings bool) (model.EmbeddingRecord, error) {
	var rec model.EmbeddingRecord
	var tagsJSON, payloadJSON []byte
	var embedding pgvector.Vector

	dest := []any{&rec.ID, &tagsJSON, &payloadJSON}
	if withEmbeddings {
		dest = append(dest, &embedding)
	}
	if err := rows.Scan(dest...); err != nil {
		return rec, err
	}
	if err := json.Unmarshal(tagsJSON, &rec.Tags); err != nil {
		return rec, err
	}
	if err := json.Unmarshal(payloadJSON, &rec.Payload); err != nil {
		return rec, err
	}
	if withEmbeddings {
		rec.Vector = embedding.Slice()
	}
	return rec, nil
}

func scanScoredRecord(rows pgx.Rows, withEmbeddings bool, score *float64) (model.EmbeddingRecord, error) {
	var rec model.EmbeddingRecord
	var tagsJSON, payloadJSON []byte
	var embedding pgvector.Vector

	dest := []any{&rec.ID, &tagsJSON, &payloadJSON}
	if withEmbeddings {
		dest = append(dest, &embedding)
	}
	dest = append(dest, score)
	if err := rows.Scan(dest...); err != nil {
		return rec, err
	}
	if err := json.Unmarshal(tagsJSON, &rec.Tags); err != nil {
		return rec, err
	}
	if err := json.Unmarshal(payloadJSON, &rec.Payload); err != nil {
		return rec, err
	}
	if withEmbeddings {
		rec.Vector = embedding.Slice()
	}
	return rec, nil
}
