package memorydb

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/connexus-ai/kernel-memory/internal/model"
)

// GraphTagIndex is an optional mirror of tag memberships (§2 domain
// stack): when set via SetGraphTagIndex, Upsert/Delete/DeleteIndex keep
// each record's (index, tag, value) memberships as graph edges, and
// CandidateIDs answers a single AND-clause of tag equalities from them.
// GetSimilarList/GetList do not consult it; they always filter through the
// vector table's jsonb tags column.
//
// Grounded on the driver session pattern used for the Neo4j-backed
// repository elsewhere in this stack — direct driver.NewSession/Run calls
// rather than a generic repository, since this index has exactly one
// query shape.
type GraphTagIndex struct {
	driver neo4j.DriverWithContext
}

// NewGraphTagIndex wraps an existing Neo4j driver.
func NewGraphTagIndex(driver neo4j.DriverWithContext) *GraphTagIndex {
	return &GraphTagIndex{driver: driver}
}

// IndexRecord mirrors rec's tags into the graph as (:Record)-[:TAGGED]->(:Tag)
// edges scoped to index, replacing any prior edges for rec.ID so re-running
// a handler updates membership rather than accumulating stale edges.
func (g *GraphTagIndex) IndexRecord(ctx context.Context, index string, rec model.EmbeddingRecord) error {
	sess := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer sess.Close(ctx)

	_, err := sess.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if _, err := tx.Run(ctx, `
			MATCH (r:Record {id: $id, index: $index})-[e:TAGGED]->()
			DELETE e`, map[string]any{"id": rec.ID, "index": index}); err != nil {
			return nil, err
		}
		if _, err := tx.Run(ctx, `
			MERGE (r:Record {id: $id, index: $index})`,
			map[string]any{"id": rec.ID, "index": index}); err != nil {
			return nil, err
		}
		for key, values := range rec.Tags {
			for _, value := range values {
				if _, err := tx.Run(ctx, `
					MATCH (r:Record {id: $id, index: $index})
					MERGE (t:Tag {index: $index, key: $key, value: $value})
					MERGE (r)-[:TAGGED]->(t)`,
					map[string]any{"id": rec.ID, "index": index, "key": key, "value": value}); err != nil {
					return nil, err
				}
			}
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("memorydb.GraphTagIndex.IndexRecord: %w", err)
	}
	return nil
}

// RemoveRecord deletes a record's node and edges from the graph.
func (g *GraphTagIndex) RemoveRecord(ctx context.Context, index, recordID string) error {
	sess := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer sess.Close(ctx)

	_, err := sess.Run(ctx, `
		MATCH (r:Record {id: $id, index: $index})
		DETACH DELETE r`, map[string]any{"id": recordID, "index": index})
	if err != nil {
		return fmt.Errorf("memorydb.GraphTagIndex.RemoveRecord: %w", err)
	}
	return nil
}

// CandidateIDs returns the set of record ids satisfying a single AND-clause
// (one TagFilterGroup) within index, for the caller to further OR together
// across a DNF filter's groups or intersect against a vector search result.
func (g *GraphTagIndex) CandidateIDs(ctx context.Context, index string, group model.TagFilterGroup) ([]string, error) {
	if len(group) == 0 {
		return nil, fmt.Errorf("memorydb.GraphTagIndex.CandidateIDs: empty group")
	}
	sess := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer sess.Close(ctx)

	cypher := `MATCH (r:Record {index: $index})`
	params := map[string]any{"index": index}
	i := 0
	for key, value := range group {
		cypher += fmt.Sprintf(`
			MATCH (r)-[:TAGGED]->(:Tag {index: $index, key: $k%d, value: $v%d})`, i, i)
		params[fmt.Sprintf("k%d", i)] = key
		params[fmt.Sprintf("v%d", i)] = value
		i++
	}
	cypher += "\nRETURN DISTINCT r.id AS id"

	result, err := sess.Run(ctx, cypher, params)
	if err != nil {
		return nil, fmt.Errorf("memorydb.GraphTagIndex.CandidateIDs: %w", err)
	}

	var ids []string
	for result.Next(ctx) {
		id, _ := result.Record().Get("id")
		if s, ok := id.(string); ok {
			ids = append(ids, s)
		}
	}
	return ids, result.Err()
}

// DropIndex removes every Record/Tag node scoped to index, mirroring a
// MemoryDB DeleteIndex so the graph never accumulates nodes for a table
// that no longer exists.
func (g *GraphTagIndex) DropIndex(ctx context.Context, index string) error {
	sess := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer sess.Close(ctx)

	_, err := sess.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if _, err := tx.Run(ctx, `
			MATCH (r:Record {index: $index})
			DETACH DELETE r`, map[string]any{"index": index}); err != nil {
			return nil, err
		}
		if _, err := tx.Run(ctx, `
			MATCH (t:Tag {index: $index})
			DETACH DELETE t`, map[string]any{"index": index}); err != nil {
			return nil, err
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("memorydb.GraphTagIndex.DropIndex: %w", err)
	}
	return nil
}

func (g *GraphTagIndex) Close(ctx context.Context) error {
	return g.driver.Close(ctx)
}
