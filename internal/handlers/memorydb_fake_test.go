package handlers

import (
	"context"
	"iter"

	"github.com/connexus-ai/kernel-memory/internal/model"
)

// fakeMemoryDB is an in-memory stand-in for memorydb.MemoryDB, just enough
// to exercise SaveRecordsHandler and DeleteIndexHandler without a pgvector
// connection.
type fakeMemoryDB struct {
	records        map[string]map[string]model.EmbeddingRecord // index -> id -> record
	deletedIndexes []string
	upsertCalls    int
	deleteCalls    int
}

func newFakeMemoryDB() *fakeMemoryDB {
	return &fakeMemoryDB{records: make(map[string]map[string]model.EmbeddingRecord)}
}

func (f *fakeMemoryDB) CreateIndex(ctx context.Context, index string, vectorSize int) error {
	if f.records[index] == nil {
		f.records[index] = make(map[string]model.EmbeddingRecord)
	}
	return nil
}

func (f *fakeMemoryDB) DeleteIndex(ctx context.Context, index string) error {
	delete(f.records, index)
	f.deletedIndexes = append(f.deletedIndexes, index)
	return nil
}

func (f *fakeMemoryDB) ListIndexes(ctx context.Context) ([]string, error) {
	var names []string
	for name := range f.records {
		names = append(names, name)
	}
	return names, nil
}

func (f *fakeMemoryDB) Upsert(ctx context.Context, index string, rec model.EmbeddingRecord) (string, error) {
	f.upsertCalls++
	if f.records[index] == nil {
		f.records[index] = make(map[string]model.EmbeddingRecord)
	}
	f.records[index][rec.ID] = rec
	return rec.ID, nil
}

func (f *fakeMemoryDB) GetList(ctx context.Context, index string, filters []model.TagFilterGroup, limit int, withEmbeddings bool) (iter.Seq2[model.EmbeddingRecord, error], error) {
	var documentID string
	for _, group := range filters {
		if id, ok := group[model.TagDocumentID]; ok && len(id) > 0 {
			documentID = id
		}
	}
	return func(yield func(model.EmbeddingRecord, error) bool) {
		for _, rec := range f.records[index] {
			if documentID != "" && rec.Tags.First(model.TagDocumentID) != documentID {
				continue
			}
			if !yield(rec, nil) {
				return
			}
		}
	}, nil
}

func (f *fakeMemoryDB) GetSimilarList(ctx context.Context, index string, query model.SimilarityQuery, limit int, minRelevance float64, filters []model.TagFilterGroup, withEmbeddings bool) (iter.Seq2[model.ScoredRecord, error], error) {
	return func(yield func(model.ScoredRecord, error) bool) {}, nil
}

func (f *fakeMemoryDB) Delete(ctx context.Context, index string, rec model.EmbeddingRecord) error {
	f.deleteCalls++
	delete(f.records[index], rec.ID)
	return nil
}
