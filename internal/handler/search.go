package handler

import (
	"context"
	"encoding/json"
	"iter"
	"net/http"

	"github.com/connexus-ai/kernel-memory/internal/cache"
	"github.com/connexus-ai/kernel-memory/internal/generators"
	"github.com/connexus-ai/kernel-memory/internal/middleware"
	"github.com/connexus-ai/kernel-memory/internal/model"
	"github.com/connexus-ai/kernel-memory/internal/rbac"
)

// Searcher abstracts the Memory DB read paths the retrieval endpoints need
// (§4.5 getList / getSimilarList), consumed directly without going through
// the orchestrator — search is a separate collaborator against the same
// store the pipeline populates (§6 "Ask / search").
type Searcher interface {
	GetList(ctx context.Context, index string, filters []model.TagFilterGroup, limit int, withEmbeddings bool) (iter.Seq2[model.EmbeddingRecord, error], error)
	GetSimilarList(ctx context.Context, index string, query model.SimilarityQuery, limit int, minRelevance float64, filters []model.TagFilterGroup, withEmbeddings bool) (iter.Seq2[model.ScoredRecord, error], error)
}

// searchRequest is the shared JSON body for /search and /list: filters are
// serialized as a list of AND-clauses combined by OR, the §4.5 DNF
// convention ("[{type:news,year:2024},{type:email}]" = (type=news AND
// year=2024) OR (type=email)).
type searchRequest struct {
	Index          string              `json:"index"`
	Query          string              `json:"query"`
	Limit          int                 `json:"limit"`
	MinRelevance   float64             `json:"minRelevance"`
	Filters        []model.TagFilterGroup `json:"filters"`
	WithEmbeddings bool                `json:"withEmbeddings"`
}

const defaultSearchLimit = 10

// Search handles POST /api/search (§6 "Ask / search"): embeds the query text
// with the asymmetric query-side embedding path and returns scored records.
// queryCache is optional (nil disables it) — it short-circuits
// GenerateQueryEmbedding for a query text this process has already embedded
// recently, the same repeated-query traffic pattern a chat-style front end
// produces when several users ask near-identical questions.
func Search(db Searcher, embedder generators.EmbeddingGenerator, queryCache *cache.EmbeddingCache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req searchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondJSON(w, http.StatusBadRequest, envelope{Success: false, Error: "invalid request body"})
			return
		}
		if req.Query == "" {
			respondJSON(w, http.StatusBadRequest, envelope{Success: false, Error: "query is required"})
			return
		}
		index, err := model.NormalizeIndexName(req.Index)
		if err != nil {
			respondJSON(w, http.StatusBadRequest, envelope{Success: false, Error: err.Error()})
			return
		}
		limit := req.Limit
		if limit <= 0 {
			limit = defaultSearchLimit
		}

		var queryHash string
		var vector []float32
		if queryCache != nil {
			queryHash = cache.EmbeddingQueryHash(req.Query)
			vector, _ = queryCache.Get(queryHash)
		}
		if vector == nil {
			vector, err = embedder.GenerateQueryEmbedding(r.Context(), req.Query)
			if err != nil {
				respondJSON(w, http.StatusInternalServerError, envelope{Success: false, Error: err.Error()})
				return
			}
			if queryCache != nil {
				queryCache.Set(queryHash, vector)
			}
		}

		scope := rbac.ScopeFor(middleware.CallerRoleFromContext(r.Context()))
		filters := scope.Apply(req.Filters)

		seq, err := db.GetSimilarList(r.Context(), index, model.SimilarityQuery{Vector: vector, Text: req.Query}, limit, req.MinRelevance, filters, req.WithEmbeddings)
		if err != nil {
			respondJSON(w, http.StatusInternalServerError, envelope{Success: false, Error: err.Error()})
			return
		}

		results := make([]model.ScoredRecord, 0, limit)
		for rec, iterErr := range seq {
			if iterErr != nil {
				respondJSON(w, http.StatusInternalServerError, envelope{Success: false, Error: iterErr.Error()})
				return
			}
			results = append(results, rec)
		}

		respondJSON(w, http.StatusOK, envelope{Success: true, Data: results})
	}
}

// ListRecords handles POST /api/list (§4.5 getList): an unranked tag-filtered
// dump of an index's records, used by external callers that don't need
// similarity ranking (e.g. export, audit).
func ListRecords(db Searcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req searchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondJSON(w, http.StatusBadRequest, envelope{Success: false, Error: "invalid request body"})
			return
		}
		index, err := model.NormalizeIndexName(req.Index)
		if err != nil {
			respondJSON(w, http.StatusBadRequest, envelope{Success: false, Error: err.Error()})
			return
		}

		scope := rbac.ScopeFor(middleware.CallerRoleFromContext(r.Context()))
		filters := scope.Apply(req.Filters)

		seq, err := db.GetList(r.Context(), index, filters, req.Limit, req.WithEmbeddings)
		if err != nil {
			respondJSON(w, http.StatusInternalServerError, envelope{Success: false, Error: err.Error()})
			return
		}

		results := make([]model.EmbeddingRecord, 0)
		for rec, iterErr := range seq {
			if iterErr != nil {
				respondJSON(w, http.StatusInternalServerError, envelope{Success: false, Error: iterErr.Error()})
				return
			}
			results = append(results, rec)
		}

		respondJSON(w, http.StatusOK, envelope{Success: true, Data: results})
	}
}
