package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Status handles GET /api/indexes/{index}/documents/{id}/status (§6): returns
// the persisted pipeline document as-is, including its Logs, matching spec's
// "status endpoint returns the persisted pipeline state" contract.
func Status(orch Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		index := chi.URLParam(r, "index")
		documentID := chi.URLParam(r, "id")
		if documentID == "" {
			respondJSON(w, http.StatusBadRequest, envelope{Success: false, Error: "document id required"})
			return
		}

		p, err := orch.ReadStatus(r.Context(), index, documentID)
		if err != nil {
			respondJSON(w, http.StatusInternalServerError, envelope{Success: false, Error: err.Error()})
			return
		}
		if p == nil {
			respondJSON(w, http.StatusNotFound, envelope{Success: false, Error: "document not found"})
			return
		}

		respondJSON(w, http.StatusOK, envelope{Success: true, Data: p})
	}
}

// IsReady handles GET /api/indexes/{index}/documents/{id}/ready (§4.1
// "isReady"): a lightweight boolean poll alternative to fetching the full
// status document.
func IsReady(orch Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		index := chi.URLParam(r, "index")
		documentID := chi.URLParam(r, "id")
		if documentID == "" {
			respondJSON(w, http.StatusBadRequest, envelope{Success: false, Error: "document id required"})
			return
		}

		ready, err := orch.IsReady(r.Context(), index, documentID)
		if err != nil {
			respondJSON(w, http.StatusInternalServerError, envelope{Success: false, Error: err.Error()})
			return
		}

		respondJSON(w, http.StatusOK, envelope{Success: true, Data: map[string]bool{"ready": ready}})
	}
}
