package repository

import (
	"context"
	"testing"
	"time"

	"github.com/connexus-ai/kernel-memory/internal/model"
	"github.com/google/uuid"
)

func TestAuditRepository_CreateThenList(t *testing.T) {
	pool := newIndexRegistryTestPool(t)
	repo := NewAuditRepository(pool)
	ctx := context.Background()

	index := "test-audit-index"
	entry := model.AuditLog{
		ID:           uuid.NewString(),
		Action:       model.AuditDocumentUpload,
		Index:        index,
		ResourceID:   "doc-1",
		ResourceType: "document",
		CreatedAt:    time.Now().UTC(),
	}
	if err := repo.Create(ctx, entry); err != nil {
		t.Fatalf("Create: %v", err)
	}

	entries, err := repo.List(ctx, ListFilter{Index: index})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	if entries[0].Action != model.AuditDocumentUpload {
		t.Errorf("Action = %q, want %q", entries[0].Action, model.AuditDocumentUpload)
	}
}

func TestAuditRepository_ListFiltersByAction(t *testing.T) {
	pool := newIndexRegistryTestPool(t)
	repo := NewAuditRepository(pool)
	ctx := context.Background()

	index := "test-audit-filter"
	for _, action := range []string{model.AuditDocumentUpload, model.AuditPipelineCompleted} {
		if err := repo.Create(ctx, model.AuditLog{
			ID: uuid.NewString(), Action: action, Index: index, ResourceID: "doc-1",
			ResourceType: "document", CreatedAt: time.Now().UTC(),
		}); err != nil {
			t.Fatalf("Create(%s): %v", action, err)
		}
	}

	entries, err := repo.List(ctx, ListFilter{Index: index, Action: model.AuditPipelineCompleted})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 1 || entries[0].Action != model.AuditPipelineCompleted {
		t.Fatalf("entries = %+v, want exactly one %s", entries, model.AuditPipelineCompleted)
	}
}
