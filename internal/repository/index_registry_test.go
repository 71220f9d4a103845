package repository

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

func newIndexRegistryTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}
	if err := Migrate(dbURL); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		t.Fatalf("pgxpool.New: %v", err)
	}
	t.Cleanup(pool.Close)
	return pool
}

func TestIndexRegistry_TouchThenGet(t *testing.T) {
	pool := newIndexRegistryTestPool(t)
	reg := NewIndexRegistry(pool)
	ctx := context.Background()

	name := "test-index-touch-get"
	t.Cleanup(func() { reg.Delete(context.Background(), name) })

	if err := reg.Touch(ctx, name); err != nil {
		t.Fatalf("Touch: %v", err)
	}
	rec, err := reg.Get(ctx, name)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Name != name {
		t.Errorf("Name = %q, want %q", rec.Name, name)
	}
	firstUpdated := rec.UpdatedAt

	time.Sleep(10 * time.Millisecond)
	if err := reg.Touch(ctx, name); err != nil {
		t.Fatalf("second Touch: %v", err)
	}
	rec, err = reg.Get(ctx, name)
	if err != nil {
		t.Fatalf("Get after second touch: %v", err)
	}
	if !rec.UpdatedAt.After(firstUpdated) {
		t.Errorf("UpdatedAt did not advance on repeat Touch: %v vs %v", rec.UpdatedAt, firstUpdated)
	}
}

func TestIndexRegistry_GetUnknownReturnsNoRows(t *testing.T) {
	pool := newIndexRegistryTestPool(t)
	reg := NewIndexRegistry(pool)

	_, err := reg.Get(context.Background(), "definitely-not-registered")
	if err != pgx.ErrNoRows {
		t.Fatalf("err = %v, want pgx.ErrNoRows", err)
	}
}

func TestIndexRegistry_DeleteRemovesRow(t *testing.T) {
	pool := newIndexRegistryTestPool(t)
	reg := NewIndexRegistry(pool)
	ctx := context.Background()

	name := "test-index-delete"
	if err := reg.Touch(ctx, name); err != nil {
		t.Fatalf("Touch: %v", err)
	}
	if err := reg.Delete(ctx, name); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := reg.Get(ctx, name); err != pgx.ErrNoRows {
		t.Fatalf("err after delete = %v, want pgx.ErrNoRows", err)
	}
}

func TestIndexRegistry_ListOrdersByUpdatedAtDesc(t *testing.T) {
	pool := newIndexRegistryTestPool(t)
	reg := NewIndexRegistry(pool)
	ctx := context.Background()

	older, newer := "test-index-list-older", "test-index-list-newer"
	t.Cleanup(func() {
		reg.Delete(context.Background(), older)
		reg.Delete(context.Background(), newer)
	})

	if err := reg.Touch(ctx, older); err != nil {
		t.Fatalf("Touch older: %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	if err := reg.Touch(ctx, newer); err != nil {
		t.Fatalf("Touch newer: %v", err)
	}

	recs, err := reg.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	positions := map[string]int{}
	for i, r := range recs {
		positions[r.Name] = i
	}
	if positions[newer] >= positions[older] {
		t.Errorf("expected %s before %s in descending updated_at order", newer, older)
	}
}
