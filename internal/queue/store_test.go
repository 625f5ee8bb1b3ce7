package queue

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"invoice-sync/migrations"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func queueSchema(t *testing.T) fs.FS {
	t.Helper()
	sub, err := fs.Sub(migrations.Files, "sqlite")
	if err != nil {
		t.Fatalf("sub fs: %v", err)
	}
	return sub
}

func openTestSQLite(t *testing.T, path string) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(context.Background(), path, queueSchema(t), testLogger())
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func stores(t *testing.T) map[string]Store {
	t.Helper()
	return map[string]Store{
		"sqlite": openTestSQLite(t, filepath.Join(t.TempDir(), "queue.db")),
		"memory": NewMemoryStore(),
	}
}

func TestFIFOOrder(t *testing.T) {
	ctx := context.Background()
	muts := []Mutation{
		{Action: ActionUpsert, EntityType: EntitySettings, EntityID: "settings"},
		{Action: ActionCreate, EntityType: EntityInvoice, EntityID: "inv-1", Data: json.RawMessage(`{"id":"inv-1"}`)},
		{Action: ActionDelete, EntityType: EntityInvoice, EntityID: "inv-0"},
		{Action: ActionUpdate, EntityType: EntityInvoiceItem, EntityID: "item-9"},
	}

	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			for _, m := range muts {
				if _, err := s.Enqueue(ctx, m); err != nil {
					t.Fatalf("enqueue: %v", err)
				}
			}
			items := s.GetAll(ctx)
			if len(items) != len(muts) {
				t.Fatalf("expected %d items, got %d", len(muts), len(items))
			}
			for i, it := range items {
				if it.EntityID != muts[i].EntityID || it.Action != muts[i].Action {
					t.Fatalf("item %d = %s/%s, want %s/%s", i, it.Action, it.EntityID, muts[i].Action, muts[i].EntityID)
				}
				if it.RetryCount != 0 {
					t.Fatalf("new item retry count = %d", it.RetryCount)
				}
			}
			oldest, ok := s.DequeueOldest(ctx)
			if !ok || oldest.EntityID != "settings" {
				t.Fatalf("unexpected oldest item %+v (ok=%v)", oldest, ok)
			}
			if s.Count(ctx) != len(muts) {
				t.Fatal("DequeueOldest must not remove the item")
			}
		})
	}
}

func TestSameTimestampOrdersByID(t *testing.T) {
	ctx := context.Background()
	s := openTestSQLite(t, filepath.Join(t.TempDir(), "queue.db"))
	fixed := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	for _, id := range []string{"a", "b", "c"} {
		if _, err := s.Enqueue(ctx, Mutation{Action: ActionUpsert, EntityType: EntityInvoice, EntityID: id}); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	items := s.GetAll(ctx)
	if items[0].EntityID != "a" || items[2].EntityID != "c" {
		t.Fatalf("unexpected order: %+v", items)
	}
	if !items[0].Timestamp.Equal(fixed) {
		t.Fatalf("timestamp = %v, want %v", items[0].Timestamp, fixed)
	}
}

func TestRemoveIsIdempotent(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			a, _ := s.Enqueue(ctx, Mutation{Action: ActionCreate, EntityType: EntityInvoice, EntityID: "a"})
			if _, err := s.Enqueue(ctx, Mutation{Action: ActionCreate, EntityType: EntityInvoice, EntityID: "b"}); err != nil {
				t.Fatalf("enqueue: %v", err)
			}
			if err := s.Remove(ctx, a.ID); err != nil {
				t.Fatalf("first remove: %v", err)
			}
			if err := s.Remove(ctx, a.ID); err != nil {
				t.Fatalf("second remove: %v", err)
			}
			items := s.GetAll(ctx)
			if len(items) != 1 || items[0].EntityID != "b" {
				t.Fatalf("unexpected queue after remove: %+v", items)
			}
		})
	}
}

func TestUpdateRetry(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			it, _ := s.Enqueue(ctx, Mutation{Action: ActionUpsert, EntityType: EntitySettings, EntityID: "settings"})
			if err := s.UpdateRetry(ctx, it.ID, "timeout"); err != nil {
				t.Fatalf("update retry: %v", err)
			}
			if err := s.UpdateRetry(ctx, it.ID, "rate limited"); err != nil {
				t.Fatalf("update retry: %v", err)
			}
			if err := s.UpdateRetry(ctx, it.ID+100, "missing"); err != nil {
				t.Fatalf("update retry on missing id: %v", err)
			}
			got, ok := s.DequeueOldest(ctx)
			if !ok {
				t.Fatal("expected item")
			}
			if got.RetryCount != 2 || got.LastError != "rate limited" {
				t.Fatalf("retry state = %d/%q", got.RetryCount, got.LastError)
			}
		})
	}
}

func TestClearAndCount(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			for i := 0; i < 3; i++ {
				if _, err := s.Enqueue(ctx, Mutation{Action: ActionCreate, EntityType: EntityInvoice, EntityID: "x"}); err != nil {
					t.Fatalf("enqueue: %v", err)
				}
			}
			if n := s.Count(ctx); n != 3 {
				t.Fatalf("count = %d", n)
			}
			if err := s.Clear(ctx); err != nil {
				t.Fatalf("clear: %v", err)
			}
			if n := s.Count(ctx); n != 0 {
				t.Fatalf("count after clear = %d", n)
			}
			if _, ok := s.DequeueOldest(ctx); ok {
				t.Fatal("expected empty queue")
			}
		})
	}
}

func TestSQLiteSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "queue.db")

	first, err := OpenSQLite(ctx, path, queueSchema(t), testLogger())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	payload := json.RawMessage(`{"name":"Acme"}`)
	if _, err := first.Enqueue(ctx, Mutation{Action: ActionUpsert, EntityType: EntitySettings, EntityID: "settings", Data: payload}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	first.Close()

	second := openTestSQLite(t, path)
	items := second.GetAll(ctx)
	if len(items) != 1 {
		t.Fatalf("expected 1 persisted item, got %d", len(items))
	}
	if string(items[0].Data) != string(payload) {
		t.Fatalf("payload = %s", items[0].Data)
	}
}

func TestSQLiteWriteReopensBrokenConnection(t *testing.T) {
	ctx := context.Background()
	s := openTestSQLite(t, filepath.Join(t.TempDir(), "queue.db"))

	// Simulate the connection going away underneath the store.
	s.db.Close()

	if n := s.Count(ctx); n != 0 {
		t.Fatalf("count on broken connection = %d", n)
	}
	if _, err := s.Enqueue(ctx, Mutation{Action: ActionCreate, EntityType: EntityInvoice, EntityID: "inv-1"}); err != nil {
		t.Fatalf("enqueue after reopen: %v", err)
	}
	if n := s.Count(ctx); n != 1 {
		t.Fatalf("count after reopen = %d", n)
	}
}

func TestClosedStore(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			s.Close()
			if _, err := s.Enqueue(ctx, Mutation{Action: ActionCreate, EntityType: EntityInvoice, EntityID: "x"}); !errors.Is(err, ErrClosed) {
				t.Fatalf("expected ErrClosed, got %v", err)
			}
			if n := s.Count(ctx); n != 0 {
				t.Fatalf("count on closed store = %d", n)
			}
			if items := s.GetAll(ctx); len(items) != 0 {
				t.Fatalf("get all on closed store = %v", items)
			}
		})
	}
}
