package stores

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/mu-project/mu-cli/pkg/engine"
)

// setupTestStore creates an in-memory SQLite store for testing
func setupTestStore(t *testing.T) *HistoryStore {
	t.Helper()

	store, err := Open(context.Background(), Config{Path: MemoryPath})
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	return store
}

func TestStoreLifecycle(t *testing.T) {
	store, err := NewHistoryStore(Config{Path: MemoryPath})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.HealthCheck(ctx); err == nil {
		t.Fatal("expected health check to fail before Init")
	}
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}
	if err := store.HealthCheck(ctx); err != nil {
		t.Fatalf("health check failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}
}

func TestNewHistoryStoreRequiresPath(t *testing.T) {
	if _, err := NewHistoryStore(Config{}); err == nil {
		t.Fatal("expected an error for an empty path")
	}
}

func TestStoreMigrationsAreIdempotent(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("second migration failed: %v", err)
	}

	var count int
	if err := store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM operations").Scan(&count); err != nil {
		t.Fatalf("operations table is not accessible: %v", err)
	}
	if count != 0 {
		t.Errorf("expected empty table, got %d rows", count)
	}
}

func TestRecordAndListOperations(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	msg := "cargo exited with status 101"

	records := []*engine.OperationRecord{
		{SessionID: "s1", Unit: "backend", Kind: engine.OperationBuild, Status: engine.OperationSucceeded, StartedAt: base, Duration: 3 * time.Second},
		{SessionID: "s1", Unit: "backend", Kind: engine.OperationDeploy, Status: engine.OperationSucceeded, StartedAt: base.Add(time.Minute), Duration: time.Second},
		{SessionID: "s1", Unit: "ledger", Kind: engine.OperationRebuild, Status: engine.OperationFailed, StartedAt: base.Add(2 * time.Minute), Error: &msg},
	}
	for _, rec := range records {
		if err := store.RecordOperation(ctx, rec); err != nil {
			t.Fatalf("failed to record operation: %v", err)
		}
		if rec.ID == "" {
			t.Error("expected an id to be assigned")
		}
	}

	all, err := store.ListOperations(ctx, "", 0)
	if err != nil {
		t.Fatalf("failed to list operations: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 operations, got %d", len(all))
	}
	if all[0].Unit != "ledger" || all[2].Kind != engine.OperationBuild {
		t.Errorf("expected newest first, got %s then ... %s", all[0].Unit, all[2].Kind)
	}

	latest := all[0]
	if latest.Status != engine.OperationFailed {
		t.Errorf("expected status failed, got %s", latest.Status)
	}
	if latest.Error == nil || *latest.Error != msg {
		t.Errorf("expected error %q, got %v", msg, latest.Error)
	}
	if !latest.StartedAt.Equal(base.Add(2 * time.Minute)) {
		t.Errorf("expected start %v, got %v", base.Add(2*time.Minute), latest.StartedAt)
	}
	if latest.SessionID != "s1" {
		t.Errorf("expected session s1, got %q", latest.SessionID)
	}

	if all[2].Duration != 3*time.Second {
		t.Errorf("expected duration 3s, got %v", all[2].Duration)
	}
	if all[2].Error != nil {
		t.Errorf("expected no error, got %q", *all[2].Error)
	}

	backend, err := store.ListOperations(ctx, "backend", 0)
	if err != nil {
		t.Fatalf("failed to list backend operations: %v", err)
	}
	if len(backend) != 2 {
		t.Errorf("expected 2 backend operations, got %d", len(backend))
	}

	limited, err := store.ListOperations(ctx, "", 1)
	if err != nil {
		t.Fatalf("failed to list with limit: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("expected 1 operation, got %d", len(limited))
	}

	failed, err := store.CountOperations(ctx, "s1", engine.OperationFailed)
	if err != nil {
		t.Fatalf("failed to count: %v", err)
	}
	if failed != 1 {
		t.Errorf("expected 1 failed operation, got %d", failed)
	}
}

func TestRecordOperationRejectsUnknownKind(t *testing.T) {
	store := setupTestStore(t)

	err := store.RecordOperation(context.Background(), &engine.OperationRecord{
		Unit:   "backend",
		Kind:   engine.OperationKind("teleport"),
		Status: engine.OperationSucceeded,
	})
	if err == nil {
		t.Fatal("expected the kind check constraint to reject the record")
	}
}

func TestStoreOnDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".mu", "history.db")
	ctx := context.Background()

	store, err := Open(ctx, Config{Path: path})
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	if err := store.RecordOperation(ctx, &engine.OperationRecord{
		Unit: "backend", Kind: engine.OperationInit, Status: engine.OperationSucceeded,
	}); err != nil {
		t.Fatalf("failed to record operation: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}

	reopened, err := Open(ctx, Config{Path: path})
	if err != nil {
		t.Fatalf("failed to reopen store: %v", err)
	}
	defer reopened.Close()

	records, err := reopened.ListOperations(ctx, "", 0)
	if err != nil {
		t.Fatalf("failed to list operations: %v", err)
	}
	if len(records) != 1 || records[0].Kind != engine.OperationInit {
		t.Errorf("expected the init record to survive reopening, got %+v", records)
	}
}
