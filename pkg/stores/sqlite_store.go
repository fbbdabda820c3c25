package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/mu-project/mu-cli/pkg/engine"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DefaultListLimit bounds ListOperations when no limit is given.
const DefaultListLimit = 20

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// HistoryStore records build, deploy and rebuild operations in SQLite.
type HistoryStore struct {
	db   *sql.DB
	path string
}

var (
	_ engine.HistoryRecorder = (*HistoryStore)(nil)
	_ engine.HistoryReader   = (*HistoryStore)(nil)
)

// Config holds history store configuration
type Config struct {
	Path string
}

// NewHistoryStore creates a new history store instance
func NewHistoryStore(cfg Config) (*HistoryStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	return &HistoryStore{
		path: cfg.Path,
	}, nil
}

// Open creates, initializes and migrates a store in one step.
func Open(ctx context.Context, cfg Config) (*HistoryStore, error) {
	s, err := NewHistoryStore(cfg)
	if err != nil {
		return nil, err
	}
	if err := s.Init(ctx); err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// Init opens the database connection and enables WAL mode.
func (s *HistoryStore) Init(ctx context.Context) error {
	if s.path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
			return fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// One CLI process writes at a time; a single connection also keeps an
	// in-memory database alive across queries.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *HistoryStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *HistoryStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// RecordOperation inserts an operation record, assigning an id if it has none.
func (s *HistoryStore) RecordOperation(ctx context.Context, rec *engine.OperationRecord) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = time.Now()
	}

	query := `
		INSERT INTO operations (id, session_id, unit, kind, status, started_at, duration_ns, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	var session sql.NullString
	if rec.SessionID != "" {
		session = sql.NullString{String: rec.SessionID, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, query,
		rec.ID,
		session,
		rec.Unit,
		string(rec.Kind),
		string(rec.Status),
		rec.StartedAt.UnixNano(),
		int64(rec.Duration),
		rec.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to record operation: %w", err)
	}

	return nil
}

// ListOperations returns the most recent operations, newest first.
// An empty unit lists every unit; a non-positive limit uses DefaultListLimit.
func (s *HistoryStore) ListOperations(ctx context.Context, unit string, limit int) ([]*engine.OperationRecord, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not initialized")
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}

	query := `
		SELECT id, session_id, unit, kind, status, started_at, duration_ns, error
		FROM operations
		WHERE (? = '' OR unit = ?)
		ORDER BY started_at DESC, rowid DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, unit, unit, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list operations: %w", err)
	}
	defer rows.Close()

	var records []*engine.OperationRecord
	for rows.Next() {
		var (
			rec       engine.OperationRecord
			session   sql.NullString
			kind      string
			status    string
			startedAt int64
			duration  int64
		)
		if err := rows.Scan(&rec.ID, &session, &rec.Unit, &kind, &status, &startedAt, &duration, &rec.Error); err != nil {
			return nil, fmt.Errorf("failed to scan operation: %w", err)
		}
		rec.SessionID = session.String
		rec.Kind = engine.OperationKind(kind)
		rec.Status = engine.OperationStatus(status)
		rec.StartedAt = time.Unix(0, startedAt).UTC()
		rec.Duration = time.Duration(duration)
		records = append(records, &rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating operations: %w", err)
	}

	return records, nil
}

// CountOperations returns how many operations of a session have the given status.
func (s *HistoryStore) CountOperations(ctx context.Context, sessionID string, status engine.OperationStatus) (int, error) {
	if s.db == nil {
		return 0, fmt.Errorf("database not initialized")
	}

	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM operations WHERE session_id = ? AND status = ?`,
		sessionID, string(status),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count operations: %w", err)
	}
	return n, nil
}

// HealthCheck verifies the database connection is healthy
func (s *HistoryStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}
