package engine

import (
	"context"
	"time"

	"github.com/mu-project/mu-cli/pkg/watcher"
)

// ChangeNotifier is a single-shot, re-armable source of change events for one unit.
// *watcher.Watcher implements it.
type ChangeNotifier interface {
	// Unit returns the name of the unit being watched.
	Unit() string

	// Enable discards pending changes and arms the notifier for exactly one event.
	Enable()

	// C returns the channel on which the armed event is delivered.
	C() <-chan watcher.Event

	// Close releases the underlying watch.
	Close() error
}

// OperationKind names a recorded lifecycle operation.
type OperationKind string

const (
	OperationInit    OperationKind = "init"
	OperationBuild   OperationKind = "build"
	OperationDeploy  OperationKind = "deploy"
	OperationRebuild OperationKind = "rebuild"

	// OperationDev is the initial build and deploy of a unit when a dev session starts.
	OperationDev OperationKind = "dev"
)

// OperationStatus is the outcome of a recorded operation.
type OperationStatus string

const (
	OperationSucceeded OperationStatus = "succeeded"
	OperationFailed    OperationStatus = "failed"
)

// OperationRecord is one entry of the operation history.
type OperationRecord struct {
	ID        string          `json:"id"`
	SessionID string          `json:"session_id"`
	Unit      string          `json:"unit"`
	Kind      OperationKind   `json:"kind"`
	Status    OperationStatus `json:"status"`
	StartedAt time.Time       `json:"started_at"`
	Duration  time.Duration   `json:"duration"`
	Error     *string         `json:"error,omitempty"`
}

// HistoryRecorder persists operation records.
type HistoryRecorder interface {
	RecordOperation(ctx context.Context, rec *OperationRecord) error
}

// HistoryReader lists operation records, newest first.
type HistoryReader interface {
	ListOperations(ctx context.Context, unit string, limit int) ([]*OperationRecord, error)
}
