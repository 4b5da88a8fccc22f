package domain

import (
	"context"
	"time"
)

// CatalogReader provides catalog snapshots to the pipeline.
// Implemented by catalog.Catalog.
type CatalogReader interface {
	Get(ctx context.Context, forceRefresh bool) (*Snapshot, error)
}

// QueryExecutor runs rewritten SQL under row and time bounds.
// Implemented by engine.Executor.
type QueryExecutor interface {
	Execute(ctx context.Context, sql string, maxRows int, timeout time.Duration) (*ExecutionResult, error)
}

// CheckpointStore persists session state per (session, turn).
// Implemented by checkpoint.Store.
type CheckpointStore interface {
	Save(ctx context.Context, state *SessionState) error
	Load(ctx context.Context, sessionID, turnID string) (*SessionState, error)
	// Latest returns the most recently updated turn of a session.
	Latest(ctx context.Context, sessionID string) (*SessionState, error)
	// History returns completed turns of a session, oldest first.
	History(ctx context.Context, sessionID string, limit int) ([]TurnRecord, error)
}

// EventSink receives one event per state transition.
type EventSink interface {
	Emit(ctx context.Context, ev TransitionEvent)
}
