package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"duck-analyst/internal/domain"
)

// Defaults applied when a caller passes a non-positive bound.
const (
	DefaultMaxRows = 1000
	DefaultTimeout = 30 * time.Second
)

var _ domain.QueryExecutor = (*Executor)(nil)

// Executor runs validated, rewritten SQL against DuckDB. Every call takes its
// own connection from the pool, so concurrent turns never share a statement.
type Executor struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewExecutor creates an Executor backed by the given database.
func NewExecutor(db *sql.DB, logger *slog.Logger) *Executor {
	return &Executor{db: db, logger: logger}
}

// Execute runs query with a deadline of timeout and returns at most maxRows
// rows. Failures are returned as *domain.ExecutionError.
func (e *Executor) Execute(ctx context.Context, query string, maxRows int, timeout time.Duration) (*domain.ExecutionResult, error) {
	if maxRows <= 0 {
		maxRows = DefaultMaxRows
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	start := time.Now()

	qctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := e.run(qctx, query, maxRows)
	elapsed := time.Since(start)
	if err != nil {
		execErr := classifyFailure(ctx, qctx, err, timeout)
		execErr.Elapsed = elapsed
		e.logger.Warn("query failed",
			"category", execErr.Category,
			"error", execErr.Message,
			"elapsed_ms", elapsed.Milliseconds())
		return nil, execErr
	}

	result.Elapsed = elapsed
	e.logger.Info("query executed",
		"rows", result.RowCount,
		"truncated", result.Truncated,
		"elapsed_ms", elapsed.Milliseconds())
	return result, nil
}

func (e *Executor) run(ctx context.Context, query string, maxRows int) (*domain.ExecutionResult, error) {
	conn, err := e.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Close() //nolint:errcheck

	rows, err := conn.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	return scanRows(rows, maxRows)
}

func scanRows(rows *sql.Rows, maxRows int) (*domain.ExecutionResult, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	result := &domain.ExecutionResult{Columns: cols, Rows: []map[string]any{}}
	for rows.Next() {
		if len(result.Rows) == maxRows {
			result.Truncated = true
			break
		}
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]any, len(cols))
		for i, col := range cols {
			row[col] = SanitizeValue(vals[i])
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	result.RowCount = len(result.Rows)
	return result, nil
}

// classifyFailure distinguishes our deadline from a caller cancellation
// before falling back to the engine message.
func classifyFailure(parent, qctx context.Context, err error, timeout time.Duration) *domain.ExecutionError {
	switch {
	case parent.Err() != nil:
		return newExecutionError(domain.ExecCanceled, "query canceled: "+parent.Err().Error())
	case errors.Is(qctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded):
		return newExecutionError(domain.ExecTimeout, fmt.Sprintf("query exceeded %s timeout", timeout))
	default:
		return newExecutionError(Classify(err.Error()), err.Error())
	}
}
