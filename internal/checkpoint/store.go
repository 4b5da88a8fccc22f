package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"duck-analyst/internal/domain"
)

var _ domain.CheckpointStore = (*Store)(nil)

// Store keeps one row per (session, turn) holding the JSON encoded
// domain.SessionState. Writes go through a single-connection pool; reads use
// a separate pool.
type Store struct {
	write *sql.DB
	read  *sql.DB
}

// Open opens (creating if needed) the checkpoint database at path and
// applies migrations.
func Open(path string) (*Store, error) {
	write, err := openSQLite(path, "write", 0)
	if err != nil {
		return nil, err
	}
	if err := migrate(write); err != nil {
		_ = write.Close()
		return nil, err
	}
	read, err := openSQLite(path, "read", 0)
	if err != nil {
		_ = write.Close()
		return nil, err
	}
	return &Store{write: write, read: read}, nil
}

// Close closes both pools.
func (s *Store) Close() error {
	return errors.Join(s.read.Close(), s.write.Close())
}

const upsertCheckpoint = `
INSERT INTO checkpoints (session_id, turn_id, state, question, payload, seq, started_at, updated_at)
VALUES (?, ?, ?, ?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM checkpoints), ?, ?)
ON CONFLICT (session_id, turn_id) DO UPDATE SET
    state      = excluded.state,
    question   = excluded.question,
    payload    = excluded.payload,
    seq        = excluded.seq,
    updated_at = excluded.updated_at`

// Save upserts the checkpoint of state's turn. The saved turn becomes the
// latest turn of its session.
func (s *Store) Save(ctx context.Context, state *domain.SessionState) error {
	if state == nil || state.SessionID == "" || state.TurnID == "" {
		return domain.ErrValidation("checkpoint requires session_id and turn_id")
	}
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode session state: %w", err)
	}
	_, err = s.write.ExecContext(ctx, upsertCheckpoint,
		state.SessionID, state.TurnID, string(state.State), state.Question, string(payload),
		formatTime(state.StartedAt), formatTime(state.UpdatedAt))
	if err != nil {
		return fmt.Errorf("save checkpoint %s/%s: %w", state.SessionID, state.TurnID, err)
	}
	return nil
}

// Load returns the checkpoint of one turn.
func (s *Store) Load(ctx context.Context, sessionID, turnID string) (*domain.SessionState, error) {
	row := s.read.QueryRowContext(ctx,
		`SELECT payload FROM checkpoints WHERE session_id = ? AND turn_id = ?`, sessionID, turnID)
	state, err := scanState(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound("no checkpoint for session %q turn %q", sessionID, turnID)
	}
	return state, err
}

// Latest returns the most recently saved turn of a session.
func (s *Store) Latest(ctx context.Context, sessionID string) (*domain.SessionState, error) {
	row := s.read.QueryRowContext(ctx,
		`SELECT payload FROM checkpoints WHERE session_id = ? ORDER BY seq DESC LIMIT 1`, sessionID)
	state, err := scanState(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound("no checkpoint for session %q", sessionID)
	}
	return state, err
}

// History returns up to limit finished turns of a session, oldest first.
// A non-positive limit returns all of them.
func (s *Store) History(ctx context.Context, sessionID string, limit int) ([]domain.TurnRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.read.QueryContext(ctx, `
		SELECT payload FROM checkpoints
		WHERE session_id = ? AND state IN (?, ?)
		ORDER BY seq DESC
		LIMIT ?`,
		sessionID, string(domain.StateDone), string(domain.StateClarifying), limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var out []domain.TurnRecord
	for rows.Next() {
		state, err := scanState(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, state.Record())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// SessionSummary describes the latest turn of a session.
type SessionSummary struct {
	SessionID string           `json:"session_id"`
	Turns     int              `json:"turns"`
	LastTurn  string           `json:"last_turn_id"`
	State     domain.TurnState `json:"state"`
	Question  string           `json:"question"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// Sessions lists sessions, most recently updated first.
func (s *Store) Sessions(ctx context.Context, limit int) ([]SessionSummary, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.read.QueryContext(ctx, `
		SELECT c.session_id, t.turns, c.turn_id, c.state, c.question, c.updated_at
		FROM checkpoints c
		JOIN (
			SELECT session_id, COUNT(*) AS turns, MAX(seq) AS last_seq
			FROM checkpoints GROUP BY session_id
		) t ON t.session_id = c.session_id AND t.last_seq = c.seq
		ORDER BY c.seq DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var out []SessionSummary
	for rows.Next() {
		var (
			sum       SessionSummary
			state     string
			updatedAt string
		)
		if err := rows.Scan(&sum.SessionID, &sum.Turns, &sum.LastTurn, &state, &sum.Question, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sum.State = domain.TurnState(state)
		sum.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
		out = append(out, sum)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanState(sc scanner) (*domain.SessionState, error) {
	var payload string
	if err := sc.Scan(&payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}
	var state domain.SessionState
	if err := json.Unmarshal([]byte(payload), &state); err != nil {
		return nil, fmt.Errorf("decode checkpoint: %w", err)
	}
	return &state, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(time.RFC3339Nano)
}
