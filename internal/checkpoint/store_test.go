package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"duck-analyst/internal/domain"
)

var ctx = context.Background()

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "checkpoints.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func state(session, turn string, st domain.TurnState, at time.Time) *domain.SessionState {
	return &domain.SessionState{
		SessionID: session,
		TurnID:    turn,
		State:     st,
		Question:  "question " + turn,
		Mode:      domain.ModeQuery,
		StartedAt: at,
		UpdatedAt: at,
	}
}

func TestBuildDSN(t *testing.T) {
	w := buildDSN("/tmp/a.sqlite", "write")
	assert.True(t, strings.HasPrefix(w, "/tmp/a.sqlite?"))
	assert.Contains(t, w, "_journal_mode=WAL")
	assert.Contains(t, w, "_busy_timeout=5000")
	assert.Contains(t, w, "_txlock=immediate")

	r := buildDSN("/tmp/a.sqlite", "read")
	assert.NotContains(t, r, "_txlock")
}

func TestOpenSQLite_InvalidMode(t *testing.T) {
	_, err := openSQLite(filepath.Join(t.TempDir(), "x.db"), "invalid", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid SQLite mode")
}

func TestOpen_InvalidPath(t *testing.T) {
	_, err := Open("/nonexistent/dir/checkpoints.sqlite")
	require.Error(t, err)
}

func TestOpen_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoints.sqlite")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, state("s1", "t1", domain.StateDone, time.Now())))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close() //nolint:errcheck

	got, err := s.Load(ctx, "s1", "t1")
	require.NoError(t, err)
	assert.Equal(t, domain.StateDone, got.State)
}

func TestSaveLoad_RoundTripsState(t *testing.T) {
	s := openTestStore(t)
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	in := state("s1", "t1", domain.StateValidating, at)
	in.RetryCount = 2
	in.LastErrors = []string{"UnknownReference: Table 'x' not found"}
	in.Candidate = &domain.Candidate{RawSQL: "SELECT 1", Confidence: 0.5}
	require.NoError(t, s.Save(ctx, in))

	got, err := s.Load(ctx, "s1", "t1")
	require.NoError(t, err)
	assert.Equal(t, domain.StateValidating, got.State)
	assert.Equal(t, 2, got.RetryCount)
	assert.Equal(t, in.LastErrors, got.LastErrors)
	require.NotNil(t, got.Candidate)
	assert.Equal(t, "SELECT 1", got.Candidate.RawSQL)
	assert.True(t, at.Equal(got.UpdatedAt))
}

func TestSave_UpsertsPerTurn(t *testing.T) {
	s := openTestStore(t)
	at := time.Now()

	require.NoError(t, s.Save(ctx, state("s1", "t1", domain.StateRouting, at)))
	require.NoError(t, s.Save(ctx, state("s1", "t1", domain.StateGenerating, at)))
	require.NoError(t, s.Save(ctx, state("s1", "t1", domain.StateDone, at)))

	got, err := s.Load(ctx, "s1", "t1")
	require.NoError(t, err)
	assert.Equal(t, domain.StateDone, got.State)

	var n int
	require.NoError(t, s.read.QueryRowContext(ctx, "SELECT count(*) FROM checkpoints").Scan(&n))
	assert.Equal(t, 1, n)
}

func TestSave_RequiresKeys(t *testing.T) {
	s := openTestStore(t)
	err := s.Save(ctx, &domain.SessionState{SessionID: "s1"})
	var ve *domain.ValidationError
	assert.True(t, errors.As(err, &ve))
}

func TestLoad_NotFound(t *testing.T) {
	s := openTestStore(t)

	_, err := s.Load(ctx, "nope", "t1")
	var nf *domain.NotFoundError
	require.True(t, errors.As(err, &nf))

	_, err = s.Latest(ctx, "nope")
	require.True(t, errors.As(err, &nf))
}

func TestLatest_FollowsSaveOrder(t *testing.T) {
	s := openTestStore(t)
	at := time.Now()

	require.NoError(t, s.Save(ctx, state("s1", "t1", domain.StateDone, at)))
	require.NoError(t, s.Save(ctx, state("s1", "t2", domain.StateExecuting, at)))
	require.NoError(t, s.Save(ctx, state("s2", "t9", domain.StateDone, at)))

	got, err := s.Latest(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "t2", got.TurnID)

	// Saving t1 again makes it the latest turn.
	require.NoError(t, s.Save(ctx, state("s1", "t1", domain.StateDone, at)))
	got, err = s.Latest(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "t1", got.TurnID)
}

func TestHistory_FinishedTurnsOldestFirst(t *testing.T) {
	s := openTestStore(t)
	at := time.Now()

	for i := 1; i <= 4; i++ {
		st := state("s1", fmt.Sprintf("t%d", i), domain.StateDone, at)
		st.FinalAnswer = fmt.Sprintf("answer %d", i)
		st.ExecutableSQL = "SELECT 1 LIMIT 100"
		require.NoError(t, s.Save(ctx, st))
	}
	require.NoError(t, s.Save(ctx, state("s1", "t5", domain.StateGenerating, at)))
	require.NoError(t, s.Save(ctx, state("other", "t1", domain.StateDone, at)))

	all, err := s.History(ctx, "s1", 0)
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, "t1", all[0].TurnID)
	assert.Equal(t, "answer 4", all[3].Answer)
	assert.Equal(t, "SELECT 1 LIMIT 100", all[3].SQL)

	last2, err := s.History(ctx, "s1", 2)
	require.NoError(t, err)
	require.Len(t, last2, 2)
	assert.Equal(t, "t3", last2[0].TurnID)
	assert.Equal(t, "t4", last2[1].TurnID)
}

func TestSessions(t *testing.T) {
	s := openTestStore(t)
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, s.Save(ctx, state("s1", "t1", domain.StateDone, at)))
	require.NoError(t, s.Save(ctx, state("s2", "t1", domain.StateDone, at)))
	require.NoError(t, s.Save(ctx, state("s1", "t2", domain.StateExecuting, at.Add(time.Minute))))

	got, err := s.Sessions(ctx, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "s1", got[0].SessionID)
	assert.Equal(t, 2, got[0].Turns)
	assert.Equal(t, "t2", got[0].LastTurn)
	assert.Equal(t, domain.StateExecuting, got[0].State)
	assert.True(t, at.Add(time.Minute).Equal(got[0].UpdatedAt))
	assert.Equal(t, "s2", got[1].SessionID)

	one, err := s.Sessions(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, one, 1)
}
