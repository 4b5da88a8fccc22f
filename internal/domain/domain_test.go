package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshot_LookupIsCaseInsensitive(t *testing.T) {
	snap := NewSnapshot([]TableSchema{{Name: "customers"}, {Name: "Sales"}}, time.Now(), nil)

	got, ok := snap.Lookup("SALES")
	require.True(t, ok)
	assert.Equal(t, "Sales", got.Name)
	assert.True(t, snap.Has("Customers"))
	assert.False(t, snap.Has("orders"))
	assert.Equal(t, []string{"customers", "Sales"}, snap.TableNames())
}

func TestSnapshot_NilIsEmpty(t *testing.T) {
	var snap *Snapshot
	assert.True(t, snap.Empty())
	assert.False(t, snap.Has("x"))
	assert.Nil(t, snap.TableNames())
}

func TestCatalogUnavailableError_SortedMessage(t *testing.T) {
	err := &CatalogUnavailableError{Failures: map[string]string{"s3": "denied", "local": "no such dir"}}
	assert.Equal(t, "catalog unavailable: all sources failed (local: no such dir; s3: denied)", err.Error())
}

func TestTypedErrors_As(t *testing.T) {
	wrapped := fmt.Errorf("execute: %w", &ExecutionError{Category: ExecTimeout, Message: "deadline"})

	var execErr *ExecutionError
	require.True(t, errors.As(wrapped, &execErr))
	assert.Equal(t, ExecTimeout, execErr.Category)
	assert.Equal(t, "timeout: deadline", execErr.Error())

	var nf *NotFoundError
	assert.True(t, errors.As(ErrNotFound("session %q", "abc"), &nf))
	assert.Equal(t, `session "abc"`, nf.Error())
}

func TestVerdict_Helpers(t *testing.T) {
	v := Verdict{Errors: []VerdictError{
		{Kind: KindSafetyViolation, Message: "DELETE is not allowed"},
		{Kind: KindUnknownReference, Message: "unknown table"},
	}}
	assert.Equal(t, []string{"DELETE is not allowed", "unknown table"}, v.Messages())
	assert.True(t, v.HasKind(KindSafetyViolation))
	assert.False(t, v.HasKind(KindParseError))
	assert.Equal(t, "SELECT 1", v.ExecutableSQL("SELECT 1"))

	v.CorrectedSQL = "SELECT 1 LIMIT 100"
	assert.Equal(t, "SELECT 1 LIMIT 100", v.ExecutableSQL("SELECT 1"))
}

func TestTurnState_Terminal(t *testing.T) {
	assert.True(t, StateDone.Terminal())
	assert.True(t, StateClarifying.Terminal())
	assert.False(t, StateSummarizing.Terminal())
}
