package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"duck-analyst/internal/domain"
)

func TestNext(t *testing.T) {
	valid := &domain.Verdict{IsValid: true}
	invalid := &domain.Verdict{Errors: []domain.VerdictError{{Kind: domain.KindParseError, Message: "bad"}}}
	withPrior := []domain.TurnRecord{
		{Question: "q1", Result: &domain.ExecutionResult{RowCount: 3}},
		{Question: "q2", Result: &domain.ExecutionResult{RowCount: 0}},
	}

	tests := []struct {
		name  string
		state domain.SessionState
		want  domain.TurnState
	}{
		{"analytical", domain.SessionState{State: domain.StateRouting, Intent: domain.IntentAnalytical}, domain.StateGenerating},
		{"ambiguous", domain.SessionState{State: domain.StateRouting, Intent: domain.IntentAmbiguous}, domain.StateClarifying},
		{"chat", domain.SessionState{State: domain.StateRouting, Intent: domain.IntentChat}, domain.StateSummarizing},
		{"summarize with prior", domain.SessionState{State: domain.StateRouting, Intent: domain.IntentSummarize, History: withPrior}, domain.StateSummarizing},
		{"summarize without prior", domain.SessionState{State: domain.StateRouting, Intent: domain.IntentSummarize}, domain.StateGenerating},
		{"predefined valid", domain.SessionState{State: domain.StateRouting, Predefined: true, Verdict: valid}, domain.StateExecuting},
		{"predefined blocked", domain.SessionState{State: domain.StateRouting, Predefined: true, Verdict: invalid}, domain.StateSummarizing},
		{"generated", domain.SessionState{State: domain.StateGenerating}, domain.StateValidating},
		{"valid", domain.SessionState{State: domain.StateValidating, Verdict: valid, RetryCount: 1}, domain.StateExecuting},
		{"retry", domain.SessionState{State: domain.StateValidating, Verdict: invalid, RetryCount: 1}, domain.StateGenerating},
		{"last retry", domain.SessionState{State: domain.StateValidating, Verdict: invalid, RetryCount: 2}, domain.StateGenerating},
		{"exhausted", domain.SessionState{State: domain.StateValidating, Verdict: invalid, RetryCount: 3}, domain.StateSummarizing},
		{"no verdict", domain.SessionState{State: domain.StateValidating, RetryCount: 3}, domain.StateSummarizing},
		{"executed", domain.SessionState{State: domain.StateExecuting}, domain.StateSummarizing},
		{"summarized", domain.SessionState{State: domain.StateSummarizing}, domain.StateDone},
		{"done", domain.SessionState{State: domain.StateDone}, domain.StateDone},
		{"clarifying", domain.SessionState{State: domain.StateClarifying}, domain.StateClarifying},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, next(&tt.state, MaxAttempts))
		})
	}
}

func TestNext_HonorsAttemptBudget(t *testing.T) {
	s := &domain.SessionState{
		State:      domain.StateValidating,
		Verdict:    &domain.Verdict{},
		RetryCount: 1,
	}
	assert.Equal(t, domain.StateSummarizing, next(s, 1))
	assert.Equal(t, domain.StateGenerating, next(s, 2))
}

func TestPriorResult(t *testing.T) {
	s := &domain.SessionState{History: []domain.TurnRecord{
		{Question: "first", Result: &domain.ExecutionResult{RowCount: 1}},
		{Question: "second", Result: &domain.ExecutionResult{RowCount: 4}},
		{Question: "third"},
	}}
	got := priorResult(s)
	if assert.NotNil(t, got) {
		assert.Equal(t, "second", got.Question)
	}
	assert.Nil(t, priorResult(&domain.SessionState{}))
}

func TestSummaryInput(t *testing.T) {
	res := &domain.ExecutionResult{RowCount: 2}

	assert.Equal(t, SummaryFailure, summaryInput(&domain.SessionState{Failure: "x", Result: res}).Kind)
	assert.Equal(t, SummaryFailure, summaryInput(&domain.SessionState{ExecError: &domain.ExecutionError{}}).Kind)
	assert.Equal(t, SummaryData, summaryInput(&domain.SessionState{Result: res}).Kind)
	assert.Equal(t, SummaryEmpty, summaryInput(&domain.SessionState{Result: &domain.ExecutionResult{}}).Kind)
	assert.Equal(t, SummaryChat, summaryInput(&domain.SessionState{Intent: domain.IntentChat}).Kind)
	assert.Equal(t, SummaryChat, summaryInput(&domain.SessionState{Intent: domain.IntentSummarize}).Kind)
}
