package agent

import (
	"bytes"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"duck-analyst/internal/domain"
)

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLogSink(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn})))

	sink.Emit(ctx, domain.TransitionEvent{From: domain.StateRouting, To: domain.StateGenerating})
	assert.Empty(t, buf.String(), "clean transitions log at debug")

	sink.Emit(ctx, domain.TransitionEvent{
		TurnID:       "t-1",
		From:         domain.StateExecuting,
		To:           domain.StateSummarizing,
		Error:        "timeout: query exceeded 30s",
		ExecCategory: domain.ExecTimeout,
	})
	out := buf.String()
	assert.Contains(t, out, "level=WARN")
	assert.Contains(t, out, "from_state=executing")
	assert.Contains(t, out, "exec_category=timeout")
	assert.Contains(t, out, "turn_id=t-1")
}

func TestMetricsSink(t *testing.T) {
	m := NewMetricsSink()
	emit := func(from, to domain.TurnState, ev domain.TransitionEvent) {
		ev.From, ev.To = from, to
		m.Emit(ctx, ev)
	}

	// Turn 1: one retry, then a failed execution.
	emit(domain.StateRouting, domain.StateGenerating, domain.TransitionEvent{})
	emit(domain.StateValidating, domain.StateGenerating, domain.TransitionEvent{ErrorKinds: []domain.ErrorKind{domain.KindUnknownReference}})
	emit(domain.StateValidating, domain.StateExecuting, domain.TransitionEvent{})
	emit(domain.StateExecuting, domain.StateSummarizing, domain.TransitionEvent{Elapsed: 40 * time.Millisecond, ExecCategory: domain.ExecTimeout})
	emit(domain.StateSummarizing, domain.StateDone, domain.TransitionEvent{})

	// Turn 2: clean.
	emit(domain.StateValidating, domain.StateExecuting, domain.TransitionEvent{})
	emit(domain.StateExecuting, domain.StateSummarizing, domain.TransitionEvent{Elapsed: 10 * time.Millisecond})
	emit(domain.StateSummarizing, domain.StateDone, domain.TransitionEvent{})

	// Turn 3: clarification.
	emit(domain.StateRouting, domain.StateClarifying, domain.TransitionEvent{})

	got := m.Snapshot()
	assert.Equal(t, 3, got.Turns)
	assert.Equal(t, 1, got.Retries)
	assert.Equal(t, 0, got.RetryBudgetsSpent)
	assert.InDelta(t, 1.0/3, got.RetryRate(), 1e-9)
	assert.Equal(t, 2, got.Transitions["validating->executing"])
	assert.Equal(t, 1, got.ValidationFailures[domain.KindUnknownReference])
	assert.Equal(t, 1, got.ExecutionFailures[domain.ExecTimeout])
	assert.Equal(t, 10*time.Millisecond, got.ExecLatencyP50)
	assert.Equal(t, 10*time.Millisecond, got.ExecLatencyP95)

	got.Transitions["validating->executing"] = 99
	assert.Equal(t, 2, m.Snapshot().Transitions["validating->executing"], "snapshots are copies")
}

func TestMetrics_RetryRateWithoutTurns(t *testing.T) {
	assert.Zero(t, Metrics{}.RetryRate())
}

func TestMultiSink(t *testing.T) {
	a, b := &recordingSink{}, &recordingSink{}
	MultiSink{a, b}.Emit(ctx, domain.TransitionEvent{From: domain.StateSummarizing, To: domain.StateDone})
	assert.Equal(t, []string{"summarizing->done"}, a.path())
	assert.Equal(t, []string{"summarizing->done"}, b.path())
}
