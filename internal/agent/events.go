package agent

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"duck-analyst/internal/domain"
)

var (
	_ domain.EventSink = (*LogSink)(nil)
	_ domain.EventSink = (*MetricsSink)(nil)
	_ domain.EventSink = MultiSink(nil)
)

// LogSink writes one structured log record per transition.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a sink that logs at debug level, or warn level for
// transitions that carry an error.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Emit(ctx context.Context, ev domain.TransitionEvent) {
	attrs := []slog.Attr{
		slog.String("session_id", ev.SessionID),
		slog.String("turn_id", ev.TurnID),
		slog.String("from_state", string(ev.From)),
		slog.String("to_state", string(ev.To)),
		slog.Int("retry_count", ev.RetryCount),
		slog.Duration("elapsed", ev.Elapsed),
	}
	level := slog.LevelDebug
	if ev.Error != "" {
		level = slog.LevelWarn
		attrs = append(attrs, slog.String("error", ev.Error))
	}
	if ev.ExecCategory != "" {
		attrs = append(attrs, slog.String("exec_category", string(ev.ExecCategory)))
	}
	s.logger.LogAttrs(ctx, level, "turn transition", attrs...)
}

// MetricsSink aggregates transition events in memory.
type MetricsSink struct {
	mu                 sync.Mutex
	transitions        map[string]int
	retries            int
	turns              int
	exhausted          int
	validationFailures map[domain.ErrorKind]int
	executionFailures  map[domain.ExecutionCategory]int
	execLatencies      []time.Duration
}

// NewMetricsSink creates an empty metrics sink.
func NewMetricsSink() *MetricsSink {
	return &MetricsSink{
		transitions:        make(map[string]int),
		validationFailures: make(map[domain.ErrorKind]int),
		executionFailures:  make(map[domain.ExecutionCategory]int),
	}
}

func (m *MetricsSink) Emit(_ context.Context, ev domain.TransitionEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.transitions[string(ev.From)+"->"+string(ev.To)]++
	for _, k := range ev.ErrorKinds {
		m.validationFailures[k]++
	}
	switch {
	case ev.From == domain.StateValidating && ev.To == domain.StateGenerating:
		m.retries++
	case ev.From == domain.StateValidating && ev.To == domain.StateSummarizing:
		m.exhausted++
	case ev.From == domain.StateExecuting:
		m.execLatencies = append(m.execLatencies, ev.Elapsed)
		if ev.ExecCategory != "" {
			m.executionFailures[ev.ExecCategory]++
		}
	}
	if ev.To.Terminal() {
		m.turns++
	}
}

// Metrics is a point-in-time copy of a MetricsSink.
type Metrics struct {
	Turns              int                              `json:"turns"`
	Retries            int                              `json:"retries"`
	RetryBudgetsSpent  int                              `json:"retry_budgets_exhausted"`
	Transitions        map[string]int                   `json:"transitions"`
	ValidationFailures map[domain.ErrorKind]int         `json:"validation_failures"`
	ExecutionFailures  map[domain.ExecutionCategory]int `json:"execution_failures"`
	ExecLatencyP50     time.Duration                    `json:"exec_latency_p50"`
	ExecLatencyP95     time.Duration                    `json:"exec_latency_p95"`
}

// RetryRate is retries per finished turn.
func (m Metrics) RetryRate() float64 {
	if m.Turns == 0 {
		return 0
	}
	return float64(m.Retries) / float64(m.Turns)
}

// Snapshot copies the current counters.
func (m *MetricsSink) Snapshot() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := Metrics{
		Turns:              m.turns,
		Retries:            m.retries,
		RetryBudgetsSpent:  m.exhausted,
		Transitions:        make(map[string]int, len(m.transitions)),
		ValidationFailures: make(map[domain.ErrorKind]int, len(m.validationFailures)),
		ExecutionFailures:  make(map[domain.ExecutionCategory]int, len(m.executionFailures)),
	}
	for k, v := range m.transitions {
		out.Transitions[k] = v
	}
	for k, v := range m.validationFailures {
		out.ValidationFailures[k] = v
	}
	for k, v := range m.executionFailures {
		out.ExecutionFailures[k] = v
	}
	if n := len(m.execLatencies); n > 0 {
		sorted := append([]time.Duration(nil), m.execLatencies...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
		out.ExecLatencyP50 = sorted[(n-1)*50/100]
		out.ExecLatencyP95 = sorted[(n-1)*95/100]
	}
	return out
}

// MultiSink fans events out to several sinks.
type MultiSink []domain.EventSink

func (ms MultiSink) Emit(ctx context.Context, ev domain.TransitionEvent) {
	for _, s := range ms {
		s.Emit(ctx, ev)
	}
}
