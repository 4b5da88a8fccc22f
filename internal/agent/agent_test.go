package agent

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"duck-analyst/internal/checkpoint"
	"duck-analyst/internal/domain"
	"duck-analyst/internal/validator"
)

var ctx = context.Background()

type staticCatalog struct {
	snap *domain.Snapshot
	err  error
}

func (c *staticCatalog) Get(context.Context, bool) (*domain.Snapshot, error) {
	return c.snap, c.err
}

type fakeRouter struct {
	mu       sync.Mutex
	decision RouteDecision
	err      error
	calls    int
}

func (r *fakeRouter) Route(context.Context, RouteInput) (RouteDecision, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	return r.decision, r.err
}

// scriptedGenerator returns sqls in order and repeats the last one.
type scriptedGenerator struct {
	mu         sync.Mutex
	sqls       []string
	err        error
	inputs     []GenerateInput
	blockFirst bool
	started    chan struct{}
}

func (g *scriptedGenerator) Generate(ctx context.Context, in GenerateInput) (*domain.Candidate, error) {
	g.mu.Lock()
	g.inputs = append(g.inputs, in)
	n := len(g.inputs)
	block := g.blockFirst && n == 1
	g.mu.Unlock()

	if block {
		close(g.started)
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if g.err != nil {
		return nil, g.err
	}
	sql := g.sqls[min(n, len(g.sqls))-1]
	return &domain.Candidate{RawSQL: sql, Confidence: 0.9}, nil
}

func (g *scriptedGenerator) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.inputs)
}

type fakeExecutor struct {
	mu      sync.Mutex
	result  *domain.ExecutionResult
	err     error
	queries []string
	maxRows []int
}

func (e *fakeExecutor) Execute(_ context.Context, sql string, maxRows int, _ time.Duration) (*domain.ExecutionResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.queries = append(e.queries, sql)
	e.maxRows = append(e.maxRows, maxRows)
	return e.result, e.err
}

type recordingSummarizer struct {
	mu     sync.Mutex
	inputs []SummaryInput
	err    error
}

func (s *recordingSummarizer) Summarize(_ context.Context, in SummaryInput) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inputs = append(s.inputs, in)
	if s.err != nil {
		return "", s.err
	}
	return "answer: " + string(in.Kind), nil
}

type recordingSink struct {
	mu     sync.Mutex
	events []domain.TransitionEvent
}

func (s *recordingSink) Emit(_ context.Context, ev domain.TransitionEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *recordingSink) path() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.events))
	for i, ev := range s.events {
		out[i] = string(ev.From) + "->" + string(ev.To)
	}
	return out
}

func testSnapshot() *domain.Snapshot {
	return domain.NewSnapshot([]domain.TableSchema{
		{
			Name:          "customers",
			SourceKind:    domain.SourceRelational,
			SourceName:    "crm",
			SourceLocator: `"crm"."public"."customers"`,
			Columns:       []domain.Column{{Name: "id", DeclaredType: "integer"}, {Name: "segment", DeclaredType: "text"}},
		},
		{
			Name:          "sales",
			SourceKind:    domain.SourceObjectStore,
			SourceName:    "lake",
			SourceLocator: "s3://lake/sales.parquet",
			FileFormat:    "parquet",
			Columns:       []domain.Column{{Name: "region", DeclaredType: "VARCHAR"}, {Name: "amount", DeclaredType: "DOUBLE"}},
		},
	}, time.Now(), nil)
}

func salesResult() *domain.ExecutionResult {
	return &domain.ExecutionResult{
		Columns: []string{"region", "total"},
		Rows: []map[string]any{
			{"region": "north", "total": 1200.5},
			{"region": "south", "total": 830.0},
		},
		RowCount: 2,
		Elapsed:  12 * time.Millisecond,
	}
}

const goodSQL = "SELECT region, SUM(amount) AS total FROM sales GROUP BY region"

type harness struct {
	catalog *staticCatalog
	router  *fakeRouter
	gen     *scriptedGenerator
	exec    *fakeExecutor
	sum     *recordingSummarizer
	sink    *recordingSink
	store   *checkpoint.Store
	agent   *Agent
}

func newHarness(t *testing.T, sqls ...string) *harness {
	t.Helper()
	store, err := checkpoint.Open(filepath.Join(t.TempDir(), "checkpoints.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	if len(sqls) == 0 {
		sqls = []string{goodSQL}
	}
	h := &harness{
		catalog: &staticCatalog{snap: testSnapshot()},
		router:  &fakeRouter{decision: RouteDecision{Intent: domain.IntentAnalytical}},
		gen:     &scriptedGenerator{sqls: sqls},
		exec:    &fakeExecutor{result: salesResult()},
		sum:     &recordingSummarizer{},
		sink:    &recordingSink{},
		store:   store,
	}
	h.agent = h.build(t, Options{})
	return h
}

func (h *harness) build(t *testing.T, opts Options) *Agent {
	t.Helper()
	a, err := New(Deps{
		Catalog:    h.catalog,
		Validator:  validator.New(validator.Options{}),
		Executor:   h.exec,
		Router:     h.router,
		Generator:  h.gen,
		Summarizer: h.sum,
		Store:      h.store,
		Events:     h.sink,
	}, opts)
	require.NoError(t, err)
	return a
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Deps{}, Options{})
	require.Error(t, err)

	_, err = New(Deps{
		Catalog:   &staticCatalog{},
		Validator: validator.New(validator.Options{}),
		Executor:  &fakeExecutor{},
		Generator: &scriptedGenerator{},
	}, Options{})
	assert.EqualError(t, err, "agent: summarizer is required")
}

func TestAsk_AnswersAnalyticalQuestion(t *testing.T) {
	h := newHarness(t)

	out, err := h.agent.Ask(ctx, TurnInput{Question: "Total sales by region?", MaxResults: 10})
	require.NoError(t, err)

	assert.True(t, out.Success)
	assert.Equal(t, domain.StateDone, out.State)
	assert.Equal(t, domain.IntentAnalytical, out.Intent)
	assert.Equal(t, "answer: data", out.Answer)
	assert.Equal(t, goodSQL+" LIMIT 100", out.GeneratedSQL)
	assert.Equal(t, 1, out.Attempts)
	assert.Equal(t, 2, out.RowCount)
	assert.Equal(t, []string{"region", "total"}, out.Columns)
	assert.Contains(t, out.Warnings, "LIMIT 100 automatically added")
	assert.NotEmpty(t, out.SessionID)
	assert.NotEmpty(t, out.TurnID)
	assert.Empty(t, out.Error)

	assert.Equal(t, []string{
		"routing->generating",
		"generating->validating",
		"validating->executing",
		"executing->summarizing",
		"summarizing->done",
	}, h.sink.path())

	require.Len(t, h.exec.queries, 1)
	assert.Contains(t, h.exec.queries[0], "read_parquet('s3://lake/sales.parquet')")
	assert.NotContains(t, h.exec.queries[0], "FROM sales ")
	assert.Equal(t, []int{10}, h.exec.maxRows)

	require.Len(t, h.gen.inputs, 1)
	assert.Contains(t, h.gen.inputs[0].SchemaContext, "### sales")
	assert.Empty(t, h.gen.inputs[0].Errors)

	saved, err := h.store.Latest(ctx, out.SessionID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateDone, saved.State)
	assert.Equal(t, "answer: data", saved.FinalAnswer)
}

func TestAsk_MaxResultsCappedByAgent(t *testing.T) {
	h := newHarness(t)
	h.agent = h.build(t, Options{MaxResults: 50})

	_, err := h.agent.Ask(ctx, TurnInput{Question: "Total sales by region?", MaxResults: 5000})
	require.NoError(t, err)
	assert.Equal(t, []int{50}, h.exec.maxRows)
}

func TestAsk_RetriesWithValidatorFeedback(t *testing.T) {
	h := newHarness(t, "SELECT * FROM sale", goodSQL)

	out, err := h.agent.Ask(ctx, TurnInput{Question: "Total sales by region?"})
	require.NoError(t, err)

	assert.True(t, out.Success)
	assert.Equal(t, 2, out.Attempts)
	require.Len(t, h.gen.inputs, 2)
	retry := h.gen.inputs[1]
	assert.Equal(t, "SELECT * FROM sale", retry.PreviousSQL)
	require.Len(t, retry.Errors, 1)
	assert.Contains(t, retry.Errors[0], "Unknown table 'sale'")
	assert.Contains(t, retry.Errors[0], "Did you mean: sales?")

	assert.Equal(t, []string{
		"routing->generating",
		"generating->validating",
		"validating->generating",
		"generating->validating",
		"validating->executing",
		"executing->summarizing",
		"summarizing->done",
	}, h.sink.path())
	assert.Equal(t, []domain.ErrorKind{domain.KindUnknownReference}, h.sink.events[2].ErrorKinds)
}

func TestNew_MaxAttemptsNeverRaised(t *testing.T) {
	h := newHarness(t, "SELECT * FROM missing_table")
	h.agent = h.build(t, Options{MaxAttempts: 10})

	out, err := h.agent.Ask(ctx, TurnInput{Question: "Show me the missing data"})
	require.NoError(t, err)
	assert.False(t, out.Success)
	assert.Equal(t, MaxAttempts, h.gen.calls())

	h = newHarness(t, "SELECT * FROM missing_table")
	h.agent = h.build(t, Options{MaxAttempts: 1})
	_, err = h.agent.Ask(ctx, TurnInput{Question: "Show me the missing data"})
	require.NoError(t, err)
	assert.Equal(t, 1, h.gen.calls())
}

func TestAsk_RetryBudgetExhausted(t *testing.T) {
	h := newHarness(t, "SELECT * FROM missing_table")

	out, err := h.agent.Ask(ctx, TurnInput{Question: "Show me the missing data"})
	require.NoError(t, err)

	assert.False(t, out.Success)
	assert.Equal(t, domain.StateDone, out.State)
	assert.Equal(t, MaxAttempts, out.Attempts)
	assert.Equal(t, MaxAttempts, h.gen.calls())
	assert.Empty(t, h.exec.queries, "executor must never run an invalid query")
	assert.Contains(t, out.Error, "no valid query after 3 attempts")
	assert.Equal(t, "answer: error", out.Answer)

	require.Len(t, h.sum.inputs, 1)
	assert.Equal(t, SummaryFailure, h.sum.inputs[0].Kind)
	assert.Contains(t, h.sum.inputs[0].Failure, "Unknown table 'missing_table'")

	path := h.sink.path()
	assert.Equal(t, "validating->summarizing", path[len(path)-2])
}

func TestAsk_DeleteIsNeverExecuted(t *testing.T) {
	h := newHarness(t, "DELETE FROM sales")
	metrics := NewMetricsSink()
	sink := h.sink
	h.agent = h.build(t, Options{})
	h.agent.deps.Events = MultiSink{sink, metrics}

	out, err := h.agent.Ask(ctx, TurnInput{Question: "Remove all sales"})
	require.NoError(t, err)

	assert.False(t, out.Success)
	assert.Empty(t, h.exec.queries)
	assert.Contains(t, out.Error, "Blocked operation: DELETE")
	for _, in := range h.gen.inputs[1:] {
		assert.Equal(t, "DELETE FROM sales", in.PreviousSQL)
	}

	m := metrics.Snapshot()
	assert.Equal(t, 1, m.Turns)
	assert.Equal(t, 2, m.Retries)
	assert.Equal(t, 1, m.RetryBudgetsSpent)
	assert.Equal(t, 3, m.ValidationFailures[domain.KindSafetyViolation])
}

func TestAsk_GenerationFailureCountsAsAttempt(t *testing.T) {
	h := newHarness(t)
	h.gen.err = errors.New("model unavailable")

	out, err := h.agent.Ask(ctx, TurnInput{Question: "Total sales by region?"})
	require.NoError(t, err)

	assert.False(t, out.Success)
	assert.Equal(t, MaxAttempts, h.gen.calls())
	assert.Contains(t, out.Error, "SQL generation failed: model unavailable")
	assert.Empty(t, out.GeneratedSQL)
}

func TestAsk_PredefinedQuerySkipsRouterAndGenerator(t *testing.T) {
	h := newHarness(t)

	out, err := h.agent.Ask(ctx, TurnInput{Question: "SELECT region FROM sales LIMIT 5"})
	require.NoError(t, err)

	assert.True(t, out.Success)
	assert.Equal(t, 0, h.router.calls)
	assert.Equal(t, 0, h.gen.calls())
	assert.Equal(t, "SELECT region FROM sales LIMIT 5", out.GeneratedSQL)
	require.Len(t, h.exec.queries, 1)
	assert.Equal(t, []string{
		"routing->executing",
		"executing->summarizing",
		"summarizing->done",
	}, h.sink.path())
}

func TestAsk_PredefinedQueryBlocked(t *testing.T) {
	h := newHarness(t)

	out, err := h.agent.Ask(ctx, TurnInput{Question: "SELECT * FROM read_csv('/etc/passwd')"})
	require.NoError(t, err)

	assert.False(t, out.Success)
	assert.Empty(t, h.exec.queries)
	assert.Equal(t, 0, h.gen.calls())
	assert.Contains(t, out.Error, "Function read_csv is not allowed")
	assert.Equal(t, []string{"routing->summarizing", "summarizing->done"}, h.sink.path())
	assert.Contains(t, h.sink.events[0].ErrorKinds, domain.KindSafetyViolation)
}

func TestAsk_PredefinedUnknownTableFallsBackToRouter(t *testing.T) {
	h := newHarness(t)

	_, err := h.agent.Ask(ctx, TurnInput{Question: "SELECT * FROM invoices"})
	require.NoError(t, err)
	assert.Equal(t, 1, h.router.calls)
	assert.Equal(t, 1, h.gen.calls())
}

func TestAsk_AmbiguousQuestionAsksForClarification(t *testing.T) {
	h := newHarness(t)
	h.router.decision = RouteDecision{Intent: domain.IntentAmbiguous, Clarification: "Which report do you mean?"}

	out, err := h.agent.Ask(ctx, TurnInput{Question: "Show me the report"})
	require.NoError(t, err)

	assert.True(t, out.Success)
	assert.Equal(t, domain.StateClarifying, out.State)
	assert.Equal(t, "Which report do you mean?", out.Answer)
	assert.Equal(t, 0, h.gen.calls())
	assert.Empty(t, h.sum.inputs)
	assert.Equal(t, []string{"routing->clarifying"}, h.sink.path())
}

func TestAsk_AmbiguousWithoutQuestionUsesDefault(t *testing.T) {
	h := newHarness(t)
	h.router.decision = RouteDecision{Intent: domain.IntentAmbiguous}

	out, err := h.agent.Ask(ctx, TurnInput{Question: "Compare them"})
	require.NoError(t, err)
	assert.Equal(t, defaultClarification, out.Answer)
}

func TestAsk_ConversationalTurn(t *testing.T) {
	h := newHarness(t)
	h.router.decision = RouteDecision{Intent: domain.IntentChat}

	out, err := h.agent.Ask(ctx, TurnInput{Question: "Hello!"})
	require.NoError(t, err)

	assert.True(t, out.Success)
	assert.Equal(t, "answer: chat", out.Answer)
	assert.Equal(t, 0, h.gen.calls())
	assert.Empty(t, h.exec.queries)
	assert.Equal(t, []string{"routing->summarizing", "summarizing->done"}, h.sink.path())
}

func TestAsk_RouterFailureDefaultsToAnalytical(t *testing.T) {
	h := newHarness(t)
	h.router.err = errors.New("rate limited")

	out, err := h.agent.Ask(ctx, TurnInput{Question: "Total sales by region?"})
	require.NoError(t, err)

	assert.True(t, out.Success)
	assert.Equal(t, domain.IntentAnalytical, out.Intent)
	assert.Equal(t, 1, h.gen.calls())
}

func TestAsk_SummarizeUsesPriorResult(t *testing.T) {
	h := newHarness(t)

	first, err := h.agent.Ask(ctx, TurnInput{Question: "Total sales by region?"})
	require.NoError(t, err)

	second, err := h.agent.Ask(ctx, TurnInput{
		Question:  "What does this tell us?",
		SessionID: first.SessionID,
		Mode:      domain.ModeSummarize,
	})
	require.NoError(t, err)

	assert.True(t, second.Success)
	assert.Equal(t, domain.IntentSummarize, second.Intent)
	assert.Equal(t, 1, h.gen.calls(), "summarizing needs no new query")
	assert.Len(t, h.exec.queries, 1)

	require.Len(t, h.sum.inputs, 2)
	in := h.sum.inputs[1]
	assert.Equal(t, SummaryData, in.Kind)
	require.NotNil(t, in.Result)
	assert.Equal(t, 2, in.Result.RowCount)
	assert.Contains(t, in.Question, "Total sales by region?")
}

func TestAsk_SummarizeWithoutPriorResultGeneratesQuery(t *testing.T) {
	h := newHarness(t)

	out, err := h.agent.Ask(ctx, TurnInput{Question: "Summarize sales by region", Mode: domain.ModeSummarize})
	require.NoError(t, err)

	assert.True(t, out.Success)
	assert.Equal(t, 1, h.gen.calls())
	assert.Len(t, h.exec.queries, 1)
}

func TestAsk_HistoryPassedToLaterTurns(t *testing.T) {
	h := newHarness(t)

	first, err := h.agent.Ask(ctx, TurnInput{Question: "Total sales by region?"})
	require.NoError(t, err)
	_, err = h.agent.Ask(ctx, TurnInput{Question: "And only the north?", SessionID: first.SessionID})
	require.NoError(t, err)

	require.Len(t, h.gen.inputs, 2)
	history := h.gen.inputs[1].History
	require.Len(t, history, 1)
	assert.Equal(t, "Total sales by region?", history[0].Question)
	assert.Equal(t, goodSQL+" LIMIT 100", history[0].SQL)
}

func TestAsk_ExecutionFailureIsNarrated(t *testing.T) {
	h := newHarness(t)
	h.exec.result = nil
	h.exec.err = &domain.ExecutionError{Category: domain.ExecColumnNotFound, Message: `column "amount" not found`}

	out, err := h.agent.Ask(ctx, TurnInput{Question: "Total sales by region?"})
	require.NoError(t, err)

	assert.False(t, out.Success)
	assert.Equal(t, domain.StateDone, out.State)
	assert.Equal(t, `column_not_found: column "amount" not found`, out.Error)
	assert.Equal(t, 1, h.gen.calls(), "execution failures are not retried")

	require.Len(t, h.sum.inputs, 1)
	assert.Equal(t, SummaryFailure, h.sum.inputs[0].Kind)
	require.NotNil(t, h.sum.inputs[0].ExecError)

	var execEvent domain.TransitionEvent
	for _, ev := range h.sink.events {
		if ev.From == domain.StateExecuting {
			execEvent = ev
		}
	}
	assert.Equal(t, domain.ExecColumnNotFound, execEvent.ExecCategory)
}

func TestAsk_EmptyResult(t *testing.T) {
	h := newHarness(t)
	h.exec.result = &domain.ExecutionResult{Columns: []string{"region"}, Rows: []map[string]any{}}

	out, err := h.agent.Ask(ctx, TurnInput{Question: "Total sales by region?"})
	require.NoError(t, err)

	assert.True(t, out.Success)
	assert.Equal(t, 0, out.RowCount)
	assert.Equal(t, "answer: empty", out.Answer)
}

func TestAsk_SummarizerFailureUsesFallback(t *testing.T) {
	h := newHarness(t)
	h.sum.err = errors.New("model down")

	out, err := h.agent.Ask(ctx, TurnInput{Question: "Total sales by region?"})
	require.NoError(t, err)
	assert.Equal(t, "I found 2 results for your query. Please review the data below.", out.Answer)
}

func TestAsk_DegradedCatalog(t *testing.T) {
	h := newHarness(t)
	h.catalog.snap = domain.NewSnapshot(nil, time.Now(), nil)
	h.catalog.err = &domain.CatalogUnavailableError{Failures: map[string]string{"lake": "denied"}}

	out, err := h.agent.Ask(ctx, TurnInput{Question: "Total sales by region?"})
	require.NoError(t, err)

	assert.False(t, out.Success)
	assert.Contains(t, h.gen.inputs[0].SchemaContext, "No tables discovered")
	assert.Contains(t, out.Error, "No tables are currently available")
	assert.Empty(t, h.exec.queries)
}

func TestAsk_InvalidInput(t *testing.T) {
	h := newHarness(t)

	_, err := h.agent.Ask(ctx, TurnInput{Question: "   "})
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)

	_, err = h.agent.Ask(ctx, TurnInput{Question: "hi", Mode: "explain"})
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, err.Error(), `invalid mode "explain"`)
}

func TestAsk_CanceledTurnResumes(t *testing.T) {
	h := newHarness(t)
	h.gen.blockFirst = true
	h.gen.started = make(chan struct{})

	cctx, cancel := context.WithCancel(ctx)
	type result struct {
		out *TurnOutput
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := h.agent.Ask(cctx, TurnInput{Question: "Total sales by region?", SessionID: "s-1"})
		done <- result{out, err}
	}()

	<-h.gen.started
	cancel()
	res := <-done
	require.ErrorIs(t, res.err, context.Canceled)
	assert.Nil(t, res.out)

	saved, err := h.store.Latest(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StateGenerating, saved.State)
	assert.Equal(t, 0, saved.RetryCount)

	out, err := h.agent.Resume(ctx, "s-1")
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Equal(t, domain.StateDone, out.State)
	assert.Equal(t, saved.TurnID, out.TurnID)
	assert.Equal(t, 1, out.Attempts)
	assert.Len(t, h.exec.queries, 1)
}

func TestResume_FromExecuting(t *testing.T) {
	h := newHarness(t)
	now := time.Now()
	require.NoError(t, h.store.Save(ctx, &domain.SessionState{
		SessionID:     "s-2",
		TurnID:        "t-1",
		State:         domain.StateExecuting,
		Question:      "Total sales by region?",
		Mode:          domain.ModeQuery,
		MaxResults:    100,
		Intent:        domain.IntentAnalytical,
		RetryCount:    1,
		ExecutableSQL: goodSQL + " LIMIT 100",
		Verdict:       &domain.Verdict{IsValid: true},
		StartedAt:     now,
		UpdatedAt:     now,
	}))

	out, err := h.agent.Resume(ctx, "s-2")
	require.NoError(t, err)

	assert.True(t, out.Success)
	assert.Equal(t, "t-1", out.TurnID)
	assert.Equal(t, 0, h.router.calls)
	assert.Equal(t, 0, h.gen.calls())
	require.Len(t, h.exec.queries, 1)
	assert.Equal(t, []int{100}, h.exec.maxRows)
	assert.Equal(t, []string{"executing->summarizing", "summarizing->done"}, h.sink.path())
}

func TestResume_FinishedTurnIsReturnedAsIs(t *testing.T) {
	h := newHarness(t)
	first, err := h.agent.Ask(ctx, TurnInput{Question: "Total sales by region?"})
	require.NoError(t, err)
	events := len(h.sink.events)

	again, err := h.agent.Resume(ctx, first.SessionID)
	require.NoError(t, err)
	assert.Equal(t, first.Answer, again.Answer)
	assert.Equal(t, first.TurnID, again.TurnID)
	assert.Len(t, h.sink.events, events)
	assert.Len(t, h.exec.queries, 1)
}

func TestResume_UnknownSession(t *testing.T) {
	h := newHarness(t)
	_, err := h.agent.Resume(ctx, "nope")
	var nf *domain.NotFoundError
	assert.ErrorAs(t, err, &nf)
}

func TestResume_RequiresStore(t *testing.T) {
	h := newHarness(t)
	h.store = nil
	a, err := New(Deps{
		Catalog:    h.catalog,
		Validator:  validator.New(validator.Options{}),
		Executor:   h.exec,
		Generator:  h.gen,
		Summarizer: h.sum,
	}, Options{})
	require.NoError(t, err)

	out, err := a.Ask(ctx, TurnInput{Question: "Total sales by region?"})
	require.NoError(t, err)
	assert.True(t, out.Success, "checkpointing is optional")

	_, err = a.Resume(ctx, out.SessionID)
	require.Error(t, err)
}

func TestAsk_ConcurrentTurns(t *testing.T) {
	h := newHarness(t)

	const turns = 8
	var wg sync.WaitGroup
	for range turns {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := h.agent.Ask(ctx, TurnInput{Question: "Total sales by region?"})
			if assert.NoError(t, err) {
				assert.True(t, out.Success)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, turns, h.gen.calls())
}

func TestAsk_SchemaContextFavorsQuestionTables(t *testing.T) {
	h := newHarness(t)
	tables := testSnapshot().Tables
	for i := range 25 {
		tables = append(tables, domain.TableSchema{Name: fmt.Sprintf("audit_%02d", i), SourceKind: domain.SourceLocalFile})
	}
	sort.Slice(tables, func(i, j int) bool { return tables[i].Name < tables[j].Name })
	h.catalog.snap = domain.NewSnapshot(tables, time.Now(), nil)

	out, err := h.agent.Ask(ctx, TurnInput{Question: "Total sales by region?"})
	require.NoError(t, err)
	require.True(t, out.Success, out.Error)

	require.Len(t, h.gen.inputs, 1)
	schema := h.gen.inputs[0].SchemaContext
	assert.Contains(t, schema, "### sales")
	assert.NotContains(t, schema, "### customers")
	assert.Contains(t, schema, "... and 7 more tables")
}
