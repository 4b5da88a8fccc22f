// Package agent drives one analytical turn through routing, generation,
// validation, execution and summarization.
//
// A turn is an explicit state machine: each step records its outcome in a
// domain.SessionState, the pure function next picks the following state,
// and the state is checkpointed after every transition so an interrupted
// turn can be resumed. Turns are independent; an Agent may run many
// concurrently.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"duck-analyst/internal/catalog"
	"duck-analyst/internal/domain"
	"duck-analyst/internal/sqlparse"
	"duck-analyst/internal/sqlrewrite"
	"duck-analyst/internal/validator"
)

// Defaults for Options.
const (
	DefaultQueryTimeout = 30 * time.Second
	DefaultMaxResults   = 1000
	DefaultHistoryTurns = 5
)

const defaultClarification = "Could you tell me a bit more about which data you would like to see?"

// Options tunes an Agent.
type Options struct {
	MaxAttempts  int
	QueryTimeout time.Duration
	// TurnTimeout bounds a whole turn. Zero means no bound beyond the
	// caller's context.
	TurnTimeout  time.Duration
	MaxResults   int
	MaxTables    int
	HistoryTurns int
	Logger       *slog.Logger
	Now          func() time.Time
}

// Deps are the collaborators of an Agent. Router, Store and Events are
// optional: without a router every turn is analytical, without a store
// nothing is checkpointed.
type Deps struct {
	Catalog    domain.CatalogReader
	Validator  *validator.Validator
	Executor   domain.QueryExecutor
	Router     Router
	Generator  Generator
	Summarizer Summarizer
	Store      domain.CheckpointStore
	Events     domain.EventSink
}

// Agent runs turns.
type Agent struct {
	deps   Deps
	opts   Options
	logger *slog.Logger
}

// New creates an Agent.
func New(deps Deps, opts Options) (*Agent, error) {
	switch {
	case deps.Catalog == nil:
		return nil, errors.New("agent: catalog is required")
	case deps.Validator == nil:
		return nil, errors.New("agent: validator is required")
	case deps.Executor == nil:
		return nil, errors.New("agent: executor is required")
	case deps.Generator == nil:
		return nil, errors.New("agent: generator is required")
	case deps.Summarizer == nil:
		return nil, errors.New("agent: summarizer is required")
	}
	if opts.MaxAttempts <= 0 || opts.MaxAttempts > MaxAttempts {
		opts.MaxAttempts = MaxAttempts
	}
	if opts.QueryTimeout <= 0 {
		opts.QueryTimeout = DefaultQueryTimeout
	}
	if opts.MaxResults <= 0 {
		opts.MaxResults = DefaultMaxResults
	}
	if opts.MaxTables <= 0 {
		opts.MaxTables = catalog.DefaultMaxTables
	}
	if opts.HistoryTurns <= 0 {
		opts.HistoryTurns = DefaultHistoryTurns
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if deps.Events == nil {
		deps.Events = NewLogSink(logger)
	}
	return &Agent{deps: deps, opts: opts, logger: logger}, nil
}

// TurnInput is one user question.
type TurnInput struct {
	Question  string          `json:"question"`
	SessionID string          `json:"session_id,omitempty"`
	Mode      domain.TurnMode `json:"mode,omitempty"`
	// MaxResults caps returned rows; zero uses the agent default.
	MaxResults int `json:"max_results,omitempty"`
}

// TurnOutput is the answer to a turn. Failures are narrated in Answer and
// reported through Success rather than returned as errors.
type TurnOutput struct {
	Success      bool             `json:"success"`
	Answer       string           `json:"answer"`
	GeneratedSQL string           `json:"generated_sql,omitempty"`
	Columns      []string         `json:"columns,omitempty"`
	Rows         []map[string]any `json:"rows,omitempty"`
	RowCount     int              `json:"row_count"`
	Truncated    bool             `json:"truncated,omitempty"`
	ElapsedMS    float64          `json:"elapsed_ms"`
	SessionID    string           `json:"session_id"`
	TurnID       string           `json:"turn_id"`
	Intent       domain.Intent    `json:"intent,omitempty"`
	State        domain.TurnState `json:"state"`
	Attempts     int              `json:"attempts"`
	Warnings     []string         `json:"warnings,omitempty"`
	Error        string           `json:"error,omitempty"`
}

// Ask runs a new turn to completion. The returned error is non-nil only
// when the input is invalid or ctx ends before the turn finishes; the last
// completed state stays checkpointed for Resume.
func (a *Agent) Ask(ctx context.Context, in TurnInput) (*TurnOutput, error) {
	question := strings.TrimSpace(in.Question)
	if question == "" {
		return nil, domain.ErrValidation("question is required")
	}
	mode := in.Mode
	switch mode {
	case "":
		mode = domain.ModeQuery
	case domain.ModeQuery, domain.ModeSummarize:
	default:
		return nil, domain.ErrValidation("invalid mode %q: must be %q or %q", in.Mode, domain.ModeQuery, domain.ModeSummarize)
	}
	maxResults := in.MaxResults
	if maxResults <= 0 || maxResults > a.opts.MaxResults {
		maxResults = a.opts.MaxResults
	}
	sessionID := in.SessionID
	if sessionID == "" {
		sessionID = domain.NewID()
	}

	ctx, cancel := a.turnContext(ctx)
	defer cancel()

	now := a.opts.Now()
	s := &domain.SessionState{
		SessionID:  sessionID,
		TurnID:     domain.NewID(),
		State:      domain.StateRouting,
		Question:   question,
		Mode:       mode,
		MaxResults: maxResults,
		StartedAt:  now,
		UpdatedAt:  now,
	}
	if a.deps.Store != nil {
		history, err := a.deps.Store.History(ctx, sessionID, a.opts.HistoryTurns)
		if err != nil {
			a.logger.Warn("failed to load session history", "session_id", sessionID, "error", err)
		}
		s.History = history
	}

	a.logger.Info("turn started", "session_id", s.SessionID, "turn_id", s.TurnID, "mode", mode)
	a.checkpoint(ctx, s)
	return a.run(ctx, s)
}

// Resume continues the latest turn of a session from its last checkpoint.
// A finished turn is returned as is.
func (a *Agent) Resume(ctx context.Context, sessionID string) (*TurnOutput, error) {
	if a.deps.Store == nil {
		return nil, errors.New("agent: resume requires a checkpoint store")
	}
	s, err := a.deps.Store.Latest(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if s.State.Terminal() {
		return a.output(s), nil
	}

	ctx, cancel := a.turnContext(ctx)
	defer cancel()

	a.logger.Info("resuming turn", "session_id", s.SessionID, "turn_id", s.TurnID, "state", s.State)
	return a.run(ctx, s)
}

func (a *Agent) turnContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.opts.TurnTimeout > 0 {
		return context.WithTimeout(ctx, a.opts.TurnTimeout)
	}
	return context.WithCancel(ctx)
}

// run executes steps until a terminal state. Cancellation is checked before
// every step; a step abandoned by cancellation is not checkpointed.
func (a *Agent) run(ctx context.Context, s *domain.SessionState) (*TurnOutput, error) {
	for !s.State.Terminal() {
		if err := ctx.Err(); err != nil {
			a.logger.Info("turn canceled", "session_id", s.SessionID, "turn_id", s.TurnID, "state", s.State)
			return nil, err
		}

		from := s.State
		start := time.Now()
		if err := a.step(ctx, s); err != nil {
			return nil, err
		}
		s.State = next(s, a.opts.MaxAttempts)
		s.UpdatedAt = a.opts.Now()

		a.emit(ctx, s, from, time.Since(start))
		a.checkpoint(ctx, s)
	}

	out := a.output(s)
	a.logger.Info("turn finished",
		"session_id", s.SessionID,
		"turn_id", s.TurnID,
		"state", s.State,
		"intent", s.Intent,
		"attempts", s.RetryCount,
		"success", out.Success)
	return out, nil
}

func (a *Agent) step(ctx context.Context, s *domain.SessionState) error {
	switch s.State {
	case domain.StateRouting:
		return a.route(ctx, s)
	case domain.StateGenerating:
		return a.generate(ctx, s)
	case domain.StateValidating:
		return a.validate(ctx, s)
	case domain.StateExecuting:
		return a.execute(ctx, s)
	case domain.StateSummarizing:
		return a.summarize(ctx, s)
	}
	return fmt.Errorf("agent: no step for state %q", s.State)
}

// snapshot returns the current catalog snapshot. A degraded catalog yields
// an empty snapshot; only cancellation is an error.
func (a *Agent) snapshot(ctx context.Context) (*domain.Snapshot, error) {
	snap, err := a.deps.Catalog.Get(ctx, false)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		a.logger.Warn("catalog degraded", "error", err)
	}
	return snap, nil
}

func (a *Agent) route(ctx context.Context, s *domain.SessionState) error {
	if s.Mode == domain.ModeSummarize {
		s.Intent = domain.IntentSummarize
		return nil
	}

	snap, err := a.snapshot(ctx)
	if err != nil {
		return err
	}

	if isReadQuery(s.Question) {
		verdict := a.deps.Validator.Validate(s.Question, snap)
		if verdict.IsValid || verdict.HasKind(domain.KindSafetyViolation) {
			s.Intent = domain.IntentAnalytical
			s.Predefined = true
			s.Verdict = &verdict
			if verdict.IsValid {
				s.ExecutableSQL = verdict.ExecutableSQL(s.Question)
			} else {
				s.LastErrors = verdict.Messages()
				s.Failure = "query rejected: " + strings.Join(s.LastErrors, "; ")
			}
			return nil
		}
	}

	if a.deps.Router == nil {
		s.Intent = domain.IntentAnalytical
		return nil
	}
	decision, err := a.deps.Router.Route(ctx, RouteInput{
		Question: s.Question,
		Tables:   snap.TableNames(),
		History:  s.History,
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		a.logger.Warn("router failed, treating turn as analytical", "turn_id", s.TurnID, "error", err)
		s.Intent = domain.IntentAnalytical
		return nil
	}

	s.Intent = decision.Intent
	if decision.Intent == domain.IntentAmbiguous {
		s.Clarification = strings.TrimSpace(decision.Clarification)
		if s.Clarification == "" {
			s.Clarification = defaultClarification
		}
		s.FinalAnswer = s.Clarification
	}
	return nil
}

// isReadQuery reports whether a question is itself a read-only statement.
func isReadQuery(q string) bool {
	stmt, err := sqlparse.Parse(q)
	return err == nil && stmt.ReadOnly()
}

func (a *Agent) generate(ctx context.Context, s *domain.SessionState) error {
	snap, err := a.snapshot(ctx)
	if err != nil {
		return err
	}
	relevant := []string{s.Question}
	if n := len(s.History); n > 0 {
		relevant = append(relevant, s.History[n-1].Question, s.History[n-1].SQL)
	}
	in := GenerateInput{
		Question:      s.Question,
		SchemaContext: catalog.RenderContext(snap, a.opts.MaxTables, relevant...),
		History:       s.History,
		Today:         a.opts.Now(),
	}
	if s.RetryCount > 0 {
		in.Errors = s.LastErrors
		if s.Candidate != nil {
			in.PreviousSQL = s.Candidate.RawSQL
		}
	}

	s.RetryCount++
	s.Verdict = nil
	cand, err := a.deps.Generator.Generate(ctx, in)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		a.logger.Warn("generation failed", "turn_id", s.TurnID, "attempt", s.RetryCount, "error", err)
		s.Candidate = nil
		s.LastErrors = []string{"SQL generation failed: " + err.Error()}
		return nil
	}
	s.Candidate = cand
	return nil
}

func (a *Agent) validate(ctx context.Context, s *domain.SessionState) error {
	var verdict domain.Verdict
	if s.Candidate == nil {
		msg := "no SQL was generated"
		if len(s.LastErrors) > 0 {
			msg = s.LastErrors[0]
		}
		verdict = domain.Verdict{Errors: []domain.VerdictError{{Kind: domain.KindParseError, Message: msg}}}
	} else {
		snap, err := a.snapshot(ctx)
		if err != nil {
			return err
		}
		verdict = a.deps.Validator.Validate(s.Candidate.RawSQL, snap)
	}
	s.Verdict = &verdict

	if verdict.IsValid {
		s.ExecutableSQL = verdict.ExecutableSQL(s.Candidate.RawSQL)
		s.LastErrors = nil
		return nil
	}
	s.LastErrors = verdict.Messages()
	if s.RetryCount >= a.opts.MaxAttempts {
		s.Failure = (&domain.RetryBudgetExhaustedError{Attempts: s.RetryCount, LastErrors: s.LastErrors}).Error()
	}
	return nil
}

func (a *Agent) execute(ctx context.Context, s *domain.SessionState) error {
	snap, err := a.snapshot(ctx)
	if err != nil {
		return err
	}
	mapping, err := catalog.TableMapping(snap)
	if err != nil {
		s.ExecError = &domain.ExecutionError{Category: domain.ExecUnknown, Message: err.Error()}
		return nil
	}
	physical, err := sqlrewrite.Rewrite(s.ExecutableSQL, mapping)
	if err != nil {
		s.ExecError = &domain.ExecutionError{Category: domain.ExecSyntax, Message: err.Error()}
		return nil
	}

	res, err := a.deps.Executor.Execute(ctx, physical, s.MaxResults, a.opts.QueryTimeout)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var execErr *domain.ExecutionError
		if !errors.As(err, &execErr) {
			execErr = &domain.ExecutionError{Category: domain.ExecUnknown, Message: err.Error()}
		}
		s.ExecError = execErr
		return nil
	}
	s.Result = res
	return nil
}

func (a *Agent) summarize(ctx context.Context, s *domain.SessionState) error {
	in := summaryInput(s)
	answer, err := a.deps.Summarizer.Summarize(ctx, in)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		a.logger.Warn("summarizer failed", "turn_id", s.TurnID, "error", err)
		answer = FallbackAnswer(in)
	}
	s.FinalAnswer = answer
	return nil
}

// summaryInput picks the template for a finished turn.
func summaryInput(s *domain.SessionState) SummaryInput {
	in := SummaryInput{Question: s.Question}
	switch {
	case s.Failure != "":
		in.Kind = SummaryFailure
		in.Failure = s.Failure
	case s.ExecError != nil:
		in.Kind = SummaryFailure
		in.ExecError = s.ExecError
	case s.Result != nil:
		in.Kind = resultKind(s.Result)
		in.Result = s.Result
	case s.Intent == domain.IntentSummarize && priorResult(s) != nil:
		prior := priorResult(s)
		in.Kind = resultKind(prior.Result)
		in.Result = prior.Result
		in.Question = fmt.Sprintf("%s\n\n(Refers to the earlier question: %s)", s.Question, prior.Question)
	default:
		in.Kind = SummaryChat
	}
	return in
}

func resultKind(r *domain.ExecutionResult) SummaryKind {
	if r == nil || r.RowCount == 0 {
		return SummaryEmpty
	}
	return SummaryData
}

func (a *Agent) emit(ctx context.Context, s *domain.SessionState, from domain.TurnState, elapsed time.Duration) {
	ev := domain.TransitionEvent{
		SessionID:  s.SessionID,
		TurnID:     s.TurnID,
		From:       from,
		To:         s.State,
		RetryCount: s.RetryCount,
		Elapsed:    elapsed,
		At:         s.UpdatedAt,
	}
	switch from {
	case domain.StateRouting, domain.StateValidating:
		if s.Verdict != nil && !s.Verdict.IsValid {
			ev.Error = strings.Join(s.LastErrors, "; ")
			for _, e := range s.Verdict.Errors {
				ev.ErrorKinds = append(ev.ErrorKinds, e.Kind)
			}
		}
	case domain.StateGenerating:
		if s.Candidate == nil {
			ev.Error = strings.Join(s.LastErrors, "; ")
		}
	case domain.StateExecuting:
		if s.ExecError != nil {
			ev.Error = s.ExecError.Error()
			ev.ExecCategory = s.ExecError.Category
		}
	}
	a.deps.Events.Emit(ctx, ev)
}

func (a *Agent) checkpoint(ctx context.Context, s *domain.SessionState) {
	if a.deps.Store == nil {
		return
	}
	if err := a.deps.Store.Save(ctx, s); err != nil {
		a.logger.Warn("checkpoint failed", "session_id", s.SessionID, "turn_id", s.TurnID, "state", s.State, "error", err)
	}
}

func (a *Agent) output(s *domain.SessionState) *TurnOutput {
	out := &TurnOutput{
		Success:      s.Failure == "" && s.ExecError == nil,
		Answer:       s.FinalAnswer,
		GeneratedSQL: s.ExecutableSQL,
		SessionID:    s.SessionID,
		TurnID:       s.TurnID,
		Intent:       s.Intent,
		State:        s.State,
		Attempts:     s.RetryCount,
		ElapsedMS:    float64(s.UpdatedAt.Sub(s.StartedAt)) / float64(time.Millisecond),
	}
	if out.GeneratedSQL == "" && s.Candidate != nil {
		out.GeneratedSQL = s.Candidate.RawSQL
	}
	if s.Verdict != nil {
		out.Warnings = s.Verdict.Warnings
	}
	if r := s.Result; r != nil {
		out.Columns = r.Columns
		out.Rows = r.Rows
		out.RowCount = r.RowCount
		out.Truncated = r.Truncated
		if r.Truncated {
			out.Warnings = append(out.Warnings, fmt.Sprintf("result truncated to %d rows", r.RowCount))
		}
	}
	switch {
	case s.Failure != "":
		out.Error = s.Failure
	case s.ExecError != nil:
		out.Error = s.ExecError.Error()
	}
	return out
}
