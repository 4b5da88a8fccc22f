package domain

import "time"

// TurnState is a node of the orchestration state machine.
type TurnState string

// Turn states. Clarifying and Done are terminal.
const (
	StateRouting     TurnState = "routing"
	StateGenerating  TurnState = "generating"
	StateValidating  TurnState = "validating"
	StateExecuting   TurnState = "executing"
	StateSummarizing TurnState = "summarizing"
	StateClarifying  TurnState = "clarifying"
	StateDone        TurnState = "done"
)

// Terminal reports whether no further transition is possible.
func (s TurnState) Terminal() bool {
	return s == StateClarifying || s == StateDone
}

// Intent is the router's classification of a turn.
type Intent string

// Turn intents.
const (
	IntentAnalytical Intent = "analytical_query"
	IntentSummarize  Intent = "summarization_request"
	IntentChat       Intent = "conversational"
	IntentAmbiguous  Intent = "ambiguous"
)

// TurnMode is the caller's requested processing mode.
type TurnMode string

// Turn modes.
const (
	ModeQuery     TurnMode = "query"
	ModeSummarize TurnMode = "summarize"
)

// TurnRecord is a completed turn kept in the conversation history.
type TurnRecord struct {
	TurnID   string           `json:"turn_id"`
	Question string           `json:"question"`
	Answer   string           `json:"answer"`
	SQL      string           `json:"sql,omitempty"`
	Result   *ExecutionResult `json:"result,omitempty"`
	At       time.Time        `json:"at"`
}

// SessionState is the full state of one turn, checkpointed after every
// transition. It is owned by the orchestrator.
type SessionState struct {
	SessionID     string           `json:"session_id"`
	TurnID        string           `json:"turn_id"`
	State         TurnState        `json:"state"`
	Question      string           `json:"question"`
	Mode          TurnMode         `json:"mode"`
	MaxResults    int              `json:"max_results"`
	Intent        Intent           `json:"intent,omitempty"`
	Clarification string           `json:"clarification,omitempty"`
	Predefined    bool             `json:"predefined,omitempty"`
	History       []TurnRecord     `json:"history,omitempty"`
	RetryCount    int              `json:"retry_count"`
	LastErrors    []string         `json:"last_errors,omitempty"`
	Candidate     *Candidate       `json:"candidate,omitempty"`
	Verdict       *Verdict         `json:"verdict,omitempty"`
	ExecutableSQL string           `json:"executable_sql,omitempty"`
	Result        *ExecutionResult `json:"result,omitempty"`
	ExecError     *ExecutionError  `json:"exec_error,omitempty"`
	Failure       string           `json:"failure,omitempty"`
	FinalAnswer   string           `json:"final_answer,omitempty"`
	StartedAt     time.Time        `json:"started_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// TransitionEvent is emitted once per state transition. ExecCategory is set
// when the Executing step failed.
type TransitionEvent struct {
	SessionID    string            `json:"session_id"`
	TurnID       string            `json:"turn_id"`
	From         TurnState         `json:"from_state"`
	To           TurnState         `json:"to_state"`
	RetryCount   int               `json:"retry_count"`
	Error        string            `json:"error,omitempty"`
	ErrorKinds   []ErrorKind       `json:"error_kinds,omitempty"`
	ExecCategory ExecutionCategory `json:"exec_category,omitempty"`
	Elapsed      time.Duration     `json:"elapsed"`
	At           time.Time         `json:"at"`
}

// Record condenses a finished turn into its history entry.
func (s *SessionState) Record() TurnRecord {
	return TurnRecord{
		TurnID:   s.TurnID,
		Question: s.Question,
		Answer:   s.FinalAnswer,
		SQL:      s.ExecutableSQL,
		Result:   s.Result,
		At:       s.UpdatedAt,
	}
}
