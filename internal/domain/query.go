package domain

import "time"

// Candidate is one generation attempt. It is never modified after creation.
type Candidate struct {
	RawSQL           string   `json:"raw_sql"`
	Explanation      string   `json:"explanation"`
	ReferencedTables []string `json:"referenced_tables,omitempty"`
	Confidence       float64  `json:"confidence"`
}

// VerdictError is one validation failure.
type VerdictError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

func (e VerdictError) String() string { return string(e.Kind) + ": " + e.Message }

// Verdict is the validator's decision for a candidate.
type Verdict struct {
	IsValid      bool           `json:"is_valid"`
	Errors       []VerdictError `json:"errors,omitempty"`
	Warnings     []string       `json:"warnings,omitempty"`
	CorrectedSQL string         `json:"corrected_sql,omitempty"`
}

// Messages returns the error messages in order.
func (v Verdict) Messages() []string {
	out := make([]string, len(v.Errors))
	for i, e := range v.Errors {
		out[i] = e.Message
	}
	return out
}

// HasKind reports whether any error is of kind k.
func (v Verdict) HasKind(k ErrorKind) bool {
	for _, e := range v.Errors {
		if e.Kind == k {
			return true
		}
	}
	return false
}

// ExecutableSQL returns the corrected SQL when present, else original.
func (v Verdict) ExecutableSQL(original string) string {
	if v.CorrectedSQL != "" {
		return v.CorrectedSQL
	}
	return original
}

// ExecutionResult holds the rows of a successful query.
type ExecutionResult struct {
	Columns   []string         `json:"columns"`
	Rows      []map[string]any `json:"rows"`
	RowCount  int              `json:"row_count"`
	Elapsed   time.Duration    `json:"elapsed"`
	Truncated bool             `json:"truncated"`
}
