package engine

import (
	"regexp"
	"strings"

	"duck-analyst/internal/domain"
)

type categoryPattern struct {
	category domain.ExecutionCategory
	patterns []*regexp.Regexp
}

func compile(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(exprs))
	for i, e := range exprs {
		out[i] = regexp.MustCompile(e)
	}
	return out
}

// Order matters: the more specific families come first, and column and table
// lookups are checked before I/O so that names like "s3_events" in a binder
// error are not mistaken for storage failures.
var categoryPatterns = []categoryPattern{
	{domain.ExecDivisionByZero, compile(`division by zero`)},
	{domain.ExecOutOfMemory, compile(`out of memory`, `memory limit`)},
	{domain.ExecSyntax, compile(`syntax error`, `parser error`, `parse error`)},
	{domain.ExecTypeMismatch, compile(`type mismatch`, `cannot cast`, `conversion (failed|error)`, `type error`, `could not convert`, `explicit cast`)},
	{domain.ExecColumnNotFound, compile(`unknown column`, `column.*not found`, `column.*does not exist`)},
	{domain.ExecTableNotFound, compile(`table.*does not exist`, `table.*not found`, `no such table`, `table with name`)},
	{domain.ExecIO, compile(`i/o error`, `io error`, `could not read`, `no files found`, `file not found`, `http`, `\bs3\b`)},
}

// Classify maps an engine error message to a failure category.
func Classify(message string) domain.ExecutionCategory {
	msg := strings.ToLower(message)
	for _, cp := range categoryPatterns {
		for _, re := range cp.patterns {
			if re.MatchString(msg) {
				return cp.category
			}
		}
	}
	return domain.ExecUnknown
}

var hints = map[domain.ExecutionCategory]string{
	domain.ExecSyntax:         "Check for missing commas, unclosed quotes, or invalid keywords.",
	domain.ExecTableNotFound:  "Verify the table name matches one from the available tables.",
	domain.ExecColumnNotFound: "Check that column names match the table schema.",
	domain.ExecTypeMismatch:   "Consider using CAST() or TRY_CAST() for type conversions.",
	domain.ExecDivisionByZero: "Add a check for zero values in the denominator.",
	domain.ExecOutOfMemory:    "Add more restrictive WHERE filters or reduce LIMIT.",
	domain.ExecIO:             "There may be an issue accessing the data source.",
	domain.ExecTimeout:        "Simplify the query or add more filters to reduce execution time.",
}

// Hint returns the corrective suggestion for a category, or "".
func Hint(category domain.ExecutionCategory) string {
	return hints[category]
}

func newExecutionError(category domain.ExecutionCategory, message string) *domain.ExecutionError {
	return &domain.ExecutionError{Category: category, Message: message, Hint: Hint(category)}
}
