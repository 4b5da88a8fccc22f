package agent

import (
	"fmt"
	"maps"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"duck-analyst/internal/domain"
)

// Prompt budget for result data.
const (
	MaxPromptRows  = 50
	MaxValueLength = 100
)

// FormatResults renders rows for a summarization prompt. Results larger
// than maxRows keep the first and last rows around an omission marker.
func FormatResults(res *domain.ExecutionResult, maxRows int) string {
	if res == nil || len(res.Rows) == 0 {
		return "(no data)"
	}
	if maxRows <= 0 {
		maxRows = MaxPromptRows
	}
	cols := res.Columns
	if len(cols) == 0 {
		cols = slices.Sorted(maps.Keys(res.Rows[0]))
	}

	header := strings.Join(cols, " | ")
	lines := []string{header, strings.Repeat("-", len(header))}
	row := func(r map[string]any) string {
		vals := make([]string, len(cols))
		for i, c := range cols {
			vals[i] = formatValue(r[c])
		}
		return strings.Join(vals, " | ")
	}

	total := len(res.Rows)
	if total <= maxRows {
		for _, r := range res.Rows {
			lines = append(lines, row(r))
		}
		return strings.Join(lines, "\n")
	}
	head := maxRows / 2
	tail := maxRows - head
	for _, r := range res.Rows[:head] {
		lines = append(lines, row(r))
	}
	lines = append(lines, fmt.Sprintf("... (%d more rows) ...", total-maxRows))
	for _, r := range res.Rows[total-tail:] {
		lines = append(lines, row(r))
	}
	return strings.Join(lines, "\n")
}

func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case bool:
		return strconv.FormatBool(x)
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprint(x)
	case float32:
		return strconv.FormatFloat(float64(x), 'g', -1, 32)
	case float64:
		if math.Trunc(x) == x && math.Abs(x) < 1e15 {
			return strconv.FormatFloat(x, 'f', -1, 64)
		}
		return strconv.FormatFloat(x, 'g', -1, 64)
	}
	s := fmt.Sprint(v)
	if r := []rune(s); len(r) > MaxValueLength {
		return string(r[:MaxValueLength-3]) + "..."
	}
	return s
}

// FormatElapsed renders a duration as microseconds, milliseconds or seconds.
func FormatElapsed(d time.Duration) string {
	ms := float64(d) / float64(time.Millisecond)
	switch {
	case ms < 1:
		return fmt.Sprintf("%.0fμs", ms*1000)
	case ms < 1000:
		return fmt.Sprintf("%.0fms", ms)
	}
	return fmt.Sprintf("%.2fs", ms/1000)
}

// errorTypeLabel narrates an execution failure category for the user.
func errorTypeLabel(e *domain.ExecutionError) string {
	if e == nil {
		return "query error"
	}
	switch e.Category {
	case domain.ExecTimeout:
		return "timeout"
	case domain.ExecSyntax:
		return "query syntax issue"
	case domain.ExecColumnNotFound, domain.ExecTypeMismatch:
		return "data field issue"
	case domain.ExecTableNotFound, domain.ExecIO:
		return "data source issue"
	case domain.ExecOutOfMemory:
		return "query too large"
	case domain.ExecDivisionByZero:
		return "calculation issue"
	}
	return "query error"
}
