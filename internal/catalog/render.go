package catalog

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"duck-analyst/internal/ddl"
	"duck-analyst/internal/domain"
	"duck-analyst/internal/sqlrewrite"
)

// Rendering bounds.
const (
	DefaultMaxTables = 20
	MaxSampleValues  = 3
)

// NoTablesText is rendered for an empty snapshot.
const NoTablesText = "No tables discovered. Please check data source configuration."

// RenderContext describes a snapshot as markdown for a generation prompt.
// When the snapshot holds more than maxTables tables, the ones most relevant
// to relevantTo (the question, prior SQL) are described. The output depends
// only on its arguments: tables appear in snapshot order and columns in
// declared order.
func RenderContext(snap *domain.Snapshot, maxTables int, relevantTo ...string) string {
	if snap.Empty() {
		return NoTablesText
	}
	if maxTables <= 0 {
		maxTables = DefaultMaxTables
	}

	var b strings.Builder
	b.WriteString("## Available Tables\n")
	shown := selectTables(snap.Tables, maxTables, relevantTo)
	for _, t := range shown {
		fmt.Fprintf(&b, "\n### %s\n", t.Name)
		fmt.Fprintf(&b, "Source: %s", t.SourceKind)
		if t.FileFormat != "" {
			fmt.Fprintf(&b, " (%s)", t.FileFormat)
		}
		b.WriteString("\n")
		if t.RowCount != nil && *t.RowCount > 0 {
			fmt.Fprintf(&b, "Rows: ~%s\n", groupThousands(*t.RowCount))
		}
		if t.DateRange != nil {
			fmt.Fprintf(&b, "**Date Range**: %s to %s (column: `%s`)\n", t.DateRange.Min, t.DateRange.Max, t.DateRange.Column)
		}
		b.WriteString("\n| Column | Type | Nullable | Samples |\n")
		b.WriteString("|--------|------|----------|---------|\n")
		for _, c := range t.Columns {
			nullable := "NO"
			if c.Nullable {
				nullable = "YES"
			}
			fmt.Fprintf(&b, "| %s | %s | %s | %s |\n", c.Name, c.DeclaredType, nullable, renderSamples(c.SampleValues))
		}
	}
	if n := len(snap.Tables) - len(shown); n > 0 {
		fmt.Fprintf(&b, "\n... and %d more tables\n", n)
	}
	return b.String()
}

func renderSamples(values []string) string {
	if len(values) == 0 {
		return "-"
	}
	if len(values) > MaxSampleValues {
		values = values[:MaxSampleValues]
	}
	out := make([]string, len(values))
	for i, v := range values {
		v = strings.ReplaceAll(v, "|", "\\|")
		v = strings.ReplaceAll(v, "\n", " ")
		if r := []rune(v); len(r) > 40 {
			v = string(r[:37]) + "..."
		}
		out[i] = v
	}
	return strings.Join(out, ", ")
}

func groupThousands(n int64) string {
	s := strconv.FormatInt(n, 10)
	if n < 0 {
		return s
	}
	var b strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// RenderContext refreshes if needed and renders the current snapshot.
func (c *Catalog) RenderContext(ctx context.Context, maxTables int) (string, error) {
	snap, err := c.Get(ctx, false)
	if snap == nil {
		return "", err
	}
	return RenderContext(snap, maxTables), nil
}

// TableMapping maps every logical table to the relation that reads it:
// a read_* table function for files and the attached qualified name for
// relational tables.
func TableMapping(snap *domain.Snapshot) (sqlrewrite.Mapping, error) {
	if snap.Empty() {
		return sqlrewrite.Mapping{}, nil
	}
	m := make(map[string]string, len(snap.Tables))
	for _, t := range snap.Tables {
		if t.SourceKind == domain.SourceRelational {
			m[t.Name] = t.SourceLocator
			continue
		}
		expr, err := ddl.ReadExpression(t.SourceLocator, t.FileFormat)
		if err != nil {
			return nil, fmt.Errorf("table %s: %w", t.Name, err)
		}
		m[t.Name] = expr
	}
	return sqlrewrite.NewMapping(m), nil
}
