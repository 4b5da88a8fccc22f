package engine

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"duck-analyst/internal/ddl"
	"duck-analyst/internal/domain"
)

// Inspector discovers the shape of a relation expression through DuckDB:
// columns via DESCRIBE, distinct sample values, row counts and the span of
// temporal columns.
type Inspector struct {
	db *sql.DB
}

// NewInspector creates an Inspector backed by the given database.
func NewInspector(db *sql.DB) *Inspector {
	return &Inspector{db: db}
}

// Describe returns the columns of relation in declared order.
func (i *Inspector) Describe(ctx context.Context, relation string) ([]domain.Column, error) {
	rows, err := i.db.QueryContext(ctx, ddl.DescribeSQL(relation))
	if err != nil {
		return nil, fmt.Errorf("describe: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	nameIdx, typeIdx, nullIdx := -1, -1, -1
	for idx, c := range cols {
		switch strings.ToLower(c) {
		case "column_name":
			nameIdx = idx
		case "column_type":
			typeIdx = idx
		case "null":
			nullIdx = idx
		}
	}
	if nameIdx < 0 || typeIdx < 0 {
		return nil, fmt.Errorf("describe: unexpected result columns %v", cols)
	}

	var out []domain.Column
	for rows.Next() {
		vals := make([]sql.NullString, len(cols))
		ptrs := make([]any, len(cols))
		for idx := range vals {
			ptrs[idx] = &vals[idx]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan describe: %w", err)
		}
		col := domain.Column{
			Name:         vals[nameIdx].String,
			DeclaredType: vals[typeIdx].String,
			Nullable:     true,
		}
		if nullIdx >= 0 && strings.EqualFold(vals[nullIdx].String, "NO") {
			col.Nullable = false
		}
		out = append(out, col)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// SampleValues returns up to n distinct non-null values of column as text.
func (i *Inspector) SampleValues(ctx context.Context, relation, column string, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}
	rows, err := i.db.QueryContext(ctx, ddl.SampleValuesSQL(relation, column, n))
	if err != nil {
		return nil, fmt.Errorf("sample %s: %w", column, err)
	}
	defer rows.Close() //nolint:errcheck

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan sample: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// RowCount counts the rows of relation.
func (i *Inspector) RowCount(ctx context.Context, relation string) (int64, error) {
	var n int64
	if err := i.db.QueryRowContext(ctx, ddl.RowCountSQL(relation)).Scan(&n); err != nil {
		return 0, fmt.Errorf("count rows: %w", err)
	}
	return n, nil
}

// DateRange returns min and max of column, or nil when the column is empty.
func (i *Inspector) DateRange(ctx context.Context, relation, column string) (*domain.DateRange, error) {
	var lo, hi sql.NullString
	if err := i.db.QueryRowContext(ctx, ddl.DateRangeSQL(relation, column)).Scan(&lo, &hi); err != nil {
		return nil, fmt.Errorf("date range %s: %w", column, err)
	}
	if !lo.Valid || !hi.Valid {
		return nil, nil
	}
	return &domain.DateRange{Column: column, Min: lo.String, Max: hi.String}, nil
}

// InspectOptions controls the optional, more expensive parts of Inspect.
type InspectOptions struct {
	SampleValues int
	CountRows    bool
	DateRange    bool
}

// Inspection is the discovered shape of one relation.
type Inspection struct {
	Columns   []domain.Column
	RowCount  *int64
	DateRange *domain.DateRange
}

// Inspect describes relation and gathers the statistics requested by opts.
// Only the DESCRIBE is mandatory; failures of the optional probes leave the
// corresponding fields empty.
func (i *Inspector) Inspect(ctx context.Context, relation string, opts InspectOptions) (*Inspection, error) {
	cols, err := i.Describe(ctx, relation)
	if err != nil {
		return nil, err
	}
	out := &Inspection{Columns: cols}

	if opts.SampleValues > 0 {
		for idx := range out.Columns {
			if !Sampleable(out.Columns[idx].DeclaredType) {
				continue
			}
			samples, err := i.SampleValues(ctx, relation, out.Columns[idx].Name, opts.SampleValues)
			if err != nil {
				continue
			}
			out.Columns[idx].SampleValues = samples
		}
	}
	if opts.CountRows {
		if n, err := i.RowCount(ctx, relation); err == nil {
			out.RowCount = &n
		}
	}
	if opts.DateRange {
		if col, ok := FirstTemporalColumn(out.Columns); ok {
			if dr, err := i.DateRange(ctx, relation, col); err == nil {
				out.DateRange = dr
			}
		}
	}
	return out, nil
}

// Sampleable reports whether values of a declared type are short enough to
// be useful as prompt samples.
func Sampleable(declaredType string) bool {
	t := strings.ToUpper(declaredType)
	switch {
	case strings.HasPrefix(t, "BLOB"), strings.HasPrefix(t, "STRUCT"), strings.HasPrefix(t, "MAP"),
		strings.HasSuffix(t, "[]"), strings.HasPrefix(t, "UNION"), strings.HasPrefix(t, "JSON"):
		return false
	}
	return true
}

// FirstTemporalColumn returns the first DATE or TIMESTAMP column.
func FirstTemporalColumn(cols []domain.Column) (string, bool) {
	for _, c := range cols {
		t := strings.ToUpper(c.DeclaredType)
		if t == "DATE" || strings.HasPrefix(t, "TIMESTAMP") {
			return c.Name, true
		}
	}
	return "", false
}
