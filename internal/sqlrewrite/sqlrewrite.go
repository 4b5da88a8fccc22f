// Package sqlrewrite redirects logical catalog table names to physical
// read expressions.
//
// Only tokens in table position are replaced. Column qualifiers, string
// literals, CTE names and identifiers that merely contain a mapped name are
// left alone, and unmapped tables pass through unchanged. Rewritten
// references become table function calls, so rewriting twice is a no-op.
package sqlrewrite

import (
	"fmt"
	"sort"
	"strings"

	"duck-analyst/internal/ddl"
	"duck-analyst/internal/sqlparse"
)

// Mapping maps a logical table name (case-insensitive) to the SQL relation
// that reads it, e.g. read_parquet('s3://bucket/sales/**/*.parquet').
type Mapping map[string]string

// NewMapping builds a Mapping with case-folded keys.
func NewMapping(m map[string]string) Mapping {
	out := make(Mapping, len(m))
	for k, v := range m {
		out[strings.ToLower(k)] = v
	}
	return out
}

// Lookup finds the physical expression for a logical name.
func (m Mapping) Lookup(name string) (string, bool) {
	expr, ok := m[strings.ToLower(name)]
	return expr, ok
}

type edit struct {
	start, end int
	text       string
}

// Rewrite substitutes every mapped table reference in sql. The logical name
// is kept as the relation alias so qualified column references still bind.
func Rewrite(sql string, mapping Mapping) (string, error) {
	if len(mapping) == 0 {
		return sql, nil
	}
	stmts, err := sqlparse.ParseAll(sql)
	if err != nil {
		return "", fmt.Errorf("parse SQL: %w", err)
	}

	var edits []edit
	for _, stmt := range stmts {
		for _, ref := range stmt.Refs {
			if ref.CTE || ref.Function || ref.File {
				continue
			}
			expr, ok := lookupRef(mapping, ref)
			if !ok {
				continue
			}
			text := expr
			if ref.Alias == "" {
				text += " AS " + aliasFor(sql, ref)
			}
			edits = append(edits, edit{start: ref.Start, end: ref.End, text: text})
		}
	}
	if len(edits) == 0 {
		return sql, nil
	}

	sort.Slice(edits, func(i, j int) bool { return edits[i].start > edits[j].start })
	out := sql
	for _, e := range edits {
		out = out[:e.start] + e.text + out[e.end:]
	}
	return out, nil
}

// lookupRef resolves a reference, accepting the DuckDB default schema as a
// qualifier for catalog tables.
func lookupRef(m Mapping, ref sqlparse.TableRef) (string, bool) {
	if expr, ok := m.Lookup(ref.QualifiedName()); ok {
		return expr, true
	}
	if strings.EqualFold(ref.Schema, "main") {
		return m.Lookup(ref.Name)
	}
	return "", false
}

// aliasFor reuses the reference as written when it is unqualified so that
// quoting and case survive.
func aliasFor(sql string, ref sqlparse.TableRef) string {
	if ref.Schema == "" {
		return sql[ref.Start:ref.End]
	}
	return ddl.QuoteIdentifierIfNeeded(ref.Name)
}
