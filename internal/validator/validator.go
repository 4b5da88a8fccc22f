// Package validator gates generated SQL before it reaches the engine.
//
// Validate is deterministic: the same SQL and snapshot always produce the
// same verdict, and the input is never modified. The only rewrite it performs
// is bounding the result size, reported through Verdict.CorrectedSQL.
package validator

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"duck-analyst/internal/domain"
	"duck-analyst/internal/sqlparse"
)

// Default row bounds.
const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

// Options tunes bound enforcement.
type Options struct {
	DefaultLimit int
	MaxLimit     int
	// StrictLimit rejects queries without a LIMIT instead of appending one.
	StrictLimit bool
}

// Validator checks SQL against a catalog snapshot.
type Validator struct {
	opts Options
}

// New creates a Validator. Zero limits fall back to the package defaults.
func New(opts Options) *Validator {
	if opts.DefaultLimit <= 0 {
		opts.DefaultLimit = DefaultLimit
	}
	if opts.MaxLimit <= 0 {
		opts.MaxLimit = MaxLimit
	}
	if opts.DefaultLimit > opts.MaxLimit {
		opts.DefaultLimit = opts.MaxLimit
	}
	return &Validator{opts: opts}
}

// mutationKeywords are rejected anywhere in the raw text, including string
// literals and comments.
var mutationKeywords = []string{
	"CREATE", "ALTER", "DROP", "DELETE", "UPDATE", "INSERT",
	"TRUNCATE", "MERGE", "GRANT", "REVOKE", "EXECUTE", "EXEC",
	"ATTACH", "DETACH", "COPY", "EXPORT", "INSTALL", "PRAGMA",
}

var mutationPattern = regexp.MustCompile(`(?i)\b(` + strings.Join(mutationKeywords, "|") + `)\b`)

// rowFunctions are the only table functions accepted as FROM items. They
// generate rows from their arguments and never read storage or metadata.
var rowFunctions = map[string]bool{
	"range":           true,
	"generate_series": true,
	"unnest":          true,
}

// blockedFunctions are rejected in any position: they read the filesystem,
// leak engine metadata or reach outside the catalog.
var blockedFunctions = map[string]bool{
	"read_csv":             true,
	"read_csv_auto":        true,
	"read_parquet":         true,
	"parquet_scan":         true,
	"read_json":            true,
	"read_json_auto":       true,
	"read_ndjson":          true,
	"read_text":            true,
	"read_blob":            true,
	"glob":                 true,
	"sqlite_scan":          true,
	"postgres_scan":        true,
	"postgres_query":       true,
	"query":                true,
	"query_table":          true,
	"getenv":               true,
	"duckdb_extensions":    true,
	"duckdb_settings":      true,
	"duckdb_databases":     true,
	"duckdb_secrets":       true,
	"pragma_database_list": true,
}

// Validate runs the checks in order: syntax, statement kind, table
// references, keyword denylist, and row bound. A syntax error stops
// validation with a single error.
func (v *Validator) Validate(sql string, snap *domain.Snapshot) domain.Verdict {
	stmts, err := sqlparse.ParseAll(sql)
	if err != nil {
		return domain.Verdict{Errors: []domain.VerdictError{{
			Kind:    domain.KindParseError,
			Message: "Invalid SQL: " + err.Error(),
		}}}
	}

	var verdict domain.Verdict
	addErr := func(kind domain.ErrorKind, format string, args ...any) {
		verdict.Errors = append(verdict.Errors, domain.VerdictError{Kind: kind, Message: fmt.Sprintf(format, args...)})
	}

	blockedVerbs := make(map[string]bool)
	for _, stmt := range stmts {
		if !stmt.ReadOnly() {
			blockedVerbs[stmt.Verb] = true
			addErr(domain.KindSafetyViolation, "Blocked operation: %s is not allowed. Only SELECT queries are permitted.", stmt.Verb)
		}
	}
	if len(stmts) > 1 {
		addErr(domain.KindSafetyViolation, "Multiple statements are not allowed. Submit a single SELECT query.")
	}

	for _, name := range unknownTables(stmts, snap) {
		addErr(domain.KindUnknownReference, "%s", unknownTableMessage(name, snap))
	}

	for _, kw := range mutationMatches(sql) {
		if blockedVerbs[kw] {
			continue
		}
		addErr(domain.KindSafetyViolation, "Forbidden keyword %s found in query. Only read-only SELECT queries are permitted.", kw)
	}

	for _, stmt := range stmts {
		seen := make(map[string]bool)
		reject := func(name string) {
			if !seen[name] {
				seen[name] = true
				addErr(domain.KindSafetyViolation, "Function %s is not allowed. Query catalog tables by name instead.", name)
			}
		}
		for _, ref := range stmt.Refs {
			switch {
			case ref.File:
				addErr(domain.KindSafetyViolation, "Direct file access ('%s') is not allowed. Query catalog tables by name instead.", ref.Name)
			case ref.Function && (ref.Schema != "" || !rowFunctions[strings.ToLower(ref.Name)]):
				reject(strings.ToLower(ref.QualifiedName()))
			}
		}
		for _, call := range stmt.Calls {
			if blockedFunctions[call.Name] {
				reject(call.Name)
			}
		}
	}

	if len(verdict.Errors) > 0 {
		return verdict
	}

	v.enforceLimit(sql, stmts[0], &verdict)
	verdict.IsValid = len(verdict.Errors) == 0
	return verdict
}

// enforceLimit appends, replaces or caps the top-level LIMIT. Bounds other
// than a single integer literal are replaced with the default limit.
func (v *Validator) enforceLimit(sql string, stmt *sqlparse.Statement, verdict *domain.Verdict) {
	body := sql[:stmt.End]
	def := strconv.Itoa(v.opts.DefaultLimit)

	switch lim := stmt.Limit; {
	case lim == nil:
		if v.opts.StrictLimit {
			verdict.Errors = append(verdict.Errors, domain.VerdictError{
				Kind:    domain.KindSafetyViolation,
				Message: fmt.Sprintf("Query has no LIMIT clause. Add LIMIT %d or lower.", v.opts.MaxLimit),
			})
			return
		}
		verdict.CorrectedSQL = strings.TrimSpace(body) + " LIMIT " + def
		verdict.Warnings = append(verdict.Warnings, fmt.Sprintf("LIMIT %d automatically added", v.opts.DefaultLimit))
	case lim.All:
		verdict.CorrectedSQL = strings.TrimSpace(sql[:lim.Start] + def + sql[lim.End:stmt.End])
		verdict.Warnings = append(verdict.Warnings, fmt.Sprintf("LIMIT ALL replaced with LIMIT %d", v.opts.DefaultLimit))
	case !lim.Literal:
		verdict.CorrectedSQL = strings.TrimSpace(sql[:lim.Start] + def + sql[lim.End:stmt.End])
		verdict.Warnings = append(verdict.Warnings, fmt.Sprintf("LIMIT %s replaced with LIMIT %d", sql[lim.Start:lim.End], v.opts.DefaultLimit))
	case lim.Value > int64(v.opts.MaxLimit):
		verdict.CorrectedSQL = strings.TrimSpace(sql[:lim.Start] + strconv.Itoa(v.opts.MaxLimit) + sql[lim.End:stmt.End])
		verdict.Warnings = append(verdict.Warnings, fmt.Sprintf("LIMIT %d exceeds the maximum of %d; reduced to %d", lim.Value, v.opts.MaxLimit, v.opts.MaxLimit))
	}
}

// unknownTables returns each distinct unknown table once, in order of
// first appearance.
func unknownTables(stmts []*sqlparse.Statement, snap *domain.Snapshot) []string {
	seen := make(map[string]bool)
	var out []string
	for _, stmt := range stmts {
		for _, name := range stmt.TableNames() {
			key := strings.ToLower(name)
			if seen[key] {
				continue
			}
			seen[key] = true
			if !known(name, snap) {
				out = append(out, name)
			}
		}
	}
	return out
}

// known resolves a possibly qualified name. The DuckDB default schema
// qualifier "main." is accepted for catalog tables.
func known(name string, snap *domain.Snapshot) bool {
	if snap.Has(name) {
		return true
	}
	if rest, ok := strings.CutPrefix(strings.ToLower(name), "main."); ok {
		return snap.Has(rest)
	}
	return false
}

func unknownTableMessage(name string, snap *domain.Snapshot) string {
	tables := snap.TableNames()
	if len(tables) == 0 {
		return fmt.Sprintf("Unknown table '%s'. No tables are currently available.", name)
	}
	msg := fmt.Sprintf("Unknown table '%s'.", name)
	if matches := closeMatches(name, tables, 3); len(matches) > 0 {
		msg += " Did you mean: " + strings.Join(matches, ", ") + "?"
	}
	return msg + " Available tables: " + strings.Join(tables, ", ")
}

func mutationMatches(sql string) []string {
	found := make(map[string]bool)
	for _, m := range mutationPattern.FindAllString(sql, -1) {
		found[strings.ToUpper(m)] = true
	}
	var out []string
	for _, kw := range mutationKeywords {
		if found[kw] {
			out = append(out, kw)
		}
	}
	return out
}

// ReferencedTables returns the catalog tables a query reads, or nil when it
// does not parse.
func ReferencedTables(sql string) []string {
	stmts, err := sqlparse.ParseAll(sql)
	if err != nil {
		return nil
	}
	var out []string
	for _, stmt := range stmts {
		out = append(out, stmt.TableNames()...)
	}
	return out
}

// closeMatches returns up to n candidates whose similarity to name is at
// least 0.6, best first.
func closeMatches(name string, candidates []string, n int) []string {
	type scored struct {
		name  string
		score float64
	}
	var hits []scored
	lower := strings.ToLower(name)
	for _, c := range candidates {
		if s := similarity(lower, strings.ToLower(c)); s >= 0.6 {
			hits = append(hits, scored{c, s})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	out := make([]string, 0, n)
	for i := 0; i < len(hits) && i < n; i++ {
		out = append(out, hits[i].name)
	}
	return out
}

// similarity is 1 - levenshtein(a, b) / max(len(a), len(b)).
func similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	ra, rb := []rune(a), []rune(b)
	longest := max(len(ra), len(rb))
	if longest == 0 {
		return 1
	}
	prev := make([]int, len(rb)+1)
	cur := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		cur[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return 1 - float64(prev[len(rb)])/float64(longest)
}
