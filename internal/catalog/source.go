package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"duck-analyst/internal/ddl"
	"duck-analyst/internal/domain"
	"duck-analyst/internal/engine"
)

// Source discovers the tables of one backing system. Implementations must be
// safe for use by a single refresh at a time; the catalog never runs two
// discoveries of the same source concurrently.
type Source interface {
	Name() string
	Kind() domain.SourceKind
	Discover(ctx context.Context) ([]domain.TableSchema, error)
}

// Inspector describes relation expressions. Implemented by engine.Inspector.
type Inspector interface {
	Inspect(ctx context.Context, relation string, opts engine.InspectOptions) (*engine.Inspection, error)
}

// fileTable is a table candidate found by listing files.
type fileTable struct {
	name    string
	locator string
	format  string
}

// formatFromPath infers the file format from an object key or path.
// Compression suffixes are ignored.
func formatFromPath(p string) string {
	p = strings.ToLower(p)
	for _, suffix := range []string{".gz", ".zst", ".snappy"} {
		p = strings.TrimSuffix(p, suffix)
	}
	switch path.Ext(p) {
	case ".parquet":
		return "parquet"
	case ".csv", ".tsv":
		return "csv"
	case ".json", ".jsonl", ".ndjson":
		return "json"
	}
	return ""
}

// formatRank breaks ties between formats inside one partitioned directory.
var formatRank = map[string]int{"parquet": 0, "csv": 1, "json": 2}

// dominantFormat picks the most frequent format, preferring parquet on ties.
func dominantFormat(counts map[string]int) string {
	best, bestN := "", 0
	for f, n := range counts {
		if n > bestN || (n == bestN && formatRank[f] < formatRank[best]) {
			best, bestN = f, n
		}
	}
	return best
}

var globExt = map[string]string{"parquet": "*.parquet", "csv": "*.csv", "json": "*.json"}

// inspectTables describes each candidate through DuckDB. A candidate that
// cannot be described is skipped and logged; the source fails only when no
// candidate could be described.
func inspectTables(ctx context.Context, src Source, insp Inspector, opts engine.InspectOptions, candidates []fileTable, now time.Time, logger *slog.Logger) ([]domain.TableSchema, error) {
	var (
		tables   []domain.TableSchema
		firstErr error
	)
	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		relation, err := ddl.ReadExpression(c.locator, c.format)
		if err != nil {
			return nil, err
		}
		info, err := insp.Inspect(ctx, relation, opts)
		if err != nil {
			logger.Warn("skipping unreadable table",
				"source", src.Name(), "table", c.name, "locator", c.locator, "error", err)
			if firstErr == nil {
				firstErr = fmt.Errorf("inspect %s: %w", c.name, err)
			}
			continue
		}
		tables = append(tables, domain.TableSchema{
			Name:           c.name,
			SourceKind:     src.Kind(),
			SourceName:     src.Name(),
			SourceLocator:  c.locator,
			FileFormat:     c.format,
			Columns:        info.Columns,
			RowCount:       info.RowCount,
			DateRange:      info.DateRange,
			LastObservedAt: now,
		})
	}
	if len(tables) == 0 && firstErr != nil {
		return nil, firstErr
	}
	return tables, nil
}
