package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"duck-analyst/internal/ddl"
	"duck-analyst/internal/domain"
	"duck-analyst/internal/engine"
)

// LocalFileSource exposes files matched by filesystem globs, one table per
// file named after the file stem. When two files share a stem the first in
// lexical order wins.
type LocalFileSource struct {
	name      string
	patterns  []string
	inspector Inspector
	opts      engine.InspectOptions
	logger    *slog.Logger
	now       func() time.Time
}

// NewLocalFileSource creates a source over the given glob patterns
// (e.g. "data/*.parquet").
func NewLocalFileSource(name string, patterns []string, inspector Inspector, opts engine.InspectOptions, logger *slog.Logger) *LocalFileSource {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &LocalFileSource{
		name:      name,
		patterns:  patterns,
		inspector: inspector,
		opts:      opts,
		logger:    logger,
		now:       time.Now,
	}
}

func (s *LocalFileSource) Name() string { return s.name }

func (s *LocalFileSource) Kind() domain.SourceKind { return domain.SourceLocalFile }

// Discover expands the patterns and describes every matched data file.
func (s *LocalFileSource) Discover(ctx context.Context) ([]domain.TableSchema, error) {
	var paths []string
	for _, pattern := range s.patterns {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("glob %q: %w", pattern, err)
		}
		paths = append(paths, matches...)
	}
	sort.Strings(paths)

	seen := make(map[string]bool)
	var candidates []fileTable
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		format := formatFromPath(p)
		if format == "" {
			continue
		}
		name := ddl.SanitizeName(stem(filepath.Base(p)))
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true

		abs, err := filepath.Abs(p)
		if err != nil {
			abs = p
		}
		candidates = append(candidates, fileTable{name: name, locator: filepath.ToSlash(abs), format: format})
	}
	if len(candidates) == 0 {
		s.logger.Info("no data files matched", "source", s.name, "patterns", s.patterns)
		return nil, nil
	}
	return inspectTables(ctx, s, s.inspector, s.opts, candidates, s.now(), s.logger)
}
