// Package catalog aggregates table metadata from object storage, local files
// and relational databases into immutable snapshots.
//
// A Catalog is shared by every turn of a process. Snapshots are swapped
// atomically, expire after a TTL and are rebuilt by at most one refresh at a
// time: concurrent callers that find the cache stale wait for the same
// refresh. A source that fails contributes no tables; the refresh itself
// fails only when every source fails, and even then an empty snapshot is
// installed so that downstream steps keep working.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"duck-analyst/internal/domain"
)

// Defaults for Options.
const (
	DefaultTTL            = 5 * time.Minute
	DefaultConcurrency    = 4
	DefaultRefreshTimeout = 2 * time.Minute
)

// Options configures a Catalog.
type Options struct {
	TTL            time.Duration
	Concurrency    int
	RefreshTimeout time.Duration
	Logger         *slog.Logger
	Now            func() time.Time
}

var _ domain.CatalogReader = (*Catalog)(nil)

// Catalog caches snapshots built from a fixed set of sources. It is
// reference-counted: New returns a catalog holding one reference, Retain
// adds one, and the sources are closed when Close drops the last.
type Catalog struct {
	sources        []Source
	ttl            time.Duration
	concurrency    int
	refreshTimeout time.Duration
	logger         *slog.Logger
	now            func() time.Time

	current   atomic.Pointer[domain.Snapshot]
	group     singleflight.Group
	refreshes atomic.Int64

	refs      atomic.Int64
	closeOnce sync.Once
	closeErr  error
}

// New creates a catalog over sources. No discovery happens until the first
// Get.
func New(sources []Source, opts Options) *Catalog {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.RefreshTimeout <= 0 {
		opts.RefreshTimeout = DefaultRefreshTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	c := &Catalog{
		sources:        sources,
		ttl:            opts.TTL,
		concurrency:    opts.Concurrency,
		refreshTimeout: opts.RefreshTimeout,
		logger:         opts.Logger,
		now:            opts.Now,
	}
	c.refs.Store(1)
	return c
}

// Retain adds a reference and returns the catalog.
func (c *Catalog) Retain() *Catalog {
	c.refs.Add(1)
	return c
}

// Close drops a reference. The last Close releases every source that holds
// resources.
func (c *Catalog) Close() error {
	if c.refs.Add(-1) > 0 {
		return nil
	}
	c.closeOnce.Do(func() {
		var errs []error
		for _, src := range c.sources {
			if closer, ok := src.(io.Closer); ok {
				if err := closer.Close(); err != nil {
					errs = append(errs, fmt.Errorf("close source %s: %w", src.Name(), err))
				}
			}
		}
		c.closeErr = errors.Join(errs...)
	})
	return c.closeErr
}

// Get returns the cached snapshot while it is younger than the TTL and
// refreshes otherwise. A *domain.CatalogUnavailableError is returned
// together with the (empty) snapshot that replaced the cache.
func (c *Catalog) Get(ctx context.Context, forceRefresh bool) (*domain.Snapshot, error) {
	if !forceRefresh {
		if snap := c.current.Load(); snap != nil && snap.Age(c.now()) < c.ttl {
			return snap, nil
		}
	}

	// The refresh outlives a canceled caller so that other waiters still
	// receive its result.
	ch := c.group.DoChan("refresh", func() (any, error) {
		return c.refresh(context.WithoutCancel(ctx))
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		snap, _ := res.Val.(*domain.Snapshot)
		return snap, res.Err
	}
}

// Refresh rebuilds the snapshot regardless of its age.
func (c *Catalog) Refresh(ctx context.Context) (*domain.Snapshot, error) {
	return c.Get(ctx, true)
}

// Invalidate drops the cached snapshot so the next Get refreshes.
func (c *Catalog) Invalidate() {
	c.current.Store(nil)
}

// Snapshot returns the cached snapshot without refreshing; nil when none.
func (c *Catalog) Snapshot() *domain.Snapshot {
	return c.current.Load()
}

// Refreshes reports how many refreshes have completed.
func (c *Catalog) Refreshes() int64 {
	return c.refreshes.Load()
}

// Sources returns the configured sources.
func (c *Catalog) Sources() []Source {
	return c.sources
}

func (c *Catalog) refresh(ctx context.Context) (*domain.Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, c.refreshTimeout)
	defer cancel()
	start := c.now()

	results := make([][]domain.TableSchema, len(c.sources))
	errs := make([]error, len(c.sources))

	var g errgroup.Group
	g.SetLimit(c.concurrency)
	for i, src := range c.sources {
		g.Go(func() error {
			tables, err := src.Discover(ctx)
			results[i], errs[i] = tables, err
			return nil
		})
	}
	_ = g.Wait()

	failures := make(map[string]string)
	for i, err := range errs {
		if err != nil {
			failures[c.sources[i].Name()] = err.Error()
			c.logger.Warn("catalog source failed", "source", c.sources[i].Name(), "error", err)
		}
	}

	tables, warnings := merge(c.sources, results)
	for _, w := range warnings {
		c.logger.Warn("catalog conflict", "detail", w)
	}

	var sourceErrors map[string]string
	if len(failures) > 0 {
		sourceErrors = failures
	}
	snap := domain.NewSnapshot(tables, c.now(), sourceErrors)
	snap.Warnings = warnings
	c.current.Store(snap)
	c.refreshes.Add(1)

	c.logger.Info("catalog refreshed",
		"tables", len(tables),
		"sources", len(c.sources),
		"failed_sources", len(failures),
		"elapsed_ms", c.now().Sub(start).Milliseconds())

	if len(c.sources) > 0 && len(failures) == len(c.sources) {
		return snap, &domain.CatalogUnavailableError{Failures: failures}
	}
	return snap, nil
}

// merge concatenates the tables of every source in configuration order,
// drops case-insensitive duplicates (first wins) and sorts by name.
func merge(sources []Source, results [][]domain.TableSchema) ([]domain.TableSchema, []string) {
	var (
		tables   []domain.TableSchema
		warnings []string
		owner    = make(map[string]string)
	)
	for i, found := range results {
		for _, t := range found {
			key := strings.ToLower(t.Name)
			if prev, dup := owner[key]; dup {
				warnings = append(warnings, fmt.Sprintf(
					"duplicate table %q from source %s dropped; already provided by %s", t.Name, sources[i].Name(), prev))
				continue
			}
			owner[key] = sources[i].Name()
			tables = append(tables, t)
		}
	}
	sort.SliceStable(tables, func(a, b int) bool {
		return strings.ToLower(tables[a].Name) < strings.ToLower(tables[b].Name)
	})
	return tables, warnings
}
