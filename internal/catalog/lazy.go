package catalog

import (
	"context"
	"fmt"
	"io"
	"sync"

	"duck-analyst/internal/domain"
)

// OpenFunc builds a source, typically creating engine secrets, attachments
// and storage clients first.
type OpenFunc func(ctx context.Context) (Source, error)

// LazySource defers source setup to discovery. A failed setup is returned as
// the discovery error, so it is recorded like any other source failure, and
// it is retried on the next refresh.
type LazySource struct {
	name string
	kind domain.SourceKind
	open OpenFunc

	mu  sync.Mutex
	src Source
}

var (
	_ Source    = (*LazySource)(nil)
	_ io.Closer = (*LazySource)(nil)
)

// NewLazySource creates a source that calls open on its first discovery.
func NewLazySource(name string, kind domain.SourceKind, open OpenFunc) *LazySource {
	return &LazySource{name: name, kind: kind, open: open}
}

func (s *LazySource) Name() string { return s.name }

func (s *LazySource) Kind() domain.SourceKind { return s.kind }

// Discover sets the source up if needed and discovers its tables.
func (s *LazySource) Discover(ctx context.Context) ([]domain.TableSchema, error) {
	src, err := s.opened(ctx)
	if err != nil {
		return nil, err
	}
	return src.Discover(ctx)
}

func (s *LazySource) opened(ctx context.Context) (Source, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.src != nil {
		return s.src, nil
	}
	src, err := s.open(ctx)
	if err != nil {
		return nil, fmt.Errorf("setup: %w", err)
	}
	s.src = src
	return src, nil
}

// Close releases the underlying source when it was opened and holds
// resources.
func (s *LazySource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if closer, ok := s.src.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
