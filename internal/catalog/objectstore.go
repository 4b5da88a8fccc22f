package catalog

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"sort"
	"strings"
	"time"

	"duck-analyst/internal/ddl"
	"duck-analyst/internal/domain"
	"duck-analyst/internal/engine"
)

// ObjectLister enumerates object keys below a prefix. Implementations:
// S3Lister, GCSLister, AzureLister.
type ObjectLister interface {
	List(ctx context.Context, bucket, prefix string) ([]string, error)
}

// StorageURI is a parsed object-store location.
type StorageURI struct {
	Scheme string
	Bucket string // bucket or container
	Prefix string // key prefix without leading slash, "" or ending in "/"
	root   string
}

// ParseStorageURI parses s3://, gs://, az:// and abfss:// locations.
//
//	s3://bucket/prefix
//	gs://bucket/prefix
//	az://container/prefix
//	abfss://container@account.dfs.core.windows.net/prefix
func ParseStorageURI(raw string) (StorageURI, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return StorageURI{}, fmt.Errorf("parse storage URI %q: %w", raw, err)
	}
	var bucket string
	switch u.Scheme {
	case "s3", "gs", "gcs", "az", "azure":
		bucket = u.Host
	case "abfss":
		if u.User == nil {
			return StorageURI{}, fmt.Errorf("abfss URI %q missing container@account component", raw)
		}
		bucket = u.User.Username()
	default:
		return StorageURI{}, fmt.Errorf("unsupported storage scheme %q in %q", u.Scheme, raw)
	}
	if bucket == "" {
		return StorageURI{}, fmt.Errorf("missing bucket in storage URI %q", raw)
	}
	prefix := strings.TrimPrefix(u.Path, "/")
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return StorageURI{
		Scheme: u.Scheme,
		Bucket: bucket,
		Prefix: prefix,
		root:   strings.TrimSuffix(raw, "/"),
	}, nil
}

// Join returns the URI of a path relative to the prefix.
func (s StorageURI) Join(rel string) string {
	return s.root + "/" + rel
}

// ObjectStoreSource turns an object-store prefix into tables. Each file
// directly below the prefix is one table; each directory below the prefix is
// one partitioned table read through a recursive glob.
type ObjectStoreSource struct {
	name      string
	uri       StorageURI
	lister    ObjectLister
	inspector Inspector
	opts      engine.InspectOptions
	logger    *slog.Logger
	now       func() time.Time
}

// NewObjectStoreSource creates a source over uri using lister for
// enumeration and inspector for schema discovery.
func NewObjectStoreSource(name, uri string, lister ObjectLister, inspector Inspector, opts engine.InspectOptions, logger *slog.Logger) (*ObjectStoreSource, error) {
	parsed, err := ParseStorageURI(uri)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &ObjectStoreSource{
		name:      name,
		uri:       parsed,
		lister:    lister,
		inspector: inspector,
		opts:      opts,
		logger:    logger,
		now:       time.Now,
	}, nil
}

func (s *ObjectStoreSource) Name() string { return s.name }

func (s *ObjectStoreSource) Kind() domain.SourceKind { return domain.SourceObjectStore }

// Discover lists the prefix and describes every table found.
func (s *ObjectStoreSource) Discover(ctx context.Context) ([]domain.TableSchema, error) {
	keys, err := s.lister.List(ctx, s.uri.Bucket, s.uri.Prefix)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", s.uri.root, err)
	}
	candidates := groupObjects(s.uri, keys)
	s.logger.Debug("object store listing",
		"source", s.name, "objects", len(keys), "tables", len(candidates))
	return inspectTables(ctx, s, s.inspector, s.opts, candidates, s.now(), s.logger)
}

// Close releases the lister when it holds a client.
func (s *ObjectStoreSource) Close() error {
	if c, ok := s.lister.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// groupObjects groups keys by their first path segment below the prefix.
// Keys with unknown formats, directory markers and hidden files are ignored.
func groupObjects(uri StorageURI, keys []string) []fileTable {
	type group struct {
		dir     bool
		single  string
		formats map[string]int
	}
	groups := make(map[string]*group)

	for _, key := range keys {
		rel := strings.TrimPrefix(key, uri.Prefix)
		if rel == "" || strings.HasSuffix(rel, "/") {
			continue
		}
		format := formatFromPath(rel)
		if format == "" {
			continue
		}
		segment, rest, nested := strings.Cut(rel, "/")
		if strings.HasPrefix(segment, ".") || strings.HasPrefix(segment, "_") {
			continue
		}
		if nested {
			if base := rest[strings.LastIndex(rest, "/")+1:]; strings.HasPrefix(base, ".") || strings.HasPrefix(base, "_") {
				continue
			}
		}

		var name string
		if nested {
			name = ddl.SanitizeName(segment)
		} else {
			name = ddl.SanitizeName(stem(segment))
		}
		if name == "" {
			continue
		}
		g, ok := groups[name]
		if !ok {
			g = &group{formats: make(map[string]int)}
			groups[name] = g
		}
		g.formats[format]++
		if nested {
			g.dir = true
			g.single = segment
		} else if !g.dir {
			g.single = rel
		}
	}

	names := make([]string, 0, len(groups))
	for name := range groups {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]fileTable, 0, len(names))
	for _, name := range names {
		g := groups[name]
		format := dominantFormat(g.formats)
		locator := uri.Join(g.single)
		if g.dir {
			locator = uri.Join(g.single + "/**/" + globExt[format])
		}
		out = append(out, fileTable{name: name, locator: locator, format: format})
	}
	return out
}

// stem strips every extension from a file name: "sales.csv.gz" -> "sales".
func stem(name string) string {
	if i := strings.Index(name, "."); i > 0 {
		return name[:i]
	}
	return name
}
