package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver

	"duck-analyst/internal/ddl"
	"duck-analyst/internal/domain"
)

const (
	columnsQuery = `
		SELECT table_name, column_name, data_type, is_nullable
		FROM information_schema.columns
		WHERE table_schema = $1
		ORDER BY table_name, ordinal_position`

	rowEstimateQuery = `
		SELECT c.reltuples::bigint
		FROM pg_class c
		JOIN pg_namespace n ON n.oid = c.relnamespace
		WHERE n.nspname = $1 AND c.relname = $2`
)

// RelationalOptions configures a RelationalSource.
type RelationalOptions struct {
	// Alias is the name the database is attached under in DuckDB.
	Alias        string
	Schemas      []string
	SampleValues int
	CountRows    bool
}

// RelationalSource introspects a PostgreSQL database through
// information_schema. Tables are queried at execution time through the
// DuckDB postgres extension, so locators are qualified names in the
// attached database.
type RelationalSource struct {
	name   string
	db     *sql.DB
	owned  bool
	opts   RelationalOptions
	logger *slog.Logger
	now    func() time.Time
}

// OpenRelationalSource connects to PostgreSQL with the pgx driver.
func OpenRelationalSource(ctx context.Context, name, dsn string, opts RelationalOptions, logger *slog.Logger) (*RelationalSource, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	src := NewRelationalSource(name, db, opts, logger)
	src.owned = true
	return src, nil
}

// NewRelationalSource wraps an existing connection. The caller keeps
// ownership of db.
func NewRelationalSource(name string, db *sql.DB, opts RelationalOptions, logger *slog.Logger) *RelationalSource {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if len(opts.Schemas) == 0 {
		opts.Schemas = []string{"public"}
	}
	if opts.Alias == "" {
		opts.Alias = ddl.SanitizeName(name)
	}
	return &RelationalSource{name: name, db: db, opts: opts, logger: logger, now: time.Now}
}

func (s *RelationalSource) Name() string { return s.name }

func (s *RelationalSource) Kind() domain.SourceKind { return domain.SourceRelational }

// Alias returns the DuckDB attach alias of this database.
func (s *RelationalSource) Alias() string { return s.opts.Alias }

// Discover lists every table of the configured schemas.
func (s *RelationalSource) Discover(ctx context.Context) ([]domain.TableSchema, error) {
	now := s.now()
	var tables []domain.TableSchema
	for _, schema := range s.opts.Schemas {
		found, err := s.discoverSchema(ctx, schema, now)
		if err != nil {
			return nil, err
		}
		tables = append(tables, found...)
	}
	return tables, nil
}

func (s *RelationalSource) discoverSchema(ctx context.Context, schema string, now time.Time) ([]domain.TableSchema, error) {
	rows, err := s.db.QueryContext(ctx, columnsQuery, schema)
	if err != nil {
		return nil, fmt.Errorf("failed to query column metadata: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var (
		tables []domain.TableSchema
		raw    []string
		byName = make(map[string]int)
	)
	for rows.Next() {
		var table, column, dataType, nullable string
		if err := rows.Scan(&table, &column, &dataType, &nullable); err != nil {
			return nil, fmt.Errorf("failed to scan column metadata: %w", err)
		}
		idx, ok := byName[table]
		if !ok {
			idx = len(tables)
			byName[table] = idx
			raw = append(raw, table)
			tables = append(tables, domain.TableSchema{
				Name:           s.tableName(schema, table),
				SourceKind:     domain.SourceRelational,
				SourceName:     s.name,
				SourceLocator:  ddl.AttachedTable(s.opts.Alias, schema, table),
				LastObservedAt: now,
			})
		}
		tables[idx].Columns = append(tables[idx].Columns, domain.Column{
			Name:         column,
			DeclaredType: dataType,
			Nullable:     nullable == "YES",
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating column metadata: %w", err)
	}
	_ = rows.Close()

	for idx, table := range raw {
		if s.opts.CountRows {
			if n, ok := s.rowEstimate(ctx, schema, table); ok {
				tables[idx].RowCount = &n
			}
		}
		if s.opts.SampleValues > 0 {
			s.sample(ctx, schema, table, tables[idx].Columns)
		}
	}
	return tables, nil
}

// tableName exposes tables of the public schema unqualified and prefixes
// the others with their schema.
func (s *RelationalSource) tableName(schema, table string) string {
	if schema == "public" {
		return ddl.SanitizeName(table)
	}
	return ddl.SanitizeName(schema + "_" + table)
}

// rowEstimate reads the planner estimate; a negative value means the table
// was never analyzed.
func (s *RelationalSource) rowEstimate(ctx context.Context, schema, table string) (int64, bool) {
	var n int64
	if err := s.db.QueryRowContext(ctx, rowEstimateQuery, schema, table).Scan(&n); err != nil {
		s.logger.Debug("row estimate unavailable", "source", s.name, "table", table, "error", err)
		return 0, false
	}
	return n, n >= 0
}

func (s *RelationalSource) sample(ctx context.Context, schema, table string, cols []domain.Column) {
	rel := ddl.QuoteIdentifier(schema) + "." + ddl.QuoteIdentifier(table)
	for i := range cols {
		col := ddl.QuoteIdentifier(cols[i].Name)
		q := fmt.Sprintf("SELECT DISTINCT CAST(%s AS TEXT) FROM %s WHERE %s IS NOT NULL LIMIT %d",
			col, rel, col, s.opts.SampleValues)
		rows, err := s.db.QueryContext(ctx, q)
		if err != nil {
			s.logger.Debug("sample failed", "source", s.name, "table", table, "column", cols[i].Name, "error", err)
			continue
		}
		var values []string
		for rows.Next() {
			var v string
			if err := rows.Scan(&v); err == nil {
				values = append(values, v)
			}
		}
		_ = rows.Close()
		cols[i].SampleValues = values
	}
}

// Close closes the connection when the source opened it.
func (s *RelationalSource) Close() error {
	if s.owned {
		return s.db.Close()
	}
	return nil
}
