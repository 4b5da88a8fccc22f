package domain

import (
	"strings"
	"time"
)

// SourceKind identifies where a table's data lives.
type SourceKind string

// Source kinds.
const (
	SourceObjectStore SourceKind = "object_store"
	SourceLocalFile   SourceKind = "local_file"
	SourceRelational  SourceKind = "relational"
)

// Column describes one column of a catalog table.
type Column struct {
	Name         string   `json:"name"`
	DeclaredType string   `json:"type"`
	Nullable     bool     `json:"nullable"`
	SampleValues []string `json:"sample_values,omitempty"`
}

// DateRange is the observed min/max of a table's first temporal column.
type DateRange struct {
	Column string `json:"column"`
	Min    string `json:"min"`
	Max    string `json:"max"`
}

// TableSchema is one catalog entry.
type TableSchema struct {
	Name           string     `json:"name"`
	SourceKind     SourceKind `json:"source_kind"`
	SourceName     string     `json:"source_name"`
	SourceLocator  string     `json:"source_locator"`
	FileFormat     string     `json:"file_format,omitempty"`
	Columns        []Column   `json:"columns"`
	RowCount       *int64     `json:"row_count,omitempty"`
	DateRange      *DateRange `json:"date_range,omitempty"`
	LastObservedAt time.Time  `json:"last_observed_at"`
}

// Snapshot is an immutable point-in-time view of all known tables. Tables
// are sorted by lower-cased name and names are unique case-insensitively.
type Snapshot struct {
	Tables       []TableSchema     `json:"tables"`
	BuiltAt      time.Time         `json:"built_at"`
	SourceErrors map[string]string `json:"source_errors,omitempty"`
	Warnings     []string          `json:"warnings,omitempty"`

	index map[string]int
}

// NewSnapshot builds a snapshot from tables that are already sorted and
// de-duplicated.
func NewSnapshot(tables []TableSchema, builtAt time.Time, sourceErrors map[string]string) *Snapshot {
	s := &Snapshot{
		Tables:       tables,
		BuiltAt:      builtAt,
		SourceErrors: sourceErrors,
		index:        make(map[string]int, len(tables)),
	}
	for i, t := range tables {
		s.index[strings.ToLower(t.Name)] = i
	}
	return s
}

// Lookup finds a table by case-insensitive name.
func (s *Snapshot) Lookup(name string) (TableSchema, bool) {
	if s == nil {
		return TableSchema{}, false
	}
	i, ok := s.index[strings.ToLower(name)]
	if !ok {
		return TableSchema{}, false
	}
	return s.Tables[i], true
}

// Has reports whether name is a known table.
func (s *Snapshot) Has(name string) bool {
	_, ok := s.Lookup(name)
	return ok
}

// TableNames returns the table names in snapshot order.
func (s *Snapshot) TableNames() []string {
	if s == nil {
		return nil
	}
	names := make([]string, len(s.Tables))
	for i, t := range s.Tables {
		names[i] = t.Name
	}
	return names
}

// Empty reports whether no tables are known.
func (s *Snapshot) Empty() bool { return s == nil || len(s.Tables) == 0 }

// Age returns how long ago the snapshot was built.
func (s *Snapshot) Age(now time.Time) time.Duration { return now.Sub(s.BuiltAt) }
