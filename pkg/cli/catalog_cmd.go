package cli

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"duck-analyst/internal/app"
	"duck-analyst/internal/catalog"
	"duck-analyst/internal/domain"
)

func newCatalogCmd(s *session) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Inspect the schema catalog built from the configured sources",
	}

	cmd.AddCommand(newCatalogShowCmd(s))
	cmd.AddCommand(newCatalogRefreshCmd(s))
	cmd.AddCommand(newCatalogContextCmd(s))
	cmd.AddCommand(newCatalogWatchCmd(s))

	return cmd
}

func newCatalogShowCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "show [table]",
		Short: "List discovered tables, or describe one table",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := s.openApp(cmd.Context(), app.Options{})
			if err != nil {
				return err
			}
			defer a.Close() //nolint:errcheck

			snap, err := a.Catalog.Get(cmd.Context(), false)
			if err != nil {
				var unavailable *domain.CatalogUnavailableError
				if !errors.As(err, &unavailable) {
					return err
				}
				s.logger.Warn("catalog unavailable", "error", err)
			}

			if len(args) == 1 {
				tbl, ok := snap.Lookup(args[0])
				if !ok {
					return domain.ErrNotFound("table %q not found in catalog", args[0])
				}
				if ok, err := printStructured(cmd, tbl); ok {
					return err
				}
				renderTable(cmd.OutOrStdout(), tbl)
				return nil
			}

			if ok, err := printStructured(cmd, snap); ok {
				return err
			}
			renderSnapshot(cmd.OutOrStdout(), snap)
			return nil
		},
	}
}

func newCatalogRefreshCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Rediscover every source and report what was found",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := s.openApp(cmd.Context(), app.Options{})
			if err != nil {
				return err
			}
			defer a.Close() //nolint:errcheck

			start := time.Now()
			snap, err := a.Catalog.Refresh(cmd.Context())
			var unavailable *domain.CatalogUnavailableError
			if err != nil && !errors.As(err, &unavailable) {
				return err
			}

			result := refreshResult{
				Tables:       len(snap.Tables),
				Sources:      len(a.Catalog.Sources()),
				SourceErrors: snap.SourceErrors,
				Warnings:     snap.Warnings,
				Elapsed:      time.Since(start).Round(time.Millisecond).String(),
			}
			if ok, err := printStructured(cmd, result); ok {
				return err
			}
			w := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(w, "Discovered %d tables from %d sources in %s.\n", result.Tables, result.Sources, result.Elapsed)
			printSourceErrors(w, snap)
			if unavailable != nil {
				return &exitError{code: 1}
			}
			return nil
		},
	}
}

type refreshResult struct {
	Tables       int               `json:"tables"`
	Sources      int               `json:"sources"`
	SourceErrors map[string]string `json:"source_errors,omitempty"`
	Warnings     []string          `json:"warnings,omitempty"`
	Elapsed      string            `json:"elapsed"`
}

func newCatalogContextCmd(s *session) *cobra.Command {
	var maxTables int

	cmd := &cobra.Command{
		Use:   "context",
		Short: "Print the schema description given to the language model",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := s.openApp(cmd.Context(), app.Options{})
			if err != nil {
				return err
			}
			defer a.Close() //nolint:errcheck

			if !cmd.Flags().Changed("max-tables") {
				maxTables = s.cfg.Catalog.MaxTables
			}
			text, err := a.Catalog.RenderContext(cmd.Context(), maxTables)
			if err != nil {
				s.logger.Warn("catalog unavailable", "error", err)
			}
			_, _ = fmt.Fprint(cmd.OutOrStdout(), text)
			return nil
		},
	}
	cmd.Flags().IntVar(&maxTables, "max-tables", catalog.DefaultMaxTables, "Maximum tables to describe")
	return cmd
}

func newCatalogWatchCmd(s *session) *cobra.Command {
	var schedule string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Refresh the catalog on a schedule and report changes until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if schedule != "" {
				s.cfg.Catalog.RefreshSchedule = schedule
			}
			if s.cfg.Catalog.RefreshSchedule == "" {
				return fmt.Errorf("no refresh schedule: set catalog.refresh_schedule or pass --schedule")
			}

			a, err := s.openApp(cmd.Context(), app.Options{})
			if err != nil {
				return err
			}
			defer a.Close() //nolint:errcheck

			w := cmd.OutOrStdout()
			prev, err := a.Catalog.Get(cmd.Context(), false)
			var unavailable *domain.CatalogUnavailableError
			if err != nil && !errors.As(err, &unavailable) {
				return err
			}
			_, _ = fmt.Fprintf(w, "%s  %d tables\n", time.Now().Format(time.TimeOnly), len(prev.Tables))

			changes := make(chan *domain.Snapshot, 1)
			err = a.StartScheduler(func(snap *domain.Snapshot) {
				select {
				case changes <- snap:
				default:
				}
			})
			if err != nil {
				return err
			}

			for {
				select {
				case <-cmd.Context().Done():
					return nil
				case snap := <-changes:
					added, removed := diffTables(prev, snap)
					_, _ = fmt.Fprintf(w, "%s  %d tables", time.Now().Format(time.TimeOnly), len(snap.Tables))
					if len(added) > 0 {
						_, _ = fmt.Fprintf(w, "  +%s", strings.Join(added, " +"))
					}
					if len(removed) > 0 {
						_, _ = fmt.Fprintf(w, "  -%s", strings.Join(removed, " -"))
					}
					_, _ = fmt.Fprintln(w)
					printSourceErrors(w, snap)
					prev = snap
				}
			}
		},
	}
	cmd.Flags().StringVar(&schedule, "schedule", "", `Cron schedule, e.g. "@every 1m" (default catalog.refresh_schedule)`)
	return cmd
}

// diffTables returns the table names present only in next and only in prev.
func diffTables(prev, next *domain.Snapshot) (added, removed []string) {
	for _, t := range next.Tables {
		if !prev.Has(t.Name) {
			added = append(added, t.Name)
		}
	}
	for _, t := range prev.Tables {
		if !next.Has(t.Name) {
			removed = append(removed, t.Name)
		}
	}
	return added, removed
}

func renderSnapshot(w io.Writer, snap *domain.Snapshot) {
	if snap.Empty() {
		_, _ = fmt.Fprintln(w, "No tables discovered.")
		printSourceErrors(w, snap)
		return
	}
	t := newTable(w, "Table", "Source", "Kind", "Format", "Columns", "Rows")
	for _, tbl := range snap.Tables {
		rows := "-"
		if tbl.RowCount != nil {
			rows = fmt.Sprintf("%d", *tbl.RowCount)
		}
		t.AppendRow([]any{tbl.Name, tbl.SourceName, tbl.SourceKind, tbl.FileFormat, len(tbl.Columns), rows})
	}
	t.Render()
	_, _ = fmt.Fprintf(w, "(%d tables, built %s)\n", len(snap.Tables), snap.BuiltAt.Local().Format(time.DateTime))
	for _, warning := range snap.Warnings {
		_, _ = fmt.Fprintf(w, "warning: %s\n", warning)
	}
	printSourceErrors(w, snap)
}

func renderTable(w io.Writer, tbl domain.TableSchema) {
	_, _ = fmt.Fprintf(w, "Table: %s\n", tbl.Name)
	_, _ = fmt.Fprintf(w, "Source: %s (%s) %s\n", tbl.SourceName, tbl.SourceKind, tbl.SourceLocator)
	if tbl.RowCount != nil {
		_, _ = fmt.Fprintf(w, "Rows: %d\n", *tbl.RowCount)
	}
	if tbl.DateRange != nil {
		_, _ = fmt.Fprintf(w, "Date range: %s to %s (%s)\n", tbl.DateRange.Min, tbl.DateRange.Max, tbl.DateRange.Column)
	}
	t := newTable(w, "Column", "Type", "Nullable", "Samples")
	for _, c := range tbl.Columns {
		nullable := "NO"
		if c.Nullable {
			nullable = "YES"
		}
		t.AppendRow([]any{c.Name, c.DeclaredType, nullable, strings.Join(c.SampleValues, ", ")})
	}
	t.Render()
}

func printSourceErrors(w io.Writer, snap *domain.Snapshot) {
	if snap == nil {
		return
	}
	names := make([]string, 0, len(snap.SourceErrors))
	for name := range snap.SourceErrors {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		_, _ = fmt.Fprintf(w, "source %s failed: %s\n", name, snap.SourceErrors[name])
	}
}
