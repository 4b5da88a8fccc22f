package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"duck-analyst/internal/app"
	"duck-analyst/internal/domain"
	"duck-analyst/internal/validator"
)

type validateResult struct {
	Valid        bool     `json:"valid"`
	Errors       []string `json:"errors,omitempty"`
	Warnings     []string `json:"warnings,omitempty"`
	CorrectedSQL string   `json:"corrected_sql,omitempty"`
	Tables       []string `json:"tables,omitempty"`
}

func newValidateCmd(s *session) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <sql>",
		Short: "Check a SQL query against the safety rules and the schema catalog",
		Long: `Runs the same validation the agent applies to generated SQL: read-only
statements only, no file or system access, known tables and a bounded LIMIT.
Nothing is executed. A query of "-" is read from stdin.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			if query == "-" {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read stdin: %w", err)
				}
				query = strings.TrimSpace(string(data))
			}

			a, err := s.openApp(cmd.Context(), app.Options{})
			if err != nil {
				return err
			}
			defer a.Close() //nolint:errcheck

			snap, err := a.Catalog.Get(cmd.Context(), false)
			var unavailable *domain.CatalogUnavailableError
			if err != nil && !errors.As(err, &unavailable) {
				return err
			}

			verdict := a.Validator.Validate(query, snap)
			result := validateResult{
				Valid:        verdict.IsValid,
				Warnings:     verdict.Warnings,
				CorrectedSQL: verdict.CorrectedSQL,
			}
			for _, e := range verdict.Errors {
				result.Errors = append(result.Errors, e.String())
			}
			if verdict.IsValid {
				result.Tables = validator.ReferencedTables(query)
			}

			if ok, err := printStructured(cmd, result); ok {
				if err != nil {
					return err
				}
				return validateExit(result)
			}

			w := cmd.OutOrStdout()
			if !result.Valid {
				_, _ = fmt.Fprintf(w, "Query is invalid (%d error(s)):\n", len(result.Errors))
				for _, e := range result.Errors {
					_, _ = fmt.Fprintf(w, "  - %s\n", e)
				}
				return validateExit(result)
			}
			_, _ = fmt.Fprintln(w, "Query is valid.")
			if len(result.Tables) > 0 {
				_, _ = fmt.Fprintf(w, "Tables: %s\n", strings.Join(result.Tables, ", "))
			}
			for _, warning := range result.Warnings {
				_, _ = fmt.Fprintf(w, "warning: %s\n", warning)
			}
			if result.CorrectedSQL != "" {
				_, _ = fmt.Fprintf(w, "Executable SQL:\n  %s\n", result.CorrectedSQL)
			}
			return nil
		},
	}
	return cmd
}

func validateExit(r validateResult) error {
	if r.Valid {
		return nil
	}
	return &exitError{code: 2}
}
