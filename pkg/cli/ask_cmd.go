package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"duck-analyst/internal/agent"
	"duck-analyst/internal/app"
	"duck-analyst/internal/domain"
)

// addTurnFlags registers the per-turn overrides shared by ask and resume.
func addTurnFlags(cmd *cobra.Command) {
	cmd.Flags().Duration("query-timeout", 0, "Timeout for one query execution (e.g. 30s)")
	cmd.Flags().Int("max-attempts", 0, "SQL generation attempts per turn, 1 to 3")
	cmd.Flags().Bool("strict-limit", false, "Reject queries without LIMIT instead of adding one")
}

func newAskCmd(s *session) *cobra.Command {
	var (
		sessionID  string
		mode       string
		maxResults int
	)

	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask a question about your data",
		Long: `Routes the question, generates and validates SQL against the schema catalog,
runs it and explains the results. Pass --session to continue a conversation.
A question of "-" is read from stdin.`,
		Example: `  analyst ask "What were total sales by region last quarter?"
  analyst ask --session 0192... "And only for EMEA?"
  analyst ask --mode summarize --session 0192... "Summarize that"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			question := strings.Join(args, " ")
			if question == "-" {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read stdin: %w", err)
				}
				question = strings.TrimSpace(string(data))
			}

			a, err := s.openApp(cmd.Context(), app.Options{WithAgent: true})
			if err != nil {
				return err
			}
			defer a.Close() //nolint:errcheck

			if sessionID == "" {
				sessionID = domain.NewID()
			}
			out, err := a.Agent.Ask(cmd.Context(), agent.TurnInput{
				Question:   question,
				SessionID:  sessionID,
				Mode:       domain.TurnMode(mode),
				MaxResults: maxResults,
			})
			if err != nil {
				if cmd.Context().Err() != nil {
					_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Turn interrupted; continue with: analyst resume %s\n", sessionID)
				}
				return err
			}
			logMetrics(s, a)
			return renderTurn(cmd, out)
		},
	}

	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "Session to continue (default: start a new one)")
	cmd.Flags().StringVarP(&mode, "mode", "m", string(domain.ModeQuery), "Turn mode (query, summarize)")
	cmd.Flags().IntVarP(&maxResults, "max-results", "n", 0, "Maximum rows to return (default from config)")
	addTurnFlags(cmd)
	return cmd
}

func newResumeCmd(s *session) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resume <session-id>",
		Short: "Resume the latest turn of a session from its last checkpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := s.openApp(cmd.Context(), app.Options{WithAgent: true})
			if err != nil {
				return err
			}
			defer a.Close() //nolint:errcheck

			out, err := a.Agent.Resume(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			logMetrics(s, a)
			return renderTurn(cmd, out)
		},
	}
	addTurnFlags(cmd)
	return cmd
}

func newSessionsCmd(s *session) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List recent sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := s.openApp(cmd.Context(), app.Options{WithStore: true})
			if err != nil {
				return err
			}
			defer a.Close() //nolint:errcheck

			sessions, err := a.Store.Sessions(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if ok, err := printStructured(cmd, sessions); ok {
				return err
			}
			if len(sessions) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No sessions.")
				return nil
			}
			t := newTable(cmd.OutOrStdout(), "Session", "Turns", "State", "Updated", "Last question")
			for _, ss := range sessions {
				t.AppendRow([]any{ss.SessionID, ss.Turns, ss.State, ss.UpdatedAt.Local().Format(time.DateTime), truncate(ss.Question, 60)})
			}
			t.Render()
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum sessions to list")
	return cmd
}

func logMetrics(s *session, a *app.App) {
	m := a.Metrics.Snapshot()
	s.logger.Debug("turn metrics",
		"turns", m.Turns,
		"retries", m.Retries,
		"retry_budgets_exhausted", m.RetryBudgetsSpent,
		"exec_latency_p50", m.ExecLatencyP50,
		"exec_latency_p95", m.ExecLatencyP95)
}

// renderTurn prints a turn result. A failed turn exits with status 2 after
// its answer has been shown.
func renderTurn(cmd *cobra.Command, out *agent.TurnOutput) error {
	if ok, err := printStructured(cmd, out); ok {
		if err != nil {
			return err
		}
		return turnExit(out)
	}

	w := cmd.OutOrStdout()
	_, _ = fmt.Fprintln(w, out.Answer)
	if out.GeneratedSQL != "" {
		_, _ = fmt.Fprintf(w, "\nSQL:\n  %s\n", strings.ReplaceAll(out.GeneratedSQL, "\n", "\n  "))
	}
	if len(out.Columns) > 0 {
		_, _ = fmt.Fprintln(w)
		renderRows(w, out.Columns, out.Rows)
		suffix := ""
		if out.Truncated {
			suffix = ", truncated"
		}
		_, _ = fmt.Fprintf(w, "(%d rows%s, %s)\n", out.RowCount, suffix, agent.FormatElapsed(time.Duration(out.ElapsedMS*float64(time.Millisecond))))
	}
	for _, warning := range out.Warnings {
		_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s\n", warning)
	}
	_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "session: %s\n", out.SessionID)
	return turnExit(out)
}

func turnExit(out *agent.TurnOutput) error {
	if out.Success {
		return nil
	}
	return &exitError{code: 2}
}

func renderRows(w io.Writer, columns []string, rows []map[string]any) {
	header := make([]any, len(columns))
	for i, c := range columns {
		header[i] = c
	}
	t := newTable(w, header...)
	for _, row := range rows {
		cells := make([]any, len(columns))
		for i, c := range columns {
			cells[i] = formatCell(row[c])
		}
		t.AppendRow(cells)
	}
	t.Render()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
