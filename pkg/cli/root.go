// Package cli implements the analyst command-line interface.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"duck-analyst/internal/app"
	"duck-analyst/internal/config"
)

var (
	version = "dev"
	commit  = "none"
)

// skipConfig marks commands that run without loading configuration.
const skipConfig = "skip-config"

// exitError sets the process exit code without printing another message;
// the command has already reported the failure.
type exitError struct {
	code int
}

func (e *exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	rootCmd := newRootCmd()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		var exit *exitError
		if errors.As(err, &exit) {
			return exit.code
		}
		if getOutputFormat(rootCmd) == "json" {
			_ = printJSON(os.Stdout, map[string]any{"error": err.Error()})
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		return 1
	}
	return 0
}

// session carries the resolved configuration to subcommands.
type session struct {
	configPath string
	cfg        *config.Config
	logger     *slog.Logger
}

// openApp builds the application for one command invocation.
func (s *session) openApp(ctx context.Context, opts app.Options) (*app.App, error) {
	return app.New(ctx, s.cfg, opts, s.logger)
}

func newLogger(w io.Writer, cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func newRootCmd() *cobra.Command {
	s := &session{}
	var (
		envFile    string
		logLevel   string
		logFormat  string
		output     string
		database   string
		checkpoint string
		model      string
	)

	rootCmd := &cobra.Command{
		Use:           "analyst",
		Short:         "Ask questions about your data in plain language",
		Long:          "Translates natural-language questions into validated DuckDB SQL over object stores, local files and PostgreSQL, runs them and explains the results.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Annotations[skipConfig] == "true" {
				return validateOutputFormat(output)
			}
			if err := config.LoadDotEnv(envFile); err != nil {
				return err
			}
			cfg, err := config.Load(s.configPath, cmd.Flags())
			if err != nil {
				return err
			}
			s.cfg = cfg
			s.logger = newLogger(cmd.ErrOrStderr(), cfg)
			for _, w := range cfg.Warnings {
				s.logger.Warn(w)
			}
			if cfg.File != "" {
				s.logger.Debug("config loaded", "file", cfg.File)
			}
			return nil
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&s.configPath, "config", "c", "", "Config file (default ./"+config.DefaultConfigFile+" if present)")
	pf.StringVar(&envFile, "env-file", ".env", "Dotenv file loaded before configuration")
	pf.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	pf.StringVar(&logFormat, "log-format", "text", "Log format (text, json)")
	pf.StringVarP(&output, "output", "o", "table", "Output format (table, json, yaml)")
	pf.StringVar(&database, "database", "", "DuckDB database file (default in-memory)")
	pf.StringVar(&checkpoint, "checkpoint", "", "Session checkpoint database")
	pf.StringVar(&model, "model", "", "Chat model name")

	rootCmd.AddCommand(newAskCmd(s))
	rootCmd.AddCommand(newResumeCmd(s))
	rootCmd.AddCommand(newSessionsCmd(s))
	rootCmd.AddCommand(newCatalogCmd(s))
	rootCmd.AddCommand(newValidateCmd(s))
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newCompletionCmd())

	return rootCmd
}

func newCompletionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:         "completion [bash|zsh|fish|powershell]",
		Short:       "Generate shell completion scripts",
		Args:        cobra.ExactArgs(1),
		Annotations: map[string]string{skipConfig: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			switch args[0] {
			case "bash":
				return cmd.Root().GenBashCompletion(out)
			case "zsh":
				return cmd.Root().GenZshCompletion(out)
			case "fish":
				return cmd.Root().GenFishCompletion(out, true)
			case "powershell":
				return cmd.Root().GenPowerShellCompletionWithDesc(out)
			default:
				return fmt.Errorf("unsupported shell: %s", args[0])
			}
		},
	}
	return cmd
}
