// Package main is the entry point for the consolectl binary, the command-line
// policy console.
//
// Every command is a console view. Before it talks to the backend the
// command is admitted by the session guard exactly like a page navigation:
// authenticated views without a live credential are redirected to the login
// view, and the redirect target is remembered so the next login resumes
// there.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/policyhub/console/internal/config"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// options holds the global flags. Zero values defer to the config file and
// CONSOLE_* environment variables.
type options struct {
	configPath string
	baseURL    string
	timeout    time.Duration
	stateDir   string
	secret     string
	logLevel   string
	cacheTTL   time.Duration
	interval   time.Duration
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "consolectl",
		Short: "Policy crawler admin console",
		Long: `consolectl drives the policy crawler backend: crawl and backup tasks,
scheduled tasks, backups, the policy library and system settings.
Results are printed as JSON on stdout; logs go to stderr.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newVersionCmd(),
		newLoginCmd(opts),
		newLogoutCmd(opts),
		newWhoamiCmd(opts),
		newPasswordCmd(opts),
		newTasksCmd(opts),
		newScheduledTasksCmd(opts),
		newBackupsCmd(opts),
		newPoliciesCmd(opts),
		newSettingsCmd(opts),
		newMockBackendCmd(opts),
	)

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", envOrDefault("CONSOLE_CONFIG", config.DefaultPath()), "Config file (YAML)")
	flags.StringVar(&opts.baseURL, "base-url", "", "Backend origin (default http://localhost:8000)")
	flags.DurationVar(&opts.timeout, "timeout", 0, "Per-request timeout (default 30s)")
	flags.StringVar(&opts.stateDir, "state-dir", "", "Directory holding the saved session")
	flags.StringVar(&opts.secret, "secret", "", "Secret encrypting the saved session (default: generated key file)")
	flags.StringVar(&opts.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flags.DurationVar(&opts.cacheTTL, "cache-ttl", 0, "How long settings reads are cached; negative disables (default 30s)")
	flags.DurationVar(&opts.interval, "watch-interval", 0, "Poll interval for watch and --wait (default 2s)")

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "consolectl %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

func buildLogger(level string) (*zap.Logger, error) {
	var cfg zap.Config

	switch level {
	case "debug":
		cfg = zap.NewDevelopmentConfig()
	default:
		cfg = zap.NewProductionConfig()
	}

	switch level {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	// stdout carries command output only.
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}

	return cfg.Build()
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
