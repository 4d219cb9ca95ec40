package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/policyhub/console/internal/job"
	"github.com/policyhub/console/internal/testutil/mockconsole"
)

// newMockBackendCmd serves the in-memory backend used by the tests, for
// trying consolectl without a real deployment.
func newMockBackendCmd(opts *options) *cobra.Command {
	var (
		addr     string
		policies int
		backups  int
		legacy   bool
	)
	cmd := &cobra.Command{
		Use:    "mock-backend",
		Short:  "Serve an in-memory backend for local testing",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			level := opts.logLevel
			if level == "" {
				level = "info"
			}
			logger, err := buildLogger(level)
			if err != nil {
				return fmt.Errorf("failed to build logger: %w", err)
			}
			defer logger.Sync() //nolint:errcheck

			mock := mockconsole.New(mockconsole.Options{Logger: logger, LegacyBackups: legacy})
			mock.SeedPolicies(policies)
			for i := 0; i < backups; i++ {
				mock.AddBackup("full", job.StatusCompleted)
			}

			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("failed to listen on %s: %w", addr, err)
			}
			srv := &http.Server{Handler: mock.Handler(), ReadHeaderTimeout: 5 * time.Second}

			logger.Info("mock backend listening",
				zap.String("addr", ln.Addr().String()),
				zap.String("username", mockconsole.DefaultUsername),
			)

			errCh := make(chan error, 1)
			go func() { errCh <- srv.Serve(ln) }()

			select {
			case err := <-errCh:
				if err != http.ErrServerClosed {
					return err
				}
				return nil
			case <-cmd.Context().Done():
			}

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			logger.Info("shutting down mock backend")
			return srv.Shutdown(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8000", "Listen address")
	cmd.Flags().IntVar(&policies, "policies", 25, "Number of seeded policies")
	cmd.Flags().IntVar(&backups, "backups", 3, "Number of seeded completed backups")
	cmd.Flags().BoolVar(&legacy, "legacy-backups", false, "List backups in the legacy shape")
	return cmd
}
