package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/policyhub/console/internal/api"
	"github.com/policyhub/console/internal/job"
)

const backupsView = "/backups"

func newBackupsCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "backups",
		Aliases: []string{"backup"},
		Short:   "Manage database backups",
	}

	cmd.AddCommand(
		newBackupsListCmd(opts),
		newBackupsGetCmd(opts),
		newBackupsCreateCmd(opts),
		newBackupsRestoreCmd(opts),
		newBackupsDeleteCmd(opts),
		newBackupsDownloadCmd(opts),
		newBackupsUploadCmd(opts),
		newBackupsCleanupCmd(opts),
	)
	return cmd
}

type backupView struct {
	*api.Backup
	Actions []job.Operation `json:"actions"`
}

func newBackupView(b *api.Backup) backupView {
	return backupView{Backup: b, Actions: job.Actions(job.KindBackup, b.Status)}
}

func newBackupsListCmd(opts *options) *cobra.Command {
	var (
		f      api.BackupFilter
		status string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List backups, newest first",
		Args:  cobra.NoArgs,
		RunE: view(opts, backupsView, func(ctx context.Context, a *app, _ []string) error {
			st, err := parseStatus(status)
			if err != nil {
				return err
			}
			f.Status = st
			page, err := a.client.Backups.List(ctx, f)
			if err != nil {
				return err
			}
			return a.print(page)
		}),
	}
	windowFlags(cmd, &f.Window)
	cmd.Flags().StringVar(&f.BackupType, "type", "", "Backup type filter (full, incremental)")
	cmd.Flags().StringVar(&status, "status", "", "Status filter")
	return cmd
}

func newBackupsGetCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show one backup",
		Args:  cobra.ExactArgs(1),
		RunE: view(opts, backupsView, func(ctx context.Context, a *app, args []string) error {
			b, err := a.client.Backups.Get(ctx, args[0])
			if err != nil {
				return err
			}
			return a.print(newBackupView(b))
		}),
	}
}

func newBackupsCreateCmd(opts *options) *cobra.Command {
	var (
		in   api.BackupCreate
		wait bool
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Take a manual backup",
		Args:  cobra.NoArgs,
		RunE: view(opts, backupsView, func(ctx context.Context, a *app, _ []string) error {
			b, err := a.client.Backups.Create(ctx, in)
			if err != nil {
				return err
			}
			if wait && !b.Status.IsTerminal() {
				if b, err = waitBackup(ctx, a, b.ID); err != nil {
					return err
				}
			}
			return a.print(newBackupView(b))
		}),
	}
	cmd.Flags().StringVar(&in.BackupType, "type", "", "Backup type (default full)")
	cmd.Flags().StringVar(&in.BackupName, "name", "", "Backup name")
	cmd.Flags().BoolVar(&wait, "wait", false, "Wait until the backup finishes")
	return cmd
}

// waitBackup polls a backup until it is terminal.
func waitBackup(ctx context.Context, a *app, id string) (*api.Backup, error) {
	w, err := a.newWatcher()
	if err != nil {
		return nil, err
	}
	defer w.Stop() //nolint:errcheck

	src := func(ctx context.Context) (job.Status, error) {
		b, err := a.client.Backups.Get(ctx, id)
		if err != nil {
			return "", err
		}
		return b.Status, nil
	}
	if _, err := w.Wait(ctx, job.KindBackup, id, src, job.Status.IsTerminal); err != nil {
		return nil, err
	}
	return a.client.Backups.Get(ctx, id)
}

func newBackupsRestoreCmd(opts *options) *cobra.Command {
	var ro api.RestoreOptions
	cmd := &cobra.Command{
		Use:   "restore <id>",
		Short: "Restore a completed backup",
		Args:  cobra.ExactArgs(1),
		RunE: view(opts, backupsView, func(ctx context.Context, a *app, args []string) error {
			res, err := a.client.Backups.Restore(ctx, args[0], ro)
			if err != nil {
				return err
			}
			if err := a.print(res); err != nil {
				return err
			}
			if !res.Success {
				return fmt.Errorf("restore failed: %s", firstNonEmpty(res.Error, res.Message))
			}
			return nil
		}),
	}
	cmd.Flags().StringVar(&ro.TargetDatabase, "target-database", "", "Restore into this database instead of the original")
	return cmd
}

func newBackupsDeleteCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a backup and its file",
		Args:  cobra.ExactArgs(1),
		RunE: view(opts, backupsView, func(ctx context.Context, a *app, args []string) error {
			if err := a.client.Backups.Delete(ctx, args[0]); err != nil {
				return err
			}
			return a.print(map[string]string{"deleted": args[0]})
		}),
	}
}

func newBackupsDownloadCmd(opts *options) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "download <id>",
		Short: "Download a backup file",
		Args:  cobra.ExactArgs(1),
		RunE: view(opts, backupsView, func(ctx context.Context, a *app, args []string) error {
			d, err := a.client.Backups.Download(ctx, args[0])
			if err != nil {
				return err
			}
			saved, err := saveDownload(d, output, a.out, "backup_"+args[0]+".sql.gz")
			if err != nil || output == "-" {
				return err
			}
			return a.print(saved)
		}),
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file, - for stdout")
	return cmd
}

func newBackupsUploadCmd(opts *options) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "upload <file>",
		Short: "Upload a backup file taken elsewhere",
		Args:  cobra.ExactArgs(1),
		RunE: view(opts, backupsView, func(ctx context.Context, a *app, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("failed to open %s: %w", args[0], err)
			}
			defer f.Close()

			b, err := a.client.Backups.Upload(ctx, filepath.Base(args[0]), f, name)
			if err != nil {
				return err
			}
			return a.print(newBackupView(b))
		}),
	}
	cmd.Flags().StringVar(&name, "name", "", "Backup name (default: the file name)")
	return cmd
}

func newBackupsCleanupCmd(opts *options) *cobra.Command {
	var keep int
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete old backups, keeping the newest ones",
		Args:  cobra.NoArgs,
		RunE: view(opts, backupsView, func(ctx context.Context, a *app, _ []string) error {
			res, err := a.client.Backups.Cleanup(ctx, keep)
			if err != nil {
				return err
			}
			return a.print(res)
		}),
	}
	cmd.Flags().IntVar(&keep, "keep", 10, "How many backups to keep (1-100)")
	return cmd
}

func firstNonEmpty(ss ...string) string {
	for _, s := range ss {
		if s != "" {
			return s
		}
	}
	return ""
}
