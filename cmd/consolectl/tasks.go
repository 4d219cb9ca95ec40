package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/policyhub/console/internal/api"
	"github.com/policyhub/console/internal/job"
	"github.com/policyhub/console/internal/watcher"
)

const tasksView = "/tasks"

func newTasksCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "tasks",
		Aliases: []string{"task"},
		Short:   "Manage crawl and backup tasks",
	}

	cmd.AddCommand(
		newTasksListCmd(opts),
		newTasksGetCmd(opts),
		newTasksCreateCmd(opts),
		newTaskOpCmd(opts, job.OpStart, "Start a pending task"),
		newTaskOpCmd(opts, job.OpStop, "Stop a running or paused task"),
		newTaskOpCmd(opts, job.OpCancel, "Cancel a running or paused task (same as stop)"),
		newTaskOpCmd(opts, job.OpPause, "Pause a running task"),
		newTaskOpCmd(opts, job.OpResume, "Resume a paused task"),
		newTasksDeleteCmd(opts),
		newTasksDownloadCmd(opts),
		newTasksWatchCmd(opts),
	)
	return cmd
}

func newTasksListCmd(opts *options) *cobra.Command {
	var (
		f        api.TaskFilter
		taskType string
		status   string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks, newest first",
		Args:  cobra.NoArgs,
	}
	cmd.RunE = view(opts, tasksView, func(ctx context.Context, a *app, _ []string) error {
		st, err := parseStatus(status)
		if err != nil {
			return err
		}
		f.TaskType, f.Status = taskType, st
		f.CompletedOnly = optionalBool(cmd, "completed-only")

		page, err := a.client.Tasks.List(ctx, f)
		if err != nil {
			return err
		}
		return a.print(page)
	})
	windowFlags(cmd, &f.Window)
	cmd.Flags().StringVar(&taskType, "type", "", "Task type (crawl_task, backup_task, ...)")
	cmd.Flags().StringVar(&status, "status", "", "Status filter")
	cmd.Flags().Bool("completed-only", false, "Only completed tasks")
	return cmd
}

// taskView is a task with the operations the console would offer for it.
type taskView struct {
	*api.Task
	Actions []job.Operation `json:"actions"`
}

func newTaskView(t *api.Task) taskView {
	return taskView{Task: t, Actions: t.Actions()}
}

func newTasksGetCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show one task",
		Args:  cobra.ExactArgs(1),
		RunE: view(opts, tasksView, func(ctx context.Context, a *app, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			t, err := a.client.Tasks.Get(ctx, id)
			if err != nil {
				return err
			}
			return a.print(newTaskView(t))
		}),
	}
}

func newTasksCreateCmd(opts *options) *cobra.Command {
	var (
		taskType string
		name     string
		payload   string
		start    bool
		wait     bool
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task, optionally starting it right away",
		Args:  cobra.NoArgs,
		RunE: view(opts, tasksView, func(ctx context.Context, a *app, _ []string) error {
			if taskType == "" {
				return errors.New("--type is required")
			}
			cfg, err := configArg(taskType, payload)
			if err != nil {
				return err
			}
			t, err := a.client.Tasks.Create(ctx, api.TaskCreate{TaskType: taskType, TaskName: name, Config: cfg}, start)
			if err != nil {
				return err
			}
			if wait {
				if t, err = waitTask(ctx, a, t, nil); err != nil {
					return err
				}
			}
			return a.print(newTaskView(t))
		}),
	}
	cmd.Flags().StringVar(&taskType, "type", "crawl_task", "Task type")
	cmd.Flags().StringVar(&name, "name", "", "Task name")
	cmd.Flags().StringVar(&payload, "payload", "", "Task configuration as JSON or @file")
	cmd.Flags().BoolVar(&start, "start", false, "Start the task after creating it")
	cmd.Flags().BoolVar(&wait, "wait", false, "Wait until the task finishes")
	return cmd
}

func newTaskOpCmd(opts *options, op job.Operation, short string) *cobra.Command {
	var wait bool
	cmd := &cobra.Command{
		Use:   string(op) + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: view(opts, tasksView, func(ctx context.Context, a *app, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			t, err := a.client.Tasks.Do(ctx, id, op)
			if err != nil {
				return err
			}
			if wait {
				if t, err = waitTask(ctx, a, t, watcher.Changed(t.Status)); err != nil {
					return err
				}
			}
			return a.print(newTaskView(t))
		}),
	}
	cmd.Flags().BoolVar(&wait, "wait", false, "Wait until the reported status changes")
	return cmd
}

// waitTask polls t until pred holds or the task is terminal. A nil pred
// waits for a terminal status.
func waitTask(ctx context.Context, a *app, t *api.Task, pred func(job.Status) bool) (*api.Task, error) {
	if t.Status.IsTerminal() {
		return t, nil
	}
	if pred == nil {
		pred = job.Status.IsTerminal
	}

	w, err := a.newWatcher()
	if err != nil {
		return nil, err
	}
	defer w.Stop() //nolint:errcheck

	src := func(ctx context.Context) (job.Status, error) {
		cur, err := a.client.Tasks.Get(ctx, t.ID)
		if err != nil {
			return "", err
		}
		return cur.Status, nil
	}
	if _, err := w.Wait(ctx, job.KindTask, itoa(t.ID), src, pred); err != nil {
		return nil, err
	}
	return a.client.Tasks.Get(ctx, t.ID)
}

func newTasksDeleteCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a task that is not running",
		Args:  cobra.ExactArgs(1),
		RunE: view(opts, tasksView, func(ctx context.Context, a *app, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if err := a.client.Tasks.Delete(ctx, id); err != nil {
				return err
			}
			return a.print(map[string]any{"deleted": id})
		}),
	}
}

func newTasksDownloadCmd(opts *options) *cobra.Command {
	var format, output string
	cmd := &cobra.Command{
		Use:   "download <id>",
		Short: "Download the files a completed task produced",
		Args:  cobra.ExactArgs(1),
		RunE: view(opts, tasksView, func(ctx context.Context, a *app, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			ff, err := api.ParseFileFormat(format)
			if err != nil {
				return err
			}
			d, err := a.client.Tasks.Download(ctx, id, ff)
			if err != nil {
				return err
			}
			saved, err := saveDownload(d, output, a.out, fmt.Sprintf("task_%d_%s.zip", id, ff))
			if err != nil || output == "-" {
				return err
			}
			return a.print(saved)
		}),
	}
	cmd.Flags().StringVar(&format, "format", string(api.FormatAll), "Bundle format (all, markdown, docx)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file, - for stdout")
	return cmd
}

// watchEvent is the printed form of a watcher.Event.
type watchEvent struct {
	Kind     job.Kind   `json:"kind"`
	ID       string     `json:"id"`
	Status   job.Status `json:"status,omitempty"`
	Previous job.Status `json:"previous,omitempty"`
	Progress *float64   `json:"progress,omitempty"`
	Error    string     `json:"error,omitempty"`
	Final    bool       `json:"final"`
	At       time.Time  `json:"at"`
}

func newTasksWatchCmd(opts *options) *cobra.Command {
	var metricsAddr string
	cmd := &cobra.Command{
		Use:   "watch <id>...",
		Short: "Follow task status until every task finishes",
		Args:  cobra.MinimumNArgs(1),
	}
	cmd.RunE = view(opts, tasksView, func(ctx context.Context, a *app, args []string) error {
		ids := make([]int64, len(args))
		for i, s := range args {
			id, err := parseID(s)
			if err != nil {
				return err
			}
			ids[i] = id
		}

		if !cmd.Flags().Changed("metrics-addr") {
			metricsAddr = a.cfg.Metrics.Addr
		}
		if metricsAddr != "" {
			stop, err := serveMetrics(a, metricsAddr)
			if err != nil {
				return err
			}
			defer stop()
		}

		w, err := a.newWatcher()
		if err != nil {
			return err
		}
		defer w.Stop() //nolint:errcheck

		return watchTasks(ctx, a, w, ids)
	})
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while watching")
	return cmd
}

// watchTasks prints every status change of ids until all are final or ctx
// ends. An expired session ends the whole watch with an error.
func watchTasks(ctx context.Context, a *app, w *watcher.Watcher, ids []int64) error {
	events := make(chan watchEvent)
	done := make(chan struct{})
	defer close(done)

	var (
		progressMu sync.Mutex
		progress   = make(map[string]float64)
	)

	for _, id := range ids {
		key := itoa(id)
		src := func(ctx context.Context) (job.Status, error) {
			t, err := a.client.Tasks.Get(ctx, id)
			if err != nil {
				return "", err
			}
			// Progress rides along with the status change that reports it.
			progressMu.Lock()
			progress[key] = t.Progress
			progressMu.Unlock()
			return t.Status, nil
		}
		err := w.Watch(job.KindTask, key, src, func(ev watcher.Event) {
			out := watchEvent{
				Kind:     ev.Kind,
				ID:       ev.ID,
				Status:   ev.Status,
				Previous: ev.Previous,
				Final:    ev.Final(),
				At:       ev.At.UTC(),
			}
			if ev.Err != nil {
				out.Error = ev.Err.Error()
			} else {
				progressMu.Lock()
				p := progress[key]
				progressMu.Unlock()
				out.Progress = &p
			}
			select {
			case events <- out:
			case <-done:
			}
		})
		if err != nil {
			return err
		}
	}

	remaining := len(ids)
	for remaining > 0 {
		select {
		case ev := <-events:
			if err := a.print(ev); err != nil {
				return err
			}
			if !ev.Final {
				continue
			}
			if ev.Error != "" {
				return fmt.Errorf("watch of task %s ended: %s (run consolectl login)", ev.ID, ev.Error)
			}
			remaining--
		case <-ctx.Done():
			return nil
		}
	}
	return nil
}

// serveMetrics exposes the transport metrics until the returned func runs.
func serveMetrics(a *app, addr string) (func(), error) {
	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			a.logger.Error("metrics server failed", zap.Error(err))
		}
	}()
	a.logger.Info("serving metrics", zap.String("addr", ln.Addr().String()))

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			a.logger.Warn("metrics server shutdown failed", zap.Error(err))
		}
	}, nil
}
