package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/policyhub/console/internal/api"
)

const (
	policiesView = "/policies"
	policyView   = "/policies/{id}"
)

func newPoliciesCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "policies",
		Aliases: []string{"policy"},
		Short:   "Browse and search the policy library",
	}

	cmd.AddCommand(
		newPoliciesListCmd(opts),
		newPoliciesSearchCmd(opts),
		newPoliciesGetCmd(opts),
		newPoliciesDeleteCmd(opts),
		newPoliciesMetaCmd(opts, "categories", "List policy categories"),
		newPoliciesMetaCmd(opts, "levels", "List policy levels"),
		newPoliciesMetaCmd(opts, "sources", "List data source names"),
		newPoliciesReindexCmd(opts),
		newPoliciesFileCmd(opts),
	)
	return cmd
}

// dateFlags holds --start-date and --end-date.
type dateFlags struct {
	start, end string
}

func (d *dateFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&d.start, "start-date", "", "Published on or after (YYYY-MM-DD)")
	cmd.Flags().StringVar(&d.end, "end-date", "", "Published on or before (YYYY-MM-DD)")
}

func (d *dateFlags) parse() (time.Time, time.Time, error) {
	s, err := parseDate(d.start)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	e, err := parseDate(d.end)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return s, e, nil
}

func newPoliciesListCmd(opts *options) *cobra.Command {
	var (
		f     api.PolicyFilter
		dates dateFlags
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List policies, newest first",
		Args:  cobra.NoArgs,
	}
	cmd.RunE = view(opts, policiesView, func(ctx context.Context, a *app, _ []string) error {
		s, e, err := dates.parse()
		if err != nil {
			return err
		}
		f.StartDate, f.EndDate = s, e
		if cmd.Flags().Changed("task") {
			id, _ := cmd.Flags().GetInt64("task")
			f.TaskID = &id
		}
		page, err := a.client.Policies.List(ctx, f)
		if err != nil {
			return err
		}
		return a.print(page)
	})
	windowFlags(cmd, &f.Window)
	dates.register(cmd)
	cmd.Flags().StringVar(&f.Keyword, "keyword", "", "Keyword in title or content")
	cmd.Flags().StringVar(&f.Category, "category", "", "Category")
	cmd.Flags().StringVar(&f.Level, "level", "", "Level")
	cmd.Flags().StringVar(&f.Publisher, "publisher", "", "Publisher")
	cmd.Flags().StringVar(&f.SourceName, "source", "", "Data source name")
	cmd.Flags().Int64("task", 0, "Only policies collected by this task")
	return cmd
}

func newPoliciesSearchCmd(opts *options) *cobra.Command {
	var (
		s     api.PolicySearch
		dates dateFlags
	)
	cmd := &cobra.Command{
		Use:   "search [keyword]",
		Short: "Full-text search",
		Args:  cobra.MaximumNArgs(1),
		RunE: view(opts, policiesView, func(ctx context.Context, a *app, args []string) error {
			if len(args) == 1 {
				s.Keyword = args[0]
			}
			start, end, err := dates.parse()
			if err != nil {
				return err
			}
			s.StartDate, s.EndDate = start, end
			page, err := a.client.Policies.Search(ctx, s)
			if err != nil {
				return err
			}
			return a.print(page)
		}),
	}
	windowFlags(cmd, &s.Window)
	dates.register(cmd)
	cmd.Flags().StringVar(&s.Category, "category", "", "Category")
	cmd.Flags().StringVar(&s.Level, "level", "", "Level")
	return cmd
}

func newPoliciesGetCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show one policy with its content and attachments",
		Args:  cobra.ExactArgs(1),
		RunE: view(opts, policyView, func(ctx context.Context, a *app, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			p, err := a.client.Policies.Get(ctx, id)
			if err != nil {
				return err
			}
			return a.print(p)
		}),
	}
}

func newPoliciesDeleteCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a policy",
		Args:  cobra.ExactArgs(1),
		RunE: view(opts, policyView, func(ctx context.Context, a *app, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if err := a.client.Policies.Delete(ctx, id); err != nil {
				return err
			}
			return a.print(map[string]any{"deleted": id})
		}),
	}
}

func newPoliciesMetaCmd(opts *options, name, short string) *cobra.Command {
	var source string
	cmd := &cobra.Command{
		Use:   name,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: view(opts, policiesView, func(ctx context.Context, a *app, _ []string) error {
			var (
				values []string
				err    error
			)
			switch name {
			case "categories":
				values, err = a.client.Policies.Categories(ctx, source)
			case "levels":
				values, err = a.client.Policies.Levels(ctx)
			default:
				values, err = a.client.Policies.SourceNames(ctx)
			}
			if err != nil {
				return err
			}
			if values == nil {
				values = []string{}
			}
			return a.print(values)
		}),
	}
	if name == "categories" {
		cmd.Flags().StringVar(&source, "source", "", "Only categories of this data source")
	}
	return cmd
}

func newPoliciesReindexCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "reindex",
		Short: "Rebuild the full-text search index",
		Args:  cobra.NoArgs,
		RunE: view(opts, policiesView, func(ctx context.Context, a *app, _ []string) error {
			res, err := a.client.Policies.RebuildIndex(ctx)
			if err != nil {
				return err
			}
			return a.print(res)
		}),
	}
}

func newPoliciesFileCmd(opts *options) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "file <id> <json|markdown|docx>",
		Short: "Download a policy rendition",
		Args:  cobra.ExactArgs(2),
		RunE: view(opts, policyView, func(ctx context.Context, a *app, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			ft, err := api.ParsePolicyFileType(args[1])
			if err != nil {
				return err
			}
			d, err := a.client.Policies.File(ctx, id, ft)
			if err != nil {
				return err
			}
			saved, err := saveDownload(d, output, a.out, fmt.Sprintf("policy_%d.%s", id, ft))
			if err != nil || output == "-" {
				return err
			}
			return a.print(saved)
		}),
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file, - for stdout")
	return cmd
}
