package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/policyhub/console/internal/api"
)

const settingsView = "/settings"

func newSettingsCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "settings",
		Aliases: []string{"config"},
		Short:   "Feature flags, storage, mail and crawler settings",
	}

	cmd.AddCommand(
		settingsGet(opts, "flags", "Show feature flags", func(ctx context.Context, a *app) (any, error) {
			return a.client.Config.FeatureFlags(ctx)
		}),
		newSetFlagCmd(opts),

		settingsGet(opts, "s3", "Show the S3 backup target", func(ctx context.Context, a *app) (any, error) {
			return a.client.Config.S3(ctx)
		}),
		settingsPut(opts, "set-s3", "Update the S3 backup target", s3Flags, func(ctx context.Context, a *app, cmd *cobra.Command) (any, error) {
			return a.client.Config.UpdateS3(ctx, s3Update(cmd))
		}),
		settingsPut(opts, "test-s3", "Test S3 connectivity with the given or saved settings", s3Flags, func(ctx context.Context, a *app, cmd *cobra.Command) (any, error) {
			return a.client.Config.TestS3(ctx, s3Update(cmd))
		}),

		settingsGet(opts, "email", "Show the mail settings", func(ctx context.Context, a *app) (any, error) {
			return a.client.Config.Email(ctx)
		}),
		settingsPut(opts, "set-email", "Update the mail settings", emailFlags, func(ctx context.Context, a *app, cmd *cobra.Command) (any, error) {
			return a.client.Config.UpdateEmail(ctx, emailUpdate(cmd))
		}),
		settingsPut(opts, "test-email", "Test the SMTP connection", emailFlags, func(ctx context.Context, a *app, cmd *cobra.Command) (any, error) {
			return a.client.Config.TestEmail(ctx, emailUpdate(cmd))
		}),
		newSendTestEmailCmd(opts),
		newEmailAvailableCmd(opts),

		settingsGet(opts, "data-sources", "List crawlable data sources", func(ctx context.Context, a *app) (any, error) {
			return a.client.Config.DataSources(ctx)
		}),
		settingsGet(opts, "crawler", "Show the crawler settings", func(ctx context.Context, a *app) (any, error) {
			return a.client.Config.Crawler(ctx)
		}),
		settingsPut(opts, "set-crawler", "Update the crawler settings", crawlerFlags, func(ctx context.Context, a *app, cmd *cobra.Command) (any, error) {
			return a.client.Config.UpdateCrawler(ctx, crawlerUpdate(cmd))
		}),
		newTestProxyCmd(opts),
	)
	return cmd
}

// settingsGet builds a read-only settings command.
func settingsGet(opts *options, use, short string, get func(context.Context, *app) (any, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: view(opts, settingsView, func(ctx context.Context, a *app, _ []string) error {
			v, err := get(ctx, a)
			if err != nil {
				return err
			}
			return a.print(v)
		}),
	}
}

// settingsPut builds a settings command whose body comes from flags. Only
// flags given on the command line are sent.
func settingsPut(opts *options, use, short string, register func(*cobra.Command), put func(context.Context, *app, *cobra.Command) (any, error)) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
	}
	cmd.RunE = view(opts, settingsView, func(ctx context.Context, a *app, _ []string) error {
		v, err := put(ctx, a, cmd)
		if err != nil {
			return err
		}
		return a.print(v)
	})
	register(cmd)
	return cmd
}

func newSetFlagCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "set-flag <name> <true|false>",
		Short: "Turn a feature flag on or off",
		Args:  cobra.ExactArgs(2),
		RunE: view(opts, settingsView, func(ctx context.Context, a *app, args []string) error {
			on, err := strconv.ParseBool(args[1])
			if err != nil {
				return fmt.Errorf("invalid flag value %q", args[1])
			}
			flags, err := a.client.Config.SetFeatureFlag(ctx, args[0], on)
			if err != nil {
				return err
			}
			return a.print(flags)
		}),
	}
}

func s3Flags(cmd *cobra.Command) {
	cmd.Flags().Bool("enabled", false, "Upload backups to S3")
	cmd.Flags().String("access-key-id", "", "Access key id")
	cmd.Flags().String("secret-access-key", "", "Secret access key")
	cmd.Flags().String("bucket", "", "Bucket name")
	cmd.Flags().String("region", "", "Region")
	cmd.Flags().String("endpoint", "", "Endpoint URL for S3-compatible storage")
}

func s3Update(cmd *cobra.Command) api.S3ConfigUpdate {
	return api.S3ConfigUpdate{
		Enabled:         optionalBool(cmd, "enabled"),
		AccessKeyID:     optionalString(cmd, "access-key-id"),
		SecretAccessKey: optionalString(cmd, "secret-access-key"),
		BucketName:      optionalString(cmd, "bucket"),
		Region:          optionalString(cmd, "region"),
		EndpointURL:     optionalString(cmd, "endpoint"),
	}
}

var emailFlagNames = []string{"enabled", "smtp-host", "smtp-port", "smtp-user", "smtp-password", "tls", "from", "to"}

func emailFlags(cmd *cobra.Command) {
	cmd.Flags().Bool("enabled", false, "Send notification mail")
	cmd.Flags().String("smtp-host", "", "SMTP host")
	cmd.Flags().Int("smtp-port", 0, "SMTP port")
	cmd.Flags().String("smtp-user", "", "SMTP user")
	cmd.Flags().String("smtp-password", "", "SMTP password")
	cmd.Flags().Bool("tls", false, "Use TLS")
	cmd.Flags().String("from", "", "Sender address")
	cmd.Flags().StringSlice("to", nil, "Recipient addresses")
}

func emailUpdate(cmd *cobra.Command) api.EmailConfigUpdate {
	in := api.EmailConfigUpdate{
		Enabled:      optionalBool(cmd, "enabled"),
		SMTPHost:     optionalString(cmd, "smtp-host"),
		SMTPPort:     optionalInt(cmd, "smtp-port"),
		SMTPUser:     optionalString(cmd, "smtp-user"),
		SMTPPassword: optionalString(cmd, "smtp-password"),
		SMTPUseTLS:   optionalBool(cmd, "tls"),
		FromAddress:  optionalString(cmd, "from"),
	}
	if cmd.Flags().Changed("to") {
		in.ToAddresses, _ = cmd.Flags().GetStringSlice("to")
	}
	return in
}

func crawlerFlags(cmd *cobra.Command) {
	cmd.Flags().Float64("request-delay", 0, "Seconds between requests")
	cmd.Flags().Bool("use-proxy", false, "Route requests through the proxy provider")
	cmd.Flags().String("secret-id", "", "Proxy provider secret id")
	cmd.Flags().String("secret-key", "", "Proxy provider secret key")
	cmd.Flags().String("api-key", "", "Proxy provider API key")
}

func crawlerUpdate(cmd *cobra.Command) api.CrawlerConfigUpdate {
	return api.CrawlerConfigUpdate{
		RequestDelay:       optionalFloat(cmd, "request-delay"),
		UseProxy:           optionalBool(cmd, "use-proxy"),
		KuaidailiSecretID:  optionalString(cmd, "secret-id"),
		KuaidailiSecretKey: optionalString(cmd, "secret-key"),
		KuaidailiAPIKey:    optionalString(cmd, "api-key"),
	}
}

func newSendTestEmailCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send-test-email <to>",
		Short: "Send a test message, optionally with unsaved settings",
		Args:  cobra.ExactArgs(1),
	}
	cmd.RunE = view(opts, settingsView, func(ctx context.Context, a *app, args []string) error {
		var override *api.EmailConfigUpdate
		for _, name := range emailFlagNames {
			if cmd.Flags().Changed(name) {
				in := emailUpdate(cmd)
				override = &in
				break
			}
		}
		res, err := a.client.Config.SendTestEmail(ctx, args[0], override)
		if err != nil {
			return err
		}
		return a.print(res)
	})
	emailFlags(cmd)
	return cmd
}

// newEmailAvailableCmd is public: the login view asks it before offering
// password recovery.
func newEmailAvailableCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "email-available",
		Short: "Report whether password recovery by mail is possible",
		Args:  cobra.NoArgs,
		RunE: view(opts, "", func(ctx context.Context, a *app, _ []string) error {
			avail, err := a.client.Config.EmailAvailable(ctx)
			if err != nil {
				return err
			}
			return a.print(avail)
		}),
	}
}

func newTestProxyCmd(opts *options) *cobra.Command {
	var id, key string
	cmd := &cobra.Command{
		Use:   "test-proxy",
		Short: "Test the crawler proxy credentials",
		Args:  cobra.NoArgs,
		RunE: view(opts, settingsView, func(ctx context.Context, a *app, _ []string) error {
			if id == "" || key == "" {
				return errors.New("--secret-id and --secret-key are required")
			}
			res, err := a.client.Config.TestProxy(ctx, id, key)
			if err != nil {
				return err
			}
			return a.print(res)
		}),
	}
	cmd.Flags().StringVar(&id, "secret-id", "", "Proxy provider secret id")
	cmd.Flags().StringVar(&key, "secret-key", "", "Proxy provider secret key")
	return cmd
}
