package api

import (
	"context"
	"net/http"

	"github.com/policyhub/console/internal/job"
	"github.com/policyhub/console/internal/transport"
)

// FeatureFlags are the backend's optional subsystems.
type FeatureFlags struct {
	S3Enabled        bool `json:"s3_enabled"`
	EmailEnabled     bool `json:"email_enabled"`
	CacheEnabled     bool `json:"cache_enabled"`
	SchedulerEnabled bool `json:"scheduler_enabled"`
}

// S3Config is the object storage target for backups. Secrets come back
// masked.
type S3Config struct {
	Enabled         bool   `json:"enabled"`
	AccessKeyID     string `json:"access_key_id,omitempty"`
	SecretAccessKey string `json:"secret_access_key,omitempty"`
	BucketName      string `json:"bucket_name,omitempty"`
	Region          string `json:"region,omitempty"`
	EndpointURL     string `json:"endpoint_url,omitempty"`
}

// S3ConfigUpdate is a partial update. Nil fields are left unchanged.
type S3ConfigUpdate struct {
	Enabled         *bool   `json:"enabled,omitempty"`
	AccessKeyID     *string `json:"access_key_id,omitempty"`
	SecretAccessKey *string `json:"secret_access_key,omitempty"`
	BucketName      *string `json:"bucket_name,omitempty"`
	Region          *string `json:"region,omitempty"`
	EndpointURL     *string `json:"endpoint_url,omitempty"`
}

// EmailConfig is the SMTP notification setup.
type EmailConfig struct {
	Enabled      bool     `json:"enabled"`
	SMTPHost     string   `json:"smtp_host,omitempty"`
	SMTPPort     int      `json:"smtp_port,omitempty"`
	SMTPUser     string   `json:"smtp_user,omitempty"`
	SMTPPassword string   `json:"smtp_password,omitempty"`
	SMTPUseTLS   bool     `json:"smtp_use_tls,omitempty"`
	FromAddress  string   `json:"from_address,omitempty"`
	ToAddresses  []string `json:"to_addresses,omitempty"`
}

// EmailConfigUpdate is a partial update. Nil fields are left unchanged.
type EmailConfigUpdate struct {
	Enabled      *bool    `json:"enabled,omitempty"`
	SMTPHost     *string  `json:"smtp_host,omitempty"`
	SMTPPort     *int     `json:"smtp_port,omitempty"`
	SMTPUser     *string  `json:"smtp_user,omitempty"`
	SMTPPassword *string  `json:"smtp_password,omitempty"`
	SMTPUseTLS   *bool    `json:"smtp_use_tls,omitempty"`
	FromAddress  *string  `json:"from_address,omitempty"`
	ToAddresses  []string `json:"to_addresses,omitempty"`
}

// EmailAvailability tells the login view whether password recovery by mail
// can be offered.
type EmailAvailability struct {
	Available  bool `json:"available"`
	Enabled    bool `json:"enabled"`
	Configured bool `json:"configured"`
}

// CrawlerConfig tunes the crawler and its proxy provider.
type CrawlerConfig struct {
	RequestDelay       float64 `json:"request_delay"`
	UseProxy           bool    `json:"use_proxy"`
	KuaidailiSecretID  string  `json:"kuaidaili_secret_id,omitempty"`
	KuaidailiSecretKey string  `json:"kuaidaili_secret_key,omitempty"`
	KuaidailiAPIKey    string  `json:"kuaidaili_api_key,omitempty"`
}

// CrawlerConfigUpdate is a partial update. Nil fields are left unchanged.
type CrawlerConfigUpdate struct {
	RequestDelay       *float64 `json:"request_delay,omitempty"`
	UseProxy           *bool    `json:"use_proxy,omitempty"`
	KuaidailiSecretID  *string  `json:"kuaidaili_secret_id,omitempty"`
	KuaidailiSecretKey *string  `json:"kuaidaili_secret_key,omitempty"`
	KuaidailiAPIKey    *string  `json:"kuaidaili_api_key,omitempty"`
}

// TestResult is the outcome of a connectivity test.
type TestResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Cache keys of read-mostly configuration.
const (
	featureFlagsKey   = "feature-flags"
	dataSourcesKey    = "data-sources"
	emailAvailableKey = "email-available"
)

// ConfigGateway binds /api/config. Feature flags, data sources and email
// availability are cached; every update drops what it may have changed.
type ConfigGateway struct {
	gateway
}

// FeatureFlags returns the subsystem switches.
func (g *ConfigGateway) FeatureFlags(ctx context.Context) (*FeatureFlags, error) {
	flags, err := cached(g.gateway, featureFlagsKey, func() (FeatureFlags, error) {
		var f FeatureFlags
		err := g.sender.JSON(ctx, &transport.Request{Method: http.MethodGet, Path: "/api/config/feature-flags"}, &f)
		return f, err
	})
	if err != nil {
		return nil, err
	}
	return &flags, nil
}

// SetFeatureFlag switches one subsystem, e.g. "s3_enabled".
func (g *ConfigGateway) SetFeatureFlag(ctx context.Context, name string, enabled bool) (*FeatureFlags, error) {
	g.invalidate(featureFlagsKey, emailAvailableKey)

	var f FeatureFlags
	err := g.sender.JSON(ctx, &transport.Request{
		Method: http.MethodPut,
		Route:  "/api/config/feature-flags/{name}",
		Path:   "/api/config/feature-flags/" + name,
		Body:   map[string]bool{"enabled": enabled},
	}, &f)
	if err != nil {
		return nil, err
	}
	if g.cache != nil {
		g.cache.SetDefault(featureFlagsKey, f)
	}
	return &f, nil
}

// S3 returns the object storage configuration.
func (g *ConfigGateway) S3(ctx context.Context) (*S3Config, error) {
	var c S3Config
	if err := g.sender.JSON(ctx, &transport.Request{Method: http.MethodGet, Path: "/api/config/s3"}, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// UpdateS3 changes the object storage configuration.
func (g *ConfigGateway) UpdateS3(ctx context.Context, in S3ConfigUpdate) (*S3Config, error) {
	g.invalidate(featureFlagsKey)

	var c S3Config
	if err := g.sender.JSON(ctx, &transport.Request{Method: http.MethodPut, Path: "/api/config/s3", Body: in}, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// TestS3 checks connectivity with the stored configuration overlaid by in.
func (g *ConfigGateway) TestS3(ctx context.Context, in S3ConfigUpdate) (*TestResult, error) {
	return g.test(ctx, "/api/config/s3/test", in)
}

// Email returns the SMTP configuration.
func (g *ConfigGateway) Email(ctx context.Context) (*EmailConfig, error) {
	var c EmailConfig
	if err := g.sender.JSON(ctx, &transport.Request{Method: http.MethodGet, Path: "/api/config/email"}, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// UpdateEmail changes the SMTP configuration.
func (g *ConfigGateway) UpdateEmail(ctx context.Context, in EmailConfigUpdate) (*EmailConfig, error) {
	g.invalidate(featureFlagsKey, emailAvailableKey)

	var c EmailConfig
	if err := g.sender.JSON(ctx, &transport.Request{Method: http.MethodPut, Path: "/api/config/email", Body: in}, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// TestEmail checks the SMTP connection with the stored configuration
// overlaid by in.
func (g *ConfigGateway) TestEmail(ctx context.Context, in EmailConfigUpdate) (*TestResult, error) {
	return g.test(ctx, "/api/config/email/test", in)
}

// SendTestEmail sends a real message to to. override, when non-nil, is used
// instead of the stored configuration.
func (g *ConfigGateway) SendTestEmail(ctx context.Context, to string, override *EmailConfigUpdate) (*TestResult, error) {
	body := struct {
		ToAddress string             `json:"to_address"`
		Config    *EmailConfigUpdate `json:"config,omitempty"`
	}{ToAddress: to, Config: override}
	return g.test(ctx, "/api/config/email/send-test", body)
}

// EmailAvailable probes whether mail recovery is possible. The endpoint is
// public and works without a session.
func (g *ConfigGateway) EmailAvailable(ctx context.Context) (*EmailAvailability, error) {
	a, err := cached(g.gateway, emailAvailableKey, func() (EmailAvailability, error) {
		var a EmailAvailability
		err := g.sender.JSON(ctx, &transport.Request{Method: http.MethodGet, Path: "/api/config/email/available"}, &a)
		return a, err
	})
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// DataSources lists the crawl sources the backend knows.
func (g *ConfigGateway) DataSources(ctx context.Context) ([]job.DataSource, error) {
	sources, err := cached(g.gateway, dataSourcesKey, func() ([]job.DataSource, error) {
		var resp struct {
			DataSources []job.DataSource `json:"data_sources"`
		}
		err := g.sender.JSON(ctx, &transport.Request{Method: http.MethodGet, Path: "/api/config/data-sources"}, &resp)
		return resp.DataSources, err
	})
	if err != nil {
		return nil, err
	}
	return append([]job.DataSource(nil), sources...), nil
}

// Crawler returns the crawler configuration.
func (g *ConfigGateway) Crawler(ctx context.Context) (*CrawlerConfig, error) {
	var c CrawlerConfig
	if err := g.sender.JSON(ctx, &transport.Request{Method: http.MethodGet, Path: "/api/config/crawler"}, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// UpdateCrawler changes the crawler configuration.
func (g *ConfigGateway) UpdateCrawler(ctx context.Context, in CrawlerConfigUpdate) (*CrawlerConfig, error) {
	g.invalidate(dataSourcesKey)

	var c CrawlerConfig
	if err := g.sender.JSON(ctx, &transport.Request{Method: http.MethodPut, Path: "/api/config/crawler", Body: in}, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// TestProxy checks the proxy provider credentials.
func (g *ConfigGateway) TestProxy(ctx context.Context, secretID, secretKey string) (*TestResult, error) {
	return g.test(ctx, "/api/config/crawler/test-kdl", map[string]string{
		"secret_id":  secretID,
		"secret_key": secretKey,
	})
}

func (g *ConfigGateway) test(ctx context.Context, path string, body any) (*TestResult, error) {
	var r TestResult
	if err := g.sender.JSON(ctx, &transport.Request{Method: http.MethodPost, Path: path, Body: body}, &r); err != nil {
		return nil, err
	}
	return &r, nil
}
