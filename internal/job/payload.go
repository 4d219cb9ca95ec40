package job

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// PayloadKind tags the schema of a job's configuration payload.
type PayloadKind string

const (
	PayloadCrawl   PayloadKind = "crawl"
	PayloadBackup  PayloadKind = "backup"
	PayloadUnknown PayloadKind = "unknown"
)

// PayloadKindFor maps a backend task_type to the payload schema it carries.
// task_type is an opaque backend tag; the mapping only decides how the
// console decodes the config for display and never changes what is sent.
func PayloadKindFor(taskType string) PayloadKind {
	t := strings.ToLower(taskType)
	switch {
	case strings.Contains(t, "backup"):
		return PayloadBackup
	case strings.Contains(t, "crawl"), t == "manual", t == "scheduled":
		return PayloadCrawl
	}
	return PayloadUnknown
}

// DateRange bounds a crawl by publication date (YYYY-MM-DD).
type DateRange struct {
	Start string `json:"start,omitempty"`
	End   string `json:"end,omitempty"`
}

// DataSource selects one crawl source and its endpoints.
type DataSource struct {
	Name         string `json:"name"`
	BaseURL      string `json:"base_url,omitempty"`
	SearchAPI    string `json:"search_api,omitempty"`
	AjaxAPI      string `json:"ajax_api,omitempty"`
	ChannelID    string `json:"channel_id,omitempty"`
	Enabled      bool   `json:"enabled"`
	Type         string `json:"type,omitempty"`
	APIBaseURL   string `json:"api_base_url,omitempty"`
	LawRuleTypes []int  `json:"law_rule_types,omitempty"`
}

// BackupStrategy decides when a crawl triggers an automatic backup.
type BackupStrategy string

const (
	BackupAlways        BackupStrategy = "always"
	BackupOnSuccess     BackupStrategy = "on_success"
	BackupOnNewPolicies BackupStrategy = "on_new_policies"
)

// AutoBackup configures the backup taken after a crawl finishes.
type AutoBackup struct {
	Enabled  bool           `json:"enabled"`
	Strategy BackupStrategy `json:"strategy,omitempty"`
	// MinPolicies only applies to BackupOnNewPolicies.
	MinPolicies int `json:"min_policies,omitempty"`
}

// CrawlConfig is the payload of crawl tasks.
type CrawlConfig struct {
	Keywords    []string     `json:"keywords,omitempty"`
	DateRange   *DateRange   `json:"date_range,omitempty"`
	StartDate   string       `json:"start_date,omitempty"`
	EndDate     string       `json:"end_date,omitempty"`
	LimitPages  int          `json:"limit_pages,omitempty"`
	DataSources []DataSource `json:"data_sources,omitempty"`

	// AutoBackupLegacy is superseded by Backup but still sent by older
	// scheduled task definitions.
	AutoBackupLegacy *bool       `json:"auto_backup,omitempty"`
	Backup           *AutoBackup `json:"backup,omitempty"`
}

// BackupConfig is the payload of backup tasks.
type BackupConfig struct {
	BackupType string `json:"backup_type,omitempty"`
}

// Config is a job configuration payload. Exactly one of Crawl or Backup is
// set for known payload kinds. Raw holds the undecoded key/value form of a
// decoded payload and is what gets sent back, so keys the console does not
// model survive a round trip untouched.
type Config struct {
	Kind   PayloadKind
	Crawl  *CrawlConfig
	Backup *BackupConfig
	Raw    map[string]any
}

// DecodeConfig decodes a config payload according to the job's task_type.
// A null or empty payload yields a Config with no variant set.
func DecodeConfig(taskType string, data json.RawMessage) (Config, error) {
	cfg := Config{Kind: PayloadKindFor(taskType)}
	if len(bytes.TrimSpace(data)) == 0 || bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return cfg, nil
	}

	if err := json.Unmarshal(data, &cfg.Raw); err != nil {
		return Config{}, fmt.Errorf("job: decode config: %w", err)
	}

	switch cfg.Kind {
	case PayloadCrawl:
		var c CrawlConfig
		if err := json.Unmarshal(data, &c); err != nil {
			return Config{}, fmt.Errorf("job: decode crawl config: %w", err)
		}
		cfg.Crawl = &c
	case PayloadBackup:
		var b BackupConfig
		if err := json.Unmarshal(data, &b); err != nil {
			return Config{}, fmt.Errorf("job: decode backup config: %w", err)
		}
		cfg.Backup = &b
	}
	return cfg, nil
}

// CrawlPayload wraps a crawl config for sending.
func CrawlPayload(c CrawlConfig) Config {
	return Config{Kind: PayloadCrawl, Crawl: &c}
}

// BackupPayload wraps a backup config for sending.
func BackupPayload(b BackupConfig) Config {
	return Config{Kind: PayloadBackup, Backup: &b}
}

// RawPayload wraps an untyped config for sending.
func RawPayload(m map[string]any) Config {
	return Config{Kind: PayloadUnknown, Raw: m}
}

// IsZero reports whether no payload is present.
func (c Config) IsZero() bool {
	return c.Crawl == nil && c.Backup == nil && c.Raw == nil
}

// MarshalJSON sends Raw unchanged when it is set, so a decoded payload goes
// back to the backend exactly as it arrived. The typed variant is only
// marshaled for payloads built with CrawlPayload or BackupPayload.
func (c Config) MarshalJSON() ([]byte, error) {
	switch {
	case c.Raw != nil:
		return json.Marshal(c.Raw)
	case c.Crawl != nil:
		return json.Marshal(c.Crawl)
	case c.Backup != nil:
		return json.Marshal(c.Backup)
	}
	return []byte("{}"), nil
}

// -----------------------------------------------------------------------------
// Result
// -----------------------------------------------------------------------------

// Result is the outcome payload of a finished job. Counters the console knows
// about are decoded into fields; everything else lands in Extra.
type Result struct {
	Success      *bool  `json:"success,omitempty"`
	Message      string `json:"message,omitempty"`
	PolicyCount  int    `json:"policy_count,omitempty"`
	SuccessCount int    `json:"success_count,omitempty"`
	SkippedCount int    `json:"skipped_count,omitempty"`
	FailedCount  int    `json:"failed_count,omitempty"`
	ErrorCount   int    `json:"error_count,omitempty"`

	Extra map[string]any `json:"-"`
}

var resultKeys = []string{
	"success", "message", "policy_count", "success_count",
	"skipped_count", "failed_count", "error_count",
}

// UnmarshalJSON decodes known fields and keeps the rest in Extra.
func (r *Result) UnmarshalJSON(data []byte) error {
	type plain Result
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("job: decode result: %w", err)
	}

	var all map[string]any
	if err := json.Unmarshal(data, &all); err != nil {
		return fmt.Errorf("job: decode result: %w", err)
	}
	for _, k := range resultKeys {
		delete(all, k)
	}
	if len(all) == 0 {
		all = nil
	}

	*r = Result(p)
	r.Extra = all
	return nil
}

// MarshalJSON writes the known fields merged with Extra. Known fields win
// over Extra entries with the same key.
func (r Result) MarshalJSON() ([]byte, error) {
	type plain Result
	known, err := json.Marshal(plain(r))
	if err != nil {
		return nil, err
	}
	if len(r.Extra) == 0 {
		return known, nil
	}

	merged := make(map[string]any, len(r.Extra)+len(resultKeys))
	for k, v := range r.Extra {
		merged[k] = v
	}
	var fields map[string]any
	if err := json.Unmarshal(known, &fields); err != nil {
		return nil, err
	}
	for k, v := range fields {
		merged[k] = v
	}
	return json.Marshal(merged)
}
