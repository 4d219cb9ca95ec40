package job

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPayloadKindFor(t *testing.T) {
	testCases := map[string]PayloadKind{
		"crawl":              PayloadCrawl,
		"crawl_task":         PayloadCrawl,
		"manual":             PayloadCrawl,
		"backup_task":        PayloadBackup,
		"backup-incremental": PayloadBackup,
		"reindex":            PayloadUnknown,
	}
	for taskType, want := range testCases {
		t.Run(taskType, func(t *testing.T) {
			assert.Equal(t, want, PayloadKindFor(taskType))
		})
	}
}

func TestDecodeCrawlConfig(t *testing.T) {
	raw := json.RawMessage(`{
		"keywords": ["land"],
		"date_range": {"start": "2024-01-01", "end": "2024-12-31"},
		"limit_pages": 10,
		"backup": {"enabled": true, "strategy": "on_new_policies", "min_policies": 5},
		"future_flag": true
	}`)

	cfg, err := DecodeConfig("crawl_task", raw)
	require.NoError(t, err)
	require.NotNil(t, cfg.Crawl)
	assert.Nil(t, cfg.Backup)
	assert.Equal(t, []string{"land"}, cfg.Crawl.Keywords)
	assert.Equal(t, "2024-12-31", cfg.Crawl.DateRange.End)
	assert.Equal(t, BackupOnNewPolicies, cfg.Crawl.Backup.Strategy)
	assert.Equal(t, true, cfg.Raw["future_flag"])
}

func TestDecodeUnknownConfigKeepsRawMap(t *testing.T) {
	raw := json.RawMessage(`{"depth": 3, "nested": {"a": "b"}}`)

	cfg, err := DecodeConfig("reindex", raw)
	require.NoError(t, err)
	assert.Nil(t, cfg.Crawl)
	assert.Nil(t, cfg.Backup)
	assert.Equal(t, float64(3), cfg.Raw["depth"])

	out, err := json.Marshal(cfg)
	require.NoError(t, err)
	assert.JSONEq(t, string(raw), string(out))
}

func TestDecodedConfigRoundTripsUnchanged(t *testing.T) {
	testCases := map[string]string{
		"crawl_task":  `{"keywords":["x"],"max_workers":4,"limit_pages":0,"custom":{"a":1},"data_sources":[{"name":"gov","weight":2}]}`,
		"backup_task": `{"backup_type":"","retention":7}`,
	}
	for taskType, raw := range testCases {
		t.Run(taskType, func(t *testing.T) {
			cfg, err := DecodeConfig(taskType, json.RawMessage(raw))
			require.NoError(t, err)
			assert.False(t, cfg.IsZero())

			out, err := json.Marshal(cfg)
			require.NoError(t, err)
			assert.JSONEq(t, raw, string(out))
		})
	}
}

func TestDecodeEmptyConfig(t *testing.T) {
	for _, in := range []string{"", "null", "  "} {
		cfg, err := DecodeConfig("backup_task", json.RawMessage(in))
		require.NoError(t, err)
		assert.True(t, cfg.IsZero())
		assert.Equal(t, PayloadBackup, cfg.Kind)
	}
}

func TestConfigMarshalVariants(t *testing.T) {
	out, err := json.Marshal(BackupPayload(BackupConfig{BackupType: "full"}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"backup_type":"full"}`, string(out))

	out, err = json.Marshal(Config{})
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(out))
}

func TestResultExtraFields(t *testing.T) {
	var r Result
	require.NoError(t, json.Unmarshal([]byte(`{"success":true,"policy_count":12,"duration_seconds":40}`), &r))

	require.NotNil(t, r.Success)
	assert.True(t, *r.Success)
	assert.Equal(t, 12, r.PolicyCount)
	assert.Equal(t, map[string]any{"duration_seconds": float64(40)}, r.Extra)

	out, err := json.Marshal(r)
	require.NoError(t, err)
	assert.JSONEq(t, `{"success":true,"policy_count":12,"duration_seconds":40}`, string(out))
}
