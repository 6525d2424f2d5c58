package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tournevent/courier/internal/config"
	"github.com/tournevent/courier/internal/shipment"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := config.Load()

	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, config.StoreMemory, cfg.StoreBackend)
	assert.Equal(t, config.PublisherLog, cfg.OutboxPublisher)
	assert.Equal(t, time.Second, cfg.OutboxPollInterval)
	assert.True(t, cfg.DelhiveryEnabled)
}

func TestLoad_ReadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("PORT=9090\nWEBHOOK_SECRETS=delhivery:abc,bluedart:def\n"), 0o600))
	t.Cleanup(func() {
		os.Unsetenv("PORT")
		os.Unsetenv("WEBHOOK_SECRETS")
	})

	cfg, err := config.Load()

	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, map[string]string{"delhivery": "abc", "bluedart": "def"}, cfg.WebhookSecrets)
}

func TestLoad_EnvironmentWinsOverDotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("LOG_LEVEL=debug\n"), 0o600))
	t.Setenv("LOG_LEVEL", "warn")

	cfg, err := config.Load()

	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr string
	}{
		{"memory store", func(c *config.Config) {}, ""},
		{"postgres without dsn", func(c *config.Config) { c.StoreBackend = config.StorePostgres }, "DATABASE_URL"},
		{"postgres with dsn", func(c *config.Config) { c.StoreBackend, c.DatabaseURL = config.StorePostgres, "postgres://x" }, ""},
		{"unknown store", func(c *config.Config) { c.StoreBackend = "sqlite" }, "STORE_BACKEND"},
		{"sns without topic", func(c *config.Config) { c.OutboxPublisher = config.PublisherSNS }, "SNS_TOPIC_ARN"},
		{"unknown publisher", func(c *config.Config) { c.OutboxPublisher = "kafka" }, "OUTBOX_PUBLISHER"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.Config{StoreBackend: config.StoreMemory, OutboxPublisher: config.PublisherLog}
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

const accountsYAML = `
tenants:
  tenant-a:
    policy:
      restock_on_rto: true
      ndr_max_attempts: 2
accounts:
  - id: dl-main
    tenant: tenant-a
    provider: delhivery
    token: ${TEST_DELHIVERY_TOKEN}
    settings:
      pickup_location: Mumbai WH
  - id: bd-main
    tenant: tenant-a
    provider: bluedart
    api_key: licence
    settings:
      login_id: BOM12345
  - id: dl-b
    tenant: tenant-b
    provider: delhivery
    token: other
`

func TestParseAccounts(t *testing.T) {
	t.Setenv("TEST_DELHIVERY_TOKEN", "tok-1234")

	d, err := config.ParseAccounts([]byte(accountsYAML))

	require.NoError(t, err)
	acct, ok := d.Account("dl-main")
	require.True(t, ok)
	assert.Equal(t, "tok-1234", acct.Credentials.Token)
	assert.Equal(t, "Mumbai WH", acct.Credentials.Setting("pickup_location"))

	a := d.AccountsFor("tenant-a")
	require.Len(t, a, 2)
	assert.Equal(t, "dl-main", a[0].ID)
	assert.Equal(t, "bd-main", a[1].ID)

	assert.Equal(t, shipment.Policy{RestockOnRTO: true, NDRMaxAttempts: 2}, d.Policy("tenant-a"))
	assert.Equal(t, shipment.DefaultPolicy(), d.Policy("tenant-b"))
	assert.Equal(t, []string{"tenant-a", "tenant-b"}, d.Tenants())
	assert.Len(t, d.Accounts(), 3)

	_, ok = d.Account("missing")
	assert.False(t, ok)
}

func TestParseAccounts_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"not yaml", "accounts: [", "parsing accounts file"},
		{"missing id", "accounts:\n  - tenant: t\n    provider: p\n", "id is required"},
		{"missing tenant", "accounts:\n  - id: a\n    provider: p\n", "tenant is required"},
		{"missing provider", "accounts:\n  - id: a\n    tenant: t\n", "provider is required"},
		{"duplicate", "accounts:\n  - {id: a, tenant: t, provider: p}\n  - {id: a, tenant: t, provider: p}\n", "duplicate id"},
		{"negative attempts", "tenants:\n  t:\n    policy:\n      ndr_max_attempts: -1\n", "must not be negative"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.ParseAccounts([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadAccounts_MissingFile(t *testing.T) {
	_, err := config.LoadAccounts(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
