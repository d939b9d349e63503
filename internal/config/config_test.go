package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "auction.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 50, cfg.Portal.PageSize)
	assert.Equal(t, []string{"edital"}, cfg.Portal.Categories)
	assert.Equal(t, "leilão", cfg.Portal.SearchTerms)
	assert.Equal(t, 30, cfg.Pipeline.WindowDays)
	assert.Equal(t, 168, cfg.Monitoring.LookbackHours)
	assert.InDelta(t, 0.2, cfg.Monitoring.FailureRateThreshold, 1e-9)
	assert.Equal(t, 250, cfg.Portal.DetailDelayMs)
	assert.Equal(t, 3, cfg.Portal.Retry.MaxAttempts)
	assert.Equal(t, 30000, cfg.Portal.Retry.MaxBackoffMs)
	assert.Equal(t, 5, cfg.Portal.Circuit.FailureThreshold)
	assert.True(t, cfg.Document.Enabled)
	assert.Equal(t, int64(20<<20), cfg.Document.MaxBytes)
	assert.Equal(t, "local", cfg.Document.OCR.Provider)
	assert.Equal(t, "pdftotext", cfg.Document.OCR.PdfToTextPath)
	assert.Equal(t, "claude-haiku-4-5-20251001", cfg.Anthropic.Model)
	assert.Equal(t, 8, cfg.Pipeline.Concurrency)
	assert.Equal(t, 365, cfg.Pipeline.DateHorizonDays)
	assert.Equal(t, 200, cfg.Pipeline.EventBatchSize)
	assert.Equal(t, "America/Sao_Paulo", cfg.Pipeline.Timezone)
	assert.InDelta(t, 0.001, cfg.Pricing.PerOCRPage, 0.00001)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/auctions
log:
  level: debug
  format: console
portal:
  page_size: 20
  categories: [edital, aviso]
pipeline:
  concurrency: 4
  tag_denylist: [sem_categoria, outros]
pricing:
  per_document: 0.5
  anthropic:
    custom-model:
      input: 1
      output: 2
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 20, cfg.Portal.PageSize)
	assert.Equal(t, []string{"edital", "aviso"}, cfg.Portal.Categories)
	assert.Equal(t, 4, cfg.Pipeline.Concurrency)
	assert.Equal(t, []string{"sem_categoria", "outros"}, cfg.Pipeline.TagDenylist)
	// Defaults still apply for unset values
	assert.Equal(t, 250, cfg.Portal.DetailDelayMs)

	rates := cfg.Pricing.Rates()
	assert.InDelta(t, 0.5, rates.PerDocument, 0.0001)
	assert.Contains(t, rates.Anthropic, "custom-model")
	assert.Contains(t, rates.Anthropic, "claude-haiku-4-5-20251001")
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("AUCTION_STORE_DRIVER", "postgres")
	t.Setenv("AUCTION_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chdirTemp(t)

	t.Setenv("AUCTION_PIPELINE_CONCURRENCY", "16")
	t.Setenv("AUCTION_PORTAL_RETRY_MAX_ATTEMPTS", "6")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 16, cfg.Pipeline.Concurrency)
	assert.Equal(t, 6, cfg.Portal.Retry.MaxAttempts)
}

func TestLoadMalformedFile(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("store: [unclosed"), 0644))

	_, err := Load()
	assert.Error(t, err)
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config with run settings populated for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Store.Driver = "sqlite"
	cfg.Store.DatabaseURL = "auction.db"
	cfg.Portal.SearchBaseURL = "https://pncp.gov.br/api/search"
	cfg.Portal.APIBaseURL = "https://pncp.gov.br/api/pncp/v1"
	cfg.Portal.PageSize = 50
	cfg.Pipeline.Concurrency = 8
	cfg.Pipeline.MinYear = 2020
	cfg.Pipeline.MaxYear = 2035
	cfg.Document.OCR.Provider = "local"
	return cfg
}

func TestValidateRun_AllPresent(t *testing.T) {
	assert.NoError(t, validDefaults().Validate("run"))
}

func TestValidateRun_MissingFields(t *testing.T) {
	cfg := &Config{}

	err := cfg.Validate("run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.driver must be postgres or sqlite")
	assert.Contains(t, err.Error(), "store.database_url is required")
	assert.Contains(t, err.Error(), "portal.search_base_url is required")
	assert.Contains(t, err.Error(), "pipeline.concurrency must be between 1 and 64")
}

func TestValidateRun_YearRange(t *testing.T) {
	cfg := validDefaults()
	cfg.Pipeline.MinYear = 2040

	err := cfg.Validate("run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "min_year")
}

func TestValidateRun_OCRProvider(t *testing.T) {
	cfg := validDefaults()
	cfg.Document.OCR.Provider = "mistral"
	err := cfg.Validate("run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mistral_api_key")

	cfg.Document.MistralKey = "key"
	assert.NoError(t, cfg.Validate("run"))

	cfg.Document.OCR.Provider = "tesseract"
	assert.Error(t, cfg.Validate("run"))
}

func TestValidateStore(t *testing.T) {
	cfg := &Config{}
	cfg.Store.Driver = "postgres"
	cfg.Store.DatabaseURL = "postgres://localhost/auctions"
	assert.NoError(t, cfg.Validate("store"))

	cfg.Store.Driver = "mysql"
	assert.Error(t, cfg.Validate("store"))
}

func TestValidateOffline(t *testing.T) {
	assert.NoError(t, (&Config{}).Validate("offline"))
}

func TestValidateUnknownMode(t *testing.T) {
	err := validDefaults().Validate("unknown")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}
