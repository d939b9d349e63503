package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/auction-ingest/internal/cost"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Portal     PortalConfig     `yaml:"portal" mapstructure:"portal"`
	Document   DocumentConfig   `yaml:"document" mapstructure:"document"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Pipeline   PipelineConfig   `yaml:"pipeline" mapstructure:"pipeline"`
	Pricing    PricingConfig    `yaml:"pricing" mapstructure:"pricing"`
	Metrics    MetricsConfig    `yaml:"metrics" mapstructure:"metrics"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// PortalConfig configures the procurement portal client.
type PortalConfig struct {
	SearchBaseURL string        `yaml:"search_base_url" mapstructure:"search_base_url"`
	APIBaseURL    string        `yaml:"api_base_url" mapstructure:"api_base_url"`
	DetailBaseURL string        `yaml:"detail_base_url" mapstructure:"detail_base_url"`
	PageSize      int           `yaml:"page_size" mapstructure:"page_size"`
	MaxPages      int           `yaml:"max_pages" mapstructure:"max_pages"`
	Categories    []string      `yaml:"categories" mapstructure:"categories"`
	SearchTerms   string        `yaml:"search_terms" mapstructure:"search_terms"`
	SearchStatus  string        `yaml:"search_status" mapstructure:"search_status"`
	TimeoutSecs   int           `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	DetailDelayMs int           `yaml:"detail_delay_ms" mapstructure:"detail_delay_ms"`
	Retry         RetryConfig   `yaml:"retry" mapstructure:"retry"`
	Circuit       CircuitConfig `yaml:"circuit" mapstructure:"circuit"`
}

// RetryConfig bounds retries of transient portal failures.
type RetryConfig struct {
	MaxAttempts      int `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
}

// CircuitConfig configures the detail circuit breaker.
type CircuitConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// DocumentConfig configures notice document download and text extraction.
type DocumentConfig struct {
	Enabled      bool      `yaml:"enabled" mapstructure:"enabled"`
	MaxBytes     int64     `yaml:"max_bytes" mapstructure:"max_bytes"`
	OCR          OCRConfig `yaml:"ocr" mapstructure:"ocr"`
	MistralKey   string    `yaml:"mistral_api_key" mapstructure:"mistral_api_key"`
	MistralModel string    `yaml:"mistral_ocr_model" mapstructure:"mistral_ocr_model"`
	MistralURL   string    `yaml:"mistral_base_url" mapstructure:"mistral_base_url"`
}

// OCRConfig configures PDF text extraction.
type OCRConfig struct {
	Provider      string `yaml:"provider" mapstructure:"provider"`
	PdfToTextPath string `yaml:"pdftotext_path" mapstructure:"pdftotext_path"`
}

// AnthropicConfig holds Anthropic API settings for object summaries.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int    `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// PipelineConfig configures run behavior.
type PipelineConfig struct {
	Concurrency     int      `yaml:"concurrency" mapstructure:"concurrency"`
	WindowDays      int      `yaml:"window_days" mapstructure:"window_days"`
	DateHorizonDays int      `yaml:"date_horizon_days" mapstructure:"date_horizon_days"`
	MinYear         int      `yaml:"min_year" mapstructure:"min_year"`
	MaxYear         int      `yaml:"max_year" mapstructure:"max_year"`
	EventBatchSize  int      `yaml:"event_batch_size" mapstructure:"event_batch_size"`
	TagDenylist     []string `yaml:"tag_denylist" mapstructure:"tag_denylist"`
	ContractPath    string   `yaml:"contract_path" mapstructure:"contract_path"`
	Timezone        string   `yaml:"timezone" mapstructure:"timezone"`
	TopErrors       int      `yaml:"top_errors" mapstructure:"top_errors"`
}

// PricingConfig holds per-unit pricing in USD.
type PricingConfig struct {
	PerSearchCall float64                 `yaml:"per_search_call" mapstructure:"per_search_call"`
	PerDetailCall float64                 `yaml:"per_detail_call" mapstructure:"per_detail_call"`
	PerDocument   float64                 `yaml:"per_document" mapstructure:"per_document"`
	PerRecord     float64                 `yaml:"per_record" mapstructure:"per_record"`
	PerOCRPage    float64                 `yaml:"per_ocr_page" mapstructure:"per_ocr_page"`
	Anthropic     map[string]ModelPricing `yaml:"anthropic" mapstructure:"anthropic"`
}

// ModelPricing holds per-model token pricing (USD per million tokens).
type ModelPricing struct {
	Input  float64 `yaml:"input" mapstructure:"input"`
	Output float64 `yaml:"output" mapstructure:"output"`
}

// Rates converts the pricing section for the cost calculator. Models absent
// from the config keep their default rate.
func (p PricingConfig) Rates() cost.Rates {
	r := cost.DefaultRates()
	r.PerSearchCall = p.PerSearchCall
	r.PerDetailCall = p.PerDetailCall
	r.PerDocument = p.PerDocument
	r.PerRecord = p.PerRecord
	r.PerOCRPage = p.PerOCRPage
	for name, m := range p.Anthropic {
		r.Anthropic[name] = cost.ModelRate{Input: m.Input, Output: m.Output}
	}
	return r
}

// MetricsConfig configures the Prometheus textfile export.
type MetricsConfig struct {
	TextfilePath string `yaml:"textfile_path" mapstructure:"textfile_path"`
}

// MonitoringConfig holds the thresholds evaluated by `runs stats`.
type MonitoringConfig struct {
	LookbackHours        int     `yaml:"lookback_hours" mapstructure:"lookback_hours"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	MinValidRate         float64 `yaml:"min_valid_rate" mapstructure:"min_valid_rate"`
	CostThresholdUSD     float64 `yaml:"cost_threshold_usd" mapstructure:"cost_threshold_usd"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("AUCTION")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := cost.DefaultRates()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "auction.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("portal.search_base_url", "https://pncp.gov.br/api/search")
	v.SetDefault("portal.api_base_url", "https://pncp.gov.br/api/pncp/v1")
	v.SetDefault("portal.detail_base_url", "https://pncp.gov.br/app/editais")
	v.SetDefault("portal.page_size", 50)
	v.SetDefault("portal.max_pages", 200)
	v.SetDefault("portal.categories", []string{"edital"})
	v.SetDefault("portal.search_terms", "leilão")
	v.SetDefault("portal.timeout_secs", 30)
	v.SetDefault("portal.detail_delay_ms", 250)
	v.SetDefault("portal.retry.max_attempts", 3)
	v.SetDefault("portal.retry.initial_backoff_ms", 500)
	v.SetDefault("portal.retry.max_backoff_ms", 30000)
	v.SetDefault("portal.circuit.failure_threshold", 5)
	v.SetDefault("portal.circuit.reset_timeout_secs", 30)
	v.SetDefault("document.enabled", true)
	v.SetDefault("document.max_bytes", 20<<20)
	v.SetDefault("document.ocr.provider", "local")
	v.SetDefault("document.ocr.pdftotext_path", "pdftotext")
	v.SetDefault("document.mistral_ocr_model", "mistral-ocr-latest")
	v.SetDefault("document.mistral_base_url", "https://api.mistral.ai/v1")
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 256)
	v.SetDefault("pipeline.concurrency", 8)
	v.SetDefault("pipeline.window_days", 30)
	v.SetDefault("pipeline.date_horizon_days", 365)
	v.SetDefault("pipeline.min_year", 2020)
	v.SetDefault("pipeline.max_year", 2035)
	v.SetDefault("pipeline.event_batch_size", 200)
	v.SetDefault("pipeline.timezone", "America/Sao_Paulo")
	v.SetDefault("pipeline.top_errors", 10)
	v.SetDefault("monitoring.lookback_hours", 168)
	v.SetDefault("monitoring.failure_rate_threshold", 0.2)
	v.SetDefault("monitoring.min_valid_rate", 0.3)
	v.SetDefault("monitoring.cost_threshold_usd", 5.0)
	v.SetDefault("pricing.per_search_call", defaults.PerSearchCall)
	v.SetDefault("pricing.per_detail_call", defaults.PerDetailCall)
	v.SetDefault("pricing.per_document", defaults.PerDocument)
	v.SetDefault("pricing.per_record", defaults.PerRecord)
	v.SetDefault("pricing.per_ocr_page", defaults.PerOCRPage)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command needs. mode is one of "run",
// "store" (commands that only touch the database) or "offline".
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "run":
		errs = append(errs, c.validateStore()...)
		if c.Portal.SearchBaseURL == "" {
			errs = append(errs, "portal.search_base_url is required")
		}
		if c.Portal.APIBaseURL == "" {
			errs = append(errs, "portal.api_base_url is required")
		}
		if c.Portal.PageSize < 1 || c.Portal.PageSize > 500 {
			errs = append(errs, "portal.page_size must be between 1 and 500")
		}
		if c.Pipeline.Concurrency < 1 || c.Pipeline.Concurrency > 64 {
			errs = append(errs, "pipeline.concurrency must be between 1 and 64")
		}
		if c.Pipeline.MinYear > 0 && c.Pipeline.MaxYear > 0 && c.Pipeline.MinYear > c.Pipeline.MaxYear {
			errs = append(errs, "pipeline.min_year must not exceed pipeline.max_year")
		}
		switch c.Document.OCR.Provider {
		case "", "local":
		case "mistral":
			if c.Document.MistralKey == "" {
				errs = append(errs, "document.mistral_api_key is required for the mistral ocr provider")
			}
		default:
			errs = append(errs, "document.ocr.provider must be local or mistral")
		}
	case "store":
		errs = append(errs, c.validateStore()...)
	case "offline":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateStore() []string {
	var errs []string
	switch c.Store.Driver {
	case "postgres", "sqlite":
	default:
		errs = append(errs, "store.driver must be postgres or sqlite")
	}
	if c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required")
	}
	return errs
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
