package config

import (
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	SMTP         SMTPConfig         `yaml:"smtp" mapstructure:"smtp"`
	DNS          DNSConfig          `yaml:"dns" mapstructure:"dns"`
	Politeness   PolitenessConfig   `yaml:"politeness" mapstructure:"politeness"`
	Verification VerificationConfig `yaml:"verification" mapstructure:"verification"`
	Scoring      ScoringConfig      `yaml:"scoring" mapstructure:"scoring"`
	Candidates   CandidatesConfig   `yaml:"candidates" mapstructure:"candidates"`
	Scrape       ScrapeConfig       `yaml:"scrape" mapstructure:"scrape"`
	Circuit      CircuitConfig      `yaml:"circuit" mapstructure:"circuit"`
	Store        StoreConfig        `yaml:"store" mapstructure:"store"`
	Server       ServerConfig       `yaml:"server" mapstructure:"server"`
	Log          LogConfig          `yaml:"log" mapstructure:"log"`
}

// SMTPConfig configures the SMTP verification client.
type SMTPConfig struct {
	Sender                  string `yaml:"sender" mapstructure:"sender"`
	HeloName                string `yaml:"helo_name" mapstructure:"helo_name"`
	Port                    int    `yaml:"port" mapstructure:"port"`
	ConnectTimeoutSecs      int    `yaml:"connect_timeout_secs" mapstructure:"connect_timeout_secs"`
	CommandTimeoutSecs      int    `yaml:"command_timeout_secs" mapstructure:"command_timeout_secs"`
	MaxVerificationAttempts int    `yaml:"max_verification_attempts" mapstructure:"max_verification_attempts"`
}

// ConnectTimeout returns the dial timeout as a duration.
func (c SMTPConfig) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutSecs) * time.Second
}

// CommandTimeout returns the per-command timeout as a duration.
func (c SMTPConfig) CommandTimeout() time.Duration {
	return time.Duration(c.CommandTimeoutSecs) * time.Second
}

// DNSConfig configures mail-exchange resolution.
type DNSConfig struct {
	Servers           []string `yaml:"servers" mapstructure:"servers"`
	TimeoutSecs       int      `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxServers        int      `yaml:"max_servers" mapstructure:"max_servers"`
	AttemptsPerServer int      `yaml:"attempts_per_server" mapstructure:"attempts_per_server"`
	QueriesPerSecond  float64  `yaml:"queries_per_second" mapstructure:"queries_per_second"`
	CacheTTLMinutes   int      `yaml:"cache_ttl_minutes" mapstructure:"cache_ttl_minutes"`
}

// PolitenessConfig bounds the randomized delay between probes to one domain.
type PolitenessConfig struct {
	MinDelayMs int `yaml:"min_delay_ms" mapstructure:"min_delay_ms"`
	MaxDelayMs int `yaml:"max_delay_ms" mapstructure:"max_delay_ms"`
}

// MinDelay returns the lower politeness bound.
func (c PolitenessConfig) MinDelay() time.Duration {
	return time.Duration(c.MinDelayMs) * time.Millisecond
}

// MaxDelay returns the upper politeness bound.
func (c PolitenessConfig) MaxDelay() time.Duration {
	return time.Duration(c.MaxDelayMs) * time.Millisecond
}

// VerificationConfig holds selection thresholds and concurrency limits.
type VerificationConfig struct {
	ConfidenceThreshold        int `yaml:"confidence_threshold" mapstructure:"confidence_threshold"`
	GenericConfidenceThreshold int `yaml:"generic_confidence_threshold" mapstructure:"generic_confidence_threshold"`
	MaxAlternatives            int `yaml:"max_alternatives" mapstructure:"max_alternatives"`
	MaxConcurrency             int `yaml:"max_concurrency" mapstructure:"max_concurrency"`
	MinPrescore                int `yaml:"min_prescore" mapstructure:"min_prescore"`
}

// ScoringConfig holds the confidence scorer weights.
type ScoringConfig struct {
	PatternWeightScale float64 `yaml:"pattern_weight_scale" mapstructure:"pattern_weight_scale"`
	ScrapedWeight      float64 `yaml:"scraped_weight" mapstructure:"scraped_weight"`
	NameFullBonus      float64 `yaml:"name_full_bonus" mapstructure:"name_full_bonus"`
	NamePartialBonus   float64 `yaml:"name_partial_bonus" mapstructure:"name_partial_bonus"`
	CorroborationBonus float64 `yaml:"corroboration_bonus" mapstructure:"corroboration_bonus"`
	GenericPenalty     float64 `yaml:"generic_penalty" mapstructure:"generic_penalty"`
	ValidBonus         float64 `yaml:"valid_bonus" mapstructure:"valid_bonus"`
	InconclusiveBonus  float64 `yaml:"inconclusive_bonus" mapstructure:"inconclusive_bonus"`
}

// CandidatesConfig configures candidate classification.
type CandidatesConfig struct {
	GenericPrefixes []string `yaml:"generic_prefixes" mapstructure:"generic_prefixes"`
}

// ScrapeConfig configures the website email scraper.
type ScrapeConfig struct {
	Enabled     bool     `yaml:"enabled" mapstructure:"enabled"`
	TimeoutSecs int      `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxPages    int      `yaml:"max_pages" mapstructure:"max_pages"`
	CommonPages []string `yaml:"common_pages" mapstructure:"common_pages"`
	UserAgent   string   `yaml:"user_agent" mapstructure:"user_agent"`
}

// CircuitConfig configures the per-host circuit breakers.
type CircuitConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port         int `yaml:"port" mapstructure:"port"`
	MaxInFlight  int `yaml:"max_in_flight" mapstructure:"max_in_flight"`
	MaxBatchSize int `yaml:"max_batch_size" mapstructure:"max_batch_size"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// DefaultGenericPrefixes lists role-account local parts.
var DefaultGenericPrefixes = []string{
	"info", "contact", "hello", "help", "support", "admin", "office", "sales",
	"press", "media", "marketing", "jobs", "careers", "hiring", "privacy",
	"security", "legal", "membership", "team", "people", "general", "feedback",
	"enquiries", "inquiries", "mail", "email", "pitch", "invest", "investors",
	"ir", "webmaster", "newsletter", "apply", "partner", "partners", "ventures",
	"noreply", "no-reply", "postmaster", "abuse", "billing", "hr",
}

// DefaultCommonPages lists site paths likely to carry contact addresses.
var DefaultCommonPages = []string{
	"/contact", "/contact-us", "/contactus", "/contact_us",
	"/about", "/about-us", "/aboutus", "/about_us",
	"/team", "/our-team", "/our_team", "/meet-the-team",
	"/people", "/staff", "/company",
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("SLEUTH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("smtp.sender", "verify-probe@example.com")
	v.SetDefault("smtp.helo_name", "localhost")
	v.SetDefault("smtp.port", 25)
	v.SetDefault("smtp.connect_timeout_secs", 5)
	v.SetDefault("smtp.command_timeout_secs", 5)
	v.SetDefault("smtp.max_verification_attempts", 2)
	v.SetDefault("dns.servers", []string{"8.8.8.8", "8.8.4.4", "1.1.1.1", "1.0.0.1"})
	v.SetDefault("dns.timeout_secs", 5)
	v.SetDefault("dns.max_servers", 2)
	v.SetDefault("dns.attempts_per_server", 1)
	v.SetDefault("dns.queries_per_second", 20.0)
	v.SetDefault("dns.cache_ttl_minutes", 60)
	v.SetDefault("politeness.min_delay_ms", 100)
	v.SetDefault("politeness.max_delay_ms", 500)
	v.SetDefault("verification.confidence_threshold", 4)
	v.SetDefault("verification.generic_confidence_threshold", 7)
	v.SetDefault("verification.max_alternatives", 5)
	v.SetDefault("verification.max_concurrency", 8)
	v.SetDefault("verification.min_prescore", 3)
	v.SetDefault("scoring.pattern_weight_scale", 3.0)
	v.SetDefault("scoring.scraped_weight", 4.0)
	v.SetDefault("scoring.name_full_bonus", 2.0)
	v.SetDefault("scoring.name_partial_bonus", 1.0)
	v.SetDefault("scoring.corroboration_bonus", 2.0)
	v.SetDefault("scoring.generic_penalty", 3.0)
	v.SetDefault("scoring.valid_bonus", 5.0)
	v.SetDefault("scoring.inconclusive_bonus", 1.0)
	v.SetDefault("candidates.generic_prefixes", DefaultGenericPrefixes)
	v.SetDefault("scrape.enabled", true)
	v.SetDefault("scrape.timeout_secs", 10)
	v.SetDefault("scrape.max_pages", 8)
	v.SetDefault("scrape.common_pages", DefaultCommonPages)
	v.SetDefault("scrape.user_agent", "Mozilla/5.0 (compatible; email-sleuth/1.0)")
	v.SetDefault("circuit.failure_threshold", 3)
	v.SetDefault("circuit.reset_timeout_secs", 300)
	v.SetDefault("store.driver", "none")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.max_in_flight", 10)
	v.SetDefault("server.max_batch_size", 1000)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

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

// Validate checks the settings a command depends on. Mode "serve" also
// requires a usable port; "runs" requires a configured store.
func (c *Config) Validate(mode string) error {
	var errs []string

	v := c.Verification
	if v.ConfidenceThreshold < 1 || v.ConfidenceThreshold > 10 {
		errs = append(errs, fmt.Sprintf("verification.confidence_threshold must be in 1..10 (got %d)", v.ConfidenceThreshold))
	}
	if v.GenericConfidenceThreshold < 1 || v.GenericConfidenceThreshold > 10 {
		errs = append(errs, fmt.Sprintf("verification.generic_confidence_threshold must be in 1..10 (got %d)", v.GenericConfidenceThreshold))
	}
	if v.GenericConfidenceThreshold < v.ConfidenceThreshold {
		errs = append(errs, "verification.generic_confidence_threshold must be >= confidence_threshold")
	}
	if v.MaxAlternatives < 0 {
		errs = append(errs, "verification.max_alternatives must be >= 0")
	}
	if v.MaxConcurrency < 1 {
		errs = append(errs, "verification.max_concurrency must be >= 1")
	}
	if c.Politeness.MinDelayMs < 0 || c.Politeness.MinDelayMs > c.Politeness.MaxDelayMs {
		errs = append(errs, "politeness.min_delay_ms must be between 0 and max_delay_ms")
	}
	if c.SMTP.MaxVerificationAttempts < 1 {
		errs = append(errs, "smtp.max_verification_attempts must be >= 1")
	}
	if c.SMTP.Port <= 0 || c.SMTP.Port > 65535 {
		errs = append(errs, "smtp.port must be between 1 and 65535")
	}
	if _, err := mail.ParseAddress(c.SMTP.Sender); err != nil {
		errs = append(errs, "smtp.sender must be a valid email address")
	}
	if c.SMTP.HeloName == "" {
		errs = append(errs, "smtp.helo_name is required")
	}

	switch mode {
	case "serve":
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, "server.port must be between 1 and 65535")
		}
		if c.Server.MaxInFlight < 1 {
			errs = append(errs, "server.max_in_flight must be >= 1")
		}
	case "runs":
		if c.Store.Driver == "" || c.Store.Driver == "none" {
			errs = append(errs, "store.driver is required")
		}
	}
	if c.Store.Driver == "postgres" && c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required")
	}

	if len(errs) > 0 {
		return eris.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
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
