package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/hazmat-radar/internal/identity"
	"github.com/sells-group/hazmat-radar/internal/resilience"
	"github.com/sells-group/hazmat-radar/pkg/portal"
)

// Config holds the full application configuration.
type Config struct {
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
	Repo      RepoConfig      `yaml:"repo" mapstructure:"repo"`
	Data      DataConfig      `yaml:"data" mapstructure:"data"`
	Discovery DiscoveryConfig `yaml:"discovery" mapstructure:"discovery"`
	Portal    PortalConfig    `yaml:"portal" mapstructure:"portal"`
	Fetch     FetchConfig     `yaml:"fetch" mapstructure:"fetch"`
	Filter    FilterConfig    `yaml:"filter" mapstructure:"filter"`
	Feed      FeedConfig      `yaml:"feed" mapstructure:"feed"`
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// RepoConfig locates the git repository holding the snapshot history.
type RepoConfig struct {
	Path   string `yaml:"path" mapstructure:"path"`
	Branch string `yaml:"branch" mapstructure:"branch"`
}

// DataConfig holds the on-disk layout. FetchedDir is also the
// repository-relative path of the snapshots.
type DataConfig struct {
	FetchedDir    string `yaml:"fetched_dir" mapstructure:"fetched_dir"`
	DiscoveredDir string `yaml:"discovered_dir" mapstructure:"discovered_dir"`
	FilteredDir   string `yaml:"filtered_dir" mapstructure:"filtered_dir"`
	FeedsDir      string `yaml:"feeds_dir" mapstructure:"feeds_dir"`
}

// DiscoveryConfig configures the discovery engine.
type DiscoveryConfig struct {
	IDColumn    string `yaml:"id_column" mapstructure:"id_column"`
	Policy      string `yaml:"policy" mapstructure:"policy"`
	NumMonths   int    `yaml:"num_months" mapstructure:"num_months"`
	Concurrency int    `yaml:"concurrency" mapstructure:"concurrency"`
}

// RetryConfig is the file form of resilience.RetryConfig.
type RetryConfig struct {
	MaxAttempts        int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffSecs float64 `yaml:"initial_backoff_secs" mapstructure:"initial_backoff_secs"`
	MaxBackoffSecs     float64 `yaml:"max_backoff_secs" mapstructure:"max_backoff_secs"`
	Multiplier         float64 `yaml:"multiplier" mapstructure:"multiplier"`
}

// Resilience converts the file values.
func (r RetryConfig) Resilience() resilience.RetryConfig {
	return resilience.FromRetryConfig(r.MaxAttempts, seconds(r.InitialBackoffSecs), seconds(r.MaxBackoffSecs), r.Multiplier)
}

// PortalConfig configures the dashboard client.
type PortalConfig struct {
	BaseURL           string      `yaml:"base_url" mapstructure:"base_url"`
	InitURL           string      `yaml:"init_url" mapstructure:"init_url"`
	AuthURL           string      `yaml:"auth_url" mapstructure:"auth_url"`
	PortalPath        string      `yaml:"portal_path" mapstructure:"portal_path"`
	QueryTemplateFile string      `yaml:"query_template_file" mapstructure:"query_template_file"`
	ClientStateFile   string      `yaml:"client_state_file" mapstructure:"client_state_file"`
	UserAgent         string      `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs       int         `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	PollIntervalMs    int         `yaml:"poll_interval_ms" mapstructure:"poll_interval_ms"`
	MaxPolls          int         `yaml:"max_polls" mapstructure:"max_polls"`
	RequestsPerSecond float64     `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	Retry             RetryConfig `yaml:"retry" mapstructure:"retry"`
	DebugDir          string      `yaml:"debug_dir" mapstructure:"debug_dir"`
}

// Client builds the portal client configuration, reading the query template
// and client state files.
func (p PortalConfig) Client() (portal.Config, error) {
	tmpl, err := os.ReadFile(p.QueryTemplateFile)
	if err != nil {
		return portal.Config{}, eris.Wrap(err, "config: read portal query template")
	}
	state, err := os.ReadFile(p.ClientStateFile)
	if err != nil {
		return portal.Config{}, eris.Wrap(err, "config: read portal client state")
	}
	return portal.Config{
		BaseURL:           p.BaseURL,
		InitURL:           p.InitURL,
		AuthURL:           p.AuthURL,
		PortalPath:        p.PortalPath,
		QueryTemplate:     string(tmpl),
		ClientState:       string(state),
		UserAgent:         p.UserAgent,
		Timeout:           time.Duration(p.TimeoutSecs) * time.Second,
		PollInterval:      time.Duration(p.PollIntervalMs) * time.Millisecond,
		MaxPolls:          p.MaxPolls,
		RequestsPerSecond: p.RequestsPerSecond,
		Retry:             p.Retry.Resilience(),
		DebugDir:          p.DebugDir,
	}, nil
}

// FetchConfig configures the monthly archiving stage.
type FetchConfig struct {
	NumMonths         int         `yaml:"num_months" mapstructure:"num_months"`
	BetweenMonthsSecs int         `yaml:"between_months_secs" mapstructure:"between_months_secs"`
	Retry             RetryConfig `yaml:"retry" mapstructure:"retry"`
}

// FilterConfig configures the severity filter.
type FilterConfig struct {
	ExpensiveMin int64 `yaml:"expensive_min" mapstructure:"expensive_min"`
}

// FeedConfig configures feed publishing.
type FeedConfig struct {
	NumMonths      int      `yaml:"num_months" mapstructure:"num_months"`
	DiscoveredDays int      `yaml:"discovered_days" mapstructure:"discovered_days"`
	BaseID         string   `yaml:"base_id" mapstructure:"base_id"`
	Link           string   `yaml:"link" mapstructure:"link"`
	Author         string   `yaml:"author" mapstructure:"author"`
	Regions        []string `yaml:"regions" mapstructure:"regions"`
}

// StoreConfig configures the run log and discovery index database.
// Driver "none" disables it.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// ServerConfig configures the read-only HTTP server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// Validate checks the settings a command mode depends on. mode is one of
// fetch, discover, filter, publish, serve or status.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch c.Store.Driver {
	case "sqlite", "none":
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q is not supported", c.Store.Driver))
	}

	switch mode {
	case "fetch":
		if c.Portal.QueryTemplateFile == "" {
			errs = append(errs, "portal.query_template_file is required")
		}
		if c.Fetch.NumMonths < 1 {
			errs = append(errs, "fetch.num_months must be >= 1")
		}
	case "discover":
		if _, err := identity.ParsePolicy(c.Discovery.Policy); err != nil {
			errs = append(errs, "discovery.policy must be skip or strict")
		}
		if c.Discovery.Concurrency < 1 || c.Discovery.Concurrency > 32 {
			errs = append(errs, "discovery.concurrency must be between 1 and 32")
		}
		if c.Repo.Path == "" {
			errs = append(errs, "repo.path is required")
		}
	case "filter":
		if c.Filter.ExpensiveMin < 0 {
			errs = append(errs, "filter.expensive_min must be >= 0")
		}
	case "publish":
		if c.Feed.DiscoveredDays < 1 {
			errs = append(errs, "feed.discovered_days must be >= 1")
		}
	case "serve":
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
	case "status":
		if c.Store.Driver == "none" {
			errs = append(errs, "status requires a store; store.driver is none")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("HAZMAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	def := portal.DefaultConfig()

	// Defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("repo.path", ".")
	v.SetDefault("repo.branch", "main")
	v.SetDefault("data.fetched_dir", "data/fetched")
	v.SetDefault("data.discovered_dir", "data/processed/discovered-dates")
	v.SetDefault("data.filtered_dir", "data/processed/filtered")
	v.SetDefault("data.feeds_dir", "data/processed/feeds")
	v.SetDefault("discovery.id_column", "Report Number")
	v.SetDefault("discovery.policy", string(identity.PolicySkip))
	v.SetDefault("discovery.num_months", 3)
	v.SetDefault("discovery.concurrency", 1)
	v.SetDefault("portal.base_url", def.BaseURL)
	v.SetDefault("portal.init_url", def.InitURL)
	v.SetDefault("portal.auth_url", def.AuthURL)
	v.SetDefault("portal.portal_path", def.PortalPath)
	v.SetDefault("portal.query_template_file", "data/manual/query-template.xml")
	v.SetDefault("portal.client_state_file", "data/manual/dashboard-state.xml")
	v.SetDefault("portal.user_agent", def.UserAgent)
	v.SetDefault("portal.timeout_secs", 120)
	v.SetDefault("portal.poll_interval_ms", 500)
	v.SetDefault("portal.max_polls", 1200)
	v.SetDefault("portal.requests_per_second", 2.0)
	v.SetDefault("portal.retry.max_attempts", 5)
	v.SetDefault("portal.retry.initial_backoff_secs", 5)
	v.SetDefault("portal.retry.max_backoff_secs", 120)
	v.SetDefault("portal.retry.multiplier", 2.0)
	v.SetDefault("fetch.num_months", 3)
	v.SetDefault("fetch.between_months_secs", 10)
	v.SetDefault("fetch.retry.max_attempts", 5)
	v.SetDefault("fetch.retry.initial_backoff_secs", 60)
	v.SetDefault("fetch.retry.max_backoff_secs", 960)
	v.SetDefault("fetch.retry.multiplier", 2.0)
	v.SetDefault("filter.expensive_min", 10000)
	v.SetDefault("feed.num_months", 12)
	v.SetDefault("feed.discovered_days", 7)
	v.SetDefault("feed.base_id", "data-liberation-project:phma-hazmat-incident-reports")
	v.SetDefault("feed.link", "https://github.com/data-liberation-project/phma-hazmat-incident-reports")
	v.SetDefault("feed.author", "Data Liberation Project")
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "data/hazmat-radar.db")
	v.SetDefault("server.port", 8080)

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

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
