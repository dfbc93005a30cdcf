// Package config loads and validates pcsim's runtime parameters.
//
// The four simulation parameters (producers, consumers, capacity,
// timeout) are positional CLI arguments per the coursework this
// simulator models; everything else is an option, overridable via
// PCSIM_-prefixed environment variables through viper, the same way
// the teacher service reads BIBBL_-prefixed variables.
package config

import (
	"flag"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	MinProducers = 1
	MaxProducers = 10
	MinConsumers = 1
	MaxConsumers = 3
	MinCapacity  = 1
	MaxCapacity  = 20
	MinTimeout   = 1
)

// VaultConfig configures optional HashiCorp Vault secret resolution.
type VaultConfig struct {
	Enabled       bool
	Address       string
	Namespace     string
	Token         string
	TokenFile     string
	MountPath     string
	KVVersion     int
	CacheTTL      time.Duration
	TLSSkipVerify bool
	TLS           struct {
		CAFile   string
		CertFile string
		KeyFile  string
	}
	RequestTimeout time.Duration
}

// OTLPConfig configures optional OpenTelemetry trace export.
type OTLPConfig struct {
	Endpoint    string
	Insecure    bool
	Timeout     time.Duration
	Compression string
	SampleRatio float64
	Headers     map[string]string
}

// TelemetryConfig wraps the tracing knobs passed to internal/telemetry.
type TelemetryConfig struct {
	OTLP OTLPConfig
}

// SpillConfig configures the on-disk fallback spool used by exporters.
type SpillConfig struct {
	Enabled     bool
	Directory   string
	MaxBytes    int64
	SegmentSize int64
}

// AzureBlobConfig configures the optional Azure Blob Storage export of run artifacts.
type AzureBlobConfig struct {
	Enabled          bool
	AccountURL       string
	ConnectionString string
	Container        string
	Spill            SpillConfig
}

// LogAnalyticsConfig configures the optional Azure Log Analytics export of run summaries.
type LogAnalyticsConfig struct {
	Enabled     bool
	WorkspaceID string
	SharedKey   string
	LogType     string
	Spill       SpillConfig
}

// DashboardConfig configures the optional read-only HTTP dashboard.
type DashboardConfig struct {
	Enabled  bool
	Addr     string
	TLS      bool
	CertFile string
	KeyFile  string
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level  string // debug|info|warn|error
	Format string // text|json
}

// Config is the fully-resolved runtime configuration for one simulation run.
type Config struct {
	// Positional simulation parameters (spec.md §6).
	Producers      int
	Consumers      int
	Capacity       int
	TimeoutSeconds int

	// Options (spec.md §6).
	Debug            int // 0..3 verbosity
	Seed             int64
	SeedSet          bool
	AgingIntervalMs  int
	ProducerMaxWaitS float64
	ConsumerMaxWaitS float64
	CSVDir           string

	Logging      LoggingConfig
	Dashboard    DashboardConfig
	Telemetry    TelemetryConfig
	AzureBlob    AzureBlobConfig
	LogAnalytics LogAnalyticsConfig
	Vault        VaultConfig

	// AuthToken protects the dashboard's mutating-free endpoints with a
	// static bearer token; empty means unprotected (local/dev use).
	AuthToken string
}

// Load parses CLI args (positional parameters + options) and merges in
// environment-sourced defaults for the ambient/optional settings.
func Load(args []string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PCSIM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("debug", 0)
	v.SetDefault("aging_interval_ms", 0)
	v.SetDefault("producer_max_wait_s", 2.0)
	v.SetDefault("consumer_max_wait_s", 4.0)
	v.SetDefault("csv_dir", ".")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("dashboard.enabled", false)
	v.SetDefault("dashboard.addr", "127.0.0.1:9473")
	v.SetDefault("dashboard.tls", false)
	v.SetDefault("auth_token", "")
	v.SetDefault("otlp.endpoint", "")
	v.SetDefault("otlp.insecure", false)
	v.SetDefault("otlp.timeout", "10s")
	v.SetDefault("otlp.sample_ratio", 1.0)
	v.SetDefault("azure_blob.enabled", false)
	v.SetDefault("azure_blob.container", "pcsim-runs")
	v.SetDefault("azure_blob.spill.directory", "./spill/azure-blob")
	v.SetDefault("log_analytics.enabled", false)
	v.SetDefault("log_analytics.log_type", "PcsimRun")
	v.SetDefault("log_analytics.spill.directory", "./spill/log-analytics")
	v.SetDefault("vault.enabled", false)
	v.SetDefault("vault.kv_version", 2)
	v.SetDefault("vault.mount_path", "secret")
	v.SetDefault("vault.cache_ttl", "5m")
	v.SetDefault("vault.request_timeout", "10s")

	fs := flag.NewFlagSet("pcsim", flag.ContinueOnError)
	debug := fs.Int("debug", v.GetInt("debug"), "debug verbosity 0-3")
	seed := fs.Int64("seed", 0, "RNG seed for deterministic runs (0 = unseeded)")
	aging := fs.Int("aging-interval-ms", v.GetInt("aging_interval_ms"), "aging interval in ms (0 disables aging)")
	prodWait := fs.Float64("producer-max-wait-s", v.GetFloat64("producer_max_wait_s"), "max producer sleep in seconds")
	consWait := fs.Float64("consumer-max-wait-s", v.GetFloat64("consumer_max_wait_s"), "max consumer sleep in seconds")
	csvDir := fs.String("csv-dir", v.GetString("csv_dir"), "directory to write the per-run CSV trace")
	logLevel := fs.String("log-level", v.GetString("logging.level"), "debug|info|warn|error")
	logFormat := fs.String("log-format", v.GetString("logging.format"), "text|json")
	dashboard := fs.Bool("dashboard", v.GetBool("dashboard.enabled"), "enable the optional HTTP dashboard")
	dashboardAddr := fs.String("dashboard-addr", v.GetString("dashboard.addr"), "dashboard listen address")
	dashboardTLS := fs.Bool("dashboard-tls", v.GetBool("dashboard.tls"), "serve the dashboard over self-signed TLS")
	otlpEndpoint := fs.String("otlp-endpoint", v.GetString("otlp.endpoint"), "OTLP gRPC endpoint (enables tracing)")
	azureBlobAccountURL := fs.String("azure-blob-account-url", v.GetString("azure_blob.account_url"), "Azure Blob account URL (enables export)")
	azureBlobContainer := fs.String("azure-blob-container", v.GetString("azure_blob.container"), "Azure Blob container name")
	logAnalyticsWorkspace := fs.String("log-analytics-workspace-id", v.GetString("log_analytics.workspace_id"), "Azure Log Analytics workspace ID (enables export)")
	vaultAddr := fs.String("vault-addr", v.GetString("vault.address"), "Vault address (enables secret resolution)")
	vaultTokenFile := fs.String("vault-token-file", v.GetString("vault.token_file"), "path to a file containing the Vault token")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	pos := fs.Args()
	if len(pos) != 4 {
		return nil, fmt.Errorf("expected 4 positional arguments (producers consumers capacity timeout_seconds), got %d", len(pos))
	}
	producers, err := strconv.Atoi(pos[0])
	if err != nil {
		return nil, fmt.Errorf("invalid producers %q: %w", pos[0], err)
	}
	consumers, err := strconv.Atoi(pos[1])
	if err != nil {
		return nil, fmt.Errorf("invalid consumers %q: %w", pos[1], err)
	}
	capacity, err := strconv.Atoi(pos[2])
	if err != nil {
		return nil, fmt.Errorf("invalid capacity %q: %w", pos[2], err)
	}
	timeout, err := strconv.Atoi(pos[3])
	if err != nil {
		return nil, fmt.Errorf("invalid timeout_seconds %q: %w", pos[3], err)
	}

	cfg := &Config{
		Producers:        producers,
		Consumers:        consumers,
		Capacity:         capacity,
		TimeoutSeconds:   timeout,
		Debug:            *debug,
		Seed:             *seed,
		SeedSet:          *seed != 0,
		AgingIntervalMs:  *aging,
		ProducerMaxWaitS: *prodWait,
		ConsumerMaxWaitS: *consWait,
		CSVDir:           *csvDir,
		AuthToken:        v.GetString("auth_token"),
	}
	cfg.Logging.Level = *logLevel
	cfg.Logging.Format = *logFormat

	cfg.Dashboard.Enabled = *dashboard
	cfg.Dashboard.Addr = *dashboardAddr
	cfg.Dashboard.TLS = *dashboardTLS

	cfg.Telemetry.OTLP.Endpoint = *otlpEndpoint
	cfg.Telemetry.OTLP.Insecure = v.GetBool("otlp.insecure")
	cfg.Telemetry.OTLP.Timeout = v.GetDuration("otlp.timeout")
	cfg.Telemetry.OTLP.SampleRatio = v.GetFloat64("otlp.sample_ratio")

	cfg.AzureBlob.Enabled = *azureBlobAccountURL != ""
	cfg.AzureBlob.AccountURL = *azureBlobAccountURL
	cfg.AzureBlob.ConnectionString = v.GetString("azure_blob.connection_string")
	cfg.AzureBlob.Container = *azureBlobContainer
	cfg.AzureBlob.Spill.Directory = v.GetString("azure_blob.spill.directory")
	cfg.AzureBlob.Spill.Enabled = true

	cfg.LogAnalytics.Enabled = *logAnalyticsWorkspace != ""
	cfg.LogAnalytics.WorkspaceID = *logAnalyticsWorkspace
	cfg.LogAnalytics.SharedKey = v.GetString("log_analytics.shared_key")
	cfg.LogAnalytics.LogType = v.GetString("log_analytics.log_type")
	cfg.LogAnalytics.Spill.Directory = v.GetString("log_analytics.spill.directory")
	cfg.LogAnalytics.Spill.Enabled = true

	cfg.Vault.Enabled = *vaultAddr != ""
	cfg.Vault.Address = *vaultAddr
	cfg.Vault.TokenFile = *vaultTokenFile
	cfg.Vault.Token = v.GetString("vault.token")
	cfg.Vault.Namespace = v.GetString("vault.namespace")
	cfg.Vault.MountPath = v.GetString("vault.mount_path")
	cfg.Vault.KVVersion = v.GetInt("vault.kv_version")
	cfg.Vault.CacheTTL = v.GetDuration("vault.cache_ttl")
	cfg.Vault.RequestTimeout = v.GetDuration("vault.request_timeout")

	return cfg, nil
}

// Validate performs static validation against spec.md §6's bounds and
// returns separated errors (block startup) and warnings (do not).
func (c *Config) Validate() (errs []string, warnings []string) {
	if c.Producers < MinProducers || c.Producers > MaxProducers {
		errs = append(errs, fmt.Sprintf("producers must be between %d and %d (got %d)", MinProducers, MaxProducers, c.Producers))
	}
	if c.Consumers < MinConsumers || c.Consumers > MaxConsumers {
		errs = append(errs, fmt.Sprintf("consumers must be between %d and %d (got %d)", MinConsumers, MaxConsumers, c.Consumers))
	}
	if c.Capacity < MinCapacity || c.Capacity > MaxCapacity {
		errs = append(errs, fmt.Sprintf("capacity must be between %d and %d (got %d)", MinCapacity, MaxCapacity, c.Capacity))
	}
	if c.TimeoutSeconds < MinTimeout {
		errs = append(errs, fmt.Sprintf("timeout_seconds must be at least %d (got %d)", MinTimeout, c.TimeoutSeconds))
	}
	if c.Debug < 0 || c.Debug > 3 {
		errs = append(errs, fmt.Sprintf("debug must be between 0 and 3 (got %d)", c.Debug))
	}
	if c.AgingIntervalMs < 0 {
		errs = append(errs, "aging-interval-ms must be >= 0")
	}
	if c.ProducerMaxWaitS < 0 || c.ConsumerMaxWaitS < 0 {
		errs = append(errs, "producer/consumer max wait must be >= 0")
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "log-level must be debug|info|warn|error")
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		errs = append(errs, "log-format must be text|json")
	}
	if c.AzureBlob.Enabled && c.AzureBlob.Container == "" {
		errs = append(errs, "azure-blob-container required when azure blob export is enabled")
	}
	if c.LogAnalytics.Enabled && c.LogAnalytics.SharedKey == "" && !c.Vault.Enabled {
		warnings = append(warnings, "log-analytics-workspace-id set without a shared key or vault resolution; exporter setup will fail at startup")
	}
	if c.AuthToken == "" && c.Dashboard.Enabled {
		warnings = append(warnings, "dashboard enabled with no auth-token configured - unprotected")
	}
	return errs, warnings
}

// CSVPath returns the deterministic CSV trace path for this run, named
// from (producers, consumers, capacity) per spec.md §6.
func (c *Config) CSVPath() string {
	return fmt.Sprintf("%s/pcsim_p%d_c%d_q%d.csv", strings.TrimRight(c.CSVDir, "/"), c.Producers, c.Consumers, c.Capacity)
}

// ReportPath returns the deterministic JSON report path for this run.
func (c *Config) ReportPath() string {
	return fmt.Sprintf("%s/pcsim_p%d_c%d_q%d.json", strings.TrimRight(c.CSVDir, "/"), c.Producers, c.Consumers, c.Capacity)
}
