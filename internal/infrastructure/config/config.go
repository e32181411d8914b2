package config

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/facolos/etl/internal/domain/pipeline"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App       AppConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Log       LogConfig
	HTTP      HTTPConfig
	Scheduler SchedulerConfig
	Telemetry TelemetryConfig
	Metrics   MetricsConfig
	Storage   StorageConfig
	Pipeline  PipelineConfig
	Sources   map[string]SourceConfig
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name string
	Env  string
	Port string
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int // in minutes
	ConnMaxIdleTime int // in minutes
}

// RedisConfig holds Redis connection settings. When enabled, run locks are
// shared across instances.
type RedisConfig struct {
	Enabled    bool
	Host       string
	Port       int
	Password   string
	DB         int
	LockPrefix string
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	MaxHeaderBytes int
	MaxBodySize    int64
	TrustedProxies []string
	// AuthSecret signs HS256 bearer tokens for /api; empty disables auth
	AuthSecret string
	// RunRateLimit is the POST /runs rate per client IP (requests/second)
	RunRateLimit float64
	RunRateBurst int
}

// SchedulerConfig holds the periodic run scheduler configuration
type SchedulerConfig struct {
	Enabled             bool
	Workers             int
	QueueSize           int
	MonitorSchedule     string
	CleanupSchedule     string
	ShutdownGracePeriod time.Duration
}

// TelemetryConfig holds OpenTelemetry configuration
type TelemetryConfig struct {
	Enabled           bool    // Whether to enable OpenTelemetry
	CollectorEndpoint string  // OTEL Collector endpoint (e.g., "localhost:4317")
	SamplingRatio     float64 // Sampling ratio (0.0-1.0, 1.0 = 100%)
	ServiceName       string  // Service name for traces
	Insecure          bool    // Use insecure (non-TLS) connection (development only)
	DBTraceEnabled    bool    // Enable database query tracing (otelgorm)
	DBSlowQueryThresh time.Duration
}

// MetricsConfig holds Prometheus metrics configuration
type MetricsConfig struct {
	Enabled   bool
	Namespace string
	Path      string
}

// StorageConfig holds S3-compatible storage settings for raw page archives
type StorageConfig struct {
	Enabled      bool
	Endpoint     string
	Region       string
	Bucket       string
	AccessKey    string
	SecretKey    string
	UseSSL       bool
	UsePathStyle bool
	Prefix       string
}

// PipelineConfig holds settings shared by every run
type PipelineConfig struct {
	ChunkSize          int
	LookbackDays       int
	JobTimeout         time.Duration
	MaxBackoff         time.Duration
	LockTTL            time.Duration
	RetentionDays      int
	MonitorWindow      int
	MaxConsecutiveFail int
	MaxNoDataRuns      int
	MinSuccessRate     float64
	MaxRunDuration     time.Duration
	AlertWebhookURL    string
}

// Lookback returns the first-run lookback as a duration.
func (p PipelineConfig) Lookback() time.Duration {
	return time.Duration(p.LookbackDays) * 24 * time.Hour
}

// SourceConfig describes one extractable source and its staging target.
type SourceConfig struct {
	ID                 string            `mapstructure:"-"`
	Vendor             string            `mapstructure:"vendor" validate:"required,oneof=tiktok_shop misa_crm"`
	DisplayName        string            `mapstructure:"display_name"`
	Category           string            `mapstructure:"category" validate:"omitempty,oneof=ecommerce crm"`
	Active             bool              `mapstructure:"active"`
	Schedule           string            `mapstructure:"schedule"`
	BaseURL            string            `mapstructure:"base_url" validate:"required,url"`
	AuthEndpoint       string            `mapstructure:"auth_endpoint"`
	Resource           string            `mapstructure:"resource"`
	RateLimit          float64           `mapstructure:"rate_limit" validate:"gte=0"`
	RateBurst          int               `mapstructure:"rate_burst" validate:"gte=0"`
	PageSize           int               `mapstructure:"page_size" validate:"gte=0,lte=500"`
	MaxPages           int               `mapstructure:"max_pages" validate:"gte=0"`
	RetryAttempts      int               `mapstructure:"retry_attempts" validate:"gte=0,lte=20"`
	RetryBackoffBase   time.Duration     `mapstructure:"retry_backoff_base"`
	Timeout            time.Duration     `mapstructure:"timeout"`
	TokenRefreshBuffer time.Duration     `mapstructure:"token_refresh_buffer"`
	Credentials        map[string]string `mapstructure:"credentials"`
	Target             TargetConfig      `mapstructure:"target"`
}

// TargetConfig describes the staging table a source loads into.
type TargetConfig struct {
	TableName  string   `mapstructure:"table_name" validate:"required"`
	KeyColumns []string `mapstructure:"key_columns"`
	Mode       string   `mapstructure:"mode" validate:"omitempty,oneof=append upsert"`
}

// TargetTable converts the target settings to the domain type.
func (t TargetConfig) TargetTable() pipeline.TargetTable {
	return pipeline.TargetTable{
		Name:       t.TableName,
		KeyColumns: append([]string(nil), t.KeyColumns...),
		Mode:       pipeline.LoadMode(t.Mode),
	}
}

// vendorCategories is the category of each vendor when none is configured.
var vendorCategories = map[string]pipeline.SourceCategory{
	"tiktok_shop": pipeline.SourceCategoryEcommerce,
	"misa_crm":    pipeline.SourceCategoryCRM,
}

// DataSource converts the source settings to its registration. The
// watermark is not part of the configuration.
func (s SourceConfig) DataSource() pipeline.DataSource {
	category := pipeline.SourceCategory(s.Category)
	if category == "" {
		category = vendorCategories[s.Vendor]
	}
	name := s.DisplayName
	if name == "" {
		name = s.ID
	}
	return pipeline.DataSource{
		ID:                  s.ID,
		DisplayName:         name,
		Category:            category,
		Vendor:              s.Vendor,
		Active:              s.Active,
		ExtractionFrequency: s.Schedule,
		Target:              s.Target.TargetTable(),
	}
}

// Credential returns a credential value by name.
func (s SourceConfig) Credential(name string) string {
	return s.Credentials[name]
}

// requiredCredentials lists the credential names each vendor needs.
var requiredCredentials = map[string][]string{
	"tiktok_shop": {"app_key", "app_secret", "access_token", "refresh_token"},
	"misa_crm":    {"client_id", "client_secret"},
}

// CheckCredentials reports missing credentials as an operator error.
func (s SourceConfig) CheckCredentials() error {
	var missing []string
	for _, name := range requiredCredentials[s.Vendor] {
		if strings.TrimSpace(s.Credentials[name]) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return pipeline.NewOperatorError("config.credentials", "MISSING_CREDENTIALS",
			fmt.Errorf("%w: source %s lacks %s", pipeline.ErrMissingCredentials, s.ID, strings.Join(missing, ", ")))
	}
	return nil
}

// Source looks up a source by id.
func (c *Config) Source(id string) (SourceConfig, error) {
	src, ok := c.Sources[id]
	if !ok {
		return SourceConfig{}, pipeline.NewOperatorError("config.source", "UNKNOWN_SOURCE",
			fmt.Errorf("%w: %q", pipeline.ErrUnknownSource, id))
	}
	return src, nil
}

// SourceIDs returns configured source ids in stable order.
func (c *Config) SourceIDs() []string {
	ids := make([]string, 0, len(c.Sources))
	for id := range c.Sources {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Load loads configuration from TOML file and environment variables
// Priority (highest to lowest):
// 1. Environment variables with ETL_ prefix (e.g., ETL_DATABASE_PASSWORD)
// 2. config.toml
// 3. Built-in defaults
func Load() (*Config, error) {
	return LoadFrom("")
}

// LoadFrom loads configuration from an explicit file, or searches the
// default locations when path is empty.
func LoadFrom(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("toml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/facolos-etl")
	}

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || path != "" {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults and env vars
	}

	// Enable environment variable override
	v.SetEnvPrefix("ETL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
			Port: v.GetString("app.port"),
		},
		Database: DatabaseConfig{
			Host:            v.GetString("database.host"),
			Port:            v.GetInt("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			DBName:          v.GetString("database.dbname"),
			SSLMode:         v.GetString("database.sslmode"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetInt("database.conn_max_lifetime"),
			ConnMaxIdleTime: v.GetInt("database.conn_max_idle_time"),
		},
		Redis: RedisConfig{
			Enabled:    v.GetBool("redis.enabled"),
			Host:       v.GetString("redis.host"),
			Port:       v.GetInt("redis.port"),
			Password:   v.GetString("redis.password"),
			DB:         v.GetInt("redis.db"),
			LockPrefix: v.GetString("redis.lock_prefix"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		HTTP: HTTPConfig{
			ReadTimeout:    v.GetDuration("http.read_timeout"),
			WriteTimeout:   v.GetDuration("http.write_timeout"),
			IdleTimeout:    v.GetDuration("http.idle_timeout"),
			MaxHeaderBytes: v.GetInt("http.max_header_bytes"),
			MaxBodySize:    v.GetInt64("http.max_body_size"),
			TrustedProxies: v.GetStringSlice("http.trusted_proxies"),
			AuthSecret:     v.GetString("http.auth_secret"),
			RunRateLimit:   v.GetFloat64("http.run_rate_limit"),
			RunRateBurst:   v.GetInt("http.run_rate_burst"),
		},
		Scheduler: SchedulerConfig{
			Enabled:             v.GetBool("scheduler.enabled"),
			Workers:             v.GetInt("scheduler.workers"),
			QueueSize:           v.GetInt("scheduler.queue_size"),
			MonitorSchedule:     v.GetString("scheduler.monitor_schedule"),
			CleanupSchedule:     v.GetString("scheduler.cleanup_schedule"),
			ShutdownGracePeriod: v.GetDuration("scheduler.shutdown_grace_period"),
		},
		Telemetry: TelemetryConfig{
			Enabled:           v.GetBool("telemetry.enabled"),
			CollectorEndpoint: v.GetString("telemetry.collector_endpoint"),
			SamplingRatio:     v.GetFloat64("telemetry.sampling_ratio"),
			ServiceName:       v.GetString("telemetry.service_name"),
			Insecure:          v.GetBool("telemetry.insecure"),
			DBTraceEnabled:    v.GetBool("telemetry.db_trace_enabled"),
			DBSlowQueryThresh: v.GetDuration("telemetry.db_slow_query_threshold"),
		},
		Metrics: MetricsConfig{
			Enabled:   v.GetBool("metrics.enabled"),
			Namespace: v.GetString("metrics.namespace"),
			Path:      v.GetString("metrics.path"),
		},
		Storage: StorageConfig{
			Enabled:      v.GetBool("storage.enabled"),
			Endpoint:     v.GetString("storage.endpoint"),
			Region:       v.GetString("storage.region"),
			Bucket:       v.GetString("storage.bucket"),
			AccessKey:    v.GetString("storage.access_key"),
			SecretKey:    v.GetString("storage.secret_key"),
			UseSSL:       v.GetBool("storage.use_ssl"),
			UsePathStyle: v.GetBool("storage.use_path_style"),
			Prefix:       v.GetString("storage.prefix"),
		},
		Pipeline: PipelineConfig{
			ChunkSize:          v.GetInt("pipeline.chunk_size"),
			LookbackDays:       v.GetInt("pipeline.lookback_days"),
			JobTimeout:         v.GetDuration("pipeline.job_timeout"),
			MaxBackoff:         v.GetDuration("pipeline.max_backoff"),
			LockTTL:            v.GetDuration("pipeline.lock_ttl"),
			RetentionDays:      v.GetInt("pipeline.retention_days"),
			MonitorWindow:      v.GetInt("pipeline.monitor_window"),
			MaxConsecutiveFail: v.GetInt("pipeline.max_consecutive_failures"),
			MaxNoDataRuns:      v.GetInt("pipeline.max_no_data_runs"),
			MinSuccessRate:     v.GetFloat64("pipeline.min_success_rate"),
			MaxRunDuration:     v.GetDuration("pipeline.max_run_duration"),
			AlertWebhookURL:    v.GetString("pipeline.alert_webhook_url"),
		},
	}

	sources := map[string]SourceConfig{}
	if err := v.UnmarshalKey("sources", &sources); err != nil {
		return nil, fmt.Errorf("error decoding sources: %w", err)
	}
	for id, src := range sources {
		src.ID = id
		sources[id] = src
	}
	cfg.Sources = sources

	// Apply defaults for empty values
	applyDefaults(cfg)

	// Validate configuration
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "facolos-etl"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.App.Port == "" {
		cfg.App.Port = "8080"
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.User == "" {
		cfg.Database.User = "postgres"
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = "facolos_staging"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 60
	}
	if cfg.Database.ConnMaxIdleTime == 0 {
		cfg.Database.ConnMaxIdleTime = 30
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.Redis.LockPrefix == "" {
		cfg.Redis.LockPrefix = "etl:run-lock:"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}
	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 15 * time.Second
	}
	// Synchronous run requests can take as long as a job.
	if cfg.HTTP.WriteTimeout == 0 {
		cfg.HTTP.WriteTimeout = 35 * time.Minute
	}
	if cfg.HTTP.IdleTimeout == 0 {
		cfg.HTTP.IdleTimeout = 60 * time.Second
	}
	if cfg.HTTP.MaxHeaderBytes == 0 {
		cfg.HTTP.MaxHeaderBytes = 1 << 20 // 1MB
	}
	if cfg.HTTP.MaxBodySize == 0 {
		cfg.HTTP.MaxBodySize = 1 << 20 // 1MB
	}
	if cfg.HTTP.RunRateLimit == 0 {
		cfg.HTTP.RunRateLimit = 1
	}
	if cfg.HTTP.RunRateBurst == 0 {
		cfg.HTTP.RunRateBurst = 5
	}
	if cfg.Scheduler.Workers == 0 {
		cfg.Scheduler.Workers = 2
	}
	if cfg.Scheduler.QueueSize == 0 {
		cfg.Scheduler.QueueSize = 32
	}
	if cfg.Scheduler.MonitorSchedule == "" {
		cfg.Scheduler.MonitorSchedule = "*/15 * * * *"
	}
	if cfg.Scheduler.CleanupSchedule == "" {
		cfg.Scheduler.CleanupSchedule = "0 3 * * *"
	}
	if cfg.Scheduler.ShutdownGracePeriod == 0 {
		cfg.Scheduler.ShutdownGracePeriod = 30 * time.Second
	}
	if cfg.Telemetry.CollectorEndpoint == "" {
		cfg.Telemetry.CollectorEndpoint = "localhost:4317"
	}
	if cfg.Telemetry.SamplingRatio == 0 {
		cfg.Telemetry.SamplingRatio = 1.0
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "facolos-etl"
	}
	if cfg.Telemetry.DBSlowQueryThresh == 0 {
		cfg.Telemetry.DBSlowQueryThresh = 200 * time.Millisecond
	}
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = "etl"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.Storage.Region == "" {
		cfg.Storage.Region = "us-east-1"
	}
	if cfg.Storage.Prefix == "" {
		cfg.Storage.Prefix = "etl"
	}
	if cfg.Pipeline.ChunkSize == 0 {
		cfg.Pipeline.ChunkSize = 1000
	}
	if cfg.Pipeline.LookbackDays == 0 {
		cfg.Pipeline.LookbackDays = 7
	}
	if cfg.Pipeline.JobTimeout == 0 {
		cfg.Pipeline.JobTimeout = 30 * time.Minute
	}
	if cfg.Pipeline.MaxBackoff == 0 {
		cfg.Pipeline.MaxBackoff = 5 * time.Minute
	}
	if cfg.Pipeline.LockTTL == 0 {
		cfg.Pipeline.LockTTL = cfg.Pipeline.JobTimeout + 5*time.Minute
	}
	if cfg.Pipeline.RetentionDays == 0 {
		cfg.Pipeline.RetentionDays = 90
	}
	if cfg.Pipeline.MonitorWindow == 0 {
		cfg.Pipeline.MonitorWindow = 10
	}
	if cfg.Pipeline.MaxConsecutiveFail == 0 {
		cfg.Pipeline.MaxConsecutiveFail = 3
	}
	if cfg.Pipeline.MaxNoDataRuns == 0 {
		cfg.Pipeline.MaxNoDataRuns = 5
	}
	if cfg.Pipeline.MinSuccessRate == 0 {
		cfg.Pipeline.MinSuccessRate = 0.8
	}
	if cfg.Pipeline.MaxRunDuration == 0 {
		cfg.Pipeline.MaxRunDuration = 20 * time.Minute
	}

	for id, src := range cfg.Sources {
		applySourceDefaults(&src)
		cfg.Sources[id] = src
	}
}

func applySourceDefaults(src *SourceConfig) {
	if src.DisplayName == "" {
		src.DisplayName = src.ID
	}
	switch src.Vendor {
	case "tiktok_shop":
		if src.Category == "" {
			src.Category = string(pipeline.SourceCategoryEcommerce)
		}
		if src.AuthEndpoint == "" {
			src.AuthEndpoint = "/authorization/202309/token/refresh"
		}
		if src.PageSize == 0 {
			src.PageSize = 50
		}
	case "misa_crm":
		if src.Category == "" {
			src.Category = string(pipeline.SourceCategoryCRM)
		}
		if src.AuthEndpoint == "" {
			src.AuthEndpoint = "/Account"
		}
		if src.PageSize == 0 {
			src.PageSize = 100
		}
	}
	if src.Schedule == "" {
		src.Schedule = "@hourly"
	}
	if src.RateLimit == 0 {
		src.RateLimit = 5
	}
	if src.RateBurst == 0 {
		src.RateBurst = 1
	}
	if src.RetryAttempts == 0 {
		src.RetryAttempts = 3
	}
	if src.RetryBackoffBase == 0 {
		src.RetryBackoffBase = 5 * time.Second
	}
	if src.Timeout == 0 {
		src.Timeout = 30 * time.Second
	}
	if src.TokenRefreshBuffer == 0 {
		src.TokenRefreshBuffer = 5 * time.Minute
	}
	if src.Target.Mode == "" {
		src.Target.Mode = string(pipeline.LoadModeAppend)
	}
}

var structValidator = validator.New(validator.WithRequiredStructEnabled())

// validate performs validation on the configuration
func (c *Config) validate() error {
	// Validate connection pool settings
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns must be positive")
	}
	if c.Database.MaxIdleConns < 0 {
		return fmt.Errorf("database.max_idle_conns cannot be negative")
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("database.max_idle_conns (%d) cannot exceed database.max_open_conns (%d)",
			c.Database.MaxIdleConns, c.Database.MaxOpenConns)
	}

	if c.App.Env == "production" {
		if c.Database.Password == "" {
			return fmt.Errorf("database.password is required in production")
		}
		if c.Database.SSLMode == "disable" {
			return fmt.Errorf("database.sslmode cannot be 'disable' in production")
		}
	}

	if c.Telemetry.SamplingRatio < 0.0 || c.Telemetry.SamplingRatio > 1.0 {
		return fmt.Errorf("telemetry.sampling_ratio must be between 0.0 and 1.0, got %f", c.Telemetry.SamplingRatio)
	}
	if c.Pipeline.ChunkSize < 0 {
		return fmt.Errorf("pipeline.chunk_size cannot be negative")
	}
	if c.Pipeline.MinSuccessRate < 0 || c.Pipeline.MinSuccessRate > 1 {
		return fmt.Errorf("pipeline.min_success_rate must be between 0 and 1, got %f", c.Pipeline.MinSuccessRate)
	}
	if c.Storage.Enabled && c.Storage.Bucket == "" {
		return fmt.Errorf("storage.bucket is required when storage is enabled")
	}

	tables := make(map[string]string, len(c.Sources))
	for _, id := range c.SourceIDs() {
		src := c.Sources[id]
		if err := structValidator.Struct(src); err != nil {
			return pipeline.NewOperatorError("config.validate", "INVALID_SOURCE",
				fmt.Errorf("sources.%s: %w", id, err))
		}
		if err := src.Target.TargetTable().Validate(); err != nil {
			return fmt.Errorf("sources.%s.target: %w", id, err)
		}
		if other, dup := tables[src.Target.TableName]; dup {
			return pipeline.NewOperatorError("config.validate", "DUPLICATE_TARGET",
				fmt.Errorf("sources %s and %s both load %s", other, id, src.Target.TableName))
		}
		tables[src.Target.TableName] = id
		if src.Active {
			if err := src.CheckCredentials(); err != nil {
				return err
			}
		}
	}

	return nil
}

// DSN returns the database connection string with properly escaped values
func (d *DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   d.DBName,
	}
	q := u.Query()
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}
