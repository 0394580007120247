package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// PathEnvVar names an optional YAML file layered under the environment.
const PathEnvVar = "CONFIG_PATH"

const (
	defaultAllowedCountry    = "US"
	defaultLocalTZ           = "America/New_York"
	defaultLogDir            = "./logs"
	defaultSuppressionWindow = 8 * time.Hour
	defaultHTTPTimeout       = 90 * time.Second
	defaultWatermarkLookback = 24 * time.Hour
	defaultWebhookRate       = 2.0
	defaultBreakerFailures   = 3
	defaultActionURL         = "https://security.microsoft.com"
	defaultVaultSecretMount  = "secret"
	defaultVaultSecretKey    = "client_secret"
)

// State file names inside LogDir.
const (
	WatermarkFile   = "geo_alert.last_ts"
	SuppressionFile = "geo_alert.alerts.json"
	CSVFile         = "geo_alert.csv"
	AlertLogFile    = "geo_alert.log"
	ErrorLogFile    = "geo_alert.error.log"
	LockFile        = "geo_alert.lock"
)

type Config struct {
	TenantID     string `koanf:"tenant_id" validate:"notblank" env:"TENANT_ID"`
	ClientID     string `koanf:"client_id" validate:"notblank" env:"CLIENT_ID"`
	ClientSecret string `koanf:"client_secret" env:"CLIENT_SECRET"`
	GroupID      string `koanf:"group_id" validate:"notblank" env:"GROUP_ID"`
	TeamsWebhook string `koanf:"teams_webhook" validate:"notblank,url" env:"TEAMS_WEBHOOK"`

	AllowedCountry string `koanf:"allowed_country" validate:"len=2,alpha" env:"ALLOWED_COUNTRY"`
	LocalTZ        string `koanf:"local_tz" validate:"notblank" env:"LOCAL_TZ"`
	LogDir         string `koanf:"log_dir" validate:"notblank" env:"LOG_DIR"`

	SuppressionWindow time.Duration `koanf:"suppression_window" validate:"gt=0" env:"SUPPRESSION_WINDOW"`
	HTTPTimeout       time.Duration `koanf:"http_timeout" validate:"gt=0" env:"HTTP_TIMEOUT"`
	WatermarkLookback time.Duration `koanf:"watermark_lookback" validate:"gt=0" env:"WATERMARK_LOOKBACK"`

	WebhookRatePerSecond   float64 `koanf:"webhook_rate_per_second" validate:"gt=0" env:"WEBHOOK_RATE_PER_SECOND"`
	WebhookBreakerFailures int     `koanf:"webhook_breaker_failures" validate:"min=1" env:"WEBHOOK_BREAKER_FAILURES"`
	ActionURL              string  `koanf:"action_url" validate:"notblank,url" env:"ACTION_URL"`

	GraphBaseURL     string `koanf:"graph_base_url" validate:"omitempty,url" env:"GRAPH_BASE_URL"`
	GraphBetaBaseURL string `koanf:"graph_beta_base_url" validate:"omitempty,url" env:"GRAPH_BETA_BASE_URL"`
	AuthorityBaseURL string `koanf:"authority_base_url" validate:"omitempty,url" env:"AUTHORITY_BASE_URL"`

	MetricsTextfile string `koanf:"metrics_textfile" env:"METRICS_TEXTFILE"`

	Vault VaultConfig `koanf:"vault"`

	// Location is resolved from LocalTZ during Load.
	Location *time.Location `koanf:"-"`
}

type VaultConfig struct {
	Address          string `koanf:"addr" validate:"omitempty,url" env:"VAULT_ADDR"`
	Namespace        string `koanf:"namespace" env:"VAULT_NAMESPACE"`
	AuthType         string `koanf:"auth_type" validate:"omitempty,oneof=token approle" env:"VAULT_AUTH_TYPE"`
	Token            string `koanf:"token" env:"VAULT_TOKEN"`
	AppRoleRoleID    string `koanf:"approle_role_id" env:"VAULT_APPROLE_ROLE_ID"`
	AppRoleSecretID  string `koanf:"approle_secret_id" env:"VAULT_APPROLE_SECRET_ID"`
	AppRoleMountPath string `koanf:"approle_mount" env:"VAULT_APPROLE_MOUNT"`
	SecretMount      string `koanf:"secret_mount" env:"VAULT_SECRET_MOUNT"`
	SecretPath       string `koanf:"secret_path" env:"VAULT_SECRET_PATH"`
	SecretKey        string `koanf:"secret_key" env:"VAULT_SECRET_KEY"`
}

// Enabled reports whether the client secret should be read from Vault.
func (v VaultConfig) Enabled() bool {
	return strings.TrimSpace(v.SecretPath) != ""
}

// ConfigurationError reports a missing or invalid setting. It is fatal and
// raised before any network call.
type ConfigurationError struct {
	Key    string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Key == "" {
		return "invalid configuration: " + e.Reason
	}
	return fmt.Sprintf("invalid configuration: %s %s", e.Key, e.Reason)
}

// Path joins name onto the state directory.
func (c Config) Path(name string) string {
	return filepath.Join(c.LogDir, name)
}

func defaults() Config {
	return Config{
		AllowedCountry:         defaultAllowedCountry,
		LocalTZ:                defaultLocalTZ,
		LogDir:                 defaultLogDir,
		SuppressionWindow:      defaultSuppressionWindow,
		HTTPTimeout:            defaultHTTPTimeout,
		WatermarkLookback:      defaultWatermarkLookback,
		WebhookRatePerSecond:   defaultWebhookRate,
		WebhookBreakerFailures: defaultBreakerFailures,
		ActionURL:              defaultActionURL,
		Vault: VaultConfig{
			SecretMount: defaultVaultSecretMount,
			SecretKey:   defaultVaultSecretKey,
		},
	}
}

// Load reads .env, the optional CONFIG_PATH YAML file and the environment,
// in increasing precedence, and validates the result.
func Load() (Config, error) {
	cfg, err := load()
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadState is Load for commands that only touch the state directory. Only
// LOG_DIR and LOCAL_TZ are validated.
func LoadState() (Config, error) {
	cfg, err := load()
	if err != nil {
		return Config{}, err
	}
	if err := defaultValidator.StructPartial(&cfg, "LocalTZ", "LogDir"); err != nil {
		return Config{}, configurationError(err)
	}
	if err := cfg.resolveLocation(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func load() (Config, error) {
	if err := godotenv.Load(); err != nil {
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) {
			return Config{}, err
		}
	}

	k := koanf.New(".")
	if err := k.Load(structs.Provider(defaults(), "koanf"), nil); err != nil {
		return Config{}, fmt.Errorf("load defaults: %w", err)
	}
	if path := strings.TrimSpace(os.Getenv(PathEnvVar)); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, &ConfigurationError{Key: PathEnvVar, Reason: err.Error()}
		}
	}
	if err := k.Load(env.ProviderWithValue("", ".", envValue), nil); err != nil {
		return Config{}, fmt.Errorf("load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, &ConfigurationError{Reason: err.Error()}
	}
	cfg.normalize()
	return cfg, nil
}

func (c *Config) normalize() {
	c.TenantID = strings.TrimSpace(c.TenantID)
	c.ClientID = strings.TrimSpace(c.ClientID)
	c.ClientSecret = strings.TrimSpace(c.ClientSecret)
	c.GroupID = strings.TrimSpace(c.GroupID)
	c.TeamsWebhook = strings.TrimSpace(c.TeamsWebhook)
	c.AllowedCountry = strings.ToUpper(strings.TrimSpace(c.AllowedCountry))
	c.LocalTZ = strings.TrimSpace(c.LocalTZ)
	c.LogDir = strings.TrimSpace(c.LogDir)
	c.Vault.AuthType = strings.ToLower(strings.TrimSpace(c.Vault.AuthType))
}

// Validate checks required settings and resolves the configured time zone.
func (c *Config) Validate() error {
	if err := defaultValidator.Struct(c); err != nil {
		return configurationError(err)
	}
	if c.ClientSecret == "" && !c.Vault.Enabled() {
		return &ConfigurationError{Key: "CLIENT_SECRET", Reason: "is required (or set VAULT_SECRET_PATH)"}
	}
	if c.Vault.Enabled() && strings.TrimSpace(c.Vault.Address) == "" {
		return &ConfigurationError{Key: "VAULT_ADDR", Reason: "is required when VAULT_SECRET_PATH is set"}
	}
	return c.resolveLocation()
}

func (c *Config) resolveLocation() error {
	loc, err := time.LoadLocation(c.LocalTZ)
	if err != nil {
		return &ConfigurationError{Key: "LOCAL_TZ", Reason: err.Error()}
	}
	c.Location = loc
	return nil
}
