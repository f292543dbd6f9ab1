package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Auth modes for the upstream provider
const (
	AuthModeAPIKey = "api_key"
	AuthModeEntra  = "entra"
)

// Config represents the application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Upstream UpstreamConfig `mapstructure:"upstream"`
	Security SecurityConfig `mapstructure:"security"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// UpstreamConfig describes the hosted chat-completion deployment.
type UpstreamConfig struct {
	ResourceName   string        `mapstructure:"resource_name"`
	DeploymentName string        `mapstructure:"deployment_name"`
	APIVersion     string        `mapstructure:"api_version"`
	APIKey         string        `mapstructure:"api_key"`
	BaseURL        string        `mapstructure:"base_url"`
	UserAgent      string        `mapstructure:"user_agent"`
	Timeout        time.Duration `mapstructure:"timeout"`
	Auth           AuthConfig    `mapstructure:"auth"`
}

// AuthConfig selects how outbound calls authenticate. The entra mode uses the
// OAuth2 client-credentials grant against Microsoft Entra ID.
type AuthConfig struct {
	Mode         string   `mapstructure:"mode"`
	TenantID     string   `mapstructure:"tenant_id"`
	ClientID     string   `mapstructure:"client_id"`
	ClientSecret string   `mapstructure:"client_secret"`
	TokenURL     string   `mapstructure:"token_url"`
	Scopes       []string `mapstructure:"scopes"`
}

type SecurityConfig struct {
	EnableCORS     bool     `mapstructure:"enable_cors"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type LoggingConfig struct {
	Level         string `mapstructure:"level"`
	Format        string `mapstructure:"format"`
	Output        string `mapstructure:"output"`
	ConsoleOutput bool   `mapstructure:"console_output"`
	MaxSize       int    `mapstructure:"max_size"`
	MaxBackups    int    `mapstructure:"max_backups"`
	MaxAge        int    `mapstructure:"max_age"`
	Compress      bool   `mapstructure:"compress"`
}

type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Path      string `mapstructure:"path"`
	Namespace string `mapstructure:"namespace"`
}

// envBindings maps config keys to the environment variables the service has
// always been deployed with.
var envBindings = map[string]string{
	"upstream.api_key":            "AZURE_API_KEY",
	"upstream.resource_name":      "AZURE_RESOURCE_NAME",
	"upstream.deployment_name":    "AZURE_DEPLOYMENT_NAME",
	"upstream.api_version":        "AZURE_API_VERSION",
	"upstream.base_url":           "AZURE_BASE_URL",
	"upstream.auth.mode":          "AZURE_AUTH_MODE",
	"upstream.auth.tenant_id":     "AZURE_TENANT_ID",
	"upstream.auth.client_id":     "AZURE_CLIENT_ID",
	"upstream.auth.client_secret": "AZURE_CLIENT_SECRET",
	"server.port":                 "PORT",
}

// envKeys are bound under their upper-snake names (upstream.timeout ->
// UPSTREAM_TIMEOUT) so Unmarshal sees them without a config file.
var envKeys = []string{
	"server.host", "server.mode", "server.read_timeout", "server.write_timeout", "server.shutdown_timeout",
	"upstream.user_agent", "upstream.timeout", "upstream.auth.token_url", "upstream.auth.scopes",
	"security.enable_cors", "security.allowed_origins",
	"logging.level", "logging.format", "logging.output", "logging.console_output",
	"logging.max_size", "logging.max_backups", "logging.max_age", "logging.compress",
	"metrics.enabled", "metrics.path", "metrics.namespace",
}

// BindEnv registers the explicit environment bindings and the defaults that
// must be visible to viper before Unmarshal.
func BindEnv(v *viper.Viper) {
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range envKeys {
		_ = v.BindEnv(key, strings.ToUpper(strings.ReplaceAll(key, ".", "_")))
	}
	for key, env := range envBindings {
		_ = v.BindEnv(key, env)
	}

	// bools cannot be defaulted after Unmarshal since false is meaningful
	v.SetDefault("security.enable_cors", true)
	v.SetDefault("logging.console_output", true)
	v.SetDefault("metrics.enabled", true)
}

// Load loads the configuration from the global viper instance
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom unmarshals, defaults and validates the configuration held by v.
func LoadFrom(v *viper.Viper) (*Config, error) {
	var cfg Config

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// Endpoint returns the chat completions URL for the configured deployment.
func (u UpstreamConfig) Endpoint() string {
	base := strings.TrimRight(u.BaseURL, "/")
	if base == "" {
		base = fmt.Sprintf("https://%s.openai.azure.com", u.ResourceName)
	}
	return fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
		base, url.PathEscape(u.DeploymentName), url.QueryEscape(u.APIVersion))
}

// Addr returns the listen address
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

func setDefaults(cfg *Config) {
	// 服务器配置
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 3000
	}
	if cfg.Server.Mode == "" {
		cfg.Server.Mode = "release"
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 30 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}

	// Upstream
	if cfg.Upstream.Timeout == 0 {
		cfg.Upstream.Timeout = 20 * time.Second
	}
	if cfg.Upstream.UserAgent == "" {
		cfg.Upstream.UserAgent = "tripwise-relay/1.0"
	}
	if cfg.Upstream.Auth.Mode == "" {
		cfg.Upstream.Auth.Mode = AuthModeAPIKey
	}
	if cfg.Upstream.Auth.Mode == AuthModeEntra {
		if cfg.Upstream.Auth.TokenURL == "" && cfg.Upstream.Auth.TenantID != "" {
			cfg.Upstream.Auth.TokenURL = fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", cfg.Upstream.Auth.TenantID)
		}
		if len(cfg.Upstream.Auth.Scopes) == 0 {
			cfg.Upstream.Auth.Scopes = []string{"https://cognitiveservices.azure.com/.default"}
		}
	}

	// CORS: any origin unless narrowed
	if len(cfg.Security.AllowedOrigins) == 0 {
		cfg.Security.AllowedOrigins = []string{"*"}
	}

	// 日志配置
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "logs/tripwise.log"
	}
	if cfg.Logging.MaxSize == 0 {
		cfg.Logging.MaxSize = 100
	}
	if cfg.Logging.MaxBackups == 0 {
		cfg.Logging.MaxBackups = 10
	}
	if cfg.Logging.MaxAge == 0 {
		cfg.Logging.MaxAge = 30
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = "tripwise"
	}
}

func validate(cfg *Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", cfg.Server.Port)
	}

	switch cfg.Server.Mode {
	case "debug", "release", "test":
	default:
		return fmt.Errorf("invalid server mode: %q (want debug, release or test)", cfg.Server.Mode)
	}

	up := cfg.Upstream
	if up.ResourceName == "" && up.BaseURL == "" {
		return fmt.Errorf("upstream.resource_name or upstream.base_url is required")
	}
	if up.DeploymentName == "" {
		return fmt.Errorf("upstream.deployment_name is required")
	}
	if up.APIVersion == "" {
		return fmt.Errorf("upstream.api_version is required")
	}
	if up.Timeout < 0 {
		return fmt.Errorf("invalid upstream timeout: %s", up.Timeout)
	}

	switch up.Auth.Mode {
	case AuthModeAPIKey:
		if up.APIKey == "" {
			return fmt.Errorf("upstream.api_key is required when auth mode is %q", AuthModeAPIKey)
		}
	case AuthModeEntra:
		if up.Auth.ClientID == "" || up.Auth.ClientSecret == "" {
			return fmt.Errorf("upstream.auth.client_id and client_secret are required when auth mode is %q", AuthModeEntra)
		}
		if up.Auth.TokenURL == "" {
			return fmt.Errorf("upstream.auth.tenant_id or token_url is required when auth mode is %q", AuthModeEntra)
		}
	default:
		return fmt.Errorf("unknown upstream auth mode: %q", up.Auth.Mode)
	}

	return nil
}
