package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 应用配置
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Upstream  UpstreamConfig  `yaml:"upstream"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	CORS      CORSConfig      `yaml:"cors"`
	Keys      KeysConfig      `yaml:"keys"`
	Database  DatabaseConfig  `yaml:"database"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	AdminAPIKey    string   `yaml:"admin_api_key"`
	TrustedProxies []string `yaml:"trusted_proxies"`
	BodyLimitMB    int      `yaml:"body_limit_mb"`
}

// UpstreamConfig 上游服务配置
type UpstreamConfig struct {
	BaseURL       string            `yaml:"base_url"`
	APIKey        string            `yaml:"api_key"`
	Referer       string            `yaml:"referer"`
	Title         string            `yaml:"title"`
	Timeout       int               `yaml:"timeout"` // 秒
	ModelFamilies []string          `yaml:"model_families"`
	ModelAliases  map[string]string `yaml:"model_aliases"`
}

// RateLimitConfig 频率限制配置
type RateLimitConfig struct {
	WindowMs    int `yaml:"window_ms"`
	MaxRequests int `yaml:"max_requests"`
}

// CORSConfig 跨域配置
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// KeysConfig 密钥配置
type KeysConfig struct {
	Prefix string `yaml:"prefix"`
}

// DatabaseConfig 请求日志数据库配置
type DatabaseConfig struct {
	Driver        string `yaml:"driver"` // sqlite | postgres | none
	DSN           string `yaml:"dsn"`
	RetentionDays int    `yaml:"retention_days"`
}

// LoggingConfig 日志配置
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Window returns the rate limit window as a duration.
func (r RateLimitConfig) Window() time.Duration {
	return time.Duration(r.WindowMs) * time.Millisecond
}

// RequestTimeout returns the upstream timeout as a duration.
func (u UpstreamConfig) RequestTimeout() time.Duration {
	return time.Duration(u.Timeout) * time.Second
}

// Addr returns host:port for the HTTP listener.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Default 返回只含默认值的配置，不读取环境变量也不校验
func Default() *Config {
	cfg := &Config{}
	setDefaults(cfg)
	return cfg
}

// Load 从文件加载配置，文件不存在时只使用默认值和环境变量
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	if err := applyEnv(cfg, os.Getenv); err != nil {
		return nil, err
	}
	setDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv 环境变量覆盖
func applyEnv(cfg *Config, getenv func(string) string) error {
	if v := getenv("HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid PORT %q: %w", v, err)
		}
		cfg.Server.Port = port
	}
	if v := getenv("ADMIN_API_KEY"); v != "" {
		cfg.Server.AdminAPIKey = v
	}
	if v := getenv("OPENROUTER_API_KEY"); v != "" {
		cfg.Upstream.APIKey = v
	}
	if v := getenv("UPSTREAM_BASE_URL"); v != "" {
		cfg.Upstream.BaseURL = v
	}
	if v := getenv("ALLOWED_ORIGINS"); v != "" {
		cfg.CORS.AllowedOrigins = splitList(v)
	}
	if v := getenv("RATE_LIMIT_WINDOW_MS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid RATE_LIMIT_WINDOW_MS %q: %w", v, err)
		}
		cfg.RateLimit.WindowMs = n
	}
	if v := getenv("RATE_LIMIT_MAX_REQUESTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid RATE_LIMIT_MAX_REQUESTS %q: %w", v, err)
		}
		cfg.RateLimit.MaxRequests = n
	}
	if v := getenv("DATABASE_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := getenv("DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// setDefaults 设置默认值
func setDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 11434
	}
	if cfg.Server.BodyLimitMB == 0 {
		cfg.Server.BodyLimitMB = 10
	}
	if cfg.Upstream.BaseURL == "" {
		cfg.Upstream.BaseURL = "https://openrouter.ai/api/v1"
	}
	cfg.Upstream.BaseURL = strings.TrimRight(cfg.Upstream.BaseURL, "/")
	if cfg.Upstream.Referer == "" {
		cfg.Upstream.Referer = "https://soundbysoundslowly.com"
	}
	if cfg.Upstream.Title == "" {
		cfg.Upstream.Title = "Sound by Sound Slowly API Service"
	}
	if cfg.Upstream.Timeout == 0 {
		cfg.Upstream.Timeout = 120
	}
	if len(cfg.Upstream.ModelFamilies) == 0 {
		cfg.Upstream.ModelFamilies = []string{"gpt-4o-mini", "gpt-4o"}
	}
	if cfg.Upstream.ModelAliases == nil {
		cfg.Upstream.ModelAliases = map[string]string{
			"gpt-4o-mini": "openai/gpt-4o-mini",
		}
	}
	if cfg.RateLimit.WindowMs == 0 {
		cfg.RateLimit.WindowMs = 15 * 60 * 1000
	}
	if cfg.RateLimit.MaxRequests == 0 {
		cfg.RateLimit.MaxRequests = 100
	}
	if len(cfg.CORS.AllowedOrigins) == 0 {
		cfg.CORS.AllowedOrigins = []string{"*"}
	}
	if cfg.Keys.Prefix == "" {
		cfg.Keys.Prefix = "sbs_"
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if cfg.Database.DSN == "" && cfg.Database.Driver == "sqlite" {
		cfg.Database.DSN = "./data/gateway.db"
	}
	if cfg.Database.RetentionDays == 0 {
		cfg.Database.RetentionDays = 7
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

// Validate 校验配置
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Upstream.APIKey) == "" {
		return errors.New("upstream api key is required (upstream.api_key or OPENROUTER_API_KEY)")
	}
	if c.RateLimit.WindowMs < 0 || c.RateLimit.MaxRequests < 0 {
		return errors.New("rate_limit window_ms and max_requests must be positive")
	}
	switch c.Database.Driver {
	case "sqlite", "postgres", "none":
	default:
		return fmt.Errorf("unsupported database driver %q (use sqlite, postgres or none)", c.Database.Driver)
	}
	if c.Database.Driver == "postgres" && c.Database.DSN == "" {
		return errors.New("database.dsn is required for postgres")
	}
	return nil
}

// Save 保存配置到文件
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
