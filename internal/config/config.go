package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // 容器镜像可能没有时区数据

	"lifedash/pkg/config"
)

// 数据来源
const (
	DriverRest     = "rest"
	DriverPostgres = "postgres"
)

type StoreConfig struct {
	Driver string `yaml:"driver"`
}

// NotificationConfig 发送策略
type NotificationConfig struct {
	Timezone             string `yaml:"timezone"`
	PacingMillis         int    `yaml:"pacing_millis"`
	RetryMaxAttempts     int    `yaml:"retry_max_attempts"`
	RetryBaseDelayMillis int    `yaml:"retry_base_delay_millis"`
	LockTTLSeconds       int    `yaml:"lock_ttl_seconds"`
}

type Config struct {
	Server       config.ServerConfig   `yaml:"server"`
	Store        StoreConfig           `yaml:"store"`
	Supabase     config.SupabaseConfig `yaml:"supabase"`
	DB           config.DBConfig       `yaml:"db"`
	Resend       config.ResendConfig   `yaml:"resend"`
	Redis        config.RedisConfig    `yaml:"redis"`
	MQ           config.MQConfig       `yaml:"mq"`
	JWT          config.JWTConfig      `yaml:"jwt"`
	Notification NotificationConfig    `yaml:"notification"`
}

// MissingError 缺少必需配置
type MissingError struct {
	Keys []string
}

func (e *MissingError) Error() string {
	return "missing required configuration: " + strings.Join(e.Keys, ", ")
}

// Load 使用统一配置中心加载配置，环境变量优先级最高
func Load() (*Config, error) {
	env := config.GetConfigEnv()
	configDir := config.GetEnv("CONFIG_DIR", "config")

	var cfg Config
	if err := config.LoadInto(env, configDir, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	config.OverrideServerFromEnv(&cfg.Server)
	config.OverrideSupabaseFromEnv(&cfg.Supabase)
	config.OverrideDBFromEnv(&cfg.DB)
	config.OverrideResendFromEnv(&cfg.Resend)
	config.OverrideRedisFromEnv(&cfg.Redis)
	config.OverrideMQFromEnv(&cfg.MQ)
	config.OverrideJWTFromEnv(&cfg.JWT)
	overrideNotificationFromEnv(&cfg.Notification)
	if driver := config.GetEnv("STORE_DRIVER", ""); driver != "" {
		cfg.Store.Driver = driver
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func overrideNotificationFromEnv(cfg *NotificationConfig) {
	if tz := config.GetEnv("NOTIFICATION_TIMEZONE", ""); tz != "" {
		cfg.Timezone = tz
	}
	if v := config.GetEnv("NOTIFICATION_PACING_MILLIS", ""); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PacingMillis = n
		}
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = ":8080"
	}
	if c.Store.Driver == "" {
		c.Store.Driver = DriverRest
	}
	if c.Supabase.Schema == "" {
		c.Supabase.Schema = "private"
	}
	if c.DB.Port == 0 {
		c.DB.Port = 5432
	}
	if c.Resend.BaseURL == "" {
		c.Resend.BaseURL = "https://api.resend.com"
	}
	if c.Resend.TimeoutSeconds <= 0 {
		c.Resend.TimeoutSeconds = 10
	}
	if c.JWT.Role == "" {
		c.JWT.Role = "service_role"
	}

	n := &c.Notification
	if n.Timezone == "" {
		n.Timezone = "Asia/Seoul"
	}
	if n.PacingMillis < 0 {
		n.PacingMillis = 0
	} else if n.PacingMillis == 0 {
		n.PacingMillis = 600
	}
	if n.RetryMaxAttempts <= 0 {
		n.RetryMaxAttempts = 3
	}
	if n.RetryBaseDelayMillis <= 0 {
		n.RetryBaseDelayMillis = 500
	}
	if n.LockTTLSeconds <= 0 {
		n.LockTTLSeconds = 900
	}
}

// Validate 检查一次运行所需的配置，缺失项以环境变量名报告
func (c *Config) Validate() error {
	var missing []string
	switch c.Store.Driver {
	case DriverRest:
		if c.Supabase.URL == "" {
			missing = append(missing, "SUPABASE_URL")
		}
		if c.Supabase.ServiceRoleKey == "" {
			missing = append(missing, "SUPABASE_SERVICE_ROLE_KEY")
		}
	case DriverPostgres:
		if c.DB.Host == "" {
			missing = append(missing, "DB_HOST")
		}
		if c.DB.Name == "" {
			missing = append(missing, "DB_NAME")
		}
		if c.DB.User == "" {
			missing = append(missing, "DB_USER")
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if c.Resend.APIKey == "" {
		missing = append(missing, "RESEND_API_KEY")
	}
	if c.Resend.From == "" {
		missing = append(missing, "RESEND_FROM")
	}
	if len(missing) > 0 {
		return &MissingError{Keys: missing}
	}

	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Location 显示用时区
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Notification.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid notification.timezone %q: %w", c.Notification.Timezone, err)
	}
	return loc, nil
}

func (n NotificationConfig) Pacing() time.Duration {
	return time.Duration(n.PacingMillis) * time.Millisecond
}

func (n NotificationConfig) RetryBaseDelay() time.Duration {
	return time.Duration(n.RetryBaseDelayMillis) * time.Millisecond
}

func (n NotificationConfig) LockTTL() time.Duration {
	return time.Duration(n.LockTTLSeconds) * time.Second
}
