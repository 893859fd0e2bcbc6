package config

import (
	"os"
	"strconv"
)

// DBConfig 数据库配置
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"sslmode"`
}

// MQConfig 消息队列配置
type MQConfig struct {
	URL string `yaml:"url"`
}

// RedisConfig Redis配置
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// JWTConfig JWT配置
type JWTConfig struct {
	Secret string `yaml:"secret"`
	Role   string `yaml:"role"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Port string `yaml:"port"`
}

// SupabaseConfig 托管数据库（PostgREST）配置
type SupabaseConfig struct {
	URL            string `yaml:"url"`
	ServiceRoleKey string `yaml:"service_role_key"`
	Schema         string `yaml:"schema"`
}

// ResendConfig 邮件服务配置
type ResendConfig struct {
	BaseURL        string `yaml:"base_url"`
	APIKey         string `yaml:"api_key"`
	From           string `yaml:"from"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// OverrideDBFromEnv 从环境变量覆盖数据库配置
func OverrideDBFromEnv(cfg *DBConfig) {
	if host := os.Getenv("DB_HOST"); host != "" {
		cfg.Host = host
	}
	if port := os.Getenv("DB_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Port = p
		}
	}
	if user := os.Getenv("DB_USER"); user != "" {
		cfg.User = user
	}
	if password := os.Getenv("DB_PASSWORD"); password != "" {
		cfg.Password = password
	}
	if name := os.Getenv("DB_NAME"); name != "" {
		cfg.Name = name
	}
	if mode := os.Getenv("DB_SSLMODE"); mode != "" {
		cfg.SSLMode = mode
	}
}

// OverrideMQFromEnv 从环境变量覆盖MQ配置
func OverrideMQFromEnv(cfg *MQConfig) {
	if url := os.Getenv("MQ_URL"); url != "" {
		cfg.URL = url
	}
}

// OverrideRedisFromEnv 从环境变量覆盖Redis配置
func OverrideRedisFromEnv(cfg *RedisConfig) {
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Addr = addr
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.Password = password
	}
}

// OverrideJWTFromEnv 从环境变量覆盖JWT配置
func OverrideJWTFromEnv(cfg *JWTConfig) {
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		cfg.Secret = secret
	}
}

// OverrideServerFromEnv 从环境变量覆盖服务器配置
func OverrideServerFromEnv(cfg *ServerConfig) {
	if port := os.Getenv("SERVER_PORT"); port != "" {
		cfg.Port = port
	}
}

// OverrideSupabaseFromEnv 从环境变量覆盖 Supabase 配置
func OverrideSupabaseFromEnv(cfg *SupabaseConfig) {
	if url := os.Getenv("SUPABASE_URL"); url != "" {
		cfg.URL = url
	}
	if key := os.Getenv("SUPABASE_SERVICE_ROLE_KEY"); key != "" {
		cfg.ServiceRoleKey = key
	}
}

// OverrideResendFromEnv 从环境变量覆盖 Resend 配置
func OverrideResendFromEnv(cfg *ResendConfig) {
	if key := os.Getenv("RESEND_API_KEY"); key != "" {
		cfg.APIKey = key
	}
	if from := os.Getenv("RESEND_FROM"); from != "" {
		cfg.From = from
	}
	if base := os.Getenv("RESEND_BASE_URL"); base != "" {
		cfg.BaseURL = base
	}
}
