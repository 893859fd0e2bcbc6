package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadConfig 加载配置，支持多环境
// env: local, production, 或其他环境名称
// configDir: 配置文件目录，默认为 "config"
// 函数部署时可能没有任何配置文件，此时返回空 map，完全依赖环境变量
func LoadConfig(env string, configDir string) (map[string]interface{}, error) {
	if configDir == "" {
		configDir = "config"
	}

	// 1. 加载 base.yaml（可选）
	baseConfig, err := loadOptionalYAML(filepath.Join(configDir, "base.yaml"))
	if err != nil {
		return nil, fmt.Errorf("failed to load base.yaml: %w", err)
	}

	// 2. 加载环境特定配置（如果存在）
	envConfig := make(map[string]interface{})
	if env != "" && env != "base" {
		envConfig, err = loadOptionalYAML(filepath.Join(configDir, fmt.Sprintf("%s.yaml", env)))
		if err != nil {
			return nil, fmt.Errorf("failed to load %s.yaml: %w", env, err)
		}
	}

	// 3. 合并配置（环境配置覆盖基础配置）
	merged := mergeMaps(baseConfig, envConfig)

	// 4. 替换 ${VAR} 占位符：secrets.env 优先，其次是进程环境变量
	secrets := make(map[string]string)
	secretsFile := filepath.Join(configDir, "secrets.env")
	if _, err := os.Stat(secretsFile); err == nil {
		secrets, err = loadEnvFile(secretsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load secrets.env: %w", err)
		}
	}

	return substituteEnvVars(merged, secrets), nil
}

// LoadInto 加载配置并解码到 out（必须是指针）
func LoadInto(env, configDir string, out interface{}) error {
	cfgMap, err := LoadConfig(env, configDir)
	if err != nil {
		return err
	}

	// 经由 YAML 往返转换为结构体，保持 yaml tag 语义
	data, err := yaml.Marshal(cfgMap)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return nil
}

// loadOptionalYAML 加载 YAML 文件，文件不存在时返回空 map
func loadOptionalYAML(path string) (map[string]interface{}, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return make(map[string]interface{}), nil
	}
	if err != nil {
		return nil, err
	}

	config := make(map[string]interface{})
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, err
	}
	return config, nil
}

// loadEnvFile 加载 .env 文件
func loadEnvFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	env := make(map[string]string)
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		// 移除引号
		value = strings.Trim(value, `"`)
		value = strings.Trim(value, `'`)
		env[strings.TrimSpace(key)] = value
	}

	return env, nil
}

// mergeMaps 合并两个 map，dst 会被 src 覆盖
func mergeMaps(dst, src map[string]interface{}) map[string]interface{} {
	result := make(map[string]interface{}, len(dst)+len(src))
	for k, v := range dst {
		result[k] = v
	}

	for k, v := range src {
		dstMap, dstOK := result[k].(map[string]interface{})
		srcMap, srcOK := v.(map[string]interface{})
		if dstOK && srcOK {
			// 递归合并嵌套 map
			result[k] = mergeMaps(dstMap, srcMap)
			continue
		}
		result[k] = v
	}

	return result
}

// substituteEnvVars 替换配置中的环境变量占位符 ${VAR_NAME}
func substituteEnvVars(config map[string]interface{}, secrets map[string]string) map[string]interface{} {
	result := make(map[string]interface{}, len(config))
	for k, v := range config {
		switch val := v.(type) {
		case string:
			result[k] = substituteString(val, secrets)
		case map[string]interface{}:
			result[k] = substituteEnvVars(val, secrets)
		default:
			result[k] = v
		}
	}
	return result
}

// substituteString 替换字符串中的占位符，未定义的变量替换为空串
func substituteString(s string, secrets map[string]string) string {
	if !strings.Contains(s, "${") {
		return s
	}

	return os.Expand(s, func(key string) string {
		if v, ok := secrets[key]; ok {
			return v
		}
		return os.Getenv(key)
	})
}

// GetEnv 获取环境变量，如果未设置则返回默认值
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// GetConfigEnv 获取配置环境（从环境变量 CONFIG_ENV，默认为 local）
func GetConfigEnv() string {
	return GetEnv("CONFIG_ENV", "local")
}
