package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := strconv.ParseInt(raw, 10, 64); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// Config 是 TOML 配置文件映射的整体结构，单实例网关共享一份。
type Config struct {
	ListenPort    int    `mapstructure:"ListenPort"`
	LogLevel      string `mapstructure:"LogLevel"`
	LogFilePath   string `mapstructure:"LogFilePath"`
	LogMaxSize    int    `mapstructure:"LogMaxSize"`
	LogMaxBackups int    `mapstructure:"LogMaxBackups"`
	LogCompress   bool   `mapstructure:"LogCompress"`

	// StoragePath 为响应缓存各 generation 的根目录，DatabasePath 为实体库文件。
	StoragePath  string `mapstructure:"StoragePath"`
	DatabasePath string `mapstructure:"DatabasePath"`

	// OriginBaseURL 指向故事 API 上游，所有被拦截的 GET 均回源到这里。
	OriginBaseURL   string   `mapstructure:"OriginBaseURL"`
	UpstreamTimeout Duration `mapstructure:"UpstreamTimeout"`

	// CacheGeneration 为当前缓存代名称，必须携带 GenerationPrefix；
	// 激活阶段只清理同前缀的旧代，避免误删不属于本应用的缓存目录。
	CacheGeneration  string   `mapstructure:"CacheGeneration"`
	GenerationPrefix string   `mapstructure:"GenerationPrefix"`
	PrecacheURLs     []string `mapstructure:"PrecacheURLs"`

	// VAPIDPublicKey 是推送订阅使用的公开 application server key。
	VAPIDPublicKey string `mapstructure:"VAPIDPublicKey"`
}
