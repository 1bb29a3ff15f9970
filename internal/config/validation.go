package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	if c.ListenPort <= 0 || c.ListenPort > 65535 {
		return newFieldError("ListenPort", "必须在 1-65535")
	}
	if c.StoragePath == "" {
		return newFieldError("StoragePath", "不能为空")
	}
	if c.DatabasePath == "" {
		return newFieldError("DatabasePath", "不能为空")
	}
	if c.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("UpstreamTimeout", "必须大于 0")
	}

	if err := validateOrigin(c.OriginBaseURL); err != nil {
		return fmt.Errorf("OriginBaseURL: %w", err)
	}

	prefix := strings.TrimSpace(c.GenerationPrefix)
	if prefix == "" {
		return newFieldError("GenerationPrefix", "不能为空")
	}
	if strings.ContainsAny(prefix, "/\\") {
		return newFieldError("GenerationPrefix", "不允许包含路径分隔符")
	}
	if !strings.HasPrefix(c.CacheGeneration, prefix) {
		return newFieldError("CacheGeneration", "必须携带 GenerationPrefix 前缀")
	}
	if strings.ContainsAny(c.CacheGeneration, "/\\") {
		return newFieldError("CacheGeneration", "不允许包含路径分隔符")
	}

	for _, raw := range c.PrecacheURLs {
		if !strings.HasPrefix(raw, "/") {
			return newFieldError("PrecacheURLs", fmt.Sprintf("必须是以 / 开头的路径: %s", raw))
		}
	}

	return nil
}

func validateOrigin(raw string) error {
	if raw == "" {
		return errors.New("缺少上游地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https，上游: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("上游缺少 Host: %s", raw)
	}
	return nil
}
