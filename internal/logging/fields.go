package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// InterceptFields 提供被拦截请求的公共字段，供网关日志复用。
func InterceptFields(generation, method, url string, cacheHit bool) logrus.Fields {
	return logrus.Fields{
		"generation": generation,
		"method":     method,
		"url":        url,
		"cache_hit":  cacheHit,
	}
}

// SyncFields 提供协调层操作日志的公共字段。
func SyncFields(action, view string) logrus.Fields {
	return logrus.Fields{
		"action": action,
		"view":   view,
	}
}
