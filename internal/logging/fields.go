package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// RequestFields 提供请求分类/缓存分区/响应来源字段，供拦截日志复用。
func RequestFields(kind, partition, source string, cacheHit bool) logrus.Fields {
	return logrus.Fields{
		"kind":      kind,
		"partition": partition,
		"source":    source,
		"cache_hit": cacheHit,
	}
}
