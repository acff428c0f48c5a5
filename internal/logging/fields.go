package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// RequestFields 提供请求 ID、CID 路径、缓存键与命中状态字段，供解析日志复用。
func RequestFields(requestID, cidPath, cacheKey string, cacheHit bool) logrus.Fields {
	fields := logrus.Fields{
		"cid_path":  cidPath,
		"cache_key": cacheKey,
		"cache_hit": cacheHit,
	}
	if requestID != "" {
		fields["request_id"] = requestID
	}
	return fields
}

// ProviderFields 描述一次 Provider 尝试的来源。
func ProviderFields(name string, local bool) logrus.Fields {
	kind := "remote"
	if local {
		kind = "local"
	}
	return logrus.Fields{
		"provider":      name,
		"provider_kind": kind,
	}
}
