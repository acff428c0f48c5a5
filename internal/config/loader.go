package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// DefaultUserAgent 是访问远端网关时使用的固定标识。
const DefaultUserAgent = "Mozilla/5.0 (compatible; cid-hub/1.0)"

const (
	defaultListenPort    = 3000
	defaultLocalTimeout  = 2 * time.Second
	defaultFetchTimeout  = 5 * time.Minute
	defaultPinTimeout    = 30 * time.Second
	defaultMaxObjectSize = 512 * 1024 * 1024
)

// providerKeys 列出 [[Provider]] 表允许出现的字段，用于拦截拼写错误。
var providerKeys = []string{"Name", "Upstream", "Local", "Timeout", "RequestsPerSecond", "Burst"}

// Load 读取并解析 TOML 配置文件，同时注入默认值与校验逻辑。
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.toml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}
	if err := rejectUnknownProviderKeys(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyGlobalDefaults(&cfg.Global)
	for i := range cfg.Providers {
		applyProviderDefaults(&cfg.Providers[i])
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	absStorage, err := filepath.Abs(cfg.Global.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("无法解析缓存目录: %w", err)
	}
	cfg.Global.StoragePath = absStorage

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", defaultListenPort)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFormat", "json")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("StoragePath", "./cache")
	v.SetDefault("LocalTimeout", defaultLocalTimeout.String())
	v.SetDefault("UpstreamTimeout", "0s")
	v.SetDefault("FetchTimeout", defaultFetchTimeout.String())
	v.SetDefault("UserAgent", DefaultUserAgent)
	v.SetDefault("MaxObjectSize", defaultMaxObjectSize)
	v.SetDefault("StrictCID", false)
	v.SetDefault("MetricsEnabled", true)
	v.SetDefault("PinRemoteFetches", false)
	v.SetDefault("LocalRPC", "")
	v.SetDefault("PinTimeout", "30s")
}

func applyGlobalDefaults(g *GlobalConfig) {
	if g.ListenPort == 0 {
		g.ListenPort = defaultListenPort
	}
	if g.LogLevel == "" {
		g.LogLevel = "info"
	}
	if g.PinTimeout.DurationValue() == 0 {
		g.PinTimeout = Duration(defaultPinTimeout)
	}
	if strings.TrimSpace(g.UserAgent) == "" {
		g.UserAgent = DefaultUserAgent
	}
	if g.MaxObjectSize == 0 {
		g.MaxObjectSize = defaultMaxObjectSize
	}
	g.LocalRPC = strings.TrimRight(strings.TrimSpace(g.LocalRPC), "/")
}

func applyProviderDefaults(p *ProviderConfig) {
	p.Name = strings.TrimSpace(p.Name)
	p.Upstream = strings.TrimRight(strings.TrimSpace(p.Upstream), "/")
	if p.RequestsPerSecond > 0 && p.Burst == 0 {
		p.Burst = int(p.RequestsPerSecond)
		if p.Burst < 1 {
			p.Burst = 1
		}
	}
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}

// rejectUnknownProviderKeys 拒绝 [[Provider]] 表中的未知字段，避免 URL/Upstream 之类的拼写错误被静默忽略。
func rejectUnknownProviderKeys(v *viper.Viper) error {
	raw := v.Get("Provider")
	providers, ok := raw.([]interface{})
	if !ok {
		return nil
	}
	for idx, entry := range providers {
		m, ok := entry.(map[string]interface{})
		if !ok {
			continue
		}
		name := fmt.Sprintf("#%d", idx)
		for key, value := range m {
			if strings.EqualFold(key, "Name") {
				if rawName, ok := value.(string); ok && rawName != "" {
					name = rawName
				}
			}
		}
		for key := range m {
			if !isProviderKey(key) {
				return newFieldError(providerField(name, key), "未知字段")
			}
		}
	}
	return nil
}

func isProviderKey(key string) bool {
	for _, known := range providerKeys {
		if strings.EqualFold(known, key) {
			return true
		}
	}
	return false
}
