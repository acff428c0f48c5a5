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
	if seconds, err := time.ParseDuration(raw); err == nil {
		*d = Duration(seconds)
		return nil
	}
	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}
	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// GlobalConfig 描述全局运行时行为，所有 Provider 共享同一份参数。
type GlobalConfig struct {
	ListenPort       int      `mapstructure:"ListenPort"`
	LogLevel         string   `mapstructure:"LogLevel"`
	LogFormat        string   `mapstructure:"LogFormat"`
	LogFilePath      string   `mapstructure:"LogFilePath"`
	LogMaxSize       int      `mapstructure:"LogMaxSize"`
	LogMaxBackups    int      `mapstructure:"LogMaxBackups"`
	LogCompress      bool     `mapstructure:"LogCompress"`
	StoragePath      string   `mapstructure:"StoragePath"`
	LocalTimeout     Duration `mapstructure:"LocalTimeout"`
	UpstreamTimeout  Duration `mapstructure:"UpstreamTimeout"`
	FetchTimeout     Duration `mapstructure:"FetchTimeout"`
	UserAgent        string   `mapstructure:"UserAgent"`
	MaxObjectSize    int64    `mapstructure:"MaxObjectSize"`
	StrictCID        bool     `mapstructure:"StrictCID"`
	MetricsEnabled   bool     `mapstructure:"MetricsEnabled"`
	PinRemoteFetches bool     `mapstructure:"PinRemoteFetches"`
	LocalRPC         string   `mapstructure:"LocalRPC"`
	PinTimeout       Duration `mapstructure:"PinTimeout"`
}

// ProviderConfig 描述一个内容提供方（本地节点或公共网关），按声明顺序依次尝试。
type ProviderConfig struct {
	Name              string   `mapstructure:"Name"`
	Upstream          string   `mapstructure:"Upstream"`
	Local             bool     `mapstructure:"Local"`
	Timeout           Duration `mapstructure:"Timeout"`
	RequestsPerSecond float64  `mapstructure:"RequestsPerSecond"`
	Burst             int      `mapstructure:"Burst"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global    GlobalConfig     `mapstructure:",squash"`
	Providers []ProviderConfig `mapstructure:"Provider"`
}

// Kind 输出 `local` 或 `remote`，供日志字段使用。
func (p ProviderConfig) Kind() string {
	if p.Local {
		return "local"
	}
	return "remote"
}

// ProviderSummary 返回所有 Provider 的顺序摘要，例如 kubo:local。
func ProviderSummary(providers []ProviderConfig) []string {
	if len(providers) == 0 {
		return nil
	}
	result := make([]string, len(providers))
	for i, p := range providers {
		result[i] = fmt.Sprintf("%s:%s", p.Name, p.Kind())
	}
	return result
}

// EffectiveTimeout 返回单个 Provider 的超时：本地节点默认快速失败，
// 远端网关未配置时沿用全局 UpstreamTimeout，0 表示不设上限。
func (c *Config) EffectiveTimeout(p ProviderConfig) time.Duration {
	if p.Timeout.DurationValue() > 0 {
		return p.Timeout.DurationValue()
	}
	if p.Local {
		return c.Global.LocalTimeout.DurationValue()
	}
	return c.Global.UpstreamTimeout.DurationValue()
}
