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

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	switch strings.ToLower(strings.TrimSpace(g.LogFormat)) {
	case "", "json", "text":
	default:
		return newFieldError("Global.LogFormat", "仅支持 json/text")
	}
	if g.StoragePath == "" {
		return newFieldError("Global.StoragePath", "不能为空")
	}
	if g.LocalTimeout.DurationValue() < 0 {
		return newFieldError("Global.LocalTimeout", "不能为负数")
	}
	if g.UpstreamTimeout.DurationValue() < 0 {
		return newFieldError("Global.UpstreamTimeout", "不能为负数")
	}
	if g.FetchTimeout.DurationValue() < 0 {
		return newFieldError("Global.FetchTimeout", "不能为负数")
	}
	if g.MaxObjectSize < 0 {
		return newFieldError("Global.MaxObjectSize", "不能为负数")
	}
	if g.PinRemoteFetches {
		if g.LocalRPC == "" {
			return newFieldError("Global.LocalRPC", "启用 PinRemoteFetches 时必须提供")
		}
		if err := validateUpstream(g.LocalRPC); err != nil {
			return fmt.Errorf("Global.LocalRPC: %w", err)
		}
		if g.PinTimeout.DurationValue() <= 0 {
			return newFieldError("Global.PinTimeout", "必须大于 0")
		}
	}

	if len(c.Providers) == 0 {
		return errors.New("至少需要配置一个 Provider")
	}

	seenNames := map[string]struct{}{}
	for i := range c.Providers {
		p := &c.Providers[i]
		if strings.TrimSpace(p.Name) == "" {
			return newFieldError("Provider[].Name", "不能为空")
		}
		if _, exists := seenNames[p.Name]; exists {
			return newFieldError(providerField(p.Name, "Name"), "重复")
		}
		seenNames[p.Name] = struct{}{}

		if err := validateUpstream(p.Upstream); err != nil {
			return fmt.Errorf("%s: %w", providerField(p.Name, "Upstream"), err)
		}
		if p.Timeout.DurationValue() < 0 {
			return newFieldError(providerField(p.Name, "Timeout"), "不能为负数")
		}
		if p.RequestsPerSecond < 0 {
			return newFieldError(providerField(p.Name, "RequestsPerSecond"), "不能为负数")
		}
		if p.Burst < 0 {
			return newFieldError(providerField(p.Name, "Burst"), "不能为负数")
		}
	}

	return nil
}

func validateUpstream(raw string) error {
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
	if parsed.RawQuery != "" || parsed.Fragment != "" {
		return fmt.Errorf("上游不应包含查询参数或片段: %s", raw)
	}
	return nil
}
