package provider

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// FailureKind 对单次 Provider 失败进行归类，便于日志与指标聚合。
type FailureKind string

const (
	KindTimeout     FailureKind = "timeout"
	KindUnavailable FailureKind = "unavailable"
	KindBadStatus   FailureKind = "bad_status"
	KindRateLimited FailureKind = "rate_limited"
	KindTooLarge    FailureKind = "too_large"
	KindCanceled    FailureKind = "canceled"
)

// ErrAllProvidersFailed 表示所有 Provider 均未能返回内容。
var ErrAllProvidersFailed = errors.New("all providers failed")

// Attempt 记录一次 Provider 尝试的结果；Kind 为空表示成功。
type Attempt struct {
	Provider string
	Local    bool
	URL      string
	Kind     FailureKind
	Status   int
	Err      error
	Elapsed  time.Duration
}

// Outcome 返回用于指标标签的结果值。
func (a Attempt) Outcome() string {
	if a.Kind == "" {
		return "ok"
	}
	return string(a.Kind)
}

func (a Attempt) Error() string {
	switch {
	case a.Kind == KindBadStatus:
		return fmt.Sprintf("%s: %s (status %d)", a.Provider, a.Kind, a.Status)
	case a.Err != nil:
		return fmt.Sprintf("%s: %s: %v", a.Provider, a.Kind, a.Err)
	default:
		return fmt.Sprintf("%s: %s", a.Provider, a.Kind)
	}
}

// AggregateError 汇总每个 Provider 的失败原因，仅用于诊断日志，不应直接回显给客户端。
type AggregateError struct {
	Attempts []Attempt
}

func (e *AggregateError) Error() string {
	if len(e.Attempts) == 0 {
		return ErrAllProvidersFailed.Error() + ": no providers configured"
	}
	parts := make([]string, len(e.Attempts))
	for i, attempt := range e.Attempts {
		parts[i] = attempt.Error()
	}
	return ErrAllProvidersFailed.Error() + ": " + strings.Join(parts, "; ")
}

// Is 使 errors.Is(err, ErrAllProvidersFailed) 成立。
func (e *AggregateError) Is(target error) bool {
	return target == ErrAllProvidersFailed
}
