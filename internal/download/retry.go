package download

import (
	"math"
	"time"
)

// RetryPolicy 瞬态失败的有界重试预算与指数退避。
// 只有 ClassRetriable 消耗预算；熔断拒绝不计数。
type RetryPolicy struct {
	// MaxRetries 首跑之外允许的附加尝试次数（0 = 不重试）。
	MaxRetries int
	// InitialDelay 首次重试前的退避。
	InitialDelay time.Duration
	// MaxDelay 退避上限。
	MaxDelay time.Duration
	// Multiplier 指数系数。
	Multiplier float64
}

// DefaultRetryPolicy returns the default policy: 3 additional attempts.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:   3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	}
}

// ShouldRetry 判定第 attempt 次失败（0 起）后是否继续。
func (p *RetryPolicy) ShouldRetry(attempt int, class FailClass) bool {
	if class != ClassRetriable {
		return false
	}
	return attempt < p.MaxRetries
}

// NextDelay 第 attempt 次重试前的退避时长。
func (p *RetryPolicy) NextDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return p.InitialDelay
	}
	d := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt))
	if d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(d)
}
