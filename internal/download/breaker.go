package download

import (
	"sync"
	"time"
)

// BreakerState 熔断器状态。
type BreakerState int

const (
	// StateClosed 正常放行，连续失败计数中。
	StateClosed BreakerState = iota
	// StateOpen 拒绝所有请求直到恢复窗口结束。
	StateOpen
	// StateHalfOpen 恢复窗口已过，放行恰好一只探针。
	StateHalfOpen
)

// String implements fmt.Stringer.
func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Breaker 单个逻辑目标的三态熔断器。
//
//	closed --连续失败达阈值--> open --恢复窗口结束--> half-open
//	half-open 探针成功 --> closed（计数清零）；失败 --> open（重新计时）
type Breaker struct {
	mu        sync.Mutex
	threshold int
	recovery  time.Duration

	state    BreakerState
	failures int
	openedAt time.Time
	probing  bool // half-open 下已有探针在途

	now func() time.Time // 测试注入时钟
}

// NewBreaker creates a closed breaker.
func NewBreaker(threshold int, recovery time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if recovery <= 0 {
		recovery = 30 * time.Second
	}
	return &Breaker{threshold: threshold, recovery: recovery, now: time.Now}
}

// Allow 判定一次请求是否放行。打开态直接返回 ErrCircuitOpen，
// 不发起任何网络尝试；恢复窗口结束后自动转半开并放行一只探针。
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.recovery {
			return ErrCircuitOpen
		}
		b.state = StateHalfOpen
		b.probing = true
		return nil
	case StateHalfOpen:
		if b.probing {
			return ErrCircuitOpen
		}
		b.probing = true
		return nil
	}
	return nil
}

// Success 记录一次成功：半开探针成功即闭合，闭合态清零计数。
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.probing = false
	b.state = StateClosed
}

// Failure 记录一次失败：闭合态计数到阈值则打开；半开探针失败重新打开并重置计时。
func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.failures++
		if b.failures >= b.threshold {
			b.state = StateOpen
			b.openedAt = b.now()
		}
	case StateHalfOpen:
		b.state = StateOpen
		b.openedAt = b.now()
		b.probing = false
	case StateOpen:
		// 已打开，保持现状
	}
}

// State returns the current state (窗口到期的转换在 Allow 时发生).
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// RecoveryDeadline 返回打开态的恢复时刻；非打开态返回零值。
func (b *Breaker) RecoveryDeadline() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != StateOpen {
		return time.Time{}
	}
	return b.openedAt.Add(b.recovery)
}

// BreakerGroup 按逻辑目标（主机/提供方）分键的熔断器集合。
// 每次流水线运行持有独立实例，互不串扰。
type BreakerGroup struct {
	mu        sync.Mutex
	threshold int
	recovery  time.Duration
	breakers  map[string]*Breaker
}

// NewBreakerGroup creates an empty group.
func NewBreakerGroup(threshold int, recovery time.Duration) *BreakerGroup {
	return &BreakerGroup{
		threshold: threshold,
		recovery:  recovery,
		breakers:  make(map[string]*Breaker),
	}
}

// Get 取目标对应的熔断器，不存在则创建。
func (g *BreakerGroup) Get(target string) *Breaker {
	g.mu.Lock()
	defer g.mu.Unlock()
	b, ok := g.breakers[target]
	if !ok {
		b = NewBreaker(g.threshold, g.recovery)
		g.breakers[target] = b
	}
	return b
}

// ProbeSuccess 健康探针成功：恢复窗口已过的打开态熔断器提前闭合。
// 探针结果不计入任何用户任务的重试预算。
func (g *BreakerGroup) ProbeSuccess() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, b := range g.breakers {
		b.mu.Lock()
		if (b.state == StateOpen && b.now().Sub(b.openedAt) >= b.recovery) || b.state == StateHalfOpen {
			b.state = StateClosed
			b.failures = 0
			b.probing = false
		}
		b.mu.Unlock()
	}
}
