package download

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// ProbeFunc 廉价的已知良好探测（如宿主端 get_login_info）。
type ProbeFunc func(ctx context.Context) error

// HealthChecker 独立的周期健康检查器：固定间隔发探针，成功时提前
// 闭合到期的熔断器，失败时统计持续故障。显式 Start/Stop 生命周期，
// 随所属编排器一起销毁，绝不多活。
// 探针自身的成败不触碰任何用户任务的重试预算。
type HealthChecker struct {
	cron     *cron.Cron
	interval time.Duration
	probe    ProbeFunc
	breakers *BreakerGroup
	log      zerolog.Logger

	mu          sync.Mutex
	running     bool
	consecutive int // 连续探针失败数
}

// NewHealthChecker creates a stopped checker.
func NewHealthChecker(interval time.Duration, probe ProbeFunc, breakers *BreakerGroup, log zerolog.Logger) *HealthChecker {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &HealthChecker{
		interval: interval,
		probe:    probe,
		breakers: breakers,
		log:      log,
	}
}

// Start 启动周期探测。重复启动是空操作。
func (h *HealthChecker) Start() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running || h.probe == nil {
		return nil
	}

	h.cron = cron.New()
	spec := fmt.Sprintf("@every %s", h.interval)
	if _, err := h.cron.AddFunc(spec, h.tick); err != nil {
		return fmt.Errorf("schedule health check: %w", err)
	}
	h.cron.Start()
	h.running = true
	h.log.Debug().Dur("interval", h.interval).Msg("health checker started")
	return nil
}

// Stop 停止探测并等待在途 tick 结束。
func (h *HealthChecker) Stop() {
	h.mu.Lock()
	c := h.cron
	h.cron = nil
	h.running = false
	h.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
		h.log.Debug().Msg("health checker stopped")
	}
}

func (h *HealthChecker) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), h.interval)
	defer cancel()

	if err := h.probe(ctx); err != nil {
		h.mu.Lock()
		h.consecutive++
		n := h.consecutive
		h.mu.Unlock()
		h.log.Warn().Err(err).Int("consecutive", n).Msg("health probe failed")
		return
	}

	h.mu.Lock()
	sustained := h.consecutive
	h.consecutive = 0
	h.mu.Unlock()

	if sustained > 0 {
		h.log.Info().Int("after_failures", sustained).Msg("health probe recovered")
	}
	h.breakers.ProbeSuccess()
}

// Failures 当前连续失败数（诊断用）。
func (h *HealthChecker) Failures() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.consecutive
}
