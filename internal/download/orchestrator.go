package download

import (
	"context"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"qce/internal/element"
	"qce/internal/message"
)

// Fetcher 宿主资源取数原语：把一个资源落到 destPath。
// 编排器只包装这一个原语，所有熔断/重试/优先级逻辑都在其外。
type Fetcher interface {
	DownloadMedia(ctx context.Context, res *message.ResourceInfo, destPath string) error
}

// Config 编排器配置。
type Config struct {
	MaxConcurrent    int           // 全局并发上限
	Retry            RetryPolicy   // 瞬态失败重试预算
	BreakerThreshold int           // 连续失败阈值
	BreakerRecovery  time.Duration // 熔断恢复窗口
	HealthInterval   time.Duration // 健康探测间隔
	StorageRoot      string        // 本地落盘根目录
	// Include 按 kind 的包含开关；nil 表示全部包含。
	Include map[element.Kind]bool
}

// 失败原因字面量，经 ResourceInfo.FailReason 透出。
const (
	reasonCircuitOpen = "熔断打开"
	reasonExhausted   = "重试耗尽"
	reasonFatal       = "不可重试失败"
	reasonCancelled   = "已取消"
	reasonExcluded    = "按配置跳过"
)

// Orchestrator 下载编排器。每次流水线运行持有独立实例：
// 自己的队列、熔断器组与健康检查器，互不串扰。
type Orchestrator struct {
	cfg      Config
	fetcher  Fetcher
	breakers *BreakerGroup
	slots    *semaphore.Weighted
	health   *HealthChecker
	log      zerolog.Logger

	closeOnce sync.Once
}

// New 创建编排器并启动健康检查器（probe 为 nil 时不启动）。
// 调用方负责 Close，健康检查器绝不活过编排器。
func New(cfg Config, fetcher Fetcher, probe ProbeFunc, log zerolog.Logger) *Orchestrator {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 4
	}
	if cfg.Retry == (RetryPolicy{}) {
		cfg.Retry = DefaultRetryPolicy()
	}
	if cfg.BreakerThreshold <= 0 {
		cfg.BreakerThreshold = 5
	}
	if cfg.BreakerRecovery <= 0 {
		cfg.BreakerRecovery = 30 * time.Second
	}

	o := &Orchestrator{
		cfg:      cfg,
		fetcher:  fetcher,
		breakers: NewBreakerGroup(cfg.BreakerThreshold, cfg.BreakerRecovery),
		slots:    semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		log:      log,
	}
	o.health = NewHealthChecker(cfg.HealthInterval, probe, o.breakers, log)
	if err := o.health.Start(); err != nil {
		log.Warn().Err(err).Msg("health checker not started")
	}
	return o
}

// Close 停止健康检查器。幂等。
func (o *Orchestrator) Close() {
	o.closeOnce.Do(o.health.Stop)
}

// Materialize 把消息集引用的全部媒体资源落到本地存储，返回
// 消息 id → 资源清单。部分失败不致整体失败：未解析条目带失败原因
// 返回，调用方必须容忍。同一落盘名的资源只取一次（跨消息共享结果）。
func (o *Orchestrator) Materialize(ctx context.Context, msgs []*message.CleanMessage) map[int64][]*message.ResourceInfo {
	out := make(map[int64][]*message.ResourceInfo)
	queue := newTaskQueue()
	shared := make(map[string]*message.ResourceInfo) // 落盘路径（小写）→ 共享副本

	for _, msg := range msgs {
		var list []*message.ResourceInfo
		for _, res := range msg.Content.Resources {
			cp := o.admit(res, msg, queue, shared)
			list = append(list, cp)
		}
		if len(list) > 0 {
			out[msg.ID] = list
		}
	}

	if queue.Len() > 0 {
		if err := o.prepareDirs(); err != nil {
			// 本地存储不可用属确定性失败，整批资源直接标记
			o.log.Error().Err(err).Msg("storage root unavailable")
			for t := queue.Pop(); t != nil; t = queue.Pop() {
				t.Resource.FailReason = reasonFatal
			}
			return out
		}
	}

	var wg sync.WaitGroup
	for {
		t := queue.Pop()
		if t == nil {
			break
		}
		// waitForDownloadSlot：挂起等待空槽，无忙轮询
		if err := o.slots.Acquire(ctx, 1); err != nil {
			t.Resource.FailReason = reasonCancelled
			continue
		}
		wg.Add(1)
		go func(t *Task) {
			defer wg.Done()
			defer o.slots.Release(1)
			o.run(ctx, t)
		}(t)
	}
	wg.Wait()
	return out
}

// admit 资源去重入队：同一落盘路径只建一个任务，其余消息共享副本。
// 被配置排除的 kind 直接以跳过原因返回。
func (o *Orchestrator) admit(res *message.ResourceInfo, msg *message.CleanMessage, queue *taskQueue, shared map[string]*message.ResourceInfo) *message.ResourceInfo {
	cp := *res
	if o.cfg.Include != nil && !o.cfg.Include[res.Kind] {
		cp.FailReason = reasonExcluded
		return &cp
	}

	dest := o.destPath(res)
	key := strings.ToLower(dest)
	if existing, ok := shared[key]; ok {
		return existing
	}
	shared[key] = &cp
	queue.Push(&Task{
		Resource: &cp,
		MsgID:    msg.ID,
		MsgTime:  msg.Timestamp,
		Dest:     dest,
	})
	return &cp
}

// run 执行单个任务：熔断放行 → 取数 → 分类处理。
// 退避期间持有并发槽，保证活跃集合始终有界。
func (o *Orchestrator) run(ctx context.Context, t *Task) {
	target := targetOf(t.Resource)

	for {
		if ctx.Err() != nil {
			t.Resource.FailReason = reasonCancelled
			return
		}

		br := o.breakers.Get(target)
		if err := br.Allow(); err != nil {
			// 熔断拒绝即刻透出，不发起网络尝试，不计重试预算。
			// 恢复交给半开探针与健康检查器，本次运行不等待。
			t.Resource.FailReason = reasonCircuitOpen
			o.log.Debug().Str("target", target).Str("file", t.Resource.Filename).Msg("resource skipped, circuit open")
			return
		}

		err := o.fetcher.DownloadMedia(ctx, t.Resource, t.Dest)
		if err == nil {
			br.Success()
			t.Resource.Resolved = true
			t.Resource.LocalPath = t.Dest
			t.Resource.FailReason = ""
			return
		}

		if ctx.Err() != nil {
			// 取消导致的失败不代表目标不健康，不计入熔断
			t.Resource.FailReason = reasonCancelled
			return
		}

		class := Classify(err)
		if class == ClassCircuitOpen {
			// 取数原语自身报熔断，与 Allow 拒绝同样处理
			t.Resource.FailReason = reasonCircuitOpen
			return
		}
		br.Failure()

		if o.cfg.Retry.ShouldRetry(t.Attempts, class) {
			delay := o.cfg.Retry.NextDelay(t.Attempts)
			t.Attempts++
			t.NextEligible = time.Now().Add(delay)
			o.log.Debug().
				Err(err).
				Str("file", t.Resource.Filename).
				Int("attempt", t.Attempts).
				Dur("backoff", delay).
				Msg("retriable download failure")
			if !o.pause(ctx, delay) {
				t.Resource.FailReason = reasonCancelled
				return
			}
			continue
		}

		if class == ClassFatal {
			t.Resource.FailReason = reasonFatal
		} else {
			t.Resource.FailReason = reasonExhausted
		}
		o.log.Warn().
			Err(err).
			Str("file", t.Resource.Filename).
			Str("class", class.String()).
			Int("attempts", t.Attempts+1).
			Msg("resource permanently unresolved for this run")
		return
	}
}

// pause 可取消睡眠。返回 false 表示上下文已取消。
func (o *Orchestrator) pause(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// destPath 目的路径由资源类型与身份确定：类型复数目录 + 落盘名。
// 重复运行落到同一路径，覆盖而非重复。
func (o *Orchestrator) destPath(res *message.ResourceInfo) string {
	return filepath.Join(o.cfg.StorageRoot, kindDir(res.Kind), sanitizeName(res.StoredName()))
}

func (o *Orchestrator) prepareDirs() error {
	for _, d := range []string{"images", "videos", "audios", "files"} {
		if err := os.MkdirAll(filepath.Join(o.cfg.StorageRoot, d), 0o755); err != nil {
			return err
		}
	}
	return nil
}

func kindDir(k element.Kind) string {
	switch k {
	case element.KindImage:
		return "images"
	case element.KindVideo:
		return "videos"
	case element.KindAudio:
		return "audios"
	default:
		return "files"
	}
}

// sanitizeName 去掉路径分隔符等危险字符，防止逃出存储目录。
func sanitizeName(name string) string {
	name = filepath.Base(name)
	replacer := strings.NewReplacer("..", "_", ":", "_", "*", "_", "?", "_", "\"", "_", "<", "_", ">", "_", "|", "_")
	out := replacer.Replace(name)
	if out == "" || out == "." {
		return "unnamed"
	}
	return out
}

// targetOf 逻辑目标键：URL 主机；无 URL 的资源经宿主原语取数，归入 host。
func targetOf(res *message.ResourceInfo) string {
	if res.URL != "" {
		if u, err := url.Parse(res.URL); err == nil && u.Host != "" {
			return u.Host
		}
	}
	return "host"
}
