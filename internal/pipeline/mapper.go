// Package pipeline 提供把协议消息批量映射为规范消息的有界并发工具。
package pipeline

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"qce/internal/element"
	"qce/internal/message"
)

const (
	minWorkers = 4
	maxWorkers = 32

	// defaultYieldEvery 每完成这么多条后主动让出一次调度（公平性，非取消点）。
	defaultYieldEvery = 1000
	// defaultProgressEvery 无回调时按该间隔打进度日志。
	defaultProgressEvery = 100
)

// Mapper 有界并发、严格保序的批量装配器：output[i] 恒对应 input[i]。
type Mapper struct {
	assembler *message.Assembler
	limit     int
	log       zerolog.Logger

	// OnProgress 每完成一条回调一次（done, total）。可并发调用。
	OnProgress func(done, total int)
}

// NewMapper 创建映射器。limit<=0 时按可用并行度取默认并收敛到
// [4,32]；显式配置的 limit 原样生效。
func NewMapper(assembler *message.Assembler, limit int, log zerolog.Logger) *Mapper {
	if limit <= 0 {
		limit = runtime.GOMAXPROCS(0)
		if limit < minWorkers {
			limit = minWorkers
		}
		if limit > maxWorkers {
			limit = maxWorkers
		}
	}
	return &Mapper{assembler: assembler, limit: limit, log: log}
}

// MapAll 把整批协议消息映射为规范消息，1:1 保序，绝不丢条目。
// 固定 worker 池通过单个原子计数器认领下一个下标，各自写入互不相交
// 的输出槽位，除计数器外没有共享可变状态。
func (m *Mapper) MapAll(ctx context.Context, raws []*element.RawMessage) []*message.CleanMessage {
	out := make([]*message.CleanMessage, len(raws))
	if len(raws) == 0 {
		return out
	}

	workers := m.limit
	if len(raws) < workers {
		workers = len(raws)
	}

	var next atomic.Int64
	var done atomic.Int64
	var wg sync.WaitGroup

	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for {
				// 取消只在条目间协作生效，进行中的装配跑完为止
				if ctx.Err() != nil {
					return
				}
				i := int(next.Add(1)) - 1
				if i >= len(raws) {
					return
				}
				out[i] = m.assembler.Assemble(raws[i])

				n := int(done.Add(1))
				if n%defaultYieldEvery == 0 {
					runtime.Gosched()
				}
				m.reportProgress(n, len(raws))
			}
		}()
	}
	wg.Wait()

	// 取消时为未处理槽位补 error 占位，保持 1:1 不丢条目
	for i, raw := range raws {
		if out[i] == nil {
			out[i] = m.assembler.ErrorRecord(raw, "批处理已取消")
		}
	}
	return out
}

func (m *Mapper) reportProgress(done, total int) {
	if m.OnProgress != nil {
		m.OnProgress(done, total)
		return
	}
	if done%defaultProgressEvery == 0 || done == total {
		m.log.Info().Int("done", done).Int("total", total).Msg("message parse progress")
	}
}
