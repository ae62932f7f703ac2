// Package export 编排一次完整导出：采集历史、装配、落媒体、回放写出。
package export

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"qce/internal/element"
	"qce/internal/storage"
)

// Source 历史消息来源，由宿主客户端实现。
type Source interface {
	GetGroupMsgHistory(ctx context.Context, groupID, seq string, count int) ([]element.RawMessage, error)
	GetFriendMsgHistory(ctx context.Context, userID, seq string, count int) ([]element.RawMessage, error)
}

// CollectOptions 采集参数。
type CollectOptions struct {
	ChatType  string // storage.ChatTypeGroup | storage.ChatTypeFriend
	ChatID    string
	BatchSize int        // 单批条数
	StartTime *time.Time // 只要不早于此刻的消息
	EndTime   *time.Time // 只要不晚于此刻的消息
	MaxCount  int        // 0 = 不限
}

// Collector 从最新往更早翻页采集。批间通过首条消息的 seq 推进；
// 连续三批 seq 不再变化视为到达历史开端。
type Collector struct {
	src Source
	log zerolog.Logger
}

// NewCollector creates a collector over the given source.
func NewCollector(src Source, log zerolog.Logger) *Collector {
	return &Collector{src: src, log: log}
}

// maxStaleBatches 连续 seq 未推进的容忍批数。
const maxStaleBatches = 3

// Collect 逐批拉取并经 fn 交给下游，返回采集总数。
// 同一条消息跨批重复时只交付一次。fn 返回错误即终止采集。
func (c *Collector) Collect(ctx context.Context, opts CollectOptions, fn func(batch []element.RawMessage) error) (int, error) {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 15
	}

	var (
		seq       string // 空串 = 从最新开始
		total     int
		stale     int
		delivered = make(map[int64]bool)
	)

	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		batch, err := c.fetch(ctx, opts, seq)
		if err != nil {
			return total, fmt.Errorf("fetch history (seq=%q): %w", seq, err)
		}
		if len(batch) == 0 {
			c.log.Debug().Str("seq", seq).Msg("empty batch, history exhausted")
			return total, nil
		}

		fresh, reachedStart := c.filter(batch, opts, delivered)

		if len(fresh) > 0 {
			if opts.MaxCount > 0 && total+len(fresh) > opts.MaxCount {
				fresh = fresh[:opts.MaxCount-total]
			}
			if err := fn(fresh); err != nil {
				return total, err
			}
			total += len(fresh)
			if opts.MaxCount > 0 && total >= opts.MaxCount {
				c.log.Info().Int("total", total).Msg("message cap reached")
				return total, nil
			}
		}

		if reachedStart {
			c.log.Info().Int("total", total).Msg("reached start of requested range")
			return total, nil
		}

		// 倒序翻页：下一批从本批最早一条（首元素）的 seq 继续
		next := strconv.FormatInt(batch[0].MsgSeq.Int64(), 10)
		if next == seq {
			stale++
			if stale >= maxStaleBatches {
				c.log.Info().Str("seq", seq).Msg("seq stopped advancing, at start of history")
				return total, nil
			}
		} else {
			seq = next
			stale = 0
		}
	}
}

func (c *Collector) fetch(ctx context.Context, opts CollectOptions, seq string) ([]element.RawMessage, error) {
	if opts.ChatType == storage.ChatTypeGroup {
		return c.src.GetGroupMsgHistory(ctx, opts.ChatID, seq, opts.BatchSize)
	}
	return c.src.GetFriendMsgHistory(ctx, opts.ChatID, seq, opts.BatchSize)
}

// filter 去重并按时间窗裁剪。批内消息从早到晚排列；整批都早于
// StartTime 时返回 reachedStart，采集可以停在这里。
func (c *Collector) filter(batch []element.RawMessage, opts CollectOptions, delivered map[int64]bool) ([]element.RawMessage, bool) {
	var fresh []element.RawMessage
	allBeforeStart := opts.StartTime != nil

	for _, msg := range batch {
		ts := time.Unix(msg.MsgTime.Int64(), 0)
		if opts.StartTime != nil && ts.Before(*opts.StartTime) {
			continue
		}
		allBeforeStart = false
		if opts.EndTime != nil && ts.After(*opts.EndTime) {
			continue
		}

		id := msg.MsgID.Int64()
		if delivered[id] {
			continue
		}
		delivered[id] = true
		fresh = append(fresh, msg)
	}

	return fresh, allBeforeStart
}
