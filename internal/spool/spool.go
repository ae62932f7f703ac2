// Package spool 提供运行期的盘上消息暂存：乱序追加，按时间戳有序回放。
// 导出大会话时消息集不必常驻内存，写端只追加，读端按索引定位读。
package spool

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"qce/internal/message"
)

// entry 单条消息在 spool 文件中的位置与排序键。
type entry struct {
	offset    int64
	length    int64
	timestamp int64
	seq       int64 // 追加序号，时间戳平局时保持追加序
}

// Spool 追加式 JSONL 暂存文件加内存索引。
// 写入带背压（Append 直到落盘缓冲完成才返回），I/O 错误粘滞：
// 一旦出错实例即失效，后续所有操作原样返回首个错误。
type Spool struct {
	mu    sync.Mutex
	f     *os.File
	w     *bufio.Writer
	index []entry
	off   int64
	seq   int64
	err   error // 首个 I/O 错误，粘滞
	log   zerolog.Logger
}

// Open 创建（或截断）spool 文件。调用方负责 Close。
func Open(path string, log zerolog.Logger) (*Spool, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open spool %s: %w", path, err)
	}
	return &Spool{
		f:   f,
		w:   bufio.NewWriter(f),
		log: log,
	}, nil
}

// Append 序列化一条消息并追加。到达时序随意，回放时按时间戳排序。
func (s *Spool) Append(msg *message.CleanMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}

	line, err := json.Marshal(msg)
	if err != nil {
		// 编码失败只影响这一条，不毒化实例
		return fmt.Errorf("encode message %d: %w", msg.ID, err)
	}
	line = append(line, '\n')

	if _, err := s.w.Write(line); err != nil {
		return s.poison(err)
	}
	if err := s.w.Flush(); err != nil {
		return s.poison(err)
	}

	s.index = append(s.index, entry{
		offset:    s.off,
		length:    int64(len(line)),
		timestamp: msg.Timestamp,
		seq:       s.seq,
	})
	s.off += int64(len(line))
	s.seq++
	return nil
}

// Len 已暂存的消息数。
func (s *Spool) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.index)
}

// Iterate 按时间戳升序回放全部消息（平局按追加序），对每条调用 fn。
// fn 返回错误即终止回放。定位读不经过写缓冲，可与后续 Append 交错。
func (s *Spool) Iterate(fn func(*message.CleanMessage) error) error {
	s.mu.Lock()
	if s.err != nil {
		s.mu.Unlock()
		return s.err
	}
	f := s.f
	sorted := make([]entry, len(s.index))
	copy(sorted, s.index)
	s.mu.Unlock()

	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].timestamp != sorted[j].timestamp {
			return sorted[i].timestamp < sorted[j].timestamp
		}
		return sorted[i].seq < sorted[j].seq
	})

	buf := make([]byte, 0, 4096)
	for _, e := range sorted {
		if int64(cap(buf)) < e.length {
			buf = make([]byte, e.length)
		}
		buf = buf[:e.length]
		if _, err := f.ReadAt(buf, e.offset); err != nil {
			s.mu.Lock()
			wrapped := s.poison(err)
			s.mu.Unlock()
			return wrapped
		}
		var msg message.CleanMessage
		if err := json.Unmarshal(buf, &msg); err != nil {
			return fmt.Errorf("decode spool entry at %d: %w", e.offset, err)
		}
		if err := fn(&msg); err != nil {
			return err
		}
	}
	return nil
}

// Close 关闭并删除 spool 文件。暂存是运行期产物，不跨运行保留。
func (s *Spool) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	name := s.f.Name()
	err := s.f.Close()
	s.f = nil
	if s.err == nil {
		s.err = fmt.Errorf("spool closed")
	}
	if rmErr := os.Remove(name); rmErr != nil {
		s.log.Warn().Err(rmErr).Str("path", name).Msg("spool file not removed")
	}
	return err
}

// poison 记录首个 I/O 错误并毒化实例，须持锁调用。
// spool 不可用属致命，调用方应当终止运行。
func (s *Spool) poison(err error) error {
	wrapped := fmt.Errorf("spool I/O failure: %w", err)
	if s.err == nil {
		s.err = wrapped
		s.log.Error().Err(err).Msg("spool poisoned, aborting run")
	}
	return wrapped
}
