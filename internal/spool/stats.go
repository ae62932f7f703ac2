package spool

import (
	"qce/internal/element"
	"qce/internal/message"
)

// Stats 一段消息流的聚合画像。空值即零值，可直接 Observe/Merge。
// Merge 满足结合律与交换律，分片统计可按任意顺序合并。
type Stats struct {
	Messages int64 `json:"messages"`
	System   int64 `json:"system"`
	Errors   int64 `json:"errors"`
	Recalled int64 `json:"recalled"`

	ByKind   map[element.Kind]int64 `json:"by_kind"`   // 元素种类分布
	BySender map[string]int64       `json:"by_sender"` // 发送者消息数

	Resources     int64 `json:"resources"`
	Resolved      int64 `json:"resolved"`
	ResourceBytes int64 `json:"resource_bytes"` // 声明尺寸合计

	MinTimestamp int64 `json:"min_timestamp"` // Messages == 0 时无意义
	MaxTimestamp int64 `json:"max_timestamp"`
}

// Observe 把一条消息计入统计。
func (s *Stats) Observe(msg *message.CleanMessage) {
	s.Messages++
	switch msg.Kind {
	case message.KindSystem:
		s.System++
	case message.KindError:
		s.Errors++
	}
	if msg.Recalled {
		s.Recalled++
	}

	if s.BySender == nil {
		s.BySender = make(map[string]int64)
	}
	s.BySender[msg.Sender.Name]++

	if s.ByKind == nil {
		s.ByKind = make(map[element.Kind]int64)
	}
	for _, el := range msg.Content.Elements {
		s.ByKind[el.Kind]++
	}

	for _, res := range msg.Content.Resources {
		s.Resources++
		if res.Resolved {
			s.Resolved++
		}
		s.ResourceBytes += res.Size
	}

	if s.Messages == 1 || msg.Timestamp < s.MinTimestamp {
		s.MinTimestamp = msg.Timestamp
	}
	if s.Messages == 1 || msg.Timestamp > s.MaxTimestamp {
		s.MaxTimestamp = msg.Timestamp
	}
}

// Merge 把 other 并入 s。other 不被修改。
func (s *Stats) Merge(other *Stats) {
	if other == nil || other.Messages == 0 && other.Resources == 0 {
		return
	}

	if s.Messages == 0 {
		s.MinTimestamp = other.MinTimestamp
		s.MaxTimestamp = other.MaxTimestamp
	} else if other.Messages > 0 {
		if other.MinTimestamp < s.MinTimestamp {
			s.MinTimestamp = other.MinTimestamp
		}
		if other.MaxTimestamp > s.MaxTimestamp {
			s.MaxTimestamp = other.MaxTimestamp
		}
	}

	s.Messages += other.Messages
	s.System += other.System
	s.Errors += other.Errors
	s.Recalled += other.Recalled
	s.Resources += other.Resources
	s.Resolved += other.Resolved
	s.ResourceBytes += other.ResourceBytes

	for k, n := range other.ByKind {
		if s.ByKind == nil {
			s.ByKind = make(map[element.Kind]int64)
		}
		s.ByKind[k] += n
	}
	for name, n := range other.BySender {
		if s.BySender == nil {
			s.BySender = make(map[string]int64)
		}
		s.BySender[name] += n
	}
}
