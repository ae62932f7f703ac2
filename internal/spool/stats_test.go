package spool

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"qce/internal/element"
	"qce/internal/message"
)

func statsMsg(ts int64, sender string, kinds ...element.Kind) *message.CleanMessage {
	m := &message.CleanMessage{
		Timestamp: ts,
		Kind:      message.KindNormal,
		Sender:    message.Sender{Name: sender},
	}
	for _, k := range kinds {
		m.Content.Elements = append(m.Content.Elements, element.ParsedElement{Kind: k})
		if k.IsMedia() {
			m.Content.Resources = append(m.Content.Resources, &message.ResourceInfo{Kind: k, Size: 100})
		}
	}
	return m
}

func TestStatsObserve(t *testing.T) {
	var s Stats
	s.Observe(statsMsg(300, "张三", element.KindText, element.KindImage))
	s.Observe(statsMsg(100, "李四", element.KindText))
	sys := statsMsg(200, "张三")
	sys.Kind = message.KindSystem
	s.Observe(sys)

	assert.Equal(t, int64(3), s.Messages)
	assert.Equal(t, int64(1), s.System)
	assert.Equal(t, int64(2), s.BySender["张三"])
	assert.Equal(t, int64(1), s.BySender["李四"])
	assert.Equal(t, int64(2), s.ByKind[element.KindText])
	assert.Equal(t, int64(1), s.ByKind[element.KindImage])
	assert.Equal(t, int64(1), s.Resources)
	assert.Equal(t, int64(100), s.ResourceBytes)
	assert.Equal(t, int64(100), s.MinTimestamp)
	assert.Equal(t, int64(300), s.MaxTimestamp)
}

func TestStatsMergeAssociative(t *testing.T) {
	part := func(ts int64, sender string) *Stats {
		var s Stats
		s.Observe(statsMsg(ts, sender, element.KindText))
		return &s
	}

	// (a+b)+c
	left := part(100, "甲")
	left.Merge(part(300, "乙"))
	left.Merge(part(200, "甲"))

	// a+(b+c)
	bc := part(300, "乙")
	bc.Merge(part(200, "甲"))
	right := part(100, "甲")
	right.Merge(bc)

	assert.Equal(t, left, right)
	assert.Equal(t, int64(3), left.Messages)
	assert.Equal(t, int64(100), left.MinTimestamp)
	assert.Equal(t, int64(300), left.MaxTimestamp)
	assert.Equal(t, int64(2), left.BySender["甲"])
}

func TestStatsMergeEmpty(t *testing.T) {
	var s Stats
	s.Observe(statsMsg(50, "甲", element.KindText))
	before := s

	s.Merge(&Stats{})
	s.Merge(nil)
	assert.Equal(t, before.Messages, s.Messages)
	assert.Equal(t, before.MinTimestamp, s.MinTimestamp)

	var empty Stats
	empty.Merge(&s)
	assert.Equal(t, int64(50), empty.MinTimestamp)
	assert.Equal(t, int64(50), empty.MaxTimestamp)
}
