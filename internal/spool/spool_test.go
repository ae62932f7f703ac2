package spool

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qce/internal/element"
	"qce/internal/message"
)

func openTestSpool(t *testing.T) *Spool {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "run.spool"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func spoolMsg(id, ts int64, text string) *message.CleanMessage {
	return &message.CleanMessage{
		ID:        id,
		Timestamp: ts,
		Kind:      message.KindNormal,
		Sender:    message.Sender{Name: "张三"},
		Content:   message.Content{Text: text},
	}
}

func TestSpoolReplaysInTimestampOrder(t *testing.T) {
	s := openTestSpool(t)

	for _, ts := range []int64{5, 3, 4, 1, 2} {
		require.NoError(t, s.Append(spoolMsg(ts*10, ts, fmt.Sprintf("消息%d", ts))))
	}
	require.Equal(t, 5, s.Len())

	var got []int64
	err := s.Iterate(func(m *message.CleanMessage) error {
		got = append(got, m.Timestamp)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, got)
}

func TestSpoolEqualTimestampsKeepAppendOrder(t *testing.T) {
	s := openTestSpool(t)

	require.NoError(t, s.Append(spoolMsg(1, 100, "第一条")))
	require.NoError(t, s.Append(spoolMsg(2, 100, "第二条")))
	require.NoError(t, s.Append(spoolMsg(3, 100, "第三条")))

	var ids []int64
	require.NoError(t, s.Iterate(func(m *message.CleanMessage) error {
		ids = append(ids, m.ID)
		return nil
	}))
	assert.Equal(t, []int64{1, 2, 3}, ids)
}

func TestSpoolRoundTripPreservesContent(t *testing.T) {
	s := openTestSpool(t)

	in := spoolMsg(42, 1000, "你好[图片]")
	in.Content.HTML = `你好<img src="a.jpg">`
	in.Recalled = true
	require.NoError(t, s.Append(in))

	var out *message.CleanMessage
	require.NoError(t, s.Iterate(func(m *message.CleanMessage) error {
		out = m
		return nil
	}))
	require.NotNil(t, out)
	assert.Equal(t, in.ID, out.ID)
	assert.Equal(t, in.Content.Text, out.Content.Text)
	assert.Equal(t, in.Content.HTML, out.Content.HTML)
	assert.True(t, out.Recalled)
	assert.Equal(t, "张三", out.Sender.Name)
}

func TestSpoolIterateCanInterleaveWithAppend(t *testing.T) {
	s := openTestSpool(t)
	require.NoError(t, s.Append(spoolMsg(1, 1, "a")))

	var first int
	require.NoError(t, s.Iterate(func(*message.CleanMessage) error { first++; return nil }))
	assert.Equal(t, 1, first)

	require.NoError(t, s.Append(spoolMsg(2, 2, "b")))
	var second int
	require.NoError(t, s.Iterate(func(*message.CleanMessage) error { second++; return nil }))
	assert.Equal(t, 2, second)
}

func TestSpoolIterateStopsOnCallbackError(t *testing.T) {
	s := openTestSpool(t)
	for i := int64(1); i <= 3; i++ {
		require.NoError(t, s.Append(spoolMsg(i, i, "x")))
	}

	stop := fmt.Errorf("enough")
	var seen int
	err := s.Iterate(func(*message.CleanMessage) error {
		seen++
		if seen == 2 {
			return stop
		}
		return nil
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 2, seen)
}

func TestSpoolClosedIsSticky(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "run.spool")
	s, err := Open(path, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, s.Append(spoolMsg(1, 1, "x")))
	require.NoError(t, s.Close())

	assert.Error(t, s.Append(spoolMsg(2, 2, "y")))
	assert.Error(t, s.Iterate(func(*message.CleanMessage) error { return nil }))

	// 运行期产物随 Close 清除
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestSpoolReplayedMessageAcceptsPathRewrite(t *testing.T) {
	s := openTestSpool(t)

	msg := &message.CleanMessage{
		ID:        7,
		Timestamp: 100,
		Kind:      message.KindNormal,
		Sender:    message.Sender{Name: "张三"},
		Content: message.Content{
			Text: "[图片]",
			Elements: []element.ParsedElement{{
				Kind: element.KindImage,
				Data: &element.MediaData{Filename: "photo.jpg", Size: 2048},
			}},
		},
	}
	msg.Content.Resources = message.ExtractResources(msg)
	require.NoError(t, s.Append(msg))

	resolved := map[int64][]*message.ResourceInfo{
		7: {{
			Kind: element.KindImage, Filename: "photo.jpg",
			LocalPath: "/data/images/photo.jpg", Resolved: true,
		}},
	}

	err := s.Iterate(func(m *message.CleanMessage) error {
		message.RewritePaths([]*message.CleanMessage{m}, resolved, zerolog.Nop())

		require.Len(t, m.Content.Resources, 1)
		assert.Equal(t, "/data/images/photo.jpg", m.Content.Resources[0].LocalPath)

		// 元素侧在 JSON 往返之后同样被回写
		require.Len(t, m.Content.Elements, 1)
		media := m.Content.Elements[0].Media()
		require.NotNil(t, media, "element data lost typing after replay: %T", m.Content.Elements[0].Data)
		assert.Equal(t, "/data/images/photo.jpg", media.LocalPath)
		return nil
	})
	require.NoError(t, err)
}
