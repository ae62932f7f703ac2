package export

import (
	"context"
	"fmt"
	"strconv"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qce/internal/element"
	"qce/internal/storage"
)

// fakeSource 以 seq 升序持有全量历史，按倒序翻页语义应答：
// 返回以 seq 为上界（含）的最后 count 条，模拟宿主的边界重叠。
type fakeSource struct {
	msgs  []element.RawMessage
	calls int
}

func (f *fakeSource) page(seq string, count int) []element.RawMessage {
	f.calls++
	end := len(f.msgs)
	if seq != "" {
		n, _ := strconv.ParseInt(seq, 10, 64)
		for i, m := range f.msgs {
			if m.MsgSeq.Int64() == n {
				end = i + 1
				break
			}
		}
	}
	start := end - count
	if start < 0 {
		start = 0
	}
	out := make([]element.RawMessage, end-start)
	copy(out, f.msgs[start:end])
	return out
}

func (f *fakeSource) GetGroupMsgHistory(_ context.Context, _, seq string, count int) ([]element.RawMessage, error) {
	return f.page(seq, count), nil
}

func (f *fakeSource) GetFriendMsgHistory(_ context.Context, _, seq string, count int) ([]element.RawMessage, error) {
	return f.page(seq, count), nil
}

func textRaw(id, seq, ts int64, text string) element.RawMessage {
	return element.RawMessage{
		MsgID:   element.FlexInt64(id),
		MsgSeq:  element.FlexInt64(seq),
		MsgTime: element.FlexInt64(ts),
		Elements: []element.RawElement{
			{Text: &element.TextElement{Content: text}},
		},
	}
}

func historyOf(n int) *fakeSource {
	src := &fakeSource{}
	for i := 1; i <= n; i++ {
		src.msgs = append(src.msgs, textRaw(int64(1000+i), int64(i), int64(1700000000+i*60), fmt.Sprintf("第%d条", i)))
	}
	return src
}

func collectAll(t *testing.T, src *fakeSource, opts CollectOptions) []element.RawMessage {
	t.Helper()
	c := NewCollector(src, zerolog.Nop())
	var got []element.RawMessage
	total, err := c.Collect(context.Background(), opts, func(batch []element.RawMessage) error {
		got = append(got, batch...)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, len(got), total)
	return got
}

func TestCollectWholeHistoryOnce(t *testing.T) {
	src := historyOf(47)
	got := collectAll(t, src, CollectOptions{ChatType: storage.ChatTypeGroup, ChatID: "1", BatchSize: 15})

	require.Len(t, got, 47, "边界重叠不得导致重复交付")
	seen := make(map[int64]bool)
	for _, m := range got {
		require.False(t, seen[m.MsgID.Int64()], "重复消息 %d", m.MsgID.Int64())
		seen[m.MsgID.Int64()] = true
	}
}

func TestCollectStopsWhenSeqStalls(t *testing.T) {
	src := historyOf(5)
	got := collectAll(t, src, CollectOptions{ChatType: storage.ChatTypeGroup, ChatID: "1", BatchSize: 15})

	assert.Len(t, got, 5)
	// 首批已含全部历史，之后 seq 停在第一条，容忍数批后停止
	assert.LessOrEqual(t, src.calls, 1+maxStaleBatches)
}

func TestCollectMaxCount(t *testing.T) {
	src := historyOf(100)
	got := collectAll(t, src, CollectOptions{ChatType: storage.ChatTypeGroup, ChatID: "1", BatchSize: 15, MaxCount: 40})
	assert.Len(t, got, 40)
}

func TestCollectTimeWindow(t *testing.T) {
	src := historyOf(60)
	// 消息 i 的时间是 1700000000 + i*60
	start := time.Unix(1700000000+20*60, 0)
	end := time.Unix(1700000000+40*60, 0)
	got := collectAll(t, src, CollectOptions{
		ChatType: storage.ChatTypeFriend, ChatID: "1", BatchSize: 15,
		StartTime: &start, EndTime: &end,
	})

	require.Len(t, got, 21)
	for _, m := range got {
		ts := time.Unix(m.MsgTime.Int64(), 0)
		assert.False(t, ts.Before(start) || ts.After(end), "消息 %d 超出时间窗", m.MsgID.Int64())
	}
}

func TestCollectStartTimeStopsEarly(t *testing.T) {
	src := historyOf(100)
	start := time.Unix(1700000000+90*60, 0)
	got := collectAll(t, src, CollectOptions{
		ChatType: storage.ChatTypeGroup, ChatID: "1", BatchSize: 10, StartTime: &start,
	})

	assert.Len(t, got, 11)
	// 到达窗口左沿即停，不必翻完全部历史
	assert.Less(t, src.calls, 5)
}

func TestCollectEmptyHistory(t *testing.T) {
	src := &fakeSource{}
	got := collectAll(t, src, CollectOptions{ChatType: storage.ChatTypeGroup, ChatID: "1", BatchSize: 15})
	assert.Empty(t, got)
}

func TestCollectCallbackErrorAborts(t *testing.T) {
	src := historyOf(50)
	c := NewCollector(src, zerolog.Nop())
	boom := fmt.Errorf("spool full")
	_, err := c.Collect(context.Background(), CollectOptions{
		ChatType: storage.ChatTypeGroup, ChatID: "1", BatchSize: 15,
	}, func([]element.RawMessage) error { return boom })
	assert.ErrorIs(t, err, boom)
}
