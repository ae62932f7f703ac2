package pipeline

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"

	"qce/internal/element"
	"qce/internal/message"
)

func newTestMapper(limit int) *Mapper {
	a := message.NewAssembler(element.NewParser(nil, zerolog.Nop()), zerolog.Nop())
	return NewMapper(a, limit, zerolog.Nop())
}

func rawBatch(n int) []*element.RawMessage {
	raws := make([]*element.RawMessage, n)
	for i := range raws {
		raws[i] = &element.RawMessage{
			MsgID:   element.FlexInt64(i + 1),
			MsgSeq:  element.FlexInt64(i + 1),
			MsgTime: element.FlexInt64(1700000000 + i),
			Elements: []element.RawElement{
				{Text: &element.TextElement{Content: fmt.Sprintf("msg-%d", i)}},
			},
		}
	}
	return raws
}

func TestMapAllPreservesOrder(t *testing.T) {
	m := newTestMapper(8)

	raws := rawBatch(500)
	out := m.MapAll(context.Background(), raws)

	if len(out) != len(raws) {
		t.Fatalf("len(out) = %d, want %d", len(out), len(raws))
	}
	for i, msg := range out {
		if msg == nil {
			t.Fatalf("out[%d] is nil", i)
		}
		if msg.ID != raws[i].MsgID.Int64() {
			t.Fatalf("out[%d].ID = %d, want %d", i, msg.ID, raws[i].MsgID.Int64())
		}
		if want := fmt.Sprintf("msg-%d", i); msg.Content.Text != want {
			t.Fatalf("out[%d].Text = %q, want %q", i, msg.Content.Text, want)
		}
	}
}

func TestMapAllEmptyInput(t *testing.T) {
	m := newTestMapper(4)
	out := m.MapAll(context.Background(), nil)
	if len(out) != 0 {
		t.Errorf("len(out) = %d, want 0", len(out))
	}
}

func TestMapAllSmallBatchUsesFewerWorkers(t *testing.T) {
	m := newTestMapper(32)
	out := m.MapAll(context.Background(), rawBatch(2))
	if len(out) != 2 || out[0].ID != 1 || out[1].ID != 2 {
		t.Fatalf("unexpected output: %+v", out)
	}
}

func TestMapperLimit(t *testing.T) {
	// 显式配置原样生效，只有派生默认值收敛到 [4,32]
	tests := []struct {
		in   int
		want int
	}{
		{1, 1},
		{2, 2},
		{16, 16},
		{128, 128},
	}
	for _, tt := range tests {
		if m := newTestMapper(tt.in); m.limit != tt.want {
			t.Errorf("limit(%d) = %d, want %d", tt.in, m.limit, tt.want)
		}
	}

	m := newTestMapper(0)
	if m.limit < minWorkers || m.limit > maxWorkers {
		t.Errorf("limit(0) = %d, want within [%d,%d]", m.limit, minWorkers, maxWorkers)
	}
}

func TestMapAllSingleWorkerPreservesOrder(t *testing.T) {
	m := newTestMapper(1)
	out := m.MapAll(context.Background(), rawBatch(8))
	for i, msg := range out {
		if msg.ID != int64(i+1) {
			t.Fatalf("out[%d].ID = %d, want %d", i, msg.ID, i+1)
		}
	}
}

func TestMapAllProgressCallback(t *testing.T) {
	m := newTestMapper(4)

	var calls atomic.Int64
	m.OnProgress = func(done, total int) {
		calls.Add(1)
		if total != 50 {
			t.Errorf("total = %d, want 50", total)
		}
	}
	m.MapAll(context.Background(), rawBatch(50))
	if calls.Load() != 50 {
		t.Errorf("progress calls = %d, want 50 (per item)", calls.Load())
	}
}

func TestMapAllCancelledStillOneToOne(t *testing.T) {
	m := newTestMapper(4)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	raws := rawBatch(20)
	out := m.MapAll(ctx, raws)
	if len(out) != 20 {
		t.Fatalf("len(out) = %d, want 20", len(out))
	}
	for i, msg := range out {
		if msg == nil {
			t.Fatalf("out[%d] is nil after cancel", i)
		}
		if msg.ID != int64(i+1) {
			t.Errorf("out[%d].ID = %d, want %d", i, msg.ID, i+1)
		}
	}
}
