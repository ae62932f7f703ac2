package download

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qce/internal/element"
	"qce/internal/message"
)

// fakeFetcher 可编程的取数原语，按文件名计数调用次数。
type fakeFetcher struct {
	mu    sync.Mutex
	calls map[string]int
	fail  func(res *message.ResourceInfo) error
}

func newFakeFetcher(fail func(res *message.ResourceInfo) error) *fakeFetcher {
	return &fakeFetcher{calls: make(map[string]int), fail: fail}
}

func (f *fakeFetcher) DownloadMedia(ctx context.Context, res *message.ResourceInfo, destPath string) error {
	f.mu.Lock()
	f.calls[res.Filename]++
	f.mu.Unlock()
	if f.fail != nil {
		return f.fail(res)
	}
	return nil
}

func (f *fakeFetcher) callCount(filename string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[filename]
}

func testConfig(t *testing.T) Config {
	t.Helper()
	return Config{
		MaxConcurrent:    2,
		Retry:            RetryPolicy{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond, Multiplier: 2.0},
		BreakerThreshold: 10,
		BreakerRecovery:  time.Minute,
		StorageRoot:      t.TempDir(),
	}
}

func msgWith(id, ts int64, resources ...*message.ResourceInfo) *message.CleanMessage {
	return &message.CleanMessage{
		ID:        id,
		Timestamp: ts,
		Kind:      message.KindNormal,
		Content:   message.Content{Resources: resources},
	}
}

func imageRes(filename string) *message.ResourceInfo {
	return &message.ResourceInfo{Kind: element.KindImage, Filename: filename, URL: "https://media.example.com/" + filename}
}

func TestMaterializeResolvesResources(t *testing.T) {
	cfg := testConfig(t)
	f := newFakeFetcher(nil)
	o := New(cfg, f, nil, zerolog.Nop())
	defer o.Close()

	img := imageRes("a.jpg")
	doc := &message.ResourceInfo{Kind: element.KindFile, Filename: "report.pdf"}
	out := o.Materialize(context.Background(), []*message.CleanMessage{
		msgWith(1, 1000, img),
		msgWith(2, 1001, doc),
	})

	require.Len(t, out, 2)
	require.Len(t, out[1], 1)
	got := out[1][0]
	assert.True(t, got.Resolved)
	assert.Empty(t, got.FailReason)
	assert.Equal(t, filepath.Join(cfg.StorageRoot, "images", "a.jpg"), got.LocalPath)
	assert.Equal(t, filepath.Join(cfg.StorageRoot, "files", "report.pdf"), out[2][0].LocalPath)

	// 原始消息的资源不被就地修改，改写交给路径改写器
	assert.False(t, img.Resolved)
}

func TestMaterializeDedupesByStoredName(t *testing.T) {
	cfg := testConfig(t)
	f := newFakeFetcher(nil)
	o := New(cfg, f, nil, zerolog.Nop())
	defer o.Close()

	out := o.Materialize(context.Background(), []*message.CleanMessage{
		msgWith(1, 1000, imageRes("shared.jpg")),
		msgWith(2, 1001, imageRes("shared.jpg")),
	})

	assert.Equal(t, 1, f.callCount("shared.jpg"), "同名资源只取一次")
	require.True(t, out[1][0].Resolved)
	assert.Same(t, out[1][0], out[2][0], "两条消息共享解析结果")
}

func TestMaterializeRetriesUntilBudgetExhausted(t *testing.T) {
	cfg := testConfig(t)
	f := newFakeFetcher(func(*message.ResourceInfo) error {
		return Retriable(errors.New("connection reset"))
	})
	o := New(cfg, f, nil, zerolog.Nop())
	defer o.Close()

	out := o.Materialize(context.Background(), []*message.CleanMessage{
		msgWith(1, 1000, imageRes("flaky.jpg")),
	})

	// 首跑 + MaxRetries 次重试
	assert.Equal(t, cfg.Retry.MaxRetries+1, f.callCount("flaky.jpg"))
	got := out[1][0]
	assert.False(t, got.Resolved)
	assert.Equal(t, reasonExhausted, got.FailReason)
	assert.Empty(t, got.LocalPath)
}

func TestMaterializeFatalNotRetried(t *testing.T) {
	cfg := testConfig(t)
	f := newFakeFetcher(func(*message.ResourceInfo) error {
		return NonRetriable(errors.New("404 not found"))
	})
	o := New(cfg, f, nil, zerolog.Nop())
	defer o.Close()

	out := o.Materialize(context.Background(), []*message.CleanMessage{
		msgWith(1, 1000, imageRes("gone.jpg")),
	})

	assert.Equal(t, 1, f.callCount("gone.jpg"), "确定性失败不得重试")
	assert.Equal(t, reasonFatal, out[1][0].FailReason)
}

func TestMaterializeCircuitFailFast(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxConcurrent = 1
	cfg.BreakerThreshold = 1
	f := newFakeFetcher(func(res *message.ResourceInfo) error {
		return NonRetriable(errors.New("server down"))
	})
	o := New(cfg, f, nil, zerolog.Nop())
	defer o.Close()

	// 消息时间更新的先出队，触发熔断；其余同目标任务直接被拒
	out := o.Materialize(context.Background(), []*message.CleanMessage{
		msgWith(1, 2000, imageRes("first.jpg")),
		msgWith(2, 1000, imageRes("second.jpg")),
		msgWith(3, 500, imageRes("third.jpg")),
	})

	assert.Equal(t, 1, f.callCount("first.jpg"))
	assert.Equal(t, 0, f.callCount("second.jpg"), "熔断打开后不得发起网络尝试")
	assert.Equal(t, 0, f.callCount("third.jpg"))
	assert.Equal(t, reasonFatal, out[1][0].FailReason)
	assert.Equal(t, reasonCircuitOpen, out[2][0].FailReason)
	assert.Equal(t, reasonCircuitOpen, out[3][0].FailReason)
}

func TestMaterializeCircuitIsolatedByTarget(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxConcurrent = 1
	cfg.BreakerThreshold = 1
	f := newFakeFetcher(func(res *message.ResourceInfo) error {
		if res.Filename == "bad.jpg" {
			return NonRetriable(errors.New("host unreachable"))
		}
		return nil
	})
	o := New(cfg, f, nil, zerolog.Nop())
	defer o.Close()

	bad := &message.ResourceInfo{Kind: element.KindImage, Filename: "bad.jpg", URL: "https://down.example.com/bad.jpg"}
	good := &message.ResourceInfo{Kind: element.KindImage, Filename: "good.jpg", URL: "https://up.example.com/good.jpg"}
	out := o.Materialize(context.Background(), []*message.CleanMessage{
		msgWith(1, 2000, bad),
		msgWith(2, 1000, good),
	})

	assert.Equal(t, reasonFatal, out[1][0].FailReason)
	assert.True(t, out[2][0].Resolved, "其他目标不受熔断影响")
}

func TestMaterializePartialFailure(t *testing.T) {
	cfg := testConfig(t)
	f := newFakeFetcher(func(res *message.ResourceInfo) error {
		if res.Filename == "broken.jpg" {
			return NonRetriable(errors.New("corrupt reference"))
		}
		return nil
	})
	o := New(cfg, f, nil, zerolog.Nop())
	defer o.Close()

	out := o.Materialize(context.Background(), []*message.CleanMessage{
		msgWith(1, 1000, imageRes("ok.jpg"), imageRes("broken.jpg")),
	})

	require.Len(t, out[1], 2)
	assert.True(t, out[1][0].Resolved)
	assert.False(t, out[1][1].Resolved)
	assert.Equal(t, reasonFatal, out[1][1].FailReason)
}

func TestMaterializeExcludedKind(t *testing.T) {
	cfg := testConfig(t)
	cfg.Include = map[element.Kind]bool{element.KindImage: true}
	f := newFakeFetcher(nil)
	o := New(cfg, f, nil, zerolog.Nop())
	defer o.Close()

	vid := &message.ResourceInfo{Kind: element.KindVideo, Filename: "clip.mp4"}
	out := o.Materialize(context.Background(), []*message.CleanMessage{
		msgWith(1, 1000, imageRes("pic.jpg"), vid),
	})

	assert.Equal(t, 0, f.callCount("clip.mp4"))
	assert.True(t, out[1][0].Resolved)
	assert.Equal(t, reasonExcluded, out[1][1].FailReason)
}

func TestMaterializeCancelledContext(t *testing.T) {
	cfg := testConfig(t)
	f := newFakeFetcher(nil)
	o := New(cfg, f, nil, zerolog.Nop())
	defer o.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out := o.Materialize(ctx, []*message.CleanMessage{
		msgWith(1, 1000, imageRes("late.jpg")),
	})

	require.Len(t, out[1], 1)
	assert.False(t, out[1][0].Resolved)
	assert.Equal(t, reasonCancelled, out[1][0].FailReason)
}

func TestMaterializeNoResources(t *testing.T) {
	cfg := testConfig(t)
	o := New(cfg, newFakeFetcher(nil), nil, zerolog.Nop())
	defer o.Close()

	out := o.Materialize(context.Background(), []*message.CleanMessage{
		msgWith(1, 1000),
	})
	assert.Empty(t, out, "无媒体的消息不占输出")
}

// cancelFetcher 在首次取数时触发整体取消，并按取消语义返回错误。
type cancelFetcher struct{ cancel context.CancelFunc }

func (f *cancelFetcher) DownloadMedia(ctx context.Context, _ *message.ResourceInfo, _ string) error {
	f.cancel()
	return ctx.Err()
}

func TestMaterializeCancellationDoesNotTripBreaker(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxConcurrent = 1
	cfg.BreakerThreshold = 1

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	o := New(cfg, &cancelFetcher{cancel: cancel}, nil, zerolog.Nop())
	defer o.Close()

	out := o.Materialize(ctx, []*message.CleanMessage{
		msgWith(1, 1000, imageRes("a.jpg")),
		msgWith(2, 999, imageRes("b.jpg")),
		msgWith(3, 998, imageRes("c.jpg")),
	})

	for id, resources := range out {
		for _, res := range resources {
			assert.False(t, res.Resolved, "msg %d", id)
			assert.Equal(t, reasonCancelled, res.FailReason, "msg %d", id)
			assert.NotEqual(t, reasonCircuitOpen, res.FailReason, "msg %d", id)
		}
	}

	// 取消不是目标故障，熔断保持闭合
	br := o.breakers.Get("media.example.com")
	assert.NoError(t, br.Allow())
}
