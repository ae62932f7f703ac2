package download

import (
	"errors"
	"testing"
	"time"
)

// fakeClock 可推进的测试时钟。
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time            { return c.t }
func (c *fakeClock) advance(d time.Duration)   { c.t = c.t.Add(d) }
func newFakeClock() *fakeClock                 { return &fakeClock{t: time.Unix(1700000000, 0)} }
func newTestBreaker(threshold int, recovery time.Duration) (*Breaker, *fakeClock) {
	clk := newFakeClock()
	br := NewBreaker(threshold, recovery)
	br.now = clk.now
	return br, clk
}

func TestBreakerOpensAtThreshold(t *testing.T) {
	br, _ := newTestBreaker(3, 30*time.Second)

	for i := 0; i < 2; i++ {
		if err := br.Allow(); err != nil {
			t.Fatalf("allow #%d: %v", i, err)
		}
		br.Failure()
	}
	if got := br.State(); got != StateClosed {
		t.Fatalf("state after 2 failures = %v, want closed", got)
	}

	br.Failure()
	if got := br.State(); got != StateOpen {
		t.Fatalf("state after threshold = %v, want open", got)
	}
	if err := br.Allow(); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("Allow on open breaker = %v, want ErrCircuitOpen", err)
	}
}

func TestBreakerSuccessResetsCount(t *testing.T) {
	br, _ := newTestBreaker(3, 30*time.Second)

	br.Failure()
	br.Failure()
	br.Success()
	br.Failure()
	br.Failure()
	if got := br.State(); got != StateClosed {
		t.Fatalf("state = %v, want closed (count reset by success)", got)
	}
}

func TestBreakerHalfOpenSingleProbe(t *testing.T) {
	br, clk := newTestBreaker(1, 30*time.Second)

	br.Failure()
	if br.State() != StateOpen {
		t.Fatal("breaker should be open")
	}

	// 窗口未到，继续拒绝
	clk.advance(29 * time.Second)
	if err := br.Allow(); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("Allow before recovery window = %v, want ErrCircuitOpen", err)
	}

	// 窗口已过：首个调用放行（探测），第二个仍拒绝
	clk.advance(2 * time.Second)
	if err := br.Allow(); err != nil {
		t.Fatalf("probe Allow = %v, want nil", err)
	}
	if br.State() != StateHalfOpen {
		t.Fatalf("state = %v, want half-open", br.State())
	}
	if err := br.Allow(); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("second Allow in half-open = %v, want ErrCircuitOpen", err)
	}
}

func TestBreakerHalfOpenOutcomes(t *testing.T) {
	t.Run("探测成功闭合", func(t *testing.T) {
		br, clk := newTestBreaker(1, time.Second)
		br.Failure()
		clk.advance(2 * time.Second)
		if err := br.Allow(); err != nil {
			t.Fatal(err)
		}
		br.Success()
		if br.State() != StateClosed {
			t.Fatalf("state = %v, want closed", br.State())
		}
		if err := br.Allow(); err != nil {
			t.Fatalf("Allow after close = %v", err)
		}
	})

	t.Run("探测失败重开并重置计时", func(t *testing.T) {
		br, clk := newTestBreaker(1, 10*time.Second)
		br.Failure()
		clk.advance(11 * time.Second)
		if err := br.Allow(); err != nil {
			t.Fatal(err)
		}
		br.Failure()
		if br.State() != StateOpen {
			t.Fatalf("state = %v, want open", br.State())
		}
		// 窗口从探测失败重新计，旧窗口过去也不放行
		clk.advance(9 * time.Second)
		if err := br.Allow(); !errors.Is(err, ErrCircuitOpen) {
			t.Fatalf("Allow = %v, want ErrCircuitOpen", err)
		}
		clk.advance(2 * time.Second)
		if err := br.Allow(); err != nil {
			t.Fatalf("Allow after new window = %v", err)
		}
	})
}

func TestBreakerGroupIsolation(t *testing.T) {
	g := NewBreakerGroup(1, time.Minute)

	g.Get("a.example.com").Failure()
	if g.Get("a.example.com").State() != StateOpen {
		t.Fatal("breaker a should be open")
	}
	if g.Get("b.example.com").State() != StateClosed {
		t.Fatal("breaker b must be unaffected")
	}
	if err := g.Get("b.example.com").Allow(); err != nil {
		t.Fatalf("Allow on b = %v", err)
	}
}

func TestBreakerGroupProbeSuccess(t *testing.T) {
	g := NewBreakerGroup(1, time.Second)
	clk := newFakeClock()
	br := g.Get("host")
	br.now = clk.now

	br.Failure()
	clk.advance(2 * time.Second)
	g.ProbeSuccess()
	if br.State() != StateClosed {
		t.Fatalf("state after probe success = %v, want closed", br.State())
	}
}
