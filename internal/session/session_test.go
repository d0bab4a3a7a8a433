package session

import (
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeGraph struct {
	mu     sync.Mutex
	gain   float64
	closed bool
	bins   []float64
}

func newFakeGraph(gain float64) *fakeGraph {
	return &fakeGraph{gain: gain, bins: make([]float64, 8)}
}

func (g *fakeGraph) SetGain(v float64) {
	g.mu.Lock()
	g.gain = v
	g.mu.Unlock()
}

func (g *fakeGraph) FrequencyData(dst []float64) {
	g.mu.Lock()
	copy(dst, g.bins)
	g.mu.Unlock()
}

func (g *fakeGraph) BinCount() int { return len(g.bins) }

func (g *fakeGraph) Close() error {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()
	return nil
}

func (g *fakeGraph) currentGain() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.gain
}

func (g *fakeGraph) isClosed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.closed
}

func (g *fakeGraph) setBins(v float64) {
	g.mu.Lock()
	for i := range g.bins {
		g.bins[i] = v
	}
	g.mu.Unlock()
}

// fakeOpener stands in for device acquisition. When release is set, Open
// blocks until the channel is closed, simulating a slow permission prompt.
type fakeOpener struct {
	mu      sync.Mutex
	err     error
	release chan struct{}
	graphs  []*fakeGraph
}

func (o *fakeOpener) open(gain float64) (Graph, error) {
	o.mu.Lock()
	release := o.release
	err := o.err
	o.mu.Unlock()

	if release != nil {
		<-release
	}
	if err != nil {
		return nil, err
	}

	g := newFakeGraph(gain)
	o.mu.Lock()
	o.graphs = append(o.graphs, g)
	o.mu.Unlock()
	return g, nil
}

func (o *fakeOpener) setErr(err error) {
	o.mu.Lock()
	o.err = err
	o.mu.Unlock()
}

func (o *fakeOpener) openedGraphs() []*fakeGraph {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]*fakeGraph(nil), o.graphs...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestStopWhenIdleIsNoOp(t *testing.T) {
	c := New(Config{Open: (&fakeOpener{}).open})

	c.Stop()
	c.Stop()

	snap := c.Snapshot()
	if snap.State != StateIdle {
		t.Errorf("state = %v, want idle", snap.State)
	}
	if snap.Level != 0 {
		t.Errorf("level = %v, want 0", snap.Level)
	}
	if snap.Status != StatusReady {
		t.Errorf("status = %q, want ready message", snap.Status)
	}
}

func TestToggleSymmetry(t *testing.T) {
	opener := &fakeOpener{}
	c := New(Config{Open: opener.open, Gain: 1.0})

	c.Toggle()
	waitFor(t, "active state", c.Active)

	graphs := opener.openedGraphs()
	if len(graphs) != 1 {
		t.Fatalf("opened %d graphs, want 1", len(graphs))
	}
	if g := graphs[0].currentGain(); g != 1.0 {
		t.Errorf("graph gain = %v, want 1.0", g)
	}

	c.Toggle()
	if c.Active() {
		t.Fatal("still active after second toggle")
	}
	snap := c.Snapshot()
	if snap.State != StateIdle || snap.Level != 0 {
		t.Errorf("snapshot after toggle off = %+v, want idle with level 0", snap)
	}
	if !graphs[0].isClosed() {
		t.Error("graph not closed after toggle off")
	}
}

func TestStartFailureEntersRetryableError(t *testing.T) {
	opener := &fakeOpener{}
	opener.setErr(errors.New("permission denied by user"))
	c := New(Config{Open: opener.open})

	c.Start()
	waitFor(t, "error state", func() bool { return c.Snapshot().State == StateError })

	snap := c.Snapshot()
	if snap.Status != "permission denied by user" {
		t.Errorf("status = %q, want the cause verbatim", snap.Status)
	}
	if snap.Level != 0 {
		t.Errorf("level = %v, want 0", snap.Level)
	}

	// Second failure replaces the message.
	opener.setErr(errors.New("device unplugged"))
	c.Start()
	waitFor(t, "replaced error message", func() bool {
		return c.Snapshot().Status == "device unplugged"
	})

	// Error is retryable: a successful attempt clears it.
	opener.setErr(nil)
	c.Start()
	waitFor(t, "active state after retry", c.Active)
	if got := c.Snapshot().Status; got != StatusActive {
		t.Errorf("status = %q, want active message", got)
	}
}

func TestSetGainClamps(t *testing.T) {
	opener := &fakeOpener{}
	c := New(Config{Open: opener.open})

	if got := c.SetGain(-1); got != 0 {
		t.Errorf("SetGain(-1) = %v, want 0", got)
	}
	if got := c.SetGain(5); got != 2 {
		t.Errorf("SetGain(5) = %v, want 2", got)
	}

	c.Start()
	waitFor(t, "active state", c.Active)

	c.SetGain(1.5)
	g := opener.openedGraphs()[0]
	if got := g.currentGain(); got != 1.5 {
		t.Errorf("graph gain = %v, want 1.5", got)
	}
	if !c.Active() {
		t.Error("SetGain while active caused a state transition")
	}
}

func TestGainStoredWhileIdleAppliesOnStart(t *testing.T) {
	opener := &fakeOpener{}
	c := New(Config{Open: opener.open, Gain: 1.0})

	c.SetGain(0.4)
	c.Start()
	waitFor(t, "active state", c.Active)

	if got := opener.openedGraphs()[0].currentGain(); got != 0.4 {
		t.Errorf("graph gain = %v, want 0.4", got)
	}
}

func TestLateResolutionDiscarded(t *testing.T) {
	opener := &fakeOpener{release: make(chan struct{})}
	c := New(Config{Open: opener.open})

	var mu sync.Mutex
	var sawActive bool
	c.Subscribe(func(s Snapshot) {
		mu.Lock()
		if s.State == StateActive {
			sawActive = true
		}
		mu.Unlock()
	})

	c.Start()
	c.Stop()
	close(opener.release) // device access resolves after the stop

	waitFor(t, "stale graph to be discarded", func() bool {
		graphs := opener.openedGraphs()
		return len(graphs) == 1 && graphs[0].isClosed()
	})

	if c.Snapshot().State != StateIdle {
		t.Errorf("state = %v, want idle", c.Snapshot().State)
	}
	mu.Lock()
	defer mu.Unlock()
	if sawActive {
		t.Error("session went active from a stale acquisition")
	}
}

func TestSecondStartInvalidatesFirst(t *testing.T) {
	opener := &fakeOpener{release: make(chan struct{})}
	c := New(Config{Open: opener.open})

	c.Start()
	c.Start()
	close(opener.release)

	waitFor(t, "active state", c.Active)
	waitFor(t, "stale graph closed", func() bool {
		graphs := opener.openedGraphs()
		if len(graphs) != 2 {
			return false
		}
		closed := 0
		for _, g := range graphs {
			if g.isClosed() {
				closed++
			}
		}
		return closed == 1
	})
}

func TestSamplerPublishesLevel(t *testing.T) {
	opener := &fakeOpener{}
	c := New(Config{Open: opener.open, RefreshHz: 200})

	c.Start()
	waitFor(t, "active state", c.Active)

	opener.openedGraphs()[0].setBins(128)
	waitFor(t, "level 50", func() bool { return c.Snapshot().Level == 50 })
}

func TestNoLevelPublishedAfterStop(t *testing.T) {
	opener := &fakeOpener{}
	c := New(Config{Open: opener.open, RefreshHz: 200})

	var mu sync.Mutex
	var publishes int
	c.Subscribe(func(s Snapshot) {
		mu.Lock()
		publishes++
		mu.Unlock()
	})

	c.Start()
	waitFor(t, "active state", c.Active)
	opener.openedGraphs()[0].setBins(64)
	waitFor(t, "some level publish", func() bool { return c.Snapshot().Level > 0 })

	c.Stop()
	mu.Lock()
	before := publishes
	mu.Unlock()

	// Several sampler periods worth of quiet.
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	after := publishes
	mu.Unlock()
	if after != before {
		t.Errorf("%d publications after stop, want none", after-before)
	}
	if got := c.Snapshot().Level; got != 0 {
		t.Errorf("level = %v after stop, want 0", got)
	}
}

func TestStartWhileActiveIsNoOp(t *testing.T) {
	opener := &fakeOpener{}
	c := New(Config{Open: opener.open})

	c.Start()
	waitFor(t, "active state", c.Active)

	c.Start()
	time.Sleep(10 * time.Millisecond)
	if got := len(opener.openedGraphs()); got != 1 {
		t.Errorf("opened %d graphs, want 1", got)
	}
}

func TestStopWithStatusLeavesDistinctMessage(t *testing.T) {
	opener := &fakeOpener{}
	c := New(Config{Open: opener.open})

	c.Start()
	waitFor(t, "active state", c.Active)

	c.StopWithStatus("paused for a reason")
	snap := c.Snapshot()
	if snap.State != StateIdle {
		t.Errorf("state = %v, want idle", snap.State)
	}
	if snap.Status != "paused for a reason" {
		t.Errorf("status = %q, want the custom message", snap.Status)
	}
	if snap.Status == StatusReady {
		t.Error("custom message not distinguishable from the ready message")
	}
}

func TestShutdownDoesNotPublish(t *testing.T) {
	opener := &fakeOpener{}
	c := New(Config{Open: opener.open})

	c.Start()
	waitFor(t, "active state", c.Active)

	var mu sync.Mutex
	var publishes int
	c.Subscribe(func(s Snapshot) {
		mu.Lock()
		publishes++
		mu.Unlock()
	})

	c.Shutdown()

	mu.Lock()
	stops := publishes
	mu.Unlock()
	// The level sampler may have published before the shutdown took the
	// lock, but the shutdown itself is silent.
	if c.Active() {
		t.Fatal("still active after shutdown")
	}
	if !opener.openedGraphs()[0].isClosed() {
		t.Error("graph not closed on shutdown")
	}
	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if publishes != stops {
		t.Errorf("%d publications after shutdown", publishes-stops)
	}
}
