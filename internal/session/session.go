package session

import (
	"sync"
	"time"

	"github.com/dooshek/loopmic/internal/logger"
	"github.com/dooshek/loopmic/internal/notification"
	"github.com/dooshek/loopmic/internal/types"
)

// State is the session lifecycle state. Idle is both the initial and the
// normal terminal state; Error is terminal only until the next start attempt.
type State int

const (
	StateIdle State = iota
	StateActive
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateActive:
		return "active"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

const (
	// StatusReady is the normal idle message.
	StatusReady = "Ready. Toggle to route microphone to output."
	// StatusActive is shown while audio flows.
	StatusActive = "Monitoring. Microphone is routed to output."
)

// Graph is the live signal path the controller owns while active. It does not
// exist outside the Active state.
type Graph interface {
	SetGain(v float64)
	FrequencyData(dst []float64)
	BinCount() int
	Close() error
}

// OpenFunc acquires the capture device and connects a graph with the given
// gain stage coefficient. It blocks and is always called off the caller's
// goroutine.
type OpenFunc func(gain float64) (Graph, error)

// Snapshot is the published state consumed by the presentation layer.
type Snapshot struct {
	State  State
	Level  float64 // 0..100, meaningful only while Active
	Gain   float64
	Status string
}

// Config wires a Controller.
type Config struct {
	Open      OpenFunc
	Notifier  notification.Notifier // nil = silent
	Gain      float64               // initial coefficient, clamped to [0, 2]
	RefreshHz int                   // level sampler ticks per second
}

// Controller enforces the session state machine and mediates every resource
// acquisition and release. The capture device and the graph are owned here
// exclusively; SetGain is the only mutation entry point into the path.
type Controller struct {
	mu       sync.Mutex
	open     OpenFunc
	notifier notification.Notifier
	tick     time.Duration

	state  State
	gain   float64
	level  float64
	status string

	// generation invalidates in-flight acquisitions and stale sampler ticks.
	// Every Start and Stop bumps it.
	generation uint64

	graph   Graph
	sampler *sampler

	onChange func(Snapshot)
}

func New(cfg Config) *Controller {
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = notification.NewSilent()
	}
	refresh := cfg.RefreshHz
	if refresh <= 0 {
		refresh = 60
	}
	return &Controller{
		open:     cfg.Open,
		notifier: notifier,
		tick:     time.Second / time.Duration(refresh),
		state:    StateIdle,
		gain:     types.ClampGain(cfg.Gain),
		status:   StatusReady,
	}
}

// Subscribe registers the single observer receiving a Snapshot on every
// change. The callback runs with the controller locked and must not call back
// into it.
func (c *Controller) Subscribe(fn func(Snapshot)) {
	c.mu.Lock()
	c.onChange = fn
	c.mu.Unlock()
}

// Snapshot returns the current published state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Active reports whether audio is currently flowing.
func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateActive
}

// Gain returns the stored gain stage coefficient.
func (c *Controller) Gain() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gain
}

// Start begins device acquisition. It returns immediately; the outcome is
// published when the acquisition resolves. A second Start while one is
// pending invalidates the earlier attempt. No-op while already Active.
func (c *Controller) Start() {
	c.mu.Lock()
	if c.state == StateActive {
		c.mu.Unlock()
		return
	}
	c.generation++
	gen := c.generation
	gain := c.gain
	c.mu.Unlock()

	logger.Debugf("acquiring capture device (attempt %d)", gen)
	go c.acquire(gen, gain)
}

func (c *Controller) acquire(gen uint64, gain float64) {
	g, err := c.open(gain)

	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.generation {
		// A stop or a newer start won the race. Discard instead of
		// reactivating a session the user already left.
		if g != nil {
			g.Close()
		}
		logger.Debugf("discarded stale device acquisition (attempt %d)", gen)
		return
	}

	if err != nil {
		c.state = StateError
		c.level = 0
		c.status = err.Error()
		logger.Error("failed to start monitor session", err)
		c.notifier.NotifyMonitorError(err.Error())
		c.publishLocked()
		return
	}

	c.graph = g
	g.SetGain(c.gain) // gain may have moved while the acquisition was pending
	c.sampler = startSampler(g, c.tick, gen, c.setLevel)
	c.state = StateActive
	c.level = 0
	c.status = StatusActive
	logger.Info("monitor session active")
	c.notifier.NotifyMonitorStarted()
	c.publishLocked()
}

// Stop tears the session down and returns to Idle with the ready message.
// Idempotent: stopping an idle session only resets level and status.
func (c *Controller) Stop() {
	c.stop(StatusReady, true)
}

// StopWithStatus stops like Stop but leaves a different status message, used
// by the lifecycle guard so the user can tell why audio stopped.
func (c *Controller) StopWithStatus(status string) {
	c.stop(status, true)
}

// Shutdown stops without publishing; the owning context is going away and
// there is nothing left to render into.
func (c *Controller) Shutdown() {
	c.stop(StatusReady, false)
}

func (c *Controller) stop(status string, publish bool) {
	c.mu.Lock()
	c.generation++
	graph := c.graph
	smp := c.sampler
	c.graph = nil
	c.sampler = nil
	c.state = StateIdle
	c.level = 0
	c.status = status
	if publish {
		c.publishLocked()
	}
	c.mu.Unlock()

	// The sampler must be fully stopped before the graph is torn down so a
	// tick never reads a dead analysis tap.
	if smp != nil {
		smp.stop()
	}
	if graph != nil {
		if err := graph.Close(); err != nil {
			logger.Error("failed to release capture device", err)
		}
		logger.Info("monitor session stopped")
	}
}

// SetGain clamps v to [0, 2] and stores it. While Active it reaches the gain
// stage immediately; otherwise it applies on the next Start. Returns the
// stored value.
func (c *Controller) SetGain(v float64) float64 {
	v = types.ClampGain(v)
	c.mu.Lock()
	c.gain = v
	if c.state == StateActive && c.graph != nil {
		c.graph.SetGain(v)
	}
	c.publishLocked()
	c.mu.Unlock()
	return v
}

// Toggle stops when Active, otherwise starts. The primary control surface.
func (c *Controller) Toggle() {
	if c.Active() {
		c.Stop()
	} else {
		c.Start()
	}
}

// setLevel is the sampler's publish path. Stale ticks (older generation, or
// arriving after a stop) are dropped.
func (c *Controller) setLevel(gen uint64, level float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation || c.state != StateActive {
		return
	}
	c.level = level
	c.publishLocked()
}

func (c *Controller) snapshotLocked() Snapshot {
	return Snapshot{
		State:  c.state,
		Level:  c.level,
		Gain:   c.gain,
		Status: c.status,
	}
}

func (c *Controller) publishLocked() {
	if c.onChange != nil {
		c.onChange(c.snapshotLocked())
	}
}
