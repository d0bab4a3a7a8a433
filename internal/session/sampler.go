package session

import (
	"time"
)

// computeLevel maps a frequency-magnitude snapshot onto the 0-100 meter
// scale: arithmetic mean of the bins over the 256-unit energy scale, clamped.
func computeLevel(bins []float64) float64 {
	if len(bins) == 0 {
		return 0
	}
	var sum float64
	for _, b := range bins {
		sum += b
	}
	level := sum / float64(len(bins)) * 100 / 256
	if level < 0 {
		return 0
	}
	if level > 100 {
		return 100
	}
	return level
}

// sampler is the recurring level measurement task. Exactly one exists per
// active session, owned by the Controller; ticks fire at the meter refresh
// rate and each reads the analysis tap once. The meter is deliberately
// twitchy: no averaging across ticks.
type sampler struct {
	graph  Graph
	gen    uint64
	tick   time.Duration
	emit   func(gen uint64, level float64)
	stopCh chan struct{}
	done   chan struct{}
	bins   []float64
}

func startSampler(g Graph, tick time.Duration, gen uint64, emit func(uint64, float64)) *sampler {
	s := &sampler{
		graph:  g,
		gen:    gen,
		tick:   tick,
		emit:   emit,
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
		bins:   make([]float64, g.BinCount()),
	}
	go s.run()
	return s
}

func (s *sampler) run() {
	defer close(s.done)
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.graph.FrequencyData(s.bins)
			s.emit(s.gen, computeLevel(s.bins))
		}
	}
}

// stop cancels the task and waits for the tick goroutine to exit, so the
// caller may discard the graph afterwards.
func (s *sampler) stop() {
	close(s.stopCh)
	<-s.done
}
