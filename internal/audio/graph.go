package audio

import (
	"fmt"
	"math"
	"sync/atomic"

	"github.com/dooshek/loopmic/internal/logger"
	"github.com/dooshek/loopmic/internal/types"
	"github.com/gen2brain/malgo"
)

const channels = 1

// OpenConfig selects the capture device and stream parameters for a graph.
type OpenConfig struct {
	Device     string // capture device name, empty = system default
	SampleRate int
	Gain       float64
}

// Graph is the live signal path: capture source, gain stage, analysis tap and
// playback sink, backed by a single miniaudio duplex device. The tap observes
// post-gain samples; the sink plays the same post-gain samples in parallel.
// Audio flows the moment Open returns.
type Graph struct {
	ctx       *malgo.AllocatedContext
	device    *malgo.Device
	analyzer  *Analyzer
	captureID malgo.DeviceID
	gainBits  atomic.Uint64 // float64 bits, read on the audio thread
	scratch   []float64
}

// Open acquires the capture device and connects the full path. On any failure
// everything already acquired is released before returning; there is no
// partially connected graph. Capture is raw: miniaudio applies no echo
// cancellation, noise suppression or automatic gain control.
func Open(cfg OpenConfig) (*Graph, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize audio context: %w", err)
	}

	g := &Graph{ctx: ctx, analyzer: NewAnalyzer()}
	g.gainBits.Store(math.Float64bits(types.ClampGain(cfg.Gain)))

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Duplex)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = channels
	deviceConfig.Playback.Format = malgo.FormatS16
	deviceConfig.Playback.Channels = channels
	deviceConfig.SampleRate = uint32(cfg.SampleRate)
	deviceConfig.Alsa.NoMMap = 1

	if cfg.Device != "" {
		id, err := findCaptureDevice(ctx, cfg.Device)
		if err != nil {
			g.releaseContext()
			return nil, err
		}
		g.captureID = id
		deviceConfig.Capture.DeviceID = g.captureID.Pointer()
	}

	device, err := malgo.InitDevice(ctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: g.route,
	})
	if err != nil {
		g.releaseContext()
		return nil, fmt.Errorf("failed to open capture device: %w", err)
	}
	g.device = device

	if err := device.Start(); err != nil {
		device.Uninit()
		g.releaseContext()
		return nil, fmt.Errorf("failed to start signal path: %w", err)
	}

	logger.Debugf("signal path connected (device=%q rate=%d)", cfg.Device, cfg.SampleRate)
	return g, nil
}

// route is the duplex data callback: apply the gain coefficient to the capture
// frames, hand them to the playback sink and feed the analysis tap. Runs on
// the audio thread, so it only multiplies and copies.
func (g *Graph) route(outputBuffer, inputBuffer []byte, frameCount uint32) {
	gain := math.Float64frombits(g.gainBits.Load())

	sampleCount := len(inputBuffer) / 2
	if cap(g.scratch) < sampleCount {
		g.scratch = make([]float64, sampleCount)
	}
	g.scratch = g.scratch[:sampleCount]

	for i := 0; i < sampleCount; i++ {
		s := int16(inputBuffer[2*i]) | int16(inputBuffer[2*i+1])<<8
		scaled := float64(s) * gain
		if scaled > 32767 {
			scaled = 32767
		} else if scaled < -32768 {
			scaled = -32768
		}
		out := int16(scaled)
		if 2*i+1 < len(outputBuffer) {
			outputBuffer[2*i] = byte(out)
			outputBuffer[2*i+1] = byte(out >> 8)
		}
		g.scratch[i] = scaled / 32768.0
	}

	g.analyzer.Push(g.scratch)
}

// SetGain replaces the gain stage coefficient, effective on the next callback.
func (g *Graph) SetGain(v float64) {
	g.gainBits.Store(math.Float64bits(types.ClampGain(v)))
}

// BinCount reports the analysis tap resolution.
func (g *Graph) BinCount() int {
	return BinCount
}

// FrequencyData reads the analysis tap. See Analyzer.FrequencyData.
func (g *Graph) FrequencyData(dst []float64) {
	g.analyzer.FrequencyData(dst)
}

// Close stops the device and releases it together with the audio context. The
// capture indicator goes dark here.
func (g *Graph) Close() error {
	if g.device != nil {
		g.device.Uninit()
		g.device = nil
	}
	g.releaseContext()
	logger.Debug("signal path released")
	return nil
}

func (g *Graph) releaseContext() {
	if g.ctx == nil {
		return
	}
	if err := g.ctx.Uninit(); err != nil {
		logger.Error("failed to uninit audio context", err)
	}
	g.ctx.Free()
	g.ctx = nil
}
