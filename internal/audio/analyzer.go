package audio

import (
	"math"
	"math/cmplx"
	"sync"

	"github.com/mjibson/go-dsp/fft"
	"github.com/mjibson/go-dsp/window"
)

const (
	// FFTSize is the analysis transform length. Fixed; the meter math assumes
	// BinCount bins per snapshot.
	FFTSize  = 2048
	BinCount = FFTSize / 2

	// MaxBinValue is the top of the unsigned energy scale each bin is
	// quantized to. A full-scale bin maps the meter to exactly 100.
	MaxBinValue = 256.0

	// Decibel range mapped onto [0, MaxBinValue]. Magnitudes below the floor
	// quantize to 0, above the ceiling saturate.
	minDecibels = -100.0
	maxDecibels = -30.0

	// binSmoothing blends each new magnitude frame with the previous one.
	// This is the tap's own windowing; the meter adds nothing on top.
	binSmoothing = 0.8
)

// Analyzer is the read-only observation point of the signal path. It keeps the
// most recent FFTSize post-gain samples in a ring buffer and computes a
// frequency-magnitude snapshot on demand. Pushing never modifies the signal.
type Analyzer struct {
	mu       sync.Mutex
	ring     [FFTSize]float64
	pos      int
	smoothed [BinCount]float64
	win      []float64
	scratch  []float64
}

func NewAnalyzer() *Analyzer {
	return &Analyzer{
		win:     window.Blackman(FFTSize),
		scratch: make([]float64, FFTSize),
	}
}

// Push appends normalized samples in [-1, 1] to the ring buffer. Called from
// the device data callback; it only copies, never computes.
func (a *Analyzer) Push(samples []float64) {
	a.mu.Lock()
	for _, s := range samples {
		a.ring[a.pos] = s
		a.pos = (a.pos + 1) % FFTSize
	}
	a.mu.Unlock()
}

// FrequencyData fills dst with the current magnitude snapshot on the
// [0, MaxBinValue] scale. dst shorter than BinCount is filled as far as it
// goes; extra capacity is left untouched.
func (a *Analyzer) FrequencyData(dst []float64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	// Unroll the ring chronologically and window it.
	for i := 0; i < FFTSize; i++ {
		a.scratch[i] = a.ring[(a.pos+i)%FFTSize] * a.win[i]
	}

	spectrum := fft.FFTReal(a.scratch)

	for k := 0; k < BinCount; k++ {
		mag := cmplx.Abs(spectrum[k]) / FFTSize
		a.smoothed[k] = binSmoothing*a.smoothed[k] + (1-binSmoothing)*mag

		db := -math.MaxFloat64
		if a.smoothed[k] > 0 {
			db = 20 * math.Log10(a.smoothed[k])
		}

		v := (db - minDecibels) / (maxDecibels - minDecibels) * MaxBinValue
		if v < 0 {
			v = 0
		} else if v > MaxBinValue {
			v = MaxBinValue
		}
		if k < len(dst) {
			dst[k] = v
		}
	}
}
