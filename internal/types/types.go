package types

const (
	// MinGain and MaxGain bound the gain stage coefficient. Values outside
	// this range are clamped, never rejected.
	MinGain = 0.0
	MaxGain = 2.0

	// DefaultGain is the coefficient applied when nothing else is configured.
	DefaultGain = 1.0
)

// AudioConfig selects the capture device and stream parameters.
type AudioConfig struct {
	Device     string `yaml:"device"`      // capture device name, empty = system default
	SampleRate int    `yaml:"sample_rate"` // Hz, default 48000
}

// MeterConfig controls the level meter refresh.
type MeterConfig struct {
	RefreshHz int `yaml:"refresh_hz"` // sampler ticks per second, default 60
}

type NotificationsConfig struct {
	Enabled bool `yaml:"enabled"`
}

type Config struct {
	Gain          float64             `yaml:"gain"` // initial gain stage coefficient [0, 2]
	Audio         AudioConfig         `yaml:"audio"`
	Meter         MeterConfig         `yaml:"meter"`
	Notifications NotificationsConfig `yaml:"notifications"`
}

// ClampGain forces v into [MinGain, MaxGain].
func ClampGain(v float64) float64 {
	if v < MinGain {
		return MinGain
	}
	if v > MaxGain {
		return MaxGain
	}
	return v
}
