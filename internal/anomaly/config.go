package anomaly

// MetricRange is a static min/max band for one metric. Values outside the
// band raise a range_violation regardless of window state.
type MetricRange struct {
	Min float64
	Max float64
}

// Config holds the detector tuning. Thresholds are static per metric, not
// per species.
type Config struct {
	// WindowSize caps the per-(entity, metric) sliding window.
	WindowSize int
	// MinSamples is the number of prior values a window must hold before
	// z-score checks run.
	MinSamples int
	// Ranges maps metric name to its static range band.
	Ranges map[string]MetricRange
	// ZThresholds maps metric name to the z-score above which a value is a
	// statistical outlier.
	ZThresholds map[string]float64
	// ZHighCutoff escalates a statistical outlier from medium to high.
	ZHighCutoff float64

	// StressHeartRate and StressActivity define the stress_indicator check:
	// heart rate above the former while activity is below the latter.
	StressHeartRate float64
	StressActivity  float64

	// InactivityLevel and InactivityRun define prolonged_inactivity: the last
	// InactivityRun activity readings, current included, all below the level.
	InactivityLevel float64
	InactivityRun   int
}

// DefaultConfig returns the detector defaults for cattle collars.
func DefaultConfig() Config {
	return Config{
		WindowSize: 50,
		MinSamples: 10,
		Ranges: map[string]MetricRange{
			"heart_rate":     {Min: 30, Max: 200},
			"activity_level": {Min: 0, Max: 10},
			"temperature":    {Min: 35.0, Max: 42.0},
			"step_count":     {Min: 0, Max: 10000},
		},
		ZThresholds: map[string]float64{
			"heart_rate":     3.0,
			"activity_level": 2.5,
			"temperature":    2.0,
			"step_count":     3.0,
		},
		ZHighCutoff:     4.0,
		StressHeartRate: 120,
		StressActivity:  2.0,
		InactivityLevel: 1.0,
		InactivityRun:   5,
	}
}

// normalize fills zero-valued fields with defaults so a partially populated
// Config from viper still behaves.
func (c Config) normalize() Config {
	def := DefaultConfig()
	if c.WindowSize <= 0 {
		c.WindowSize = def.WindowSize
	}
	if c.MinSamples <= 0 {
		c.MinSamples = def.MinSamples
	}
	if len(c.Ranges) == 0 {
		c.Ranges = def.Ranges
	}
	if len(c.ZThresholds) == 0 {
		c.ZThresholds = def.ZThresholds
	}
	if c.ZHighCutoff <= 0 {
		c.ZHighCutoff = def.ZHighCutoff
	}
	if c.StressHeartRate <= 0 {
		c.StressHeartRate = def.StressHeartRate
	}
	if c.StressActivity <= 0 {
		c.StressActivity = def.StressActivity
	}
	if c.InactivityLevel <= 0 {
		c.InactivityLevel = def.InactivityLevel
	}
	if c.InactivityRun <= 0 {
		c.InactivityRun = def.InactivityRun
	}
	return c
}
