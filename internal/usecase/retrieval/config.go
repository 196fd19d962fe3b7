package retrieval

// Defaults.
const (
	DefaultThreshold        = 0.3
	DefaultRawTopK          = 50
	DefaultRegionTopK       = 5
	DefaultCombinedTopK     = 50
	DefaultOverfetch        = 3
	DefaultSummaryChars     = 2000
	DefaultSegmentThreshold = 0.5
	DefaultConcurrency      = 4

	// MaxTopK bounds caller-supplied topK.
	MaxTopK = 500
)

// Config tunes retrieval. Zero values take defaults.
type Config struct {
	Threshold        float64
	RawTopK          int
	RegionTopK       int
	CombinedTopK     int
	Overfetch        int
	SummaryChars     int
	SegmentThreshold float64
	Concurrency      int
}

// ApplyDefaults fills zero fields.
func (c *Config) ApplyDefaults() {
	if c.Threshold == 0 {
		c.Threshold = DefaultThreshold
	}
	if c.RawTopK == 0 {
		c.RawTopK = DefaultRawTopK
	}
	if c.RegionTopK == 0 {
		c.RegionTopK = DefaultRegionTopK
	}
	if c.CombinedTopK == 0 {
		c.CombinedTopK = DefaultCombinedTopK
	}
	if c.Overfetch == 0 {
		c.Overfetch = DefaultOverfetch
	}
	if c.SummaryChars == 0 {
		c.SummaryChars = DefaultSummaryChars
	}
	if c.SegmentThreshold == 0 {
		c.SegmentThreshold = DefaultSegmentThreshold
	}
	if c.Concurrency == 0 {
		c.Concurrency = DefaultConcurrency
	}
}

// Options are per-call overrides. A nil Threshold or a zero TopK uses the mode's default.
type Options struct {
	Threshold *float64
	TopK      int
}
