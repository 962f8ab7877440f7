package outline

import (
	"fmt"
	"math"
)

// Heading thresholds observed in the field. Neither is applied implicitly;
// callers pick one (or their own) through Config.HeadingThreshold.
const (
	// ThresholdPipeline is the value used by the end-to-end PDF driver.
	ThresholdPipeline = 0.60
	// ThresholdStrict is the value used when the engine is called as a library.
	ThresholdStrict = 0.90
)

// Config holds every tunable of the level assignment engine.
type Config struct {
	// HeadingThreshold is the minimum page probability for a line to be a
	// heading candidate. Required, must lie in [0,1].
	HeadingThreshold float64

	// Repeated short text is treated as a running header.
	RepeatMinCount int
	RepeatMaxWords int

	// Table/form fragment cutoffs used by the noise filter.
	NoiseMaxChars   int
	NoiseMaxWords   int
	NoiseMaxWordLen int

	// All-caps blocks with more words than this are logo taglines, not titles.
	TaglineMaxWords int

	// XBucketWidth is the horizontal grid used to group title-page lines.
	XBucketWidth float64

	// RankedLevels is how many distinct font sizes the fallback ranker maps
	// to H1..H3.
	RankedLevels int
}

// NewConfig returns a Config with the standard cutoffs and the given threshold.
func NewConfig(threshold float64) Config {
	return Config{
		HeadingThreshold: threshold,
		RepeatMinCount:   3,
		RepeatMaxWords:   5,
		NoiseMaxChars:    2,
		NoiseMaxWords:    2,
		NoiseMaxWordLen:  4,
		TaglineMaxWords:  4,
		XBucketWidth:     2,
		RankedLevels:     len(rankedLevels),
	}
}

// Validate rejects configurations the engine cannot run with.
func (c Config) Validate() error {
	if math.IsNaN(c.HeadingThreshold) || c.HeadingThreshold < 0 || c.HeadingThreshold > 1 {
		return fmt.Errorf("%w: %v", ErrInvalidThreshold, c.HeadingThreshold)
	}
	if c.RepeatMinCount < 1 {
		return fmt.Errorf("%w: repeat min count %d", ErrInvalidConfig, c.RepeatMinCount)
	}
	if c.XBucketWidth <= 0 {
		return fmt.Errorf("%w: x bucket width %v", ErrInvalidConfig, c.XBucketWidth)
	}
	if c.RankedLevels < 0 || c.RankedLevels > len(rankedLevels) {
		return fmt.Errorf("%w: ranked levels %d (max %d)", ErrInvalidConfig, c.RankedLevels, len(rankedLevels))
	}
	return nil
}
