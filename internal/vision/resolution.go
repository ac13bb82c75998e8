package vision

import "time"

// Resolution is the sampling density requested from the video model.
type Resolution string

const (
	ResolutionHigh   Resolution = "high"
	ResolutionMedium Resolution = "medium"
	ResolutionLow    Resolution = "low"
)

// ResolutionFor lowers sampling density as videos get longer.
func ResolutionFor(d time.Duration) Resolution {
	switch {
	case d <= time.Minute:
		return ResolutionHigh
	case d <= 5*time.Minute:
		return ResolutionMedium
	default:
		return ResolutionLow
	}
}

// FramesPerSecond is the sampling hint passed in the prompt.
func (r Resolution) FramesPerSecond() float64 {
	switch r {
	case ResolutionHigh:
		return 1
	case ResolutionMedium:
		return 0.5
	default:
		return 0.2
	}
}

// OutputTokens scales the output cap down from limit.
func (r Resolution) OutputTokens(limit int32) int32 {
	switch r {
	case ResolutionHigh:
		return limit
	case ResolutionMedium:
		return limit * 3 / 4
	default:
		return limit / 2
	}
}
