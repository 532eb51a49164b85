package engine

import "github.com/MrWong99/voxdesk/pkg/provider/stt"

// DefaultConfidenceThreshold is the transcript confidence below which the
// assistant asks the visitor to repeat.
const DefaultConfidenceThreshold = 0.6

// Gate decides whether a transcript is trustworthy enough to answer.
type Gate struct {
	Threshold float64
}

// Allow reports whether generation should run for t. A transcript without a
// confidence value always passes: the backend simply does not report one.
func (g Gate) Allow(t stt.Transcript) bool {
	if t.Confidence == nil {
		return true
	}
	return *t.Confidence >= g.Threshold
}
