package knowledge

import (
	"math"
	"strings"

	"github.com/hupe1980/classmesh/core"
)

func clampPractice(v float64) float64 { return math.Max(0.05, math.Min(0.95, v)) }

// QuizDelta blends a quiz score into the current understanding:
// new = clamp(old*0.4 + score*0.6, 0.05, 0.95), expressed as a delta.
func QuizDelta(old, score float64) float64 {
	return clampPractice(old*0.4+score*0.6) - old
}

// ReviewDelta computes the gain of a review session of the given intensity.
// The gain shrinks as understanding approaches 1 and is scaled by the
// persona's engagement and confidence and by variance.
func ReviewDelta(p core.Persona, old, intensity, variance float64) float64 {
	gain := intensity *
		(0.6 + 0.4*p.Engagement) *
		(0.7 + 0.3*p.Confidence) *
		(1 - old) *
		(1 + variance)
	return clampPractice(old+gain) - old
}

// ScoreAnswer grades a free-text answer by keyword coverage and length.
// It returns a score in [0.05, 0.95] and short feedback.
func ScoreAnswer(answer string, keywords []string) (float64, string) {
	clean := strings.ToLower(answer)
	var usable []string
	for _, kw := range keywords {
		if kw = strings.TrimSpace(kw); kw != "" {
			usable = append(usable, kw)
		}
	}
	hits := 0
	for _, kw := range usable {
		if strings.Contains(clean, strings.ToLower(kw)) {
			hits++
		}
	}
	ratio := float64(hits) / math.Max(1, float64(len(usable)))
	length := math.Min(1, math.Max(0, float64(len([]rune(answer))-10)/60))
	score := clampPractice(0.2 + 0.6*ratio + 0.2*length)
	switch {
	case ratio < 0.4:
		return score, "missing the key points, revisit the core concept"
	case ratio < 0.8:
		return score, "covers part of the key points, add more detail"
	default:
		return score, "complete answer covering the key points"
	}
}
