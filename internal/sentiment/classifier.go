// Package sentiment scores message text with a fixed lexical heuristic. The
// scorer is deliberately total: any input yields a score and label, so the
// message pipeline never has a classifier failure branch.
package sentiment

import "strings"

// Label is the coarse sentiment bucket assigned to a message.
type Label string

const (
	LabelPositive Label = "Positive"
	LabelNegative Label = "Negative"
	LabelNeutral  Label = "Neutral"
)

var positiveTerms = []string{
	"good", "great", "excellent", "awesome", "love",
	"happy", "wonderful", "amazing", "fantastic",
}

var negativeTerms = []string{
	"bad", "terrible", "awful", "hate", "sad",
	"angry", "horrible", "disgusting", "worst",
}

// Result carries the score in [0,1] and its label.
type Result struct {
	Score float64
	Label Label
}

// Analyze scores the text. Each lexicon term contributes at most one count
// when it appears anywhere in the lowercased text, including inside longer
// words; there is no tokenization.
func Analyze(text string) Result {
	if strings.TrimSpace(text) == "" {
		return Result{Score: 0.5, Label: LabelNeutral}
	}

	lowered := strings.ToLower(text)

	positive := 0
	for _, term := range positiveTerms {
		if strings.Contains(lowered, term) {
			positive++
		}
	}
	negative := 0
	for _, term := range negativeTerms {
		if strings.Contains(lowered, term) {
			negative++
		}
	}

	switch {
	case positive > negative:
		return Result{Score: clamp(0.7 + 0.1*float64(min(positive-negative, 3))), Label: LabelPositive}
	case negative > positive:
		return Result{Score: clamp(0.3 - 0.1*float64(min(negative-positive, 3))), Label: LabelNegative}
	default:
		return Result{Score: 0.5, Label: LabelNeutral}
	}
}

func clamp(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
