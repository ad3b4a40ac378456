package condition

import "strings"

// Sentiment labels returned by SentimentAnalysis.
const (
	SentimentPositive = "positive"
	SentimentNegative = "negative"
	SentimentNeutral  = "neutral"
)

var (
	positiveWords = []string{"good", "great", "excellent", "positive", "happy"}
	negativeWords = []string{"bad", "poor", "negative", "unhappy", "terrible"}
)

// SentimentAnalysis classifies text by counting the listed positive and
// negative words it contains (case-insensitive substring match). Ties are
// neutral.
func SentimentAnalysis(text string) string {
	lower := strings.ToLower(text)
	pos, neg := 0, 0
	for _, w := range positiveWords {
		if strings.Contains(lower, w) {
			pos++
		}
	}
	for _, w := range negativeWords {
		if strings.Contains(lower, w) {
			neg++
		}
	}
	switch {
	case pos > neg:
		return SentimentPositive
	case neg > pos:
		return SentimentNegative
	default:
		return SentimentNeutral
	}
}
