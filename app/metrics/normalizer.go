package metrics

import (
	"strconv"
	"strings"
)

// ParseCount converts a human-readable engagement count as rendered by the
// platform ("1,234", "1.2K", "2M") into an integer. Unparseable or empty
// input yields 0.
func ParseCount(s string) int64 {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", ""))
	if s == "" {
		return 0
	}

	multiplier := 1.0
	switch {
	case strings.HasSuffix(strings.ToUpper(s), "K"):
		multiplier = 1_000
		s = s[:len(s)-1]
	case strings.HasSuffix(strings.ToUpper(s), "M"):
		multiplier = 1_000_000
		s = s[:len(s)-1]
	}

	n, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}

	return int64(n * multiplier)
}

// Hotness computes a bounded 0-100 popularity score from weighted engagement
// counts. Reposts and replies are weighted above likes as stronger signals.
func Hotness(likes, reposts, replies int64) int {
	score := (likes*1 + reposts*2 + replies*3) / 100
	if score > 100 {
		return 100
	}
	if score < 0 {
		return 0
	}
	return int(score)
}

const (
	MoodPositive = "POSITIVE"
	MoodNegative = "NEGATIVE"
	MoodNeutral  = "NEUTRAL"
)

// Classifier assigns a mood label to post text.
type Classifier interface {
	Classify(text string) string
}

var _ Classifier = (*KeywordClassifier)(nil)

// KeywordClassifier is a keyword-membership heuristic. First matching
// keyword set wins; neutral is the default.
type KeywordClassifier struct {
	positive []string
	negative []string
}

func NewKeywordClassifier() *KeywordClassifier {
	return &KeywordClassifier{
		positive: []string{"happy", "great", "bullish"},
		negative: []string{"sad", "angry", "bearish"},
	}
}

func (c *KeywordClassifier) Classify(text string) string {
	t := strings.ToLower(text)

	for _, kw := range c.positive {
		if strings.Contains(t, kw) {
			return MoodPositive
		}
	}
	for _, kw := range c.negative {
		if strings.Contains(t, kw) {
			return MoodNegative
		}
	}

	return MoodNeutral
}
