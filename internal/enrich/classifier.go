package enrich

import "strings"

// Classifier assigns a category label and confidence to preprocessed text.
type Classifier interface {
	Classify(text string) (category string, confidence float64)
}

// KeywordClassifier labels text by keyword lookup. It stands in for a
// trained model behind the same contract; the pipeline does not care
// which is plugged in.
type KeywordClassifier struct {
	keywords   map[string]string
	confidence float64
	fallback   string
}

// NewKeywordClassifier creates a classifier with the default
// problem-signal keyword table.
func NewKeywordClassifier() *KeywordClassifier {
	return &KeywordClassifier{
		keywords: map[string]string{
			"problem": "problem",
			"issue":   "problem",
			"leak":    "problem",
			"broken":  "problem",
			"fail":    "problem",
		},
		confidence: 0.99,
		fallback:   "other",
	}
}

// Classify returns the category of the first matching keyword, or the
// fallback category with low confidence.
func (c *KeywordClassifier) Classify(text string) (string, float64) {
	lower := strings.ToLower(text)
	for keyword, category := range c.keywords {
		if strings.Contains(lower, keyword) {
			return category, c.confidence
		}
	}
	return c.fallback, 0.5
}
