// Package classify maps free-text message content to a team category using
// weighted keyword matching.
package classify

import (
	"strings"

	"github.com/zapdesk/zapdesk/internal/config"
)

// pointsPerHit converts keyword hit counts into a 0–100 confidence.
const pointsPerHit = 25

// Result is the outcome of classifying one message text.
type Result struct {
	Category   string
	Confidence int
	Matched    []string
}

// Actionable reports whether the result clears the classifier's confidence
// floor. Non-actionable results leave the conversation unrouted.
func (r Result) Actionable(minConfidence int) bool {
	return r.Confidence >= minConfidence
}

// category holds one team's keyword list, folded once at construction.
type category struct {
	key      string
	keywords []string // accent-folded, lower-case
	original []string // as configured, for reporting
}

// Classifier is an immutable keyword table built once from configuration
// and shared across workers without locking. Classification is pure: the
// same text always yields the same result.
type Classifier struct {
	categories    []category // declaration order breaks ties
	minConfidence int
	fallback      string
}

// New builds a Classifier from the loaded configuration.
func New(cfg *config.Config) *Classifier {
	c := &Classifier{
		minConfidence: cfg.Classifier.MinConfidence,
		fallback:      cfg.Classifier.FallbackCategory,
	}
	for _, t := range cfg.Teams {
		cat := category{key: t.Category}
		for _, kw := range t.Keywords {
			folded := Normalize(kw)
			if folded == "" {
				continue
			}
			cat.keywords = append(cat.keywords, folded)
			cat.original = append(cat.original, kw)
		}
		c.categories = append(c.categories, cat)
	}
	return c
}

// MinConfidence returns the configured confidence floor.
func (c *Classifier) MinConfidence() int { return c.minConfidence }

// Classify counts, per category, how many keywords appear as substrings of
// the normalized text. The highest count wins; ties go to the category
// declared first. Confidence is min(hits*25, 100). With zero hits the
// configured fallback category is reported at confidence 0.
func (c *Classifier) Classify(text string) Result {
	folded := Normalize(text)

	best := Result{Category: c.fallback, Confidence: 0}
	bestHits := 0
	for _, cat := range c.categories {
		var matched []string
		for i, kw := range cat.keywords {
			if strings.Contains(folded, kw) {
				matched = append(matched, cat.original[i])
			}
		}
		if len(matched) > bestHits {
			bestHits = len(matched)
			best = Result{Category: cat.key, Matched: matched}
		}
	}
	if bestHits > 0 {
		best.Confidence = bestHits * pointsPerHit
		if best.Confidence > 100 {
			best.Confidence = 100
		}
	}
	return best
}

// foldRunes maps accented Portuguese letters to their base form.
var foldRunes = map[rune]rune{
	'á': 'a', 'à': 'a', 'â': 'a', 'ã': 'a', 'ä': 'a',
	'é': 'e', 'è': 'e', 'ê': 'e', 'ë': 'e',
	'í': 'i', 'ì': 'i', 'î': 'i', 'ï': 'i',
	'ó': 'o', 'ò': 'o', 'ô': 'o', 'õ': 'o', 'ö': 'o',
	'ú': 'u', 'ù': 'u', 'û': 'u', 'ü': 'u',
	'ç': 'c',
}

// Normalize lower-cases text and folds Portuguese accents so that keyword
// matching is insensitive to both case and diacritics.
func Normalize(text string) string {
	text = strings.ToLower(strings.TrimSpace(text))
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if folded, ok := foldRunes[r]; ok {
			r = folded
		}
		b.WriteRune(r)
	}
	return b.String()
}
