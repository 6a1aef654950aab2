// Package enrich implements the post enrichment pipeline: preprocessing,
// batch encoding, classification, cooldown-gated retry and the driver loop.
package enrich

import "strings"

// Preprocess builds the encoder input for a post: title and body joined,
// whitespace collapsed, truncated to maxWords words. Pure and
// deterministic; an empty result means the post has no encodable text and
// must be skipped, never encoded.
func Preprocess(title, body string, maxWords int) string {
	words := strings.Fields(title + " " + body)
	if maxWords > 0 && len(words) > maxWords {
		words = words[:maxWords]
	}
	return strings.Join(words, " ")
}
