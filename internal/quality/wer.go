package quality

import "strings"

// normalizeTokens lowercases the text, strips punctuation and splits it into
// words, so "Hello, world!" and "hello world" compare equal.
func normalizeTokens(text string) []string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range strings.ToLower(text) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '\'':
			b.WriteRune(r)
		case r > 127:
			// Keep non-ASCII letters untouched for non-English text.
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}
	return strings.Fields(b.String())
}

// WordErrorRate computes the word-level edit distance between a reference
// and a hypothesis, divided by the reference length. An empty reference
// yields 0: there is nothing to be wrong against.
func WordErrorRate(reference, hypothesis string) float64 {
	ref := normalizeTokens(reference)
	hyp := normalizeTokens(hypothesis)
	if len(ref) == 0 {
		return 0
	}
	return float64(wordDistance(ref, hyp)) / float64(len(ref))
}

// wordDistance is the Levenshtein distance over word tokens, two-row DP.
func wordDistance(ref, hyp []string) int {
	prev := make([]int, len(hyp)+1)
	curr := make([]int, len(hyp)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(ref); i++ {
		curr[0] = i
		for j := 1; j <= len(hyp); j++ {
			cost := 1
			if ref[i-1] == hyp[j-1] {
				cost = 0
			}
			curr[j] = min3(
				prev[j]+1,      // deletion
				curr[j-1]+1,    // insertion
				prev[j-1]+cost, // substitution
			)
		}
		prev, curr = curr, prev
	}
	return prev[len(hyp)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}
