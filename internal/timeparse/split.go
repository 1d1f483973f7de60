package timeparse

import (
	"strings"
	"time"
	"unicode"
)

// maxExprWords is the longest expression form ("30 minutes from now").
const maxExprWords = 4

// Split separates a leading time expression from the text after it, as in
// "+30m buy milk" or "1 day from now call mom". The longest leading run of
// words that forms a valid expression wins. ok is false when no prefix is
// an expression. Whether the time lies in the future is not checked here.
//
// rest is the input after the expression with only the outer whitespace
// trimmed; line breaks and spacing inside it are kept.
func Split(input string) (expr, rest string, ok bool) {
	ends := fieldEnds(input, maxExprWords)
	words := strings.Fields(input[:lastOr(ends, 0)])
	for n := len(words); n >= 1; n-- {
		candidate := strings.Join(words[:n], " ")
		if _, err := resolve(candidate, time.Unix(0, 0).UTC(), time.UTC); err == nil {
			return candidate, strings.TrimSpace(input[ends[n-1]:]), true
		}
	}
	return "", strings.TrimSpace(input), false
}

// fieldEnds returns the byte offset just past each of the first limit
// whitespace-separated fields of s.
func fieldEnds(s string, limit int) []int {
	var ends []int
	inField := false
	for i, r := range s {
		space := unicode.IsSpace(r)
		if inField && space {
			ends = append(ends, i)
			if len(ends) == limit {
				return ends
			}
		}
		inField = !space
	}
	if inField {
		ends = append(ends, len(s))
	}
	return ends
}

func lastOr(xs []int, def int) int {
	if len(xs) == 0 {
		return def
	}
	return xs[len(xs)-1]
}
