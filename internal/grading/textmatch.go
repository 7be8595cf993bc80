package grading

import (
	"slices"
	"strconv"
	"strings"
	"unicode"
)

// normalize lowercases, strips hyphens and collapses whitespace.
func normalize(s string) string {
	var sb strings.Builder
	space := false
	for _, r := range s {
		switch {
		case r == '-' || r == '‐' || r == '–':
			// hyphenated and unhyphenated spellings compare equal
		case unicode.IsSpace(r):
			space = true
		default:
			if space && sb.Len() > 0 {
				sb.WriteByte(' ')
			}
			space = false
			sb.WriteRune(unicode.ToLower(r))
		}
	}
	return sb.String()
}

// exactMatch compares trimmed strings case-insensitively.
func exactMatch(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// containsMatch reports whether one normalized string contains the other and
// the shorter is at least half the length of the longer. Containment and
// length are both measured in whole words, so "a" never matches "cat".
func containsMatch(answer, expected string) bool {
	a, e := strings.Fields(normalize(answer)), strings.Fields(normalize(expected))
	if len(a) == 0 || len(e) == 0 {
		return false
	}
	short, long := a, e
	if len(short) > len(long) {
		short, long = long, short
	}
	if 2*len(short) < len(long) {
		return false
	}
	for i := 0; i+len(short) <= len(long); i++ {
		if slices.Equal(long[i:i+len(short)], short) {
			return true
		}
	}
	return false
}

// positionMatch compares ordering positions, tolerating "3", "3." and "(3)".
func positionMatch(answer, expected string) bool {
	a, aok := parsePosition(answer)
	e, eok := parsePosition(expected)
	if aok && eok {
		return a == e
	}
	return exactMatch(answer, expected)
}

func parsePosition(s string) (int, bool) {
	s = strings.Trim(strings.TrimSpace(s), "().")
	n, err := strconv.Atoi(s)
	return n, err == nil
}
