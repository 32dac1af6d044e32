package domain

import (
	"math"
	"sort"
	"strings"
	"time"
)

const (
	// MinPoints is awarded for correct autosubmitted answers and is the floor
	// for manual ones.
	MinPoints = 10
	// MaxPoints is awarded for an instant correct answer.
	MaxPoints = 100
)

// IsCorrect compares a submission field by field against the canonical answer.
// An empty submission is never correct.
func IsCorrect(given, correct AnswerContent) bool {
	if given.Empty() {
		return false
	}
	if normalizeSymbol(given.Symbol) != normalizeSymbol(correct.Symbol) {
		return false
	}
	if strings.TrimSpace(string(given.Number)) != strings.TrimSpace(string(correct.Number)) {
		return false
	}
	return sameColors(given.Colors, correct.Colors)
}

// Points scales the award inversely with the response time, floored at
// MinPoints and capped at MaxPoints.
func Points(responseSeconds float64, limit time.Duration) int {
	limitSeconds := limit.Seconds()
	if limitSeconds <= 0 {
		return MinPoints
	}
	factor := math.Max(0, (limitSeconds-responseSeconds)/limitSeconds)
	points := int(math.Floor(MaxPoints * factor))
	if points > MaxPoints {
		points = MaxPoints
	}
	if points < MinPoints {
		points = MinPoints
	}
	return points
}

// NormalizeResponseTime clamps client-reported response times. Invalid values
// and autosubmits count as the full limit.
func NormalizeResponseTime(seconds float64, limit time.Duration, autoSubmit bool) float64 {
	limitSeconds := limit.Seconds()
	if autoSubmit || math.IsNaN(seconds) || math.IsInf(seconds, 0) || seconds < 0 {
		return limitSeconds
	}
	return seconds
}

func normalizeSymbol(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func sameColors(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	na := normalizeColors(a)
	nb := normalizeColors(b)
	for i := range na {
		if na[i] != nb[i] {
			return false
		}
	}
	return true
}

func normalizeColors(colors []string) []string {
	out := make([]string, len(colors))
	for i, c := range colors {
		out[i] = strings.ToLower(strings.TrimSpace(c))
	}
	sort.Strings(out)
	return out
}
