package run

import (
	"math"
	"regexp"
	"strconv"
)

// Progress interpretation over unstructured engine output. Patterns are
// applied in priority order; the first match wins. A line matching nothing
// yields no update, which is distinct from 0%.
var (
	rePercent = regexp.MustCompile(`(?i)progress\s*[:=]?\s*([0-9]+(?:\.[0-9]+)?)\s*%`)
	reDone    = regexp.MustCompile(`(?i)([0-9]+(?:\.[0-9]+)?)\s*%\s*complete`)
	reCycle   = regexp.MustCompile(`(?i)cycle\s+([0-9]+)\s+of\s+([0-9]+)`)
	reTime    = regexp.MustCompile(`(?i)time\s*[:=]?\s*([0-9]+(?:\.[0-9]+)?)\s*/\s*([0-9]+(?:\.[0-9]+)?)`)
)

// InterpretProgress extracts a completion percentage from one line of engine
// output. ok is false when the line carries no recognizable progress.
func InterpretProgress(line string) (percent int, ok bool) {
	if m := rePercent.FindStringSubmatch(line); m != nil {
		return clampPercent(parseFloat(m[1])), true
	}
	if m := reDone.FindStringSubmatch(line); m != nil {
		return clampPercent(parseFloat(m[1])), true
	}
	if m := reCycle.FindStringSubmatch(line); m != nil {
		cur, total := parseFloat(m[1]), parseFloat(m[2])
		if total <= 0 {
			return 0, false
		}
		return clampPercent(100 * cur / total), true
	}
	if m := reTime.FindStringSubmatch(line); m != nil {
		cur, total := parseFloat(m[1]), parseFloat(m[2])
		if total <= 0 {
			return 0, false
		}
		return clampPercent(100 * cur / total), true
	}
	return 0, false
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

func clampPercent(v float64) int {
	p := int(math.Round(v))
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
