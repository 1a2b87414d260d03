package index

import (
	"sort"
	"strings"
)

// SortTimesteps sorts in natural order: digit runs compare numerically,
// other runs lexically, so "00.9" < "00.10" < "10.0".
func SortTimesteps(timesteps []string) {
	sort.SliceStable(timesteps, func(i, j int) bool {
		return NaturalLess(timesteps[i], timesteps[j])
	})
}

// NaturalLess is the ordering used by SortTimesteps.
func NaturalLess(a, b string) bool {
	ra, rb := splitRuns(a), splitRuns(b)
	for i := 0; i < len(ra) && i < len(rb); i++ {
		if c := compareRun(ra[i], rb[i]); c != 0 {
			return c < 0
		}
	}
	if len(ra) != len(rb) {
		return len(ra) < len(rb)
	}
	return a < b
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func splitRuns(s string) []string {
	var runs []string
	start := 0
	for i := 1; i <= len(s); i++ {
		if i == len(s) || isDigit(s[i]) != isDigit(s[i-1]) {
			runs = append(runs, s[start:i])
			start = i
		}
	}
	return runs
}

func compareRun(a, b string) int {
	if !isDigit(a[0]) || !isDigit(b[0]) {
		return strings.Compare(a, b)
	}
	ta, tb := strings.TrimLeft(a, "0"), strings.TrimLeft(b, "0")
	if len(ta) != len(tb) {
		if len(ta) < len(tb) {
			return -1
		}
		return 1
	}
	if c := strings.Compare(ta, tb); c != 0 {
		return c
	}
	// numeric tie: the shorter run first
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	}
	return 0
}
