package partition

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// MaxLength bounds partition identifiers; they end up in cache keys and SQL params.
const MaxLength = 32

// Validate checks that id is a usable release identifier such as "7.35" or "7.35b".
func Validate(id string) error {
	if id == "" {
		return fmt.Errorf("partition id is required")
	}
	if len(id) > MaxLength {
		return fmt.Errorf("partition id %q exceeds %d characters", id, MaxLength)
	}
	for _, r := range id {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '.', r == '-', r == '_':
		default:
			return fmt.Errorf("partition id %q contains invalid character %q", id, r)
		}
	}
	return nil
}

// Compare orders release identifiers segment by segment, numerically where
// both segments start with digits. Returns -1, 0 or 1.
func Compare(a, b string) int {
	as, bs := strings.Split(a, "."), strings.Split(b, ".")
	for i := 0; i < len(as) && i < len(bs); i++ {
		if c := compareSegment(as[i], bs[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(as) < len(bs):
		return -1
	case len(as) > len(bs):
		return 1
	}
	return 0
}

// SortNewestFirst sorts ids in place, highest release first.
func SortNewestFirst(ids []string) {
	sort.SliceStable(ids, func(i, j int) bool {
		return Compare(ids[i], ids[j]) > 0
	})
}

func compareSegment(a, b string) int {
	an, arest := splitNumericPrefix(a)
	bn, brest := splitNumericPrefix(b)
	if an >= 0 && bn >= 0 && an != bn {
		if an < bn {
			return -1
		}
		return 1
	}
	return strings.Compare(arest, brest)
}

// splitNumericPrefix returns the leading integer of s (or -1) and the remainder.
func splitNumericPrefix(s string) (int, string) {
	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == 0 {
		return -1, s
	}
	n, err := strconv.Atoi(s[:end])
	if err != nil {
		return -1, s
	}
	return n, s[end:]
}
