package media

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ParseParts parses the episode range grammar "a-b,c,d-e" into a sorted,
// deduplicated list of 1-based indices. An empty input returns nil, meaning
// all episodes.
func ParseParts(s string) ([]int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}

	seen := make(map[int]struct{})
	for _, item := range strings.Split(s, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			return nil, fmt.Errorf("empty item in range %q", s)
		}
		lo, hi, err := parseItem(item)
		if err != nil {
			return nil, err
		}
		for n := lo; n <= hi; n++ {
			seen[n] = struct{}{}
		}
	}

	out := make([]int, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	sort.Ints(out)
	return out, nil
}

func parseItem(item string) (int, int, error) {
	if lo, hi, found := strings.Cut(item, "-"); found {
		start, err := parseIndex(lo)
		if err != nil {
			return 0, 0, err
		}
		end, err := parseIndex(hi)
		if err != nil {
			return 0, 0, err
		}
		if start > end {
			return 0, 0, fmt.Errorf("range %q has start after end", item)
		}
		return start, end, nil
	}
	n, err := parseIndex(item)
	if err != nil {
		return 0, 0, err
	}
	return n, n, nil
}

func parseIndex(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid episode index %q", s)
	}
	if n < 1 {
		return 0, fmt.Errorf("episode index %d is not 1-based", n)
	}
	return n, nil
}
