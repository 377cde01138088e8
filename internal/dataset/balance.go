package dataset

import "sort"

// ClassCount is the number of images in one class.
type ClassCount struct {
	Class   string
	Count   int
	Percent float64
}

// Distribution orders counts by class name and fills in each share.
func Distribution(counts map[string]int) []ClassCount {
	total := 0
	for _, n := range counts {
		total += n
	}
	out := make([]ClassCount, 0, len(counts))
	for class, n := range counts {
		cc := ClassCount{Class: class, Count: n}
		if total > 0 {
			cc.Percent = float64(n) / float64(total) * 100
		}
		out = append(out, cc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Class < out[j].Class })
	return out
}

// BalanceTargets returns the size every class should reach: target when
// positive, otherwise the size of the largest class. Classes already at or
// above it are omitted.
func BalanceTargets(counts map[string]int, target int) map[string]int {
	if target <= 0 {
		for _, n := range counts {
			target = max(target, n)
		}
	}
	plan := make(map[string]int)
	for class, n := range counts {
		if n < target {
			plan[class] = target
		}
	}
	return plan
}
