package pii

import "sort"

// Resolve reduces a set of possibly overlapping, possibly touching entities
// over one text into a disjoint list sorted by Start.
//
// Algorithm (Presidio-compatible), per spec §4.2:
//  1. Group entities by category.
//  2. Within a category, merge intervals that overlap or touch (end_i ==
//     start_j counts as touching here) into a single interval; its score
//     is the max of the merged set.
//  3. Across categories, for every overlapping pair (touching does NOT
//     count as overlapping at this step), keep the higher-scoring
//     interval; ties break by longer interval, then earlier start, then
//     lexicographically smaller category.
//  4. Return the survivors sorted by Start.
func Resolve(entities []Entity) []Entity {
	if len(entities) == 0 {
		return nil
	}

	byCategory := make(map[string][]Entity)
	for _, e := range entities {
		if e.Start >= e.End {
			continue // zero/negative-length intervals are rejected upstream
		}
		byCategory[e.Category] = append(byCategory[e.Category], e)
	}

	var merged []Entity
	for _, group := range byCategory {
		merged = append(merged, mergeTouching(group)...)
	}

	return dropOverlaps(merged)
}

// mergeTouching merges intervals within a single category that overlap or
// touch (end_i == start_j) into single spans, keeping the max score.
func mergeTouching(group []Entity) []Entity {
	sort.Slice(group, func(i, j int) bool {
		if group[i].Start != group[j].Start {
			return group[i].Start < group[j].Start
		}
		return group[i].End < group[j].End
	})

	var out []Entity
	cur := group[0]
	for _, e := range group[1:] {
		if e.Start <= cur.End { // overlap or touch
			if e.End > cur.End {
				cur.End = e.End
			}
			if e.Score > cur.Score {
				cur.Score = e.Score
			}
		} else {
			out = append(out, cur)
			cur = e
		}
	}
	out = append(out, cur)
	return out
}

// dropOverlaps scans merged intervals across categories and, for every
// overlapping pair, keeps the one that wins the tie-break order: higher
// score, then longer interval, then earlier start, then smaller category.
func dropOverlaps(merged []Entity) []Entity {
	sort.Slice(merged, func(i, j int) bool {
		return higherPriority(merged[i], merged[j])
	})

	var kept []Entity
	for _, cand := range merged {
		conflict := false
		for _, k := range kept {
			if cand.Overlaps(k) {
				conflict = true
				break
			}
		}
		if !conflict {
			kept = append(kept, cand)
		}
	}

	sort.Slice(kept, func(i, j int) bool { return kept[i].Start < kept[j].Start })
	return kept
}

// higherPriority reports whether a should be preferred over b when the two
// conflict: higher score wins; ties broken by longer interval, then
// earlier start, then lexicographically smaller category.
func higherPriority(a, b Entity) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if la, lb := a.Len(), b.Len(); la != lb {
		return la > lb
	}
	if a.Start != b.Start {
		return a.Start < b.Start
	}
	return a.Category < b.Category
}
