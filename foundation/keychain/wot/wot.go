// Package wot answers bounded reachability questions over the directed
// certification graph of the web of trust. A link runs from the certifying
// key (source) to the certified key (target); a member reaches another when
// a chain of links connects them within a fixed number of steps.
package wot

import "sort"

// MaxSteps is the reachability bound the chain enforces between members.
const MaxSteps = 3

// LinksTo returns the set of sources currently certifying a target. The
// function is the only storage knowledge this package needs; obsolete links
// must already be excluded by the implementation.
type LinksTo func(target string) []string

// =============================================================================

// PathWithin reports whether a chain of links no longer than maxHops leads
// from src to dst. The extra map carries links under test that are not yet
// stored, keyed by target.
func PathWithin(links LinksTo, src string, dst string, maxHops int, extra map[string][]string) bool {
	if src == dst {
		return true
	}

	// Walk backwards from dst: each step widens the frontier to every key
	// certifying a key already reached. Sources are visited in lexicographic
	// order so the walk is deterministic.
	visited := map[string]bool{dst: true}
	frontier := []string{dst}

	for hop := 0; hop < maxHops; hop++ {
		var next []string

		for _, target := range frontier {
			for _, source := range sources(links, target, extra) {
				if source == src {
					return true
				}
				if !visited[source] {
					visited[source] = true
					next = append(next, source)
				}
			}
		}

		if len(next) == 0 {
			return false
		}
		frontier = next
	}

	return false
}

// NotReachedWithin returns, sorted, the candidates src does not reach within
// maxHops steps. The src key itself is never part of the result.
func NotReachedWithin(links LinksTo, src string, candidates []string, maxHops int, extra map[string][]string) []string {
	var missed []string

	for _, candidate := range candidates {
		if candidate == src {
			continue
		}
		if !PathWithin(links, src, candidate, maxHops, extra) {
			missed = append(missed, candidate)
		}
	}

	sort.Strings(missed)

	return missed
}

// =============================================================================

// sources merges the stored and extra links pointing at a target into a
// deduplicated, lexicographically ordered set.
func sources(links LinksTo, target string, extra map[string][]string) []string {
	stored := links(target)

	seen := make(map[string]bool, len(stored))
	merged := make([]string, 0, len(stored))

	for _, source := range stored {
		if !seen[source] {
			seen[source] = true
			merged = append(merged, source)
		}
	}
	if extra != nil {
		for _, source := range extra[target] {
			if !seen[source] {
				seen[source] = true
				merged = append(merged, source)
			}
		}
	}

	sort.Strings(merged)

	return merged
}
