// Package graph computes a dependency-safe creation order for compiled
// entities using Kahn's algorithm over the foreign-key adjacency.
package graph

// Order topologically sorts nodes so every dependency precedes its
// dependents. edges maps a node to the nodes it depends on; duplicate
// entries are meaningful: a node depending on the same target twice must see
// that target emitted before both pending edges are cleared, so each
// occurrence is counted and decremented individually.
//
// Nodes caught in a cycle are returned in unordered rather than silently
// dropped. Self-edges are ignored entirely: a node depending on itself must
// not block its own ordering. Output order is deterministic: ties break by
// position in the input slice.
func Order(nodes []string, edges map[string][]string) (ordered, unordered []string) {
	position := make(map[string]int, len(nodes))
	for i, n := range nodes {
		position[n] = i
	}

	// pending[n] counts unmet dependency edges of n; dependents[d] lists n
	// once per edge n->d.
	pending := make(map[string]int, len(nodes))
	dependents := make(map[string][]string, len(nodes))
	for _, n := range nodes {
		pending[n] = 0
	}
	for n, deps := range edges {
		if _, known := position[n]; !known {
			continue
		}
		for _, d := range deps {
			if d == n {
				continue
			}
			if _, known := position[d]; !known {
				continue
			}
			pending[n]++
			dependents[d] = append(dependents[d], n)
		}
	}

	ready := make([]string, 0, len(nodes))
	for _, n := range nodes {
		if pending[n] == 0 {
			ready = append(ready, n)
		}
	}

	ordered = make([]string, 0, len(nodes))
	for len(ready) > 0 {
		// Pick the earliest-declared ready node for stable output.
		best := 0
		for i := 1; i < len(ready); i++ {
			if position[ready[i]] < position[ready[best]] {
				best = i
			}
		}
		n := ready[best]
		ready = append(ready[:best], ready[best+1:]...)
		ordered = append(ordered, n)

		for _, dep := range dependents[n] {
			pending[dep]--
			if pending[dep] == 0 {
				ready = append(ready, dep)
			}
		}
	}

	if len(ordered) < len(nodes) {
		emitted := make(map[string]bool, len(ordered))
		for _, n := range ordered {
			emitted[n] = true
		}
		for _, n := range nodes {
			if !emitted[n] {
				unordered = append(unordered, n)
			}
		}
	}
	return ordered, unordered
}
