// Package cycle detects multiplicative arbitrage loops in a currency
// conversion graph. Edges are weighted -ln(rate), so a conversion cycle that
// compounds to more than 1 appears as a negative-weight cycle, which
// Bellman-Ford finds in O(V*E).
package cycle

import (
	"math"
	"sort"
)

// Graph maps a source currency to its neighbours and the edge weight of each
// conversion. Weights are expected to be -ln(rate).
type Graph map[string]map[string]float64

// AddRate records a conversion from one currency to another at the given
// multiplicative rate. A rate better than any previously recorded edge for
// the same conversion replaces it (a lower -ln(rate) weight is a better
// rate). Rates that are not strictly positive are ignored.
func (g Graph) AddRate(from, to string, rate float64) {
	if rate <= 0 {
		return
	}
	weight := -math.Log(rate)
	edges, ok := g[from]
	if !ok {
		edges = make(map[string]float64)
		g[from] = edges
	}
	if existing, ok := edges[to]; !ok || weight < existing {
		edges[to] = weight
	}
	// Make sure the destination appears as a node even if it has no
	// outgoing edges yet; relaxation iterates nodes.
	if _, ok := g[to]; !ok {
		g[to] = make(map[string]float64)
	}
}

// nodes returns the graph's vertices in deterministic order.
func (g Graph) nodes() []string {
	out := make([]string, 0, len(g))
	for n := range g {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// FindNegativeCycle runs single-source Bellman-Ford from source: |V|-1 rounds
// of edge relaxation, then one extra pass. Any edge that still relaxes lies
// on (or is reachable from) a negative cycle; the cycle is reconstructed by
// following predecessor pointers until a node repeats and truncating at the
// first repetition. It returns nil when no cycle is reachable from source.
func FindNegativeCycle(g Graph, source string) []string {
	if _, ok := g[source]; !ok {
		return nil
	}

	dist := make(map[string]float64, len(g))
	pred := make(map[string]string, len(g))
	for node := range g {
		dist[node] = math.Inf(1)
	}
	dist[source] = 0

	nodes := g.nodes()
	for i := 0; i < len(nodes)-1; i++ {
		changed := false
		for _, u := range nodes {
			for v, w := range g[u] {
				if dist[u]+w < dist[v] {
					dist[v] = dist[u] + w
					pred[v] = u
					changed = true
				}
			}
		}
		if !changed {
			break
		}
	}

	for _, u := range nodes {
		for v, w := range g[u] {
			if dist[u]+w < dist[v] {
				if loop := retrace(pred, v); loop != nil {
					return loop
				}
			}
		}
	}
	return nil
}

// FindAnyCycle runs FindNegativeCycle from every node and returns the first
// cycle found, or nil when the graph holds no multiplicative loop.
func FindAnyCycle(g Graph) []string {
	for _, node := range g.nodes() {
		if loop := FindNegativeCycle(g, node); loop != nil {
			return loop
		}
	}
	return nil
}

// retrace walks predecessor pointers from start until a node repeats, then
// returns the path truncated at the first repeated node so the result is the
// cycle itself rather than the tail leading into it.
func retrace(pred map[string]string, start string) []string {
	path := []string{start}
	seen := map[string]int{start: 0}
	next := start
	for {
		var ok bool
		next, ok = pred[next]
		if !ok {
			return nil
		}
		if idx, dup := seen[next]; dup {
			path = append(path, next)
			loop := path[idx:]
			// pred pointers walk edges backwards; reverse so the cycle
			// reads in conversion order.
			for i, j := 0, len(loop)-1; i < j; i, j = i+1, j-1 {
				loop[i], loop[j] = loop[j], loop[i]
			}
			return loop
		}
		seen[next] = len(path)
		path = append(path, next)
	}
}

// CycleRate compounds the conversion rates along a cycle path (as returned by
// FindNegativeCycle) using the graph's edge weights. A result above 1 means
// the loop is profitable before fees.
func CycleRate(g Graph, path []string) float64 {
	rate := 1.0
	for i := 0; i+1 < len(path); i++ {
		w, ok := g[path[i]][path[i+1]]
		if !ok {
			return 0
		}
		rate *= math.Exp(-w)
	}
	return rate
}
