// Package graph builds a file-level import graph, reports its cycles and
// computes PageRank.
package graph

import (
	"math"
	"sort"
)

// Edge is one resolved import: Source imports Symbol from Target.
type Edge struct {
	Source string
	Target string
	Symbol string
}

// Dependency aggregates the edges between two files.
type Dependency struct {
	Source  string   `json:"source"`
	Target  string   `json:"target"`
	Symbols []string `json:"symbols"`
}

// Ranked is a node with its PageRank score.
type Ranked struct {
	Path string  `json:"path"`
	Rank float64 `json:"rank"`
}

// Build folds edges into dependencies sorted by source then target. Symbols
// keep first-occurrence order and are deduplicated. Self-edges are kept so
// that Cycles can report self-imports.
func Build(edges []Edge) []Dependency {
	type edgeKey struct{ src, tgt string }
	edgeSymbols := make(map[edgeKey][]string)

	for _, e := range edges {
		key := edgeKey{e.Source, e.Target}
		syms, ok := edgeSymbols[key]
		if !ok {
			syms = []string{}
		}
		if e.Symbol != "" && !contains(syms, e.Symbol) {
			syms = append(syms, e.Symbol)
		}
		edgeSymbols[key] = syms
	}

	deps := make([]Dependency, 0, len(edgeSymbols))
	for key, syms := range edgeSymbols {
		deps = append(deps, Dependency{Source: key.src, Target: key.tgt, Symbols: syms})
	}
	sort.Slice(deps, func(i, j int) bool {
		if deps[i].Source != deps[j].Source {
			return deps[i].Source < deps[j].Source
		}
		return deps[i].Target < deps[j].Target
	})
	return deps
}

// Cycles returns the import cycles in deps: every strongly connected
// component with more than one node, and every node that imports itself.
// Each cycle is sorted, and cycles are ordered by their first node.
func Cycles(deps []Dependency) [][]string {
	adj := make(map[string][]string)
	self := make(map[string]bool)
	var nodes []string
	seen := make(map[string]struct{})
	addNode := func(n string) {
		if _, ok := seen[n]; !ok {
			seen[n] = struct{}{}
			nodes = append(nodes, n)
		}
	}
	for _, d := range deps {
		addNode(d.Source)
		addNode(d.Target)
		if d.Source == d.Target {
			self[d.Source] = true
			continue
		}
		adj[d.Source] = append(adj[d.Source], d.Target)
	}
	sort.Strings(nodes)

	// Tarjan's algorithm.
	var (
		index   = make(map[string]int)
		low     = make(map[string]int)
		onStack = make(map[string]bool)
		stack   []string
		next    int
		out     [][]string
	)
	var connect func(v string)
	connect = func(v string) {
		index[v] = next
		low[v] = next
		next++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range adj[v] {
			if _, visited := index[w]; !visited {
				connect(w)
				low[v] = min(low[v], low[w])
			} else if onStack[w] {
				low[v] = min(low[v], index[w])
			}
		}

		if low[v] != index[v] {
			return
		}
		var comp []string
		for {
			w := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			onStack[w] = false
			comp = append(comp, w)
			if w == v {
				break
			}
		}
		if len(comp) > 1 || self[v] {
			sort.Strings(comp)
			out = append(out, comp)
		}
	}
	for _, n := range nodes {
		if _, visited := index[n]; !visited {
			connect(n)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i][0] < out[j][0] })
	return out
}

// Rank applies PageRank over nodes and returns them by rank descending, ties
// broken by path. An edge from source to target means source imports target;
// each imported symbol counts as one edge.
func Rank(nodes []string, deps []Dependency) []Ranked {
	if len(nodes) == 0 {
		return nil
	}

	set := make(map[string]struct{}, len(nodes))
	for _, n := range nodes {
		set[n] = struct{}{}
	}

	outEdges := make(map[string][]string) // node → targets, repeated for multi-edges
	outDegree := make(map[string]int)
	for _, d := range deps {
		if _, ok := set[d.Source]; !ok {
			continue
		}
		if _, ok := set[d.Target]; !ok {
			continue
		}
		weight := max(len(d.Symbols), 1)
		for range weight {
			outEdges[d.Source] = append(outEdges[d.Source], d.Target)
			outDegree[d.Source]++
		}
	}

	ranks := pageRank(set, outEdges, outDegree, 0.85, 100, 1e-6)

	out := make([]Ranked, 0, len(set))
	for n := range set {
		out = append(out, Ranked{Path: n, Rank: ranks[n]})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Rank != out[j].Rank {
			return out[i].Rank > out[j].Rank
		}
		return out[i].Path < out[j].Path
	})
	return out
}

func pageRank(
	nodes map[string]struct{},
	outEdges map[string][]string,
	outDegree map[string]int,
	alpha float64,
	maxIter int,
	tol float64,
) map[string]float64 {
	n := len(nodes)
	rank := make(map[string]float64, n)
	initial := 1.0 / float64(n)
	for node := range nodes {
		rank[node] = initial
	}

	teleport := (1.0 - alpha) / float64(n)

	for range maxIter {
		newRank := make(map[string]float64, n)

		// Dangling nodes spread their rank evenly.
		var danglingSum float64
		for node := range nodes {
			if outDegree[node] == 0 {
				danglingSum += rank[node]
			}
		}
		danglingContrib := alpha * danglingSum / float64(n)

		for node := range nodes {
			newRank[node] = teleport + danglingContrib
		}

		for src, targets := range outEdges {
			contrib := alpha * rank[src] / float64(outDegree[src])
			for _, tgt := range targets {
				newRank[tgt] += contrib
			}
		}

		var diff float64
		for node := range nodes {
			diff += math.Abs(newRank[node] - rank[node])
		}
		rank = newRank
		if diff < tol {
			break
		}
	}
	return rank
}

func contains(slice []string, s string) bool {
	for _, v := range slice {
		if v == s {
			return true
		}
	}
	return false
}
