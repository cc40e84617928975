// Package cluster implements community detection for the entity graph.
package cluster

import (
	"math/rand/v2"
	"slices"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/community"
	"gonum.org/v1/gonum/graph/simple"
)

// DefaultSeed seeds the Louvain node shuffle when Options.Seed is zero.
const DefaultSeed uint64 = 0x6d6564677261706b

// Graph is an undirected weighted graph keyed by node name.
type Graph struct {
	nodes []string
	index map[string]int
	adj   []map[int]float64
	edges int
}

// NewGraph returns an empty graph.
func NewGraph() *Graph {
	return &Graph{index: map[string]int{}}
}

// AddNode adds a node if it does not exist and returns its index.
func (g *Graph) AddNode(name string) int {
	if i, ok := g.index[name]; ok {
		return i
	}
	i := len(g.nodes)
	g.nodes = append(g.nodes, name)
	g.index[name] = i
	g.adj = append(g.adj, map[int]float64{})
	return i
}

// AddEdge adds weight to the undirected edge a-b. Parallel edges sum their
// weights. Self loops are ignored.
func (g *Graph) AddEdge(a, b string, weight float64) {
	i := g.AddNode(a)
	j := g.AddNode(b)
	if i == j || weight <= 0 {
		return
	}
	if _, ok := g.adj[i][j]; !ok {
		g.edges++
	}
	g.adj[i][j] += weight
	g.adj[j][i] += weight
}

// Len returns the number of nodes.
func (g *Graph) Len() int { return len(g.nodes) }

// Options tunes the Louvain run.
type Options struct {
	// Resolution is the modularity resolution. Defaults to 1.
	Resolution float64
	// Seed makes the node visiting order reproducible. Defaults to DefaultSeed.
	Seed uint64
}

// Result maps every node to a community id. Ids are dense, starting at 0,
// numbered in order of the first node (by name) of each community.
type Result struct {
	Communities map[string]int64
	Count       int
	Modularity  float64
	Levels      int
}

// Louvain detects communities by modularity optimisation using gonum's
// Louvain implementation. Node ids follow name order and the shuffle is
// seeded, so the result is deterministic for a graph.
func Louvain(g *Graph, opts Options) Result {
	if opts.Resolution <= 0 {
		opts.Resolution = 1
	}
	if opts.Seed == 0 {
		opts.Seed = DefaultSeed
	}
	if len(g.nodes) == 0 {
		return Result{Communities: map[string]int64{}}
	}

	names := slices.Clone(g.nodes)
	slices.Sort(names)
	id := make(map[string]int64, len(names))
	for i, name := range names {
		id[name] = int64(i)
	}

	wg := simple.NewWeightedUndirectedGraph(0, 0)
	for _, name := range names {
		wg.AddNode(simple.Node(id[name]))
	}
	for i, nbrs := range g.adj {
		for j, w := range nbrs {
			if i < j {
				wg.SetWeightedEdge(wg.NewWeightedEdge(simple.Node(id[g.nodes[i]]), simple.Node(id[g.nodes[j]]), w))
			}
		}
	}

	reduced := community.Modularize(wg, opts.Resolution, rand.NewPCG(opts.Seed, opts.Seed))
	groups := reduced.Communities()
	for _, members := range groups {
		slices.SortFunc(members, func(a, b graph.Node) int { return int(a.ID() - b.ID()) })
	}
	groups = slices.DeleteFunc(groups, func(members []graph.Node) bool { return len(members) == 0 })
	slices.SortFunc(groups, func(a, b []graph.Node) int { return int(a[0].ID() - b[0].ID()) })

	out := make(map[string]int64, len(names))
	for c, members := range groups {
		for _, n := range members {
			out[names[n.ID()]] = int64(c)
		}
	}

	levels := 0
	for r := reduced.Expanded(); r != nil; r = r.Expanded() {
		levels++
	}

	modularity := 0.0
	if g.edges > 0 {
		modularity = community.Q(wg, groups, opts.Resolution)
	}

	return Result{
		Communities: out,
		Count:       len(groups),
		Modularity:  modularity,
		Levels:      levels,
	}
}
