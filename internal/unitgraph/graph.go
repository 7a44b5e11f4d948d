package unitgraph

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
)

// Graph is the frozen Unit -> ordered []UnitDep map of spec §3. It is built
// once by Builder.Build and read-only afterward; adjacency lists are sorted
// lexicographically by interned-unit key so two runs over the same input
// produce byte-identical iteration order.
type Graph struct {
	edges map[*Unit][]UnitDep
	order []*Unit // insertion order until Build sorts it by key, for deterministic top-level iteration
}

func newGraph() *Graph {
	return &Graph{edges: map[*Unit][]UnitDep{}}
}

func (g *Graph) addUnit(u *Unit) {
	if _, ok := g.edges[u]; !ok {
		g.edges[u] = nil
		g.order = append(g.order, u)
	}
}

func (g *Graph) addDep(from *Unit, dep UnitDep) {
	g.addUnit(from)
	g.addUnit(dep.Unit)
	for _, existing := range g.edges[from] {
		if existing.Unit == dep.Unit && existing.For == dep.For {
			return
		}
	}
	g.edges[from] = append(g.edges[from], dep)
}

// Units returns every unit in the graph, sorted by interned-unit key once
// Build has finished.
func (g *Graph) Units() []*Unit { return g.order }

// Deps returns u's outgoing edges, sorted lexicographically by the
// dependency unit's interned key (spec §4.E final step).
func (g *Graph) Deps(u *Unit) []UnitDep { return g.edges[u] }

// sortAdjacency sorts every adjacency list in place, the final step of
// spec §4.E ("sort every adjacency list lexicographically by
// interned-unit order").
func (g *Graph) sortAdjacency() {
	for u, deps := range g.edges {
		sort.SliceStable(deps, func(i, j int) bool {
			return deps[i].Unit.key() < deps[j].Unit.key()
		})
		g.edges[u] = deps
	}
	sort.SliceStable(g.order, func(i, j int) bool {
		return g.order[i].key() < g.order[j].key()
	})
}

// unitNode adapts *Unit to gonum's graph.Node so the cycle check below can
// reuse topo.Sort instead of a hand-rolled DFS, the way
// internal/batch/batch.go builds a simple.DirectedGraph over its job nodes
// before calling topo.Sort to detect unbuildable cycles.
type unitNode struct {
	id int64
	u  *Unit
}

func (n unitNode) ID() int64 { return n.id }

// checkAcyclic verifies the unit graph has no cycles, the way
// internal/batch/batch.go's scheduler rejects a job graph that
// topo.Sort reports as Unorderable.
func (g *Graph) checkAcyclic() error {
	dg := simple.NewDirectedGraph()
	nodes := map[*Unit]unitNode{}
	var next int64
	nodeFor := func(u *Unit) unitNode {
		if n, ok := nodes[u]; ok {
			return n
		}
		n := unitNode{id: next, u: u}
		next++
		nodes[u] = n
		dg.AddNode(n)
		return n
	}
	for _, u := range g.order {
		from := nodeFor(u)
		for _, dep := range g.edges[u] {
			to := nodeFor(dep.Unit)
			dg.SetEdge(dg.NewEdge(from, to))
		}
	}
	if _, err := topo.Sort(dg); err != nil {
		if unorderable, ok := err.(topo.Unorderable); ok {
			return fmt.Errorf("unitgraph: dependency cycle: %v", describeCycle(unorderable))
		}
		return fmt.Errorf("unitgraph: %w", err)
	}
	return nil
}

func describeCycle(u topo.Unorderable) []string {
	if len(u) == 0 {
		return nil
	}
	cyc := u[0]
	out := make([]string, 0, len(cyc))
	for _, n := range cyc {
		if un, ok := n.(unitNode); ok {
			out = append(out, un.u.key())
		}
	}
	return out
}
