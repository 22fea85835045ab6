// Package topology turns a global connectivity graph into a per-node
// routing decision: the first hop toward every reachable destination.
package topology

import "github.com/robjsp/meshcast/pkg/meshid"

// Graph is the pluggable global topology a Router turns into next-hop
// assignments. Edges are undirected; a missing weight defaults to 1 (unit
// edges), matching the unweighted shortest-path case.
type Graph struct {
	nodes map[meshid.NodeId]struct{}
	edges map[meshid.NodeId]map[meshid.NodeId]int64
}

// NewGraph creates an empty topology.
func NewGraph() *Graph {
	return &Graph{
		nodes: make(map[meshid.NodeId]struct{}),
		edges: make(map[meshid.NodeId]map[meshid.NodeId]int64),
	}
}

// AddNode registers id even if it has no edges yet, so isolated nodes are
// still visible to Nodes().
func (g *Graph) AddNode(id meshid.NodeId) {
	g.nodes[id] = struct{}{}
	if _, ok := g.edges[id]; !ok {
		g.edges[id] = make(map[meshid.NodeId]int64)
	}
}

// AddEdge records a bidirectional link of the given weight between a and b.
func (g *Graph) AddEdge(a, b meshid.NodeId, weight int64) {
	g.AddNode(a)
	g.AddNode(b)
	g.edges[a][b] = weight
	g.edges[b][a] = weight
}

// AddUnitEdge records a bidirectional link of weight 1.
func (g *Graph) AddUnitEdge(a, b meshid.NodeId) {
	g.AddEdge(a, b, 1)
}

// RemoveNode drops id and every edge touching it, used when a directly
// connected peer disappears and can no longer be routed through.
func (g *Graph) RemoveNode(id meshid.NodeId) {
	for other := range g.edges[id] {
		delete(g.edges[other], id)
	}
	delete(g.edges, id)
	delete(g.nodes, id)
}

// Nodes returns every node currently in the graph, in no particular order.
func (g *Graph) Nodes() []meshid.NodeId {
	out := make([]meshid.NodeId, 0, len(g.nodes))
	for n := range g.nodes {
		out = append(out, n)
	}
	return out
}

func (g *Graph) neighbors(id meshid.NodeId) map[meshid.NodeId]int64 {
	return g.edges[id]
}
