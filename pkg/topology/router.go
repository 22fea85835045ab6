package topology

import (
	"github.com/RyanCarrier/dijkstra"

	"github.com/robjsp/meshcast/pkg/meshid"
)

// Router computes, for a single fixed self id, the first hop on the
// shortest path toward every reachable destination in a Graph. Only one
// shortest path is kept per destination even when several exist of equal
// length.
type Router struct {
	self meshid.NodeId
}

// NewRouter creates a Router centered on self.
func NewRouter(self meshid.NodeId) *Router {
	return &Router{self: self}
}

// FirstHops returns, for every node in g reachable from the router's self
// id (self itself excluded), the first hop on its shortest path. Nodes
// that are unreachable, or absent from g entirely, are omitted from the
// result.
func (r *Router) FirstHops(g *Graph) (map[meshid.NodeId]meshid.NodeId, error) {
	nodes := g.Nodes()

	index := make(map[meshid.NodeId]int, len(nodes))
	byIndex := make([]meshid.NodeId, len(nodes))
	for i, n := range nodes {
		index[n] = i
		byIndex[i] = n
	}

	selfIdx, ok := index[r.self]
	if !ok {
		return map[meshid.NodeId]meshid.NodeId{}, nil
	}

	dg := dijkstra.NewGraph()
	for i := range nodes {
		dg.AddVertex(i)
	}
	for a, neighbors := range g.edges {
		ai := index[a]
		for b, weight := range neighbors {
			bi, ok := index[b]
			if !ok {
				continue
			}
			if err := dg.AddArc(ai, bi, weight); err != nil {
				return nil, err
			}
		}
	}

	hops := make(map[meshid.NodeId]meshid.NodeId, len(nodes))
	for i, n := range nodes {
		if n == r.self {
			continue
		}

		best, err := dg.Shortest(selfIdx, i)
		if err != nil {
			// Unreachable node: omitted per the routing contract.
			continue
		}
		if len(best.Path) < 2 {
			continue
		}

		hops[n] = byIndex[best.Path[1]]
	}

	return hops, nil
}
