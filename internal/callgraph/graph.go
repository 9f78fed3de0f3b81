// Package callgraph builds and queries the inter-function call graph used by
// the risk scorer to reason about blast radius and shared-state reachability.
package callgraph

// CallType classifies one edge.
type CallType string

const (
	CallDirect   CallType = "direct"
	CallImport   CallType = "import"
	CallMethod   CallType = "method"
	CallCallback CallType = "callback"
)

// Node is one function or method in the graph.
type Node struct {
	ID                string
	Module            string
	Function          string
	IsAsync           bool
	IsEntryPoint      bool
	ReadsSharedState  []string
	WritesSharedState []string
	Line              int
}

// Edge is one caller-to-callee relationship.
type Edge struct {
	Source                string
	Target                string
	CallType               CallType
	AsyncBoundaryCrossing  bool
	Line                   int
}

// Graph is the complete call graph for a set of modules.
type Graph struct {
	Nodes map[string]*Node
	Edges []Edge
}

// New returns an empty graph ready for population by Build.
func New() *Graph {
	return &Graph{Nodes: make(map[string]*Node)}
}

// Neighbors returns the direct callees of a node.
func (g *Graph) Neighbors(nodeID string) []string {
	var out []string
	for _, e := range g.Edges {
		if e.Source == nodeID {
			out = append(out, e.Target)
		}
	}
	return out
}

// Callers returns the direct callers of a node.
func (g *Graph) Callers(nodeID string) []string {
	var out []string
	for _, e := range g.Edges {
		if e.Target == nodeID {
			out = append(out, e.Source)
		}
	}
	return out
}

// BlastRadius is the BFS depth from node through every reachable callee.
func (g *Graph) BlastRadius(nodeID string) int {
	visited := make(map[string]bool)
	queue := []string{nodeID}
	depth := 0
	for len(queue) > 0 {
		var next []string
		for _, nid := range queue {
			if visited[nid] {
				continue
			}
			visited[nid] = true
			for _, n := range g.Neighbors(nid) {
				if !visited[n] {
					next = append(next, n)
				}
			}
		}
		queue = next
		if len(queue) > 0 {
			depth++
		}
	}
	return depth
}

// MaxDepth is the largest blast radius across every node in the graph.
func (g *Graph) MaxDepth() int {
	if len(g.Nodes) == 0 {
		return 0
	}
	max := 0
	for nid := range g.Nodes {
		if r := g.BlastRadius(nid); r > max {
			max = r
		}
	}
	return max
}

// Subgraph extracts the nodes in ids and the edges fully contained within them.
func (g *Graph) Subgraph(ids map[string]bool) *Graph {
	sub := New()
	for nid, n := range g.Nodes {
		if ids[nid] {
			sub.Nodes[nid] = n
		}
	}
	for _, e := range g.Edges {
		if ids[e.Source] && ids[e.Target] {
			sub.Edges = append(sub.Edges, e)
		}
	}
	return sub
}

// AffectedSubgraph expands a violation node set by hops steps of callees and
// callers, then returns the induced subgraph. hops=1 captures direct blast
// radius in both directions.
func (g *Graph) AffectedSubgraph(violationNodeIDs map[string]bool, hops int) *Graph {
	expanded := make(map[string]bool, len(violationNodeIDs))
	for id := range violationNodeIDs {
		expanded[id] = true
	}
	frontier := make(map[string]bool, len(violationNodeIDs))
	for id := range violationNodeIDs {
		frontier[id] = true
	}
	for i := 0; i < hops; i++ {
		next := make(map[string]bool)
		for nid := range frontier {
			for _, n := range g.Neighbors(nid) {
				if !expanded[n] {
					next[n] = true
				}
			}
			for _, c := range g.Callers(nid) {
				if !expanded[c] {
					next[c] = true
				}
			}
		}
		for id := range next {
			expanded[id] = true
		}
		frontier = next
		if len(frontier) == 0 {
			break
		}
	}
	return g.Subgraph(expanded)
}
