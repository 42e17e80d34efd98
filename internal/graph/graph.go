// Package graph builds the dependency DAG of a declaration's build and
// bind nodes, detects cycles, and produces a deterministic topological
// plan order — spec.md §4.4 (C4), using gonum's graph/topo the same way
// the distri batch builder schedules package builds, instead of a
// hand-rolled DFS.
package graph

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"

	"statum.dev/statum/internal/errs"
	"statum.dev/statum/internal/fingerprint"
)

// Kind distinguishes build nodes from bind nodes in the plan graph.
type Kind string

const (
	Build Kind = "build"
	Bind  Kind = "bind"
)

// Node is one build or bind node in the dependency graph.
type Node struct {
	id          int64
	Kind        Kind
	DeclID      string
	Fingerprint fingerprint.Digest
}

// ID satisfies gonum's graph.Node.
func (n *Node) ID() int64 { return n.id }

// Graph is the dependency DAG of a single plan, wrapping a gonum
// simple.DirectedGraph keyed by declared nodes.
type Graph struct {
	g      *simple.DirectedGraph
	nodes  []*Node
	nextID int64
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{g: simple.NewDirectedGraph()}
}

// AddNode registers a new build or bind node and returns its handle.
func (g *Graph) AddNode(kind Kind, declID string, fp fingerprint.Digest) *Node {
	n := &Node{id: g.nextID, Kind: kind, DeclID: declID, Fingerprint: fp}
	g.nextID++
	g.nodes = append(g.nodes, n)
	g.g.AddNode(n)
	return n
}

// AddDependency records that node depends on dependsOn: dependsOn must be
// realized/applied before node.
func (g *Graph) AddDependency(node, dependsOn *Node) {
	g.g.SetEdge(g.g.NewEdge(dependsOn, node))
}

// Nodes returns every node added to the graph, in declaration order.
func (g *Graph) Nodes() []*Node {
	out := make([]*Node, len(g.nodes))
	copy(out, g.nodes)
	return out
}

// DependenciesOf returns the nodes node directly depends on (the nodes
// passed as dependsOn in prior AddDependency calls), in no particular
// order.
func (g *Graph) DependenciesOf(node *Node) []*Node {
	it := g.g.To(node.ID())
	var out []*Node
	for it.Next() {
		out = append(out, it.Node().(*Node))
	}
	return out
}

// Order performs a deterministic topological sort of the graph: nodes with
// no remaining unscheduled dependency are eligible, and among eligible
// nodes, ties are broken by (Kind, DeclID) lexicographic order, exactly as
// spec.md §4.4 step 3 requires. Builds are not forced ahead of binds
// globally — only edges and this tie-break determine order.
//
// It returns errs.Cycle if the graph is not a DAG, naming the participating
// nodes.
func (g *Graph) Order() ([]*Node, error) {
	sorted, err := topo.SortStabilized(g.g, stableLess)
	if err != nil {
		return nil, cycleError(g.g)
	}
	out := make([]*Node, len(sorted))
	for i, n := range sorted {
		out[i] = n.(*Node)
	}
	return out, nil
}

// stableLess sorts the set of nodes eligible to run next at each step of
// the topological sort, so that distinct runs over the same declaration
// always produce the same order.
func stableLess(nodes []graph.Node) {
	sort.Slice(nodes, func(i, j int) bool {
		a, b := nodes[i].(*Node), nodes[j].(*Node)
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		return a.DeclID < b.DeclID
	})
}

func cycleError(g graph.Directed) error {
	cycles := topo.DirectedCyclesIn(g)
	names := make([]string, 0)
	for _, cycle := range cycles {
		ids := make([]string, 0, len(cycle))
		for _, n := range cycle {
			if node, ok := n.(*Node); ok {
				ids = append(ids, fmt.Sprintf("%s:%s", node.Kind, node.DeclID))
			}
		}
		names = append(names, fmt.Sprintf("[%s]", joinComma(ids)))
	}
	return errs.Wrapf(errs.Cycle, "", "", "cycle detected among nodes: %s", joinComma(names))
}

func joinComma(items []string) string {
	out := ""
	for i, s := range items {
		if i > 0 {
			out += ", "
		}
		out += s
	}
	return out
}
