// Package topology imposes a tree structure on an unordered airway
// particle cloud: pairwise geometric connectivity, connected components,
// a minimum spanning tree per component, and root-outward orientation.
package topology

import (
	"sort"

	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/chestlab-data/airway.report/internal/airway"
)

// Tree is one connected component reduced to a rooted directed acyclic
// structure. Particle indices refer to the input slice passed to
// BuildTrees. Every non-root node has exactly one parent.
type Tree struct {
	Root int

	// Nodes lists the component in breadth-first order from the root,
	// so Nodes[0] == Root and parents always precede children.
	Nodes []int

	// Parent maps each non-root node to its parent. The root has no
	// entry.
	Parent map[int]int

	// Children maps each node to its children in ascending index
	// order. Leaves have no entry.
	Children map[int][]int
}

// Size returns the number of particles in the tree.
func (t *Tree) Size() int { return len(t.Nodes) }

// Leaves returns the nodes with no children, in breadth-first order.
func (t *Tree) Leaves() []int {
	var leaves []int
	for _, n := range t.Nodes {
		if len(t.Children[n]) == 0 {
			leaves = append(leaves, n)
		}
	}
	return leaves
}

// Builder turns particle sets into rooted trees. It is stateless apart
// from its immutable parameters.
type Builder struct {
	params airway.ConnectivityParams
	eval   Evaluator
}

// NewBuilder returns a Builder using the given connectivity thresholds.
func NewBuilder(params airway.ConnectivityParams) *Builder {
	return &Builder{params: params, eval: NewEvaluator(params)}
}

// BuildTrees runs the full topology pass: candidate edges, connected
// components, per-component minimum spanning tree, root selection, and
// edge orientation away from the root. Components of a single particle
// come back as degenerate one-node trees. Output order and structure
// are deterministic for a fixed input.
func (b *Builder) BuildTrees(particles []airway.Particle) []Tree {
	if len(particles) == 0 {
		return nil
	}

	edges := CandidateEdges(particles, b.eval)
	components := connectedComponents(len(particles), edges)
	mst := spanningForest(len(particles), edges)

	trees := make([]Tree, 0, len(components))
	for _, comp := range components {
		root := b.selectRoot(particles, comp)
		trees = append(trees, orient(comp, root, mst))
	}
	return trees
}

// connectedComponents partitions particle indices using the accepted
// edges. The undirected graph and component extraction are gonum's; the
// components are then sorted (internally and between one another) so
// callers see a stable order regardless of map iteration.
func connectedComponents(n int, edges []CandidateEdge) [][]int {
	g := simple.NewWeightedUndirectedGraph(0, 0)
	for i := 0; i < n; i++ {
		g.AddNode(simple.Node(i))
	}
	for _, e := range edges {
		g.SetWeightedEdge(g.NewWeightedEdge(simple.Node(e.A), simple.Node(e.B), e.Weight))
	}

	var components [][]int
	for _, comp := range topo.ConnectedComponents(g) {
		ids := make([]int, len(comp))
		for i, node := range comp {
			ids[i] = int(node.ID())
		}
		sort.Ints(ids)
		components = append(components, ids)
	}
	sort.Slice(components, func(i, j int) bool {
		return components[i][0] < components[j][0]
	})
	return components
}

// spanningForest runs Kruskal over the pre-sorted candidate edges and
// returns the kept edges as an adjacency list. Sorting by (weight, A, B)
// happens in CandidateEdges, so ties between equal-weight edges resolve
// the same way on every run.
func spanningForest(n int, edges []CandidateEdge) map[int][]int {
	uf := newUnionFind(n)
	adj := make(map[int][]int, n)
	for _, e := range edges {
		if !uf.union(e.A, e.B) {
			continue
		}
		adj[e.A] = append(adj[e.A], e.B)
		adj[e.B] = append(adj[e.B], e.A)
	}
	for _, neighbors := range adj {
		sort.Ints(neighbors)
	}
	return adj
}

// selectRoot picks the component particle with the largest projection
// onto the configured trachea-ward direction; ties go to the lower
// index. Components not containing the trachea still get a stable,
// anatomically plausible root.
func (b *Builder) selectRoot(particles []airway.Particle, comp []int) int {
	root := comp[0]
	best := r3.Dot(particles[root].Pos, b.params.RootDirection)
	for _, idx := range comp[1:] {
		proj := r3.Dot(particles[idx].Pos, b.params.RootDirection)
		if proj > best {
			best = proj
			root = idx
		}
	}
	return root
}

// orient walks the spanning tree breadth-first from the root, recording
// parent links and child lists. Generation labeling requires this
// direction: generations must be measured away from the root.
func orient(comp []int, root int, adj map[int][]int) Tree {
	t := Tree{
		Root:     root,
		Nodes:    make([]int, 0, len(comp)),
		Parent:   make(map[int]int, len(comp)),
		Children: make(map[int][]int, len(comp)),
	}

	visited := make(map[int]bool, len(comp))
	queue := []int{root}
	visited[root] = true
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		t.Nodes = append(t.Nodes, node)
		for _, next := range adj[node] {
			if visited[next] {
				continue
			}
			visited[next] = true
			t.Parent[next] = node
			t.Children[node] = append(t.Children[node], next)
			queue = append(queue, next)
		}
	}
	return t
}

// unionFind is a plain disjoint-set with path halving, used by Kruskal.
type unionFind struct {
	parent []int
	rank   []int
}

func newUnionFind(n int) *unionFind {
	uf := &unionFind{parent: make([]int, n), rank: make([]int, n)}
	for i := range uf.parent {
		uf.parent[i] = i
	}
	return uf
}

func (uf *unionFind) find(x int) int {
	for uf.parent[x] != x {
		uf.parent[x] = uf.parent[uf.parent[x]]
		x = uf.parent[x]
	}
	return x
}

// union merges the sets holding a and b, reporting false when they were
// already joined (the edge would close a cycle).
func (uf *unionFind) union(a, b int) bool {
	ra, rb := uf.find(a), uf.find(b)
	if ra == rb {
		return false
	}
	if uf.rank[ra] < uf.rank[rb] {
		ra, rb = rb, ra
	}
	uf.parent[rb] = ra
	if uf.rank[ra] == uf.rank[rb] {
		uf.rank[ra]++
	}
	return true
}
