// Package tree implements the binary label tree used by hierarchical softmax.
//
// A tree over L labels has 2L-1 nodes: leaves occupy [0, L), internal nodes
// [L, 2L-1) and the root is 2L-2. Internal node n owns output row n-L.
package tree

import (
	"errors"
	"fmt"

	"github.com/hupe1980/fastdna/persistence"
)

// unbuilt is the count carried by internal nodes not yet created. It keeps the
// second frontier out of the selection until the node exists.
const unbuilt = int64(1e15)

// ErrInvalidTree is returned when a persisted tree is inconsistent.
var ErrInvalidTree = errors.New("tree: invalid tree")

// Node is one tree node. Parent, Left and Right are -1 when absent.
type Node struct {
	Parent int32
	Left   int32
	Right  int32
	Count  int64
	Binary bool // set on right children
}

// Tree is an immutable label tree with cached root paths.
type Tree struct {
	nodes  []Node
	leaves int
	paths  [][]int32
	codes  [][]bool
}

func newTree(leaves int) *Tree {
	n := max(2*leaves-1, 0)
	nodes := make([]Node, n)
	for i := range nodes {
		nodes[i] = Node{Parent: -1, Left: -1, Right: -1, Count: unbuilt}
	}
	return &Tree{nodes: nodes, leaves: leaves}
}

// Build pairs the two lowest-count nodes from two frontiers, the leaves in
// ascending id order and the built internal nodes in creation order, until a
// single root remains.
//
// counts must be sorted ascending by label id for the result to be a Huffman
// tree. The order is not checked; other inputs still yield a valid tree.
func Build(counts []int64) *Tree {
	L := len(counts)
	t := newTree(L)
	for i, c := range counts {
		t.nodes[i].Count = c
	}

	leaf, node := 0, L
	for i := L; i < 2*L-1; i++ {
		var mini [2]int
		for j := range mini {
			if leaf < L && t.nodes[leaf].Count < t.nodes[node].Count {
				mini[j] = leaf
				leaf++
			} else {
				mini[j] = node
				node++
			}
		}
		t.nodes[i].Left = int32(mini[0])
		t.nodes[i].Right = int32(mini[1])
		t.nodes[i].Count = t.nodes[mini[0]].Count + t.nodes[mini[1]].Count
		t.nodes[mini[0]].Parent = int32(i)
		t.nodes[mini[1]].Parent = int32(i)
		t.nodes[mini[1]].Binary = true
	}
	t.buildPaths()
	return t
}

func (t *Tree) buildPaths() {
	t.paths = make([][]int32, t.leaves)
	t.codes = make([][]bool, t.leaves)
	for i := 0; i < t.leaves; i++ {
		var path []int32
		var code []bool
		for j := i; t.nodes[j].Parent != -1; j = int(t.nodes[j].Parent) {
			path = append(path, t.nodes[j].Parent-int32(t.leaves))
			code = append(code, t.nodes[j].Binary)
		}
		t.paths[i] = path
		t.codes[i] = code
	}
}

// NumLeaves returns the number of labels.
func (t *Tree) NumLeaves() int { return t.leaves }

// NumNodes returns 2L-1.
func (t *Tree) NumNodes() int { return len(t.nodes) }

// Root returns the root node id.
func (t *Tree) Root() int32 { return int32(len(t.nodes) - 1) }

// Node returns node i.
func (t *Tree) Node(i int32) Node { return t.nodes[i] }

// IsLeaf reports whether node i has no children.
func (t *Tree) IsLeaf(i int32) bool {
	return t.nodes[i].Left == -1 && t.nodes[i].Right == -1
}

// Path returns the output rows visited from the leaf of label up to the root.
func (t *Tree) Path(label int32) []int32 { return t.paths[label] }

// Code returns the branch bits matching Path.
func (t *Tree) Code(label int32) []bool { return t.codes[label] }

// Depth returns the path length of label.
func (t *Tree) Depth(label int32) int { return len(t.paths[label]) }

// WeightedPathLength returns sum(counts[i] * depth(i)).
func (t *Tree) WeightedPathLength(counts []int64) int64 {
	var total int64
	for i, c := range counts {
		total += c * int64(len(t.paths[i]))
	}
	return total
}

// Save writes the node table.
func (t *Tree) Save(w *persistence.Writer) {
	w.Int32(int32(t.leaves))
	for _, n := range t.nodes {
		w.Int32(n.Parent)
		w.Int32(n.Left)
		w.Int32(n.Right)
		w.Int64(n.Count)
		w.Bool(n.Binary)
	}
}

// Load reads a tree written by Save.
func Load(r *persistence.Reader) (*Tree, error) {
	leaves := r.Int32()
	if err := r.Err(); err != nil {
		return nil, err
	}
	if leaves < 0 || leaves > 1<<28 {
		return nil, fmt.Errorf("%w: %d leaves", ErrInvalidTree, leaves)
	}
	t := newTree(int(leaves))
	for i := range t.nodes {
		t.nodes[i] = Node{
			Parent: r.Int32(),
			Left:   r.Int32(),
			Right:  r.Int32(),
			Count:  r.Int64(),
			Binary: r.Bool(),
		}
	}
	if err := r.Err(); err != nil {
		return nil, err
	}
	if err := t.validate(); err != nil {
		return nil, err
	}
	t.buildPaths()
	return t, nil
}

// validate checks that every non-root node hangs below an internal node and
// every internal node has two children.
func (t *Tree) validate() error {
	n := int32(len(t.nodes))
	in := func(v int32) bool { return v >= 0 && v < n }
	for i, node := range t.nodes {
		id := int32(i)
		if id == t.Root() {
			if node.Parent != -1 {
				return fmt.Errorf("%w: root %d has a parent", ErrInvalidTree, id)
			}
		} else if !in(node.Parent) || int(node.Parent) < t.leaves {
			return fmt.Errorf("%w: node %d has no parent", ErrInvalidTree, id)
		}
		if i >= t.leaves && (!in(node.Left) || !in(node.Right)) {
			return fmt.Errorf("%w: internal node %d lacks children", ErrInvalidTree, id)
		}
		if i < t.leaves && (node.Left != -1 || node.Right != -1) {
			return fmt.Errorf("%w: leaf %d has children", ErrInvalidTree, id)
		}
	}
	for i := 0; i < t.leaves; i++ {
		j, steps := int32(i), int32(0)
		for t.nodes[j].Parent != -1 {
			j = t.nodes[j].Parent
			if steps++; steps > n {
				return fmt.Errorf("%w: cycle above leaf %d", ErrInvalidTree, i)
			}
		}
		if j != t.Root() {
			return fmt.Errorf("%w: leaf %d does not reach the root", ErrInvalidTree, i)
		}
	}
	return nil
}
