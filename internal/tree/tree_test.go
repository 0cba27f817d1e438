package tree

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/fastdna/persistence"
)

func TestBuildHuffman(t *testing.T) {
	counts := []int64{1, 2, 3, 4, 20}
	tr := Build(counts)

	require.Equal(t, 9, tr.NumNodes())
	assert.Equal(t, int32(8), tr.Root())
	assert.Equal(t, int64(30), tr.Node(tr.Root()).Count)

	for label := range counts {
		path := tr.Path(int32(label))
		code := tr.Code(int32(label))
		require.NotEmpty(t, path)
		require.Len(t, code, len(path))
		// The last step always reaches the root row.
		assert.Equal(t, int32(8-5), path[len(path)-1])
		for _, row := range path {
			assert.GreaterOrEqual(t, row, int32(0))
			assert.Less(t, row, int32(4))
		}
	}

	assert.Equal(t, 1, tr.Depth(4))
	assert.Equal(t, 2, tr.Depth(3))
	assert.Equal(t, 3, tr.Depth(2))
	assert.Equal(t, 4, tr.Depth(0))
	assert.Equal(t, 4, tr.Depth(1))

	wpl := tr.WeightedPathLength(counts)
	assert.Equal(t, int64(49), wpl)

	// A balanced tree over five leaves has depths {2,2,2,3,3}; its best
	// weighted length for these counts is 63.
	assert.LessOrEqual(t, wpl, int64(63))
}

func TestBuildChildrenAndBits(t *testing.T) {
	tr := Build([]int64{1, 1, 1, 1})
	for i := int32(4); i < int32(tr.NumNodes()); i++ {
		n := tr.Node(i)
		require.NotEqual(t, int32(-1), n.Left)
		require.NotEqual(t, int32(-1), n.Right)
		assert.False(t, tr.Node(n.Left).Binary)
		assert.True(t, tr.Node(n.Right).Binary)
		assert.Equal(t, i, tr.Node(n.Left).Parent)
		assert.Equal(t, i, tr.Node(n.Right).Parent)
	}
	for i := int32(0); i < 4; i++ {
		assert.True(t, tr.IsLeaf(i))
	}
}

func TestBuildSingleLabel(t *testing.T) {
	tr := Build([]int64{5})
	assert.Equal(t, 1, tr.NumNodes())
	assert.Equal(t, int32(0), tr.Root())
	assert.Empty(t, tr.Path(0))
}

func TestSaveLoad(t *testing.T) {
	tr := Build([]int64{1, 2, 3, 4, 20})

	var buf bytes.Buffer
	w := persistence.NewWriter(&buf)
	tr.Save(w)
	require.NoError(t, w.Err())

	got, err := Load(persistence.NewReader(&buf))
	require.NoError(t, err)
	for i := int32(0); i < 5; i++ {
		assert.Equal(t, tr.Path(i), got.Path(i))
		assert.Equal(t, tr.Code(i), got.Code(i))
	}
}

func TestLoadRejectsCycle(t *testing.T) {
	tr := Build([]int64{1, 1})
	tr.nodes[2].Parent = 2

	var buf bytes.Buffer
	w := persistence.NewWriter(&buf)
	tr.Save(w)

	_, err := Load(persistence.NewReader(&buf))
	require.ErrorIs(t, err, ErrInvalidTree)
}

const taxonomy = `n0 10
n1 0 6
l2 1 3 a
l3 1 3 b
l4 0 4 c
`

func TestLoadTaxonomy(t *testing.T) {
	labels := map[string]int32{"a": 0, "b": 1, "c": 2}
	tr, err := LoadTaxonomy(strings.NewReader(taxonomy), "tax.txt", labels, 3)
	require.NoError(t, err)

	root := tr.Root()
	require.Equal(t, int32(4), root)
	assert.Equal(t, int32(3), tr.Node(root).Left)
	assert.Equal(t, int32(2), tr.Node(root).Right)
	assert.Equal(t, int64(10), tr.Node(root).Count)

	assert.Equal(t, []int32{0, 1}, tr.Path(0))
	assert.Equal(t, []bool{false, false}, tr.Code(0))
	assert.Equal(t, []bool{true, false}, tr.Code(1))
	assert.Equal(t, []int32{1}, tr.Path(2))
	assert.Equal(t, []bool{true}, tr.Code(2))
}

func TestLoadTaxonomyErrors(t *testing.T) {
	labels := map[string]int32{"a": 0, "b": 1, "c": 2}
	cases := map[string]string{
		"bad tag":       "x0 10\n",
		"short":         "n0 10\nn1 0 6\n",
		"unknown label": "n0 10\nn1 0 6\nl2 1 3 z\nl3 1 3 b\nl4 0 4 c\n",
		"third child":   "n0 10\nn1 0 6\nl2 0 3 a\nl3 0 3 b\nl4 0 4 c\n",
		"bad number":    "n0 ten\n",
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadTaxonomy(strings.NewReader(input), "tax.txt", labels, 3)
			require.ErrorIs(t, err, ErrTaxonomyFormat)
			assert.Contains(t, err.Error(), "tax.txt")
		})
	}
}
