package dict

import (
	"bytes"
	"strings"
	"testing"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/fastdna/persistence"
)

const fasta = ">s1 first\nACGT\nAC\n>s2\nGGGGGG\n>s3\nTTTT"

const labels = "virus\nbacteria\nvirus\n"

func readTestDict(t *testing.T) *Dictionary {
	t.Helper()
	d := New(3)
	require.NoError(t, d.ReadFromFasta(strings.NewReader(fasta), strings.NewReader(labels)))
	return d
}

func TestReadFromFasta(t *testing.T) {
	d := readTestDict(t)

	require.Equal(t, 3, d.NumSequences())
	require.Equal(t, 2, d.NumLabels())
	assert.Equal(t, 32, d.NumWords())

	e := d.Entries()
	assert.Equal(t, Entry{Name: "s1 first", Label: "virus", Count: 6, NamePos: 0, SeqPos: 10}, e[0])
	assert.Equal(t, Entry{Name: "s2", Label: "bacteria", Count: 6, NamePos: 18, SeqPos: 22}, e[1])
	assert.Equal(t, Entry{Name: "s3", Label: "virus", Count: 4, NamePos: 29, SeqPos: 33}, e[2])

	assert.Equal(t, []int64{10, 6}, d.Counts())

	l, err := d.Label(1)
	require.NoError(t, err)
	assert.Equal(t, "bacteria", l)

	id, ok := d.LabelID("virus")
	require.True(t, ok)
	assert.Equal(t, int32(0), id)

	lab, ok := d.LabelOf("s2")
	require.True(t, ok)
	assert.Equal(t, "bacteria", lab)
}

func TestLabelOutOfRange(t *testing.T) {
	d := readTestDict(t)
	_, err := d.Label(2)
	require.ErrorIs(t, err, ErrLabelOutOfRange)
	_, err = d.Label(-1)
	require.ErrorIs(t, err, ErrLabelOutOfRange)
}

func TestMissingLabel(t *testing.T) {
	d := New(3)
	err := d.ReadFromFasta(strings.NewReader(fasta), strings.NewReader("virus\n"))
	require.ErrorIs(t, err, ErrMissingLabel)
}

func TestLabelFromPos(t *testing.T) {
	d := readTestDict(t)

	cases := map[int64]int32{
		0:  -1, // '>' of s1
		5:  -1,
		10: 0,
		17: 0,
		18: -1,
		19: -1,
		22: 1,
		28: 1,
		30: -1,
		33: 0,
		36: 0,
	}
	for pos, want := range cases {
		assert.Equal(t, want, d.LabelFromPos(pos), "pos=%d", pos)
	}
}

func TestLongLines(t *testing.T) {
	seq := strings.Repeat("ACGT", 1<<19)
	d := New(4)
	require.NoError(t, d.ReadFromFasta(strings.NewReader(">long\n"+seq+"\n>b\nAC\n"), strings.NewReader("x\ny\n")))
	require.Equal(t, 2, d.NumSequences())
	assert.Equal(t, int64(len(seq)), d.Entries()[0].Count)
	assert.Equal(t, int64(6+len(seq)+1), d.Entries()[1].NamePos)
}

func TestSaveLoad(t *testing.T) {
	d := readTestDict(t)
	kept := roaring.BitmapOf(1, 5, 7)
	d.Prune(kept)

	var buf bytes.Buffer
	w := persistence.NewWriter(&buf)
	require.NoError(t, d.Save(w))

	got, err := Load(persistence.NewReader(&buf), 3)
	require.NoError(t, err)
	assert.Equal(t, d.Entries(), got.Entries())
	assert.Equal(t, d.Counts(), got.Counts())
	assert.Equal(t, d.LabelIDs(), got.LabelIDs())
	require.True(t, got.IsPruned())
	assert.True(t, got.Kept().Equals(kept))
}

func TestLoadTruncated(t *testing.T) {
	d := readTestDict(t)
	var buf bytes.Buffer
	require.NoError(t, d.Save(persistence.NewWriter(&buf)))

	_, err := Load(persistence.NewReader(bytes.NewReader(buf.Bytes()[:buf.Len()/2])), 3)
	require.ErrorIs(t, err, persistence.ErrTruncated)
}
