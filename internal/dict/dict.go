// Package dict records the sequences and labels of a FASTA training corpus.
package dict

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"slices"
	"sort"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/fastdna/internal/kmer"
	"github.com/hupe1980/fastdna/persistence"
)

var (
	// ErrLabelOutOfRange is returned for a label id outside [0, NumLabels).
	ErrLabelOutOfRange = errors.New("dict: label id out of range")

	// ErrMissingLabel is returned when the label file ends before the FASTA file.
	ErrMissingLabel = errors.New("dict: missing label")

	// ErrCorrupt is returned when a persisted dictionary is inconsistent.
	ErrCorrupt = errors.New("dict: corrupt dictionary")
)

// Entry is one FASTA record.
type Entry struct {
	Name    string
	Label   string
	Count   int64 // sequence bytes, newlines excluded
	SeqPos  int64 // offset of the first sequence byte
	NamePos int64 // offset of the '>' header byte
}

// Dictionary maps records to labels and labels to dense ids.
//
// It is built once, then read concurrently by training workers.
type Dictionary struct {
	k           int
	entries     []Entry
	labelIDs    map[string]int32
	labels      []string
	counts      []int64
	nameToLabel map[string]string
	kept        *roaring.Bitmap
}

// New returns an empty dictionary for k-mers of length k.
func New(k int) *Dictionary {
	return &Dictionary{
		k:           k,
		labelIDs:    make(map[string]int32),
		nameToLabel: make(map[string]string),
	}
}

// K returns the k-mer length.
func (d *Dictionary) K() int { return d.k }

// NumWords returns the number of canonical k-mers.
func (d *Dictionary) NumWords() int { return int(kmer.Size(d.k)) }

// NumSequences returns the number of records.
func (d *Dictionary) NumSequences() int { return len(d.entries) }

// NumLabels returns the number of distinct labels.
func (d *Dictionary) NumLabels() int { return len(d.labels) }

// Entries returns the records in file order.
func (d *Dictionary) Entries() []Entry { return d.entries }

// Counts returns the per-label base counts indexed by label id.
func (d *Dictionary) Counts() []int64 { return d.counts }

// Label returns the label string of id.
func (d *Dictionary) Label(id int32) (string, error) {
	if id < 0 || int(id) >= len(d.labels) {
		return "", fmt.Errorf("%w: %d not in [0, %d)", ErrLabelOutOfRange, id, len(d.labels))
	}
	return d.labels[id], nil
}

// LabelID returns the id of label.
func (d *Dictionary) LabelID(label string) (int32, bool) {
	id, ok := d.labelIDs[label]
	return id, ok
}

// LabelIDs returns the label to id map.
func (d *Dictionary) LabelIDs() map[string]int32 { return d.labelIDs }

// LabelOf returns the label recorded for the sequence name.
func (d *Dictionary) LabelOf(name string) (string, bool) {
	l, ok := d.nameToLabel[name]
	return l, ok
}

// Add records e, assigning its label the next id on first sight.
func (d *Dictionary) Add(e Entry) {
	d.addLabel(e.Label, e.Count)
	d.nameToLabel[e.Name] = e.Label
	d.entries = append(d.entries, e)
}

func (d *Dictionary) addLabel(label string, count int64) {
	id, ok := d.labelIDs[label]
	if !ok {
		id = int32(len(d.labels))
		d.labelIDs[label] = id
		d.labels = append(d.labels, label)
		d.counts = append(d.counts, 0)
	}
	d.counts[id] += count
}

// ReadFromFasta scans fasta once, taking one line of labels per record.
func (d *Dictionary) ReadFromFasta(fasta, labels io.Reader) error {
	fr := bufio.NewReaderSize(fasta, 1<<20)
	lr := bufio.NewScanner(labels)
	lr.Buffer(make([]byte, 4096), 1<<20)

	var (
		cur     Entry
		open    bool
		offset  int64
		header  bytes.Buffer
		inLine  bool // continuing a line longer than the buffer
		isHdr   bool
		lineLen int64
	)

	flush := func() {
		if open {
			d.Add(cur)
		}
	}

	for {
		chunk, err := fr.ReadSlice('\n')
		if len(chunk) > 0 {
			start := offset
			offset += int64(len(chunk))
			complete := chunk[len(chunk)-1] == '\n'

			if !inLine {
				isHdr = chunk[0] == '>'
				lineLen = 0
				header.Reset()
				if isHdr {
					flush()
					cur = Entry{NamePos: start}
					open = true
				}
			}

			body := bytes.TrimRight(chunk, "\r\n")
			if isHdr {
				header.Write(body)
			} else {
				lineLen += int64(len(body))
			}

			inLine = !complete && errors.Is(err, bufio.ErrBufferFull)
			if !inLine {
				if isHdr {
					cur.Name = string(bytes.TrimPrefix(header.Bytes(), []byte{'>'}))
					cur.SeqPos = offset
					if !lr.Scan() {
						if lerr := lr.Err(); lerr != nil {
							return lerr
						}
						return fmt.Errorf("%w for sequence %q", ErrMissingLabel, cur.Name)
					}
					cur.Label = lr.Text()
				} else if open {
					cur.Count += lineLen
				}
			}
		}
		if err != nil {
			if errors.Is(err, bufio.ErrBufferFull) {
				continue
			}
			if errors.Is(err, io.EOF) {
				break
			}
			return err
		}
	}
	flush()
	return nil
}

// LabelFromPos returns the label id of the record containing byte offset pos,
// or -1 when pos falls inside a header line.
func (d *Dictionary) LabelFromPos(pos int64) int32 {
	if len(d.entries) == 0 {
		return -1
	}
	i := sort.Search(len(d.entries), func(i int) bool {
		return d.entries[i].NamePos > pos
	}) - 1
	if i < 0 {
		i = 0
	}
	if pos < d.entries[i].SeqPos {
		return -1
	}
	return d.labelIDs[d.entries[i].Label]
}

// Prune records the input rows that survived a cutoff.
func (d *Dictionary) Prune(kept *roaring.Bitmap) {
	d.kept = kept
}

// IsPruned reports whether Prune was called.
func (d *Dictionary) IsPruned() bool { return d.kept != nil }

// Kept returns the surviving rows, or nil when not pruned.
func (d *Dictionary) Kept() *roaring.Bitmap { return d.kept }

// Save writes the dictionary.
func (d *Dictionary) Save(w *persistence.Writer) error {
	w.Int32(int32(len(d.entries)))
	w.Int32(int32(len(d.labels)))
	w.Int32(int32(len(d.nameToLabel)))
	for _, e := range d.entries {
		w.String(e.Label)
		w.String(e.Name)
		w.Int64(e.Count)
		w.Int64(e.SeqPos)
		w.Int64(e.NamePos)
	}

	names := make([]string, 0, len(d.nameToLabel))
	for n := range d.nameToLabel {
		names = append(names, n)
	}
	slices.Sort(names)
	for _, n := range names {
		w.String(n)
		w.String(d.nameToLabel[n])
	}

	for id, l := range d.labels {
		w.String(l)
		w.Int32(int32(id))
	}

	w.Bool(d.kept != nil)
	if d.kept != nil {
		b, err := d.kept.ToBytes()
		if err != nil {
			return err
		}
		w.Int64(int64(len(b)))
		w.Bytes(b)
	}
	return w.Err()
}

// Load reads a dictionary written by Save. Label counts are rebuilt from the
// records.
func Load(r *persistence.Reader, k int) (*Dictionary, error) {
	d := New(k)

	nseq := r.Int32()
	nlabels := r.Int32()
	nnames := r.Int32()
	if err := r.Err(); err != nil {
		return nil, err
	}
	if nseq < 0 || nlabels < 0 || nnames < 0 {
		return nil, fmt.Errorf("%w: negative sizes", ErrCorrupt)
	}

	entries := make([]Entry, 0, min(int(nseq), 1<<20))
	for i := int32(0); i < nseq; i++ {
		e := Entry{Label: r.String(), Name: r.String()}
		e.Count = r.Int64()
		e.SeqPos = r.Int64()
		e.NamePos = r.Int64()
		if err := r.Err(); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	for i := int32(0); i < nnames; i++ {
		name, label := r.String(), r.String()
		d.nameToLabel[name] = label
	}

	d.labels = make([]string, nlabels)
	d.counts = make([]int64, nlabels)
	for i := int32(0); i < nlabels; i++ {
		label := r.String()
		id := r.Int32()
		if err := r.Err(); err != nil {
			return nil, err
		}
		if id < 0 || id >= nlabels {
			return nil, fmt.Errorf("%w: label id %d", ErrCorrupt, id)
		}
		d.labelIDs[label] = id
		d.labels[id] = label
	}

	for _, e := range entries {
		id, ok := d.labelIDs[e.Label]
		if !ok {
			return nil, fmt.Errorf("%w: unknown label %q", ErrCorrupt, e.Label)
		}
		d.counts[id] += e.Count
	}
	d.entries = entries

	if r.Bool() {
		n := r.Count(1 << 34)
		b := make([]byte, n)
		r.Bytes(b)
		if err := r.Err(); err != nil {
			return nil, err
		}
		kept := roaring.New()
		if err := kept.UnmarshalBinary(b); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
		}
		d.kept = kept
	}
	if err := r.Err(); err != nil {
		return nil, err
	}
	return d, nil
}
