// Package negative builds the label table sampled by negative-sampling loss.
package negative

import (
	"math"
	"math/rand/v2"
)

// DefaultSize is the default number of table slots.
const DefaultSize = 10_000_000

// Table holds label ids in proportion to sqrt(count), shuffled once.
// It is immutable after NewTable and shared by all workers.
type Table struct {
	slots []int32
}

// NewTable allocates about size slots, giving label i a share of
// sqrt(counts[i]) / sum(sqrt(counts)), and shuffles them with rng.
func NewTable(counts []int64, size int, rng *rand.Rand) *Table {
	var z float64
	for _, c := range counts {
		z += math.Sqrt(float64(c))
	}

	slots := make([]int32, 0, size+len(counts))
	if z > 0 {
		for i, c := range counts {
			n := math.Sqrt(float64(c)) * float64(size) / z
			for j := 0; float64(j) < n; j++ {
				slots = append(slots, int32(i))
			}
		}
	}
	rng.Shuffle(len(slots), func(i, j int) {
		slots[i], slots[j] = slots[j], slots[i]
	})
	return &Table{slots: slots}
}

// Len returns the number of slots.
func (t *Table) Len() int { return len(t.slots) }

// Sampler reads a Table through a private rotating cursor.
type Sampler struct {
	table *Table
	pos   int
}

// NewSampler returns a cursor positioned at slot 0.
func (t *Table) NewSampler() *Sampler {
	return &Sampler{table: t}
}

// Next returns the next slot value different from target, advancing the cursor
// cyclically. It returns -1 when no such value exists.
func (s *Sampler) Next(target int32) int32 {
	slots := s.table.slots
	for range slots {
		v := slots[s.pos]
		s.pos++
		if s.pos == len(slots) {
			s.pos = 0
		}
		if v != target {
			return v
		}
	}
	return -1
}
