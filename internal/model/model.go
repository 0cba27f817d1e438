// Package model implements the classifier update and inference steps.
//
// A Model is per-worker state: hidden and gradient buffers, an output
// scratch vector, a private PRNG, a negative-sampling cursor and the running
// loss. The parameter matrices behind it are shared by every worker.
package model

import (
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/chewxy/math32"

	"github.com/hupe1980/fastdna/internal/matrix"
	"github.com/hupe1980/fastdna/internal/negative"
	"github.com/hupe1980/fastdna/internal/queue"
	"github.com/hupe1980/fastdna/internal/tree"
)

var (
	// ErrInvalidK is returned when fewer than one prediction is requested.
	ErrInvalidK = errors.New("model: k needs to be 1 or higher")

	// ErrUnsupported is returned for operations the configuration cannot serve.
	ErrUnsupported = errors.New("model: unsupported operation")
)

// Loss selects the output layer.
type Loss int

// Loss functions.
const (
	LossSoftmax Loss = iota + 1
	LossHS
	LossNS
)

func (l Loss) String() string {
	switch l {
	case LossSoftmax:
		return "softmax"
	case LossHS:
		return "hs"
	case LossNS:
		return "ns"
	default:
		return fmt.Sprintf("Loss(%d)", int(l))
	}
}

// Kind selects what the output layer predicts.
type Kind int

// Model kinds.
const (
	Supervised Kind = iota + 1
	CBOW
	Skipgram
)

func (k Kind) String() string {
	switch k {
	case Supervised:
		return "supervised"
	case CBOW:
		return "cbow"
	case Skipgram:
		return "skipgram"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Config holds the hyperparameters the update step depends on.
type Config struct {
	Loss   Loss
	Kind   Kind
	Neg    int
	Freeze bool
}

// Params is the parameter store shared by all workers.
//
// In and Out are each either a *matrix.Dense or a quantized matrix; the
// choice is made once when the store is built. Updates require dense
// matrices and are applied without synchronization.
type Params struct {
	In  matrix.Matrix
	Out matrix.Matrix

	Tree      *tree.Tree
	Negatives *negative.Table
}

// Prediction is a label with its log-probability.
type Prediction = queue.Item

// Model is the per-worker view of the shared Params.
type Model struct {
	cfg    Config
	params *Params
	in     *matrix.Dense
	out    *matrix.Dense

	hidden []float32
	grad   []float32
	output []float32

	rng     *rand.Rand
	sampler *negative.Sampler

	loss      float64
	nexamples int64
}

// New returns a Model over params whose PRNG is seeded with seed.
func New(cfg Config, params *Params, seed uint64) *Model {
	dim := params.In.Cols()
	m := &Model{
		cfg:       cfg,
		params:    params,
		hidden:    make([]float32, dim),
		grad:      make([]float32, dim),
		output:    make([]float32, params.Out.Rows()),
		rng:       rand.New(rand.NewPCG(seed, seed)),
		nexamples: 1,
	}
	m.in, _ = params.In.(*matrix.Dense)
	m.out, _ = params.Out.(*matrix.Dense)
	if params.Negatives != nil {
		m.sampler = params.Negatives.NewSampler()
	}
	return m
}

// Rand returns the worker PRNG.
func (m *Model) Rand() *rand.Rand { return m.rng }

// Trainable reports whether both matrices are dense.
func (m *Model) Trainable() bool { return m.in != nil && m.out != nil }

// Loss returns the mean loss over the examples seen.
func (m *Model) Loss() float32 {
	return float32(m.loss / float64(m.nexamples))
}

// Examples returns the number of examples seen plus one.
func (m *Model) Examples() int64 { return m.nexamples }

// Hidden returns the hidden vector of the last example.
func (m *Model) Hidden() []float32 { return m.hidden }

// ComputeHidden averages the input rows of input into hidden.
func (m *Model) ComputeHidden(input []uint64, hidden []float32) {
	clear(hidden)
	for _, i := range input {
		m.params.In.AddRowTo(hidden, int(i), 1)
	}
	if len(input) > 0 {
		matrix.Scale(hidden, 1/float32(len(input)))
	}
}

func (m *Model) binaryLogistic(target int, label bool, lr float32) float32 {
	score := sigmoid(m.out.DotRow(m.hidden, target))
	var y float32
	if label {
		y = 1
	}
	alpha := lr * (y - score)
	m.out.AddRowTo(m.grad, target, alpha)
	m.out.AddVectorToRow(m.hidden, target, alpha)
	if label {
		return -logTable(score)
	}
	return -logTable(1 - score)
}

func (m *Model) negativeSampling(target int32, lr float32) float32 {
	clear(m.grad)
	loss := m.binaryLogistic(int(target), true, lr)
	for n := 0; n < m.cfg.Neg; n++ {
		neg := m.sampler.Next(target)
		if neg < 0 {
			break
		}
		loss += m.binaryLogistic(int(neg), false, lr)
	}
	return loss
}

func (m *Model) hierarchicalSoftmax(target int32, lr float32) float32 {
	clear(m.grad)
	var loss float32
	code := m.params.Tree.Code(target)
	for i, node := range m.params.Tree.Path(target) {
		loss += m.binaryLogistic(int(node), code[i], lr)
	}
	return loss
}

func (m *Model) softmax(target int32, lr float32) float32 {
	clear(m.grad)
	m.computeOutputSoftmax(m.hidden, m.output)
	for i := range m.output {
		var y float32
		if int32(i) == target {
			y = 1
		}
		alpha := lr * (y - m.output[i])
		m.out.AddRowTo(m.grad, i, alpha)
		m.out.AddVectorToRow(m.hidden, i, alpha)
	}
	return -logTable(m.output[target])
}

func (m *Model) computeOutputSoftmax(hidden, output []float32) {
	matrix.Mul(m.params.Out, hidden, output)
	matrix.Softmax(output)
}

// Update performs one SGD step for input predicting target with learning
// rate lr. An empty input is ignored. The model must be Trainable.
func (m *Model) Update(input []uint64, target int32, lr float32) {
	if len(input) == 0 {
		return
	}
	m.ComputeHidden(input, m.hidden)

	var loss float32
	switch m.cfg.Loss {
	case LossNS:
		loss = m.negativeSampling(target, lr)
	case LossHS:
		loss = m.hierarchicalSoftmax(target, lr)
	default:
		loss = m.softmax(target, lr)
	}
	m.loss += float64(loss)
	m.nexamples++

	if m.cfg.Freeze {
		return
	}
	if m.cfg.Kind == Supervised {
		matrix.Scale(m.grad, 1/float32(len(input)))
	}
	for _, i := range input {
		m.in.AddVectorToRow(m.grad, int(i), 1)
	}
}

// Predict returns the k most likely labels of input with probability at
// least threshold, highest first. Scores are log-probabilities.
func (m *Model) Predict(input []uint64, k int, threshold float32) ([]Prediction, error) {
	if err := m.checkPredict(k); err != nil {
		return nil, err
	}
	top := queue.NewTopK(k)
	hidden := make([]float32, len(m.hidden))
	m.ComputeHidden(input, hidden)

	if m.cfg.Loss == LossHS {
		m.dfs(top, threshold, m.params.Tree.Root(), 0, hidden)
	} else {
		output := make([]float32, m.params.Out.Rows())
		m.computeOutputSoftmax(hidden, output)
		findKBest(top, threshold, output)
	}
	return top.Sorted(), nil
}

// PredictPaired averages the output distributions of two inputs before
// selecting the top k. It is not available with hierarchical softmax.
func (m *Model) PredictPaired(input, input2 []uint64, k int, threshold float32) ([]Prediction, error) {
	if err := m.checkPredict(k); err != nil {
		return nil, err
	}
	if m.cfg.Loss == LossHS {
		return nil, fmt.Errorf("%w: paired prediction with hierarchical softmax", ErrUnsupported)
	}

	dim := len(m.hidden)
	hidden, hidden2 := make([]float32, dim), make([]float32, dim)
	m.ComputeHidden(input, hidden)
	m.ComputeHidden(input2, hidden2)

	rows := m.params.Out.Rows()
	output, output2 := make([]float32, rows), make([]float32, rows)
	m.computeOutputSoftmax(hidden, output)
	m.computeOutputSoftmax(hidden2, output2)
	matrix.Add(output, output2)
	matrix.Scale(output, 0.5)

	top := queue.NewTopK(k)
	findKBest(top, threshold, output)
	return top.Sorted(), nil
}

func (m *Model) checkPredict(k int) error {
	if k <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidK, k)
	}
	if m.cfg.Kind != Supervised {
		return fmt.Errorf("%w: prediction needs a supervised model", ErrUnsupported)
	}
	return nil
}

func findKBest(top *queue.TopK, threshold float32, output []float32) {
	for i, p := range output {
		if p < threshold {
			continue
		}
		top.Offer(int32(i), stdLog(p))
	}
}

func (m *Model) dfs(top *queue.TopK, threshold float32, node int32, score float32, hidden []float32) {
	if score < stdLog(threshold) {
		return
	}
	if top.Full() {
		if weakest, _ := top.Min(); score < weakest {
			return
		}
	}

	t := m.params.Tree
	if t.IsLeaf(node) {
		top.Offer(node, score)
		return
	}

	n := t.Node(node)
	f := m.params.Out.DotRow(hidden, int(node)-t.NumLeaves())
	f = 1 / (1 + math32.Exp(-f))

	m.dfs(top, threshold, n.Left, score+stdLog(1-f), hidden)
	m.dfs(top, threshold, n.Right, score+stdLog(f), hidden)
}
