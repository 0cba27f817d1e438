package matrix

import (
	"github.com/chewxy/math32"
	"gonum.org/v1/gonum/blas/blas32"
)

// Scale multiplies v by a in place.
func Scale(v []float32, a float32) {
	if len(v) == 0 {
		return
	}
	blas32.Scal(a, vec(v))
}

// Add adds src to dst in place.
func Add(dst, src []float32) {
	blas32.Axpy(1, vec(src), vec(dst))
}

// Norm returns the Euclidean norm of v.
func Norm(v []float32) float32 {
	return blas32.Nrm2(vec(v))
}

// Softmax replaces v with exp(v - max(v)) / sum.
func Softmax(v []float32) {
	if len(v) == 0 {
		return
	}
	mx := v[0]
	for _, x := range v[1:] {
		mx = max(mx, x)
	}
	var z float32
	for i, x := range v {
		v[i] = math32.Exp(x - mx)
		z += v[i]
	}
	Scale(v, 1/z)
}
