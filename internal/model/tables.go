package model

import "github.com/chewxy/math32"

const (
	sigmoidTableSize = 512
	maxSigmoid       = 8
	logTableSize     = 512
)

var (
	sigmoidTable [sigmoidTableSize + 1]float32
	logValues    [logTableSize + 1]float32
)

func init() {
	for i := range sigmoidTable {
		x := float32(i*2*maxSigmoid)/sigmoidTableSize - maxSigmoid
		sigmoidTable[i] = 1 / (1 + math32.Exp(-x))
	}
	for i := range logValues {
		x := (float32(i) + 1e-5) / logTableSize
		logValues[i] = math32.Log(x)
	}
}

// sigmoid is the table approximation used during training.
func sigmoid(x float32) float32 {
	switch {
	case x < -maxSigmoid:
		return 0
	case x > maxSigmoid:
		return 1
	default:
		return sigmoidTable[int((x+maxSigmoid)*sigmoidTableSize/maxSigmoid/2)]
	}
}

// logTable is the table approximation of log used for the training loss.
func logTable(x float32) float32 {
	if x > 1 {
		return 0
	}
	if x < 0 {
		x = 0
	}
	return logValues[int(x*logTableSize)]
}

// stdLog is log(x + 1e-5), used for prediction scores.
func stdLog(x float32) float32 {
	return math32.Log(x + 1e-5)
}
