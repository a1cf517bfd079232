package trainer

import (
	"fmt"
)

// Tensor is a dense numeric value with a shape. It is how metric values shaped
// like model outputs reach loggers.
type Tensor struct {
	Data []float64
	Dims []int
}

// Scalar returns a zero-dimensional tensor.
func Scalar(v float64) Tensor {
	return Tensor{Data: []float64{v}}
}

func (t Tensor) Shape() []int {
	return append([]int(nil), t.Dims...)
}

func (t Tensor) NumElements() int {
	n := 1
	for _, d := range t.Dims {
		n *= d
	}
	return n
}

// Item returns the only element of a one-element tensor.
func (t Tensor) Item() (any, error) {
	if t.NumElements() != 1 {
		return nil, fmt.Errorf("a tensor with %d elements cannot be converted to a scalar", t.NumElements())
	}
	if len(t.Data) != 1 {
		return nil, fmt.Errorf("tensor storage holds %d values, shape needs 1", len(t.Data))
	}
	return t.Data[0], nil
}
