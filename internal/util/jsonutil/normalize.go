package jsonutil

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-logr/logr"
)

// Tensor is the shape-aware value the normalizer reduces to a scalar or a
// shape description.
type Tensor interface {
	Shape() []int
	Item() (any, error)
}

// Normalize recursively converts data into a value encoding/json can marshal.
//
//   - nil becomes "None"
//   - strings, bools and numbers are kept (non-finite floats become strings)
//   - a Tensor with one element becomes its scalar, otherwise "Tensor of shape [..]"
//   - maps become map[string]any, slices and arrays become []any
//   - anything else is formatted with fmt.Sprint
//
// Formatting failures never propagate: the offending element becomes "" and
// an error is logged, while its siblings are kept. Nesting deeper than
// maxDepth, such as a map that contains itself, counts as a failure.
func Normalize(log logr.Logger, data any) any {
	n := normalizer{log: log}
	return n.element(data, 0)
}

const maxDepth = 1000

var errTooDeep = errors.New("maximum nesting depth exceeded")

type normalizer struct {
	log logr.Logger
}

// element normalizes one value and isolates its failures.
func (n normalizer) element(data any, depth int) (out any) {
	defer func() {
		if r := recover(); r != nil {
			n.log.Error(fmt.Errorf("panic: %v", r), "unexpected error while formatting data to be JSON serializable, returning empty string instead")
			out = ""
		}
	}()
	out, err := n.normalize(data, depth)
	if err != nil {
		n.log.Error(err, "unexpected error while formatting data to be JSON serializable, returning empty string instead")
		return ""
	}
	return out
}

func (n normalizer) normalize(data any, depth int) (any, error) {
	if depth > maxDepth {
		return nil, errTooDeep
	}
	if data == nil {
		return "None", nil
	}
	switch v := data.(type) {
	case string, bool,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64:
		return v, nil
	case float32:
		return finiteFloat(float64(v)), nil
	case float64:
		return finiteFloat(v), nil
	case Tensor:
		return n.normalizeTensor(v, depth)
	}

	rv := reflect.ValueOf(data)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return "None", nil
		}
		return n.normalize(rv.Elem().Interface(), depth+1)
	case reflect.Map:
		if rv.IsNil() {
			return "None", nil
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			k := n.element(iter.Key().Interface(), depth+1)
			out[mapKey(k)] = n.element(iter.Value().Interface(), depth+1)
		}
		return out, nil
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return []any{}, nil
		}
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = n.element(rv.Index(i).Interface(), depth+1)
		}
		return out, nil
	}
	return fmt.Sprint(data), nil
}

func (n normalizer) normalizeTensor(t Tensor, depth int) (any, error) {
	shape := t.Shape()
	if numElements(shape) == 1 {
		item, err := t.Item()
		if err != nil {
			return nil, err
		}
		return n.normalize(item, depth+1)
	}
	return "Tensor of shape " + formatShape(shape), nil
}

func numElements(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

func formatShape(shape []int) string {
	parts := make([]string, len(shape))
	for i, d := range shape {
		parts[i] = strconv.Itoa(d)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func finiteFloat(f float64) any {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	}
	return f
}

func mapKey(k any) string {
	if s, ok := k.(string); ok {
		return s
	}
	return fmt.Sprint(k)
}
