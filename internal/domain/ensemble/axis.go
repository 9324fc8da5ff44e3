package ensemble

import (
	"math"
	"strconv"
	"time"

	"github.com/turtacn/ertviz/pkg/errors"
)

// AxisKind tells how the tokens of an axis payload were interpreted.
type AxisKind int

const (
	AxisInt AxisKind = iota
	AxisFloat
	AxisTime
	AxisLabel
)

func (k AxisKind) String() string {
	switch k {
	case AxisInt:
		return "int"
	case AxisFloat:
		return "float"
	case AxisTime:
		return "time"
	default:
		return "label"
	}
}

var timeLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// Axis is the shared x-axis of a response.  Labels always holds the raw
// tokens; Numbers is set for int and float axes, Times for date axes.
type Axis struct {
	Kind    AxisKind
	Labels  []string
	Numbers []float64
	Times   []time.Time
}

// ParseAxis interprets axis tokens as integers, then floats, then dates.
// Tokens matching none of these yield a label axis.
func ParseAxis(tokens []string) Axis {
	a := Axis{Kind: AxisLabel, Labels: tokens}
	if len(tokens) == 0 {
		a.Kind = AxisInt
		a.Numbers = []float64{}
		return a
	}

	if nums, ok := parseNumbers(tokens); ok {
		a.Numbers = nums
		a.Kind = AxisFloat
		if allIntegral(nums) {
			a.Kind = AxisInt
		}
		return a
	}
	if times, ok := parseTimes(tokens); ok {
		a.Kind = AxisTime
		a.Times = times
	}
	return a
}

func parseNumbers(tokens []string) ([]float64, bool) {
	out := make([]float64, len(tokens))
	for i, t := range tokens {
		v, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return nil, false
		}
		out[i] = v
	}
	return out, true
}

func allIntegral(nums []float64) bool {
	for _, v := range nums {
		if v != math.Trunc(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func parseTimes(tokens []string) ([]time.Time, bool) {
	out := make([]time.Time, len(tokens))
	for i, t := range tokens {
		parsed, ok := parseTime(t)
		if !ok {
			return nil, false
		}
		out[i] = parsed
	}
	return out, true
}

func parseTime(s string) (time.Time, bool) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Len returns the number of axis positions.
func (a Axis) Len() int { return len(a.Labels) }

// Values returns the axis as figure-ready JSON values: integers, floats or
// the original tokens for date and label axes.
func (a Axis) Values() []interface{} {
	out := make([]interface{}, a.Len())
	for i := range a.Labels {
		switch a.Kind {
		case AxisInt:
			out[i] = int64(a.Numbers[i])
		case AxisFloat:
			out[i] = a.Numbers[i]
		default:
			out[i] = a.Labels[i]
		}
	}
	return out
}

// Positions returns a numeric coordinate per axis point.  Date axes map to
// Unix seconds and label axes to their index.
func (a Axis) Positions() []float64 {
	out := make([]float64, a.Len())
	for i := range out {
		switch a.Kind {
		case AxisInt, AxisFloat:
			out[i] = a.Numbers[i]
		case AxisTime:
			out[i] = float64(a.Times[i].Unix())
		default:
			out[i] = float64(i)
		}
	}
	return out
}

// Select returns the sub-axis at the given positions, in the given order.
func (a Axis) Select(idx []int) (Axis, error) {
	out := Axis{Kind: a.Kind, Labels: make([]string, len(idx))}
	if a.Numbers != nil {
		out.Numbers = make([]float64, len(idx))
	}
	if a.Times != nil {
		out.Times = make([]time.Time, len(idx))
	}
	for j, i := range idx {
		if i < 0 || i >= a.Len() {
			return Axis{}, errors.Newf(errors.CodeDataInconsistent,
				"axis index %d out of range [0,%d)", i, a.Len())
		}
		out.Labels[j] = a.Labels[i]
		if out.Numbers != nil {
			out.Numbers[j] = a.Numbers[i]
		}
		if out.Times != nil {
			out.Times[j] = a.Times[i]
		}
	}
	return out, nil
}
