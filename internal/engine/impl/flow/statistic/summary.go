package statistic

import (
	"fmt"
	"math"

	"Go2NetFlow/internal/model"
)

// Summary holds descriptive statistics computed once from a finite sample.
// The optional fields are nil when the sample is empty.
type Summary struct {
	Count             uint64   `json:"count"`
	Sum               float64  `json:"sum"`
	Min               *float64 `json:"min,omitempty"`
	Max               *float64 `json:"max,omitempty"`
	Mean              *float64 `json:"mean,omitempty"`
	Variance          *float64 `json:"variance,omitempty"`
	StandardDeviation *float64 `json:"standard_deviation,omitempty"`
}

// NewSummary computes the statistics of data.
//
// Min and Max select the element of smallest and largest magnitude: extrema are compared
// on absolute value, and the selected element keeps its sign. On ties Min keeps the first
// candidate and Max the last. For non-negative samples this is the usual signed min/max.
// The variance is the population variance.
func NewSummary(data []float64) Summary {
	s := Summary{Count: uint64(len(data))}
	if len(data) == 0 {
		return s
	}

	minVal, maxVal := data[0], data[0]
	for i, v := range data {
		s.Sum += v
		if i == 0 {
			continue
		}
		if lessByMagnitude(v, minVal) {
			minVal = v
		}
		if !lessByMagnitude(v, maxVal) {
			maxVal = v
		}
	}

	n := float64(len(data))
	mean := s.Sum / n
	var squares float64
	for _, v := range data {
		diff := mean - v
		squares += diff * diff
	}
	variance := squares / n
	stddev := math.Sqrt(variance)

	s.Min, s.Max = &minVal, &maxVal
	s.Mean, s.Variance, s.StandardDeviation = &mean, &variance, &stddev
	return s
}

// lessByMagnitude orders by absolute value with NaN above every number.
func lessByMagnitude(a, b float64) bool {
	if math.IsNaN(a) {
		return false
	}
	if math.IsNaN(b) {
		return true
	}
	return math.Abs(a) < math.Abs(b)
}

// Equal compares two summaries value by value.
func (s Summary) Equal(other Summary) bool {
	return s.Count == other.Count &&
		s.Sum == other.Sum &&
		equalFloat(s.Min, other.Min) &&
		equalFloat(s.Max, other.Max) &&
		equalFloat(s.Mean, other.Mean) &&
		equalFloat(s.Variance, other.Variance) &&
		equalFloat(s.StandardDeviation, other.StandardDeviation)
}

func (s *Summary) UnmarshalJSON(data []byte) error {
	var wire struct {
		Count             *uint64  `json:"count"`
		Sum               *float64 `json:"sum"`
		Min               *float64 `json:"min"`
		Max               *float64 `json:"max"`
		Mean              *float64 `json:"mean"`
		Variance          *float64 `json:"variance"`
		StandardDeviation *float64 `json:"standard_deviation"`
	}
	if err := model.DecodeStrict(data, &wire); err != nil {
		return err
	}
	if wire.Count == nil || wire.Sum == nil {
		return errMissing("summary", "count", "sum")
	}
	for _, v := range []*float64{wire.Min, wire.Max, wire.Mean, wire.Variance, wire.StandardDeviation} {
		if (v != nil) != (*wire.Count > 0) {
			return fmt.Errorf("summary of %d values must carry min, max, mean, variance and standard_deviation exactly when non-empty", *wire.Count)
		}
	}
	if *wire.Count == 0 && *wire.Sum != 0 {
		return fmt.Errorf("empty summary has non-zero sum %v", *wire.Sum)
	}
	*s = Summary{
		Count:             *wire.Count,
		Sum:               *wire.Sum,
		Min:               wire.Min,
		Max:               wire.Max,
		Mean:              wire.Mean,
		Variance:          wire.Variance,
		StandardDeviation: wire.StandardDeviation,
	}
	return nil
}

func equalFloat(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b || (math.IsNaN(*a) && math.IsNaN(*b))
}
