package aggregation

import (
	"math"

	"github.com/guregu/null/v6"

	"github.com/airbreizh/didon/pkg/measure"
)

// Sanitizer replaces sentinel values and maps source validity codes
type Sanitizer struct {
	values map[float64]null.Float
	codes  map[string]string
}

// NewSanitizer creates a sanitizer. values maps a sentinel reading to its
// replacement (usually null.Float{}), codes maps a source symbol to "0" or "1".
func NewSanitizer(values map[float64]null.Float, codes map[string]string) *Sanitizer {
	s := &Sanitizer{
		values: make(map[float64]null.Float, len(values)),
		codes:  make(map[string]string, len(codes)),
	}
	for k, v := range values {
		s.values[k] = v
	}
	for k, v := range codes {
		s.codes[k] = v
	}
	return s
}

// Values returns a copy of in with every sentinel replaced. NaN readings are
// treated as missing.
func (s *Sanitizer) Values(in []measure.Sample) []measure.Sample {
	if len(in) == 0 {
		return nil
	}

	out := make([]measure.Sample, len(in))
	for i, sample := range in {
		out[i] = sample
		if !sample.Value.Valid {
			continue
		}
		if math.IsNaN(sample.Value.Float64) {
			out[i].Value = null.Float{}
			continue
		}
		if replacement, ok := s.values[sample.Value.Float64]; ok {
			out[i].Value = replacement
		}
	}
	return out
}

// Codes returns a copy of in with every mapped source code replaced.
// Unmapped codes pass through unchanged.
func (s *Sanitizer) Codes(in []measure.CodeSample) []measure.CodeSample {
	if len(in) == 0 {
		return nil
	}

	out := make([]measure.CodeSample, len(in))
	for i, c := range in {
		out[i] = c
		if mapped, ok := s.codes[c.Code]; ok {
			out[i].Code = mapped
		}
	}
	return out
}

// ParseCode converts a mapped code to its binary value. Anything other than
// "0" or "1" has no code.
func ParseCode(code string) null.Int {
	switch code {
	case "0":
		return null.IntFrom(0)
	case "1":
		return null.IntFrom(1)
	}
	return null.Int{}
}
