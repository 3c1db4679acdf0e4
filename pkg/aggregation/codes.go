package aggregation

import (
	"github.com/guregu/null/v6"

	"github.com/airbreizh/didon/pkg/measure"
)

// DeriveCodes returns 1 for every point carrying a value and 0 otherwise.
func DeriveCodes(points []measure.Sample) []null.Int {
	codes := make([]null.Int, len(points))
	for i, p := range points {
		if p.Value.Valid {
			codes[i] = null.IntFrom(1)
		} else {
			codes[i] = null.IntFrom(0)
		}
	}
	return codes
}

// AlignCodes left-joins mapped source codes onto the value timestamps. A value
// without a matching code, or with a code other than "0"/"1", gets no code.
func AlignCodes(values []measure.Sample, codes []measure.CodeSample) []null.Int {
	byTime := make(map[int64]string, len(codes))
	for _, c := range codes {
		byTime[c.At.UnixNano()] = c.Code
	}

	out := make([]null.Int, len(values))
	for i, v := range values {
		if code, ok := byTime[v.At.UnixNano()]; ok {
			out[i] = ParseCode(code)
		}
	}
	return out
}
