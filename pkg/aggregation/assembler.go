package aggregation

import (
	"github.com/guregu/null/v6"
	"github.com/pkg/errors"

	"github.com/airbreizh/didon/pkg/measure"
)

// ErrNoData is returned when an identifier produced no rows at all
var ErrNoData = errors.New("no data")

// Assemble joins values and their index-aligned codes into records for identifier.
func Assemble(identifier string, values []measure.Sample, codes []null.Int) ([]measure.Record, error) {
	if len(values) == 0 || len(codes) == 0 {
		return nil, ErrNoData
	}
	if len(values) != len(codes) {
		return nil, errors.Errorf("assemble %s: %d values for %d codes", identifier, len(values), len(codes))
	}

	records := make([]measure.Record, len(values))
	for i, v := range values {
		records[i] = measure.Record{
			Identifier: identifier,
			Timestamp:  v.At,
			Value:      v.Value,
			Code:       codes[i],
		}
	}
	return records, nil
}
