package aggregation

import (
	"time"

	"github.com/guregu/null/v6"
	"github.com/shopspring/decimal"

	"github.com/airbreizh/didon/pkg/measure"
)

// bucket accumulates the readings of one output period
type bucket struct {
	start   time.Time
	sum     decimal.Decimal
	present int
	total   int
}

// bucketize groups samples into calendar periods, from the period of the
// earliest sample to the period of the latest. Empty periods in between are kept.
func bucketize(samples []measure.Sample, period measure.Period, loc *time.Location) []*bucket {
	if len(samples) == 0 {
		return nil
	}

	first, last := samples[0].At, samples[0].At
	for _, s := range samples[1:] {
		if s.At.Before(first) {
			first = s.At
		}
		if s.At.After(last) {
			last = s.At
		}
	}

	var buckets []*bucket
	index := make(map[int64]*bucket)
	end := period.Floor(last, loc)
	for start := period.Floor(first, loc); !start.After(end); start = period.Next(start) {
		b := &bucket{start: start}
		buckets = append(buckets, b)
		index[start.Unix()] = b
	}

	for _, s := range samples {
		b, ok := index[period.Floor(s.At, loc).Unix()]
		if !ok {
			continue
		}
		b.total++
		if s.Value.Valid {
			b.present++
			b.sum = b.sum.Add(decimal.NewFromFloat(s.Value.Float64))
		}
	}

	return buckets
}

// Resample computes the mean of the non-missing samples of every period,
// rounded half away from zero to precision decimals. A period without any
// value is missing. Returned samples are keyed to the period start.
func Resample(samples []measure.Sample, period measure.Period, precision int, loc *time.Location) []measure.Sample {
	buckets := bucketize(samples, period, loc)
	if len(buckets) == 0 {
		return nil
	}

	out := make([]measure.Sample, len(buckets))
	for i, b := range buckets {
		out[i] = measure.Sample{At: b.start, Value: b.mean(precision)}
	}
	return out
}

func (b *bucket) mean(precision int) null.Float {
	if b.present == 0 {
		return null.Float{}
	}
	avg := b.sum.Div(decimal.NewFromInt(int64(b.present)))
	return null.FloatFrom(round(avg, precision))
}

// round rounds half away from zero
func round(d decimal.Decimal, precision int) float64 {
	return d.Round(int32(precision)).InexactFloat64()
}
