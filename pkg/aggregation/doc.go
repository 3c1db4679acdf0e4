/*
Package aggregation turns raw measurement series into the rows stored in the
per-granularity measurement tables.

# Two Paths

Hourly and daily runs are a pass-through of what the source returned. Values are
sanitized, source validity codes are mapped onto 0/1, and both are joined on the
reading timestamp:

	raw values ──> Sanitizer.Values ──┐
	                                  ├──> Assemble ──> []measure.Record
	raw codes  ──> Sanitizer.Codes ───┘   (AlignCodes)

Monthly and annual runs recompute everything from hourly data:

	raw values ──> Sanitizer.Values ──> Resample ──> Suppress ──> DeriveCodes ──> Assemble
	                                └─> Tally ─────────┘

# Representativeness

For every output period the engine counts the readings the source returned
(Total) and the readings carrying a value (Present). The ratio

	round(Present / Total × 100, 0)

is compared with the granularity threshold. A period whose ratio is below the
threshold, or whose Total is zero, is published as missing with code 0.

Example, one day of hourly O3 with a 75% threshold:

	20 of 24 hours present  → 83%  → mean of the 20 values, code 1
	15 of 24 hours present  → 63%  → missing, code 0

# Codes

Pass-through rows keep the mapped source code even when the value is missing.
Resampled rows carry 1 when the value survived suppression, 0 otherwise. A row
whose code could not be mapped has no code at all and is dropped before
persistence.

# Rounding

Means and ratios round half away from zero using shopspring/decimal, so 74.5
becomes 75 and -0.05 at one decimal becomes -0.1.
*/
package aggregation
