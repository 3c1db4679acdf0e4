package measure

import (
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/guregu/null/v6"
)

// Sample represents a single raw reading returned by the measurement source.
// An invalid Value is the "missing" marker.
type Sample struct {
	At    time.Time  `json:"date"`
	Value null.Float `json:"valeur"`
}

// CodeSample is a source-reported validity symbol for one reading.
type CodeSample struct {
	At   time.Time `json:"date"`
	Code string    `json:"etat"`
}

// Fetch is the result of one source request for one identifier.
// Codes is nil when the request was made for a coarse granularity.
type Fetch struct {
	Values []Sample
	Codes  []CodeSample
}

// Empty reports whether the source returned no readings at all.
func (f *Fetch) Empty() bool {
	return f == nil || len(f.Values) == 0
}

// Record is the unit persisted downstream, one row of a granularity table.
type Record struct {
	Identifier string     `json:"nom_mes_court"`
	Timestamp  time.Time  `json:"date_mesure"`
	Value      null.Float `json:"valeur_mesure"`
	Code       null.Int   `json:"code_validation"`
}

// Window is the inclusive date range processed by one run.
type Window struct {
	Start civil.Date `json:"start"`
	End   civil.Date `json:"end"`
}

// Bounds converts the window to instants in loc: the start of Start and the last
// nanosecond of End.
func (w Window) Bounds(loc *time.Location) (time.Time, time.Time) {
	start := w.Start.In(loc)
	end := w.End.AddDays(1).In(loc).Add(-time.Nanosecond)
	return start, end
}

// Contains reports whether t falls inside the window in loc.
func (w Window) Contains(t time.Time, loc *time.Location) bool {
	start, end := w.Bounds(loc)
	return !t.Before(start) && !t.After(end)
}

func (w Window) String() string {
	return fmt.Sprintf("[%s, %s]", w.Start, w.End)
}

// Params is the per-granularity parameter triple supplied by configuration.
type Params struct {
	Period    Period `mapstructure:"period" json:"period"`
	Threshold int    `mapstructure:"threshold" json:"threshold"`
	Precision int    `mapstructure:"precision" json:"precision"`
}
