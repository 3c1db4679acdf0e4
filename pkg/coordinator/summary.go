package coordinator

import (
	"fmt"
	"strings"
	"time"

	"github.com/airbreizh/didon/pkg/measure"
)

// Outcome of one identifier
type Outcome string

const (
	// Processed identifiers were aggregated, and replaced unless in dry run
	Processed Outcome = "processed"

	// NotProcessed identifiers had no data for the window
	NotProcessed Outcome = "not_processed"

	// Failed identifiers hit an error. They appear in neither tally.
	Failed Outcome = "failed"

	// Skipped identifiers were never started because the run was cancelled
	Skipped Outcome = "skipped"
)

// Result describes what happened to one identifier
type Result struct {
	Identifier string  `json:"identifier"`
	Outcome    Outcome `json:"outcome"`
	Stage      Stage   `json:"stage,omitempty"`
	Error      string  `json:"error,omitempty"`

	// Rows already stored at the computed timestamps
	Existing int `json:"existing"`
	Deleted  int `json:"deleted"`
	Inserted int `json:"inserted"`

	// Records dropped because their code was missing
	Dropped int `json:"dropped"`
}

// Summary is the outcome of one run
type Summary struct {
	RunID       string              `json:"run_id"`
	Granularity measure.Granularity `json:"granularity"`
	Table       string              `json:"table"`
	Window      measure.Window      `json:"window"`
	DryRun      bool                `json:"dry_run"`
	Started     time.Time           `json:"started"`
	Elapsed     time.Duration       `json:"elapsed"`

	Total        int      `json:"total"`
	Processed    []string `json:"processed"`
	NotProcessed []string `json:"not_processed"`
	Failed       []string `json:"failed"`

	Results []Result `json:"results"`
}

// tally fills the identifier lists from Results, in Results order
func (s *Summary) tally() {
	s.Processed, s.NotProcessed, s.Failed = []string{}, []string{}, []string{}
	for _, r := range s.Results {
		switch r.Outcome {
		case Processed:
			s.Processed = append(s.Processed, r.Identifier)
		case NotProcessed:
			s.NotProcessed = append(s.NotProcessed, r.Identifier)
		case Failed:
			s.Failed = append(s.Failed, r.Identifier)
		}
	}
}

// Report renders the end of run report written to the log
func (s *Summary) Report() string {
	var b strings.Builder

	fmt.Fprintf(&b, "Run %s started %s\n", s.RunID, s.Started.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "Granularity %q (table %s)\n", string(s.Granularity), s.Table)
	fmt.Fprintf(&b, "Start date: %s\n", s.Window.Start)
	fmt.Fprintf(&b, "End date: %s\n", s.Window.End)
	fmt.Fprintf(&b, "Elapsed: %d seconds\n", int64(s.Elapsed.Round(time.Second)/time.Second))
	if s.DryRun {
		b.WriteString("Dry run: nothing was written\n")
	}
	fmt.Fprintf(&b, "%d identifiers processed out of %d\n", len(s.Processed), s.Total)
	fmt.Fprintf(&b, "Processed: [%s]\n", strings.Join(s.Processed, ", "))
	if len(s.NotProcessed) > 0 {
		fmt.Fprintf(&b, "Not processed: [%s]\n", strings.Join(s.NotProcessed, ", "))
	}
	if len(s.Failed) > 0 {
		fmt.Fprintf(&b, "Failed: [%s]\n", strings.Join(s.Failed, ", "))
	}
	return b.String()
}
