package domain

import "time"

// Outcome is the terminal state of one URL in a batch.
type Outcome int

const (
	OutcomeStored Outcome = iota
	OutcomeSkipped
	OutcomeUnsupported
	OutcomeDuplicate
	OutcomeFetchFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeStored:
		return "stored"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeUnsupported:
		return "unsupported"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeFetchFailed:
		return "fetch_failed"
	default:
		return "unknown"
	}
}

// Failed reports whether the outcome marks the batch as failed.
func (o Outcome) Failed() bool {
	return o == OutcomeUnsupported || o == OutcomeDuplicate || o == OutcomeFetchFailed
}

// SyncStats holds statistics about a batch run.
type SyncStats struct {
	Total         int
	Created       int
	Updated       int
	Skipped       int
	Unsupported   int
	Duplicates    int
	FetchFailed   int
	Published     int
	PublishErrors int
	Duration      time.Duration

	failed bool
}

// Record folds one URL outcome into the stats. Once a failing outcome has
// been recorded the batch stays failed.
func (s *SyncStats) Record(o Outcome) {
	switch o {
	case OutcomeSkipped:
		s.Skipped++
	case OutcomeUnsupported:
		s.Unsupported++
	case OutcomeDuplicate:
		s.Duplicates++
	case OutcomeFetchFailed:
		s.FetchFailed++
	}
	s.failed = s.failed || o.Failed()
}

// Failed reports whether any URL in the batch failed.
func (s *SyncStats) Failed() bool {
	return s.failed
}

// ExitCode is the process exit status for the batch.
func (s *SyncStats) ExitCode() int {
	if s.failed {
		return 1
	}
	return 0
}
