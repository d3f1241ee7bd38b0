// Package common provides shared utilities across the application.
package common

import (
	"fmt"
	"time"
)

// StalenessResult contains the result of a staleness check.
type StalenessResult struct {
	// IsStale indicates whether a running job should be treated as abandoned.
	IsStale bool
	// Age is how long ago the job last wrote a heartbeat (updated_at).
	Age time.Duration
	// Reason provides a human-readable explanation for the decision.
	Reason string
}

// CheckJobStaleness decides whether a running job has been abandoned by a
// dead worker. Only running jobs can go stale; the check compares the job's
// last update against the threshold. Callers invoke this on resume requests,
// never from a background sweeper, so an abandoned job stays untouched until
// someone asks for it.
func CheckJobStaleness(status string, updatedAt, now time.Time, threshold time.Duration) StalenessResult {
	if status != "running" {
		return StalenessResult{
			IsStale: false,
			Reason:  fmt.Sprintf("job is %s, staleness applies to running jobs only", status),
		}
	}

	age := now.UTC().Sub(updatedAt.UTC())
	if age > threshold {
		return StalenessResult{
			IsStale: true,
			Age:     age,
			Reason: fmt.Sprintf("no heartbeat for %s (threshold %s), treating worker as dead",
				age.Round(time.Second), threshold),
		}
	}

	return StalenessResult{
		IsStale: false,
		Age:     age,
		Reason:  fmt.Sprintf("last heartbeat %s ago, within threshold %s", age.Round(time.Second), threshold),
	}
}
