package probe

import (
	"fmt"
	"time"

	"go.uber.org/multierr"
)

// Kind is the outcome type of a hit or a whole probe.
type Kind int

const (
	Success Kind = iota
	Failure
	Timeout
	// Inconsistent only describes whole probes: no run of same-kind hits
	// reached the threshold within the hit budget.
	Inconsistent
)

func (k Kind) String() string {
	switch k {
	case Success:
		return "success"
	case Failure:
		return "failure"
	case Timeout:
		return "timeout"
	case Inconsistent:
		return "inconsistent"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Hit is the outcome of one request.
type Hit struct {
	Kind    Kind
	Latency time.Duration
	Err     error
}

// Result is the verdict of a probe. AverageLatency is set for Success and
// Errors for Failure, both computed over the consistent run only.
type Result struct {
	Kind           Kind
	AverageLatency time.Duration
	Errors         []error
	// Hits is how many requests the probe issued.
	Hits int
}

// Err combines the errors of a Failure result.
func (r Result) Err() error {
	return multierr.Combine(r.Errors...)
}

func (r Result) String() string {
	switch r.Kind {
	case Success:
		return fmt.Sprintf("success (%v avg over %d hits)", r.AverageLatency.Round(time.Millisecond), r.Hits)
	case Failure:
		return fmt.Sprintf("failure after %d hits: %v", r.Hits, baseError(r.Err()))
	default:
		return fmt.Sprintf("%s after %d hits", r.Kind, r.Hits)
	}
}

// finalize turns a consistent run into a result.
func finalize(run []Hit, hits int) Result {
	result := Result{Kind: run[0].Kind, Hits: hits}
	switch result.Kind {
	case Success:
		var total time.Duration
		for _, h := range run {
			total += h.Latency
		}
		result.AverageLatency = total / time.Duration(len(run))
	case Failure:
		for _, h := range run {
			result.Errors = append(result.Errors, h.Err)
		}
	}
	return result
}
