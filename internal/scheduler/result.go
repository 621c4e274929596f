package scheduler

import "expander/internal/imagegen"

// FailureKind classifies a terminal executor failure.
type FailureKind string

const (
	FailureServiceError     FailureKind = "service_error"
	FailureTimeout          FailureKind = "timeout"
	FailureRateLimited      FailureKind = "rate_limited"
	FailureCreditsExhausted FailureKind = "credits_exhausted"
	FailureCancelled        FailureKind = "cancelled"
)

// Canonical user-facing reasons. ServiceError failures carry the service's
// own message instead.
const (
	reasonRateLimited      = "Rate limited by image service"
	reasonCreditsExhausted = "AI credits exhausted"
	reasonStopped          = "Stopped by user"
	reasonTimeout          = "Request timed out"
)

type Failure struct {
	Kind    FailureKind
	Message string
}

// Transient reports whether the failure is plausibly transient and worth one
// retry.
func (f Failure) Transient() bool {
	return f.Kind == FailureTimeout || f.Kind == FailureServiceError
}

// QuotaClass reports whether the failure must trip the circuit breaker.
func (f Failure) QuotaClass() bool {
	return f.Kind == FailureRateLimited || f.Kind == FailureCreditsExhausted
}

// Result is the terminal outcome of executing one job: either a non-empty
// image list or a classified failure.
type Result struct {
	Images  []imagegen.GeneratedImage
	Failure *Failure
}

func (r Result) Success() bool { return r.Failure == nil }

func failed(kind FailureKind, message string) Result {
	return Result{Failure: &Failure{Kind: kind, Message: message}}
}
