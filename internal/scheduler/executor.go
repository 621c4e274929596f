package scheduler

import (
	"context"
	"errors"
	"time"

	"expander/internal/imagegen"
)

// Executor issues the single external call for one job and classifies the
// outcome. Implementations must respect the context for both the per-call
// timeout and run-wide cancellation.
type Executor interface {
	Execute(ctx context.Context, job Job) Result
}

// ClientExecutor drives the imagegen collaborator with a fixed per-call
// timeout and a fixed max-images parameter.
type ClientExecutor struct {
	client    *imagegen.Client
	timeout   time.Duration
	maxImages int
}

func NewClientExecutor(client *imagegen.Client, timeout time.Duration, maxImages int) *ClientExecutor {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	if maxImages <= 0 {
		maxImages = 3
	}
	return &ClientExecutor{client: client, timeout: timeout, maxImages: maxImages}
}

func (e *ClientExecutor) Execute(ctx context.Context, job Job) Result {
	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	images, err := e.client.Expand(callCtx, imagegen.ExpandRequest{
		ProductID:         job.ProductID,
		SourceImageURL:    job.SourceImageURL,
		Mode:              string(job.Mode),
		CurrentImageCount: job.CurrentImageCount,
		MaxImages:         e.maxImages,
	})
	if err != nil {
		return Result{Failure: classify(ctx, err)}
	}
	return Result{Images: images}
}

// classify maps an Expand error onto the failure taxonomy. The parent context
// is consulted first so an externally aborted call reads as cancelled rather
// than timed out.
func classify(parent context.Context, err error) *Failure {
	switch {
	case parent.Err() != nil:
		return &Failure{Kind: FailureCancelled, Message: reasonStopped}
	case errors.Is(err, context.DeadlineExceeded):
		return &Failure{Kind: FailureTimeout, Message: reasonTimeout}
	case errors.Is(err, imagegen.ErrRateLimited):
		return &Failure{Kind: FailureRateLimited, Message: reasonRateLimited}
	case errors.Is(err, imagegen.ErrCreditsExhausted):
		return &Failure{Kind: FailureCreditsExhausted, Message: reasonCreditsExhausted}
	case errors.Is(err, imagegen.ErrNoImages):
		return &Failure{Kind: FailureServiceError, Message: "No images generated"}
	default:
		return &Failure{Kind: FailureServiceError, Message: err.Error()}
	}
}
