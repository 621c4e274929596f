package scheduler

import "expander/internal/domain"

// Status enumerates the lifecycle of one item within a batch. Items never
// leave done or failed.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusDone       Status = "done"
	StatusFailed     Status = "failed"
)

// Job is the immutable description of one product's expansion request.
type Job struct {
	ProductID         string
	SourceImageURL    string
	Mode              domain.ExpansionMode
	CurrentImageCount int
}

// ItemState tracks one job's progress through a run, keyed by product id.
type ItemState struct {
	ProductID      string `json:"product_id"`
	Status         Status `json:"status"`
	Error          string `json:"error,omitempty"`
	GeneratedCount int    `json:"generated_count"`
}

// BatchState is the aggregate, observable state of a run. Items keep
// submission order; completion order is whatever finishes first.
type BatchState struct {
	Running   bool        `json:"running"`
	Cancelled bool        `json:"cancelled"`
	Completed int         `json:"completed"`
	Total     int         `json:"total"`
	Items     []ItemState `json:"items"`
}

// Finished reports whether the run has settled, either normally or through
// cancellation.
func (s BatchState) Finished() bool {
	return !s.Running && s.Completed == s.Total && s.Total > 0
}
