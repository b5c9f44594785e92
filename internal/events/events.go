package events

import (
	"context"
	"time"

	"github.com/yoockh/casescribe/internal/models"
)

// JobEvent is published on every analysis job status change.
type JobEvent struct {
	Type       string           `json:"type"` // job_status
	JobID      string           `json:"job_id"`
	Status     models.JobStatus `json:"status"`
	Record     string           `json:"record_status,omitempty"`
	Error      string           `json:"error,omitempty"`
	OccurredAt time.Time        `json:"occurred_at"`
}

func NewJobEvent(job *models.AnalysisJob) JobEvent {
	ev := JobEvent{
		Type:       "job_status",
		JobID:      job.JobID,
		Status:     job.Status,
		Error:      job.Error,
		OccurredAt: time.Now().UTC(),
	}
	if job.Result != nil && job.Result.Record != nil {
		ev.Record = string(job.Result.Record.Status)
	}
	return ev
}

// Subject is "<prefix>.<status>", e.g. cases.jobs.completed.
func Subject(prefix string, status models.JobStatus) string {
	return prefix + "." + string(status)
}

type Publisher interface {
	Publish(ctx context.Context, ev JobEvent) error
	Close()
}

type Noop struct{}

func (Noop) Publish(context.Context, JobEvent) error { return nil }
func (Noop) Close()                                  {}
