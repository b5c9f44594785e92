package models

import "time"

type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

func (s JobStatus) Done() bool { return s == JobCompleted || s == JobFailed }

type AnalysisJob struct {
	JobID    string    `bson:"_id" json:"job_id"` // uuid v4
	Status   JobStatus `bson:"status" json:"status"`
	FileName string    `bson:"file_name,omitempty" json:"file_name,omitempty"`
	Format   string    `bson:"format" json:"format"`                         // wav|pcm
	Provider string    `bson:"provider,omitempty" json:"provider,omitempty"` // preferred generation provider
	Language Language  `bson:"language,omitempty" json:"language,omitempty"`

	Result *AnalysisResult `bson:"result,omitempty" json:"result,omitempty"`
	Error  string          `bson:"error,omitempty" json:"error,omitempty"`

	ProcessingTimeMS int64     `bson:"processing_time_ms,omitempty" json:"processing_time_ms,omitempty"`
	CreatedAt        time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt        time.Time `bson:"updated_at" json:"updated_at"`

	ExpiresAt time.Time `bson:"expires_at" json:"-"` // for TTL index
}

type AnalysisResult struct {
	Transcript string          `bson:"transcript" json:"transcript"`
	Record     *ClinicalRecord `bson:"record,omitempty" json:"record,omitempty"`
	Evidence   *Evidence       `bson:"evidence,omitempty" json:"evidence,omitempty"`
	Provider   string          `bson:"provider,omitempty" json:"provider,omitempty"` // transcription vendor
}

type Evidence struct {
	Expression string        `bson:"expression" json:"expression"`
	Items      []EvidenceRef `bson:"items,omitempty" json:"items,omitempty"`
	NullReport *NullReport   `bson:"null_report,omitempty" json:"null_report,omitempty"`
}

type EvidenceRef struct {
	ID       string `bson:"id" json:"id"`
	Title    string `bson:"title" json:"title"`
	Citation string `bson:"citation" json:"citation"`
	Year     int    `bson:"year" json:"year"`
	URL      string `bson:"url" json:"url"`
}

type NullReport struct {
	Methodology string `bson:"methodology" json:"methodology"`
	Rationale   string `bson:"rationale" json:"rationale"`
}
