package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/yoockh/casescribe/internal/models"
	mongorepo "github.com/yoockh/casescribe/internal/repositories/mongo"
	"github.com/yoockh/casescribe/internal/utils"
)

// JobRepo keeps jobs in process memory and honours ExpiresAt lazily. Used
// when no MongoDB is configured and in tests.
type JobRepo struct {
	mu   sync.RWMutex
	jobs map[string]models.AnalysisJob
	now  func() time.Time
}

var _ mongorepo.JobRepository = (*JobRepo)(nil)

func NewJobRepo() *JobRepo {
	return &JobRepo{jobs: map[string]models.AnalysisJob{}, now: time.Now}
}

func (r *JobRepo) Create(_ context.Context, job *models.AnalysisJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.jobs[job.JobID]; ok {
		return utils.E(utils.CodeConflict, "JobRepository.Create", "job already exists", nil)
	}
	now := r.now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	r.jobs[job.JobID] = *job
	return nil
}

func (r *JobRepo) Get(_ context.Context, jobID string) (*models.AnalysisJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[jobID]
	if !ok {
		return nil, utils.ErrNotFound
	}
	if !job.ExpiresAt.IsZero() && r.now().After(job.ExpiresAt) {
		delete(r.jobs, jobID)
		return nil, utils.ErrNotFound
	}
	return &job, nil
}

func (r *JobRepo) SetStatus(_ context.Context, jobID string, status models.JobStatus) error {
	return r.update(jobID, func(j *models.AnalysisJob) { j.Status = status })
}

func (r *JobRepo) Finish(_ context.Context, jobID string, status models.JobStatus, result *models.AnalysisResult, errMsg string, processingMS int64) error {
	return r.update(jobID, func(j *models.AnalysisJob) {
		j.Status = status
		j.ProcessingTimeMS = processingMS
		if result != nil {
			j.Result = result
		}
		if errMsg != "" {
			j.Error = errMsg
		}
	})
}

func (r *JobRepo) update(jobID string, fn func(*models.AnalysisJob)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[jobID]
	if !ok {
		return utils.ErrNotFound
	}
	fn(&job)
	job.UpdatedAt = r.now().UTC()
	r.jobs[jobID] = job
	return nil
}

func (r *JobRepo) ListRecent(_ context.Context, status models.JobStatus, limit int64) ([]models.AnalysisJob, error) {
	if limit <= 0 {
		limit = 50
	}
	r.mu.RLock()
	out := make([]models.AnalysisJob, 0, len(r.jobs))
	for _, j := range r.jobs {
		if status == "" || j.Status == status {
			out = append(out, j)
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.After(out[k].CreatedAt) })
	if int64(len(out)) > limit {
		out = out[:limit]
	}
	return out, nil
}
