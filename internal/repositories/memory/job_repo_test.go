package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/yoockh/casescribe/internal/models"
	"github.com/yoockh/casescribe/internal/utils"
)

func TestJobRepoLifecycle(t *testing.T) {
	ctx := context.Background()
	r := NewJobRepo()

	job := &models.AnalysisJob{JobID: "j1", Status: models.JobPending, Format: "wav"}
	if err := r.Create(ctx, job); err != nil {
		t.Fatal(err)
	}
	if err := r.Create(ctx, job); !utils.IsCode(err, utils.CodeConflict) {
		t.Errorf("Expected conflict on duplicate create, got %v", err)
	}

	if err := r.SetStatus(ctx, "j1", models.JobProcessing); err != nil {
		t.Fatal(err)
	}
	res := &models.AnalysisResult{Transcript: "hello"}
	if err := r.Finish(ctx, "j1", models.JobCompleted, res, "", 42); err != nil {
		t.Fatal(err)
	}

	got, err := r.Get(ctx, "j1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.JobCompleted || got.ProcessingTimeMS != 42 || got.Result.Transcript != "hello" {
		t.Errorf("Unexpected job %+v", got)
	}

	if err := r.SetStatus(ctx, "missing", models.JobFailed); !errors.Is(err, utils.ErrNotFound) {
		t.Errorf("Expected not found, got %v", err)
	}
}

func TestJobRepoExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r := NewJobRepo()
	r.now = func() time.Time { return now }

	_ = r.Create(ctx, &models.AnalysisJob{JobID: "j1", ExpiresAt: now.Add(time.Hour)})
	if _, err := r.Get(ctx, "j1"); err != nil {
		t.Fatalf("Expected live job, got %v", err)
	}

	now = now.Add(2 * time.Hour)
	if _, err := r.Get(ctx, "j1"); !errors.Is(err, utils.ErrNotFound) {
		t.Errorf("Expected expired job to be gone, got %v", err)
	}
}

func TestJobRepoListRecent(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r := NewJobRepo()

	for i, st := range []models.JobStatus{models.JobCompleted, models.JobFailed, models.JobCompleted} {
		_ = r.Create(ctx, &models.AnalysisJob{
			JobID:     string(rune('a' + i)),
			Status:    st,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
	}

	all, _ := r.ListRecent(ctx, "", 0)
	if len(all) != 3 || all[0].JobID != "c" {
		t.Errorf("Expected newest first, got %+v", all)
	}
	done, _ := r.ListRecent(ctx, models.JobCompleted, 1)
	if len(done) != 1 || done[0].JobID != "c" {
		t.Errorf("Expected limit and filter applied, got %+v", done)
	}
}
