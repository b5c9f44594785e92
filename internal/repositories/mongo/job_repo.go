package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/yoockh/casescribe/internal/models"
	"github.com/yoockh/casescribe/internal/utils"
)

const JobsCollection = "analysis_jobs"

type JobRepository interface {
	Create(ctx context.Context, job *models.AnalysisJob) error
	Get(ctx context.Context, jobID string) (*models.AnalysisJob, error)
	SetStatus(ctx context.Context, jobID string, status models.JobStatus) error
	Finish(ctx context.Context, jobID string, status models.JobStatus, result *models.AnalysisResult, errMsg string, processingMS int64) error
	ListRecent(ctx context.Context, status models.JobStatus, limit int64) ([]models.AnalysisJob, error)
}

type jobRepo struct {
	col *mongo.Collection
}

func NewJobRepo(db *mongo.Database) JobRepository {
	return &jobRepo{col: db.Collection(JobsCollection)}
}

func (r *jobRepo) Create(ctx context.Context, job *models.AnalysisJob) error {
	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	_, err := r.col.InsertOne(ctx, job)
	if mongo.IsDuplicateKeyError(err) {
		return utils.E(utils.CodeConflict, "JobRepository.Create", "job already exists", err)
	}
	return err
}

func (r *jobRepo) Get(ctx context.Context, jobID string) (*models.AnalysisJob, error) {
	var job models.AnalysisJob
	err := r.col.FindOne(ctx, bson.M{"_id": jobID}).Decode(&job)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, utils.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *jobRepo) SetStatus(ctx context.Context, jobID string, status models.JobStatus) error {
	res, err := r.col.UpdateOne(ctx,
		bson.M{"_id": jobID},
		bson.M{"$set": bson.M{
			"status":     status,
			"updated_at": time.Now().UTC(),
		}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return utils.ErrNotFound
	}
	return nil
}

func (r *jobRepo) Finish(ctx context.Context, jobID string, status models.JobStatus, result *models.AnalysisResult, errMsg string, processingMS int64) error {
	set := bson.M{
		"status":             status,
		"processing_time_ms": processingMS,
		"updated_at":         time.Now().UTC(),
	}
	if result != nil {
		set["result"] = result
	}
	if errMsg != "" {
		set["error"] = errMsg
	}
	res, err := r.col.UpdateOne(ctx, bson.M{"_id": jobID}, bson.M{"$set": set})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return utils.ErrNotFound
	}
	return nil
}

func (r *jobRepo) ListRecent(ctx context.Context, status models.JobStatus, limit int64) ([]models.AnalysisJob, error) {
	if limit <= 0 {
		limit = 50
	}
	filter := bson.M{}
	if status != "" {
		filter["status"] = status
	}

	cur, err := r.col.Find(ctx, filter,
		options.Find().
			SetSort(bson.D{{Key: "created_at", Value: -1}}).
			SetLimit(limit).
			SetProjection(bson.M{"result.record.debug": 0}),
	)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []models.AnalysisJob
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}
