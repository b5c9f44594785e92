package postgres

import (
	"context"

	"gorm.io/gorm"

	"github.com/yoockh/casescribe/internal/models"
)

type RecordRepo interface {
	Insert(ctx context.Context, rec *models.ArchivedRecord) error
	ListByStatus(ctx context.Context, status string, limit int) ([]models.ArchivedRecord, error)
	CountByStatus(ctx context.Context) (map[string]int64, error)
}

type recordRepo struct {
	db *gorm.DB
}

func NewRecordRepo(db *gorm.DB) RecordRepo {
	return &recordRepo{db: db}
}

// Migrate creates the archive table when it does not exist.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&models.ArchivedRecord{})
}

func (r *recordRepo) Insert(ctx context.Context, rec *models.ArchivedRecord) error {
	return r.db.WithContext(ctx).Create(rec).Error
}

func (r *recordRepo) ListByStatus(ctx context.Context, status string, limit int) ([]models.ArchivedRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	q := r.db.WithContext(ctx).Order("created_at DESC").Limit(limit)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var rows []models.ArchivedRecord
	err := q.Find(&rows).Error
	return rows, err
}

func (r *recordRepo) CountByStatus(ctx context.Context) (map[string]int64, error) {
	var rows []struct {
		Status string
		N      int64
	}
	err := r.db.WithContext(ctx).
		Model(&models.ArchivedRecord{}).
		Select("status, count(*) as n").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, row := range rows {
		out[row.Status] = row.N
	}
	return out, nil
}
