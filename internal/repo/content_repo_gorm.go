package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"studyhub-server/internal/domain"
)

type ContentRepo struct{ db *gorm.DB }

func NewContentRepo(db *gorm.DB) *ContentRepo { return &ContentRepo{db: db} }

// alive 所有常规查询的基底：软删行一律不可见
func (r *ContentRepo) alive(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).Where("deleted <> ?", true)
}

func (r *ContentRepo) Create(ctx context.Context, c *domain.Content) error {
	return r.db.WithContext(ctx).Create(c).Error
}

func (r *ContentRepo) FindByID(ctx context.Context, id string) (*domain.Content, error) {
	var c domain.Content
	err := r.alive(ctx).First(&c, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *ContentRepo) ListByUser(ctx context.Context, userID, subjectID, contentType string) ([]domain.Content, error) {
	q := r.alive(ctx).Where("user_id = ?", userID)
	if subjectID != "" {
		q = q.Where("subject_id = ?", subjectID)
	}
	if contentType != "" {
		q = q.Where("content_type = ?", contentType)
	}
	var out []domain.Content
	err := q.Order("created_at desc").Find(&out).Error
	return out, err
}

func (r *ContentRepo) ListShared(ctx context.Context) ([]domain.Content, error) {
	var out []domain.Content
	err := r.alive(ctx).Where("shared = ?", true).Order("created_at desc").Find(&out).Error
	return out, err
}

func (r *ContentRepo) ListTrash(ctx context.Context, userID string) ([]domain.Content, error) {
	var out []domain.Content
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND deleted = ?", userID, true).
		Order("deleted_at desc").
		Find(&out).Error
	return out, err
}

func (r *ContentRepo) Update(ctx context.Context, c *domain.Content) error {
	return r.db.WithContext(ctx).Save(c).Error
}

// SoftDelete 只打标记；已删的再删返回 false
func (r *ContentRepo) SoftDelete(ctx context.Context, id string, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&domain.Content{}).
		Where("id = ? AND deleted <> ?", id, true).
		Updates(map[string]any{"deleted": true, "deleted_at": at})
	return res.RowsAffected > 0, res.Error
}

func (r *ContentRepo) Restore(ctx context.Context, id string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&domain.Content{}).
		Where("id = ? AND deleted = ?", id, true).
		Updates(map[string]any{"deleted": false, "deleted_at": nil})
	return res.RowsAffected > 0, res.Error
}

// Purge 物理删除，只给后台用
func (r *ContentRepo) Purge(ctx context.Context, id string) (bool, error) {
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&domain.Content{})
	return res.RowsAffected > 0, res.Error
}
