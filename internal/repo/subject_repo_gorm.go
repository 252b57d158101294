package repo

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"studyhub-server/internal/domain"
)

type SubjectRepo struct{ db *gorm.DB }

func NewSubjectRepo(db *gorm.DB) *SubjectRepo { return &SubjectRepo{db: db} }

func (r *SubjectRepo) Create(ctx context.Context, s *domain.Subject) error {
	return r.db.WithContext(ctx).Create(s).Error
}

func (r *SubjectRepo) FindByID(ctx context.Context, id string) (*domain.Subject, error) {
	var s domain.Subject
	err := r.db.WithContext(ctx).First(&s, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *SubjectRepo) ListByUser(ctx context.Context, userID string) ([]domain.Subject, error) {
	var out []domain.Subject
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at desc").
		Find(&out).Error
	return out, err
}

func (r *SubjectRepo) Update(ctx context.Context, s *domain.Subject) error {
	return r.db.WithContext(ctx).Save(s).Error
}

func (r *SubjectRepo) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Where("id = ?", id).Delete(&domain.Subject{}).Error
}
