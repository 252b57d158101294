package repo

import (
	"context"

	"gorm.io/gorm"

	"studyhub-server/internal/domain"
)

type NotificationRepo struct{ db *gorm.DB }

func NewNotificationRepo(db *gorm.DB) *NotificationRepo { return &NotificationRepo{db: db} }

func (r *NotificationRepo) Create(ctx context.Context, n *domain.Notification) error {
	return r.db.WithContext(ctx).Create(n).Error
}

func (r *NotificationRepo) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Where("id = ?", id).Delete(&domain.Notification{}).Error
}

func (r *NotificationRepo) ListByUser(ctx context.Context, userID string) ([]domain.Notification, error) {
	var out []domain.Notification
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Find(&out).Error
	return out, err
}

// FindDue 三元组精确匹配，调度器每分钟查一次
func (r *NotificationRepo) FindDue(ctx context.Context, day string, hour, minute int) ([]domain.Notification, error) {
	var out []domain.Notification
	err := r.db.WithContext(ctx).
		Where("day = ? AND hour = ? AND minute = ?", day, hour, minute).
		Find(&out).Error
	return out, err
}
