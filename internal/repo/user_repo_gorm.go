package repo

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"studyhub-server/internal/domain"
)

// 查不到统一返回 (nil, nil)，由上层决定算不算错误

type UserRepo struct{ db *gorm.DB }

func NewUserRepo(db *gorm.DB) *UserRepo { return &UserRepo{db: db} }

func (r *UserRepo) Create(ctx context.Context, u *domain.User) error {
	return r.db.WithContext(ctx).Create(u).Error
}

func (r *UserRepo) FindByID(ctx context.Context, id string) (*domain.User, error) {
	return r.findOne(ctx, "id = ?", id)
}

func (r *UserRepo) FindByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.findOne(ctx, "email = ?", email)
}

func (r *UserRepo) FindByUsername(ctx context.Context, username string) (*domain.User, error) {
	return r.findOne(ctx, "username = ?", username)
}

// FindByEmailOrUsername 登录标识两种字段都试（原样的 $or 查询）
func (r *UserRepo) FindByEmailOrUsername(ctx context.Context, identifier string) (*domain.User, error) {
	return r.findOne(ctx, "email = ? OR username = ?", identifier, identifier)
}

func (r *UserRepo) FindByGoogleID(ctx context.Context, googleID string) (*domain.User, error) {
	return r.findOne(ctx, "google_id = ?", googleID)
}

func (r *UserRepo) Update(ctx context.Context, u *domain.User) error {
	return r.db.WithContext(ctx).Save(u).Error
}

func (r *UserRepo) findOne(ctx context.Context, query string, args ...any) (*domain.User, error) {
	var u domain.User
	err := r.db.WithContext(ctx).First(&u, append([]any{query}, args...)...).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

type RefreshTokenRepo struct{ db *gorm.DB }

func NewRefreshTokenRepo(db *gorm.DB) *RefreshTokenRepo { return &RefreshTokenRepo{db: db} }

func (r *RefreshTokenRepo) Append(ctx context.Context, userID, token string) error {
	return r.db.WithContext(ctx).Create(&domain.RefreshToken{Token: token, UserID: userID}).Error
}

// Consume 一条 DELETE 完成"检查 + 移除"：RowsAffected 告诉我们是不是本次调用删掉的。
// 两个并发 Refresh 拿同一个 token，只有一个能删到行。
func (r *RefreshTokenRepo) Consume(ctx context.Context, userID, token string) (bool, error) {
	res := r.db.WithContext(ctx).
		Where("token = ? AND user_id = ?", token, userID).
		Delete(&domain.RefreshToken{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *RefreshTokenRepo) RevokeAll(ctx context.Context, userID string) error {
	return r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Delete(&domain.RefreshToken{}).Error
}
