package domain

import (
	"context"
	"time"
)

type User struct {
	ID           string  `gorm:"primaryKey;size:36" json:"id"`
	Username     string  `gorm:"uniqueIndex;size:64" json:"username"`
	Email        string  `gorm:"uniqueIndex;size:191" json:"email"`
	FullName     string  `gorm:"size:128" json:"fullName"`
	PasswordHash string  `gorm:"size:191" json:"-"`
	ImgURL       string  `gorm:"type:text" json:"imgUrl"`
	GoogleID     *string `gorm:"uniqueIndex;size:64" json:"-"` // 联合登录外部 ID，可空

	TwoFactorSecret  string `gorm:"size:64" json:"-"`
	TwoFactorEnabled bool   `json:"-"`
	Banned           bool   `json:"-"` // 后台封禁：拒绝登录和刷新

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (User) TableName() string { return "users" }

// Federated 无密码账号：只能走 Google 登录
func (u *User) Federated() bool { return u.GoogleID != nil && u.PasswordHash == "" }

// RefreshToken 用户当前有效的刷新令牌集合（一行一个，token 即主键）。
// 单行条件删除即"原子移除一个"，旋转并发时只有一个调用能赢。
type RefreshToken struct {
	Token     string    `gorm:"primaryKey;size:512" json:"-"`
	UserID    string    `gorm:"index;size:36" json:"-"`
	CreatedAt time.Time `json:"-"`
}

func (RefreshToken) TableName() string { return "refresh_tokens" }

type UserStore interface {
	Create(ctx context.Context, u *User) error
	FindByID(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindByUsername(ctx context.Context, username string) (*User, error)
	FindByEmailOrUsername(ctx context.Context, identifier string) (*User, error)
	FindByGoogleID(ctx context.Context, googleID string) (*User, error)
	Update(ctx context.Context, u *User) error
}

type RefreshTokenStore interface {
	Append(ctx context.Context, userID, token string) error
	// Consume 原子移除一条：返回 false 表示该 token 不在集合里（已被旋转或伪造）
	Consume(ctx context.Context, userID, token string) (bool, error)
	// RevokeAll 清空该用户所有会话（检测到已旋转 token 被重放时的防御动作）
	RevokeAll(ctx context.Context, userID string) error
}
