package session

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"studyhub-server/internal/core/auth"
	"studyhub-server/internal/domain"
	"studyhub-server/pkg/utils"
)

// Service 管理每个用户的刷新令牌集合：注册/登录追加、刷新旋转、登出移除。
// 所有对集合的改动都走 store 的原子条件操作，进程内不加锁。
type Service struct {
	users  domain.UserStore
	tokens domain.RefreshTokenStore
	ts     *auth.TokenService
	log    *zap.Logger
}

func NewService(users domain.UserStore, tokens domain.RefreshTokenStore, ts *auth.TokenService, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{users: users, tokens: tokens, ts: ts, log: log}
}

type RegisterInput struct {
	Username string `json:"username" binding:"required,max=64"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6"`
	FullName string `json:"fullName" binding:"omitempty,max=128"`
	ImgURL   string `json:"imgUrl"`
}

// Result 登录类操作的统一出参：新令牌对 + 用户（公开字段由 transport 挑）
type Result struct {
	Pair *auth.Pair
	User *domain.User
}

func (s *Service) Register(ctx context.Context, in RegisterInput) (*Result, error) {
	email := strings.TrimSpace(in.Email)
	username := strings.TrimSpace(in.Username)

	// 先查重，给出指明字段的错误，而不是落到唯一约束的笼统报错
	if u, err := s.users.FindByEmail(ctx, email); err != nil {
		return nil, err
	} else if u != nil {
		return nil, domain.ErrEmailTaken
	}
	if u, err := s.users.FindByUsername(ctx, username); err != nil {
		return nil, err
	} else if u != nil {
		return nil, domain.ErrUsernameTaken
	}

	u := &domain.User{
		ID:           utils.NewID(),
		Username:     username,
		Email:        email,
		FullName:     strings.TrimSpace(in.FullName),
		PasswordHash: utils.HashPassword(in.Password),
		ImgURL:       in.ImgURL,
	}
	if err := s.users.Create(ctx, u); err != nil {
		return nil, err
	}
	return s.issueAndAppend(ctx, u)
}

// Login 标识符同时匹配邮箱或用户名；查无此人和密码不对返回同一个错误，
// 不泄露到底哪个字段错了。
func (s *Service) Login(ctx context.Context, identifier, password string) (*Result, error) {
	u, err := s.users.FindByEmailOrUsername(ctx, strings.TrimSpace(identifier))
	if err != nil {
		return nil, err
	}
	if u == nil || u.PasswordHash == "" || !utils.CheckPassword(password, u.PasswordHash) {
		return nil, domain.ErrInvalidCredentials
	}
	if u.Banned {
		return nil, domain.ErrInvalidCredentials
	}
	return s.issueAndAppend(ctx, u)
}

// Refresh 旋转：消费旧 token，签发并追加新对。
// 旧 token 验签通过但不在集合里 → 判定为被旋转后的重放，清空该用户全部会话。
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*Result, error) {
	u, err := s.consume(ctx, refreshToken)
	if err != nil {
		return nil, err
	}
	return s.issueAndAppend(ctx, u)
}

// Logout 只移除提交的这一个 token，其余会话不动
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	_, err := s.consume(ctx, refreshToken)
	return err
}

// Profile 只读投影，不含密码哈希和令牌集合
func (s *Service) Profile(ctx context.Context, userID string) (*domain.User, error) {
	u, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, domain.ErrNotFound
	}
	return u, nil
}

func (s *Service) issueAndAppend(ctx context.Context, u *domain.User) (*Result, error) {
	pair, err := s.ts.IssuePair(u.ID)
	if err != nil {
		return nil, err
	}
	if err := s.tokens.Append(ctx, u.ID, pair.RefreshToken); err != nil {
		return nil, err
	}
	return &Result{Pair: pair, User: u}, nil
}

// consume 验签 + 原子移除。并发提交同一个 token 时 Consume 只会成功一次，
// 输家在这里拿到 ErrInvalidToken。
func (s *Service) consume(ctx context.Context, refreshToken string) (*domain.User, error) {
	claims, err := s.ts.Verify(refreshToken)
	if err != nil {
		if errors.Is(err, domain.ErrNoSigningSecret) {
			return nil, err
		}
		return nil, domain.ErrInvalidToken
	}
	u, err := s.users.FindByID(ctx, claims.UID)
	if err != nil {
		return nil, err
	}
	if u == nil || u.Banned {
		return nil, domain.ErrInvalidToken
	}
	ok, err := s.tokens.Consume(ctx, u.ID, refreshToken)
	if err != nil {
		return nil, err
	}
	if !ok {
		s.log.Warn("refresh token replayed, revoking all sessions", zap.String("user_id", u.ID))
		if err := s.tokens.RevokeAll(ctx, u.ID); err != nil {
			s.log.Error("revoke all sessions", zap.String("user_id", u.ID), zap.Error(err))
		}
		return nil, domain.ErrInvalidToken
	}
	return u, nil
}
