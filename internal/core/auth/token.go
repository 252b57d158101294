package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"studyhub-server/internal/domain"
)

type Claims struct {
	UID   string `json:"uid"`
	Nonce string `json:"nonce"` // 每次签发的随机数，同一对 access/refresh 共享
	jwt.RegisteredClaims
}

type Pair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// TokenService 签发/校验 access+refresh 令牌对。
// Secret 为空时所有签发、校验都失败，绝不退化成无签名或默认密钥。
type TokenService struct {
	Secret     []byte
	Issuer     string
	AccessTTL  time.Duration // 默认 15m
	RefreshTTL time.Duration // 默认 7d
}

const (
	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 7 * 24 * time.Hour
)

func (s *TokenService) accessTTL() time.Duration {
	if s.AccessTTL > 0 {
		return s.AccessTTL
	}
	return defaultAccessTTL
}

func (s *TokenService) refreshTTL() time.Duration {
	if s.RefreshTTL > 0 {
		return s.RefreshTTL
	}
	return defaultRefreshTTL
}

// IssuePair 同一个 nonce 写进两枚 token，让一对可以相互关联，
// 但各自独立可验签；过期时间分别按 AccessTTL / RefreshTTL。
func (s *TokenService) IssuePair(uid string) (*Pair, error) {
	if len(s.Secret) == 0 {
		return nil, domain.ErrNoSigningSecret
	}
	now := time.Now()
	nonce := uuid.NewString()

	access, err := s.sign(uid, nonce, now, s.accessTTL())
	if err != nil {
		return nil, err
	}
	refresh, err := s.sign(uid, nonce, now, s.refreshTTL())
	if err != nil {
		return nil, err
	}
	return &Pair{AccessToken: access, RefreshToken: refresh}, nil
}

func (s *TokenService) sign(uid, nonce string, now time.Time, ttl time.Duration) (string, error) {
	claims := Claims{
		UID:   uid,
		Nonce: nonce,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.Secret)
}

// Verify 签名/过期/格式任一不过即 ErrInvalidToken，调用方统一当"未认证"处理
func (s *TokenService) Verify(tokenStr string) (*Claims, error) {
	if len(s.Secret) == 0 {
		return nil, domain.ErrNoSigningSecret
	}
	t, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected alg %v", token.Header["alg"])
		}
		return s.Secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidToken, err)
	}
	if c, ok := t.Claims.(*Claims); ok && t.Valid {
		return c, nil
	}
	return nil, domain.ErrInvalidToken
}

// Check 给 main 做启动告警用（不致命，令牌操作会逐次失败）
func (s *TokenService) Check() error {
	if len(s.Secret) == 0 {
		return domain.ErrNoSigningSecret
	}
	return nil
}
