package session

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"studyhub-server/internal/domain"
	"studyhub-server/pkg/utils"
)

// GoogleProfile 上游断言里我们关心的字段
type GoogleProfile struct {
	Sub     string `json:"sub"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
}

// ProfileFetcher 用上游颁发的 access token 换取已验证的身份断言
type ProfileFetcher interface {
	Fetch(ctx context.Context, accessToken string) (*GoogleProfile, error)
}

const googleUserinfoURL = "https://www.googleapis.com/oauth2/v3/userinfo"

// GoogleFetcher 调 Google userinfo 端点验证 token 并拿回 profile
type GoogleFetcher struct {
	Client *http.Client
	URL    string // 测试时指向 httptest
}

func NewGoogleFetcher() *GoogleFetcher {
	return &GoogleFetcher{
		Client: &http.Client{Timeout: 10 * time.Second},
		URL:    googleUserinfoURL,
	}
}

func (f *GoogleFetcher) Fetch(ctx context.Context, accessToken string) (*GoogleProfile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.URL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrFederation, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: userinfo status %d", domain.ErrFederation, resp.StatusCode)
	}
	var p GoogleProfile
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrFederation, err)
	}
	if p.Sub == "" || p.Email == "" {
		return nil, fmt.Errorf("%w: incomplete profile", domain.ErrFederation)
	}
	return &p, nil
}

// LoginWithGoogle 对账外部身份：先按 GoogleID 找，再按邮箱找。
// 邮箱命中但未绑定 → 非破坏性合并（保留原密码，补上 GoogleID 和头像）；
// 都没有 → 建新号：展示名加随机后缀当用户名，无密码。
// 最后统一走和 Login 相同的签发 + 追加流程。
func (s *Service) LoginWithGoogle(ctx context.Context, fetcher ProfileFetcher, accessToken string) (*Result, error) {
	p, err := fetcher.Fetch(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	u, err := s.users.FindByGoogleID(ctx, p.Sub)
	if err != nil {
		return nil, err
	}
	if u == nil {
		u, err = s.users.FindByEmail(ctx, p.Email)
		if err != nil {
			return nil, err
		}
		if u != nil {
			// 合并已有密码账号
			gid := p.Sub
			u.GoogleID = &gid
			if p.Picture != "" {
				u.ImgURL = p.Picture
			}
			if err := s.users.Update(ctx, u); err != nil {
				return nil, err
			}
			s.log.Info("linked google identity", zap.String("user_id", u.ID))
		} else {
			gid := p.Sub
			u = &domain.User{
				ID:       utils.NewID(),
				Username: googleUsername(p.Name),
				Email:    p.Email,
				FullName: p.Name,
				ImgURL:   p.Picture,
				GoogleID: &gid,
			}
			if err := s.users.Create(ctx, u); err != nil {
				return nil, err
			}
			s.log.Info("created google user", zap.String("user_id", u.ID))
		}
	}
	if u.Banned {
		return nil, domain.ErrInvalidCredentials
	}
	return s.issueAndAppend(ctx, u)
}

// 展示名 + 5 位随机后缀，保证唯一
func googleUsername(displayName string) string {
	name := strings.TrimSpace(displayName)
	if name == "" {
		name = "user"
	}
	return name + "_" + utils.NewID()[:5]
}
