package mail

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	googleoauth "golang.org/x/oauth2/google"

	"studyhub-server/internal/domain"
)

// Credentials 落盘的凭据文件（原样的 token.json 字段，expiry_date 是毫秒时间戳）
type Credentials struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	Scope        string `json:"scope,omitempty"`
	TokenType    string `json:"token_type,omitempty"`
	ExpiryDate   int64  `json:"expiry_date"`
}

const (
	gmailSendURL = "https://gmail.googleapis.com/gmail/v1/users/me/messages/send"
	// access token 到期前 30 秒就当作过期，留出发送耗时
	expiryBuffer = 30 * time.Second
)

// Gmail 用可续期的 OAuth 凭据发提醒邮件。
// 每次发送前检查 access token：过期（或快过期）先用 refresh token 换新并回写文件；
// 提供方没发新 refresh token 时必须保留旧的。
type Gmail struct {
	From string

	path     string
	client   *http.Client
	sendURL  string
	tokenURL string
	now      func() time.Time
	log      *zap.Logger

	mu    sync.Mutex
	creds Credentials
}

func NewGmail(credentialsFile, from string, log *zap.Logger) (*Gmail, error) {
	if log == nil {
		log = zap.NewNop()
	}
	g := &Gmail{
		From:     from,
		path:     credentialsFile,
		client:   &http.Client{Timeout: 15 * time.Second},
		sendURL:  gmailSendURL,
		tokenURL: googleoauth.Endpoint.TokenURL,
		now:      time.Now,
		log:      log,
	}
	b, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrCredentialFile, err)
	}
	if err := json.Unmarshal(b, &g.creds); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrCredentialFile, err)
	}
	if g.creds.ClientID == "" || g.creds.RefreshToken == "" {
		return nil, fmt.Errorf("%w: missing client_id or refresh_token", domain.ErrCredentialFile)
	}
	return g, nil
}

// SendReminder 组一封 HTML 提醒邮件并经由 Gmail API 发出
func (g *Gmail) SendReminder(ctx context.Context, to, studentName, subjectTitle string) error {
	token, err := g.ensureToken(ctx)
	if err != nil {
		return err
	}

	html := reminderHTML(studentName, subjectTitle)
	subject := encodeSubject("תזכורת ללמוד ל" + subjectTitle)
	raw := rawMessage(to, g.From, subject, html)

	body, _ := json.Marshal(map[string]string{"raw": raw})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.sendURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrDelivery, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrDelivery, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: provider status %d", domain.ErrDelivery, resp.StatusCode)
	}
	return nil
}

// ensureToken 返回可用的 access token，必要时先刷新并持久化
func (g *Gmail) ensureToken(ctx context.Context) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	expiry := time.UnixMilli(g.creds.ExpiryDate)
	if g.creds.AccessToken != "" && g.now().Before(expiry.Add(-expiryBuffer)) {
		return g.creds.AccessToken, nil
	}

	conf := &oauth2.Config{
		ClientID:     g.creds.ClientID,
		ClientSecret: g.creds.ClientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: g.tokenURL},
	}
	// 只带 refresh token，强制走一次刷新
	ctx = context.WithValue(ctx, oauth2.HTTPClient, g.client)
	tok, err := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: g.creds.RefreshToken}).Token()
	if err != nil {
		return "", fmt.Errorf("%w: refresh access token: %v", domain.ErrDelivery, err)
	}

	g.creds.AccessToken = tok.AccessToken
	g.creds.ExpiryDate = tok.Expiry.UnixMilli()
	if tok.TokenType != "" {
		g.creds.TokenType = tok.TokenType
	}
	if tok.RefreshToken != "" {
		// 提供方轮换了 refresh token 才替换，否则沿用旧的
		g.creds.RefreshToken = tok.RefreshToken
	}
	if err := g.persist(); err != nil {
		g.log.Error("persist refreshed credentials", zap.Error(err))
	} else {
		g.log.Info("mail credentials refreshed")
	}
	return g.creds.AccessToken, nil
}

func (g *Gmail) persist() error {
	b, err := json.MarshalIndent(&g.creds, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(g.path, b, 0o600)
}

func reminderHTML(studentName, subjectTitle string) string {
	const bom = "\uFEFF"
	return bom + `<div dir="rtl" style="font-family: Arial, sans-serif; font-size: 16px; color: #000;">
  <h3>שלום ` + studentName + `,</h3>
  <p>רק תזכורת קטנה: הגיע הזמן לשבת ללמוד לקורס <strong>` + subjectTitle + `</strong>.</p>
  <p>בהצלחה!<br/>צוות StudyHub</p>
</div>`
}

// encodeSubject RFC 2047 B-encoding，主题里有非 ASCII 字符必须这么包
func encodeSubject(subject string) string {
	return "=?UTF-8?B?" + base64.StdEncoding.EncodeToString([]byte(subject)) + "?="
}

// rawMessage 拼 MIME 文本再转 base64url（无填充），Gmail API 要这个格式
func rawMessage(to, from, subject, html string) string {
	msg := strings.Join([]string{
		"To: " + to,
		"From: " + from,
		"Subject: " + subject,
		"Content-Type: text/html; charset=UTF-8",
		"",
		html,
	}, "\n")
	return base64.RawURLEncoding.EncodeToString([]byte(msg))
}
