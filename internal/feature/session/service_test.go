package session

import (
	"context"
	"errors"
	"sync"
	"testing"

	"studyhub-server/internal/core/auth"
	"studyhub-server/internal/domain"
	"studyhub-server/pkg/utils"
)

// ---- 内存桩 ----

type memUsers struct {
	mu    sync.Mutex
	users map[string]*domain.User // by ID
}

func newMemUsers() *memUsers { return &memUsers{users: map[string]*domain.User{}} }

func (m *memUsers) Create(_ context.Context, u *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

func (m *memUsers) FindByID(_ context.Context, id string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, nil
}

func (m *memUsers) find(pred func(*domain.User) bool) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if pred(u) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memUsers) FindByEmail(_ context.Context, email string) (*domain.User, error) {
	return m.find(func(u *domain.User) bool { return u.Email == email })
}

func (m *memUsers) FindByUsername(_ context.Context, username string) (*domain.User, error) {
	return m.find(func(u *domain.User) bool { return u.Username == username })
}

func (m *memUsers) FindByEmailOrUsername(_ context.Context, identifier string) (*domain.User, error) {
	return m.find(func(u *domain.User) bool { return u.Email == identifier || u.Username == identifier })
}

func (m *memUsers) FindByGoogleID(_ context.Context, googleID string) (*domain.User, error) {
	return m.find(func(u *domain.User) bool { return u.GoogleID != nil && *u.GoogleID == googleID })
}

func (m *memUsers) Update(_ context.Context, u *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

type memTokens struct {
	mu   sync.Mutex
	byID map[string]map[string]bool // userID -> token set
}

func newMemTokens() *memTokens { return &memTokens{byID: map[string]map[string]bool{}} }

func (m *memTokens) Append(_ context.Context, userID, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.byID[userID] == nil {
		m.byID[userID] = map[string]bool{}
	}
	m.byID[userID][token] = true
	return nil
}

func (m *memTokens) Consume(_ context.Context, userID, token string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.byID[userID][token] {
		delete(m.byID[userID], token)
		return true, nil
	}
	return false, nil
}

func (m *memTokens) RevokeAll(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byID, userID)
	return nil
}

func (m *memTokens) count(userID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byID[userID])
}

func (m *memTokens) has(userID, token string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byID[userID][token]
}

func newTestService() (*Service, *memUsers, *memTokens) {
	users := newMemUsers()
	tokens := newMemTokens()
	ts := &auth.TokenService{Secret: []byte("test-secret"), Issuer: "test"}
	return NewService(users, tokens, ts, nil), users, tokens
}

func register(t *testing.T, s *Service, username, email string) *Result {
	t.Helper()
	res, err := s.Register(context.Background(), RegisterInput{
		Username: username, Email: email, Password: "secret1", FullName: "Test User",
	})
	if err != nil {
		t.Fatalf("register %s: %v", username, err)
	}
	return res
}

// ---- 注册 / 登录 ----

func TestRegisterDuplicateChecks(t *testing.T) {
	s, _, _ := newTestService()
	register(t, s, "alice", "alice@example.com")

	_, err := s.Register(context.Background(), RegisterInput{
		Username: "other", Email: "alice@example.com", Password: "secret1",
	})
	if !errors.Is(err, domain.ErrEmailTaken) {
		t.Fatalf("want ErrEmailTaken, got %v", err)
	}
	_, err = s.Register(context.Background(), RegisterInput{
		Username: "alice", Email: "new@example.com", Password: "secret1",
	})
	if !errors.Is(err, domain.ErrUsernameTaken) {
		t.Fatalf("want ErrUsernameTaken, got %v", err)
	}
}

func TestRegisterStoresHashNotPassword(t *testing.T) {
	s, users, tokens := newTestService()
	res := register(t, s, "alice", "alice@example.com")

	u, _ := users.FindByID(context.Background(), res.User.ID)
	if u.PasswordHash == "" || u.PasswordHash == "secret1" {
		t.Fatalf("password must be stored hashed, got %q", u.PasswordHash)
	}
	if !utils.CheckPassword("secret1", u.PasswordHash) {
		t.Fatal("stored hash must verify against the original password")
	}
	if tokens.count(u.ID) != 1 {
		t.Fatalf("register must append one refresh token, got %d", tokens.count(u.ID))
	}
}

func TestLoginByEmailAndUsername(t *testing.T) {
	s, _, _ := newTestService()
	reg := register(t, s, "alice", "alice@example.com")

	for _, ident := range []string{"alice@example.com", "alice"} {
		res, err := s.Login(context.Background(), ident, "secret1")
		if err != nil {
			t.Fatalf("login by %q: %v", ident, err)
		}
		if res.User.ID != reg.User.ID {
			t.Fatalf("login by %q matched wrong user", ident)
		}
	}
}

func TestLoginUniformFailure(t *testing.T) {
	s, _, _ := newTestService()
	register(t, s, "alice", "alice@example.com")

	// 密码错、用户不存在、无密码账号：同一个错误
	cases := []struct{ ident, pass string }{
		{"alice", "wrong-pass"},
		{"nobody", "secret1"},
	}
	for _, c := range cases {
		if _, err := s.Login(context.Background(), c.ident, c.pass); !errors.Is(err, domain.ErrInvalidCredentials) {
			t.Fatalf("login(%q): want ErrInvalidCredentials, got %v", c.ident, err)
		}
	}
}

func TestLoginFederatedOnlyAccountRejected(t *testing.T) {
	s, users, _ := newTestService()
	gid := "g-123"
	u := &domain.User{ID: "fed1", Username: "fed", Email: "fed@example.com", GoogleID: &gid}
	_ = users.Create(context.Background(), u)

	if _, err := s.Login(context.Background(), "fed@example.com", "anything"); !errors.Is(err, domain.ErrInvalidCredentials) {
		t.Fatalf("passwordless account: want ErrInvalidCredentials, got %v", err)
	}
}

func TestBannedUserRejected(t *testing.T) {
	s, users, _ := newTestService()
	reg := register(t, s, "alice", "alice@example.com")

	u, _ := users.FindByID(context.Background(), reg.User.ID)
	u.Banned = true
	_ = users.Update(context.Background(), u)

	if _, err := s.Login(context.Background(), "alice", "secret1"); !errors.Is(err, domain.ErrInvalidCredentials) {
		t.Fatalf("banned login: want ErrInvalidCredentials, got %v", err)
	}
	if _, err := s.Refresh(context.Background(), reg.Pair.RefreshToken); !errors.Is(err, domain.ErrInvalidToken) {
		t.Fatalf("banned refresh: want ErrInvalidToken, got %v", err)
	}
}

// ---- 刷新旋转 ----

func TestRefreshRotatesToken(t *testing.T) {
	s, _, tokens := newTestService()
	reg := register(t, s, "alice", "alice@example.com")
	old := reg.Pair.RefreshToken

	res, err := s.Refresh(context.Background(), old)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if res.Pair.RefreshToken == old {
		t.Fatal("refresh must issue a new token")
	}
	if tokens.has(reg.User.ID, old) {
		t.Fatal("consumed token must be removed from the set")
	}
	if !tokens.has(reg.User.ID, res.Pair.RefreshToken) {
		t.Fatal("new token must be appended")
	}
	if tokens.count(reg.User.ID) != 1 {
		t.Fatalf("set size after rotation = %d, want 1", tokens.count(reg.User.ID))
	}
}

func TestRefreshReplayRevokesAllSessions(t *testing.T) {
	s, _, tokens := newTestService()
	reg := register(t, s, "alice", "alice@example.com")
	old := reg.Pair.RefreshToken

	// 第二个会话
	second, err := s.Login(context.Background(), "alice", "secret1")
	if err != nil {
		t.Fatalf("second login: %v", err)
	}
	if tokens.count(reg.User.ID) != 2 {
		t.Fatalf("want 2 sessions, got %d", tokens.count(reg.User.ID))
	}

	if _, err := s.Refresh(context.Background(), old); err != nil {
		t.Fatalf("first refresh: %v", err)
	}
	// 重放已旋转的 token：401 且清空全部会话
	if _, err := s.Refresh(context.Background(), old); !errors.Is(err, domain.ErrInvalidToken) {
		t.Fatalf("replay: want ErrInvalidToken, got %v", err)
	}
	if tokens.count(reg.User.ID) != 0 {
		t.Fatalf("replay must revoke all sessions, %d left", tokens.count(reg.User.ID))
	}
	if _, err := s.Refresh(context.Background(), second.Pair.RefreshToken); !errors.Is(err, domain.ErrInvalidToken) {
		t.Fatalf("other session after revocation: want ErrInvalidToken, got %v", err)
	}
}

func TestRefreshConcurrentSameTokenSingleWinner(t *testing.T) {
	s, _, _ := newTestService()
	reg := register(t, s, "alice", "alice@example.com")
	old := reg.Pair.RefreshToken

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.Refresh(context.Background(), old)
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
		} else if !errors.Is(err, domain.ErrInvalidToken) {
			t.Fatalf("loser got unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("exactly one concurrent refresh may win, got %d", wins)
	}
}

func TestRefreshGarbageToken(t *testing.T) {
	s, _, _ := newTestService()
	if _, err := s.Refresh(context.Background(), "garbage"); !errors.Is(err, domain.ErrInvalidToken) {
		t.Fatalf("want ErrInvalidToken, got %v", err)
	}
}

// ---- 登出 ----

func TestLogoutRemovesOnlySubmittedToken(t *testing.T) {
	s, _, tokens := newTestService()
	reg := register(t, s, "alice", "alice@example.com")
	second, _ := s.Login(context.Background(), "alice", "secret1")

	if err := s.Logout(context.Background(), reg.Pair.RefreshToken); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if tokens.has(reg.User.ID, reg.Pair.RefreshToken) {
		t.Fatal("logged-out token must be removed")
	}
	if !tokens.has(reg.User.ID, second.Pair.RefreshToken) {
		t.Fatal("other sessions must survive a logout")
	}
}

func TestLogoutUnknownToken(t *testing.T) {
	s, _, _ := newTestService()
	register(t, s, "alice", "alice@example.com")
	if err := s.Logout(context.Background(), "garbage"); !errors.Is(err, domain.ErrInvalidToken) {
		t.Fatalf("want ErrInvalidToken, got %v", err)
	}
}
