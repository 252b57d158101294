package content

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"studyhub-server/internal/domain"
)

// ---- 内存桩 ----

type memContents struct {
	mu    sync.Mutex
	items map[string]*domain.Content
}

func newMemContents() *memContents { return &memContents{items: map[string]*domain.Content{}} }

func (m *memContents) Create(_ context.Context, c *domain.Content) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	m.items[c.ID] = &cp
	return nil
}

func (m *memContents) FindByID(_ context.Context, id string) (*domain.Content, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.items[id]; ok && !c.Deleted {
		cp := *c
		return &cp, nil
	}
	return nil, nil
}

func (m *memContents) ListByUser(_ context.Context, userID, subjectID, contentType string) ([]domain.Content, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Content
	for _, c := range m.items {
		if c.Deleted || c.UserID != userID {
			continue
		}
		if subjectID != "" && c.SubjectID != subjectID {
			continue
		}
		if contentType != "" && c.ContentType != contentType {
			continue
		}
		out = append(out, *c)
	}
	return out, nil
}

func (m *memContents) ListShared(_ context.Context) ([]domain.Content, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Content
	for _, c := range m.items {
		if c.Shared && !c.Deleted {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (m *memContents) ListTrash(_ context.Context, userID string) ([]domain.Content, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Content
	for _, c := range m.items {
		if c.Deleted && c.UserID == userID {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (m *memContents) Update(_ context.Context, c *domain.Content) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.items[c.ID] = &cp
	return nil
}

func (m *memContents) SoftDelete(_ context.Context, id string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.items[id]
	if !ok || c.Deleted {
		return false, nil
	}
	c.Deleted = true
	c.DeletedAt = &at
	return true, nil
}

func (m *memContents) Restore(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.items[id]
	if !ok || !c.Deleted {
		return false, nil
	}
	c.Deleted = false
	c.DeletedAt = nil
	return true, nil
}

func (m *memContents) Purge(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[id]; !ok {
		return false, nil
	}
	delete(m.items, id)
	return true, nil
}

type memSubjects struct {
	mu    sync.Mutex
	items map[string]*domain.Subject
}

func newMemSubjects() *memSubjects { return &memSubjects{items: map[string]*domain.Subject{}} }

func (m *memSubjects) Create(_ context.Context, s *domain.Subject) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.items[s.ID] = &cp
	return nil
}

func (m *memSubjects) FindByID(_ context.Context, id string) (*domain.Subject, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.items[id]; ok {
		cp := *s
		return &cp, nil
	}
	return nil, nil
}

func (m *memSubjects) ListByUser(_ context.Context, userID string) ([]domain.Subject, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Subject
	for _, s := range m.items {
		if s.UserID == userID {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (m *memSubjects) Update(_ context.Context, s *domain.Subject) error {
	return m.Create(context.Background(), s)
}

func (m *memSubjects) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, id)
	return nil
}

type memUsers struct {
	mu    sync.Mutex
	items map[string]*domain.User
}

func newMemUsers() *memUsers { return &memUsers{items: map[string]*domain.User{}} }

func (m *memUsers) Create(_ context.Context, u *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *u
	m.items[u.ID] = &cp
	return nil
}

func (m *memUsers) FindByID(_ context.Context, id string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.items[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, nil
}

func (m *memUsers) FindByEmail(context.Context, string) (*domain.User, error)    { return nil, nil }
func (m *memUsers) FindByUsername(context.Context, string) (*domain.User, error) { return nil, nil }
func (m *memUsers) FindByEmailOrUsername(context.Context, string) (*domain.User, error) {
	return nil, nil
}
func (m *memUsers) FindByGoogleID(context.Context, string) (*domain.User, error) { return nil, nil }
func (m *memUsers) Update(_ context.Context, u *domain.User) error {
	return m.Create(context.Background(), u)
}

func newTestService(t *testing.T) (*Service, *memContents) {
	t.Helper()
	contents := newMemContents()
	subjects := newMemSubjects()
	users := newMemUsers()
	_ = subjects.Create(context.Background(), &domain.Subject{ID: "s1", Title: "Algebra", UserID: "u1"})
	_ = users.Create(context.Background(), &domain.User{ID: "u1", Username: "alice", FullName: "Alice A", ImgURL: "img"})
	return NewService(contents, subjects, users, nil, nil), contents
}

func create(t *testing.T, s *Service, in CreateInput) *domain.Content {
	t.Helper()
	c, err := s.Create(context.Background(), in)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return c
}

// ---- 创建 ----

func TestCreateValidation(t *testing.T) {
	s, _ := newTestService(t)

	cases := []struct {
		name string
		in   CreateInput
		want error
	}{
		{"no user", CreateInput{Body: "b", ContentType: domain.ContentTypeSummary}, ErrMissingFields},
		{"no body", CreateInput{UserID: "u1", ContentType: domain.ContentTypeSummary}, ErrMissingFields},
		{"no type", CreateInput{UserID: "u1", Body: "b"}, ErrMissingFields},
		{"bad type", CreateInput{UserID: "u1", Body: "b", ContentType: "Essay"}, ErrBadContentType},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if _, err := s.Create(context.Background(), c.in); !errors.Is(err, c.want) {
				t.Fatalf("want %v, got %v", c.want, err)
			}
		})
	}
}

func TestCreateDefaultsTitle(t *testing.T) {
	s, _ := newTestService(t)
	c := create(t, s, CreateInput{UserID: "u1", Body: "b", ContentType: domain.ContentTypeExam, Title: "   "})
	if c.Title != "Untitled" {
		t.Fatalf("blank title must default to Untitled, got %q", c.Title)
	}
	if c.ID == "" {
		t.Fatal("create must assign an id")
	}
}

// ---- 软删除生命周期 ----

func TestSoftDeleteHidesFromReads(t *testing.T) {
	s, _ := newTestService(t)
	c := create(t, s, CreateInput{UserID: "u1", SubjectID: "s1", Body: "b", ContentType: domain.ContentTypeSummary, Shared: true})

	if err := s.Delete(context.Background(), c.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	if _, err := s.Get(context.Background(), c.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("get after delete: want ErrNotFound, got %v", err)
	}
	if list, _ := s.ListByUser(context.Background(), "u1", "", ""); len(list) != 0 {
		t.Fatalf("deleted row must not appear in list, got %d", len(list))
	}
	if feed, _ := s.SharedFeed(context.Background()); len(feed) != 0 {
		t.Fatalf("deleted row must not appear in shared feed, got %d", len(feed))
	}
	trash, _ := s.Trash(context.Background(), "u1")
	if len(trash) != 1 || trash[0].ID != c.ID {
		t.Fatalf("deleted row must appear in trash, got %+v", trash)
	}
	if trash[0].DeletedAt == nil {
		t.Fatal("soft delete must record deletedAt")
	}
}

func TestDeleteTwice(t *testing.T) {
	s, _ := newTestService(t)
	c := create(t, s, CreateInput{UserID: "u1", Body: "b", ContentType: domain.ContentTypeSummary})
	_ = s.Delete(context.Background(), c.ID)
	if err := s.Delete(context.Background(), c.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("second delete: want ErrNotFound, got %v", err)
	}
}

func TestRestoreClearsBothMarkers(t *testing.T) {
	s, _ := newTestService(t)
	c := create(t, s, CreateInput{UserID: "u1", Body: "b", ContentType: domain.ContentTypeSummary})
	_ = s.Delete(context.Background(), c.ID)

	out, err := s.Restore(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if out.Deleted || out.DeletedAt != nil {
		t.Fatalf("restore must clear both markers: %+v", out)
	}
	if _, err := s.Get(context.Background(), c.ID); err != nil {
		t.Fatalf("restored row must be readable: %v", err)
	}
	if trash, _ := s.Trash(context.Background(), "u1"); len(trash) != 0 {
		t.Fatal("restored row must leave the trash")
	}

	// 未删的行不可恢复
	if _, err := s.Restore(context.Background(), c.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("restore of live row: want ErrNotFound, got %v", err)
	}
}

func TestPurgeRemovesRow(t *testing.T) {
	s, store := newTestService(t)
	c := create(t, s, CreateInput{UserID: "u1", Body: "b", ContentType: domain.ContentTypeSummary})
	_ = s.Delete(context.Background(), c.ID)

	if err := s.Purge(context.Background(), c.ID); err != nil {
		t.Fatalf("purge: %v", err)
	}
	store.mu.Lock()
	_, exists := store.items[c.ID]
	store.mu.Unlock()
	if exists {
		t.Fatal("purge must remove the row entirely")
	}
	if err := s.Purge(context.Background(), c.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("purge of missing row: want ErrNotFound, got %v", err)
	}
}

// ---- 更新 ----

func TestUpdateDeletedRowFails(t *testing.T) {
	s, _ := newTestService(t)
	c := create(t, s, CreateInput{UserID: "u1", Body: "b", ContentType: domain.ContentTypeSummary})
	_ = s.Delete(context.Background(), c.ID)

	_, err := s.Update(context.Background(), c.ID, func(m *domain.Content) { m.Title = "new" })
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("update of deleted row: want ErrNotFound, got %v", err)
	}
}

func TestUpdatePopulatesSubjectTitle(t *testing.T) {
	s, _ := newTestService(t)
	c := create(t, s, CreateInput{UserID: "u1", SubjectID: "s1", Body: "b", ContentType: domain.ContentTypeSummary})

	v, err := s.Update(context.Background(), c.ID, func(m *domain.Content) { m.Shared = true })
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !v.Shared {
		t.Fatal("mutation must be applied")
	}
	if v.SubjectTitle != "Algebra" {
		t.Fatalf("view must carry the subject title, got %q", v.SubjectTitle)
	}
}

// ---- 分享页 ----

func TestSharedFeedCarriesAuthorAndSubject(t *testing.T) {
	s, _ := newTestService(t)
	create(t, s, CreateInput{UserID: "u1", SubjectID: "s1", Body: "shared body", ContentType: domain.ContentTypeSummary, Shared: true})
	create(t, s, CreateInput{UserID: "u1", Body: "private body", ContentType: domain.ContentTypeSummary})

	feed, err := s.SharedFeed(context.Background())
	if err != nil {
		t.Fatalf("shared feed: %v", err)
	}
	if len(feed) != 1 {
		t.Fatalf("only shared rows belong in the feed, got %d", len(feed))
	}
	item := feed[0]
	if item.User.Username != "alice" || item.User.FullName != "Alice A" {
		t.Fatalf("feed must expose author public fields, got %+v", item.User)
	}
	if item.SubjectTitle != "Algebra" {
		t.Fatalf("feed must carry subject title, got %q", item.SubjectTitle)
	}
	if item.Body != "shared body" {
		t.Fatalf("unexpected body %q", item.Body)
	}
}

func TestListByUserFilters(t *testing.T) {
	s, _ := newTestService(t)
	create(t, s, CreateInput{UserID: "u1", SubjectID: "s1", Body: "a", ContentType: domain.ContentTypeSummary})
	create(t, s, CreateInput{UserID: "u1", SubjectID: "s1", Body: "b", ContentType: domain.ContentTypeExam})
	create(t, s, CreateInput{UserID: "u2", SubjectID: "s1", Body: "c", ContentType: domain.ContentTypeExam})

	all, _ := s.ListByUser(context.Background(), "u1", "", "")
	if len(all) != 2 {
		t.Fatalf("list by user = %d, want 2", len(all))
	}
	exams, _ := s.ListByUser(context.Background(), "u1", "s1", domain.ContentTypeExam)
	if len(exams) != 1 || exams[0].ContentType != domain.ContentTypeExam {
		t.Fatalf("filtered list wrong: %+v", exams)
	}
}
