package content

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"studyhub-server/internal/core/cache"
	"studyhub-server/internal/domain"
	"studyhub-server/pkg/utils"
)

// Service 生成内容（摘要/考卷）的软删除生命周期。
// 删除只打标记，常规读取一律过滤已删行；恢复清标记；物理删除走后台。
type Service struct {
	contents domain.ContentStore
	subjects domain.SubjectStore
	users    domain.UserStore
	cache    *cache.Cache // 可空：公共分享页的读缓存
	log      *zap.Logger
}

func NewService(contents domain.ContentStore, subjects domain.SubjectStore, users domain.UserStore, c *cache.Cache, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{contents: contents, subjects: subjects, users: users, cache: c, log: log}
}

type CreateInput struct {
	UserID      string `json:"userId"`
	SubjectID   string `json:"subjectId"`
	Title       string `json:"title"`
	Body        string `json:"content" binding:"required"`
	ContentType string `json:"contentType" binding:"required"`
	Shared      bool   `json:"shared"`
	CopyContent bool   `json:"copyContent"`
}

// View 带上科目标题的投影
type View struct {
	domain.Content
	SubjectTitle string `json:"subjectTitle,omitempty"`
}

// SharedItem 公共分享页条目：不暴露 userId，换成作者公开字段
type SharedItem struct {
	ID           string     `json:"id"`
	Title        string     `json:"title"`
	Body         string     `json:"content"`
	ContentType  string     `json:"contentType"`
	SubjectTitle string     `json:"subjectTitle,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	User         AuthorInfo `json:"user"`
}

type AuthorInfo struct {
	Username string `json:"username"`
	FullName string `json:"fullName"`
	ImgURL   string `json:"imgUrl"`
}

func (s *Service) Create(ctx context.Context, in CreateInput) (*domain.Content, error) {
	if in.UserID == "" || in.Body == "" || in.ContentType == "" {
		return nil, ErrMissingFields
	}
	if in.ContentType != domain.ContentTypeSummary && in.ContentType != domain.ContentTypeExam {
		return nil, ErrBadContentType
	}
	title := strings.TrimSpace(in.Title)
	if title == "" {
		title = "Untitled"
	}
	c := &domain.Content{
		ID:          utils.NewID(),
		UserID:      in.UserID,
		SubjectID:   in.SubjectID,
		Title:       title,
		Body:        in.Body,
		ContentType: in.ContentType,
		Shared:      in.Shared,
		CopyContent: in.CopyContent,
	}
	if err := s.contents.Create(ctx, c); err != nil {
		return nil, err
	}
	if c.Shared {
		s.invalidateShared(ctx)
	}
	return c, nil
}

func (s *Service) Get(ctx context.Context, id string) (*View, error) {
	c, err := s.contents.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, domain.ErrNotFound
	}
	return s.populate(ctx, c), nil
}

// Update 已软删的行不可更新
func (s *Service) Update(ctx context.Context, id string, mutate func(*domain.Content)) (*View, error) {
	c, err := s.contents.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, domain.ErrNotFound
	}
	wasShared := c.Shared
	mutate(c)
	if err := s.contents.Update(ctx, c); err != nil {
		return nil, err
	}
	if wasShared || c.Shared {
		s.invalidateShared(ctx)
	}
	return s.populate(ctx, c), nil
}

func (s *Service) ListByUser(ctx context.Context, userID, subjectID, contentType string) ([]View, error) {
	items, err := s.contents.ListByUser(ctx, userID, subjectID, contentType)
	if err != nil {
		return nil, err
	}
	out := make([]View, 0, len(items))
	for i := range items {
		out = append(out, *s.populate(ctx, &items[i]))
	}
	return out, nil
}

// Delete 软删：打 deleted 标记 + 记录时间，数据保留
func (s *Service) Delete(ctx context.Context, id string) error {
	ok, err := s.contents.SoftDelete(ctx, id, time.Now())
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrNotFound
	}
	s.invalidateShared(ctx)
	return nil
}

// Restore 清掉 deleted 和 deletedAt 两个字段
func (s *Service) Restore(ctx context.Context, id string) (*domain.Content, error) {
	ok, err := s.contents.Restore(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.ErrNotFound
	}
	s.invalidateShared(ctx)
	return s.contents.FindByID(ctx, id)
}

func (s *Service) Trash(ctx context.Context, userID string) ([]domain.Content, error) {
	return s.contents.ListTrash(ctx, userID)
}

// Purge 物理删除，特权操作（后台端挂载）
func (s *Service) Purge(ctx context.Context, id string) error {
	ok, err := s.contents.Purge(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrNotFound
	}
	s.invalidateShared(ctx)
	return nil
}

const (
	sharedFeedKey = "content:shared"
	sharedFeedTTL = 30 * time.Second
)

// 写路径动过 shared 相关状态后主动失效，不等 TTL
func (s *Service) invalidateShared(ctx context.Context) {
	if s.cache != nil {
		s.cache.Invalidate(ctx, sharedFeedKey)
	}
}

// SharedFeed 公共分享页：shared=true 且未删，附作者公开信息。
// 有 redis 时走 singleflight 缓存，回源逻辑相同。
func (s *Service) SharedFeed(ctx context.Context) ([]SharedItem, error) {
	if s.cache == nil {
		return s.loadSharedFeed(ctx)
	}
	out, err := cache.GetOrLoadJSON[[]SharedItem](s.cache, ctx, sharedFeedKey, sharedFeedTTL,
		func(ctx context.Context) (*[]SharedItem, error) {
			items, err := s.loadSharedFeed(ctx)
			if err != nil {
				return nil, err
			}
			return &items, nil
		})
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, nil
	}
	return *out, nil
}

func (s *Service) loadSharedFeed(ctx context.Context) ([]SharedItem, error) {
	items, err := s.contents.ListShared(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]SharedItem, 0, len(items))
	for i := range items {
		c := &items[i]
		item := SharedItem{
			ID:          c.ID,
			Title:       c.Title,
			Body:        c.Body,
			ContentType: c.ContentType,
			CreatedAt:   c.CreatedAt,
		}
		if u, err := s.users.FindByID(ctx, c.UserID); err == nil && u != nil {
			item.User = AuthorInfo{Username: u.Username, FullName: u.FullName, ImgURL: u.ImgURL}
		}
		if subj, err := s.subjects.FindByID(ctx, c.SubjectID); err == nil && subj != nil {
			item.SubjectTitle = subj.Title
		}
		out = append(out, item)
	}
	return out, nil
}

func (s *Service) populate(ctx context.Context, c *domain.Content) *View {
	v := &View{Content: *c}
	if c.SubjectID != "" {
		if subj, err := s.subjects.FindByID(ctx, c.SubjectID); err == nil && subj != nil {
			v.SubjectTitle = subj.Title
		}
	}
	return v
}
