package domain

import (
	"context"
	"time"
)

type Subject struct {
	ID          string    `gorm:"primaryKey;size:36" json:"id"`
	Title       string    `gorm:"size:191;not null" json:"title"`
	Description string    `gorm:"type:text" json:"description"`
	UserID      string    `gorm:"index;size:36" json:"userId"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func (Subject) TableName() string { return "subjects" }

// 内容类型：摘要 / 考卷
const (
	ContentTypeSummary = "Summary"
	ContentTypeExam    = "Exam"
)

// Content 软删除约定：Deleted 只打标记不删数据，常规查询一律过滤；
// Restore 清掉两个字段；真正删除是后台的特权操作。
type Content struct {
	ID          string     `gorm:"primaryKey;size:36" json:"id"`
	UserID      string     `gorm:"index;size:36" json:"userId"`
	SubjectID   string     `gorm:"index;size:36" json:"subjectId"`
	Title       string     `gorm:"size:191" json:"title"`
	Body        string     `gorm:"type:text;not null" json:"content"`
	ContentType string     `gorm:"size:16;not null" json:"contentType"`
	Shared      bool       `json:"shared"`
	CopyContent bool       `json:"copyContent"`
	Deleted     bool       `gorm:"index" json:"deleted"`
	DeletedAt   *time.Time `json:"deletedAt"`
	CreatedAt   time.Time  `json:"createdAt"`
}

func (Content) TableName() string { return "contents" }

var Weekdays = []string{"Sunday", "Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday"}

// Notification 每周重复的学习提醒：精确到 {星期, 时, 分} 一个触发窗口
type Notification struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	SubjectID string    `gorm:"index;size:36" json:"subjectId"`
	UserID    string    `gorm:"index;size:36" json:"userId"`
	Day       string    `gorm:"size:16;not null" json:"day"`
	Hour      int       `gorm:"not null" json:"hour"`
	Minute    int       `gorm:"not null" json:"minute"`
	CreatedAt time.Time `json:"createdAt"`
}

func (Notification) TableName() string { return "notifications" }

type SubjectStore interface {
	Create(ctx context.Context, s *Subject) error
	FindByID(ctx context.Context, id string) (*Subject, error)
	ListByUser(ctx context.Context, userID string) ([]Subject, error)
	Update(ctx context.Context, s *Subject) error
	Delete(ctx context.Context, id string) error
}

type ContentStore interface {
	Create(ctx context.Context, c *Content) error
	// FindByID 只返回未软删的记录
	FindByID(ctx context.Context, id string) (*Content, error)
	ListByUser(ctx context.Context, userID, subjectID, contentType string) ([]Content, error)
	ListShared(ctx context.Context) ([]Content, error)
	ListTrash(ctx context.Context, userID string) ([]Content, error)
	Update(ctx context.Context, c *Content) error
	SoftDelete(ctx context.Context, id string, at time.Time) (bool, error)
	Restore(ctx context.Context, id string) (bool, error)
	Purge(ctx context.Context, id string) (bool, error)
}

type NotificationStore interface {
	Create(ctx context.Context, n *Notification) error
	Delete(ctx context.Context, id string) error
	ListByUser(ctx context.Context, userID string) ([]Notification, error)
	// FindDue 精确匹配 {day, hour, minute} 三元组
	FindDue(ctx context.Context, day string, hour, minute int) ([]Notification, error)
}
