package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"studyhub-server/internal/domain"
)

// Mailer 投递一封提醒邮件；失败由调度器记日志后吞掉
type Mailer interface {
	SendReminder(ctx context.Context, to, studentName, subjectTitle string) error
}

// Scheduler 每分钟一跳，按 {星期, 时, 分} 精确匹配到期提醒。
// 跳过的分钟不补发：进程暂停或时钟偏移时该窗口的提醒静默丢失，
// 对尽力而为的提醒功能是可接受的。
type Scheduler struct {
	notifications domain.NotificationStore
	subjects      domain.SubjectStore
	users         domain.UserStore
	mailer        Mailer
	log           *zap.Logger

	cron        *cron.Cron
	tickTimeout time.Duration
}

func New(notifications domain.NotificationStore, subjects domain.SubjectStore, users domain.UserStore, mailer Mailer, log *zap.Logger) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{
		notifications: notifications,
		subjects:      subjects,
		users:         users,
		mailer:        mailer,
		log:           log,
		tickTimeout:   50 * time.Second, // 必须在下一跳之前结束
	}
}

// Start 挂一个 "* * * * *" 的 cron 任务，跑满进程生命周期
func (s *Scheduler) Start() error {
	s.cron = cron.New()
	if _, err := s.cron.AddFunc("* * * * *", func() { s.Tick(time.Now()) }); err != nil {
		return err
	}
	s.cron.Start()
	s.log.Info("reminder scheduler started")
	return nil
}

func (s *Scheduler) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

// Tick 一跳：查到期提醒，逐条独立投递。
// 单条失败只记日志，调度器本身永不因此停摆。
func (s *Scheduler) Tick(now time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), s.tickTimeout)
	defer cancel()

	day := now.Weekday().String()
	due, err := s.notifications.FindDue(ctx, day, now.Hour(), now.Minute())
	if err != nil {
		s.log.Error("find due notifications", zap.Error(err))
		return
	}
	if len(due) == 0 {
		return
	}

	// 每条提醒一个独立的错误边界，只在日志处汇合
	var wg sync.WaitGroup
	for i := range due {
		wg.Add(1)
		go func(n domain.Notification) {
			defer wg.Done()
			s.fire(ctx, n)
		}(due[i])
	}
	wg.Wait()
}

func (s *Scheduler) fire(ctx context.Context, n domain.Notification) {
	subj, err := s.subjects.FindByID(ctx, n.SubjectID)
	if err != nil || subj == nil {
		// 科目已删或悬空引用：静默跳过
		return
	}
	u, err := s.users.FindByID(ctx, n.UserID)
	if err != nil || u == nil || u.Email == "" {
		return
	}

	name := u.FullName
	if name == "" {
		name = u.Username
	}
	if err := s.mailer.SendReminder(ctx, u.Email, name, subj.Title); err != nil {
		s.log.Error("send reminder",
			zap.String("notification_id", n.ID),
			zap.String("to", u.Email),
			zap.Error(err))
		return
	}
	s.log.Info("reminder sent",
		zap.String("to", u.Email),
		zap.String("subject", subj.Title))
}
