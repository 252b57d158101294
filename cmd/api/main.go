package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "go.uber.org/automaxprocs"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"studyhub-server/internal/core/auth"
	"studyhub-server/internal/core/cache"
	"studyhub-server/internal/core/config"
	"studyhub-server/internal/core/database"
	"studyhub-server/internal/core/logger"
	"studyhub-server/internal/core/server"
	"studyhub-server/internal/domain"
	"studyhub-server/internal/feature/content"
	"studyhub-server/internal/feature/session"
	"studyhub-server/internal/mail"
	"studyhub-server/internal/repo"
	"studyhub-server/internal/scheduler"
	"studyhub-server/internal/transport/http/router"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load(os.Getenv("CONFIG_PATH"))
	log, cleanup := newLogger(cfg)
	defer cleanup()

	// 数据库（失败会直接 Fatal）
	db := mustOpenDB(cfg, log)
	log.Info("database connected", zap.String("driver", cfg.DB.Driver))

	if cfg.DB.AutoMigrate {
		err := db.AutoMigrate(
			&domain.User{},
			&domain.RefreshToken{},
			&domain.Subject{},
			&domain.Content{},
			&domain.Notification{},
		)
		if err != nil {
			log.Fatal("automigrate failed", zap.Error(err))
		}
		log.Info("automigrate done")
	}

	ts := &auth.TokenService{
		Secret:     []byte(cfg.JWT.Secret),
		Issuer:     cfg.JWT.Issuer,
		AccessTTL:  time.Duration(cfg.JWT.AccessTokenTTLMin) * time.Minute,
		RefreshTTL: time.Duration(cfg.JWT.RefreshTokenTTLHr) * time.Hour,
	}
	if err := ts.Check(); err != nil {
		// 不拦启动，令牌操作会逐次安全失败
		log.Warn("jwt secret missing, token operations will fail", zap.Error(err))
	}

	users := repo.NewUserRepo(db)
	tokens := repo.NewRefreshTokenRepo(db)
	subjects := repo.NewSubjectRepo(db)
	contents := repo.NewContentRepo(db)
	notifications := repo.NewNotificationRepo(db)

	var rc *cache.Cache
	if cfg.Redis.Addr != "" {
		rc = cache.New(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		defer rc.Close()
		log.Info("redis cache enabled", zap.String("addr", cfg.Redis.Addr))
	}

	sessions := session.NewService(users, tokens, ts, log)
	contentSvc := content.NewService(contents, subjects, users, rc, log)

	// 提醒调度器：邮件凭据就绪才启动
	if cfg.Mail.Enabled {
		mailer, err := mail.NewGmail(cfg.Mail.CredentialsFile, cfg.Mail.From, log)
		if err != nil {
			log.Fatal("mail credentials", zap.Error(err))
		}
		sched := scheduler.New(notifications, subjects, users, mailer, log)
		if err := sched.Start(); err != nil {
			log.Fatal("scheduler start", zap.Error(err))
		}
		defer sched.Stop()
	} else {
		log.Info("mail disabled, reminder scheduler not started")
	}

	r := router.NewAPIEngine(router.Deps{
		Log:      log,
		DB:       db,
		TS:       ts,
		Sessions: sessions,
		Contents: contentSvc,
		Google:   session.NewGoogleFetcher(),
		Users:    users,
	})

	addr := server.Addr(cfg.App.HTTP.Host, cfg.App.HTTP.Port)
	srv := server.BuildServer(
		addr, r,
		time.Duration(cfg.App.HTTP.ReadTimeoutSec)*time.Second,
		time.Duration(cfg.App.HTTP.WriteTimeoutSec)*time.Second,
		time.Duration(cfg.App.HTTP.IdleTimeoutSec)*time.Second,
	)

	// 启动日志
	host4human := cfg.App.HTTP.Host
	if host4human == "" || host4human == "0.0.0.0" {
		host4human = "127.0.0.1"
	}
	baseURL := "http://" + host4human + ":" + fmt.Sprint(cfg.App.HTTP.Port)
	log.Info("api starting",
		zap.String("addr", addr),
		zap.String("open", baseURL),
		zap.String("health", baseURL+"/health"),
		zap.String("api_v1", baseURL+"/api/v1"),
	)

	// 异步启动
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("api start FAILED", zap.Error(err))
		}
	}()
	log.Info("api started SUCCESS")

	// 优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
	log.Info("api stopped gracefully")
}

func newLogger(cfg *config.Config) (*zap.Logger, func()) {
	if cfg.Log.File != "" {
		return logger.NewWithRotate(cfg.Log.Level, cfg.Log.JSON, cfg.Log.File,
			cfg.Log.MaxSizeMB, cfg.Log.MaxBackups, cfg.Log.MaxAgeDays, cfg.Log.Compress)
	}
	return logger.New(cfg.Log.Level, cfg.Log.JSON)
}

func mustOpenDB(cfg *config.Config, l *zap.Logger) *gorm.DB {
	db, err := database.NewGorm(database.Opts{
		Driver:             cfg.DB.Driver,
		DSN:                cfg.DB.DSN,
		Username:           cfg.DB.Username,
		Password:           cfg.DB.Password,
		MaxOpenConns:       cfg.DB.MaxOpenConns,
		MaxIdleConns:       cfg.DB.MaxIdleConns,
		ConnMaxLifetimeMin: cfg.DB.ConnMaxLifetimeMin,
		LogLevel:           cfg.DB.LogLevel,
	})
	if err != nil {
		l.Fatal("db open", zap.Error(err))
	}
	return db
}
