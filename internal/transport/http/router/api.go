package router

import (
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"studyhub-server/internal/core/auth"
	"studyhub-server/internal/domain"
	"studyhub-server/internal/feature/content"
	"studyhub-server/internal/feature/session"
	"studyhub-server/internal/transport/http/ez"
	"studyhub-server/internal/transport/http/middleware"
	resp "studyhub-server/internal/transport/http/response"
)

// Deps 对外 API 引擎的全部依赖
type Deps struct {
	Log      *zap.Logger
	DB       *gorm.DB
	TS       *auth.TokenService
	Sessions *session.Service
	Contents *content.Service
	Google   session.ProfileFetcher
	Users    domain.UserStore
}

// NewAPIEngine 对外 API：限流/限并发/限体积/超时 + 指标 + 访问日志。
// /auth 下是公开端点，/api/v1 下全部要求 Bearer access token。
func NewAPIEngine(d Deps) *gin.Engine {
	r := gin.New()
	r.Use(middleware.RequestID())
	r.Use(middleware.RateLimitPerIP(50, 100))
	r.Use(middleware.ConcurrencyLimit(512))
	r.Use(middleware.MaxBodyBytes(2 << 20)) // 头像 data-url 也够
	r.Use(middleware.Timeout(15 * time.Second))
	r.Use(middleware.SimpleRecovery())
	r.Use(middleware.Metrics())
	r.Use(middleware.AccessLog(d.Log))

	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	mountAuth(r, d)

	api := r.Group("/api/v1")
	api.Use(middleware.AuthJWT(d.TS))
	mountSubjects(api, d)
	mountContent(api, d)
	mountNotifications(api, d)
	mountUsers(api, d)
	return r
}

// 登录类端点的返回不走 {code,msg,data} 信封：前端契约要求平铺字段
func authPayload(res *session.Result) gin.H {
	u := res.User
	return gin.H{
		"id":           u.ID,
		"username":     u.Username,
		"email":        u.Email,
		"fullName":     u.FullName,
		"imgUrl":       u.ImgURL,
		"accessToken":  res.Pair.AccessToken,
		"refreshToken": res.Pair.RefreshToken,
	}
}

func mountAuth(r *gin.Engine, d Deps) {
	g := r.Group("/auth")

	g.POST("/register", func(c *gin.Context) {
		var in session.RegisterInput
		if err := c.ShouldBindJSON(&in); err != nil {
			resp.Fail(c, resp.CodeBadRequest, err.Error())
			return
		}
		res, err := d.Sessions.Register(c.Request.Context(), in)
		if err != nil {
			switch {
			case errors.Is(err, domain.ErrEmailTaken), errors.Is(err, domain.ErrUsernameTaken):
				resp.Fail(c, resp.CodeBadRequest, err.Error())
			default:
				resp.Fail(c, resp.CodeServerError, err.Error())
			}
			return
		}
		c.JSON(http.StatusOK, authPayload(res))
	})

	g.POST("/login", func(c *gin.Context) {
		var in struct {
			EmailOrUsername string `json:"emailOrUsername" binding:"required"`
			Password        string `json:"password" binding:"required"`
		}
		if err := c.ShouldBindJSON(&in); err != nil {
			resp.Fail(c, resp.CodeBadRequest, err.Error())
			return
		}
		res, err := d.Sessions.Login(c.Request.Context(), in.EmailOrUsername, in.Password)
		if err != nil {
			if errors.Is(err, domain.ErrInvalidCredentials) {
				resp.Fail(c, resp.CodeBadRequest, err.Error())
				return
			}
			resp.Fail(c, resp.CodeServerError, err.Error())
			return
		}
		c.JSON(http.StatusOK, authPayload(res))
	})

	g.POST("/google", func(c *gin.Context) {
		var in struct {
			AccessToken string `json:"accessToken" binding:"required"`
		}
		if err := c.ShouldBindJSON(&in); err != nil {
			resp.Fail(c, resp.CodeBadRequest, err.Error())
			return
		}
		res, err := d.Sessions.LoginWithGoogle(c.Request.Context(), d.Google, in.AccessToken)
		if err != nil {
			if errors.Is(err, domain.ErrFederation) {
				resp.Fail(c, resp.CodeUnauthorized, "google sign-in failed")
				return
			}
			resp.Fail(c, resp.CodeServerError, err.Error())
			return
		}
		c.JSON(http.StatusOK, authPayload(res))
	})

	// 刷新旋转：旧 token 作废，换发新对；验签过但不在集合里会触发全量吊销，
	// 这里同样只回 401
	g.POST("/refresh", func(c *gin.Context) {
		var in struct {
			RefreshToken string `json:"refreshToken" binding:"required"`
		}
		if err := c.ShouldBindJSON(&in); err != nil {
			resp.Fail(c, resp.CodeBadRequest, err.Error())
			return
		}
		res, err := d.Sessions.Refresh(c.Request.Context(), in.RefreshToken)
		if err != nil {
			if errors.Is(err, domain.ErrInvalidToken) {
				resp.Fail(c, resp.CodeUnauthorized, "invalid refresh token")
				return
			}
			resp.Fail(c, resp.CodeServerError, err.Error())
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"id":           res.User.ID,
			"accessToken":  res.Pair.AccessToken,
			"refreshToken": res.Pair.RefreshToken,
		})
	})

	g.POST("/logout", func(c *gin.Context) {
		var in struct {
			RefreshToken string `json:"refreshToken" binding:"required"`
		}
		if err := c.ShouldBindJSON(&in); err != nil {
			resp.Fail(c, resp.CodeBadRequest, err.Error())
			return
		}
		if err := d.Sessions.Logout(c.Request.Context(), in.RefreshToken); err != nil {
			resp.Fail(c, resp.CodeBadRequest, "invalid refresh token")
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "logged out"})
	})

	me := r.Group("/auth")
	me.Use(middleware.AuthJWT(d.TS))
	me.GET("/me", func(c *gin.Context) {
		u, err := d.Sessions.Profile(c.Request.Context(), c.GetString("userId"))
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				resp.Fail(c, resp.CodeNotFound, "user not found")
				return
			}
			resp.Fail(c, resp.CodeServerError, err.Error())
			return
		}
		c.JSON(http.StatusOK, u)
	})
}

type subjectView struct {
	domain.Subject
	NumOfSummaries int64 `json:"numOfSummaries"`
	NumOfExams     int64 `json:"numOfExams"`
}

func mountSubjects(g *gin.RouterGroup, d Deps) {
	// 列表单独做：每个科目带未删内容的摘要/考卷计数
	e := ez.New(g)
	ez.RegisterAction(e, d.DB, ez.Action[struct{}, []subjectView]{
		Method: http.MethodGet, Path: "/subjects", Binder: ez.BindNone, Auth: true,
		Handler: func(c *gin.Context, db *gorm.DB, _ *struct{}) ([]subjectView, error) {
			uid := c.GetString("userId")
			var subjects []domain.Subject
			if err := db.Where("user_id = ?", uid).Order("created_at").Find(&subjects).Error; err != nil {
				return nil, err
			}

			type agg struct {
				SubjectID   string
				ContentType string
				N           int64
			}
			var rows []agg
			err := db.Model(&domain.Content{}).
				Select("subject_id, content_type, count(*) as n").
				Where("user_id = ? AND deleted <> ?", uid, true).
				Group("subject_id, content_type").
				Scan(&rows).Error
			if err != nil {
				return nil, err
			}

			out := make([]subjectView, 0, len(subjects))
			for _, s := range subjects {
				v := subjectView{Subject: s}
				for _, a := range rows {
					if a.SubjectID != s.ID {
						continue
					}
					switch a.ContentType {
					case domain.ContentTypeSummary:
						v.NumOfSummaries = a.N
					case domain.ContentTypeExam:
						v.NumOfExams = a.N
					}
				}
				out = append(out, v)
			}
			return out, nil
		},
	})

	ez.Crud(ez.CrudConfig[domain.Subject]{
		DB: d.DB, Group: g, Path: "/subjects", New: func() *domain.Subject { return &domain.Subject{} },
		OwnerField:  "UserID",
		AllowCreate: true, AllowGet: true, AllowUpdate: true, AllowDelete: true,
		Hooks: ez.CrudHooks[domain.Subject]{
			BeforeCreate: func(c *gin.Context, s *domain.Subject) error {
				if strings.TrimSpace(s.Title) == "" {
					return fmt.Errorf("title is required")
				}
				return nil
			},
		},
	})
}

func mountNotifications(g *gin.RouterGroup, d Deps) {
	validate := func(c *gin.Context, n *domain.Notification) error {
		if !slices.Contains(domain.Weekdays, n.Day) {
			return fmt.Errorf("day must be a weekday name")
		}
		if n.Hour < 0 || n.Hour > 23 {
			return fmt.Errorf("hour out of range")
		}
		if n.Minute < 0 || n.Minute > 59 {
			return fmt.Errorf("minute out of range")
		}
		return nil
	}
	ez.Crud(ez.CrudConfig[domain.Notification]{
		DB: d.DB, Group: g, Path: "/notifications", New: func() *domain.Notification { return &domain.Notification{} },
		OwnerField:  "UserID",
		AllowCreate: true, AllowList: true, AllowDelete: true,
		OrderBy: "created_at",
		Hooks: ez.CrudHooks[domain.Notification]{
			BeforeCreate: validate,
		},
	})
}

func mountContent(g *gin.RouterGroup, d Deps) {
	e := ez.New(g)

	type listQuery struct {
		SubjectID   string `form:"subjectId"`
		ContentType string `form:"contentType"`
	}
	ez.RegisterAction(e, d.DB, ez.Action[listQuery, []content.View]{
		Method: http.MethodGet, Path: "/content", Binder: ez.BindQuery, Auth: true,
		Handler: func(c *gin.Context, _ *gorm.DB, in *listQuery) ([]content.View, error) {
			return d.Contents.ListByUser(c.Request.Context(), c.GetString("userId"), in.SubjectID, in.ContentType)
		},
	})

	ez.RegisterAction(e, d.DB, ez.Action[struct{}, []content.SharedItem]{
		Method: http.MethodGet, Path: "/content/shared", Binder: ez.BindNone, Auth: true,
		Handler: func(c *gin.Context, _ *gorm.DB, _ *struct{}) ([]content.SharedItem, error) {
			return d.Contents.SharedFeed(c.Request.Context())
		},
	})

	ez.RegisterAction(e, d.DB, ez.Action[struct{}, []domain.Content]{
		Method: http.MethodGet, Path: "/content/trash", Binder: ez.BindNone, Auth: true,
		Handler: func(c *gin.Context, _ *gorm.DB, _ *struct{}) ([]domain.Content, error) {
			return d.Contents.Trash(c.Request.Context(), c.GetString("userId"))
		},
	})

	ez.RegisterAction(e, d.DB, ez.Action[struct{}, *content.View]{
		Method: http.MethodGet, Path: "/content/:id", Binder: ez.BindNone, Auth: true,
		Handler: func(c *gin.Context, _ *gorm.DB, _ *struct{}) (*content.View, error) {
			v, err := d.Contents.Get(c.Request.Context(), c.Param("id"))
			if err != nil {
				return nil, contentErr(err)
			}
			if v.UserID != c.GetString("userId") && !v.Shared {
				return nil, ez.NotFound("content not found")
			}
			return v, nil
		},
	})

	ez.RegisterAction(e, d.DB, ez.Action[content.CreateInput, *domain.Content]{
		Method: http.MethodPost, Path: "/content", Binder: ez.BindJSON, Auth: true,
		Handler: func(c *gin.Context, _ *gorm.DB, in *content.CreateInput) (*domain.Content, error) {
			in.UserID = c.GetString("userId")
			out, err := d.Contents.Create(c.Request.Context(), *in)
			if err != nil {
				return nil, contentErr(err)
			}
			return out, nil
		},
	})

	type updateInput struct {
		Title  *string `json:"title"`
		Body   *string `json:"content"`
		Shared *bool   `json:"shared"`
	}
	ez.RegisterAction(e, d.DB, ez.Action[updateInput, *content.View]{
		Method: http.MethodPut, Path: "/content/:id", Binder: ez.BindJSON, Auth: true,
		Handler: func(c *gin.Context, _ *gorm.DB, in *updateInput) (*content.View, error) {
			if err := requireOwner(c, d, c.Param("id")); err != nil {
				return nil, err
			}
			v, err := d.Contents.Update(c.Request.Context(), c.Param("id"), func(m *domain.Content) {
				if in.Title != nil && strings.TrimSpace(*in.Title) != "" {
					m.Title = strings.TrimSpace(*in.Title)
				}
				if in.Body != nil {
					m.Body = *in.Body
				}
				if in.Shared != nil {
					m.Shared = *in.Shared
				}
			})
			if err != nil {
				return nil, contentErr(err)
			}
			return v, nil
		},
	})

	// 软删：回收站可见，常规列表消失
	ez.RegisterAction(e, d.DB, ez.Action[struct{}, gin.H]{
		Method: http.MethodDelete, Path: "/content/:id", Binder: ez.BindNone, Auth: true,
		Handler: func(c *gin.Context, _ *gorm.DB, _ *struct{}) (gin.H, error) {
			if err := requireOwner(c, d, c.Param("id")); err != nil {
				return nil, err
			}
			if err := d.Contents.Delete(c.Request.Context(), c.Param("id")); err != nil {
				return nil, contentErr(err)
			}
			return gin.H{"id": c.Param("id")}, nil
		},
	})

	ez.RegisterAction(e, d.DB, ez.Action[struct{}, *domain.Content]{
		Method: http.MethodPost, Path: "/content/:id/restore", Binder: ez.BindNone, Auth: true,
		Handler: func(c *gin.Context, db *gorm.DB, _ *struct{}) (*domain.Content, error) {
			// 回收站里的行 FindByID 查不到，归属直接查表
			var m domain.Content
			if err := db.Where("id = ?", c.Param("id")).First(&m).Error; err != nil {
				return nil, ez.NotFound("content not found")
			}
			if m.UserID != c.GetString("userId") {
				return nil, ez.NotFound("content not found")
			}
			out, err := d.Contents.Restore(c.Request.Context(), c.Param("id"))
			if err != nil {
				return nil, contentErr(err)
			}
			return out, nil
		},
	})
}

// requireOwner 未删内容的归属校验；非本人一律按不存在处理
func requireOwner(c *gin.Context, d Deps, id string) error {
	v, err := d.Contents.Get(c.Request.Context(), id)
	if err != nil {
		return contentErr(err)
	}
	if v.UserID != c.GetString("userId") {
		return ez.NotFound("content not found")
	}
	return nil
}

func contentErr(err error) error {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return ez.NotFound("content not found")
	case errors.Is(err, content.ErrMissingFields), errors.Is(err, content.ErrBadContentType):
		return ez.BadRequest(err.Error())
	default:
		return err
	}
}

func mountUsers(g *gin.RouterGroup, d Deps) {
	g.GET("/users/me", func(c *gin.Context) {
		u, err := d.Users.FindByID(c.Request.Context(), c.GetString("userId"))
		if err != nil {
			resp.Fail(c, resp.CodeServerError, err.Error())
			return
		}
		if u == nil {
			resp.Fail(c, resp.CodeNotFound, "user not found")
			return
		}
		c.JSON(http.StatusOK, resp.OK(u))
	})

	g.PUT("/users/me", func(c *gin.Context) {
		var in struct {
			FullName *string `json:"fullName"`
			ImgURL   *string `json:"imgUrl"`
		}
		if err := c.ShouldBindJSON(&in); err != nil {
			resp.Fail(c, resp.CodeBadRequest, err.Error())
			return
		}
		if in.ImgURL != nil && *in.ImgURL != "" && !validImgURL(*in.ImgURL) {
			resp.Fail(c, resp.CodeBadRequest, "imgUrl must be an image data-url or http(s) url")
			return
		}
		u, err := d.Users.FindByID(c.Request.Context(), c.GetString("userId"))
		if err != nil {
			resp.Fail(c, resp.CodeServerError, err.Error())
			return
		}
		if u == nil {
			resp.Fail(c, resp.CodeNotFound, "user not found")
			return
		}
		if in.FullName != nil {
			u.FullName = strings.TrimSpace(*in.FullName)
		}
		if in.ImgURL != nil {
			u.ImgURL = *in.ImgURL
		}
		if err := d.Users.Update(c.Request.Context(), u); err != nil {
			resp.Fail(c, resp.CodeServerError, err.Error())
			return
		}
		c.JSON(http.StatusOK, resp.OK(u))
	})
}

func validImgURL(s string) bool {
	return strings.HasPrefix(s, "data:image/") ||
		strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}
