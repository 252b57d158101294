package router

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"studyhub-server/internal/core/server"
	"studyhub-server/internal/domain"
	"studyhub-server/internal/feature/content"
	resp "studyhub-server/internal/transport/http/response"
)

// AdminDeps 后台引擎依赖。后台不对公网开放，部署上靠网络隔离，
// 不在这里做账号体系。
type AdminDeps struct {
	Log      *zap.Logger
	DB       *gorm.DB
	Contents *content.Service
	Users    domain.UserStore
	Tokens   domain.RefreshTokenStore
}

// NewAdminEngine 运维端点：用户清单、会话吊销、回收站巡查和物理清除
func NewAdminEngine(d AdminDeps) *gin.Engine {
	r := server.NewRouter(d.Log)
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	g := r.Group("/admin/v1")

	g.GET("/users", func(c *gin.Context) {
		var users []domain.User
		if err := d.DB.WithContext(c).Order("created_at").Limit(500).Find(&users).Error; err != nil {
			resp.Fail(c, resp.CodeServerError, err.Error())
			return
		}
		c.JSON(http.StatusOK, resp.OK(users))
	})

	// 封禁：打标记 + 清空会话；登录和刷新从此都被拒
	g.POST("/users/:id/ban", func(c *gin.Context) {
		u, err := d.Users.FindByID(c.Request.Context(), c.Param("id"))
		if err != nil {
			resp.Fail(c, resp.CodeServerError, err.Error())
			return
		}
		if u == nil {
			resp.Fail(c, resp.CodeNotFound, "user not found")
			return
		}
		u.Banned = true
		if err := d.Users.Update(c.Request.Context(), u); err != nil {
			resp.Fail(c, resp.CodeServerError, err.Error())
			return
		}
		if err := d.Tokens.RevokeAll(c.Request.Context(), u.ID); err != nil {
			resp.Fail(c, resp.CodeServerError, err.Error())
			return
		}
		d.Log.Info("admin banned user", zap.String("user_id", u.ID))
		c.JSON(http.StatusOK, resp.OK(gin.H{"id": u.ID}))
	})

	// 强制下线：清空该用户全部刷新令牌
	g.POST("/users/:id/revoke-sessions", func(c *gin.Context) {
		if err := d.Tokens.RevokeAll(c.Request.Context(), c.Param("id")); err != nil {
			resp.Fail(c, resp.CodeServerError, err.Error())
			return
		}
		d.Log.Info("admin revoked sessions", zap.String("user_id", c.Param("id")))
		c.JSON(http.StatusOK, resp.OK(gin.H{"id": c.Param("id")}))
	})

	g.GET("/content/trash/:userId", func(c *gin.Context) {
		items, err := d.Contents.Trash(c.Request.Context(), c.Param("userId"))
		if err != nil {
			resp.Fail(c, resp.CodeServerError, err.Error())
			return
		}
		c.JSON(http.StatusOK, resp.OK(items))
	})

	g.POST("/content/:id/restore", func(c *gin.Context) {
		out, err := d.Contents.Restore(c.Request.Context(), c.Param("id"))
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				resp.Fail(c, resp.CodeNotFound, "content not found")
				return
			}
			resp.Fail(c, resp.CodeServerError, err.Error())
			return
		}
		c.JSON(http.StatusOK, resp.OK(out))
	})

	// 物理删除只在后台暴露，API 端的删除永远是软删
	g.DELETE("/content/:id/purge", func(c *gin.Context) {
		if err := d.Contents.Purge(c.Request.Context(), c.Param("id")); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				resp.Fail(c, resp.CodeNotFound, "content not found")
				return
			}
			resp.Fail(c, resp.CodeServerError, err.Error())
			return
		}
		d.Log.Info("admin purged content", zap.String("content_id", c.Param("id")))
		c.JSON(http.StatusOK, resp.OK(gin.H{"id": c.Param("id")}))
	})

	return r
}
