package ez

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	resp "studyhub-server/internal/transport/http/response"
)

type EZ struct{ g *gin.RouterGroup }

func New(g *gin.RouterGroup) EZ { return EZ{g: g} }

// 绑定方式
type Binder string

const (
	BindJSON  Binder = "json"  // 从 JSON 绑定
	BindQuery Binder = "query" // 从 URL ?a=b 绑定
	BindNone  Binder = "none"  // 不绑定，自己从 c.Param / c.PostForm 取
)

// AErr 统一错误对象，Code 直接就是 HTTP 状态码
type AErr struct {
	Code int
	Msg  string
	Err  error
}

func (e *AErr) Error() string {
	if e.Msg != "" {
		return e.Msg
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return "action error"
}

func BadRequest(msg string) error   { return &AErr{Code: 400, Msg: msg} }
func Unauthorized(msg string) error { return &AErr{Code: 401, Msg: msg} }
func Forbidden(msg string) error    { return &AErr{Code: 403, Msg: msg} }
func NotFound(msg string) error     { return &AErr{Code: 404, Msg: msg} }
func Internal(msg string, err error) error {
	return &AErr{Code: 500, Msg: msg, Err: err}
}

// Action 非 CRUD 接口的一行注册：I 入参，O 出参
type Action[I any, O any] struct {
	Method  string // "GET" | "POST" | "PUT" | "DELETE"
	Path    string
	Binder  Binder
	Auth    bool // 是否要求登录（检查 userId）
	UseTx   bool // 是否包事务
	Handler func(c *gin.Context, db *gorm.DB, in *I) (O, error)
}

func RegisterAction[I any, O any](e EZ, db *gorm.DB, a Action[I, O]) {
	h := func(c *gin.Context) {
		if a.Auth && c.GetString("userId") == "" {
			resp.Fail(c, resp.CodeUnauthorized, "unauthorized")
			return
		}

		var in I
		var bindErr error
		switch a.Binder {
		case BindJSON:
			bindErr = c.ShouldBindJSON(&in)
		case BindQuery:
			bindErr = c.ShouldBindQuery(&in)
		default: // BindNone
		}
		if bindErr != nil {
			resp.Fail(c, resp.CodeBadRequest, bindErr.Error())
			return
		}

		run := func(tx *gorm.DB) (O, error) { return a.Handler(c, tx, &in) }
		var out O
		var err error
		if a.UseTx {
			err = db.WithContext(c).Transaction(func(tx *gorm.DB) error {
				o, e := run(tx)
				out = o
				return e
			})
		} else {
			out, err = run(db.WithContext(c))
		}

		if err != nil {
			var ae *AErr
			if errors.As(err, &ae) {
				resp.Fail(c, ae.Code, ae.Error())
				return
			}
			resp.Fail(c, resp.CodeServerError, err.Error())
			return
		}
		c.JSON(http.StatusOK, resp.OK(out))
	}

	switch strings.ToUpper(a.Method) {
	case http.MethodGet:
		e.g.GET(a.Path, h)
	case http.MethodPut:
		e.g.PUT(a.Path, h)
	case http.MethodDelete:
		e.g.DELETE(a.Path, h)
	default: // 默认 POST
		e.g.POST(a.Path, h)
	}
}
