package ez

import (
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	resp "studyhub-server/internal/transport/http/response"
	"studyhub-server/pkg/utils"
)

// CrudHooks 各步骤的可选回调
type CrudHooks[T any] struct {
	BeforeCreate func(c *gin.Context, m *T) error
	BeforeUpdate func(c *gin.Context, m *T) error
	ScopeList    func(c *gin.Context, q *gorm.DB) *gorm.DB // 自定义筛选/排序
	AfterGet     func(c *gin.Context, m *T)
}

// CrudConfig 归属用户的资源一行挂全套 CRUD（科目、提醒这类简单资源）
type CrudConfig[T any] struct {
	DB    *gorm.DB
	Group *gin.RouterGroup // 已鉴权分组（能拿 userId）
	Path  string
	New   func() *T

	Hooks CrudHooks[T]

	AllowCreate bool
	AllowList   bool
	AllowGet    bool
	AllowUpdate bool
	AllowDelete bool

	IDField    string // 默认 "ID"
	OwnerField string // 默认优先 "OwnerID"，其次 "UserID"/"UID"

	OrderBy string // 为空则按 ID DESC
}

func (c *CrudConfig[T]) idFieldCandidates() []string {
	if c.IDField != "" {
		return []string{c.IDField, "ID", "Id"}
	}
	return []string{"ID", "Id"}
}

func (c *CrudConfig[T]) ownerFieldCandidates() []string {
	if c.OwnerField != "" {
		return []string{c.OwnerField, "OwnerID", "UserID", "UID"}
	}
	return []string{"OwnerID", "UserID", "UID"}
}

func getStringFieldPtr(obj any, candidates []string) (*string, bool) {
	v := reflect.ValueOf(obj)
	if v.Kind() != reflect.Ptr {
		return nil, false
	}
	v = v.Elem()
	if v.Kind() != reflect.Struct {
		return nil, false
	}
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.PkgPath != "" { // 未导出字段跳过
			continue
		}
		for _, cand := range candidates {
			if f.Name == cand {
				fv := v.Field(i)
				if fv.Kind() == reflect.String && fv.CanSet() {
					return fv.Addr().Interface().(*string), true
				}
			}
		}
	}
	return nil, false
}

func readStringField(obj any, candidates []string) (string, bool) {
	p, ok := getStringFieldPtr(obj, candidates)
	if !ok {
		return "", false
	}
	return *p, true
}

func writeStringField(obj any, candidates []string, val string) bool {
	p, ok := getStringFieldPtr(obj, candidates)
	if !ok {
		return false
	}
	*p = val
	return true
}

func atoiDefault(s string, def int) int {
	if v, err := strconv.Atoi(s); err == nil && v > 0 {
		return v
	}
	return def
}

func toSnake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r + ('a' - 'A'))
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Crud 注册（模型无需实现任何接口，靠反射找 ID/Owner 字段）
func Crud[T any](cfg CrudConfig[T]) {
	if !cfg.AllowCreate && !cfg.AllowGet && !cfg.AllowList && !cfg.AllowUpdate && !cfg.AllowDelete {
		cfg.AllowCreate, cfg.AllowList, cfg.AllowGet, cfg.AllowUpdate, cfg.AllowDelete = true, true, true, true, true
	}

	idFieldNames := cfg.idFieldCandidates()
	ownerFieldNames := cfg.ownerFieldCandidates()

	if cfg.AllowCreate {
		cfg.Group.POST(cfg.Path, func(c *gin.Context) {
			m := cfg.New()
			if err := c.ShouldBindJSON(m); err != nil {
				resp.Fail(c, resp.CodeBadRequest, err.Error())
				return
			}
			uid := c.GetString("userId")
			if uid == "" {
				resp.Fail(c, resp.CodeUnauthorized, "unauthorized")
				return
			}
			if id, ok := readStringField(m, idFieldNames); !ok {
				resp.Fail(c, resp.CodeBadRequest, "id field not found")
				return
			} else if strings.TrimSpace(id) == "" {
				_ = writeStringField(m, idFieldNames, utils.NewID())
			}
			if !writeStringField(m, ownerFieldNames, uid) {
				resp.Fail(c, resp.CodeBadRequest, "owner field not found")
				return
			}
			if cfg.Hooks.BeforeCreate != nil {
				if err := cfg.Hooks.BeforeCreate(c, m); err != nil {
					resp.Fail(c, resp.CodeBadRequest, err.Error())
					return
				}
			}
			if err := cfg.DB.WithContext(c).Create(m).Error; err != nil {
				resp.Fail(c, resp.CodeBadRequest, err.Error())
				return
			}
			if cfg.Hooks.AfterGet != nil {
				cfg.Hooks.AfterGet(c, m)
			}
			c.JSON(http.StatusOK, resp.OK(m))
		})
	}

	if cfg.AllowList {
		cfg.Group.GET(cfg.Path, func(c *gin.Context) {
			uid := c.GetString("userId")
			if uid == "" {
				resp.Fail(c, resp.CodeUnauthorized, "unauthorized")
				return
			}
			page := atoiDefault(c.Query("page"), 1)
			size := atoiDefault(c.Query("size"), 20)
			if size <= 0 || size > 100 {
				size = 20
			}
			offset := (page - 1) * size

			// 用结构体 Where 自动映射列名
			ownerFilter := cfg.New()
			if !writeStringField(ownerFilter, ownerFieldNames, uid) {
				resp.Fail(c, resp.CodeBadRequest, "owner field not found")
				return
			}

			q := cfg.DB.WithContext(c).Model(cfg.New()).Where(ownerFilter)
			if cfg.Hooks.ScopeList != nil {
				q = cfg.Hooks.ScopeList(c, q)
			}

			var total int64
			if err := q.Count(&total).Error; err != nil {
				resp.Fail(c, resp.CodeServerError, err.Error())
				return
			}

			var items []T
			if cfg.OrderBy != "" {
				q = q.Order(cfg.OrderBy)
			} else {
				idCol := toSnake(idFieldNames[0])
				if idCol == "" {
					idCol = "id"
				}
				q = q.Order(clause.OrderByColumn{Column: clause.Column{Name: idCol}, Desc: true})
			}
			if err := q.Limit(size).Offset(offset).Find(&items).Error; err != nil {
				resp.Fail(c, resp.CodeServerError, err.Error())
				return
			}
			if cfg.Hooks.AfterGet != nil {
				for i := range items {
					cfg.Hooks.AfterGet(c, &items[i])
				}
			}
			c.JSON(http.StatusOK, resp.OK(gin.H{
				"list": items, "total": total, "page": page, "size": size,
			}))
		})
	}

	if cfg.AllowGet {
		cfg.Group.GET(cfg.Path+"/:id", func(c *gin.Context) {
			uid := c.GetString("userId")
			if uid == "" {
				resp.Fail(c, resp.CodeUnauthorized, "unauthorized")
				return
			}
			filter := cfg.New()
			_ = writeStringField(filter, idFieldNames, c.Param("id"))
			_ = writeStringField(filter, ownerFieldNames, uid)

			m := cfg.New()
			if err := cfg.DB.WithContext(c).Where(filter).First(m).Error; err != nil {
				resp.Fail(c, resp.CodeNotFound, "not found")
				return
			}
			if cfg.Hooks.AfterGet != nil {
				cfg.Hooks.AfterGet(c, m)
			}
			c.JSON(http.StatusOK, resp.OK(m))
		})
	}

	if cfg.AllowUpdate {
		cfg.Group.PUT(cfg.Path+"/:id", func(c *gin.Context) {
			uid := c.GetString("userId")
			if uid == "" {
				resp.Fail(c, resp.CodeUnauthorized, "unauthorized")
				return
			}
			id := c.Param("id")

			// 先确认归属
			check := cfg.New()
			_ = writeStringField(check, idFieldNames, id)
			_ = writeStringField(check, ownerFieldNames, uid)
			if err := cfg.DB.WithContext(c).Where(check).First(check).Error; err != nil {
				resp.Fail(c, resp.CodeNotFound, "not found")
				return
			}

			in := cfg.New()
			if err := c.ShouldBindJSON(in); err != nil {
				resp.Fail(c, resp.CodeBadRequest, err.Error())
				return
			}
			// 强制保持 ID/Owner
			_ = writeStringField(in, idFieldNames, id)
			_ = writeStringField(in, ownerFieldNames, uid)

			if cfg.Hooks.BeforeUpdate != nil {
				if err := cfg.Hooks.BeforeUpdate(c, in); err != nil {
					resp.Fail(c, resp.CodeBadRequest, err.Error())
					return
				}
			}
			if err := cfg.DB.WithContext(c).Model(cfg.New()).Where(check).Updates(in).Error; err != nil {
				resp.Fail(c, resp.CodeBadRequest, err.Error())
				return
			}
			if cfg.Hooks.AfterGet != nil {
				cfg.Hooks.AfterGet(c, in)
			}
			c.JSON(http.StatusOK, resp.OK(gin.H{"id": id}))
		})
	}

	if cfg.AllowDelete {
		cfg.Group.DELETE(cfg.Path+"/:id", func(c *gin.Context) {
			uid := c.GetString("userId")
			if uid == "" {
				resp.Fail(c, resp.CodeUnauthorized, "unauthorized")
				return
			}
			filter := cfg.New()
			_ = writeStringField(filter, idFieldNames, c.Param("id"))
			_ = writeStringField(filter, ownerFieldNames, uid)

			res := cfg.DB.WithContext(c).Where(filter).Delete(cfg.New())
			if res.Error != nil {
				resp.Fail(c, resp.CodeServerError, res.Error.Error())
				return
			}
			if res.RowsAffected == 0 {
				resp.Fail(c, resp.CodeNotFound, "not found")
				return
			}
			c.JSON(http.StatusOK, resp.OK(gin.H{"id": c.Param("id")}))
		})
	}
}
