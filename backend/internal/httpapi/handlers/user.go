package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"github.com/lucasmd12/Criaii/backend/internal/auth"
	"github.com/lucasmd12/Criaii/backend/internal/cache"
	"github.com/lucasmd12/Criaii/backend/internal/store"
)

const accessTokenTTL = 24 * time.Hour

type registerReq struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type loginReq struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// profileView 是 user:{id} 缓存条目的内容：给前端看的用户资料投影，
// 不含密码哈希。缓存里存的就是它的 JSON。
type profileView struct {
	ID        uint64 `json:"id"`
	Username  string `json:"username"`
	CreatedAt string `json:"createdAt"`
}

type UserHandler struct {
	users *store.UserStore
	cache *cache.ReadThroughCache
}

func NewUserHandler(users *store.UserStore, rc *cache.ReadThroughCache) *UserHandler {
	return &UserHandler{users: users, cache: rc}
}

func (h *UserHandler) Register(c *gin.Context) {
	var req registerReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "JSON格式错误"})
		return
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "生成密码哈希失败"})
		return
	}

	u, err := h.users.Create(c.Request.Context(), req.Username, passwordHash)
	if err != nil {
		if errors.Is(err, store.ErrUsernameTaken) {
			c.JSON(http.StatusConflict, gin.H{"error": "用户名已存在"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "创建用户失败"})
		return
	}

	// 直写缓存：新用户的资料马上就会被读（前端注册后立刻进主页）
	h.cacheProfile(c, u)

	token, _, err := auth.SignAccessToken(u.ID, u.Username, accessTokenTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "生成访问令牌失败"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"accessToken": token,
		"tokenType":   "Bearer",
		"user": gin.H{
			"id":       u.ID,
			"username": u.Username,
		},
	})
}

func (h *UserHandler) Login(c *gin.Context) {
	var req loginReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "JSON格式错误"})
		return
	}

	u, err := h.users.GetByUsername(c.Request.Context(), req.Username)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "用户名或密码错误"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "获取用户失败"})
		return
	}

	if err := bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(req.Password)); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "用户名或密码错误"})
		return
	}

	token, _, err := auth.SignAccessToken(u.ID, u.Username, accessTokenTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "生成访问令牌失败"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"accessToken": token,
		"tokenType":   "Bearer",
		"expiresIn":   int(accessTokenTTL.Seconds()),
		"user": gin.H{
			"id":       u.ID,
			"username": u.Username,
		},
	})
}

// Profile 走读穿缓存：命中直接回缓存的 JSON，未命中回源 MySQL 再回填。
func (h *UserHandler) Profile(c *gin.Context) {
	userID := c.GetUint64("userId")
	if userID == 0 {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "User context missing"})
		return
	}
	id := strconv.FormatUint(userID, 10)

	if data, ok := h.cache.Get(c.Request.Context(), "user", id); ok {
		c.Data(http.StatusOK, "application/json; charset=utf-8", data)
		return
	}

	u, err := h.users.GetByID(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "用户不存在"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "获取用户失败"})
		return
	}

	data := h.cacheProfile(c, u)
	c.Data(http.StatusOK, "application/json; charset=utf-8", data)
}

// cacheProfile 把用户资料投影写进 user:{id} 缓存，返回写入的 JSON。
// 写失败只影响下次读的命中率，不影响本次请求。
func (h *UserHandler) cacheProfile(c *gin.Context, u *store.User) []byte {
	view := profileView{
		ID:        u.ID,
		Username:  u.Username,
		CreatedAt: u.CreatedAt.Format(time.RFC3339),
	}
	data, err := json.Marshal(view)
	if err != nil {
		return nil
	}
	_ = h.cache.Set(c.Request.Context(), "user", strconv.FormatUint(u.ID, 10), data)
	return data
}
