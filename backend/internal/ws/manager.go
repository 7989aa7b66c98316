package ws

import (
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// Manager 负责 HTTP → WebSocket 的握手入口。
type Manager struct {
	reg      *Registry
	upgrader websocket.Upgrader
}

func NewManager(reg *Registry, allowedOrigins []string) *Manager {
	return &Manager{
		reg: reg,
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool {
			return originAllowed(r.Header.Get("Origin"), allowedOrigins)
		}},
	}
}

// originAllowed 对白名单做整串匹配。前缀匹配不行：
// http://localhost:5173.evil.com 能冒充 http://localhost:5173。
func originAllowed(origin string, allowed []string) bool {
	if origin == "" || origin == "null" { // 一些环境不发送 Origin，或为 "null"
		return true
	}
	for _, a := range allowed {
		if strings.EqualFold(origin, a) {
			return true
		}
	}
	return false
}

// Connect 是 /ws 的 gin 处理函数。鉴权中间件已把 userId 写进上下文
//（浏览器的 WebSocket 不能带自定义 Header，token 走 ?token= 查询参数）。
// 升级成功后交给 Registry，阻塞到连接关闭。
func (m *Manager) Connect(c *gin.Context) {
	userID := c.GetUint64("userId")
	if userID == 0 {
		c.String(http.StatusUnauthorized, "unauthorized")
		return
	}

	conn, err := m.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("ws: upgrade failed (origin=%s): %v", c.Request.Header.Get("Origin"), err)
		return
	}

	m.reg.Accept(c.Request.Context(), conn, strconv.FormatUint(userID, 10))
}
