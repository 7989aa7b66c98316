package ws

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lucasmd12/Criaii/backend/internal/cache"
)

// Registry 持有本进程的 userID → 连接集合 映射，负责接受/关闭连接、
// 在连接变化时更新跨进程的 PresenceTracker，并执行真正的发送。
// 映射只被连接的建立/关闭路径写、被 Deliver 读，用读写锁保护。
type Registry struct {
	mu       sync.RWMutex
	conns    map[string]map[string]*Conn // userID -> connID -> conn
	presence cache.PresenceTracker
}

func NewRegistry(presence cache.PresenceTracker) *Registry {
	return &Registry{conns: make(map[string]map[string]*Conn), presence: presence}
}

// Accept 完成 connecting → open：注册进本进程映射、向 PresenceTracker
// 登记连接，随后立刻下发 connection_established 确认，再进入收发循环。
// 本方法阻塞到连接关闭，之后完成 closing → closed 的清理。
func (r *Registry) Accept(ctx context.Context, sock socket, userID string) {
	c := newConn(uuid.NewString(), userID, sock)

	r.mu.Lock()
	if r.conns[userID] == nil {
		r.conns[userID] = make(map[string]*Conn)
	}
	r.conns[userID][c.id] = c
	r.mu.Unlock()

	// presence 登记失败不拒绝连接：本进程映射照常工作，
	// 跨进程路由会在下一次心跳/重连时补上
	if err := r.presence.AddConnection(ctx, userID, c.id); err != nil {
		log.Printf("ws: presence register failed (user=%s conn=%s): %v", userID, c.id, err)
	}
	log.Printf("ws: connected (user=%s conn=%s)", userID, c.id)

	// 先启动写循环，保证确认消息和后续投递都能被及时发出
	go c.writeLoop()
	c.enqueue(ack())

	// 阻塞到连接断开
	c.readLoop()
	r.close(c)
}

// close 执行 closing → closed：摘出本进程映射、撤销 presence 登记。
// 幂等：重复关闭、或 presence 后端不可达都只记日志。
func (r *Registry) close(c *Conn) {
	c.shutdown()

	r.mu.Lock()
	if conns, ok := r.conns[c.userID]; ok {
		delete(conns, c.id)
		if len(conns) == 0 {
			delete(r.conns, c.userID)
		}
	}
	r.mu.Unlock()
	_ = c.sock.Close()

	// 连接断开后原请求的 ctx 随时会被取消，清理用独立的超时 ctx
	cleanupCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	remaining, err := r.presence.RemoveConnection(cleanupCtx, c.userID, c.id)
	if err != nil {
		log.Printf("ws: presence deregister failed (user=%s conn=%s): %v", c.userID, c.id, err)
		return
	}
	log.Printf("ws: disconnected (user=%s conn=%s remaining=%d)", c.userID, c.id, remaining)
}

// Deliver 给 userID 在本进程的全部连接发一条 {type, payload}。
// 没有本地连接返回 false：presence 查完到投递之间用户可能刚断开，
// 这是无害的未命中，不是错误。至少入队一条即返回 true。
func (r *Registry) Deliver(userID, eventType string, payload json.RawMessage) bool {
	r.mu.RLock()
	conns := make([]*Conn, 0, len(r.conns[userID]))
	for _, c := range r.conns[userID] {
		conns = append(conns, c)
	}
	r.mu.RUnlock()

	if len(conns) == 0 {
		return false
	}
	delivered := false
	msg := ServerMessage{Type: eventType, Payload: payload}
	for _, c := range conns {
		if c.enqueue(msg) {
			delivered = true
		}
	}
	return delivered
}

// LocalConnCount 返回本进程当前持有的连接总数（关闭时用来观测 drain）。
func (r *Registry) LocalConnCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, conns := range r.conns {
		n += len(conns)
	}
	return n
}
