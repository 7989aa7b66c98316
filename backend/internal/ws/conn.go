package ws

import (
	"encoding/json"
	"log"
	"sync"
)

// socket 是 Conn 对底层 WebSocket 的最小依赖（*websocket.Conn 满足它）。
// 抽出来是为了让 Registry 的状态机可以不起真实网络连接就能测。
type socket interface {
	ReadJSON(v interface{}) error
	WriteJSON(v interface{}) error
	Close() error
}

// Conn 是一条活跃连接。状态机：connecting → open → closing → closed。
// 条目只存在于接受这条 socket 的那个进程的内存里，对其他进程不可见。
type Conn struct {
	id     string
	userID string
	sock   socket
	// 有界出站队列；写循环消费。队列满时丢消息（进度类更新是幂等的，
	// 丢一条比阻塞投递方便宜）。
	send chan ServerMessage
	// done 关闭后 enqueue 变成 no-op、写循环退出。send 永远不 close：
	// Deliver 可能还拿着这条连接的引用在并发入队。
	done      chan struct{}
	closeOnce sync.Once
}

func newConn(id, userID string, sock socket) *Conn {
	return &Conn{
		id:     id,
		userID: userID,
		sock:   sock,
		send:   make(chan ServerMessage, 32),
		done:   make(chan struct{}),
	}
}

// shutdown 幂等地进入 closed 状态。
func (c *Conn) shutdown() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *Conn) ID() string     { return c.id }
func (c *Conn) UserID() string { return c.userID }

// enqueue 把消息放进出站队列；连接已关闭或队列满时丢弃并返回 false。
func (c *Conn) enqueue(msg ServerMessage) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- msg:
		return true
	default:
		log.Printf("ws: send queue full, message dropped (user=%s conn=%s type=%s)", c.userID, c.id, msg.Type)
		return false
	}
}

// writeLoop 持续消费出站队列。发送失败视为连接进入 closing，
// 由 readLoop 的错误返回统一走清理路径。
func (c *Conn) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			if err := c.sock.WriteJSON(msg); err != nil {
				log.Printf("ws: write failed, closing (user=%s conn=%s): %v", c.userID, c.id, err)
				_ = c.sock.Close()
				return
			}
		}
	}
}

// readLoop 阻塞接收上行消息（心跳、断连探测），连接断开时返回。
// 上行只有 keepalive 语义，未知类型直接忽略。
func (c *Conn) readLoop() {
	for {
		var msg ClientMessage
		if err := c.sock.ReadJSON(&msg); err != nil {
			return
		}
		switch msg.Type {
		case "heartbeat":
			c.enqueue(ServerMessage{Type: TypeHeartbeatAck})
		default:
			// 忽略未知类型
		}
	}
}

func ack() ServerMessage {
	payload, _ := json.Marshal(map[string]string{"status": "connected"})
	return ServerMessage{Type: TypeConnectionEstablished, Payload: payload}
}
