package ws

import "encoding/json"

// ServerMessage 是投递后走活跃连接下发给前端的格式：
// {"type": <event_type>, "payload": <payload>}。
type ServerMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ClientMessage 是前端上行的消息。目前只有心跳和断连意图，
// 未知类型一律忽略。
type ClientMessage struct {
	Type string `json:"type"`
}

const (
	// 握手完成后立刻下发的确认消息
	TypeConnectionEstablished = "connection_established"
	TypeHeartbeatAck          = "heartbeat_ack"
)
