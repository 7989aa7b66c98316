package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/lucasmd12/Criaii/backend/internal/cache"
)

// fakeSocket 实现 socket，不起真实网络连接。
// 上行消息通过 inbound 注入，关闭 inbound 模拟对端断开。
type fakeSocket struct {
	mu      sync.Mutex
	written []ServerMessage
	inbound chan ClientMessage
	closed  bool
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{inbound: make(chan ClientMessage, 8)}
}

func (s *fakeSocket) ReadJSON(v interface{}) error {
	msg, ok := <-s.inbound
	if !ok {
		return errors.New("connection closed")
	}
	*(v.(*ClientMessage)) = msg
	return nil
}

func (s *fakeSocket) WriteJSON(v interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("write on closed socket")
	}
	s.written = append(s.written, v.(ServerMessage))
	return nil
}

func (s *fakeSocket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSocket) disconnect() {
	close(s.inbound)
}

func (s *fakeSocket) waitWritten(t *testing.T, typ string) ServerMessage {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		s.mu.Lock()
		for _, m := range s.written {
			if m.Type == typ {
				s.mu.Unlock()
				return m
			}
		}
		s.mu.Unlock()
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for message type %q", typ)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// accept 在后台跑 Registry.Accept（它阻塞到断开），返回等待它退出的函数。
func accept(r *Registry, sock *fakeSocket, userID string) func() {
	done := make(chan struct{})
	go func() {
		r.Accept(context.Background(), sock, userID)
		close(done)
	}()
	return func() { <-done }
}

func TestRegistry_AcceptSendsAckAndTracksPresence(t *testing.T) {
	ctx := context.Background()
	ch := cache.NewMemoryChannel()
	presence := cache.NewPresenceTracker(ch, cache.AssumeOffline)
	r := NewRegistry(presence)

	sock := newFakeSocket()
	wait := accept(r, sock, "u1")

	sock.waitWritten(t, TypeConnectionEstablished)

	online, err := presence.IsOnline(ctx, "u1")
	if err != nil {
		t.Fatalf("IsOnline() error = %v", err)
	}
	if !online {
		t.Fatalf("IsOnline() = false while connection open")
	}
	if n := r.LocalConnCount(); n != 1 {
		t.Fatalf("LocalConnCount() = %d, want 1", n)
	}

	sock.disconnect()
	wait()

	if online, _ := presence.IsOnline(ctx, "u1"); online {
		t.Fatalf("IsOnline() = true after disconnect")
	}
	if n := r.LocalConnCount(); n != 0 {
		t.Fatalf("LocalConnCount() = %d after disconnect, want 0", n)
	}
}

func TestRegistry_DeliverFansOutToAllConns(t *testing.T) {
	ch := cache.NewMemoryChannel()
	presence := cache.NewPresenceTracker(ch, cache.AssumeOffline)
	r := NewRegistry(presence)

	// 同一用户开两个“标签页”
	sock1 := newFakeSocket()
	sock2 := newFakeSocket()
	wait1 := accept(r, sock1, "u1")
	wait2 := accept(r, sock2, "u1")
	sock1.waitWritten(t, TypeConnectionEstablished)
	sock2.waitWritten(t, TypeConnectionEstablished)

	payload := json.RawMessage(`{"progress":50}`)
	if ok := r.Deliver("u1", "music_progress", payload); !ok {
		t.Fatalf("Deliver() = false with two open connections")
	}
	sock1.waitWritten(t, "music_progress")
	sock2.waitWritten(t, "music_progress")

	// 关掉一个标签页后投递仍然成功
	sock1.disconnect()
	wait1()
	if ok := r.Deliver("u1", "music_completed", payload); !ok {
		t.Fatalf("Deliver() = false with one connection remaining")
	}
	sock2.waitWritten(t, "music_completed")

	sock2.disconnect()
	wait2()
}

// presence 说在线、本进程却没有连接：断连竞态下的正常未命中，返回 false 即可。
func TestRegistry_DeliverMissIsNotAnError(t *testing.T) {
	ch := cache.NewMemoryChannel()
	presence := cache.NewPresenceTracker(ch, cache.AssumeOffline)
	r := NewRegistry(presence)

	if ok := r.Deliver("nobody", "music_progress", json.RawMessage(`{}`)); ok {
		t.Fatalf("Deliver() = true with no local connections")
	}
}

func TestRegistry_HeartbeatAck(t *testing.T) {
	ch := cache.NewMemoryChannel()
	presence := cache.NewPresenceTracker(ch, cache.AssumeOffline)
	r := NewRegistry(presence)

	sock := newFakeSocket()
	wait := accept(r, sock, "u1")
	sock.waitWritten(t, TypeConnectionEstablished)

	sock.inbound <- ClientMessage{Type: "heartbeat"}
	sock.waitWritten(t, TypeHeartbeatAck)

	// 未知上行类型被忽略，连接不受影响
	sock.inbound <- ClientMessage{Type: "mystery"}
	sock.inbound <- ClientMessage{Type: "heartbeat"}
	sock.waitWritten(t, TypeHeartbeatAck)

	sock.disconnect()
	wait()
}

// presence 后端不可达时连接照常建立（本进程映射可用），只记日志。
func TestRegistry_AcceptSurvivesPresenceFailure(t *testing.T) {
	ch := cache.NewMemoryChannel()
	presence := cache.NewPresenceTracker(ch, cache.AssumeOffline)
	r := NewRegistry(presence)

	ch.SetFailing(true)
	sock := newFakeSocket()
	wait := accept(r, sock, "u1")
	sock.waitWritten(t, TypeConnectionEstablished)

	if ok := r.Deliver("u1", "music_progress", json.RawMessage(`{}`)); !ok {
		t.Fatalf("Deliver() = false, local map should work without presence backend")
	}

	sock.disconnect()
	wait()
}
