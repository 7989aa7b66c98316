package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// 集成测试：需要本地 Redis。
func TestRedisChannel(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:6379"})
	// 若 Redis 未启动则跳过
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Skipf("skip: redis not available: %v", err)
	}
	defer rdb.Close()

	ctx := context.Background()
	ch := NewRedisChannel(rdb)

	// string
	if err := ch.Set(ctx, "it:k", "v", time.Minute); err != nil {
		t.Fatalf("Set error: %v", err)
	}
	got, err := ch.Get(ctx, "it:k")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if got != "v" {
		t.Fatalf("Get = %q, want %q", got, "v")
	}

	// 前缀必须生效：裸键读不到
	if err := rdb.Get(ctx, "it:k").Err(); !errors.Is(err, redis.Nil) {
		t.Fatalf("unprefixed key exists, namespace prefix not applied")
	}

	if _, err := ch.Delete(ctx, "it:k"); err != nil {
		t.Fatalf("Delete error: %v", err)
	}
	if _, err := ch.Get(ctx, "it:k"); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("Get after delete error = %v, want ErrKeyNotFound", err)
	}

	// set
	if _, err := ch.AddToSet(ctx, "it:s", "a", "b"); err != nil {
		t.Fatalf("AddToSet error: %v", err)
	}
	ok, err := ch.IsMember(ctx, "it:s", "a")
	if err != nil {
		t.Fatalf("IsMember error: %v", err)
	}
	if !ok {
		t.Fatalf("IsMember(a) = false after AddToSet")
	}
	members, err := ch.Members(ctx, "it:s")
	if err != nil {
		t.Fatalf("Members error: %v", err)
	}
	if len(members) != 2 {
		t.Fatalf("Members = %v, want 2 members", members)
	}
	if _, err := ch.RemoveFromSet(ctx, "it:s", "a", "b"); err != nil {
		t.Fatalf("RemoveFromSet error: %v", err)
	}
	defer ch.Delete(ctx, "it:s")

	// pub/sub：Subscribe 返回后发布的消息必须能收到
	sub, err := ch.Subscribe(ctx, "it:chan")
	if err != nil {
		t.Fatalf("Subscribe error: %v", err)
	}
	defer sub.Close()

	if err := ch.Publish(ctx, "it:chan", "hello"); err != nil {
		t.Fatalf("Publish error: %v", err)
	}
	select {
	case msg := <-sub.Messages():
		if msg != "hello" {
			t.Fatalf("received %q, want %q", msg, "hello")
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for published message")
	}
}
