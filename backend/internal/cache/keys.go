package cache

import "fmt"

// 键语义：
// - keyOnlineUsers:        当前在线用户集合（Set<userID>）
// - userConnsKey(userID):  某个用户当前打开的连接集合（Set<connID>）
// - entityKey(type,id):    读穿缓存条目（String，带 TTL），如 user:{id} / list:{id}
//
// 所有键在进入 Redis 之前都会经过 prefixKey 加上全局命名空间，
// 保证与同一个 Redis 实例上的其他应用互不冲突。
// Pub/Sub 的频道名是独立的命名空间，刻意不加前缀（见 relay 包）。

// Namespace 是本应用所有键的全局前缀。
const Namespace = "criaii:"

const (
	keyOnlineUsers  = "online_users" // Set<userID>
	keyUserConnsFmt = "conns:%s"     // Set<connID>
	keyEntityFmt    = "%s:%s"        // user:{id} / list:{id}
)

// prefixKey 给键加上全局命名空间。任何实现 Channel 的后端都必须
// 通过它访问键，调用方不允许绕过。
func prefixKey(key string) string { return Namespace + key }

func userConnsKey(userID string) string      { return fmt.Sprintf(keyUserConnsFmt, userID) }
func entityKey(entityType, id string) string { return fmt.Sprintf(keyEntityFmt, entityType, id) }
