package xredis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// LeaderLock 基于 SETNX 的主节点选举锁。
// 多实例部署时只有拿到锁的实例跑后台扫描，锁带 TTL 防死锁。
type LeaderLock struct {
	rdb *redis.Client
	id  string // 当前节点的唯一ID
}

func NewLeaderLock(rdb *redis.Client) *LeaderLock {
	id := fmt.Sprintf("%s%d", uuid.NewString(), time.Now().Nanosecond())
	return &LeaderLock{rdb: rdb, id: id}
}

// TryAcquire 抢锁；已持有时续期
func (l *LeaderLock) TryAcquire(ctx context.Context, key string, ttl time.Duration) bool {
	// SETNX: 如果 Key 不存在则设置成功，否则失败
	success, err := l.rdb.SetNX(ctx, key, l.id, ttl).Result()
	if err != nil {
		return false
	}

	if !success {
		// 抢锁失败，检查锁是不是自己的（用于续期）
		val, _ := l.rdb.Get(ctx, key).Result()
		if val == l.id {
			l.rdb.Expire(ctx, key, ttl)
			return true
		}
	}

	return success
}

// Release 只释放自己持有的锁
func (l *LeaderLock) Release(ctx context.Context, key string) {
	val, _ := l.rdb.Get(ctx, key).Result()
	if val == l.id {
		l.rdb.Del(ctx, key)
	}
}
