package ledger

import (
	"context"
	"fmt"
	"time"

	"sol-pay-gateway/internal/logic/core"

	"github.com/redis/go-redis/v9"
)

const (
	progressPrefix     = "progress:payment:sig"
	defaultProgressTTL = 7 * 24 * time.Hour
)

// RedisProgressStore 在 Redis 中记录每个签名最近一次到达的支付状态，供对账查询。
// 只做标记，不参与履约判重（判重以数据库条件更新为准）。
type RedisProgressStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisProgressStore(rdb *redis.Client, ttl time.Duration) *RedisProgressStore {
	if ttl <= 0 {
		ttl = defaultProgressTTL
	}
	return &RedisProgressStore{rdb: rdb, ttl: ttl}
}

func (r *RedisProgressStore) getKey(signature string) string {
	return fmt.Sprintf("%s:%s", progressPrefix, signature)
}

// MarkState 记录签名的当前状态
func (r *RedisProgressStore) MarkState(ctx context.Context, signature string, state core.PaymentState) error {
	return r.rdb.Set(ctx, r.getKey(signature), string(state), r.ttl).Err()
}

// GetState 未记录时返回空字符串
func (r *RedisProgressStore) GetState(ctx context.Context, signature string) (core.PaymentState, error) {
	val, err := r.rdb.Get(ctx, r.getKey(signature)).Result()
	switch {
	case err == redis.Nil:
		return "", nil
	case err != nil:
		return "", fmt.Errorf("redis get error: %w", err)
	}
	return core.PaymentState(val), nil
}
