package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// 先把超时未确认的消息放回就绪队列，再取一条到期消息移入处理中
var dequeueScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local deadline = tonumber(ARGV[2])
local expired = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', now)
for _, m in ipairs(expired) do
  redis.call('ZREM', KEYS[2], m)
  redis.call('ZADD', KEYS[1], now, m)
end
local items = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', now, 'LIMIT', 0, 1)
if #items == 0 then
  return false
end
redis.call('ZREM', KEYS[1], items[1])
redis.call('ZADD', KEYS[2], deadline, items[1])
return items[1]
`)

// 只在消息仍处于处理中时更新截止时间
var touchScript = redis.NewScript(`
if redis.call('ZSCORE', KEYS[1], ARGV[1]) == false then
  return 0
end
redis.call('ZADD', KEYS[1], 'XX', ARGV[2], ARGV[1])
return 1
`)

// RedisQueue 基于两个有序集合的延迟队列：ready 按到期时间排序，processing 按可见性截止时间排序
type RedisQueue struct {
	client     *redis.Client
	readyKey   string
	processKey string
	opts       options
}

// NewRedisQueue 创建 Redis 队列
func NewRedisQueue(client *redis.Client, prefix string, opts ...Option) *RedisQueue {
	prefix = strings.TrimSuffix(prefix, ":")
	if prefix == "" {
		prefix = "bilipub"
	}
	return &RedisQueue{
		client:     client,
		readyKey:   prefix + ":publish:ready",
		processKey: prefix + ":publish:processing",
		opts:       buildOptions(opts),
	}
}

func (q *RedisQueue) Enqueue(ctx context.Context, msg Message, delay time.Duration) error {
	raw, err := msg.encode()
	if err != nil {
		return err
	}
	due := q.opts.now().Add(delay).UnixMilli()
	if err := q.client.ZAdd(ctx, q.readyKey, redis.Z{Score: float64(due), Member: raw}).Err(); err != nil {
		return fmt.Errorf("消息入队失败: %w", err)
	}
	return nil
}

func (q *RedisQueue) Dequeue(ctx context.Context) (*Message, error) {
	now := q.opts.now()
	res, err := dequeueScript.Run(ctx, q.client,
		[]string{q.readyKey, q.processKey},
		now.UnixMilli(), now.Add(q.opts.visibility).UnixMilli(),
	).Text()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("消息出队失败: %w", err)
	}

	msg, err := decode(res)
	if err != nil {
		// 无法解析的消息直接丢弃，避免反复投递
		_ = q.client.ZRem(ctx, q.processKey, res).Err()
		return nil, err
	}
	return msg, nil
}

func (q *RedisQueue) Ack(ctx context.Context, msg *Message) error {
	if msg == nil || msg.raw == "" {
		return nil
	}
	if err := q.client.ZRem(ctx, q.processKey, msg.raw).Err(); err != nil {
		return fmt.Errorf("确认消息失败: %w", err)
	}
	return nil
}

func (q *RedisQueue) Touch(ctx context.Context, msg *Message) error {
	if msg == nil || msg.raw == "" {
		return ErrLost
	}
	deadline := q.opts.now().Add(q.opts.visibility).UnixMilli()
	n, err := touchScript.Run(ctx, q.client, []string{q.processKey}, msg.raw, deadline).Int()
	if err != nil {
		return fmt.Errorf("延长消息可见性失败: %w", err)
	}
	if n == 0 {
		return ErrLost
	}
	return nil
}

// Len 就绪与处理中的消息数
func (q *RedisQueue) Len(ctx context.Context) (ready, processing int64, err error) {
	if ready, err = q.client.ZCard(ctx, q.readyKey).Result(); err != nil {
		return 0, 0, err
	}
	if processing, err = q.client.ZCard(ctx, q.processKey).Result(); err != nil {
		return 0, 0, err
	}
	return ready, processing, nil
}

func (q *RedisQueue) Close() error {
	return q.client.Close()
}
