// Package queue 投稿任务的延迟队列。
//
// 消息至少投递一次：Dequeue 后未在可见性超时内 Ack 的消息会重新进入就绪队列。
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"bilipub/internal/config"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Message 一条待处理的投稿任务
type Message struct {
	ID    string `json:"id"`
	JobID string `json:"job_id"`
	// Retries 已经进行过的限流重试次数
	Retries int `json:"retries"`

	raw string
}

// NewMessage 创建消息
func NewMessage(jobID string, retries int) Message {
	return Message{ID: uuid.NewString(), JobID: jobID, Retries: retries}
}

func (m Message) encode() (string, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("编码消息失败: %w", err)
	}
	return string(data), nil
}

func decode(raw string) (*Message, error) {
	var m Message
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("解码消息失败: %w", err)
	}
	m.raw = raw
	return &m, nil
}

// Queue 延迟队列
type Queue interface {
	// Enqueue delay 之后消息才可被取出
	Enqueue(ctx context.Context, msg Message, delay time.Duration) error
	// Dequeue 取出一条到期消息，没有时返回 nil, nil
	Dequeue(ctx context.Context) (*Message, error)
	// Ack 确认处理完成
	Ack(ctx context.Context, msg *Message) error
	// Touch 把处理中消息的可见性截止时间顺延一个超时周期；
	// 消息已被确认或已重新进入就绪队列时返回 ErrLost
	Touch(ctx context.Context, msg *Message) error
	Close() error
}

// ErrLost 消息不在处理中
var ErrLost = errors.New("message is no longer in flight")

// Option 队列可选项
type Option func(*options)

type options struct {
	now        func() time.Time
	visibility time.Duration
}

// WithClock 覆盖时间获取函数，便于测试
func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		if clock != nil {
			o.now = clock
		}
	}
}

// WithVisibilityTimeout 设置未确认消息重新投递前的等待时间
func WithVisibilityTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.visibility = d
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now, visibility: 30 * time.Minute}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// New 按配置创建队列
func New(cfg config.QueueConfig, logger zerolog.Logger) (Queue, error) {
	switch cfg.Driver {
	case "memory":
		return NewMemoryQueue(WithVisibilityTimeout(cfg.VisibilityTimeout)), nil
	case "", "redis":
		client := redis.NewClient(&redis.Options{
			Addr:         cfg.RedisAddr,
			Password:     cfg.RedisPassword,
			DB:           cfg.RedisDB,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		})

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("连接 Redis 失败: %w", err)
		}
		logger.Info().Str("addr", cfg.RedisAddr).Int("db", cfg.RedisDB).Msg("已连接 Redis 队列")
		return NewRedisQueue(client, cfg.KeyPrefix, WithVisibilityTimeout(cfg.VisibilityTimeout)), nil
	default:
		return nil, fmt.Errorf("不支持的队列类型: %s", cfg.Driver)
	}
}
