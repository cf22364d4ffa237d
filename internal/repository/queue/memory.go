package queue

import (
	"context"
	"sort"
	"sync"
	"time"
)

type memoryItem struct {
	raw string
	at  time.Time
}

// MemoryQueue 进程内队列，用于单机运行与测试
type MemoryQueue struct {
	mu         sync.Mutex
	ready      []memoryItem
	processing map[string]time.Time
	opts       options
}

// NewMemoryQueue 创建进程内队列
func NewMemoryQueue(opts ...Option) *MemoryQueue {
	return &MemoryQueue{
		processing: make(map[string]time.Time),
		opts:       buildOptions(opts),
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, msg Message, delay time.Duration) error {
	raw, err := msg.encode()
	if err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ready = append(q.ready, memoryItem{raw: raw, at: q.opts.now().Add(delay)})
	return nil
}

func (q *MemoryQueue) Dequeue(ctx context.Context) (*Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.opts.now()
	for raw, deadline := range q.processing {
		if !deadline.After(now) {
			delete(q.processing, raw)
			q.ready = append(q.ready, memoryItem{raw: raw, at: now})
		}
	}

	sort.SliceStable(q.ready, func(i, j int) bool { return q.ready[i].at.Before(q.ready[j].at) })
	if len(q.ready) == 0 || q.ready[0].at.After(now) {
		return nil, nil
	}
	item := q.ready[0]
	q.ready = q.ready[1:]
	q.processing[item.raw] = now.Add(q.opts.visibility)
	return decode(item.raw)
}

func (q *MemoryQueue) Ack(ctx context.Context, msg *Message) error {
	if msg == nil {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.processing, msg.raw)
	return nil
}

func (q *MemoryQueue) Touch(ctx context.Context, msg *Message) error {
	if msg == nil {
		return ErrLost
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.processing[msg.raw]; !ok {
		return ErrLost
	}
	q.processing[msg.raw] = q.opts.now().Add(q.opts.visibility)
	return nil
}

// Len 就绪与处理中的消息数
func (q *MemoryQueue) Len() (ready, processing int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ready), len(q.processing)
}

func (q *MemoryQueue) Close() error { return nil }
