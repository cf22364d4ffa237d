package publish

import (
	"context"
	"time"

	"bilipub/internal/repository/queue"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/pool"
)

// JobProcessor 由 Processor 实现
type JobProcessor interface {
	Process(ctx context.Context, jobID string, retriesDone int) (Outcome, error)
}

// Runner 从队列取出投稿任务并发执行
type Runner struct {
	queue        queue.Queue
	proc         JobProcessor
	concurrency  int
	pollInterval time.Duration
	heartbeat    time.Duration
	log          zerolog.Logger
}

const defaultHeartbeat = 10 * time.Minute

type RunnerOption func(*Runner)

// WithHeartbeat 设置执行期间延长消息可见性的间隔，应小于队列的可见性超时
func WithHeartbeat(d time.Duration) RunnerOption {
	return func(r *Runner) {
		if d > 0 {
			r.heartbeat = d
		}
	}
}

// NewRunner 创建 Runner
func NewRunner(q queue.Queue, proc JobProcessor, concurrency int, pollInterval time.Duration, logger zerolog.Logger, opts ...RunnerOption) *Runner {
	if concurrency <= 0 {
		concurrency = 1
	}
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	r := &Runner{
		queue:        q,
		proc:         proc,
		concurrency:  concurrency,
		pollInterval: pollInterval,
		heartbeat:    defaultHeartbeat,
		log:          logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run 阻塞直到 ctx 取消；取消后不再取新任务，等待执行中的任务完成后返回
func (r *Runner) Run(ctx context.Context) error {
	p := pool.New().WithMaxGoroutines(r.concurrency)
	defer p.Wait()

	// 执行中的任务不随 ctx 取消而中断，避免把半途的投稿记为失败
	jobCtx := context.WithoutCancel(ctx)

	r.log.Info().Int("concurrency", r.concurrency).Msg("投稿 worker 已启动")
	for {
		if ctx.Err() != nil {
			r.log.Info().Msg("投稿 worker 停止取任务，等待执行中的任务完成")
			return nil
		}

		msg, err := r.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() == nil {
				r.log.Error().Err(err).Msg("读取队列失败")
			}
			r.wait(ctx)
			continue
		}
		if msg == nil {
			r.wait(ctx)
			continue
		}

		p.Go(func() {
			r.handle(jobCtx, msg)
		})
	}
}

func (r *Runner) wait(ctx context.Context) {
	t := time.NewTimer(r.pollInterval)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func (r *Runner) handle(ctx context.Context, msg *queue.Message) {
	log := r.log.With().Str("job_id", msg.JobID).Str("message_id", msg.ID).Logger()

	stop := make(chan struct{})
	var wg conc.WaitGroup
	wg.Go(func() { r.keepAlive(ctx, msg, stop, log) })
	out, err := r.proc.Process(ctx, msg.JobID, msg.Retries)
	close(stop)
	wg.Wait()
	if err != nil {
		// 不确认，等待可见性超时后重新投递
		log.Error().Err(err).Msg("执行投稿任务失败")
		return
	}

	if out.Kind == OutcomeRetry {
		next := queue.NewMessage(msg.JobID, msg.Retries+1)
		if err := r.queue.Enqueue(ctx, next, out.After); err != nil {
			log.Error().Err(err).Msg("重新入队失败")
			return
		}
		log.Info().Dur("after", out.After).Int("retries", next.Retries).Msg("投稿任务已重新入队")
	}

	if err := r.queue.Ack(ctx, msg); err != nil {
		log.Warn().Err(err).Msg("确认消息失败")
	}
}

// keepAlive 在任务执行期间定期续期，避免长时间上传被其他 worker 重复取走
func (r *Runner) keepAlive(ctx context.Context, msg *queue.Message, stop <-chan struct{}, log zerolog.Logger) {
	t := time.NewTicker(r.heartbeat)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			if err := r.queue.Touch(ctx, msg); err != nil {
				log.Warn().Err(err).Msg("延长消息可见性失败")
			}
		}
	}
}
