package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"bilipub/internal/errs"
	"bilipub/internal/model"
	"bilipub/internal/repository/queue"
	"bilipub/internal/repository/store"

	"github.com/rs/zerolog"
)

// SubmitRequest 投稿请求
type SubmitRequest struct {
	// TaskID 为空或不存在时创建新的内容任务
	TaskID   string
	Summary  string
	CoverKey string
	Payload  model.JobPayload
}

// Submitter 创建投稿任务并入队
type Submitter struct {
	store store.Store
	queue queue.Queue
	log   zerolog.Logger
}

// NewSubmitter 创建 Submitter
func NewSubmitter(st store.Store, q queue.Queue, logger zerolog.Logger) *Submitter {
	return &Submitter{store: st, queue: q, log: logger}
}

// Submit 校验元数据后创建 submitting 状态的投稿任务，并把内容任务标记为 publishing
func (s *Submitter) Submit(ctx context.Context, req SubmitRequest) (*model.PublishJob, error) {
	if _, err := req.Payload.ParsedMeta(); err != nil {
		return nil, err
	}
	if req.Payload.ResolveVideoKey() == "" {
		return nil, errs.Invalid("video.key", "is required")
	}
	if _, ok := model.ParseTypeIDMode(req.Payload.TypeIDMode); !ok {
		return nil, errs.Invalid("typeid_mode", "unknown mode %q", req.Payload.TypeIDMode)
	}
	raw, err := json.Marshal(req.Payload)
	if err != nil {
		return nil, fmt.Errorf("编码投稿信封失败: %w", err)
	}

	task, err := s.ensureTask(ctx, req)
	if err != nil {
		return nil, err
	}

	job := &model.PublishJob{
		TaskID:   task.ID,
		MetaJSON: string(raw),
		CoverKey: strings.TrimSpace(req.CoverKey),
		State:    model.StateSubmitting,
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("创建投稿任务失败: %w", err)
	}
	if err := s.store.UpdateTask(ctx, task.ID, func(t *model.Task) error {
		t.Status = model.TaskPublishing
		t.ErrorCode = ""
		t.ErrorMessage = ""
		return nil
	}); err != nil {
		return nil, fmt.Errorf("更新内容任务失败: %w", err)
	}

	if err := s.queue.Enqueue(ctx, queue.NewMessage(job.ID, 0), 0); err != nil {
		return nil, fmt.Errorf("投稿任务入队失败: %w", err)
	}
	s.log.Info().Str("job_id", job.ID).Str("task_id", task.ID).Msg("投稿任务已提交")
	return job, nil
}

func (s *Submitter) ensureTask(ctx context.Context, req SubmitRequest) (*model.Task, error) {
	if req.TaskID != "" {
		task, err := s.store.GetTask(ctx, req.TaskID)
		if err == nil {
			if req.Summary != "" {
				if err := s.store.UpdateTask(ctx, task.ID, func(t *model.Task) error {
					t.Summary = req.Summary
					return nil
				}); err != nil {
					return nil, fmt.Errorf("更新内容任务失败: %w", err)
				}
			}
			return task, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("读取内容任务失败: %w", err)
		}
	}

	task := &model.Task{ID: req.TaskID, Summary: req.Summary}
	if err := s.store.CreateTask(ctx, task); err != nil {
		return nil, fmt.Errorf("创建内容任务失败: %w", err)
	}
	return task, nil
}

// Retry 把失败的投稿任务重置为 submitting 并重新入队，重试计数从 0 开始
func (s *Submitter) Retry(ctx context.Context, jobID string) (*model.PublishJob, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("读取投稿任务失败: %w", err)
	}
	if job.State != model.StateFailed {
		return nil, errs.Precondition("只能重试失败的投稿任务，当前状态: %s", job.State)
	}

	if err := s.store.UpdateJob(ctx, jobID, func(j *model.PublishJob) error {
		j.State = model.StateSubmitting
		j.ResultJSON = ""
		return nil
	}); err != nil {
		return nil, fmt.Errorf("重置投稿任务失败: %w", err)
	}
	if err := s.store.UpdateTask(ctx, job.TaskID, func(t *model.Task) error {
		t.Status = model.TaskPublishing
		t.ErrorCode = ""
		t.ErrorMessage = ""
		return nil
	}); err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("更新内容任务失败: %w", err)
	}

	if err := s.queue.Enqueue(ctx, queue.NewMessage(jobID, 0), 0); err != nil {
		return nil, fmt.Errorf("投稿任务入队失败: %w", err)
	}
	s.log.Info().Str("job_id", jobID).Msg("投稿任务已重新提交")
	return s.store.GetJob(ctx, jobID)
}
