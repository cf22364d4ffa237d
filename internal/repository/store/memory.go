package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"bilipub/internal/model"

	"github.com/google/uuid"
)

// MemoryStore 进程内实现，用于测试与 mock 模式
type MemoryStore struct {
	mu     sync.Mutex
	tasks  map[string]model.Task
	jobs   map[string]model.PublishJob
	assets []model.Asset
	now    func() time.Time
}

// NewMemoryStore 创建内存存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tasks: make(map[string]model.Task),
		jobs:  make(map[string]model.PublishJob),
		now:   time.Now,
	}
}

func (s *MemoryStore) CreateTask(_ context.Context, task *model.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if task.Status == "" {
		task.Status = model.TaskCreated
	}
	task.CreatedAt = s.now()
	task.UpdatedAt = task.CreatedAt
	s.tasks[task.ID] = *task
	return nil
}

func (s *MemoryStore) GetTask(_ context.Context, id string) (*model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &task, nil
}

func (s *MemoryStore) UpdateTask(_ context.Context, id string, fn func(*model.Task) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[id]
	if !ok {
		return ErrNotFound
	}
	if err := fn(&task); err != nil {
		return err
	}
	task.UpdatedAt = s.now()
	s.tasks[id] = task
	return nil
}

func (s *MemoryStore) CreateJob(_ context.Context, job *model.PublishJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.State == "" {
		job.State = model.StateSubmitting
	}
	job.CreatedAt = s.now()
	job.UpdatedAt = job.CreatedAt
	s.jobs[job.ID] = *job
	return nil
}

func (s *MemoryStore) GetJob(_ context.Context, id string) (*model.PublishJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &job, nil
}

func (s *MemoryStore) UpdateJob(_ context.Context, id string, fn func(*model.PublishJob) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if err := fn(&job); err != nil {
		return err
	}
	job.UpdatedAt = s.now()
	s.jobs[id] = job
	return nil
}

func (s *MemoryStore) ListJobs(_ context.Context, filter JobFilter) ([]model.PublishJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.PublishJob
	for _, job := range s.jobs {
		if filter.TaskID != "" && job.TaskID != filter.TaskID {
			continue
		}
		if len(filter.States) > 0 && !containsState(filter.States, job.State) {
			continue
		}
		out = append(out, job)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func containsState(states []model.PublishState, s model.PublishState) bool {
	for _, st := range states {
		if st == s {
			return true
		}
	}
	return false
}

func (s *MemoryStore) EnsureAsset(_ context.Context, taskID string, kind model.AssetKind, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.assets {
		if a.TaskID == taskID && a.Kind == kind && a.StorageKey == key {
			return nil
		}
	}
	s.assets = append(s.assets, model.Asset{
		ID:         uuid.NewString(),
		TaskID:     taskID,
		Kind:       kind,
		StorageKey: key,
		CreatedAt:  s.now(),
	})
	return nil
}

func (s *MemoryStore) ListAssets(_ context.Context, taskID string) ([]model.Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Asset
	for _, a := range s.assets {
		if a.TaskID == taskID {
			out = append(out, a)
		}
	}
	return out, nil
}

var (
	_ Store = (*GormStore)(nil)
	_ Store = (*MemoryStore)(nil)
)
