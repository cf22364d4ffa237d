// Package store 持久化内容任务、投稿任务与产物索引。
package store

import (
	"context"
	"fmt"
	"time"

	"bilipub/internal/config"
	"bilipub/internal/model"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// ErrNotFound 记录不存在
var ErrNotFound = errors.New("record not found")

// JobFilter 列出投稿任务的条件，零值表示不限
type JobFilter struct {
	TaskID string
	States []model.PublishState
	Limit  int
}

// Store 任务存储
type Store interface {
	CreateTask(ctx context.Context, task *model.Task) error
	GetTask(ctx context.Context, id string) (*model.Task, error)
	// UpdateTask 在事务中读取、修改并保存任务
	UpdateTask(ctx context.Context, id string, fn func(*model.Task) error) error

	CreateJob(ctx context.Context, job *model.PublishJob) error
	GetJob(ctx context.Context, id string) (*model.PublishJob, error)
	UpdateJob(ctx context.Context, id string, fn func(*model.PublishJob) error) error
	ListJobs(ctx context.Context, filter JobFilter) ([]model.PublishJob, error)

	// EnsureAsset 幂等登记产物
	EnsureAsset(ctx context.Context, taskID string, kind model.AssetKind, key string) error
	ListAssets(ctx context.Context, taskID string) ([]model.Asset, error)
}

// GormStore 基于 gorm 的实现，支持 sqlite 与 postgres
type GormStore struct {
	db *gorm.DB
}

// Open 按配置打开数据库并迁移表结构
func Open(cfg config.DatabaseConfig) (*GormStore, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "", "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("不支持的数据库类型: %s", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("打开数据库失败: %w", err)
	}

	if cfg.Driver == "" || cfg.Driver == "sqlite" {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("获取数据库连接失败: %w", err)
		}
		// sqlite 只允许单写，内存库也依赖同一连接
		sqlDB.SetMaxOpenConns(1)
	}

	return New(db)
}

// New 基于已有连接创建存储并迁移
func New(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&model.Task{}, &model.PublishJob{}, &model.Asset{}); err != nil {
		return nil, fmt.Errorf("数据库迁移失败: %w", err)
	}
	return &GormStore{db: db}, nil
}

// Close 关闭数据库连接
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return errors.WithStack(err)
}

func (s *GormStore) CreateTask(ctx context.Context, task *model.Task) error {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if task.Status == "" {
		task.Status = model.TaskCreated
	}
	return errors.WithStack(s.db.WithContext(ctx).Create(task).Error)
}

func (s *GormStore) GetTask(ctx context.Context, id string) (*model.Task, error) {
	var task model.Task
	if err := s.db.WithContext(ctx).First(&task, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &task, nil
}

func (s *GormStore) UpdateTask(ctx context.Context, id string, fn func(*model.Task) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var task model.Task
		if err := tx.First(&task, "id = ?", id).Error; err != nil {
			return notFound(err)
		}
		if err := fn(&task); err != nil {
			return err
		}
		return errors.WithStack(tx.Save(&task).Error)
	})
}

func (s *GormStore) CreateJob(ctx context.Context, job *model.PublishJob) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.State == "" {
		job.State = model.StateSubmitting
	}
	return errors.WithStack(s.db.WithContext(ctx).Create(job).Error)
}

func (s *GormStore) GetJob(ctx context.Context, id string) (*model.PublishJob, error) {
	var job model.PublishJob
	if err := s.db.WithContext(ctx).First(&job, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &job, nil
}

func (s *GormStore) UpdateJob(ctx context.Context, id string, fn func(*model.PublishJob) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var job model.PublishJob
		if err := tx.First(&job, "id = ?", id).Error; err != nil {
			return notFound(err)
		}
		if err := fn(&job); err != nil {
			return err
		}
		return errors.WithStack(tx.Save(&job).Error)
	})
}

func (s *GormStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.PublishJob, error) {
	tx := s.db.WithContext(ctx).Model(&model.PublishJob{})
	if filter.TaskID != "" {
		tx = tx.Where("task_id = ?", filter.TaskID)
	}
	if len(filter.States) > 0 {
		tx = tx.Where("state IN ?", filter.States)
	}
	if filter.Limit > 0 {
		tx = tx.Limit(filter.Limit)
	}
	var jobs []model.PublishJob
	err := tx.Order("created_at DESC").Order("id DESC").Find(&jobs).Error
	return jobs, errors.WithStack(err)
}

func (s *GormStore) EnsureAsset(ctx context.Context, taskID string, kind model.AssetKind, key string) error {
	var asset model.Asset
	err := s.db.WithContext(ctx).
		Where(model.Asset{TaskID: taskID, Kind: kind, StorageKey: key}).
		Attrs(model.Asset{ID: uuid.NewString(), CreatedAt: time.Now()}).
		FirstOrCreate(&asset).Error
	return errors.WithStack(err)
}

func (s *GormStore) ListAssets(ctx context.Context, taskID string) ([]model.Asset, error) {
	var assets []model.Asset
	err := s.db.WithContext(ctx).Where("task_id = ?", taskID).Order("created_at").Find(&assets).Error
	return assets, errors.WithStack(err)
}
