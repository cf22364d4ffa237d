package app

import (
	"context"
	"errors"
	"fmt"
	"io"

	"bilipub/internal/config"
	"bilipub/internal/model"
	"bilipub/internal/repository/bilibili"
	"bilipub/internal/repository/category"
	"bilipub/internal/repository/queue"
	"bilipub/internal/repository/storage"
	"bilipub/internal/repository/store"
	"bilipub/internal/service/publish"
	"bilipub/pkg/logger"

	"github.com/spf13/afero"
	"golang.org/x/time/rate"
)

type App struct {
	Store       store.Store
	Blobs       storage.BlobStore
	Queue       queue.Queue
	Credentials bilibili.CredentialSource
	Oracle      *category.Recommender
	Processor   *publish.Processor
	Submitter   *publish.Submitter
	Runner      *publish.Runner
	Config      *config.Config

	// NewClient 与 Processor 共用同一个预上传限速器
	NewClient publish.ClientFactory

	closers []io.Closer
}

func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg}

	db, err := store.Open(cfg.Database)
	if err != nil {
		return nil, err
	}
	a.Store = db
	a.closers = append(a.closers, db)

	blobs, err := storage.New(ctx, cfg.Storage, logger.With("storage"))
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Blobs = blobs
	if c, ok := blobs.(io.Closer); ok {
		a.closers = append(a.closers, c)
	}

	q, err := queue.New(cfg.Queue, logger.With("queue"))
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Queue = q
	a.closers = append(a.closers, q)

	// 优先使用 Cookies 文件，每次执行重新读取，便于在不重启的情况下更新登录态
	if cfg.Bilibili.CookiesFile != "" {
		a.Credentials = bilibili.NewFileCredentials(afero.NewOsFs(), cfg.Bilibili.CookiesFile)
	} else {
		a.Credentials = bilibili.NewStaticCredentials(cfg.Bilibili.Cookie)
	}

	a.Oracle = category.NewRecommender(category.Config{
		APIKey:      cfg.Oracle.APIKey,
		BaseURL:     cfg.Oracle.BaseURL,
		Model:       cfg.Oracle.Model,
		Temperature: cfg.Oracle.Temperature,
		Timeout:     cfg.Oracle.Timeout,
	})

	a.NewClient = newClientFactory(cfg.Bilibili)

	mode, ok := model.ParseTypeIDMode(cfg.Worker.TypeIDMode)
	if !ok {
		a.Close()
		return nil, fmt.Errorf("不支持的分区决策方式: %s", cfg.Worker.TypeIDMode)
	}

	var secrets []string
	if cfg.Oracle.APIKey != "" {
		secrets = append(secrets, cfg.Oracle.APIKey)
	}

	a.Processor = publish.NewProcessor(publish.Deps{
		Store:       a.Store,
		Blobs:       a.Blobs,
		Credentials: a.Credentials,
		NewClient:   a.NewClient,
		Oracle:      a.Oracle,
	}, publish.Options{
		Mode:              cfg.Bilibili.Mode,
		MaxRetries:        cfg.Worker.MaxRetries,
		WorkDir:           cfg.Worker.WorkDir,
		DefaultTypeIDMode: mode,
		Secrets:           secrets,
	}, logger.With("publish"))

	a.Submitter = publish.NewSubmitter(a.Store, a.Queue, logger.With("submit"))
	var runnerOpts []publish.RunnerOption
	if cfg.Queue.VisibilityTimeout > 0 {
		runnerOpts = append(runnerOpts, publish.WithHeartbeat(cfg.Queue.VisibilityTimeout/3))
	}
	a.Runner = publish.NewRunner(a.Queue, a.Processor, cfg.Worker.Concurrency, cfg.Queue.PollInterval, logger.With("runner"), runnerOpts...)

	return a, nil
}

func newClientFactory(cfg config.BilibiliConfig) publish.ClientFactory {
	var limiter *rate.Limiter
	if cfg.PreuploadRate > 0 {
		burst := cfg.PreuploadBurst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.PreuploadRate), burst)
	}

	return func(cookie string) (publish.PlatformClient, error) {
		client, err := bilibili.NewClient(cookie, bilibili.Options{
			MemberBaseURL:    cfg.MemberBaseURL,
			UploadScheme:     cfg.UploadScheme,
			Profile:          cfg.Profile,
			APITimeout:       cfg.APITimeout,
			CDNTimeout:       cfg.CDNTimeout,
			PreuploadLimiter: limiter,
			OnChunkUploaded:  publish.RecordChunk,
			Logger:           logger.With("bilibili"),
		})
		if err != nil {
			return nil, err
		}
		return client, nil
	}
}

// Close 按创建的逆序释放资源
func (a *App) Close() error {
	var errList []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errList = append(errList, err)
		}
	}
	a.closers = nil
	return errors.Join(errList...)
}
