package app

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"bilipub/internal/config"
	"bilipub/internal/model"
	"bilipub/internal/service/publish"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mockConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Bilibili: config.BilibiliConfig{
			Mode:           "mock",
			MemberBaseURL:  "https://member.bilibili.com",
			Cookie:         "SESSDATA=s; bili_jct=csrf",
			PreuploadRate:  2,
			PreuploadBurst: 0,
		},
		Storage: config.StorageConfig{
			Driver: "local",
			Local:  config.LocalConfig{Root: t.TempDir()},
		},
		Database: config.DatabaseConfig{Driver: "sqlite", DSN: ":memory:"},
		Queue:    config.QueueConfig{Driver: "memory", PollInterval: 5 * time.Millisecond, VisibilityTimeout: time.Minute},
		Worker: config.WorkerConfig{
			Concurrency: 1,
			MaxRetries:  5,
			WorkDir:     t.TempDir(),
			TypeIDMode:  "bilibili_predict",
		},
	}
}

func TestMockPublishEndToEnd(t *testing.T) {
	cfg := mockConfig(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := NewApp(ctx, cfg)
	require.NoError(t, err)
	defer a.Close()

	job, err := a.Submitter.Submit(ctx, publish.SubmitRequest{
		TaskID: "task-e2e",
		Payload: model.JobPayload{
			Meta:  json.RawMessage(`{"title":"标题","tid":21,"tags":["测试"]}`),
			Video: &model.BlobRef{Type: "blob", Key: "videos/task-e2e/final.mp4"},
		},
	})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- a.Runner.Run(ctx) }()

	require.Eventually(t, func() bool {
		got, err := a.Store.GetJob(ctx, job.ID)
		return err == nil && got.State == model.StatePublished
	}, 3*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	got, err := a.Store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, got.AID)
	assert.Contains(t, got.ResultJSON, `"mode":"mock"`)

	task, err := a.Store.GetTask(context.Background(), "task-e2e")
	require.NoError(t, err)
	assert.Equal(t, model.TaskPublished, task.Status)

	blob, err := os.ReadFile(filepath.Join(cfg.Storage.Local.Root, model.PublishResultKey("task-e2e")))
	require.NoError(t, err)
	assert.JSONEq(t, got.ResultJSON, string(blob))
}

func TestNewAppRejectsUnknownTypeIDMode(t *testing.T) {
	cfg := mockConfig(t)
	cfg.Worker.TypeIDMode = "guess"

	_, err := NewApp(context.Background(), cfg)
	require.Error(t, err)
}

func TestClientFactoryBuildsClient(t *testing.T) {
	factory := newClientFactory(mockConfig(t).Bilibili)

	client, err := factory("SESSDATA=s; bili_jct=csrf")
	require.NoError(t, err)
	require.NoError(t, client.Close())

	_, err = factory("  ")
	require.Error(t, err)
}
