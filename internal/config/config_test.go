package config

import (
	"bytes"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadYAML(t *testing.T, doc string) (*Config, error) {
	t.Helper()
	v := viper.New()
	SetDefaults(v)
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(bytes.NewBufferString(doc)))
	return Unmarshal(v)
}

func TestDefaults(t *testing.T) {
	cfg, err := loadYAML(t, "{}")
	require.NoError(t, err)

	assert.Equal(t, "web", cfg.Bilibili.Mode)
	assert.Equal(t, "https://member.bilibili.com", cfg.Bilibili.MemberBaseURL)
	assert.Equal(t, "ugcupos/bup", cfg.Bilibili.Profile)
	assert.Equal(t, 30*time.Second, cfg.Bilibili.APITimeout)
	assert.Equal(t, 120*time.Second, cfg.Bilibili.CDNTimeout)
	assert.Equal(t, 5, cfg.Worker.MaxRetries)
	assert.Equal(t, "bilibili_predict", cfg.Worker.TypeIDMode)
	assert.Equal(t, "local", cfg.Storage.Driver)
}

func TestOverrides(t *testing.T) {
	cfg, err := loadYAML(t, `
bilibili:
  mode: mock
  api_timeout: 5s
storage:
  driver: s3
  s3:
    bucket: videos
    force_path_style: true
queue:
  driver: memory
worker:
  concurrency: 4
  typeid_mode: ai_summary
oracle:
  temperature: 0.2
`)
	require.NoError(t, err)

	assert.Equal(t, "mock", cfg.Bilibili.Mode)
	assert.Equal(t, 5*time.Second, cfg.Bilibili.APITimeout)
	assert.Equal(t, "videos", cfg.Storage.S3.Bucket)
	assert.True(t, cfg.Storage.S3.ForcePathStyle)
	assert.Equal(t, "memory", cfg.Queue.Driver)
	assert.Equal(t, 4, cfg.Worker.Concurrency)
	assert.Equal(t, "ai_summary", cfg.Worker.TypeIDMode)
	assert.InDelta(t, 0.2, cfg.Oracle.Temperature, 1e-9)
}

func TestValidate(t *testing.T) {
	cases := map[string]string{
		"unknown mode":        "bilibili: {mode: live}",
		"s3 without bucket":   "storage: {driver: s3}",
		"gcs without bucket":  "storage: {driver: gcs}",
		"unknown storage":     "storage: {driver: ftp}",
		"unknown database":    "database: {driver: oracle}",
		"unknown queue":       "queue: {driver: kafka}",
		"zero concurrency":    "worker: {concurrency: 0}",
		"negative retries":    "worker: {max_retries: -1}",
		"unknown typeid mode": "worker: {typeid_mode: guess}",
		"negative rate":       "bilibili: {preupload_rate: -1}",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := loadYAML(t, doc)
			require.Error(t, err)
		})
	}
}
