package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"bilipub/internal/config"

	"cloud.google.com/go/storage"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
)

// GCSStore Google Cloud Storage 存储
type GCSStore struct {
	bucket *storage.BucketHandle
	client *storage.Client
	log    zerolog.Logger
}

// NewGCSStore 创建 GCS 存储；配置 endpoint 时视为模拟器，不做鉴权
func NewGCSStore(ctx context.Context, cfg config.GCSConfig, logger zerolog.Logger) (*GCSStore, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("storage.gcs.bucket 不能为空")
	}

	var opts []option.ClientOption
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint), option.WithoutAuthentication())
	} else if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("创建 GCS 客户端失败: %w", err)
	}

	return &GCSStore{
		bucket: client.Bucket(cfg.Bucket),
		client: client,
		log:    logger.With().Str("storage", "gcs").Str("bucket", cfg.Bucket).Logger(),
	}, nil
}

// Close 关闭底层客户端
func (s *GCSStore) Close() error {
	return s.client.Close()
}

func (s *GCSStore) Download(ctx context.Context, key, localPath string) error {
	r, err := s.bucket.Object(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return fmt.Errorf("%s: %w", key, ErrNotFound)
		}
		return fmt.Errorf("读取对象失败: %w", err)
	}
	defer r.Close()

	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return fmt.Errorf("创建目录失败: %w", err)
	}
	f, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("创建本地文件失败: %w", err)
	}
	defer f.Close()

	n, err := io.Copy(f, r)
	if err != nil {
		return fmt.Errorf("下载对象失败: %w", err)
	}
	s.log.Debug().Str("key", key).Int64("bytes", n).Msg("下载对象完成")
	return nil
}

func (s *GCSStore) Upload(ctx context.Context, localPath, key, contentType string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("打开本地文件失败: %w", err)
	}
	defer f.Close()
	return s.write(ctx, f, key, contentType)
}

func (s *GCSStore) PutBytes(ctx context.Context, data []byte, key, contentType string) error {
	return s.write(ctx, bytes.NewReader(data), key, contentType)
}

func (s *GCSStore) write(ctx context.Context, r io.Reader, key, contentType string) error {
	w := s.bucket.Object(key).NewWriter(ctx)
	if contentType != "" {
		w.ContentType = contentType
	}
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return fmt.Errorf("写入对象失败: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("写入对象失败: %w", err)
	}
	return nil
}
