// Package storage 封装投稿素材与结果所在的对象存储。
package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"bilipub/internal/config"

	"github.com/rs/zerolog"
)

// ErrNotFound 对象不存在
var ErrNotFound = errors.New("object not found")

// BlobStore 对象存储抽象，key 为存储内的相对路径
type BlobStore interface {
	// Download 将对象写入本地文件
	Download(ctx context.Context, key, localPath string) error
	// Upload 上传本地文件
	Upload(ctx context.Context, localPath, key, contentType string) error
	// PutBytes 直接写入内存数据
	PutBytes(ctx context.Context, data []byte, key, contentType string) error
}

// New 按配置创建存储后端
func New(ctx context.Context, cfg config.StorageConfig, logger zerolog.Logger) (BlobStore, error) {
	switch cfg.Driver {
	case "", "local":
		return NewLocalStore(nil, cfg.Local.Root, logger), nil
	case "s3":
		return NewS3Store(cfg.S3, logger)
	case "gcs":
		return NewGCSStore(ctx, cfg.GCS, logger)
	default:
		return nil, fmt.Errorf("不支持的存储类型: %s", cfg.Driver)
	}
}

// CleanKey 规范化 key，拒绝跳出根目录的路径
func CleanKey(key string) (string, error) {
	key = strings.TrimSpace(strings.ReplaceAll(key, "\\", "/"))
	if key == "" {
		return "", fmt.Errorf("存储 key 不能为空")
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == ".." {
			return "", fmt.Errorf("非法的存储 key: %s", key)
		}
	}
	cleaned := strings.TrimPrefix(path.Clean("/"+key), "/")
	if cleaned == "" {
		return "", fmt.Errorf("非法的存储 key: %s", key)
	}
	return cleaned, nil
}
