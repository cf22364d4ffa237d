package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
)

// LocalStore 以目录作为对象存储
type LocalStore struct {
	fs    afero.Fs
	local afero.Fs
	root  string
	log   zerolog.Logger
}

// LocalOption LocalStore 可选项
type LocalOption func(*LocalStore)

// WithLocalFs 替换下载目标所在的文件系统，默认为操作系统文件系统
func WithLocalFs(fs afero.Fs) LocalOption {
	return func(s *LocalStore) {
		if fs != nil {
			s.local = fs
		}
	}
}

// NewLocalStore 创建本地存储；fs 为 nil 时使用操作系统文件系统
func NewLocalStore(fs afero.Fs, root string, logger zerolog.Logger, opts ...LocalOption) *LocalStore {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	s := &LocalStore{
		fs:    fs,
		local: afero.NewOsFs(),
		root:  root,
		log:   logger.With().Str("storage", "local").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *LocalStore) objectPath(key string) (string, error) {
	cleaned, err := CleanKey(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.root, filepath.FromSlash(cleaned)), nil
}

func (s *LocalStore) Download(ctx context.Context, key, localPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	src, err := s.objectPath(key)
	if err != nil {
		return err
	}

	in, err := s.fs.Open(src)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%s: %w", key, ErrNotFound)
		}
		return fmt.Errorf("打开对象失败: %w", err)
	}
	defer in.Close()

	if err := s.local.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return fmt.Errorf("创建目录失败: %w", err)
	}
	out, err := s.local.Create(localPath)
	if err != nil {
		return fmt.Errorf("创建本地文件失败: %w", err)
	}
	defer out.Close()

	n, err := io.Copy(out, in)
	if err != nil {
		return fmt.Errorf("复制对象失败: %w", err)
	}
	s.log.Debug().Str("key", key).Int64("bytes", n).Msg("下载对象完成")
	return nil
}

func (s *LocalStore) Upload(ctx context.Context, localPath, key, contentType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := afero.ReadFile(s.local, localPath)
	if err != nil {
		return fmt.Errorf("读取本地文件失败: %w", err)
	}
	return s.PutBytes(ctx, data, key, contentType)
}

func (s *LocalStore) PutBytes(ctx context.Context, data []byte, key, _ string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dst, err := s.objectPath(key)
	if err != nil {
		return err
	}
	if err := s.fs.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("创建目录失败: %w", err)
	}

	// 先写临时文件再改名，避免读到半个对象
	tmp := dst + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, data, 0o644); err != nil {
		return fmt.Errorf("写入对象失败: %w", err)
	}
	if err := s.fs.Rename(tmp, dst); err != nil {
		_ = s.fs.Remove(tmp)
		return fmt.Errorf("写入对象失败: %w", err)
	}
	s.log.Debug().Str("key", key).Int("bytes", len(data)).Msg("写入对象完成")
	return nil
}

// Exists 判断对象是否存在
func (s *LocalStore) Exists(key string) (bool, error) {
	p, err := s.objectPath(key)
	if err != nil {
		return false, err
	}
	return afero.Exists(s.fs, p)
}
