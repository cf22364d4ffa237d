package utils

import (
	"fmt"
	"os"
)

func EnsureDir(dir string) error {
	return os.MkdirAll(dir, 0o755)
}

// TempWorkDir 在 base 下创建单次执行使用的临时目录，base 为空时使用系统临时目录。
// cleanup 删除整个目录，可以重复调用。
func TempWorkDir(base, prefix string) (string, func(), error) {
	if base != "" {
		if err := EnsureDir(base); err != nil {
			return "", nil, fmt.Errorf("创建工作目录失败: %w", err)
		}
	}
	dir, err := os.MkdirTemp(base, prefix)
	if err != nil {
		return "", nil, fmt.Errorf("创建临时目录失败: %w", err)
	}
	return dir, func() { _ = os.RemoveAll(dir) }, nil
}

// RegularFileSize 返回普通文件的大小，目录或不存在时报错
func RegularFileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	if !info.Mode().IsRegular() {
		return 0, fmt.Errorf("%s 不是普通文件", path)
	}
	return info.Size(), nil
}
