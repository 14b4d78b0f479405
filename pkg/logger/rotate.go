package logger

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

const backupStamp = "20060102T150405.000"

// rotateFile 是按大小轮转的日志文件。写满后当前文件会被重命名为
// <path>.<时间戳>，超出保留数量或保留期的备份在轮转时被清理。
type rotateFile struct {
	mu      sync.Mutex
	f       *os.File
	path    string
	limit   int64
	keep    int
	age     time.Duration
	written int64
}

func newRotateFile(path string, maxSizeMB, maxBackups, maxAgeDays int) (*rotateFile, error) {
	if path == "" {
		return nil, errors.New("轮转日志需要输出路径")
	}
	if maxSizeMB <= 0 {
		maxSizeMB = 100
	}
	if maxBackups <= 0 {
		maxBackups = 7
	}
	if maxAgeDays <= 0 {
		maxAgeDays = 30
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("创建审计日志目录失败: %w", err)
	}
	return &rotateFile{
		path:  path,
		limit: int64(maxSizeMB) * 1024 * 1024,
		keep:  maxBackups,
		age:   time.Duration(maxAgeDays) * 24 * time.Hour,
	}, nil
}

func (r *rotateFile) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.open(); err != nil {
		return 0, err
	}
	if r.written+int64(len(p)) > r.limit {
		if err := r.rotate(); err != nil {
			return 0, err
		}
		if err := r.open(); err != nil {
			return 0, err
		}
	}
	n, err := r.f.Write(p)
	r.written += int64(n)
	return n, err
}

func (r *rotateFile) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.f == nil {
		return nil
	}
	err := r.f.Close()
	r.f = nil
	r.written = 0
	return err
}

func (r *rotateFile) open() error {
	if r.f != nil {
		return nil
	}
	f, err := os.OpenFile(r.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("打开审计日志失败: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("读取审计日志状态失败: %w", err)
	}
	r.f = f
	r.written = info.Size()
	return nil
}

func (r *rotateFile) rotate() error {
	if r.f != nil {
		_ = r.f.Close()
		r.f = nil
	}
	r.written = 0

	backup := fmt.Sprintf("%s.%s", r.path, time.Now().UTC().Format(backupStamp))
	if err := os.Rename(r.path, backup); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("轮转审计日志失败: %w", err)
	}
	r.prune()
	return nil
}

// prune 删除超出保留数量或保留期的备份文件。
func (r *rotateFile) prune() {
	backups, err := filepath.Glob(r.path + ".*")
	if err != nil {
		return
	}
	// 时间戳即文件名后缀，字典序等于时间序。
	sort.Sort(sort.Reverse(sort.StringSlice(backups)))

	cutoff := time.Now().Add(-r.age)
	for i, backup := range backups {
		if i < r.keep {
			info, err := os.Stat(backup)
			if err != nil || !info.ModTime().Before(cutoff) {
				continue
			}
		}
		_ = os.Remove(backup)
	}
}
