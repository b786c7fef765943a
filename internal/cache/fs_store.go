package cache

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// errPartitionGone 表示分区在写入前已被整体删除，迟到的写入直接丢弃。
var errPartitionGone = errors.New("partition deleted")

// NewFileStorage 以 basePath 为根目录构建磁盘缓存，布局为：
//
//	<basePath>/<partition>/<hh>/<sha1(key)>.body   # 正文
//	<basePath>/<partition>/<hh>/<sha1(key)>.meta   # 状态码与响应头（JSON）
func NewFileStorage(basePath string) (Storage, error) {
	if basePath == "" {
		return nil, errors.New("storage path required")
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}

	return &fileStorage{
		basePath: abs,
		locks:    make(map[string]*entryLock),
		now:      time.Now,
	}, nil
}

// fileStorage 通过 entryLock 避免同一条目并发写入。
type fileStorage struct {
	basePath string
	now      func() time.Time

	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

type filePartition struct {
	storage *fileStorage
	name    string
	dir     string
}

func (s *fileStorage) Open(ctx context.Context, name string) (Partition, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := ValidateName(name); err != nil {
		return nil, fmt.Errorf("%w: %q", err, name)
	}
	dir := filepath.Join(s.basePath, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create partition: %w", err)
	}
	return &filePartition{storage: s, name: name, dir: dir}, nil
}

func (s *fileStorage) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names, nil
}

// Delete 先把分区目录改名为隐藏的回收目录，再递归删除，Keys 不会看到半删除状态。
func (s *fileStorage) Delete(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := ValidateName(name); err != nil {
		return false, fmt.Errorf("%w: %q", err, name)
	}
	dir := filepath.Join(s.basePath, name)
	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	if !info.IsDir() {
		return false, nil
	}

	trash, err := os.MkdirTemp(s.basePath, ".trash-*")
	if err != nil {
		return false, err
	}
	target := filepath.Join(trash, name)
	if err := os.Rename(dir, target); err != nil {
		os.RemoveAll(trash)
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	if err := os.RemoveAll(trash); err != nil {
		return true, err
	}
	return true, nil
}

func (s *fileStorage) Close() error {
	return nil
}

func (p *filePartition) Name() string {
	return p.name
}

func (p *filePartition) Match(ctx context.Context, key Key) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	bodyPath, metaPath, err := p.entryPath(key)
	if err != nil {
		return nil, err
	}

	meta, err := os.ReadFile(metaPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || isDirErr(metaPath) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	body, err := os.ReadFile(bodyPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return decodeMeta(meta, body)
}

func (p *filePartition) Put(ctx context.Context, key Key, resp *Response) error {
	if resp == nil {
		return errors.New("response required")
	}
	unlock := p.storage.lockEntry(p.name, key)
	defer unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if info, err := os.Stat(p.dir); err != nil || !info.IsDir() {
		return fmt.Errorf("%w: %s", errPartitionGone, p.name)
	}

	bodyPath, metaPath, err := p.entryPath(key)
	if err != nil {
		return err
	}
	// 只创建一级哈希目录；分区目录已被删除时 Mkdir 失败，不会把分区重建出来。
	if err := os.Mkdir(filepath.Dir(bodyPath), 0o755); err != nil && !errors.Is(err, fs.ErrExist) {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", errPartitionGone, p.name)
		}
		return err
	}

	meta, err := encodeMeta(resp, p.storage.now().UTC())
	if err != nil {
		return err
	}
	if err := writeAtomic(bodyPath, resp.Body); err != nil {
		return err
	}
	return writeAtomic(metaPath, meta)
}

// writeAtomic 通过临时文件 + rename 保证写入原子性，失败时清理临时文件。
func writeAtomic(target string, data []byte) error {
	tempFile, err := os.CreateTemp(filepath.Dir(target), ".cache-*")
	if err != nil {
		return err
	}
	tempName := tempFile.Name()

	_, err = tempFile.Write(data)
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return err
	}

	if err := os.Rename(tempName, target); err != nil {
		os.Remove(tempName)
		return err
	}
	return nil
}

func (s *fileStorage) lockEntry(partition string, key Key) func() {
	lockKey := partition + "::" + string(key)
	s.mu.Lock()
	lock := s.locks[lockKey]
	if lock == nil {
		lock = &entryLock{}
		s.locks[lockKey] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		s.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, lockKey)
		}
		s.mu.Unlock()
	}
}

// entryPath 将缓存键映射为分区目录下的文件路径。文件名取完整键（path + query）
// 的 SHA-1，"/"、"/root"、"/x/" 与 "/x/__index" 等键互不冲突，且不受 ".." 影响。
func (p *filePartition) entryPath(key Key) (string, string, error) {
	if key == "" {
		return "", "", errors.New("invalid cache key")
	}
	sum := sha1.Sum([]byte(key))
	name := hex.EncodeToString(sum[:])
	base := filepath.Join(p.dir, name[:2], name)
	if !strings.HasPrefix(base, p.dir+string(filepath.Separator)) {
		return "", "", errors.New("invalid cache path")
	}
	return base + ".body", base + ".meta", nil
}

func isDirErr(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.IsDir()
}
