package cache

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Storage 管理具名缓存分区。分区在首次 Open 时惰性创建，只能整体删除。
type Storage interface {
	// Open 返回指定名称的分区，不存在时创建。
	Open(ctx context.Context, name string) (Partition, error)

	// Keys 列出所有已持久化的分区名称。
	Keys(ctx context.Context) ([]string, error)

	// Delete 删除整个分区，返回该分区此前是否存在。
	Delete(ctx context.Context, name string) (bool, error)

	// Close 释放底层连接或句柄。
	Close() error
}

// Partition 是一个分区内的 request→response 映射，写入即覆盖。
type Partition interface {
	Name() string

	// Match 返回 key 对应的响应副本，不存在时返回 ErrNotFound。
	Match(ctx context.Context, key Key) (*Response, error)

	// Put 覆盖写入 key 对应的响应。
	Put(ctx context.Context, key Key, resp *Response) error
}

// ResponseKind 区分真实响应与合成的网络错误。
type ResponseKind string

const (
	KindBasic ResponseKind = "basic"
	KindError ResponseKind = "error"
)

// Response 是完整缓冲在内存中的响应，既是回源结果也是缓存条目。
type Response struct {
	Status   int
	Header   http.Header
	Body     []byte
	Kind     ResponseKind
	StoredAt time.Time
}

// NetworkError 构造合成的网络错误响应，让客户端立即得到明确的离线失败。
func NetworkError() *Response {
	return &Response{Kind: KindError, Header: http.Header{}}
}

// IsNetworkError 表示该响应是否为合成的网络错误。
func (r *Response) IsNetworkError() bool {
	return r != nil && r.Kind == KindError
}

// Usable 表示响应是否可以写入缓存：真实响应且状态码为 2xx（206 分段响应除外）。
func (r *Response) Usable() bool {
	if r == nil || r.Kind == KindError {
		return false
	}
	if r.Status == http.StatusPartialContent {
		return false
	}
	return r.Status >= 200 && r.Status < 300
}

// Clone 深拷贝响应，写入缓存与返回调用方的副本互不影响。
func (r *Response) Clone() *Response {
	if r == nil {
		return nil
	}
	cloned := *r
	cloned.Header = r.Header.Clone()
	if cloned.Header == nil {
		cloned.Header = http.Header{}
	}
	if r.Body != nil {
		cloned.Body = append([]byte(nil), r.Body...)
	}
	return &cloned
}

// Key 是缓存条目的键：GET 请求的 path + query。
type Key string

// KeyFor 计算请求对应的缓存键。
func KeyFor(r *http.Request) Key {
	if r == nil || r.URL == nil {
		return "/"
	}
	return normalizeKey(r.URL)
}

// KeyForPath 将配置中的路径（可带 query）转换为缓存键。
func KeyForPath(raw string) Key {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "/"
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return Key(raw)
	}
	return normalizeKey(parsed)
}

func normalizeKey(u *url.URL) Key {
	p := u.EscapedPath()
	if p == "" {
		p = "/"
	}
	if u.RawQuery != "" {
		return Key(p + "?" + u.RawQuery)
	}
	return Key(p)
}

var (
	// ErrNotFound 表示分区中不存在该条目。
	ErrNotFound = errors.New("cache entry not found")

	// ErrInvalidName 表示分区名称不合法。
	ErrInvalidName = errors.New("invalid partition name")
)

// ValidateName 校验分区名称：非空，且不含路径分隔符或前导点号。
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" || name != strings.TrimSpace(name) {
		return ErrInvalidName
	}
	if strings.ContainsAny(name, "/\\") || strings.HasPrefix(name, ".") {
		return ErrInvalidName
	}
	return nil
}
