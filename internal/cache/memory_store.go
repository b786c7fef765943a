package cache

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStorage 是进程内的分区存储，Keys 按创建顺序返回。
type MemoryStorage struct {
	mu         sync.RWMutex
	order      []string
	partitions map[string]*memoryPartition
	now        func() time.Time
}

type memoryPartition struct {
	name    string
	mu      sync.RWMutex
	entries map[Key]*Response
}

// NewMemoryStorage 创建空的内存存储。
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		partitions: make(map[string]*memoryPartition),
		now:        time.Now,
	}
}

func (m *MemoryStorage) Open(ctx context.Context, name string) (Partition, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := ValidateName(name); err != nil {
		return nil, fmt.Errorf("%w: %q", err, name)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.partitions[name]; ok {
		return &memoryHandle{storage: m, partition: p}, nil
	}
	p := &memoryPartition{name: name, entries: make(map[Key]*Response)}
	m.partitions[name] = p
	m.order = append(m.order, name)
	return &memoryHandle{storage: m, partition: p}, nil
}

func (m *MemoryStorage) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.order...), nil
}

func (m *MemoryStorage) Delete(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.partitions[name]; !ok {
		return false, nil
	}
	delete(m.partitions, name)
	for i, existing := range m.order {
		if existing == name {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return true, nil
}

func (m *MemoryStorage) Close() error {
	return nil
}

// memoryHandle 绑定打开时的分区实例；分区被删除（或删除后重建）后，旧句柄的写入返回 errPartitionGone。
type memoryHandle struct {
	storage   *MemoryStorage
	partition *memoryPartition
}

func (h *memoryHandle) Name() string {
	return h.partition.name
}

func (h *memoryHandle) Match(ctx context.Context, key Key) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h.partition.mu.RLock()
	defer h.partition.mu.RUnlock()
	resp, ok := h.partition.entries[key]
	if !ok {
		return nil, ErrNotFound
	}
	return resp.Clone(), nil
}

func (h *memoryHandle) Put(ctx context.Context, key Key, resp *Response) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if resp == nil {
		return fmt.Errorf("response required")
	}
	stored := resp.Clone()
	stored.Kind = KindBasic
	stored.StoredAt = h.storage.now().UTC()

	h.storage.mu.RLock()
	defer h.storage.mu.RUnlock()
	if h.storage.partitions[h.partition.name] != h.partition {
		return fmt.Errorf("%w: %s", errPartitionGone, h.partition.name)
	}

	h.partition.mu.Lock()
	defer h.partition.mu.Unlock()
	h.partition.entries[key] = stored
	return nil
}
