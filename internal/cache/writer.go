package cache

import (
	"context"
	"errors"
)

// ErrNotUsable 表示响应不满足写入条件（非 2xx、206 或合成错误）。
var ErrNotUsable = errors.New("response not usable for caching")

// StoreUsable 仅在响应可用时写入其副本，调用方拿到的响应不受影响。
func StoreUsable(ctx context.Context, partition Partition, key Key, resp *Response) error {
	if partition == nil {
		return errors.New("partition required")
	}
	if !resp.Usable() {
		return ErrNotUsable
	}
	return partition.Put(ctx, key, resp.Clone())
}

// MatchAny 依次在多个分区中查找 key，返回第一个命中的条目及其分区名。
func MatchAny(ctx context.Context, partitions []Partition, key Key) (*Response, string, error) {
	for _, p := range partitions {
		if p == nil {
			continue
		}
		resp, err := p.Match(ctx, key)
		switch {
		case err == nil:
			return resp, p.Name(), nil
		case errors.Is(err, ErrNotFound):
			continue
		default:
			return nil, "", err
		}
	}
	return nil, "", ErrNotFound
}
