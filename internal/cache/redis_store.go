package cache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStorage 将每个分区保存为一个 Hash，分区名集合保存在 <prefix>:partitions。
type RedisStorage struct {
	redis  *redis.Client
	prefix string
	now    func() time.Time
}

type redisPartition struct {
	storage *RedisStorage
	name    string
}

// NewRedisStorage 基于已有的 Redis 客户端创建存储。
func NewRedisStorage(client *redis.Client, prefix string) *RedisStorage {
	if client == nil {
		panic("redis client cannot be nil")
	}
	if prefix == "" {
		prefix = "shell-cache"
	}
	return &RedisStorage{redis: client, prefix: prefix, now: time.Now}
}

func (s *RedisStorage) indexKey() string {
	return s.prefix + ":partitions"
}

func (s *RedisStorage) partitionKey(name string) string {
	return s.prefix + ":partition:" + name
}

func (s *RedisStorage) Open(ctx context.Context, name string) (Partition, error) {
	if err := ValidateName(name); err != nil {
		return nil, fmt.Errorf("%w: %q", err, name)
	}
	if err := s.redis.SAdd(ctx, s.indexKey(), name).Err(); err != nil {
		return nil, fmt.Errorf("redis sadd: %w", err)
	}
	return &redisPartition{storage: s, name: name}, nil
}

func (s *RedisStorage) Keys(ctx context.Context) ([]string, error) {
	names, err := s.redis.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("redis smembers: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

func (s *RedisStorage) Delete(ctx context.Context, name string) (bool, error) {
	var removed *redis.IntCmd
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		removed = pipe.SRem(ctx, s.indexKey(), name)
		pipe.Del(ctx, s.partitionKey(name))
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("redis delete partition: %w", err)
	}
	return removed.Val() > 0, nil
}

func (s *RedisStorage) Close() error {
	return s.redis.Close()
}

func (p *redisPartition) Name() string {
	return p.name
}

func (p *redisPartition) Match(ctx context.Context, key Key) (*Response, error) {
	data, err := p.storage.redis.HGet(ctx, p.storage.partitionKey(p.name), string(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("redis hget: %w", err)
	}
	return decodeEntry(data)
}

// Put 只在分区仍登记在索引中时写入，避免迟到的写入复活已删除的分区。
func (p *redisPartition) Put(ctx context.Context, key Key, resp *Response) error {
	if resp == nil {
		return errors.New("response required")
	}
	data, err := encodeEntry(resp, p.storage.now().UTC())
	if err != nil {
		return err
	}
	member, err := p.storage.redis.SIsMember(ctx, p.storage.indexKey(), p.name).Result()
	if err != nil {
		return fmt.Errorf("redis sismember: %w", err)
	}
	if !member {
		return fmt.Errorf("%w: %s", errPartitionGone, p.name)
	}
	if err := p.storage.redis.HSet(ctx, p.storage.partitionKey(p.name), string(key), data).Err(); err != nil {
		return fmt.Errorf("redis hset: %w", err)
	}
	return nil
}
