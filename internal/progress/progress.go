package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sysu-ecnc-dev/ad-planner/backend/internal/domain"
)

// ErrNotFound 任务还没有开始或者进度已经过期
var ErrNotFound = errors.New("没有找到任务进度")

func Key(runID string) string {
	return fmt.Sprintf("optimization:progress:%s", runID)
}

// Store 把每个任务最新一代的统计信息保存在 redis 中
type Store struct {
	client     *redis.Client
	expiration time.Duration
}

func NewStore(client *redis.Client, expiration time.Duration) *Store {
	return &Store{
		client:     client,
		expiration: expiration,
	}
}

func (s *Store) Set(ctx context.Context, runID string, stats domain.GenerationStats) error {
	data, err := json.Marshal(stats)
	if err != nil {
		return err
	}

	return s.client.Set(ctx, Key(runID), data, s.expiration).Err()
}

func (s *Store) Get(ctx context.Context, runID string) (*domain.GenerationStats, error) {
	data, err := s.client.Get(ctx, Key(runID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	stats := &domain.GenerationStats{}
	if err := json.Unmarshal(data, stats); err != nil {
		return nil, err
	}

	return stats, nil
}
