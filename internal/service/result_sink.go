package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/stemsi/exstem-examroom/internal/config"
	"github.com/stemsi/exstem-examroom/internal/model"
)

// resultHoldTTL bounds how long a submitted draft stays readable in Redis
// while the result worker catches up.
const resultHoldTTL = 24 * time.Hour

// QueueResultSink hands submitted sessions to the result worker through Redis.
type QueueResultSink struct {
	rdb *redis.Client
}

// NewQueueResultSink creates a new QueueResultSink.
func NewQueueResultSink(rdb *redis.Client) *QueueResultSink {
	return &QueueResultSink{rdb: rdb}
}

// Submit stores the draft under its session key and queues it for persistence.
func (s *QueueResultSink) Submit(ctx context.Context, draft model.ExamResultDraft) error {
	data, err := json.Marshal(draft)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}

	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, config.CacheKey.SessionResultKey(draft.SessionID.String()), data, resultHoldTTL)
	pipe.RPush(ctx, config.WorkerKey.PersistResultsQueue, data)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("queue result: %w", err)
	}
	return nil
}
