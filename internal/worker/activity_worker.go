package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-examroom/internal/config"
	"github.com/stemsi/exstem-examroom/internal/repository"
)

const (
	ActivityBatchSize    = 200
	ActivityBatchTimeout = 2 * time.Second
)

type activityWriter interface {
	CopyBatch(ctx context.Context, batch []repository.ActivityRecord) error
	Insert(ctx context.Context, rec repository.ActivityRecord) error
}

// ActivityWorker bulk-loads the live activity feed into exam_activity.
type ActivityWorker struct {
	store        activityWriter
	rdb          *redis.Client
	log          zerolog.Logger
	batchSize    int
	batchTimeout time.Duration
	backoff      time.Duration
}

func NewActivityWorker(store activityWriter, rdb *redis.Client, log zerolog.Logger) *ActivityWorker {
	return &ActivityWorker{
		store:        store,
		rdb:          rdb,
		log:          log.With().Str("component", "activity_worker").Logger(),
		batchSize:    ActivityBatchSize,
		batchTimeout: ActivityBatchTimeout,
		backoff:      RequeueBackoff,
	}
}

func (w *ActivityWorker) Start(ctx context.Context) {
	w.log.Info().Msg("ActivityWorker started")

	buffer := make([]repository.ActivityRecord, 0, w.batchSize)
	lastFlushTime := time.Now()

	for {
		if len(buffer) > 0 {
			if len(buffer) >= w.batchSize || time.Since(lastFlushTime) >= w.batchTimeout {
				w.flushSafe(ctx, buffer)
				buffer = buffer[:0]
				lastFlushTime = time.Now()
			}
		}

		select {
		case <-ctx.Done():
			w.shutdown(buffer)
			return
		default:
		}

		result, err := w.rdb.BLPop(ctx, PollTimeout, config.WorkerKey.PersistActivityQueue).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			w.log.Error().Err(err).Msg("Redis connection error, sleeping")
			sleepCtx(ctx, w.backoff)
			continue
		}
		if len(result) < 2 {
			continue
		}

		var rec repository.ActivityRecord
		if err := json.Unmarshal([]byte(result[1]), &rec); err != nil {
			w.log.Error().Err(err).Str("data", result[1]).Msg("Discarding malformed JSON")
			continue
		}
		buffer = append(buffer, rec)
	}
}

// flushSafe attempts COPY, then row-by-row insert, then requeue.
func (w *ActivityWorker) flushSafe(ctx context.Context, batch []repository.ActivityRecord) {
	defer reportDepth(ctx, w.rdb, config.WorkerKey.PersistActivityQueue)

	if err := w.store.CopyBatch(ctx, batch); err != nil {
		w.log.Warn().Err(err).Int("count", len(batch)).Msg("Bulk copy failed, attempting row-by-row recovery")
		w.fallbackInsert(ctx, batch)
	}
}

func (w *ActivityWorker) fallbackInsert(ctx context.Context, batch []repository.ActivityRecord) {
	var requeueList []repository.ActivityRecord
	for _, rec := range batch {
		if err := w.store.Insert(ctx, rec); err != nil {
			w.log.Error().Err(err).Str("session_id", rec.SessionID.String()).Msg("Insert failed, requeueing")
			requeueList = append(requeueList, rec)
		}
	}
	if len(requeueList) > 0 {
		w.requeue(ctx, requeueList)
	}
}

func (w *ActivityWorker) requeue(ctx context.Context, items []repository.ActivityRecord) {
	pipe := w.rdb.Pipeline()
	for _, rec := range items {
		data, _ := json.Marshal(rec)
		pipe.RPush(ctx, config.WorkerKey.PersistActivityQueue, data)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		w.log.Error().Err(err).Msg("CRITICAL: Failed to requeue activity to Redis. Data loss occurred.")
		return
	}
	w.log.Info().Int("count", len(items)).Msg("Requeued failed activity back to Redis")
	sleepCtx(ctx, w.backoff)
}

func (w *ActivityWorker) shutdown(buffer []repository.ActivityRecord) {
	w.log.Info().Msg("Worker stopping, flushing remaining buffer...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if len(buffer) > 0 {
		w.flushSafe(shutdownCtx, buffer)
	}
}
