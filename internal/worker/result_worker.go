package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-examroom/internal/config"
	"github.com/stemsi/exstem-examroom/internal/metrics"
	"github.com/stemsi/exstem-examroom/internal/model"
)

const (
	ResultBatchSize    = 50
	ResultBatchTimeout = 2 * time.Second
	PollTimeout        = 1 * time.Second // Must be >= 1s to satisfy Redis
	RequeueBackoff     = 2 * time.Second
)

type resultWriter interface {
	InsertBatch(ctx context.Context, drafts []model.ExamResultDraft) error
	Insert(ctx context.Context, draft model.ExamResultDraft) error
}

// ResultWorker moves submitted sessions from the Redis queue into
// exam_results in batches.
type ResultWorker struct {
	store        resultWriter
	rdb          *redis.Client
	log          zerolog.Logger
	batchSize    int
	batchTimeout time.Duration
	backoff      time.Duration
}

func NewResultWorker(store resultWriter, rdb *redis.Client, log zerolog.Logger) *ResultWorker {
	return &ResultWorker{
		store:        store,
		rdb:          rdb,
		log:          log.With().Str("component", "result_worker").Logger(),
		batchSize:    ResultBatchSize,
		batchTimeout: ResultBatchTimeout,
		backoff:      RequeueBackoff,
	}
}

func (w *ResultWorker) Start(ctx context.Context) {
	w.log.Info().Msg("ResultWorker started")

	queue := config.WorkerKey.PersistResultsQueue
	batch := make([]model.ExamResultDraft, 0, w.batchSize)
	lastFlush := time.Now()

	for {
		if len(batch) > 0 &&
			(len(batch) >= w.batchSize || time.Since(lastFlush) >= w.batchTimeout) {
			w.flushSafe(ctx, batch)
			batch = batch[:0]
			lastFlush = time.Now()
		}

		select {
		case <-ctx.Done():
			w.log.Info().Msg("Shutdown requested. Flushing remaining batch...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			w.flushSafe(shutdownCtx, batch)
			cancel()
			return
		default:
		}

		item, err := w.rdb.BLPop(ctx, PollTimeout, queue).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			w.log.Error().Err(err).Msg("Redis connection error, sleeping")
			sleepCtx(ctx, w.backoff)
			continue
		}
		if len(item) < 2 {
			continue
		}

		var d model.ExamResultDraft
		if err := json.Unmarshal([]byte(item[1]), &d); err != nil {
			w.log.Error().Err(err).Str("data", item[1]).Msg("Discarding malformed result payload")
			continue
		}
		batch = append(batch, d)
	}
}

// flushSafe tries the bulk insert, then row by row, then requeues.
func (w *ResultWorker) flushSafe(ctx context.Context, batch []model.ExamResultDraft) {
	if len(batch) == 0 {
		return
	}
	defer reportDepth(ctx, w.rdb, config.WorkerKey.PersistResultsQueue)

	err := w.store.InsertBatch(ctx, batch)
	if err == nil {
		w.log.Debug().Int("count", len(batch)).Msg("Results persisted")
		w.clearHeld(ctx, batch)
		return
	}
	w.log.Warn().Err(err).Int("count", len(batch)).Msg("Bulk result insert failed, using fallback")

	persisted := make([]model.ExamResultDraft, 0, len(batch))
	var requeue []model.ExamResultDraft
	for _, d := range batch {
		if err := w.store.Insert(ctx, d); err != nil {
			w.log.Error().Err(err).Str("session_id", d.SessionID.String()).Msg("Insert failed, requeueing")
			requeue = append(requeue, d)
			continue
		}
		persisted = append(persisted, d)
	}
	w.clearHeld(ctx, persisted)

	if len(requeue) > 0 {
		w.requeue(ctx, requeue)
	}
}

// clearHeld drops the Redis copies of persisted drafts.
func (w *ResultWorker) clearHeld(ctx context.Context, drafts []model.ExamResultDraft) {
	if len(drafts) == 0 {
		return
	}
	pipe := w.rdb.Pipeline()
	for _, d := range drafts {
		pipe.Del(ctx, config.CacheKey.SessionResultKey(d.SessionID.String()))
	}
	_, _ = pipe.Exec(ctx)
}

func (w *ResultWorker) requeue(ctx context.Context, items []model.ExamResultDraft) {
	pipe := w.rdb.Pipeline()
	for _, d := range items {
		data, _ := json.Marshal(d)
		pipe.RPush(ctx, config.WorkerKey.PersistResultsQueue, data)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		w.log.Error().Err(err).Int("count", len(items)).Msg("CRITICAL: Failed to requeue results to Redis. Data loss occurred.")
		return
	}
	w.log.Info().Int("count", len(items)).Msg("Requeued failed results back to Redis")
	sleepCtx(ctx, w.backoff)
}

// reportDepth publishes the remaining queue length.
func reportDepth(ctx context.Context, rdb *redis.Client, queue string) {
	n, err := rdb.LLen(ctx, queue).Result()
	if err != nil {
		return
	}
	metrics.QueueDepth().WithLabelValues(queue).Set(float64(n))
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
