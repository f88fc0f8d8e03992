package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-examroom/internal/config"
	"github.com/stemsi/exstem-examroom/internal/metrics"
	"github.com/stemsi/exstem-examroom/internal/model"
	"github.com/stemsi/exstem-examroom/internal/repository"
)

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	metrics.RegisterMetrics()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return mr, rdb
}

// run starts fn and returns a stop func that cancels and waits for it.
func run(t *testing.T, fn func(context.Context)) func() {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn(ctx)
	}()
	return func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("worker did not stop")
		}
	}
}

type fakeResults struct {
	mu        sync.Mutex
	batchErr  error
	failOnce  map[uuid.UUID]bool
	persisted map[uuid.UUID]model.ExamResultDraft
}

func newFakeResults() *fakeResults {
	return &fakeResults{failOnce: map[uuid.UUID]bool{}, persisted: map[uuid.UUID]model.ExamResultDraft{}}
}

func (f *fakeResults) InsertBatch(_ context.Context, drafts []model.ExamResultDraft) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.batchErr != nil {
		return f.batchErr
	}
	for _, d := range drafts {
		f.persisted[d.SessionID] = d
	}
	return nil
}

func (f *fakeResults) Insert(_ context.Context, d model.ExamResultDraft) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOnce[d.SessionID] {
		delete(f.failOnce, d.SessionID)
		return errors.New("connection reset")
	}
	f.persisted[d.SessionID] = d
	return nil
}

func (f *fakeResults) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.persisted)
}

func queueDraft(t *testing.T, rdb *redis.Client, d model.ExamResultDraft) {
	t.Helper()
	data, err := json.Marshal(d)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, rdb.Set(ctx, config.CacheKey.SessionResultKey(d.SessionID.String()), data, 0).Err())
	require.NoError(t, rdb.RPush(ctx, config.WorkerKey.PersistResultsQueue, data).Err())
}

func testWorker(store resultWriter, rdb *redis.Client) *ResultWorker {
	w := NewResultWorker(store, rdb, zerolog.Nop())
	w.batchTimeout = 10 * time.Millisecond
	w.backoff = 0
	return w
}

func TestResultWorkerPersistsBatch(t *testing.T) {
	mr, rdb := setupRedis(t)
	store := newFakeResults()

	drafts := []model.ExamResultDraft{
		{ID: uuid.New(), SessionID: uuid.New(), StudentName: "Ani", Score: 10},
		{ID: uuid.New(), SessionID: uuid.New(), StudentName: "Budi", Score: 20},
	}
	for _, d := range drafts {
		queueDraft(t, rdb, d)
	}
	require.NoError(t, rdb.RPush(context.Background(), config.WorkerKey.PersistResultsQueue, "not json").Err())

	stop := run(t, testWorker(store, rdb).Start)
	assert.Eventually(t, func() bool { return store.count() == 2 }, 5*time.Second, 20*time.Millisecond)
	stop()

	for _, d := range drafts {
		assert.False(t, mr.Exists(config.CacheKey.SessionResultKey(d.SessionID.String())))
	}
	assert.Equal(t, "Budi", store.persisted[drafts[1].SessionID].StudentName)
}

func TestResultWorkerFallsBackAndRequeues(t *testing.T) {
	mr, rdb := setupRedis(t)
	store := newFakeResults()
	store.batchErr = errors.New("batch rejected")

	flaky := model.ExamResultDraft{ID: uuid.New(), SessionID: uuid.New()}
	steady := model.ExamResultDraft{ID: uuid.New(), SessionID: uuid.New()}
	store.failOnce[flaky.SessionID] = true
	queueDraft(t, rdb, flaky)
	queueDraft(t, rdb, steady)

	stop := run(t, testWorker(store, rdb).Start)
	assert.Eventually(t, func() bool { return store.count() == 2 }, 5*time.Second, 20*time.Millisecond)
	stop()

	assert.False(t, mr.Exists(config.CacheKey.SessionResultKey(flaky.SessionID.String())))
	n, err := rdb.LLen(context.Background(), config.WorkerKey.PersistResultsQueue).Result()
	require.NoError(t, err)
	assert.Zero(t, n)
}

type fakeActivity struct {
	mu      sync.Mutex
	copyErr error
	rows    []repository.ActivityRecord
}

func (f *fakeActivity) CopyBatch(_ context.Context, batch []repository.ActivityRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.copyErr != nil {
		return f.copyErr
	}
	f.rows = append(f.rows, batch...)
	return nil
}

func (f *fakeActivity) Insert(_ context.Context, rec repository.ActivityRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows = append(f.rows, rec)
	return nil
}

func (f *fakeActivity) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows)
}

func TestActivityWorker(t *testing.T) {
	for _, tc := range []struct {
		name    string
		copyErr error
	}{
		{"bulk copy", nil},
		{"row by row after copy failure", errors.New("copy failed")},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, rdb := setupRedis(t)
			store := &fakeActivity{copyErr: tc.copyErr}
			sessionID := uuid.New()
			for _, action := range []string{"session_started", "violation_tab_switch", "submitted"} {
				data, err := json.Marshal(repository.ActivityRecord{
					SessionID:  sessionID,
					Action:     action,
					RecordedAt: time.Now().UTC(),
				})
				require.NoError(t, err)
				require.NoError(t, rdb.RPush(context.Background(), config.WorkerKey.PersistActivityQueue, data).Err())
			}

			w := NewActivityWorker(store, rdb, zerolog.Nop())
			w.batchTimeout = 10 * time.Millisecond
			w.backoff = 0

			stop := run(t, w.Start)
			assert.Eventually(t, func() bool { return store.count() == 3 }, 5*time.Second, 20*time.Millisecond)
			stop()

			assert.Equal(t, "session_started", store.rows[0].Action)
			assert.Equal(t, sessionID, store.rows[2].SessionID)
		})
	}
}
