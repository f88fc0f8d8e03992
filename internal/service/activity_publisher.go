package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-examroom/internal/activitylog"
	"github.com/stemsi/exstem-examroom/internal/config"
	"github.com/stemsi/exstem-examroom/internal/model"
	"github.com/stemsi/exstem-examroom/internal/repository"
)

const publishTimeout = 3 * time.Second

// MonitorMessage is the payload published on an exam's monitor channel.
type MonitorMessage struct {
	Type string                    `json:"type"`
	Data repository.ActivityRecord `json:"data"`
}

// ActivityPublisher streams activity log entries of live sessions to the
// persistence queue and the exam's monitor channel.
type ActivityPublisher struct {
	rdb    *redis.Client
	events chan repository.ActivityRecord
	log    zerolog.Logger
}

// NewActivityPublisher creates a publisher buffering up to buffer entries.
func NewActivityPublisher(rdb *redis.Client, buffer int, log zerolog.Logger) *ActivityPublisher {
	if buffer <= 0 {
		buffer = 1024
	}
	return &ActivityPublisher{
		rdb:    rdb,
		events: make(chan repository.ActivityRecord, buffer),
		log:    log.With().Str("component", "activity_publisher").Logger(),
	}
}

// Listener returns an activity log listener for one session. It never blocks:
// entries are dropped with a warning when the buffer is full.
func (p *ActivityPublisher) Listener(sessionID, examID uuid.UUID, studentName string) activitylog.Listener {
	return func(e model.ActivityLogEntry) {
		rec := repository.ActivityRecord{
			SessionID:   sessionID,
			ExamID:      examID,
			StudentName: studentName,
			Action:      e.Action,
			Metadata:    e.Metadata,
			RecordedAt:  e.Timestamp,
		}
		select {
		case p.events <- rec:
		default:
			p.log.Warn().
				Str("session_id", sessionID.String()).
				Str("action", e.Action).
				Msg("Activity buffer full, dropping entry")
		}
	}
}

// Run publishes buffered entries until ctx is cancelled, then flushes what
// is left.
func (p *ActivityPublisher) Run(ctx context.Context) {
	p.log.Info().Msg("Activity publisher started")
	for {
		select {
		case <-ctx.Done():
			p.flush()
			p.log.Info().Msg("Activity publisher stopped")
			return
		case rec := <-p.events:
			p.publish(ctx, rec)
		}
	}
}

func (p *ActivityPublisher) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case rec := <-p.events:
			p.publish(ctx, rec)
		default:
			return
		}
	}
}

func (p *ActivityPublisher) publish(ctx context.Context, rec repository.ActivityRecord) {
	data, err := json.Marshal(rec)
	if err != nil {
		p.log.Error().Err(err).Msg("Failed to marshal activity")
		return
	}
	msg, err := json.Marshal(MonitorMessage{Type: "activity", Data: rec})
	if err != nil {
		p.log.Error().Err(err).Msg("Failed to marshal monitor message")
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	pipe := p.rdb.Pipeline()
	pipe.RPush(ctx, config.WorkerKey.PersistActivityQueue, data)
	pipe.Publish(ctx, config.CacheKey.ExamMonitorChannel(rec.ExamID.String()), msg)
	if _, err := pipe.Exec(ctx); err != nil {
		p.log.Error().Err(err).Str("session_id", rec.SessionID.String()).Msg("Failed to publish activity")
	}
}
