// Command seed-exam loads an exam definition from a JSON file and inserts it
// with its questions in a single transaction.
//
//	go run ./cmd/seed-exam -file exam.json
//
// The file holds an ExamPayload: {"exam": {...}, "questions": [...]}.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/stemsi/exstem-examroom/internal/config"
	"github.com/stemsi/exstem-examroom/internal/database"
	"github.com/stemsi/exstem-examroom/internal/logger"
	"github.com/stemsi/exstem-examroom/internal/model"
	"github.com/stemsi/exstem-examroom/internal/repository"
	"github.com/stemsi/exstem-examroom/internal/service"
)

func main() {
	file := flag.String("file", "", "path to exam JSON")
	flag.Parse()
	if *file == "" {
		fmt.Println("Usage: seed-exam -file <exam.json>")
		os.Exit(2)
	}

	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)

	payload, err := loadPayload(*file)
	if err != nil {
		log.Fatal().Err(err).Str("file", *file).Msg("Invalid exam file")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	examRepo := repository.NewExamRepository(pool)
	questionRepo := repository.NewQuestionRepository(pool)

	tx, err := pool.Begin(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to begin transaction")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	exam := payload.Exam
	if err := examRepo.Create(ctx, tx, &exam); err != nil {
		log.Fatal().Err(err).Str("code", exam.Code).Msg("Failed to insert exam")
	}
	for i := range payload.Questions {
		q := &payload.Questions[i]
		q.ExamID = exam.ID
		if q.OrderNum == 0 {
			q.OrderNum = i + 1
		}
		if err := questionRepo.Create(ctx, tx, q); err != nil {
			log.Fatal().Err(err).Int("index", i).Msg("Failed to insert question")
		}
	}
	if err := tx.Commit(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to commit")
	}

	fmt.Printf("Seeded exam '%s' (code %s, id %s) with %d questions\n",
		exam.Title, exam.Code, exam.ID, len(payload.Questions))
}

func loadPayload(path string) (*model.ExamPayload, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var p model.ExamPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	p.Exam.Code = service.NormalizeCode(p.Exam.Code)
	if p.Exam.Title == "" || p.Exam.Code == "" {
		return nil, errors.New("exam title and code are required")
	}
	if p.Exam.DurationMinutes <= 0 {
		return nil, errors.New("exam duration must be positive")
	}
	if len(p.Questions) == 0 {
		return nil, errors.New("exam has no questions")
	}
	for i := range p.Questions {
		if err := p.Questions[i].Validate(); err != nil {
			return nil, fmt.Errorf("question %d: %w", i+1, err)
		}
	}
	return &p, nil
}
