package service

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-examroom/internal/model"
	"github.com/stemsi/exstem-examroom/internal/session"
)

// UploadsURLPrefix is where the router serves the media directory.
const UploadsURLPrefix = "/uploads/"

// ErrUnsupportedMediaType is returned for data URIs of a type we do not store.
var ErrUnsupportedMediaType = errors.New("unsupported media type")

var mediaExtensions = map[string]string{
	"image/jpeg":      ".jpg",
	"image/png":       ".png",
	"application/pdf": ".pdf",
}

// MediaService moves photo answers out of result payloads onto local disk.
type MediaService struct {
	dir string
}

// NewMediaService creates a MediaService rooted at dir.
func NewMediaService(dir string) *MediaService {
	return &MediaService{dir: dir}
}

// Offload replaces every data URI answer in draft with the URL of a file
// written under <dir>/<session id>/. It returns the number of files written.
func (s *MediaService) Offload(draft *model.ExamResultDraft) (int, error) {
	written := 0
	for questionID, value := range draft.Answers {
		if !strings.HasPrefix(value, "data:") {
			continue
		}
		if _, err := uuid.Parse(questionID); err != nil {
			continue
		}
		url, err := s.save(draft.SessionID, questionID, value)
		if err != nil {
			return written, fmt.Errorf("question %s: %w", questionID, err)
		}
		draft.Answers[questionID] = url
		written++
	}
	return written, nil
}

func (s *MediaService) save(sessionID uuid.UUID, questionID, dataURI string) (string, error) {
	header, encoded, ok := strings.Cut(strings.TrimPrefix(dataURI, "data:"), ",")
	if !ok || !strings.HasSuffix(header, ";base64") {
		return "", fmt.Errorf("%w: malformed data uri", ErrUnsupportedMediaType)
	}
	mediaType := strings.TrimSuffix(header, ";base64")
	ext, ok := mediaExtensions[mediaType]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedMediaType, mediaType)
	}

	content, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decode: %w", err)
	}

	dir := filepath.Join(s.dir, sessionID.String())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create upload dir: %w", err)
	}
	filename := questionID + ext
	if err := os.WriteFile(filepath.Join(dir, filename), content, 0o644); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	return UploadsURLPrefix + sessionID.String() + "/" + filename, nil
}

// MediaResultSink offloads photo answers to disk before handing the draft on.
// When offloading fails the draft keeps its inline data URIs.
type MediaResultSink struct {
	next  session.ResultSink
	media *MediaService
	log   zerolog.Logger
}

// NewMediaResultSink wraps next.
func NewMediaResultSink(next session.ResultSink, media *MediaService, log zerolog.Logger) *MediaResultSink {
	return &MediaResultSink{
		next:  next,
		media: media,
		log:   log.With().Str("component", "media_sink").Logger(),
	}
}

// Submit implements session.ResultSink.
func (s *MediaResultSink) Submit(ctx context.Context, draft model.ExamResultDraft) error {
	answers := make(map[string]string, len(draft.Answers))
	for k, v := range draft.Answers {
		answers[k] = v
	}
	offloaded := draft
	offloaded.Answers = answers

	n, err := s.media.Offload(&offloaded)
	if err != nil {
		s.log.Warn().Err(err).
			Str("session_id", draft.SessionID.String()).
			Msg("Photo offload failed, keeping inline answers")
		return s.next.Submit(ctx, draft)
	}
	if n > 0 {
		s.log.Debug().Str("session_id", draft.SessionID.String()).Int("files", n).Msg("Photo answers offloaded")
	}
	return s.next.Submit(ctx, offloaded)
}
