// Package answer keeps a session's current answers and enforces the photo
// upload constraints.
package answer

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/gabriel-vasile/mimetype"
)

// DefaultMaxFileBytes is the upload ceiling (5 MiB).
const DefaultMaxFileBytes int64 = 5 * 1024 * 1024

var (
	// ErrInvalidFileType indicates the upload is not a JPEG, PNG or PDF.
	ErrInvalidFileType = errors.New("invalid file type")
	// ErrFileTooLarge indicates the upload exceeds the size ceiling.
	ErrFileTooLarge = errors.New("file too large")
)

// allowedTypes maps accepted MIME types to the type written in the data URI.
var allowedTypes = map[string]string{
	"image/jpeg":      "image/jpeg",
	"image/jpg":       "image/jpeg",
	"image/png":       "image/png",
	"application/pdf": "application/pdf",
}

// File is an upload as received from the student.
type File struct {
	Name        string
	ContentType string
	Size        int64
	Content     io.Reader
}

// Store maps question IDs to the student's current answer. A question has an
// entry only after the student answered it; values are never merged.
type Store struct {
	mu       sync.RWMutex
	answers  map[string]string
	maxBytes int64
}

// NewStore creates an empty store. A non-positive maxBytes uses the default.
func NewStore(maxBytes int64) *Store {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxFileBytes
	}
	return &Store{
		answers:  make(map[string]string),
		maxBytes: maxBytes,
	}
}

// SetAnswer overwrites the answer for a question.
func (s *Store) SetAnswer(questionID, value string) {
	s.mu.Lock()
	s.answers[questionID] = value
	s.mu.Unlock()
}

// SetPhotoAnswer validates, encodes and stores an upload. On error the
// previous answer is left untouched.
func (s *Store) SetPhotoAnswer(questionID string, f File) error {
	if err := s.Validate(f); err != nil {
		return err
	}
	uri, err := s.Encode(f)
	if err != nil {
		return err
	}
	s.SetAnswer(questionID, uri)
	return nil
}

// Validate checks the declared type and size without reading the content.
func (s *Store) Validate(f File) error {
	if _, ok := allowedTypes[normalizeType(f.ContentType)]; !ok {
		return fmt.Errorf("%w: %q", ErrInvalidFileType, f.ContentType)
	}
	if f.Size > s.maxBytes {
		return fmt.Errorf("%w: %d bytes (max %d)", ErrFileTooLarge, f.Size, s.maxBytes)
	}
	return nil
}

// Encode reads the upload and returns it as a data URI. The content is
// sniffed, so a renamed file of another type is rejected.
func (s *Store) Encode(f File) (string, error) {
	if f.Content == nil {
		return "", fmt.Errorf("%w: empty upload", ErrInvalidFileType)
	}

	buf := bytes.NewBuffer(make([]byte, 0, min(f.Size, s.maxBytes)+1))
	if _, err := io.Copy(buf, io.LimitReader(f.Content, s.maxBytes+1)); err != nil {
		return "", fmt.Errorf("read upload: %w", err)
	}
	if int64(buf.Len()) > s.maxBytes {
		return "", fmt.Errorf("%w: more than %d bytes", ErrFileTooLarge, s.maxBytes)
	}

	detected := normalizeType(mimetype.Detect(buf.Bytes()).String())
	mediaType, ok := allowedTypes[detected]
	if !ok {
		return "", fmt.Errorf("%w: content is %q", ErrInvalidFileType, detected)
	}

	return "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// Get returns the current answer for a question.
func (s *Store) Get(questionID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.answers[questionID]
	return v, ok
}

// Len returns the number of answered questions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.answers)
}

// Snapshot returns a copy of all answers.
func (s *Store) Snapshot() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.answers))
	for k, v := range s.answers {
		out[k] = v
	}
	return out
}

// normalizeType strips parameters and case from a MIME type.
func normalizeType(t string) string {
	t = strings.ToLower(strings.TrimSpace(t))
	if i := strings.IndexByte(t, ';'); i >= 0 {
		t = strings.TrimSpace(t[:i])
	}
	return t
}
