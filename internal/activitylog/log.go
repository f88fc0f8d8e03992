// Package activitylog holds the append-only record of everything that happens
// during an exam session.
package activitylog

import (
	"sync"
	"time"

	"github.com/stemsi/exstem-examroom/internal/model"
)

// Listener is called after every append, outside the log's lock.
type Listener func(entry model.ActivityLogEntry)

// Log is an append-only, insertion-ordered activity log. Entries are never
// mutated or removed. Safe for concurrent use.
type Log struct {
	mu        sync.RWMutex
	entries   []model.ActivityLogEntry
	now       func() time.Time
	listeners []Listener
}

// New creates an empty log. A nil clock defaults to time.Now.
func New(now func() time.Time) *Log {
	if now == nil {
		now = time.Now
	}
	return &Log{now: now}
}

// OnAppend registers a listener for future appends.
func (l *Log) OnAppend(fn Listener) {
	l.mu.Lock()
	l.listeners = append(l.listeners, fn)
	l.mu.Unlock()
}

// Append records an action with optional metadata and returns the stored entry.
func (l *Log) Append(action string, metadata map[string]any) model.ActivityLogEntry {
	entry := model.ActivityLogEntry{
		Action:    action,
		Timestamp: l.now().UTC(),
		Metadata:  cloneMetadata(metadata),
	}

	l.mu.Lock()
	l.entries = append(l.entries, entry)
	listeners := l.listeners
	l.mu.Unlock()

	for _, fn := range listeners {
		fn(entry)
	}
	return entry
}

// Len returns the number of entries.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Entries returns a copy of all entries in insertion order.
func (l *Log) Entries() []model.ActivityLogEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]model.ActivityLogEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Count returns how many entries carry the given action.
func (l *Log) Count(action string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n := 0
	for _, e := range l.entries {
		if e.Action == action {
			n++
		}
	}
	return n
}

func cloneMetadata(m map[string]any) map[string]any {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
