package events

import (
	"sync"
	"time"
)

type Payload map[string]any

// Entry is one audit record.
type Entry struct {
	ID         int64     `json:"id"`
	TS         time.Time `json:"ts"`
	Type       string    `json:"type"`
	EntityKind string    `json:"entity_kind"`
	EntityID   string    `json:"entity_id,omitempty"`
	ActorID    string    `json:"actor_id"`
	Payload    Payload   `json:"payload,omitempty"`
}

// Log is an append-only in-memory audit log.
type Log struct {
	Now func() time.Time

	mu      sync.Mutex
	seq     int64
	entries []Entry
}

func NewLog() *Log {
	return &Log{Now: time.Now}
}

func (l *Log) now() time.Time {
	if l.Now != nil {
		return l.Now().UTC()
	}
	return time.Now().UTC()
}

// Append records an event and returns its id.
func (l *Log) Append(evtType, entityKind, entityID, actorID string, payload Payload) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seq++
	if payload == nil {
		payload = Payload{}
	}
	l.entries = append(l.entries, Entry{
		ID:         l.seq,
		TS:         l.now(),
		Type:       evtType,
		EntityKind: entityKind,
		EntityID:   entityID,
		ActorID:    actorID,
		Payload:    payload,
	})
	return l.seq
}

// Filters narrows Latest results; zero values match everything.
type Filters struct {
	Type       string
	EntityKind string
	EntityID   string
}

// Latest returns up to limit entries, newest first.
func (l *Log) Latest(limit int, f Filters) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	if limit <= 0 {
		limit = 20
	}
	var out []Entry
	for i := len(l.entries) - 1; i >= 0 && len(out) < limit; i-- {
		e := l.entries[i]
		if f.Type != "" && e.Type != f.Type {
			continue
		}
		if f.EntityKind != "" && e.EntityKind != f.EntityKind {
			continue
		}
		if f.EntityID != "" && e.EntityID != f.EntityID {
			continue
		}
		out = append(out, e)
	}
	return out
}

// All returns every entry in append order.
func (l *Log) All() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Entry(nil), l.entries...)
}

// Restore replaces the log contents, keeping the sequence monotonic.
func (l *Log) Restore(entries []Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append([]Entry(nil), entries...)
	l.seq = 0
	for _, e := range entries {
		if e.ID > l.seq {
			l.seq = e.ID
		}
	}
}
