// Package cache stores synthesized audio segments keyed by their full
// synthesis identity, so identical chunks are rendered once.
package cache

import (
	"context"
	"time"
)

// Entry is one cached synthesis result.
type Entry struct {
	Key        string    `json:"key"`
	PCM        []byte    `json:"pcm"`
	SampleRate int       `json:"sample_rate"`
	CreatedAt  time.Time `json:"created_at"`
}

// Store persists and retrieves synthesized segments.
type Store interface {
	Get(ctx context.Context, key string) (Entry, bool, error)
	Put(ctx context.Context, e Entry) error
	Prune(ctx context.Context) error
	Stats() Stats
	Close() error
}

// Stats describes cache effectiveness.
type Stats struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
	Entries   int   `json:"entries"`
	Bytes     int64 `json:"bytes"`
	MaxBytes  int64 `json:"max_bytes"`
}

// HitRate is hits over lookups, 0 when nothing was looked up yet.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}
