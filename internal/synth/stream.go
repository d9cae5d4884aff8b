package synth

import (
	"context"
	"sync"
	"time"
)

// Segment is one chunk's audio, released strictly in index order.
type Segment struct {
	Index      int
	PCM        []byte
	SampleRate int

	// Cached marks a segment served from the shared cache, including waits
	// on another session's in-flight render of the same key.
	Cached bool
	// Corrected marks audio that was gain-adjusted toward the session
	// profile.
	Corrected bool
	// Substituted marks silence standing in for a chunk whose synthesis
	// was exhausted. Warning carries the reason.
	Substituted bool
	Warning     string

	Latency time.Duration
}

// Stream delivers a session's segments in order. The channel closes when the
// session reaches a terminal state; Err is valid from then on and nil means
// the session completed.
type Stream struct {
	ch chan Segment

	mu       sync.Mutex
	err      error
	closed   bool
	fallback bool
}

// NewStream returns a stream whose buffer absorbs buf segments before the
// producer blocks on the consumer.
func NewStream(buf int) *Stream {
	if buf < 1 {
		buf = 1
	}
	return &Stream{ch: make(chan Segment, buf)}
}

// Segments is the consumer side. Range until closed, then check Err.
func (s *Stream) Segments() <-chan Segment { return s.ch }

// Err reports the terminal outcome once Segments has closed.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// FallbackTriggered reports whether the monolithic safety net produced this
// stream's audio after a chunked failure.
func (s *Stream) FallbackTriggered() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fallback
}

// Push hands a segment to the consumer. It reports false when ctx expires
// before the consumer takes the segment. Producers stop pushing after the
// first false and close the stream instead.
func (s *Stream) Push(ctx context.Context, seg Segment) bool {
	select {
	case s.ch <- seg:
		return true
	case <-ctx.Done():
		return false
	}
}

// CloseWith ends the stream with its terminal outcome. Extra calls after the
// first are ignored.
func (s *Stream) CloseWith(err error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.err = err
	s.mu.Unlock()
	close(s.ch)
}

func (s *Stream) markFallback() {
	s.mu.Lock()
	s.fallback = true
	s.mu.Unlock()
}
