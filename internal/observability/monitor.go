package observability

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/emalani/legato/internal/chunker"
	"github.com/emalani/legato/internal/synth"
)

// Monitor wraps a synthesis source and records timing and quality signals as
// segments flow through. It captures timestamps only, so the pipeline behaves
// the same with or without it.
type Monitor struct {
	source  synth.Source
	metrics *Metrics
	window  *latencyWindow

	cacheHits      atomic.Int64
	chunksReleased atomic.Int64
}

// NewMonitor decorates source. metrics may be nil, which keeps the rolling
// latency window but skips Prometheus.
func NewMonitor(source synth.Source, metrics *Metrics) *Monitor {
	return &Monitor{
		source:  source,
		metrics: metrics,
		window:  newLatencyWindow(0),
	}
}

// Snapshot returns the rolling latency statistics per series, where a series
// is time-to-first-audio or total generation time keyed by strategy and text
// length bucket, or per-chunk synthesis latency keyed by strategy.
func (m *Monitor) Snapshot() LatencySnapshot {
	return m.window.Snapshot()
}

func (m *Monitor) Run(ctx context.Context, req synth.Request, chunks []chunker.Chunk) *synth.Stream {
	start := time.Now()
	out := synth.NewStream(len(chunks))
	inner := m.source.Run(ctx, req, chunks)
	go m.observe(ctx, start, req, len(chunks), inner, out)
	return out
}

func (m *Monitor) observe(ctx context.Context, start time.Time, req synth.Request, chunkCount int, inner, out *synth.Stream) {
	strategy := strategyLabel(req, chunkCount)
	bucket := lengthBucket(utf8.RuneCountInString(req.Text))

	if m.metrics != nil {
		m.metrics.ActiveSessions.Inc()
		defer m.metrics.ActiveSessions.Dec()
	}
	if req.FallbackRun {
		m.window.ObserveIndicator("fallback_runs")
	}

	released := 0
	for seg := range inner.Segments() {
		if ctx.Err() != nil {
			terr := synth.TerminalError(ctx)
			m.endSession(strategy, terr)
			out.CloseWith(terr)
			return
		}
		if released == 0 {
			ttfa := time.Since(start)
			m.window.Observe(seriesKey("ttfa", strategy, bucket), durationMS(ttfa))
			if m.metrics != nil {
				m.metrics.ObserveFirstAudioLatency(ttfa)
			}
		}
		released++
		m.recordSegment(strategy, seg)
		if !out.Push(ctx, seg) {
			terr := synth.TerminalError(ctx)
			m.endSession(strategy, terr)
			out.CloseWith(terr)
			return
		}
	}

	err := inner.Err()
	if err == nil {
		total := time.Since(start)
		m.window.Observe(seriesKey("total", strategy, bucket), durationMS(total))
		if m.metrics != nil {
			m.metrics.ObserveGenerationTime(total)
		}
	}
	m.endSession(strategy, err)
	out.CloseWith(err)
}

func (m *Monitor) recordSegment(strategy string, seg synth.Segment) {
	released := m.chunksReleased.Add(1)
	hits := m.cacheHits.Load()

	m.window.Observe(seriesKey("chunk", strategy, ""), durationMS(seg.Latency))
	m.window.ObserveIndicator("chunks_released")

	event := "rendered"
	switch {
	case seg.Cached:
		hits = m.cacheHits.Add(1)
		event = "cache_hit"
		m.window.ObserveIndicator("cache_hits")
	case seg.Substituted:
		event = "substituted"
		m.window.ObserveIndicator("substituted_chunks")
	}
	if seg.Corrected {
		m.window.ObserveIndicator("corrected_chunks")
	}

	if m.metrics != nil {
		m.metrics.Chunks.WithLabelValues(event).Inc()
		if seg.Corrected {
			m.metrics.Chunks.WithLabelValues("corrected").Inc()
		}
		m.metrics.CacheHitRatio.Set(float64(hits) / float64(released))
	}
}

func (m *Monitor) endSession(strategy string, err error) {
	if m.metrics == nil {
		return
	}
	m.metrics.Sessions.WithLabelValues(strategy, outcomeLabel(err)).Inc()
}

func strategyLabel(req synth.Request, chunkCount int) string {
	if req.Options.NoChunking || chunkCount <= 1 {
		return "monolithic"
	}
	if req.Options.Strategy == "" {
		return string(chunker.StrategyAdaptive)
	}
	return string(req.Options.Strategy)
}

// lengthBucket groups texts by rune count so chunked and monolithic runs of
// comparable size land in the same series.
func lengthBucket(runes int) string {
	switch {
	case runes < 200:
		return "short"
	case runes < 1000:
		return "medium"
	default:
		return "long"
	}
}

func seriesKey(metric, strategy, bucket string) string {
	if bucket == "" {
		return metric + "/" + strategy
	}
	return metric + "/" + strategy + "/" + bucket
}

func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "completed"
	case errors.Is(err, synth.ErrSessionCancelled):
		return "cancelled"
	case errors.Is(err, synth.ErrSessionTimeout):
		return "timeout"
	default:
		return "failed"
	}
}

func durationMS(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
