package synth

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/emalani/legato/internal/audio"
	"github.com/emalani/legato/internal/cache"
	"github.com/emalani/legato/internal/chunker"
	"github.com/emalani/legato/internal/consistency"
	"github.com/emalani/legato/internal/reliability"
)

// Source produces a session's ordered segment stream. Instrumentation wraps
// a Source without the pipeline knowing.
type Source interface {
	Run(ctx context.Context, req Request, chunks []chunker.Chunk) *Stream
}

// Generator schedules chunk synthesis over a bounded worker pool and releases
// segments strictly in chunk index order, whatever order the engine finishes
// them in.
type Generator struct {
	engine Engine
	cache  *cache.Group
}

func NewGenerator(engine Engine, group *cache.Group) *Generator {
	return &Generator{engine: engine, cache: group}
}

// Run starts the pipeline for one session. Every outcome, cancellation
// included, is reported through the returned stream.
func (g *Generator) Run(ctx context.Context, req Request, chunks []chunker.Chunk) *Stream {
	out := NewStream(len(chunks))
	go g.run(ctx, req, chunks, out)
	return out
}

type chunkOutcome struct {
	index int
	seg   Segment
	err   error
}

func (g *Generator) run(ctx context.Context, req Request, chunks []chunker.Chunk, out *Stream) {
	req = req.withDefaults()
	if len(chunks) == 0 {
		out.CloseWith(nil)
		return
	}

	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	workers := req.Options.MaxConcurrency
	if workers > len(chunks) {
		workers = len(chunks)
	}

	jobs := make(chan int)
	// Buffered to chunk count so workers never block after the release loop
	// has already returned.
	results := make(chan chunkOutcome, len(chunks))

	for w := 0; w < workers; w++ {
		go func() {
			for idx := range jobs {
				results <- g.synthesizeChunk(runCtx, req, chunks[idx])
			}
		}()
	}
	go func() {
		defer close(jobs)
		for i := range chunks {
			select {
			case jobs <- i:
			case <-runCtx.Done():
				return
			}
		}
	}()

	tracker := consistency.New(consistency.Options{Disabled: req.Options.NoConsistency})

	pending := make(map[int]chunkOutcome, workers)
	for next := 0; next < len(chunks); next++ {
		if ctx.Err() != nil {
			out.CloseWith(TerminalError(ctx))
			return
		}

		res, ok := pending[next]
		for !ok {
			select {
			case r := <-results:
				pending[r.index] = r
			case <-ctx.Done():
				out.CloseWith(TerminalError(ctx))
				return
			}
			res, ok = pending[next]
		}
		delete(pending, next)

		if res.err != nil {
			out.CloseWith(res.err)
			return
		}

		seg := finalize(req, chunks[next], res.seg, tracker)
		if !out.Push(ctx, seg) {
			out.CloseWith(TerminalError(ctx))
			return
		}
	}
	out.CloseWith(nil)
}

// finalize trims overlap context audio and applies drift correction. Runs in
// the release loop, so segments pass through in index order and the tracker
// profile never regresses on an early-arriving later chunk.
func finalize(req Request, c chunker.Chunk, seg Segment, tracker *consistency.Tracker) Segment {
	if seg.Substituted {
		return seg
	}
	if !req.Options.KeepOverlapAudio && c.Overlap != "" {
		n := int(c.OverlapFraction() * float64(audio.SampleCount(seg.PCM)))
		seg.PCM = audio.TrimLeadingSamples(seg.PCM, n)
	}
	corrected, applied := tracker.Correct(seg.Index, seg.PCM, seg.SampleRate)
	seg.PCM = corrected
	seg.Corrected = applied
	tracker.Observe(seg.Index, seg.PCM, seg.SampleRate)
	return seg
}

// synthesizeChunk renders one chunk through the shared cache, retrying once
// with backoff. An exhausted chunk becomes substituted silence unless the
// request is strict.
func (g *Generator) synthesizeChunk(ctx context.Context, req Request, c chunker.Chunk) chunkOutcome {
	start := time.Now()
	key := cache.Key(cache.KeyInput{
		Engine:     g.engine.Name(),
		VoiceID:    req.VoiceID,
		Text:       c.EngineText(),
		Speed:      req.Speed,
		SampleRate: req.SampleRate,
	})

	var lastErr error
	for attempt := 0; attempt <= 1; attempt++ {
		if attempt > 0 {
			wait := reliability.ExponentialBackoff(attempt-1, req.Options.RetryBackoff, defaultRetryCap)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return chunkOutcome{index: c.Index, err: TerminalError(ctx)}
			}
		}

		entry, served, err := g.cache.GetOrFill(ctx, key, func(fillCtx context.Context) (cache.Entry, error) {
			return g.fill(fillCtx, req, c, key)
		})
		if err == nil {
			return chunkOutcome{index: c.Index, seg: Segment{
				Index:      c.Index,
				PCM:        entry.PCM,
				SampleRate: entry.SampleRate,
				Cached:     served,
				Latency:    time.Since(start),
			}}
		}
		lastErr = err
		if !reliability.IsRetryable(err) {
			break
		}
	}

	if errors.Is(lastErr, context.Canceled) || ctx.Err() != nil {
		return chunkOutcome{index: c.Index, err: TerminalError(ctx)}
	}
	if req.Options.Strict {
		class := ErrSynthesisFailure
		if errors.Is(lastErr, context.DeadlineExceeded) {
			class = ErrSynthesisTimeout
		}
		return chunkOutcome{index: c.Index, err: classify(class, lastErr)}
	}

	seconds := float64(utf8.RuneCountInString(c.Text)) / req.Options.SilenceCharsPerSec
	return chunkOutcome{index: c.Index, seg: Segment{
		Index:       c.Index,
		PCM:         audio.Silence(time.Duration(seconds*float64(time.Second)), req.SampleRate),
		SampleRate:  req.SampleRate,
		Substituted: true,
		Warning:     fmt.Sprintf("chunk %d: %v; substituted %.1fs of silence", c.Index, lastErr, seconds),
		Latency:     time.Since(start),
	}}
}

// fill renders one chunk under the cache single-flight. The engine call runs
// on a detached timeout context: a cancelled session still completes the
// shared render for whoever else waits on the same key.
func (g *Generator) fill(ctx context.Context, req Request, c chunker.Chunk, key string) (cache.Entry, error) {
	synthCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), req.Options.ChunkTimeout)
	defer cancel()

	res, err := g.engine.Synthesize(synthCtx, EngineRequest{
		Text:       c.EngineText(),
		VoiceID:    req.VoiceID,
		Speed:      req.Speed,
		SampleRate: req.SampleRate,
	})
	if err != nil {
		if synthCtx.Err() == context.DeadlineExceeded {
			return cache.Entry{}, fmt.Errorf("chunk %d timed out after %s: %w", c.Index, req.Options.ChunkTimeout, context.DeadlineExceeded)
		}
		return cache.Entry{}, fmt.Errorf("chunk %d: %w", c.Index, err)
	}
	if len(res.PCM) == 0 {
		return cache.Entry{}, fmt.Errorf("chunk %d: engine returned no audio", c.Index)
	}
	return cache.Entry{Key: key, PCM: res.PCM, SampleRate: pickRate(res.SampleRate, req.SampleRate)}, nil
}
