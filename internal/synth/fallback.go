package synth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/emalani/legato/internal/audio"
	"github.com/emalani/legato/internal/chunker"
	"github.com/emalani/legato/internal/session"
)

// Controller is the request entry point. It plans chunking, keeps the session
// registry current, and owns the top-level safety net: a chunked session that
// fails before releasing any audio is re-run once as a single monolithic
// render before the error reaches the caller.
type Controller struct {
	source   Source
	sessions *session.Manager
	defaults Options
}

// NewController wires the entry point. sessions may be nil for library use
// without a registry; defaults fill request options left at their zero value.
func NewController(source Source, sessions *session.Manager, defaults Options) *Controller {
	return &Controller{source: source, sessions: sessions, defaults: defaults}
}

// Generate renders the whole request into one buffer.
func (c *Controller) Generate(ctx context.Context, req Request) (*Result, error) {
	stream, err := c.GenerateStream(ctx, req)
	if err != nil {
		return nil, err
	}
	res, err := Assemble(stream)
	if err != nil {
		return nil, err
	}
	if res.SampleRate == 0 {
		// Zero chunks produced no audio; report the rate the caller asked for.
		res.SampleRate = req.SampleRate
		if res.SampleRate <= 0 {
			res.SampleRate = audio.DefaultSampleRate
		}
	}
	return res, nil
}

// GenerateStream renders the request incrementally. Segments arrive in chunk
// index order; the stream's Err reports the terminal outcome after close.
func (c *Controller) GenerateStream(ctx context.Context, req Request) (*Stream, error) {
	req.Options = mergeOptions(c.defaults, req.Options)
	req = req.withDefaults()
	if err := req.validate(); err != nil {
		c.failSession(req.SessionID, session.ReasonChunking)
		return nil, classify(ErrChunking, err)
	}

	chunks, err := c.plan(req)
	if err != nil {
		c.failSession(req.SessionID, session.ReasonChunking)
		return nil, classify(ErrChunking, err)
	}

	var runCtx context.Context
	var cancel context.CancelFunc
	if t := req.Options.SessionTimeout; t > 0 {
		runCtx, cancel = context.WithTimeout(ctx, t)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}

	if c.sessions != nil && req.SessionID != "" {
		if err := c.sessions.Begin(req.SessionID, len(chunks), cancel); err != nil {
			cancel()
			if errors.Is(err, session.ErrBadState) {
				return nil, classify(ErrSessionCancelled, err)
			}
			return nil, err
		}
	}

	out := NewStream(len(chunks) + 1)
	inner := c.source.Run(runCtx, req, chunks)
	go c.forward(ctx, runCtx, cancel, req, len(chunks), inner, out)
	return out, nil
}

// plan decides chunked versus monolithic. The chunker already short-circuits
// short inputs; NoChunking bypasses it entirely.
func (c *Controller) plan(req Request) ([]chunker.Chunk, error) {
	if req.Options.NoChunking {
		return monolithicChunks(req.Text), nil
	}
	return chunker.Split(req.Text, req.Options.chunkerOptions())
}

func monolithicChunks(text string) []chunker.Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	return []chunker.Chunk{{Index: 0, Text: text, Start: 0, End: len(text)}}
}

func (c *Controller) forward(ctx, runCtx context.Context, cancel context.CancelFunc, req Request, chunkCount int, inner, out *Stream) {
	defer cancel()

	released, hits := 0, 0
	for seg := range inner.Segments() {
		released++
		if seg.Cached {
			hits++
		}
		c.progressSession(req.SessionID, released, hits)
		if !out.Push(ctx, seg) {
			terr := TerminalError(ctx)
			c.failSession(req.SessionID, reasonFor(terr))
			out.CloseWith(terr)
			return
		}
	}

	err := inner.Err()
	if err == nil {
		c.completeSession(req.SessionID)
		out.CloseWith(nil)
		return
	}

	if released == 0 && chunkCount > 1 && fallbackWorthy(err) {
		c.retryMonolithic(ctx, runCtx, req, out)
		return
	}

	c.failSession(req.SessionID, reasonFor(err))
	out.CloseWith(err)
}

// retryMonolithic is the safety net: one whole-text render after a chunked
// failure that delivered nothing. It runs strict, since substituting silence
// for the entire text would be worse than the error it papers over.
func (c *Controller) retryMonolithic(ctx, runCtx context.Context, req Request, out *Stream) {
	retry := req
	retry.FallbackRun = true
	retry.Options.NoChunking = true
	retry.Options.Strict = true

	inner := c.source.Run(runCtx, retry, monolithicChunks(retry.Text))

	released, hits := 0, 0
	for seg := range inner.Segments() {
		released++
		if seg.Cached {
			hits++
		}
		c.progressSession(req.SessionID, released, hits)
		if !out.Push(ctx, seg) {
			terr := TerminalError(ctx)
			c.failSession(req.SessionID, reasonFor(terr))
			out.CloseWith(terr)
			return
		}
	}

	if err := inner.Err(); err != nil {
		c.failSession(req.SessionID, reasonFor(err))
		out.CloseWith(fmt.Errorf("monolithic fallback failed: %w", err))
		return
	}
	out.markFallback()
	c.completeSession(req.SessionID)
	out.CloseWith(nil)
}

// fallbackWorthy excludes outcomes a re-run cannot improve: the caller is
// gone or the session clock has run out.
func fallbackWorthy(err error) bool {
	return !errors.Is(err, ErrSessionCancelled) && !errors.Is(err, ErrSessionTimeout)
}

func reasonFor(err error) string {
	switch {
	case errors.Is(err, ErrSessionCancelled):
		return session.ReasonCancelled
	case errors.Is(err, ErrSessionTimeout):
		return session.ReasonTimeout
	case errors.Is(err, ErrChunking):
		return session.ReasonChunking
	default:
		return session.ReasonEngineFailure
	}
}

func (c *Controller) progressSession(id string, done, hits int) {
	if c.sessions == nil || id == "" {
		return
	}
	_ = c.sessions.Progress(id, done, hits)
}

func (c *Controller) completeSession(id string) {
	if c.sessions == nil || id == "" {
		return
	}
	_, _ = c.sessions.Complete(id)
}

func (c *Controller) failSession(id, reason string) {
	if c.sessions == nil || id == "" {
		return
	}
	_, _ = c.sessions.Fail(id, reason)
}

// mergeOptions fills zero-valued request options from the server defaults.
// Boolean flags are floors: a default of true cannot be unset per request.
func mergeOptions(base, req Options) Options {
	if req.Strategy == "" {
		req.Strategy = base.Strategy
	}
	if req.TargetChunkSize == 0 {
		req.TargetChunkSize = base.TargetChunkSize
	}
	if req.MaxChunkSize == 0 {
		req.MaxChunkSize = base.MaxChunkSize
	}
	if req.MinTextLength == 0 {
		req.MinTextLength = base.MinTextLength
	}
	if req.OverlapSize == 0 {
		req.OverlapSize = base.OverlapSize
	}
	if req.MaxConcurrency == 0 {
		req.MaxConcurrency = base.MaxConcurrency
	}
	if req.ChunkTimeout == 0 {
		req.ChunkTimeout = base.ChunkTimeout
	}
	if req.SessionTimeout == 0 {
		req.SessionTimeout = base.SessionTimeout
	}
	if req.RetryBackoff == 0 {
		req.RetryBackoff = base.RetryBackoff
	}
	if req.SilenceCharsPerSec == 0 {
		req.SilenceCharsPerSec = base.SilenceCharsPerSec
	}
	req.Strict = req.Strict || base.Strict
	req.NoChunking = req.NoChunking || base.NoChunking
	req.NoConsistency = req.NoConsistency || base.NoConsistency
	req.KeepOverlapAudio = req.KeepOverlapAudio || base.KeepOverlapAudio
	return req
}
