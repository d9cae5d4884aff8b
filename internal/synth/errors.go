package synth

import (
	"context"
	"errors"
)

// Failure classes surfaced to callers. Chunk-level engine errors are absorbed
// by retry and silence substitution where allowed; what escalates here is
// always terminal for the session.
var (
	ErrChunking         = errors.New("synth: chunking failed")
	ErrSynthesisTimeout = errors.New("synth: synthesis timed out")
	ErrSynthesisFailure = errors.New("synth: synthesis failed")
	ErrSessionCancelled = errors.New("synth: session cancelled")
	ErrSessionTimeout   = errors.New("synth: session timed out")

	ErrEngineClosed = errors.New("synth: engine closed")
)

// failure ties one of the class sentinels to its underlying cause so that
// errors.Is matches the class while errors.As still reaches the engine error.
type failure struct {
	class error
	cause error
}

func (f *failure) Error() string {
	if f.cause == nil {
		return f.class.Error()
	}
	return f.class.Error() + ": " + f.cause.Error()
}

func (f *failure) Is(target error) bool { return target == f.class }

func (f *failure) Unwrap() error { return f.cause }

func classify(class, cause error) error {
	return &failure{class: class, cause: cause}
}

// TerminalError maps context expiry onto the session failure classes. Stream
// producers call it when a push is refused or the run context ends.
func TerminalError(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return classify(ErrSessionTimeout, ctx.Err())
	}
	return classify(ErrSessionCancelled, ctx.Err())
}
