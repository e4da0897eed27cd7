package speech

import (
	"context"
	"time"
)

// Clip is one synthesized utterance handed to a Sink.
type Clip struct {
	Token     uint64
	MessageID string
	Audio     []byte
	Format    string
	Duration  time.Duration
}

// Sink plays audio. Play blocks until the clip finished playing or ctx is
// done, in which case output must halt and ctx.Err() is returned.
type Sink interface {
	Play(ctx context.Context, clip Clip) error
}

// TimedSink simulates playback by waiting for the clip duration. It is used
// when no client is attached to receive audio.
type TimedSink struct{}

// Play waits for clip.Duration or until ctx is done.
func (TimedSink) Play(ctx context.Context, clip Clip) error {
	if clip.Duration <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(clip.Duration)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, clip Clip) error

// Play calls f.
func (f SinkFunc) Play(ctx context.Context, clip Clip) error {
	return f(ctx, clip)
}
