package scan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const defaultRetryInterval = 300 * time.Millisecond

// DecodeLoop drives repeated decode attempts against a FrameSource at a
// fixed retry interval.
type DecodeLoop struct {
	decoder  Decoder
	policy   Policy
	interval time.Duration
	hints    Hints
	logger   *slog.Logger

	// mu is held while a callback runs; Stop acquires it as a fence.
	mu sync.Mutex

	ctl    sync.Mutex
	runCtx context.Context
	cancel context.CancelFunc
	done   chan struct{}

	attempts atomic.Uint64
}

func NewDecodeLoop(decoder Decoder, policy Policy, interval time.Duration, hints Hints, logger *slog.Logger) *DecodeLoop {
	if interval <= 0 {
		interval = defaultRetryInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DecodeLoop{decoder: decoder, policy: policy, interval: interval, hints: hints, logger: logger}
}

// Start begins a run. onResult receives every Found result (only the first
// under PolicySingleShot, after which the run ends). onError receives a
// DecoderFatal error, after which the run ends. Neither is called once the
// run has been cancelled.
func (l *DecodeLoop) Start(ctx context.Context, src FrameSource, onResult func(Result), onError func(error)) error {
	l.ctl.Lock()
	defer l.ctl.Unlock()

	if l.runCtx != nil && l.runCtx.Err() == nil {
		return ErrLoopRunning
	}
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	l.runCtx, l.cancel, l.done = runCtx, cancel, done

	go l.run(runCtx, cancel, done, src, onResult, onError)
	return nil
}

func (l *DecodeLoop) run(ctx context.Context, cancel context.CancelFunc, done chan struct{}, src FrameSource, onResult func(Result), onError func(error)) {
	defer close(done)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("decode loop panic", "error", r)
			l.deliver(ctx, func() { onError(NewError(KindDecoderFatal, "", fmt.Errorf("decoder panic: %v", r))) })
		}
	}()

	for ctx.Err() == nil {
		l.attempts.Add(1)
		res := l.decoder.AttemptDecode(ctx, src, l.hints)

		switch res.Outcome {
		case OutcomeFound:
			if !l.deliver(ctx, func() { onResult(res) }) {
				return
			}
			if l.policy == PolicySingleShot {
				return
			}
		case OutcomeFatal:
			l.deliver(ctx, func() { onError(NewError(KindDecoderFatal, "", errors.New(res.Reason))) })
			return
		case OutcomeTransient:
			l.logger.Debug("decode attempt failed", "reason", res.Reason)
		}

		if !l.wait(ctx) {
			return
		}
	}
}

// deliver runs fn unless the run was cancelled, holding the callback fence.
func (l *DecodeLoop) deliver(ctx context.Context, fn func()) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if ctx.Err() != nil {
		return false
	}
	fn()
	return true
}

func (l *DecodeLoop) wait(ctx context.Context) bool {
	t := time.NewTimer(l.interval)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Cancel ends the current run without waiting. Safe to call from a callback.
func (l *DecodeLoop) Cancel() {
	l.ctl.Lock()
	defer l.ctl.Unlock()
	if l.cancel != nil {
		l.cancel()
	}
}

// Stop ends the current run and returns once no callback is executing.
// After Stop returns no callback of that run fires. It must not be called
// from inside a callback; use Cancel there.
func (l *DecodeLoop) Stop() {
	l.Cancel()
	l.mu.Lock()
	l.mu.Unlock() //nolint:staticcheck
}

// Running reports whether a run is active and not cancelled.
func (l *DecodeLoop) Running() bool {
	l.ctl.Lock()
	defer l.ctl.Unlock()
	return l.runCtx != nil && l.runCtx.Err() == nil
}

// Done is closed when the current run's goroutine has exited. It is nil
// before the first Start.
func (l *DecodeLoop) Done() <-chan struct{} {
	l.ctl.Lock()
	defer l.ctl.Unlock()
	return l.done
}

func (l *DecodeLoop) Attempts() uint64 { return l.attempts.Load() }
