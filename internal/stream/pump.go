package stream

import (
	"context"
	"errors"
	"io"
)

// ErrStopped is returned by Pump when the stop probe fired between reads.
var ErrStopped = errors.New("stream stopped")

// DefaultReadSize is the read buffer size Pump uses when none is configured.
const DefaultReadSize = 4096

// PumpOptions controls a Pump call.
type PumpOptions struct {
	// Stop is polled before every read. When it returns true Pump returns
	// ErrStopped without reading further.
	Stop func() bool

	// OnDelta receives each piece of newly visible answer text, including
	// the held-back tail at EOF. Returning an error aborts the pump with that
	// error.
	OnDelta func(delta string) error

	// ReadSize overrides DefaultReadSize.
	ReadSize int
}

// Pump reads r into p until EOF, cancellation or a stop request. The caller
// owns r and must close it; closing r from another goroutine is how an
// in-flight read is interrupted.
func Pump(ctx context.Context, r io.Reader, p *Parser, opts PumpOptions) error {
	size := opts.ReadSize
	if size <= 0 {
		size = DefaultReadSize
	}
	buf := make([]byte, size)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if opts.Stop != nil && opts.Stop() {
			return ErrStopped
		}

		n, readErr := r.Read(buf)
		if n > 0 {
			delta := p.Feed(buf[:n])
			if delta != "" && opts.OnDelta != nil {
				if err := opts.OnDelta(delta); err != nil {
					return err
				}
			}
		}

		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				if rest := p.Flush(); rest != "" && opts.OnDelta != nil {
					return opts.OnDelta(rest)
				}
				return nil
			}
			// A read interrupted by cancellation reports the context error.
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return readErr
		}
	}
}
