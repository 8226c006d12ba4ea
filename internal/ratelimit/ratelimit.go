// Package ratelimit throttles data transfers to a fixed number of bytes per
// second. It wraps golang.org/x/time/rate with io.Reader and io.Writer
// adapters that wait for tokens before moving each chunk.
package ratelimit

import (
	"context"
	"io"

	"golang.org/x/time/rate"
)

// maxChunk bounds a single read or write so waits stay short.
const maxChunk = 32 * 1024

// Limiter limits transfer throughput. The bucket holds one second worth of
// data, so short bursts are allowed while the average rate holds.
// A nil *Limiter means no limit.
type Limiter struct {
	lim   *rate.Limiter
	chunk int
}

// New returns a limiter for bytesPerSecond, or nil when the value is zero
// or negative.
func New(bytesPerSecond int64) *Limiter {
	if bytesPerSecond <= 0 {
		return nil
	}

	burst := int(min(bytesPerSecond, int64(1<<30)))
	return &Limiter{
		lim:   rate.NewLimiter(rate.Limit(bytesPerSecond), burst),
		chunk: min(burst, maxChunk),
	}
}

// Rate returns the configured limit in bytes per second, or 0 for nil.
func (l *Limiter) Rate() int64 {
	if l == nil {
		return 0
	}
	return int64(l.lim.Limit())
}

// wait blocks until n bytes may pass or ctx is done.
func (l *Limiter) wait(ctx context.Context, n int) error {
	return l.lim.WaitN(ctx, n)
}

type reader struct {
	ctx     context.Context
	r       io.Reader
	limiter *Limiter
}

// NewReader returns r throttled by limiter. If limiter is nil, r is
// returned unchanged. Waiting stops with ctx's error when ctx is done.
func NewReader(ctx context.Context, r io.Reader, limiter *Limiter) io.Reader {
	if limiter == nil {
		return r
	}
	return &reader{ctx: ctx, r: r, limiter: limiter}
}

func (r *reader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if len(p) > r.limiter.chunk {
		p = p[:r.limiter.chunk]
	}
	if err := r.limiter.wait(r.ctx, len(p)); err != nil {
		return 0, err
	}
	return r.r.Read(p)
}

type writer struct {
	ctx     context.Context
	w       io.Writer
	limiter *Limiter
}

// NewWriter returns w throttled by limiter. If limiter is nil, w is
// returned unchanged.
func NewWriter(ctx context.Context, w io.Writer, limiter *Limiter) io.Writer {
	if limiter == nil {
		return w
	}
	return &writer{ctx: ctx, w: w, limiter: limiter}
}

func (w *writer) Write(p []byte) (int, error) {
	written := 0
	for written < len(p) {
		end := min(written+w.limiter.chunk, len(p))
		if err := w.limiter.wait(w.ctx, end-written); err != nil {
			return written, err
		}
		n, err := w.w.Write(p[written:end])
		written += n
		if err != nil {
			return written, err
		}
	}
	return written, nil
}
