package encoding

import (
	"context"
	"fmt"

	"github.com/panjf2000/ants/v2"
)

// Compile-time interface check
var _ Encoder = (*Pooled)(nil)

// Pooled dispatches EncodeBatch calls to a bounded worker pool so that
// model inference never blocks the caller's goroutine beyond its context
// deadline. The pool is the only source of real parallelism in the
// enrichment subsystem; its size bounds concurrent encodes.
type Pooled struct {
	inner Encoder
	pool  *ants.Pool
}

type encodeResult struct {
	vectors [][]float32
	err     error
}

// NewPooled wraps inner with a worker pool of the given size (minimum 1).
func NewPooled(inner Encoder, size int) (*Pooled, error) {
	if size < 1 {
		size = 1
	}
	pool, err := ants.NewPool(size)
	if err != nil {
		return nil, fmt.Errorf("create encoder pool: %w", err)
	}
	return &Pooled{inner: inner, pool: pool}, nil
}

// EncodeBatch submits the encode to the pool and waits for the result or
// the context deadline, whichever comes first. On deadline the worker may
// still be running; its result is discarded via the buffered channel.
func (p *Pooled) EncodeBatch(ctx context.Context, texts []string) ([][]float32, error) {
	done := make(chan encodeResult, 1)

	err := p.pool.Submit(func() {
		vectors, err := p.inner.EncodeBatch(ctx, texts)
		done <- encodeResult{vectors: vectors, err: err}
	})
	if err != nil {
		return nil, fmt.Errorf("submit encode task: %w", err)
	}

	select {
	case res := <-done:
		return res.vectors, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Dimensions returns the wrapped encoder's vector length.
func (p *Pooled) Dimensions() int {
	return p.inner.Dimensions()
}

// ModelName returns the wrapped encoder's model name.
func (p *Pooled) ModelName() string {
	return p.inner.ModelName()
}

// Close releases the worker pool.
func (p *Pooled) Close() {
	p.pool.Release()
}
