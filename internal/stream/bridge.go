// Package stream bridges an asynchronously produced token stream into a
// single blocking call with callback-driven consumption.
package stream

import (
	"context"
	"strings"
	"sync"
)

// Chunk is one item of the upstream sequence. A non-nil Metadata marks a
// checkpoint; the last one observed becomes the stream's final metadata.
type Chunk struct {
	Delta    string
	Metadata map[string]any
}

// Source produces chunks by calling yield for each one. yield blocks until
// the bridge has finished processing the previous chunk, which gives the
// upstream implicit backpressure. A Source returns nil when the sequence is
// exhausted, or the error that terminated it.
type Source func(ctx context.Context, yield func(Chunk) error) error

// DeltaFunc receives each non-empty delta in order.
type DeltaFunc func(delta string)

// CompleteFunc receives each non-nil metadata checkpoint.
type CompleteFunc func(metadata map[string]any)

// Bridge drives one stream lifecycle. A bridge is created per streaming call
// and discarded afterwards; it is not reused. The accumulated content, error
// and final metadata are safe to read from other goroutines while the stream
// is in flight.
type Bridge struct {
	mu            sync.Mutex
	buffer        strings.Builder
	finalMetadata map[string]any
	err           error
	running       bool
}

// NewBridge creates a bridge for a single stream.
func NewBridge() *Bridge {
	return &Bridge{}
}

// Run drives source to completion on a goroutine owned by this call and
// blocks until the sequence is exhausted or fails.
//
// Each non-empty delta is appended to the buffer and forwarded to onDelta.
// Each non-nil metadata triggers onComplete and is recorded as the latest
// final metadata, which is Run's return value. A source error is captured
// (the partial buffer is preserved for inspection) and returned unchanged.
func (b *Bridge) Run(ctx context.Context, source Source, onDelta DeltaFunc, onComplete CompleteFunc) (map[string]any, error) {
	b.mu.Lock()
	b.running = true
	b.mu.Unlock()

	// Unbuffered: the producer cannot run ahead of consumption.
	chunks := make(chan Chunk)
	errc := make(chan error, 1)

	go func() {
		defer close(chunks)
		errc <- source(ctx, func(c Chunk) error {
			select {
			case chunks <- c:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}()

	var last map[string]any
	for chunk := range chunks {
		if chunk.Delta != "" {
			b.mu.Lock()
			b.buffer.WriteString(chunk.Delta)
			b.mu.Unlock()
			if onDelta != nil {
				onDelta(chunk.Delta)
			}
		}
		if chunk.Metadata != nil {
			b.mu.Lock()
			b.finalMetadata = chunk.Metadata
			b.mu.Unlock()
			if onComplete != nil {
				onComplete(chunk.Metadata)
			}
			last = chunk.Metadata
		}
	}

	err := <-errc

	b.mu.Lock()
	b.running = false
	if err != nil {
		b.err = err
	}
	b.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return last, nil
}

// Content returns the text accumulated so far. Safe to call concurrently
// with Run.
func (b *Bridge) Content() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buffer.String()
}

// FinalMetadata returns the latest metadata checkpoint observed.
func (b *Bridge) FinalMetadata() map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.finalMetadata
}

// Err returns the error that terminated the stream, if any.
func (b *Bridge) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

// Running reports whether the stream is currently in flight.
func (b *Bridge) Running() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}
