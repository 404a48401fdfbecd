package stream

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chunkSource(chunks ...Chunk) Source {
	return func(_ context.Context, yield func(Chunk) error) error {
		for _, c := range chunks {
			if err := yield(c); err != nil {
				return err
			}
		}
		return nil
	}
}

func TestBridgeAccumulatesDeltas(t *testing.T) {
	b := NewBridge()

	var deltas []string
	meta, err := b.Run(context.Background(),
		chunkSource(
			Chunk{Delta: "Hello"},
			Chunk{Delta: " "},
			Chunk{Delta: "world"},
			Chunk{Delta: "", Metadata: map[string]any{"done": true}},
		),
		func(d string) { deltas = append(deltas, d) },
		nil,
	)

	require.NoError(t, err)
	assert.Equal(t, "Hello world", b.Content())
	assert.Equal(t, []string{"Hello", " ", "world"}, deltas)
	assert.Equal(t, map[string]any{"done": true}, meta)
	assert.False(t, b.Running())
	assert.NoError(t, b.Err())
}

func TestBridgeSkipsEmptyDeltas(t *testing.T) {
	b := NewBridge()

	calls := 0
	_, err := b.Run(context.Background(),
		chunkSource(Chunk{Delta: ""}, Chunk{Delta: "x"}, Chunk{Delta: ""}),
		func(string) { calls++ },
		nil,
	)

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, "x", b.Content())
}

func TestBridgeErrorPreservesPartialContent(t *testing.T) {
	b := NewBridge()

	upstream := errors.New("connection reset")
	source := func(_ context.Context, yield func(Chunk) error) error {
		if err := yield(Chunk{Delta: "partial"}); err != nil {
			return err
		}
		return upstream
	}

	meta, err := b.Run(context.Background(), source, nil, nil)

	require.ErrorIs(t, err, upstream, "source error is returned unchanged")
	assert.Nil(t, meta)
	assert.Equal(t, "partial", b.Content())
	assert.ErrorIs(t, b.Err(), upstream)
	assert.False(t, b.Running())
}

func TestBridgeLastMetadataWins(t *testing.T) {
	b := NewBridge()

	var checkpoints []map[string]any
	meta, err := b.Run(context.Background(),
		chunkSource(
			Chunk{Delta: "a", Metadata: map[string]any{"seq": 1}},
			Chunk{Delta: "b", Metadata: map[string]any{"seq": 2}},
		),
		nil,
		func(m map[string]any) { checkpoints = append(checkpoints, m) },
	)

	require.NoError(t, err)
	require.Len(t, checkpoints, 2)
	assert.Equal(t, map[string]any{"seq": 2}, meta)
	assert.Equal(t, meta, b.FinalMetadata())
}

func TestBridgeContextCancellation(t *testing.T) {
	b := NewBridge()
	ctx, cancel := context.WithCancel(context.Background())

	source := func(ctx context.Context, yield func(Chunk) error) error {
		if err := yield(Chunk{Delta: "first"}); err != nil {
			return err
		}
		cancel()
		<-ctx.Done()
		return ctx.Err()
	}

	done := make(chan struct{})
	var err error
	go func() {
		defer close(done)
		_, err = b.Run(ctx, source, nil, nil)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
	require.ErrorIs(t, err, context.Canceled)
}

func TestBridgeConcurrentContentRead(t *testing.T) {
	b := NewBridge()

	release := make(chan struct{})
	source := func(_ context.Context, yield func(Chunk) error) error {
		if err := yield(Chunk{Delta: "in-"}); err != nil {
			return err
		}
		<-release
		return yield(Chunk{Delta: "flight"})
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = b.Run(context.Background(), source, nil, nil)
	}()

	// Observe the partial buffer while the stream is stalled mid-flight.
	assert.Eventually(t, func() bool {
		return b.Content() == "in-"
	}, time.Second, time.Millisecond)

	close(release)
	wg.Wait()
	assert.Equal(t, "in-flight", b.Content())
}
