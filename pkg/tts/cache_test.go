package tts

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

type countingTier struct {
	calls atomic.Int64
}

func (t *countingTier) Name() string { return "counting" }

func (t *countingTier) Synthesize(ctx context.Context, text string) (Artifact, error) {
	t.calls.Add(1)
	return Artifact{Audio: []byte("audio-for-" + text), ContentType: "audio/wav"}, nil
}

func TestCache_ColdMissThenWarmHit(t *testing.T) {
	dir := t.TempDir()
	tier := &countingTier{}
	cache := NewCache(dir, true, NewSynthesiser(tier))

	a1, hit1, err := cache.GetOrSynth(context.Background(), "hello")
	require.NoError(t, err)
	require.False(t, hit1)
	require.Equal(t, int64(1), tier.calls.Load())

	a2, hit2, err := cache.GetOrSynth(context.Background(), "hello")
	require.NoError(t, err)
	require.True(t, hit2)
	require.Equal(t, int64(1), tier.calls.Load())
	require.Equal(t, a1.Audio, a2.Audio)
}

func TestCache_ConcurrentIdenticalCallsSingleFlight(t *testing.T) {
	dir := t.TempDir()
	tier := &countingTier{}
	cache := NewCache(dir, true, NewSynthesiser(tier))

	const n = 8
	var wg sync.WaitGroup
	results := make([]Artifact, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _, errs[i] = cache.GetOrSynth(context.Background(), "concurrent-text")
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, results[0].Audio, results[i].Audio)
	}
	require.Equal(t, int64(1), tier.calls.Load())
}

func TestCache_DisabledNeverPersists(t *testing.T) {
	dir := t.TempDir()
	tier := &countingTier{}
	cache := NewCache(dir, false, NewSynthesiser(tier))

	_, _, err := cache.GetOrSynth(context.Background(), "once")
	require.NoError(t, err)
	_, _, err = cache.GetOrSynth(context.Background(), "once")
	require.NoError(t, err)
	require.Equal(t, int64(2), tier.calls.Load())
}
