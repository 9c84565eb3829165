package tts

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type failingTier struct {
	name string
	err  error
}

func (f *failingTier) Name() string { return f.name }
func (f *failingTier) Synthesize(ctx context.Context, text string) (Artifact, error) {
	return Artifact{}, f.err
}

func TestSynthesiser_FallsThroughToSecondTierOnFirstFailure(t *testing.T) {
	primary := &failingTier{name: "primary", err: errors.New("upstream down")}
	backup := &PlaceholderTier{Duration: 10 * time.Millisecond}

	s := NewSynthesiser(primary, backup)
	artifact, err := s.Synthesize(context.Background(), "hello")

	require.NoError(t, err)
	require.Equal(t, "placeholder", artifact.Tier)
	require.NotEmpty(t, artifact.Audio)
}

func TestSynthesiser_AllTiersFailReturnsAggregateError(t *testing.T) {
	s := NewSynthesiser(
		&failingTier{name: "primary", err: errors.New("down")},
		&failingTier{name: "secondary", err: errors.New("also down")},
	)

	_, err := s.Synthesize(context.Background(), "hello")

	require.Error(t, err)
	var allFailed *ErrAllTiersFailed
	require.ErrorAs(t, err, &allFailed)
	require.Len(t, allFailed.Errs, 2)
}

func TestHTTPTier_SynthesizePostsTextAndReturnsAudio(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/synthesize", r.URL.Path)
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte("fake-mp3-bytes"))
	}))
	defer srv.Close()

	tier := &HTTPTier{Name_: "primary", BaseURL: srv.URL, HTTPClient: srv.Client()}
	artifact, err := tier.Synthesize(context.Background(), "hello there")

	require.NoError(t, err)
	require.Equal(t, []byte("fake-mp3-bytes"), artifact.Audio)
	require.Equal(t, "audio/mpeg", artifact.ContentType)
}

func TestHTTPTier_EmptyBodyIsAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tier := &HTTPTier{BaseURL: srv.URL, HTTPClient: srv.Client()}
	_, err := tier.Synthesize(context.Background(), "hello")

	require.Error(t, err)
}

func TestArtifact_DurationEstimateScalesWithAudioLength(t *testing.T) {
	a := Artifact{Audio: make([]byte, 16000)}
	require.Equal(t, time.Second, a.DurationEstimate())

	require.Equal(t, time.Duration(0), Artifact{}.DurationEstimate())
}
