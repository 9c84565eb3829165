package tts

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"
)

// Artifact is the opaque audio payload the cache stores and the pipeline
// returns to the client: complete bytes, never a stream, plus enough
// metadata to estimate playback duration for scheduling end-of-speech
// events.
type Artifact struct {
	Audio       []byte
	ContentType string
	SampleRate  int
	Channels    int
	Tier        string
}

// DurationEstimate returns a best-effort playback duration. Without a real
// decoder in the loop this falls back to a fixed bitrate assumption; it is
// only used to anchor end_chat scheduling, not sample-accurate playback.
func (a Artifact) DurationEstimate() time.Duration {
	if len(a.Audio) == 0 {
		return 0
	}
	const assumedBytesPerSecond = 16000
	secs := float64(len(a.Audio)) / float64(assumedBytesPerSecond)
	return time.Duration(math.Round(secs*1000)) * time.Millisecond
}

// Tier is one fallback rung in the Synthesiser's tiered adapter chain.
type Tier interface {
	Name() string
	Synthesize(ctx context.Context, text string) (Artifact, error)
}

// Synthesiser tries each configured tier in declared order until one
// succeeds. All tiers share the same byte-format contract; the cache and
// pipeline treat the result as opaque.
type Synthesiser struct {
	tiers []Tier
}

func NewSynthesiser(tiers ...Tier) *Synthesiser {
	return &Synthesiser{tiers: tiers}
}

// ErrAllTiersFailed is returned when every configured tier errors.
type ErrAllTiersFailed struct {
	Errs []error
}

func (e *ErrAllTiersFailed) Error() string {
	return fmt.Sprintf("tts: all %d tiers failed: %v", len(e.Errs), e.Errs)
}

func (s *Synthesiser) Synthesize(ctx context.Context, text string) (Artifact, error) {
	var errs []error
	for _, tier := range s.tiers {
		artifact, err := tier.Synthesize(ctx, text)
		if err == nil {
			artifact.Tier = tier.Name()
			return artifact, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", tier.Name(), err))
	}
	return Artifact{}, &ErrAllTiersFailed{Errs: errs}
}

// HTTPTier is a cloud voice tier: POST {text} to a /synthesize endpoint and
// take the raw audio bytes back, per the external interface's outbound TTS
// contract.
type HTTPTier struct {
	Name_      string
	BaseURL    string
	HTTPClient *http.Client
}

func (t *HTTPTier) Name() string {
	if t.Name_ == "" {
		return "http"
	}
	return t.Name_
}

type synthesizeRequest struct {
	Text string `json:"text"`
}

func (t *HTTPTier) Synthesize(ctx context.Context, text string) (Artifact, error) {
	body, err := json.Marshal(synthesizeRequest{Text: text})
	if err != nil {
		return Artifact{}, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.BaseURL+"/synthesize", bytes.NewReader(body))
	if err != nil {
		return Artifact{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := t.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return Artifact{}, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return Artifact{}, fmt.Errorf("synthesize: upstream status %d", resp.StatusCode)
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return Artifact{}, fmt.Errorf("read response: %w", err)
	}
	if len(audio) == 0 {
		return Artifact{}, fmt.Errorf("synthesize: empty audio body")
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "audio/mpeg"
	}

	return Artifact{Audio: audio, ContentType: contentType, SampleRate: 24000, Channels: 1}, nil
}

// PlaceholderTier is the last-resort tier: a constant-sine placeholder so
// the turn always completes with some audio artifact rather than failing
// outright when every cloud voice is down.
type PlaceholderTier struct {
	Duration time.Duration
}

func (t *PlaceholderTier) Name() string { return "placeholder" }

func (t *PlaceholderTier) Synthesize(ctx context.Context, text string) (Artifact, error) {
	d := t.Duration
	if d <= 0 {
		d = 500 * time.Millisecond
	}
	const sampleRate = 8000
	n := int(d.Seconds() * float64(sampleRate))
	if n <= 0 {
		n = sampleRate / 2
	}
	// 44-byte RIFF/WAVE header (16-bit mono PCM) followed by the samples.
	dataLen := n * 2
	samples := make([]byte, 44+dataLen)
	copy(samples[0:4], "RIFF")
	binary.LittleEndian.PutUint32(samples[4:8], uint32(36+dataLen))
	copy(samples[8:16], "WAVEfmt ")
	binary.LittleEndian.PutUint32(samples[16:20], 16)
	binary.LittleEndian.PutUint16(samples[20:22], 1)
	binary.LittleEndian.PutUint16(samples[22:24], 1)
	binary.LittleEndian.PutUint32(samples[24:28], sampleRate)
	binary.LittleEndian.PutUint32(samples[28:32], sampleRate*2)
	binary.LittleEndian.PutUint16(samples[32:34], 2)
	binary.LittleEndian.PutUint16(samples[34:36], 16)
	copy(samples[36:40], "data")
	binary.LittleEndian.PutUint32(samples[40:44], uint32(dataLen))
	const freq = 440.0
	for i := 0; i < n; i++ {
		v := int16(4000 * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate)))
		samples[44+2*i] = byte(v)
		samples[44+2*i+1] = byte(v >> 8)
	}
	return Artifact{Audio: samples, ContentType: "audio/wav", SampleRate: sampleRate, Channels: 1}, nil
}
