package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/lexiqai/voice-pipeline/internal/audio"
	"github.com/lexiqai/voice-pipeline/internal/config"
	"github.com/lexiqai/voice-pipeline/internal/observability"
	"github.com/lexiqai/voice-pipeline/internal/resilience"
)

// StatusError is returned for non-200 responses from the speak endpoint.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("deepgram speak returned status: %d: %s", e.StatusCode, e.Body)
}

type speakRequest struct {
	Text string `json:"text"`
}

// DeepgramClient synthesizes speech with Deepgram Aura and returns 8kHz μ-law
// audio ready for the media stream.
type DeepgramClient struct {
	apiKey         string
	endpoint       string
	encoding       string
	sampleRate     int
	httpClient     *http.Client
	circuitBreaker *resilience.CircuitBreaker
	logger         zerolog.Logger
}

// NewDeepgramClient creates a synthesis client from configuration.
func NewDeepgramClient(cfg *config.Config, logger zerolog.Logger) (*DeepgramClient, error) {
	endpoint, err := url.Parse(cfg.TTSBaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid TTS_BASE_URL: %w", err)
	}
	q := endpoint.Query()
	q.Set("model", cfg.VoiceModel)
	q.Set("encoding", cfg.TTSEncoding)
	q.Set("sample_rate", strconv.Itoa(cfg.TTSSampleRate))
	q.Set("container", "none")
	endpoint.RawQuery = q.Encode()

	return &DeepgramClient{
		apiKey:     cfg.DeepgramAPIKey,
		endpoint:   endpoint.String(),
		encoding:   cfg.TTSEncoding,
		sampleRate: cfg.TTSSampleRate,
		httpClient: &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		circuitBreaker: resilience.NewCircuitBreaker(
			"deepgram_tts",
			cfg.CircuitBreakerMaxFailures,
			time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second,
		),
		logger: observability.ForComponent(logger, "tts"),
	}, nil
}

// Synthesize converts one chunk of text into μ-law audio.
func (c *DeepgramClient) Synthesize(ctx context.Context, text string, turnIndex, chunkIndex int) ([]byte, error) {
	var out []byte
	err := c.circuitBreaker.Call(func() error {
		var err error
		out, err = c.speak(ctx, text)
		return err
	})

	observability.UpdateCircuitBreakerState("deepgram_tts", int(c.circuitBreaker.GetState()))
	if err != nil {
		observability.IncrementCircuitBreakerFailures("deepgram_tts")
		return nil, err
	}

	c.logger.Debug().
		Int("turn", turnIndex).
		Int("chunk", chunkIndex).
		Int("bytes", len(out)).
		Msg("Synthesized chunk")
	return out, nil
}

// Ready fails while the backend's circuit is open.
func (c *DeepgramClient) Ready(context.Context) (bool, error) {
	state, requests, failures, rate := c.circuitBreaker.GetStats()
	if state == resilience.StateOpen {
		return false, fmt.Errorf("speech synthesis circuit is open: %d of %d requests failed (%.0f%%)", failures, requests, rate)
	}
	return true, nil
}

func (c *DeepgramClient) speak(ctx context.Context, text string) ([]byte, error) {
	body, err := json.Marshal(speakRequest{Text: text})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Token "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(data))}
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("deepgram speak returned no audio")
	}

	if c.encoding == "linear16" {
		mulaw, err := audio.PCM16ToMulaw(data, c.sampleRate)
		if err != nil {
			return nil, fmt.Errorf("failed to convert audio: %w", err)
		}
		return mulaw, nil
	}
	return data, nil
}
