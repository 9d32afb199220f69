package stt

import (
	"errors"
	"testing"
	"time"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-pipeline/internal/config"
)

func testConfig() *config.Config {
	return &config.Config{
		DeepgramAPIKey:             "test-key",
		DeepgramModel:              "nova-2-phonecall",
		DeepgramLanguage:           "en",
		DeepgramUtteranceEndMs:     1000,
		DeepgramEndpointing:        300,
		CircuitBreakerMaxFailures:  5,
		CircuitBreakerResetTimeout: 30,
		ReconnectMaxAttempts:       1,
		ReconnectBackoff:           10,
	}
}

func result(text string, isFinal, speechFinal bool) *msginterfaces.MessageResponse {
	return &msginterfaces.MessageResponse{
		Type:        "Results",
		IsFinal:     isFinal,
		SpeechFinal: speechFinal,
		Channel: msginterfaces.Channel{
			Alternatives: []msginterfaces.Alternative{{Transcript: text}},
		},
	}
}

func next(t *testing.T, ch <-chan Transcript) Transcript {
	t.Helper()
	select {
	case tr := <-ch:
		return tr
	case <-time.After(time.Second):
		t.Fatal("Expected a transcript")
		return Transcript{}
	}
}

func TestDeepgramClient_Options(t *testing.T) {
	d := NewDeepgramClient(testConfig(), zerolog.Nop(), nil)
	opts := d.options()

	if opts.Encoding != "mulaw" || opts.SampleRate != 8000 || opts.Channels != 1 {
		t.Errorf("Expected 8kHz mono mulaw, got %s %d %d", opts.Encoding, opts.SampleRate, opts.Channels)
	}
	if opts.UtteranceEndMs != "1000" {
		t.Errorf("Expected UtteranceEndMs '1000', got '%s'", opts.UtteranceEndMs)
	}
	if opts.Endpointing != "300" {
		t.Errorf("Expected Endpointing '300', got '%s'", opts.Endpointing)
	}
	if !opts.InterimResults {
		t.Error("Expected interim results to be requested")
	}
}

func TestDeepgramClient_MessageFlow(t *testing.T) {
	d := NewDeepgramClient(testConfig(), zerolog.Nop(), nil)
	handler := &callbackHandler{client: d}

	handler.Message(result("I'd like", false, false))
	if tr := next(t, d.Transcripts()); tr.Final || tr.Text != "I'd like" {
		t.Errorf("Expected interim 'I'd like', got %+v", tr)
	}

	handler.Message(result("I'd like to study", true, false))
	handler.Message(result("in Germany", true, true))
	if tr := next(t, d.Transcripts()); !tr.Final || tr.Text != "I'd like to study in Germany" {
		t.Errorf("Expected final utterance, got %+v", tr)
	}

	handler.Message(result("maybe", true, false))
	handler.UtteranceEnd(&msginterfaces.UtteranceEndResponse{})
	if tr := next(t, d.Transcripts()); !tr.Final || tr.Text != "maybe" {
		t.Errorf("Expected utterance end to flush 'maybe', got %+v", tr)
	}

	handler.Message(&msginterfaces.MessageResponse{Type: "Results"})
	select {
	case tr := <-d.Transcripts():
		t.Errorf("Expected no transcript for a result without alternatives, got %+v", tr)
	default:
	}
}

func TestDeepgramClient_SendAudioBeforeStart(t *testing.T) {
	d := NewDeepgramClient(testConfig(), zerolog.Nop(), nil)

	if err := d.SendAudio([]byte{0xff}); !errors.Is(err, ErrNotActive) {
		t.Errorf("Expected ErrNotActive, got %v", err)
	}
	if d.IsActive() {
		t.Error("Expected inactive client")
	}
}

func TestDeepgramClient_Close(t *testing.T) {
	d := NewDeepgramClient(testConfig(), zerolog.Nop(), nil)

	if err := d.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := d.Close(); err != nil {
		t.Errorf("Expected second Close to be a no-op, got %v", err)
	}
	if _, ok := <-d.Transcripts(); ok {
		t.Error("Expected transcript channel to be closed")
	}

	// late callbacks after Close must not panic
	d.handleMessage(result("late", true, true))
}
