package main

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-pipeline/internal/config"
	"github.com/lexiqai/voice-pipeline/internal/tts"
)

func testConfig() *config.Config {
	return &config.Config{
		DeepgramAPIKey:             "dg-key",
		OpenAIAPIKey:               "oa-key",
		VoiceModel:                 "aura-asteria-en",
		TTSEncoding:                "mulaw",
		TTSSampleRate:              8000,
		TTSBaseURL:                 "http://127.0.0.1:1/v1/speak",
		CircuitBreakerMaxFailures:  5,
		CircuitBreakerResetTimeout: 30,
	}
}

func TestReadinessChecks(t *testing.T) {
	cfg := testConfig()
	synth, err := tts.NewDeepgramClient(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewDeepgramClient() failed: %v", err)
	}

	checks := readinessChecks(cfg, synth, nil)
	if _, ok := checks["twilio"]; ok {
		t.Error("Expected no twilio check when recording is disabled")
	}
	for name, check := range checks {
		ok, err := check(context.Background())
		if !ok || err != nil {
			t.Errorf("Expected %s to be ready, got %v (%v)", name, ok, err)
		}
	}
}

func TestReadinessChecks_RecordingWithoutTwilio(t *testing.T) {
	cfg := testConfig()
	cfg.RecordingEnabled = true
	synth, err := tts.NewDeepgramClient(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewDeepgramClient() failed: %v", err)
	}

	check, ok := readinessChecks(cfg, synth, nil)["twilio"]
	if !ok {
		t.Fatal("Expected a twilio check when recording is enabled")
	}
	if ready, err := check(context.Background()); ready || err == nil {
		t.Errorf("Expected twilio check to fail without credentials, got %v (%v)", ready, err)
	}
}
