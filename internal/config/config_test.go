package config

import (
	"os"
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Helper()
	os.Setenv("DEEPGRAM_API_KEY", "test-deepgram-key")
	os.Setenv("OPENAI_API_KEY", "test-openai-key")
	t.Cleanup(func() {
		os.Unsetenv("DEEPGRAM_API_KEY")
		os.Unsetenv("OPENAI_API_KEY")
	})
}

func TestLoad(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.DeepgramAPIKey != "test-deepgram-key" {
		t.Errorf("Expected DeepgramAPIKey 'test-deepgram-key', got '%s'", cfg.DeepgramAPIKey)
	}

	if cfg.OpenAIAPIKey != "test-openai-key" {
		t.Errorf("Expected OpenAIAPIKey 'test-openai-key', got '%s'", cfg.OpenAIAPIKey)
	}
}

func TestLoad_MissingRequired(t *testing.T) {
	os.Unsetenv("DEEPGRAM_API_KEY")
	os.Unsetenv("OPENAI_API_KEY")

	_, err := LoadFromEnv()
	if err == nil {
		t.Error("Expected error when required keys are missing")
	}
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() failed: %v", err)
	}

	if cfg.Port != "8080" {
		t.Errorf("Expected default Port '8080', got '%s'", cfg.Port)
	}
	if cfg.DeepgramModel != "nova-2-phonecall" {
		t.Errorf("Expected default DeepgramModel 'nova-2-phonecall', got '%s'", cfg.DeepgramModel)
	}
	if cfg.VoiceModel != "aura-asteria-en" {
		t.Errorf("Expected default VoiceModel 'aura-asteria-en', got '%s'", cfg.VoiceModel)
	}
	if cfg.TTSEncoding != "mulaw" {
		t.Errorf("Expected default TTSEncoding 'mulaw', got '%s'", cfg.TTSEncoding)
	}
	if cfg.PauseMarker != "•" {
		t.Errorf("Expected default PauseMarker '•', got '%s'", cfg.PauseMarker)
	}
	if cfg.InterruptMinChars != 6 {
		t.Errorf("Expected default InterruptMinChars 6, got %d", cfg.InterruptMinChars)
	}
	if !cfg.SplitOnSentences {
		t.Error("Expected default SplitOnSentences true, got false")
	}
	if cfg.SystemPrompt != DefaultSystemPrompt {
		t.Error("Expected SystemPrompt to fall back to DefaultSystemPrompt")
	}
	if cfg.InitialMessage != DefaultInitialMessage {
		t.Error("Expected InitialMessage to fall back to DefaultInitialMessage")
	}
	if cfg.SynthesisTimeout() != 10*time.Second {
		t.Errorf("Expected SynthesisTimeout 10s, got %v", cfg.SynthesisTimeout())
	}
	if cfg.TwilioConfigured() {
		t.Error("Expected TwilioConfigured false without credentials")
	}
}

func TestLoad_InvalidEncoding(t *testing.T) {
	setRequired(t)
	os.Setenv("TTS_ENCODING", "opus")
	defer os.Unsetenv("TTS_ENCODING")

	if _, err := LoadFromEnv(); err == nil {
		t.Error("Expected error for unsupported TTS_ENCODING")
	}
}

func TestLoad_MulawSampleRate(t *testing.T) {
	setRequired(t)
	os.Setenv("TTS_SAMPLE_RATE", "24000")
	defer os.Unsetenv("TTS_SAMPLE_RATE")

	if _, err := LoadFromEnv(); err == nil {
		t.Error("Expected error for mulaw at 24kHz")
	}

	os.Setenv("TTS_ENCODING", "linear16")
	defer os.Unsetenv("TTS_ENCODING")
	if _, err := LoadFromEnv(); err != nil {
		t.Errorf("Expected linear16 at 24kHz to be accepted, got %v", err)
	}
}

func TestLoad_InterruptThreshold(t *testing.T) {
	setRequired(t)
	os.Setenv("INTERRUPT_MIN_CHARS", "0")
	defer os.Unsetenv("INTERRUPT_MIN_CHARS")

	if _, err := LoadFromEnv(); err == nil {
		t.Error("Expected error for non-positive INTERRUPT_MIN_CHARS")
	}

	os.Setenv("INTERRUPT_MIN_CHARS", "12")
	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() failed: %v", err)
	}
	if cfg.InterruptMinChars != 12 {
		t.Errorf("Expected InterruptMinChars 12, got %d", cfg.InterruptMinChars)
	}
}

func TestConfig_URLs(t *testing.T) {
	cfg := &Config{Port: "3000"}
	if got := cfg.StreamURL(); got != "ws://localhost:3000/connection" {
		t.Errorf("Expected local stream URL, got '%s'", got)
	}

	cfg.ServerHost = "abc.ngrok.app"
	if got := cfg.StreamURL(); got != "wss://abc.ngrok.app/connection" {
		t.Errorf("Expected 'wss://abc.ngrok.app/connection', got '%s'", got)
	}
	if got := cfg.IncomingURL(); got != "https://abc.ngrok.app/incoming" {
		t.Errorf("Expected 'https://abc.ngrok.app/incoming', got '%s'", got)
	}
}

func TestGetEnv(t *testing.T) {
	os.Setenv("TEST_KEY", "test-value")
	defer os.Unsetenv("TEST_KEY")

	value := GetEnv("TEST_KEY", "default")
	if value != "test-value" {
		t.Errorf("Expected 'test-value', got '%s'", value)
	}

	value = GetEnv("NON_EXISTENT_KEY", "default")
	if value != "default" {
		t.Errorf("Expected 'default', got '%s'", value)
	}
}

func TestConfig_ResilienceDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() failed: %v", err)
	}

	if cfg.CircuitBreakerMaxFailures != 5 {
		t.Errorf("Expected default CircuitBreakerMaxFailures 5, got %d", cfg.CircuitBreakerMaxFailures)
	}
	if cfg.CircuitBreakerResetTimeout != 30 {
		t.Errorf("Expected default CircuitBreakerResetTimeout 30, got %d", cfg.CircuitBreakerResetTimeout)
	}
	if cfg.RetryMaxAttempts != 3 {
		t.Errorf("Expected default RetryMaxAttempts 3, got %d", cfg.RetryMaxAttempts)
	}
	if cfg.ReconnectBackoff != 1000 {
		t.Errorf("Expected default ReconnectBackoff 1000, got %d", cfg.ReconnectBackoff)
	}
}

func TestConfig_ObservabilityDefaults(t *testing.T) {
	setRequired(t)
	os.Unsetenv("LOG_LEVEL")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() failed: %v", err)
	}

	if cfg.LogLevel != "info" {
		t.Errorf("Expected default LogLevel 'info', got '%s'", cfg.LogLevel)
	}
	if cfg.LogPretty {
		t.Error("Expected default LogPretty false, got true")
	}
	if !cfg.MetricsEnabled {
		t.Error("Expected default MetricsEnabled true, got false")
	}
}
