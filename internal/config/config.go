package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// DefaultSystemPrompt is used until POST /make-call overrides it.
const DefaultSystemPrompt = `You are an outbound education consultant helping students find the right university and course for studying abroad. ` +
	`You have a warm and professional personality. Keep your responses engaging yet concise. ` +
	`You must not ask more than one question at a time. Ask for clarification if a request is ambiguous. ` +
	`You must add a '•' symbol every 5 to 10 words at natural pauses where your response can be split for text-to-speech.`

// DefaultInitialMessage is spoken as soon as the media stream starts.
const DefaultInitialMessage = `Hello, this is Priya from GlobalEd Consulting. I wanted to quickly check in about your interest in studying abroad • and see how we can help you find the right university and program!`

// Config holds all configuration for the voice pipeline service
type Config struct {
	// Server configuration
	Port string `envconfig:"PORT" default:"8080"`

	// Public host of this service (e.g. xxx.ngrok-free.app, no scheme).
	// TwiML streams to wss://<host>/connection and outbound calls fetch https://<host>/incoming.
	ServerHost string `envconfig:"SERVER" default:""`

	// Deepgram live transcription
	DeepgramAPIKey         string `envconfig:"DEEPGRAM_API_KEY" required:"true"`
	DeepgramModel          string `envconfig:"DEEPGRAM_MODEL" default:"nova-2-phonecall"`
	DeepgramLanguage       string `envconfig:"DEEPGRAM_LANGUAGE" default:"en"`
	DeepgramUtteranceEndMs int    `envconfig:"DEEPGRAM_UTTERANCE_END_MS" default:"1000"`
	DeepgramEndpointing    int    `envconfig:"DEEPGRAM_ENDPOINTING" default:"300"` // ms of silence before speech_final

	// Deepgram Aura speech synthesis
	VoiceModel         string `envconfig:"VOICE_MODEL" default:"aura-asteria-en"`
	TTSEncoding        string `envconfig:"TTS_ENCODING" default:"mulaw"` // mulaw or linear16
	TTSSampleRate      int    `envconfig:"TTS_SAMPLE_RATE" default:"8000"`
	TTSBaseURL         string `envconfig:"TTS_BASE_URL" default:"https://api.deepgram.com/v1/speak"`
	SynthesisTimeoutMs int    `envconfig:"SYNTHESIS_TIMEOUT_MS" default:"10000"`

	// OpenAI turn generator
	OpenAIAPIKey   string `envconfig:"OPENAI_API_KEY" required:"true"`
	OpenAIModel    string `envconfig:"OPENAI_MODEL" default:"gpt-4o-mini"`
	OpenAIBaseURL  string `envconfig:"OPENAI_BASE_URL" default:""`
	SystemPrompt   string `envconfig:"SYSTEM_PROMPT" default:""`
	InitialMessage string `envconfig:"INITIAL_MESSAGE" default:""`

	// Turn handling
	PauseMarker       string `envconfig:"PAUSE_MARKER" default:"•"`
	SplitOnSentences  bool   `envconfig:"SPLIT_ON_SENTENCES" default:"true"`
	InterruptMinChars int    `envconfig:"INTERRUPT_MIN_CHARS" default:"6"` // interim transcripts this long barge in

	// Twilio REST (outbound calls and recordings)
	TwilioAccountSID string `envconfig:"TWILIO_ACCOUNT_SID" default:""`
	TwilioAuthToken  string `envconfig:"TWILIO_AUTH_TOKEN" default:""`
	FromNumber       string `envconfig:"FROM_NUMBER" default:""`
	MakeCallPerMin   int    `envconfig:"MAKE_CALL_RATE_PER_MINUTE" default:"10"`

	// Reject /incoming webhooks without a valid X-Twilio-Signature (needs TWILIO_AUTH_TOKEN)
	TwilioValidateSignature bool `envconfig:"TWILIO_VALIDATE_SIGNATURE" default:"false"`

	// Recording
	RecordingEnabled bool   `envconfig:"RECORDING_ENABLED" default:"false"` // Twilio dual-channel recording
	RecordingDir     string `envconfig:"RECORDING_DIR" default:""`          // local WAV copies of outbound audio

	// Resilience configuration
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`   // Failures before opening circuit
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // Seconds before attempting recovery
	RetryMaxAttempts           int `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`
	RetryInitialBackoff        int `envconfig:"RETRY_INITIAL_BACKOFF" default:"100"` // milliseconds
	ReconnectMaxAttempts       int `envconfig:"RECONNECT_MAX_ATTEMPTS" default:"5"`
	ReconnectBackoff           int `envconfig:"RECONNECT_BACKOFF" default:"1000"` // milliseconds

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"`
}

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()
	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	if cfg.InitialMessage == "" {
		cfg.InitialMessage = DefaultInitialMessage
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values envconfig cannot express.
func (c *Config) Validate() error {
	if c.DeepgramAPIKey == "" {
		return fmt.Errorf("DEEPGRAM_API_KEY is required")
	}
	if c.OpenAIAPIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required")
	}
	if c.TTSEncoding != "mulaw" && c.TTSEncoding != "linear16" {
		return fmt.Errorf("TTS_ENCODING must be mulaw or linear16, got %q", c.TTSEncoding)
	}
	if c.TTSEncoding == "mulaw" && c.TTSSampleRate != 8000 {
		return fmt.Errorf("TTS_SAMPLE_RATE must be 8000 for mulaw, got %d", c.TTSSampleRate)
	}
	if c.InterruptMinChars < 1 {
		return fmt.Errorf("INTERRUPT_MIN_CHARS must be positive, got %d", c.InterruptMinChars)
	}
	if c.TwilioValidateSignature && c.TwilioAuthToken == "" {
		return fmt.Errorf("TWILIO_VALIDATE_SIGNATURE requires TWILIO_AUTH_TOKEN")
	}
	if c.PauseMarker == "" {
		return fmt.Errorf("PAUSE_MARKER must not be empty")
	}
	return nil
}

// TwilioConfigured reports whether REST credentials for outbound calls are present.
func (c *Config) TwilioConfigured() bool {
	return c.TwilioAccountSID != "" && c.TwilioAuthToken != "" && c.FromNumber != ""
}

// SynthesisTimeout returns the per-chunk synthesis deadline.
func (c *Config) SynthesisTimeout() time.Duration {
	return time.Duration(c.SynthesisTimeoutMs) * time.Millisecond
}

// StreamURL is the websocket URL Twilio connects the media stream to.
func (c *Config) StreamURL() string {
	if c.ServerHost == "" {
		return fmt.Sprintf("ws://localhost:%s/connection", c.Port)
	}
	return fmt.Sprintf("wss://%s/connection", c.ServerHost)
}

// IncomingURL is the TwiML webhook used for outbound calls.
func (c *Config) IncomingURL() string {
	return fmt.Sprintf("https://%s/incoming", c.ServerHost)
}

// GetEnv returns the value of an environment variable or a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
