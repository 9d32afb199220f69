package telephony

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/twilio/twilio-go/client"
	"github.com/twilio/twilio-go/twiml"
	"golang.org/x/time/rate"

	"github.com/lexiqai/voice-pipeline/internal/config"
	"github.com/lexiqai/voice-pipeline/internal/generator"
	"github.com/lexiqai/voice-pipeline/internal/observability"
	"github.com/lexiqai/voice-pipeline/internal/pipeline"
	"github.com/lexiqai/voice-pipeline/internal/stt"
)

var upgrader = websocket.Upgrader{
	// Twilio does not send an Origin header; requests are authenticated at /incoming.
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// ServerOptions wires the per-call collaborators.
type ServerOptions struct {
	Config         *config.Config
	Prompts        *generator.PromptStore
	Synthesizer    pipeline.Synthesizer
	NewTranscriber func(logger zerolog.Logger, metrics *observability.Metrics) stt.Transcriber
	NewGenerator   func(prompts generator.Prompts, logger zerolog.Logger) pipeline.Generator
	Placer         CallPlacer // nil when Twilio REST is not configured
	Logger         zerolog.Logger
}

// Server serves the Twilio-facing endpoints: the TwiML webhook, outbound
// call placement and the media stream websocket.
type Server struct {
	cfg            *config.Config
	prompts        *generator.PromptStore
	synth          pipeline.Synthesizer
	newTranscriber func(zerolog.Logger, *observability.Metrics) stt.Transcriber
	newGenerator   func(generator.Prompts, zerolog.Logger) pipeline.Generator
	placer         CallPlacer
	limiter        *rate.Limiter
	validator      *client.RequestValidator
	base           zerolog.Logger
	logger         zerolog.Logger

	ctx      context.Context
	cancel   context.CancelFunc
	sessions sync.WaitGroup
}

// NewServer creates a server from opts.
func NewServer(opts ServerOptions) *Server {
	perMin := opts.Config.MakeCallPerMin
	if perMin < 1 {
		perMin = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:            opts.Config,
		prompts:        opts.Prompts,
		synth:          opts.Synthesizer,
		newTranscriber: opts.NewTranscriber,
		newGenerator:   opts.NewGenerator,
		placer:         opts.Placer,
		limiter:        rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMin)), perMin),
		base:           opts.Logger,
		logger:         observability.ForComponent(opts.Logger, "telephony"),
		ctx:            ctx,
		cancel:         cancel,
	}
	if opts.Config.TwilioValidateSignature {
		v := client.NewRequestValidator(opts.Config.TwilioAuthToken)
		s.validator = &v
	}
	return s
}

// Register mounts the handlers on mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("/connection", s.HandleMediaStream)
	mux.HandleFunc("/incoming", s.HandleIncoming)
	mux.HandleFunc("/make-call", s.HandleMakeCall)
}

// Shutdown ends every active call and waits for the sessions to return.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()
	done := make(chan struct{})
	go func() {
		s.sessions.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// HandleMediaStream upgrades the request and runs a call session on it.
func (s *Server) HandleMediaStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to upgrade media stream")
		return
	}
	defer conn.Close()

	s.sessions.Add(1)
	defer s.sessions.Done()

	session := newCallSession(conn, s)
	session.logger.Info().Str("remote_addr", r.RemoteAddr).Msg("Media stream connected")
	session.Run(s.ctx)
}

// HandleIncoming answers Twilio's voice webhook with TwiML that connects the
// call to the media stream.
func (s *Server) HandleIncoming(w http.ResponseWriter, r *http.Request) {
	if s.validator != nil && !s.validSignature(r) {
		s.logger.Warn().Str("remote_addr", r.RemoteAddr).Msg("Rejected webhook with invalid signature")
		http.Error(w, "Invalid signature", http.StatusForbidden)
		return
	}

	stream := &twiml.VoiceStream{Url: s.cfg.StreamURL()}
	connect := &twiml.VoiceConnect{InnerElements: []twiml.Element{stream}}
	response, err := twiml.Voice([]twiml.Element{connect})
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to build TwiML")
		http.Error(w, "Failed to build TwiML", http.StatusInternalServerError)
		return
	}

	s.logger.Info().Str("call_sid", r.FormValue("CallSid")).Str("stream_url", stream.Url).Msg("Incoming call")
	w.Header().Set("Content-Type", "text/xml")
	w.Write([]byte(response))
}

func (s *Server) validSignature(r *http.Request) bool {
	if err := r.ParseForm(); err != nil {
		return false
	}
	params := make(map[string]string, len(r.PostForm))
	for key, values := range r.PostForm {
		if len(values) > 0 {
			params[key] = values[0]
		}
	}
	return s.validator.Validate(s.cfg.IncomingURL(), params, r.Header.Get("X-Twilio-Signature"))
}

type makeCallRequest struct {
	PhoneNumber    string `json:"phoneNumber"`
	SystemPrompt   string `json:"systemPrompt"`
	InitialMessage string `json:"initialMessage"`
}

type makeCallResponse struct {
	Success bool   `json:"success"`
	CallSid string `json:"callSid,omitempty"`
	Error   string `json:"error,omitempty"`
}

// HandleMakeCall sets the persona for new calls and dials phoneNumber.
func (s *Server) HandleMakeCall(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, makeCallResponse{Error: "Method not allowed"})
		return
	}
	if !s.limiter.Allow() {
		writeJSON(w, http.StatusTooManyRequests, makeCallResponse{Error: "Too many call requests"})
		return
	}

	var req makeCallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, makeCallResponse{Error: "Invalid JSON body"})
		return
	}
	if req.PhoneNumber == "" || req.SystemPrompt == "" || req.InitialMessage == "" {
		writeJSON(w, http.StatusBadRequest, makeCallResponse{
			Error: "phoneNumber, systemPrompt, and initialMessage are required",
		})
		return
	}
	if s.placer == nil {
		writeJSON(w, http.StatusServiceUnavailable, makeCallResponse{Error: "Outbound calling is not configured"})
		return
	}

	s.prompts.Set(generator.Prompts{System: req.SystemPrompt, Greeting: req.InitialMessage})

	callSid, err := s.placer.PlaceCall(r.Context(), req.PhoneNumber)
	if err != nil {
		s.logger.Error().Err(err).Str("to", req.PhoneNumber).Msg("Failed to place call")
		writeJSON(w, http.StatusInternalServerError, makeCallResponse{Error: "Failed to initiate call"})
		return
	}
	writeJSON(w, http.StatusOK, makeCallResponse{Success: true, CallSid: callSid})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// IsNotConfigured reports whether err means Twilio REST is unavailable.
func IsNotConfigured(err error) bool {
	return errors.Is(err, ErrTwilioNotConfigured)
}
