package telephony

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/lexiqai/voice-pipeline/internal/config"
	"github.com/lexiqai/voice-pipeline/internal/observability"
	"github.com/lexiqai/voice-pipeline/internal/resilience"
)

// ErrTwilioNotConfigured is returned when REST credentials or FROM_NUMBER are missing.
var ErrTwilioNotConfigured = errors.New("twilio REST credentials are not configured")

// CallPlacer places outbound calls and controls recordings through the telephony provider.
type CallPlacer interface {
	PlaceCall(ctx context.Context, to string) (string, error)
	StartRecording(ctx context.Context, callSid string) error
}

// Dialer uses the Twilio REST API. Outbound calls fetch TwiML from the
// service's /incoming webhook, which connects them to the media stream.
type Dialer struct {
	client     *twilio.RestClient
	from       string
	webhookURL string
	retry      *resilience.RetryConfig
	logger     zerolog.Logger
}

// NewDialer returns a dialer, or ErrTwilioNotConfigured.
func NewDialer(cfg *config.Config, logger zerolog.Logger) (*Dialer, error) {
	if !cfg.TwilioConfigured() {
		return nil, ErrTwilioNotConfigured
	}
	return &Dialer{
		client: twilio.NewRestClientWithParams(twilio.ClientParams{
			Username: cfg.TwilioAccountSID,
			Password: cfg.TwilioAuthToken,
		}),
		from:       cfg.FromNumber,
		webhookURL: cfg.IncomingURL(),
		retry: &resilience.RetryConfig{
			MaxAttempts:       cfg.RetryMaxAttempts,
			InitialBackoff:    time.Duration(cfg.RetryInitialBackoff) * time.Millisecond,
			MaxBackoff:        5 * time.Second,
			BackoffMultiplier: 2.0,
			Jitter:            true,
		},
		logger: observability.ForComponent(logger, "dialer"),
	}, nil
}

// PlaceCall dials to and returns the new call's sid.
func (d *Dialer) PlaceCall(ctx context.Context, to string) (string, error) {
	params := &twilioApi.CreateCallParams{}
	params.SetTo(to)
	params.SetFrom(d.from)
	params.SetUrl(d.webhookURL)
	params.SetMethod("POST")

	var callSid string
	err := resilience.Retry(ctx, func(ctx context.Context) error {
		resp, err := d.client.Api.CreateCall(params)
		if err != nil {
			return err
		}
		if resp.Sid == nil {
			return fmt.Errorf("twilio returned a call without sid")
		}
		callSid = *resp.Sid
		return nil
	}, d.retry, resilience.IsRetryableNetworkError)
	if err != nil {
		return "", fmt.Errorf("failed to create call: %w", err)
	}

	d.logger.Info().Str("call_sid", callSid).Str("to", to).Msg("Outbound call placed")
	return callSid, nil
}

// StartRecording starts a dual-channel recording of an in-progress call.
func (d *Dialer) StartRecording(ctx context.Context, callSid string) error {
	params := &twilioApi.CreateCallRecordingParams{}
	params.SetRecordingChannels("dual")

	err := resilience.Retry(ctx, func(ctx context.Context) error {
		_, err := d.client.Api.CreateCallRecording(callSid, params)
		return err
	}, d.retry, resilience.IsRetryableNetworkError)
	if err != nil {
		return fmt.Errorf("failed to start recording: %w", err)
	}

	d.logger.Info().Str("call_sid", callSid).Msg("Call recording started")
	return nil
}
