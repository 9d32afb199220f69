package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/lexiqai/voice-pipeline/internal/config"
	"github.com/lexiqai/voice-pipeline/internal/observability"
)

var (
	callTo       string
	callPrompt   string
	callGreeting string
	callServer   string

	callCmd = &cobra.Command{
		Use:   "call",
		Short: "Ask a running server to place an outbound call",
		Long: "call posts to the server's /make-call endpoint, so the prompt and " +
			"greeting are used by the session that answers the call.",
		Args: cobra.NoArgs,
		RunE: placeCall,
	}
)

func init() {
	callCmd.Flags().StringVar(&callTo, "to", "", "number to dial, E.164")
	callCmd.Flags().StringVar(&callPrompt, "prompt", config.DefaultSystemPrompt, "system prompt for the call")
	callCmd.Flags().StringVar(&callGreeting, "greeting", config.DefaultInitialMessage, "first thing the agent says")
	callCmd.Flags().StringVar(&callServer, "server", "", "base URL of the running server (default http://localhost:$PORT)")
	_ = callCmd.MarkFlagRequired("to")
}

type makeCallRequest struct {
	PhoneNumber    string `json:"phoneNumber"`
	SystemPrompt   string `json:"systemPrompt"`
	InitialMessage string `json:"initialMessage"`
}

type makeCallResponse struct {
	Success bool   `json:"success"`
	CallSid string `json:"callSid"`
	Error   string `json:"error"`
}

func placeCall(cmd *cobra.Command, _ []string) error {
	logger := observability.WithCorrelationID("")

	base := callServer
	if base == "" {
		base = "http://localhost:" + config.GetEnv("PORT", "8080")
	}

	body, err := json.Marshal(makeCallRequest{
		PhoneNumber:    callTo,
		SystemPrompt:   callPrompt,
		InitialMessage: callGreeting,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost, base+"/make-call", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := (&http.Client{Timeout: 30 * time.Second}).Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach %s: %w", base, err)
	}
	defer resp.Body.Close()

	var out makeCallResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("unexpected response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK || !out.Success {
		return fmt.Errorf("call failed (status %d): %s", resp.StatusCode, out.Error)
	}

	logger.Info().Str("to", callTo).Str("call_sid", out.CallSid).Msg("Call initiated")
	fmt.Fprintln(cmd.OutOrStdout(), out.CallSid)
	return nil
}
