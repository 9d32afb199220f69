// Package main provides the voice-pipeline command: the Twilio media stream
// server and a helper for placing outbound calls through it.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "voice-pipeline",
	Short: "Real-time phone agent over Twilio media streams",
	Long: "voice-pipeline bridges a Twilio media stream to live transcription, " +
		"a streaming chat model and speech synthesis, with barge-in support.",
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(serveCmd, callCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
