// Package main is the entry point for the voxid CLI.
//
// Usage:
//
//	voxid [flags] <command> [subcommand] [args]
//
// Commands:
//
//	transcribe - Transcribe a recorded file with speaker labels
//	live       - Transcribe the microphone until interrupted
//	serve      - Live session streamed to websocket clients
//	speakers   - Manage the speaker library
//	devices    - List audio input devices
//	config     - Show or create the configuration file
//	version    - Show version information
package main

import (
	"fmt"
	"os"

	"github.com/haivivi/voxid/cmd/voxid/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
