package commands

import (
	"github.com/spf13/cobra"

	"github.com/haivivi/voxid/pkg/pipeline"
)

var (
	transcribeFlags    sessionFlags
	transcribeRealtime bool
)

var transcribeCmd = &cobra.Command{
	Use:   "transcribe FILE",
	Short: "Transcribe a recorded file with speaker labels",
	Long: `Transcribe a WAV or MP3 recording.

The file runs through the same pipeline as live capture, without
dropping frames. Any sample rate and channel count is accepted; the
configured primary channel is kept.

Examples:
  voxid transcribe meeting.wav
  voxid transcribe call.mp3 -o json --jq '.events[] | select(.speaker == "") | .text'
  voxid transcribe interview.wav --name-speakers --review`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := openEngine()
		if err != nil {
			return err
		}
		defer eng.Close()
		if transcribeRealtime {
			eng.Config().Audio.Realtime = true
		}

		ctx, stop := signalContext(cmd)
		defer stop()

		var events []pipeline.Event
		p, st, err := runSession(ctx, eng, eng.FileSource(args[0]), false, printer(&events))
		if err != nil {
			return err
		}
		return finish(ctx, eng, p, st, events, transcribeFlags)
	},
}

func init() {
	transcribeFlags.register(transcribeCmd)
	transcribeCmd.Flags().BoolVar(&transcribeRealtime, "realtime", false, "pace the file to the wall clock")
	rootCmd.AddCommand(transcribeCmd)
}
