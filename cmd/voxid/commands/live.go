package commands

import (
	"context"
	"fmt"
	"os"
	"path"

	"github.com/spf13/cobra"

	"github.com/haivivi/voxid/cmd/voxid/internal/engine"
	"github.com/haivivi/voxid/pkg/audio/source"
	"github.com/haivivi/voxid/pkg/pipeline"
)

var (
	liveFlags  sessionFlags
	liveDevice int
	liveRecord bool
)

var liveCmd = &cobra.Command{
	Use:   "live",
	Short: "Transcribe the microphone until interrupted",
	Long: `Capture the microphone and print a labelled transcript as people speak.

Press Ctrl-C to stop. The session drains the segment in progress and
saves what was learned about known speakers before exiting. Frames are
dropped, with a warning, when inference falls behind.

Examples:
  voxid live
  voxid live --device 2 --record
  voxid live -o json > session.json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := openEngine()
		if err != nil {
			return err
		}
		defer eng.Close()

		ctx, stop := signalContext(cmd)
		defer stop()

		src, rec := liveSource(cmd, eng)
		fmt.Fprintln(os.Stderr, "Listening. Press Ctrl-C to stop.")

		var events []pipeline.Event
		p, st, err := runSession(ctx, eng, src, true, printer(&events))
		if err != nil {
			return err
		}
		if err := saveRecording(eng, rec, st.SessionID); err != nil {
			return err
		}
		return finish(ctx, eng, p, st, events, liveFlags)
	},
}

// liveSource opens the microphone named by --device, wrapped in a
// recorder when --record is set.
func liveSource(cmd *cobra.Command, eng *engine.Engine) (source.Source, *source.Recorder) {
	var dev *int
	if cmd.Flags().Changed("device") {
		dev = &liveDevice
	}
	var src source.Source = eng.LiveSource(dev)
	if !liveRecord {
		return src, nil
	}
	rec := &source.Recorder{}
	return rec.Wrap(src), rec
}

func saveRecording(eng *engine.Engine, rec *source.Recorder, sessionID string) error {
	if rec == nil || rec.Len() == 0 {
		return nil
	}
	files, err := eng.Files()
	if err != nil {
		return err
	}
	p := path.Join(eng.Config().Storage.Recordings, sessionID+".wav")
	if err := rec.Save(context.Background(), files, p); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "✓ recording saved to %s\n", p)
	return nil
}

func init() {
	liveFlags.register(liveCmd)
	liveCmd.Flags().IntVar(&liveDevice, "device", -1, "input device index (see 'voxid devices')")
	liveCmd.Flags().BoolVar(&liveRecord, "record", false, "save the session audio as WAV")
	rootCmd.AddCommand(liveCmd)
}
