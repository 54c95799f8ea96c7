package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/haivivi/voxid/pkg/audio/source"
	"github.com/haivivi/voxid/pkg/eventstream"
	"github.com/haivivi/voxid/pkg/pipeline"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve [FILE]",
	Short: "Run a live session and stream events to websocket clients",
	Long: `Run a session and publish every transcript event as JSON on a
websocket endpoint. Without FILE the microphone is captured; with FILE
the recording is played at real-time pace.

Endpoints:
  /events   websocket, one JSON event per message
  /healthz  returns 200 while the session runs

Examples:
  voxid serve --addr :8088
  voxid serve demo.wav`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := openEngine()
		if err != nil {
			return err
		}
		defer eng.Close()
		cfg := eng.Config()
		addr := cfg.Serve.Addr
		if cmd.Flags().Changed("addr") {
			addr = serveAddr
		}

		ctx, stop := signalContext(cmd)
		defer stop()

		var (
			src source.Source
			rec *source.Recorder
		)
		if len(args) == 1 {
			cfg.Audio.Realtime = true
			src = eng.FileSource(args[0])
		} else {
			src, rec = liveSource(cmd, eng)
		}

		hub := eventstream.NewHub(eventstream.Options{Backlog: cfg.Serve.Backlog, Logger: logger})
		mux := http.NewServeMux()
		mux.Handle("/events", hub)
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			fmt.Fprintln(w, "ok")
		})
		srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		srvErr := make(chan error, 1)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				srvErr <- err
				stop()
			}
		}()
		fmt.Fprintf(os.Stderr, "Streaming events on ws://%s/events. Press Ctrl-C to stop.\n", addr)

		var events []pipeline.Event
		show := printer(&events)
		_, st, runErr := runSession(ctx, eng, src, len(args) == 0, func(ev pipeline.Event) {
			show(ev)
			hub.Publish(ev)
		})

		hub.Close()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)

		select {
		case err := <-srvErr:
			return fmt.Errorf("serve %s: %w", addr, err)
		default:
		}
		if runErr != nil {
			return runErr
		}
		if err := saveRecording(eng, rec, st.SessionID); err != nil {
			return err
		}
		if structured() {
			return output(sessionResult{Events: events, Stats: st})
		}
		fmt.Fprintln(os.Stderr, styles().Summary(*st))
		return nil
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8088", "listen address")
	serveCmd.Flags().IntVar(&liveDevice, "device", -1, "input device index when capturing the microphone")
	rootCmd.AddCommand(serveCmd)
}
