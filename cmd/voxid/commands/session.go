package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/haivivi/voxid/cmd/voxid/internal/engine"
	"github.com/haivivi/voxid/pkg/audio/source"
	"github.com/haivivi/voxid/pkg/cli"
	"github.com/haivivi/voxid/pkg/pipeline"
	"github.com/haivivi/voxid/pkg/speaker"
)

// sessionFlags are the post-session options shared by transcribe and
// live.
type sessionFlags struct {
	nameSpeakers bool
	review       bool
}

func (f *sessionFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&f.nameSpeakers, "name-speakers", false, "after the session, prompt for names of frequent unknown voices")
	cmd.Flags().BoolVar(&f.review, "review", false, "after the session, learn medium confidence matches and confirm outliers")
}

// sessionResult is the structured output of a session.
type sessionResult struct {
	Events []pipeline.Event `json:"events" yaml:"events"`
	Stats  *pipeline.Stats  `json:"stats" yaml:"stats"`
}

// signalContext is cancelled on Ctrl-C or SIGTERM.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}

// runSession runs one pipeline session over src, calling onEvent for every
// event as it is emitted.
func runSession(ctx context.Context, eng *engine.Engine, src source.Source, live bool, onEvent func(pipeline.Event)) (*pipeline.Pipeline, *pipeline.Stats, error) {
	c, err := eng.Components(ctx)
	if err != nil {
		return nil, nil, err
	}
	p, err := pipeline.New(eng.Config().Session(live, logger), c)
	if err != nil {
		return nil, nil, err
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range p.Events() {
			onEvent(ev)
		}
	}()
	st, err := p.Run(ctx, src)
	<-done
	if errors.Is(err, source.ErrPermissionDenied) {
		return p, st, fmt.Errorf("%w: grant microphone access to this terminal in the system privacy settings", err)
	}
	return p, st, err
}

// printer returns an event callback for text output. Structured output
// is collected instead and written once the session ends.
func printer(events *[]pipeline.Event) func(pipeline.Event) {
	if structured() {
		return func(ev pipeline.Event) { *events = append(*events, ev) }
	}
	s := styles()
	return func(ev pipeline.Event) {
		*events = append(*events, ev)
		fmt.Println(s.Event(ev))
	}
}

// finish writes the session output and runs the post-session steps.
func finish(ctx context.Context, eng *engine.Engine, p *pipeline.Pipeline, st *pipeline.Stats, events []pipeline.Event, f sessionFlags) error {
	if structured() {
		if err := output(sessionResult{Events: events, Stats: st}); err != nil {
			return err
		}
	} else {
		fmt.Fprintln(os.Stderr, styles().Summary(*st))
	}
	if !f.nameSpeakers && !f.review {
		return nil
	}

	lib, err := eng.Library(ctx)
	if err != nil {
		return err
	}
	recs := p.Records()
	in := bufio.NewReader(os.Stdin)
	if f.review {
		if err := reviewMedium(lib, recs, in, os.Stderr); err != nil {
			return err
		}
	}
	if f.nameSpeakers {
		if err := nameSpeakers(eng, lib, recs, in, os.Stderr); err != nil {
			return err
		}
	}
	return lib.Flush(context.WithoutCancel(ctx))
}

// prompt writes question to w and reads one trimmed line. io.EOF is
// returned when input ends.
func prompt(in *bufio.Reader, w io.Writer, question string) (string, error) {
	fmt.Fprint(w, question)
	line, err := in.ReadString('\n')
	if err != nil && (line == "" || !errors.Is(err, io.EOF)) {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func nameSpeakers(eng *engine.Engine, lib *speaker.Library, recs []pipeline.Record, in *bufio.Reader, w io.Writer) error {
	cfg := eng.Config()
	clusters := pipeline.Frequent(pipeline.ClusterUnknowns(recs, cfg.Clustering()), cfg.Speaker.Cluster.MinSegments)
	if len(clusters) == 0 {
		fmt.Fprintln(w, "No frequent unknown voices.")
		return nil
	}
	for _, c := range clusters {
		sample := recs[c.Records[0]].Event.Text
		name, err := prompt(in, w, fmt.Sprintf("%s: %d segments, %s, e.g. %q\nName (empty to skip): ",
			c.Label, len(c.Records), cli.FormatDuration(c.Duration), sample))
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if name == "" {
			continue
		}
		n, err := pipeline.NameCluster(lib, name, recs, c, 0)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "✓ saved %d embeddings for %s\n", n, name)
	}
	return nil
}

func reviewMedium(lib *speaker.Library, recs []pipeline.Record, in *bufio.Reader, w io.Writer) error {
	rv := pipeline.ReviewMedium(lib, recs, 0)
	fmt.Fprintf(w, "Learned %d medium confidence embeddings.\n", rv.Learned)
	for _, o := range rv.Outliers {
		ev := recs[o.Record].Event
		answer, err := prompt(in, w, fmt.Sprintf("%s %q matched %s at %.1f sigma. Is this %s? [y/N] ",
			cli.FormatTimestamp(ev.Start.Duration()), ev.Text, o.Speaker, o.Sigma, o.Speaker))
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if !strings.EqualFold(answer, "y") && !strings.EqualFold(answer, "yes") {
			continue
		}
		if _, err := pipeline.ConfirmOutlier(lib, recs, o); err != nil {
			return err
		}
	}
	return nil
}
