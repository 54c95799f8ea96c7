package commands

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/haivivi/voxid/pkg/cli"
	"github.com/haivivi/voxid/pkg/pipeline"
	"github.com/haivivi/voxid/pkg/speaker"
	"github.com/haivivi/voxid/pkg/storage"
	"github.com/haivivi/voxid/pkg/voiceprint"
)

// speakerRow is the listing form of a profile.
type speakerRow struct {
	Name     string  `json:"name" yaml:"name"`
	Core     int     `json:"core" yaml:"core"`
	Boundary int     `json:"boundary" yaml:"boundary"`
	StdDev   float64 `json:"stdDev" yaml:"stdDev"`
}

// speakerDetail is the structured form of 'speakers show'.
type speakerDetail struct {
	Row       speakerRow `json:"speaker" yaml:"speaker"`
	Distances []float64  `json:"distances" yaml:"distances"`
}

func rowOf(p *speaker.Profile) speakerRow {
	return speakerRow{Name: p.Name, Core: len(p.Core), Boundary: len(p.Boundary), StdDev: p.StdDev}
}

var speakersCmd = &cobra.Command{
	Use:     "speakers",
	Aliases: []string{"speaker", "sp"},
	Short:   "Manage the library of known voices",
}

var speakersListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List known speakers",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := openEngine()
		if err != nil {
			return err
		}
		defer eng.Close()
		lib, err := eng.Library(cmd.Context())
		if err != nil {
			return err
		}

		rows := []speakerRow{}
		for _, p := range lib.Snapshot() {
			rows = append(rows, rowOf(p))
		}
		if structured() {
			return output(rows)
		}
		if len(rows) == 0 {
			fmt.Println("No speakers yet. Use 'voxid speakers enroll' or 'voxid transcribe --name-speakers'.")
			return nil
		}
		for _, r := range rows {
			fmt.Printf("%-20s core %d  boundary %d  σ %.3f\n", r.Name, r.Core, r.Boundary, r.StdDev)
		}
		return nil
	},
}

var speakersShowCmd = &cobra.Command{
	Use:   "show NAME",
	Short: "Show one speaker's profile statistics",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := openEngine()
		if err != nil {
			return err
		}
		defer eng.Close()
		lib, err := eng.Library(cmd.Context())
		if err != nil {
			return err
		}
		p, ok := lib.Get(args[0])
		if !ok {
			return fmt.Errorf("%w: %s", speaker.ErrSpeakerNotFound, args[0])
		}
		if structured() {
			return output(speakerDetail{Row: rowOf(p), Distances: p.Distances})
		}
		fmt.Println(p.String())
		return nil
	},
}

var enrollName string

var speakersEnrollCmd = &cobra.Command{
	Use:   "enroll FILE --name NAME",
	Short: "Add a speaker from a recording of their voice",
	Long: `Enroll a speaker from a recording that contains only their voice.

The recording is split into speech segments; the most diverse segment
embeddings are stored. Enrolling an existing name adds to their
profile.

Examples:
  voxid speakers enroll alice.wav --name Alice`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if enrollName == "" {
			return speaker.ErrEmptyName
		}
		eng, err := openEngine()
		if err != nil {
			return err
		}
		defer eng.Close()
		ctx, stop := signalContext(cmd)
		defer stop()

		var c pipeline.Components
		if c.VAD, err = eng.Scorer(); err != nil {
			return err
		}
		if c.Features, err = eng.Features(); err != nil {
			return err
		}
		if c.Embedder, err = eng.Embedder(); err != nil {
			return err
		}
		embs, err := pipeline.Enroll(ctx, eng.FileSource(args[0]), c, eng.Config().VAD.Config)
		if err != nil {
			return err
		}
		if len(embs) == 0 {
			return fmt.Errorf("enroll: no speech found in %s", args[0])
		}

		lib, err := eng.Library(ctx)
		if err != nil {
			return err
		}
		n, err := addEmbeddings(lib, enrollName, voiceprint.SelectDiverse(embs, pipeline.DefaultNameSamples))
		if err != nil {
			return err
		}
		if err := lib.Flush(context.WithoutCancel(ctx)); err != nil {
			return err
		}
		cli.PrintSuccess("enrolled %s: %d of %d segments stored", enrollName, n, len(embs))
		return nil
	},
}

// addEmbeddings creates name from embs, or adds embs to name when it
// already exists. It returns how many embeddings were stored.
func addEmbeddings(lib *speaker.Library, name string, embs [][]float32) (int, error) {
	if _, ok := lib.Get(name); !ok {
		p, err := lib.AddSpeaker(name, embs...)
		if err != nil {
			return 0, err
		}
		return p.Len(), nil
	}
	n := 0
	for _, e := range embs {
		pl, err := lib.AddEmbedding(name, e, false)
		if err != nil {
			return n, err
		}
		if pl != speaker.Rejected {
			n++
		}
	}
	return n, nil
}

var speakersRenameCmd = &cobra.Command{
	Use:   "rename OLD NEW",
	Short: "Rename a speaker",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return editLibrary(cmd, func(lib *speaker.Library) error {
			if err := lib.Rename(args[0], args[1]); err != nil {
				return err
			}
			cli.PrintSuccess("renamed %s to %s", args[0], args[1])
			return nil
		})
	},
}

var speakersRemoveCmd = &cobra.Command{
	Use:     "remove NAME",
	Aliases: []string{"rm"},
	Short:   "Forget a speaker",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return editLibrary(cmd, func(lib *speaker.Library) error {
			if err := lib.Remove(args[0]); err != nil {
				return err
			}
			cli.PrintSuccess("removed %s", args[0])
			return nil
		})
	},
}

var speakersExportCmd = &cobra.Command{
	Use:   "export FILE",
	Short: "Write the library to a JSON file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := openEngine()
		if err != nil {
			return err
		}
		defer eng.Close()
		lib, err := eng.Library(cmd.Context())
		if err != nil {
			return err
		}
		store, err := fileStore(args[0])
		if err != nil {
			return err
		}
		ps := lib.Snapshot()
		if err := store.Save(cmd.Context(), ps); err != nil {
			return err
		}
		cli.PrintSuccess("exported %d speakers to %s", len(ps), args[0])
		return nil
	},
}

var speakersImportCmd = &cobra.Command{
	Use:   "import FILE",
	Short: "Merge speakers from a JSON file into the library",
	Long: `Merge speakers from a library file written by 'voxid speakers export'.

New names are added as they are. Embeddings of names already in the
library are classified into the existing profile.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := fileStore(args[0])
		if err != nil {
			return err
		}
		ps, err := store.Load(cmd.Context(), speaker.ProfileConfig{})
		if err != nil {
			return err
		}
		if len(ps) == 0 {
			return fmt.Errorf("import: no speakers in %s", args[0])
		}
		return editLibrary(cmd, func(lib *speaker.Library) error {
			for _, p := range ps {
				n, err := addEmbeddings(lib, p.Name, p.All())
				if err != nil {
					return err
				}
				logger.Debug("voxid: imported speaker", "name", p.Name, "stored", n, "of", p.Len())
			}
			cli.PrintSuccess("imported %d speakers from %s", len(ps), args[0])
			return nil
		})
	},
}

// fileStore returns a JSON store for an export file on the local disk.
func fileStore(path string) (*speaker.JSONStore, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	local, err := storage.NewLocal(filepath.Dir(abs))
	if err != nil {
		return nil, err
	}
	return speaker.NewJSONStore(local, filepath.Base(abs)).WithLogger(logger), nil
}

// editLibrary applies fn to the library and saves it.
func editLibrary(cmd *cobra.Command, fn func(*speaker.Library) error) error {
	eng, err := openEngine()
	if err != nil {
		return err
	}
	defer eng.Close()
	lib, err := eng.Library(cmd.Context())
	if err != nil {
		return err
	}
	if err := fn(lib); err != nil {
		return err
	}
	return lib.Flush(cmd.Context())
}

func init() {
	speakersEnrollCmd.Flags().StringVar(&enrollName, "name", "", "speaker name (required)")
	speakersEnrollCmd.MarkFlagRequired("name")

	speakersCmd.AddCommand(speakersListCmd)
	speakersCmd.AddCommand(speakersShowCmd)
	speakersCmd.AddCommand(speakersEnrollCmd)
	speakersCmd.AddCommand(speakersRenameCmd)
	speakersCmd.AddCommand(speakersRemoveCmd)
	speakersCmd.AddCommand(speakersExportCmd)
	speakersCmd.AddCommand(speakersImportCmd)
	rootCmd.AddCommand(speakersCmd)
}
