package commands

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/haivivi/voxid/cmd/voxid/internal/config"
	"github.com/haivivi/voxid/cmd/voxid/internal/engine"
	"github.com/haivivi/voxid/pkg/cli"
)

// homeEnv overrides the OS config directory, mainly for tests.
const homeEnv = "VOXID_HOME"

var (
	// Global flags
	verbose      bool
	configFile   string
	outputFormat string
	jqExpr       string

	logger = slog.Default()
)

var rootCmd = &cobra.Command{
	Use:   "voxid",
	Short: "On-device speech transcription with speaker identification",
	Long: `voxid - transcribe speech and tell speakers apart, entirely on device.

Audio is segmented by a voice activity detector; each segment is
transcribed and matched against a library of known voices. Unknown
voices can be named after a session and are recognised from then on.

Configuration is read from voxid.yaml in the OS config directory:
  macOS:   ~/Library/Application Support/voxid/
  Linux:   ~/.config/voxid/
  Windows: %AppData%/voxid/

Examples:
  # Write a default configuration, then edit models.dir
  voxid config init

  # Transcribe a meeting recording and name the new voices
  voxid transcribe meeting.wav --name-speakers

  # Live transcription from the default microphone
  voxid live

  # List known speakers as JSON names only
  voxid speakers list -o json --jq '.[].name'`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
		slog.SetDefault(logger)
		return nil
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default <config dir>/voxid/voxid.yaml)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "text", "output format: text, json or yaml")
	rootCmd.PersistentFlags().StringVar(&jqExpr, "jq", "", "jq expression applied to structured output")
}

// appPaths returns the voxid directory layout.
func appPaths() (*cli.Paths, error) {
	if dir := os.Getenv(homeEnv); dir != "" {
		return &cli.Paths{AppName: "voxid", ConfigDir: dir}, nil
	}
	return cli.NewPaths("voxid")
}

// loadConfig loads the configuration named by --config, or the default
// file.
func loadConfig() (*config.Config, *cli.Paths, error) {
	paths, err := appPaths()
	if err != nil {
		return nil, nil, err
	}
	path := configFile
	if path == "" {
		path = paths.ConfigFile()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}
	return cfg, paths, nil
}

// openEngine loads the configuration and returns an engine over it.
func openEngine() (*engine.Engine, error) {
	cfg, paths, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger.Debug("voxid: config loaded", "path", cfg.Path(), "backend", cfg.Backend.Kind)
	return engine.New(cfg, paths, logger), nil
}

// output writes v in the --output format, filtered by --jq.
func output(v any) error {
	format, err := cli.ParseFormat(outputFormat)
	if err != nil {
		return err
	}
	return cli.Output(v, cli.OutputOptions{Format: format, JQ: jqExpr})
}

// structured reports whether --output asks for JSON or YAML.
func structured() bool {
	f, err := cli.ParseFormat(outputFormat)
	return err == nil && f != cli.FormatText
}

func styles() cli.Styles {
	return cli.NewStyles(cli.DefaultTheme)
}
