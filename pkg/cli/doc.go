// Package cli provides shared helpers for the voxid command line.
//
// This package includes:
//   - Output formatting (YAML, JSON, text) with an optional jq filter
//   - The on-disk layout under the OS config directory
//   - Styled transcript lines and session summaries
//
// Example usage:
//
//	paths, err := cli.NewPaths("voxid")
//	files, err := storage.NewLocal(paths.DataDir())
//
//	cli.Output(profiles, cli.OutputOptions{
//	    Format: cli.FormatJSON,
//	    JQ:     ".[].name",
//	})
package cli
