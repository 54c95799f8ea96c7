package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/haivivi/voxid/pkg/audio/portaudio"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List audio input devices",
	Long: `List the audio input devices available for 'voxid live'.

The index is what --device and audio.device expect; the default device
is marked with '*'.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		devs, err := portaudio.Devices()
		if err != nil {
			return err
		}
		if structured() {
			if devs == nil {
				devs = []portaudio.DeviceInfo{}
			}
			return output(devs)
		}
		if len(devs) == 0 {
			fmt.Println("No input devices found.")
			return nil
		}
		for _, d := range devs {
			mark := " "
			if d.IsDefault {
				mark = "*"
			}
			fmt.Printf("%s %2d  %-40s %d ch  %.0f Hz  %s\n",
				mark, d.Index, d.Name, d.MaxInputChannels, d.DefaultSampleRate, d.HostAPI)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(devicesCmd)
}
