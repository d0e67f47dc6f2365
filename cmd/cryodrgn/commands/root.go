package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	version string
	commit  string
	date    string
)

// configPath is the optional YAML configuration consulted by every
// subcommand for defaults. Flags given on the command line win.
var configPath string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "cryodrgn",
	Short: "cryodrgn - Fourier-space backprojection and resolution estimation",
	Long: `cryodrgn reconstructs 3D density maps from aligned cryo-EM particle
images by direct Fourier-space backprojection, and estimates the map
resolution with gold-standard Fourier shell correlation between
independently accumulated half-maps.

Particle images are read from MRC stacks; per-image orientations and
optics parameters come from whitespace-delimited text catalogs.`,
	Version: version,
	RunE: func(cmd *cobra.Command, args []string) error {
		// If no subcommand is specified, show help
		return cmd.Help()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	// Silence Cobra's default error and usage printing.
	// Formatted errors are printed directly by the printer package.
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	return rootCmd.Execute()
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"YAML configuration file supplying parameter defaults")
}
