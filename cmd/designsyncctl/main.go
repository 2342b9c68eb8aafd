// Command designsyncctl drives a running designsync server: it reads and
// writes the canonical parameters, sends zoom commands, manages presets and
// can join the relay as a preview frame.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"designsync/pkg/config"
	"designsync/pkg/version"
)

var (
	serverURL  string
	configPath string
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:           "designsyncctl",
	Short:         "Control a designsync preview server",
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	def := config.DefaultConfig()
	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", "http://"+def.Server.Address, "designsync server base URL")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file for relay settings (watch only)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print raw JSON responses")

	paramsLinkCmd.Flags().BoolVar(&linkFull, "full", false, "spell out every parameter, defaults included")
	paramsCmd.AddCommand(paramsGetCmd, paramsSetCmd, paramsNavigateCmd, paramsLinkCmd)
	presetsCmd.AddCommand(presetsListCmd, presetsSaveCmd, presetsApplyCmd, presetsDeleteCmd)
	originsCmd.AddCommand(originsGetCmd, originsSetCmd, originsClearCmd)
	rootCmd.AddCommand(paramsCmd, zoomCmd, presetsCmd, originsCmd, statsCmd, watchCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
