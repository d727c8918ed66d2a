// Package commands implements the skim CLI.
package commands

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/tliron/commonlog"

	_ "github.com/tliron/commonlog/simple"
)

var (
	configPath string
	verbosity  int

	log = commonlog.GetLogger("skim")
)

var rootCmd = &cobra.Command{
	Use:   "skim",
	Short: "Run and inspect skim VM images",
	Long: `skim executes compiled bytecode images on the skim virtual machine
and manages the local image store.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		commonlog.Configure(verbosity, nil)
	},
	SilenceUsage: true,
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"path to skim.toml (default: ./skim.toml if present)")
	rootCmd.PersistentFlags().IntVarP(&verbosity, "verbose", "v", 0,
		"log verbosity")
}
