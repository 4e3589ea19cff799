package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	// Version info (set by build)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"

	cfgFile string
	dryRun  bool
)

var rootCmd = &cobra.Command{
	Use:   "extenderd",
	Short: "Wi-Fi range extender control plane",
	Long: `extenderd brings up the access point, joins the upstream network and
serves the admin web interface used to change both.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML)")
	rootCmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "log system commands instead of running them")

	serve := newServeCmd()
	rootCmd.RunE = serve.RunE
	rootCmd.AddCommand(
		serve,
		newReconcileCmd(),
		newPasswdCmd(),
		newVersionCmd(),
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
