// Package cmd wires the logmesh CLI.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/logmesh/logmesh/internal/config"
)

var (
	cfgFile string
	verbose bool
)

// rootCmd is the base command when called without subcommands.
var rootCmd = &cobra.Command{
	Use:   "logmesh",
	Short: "logmesh — aggregate and live-monitor logs scattered across alias directories",
	Long: `logmesh aggregates, classifies, and live-monitors text log files spread
across per-user alias directories, often on network shares. It resolves
users and aliases to files, parses lines into structured entries, buckets
errors into categories with remediation hints, and watches directories for
changes with debounced reprocessing.`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default: $HOME/.logmesh.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	rootCmd.PersistentFlags().String("registry", "", "alias registry JSON file")

	_ = viper.BindPFlag("registry.path", rootCmd.PersistentFlags().Lookup("registry"))
}

func initConfig() {
	config.SetDefaults(viper.GetViper())

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.SetConfigName(".logmesh")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("LOGMESH")
	viper.AutomaticEnv()
	_ = viper.ReadInConfig()
}

// newLogger builds the process logger. Serve mode defaults to production
// JSON output; --verbose switches to the development encoder with debug
// level.
func newLogger() (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.DisableStacktrace = true
	return cfg.Build()
}
