package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/metalagman/forge/internal/config"
	"github.com/metalagman/forge/internal/logging"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const defaultConfigPath = ".forge/config.json"

var (
	cfgFile string
	debug   bool
	rootCmd = &cobra.Command{
		Use:           "forge",
		Short:         "forge builds, gates and promotes bot plugins from chat messages",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

// Execute runs the root command.
func Execute() error {
	cobra.OnInitialize(loadEnv)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", filepath.FromSlash(defaultConfigPath), "config file path")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	if err := viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config")); err != nil {
		return fmt.Errorf("bind config flag: %w", err)
	}
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		logging.Init(debug)
	}
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(chatCmd())
	rootCmd.AddCommand(replCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(diffCmd())
	rootCmd.AddCommand(checkCmd())
	rootCmd.AddCommand(fixCmd())
	rootCmd.AddCommand(pluginsCmd())
	return rootCmd.Execute()
}

// loadEnv reads .env from the working directory before any config is loaded.
func loadEnv() {
	wd, err := os.Getwd()
	if err != nil {
		return
	}
	if err := config.LoadDotEnv(wd); err != nil {
		log.Warn().Err(err).Msg("skip .env")
	}
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
}
