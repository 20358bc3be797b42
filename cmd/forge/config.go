package main

import (
	"os"

	"github.com/metalagman/forge/internal/config"
	"github.com/spf13/viper"
)

// loadConfig reads the config named by --config, relative to root.
func loadConfig(root string) (config.Config, error) {
	path := viper.GetString("config")
	if path == "" {
		path = defaultConfigPath
	}
	return config.Load(path, root)
}

func workDir() (string, error) {
	return os.Getwd()
}
