package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/metalagman/forge/internal/config"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize a forge workspace",
		Long:  "Initialize a forge workspace by creating the data, sandbox and plugins directories and installing a default config.",
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := workDir()
			if err != nil {
				return err
			}
			if err := initWorkspace(root, viper.GetString("config")); err != nil {
				return err
			}
			fmt.Println("forge initialized successfully")
			return nil
		},
	}
}

func initWorkspace(root, configPath string) error {
	if configPath == "" {
		configPath = defaultConfigPath
	}
	if !filepath.IsAbs(configPath) {
		configPath = filepath.Join(root, configPath)
	}

	_, err := os.Stat(configPath)
	switch {
	case err == nil:
		log.Info().Str("path", configPath).Msg("config already exists, skipping")
	case errors.Is(err, os.ErrNotExist):
		log.Info().Str("path", configPath).Msg("installing default config")
		data, err := defaultConfigJSON()
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
		if err := os.WriteFile(configPath, data, 0o644); err != nil {
			return fmt.Errorf("write default config: %w", err)
		}
	default:
		return fmt.Errorf("stat config: %w", err)
	}

	cfg, err := config.Load(configPath, root)
	if err != nil {
		return err
	}
	for _, dir := range []string{
		cfg.Paths.Data,
		filepath.Join(cfg.Paths.Data, "locks"),
		cfg.Paths.Sandbox,
		cfg.Paths.Plugins,
	} {
		log.Debug().Str("dir", dir).Msg("creating directory")
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

func defaultConfigJSON() ([]byte, error) {
	cfg := config.Default()
	cfg.Devs = []int64{}
	cfg.Retention = config.RetentionPolicy{KeepLast: 200, KeepDays: 30}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal default config: %w", err)
	}
	return append(data, '\n'), nil
}
