package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment overrides, e.g. FORGE_ACCESS.
const EnvPrefix = "FORGE"

// LoadDotEnv loads dir/.env into the process environment when present.
// Variables already set in the environment win.
func LoadDotEnv(dir string) error {
	path := filepath.Join(dir, ".env")
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat .env: %w", err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

// Load reads the JSON config at path, validates it against the schema, applies
// defaults and environment overrides and resolves relative paths against root.
// A missing file is not an error; defaults are used instead.
func Load(path, root string) (Config, error) {
	v := viper.New()
	setDefaults(v, Default())
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" && !filepath.IsAbs(path) {
		path = filepath.Join(root, path)
	}
	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case err == nil:
			var settings map[string]any
			if err := json.Unmarshal(raw, &settings); err != nil {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
			if err := ValidateSettings(settings); err != nil {
				return Config{}, err
			}
			v.SetConfigFile(path)
			v.SetConfigType("json")
			if err := v.ReadInConfig(); err != nil {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		case errors.Is(err, os.ErrNotExist):
			log.Debug().Str("path", path).Msg("config file not found, using defaults")
		default:
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		trimStringsHook(),
		mapstructure.StringToSliceHookFunc(","),
		mapstructure.StringToTimeDurationHookFunc(),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg.Resolve(root), nil
}

func trimStringsHook() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, _ reflect.Type, data any) (any, error) {
		if from.Kind() != reflect.String {
			return data, nil
		}
		return strings.TrimSpace(reflect.ValueOf(data).String()), nil
	}
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("owner_id", d.OwnerID)
	devs := d.Devs
	if devs == nil {
		devs = []int64{}
	}
	v.SetDefault("devs", devs)
	v.SetDefault("access", d.Access)

	v.SetDefault("paths.sandbox", d.Paths.Sandbox)
	v.SetDefault("paths.plugins", d.Paths.Plugins)
	v.SetDefault("paths.data", d.Paths.Data)

	v.SetDefault("quality.pass_score", d.Quality.PassScore)
	v.SetDefault("quality.error_penalty", d.Quality.ErrorPenalty)
	v.SetDefault("quality.warning_penalty", d.Quality.WarningPenalty)
	v.SetDefault("quality.suggestion_penalty", d.Quality.SuggestionPenalty)
	v.SetDefault("quality.required_import", d.Quality.RequiredImport)
	v.SetDefault("quality.entry_point", d.Quality.EntryPoint)
	v.SetDefault("quality.handler_decorator", d.Quality.HandlerDecorator)
	v.SetDefault("quality.tool_timeout", d.Quality.ToolTimeout)

	v.SetDefault("generation.provider", d.Generation.Provider)
	v.SetDefault("generation.model", d.Generation.Model)
	v.SetDefault("generation.api_key", d.Generation.APIKey)
	v.SetDefault("generation.api_key_env", d.Generation.APIKeyEnv)
	v.SetDefault("generation.base_url", d.Generation.BaseURL)
	v.SetDefault("generation.timeout", d.Generation.Timeout)
	v.SetDefault("generation.max_attempts", d.Generation.MaxAttempts)
	v.SetDefault("generation.activity_log", d.Generation.ActivityLog)

	v.SetDefault("memory.window", d.Memory.Window)
	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("retention.keep_last", d.Retention.KeepLast)
	v.SetDefault("retention.keep_days", d.Retention.KeepDays)
}
