// Package config provides configuration loading and management for forge.
package config

import "path/filepath"

// Access modes.
const (
	AccessDev    = "dev"
	AccessPublic = "public"
)

// Generation providers.
const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

// Config is the root configuration.
type Config struct {
	OwnerID    int64            `json:"owner_id"   mapstructure:"owner_id"`
	Devs       []int64          `json:"devs"       mapstructure:"devs"`
	Access     string           `json:"access"     mapstructure:"access"`
	Paths      Paths            `json:"paths"      mapstructure:"paths"`
	Quality    QualityConfig    `json:"quality"    mapstructure:"quality"`
	Generation GenerationConfig `json:"generation" mapstructure:"generation"`
	Memory     MemoryConfig     `json:"memory"     mapstructure:"memory"`
	Server     ServerConfig     `json:"server"     mapstructure:"server"`
	Retention  RetentionPolicy  `json:"retention"  mapstructure:"retention"`
}

// Paths locates the directories forge manages.
type Paths struct {
	Sandbox string `json:"sandbox" mapstructure:"sandbox"`
	Plugins string `json:"plugins" mapstructure:"plugins"`
	Data    string `json:"data"    mapstructure:"data"`
}

// QualityConfig holds the quality gate policy.
type QualityConfig struct {
	PassScore         int    `json:"pass_score"         mapstructure:"pass_score"`
	ErrorPenalty      int    `json:"error_penalty"      mapstructure:"error_penalty"`
	WarningPenalty    int    `json:"warning_penalty"    mapstructure:"warning_penalty"`
	SuggestionPenalty int    `json:"suggestion_penalty" mapstructure:"suggestion_penalty"`
	RequiredImport    string `json:"required_import"    mapstructure:"required_import"`
	EntryPoint        string `json:"entry_point"        mapstructure:"entry_point"`
	HandlerDecorator  string `json:"handler_decorator"  mapstructure:"handler_decorator"`
	ToolTimeout       int    `json:"tool_timeout"       mapstructure:"tool_timeout"`
}

// GenerationConfig describes the model backend.
type GenerationConfig struct {
	Provider    string `json:"provider"               mapstructure:"provider"`
	Model       string `json:"model"                  mapstructure:"model"`
	APIKey      string `json:"api_key,omitempty"      mapstructure:"api_key"`
	// APIKeyEnv names the variable holding the key when APIKey is empty.
	// Empty means GEMINI_API_KEY or OPENAI_API_KEY depending on Provider.
	APIKeyEnv   string `json:"api_key_env,omitempty"  mapstructure:"api_key_env"`
	BaseURL     string `json:"base_url,omitempty"     mapstructure:"base_url"`
	Timeout     int    `json:"timeout,omitempty"      mapstructure:"timeout"`
	MaxAttempts int    `json:"max_attempts,omitempty" mapstructure:"max_attempts"`
	ActivityLog string `json:"activity_log,omitempty" mapstructure:"activity_log"`
}

// MemoryConfig controls how much conversation history feeds generation.
type MemoryConfig struct {
	Window int `json:"window" mapstructure:"window"`
}

// ServerConfig configures the HTTP transport.
type ServerConfig struct {
	Addr string `json:"addr" mapstructure:"addr"`
}

// RetentionPolicy defines which finished task records prune may drop.
type RetentionPolicy struct {
	KeepLast int `json:"keep_last,omitempty" mapstructure:"keep_last"`
	KeepDays int `json:"keep_days,omitempty" mapstructure:"keep_days"`
}

// Default returns the configuration used when a key is absent.
func Default() Config {
	return Config{
		Access: AccessDev,
		Paths: Paths{
			Sandbox: "sandbox",
			Plugins: "plugins",
			Data:    ".forge",
		},
		Quality: QualityConfig{
			PassScore:         70,
			ErrorPenalty:      20,
			WarningPenalty:    10,
			SuggestionPenalty: 5,
			RequiredImport:    "pyrogram",
			EntryPoint:        "register_handlers",
			HandlerDecorator:  "on_message",
			ToolTimeout:       30,
		},
		Generation: GenerationConfig{
			Provider:    ProviderGemini,
			Model:       "gemini-2.5-flash",
			Timeout:     120,
			MaxAttempts: 2,
			ActivityLog: filepath.Join("logs", "ai_activity.log"),
		},
		Memory: MemoryConfig{Window: 5},
		Server: ServerConfig{Addr: ":8080"},
	}
}

// Resolve makes relative paths absolute against root.
func (c Config) Resolve(root string) Config {
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(root, p)
	}
	c.Paths.Sandbox = abs(c.Paths.Sandbox)
	c.Paths.Plugins = abs(c.Paths.Plugins)
	c.Paths.Data = abs(c.Paths.Data)
	if c.Generation.ActivityLog != "" && !filepath.IsAbs(c.Generation.ActivityLog) {
		c.Generation.ActivityLog = filepath.Join(c.Paths.Data, c.Generation.ActivityLog)
	}
	return c
}
