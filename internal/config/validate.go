package config

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed schema.json
var schemaJSON string

// ValidateSettings validates raw config settings against the JSON schema.
func ValidateSettings(settings map[string]any) error {
	schemaLoader := gojsonschema.NewStringLoader(schemaJSON)
	documentLoader := gojsonschema.NewGoLoader(settings)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return fmt.Errorf("validate config schema: %w", err)
	}
	if result.Valid() {
		return nil
	}

	errs := make([]string, 0, len(result.Errors()))
	for _, schemaErr := range result.Errors() {
		errs = append(errs, schemaErr.String())
	}
	sort.Strings(errs)

	return fmt.Errorf("config schema validation failed: %s", strings.Join(errs, "; "))
}

// Validate checks cross-field rules the schema cannot express.
func (c Config) Validate() error {
	switch c.Access {
	case AccessDev, AccessPublic:
	default:
		return fmt.Errorf("access must be %q or %q, got %q", AccessDev, AccessPublic, c.Access)
	}
	if c.Paths.Sandbox == "" || c.Paths.Plugins == "" {
		return fmt.Errorf("paths.sandbox and paths.plugins are required")
	}
	if c.Paths.Sandbox == c.Paths.Plugins {
		return fmt.Errorf("paths.sandbox and paths.plugins must differ")
	}
	if c.Quality.PassScore < 0 || c.Quality.PassScore > 100 {
		return fmt.Errorf("quality.pass_score must be within [0,100]")
	}
	switch c.Generation.Provider {
	case ProviderGemini, ProviderOpenAI:
	default:
		return fmt.Errorf("unknown generation provider %q", c.Generation.Provider)
	}
	return nil
}
