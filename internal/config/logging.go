package config

// LoggingConfig configures the categorized debug logger. The logging package
// reads this section directly from .synapse/config.yaml to avoid a circular
// import; the struct here exists so the full config round-trips.
type LoggingConfig struct {
	// DebugMode enables file logging. When false nothing is written.
	DebugMode bool `yaml:"debug_mode"`

	// Categories toggles individual log categories. Empty means all.
	Categories map[string]bool `yaml:"categories"`

	// Level: debug, info, warn, error.
	Level string `yaml:"level"`
}
