package config

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *ComposerConfig {
	return &ComposerConfig{
		DefaultFlow: "series",
		Concurrency: 0,
		Composefile: "composer.yaml",
		Shell:       "sh",
		Watch: WatchConfig{
			DebounceMS: 100,
		},
		Tracing: TracingConfig{
			Output: "stderr",
		},
	}
}
