package config

import (
	"fmt"
)

type Config struct {
	Server   ServerConfig
	Provider ProviderConfig
	Ollama   OllamaConfig
	Gemini   GeminiConfig
	Storage  StorageConfig
	Limits   LimitsConfig
	Log      LogConfig
}

type ServerConfig struct {
	Port     int
	APIToken string
}

// ProviderConfig selects which AI backend the orchestrator talks to.
// The choice is made once per process; call sites never branch on it.
type ProviderConfig struct {
	Backend        string // "ollama" or "gemini"
	TimeoutSeconds int
}

type OllamaConfig struct {
	BaseURL string
	Model   string
}

type GeminiConfig struct {
	BaseURL string
	Model   string
	APIKey  string
}

type StorageConfig struct {
	DataDir string
}

type LimitsConfig struct {
	MaxImages         int
	CacheSize         int
	MaxImageDimension int
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4600,
		},
		Provider: ProviderConfig{
			Backend:        "ollama",
			TimeoutSeconds: 60,
		},
		Ollama: OllamaConfig{
			BaseURL: "http://localhost:11434",
			Model:   "gemma3:4b",
		},
		Gemini: GeminiConfig{
			BaseURL: "https://generativelanguage.googleapis.com",
			Model:   "gemini-2.5-flash-lite",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Limits: LimitsConfig{
			MaxImages:         20,
			CacheSize:         50,
			MaxImageDimension: 3000,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the JSON config file at
// $XDG_CONFIG_HOME/atelis/config.json, then applies ATELIS_* environment
// variable overrides. Defaults cover everything that is not set.
func Load() (Config, error) {
	return loadWith(newFileBackend(configFilePath()))
}

func loadWith(b Backend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if err := validate(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func validate(cfg Config) error {
	switch cfg.Provider.Backend {
	case "ollama":
	case "gemini":
		if cfg.Gemini.APIKey == "" {
			return fmt.Errorf("missing required config: Gemini API key. " +
				"Set it via environment variable ATELIS_GEMINI_API_KEY")
		}
	default:
		return fmt.Errorf("unknown provider backend %q (expected \"ollama\" or \"gemini\")", cfg.Provider.Backend)
	}

	if cfg.Provider.TimeoutSeconds <= 0 {
		return fmt.Errorf("provider.timeout_seconds must be positive, got %d", cfg.Provider.TimeoutSeconds)
	}

	return nil
}
