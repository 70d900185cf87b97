package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "ATELIS_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.api_token", typ: kString, env: "ATELIS_SERVER_API_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Server.APIToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.APIToken },
	},
	{
		key: "provider.backend", typ: kString, env: "ATELIS_PROVIDER_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Provider.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.Provider.Backend },
	},
	{
		key: "provider.timeout_seconds", typ: kInt, env: "ATELIS_PROVIDER_TIMEOUT_SECONDS",
		apply:   func(cfg *Config, v any) { cfg.Provider.TimeoutSeconds = v.(int) },
		extract: func(cfg Config) any { return cfg.Provider.TimeoutSeconds },
	},
	{
		key: "ollama.base_url", typ: kString, env: "ATELIS_OLLAMA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.BaseURL },
	},
	{
		key: "ollama.model", typ: kString, env: "ATELIS_OLLAMA_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.Model },
	},
	{
		key: "gemini.base_url", typ: kString, env: "ATELIS_GEMINI_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Gemini.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Gemini.BaseURL },
	},
	{
		key: "gemini.model", typ: kString, env: "ATELIS_GEMINI_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Gemini.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Gemini.Model },
	},
	{
		key: "gemini.api_key", typ: kString, env: "ATELIS_GEMINI_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Gemini.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Gemini.APIKey },
	},
	{
		key: "storage.data_dir", typ: kString, env: "ATELIS_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "limits.max_images", typ: kInt, env: "ATELIS_LIMITS_MAX_IMAGES",
		apply:   func(cfg *Config, v any) { cfg.Limits.MaxImages = v.(int) },
		extract: func(cfg Config) any { return cfg.Limits.MaxImages },
	},
	{
		key: "limits.cache_size", typ: kInt, env: "ATELIS_LIMITS_CACHE_SIZE",
		apply:   func(cfg *Config, v any) { cfg.Limits.CacheSize = v.(int) },
		extract: func(cfg Config) any { return cfg.Limits.CacheSize },
	},
	{
		key: "limits.max_image_dimension", typ: kInt, env: "ATELIS_LIMITS_MAX_IMAGE_DIMENSION",
		apply:   func(cfg *Config, v any) { cfg.Limits.MaxImageDimension = v.(int) },
		extract: func(cfg Config) any { return cfg.Limits.MaxImageDimension },
	},
	{
		key: "log.level", typ: kString, env: "ATELIS_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b Backend) error {
	for _, s := range specs {
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
