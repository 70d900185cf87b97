package config

import (
	"fmt"
	"strconv"
	"strings"
)

// KeyInfo is one config entry as listed by `atelis config show`.
type KeyInfo struct {
	Key   string
	Value string
}

// ShowAll returns every editable key with its effective value. Secrets are
// left out entirely rather than masked.
func ShowAll(cfg Config) []KeyInfo {
	var out []KeyInfo
	for _, s := range specs {
		if s.secret {
			continue
		}
		out = append(out, KeyInfo{Key: s.key, Value: fmt.Sprintf("%v", s.extract(cfg))})
	}
	return out
}

// SetKey writes one key to the config file. Unknown keys report the full
// editable key set in the error.
func SetKey(key, value string) error {
	s, ok := findSpec(key)
	if !ok {
		return fmt.Errorf("unknown config key %q (valid keys: %s)", key, strings.Join(ValidKeys(), ", "))
	}
	if s.secret {
		return fmt.Errorf("cannot set secret %q via config; use environment variable %s", key, s.env)
	}

	b := newFileBackend(configFilePath())
	if s.typ == kInt {
		i, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid integer value for %s: %w", key, err)
		}
		return b.SetInt(key, i)
	}
	return b.SetString(key, value)
}

// ValidKeys lists the non-secret key names in declaration order.
func ValidKeys() []string {
	keys := make([]string, 0, len(specs))
	for _, s := range specs {
		if !s.secret {
			keys = append(keys, s.key)
		}
	}
	return keys
}

func findSpec(key string) (keySpec, bool) {
	for _, s := range specs {
		if s.key == key {
			return s, true
		}
	}
	return keySpec{}, false
}
