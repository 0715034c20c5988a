package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Load loads configuration from a layered set of sources.
//
// The loading order is:
//  1. Built-in defaults
//  2. YAML config file (explicit path, KREIDE_CONFIG env, ./kreide.yaml,
//     /etc/kreide/config.yaml)
//  3. Environment variable overrides
//  4. File reference resolution (_file suffix)
//  5. Validation
func Load(configPath string) (*Config, error) {
	cfg := Defaults()

	filePath := discoverConfigFile(configPath)
	if filePath != "" {
		if err := loadYAMLFile(filePath, &cfg); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", filePath, err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := resolveFileReferences(&cfg); err != nil {
		return nil, fmt.Errorf("resolving file references: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return &cfg, nil
}

// discoverConfigFile finds the config file path using the discovery order:
// 1. Explicit configPath argument
// 2. KREIDE_CONFIG environment variable
// 3. ./kreide.yaml in the current directory
// 4. /etc/kreide/config.yaml
//
// Returns empty string if no config file is found.
func discoverConfigFile(configPath string) string {
	if configPath != "" {
		return configPath
	}

	if envPath := os.Getenv("KREIDE_CONFIG"); envPath != "" {
		return envPath
	}

	candidates := []string{
		"kreide.yaml",
		"/etc/kreide/config.yaml",
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// loadYAMLFile reads and parses a YAML file into the Config struct.
// Fields not present in the YAML retain their current (default) values.
func loadYAMLFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// applyEnvOverrides maps environment variables to config fields. The
// conventional OPENAI_BASE_URL, OPENAI_API_KEY, and MODEL variables are
// honored alongside the KREIDE_* names; KREIDE_* wins when both are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("OPENAI_BASE_URL"); v != "" {
		cfg.Chat.BaseURL = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.Chat.APIKey = v
	}
	if v := os.Getenv("MODEL"); v != "" {
		cfg.Chat.Model = v
	}

	if v := os.Getenv("KREIDE_CHAT_URL"); v != "" {
		cfg.Chat.BaseURL = v
	}
	if v := os.Getenv("KREIDE_CHAT_API_KEY"); v != "" {
		cfg.Chat.APIKey = v
	}
	if v := os.Getenv("KREIDE_MODEL"); v != "" {
		cfg.Chat.Model = v
	}
	if v := os.Getenv("KREIDE_CHAT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Chat.Timeout = d
		}
	}

	if v := os.Getenv("KREIDE_SANDBOX_MODE"); v != "" {
		cfg.Sandbox.Mode = v
	}
	if v := os.Getenv("KREIDE_SANDBOX_URL"); v != "" {
		cfg.Sandbox.URL = v
	}
	if v := os.Getenv("KREIDE_SANDBOX_SECRET"); v != "" {
		cfg.Sandbox.Secret = v
	}
	if v := os.Getenv("KREIDE_SANDBOX_TEMPLATE"); v != "" {
		cfg.Sandbox.Kubernetes.Template = v
	}
	if v := os.Getenv("KREIDE_SANDBOX_NAMESPACE"); v != "" {
		cfg.Sandbox.Kubernetes.Namespace = v
	}

	if v := os.Getenv("KREIDE_STORAGE"); v != "" {
		cfg.Storage.Type = v
	}
	if v := os.Getenv("KREIDE_POSTGRES_DSN"); v != "" {
		cfg.Storage.Postgres.DSN = v
	}

	if v := os.Getenv("KREIDE_OUTPUT_DIR"); v != "" {
		cfg.Output.Dir = v
	}
	if v := os.Getenv("KREIDE_IMAGE_FILE"); v != "" {
		cfg.Output.ImageFile = v
	}
}

// resolveFileReferences reads _file fields and populates the corresponding
// value fields. For each field ending in _file, if the value field is empty
// and the file field is set, the file is read, whitespace is trimmed, and
// the value field is populated.
func resolveFileReferences(cfg *Config) error {
	if cfg.Chat.APIKeyFile != "" && cfg.Chat.APIKey == "" {
		val, err := readSecretFile(cfg.Chat.APIKeyFile)
		if err != nil {
			return fmt.Errorf("chat.api_key_file: %w", err)
		}
		cfg.Chat.APIKey = val
	}

	if cfg.Sandbox.SecretFile != "" && cfg.Sandbox.Secret == "" {
		val, err := readSecretFile(cfg.Sandbox.SecretFile)
		if err != nil {
			return fmt.Errorf("sandbox.secret_file: %w", err)
		}
		cfg.Sandbox.Secret = val
	}

	if cfg.Storage.Postgres.DSNFile != "" && cfg.Storage.Postgres.DSN == "" {
		val, err := readSecretFile(cfg.Storage.Postgres.DSNFile)
		if err != nil {
			return fmt.Errorf("storage.postgres.dsn_file: %w", err)
		}
		cfg.Storage.Postgres.DSN = val
	}

	return nil
}

// readSecretFile reads a file and returns its content with surrounding
// whitespace trimmed.
func readSecretFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
