// Package config provides unified configuration for the kreide runner.
//
// Configuration is loaded with a layered approach:
//  1. Built-in defaults
//  2. YAML config file (discovered or explicitly specified)
//  3. Environment variable overrides (KREIDE_ prefix, plus the
//     conventional OPENAI_BASE_URL / OPENAI_API_KEY / MODEL variables)
//  4. File reference resolution (_file suffix fields)
//  5. Validation
package config

import "time"

// Config holds all configuration for the kreide runner.
type Config struct {
	Chat    ChatConfig    `yaml:"chat"`
	Sandbox SandboxConfig `yaml:"sandbox"`
	Storage StorageConfig `yaml:"storage"`
	Output  OutputConfig  `yaml:"output"`
}

// ChatConfig holds chat backend settings.
type ChatConfig struct {
	BaseURL    string        `yaml:"base_url"`     // required
	APIKey     string        `yaml:"api_key"`      // optional
	APIKeyFile string        `yaml:"api_key_file"` // _file variant for api_key
	Model      string        `yaml:"model"`        // default: "gpt-4o"
	Timeout    time.Duration `yaml:"timeout"`      // default: 120s
}

// SandboxConfig holds sandbox acquisition settings.
type SandboxConfig struct {
	// Mode selects how sandboxes are acquired: "static" or "kubernetes".
	Mode string `yaml:"mode"` // default: "static"

	// URL is the sandbox server address for static mode.
	URL string `yaml:"url"` // default: "http://localhost:8090"

	// Secret signs bearer tokens for the sandbox API. Empty disables auth.
	Secret     string `yaml:"secret"`
	SecretFile string `yaml:"secret_file"` // _file variant for secret

	Kubernetes KubernetesConfig `yaml:"kubernetes"`
}

// KubernetesConfig holds SandboxClaim settings for kubernetes mode.
type KubernetesConfig struct {
	Template     string        `yaml:"template"`      // required in kubernetes mode
	Namespace    string        `yaml:"namespace"`     // default: "default"
	ReadyTimeout time.Duration `yaml:"ready_timeout"` // default: 2m
}

// StorageConfig holds run archive settings.
type StorageConfig struct {
	Type     string         `yaml:"type"` // "memory" or "postgres", default: "memory"
	Postgres PostgresConfig `yaml:"postgres"`
}

// PostgresConfig holds PostgreSQL-specific settings.
type PostgresConfig struct {
	DSN            string `yaml:"dsn"`
	DSNFile        string `yaml:"dsn_file"`         // _file variant for dsn
	MaxConns       int32  `yaml:"max_conns"`        // default: 25
	MigrateOnStart bool   `yaml:"migrate_on_start"` // default: false
}

// OutputConfig holds artifact persistence settings.
type OutputConfig struct {
	// Dir is the directory where artifacts are written.
	Dir string `yaml:"dir"` // default: "."

	// ImageFile is the file name for the first PNG artifact of a run.
	ImageFile string `yaml:"image_file"` // default: "image.png"
}

// Defaults returns a Config with all default values filled in.
func Defaults() Config {
	return Config{
		Chat: ChatConfig{
			Model:   "gpt-4o",
			Timeout: 120 * time.Second,
		},
		Sandbox: SandboxConfig{
			Mode: "static",
			URL:  "http://localhost:8090",
			Kubernetes: KubernetesConfig{
				Namespace:    "default",
				ReadyTimeout: 2 * time.Minute,
			},
		},
		Storage: StorageConfig{
			Type: "memory",
			Postgres: PostgresConfig{
				MaxConns: 25,
			},
		},
		Output: OutputConfig{
			Dir:       ".",
			ImageFile: "image.png",
		},
	}
}
