package config

import (
	"errors"
	"fmt"
)

// Validate checks the configuration for required fields and valid values.
// Returns an error with a descriptive field path on failure.
func (c *Config) Validate() error {
	var errs []error

	if c.Chat.BaseURL == "" {
		errs = append(errs, fmt.Errorf("chat.base_url is required"))
	}

	switch c.Sandbox.Mode {
	case "static":
		if c.Sandbox.URL == "" {
			errs = append(errs, fmt.Errorf("sandbox.url is required when sandbox.mode is \"static\""))
		}
	case "kubernetes":
		if c.Sandbox.Kubernetes.Template == "" {
			errs = append(errs, fmt.Errorf("sandbox.kubernetes.template is required when sandbox.mode is \"kubernetes\""))
		}
	default:
		errs = append(errs, fmt.Errorf("sandbox.mode must be \"static\" or \"kubernetes\", got %q", c.Sandbox.Mode))
	}

	switch c.Storage.Type {
	case "memory", "postgres":
		// valid
	default:
		errs = append(errs, fmt.Errorf("storage.type must be \"memory\" or \"postgres\", got %q", c.Storage.Type))
	}

	if c.Storage.Type == "postgres" {
		if c.Storage.Postgres.DSN == "" && c.Storage.Postgres.DSNFile == "" {
			errs = append(errs, fmt.Errorf("storage.postgres.dsn or storage.postgres.dsn_file is required when storage.type is \"postgres\""))
		}
	}

	if c.Output.ImageFile == "" {
		errs = append(errs, fmt.Errorf("output.image_file must not be empty"))
	}

	return errors.Join(errs...)
}
