package config

import (
	"errors"
	"fmt"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateStorage(); err != nil {
		return err
	}
	if err := c.validateBatching(); err != nil {
		return err
	}
	if err := c.validateAcknowledgements(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateStorage() error {
	switch c.Storage.Backend {
	case BackendFS:
		if c.Storage.Root == "" {
			return errors.New("storage.root must be set when storage.backend is \"fs\"")
		}
	case BackendGCS:
		if c.Storage.GCSBucket == "" {
			return errors.New("storage.gcs_bucket must be set when storage.backend is \"gcs\"")
		}
	default:
		return fmt.Errorf("storage.backend: unsupported value %q (expected %q or %q)", c.Storage.Backend, BackendFS, BackendGCS)
	}
	return nil
}

func (c *Config) validateBatching() error {
	if c.Batching.ApplicationID == "" {
		return errors.New("batching.application_id must be set")
	}
	if c.Batching.MaxBatchSize < 1 {
		return errors.New("batching.max_batch_size must be at least 1")
	}
	if c.Batching.BatchTimeout < c.Batching.AssemblyCheckInterval {
		return errors.New("batching.batch_timeout must not be shorter than batching.assembly_check_interval")
	}
	return nil
}

func (c *Config) validateAcknowledgements() error {
	if c.Acknowledgements.LookupBatchSize < 1 {
		return errors.New("acknowledgements.lookup_batch_size must be at least 1")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}
