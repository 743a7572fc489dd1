package config

import (
	"fmt"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeStorage(); err != nil {
		return err
	}
	c.normalizeBatching()
	c.normalizeFiling()
	c.normalizeAcknowledgements()
	c.normalizeWorkflow()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	return nil
}

func (c *Config) normalizeStorage() error {
	c.Storage.Backend = strings.ToLower(strings.TrimSpace(c.Storage.Backend))
	if c.Storage.Backend == "" {
		c.Storage.Backend = BackendFS
	}
	c.Storage.GCSBucket = strings.TrimSpace(c.Storage.GCSBucket)
	if c.Storage.Backend == BackendFS {
		var err error
		if strings.TrimSpace(c.Storage.Root) == "" {
			c.Storage.Root = defaultStorageRoot
		}
		if c.Storage.Root, err = expandPath(c.Storage.Root); err != nil {
			return fmt.Errorf("storage.root: %w", err)
		}
	}
	return nil
}

func (c *Config) normalizeBatching() {
	c.Batching.ApplicationID = strings.TrimSpace(c.Batching.ApplicationID)
	if c.Batching.MaxBatchSize <= 0 {
		c.Batching.MaxBatchSize = defaultMaxBatchSize
	}
	if c.Batching.BatchTimeout <= 0 {
		c.Batching.BatchTimeout = defaultBatchTimeout
	}
	if c.Batching.AssemblyCheckInterval <= 0 {
		c.Batching.AssemblyCheckInterval = defaultAssemblyCheckInterval
	}
}

func (c *Config) normalizeFiling() {
	c.Filing.Endpoint = strings.TrimSpace(c.Filing.Endpoint)
	c.Filing.Username = strings.TrimSpace(c.Filing.Username)
	if c.Filing.RequestTimeout <= 0 {
		c.Filing.RequestTimeout = defaultFilingRequestTimeout
	}
}

func (c *Config) normalizeAcknowledgements() {
	if c.Acknowledgements.LookupBatchSize <= 0 {
		c.Acknowledgements.LookupBatchSize = defaultLookupBatchSize
	}
	if c.Acknowledgements.PollInterval <= 0 {
		c.Acknowledgements.PollInterval = defaultAckPollInterval
	}
	c.Acknowledgements.PodID = strings.TrimSpace(c.Acknowledgements.PodID)
	if c.Acknowledgements.PodID == "" {
		c.Acknowledgements.PodID = c.Batching.ApplicationID
	}
}

func (c *Config) normalizeWorkflow() {
	if c.Workflow.HandlerWorkers <= 0 {
		c.Workflow.HandlerWorkers = defaultHandlerWorkers
	}
	if c.Workflow.ErrorPollInterval <= 0 {
		c.Workflow.ErrorPollInterval = defaultErrorPollInterval
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
