package testsupport

import (
	"path/filepath"
	"testing"

	"taxwire/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.APIBind = "127.0.0.1:0"
	cfgVal.Storage.Backend = config.BackendFS
	cfgVal.Storage.Root = filepath.Join(base, "storage")
	cfgVal.Batching.ApplicationID = "test-app"
	cfgVal.Batching.MaxBatchSize = 3
	cfgVal.Batching.BatchTimeout = 60
	cfgVal.Batching.AssemblyCheckInterval = 1
	cfgVal.Acknowledgements.LookupBatchSize = 10
	cfgVal.Acknowledgements.PodID = "test-pod"

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithMaxBatchSize overrides the batch size threshold on the test config.
func WithMaxBatchSize(size int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Batching.MaxBatchSize = size
	}
}

// WithLookupBatchSize overrides the acknowledgement lookup chunk size.
func WithLookupBatchSize(size int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Acknowledgements.LookupBatchSize = size
	}
}

// WithBatchTimeout overrides the writing-batch age threshold in seconds.
func WithBatchTimeout(seconds int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Batching.BatchTimeout = seconds
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
