package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir string `toml:"data_dir"`
	LogDir  string `toml:"log_dir"`
	APIBind string `toml:"api_bind"`
}

// Storage selects and configures the durable object storage backend that
// holds pre-submission batches.
type Storage struct {
	// Backend is "fs" for a local directory tree or "gcs" for a bucket.
	Backend   string `toml:"backend"`
	Root      string `toml:"root"`
	GCSBucket string `toml:"gcs_bucket"`
}

// Batching controls batch assembly thresholds.
type Batching struct {
	// ApplicationID namespaces storage paths per deploying application.
	ApplicationID string `toml:"application_id"`
	// MaxBatchSize is the submission count that closes the writing batch.
	MaxBatchSize int `toml:"max_batch_size"`
	// BatchTimeout bounds, in seconds, how long a partially filled batch may
	// keep accumulating before it is dispatched anyway.
	BatchTimeout int `toml:"batch_timeout"`
	// AssemblyCheckInterval is the tick, in seconds, at which the assembler
	// checks the writing batch against BatchTimeout.
	AssemblyCheckInterval int `toml:"assembly_check_interval"`
}

// Filing contains connection settings for the external filing service.
type Filing struct {
	Endpoint       string `toml:"endpoint"`
	Username       string `toml:"username"`
	Password       string `toml:"password"`
	RequestTimeout int    `toml:"request_timeout"`
}

// Acknowledgements controls the status-side poller.
type Acknowledgements struct {
	// LookupBatchSize is the number of pending submission ids per bulk call.
	LookupBatchSize int `toml:"lookup_batch_size"`
	// PollInterval is the lookup cadence in seconds.
	PollInterval int `toml:"poll_interval"`
	// PodID identifies this processing pod on pending records.
	PodID string `toml:"pod_id"`
}

// Workflow contains daemon timing and worker configuration.
type Workflow struct {
	// HandlerWorkers is the number of concurrent action handler workers.
	HandlerWorkers int `toml:"handler_workers"`
	// ErrorPollInterval is the error batch poller cadence in seconds.
	ErrorPollInterval int `toml:"error_poll_interval"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for taxwire.
type Config struct {
	Paths            Paths            `toml:"paths"`
	Storage          Storage          `toml:"storage"`
	Batching         Batching         `toml:"batching"`
	Filing           Filing           `toml:"filing"`
	Acknowledgements Acknowledgements `toml:"acknowledgements"`
	Workflow         Workflow         `toml:"workflow"`
	Notifications    Notifications    `toml:"notifications"`
	Logging          Logging          `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration
// file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/taxwire/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("taxwire.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Paths.DataDir, c.Paths.LogDir}
	if c.Storage.Backend == BackendFS && strings.TrimSpace(c.Storage.Root) != "" {
		dirs = append(dirs, c.Storage.Root)
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
