package config

// Storage backend names accepted in [storage].backend.
const (
	BackendFS  = "fs"
	BackendGCS = "gcs"
)

const (
	defaultDataDir               = "~/.local/share/taxwire"
	defaultLogDir                = "~/.local/share/taxwire/logs"
	defaultAPIBind               = "127.0.0.1:7341"
	defaultStorageRoot           = "~/.local/share/taxwire/storage"
	defaultApplicationID         = "taxwire"
	defaultMaxBatchSize          = 25
	defaultBatchTimeout          = 300
	defaultAssemblyCheckInterval = 10
	defaultFilingRequestTimeout  = 120
	defaultLookupBatchSize       = 50
	defaultAckPollInterval       = 120
	defaultHandlerWorkers        = 2
	defaultErrorPollInterval     = 300
	defaultNtfyRequestTimeout    = 10
	defaultLogFormat             = "console"
	defaultLogLevel              = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
			APIBind: defaultAPIBind,
		},
		Storage: Storage{
			Backend: BackendFS,
			Root:    defaultStorageRoot,
		},
		Batching: Batching{
			ApplicationID:         defaultApplicationID,
			MaxBatchSize:          defaultMaxBatchSize,
			BatchTimeout:          defaultBatchTimeout,
			AssemblyCheckInterval: defaultAssemblyCheckInterval,
		},
		Filing: Filing{
			RequestTimeout: defaultFilingRequestTimeout,
		},
		Acknowledgements: Acknowledgements{
			LookupBatchSize: defaultLookupBatchSize,
			PollInterval:    defaultAckPollInterval,
		},
		Workflow: Workflow{
			HandlerWorkers:    defaultHandlerWorkers,
			ErrorPollInterval: defaultErrorPollInterval,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNtfyRequestTimeout,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
