package common

// Environment variable keys
const (
	EnvConfigFile          = "CONFIG_FILE"
	EnvModelPath           = "MODEL_PATH"
	EnvModelsDir           = "MODELS_DIR"
	EnvDataPath            = "DATA_PATH"
	EnvListenAddr          = "LISTEN_ADDR"
	EnvMetricsPort         = "METRICS_PORT"
	EnvExplainMethod       = "EXPLAIN_METHOD"
	EnvSensitivitySteps    = "SENSITIVITY_STEPS"
	EnvHideFixedImportance = "HIDE_FIXED_IMPORTANCE"
	EnvRequestTimeout      = "REQUEST_TIMEOUT"
	EnvReloadInterval      = "RELOAD_INTERVAL"
	EnvLogLevel            = "LOG_LEVEL"
	EnvDriftWindow         = "DRIFT_WINDOW"
	EnvDriftThreshold      = "DRIFT_THRESHOLD"
)

// Configuration defaults
const (
	DefaultModelPath        = "models/ev_model.json"
	DefaultListenAddr       = ":8080"
	DefaultExplainMethod    = "tree"
	DefaultSensitivitySteps = 1
	DefaultLogLevel         = "info"
	DefaultDriftThreshold   = 1.0
)

// Validation constants
const (
	MinMetricsPort      = 1024
	MaxMetricsPort      = 65535
	MaxSensitivitySteps = 1000
	MaxDriftWindow      = 100000
)
