package cfg

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"ev-insight/internal/common"
)

type Settings struct {
	ModelPath           string
	ModelsDir           string // optional artifact registry
	DataPath            string // optional prediction log
	ListenAddr          string
	MetricsPort         int // 0 serves /metrics on the API listener only
	ExplainMethod       string
	SensitivitySteps    int
	HideFixedImportance bool
	RequestTimeout      time.Duration
	ReloadInterval      time.Duration // 0 disables polling
	LogLevel            string
	DriftWindow         int // 0 disables drift detection
	DriftThreshold      float64
}

type ConfigFile struct {
	Model struct {
		Path                string `yaml:"path"`
		ModelsDir           string `yaml:"modelsDir"`
		ExplainMethod       string `yaml:"explainMethod"`
		SensitivitySteps    int    `yaml:"sensitivitySteps"`
		HideFixedImportance bool   `yaml:"hideFixedImportance"`
		ReloadInterval      string `yaml:"reloadInterval"`
	} `yaml:"model"`

	Server struct {
		ListenAddr     string `yaml:"listenAddr"`
		MetricsPort    int    `yaml:"metricsPort"`
		RequestTimeout string `yaml:"requestTimeout"`
	} `yaml:"server"`

	Drift struct {
		Window    int     `yaml:"window"`
		Threshold float64 `yaml:"threshold"`
	} `yaml:"drift"`

	System struct {
		DataPath string `yaml:"dataPath"`
		LogLevel string `yaml:"logLevel"`
	} `yaml:"system"`
}

func Load() (Settings, error) {
	// Try to load from YAML file first
	if configPath := os.Getenv(common.EnvConfigFile); configPath != "" {
		return loadFromYAML(configPath)
	}

	// Fallback to environment variables
	return loadFromEnv()
}

func loadFromYAML(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config ConfigFile
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Settings{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	requestTimeout, err := parseDurationOrDefault(config.Server.RequestTimeout, 5*time.Second)
	if err != nil {
		return Settings{}, fmt.Errorf("server.requestTimeout: %w", err)
	}
	reloadInterval, err := parseDurationOrDefault(config.Model.ReloadInterval, 0)
	if err != nil {
		return Settings{}, fmt.Errorf("model.reloadInterval: %w", err)
	}

	// Override with environment variables if they exist
	settings := Settings{
		ModelPath:           getEnvOrDefault(common.EnvModelPath, orDefault(config.Model.Path, common.DefaultModelPath)),
		ModelsDir:           getEnvOrDefault(common.EnvModelsDir, config.Model.ModelsDir),
		DataPath:            getEnvOrDefault(common.EnvDataPath, config.System.DataPath),
		ListenAddr:          getEnvOrDefault(common.EnvListenAddr, orDefault(config.Server.ListenAddr, common.DefaultListenAddr)),
		MetricsPort:         getIntOrDefault(common.EnvMetricsPort, config.Server.MetricsPort),
		ExplainMethod:       getEnvOrDefault(common.EnvExplainMethod, orDefault(config.Model.ExplainMethod, common.DefaultExplainMethod)),
		SensitivitySteps:    getIntOrDefault(common.EnvSensitivitySteps, config.Model.SensitivitySteps),
		HideFixedImportance: getBoolOrDefault(common.EnvHideFixedImportance, config.Model.HideFixedImportance),
		RequestTimeout:      getDurationOrDefault(common.EnvRequestTimeout, requestTimeout),
		ReloadInterval:      getDurationOrDefault(common.EnvReloadInterval, reloadInterval),
		LogLevel:            getEnvOrDefault(common.EnvLogLevel, orDefault(config.System.LogLevel, common.DefaultLogLevel)),
		DriftWindow:         getIntOrDefault(common.EnvDriftWindow, config.Drift.Window),
		DriftThreshold:      getFloatOrDefault(common.EnvDriftThreshold, config.Drift.Threshold),
	}
	if settings.SensitivitySteps == 0 {
		settings.SensitivitySteps = common.DefaultSensitivitySteps
	}
	if settings.DriftThreshold == 0 {
		settings.DriftThreshold = common.DefaultDriftThreshold
	}

	// Validate configuration
	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}

	return settings, nil
}

func loadFromEnv() (Settings, error) {
	settings := Settings{
		ModelPath:           getEnvOrDefault(common.EnvModelPath, common.DefaultModelPath),
		ModelsDir:           os.Getenv(common.EnvModelsDir), // optional
		DataPath:            os.Getenv(common.EnvDataPath),  // optional
		ListenAddr:          getEnvOrDefault(common.EnvListenAddr, common.DefaultListenAddr),
		MetricsPort:         getIntOrDefault(common.EnvMetricsPort, 0),
		ExplainMethod:       getEnvOrDefault(common.EnvExplainMethod, common.DefaultExplainMethod),
		SensitivitySteps:    getIntOrDefault(common.EnvSensitivitySteps, common.DefaultSensitivitySteps),
		HideFixedImportance: getBoolOrDefault(common.EnvHideFixedImportance, false),
		RequestTimeout:      getDurationOrDefault(common.EnvRequestTimeout, 5*time.Second),
		ReloadInterval:      getDurationOrDefault(common.EnvReloadInterval, 0),
		LogLevel:            getEnvOrDefault(common.EnvLogLevel, common.DefaultLogLevel),
		DriftWindow:         getIntOrDefault(common.EnvDriftWindow, 0),
		DriftThreshold:      getFloatOrDefault(common.EnvDriftThreshold, common.DefaultDriftThreshold),
	}

	// Validate configuration
	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}

	return settings, nil
}

// Level is the parsed log level. Settings returned by Load always parse.
func (s *Settings) Level() zerolog.Level {
	level, err := zerolog.ParseLevel(s.LogLevel)
	if err != nil {
		return zerolog.InfoLevel
	}
	return level
}

func orDefault(v, defaultValue string) string {
	if v != "" {
		return v
	}
	return defaultValue
}

func parseDurationOrDefault(v string, defaultValue time.Duration) (time.Duration, error) {
	if v == "" {
		return defaultValue, nil
	}
	return time.ParseDuration(v)
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultValue
}

func getFloatOrDefault(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultValue
}

// validateSettings performs comprehensive validation of configuration values
func validateSettings(settings *Settings) error {
	if settings.ModelPath == "" {
		return fmt.Errorf("model path cannot be empty")
	}
	if settings.ListenAddr == "" {
		return fmt.Errorf("listen address cannot be empty")
	}

	switch settings.ExplainMethod {
	case "tree", "exact":
	default:
		return fmt.Errorf("explain method must be tree or exact, got %q", settings.ExplainMethod)
	}

	// Validate time durations
	if settings.RequestTimeout < 100*time.Millisecond || settings.RequestTimeout > time.Minute {
		return fmt.Errorf("request timeout must be between 100ms and 1m, got %v", settings.RequestTimeout)
	}
	if settings.ReloadInterval != 0 && settings.ReloadInterval < time.Second {
		return fmt.Errorf("reload interval must be 0 (disabled) or at least 1s, got %v", settings.ReloadInterval)
	}

	// Validate integer values
	if settings.SensitivitySteps < 1 || settings.SensitivitySteps > common.MaxSensitivitySteps {
		return fmt.Errorf("sensitivity steps must be between 1 and %d, got %d", common.MaxSensitivitySteps, settings.SensitivitySteps)
	}
	if settings.MetricsPort != 0 && (settings.MetricsPort < common.MinMetricsPort || settings.MetricsPort > common.MaxMetricsPort) {
		return fmt.Errorf("metrics port must be 0 or between %d and %d, got %d", common.MinMetricsPort, common.MaxMetricsPort, settings.MetricsPort)
	}
	if settings.DriftWindow < 0 || settings.DriftWindow > common.MaxDriftWindow {
		return fmt.Errorf("drift window must be between 0 and %d, got %d", common.MaxDriftWindow, settings.DriftWindow)
	}
	if settings.DriftThreshold <= 0 {
		return fmt.Errorf("drift threshold must be positive, got %f", settings.DriftThreshold)
	}

	if _, err := zerolog.ParseLevel(settings.LogLevel); err != nil {
		return fmt.Errorf("invalid log level %q: %w", settings.LogLevel, err)
	}

	return nil
}
