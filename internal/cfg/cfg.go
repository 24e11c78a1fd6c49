package cfg

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Settings struct {
	ListenPort       int
	MetricsPort      int
	DataPath         string
	ModelsDir        string
	MinF1            float64
	MinTotalSamples  int
	MinRecentSamples int
	RecentWindow     time.Duration
	RetrainInterval  time.Duration
	RequestTimeout   time.Duration
	LogLevel         string
}

type ConfigFile struct {
	Server struct {
		ListenPort     int    `yaml:"listenPort"`
		MetricsPort    int    `yaml:"metricsPort"`
		RequestTimeout string `yaml:"requestTimeout"`
	} `yaml:"server"`

	Model struct {
		ModelsDir string  `yaml:"modelsDir"`
		MinF1     float64 `yaml:"minF1"`
	} `yaml:"model"`

	Retrain struct {
		MinTotalSamples  int    `yaml:"minTotalSamples"`
		MinRecentSamples int    `yaml:"minRecentSamples"`
		RecentWindow     string `yaml:"recentWindow"`
		Interval         string `yaml:"interval"`
	} `yaml:"retrain"`

	System struct {
		DataPath string `yaml:"dataPath"`
		LogLevel string `yaml:"logLevel"`
	} `yaml:"system"`
}

func Load() (Settings, error) {
	// Try to load from YAML file first
	if configPath := os.Getenv("CONFIG_FILE"); configPath != "" {
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

	// Parse durations
	recentWindow, err := time.ParseDuration(config.Retrain.RecentWindow)
	if err != nil {
		recentWindow = 30 * 24 * time.Hour
	}

	retrainInterval, err := time.ParseDuration(config.Retrain.Interval)
	if err != nil {
		retrainInterval = 0
	}

	requestTimeout, err := time.ParseDuration(config.Server.RequestTimeout)
	if err != nil {
		requestTimeout = 10 * time.Second
	}

	settings := Settings{
		ListenPort:       getIntFromEnvOrConfig("LISTEN_PORT", config.Server.ListenPort, 8090),
		MetricsPort:      getIntFromEnvOrConfig("METRICS_PORT", config.Server.MetricsPort, 9090),
		DataPath:         getEnvOrDefault("DATA_PATH", config.System.DataPath),
		ModelsDir:        getEnvOrDefault("MODELS_DIR", config.Model.ModelsDir),
		MinF1:            getFloatFromEnvOrConfig("MIN_F1", config.Model.MinF1, 0.70),
		MinTotalSamples:  getIntFromEnvOrConfig("MIN_TOTAL_SAMPLES", config.Retrain.MinTotalSamples, 100),
		MinRecentSamples: getIntFromEnvOrConfig("MIN_RECENT_SAMPLES", config.Retrain.MinRecentSamples, 20),
		RecentWindow:     recentWindow,
		RetrainInterval:  getDurationOrDefault("RETRAIN_INTERVAL", retrainInterval),
		RequestTimeout:   requestTimeout,
		LogLevel:         getEnvOrDefault("LOG_LEVEL", config.System.LogLevel),
	}
	applyPathDefaults(&settings)

	// Validate configuration
	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}

	return settings, nil
}

func loadFromEnv() (Settings, error) {
	settings := Settings{
		ListenPort:       getIntOrDefault("LISTEN_PORT", 8090),
		MetricsPort:      getIntOrDefault("METRICS_PORT", 9090),
		DataPath:         os.Getenv("DATA_PATH"), // optional
		ModelsDir:        os.Getenv("MODELS_DIR"),
		MinF1:            getFloatOrDefault("MIN_F1", 0.70),
		MinTotalSamples:  getIntOrDefault("MIN_TOTAL_SAMPLES", 100),
		MinRecentSamples: getIntOrDefault("MIN_RECENT_SAMPLES", 20),
		RecentWindow:     getDurationOrDefault("RECENT_WINDOW", 30*24*time.Hour),
		RetrainInterval:  getDurationOrDefault("RETRAIN_INTERVAL", 0), // 0 disables the ticker
		RequestTimeout:   getDurationOrDefault("REQUEST_TIMEOUT", 10*time.Second),
		LogLevel:         getEnvOrDefault("LOG_LEVEL", "info"),
	}
	applyPathDefaults(&settings)

	// Validate configuration
	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}

	return settings, nil
}

func applyPathDefaults(settings *Settings) {
	if settings.DataPath == "" {
		settings.DataPath = "data"
	}
	if settings.ModelsDir == "" {
		settings.ModelsDir = "models"
	}
	if settings.LogLevel == "" {
		settings.LogLevel = "info"
	}
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

func getIntFromEnvOrConfig(key string, configValue, defaultValue int) int {
	if env := os.Getenv(key); env != "" {
		if val, err := strconv.Atoi(env); err == nil {
			return val
		}
	}
	if configValue != 0 {
		return configValue
	}
	return defaultValue
}

func getFloatFromEnvOrConfig(key string, configValue, defaultValue float64) float64 {
	if env := os.Getenv(key); env != "" {
		if val, err := strconv.ParseFloat(env, 64); err == nil {
			return val
		}
	}
	if configValue != 0 {
		return configValue
	}
	return defaultValue
}

// validateSettings performs comprehensive validation of configuration values
func validateSettings(settings *Settings) error {
	if settings.ListenPort < 1024 || settings.ListenPort > 65535 {
		return fmt.Errorf("listen port must be between 1024 and 65535, got %d", settings.ListenPort)
	}
	if settings.MetricsPort < 1024 || settings.MetricsPort > 65535 {
		return fmt.Errorf("metrics port must be between 1024 and 65535, got %d", settings.MetricsPort)
	}
	if settings.ListenPort == settings.MetricsPort {
		return fmt.Errorf("listen port and metrics port must differ, both are %d", settings.ListenPort)
	}

	if settings.MinF1 < 0 || settings.MinF1 > 1 {
		return fmt.Errorf("minimum F1 must be between 0 and 1, got %f", settings.MinF1)
	}

	if settings.MinTotalSamples <= 0 {
		return fmt.Errorf("minimum total samples must be positive, got %d", settings.MinTotalSamples)
	}
	if settings.MinRecentSamples <= 0 {
		return fmt.Errorf("minimum recent samples must be positive, got %d", settings.MinRecentSamples)
	}
	if settings.MinRecentSamples > settings.MinTotalSamples {
		return fmt.Errorf("minimum recent samples (%d) cannot exceed minimum total samples (%d)",
			settings.MinRecentSamples, settings.MinTotalSamples)
	}

	if settings.RecentWindow < time.Hour {
		return fmt.Errorf("recent window must be at least 1h, got %v", settings.RecentWindow)
	}
	if settings.RetrainInterval != 0 && settings.RetrainInterval < time.Minute {
		return fmt.Errorf("retrain interval must be 0 (disabled) or at least 1m, got %v", settings.RetrainInterval)
	}
	if settings.RequestTimeout < time.Second || settings.RequestTimeout > time.Minute {
		return fmt.Errorf("request timeout must be between 1s and 1m, got %v", settings.RequestTimeout)
	}

	switch settings.LogLevel {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", settings.LogLevel)
	}

	return nil
}
