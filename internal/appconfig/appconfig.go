// internal/appconfig/appconfig.go
// Package appconfig manages loading and interpreting application configuration.
package appconfig

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

const (
	// DefaultConfigPath is the default path to the application's configuration file.
	DefaultConfigPath = "config/config.json"
	// legacyConfigPath is the path to the configuration file used in previous versions.
	legacyConfigPath = "config.json"
	// defaultRequestTimeout bounds a whole benchmark run at the CLI layer.
	defaultRequestTimeout = 600 * time.Second
	// DefaultExportPath is where the run command writes its JSON report and
	// where reconcile looks for one.
	DefaultExportPath = "benchmark-result.json"
	// DefaultHistoryDB is the sqlite database holding past runs.
	DefaultHistoryDB = "tokentraceData/history.db"
	// DefaultPrompt names the preset prompt used when none is configured.
	DefaultPrompt = "productDesign"
)

// Config represents the top-level application configuration.
type Config struct {
	Hosts              []Host  `json:"hosts" mapstructure:"hosts"`
	Prompt             string  `json:"prompt,omitempty" mapstructure:"prompt"`
	Instructions       string  `json:"instructions,omitempty" mapstructure:"instructions"`
	UserPrompt         string  `json:"userPrompt,omitempty" mapstructure:"userPrompt"`
	Sampling           string  `json:"sampling,omitempty" mapstructure:"sampling"`
	Temperature        float64 `json:"temperature" mapstructure:"temperature"`
	MaxTokens          int     `json:"maxTokens,omitempty" mapstructure:"maxTokens"`
	CalibrationFile    string  `json:"calibrationFile,omitempty" mapstructure:"calibrationFile"`
	ToolPolicy         string  `json:"toolPolicy,omitempty" mapstructure:"toolPolicy"`
	Iterations         int     `json:"iterations,omitempty" mapstructure:"iterations"`
	TimeoutSeconds     int     `json:"timeout,omitempty" mapstructure:"timeout"`
	ExportPath         string  `json:"export,omitempty" mapstructure:"export"`
	ExportMarkdownPath string  `json:"exportMarkdown,omitempty" mapstructure:"exportMarkdown"`
	LogFile            string  `json:"logFile,omitempty" mapstructure:"logFile"`
	LogLevel           string  `json:"logLevel,omitempty" mapstructure:"logLevel"`
	LogFormat          string  `json:"logFormat,omitempty" mapstructure:"logFormat"`
	HistoryDB          string  `json:"historyDB,omitempty" mapstructure:"historyDB"`
	MetricsFile        string  `json:"metricsFile,omitempty" mapstructure:"metricsFile"`
	Debug              bool    `json:"debug" mapstructure:"debug"`
	Live               bool    `json:"live" mapstructure:"live"`
	ConfigPath         string  `json:"-" mapstructure:"-"`
}

// Host represents a single host that can serve language models.
type Host struct {
	Name   string   `json:"name" mapstructure:"name"`
	URL    string   `json:"url" mapstructure:"url"`
	Type   string   `json:"type" mapstructure:"type"`
	Models []string `json:"models" mapstructure:"models"`
}

// Model returns the first model configured on the host, or "".
func (h Host) Model() string {
	if len(h.Models) == 0 {
		return ""
	}
	return strings.TrimSpace(h.Models[0])
}

// Identifier returns the host name, falling back to its URL.
func (h Host) Identifier() string {
	if name := strings.TrimSpace(h.Name); name != "" {
		return name
	}
	if url := strings.TrimSpace(h.URL); url != "" {
		return url
	}
	return "unnamed-host"
}

// RequestTimeout returns the deadline applied to a run, falling back to the default if not specified.
func (c Config) RequestTimeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return defaultRequestTimeout
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// LogFilePath returns the path to the application log file. Empty disables file logging.
func (c Config) LogFilePath() string {
	return strings.TrimSpace(c.LogFile)
}

// IterationCount returns the number of runs per host, at least one.
func (c Config) IterationCount() int {
	if c.Iterations < 1 {
		return 1
	}
	return c.Iterations
}

// ExportFile returns the JSON report path, applying the default.
func (c Config) ExportFile() string {
	if p := strings.TrimSpace(c.ExportPath); p != "" {
		return p
	}
	return DefaultExportPath
}

// PromptName returns the configured preset name, applying the default.
func (c Config) PromptName() string {
	if p := strings.TrimSpace(c.Prompt); p != "" {
		return p
	}
	return DefaultPrompt
}

// FindHost returns the host whose name matches (case-insensitive). An empty
// name selects the first host.
func (c Config) FindHost(name string) (Host, error) {
	if len(c.Hosts) == 0 {
		return Host{}, errors.New("config must contain at least one host")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return c.Hosts[0], nil
	}
	for _, h := range c.Hosts {
		if strings.EqualFold(h.Name, name) {
			return h, nil
		}
	}
	return Host{}, fmt.Errorf("no host named %q in configuration", name)
}

// Validate checks the fields a benchmark run depends on.
func (c Config) Validate() error {
	var errs []error
	if len(c.Hosts) == 0 {
		errs = append(errs, errors.New("config must contain at least one host"))
	}
	for i, h := range c.Hosts {
		if strings.TrimSpace(h.URL) == "" {
			errs = append(errs, fmt.Errorf("host %d (%s): url is required", i, h.Identifier()))
		}
		if _, err := NormalizeHostType(h.Type); err != nil {
			errs = append(errs, fmt.Errorf("host %d (%s): %w", i, h.Identifier(), err))
		}
	}
	if c.Temperature < 0 {
		errs = append(errs, fmt.Errorf("temperature must not be negative, got %v", c.Temperature))
	}
	if c.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("maxTokens must not be negative, got %d", c.MaxTokens))
	}
	return errors.Join(errs...)
}

// NormalizeHostType maps the accepted spellings of a host type onto
// "llama.cpp" or "ollama". An empty type means llama.cpp.
func NormalizeHostType(t string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(t)) {
	case "", "llamacpp", "llama.cpp", "llama-cpp":
		return "llama.cpp", nil
	case "ollama":
		return "ollama", nil
	default:
		return "", fmt.Errorf("unsupported host type %q", t)
	}
}

// ResolvePath returns the config file to read for path. When path is the
// default and missing, the legacy location is used if it exists.
func ResolvePath(path string) string {
	if path == "" {
		path = DefaultConfigPath
	}
	if path != DefaultConfigPath {
		return path
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if _, legacyErr := os.Stat(legacyConfigPath); legacyErr == nil {
			return legacyConfigPath
		}
	}
	return path
}

// Load reads the application configuration from the specified path, with fallback to a legacy path.
// Decoding is strict: keys that match no setting are an error.
func Load(path string) (Config, error) {
	if path == "" {
		path = DefaultConfigPath
	}

	config, err := loadFromPath(path)
	if err == nil {
		config.ConfigPath = path
		return config, nil
	}

	if errors.Is(err, os.ErrNotExist) {
		if path == DefaultConfigPath {
			config, legacyErr := loadFromPath(legacyConfigPath)
			if legacyErr == nil {
				config.ConfigPath = legacyConfigPath
				return config, nil
			}
			if errors.Is(legacyErr, os.ErrNotExist) {
				return Config{}, fmt.Errorf("no configuration file found (searched %q and %q)", DefaultConfigPath, legacyConfigPath)
			}
			return Config{}, fmt.Errorf("could not read config file %q: %w", legacyConfigPath, legacyErr)
		}
		return Config{}, fmt.Errorf("no configuration file found at %q", path)
	}

	return Config{}, fmt.Errorf("could not read config file %q: %w", path, err)
}

// loadFromPath is a helper function that loads the configuration from a specific file path.
func loadFromPath(path string) (Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return Config{}, err
	}
	defer file.Close()

	config := Config{Temperature: 0.1}
	dec := json.NewDecoder(file)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&config); err != nil {
		return Config{}, err
	}
	if config.TimeoutSeconds <= 0 {
		config.TimeoutSeconds = int(defaultRequestTimeout.Seconds())
	}

	return config, nil
}
