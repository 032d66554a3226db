// internal/commands/root.go
package tokentrace

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mwiater/tokentrace/internal/appconfig"
	"github.com/mwiater/tokentrace/internal/logging"
)

var (
	cfgFile       string
	currentConfig *appconfig.Config
	appVersion    = "dev"
	appCommit     = "none"
	appDate       = "unknown"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:          "tokentrace",
	Short:        "Streaming benchmarks with calibrated token estimates for local models",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := ensureConfigLoaded(); err != nil {
			return err
		}

		var cfg appconfig.Config
		if err := viper.Unmarshal(&cfg); err != nil {
			return fmt.Errorf("unmarshal config: %w", err)
		}
		cfg.ConfigPath = viper.ConfigFileUsed()
		currentConfig = &cfg

		level := cfg.LogLevel
		if cfg.Debug {
			level = "debug"
		}
		if err := logging.Init(logging.Options{
			Path:    cfg.LogFilePath(),
			Level:   level,
			Format:  cfg.LogFormat,
			Console: cmd.ErrOrStderr(),
		}); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		logging.Debug("configuration loaded", "file", cfg.ConfigPath, "hosts", len(cfg.Hosts))
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", appVersion, appCommit, appDate)

	err := rootCmd.Execute()
	_ = logging.Close()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(configureViper, initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&cfgFile, "config", "c", appconfig.DefaultConfigPath, "config file (e.g., config/config.json)")
	flags.Bool("debug", false, "enable debug logging")
	flags.String("logFile", "", "path to the log file")
	flags.String("logLevel", "", "log level (debug, info, warn, error)")
	flags.String("logFormat", "", "console log format (console or json)")
	flags.Int("timeout", 0, "seconds allowed for a whole run (0 = default)")
	flags.String("export", "", "JSON report path")
	flags.String("exportMarkdown", "", "also write a markdown summary to this path")
	flags.String("historyDB", "", "sqlite database for run history (empty disables)")
	flags.String("metricsFile", "", "write Prometheus metrics in textfile format to this path")
	flags.String("calibrationFile", "", "TOML calibration profile")
	flags.String("toolPolicy", "", "how tool entries count: exclude or attribute")
}

// configureViper registers defaults and flag bindings. It runs on every
// execution so a viper.Reset between executions is harmless.
func configureViper() {
	viper.SetDefault("temperature", 0.1)
	viper.SetDefault("sampling", "greedy")
	viper.SetDefault("toolPolicy", "exclude")
	viper.SetDefault("iterations", 1)
	viper.SetDefault("timeout", 600)
	viper.SetDefault("export", appconfig.DefaultExportPath)
	viper.SetDefault("prompt", appconfig.DefaultPrompt)
	viper.SetDefault("historyDB", appconfig.DefaultHistoryDB)

	for _, name := range []string{
		"debug", "logFile", "logLevel", "logFormat", "timeout", "export", "exportMarkdown",
		"historyDB", "metricsFile", "calibrationFile", "toolPolicy",
	} {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
	for _, name := range []string{"prompt", "iterations", "temperature", "maxTokens", "live"} {
		_ = viper.BindPFlag(name, runCmd.Flags().Lookup(name))
	}
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	viper.SetConfigFile(appconfig.ResolvePath(cfgFile))
	viper.SetConfigType("json")
	viper.SetEnvPrefix("TOKENTRACE")
	viper.AutomaticEnv()
}

// ensureConfigLoaded reads the config file. A missing file leaves defaults in place.
func ensureConfigLoaded() error {
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load config: %w", err)
	}
	return nil
}

// GetConfig returns the loaded application configuration for other packages.
func GetConfig() *appconfig.Config {
	if currentConfig == nil {
		return &appconfig.Config{}
	}
	return currentConfig
}

// SetVersionInfo allows the main package to inject build-time variables.
func SetVersionInfo(version, commit, date string) {
	appVersion = version
	appCommit = commit
	appDate = date
}

// commandContext returns the command's context, bounded by the configured
// run timeout.
func commandContext(cmd *cobra.Command, cfg appconfig.Config) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, cfg.RequestTimeout())
}
