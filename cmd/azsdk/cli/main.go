package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

// Config drives the azsdk tool. Values come from azsdk.yaml, AZSDK_*
// environment variables, and flags, in ascending precedence.
type Config struct {
	// Root is the repository root the sdk/ tree is discovered under.
	Root string `mapstructure:"root"`

	// Service narrows commands to packages owned by one service directory.
	Service string `mapstructure:"service"`

	Logging LoggingConfig `mapstructure:"logging"`
}

// LoggingConfig selects the logrus level and output format.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Global configuration instance
var cfg *Config

// loadConfig loads the tool configuration from the usual sources.
func loadConfig(cmd *cobra.Command) (*Config, error) {
	// A .env file is optional; other sources still apply without one.
	if err := gotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Printf("Warning: Error loading .env file: %v\n", err)
	}

	v := viper.New()
	v.SetConfigName("azsdk")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./eng")

	v.SetDefault("root", ".")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	v.SetEnvPrefix("AZSDK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.AllowEmptyEnv(true)

	v.BindEnv("root", "AZSDK_ROOT")
	v.BindEnv("service", "AZSDK_SERVICE")
	v.BindEnv("logging.level", "AZSDK_LOGGING_LEVEL")
	v.BindEnv("logging.format", "AZSDK_LOGGING_FORMAT")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; proceed with defaults and environment variables
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Flags win over file and environment.
	if root, err := cmd.Flags().GetString("root"); err == nil && len(root) > 0 {
		config.Root = root
	}
	if service, err := cmd.Flags().GetString("service"); err == nil && len(service) > 0 {
		config.Service = service
	}

	return &config, nil
}

func setupLogging(config *Config) error {
	logrusLevel, err := logrus.ParseLevel(config.Logging.Level)
	if err != nil {
		return fmt.Errorf("error parsing log level: %w", err)
	}
	logrus.SetLevel(logrusLevel)

	switch strings.ToLower(config.Logging.Format) {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	case "text":
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	default:
		logrus.WithFields(logrus.Fields{
			"format": config.Logging.Format,
		}).Warn("Unknown log format")
	}

	return nil
}

func preRunConfigE(cmd *cobra.Command, _ []string) error {
	// Load configuration before any command runs
	var err error
	cfg, err = loadConfig(cmd)

	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := setupLogging(cfg); err != nil {
		return err
	}

	// check if verbose flag is set
	verbose, err := cmd.Flags().GetBool("verbose")
	if err == nil && verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}

	return nil
}

var rootCmd = &cobra.Command{
	Use:   "azsdk",
	Short: "Engineering tooling for the Azure SDK for Go repository",
	Long: `azsdk discovers the SDK packages in this repository, verifies their
metadata against each package's ci.yml, and validates the OpenAPI documents
the clients were written against.

Run it from the repository root, or point --root at one.`,
	PersistentPreRunE: preRunConfigE,
	SilenceUsage:      true,
}

func init() {

	// Add global flags
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().String("root", "", "Repository root to operate on (default is the working directory)")
	rootCmd.PersistentFlags().String("service", "", "Limit commands to packages under one service directory")

}

func GetCommandOptions() *cobra.Command {
	return rootCmd
}
