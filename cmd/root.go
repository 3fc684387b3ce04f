package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile  string
	dbPath   string
	redisURL string
	logLevel string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "iocwatch",
	Short: "IOC watchlist re-scan job",
	Long: `iocwatch periodically re-checks watched indicators of compromise (IPs,
domains, file hashes, URLs) against external reputation services, records how
their reputation moves over time, and raises alerts when an indicator turns
malicious or its risk score shifts significantly.

Features:
- Watchlist of IOCs with per-indicator re-scan frequency
- VirusTotal and AbuseIPDB reputation lookups with IP fallback
- Scan history trail and one-step reputation deltas in SQLite
- Alerting with Redis Streams fan-out per organization
- Feed-folder import of indicators (one-shot or watched)`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.iocwatch.yaml)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "./data/iocwatch.db", "SQLite database path")
	rootCmd.PersistentFlags().StringVar(&redisURL, "redis", "", "Redis connection URL for alert fan-out (empty disables)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	// Bind flags to viper
	viper.BindPFlag("database.path", rootCmd.PersistentFlags().Lookup("db"))
	viper.BindPFlag("redis.url", rootCmd.PersistentFlags().Lookup("redis"))
	viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		// Find home directory.
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		// Search config in home directory with name ".iocwatch" (without extension).
		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".iocwatch")
	}

	viper.AutomaticEnv() // read in environment variables that match

	// API keys usually come from the environment rather than the config file.
	viper.BindEnv("sources.virustotal.api_key", "VT_API_KEY")
	viper.BindEnv("sources.abuseipdb.api_key", "ABUSEIPDB_API_KEY")
	viper.BindEnv("analysis.api_key", "OPENROUTER_API_KEY")

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}

	// Set defaults
	viper.SetDefault("database.path", "./data/iocwatch.db")
	viper.SetDefault("redis.url", "")
	viper.SetDefault("log.level", "info")
	viper.SetDefault("scan.pacing_ms", 1000)
	viper.SetDefault("scan.interval_minutes", 60)
	viper.SetDefault("sources.virustotal.rate_limit_rps", 4)
	viper.SetDefault("sources.abuseipdb.rate_limit_rps", 4)
	viper.SetDefault("analysis.endpoint", "https://openrouter.ai/api/v1")
	viper.SetDefault("analysis.model", "openai/gpt-4o-mini")
}

// GetConfig returns the current configuration values
func GetConfig() Config {
	return Config{
		Database: DatabaseConfig{
			Path: viper.GetString("database.path"),
		},
		Redis: RedisConfig{
			URL: viper.GetString("redis.url"),
		},
		Log: LogConfig{
			Level: viper.GetString("log.level"),
		},
		Scan: ScanConfig{
			Pacing:   time.Duration(viper.GetInt("scan.pacing_ms")) * time.Millisecond,
			Interval: time.Duration(viper.GetInt("scan.interval_minutes")) * time.Minute,
		},
		Sources: SourcesConfig{
			VirusTotal: SourceConfig{
				APIKey:       viper.GetString("sources.virustotal.api_key"),
				BaseURL:      viper.GetString("sources.virustotal.base_url"),
				RateLimitRPS: viper.GetInt("sources.virustotal.rate_limit_rps"),
			},
			AbuseIPDB: SourceConfig{
				APIKey:       viper.GetString("sources.abuseipdb.api_key"),
				BaseURL:      viper.GetString("sources.abuseipdb.base_url"),
				RateLimitRPS: viper.GetInt("sources.abuseipdb.rate_limit_rps"),
			},
		},
		Analysis: AnalysisConfig{
			Endpoint: viper.GetString("analysis.endpoint"),
			Model:    viper.GetString("analysis.model"),
			APIKey:   viper.GetString("analysis.api_key"),
		},
	}
}

// Config represents the application configuration
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Log      LogConfig      `mapstructure:"log"`
	Scan     ScanConfig     `mapstructure:"scan"`
	Sources  SourcesConfig  `mapstructure:"sources"`
	Analysis AnalysisConfig `mapstructure:"analysis"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

type RedisConfig struct {
	URL string `mapstructure:"url"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type ScanConfig struct {
	Pacing   time.Duration `mapstructure:"pacing_ms"`
	Interval time.Duration `mapstructure:"interval_minutes"`
}

type SourcesConfig struct {
	VirusTotal SourceConfig `mapstructure:"virustotal"`
	AbuseIPDB  SourceConfig `mapstructure:"abuseipdb"`
}

type SourceConfig struct {
	APIKey       string `mapstructure:"api_key"`
	BaseURL      string `mapstructure:"base_url"`
	RateLimitRPS int    `mapstructure:"rate_limit_rps"`
}

type AnalysisConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	Model    string `mapstructure:"model"`
	APIKey   string `mapstructure:"api_key"`
}
