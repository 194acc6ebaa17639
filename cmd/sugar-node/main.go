package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sugar-network/node/pkg/log"
	"github.com/sugar-network/node/pkg/metrics"
	"github.com/sugar-network/node/pkg/schema"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "sugar-node",
	Short: "Sugar Network node - schema-driven document store with offline sync",
	Long: `Sugar Network node keeps a volume of schema-driven documents,
serves them over HTTP and keeps satellites and the master in sync,
online over HTTP or offline through packet files on removable media.`,
	Version: Version,
}

var configPath string

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Sugar Network node version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(rebuildCmd)
	rootCmd.AddCommand(infoCmd)
}

// Config is the YAML node configuration. Flags override file values.
type Config struct {
	GUID    string `yaml:"guid"`
	Master  string `yaml:"master"`
	DataDir string `yaml:"data_dir"`
	APIAddr string `yaml:"api_addr"`
	Lang    string `yaml:"lang"`

	PacketLimit int64             `yaml:"packet_limit"`
	Trees       map[string]string `yaml:"trees"`

	Index struct {
		FlushThreshold int           `yaml:"flush_threshold"`
		FlushTimeout   time.Duration `yaml:"flush_timeout"`
	} `yaml:"index"`

	Log struct {
		Level string `yaml:"level"`
		JSON  bool   `yaml:"json"`
	} `yaml:"log"`
}

func loadConfig() (*Config, error) {
	cfg := &Config{
		DataDir: "/var/lib/sugar-node",
		APIAddr: ":8000",
	}
	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %v", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %v", err)
		}
	}
	log.Init(log.Config{Level: log.Level(cfg.Log.Level), JSONOutput: cfg.Log.JSON})
	if cfg.Lang != "" {
		schema.SetDefaultLang(cfg.Lang)
	}
	metrics.SetVersion(Version)
	return cfg, nil
}
