package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/danielpatrickdp/adaptive-rehab/go-controller/internal/config"
	"github.com/danielpatrickdp/adaptive-rehab/go-controller/internal/logging"
)

const version = "0.1.0"

// #region root
var rootCmd = &cobra.Command{
	Use:   "controller",
	Short: "Adaptive difficulty controller for rehabilitation sessions",
	Long: `controller serves the adaptation engine over gRPC and runs offline
simulations of the decision policies against synthetic patients.

Configuration is read from a YAML file (--config) layered over built-in
defaults; ADAPT_* and REDIS_ADDR environment variables override both.`,
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
	SilenceUsage: true,
}

type rootOptions struct {
	configPath string
	logMode    string
	logLevel   string
}

var rootFlags rootOptions

func init() {
	rootCmd.Version = version
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&rootFlags.configPath, "config", "", "Path to YAML config (defaults plus environment when empty)")
	pf.StringVar(&rootFlags.logMode, "log-mode", "", "Override service.log_mode (production or development)")
	pf.StringVar(&rootFlags.logLevel, "log-level", "", "Override service.log_level")

	rootCmd.AddCommand(serveCmd, simulateCmd)
}

// #endregion root

// #region main
func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// #endregion main

// #region load
// loadRuntime resolves the config and builds the logger the root flags ask for.
func loadRuntime() (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(rootFlags.configPath)
	if err != nil {
		return config.Config{}, nil, err
	}
	if rootFlags.logMode != "" {
		cfg.Service.LogMode = rootFlags.logMode
	}
	if rootFlags.logLevel != "" {
		cfg.Service.LogLevel = rootFlags.logLevel
	}
	log, err := logging.New(cfg.Service.LogMode, cfg.Service.LogLevel)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, log, nil
}

// #endregion load
