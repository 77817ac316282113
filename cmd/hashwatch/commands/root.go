package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/hikarum/hashwatch/internal/config"
)

const Version = "1.0.0"

var (
	cfgFile string
	verbose bool
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "hashwatch",
	Short: "GPU miner supervision and profitability daemon",
	Long: `Hashwatch keeps an external GPU miner process alive, samples GPU and host
telemetry, polls pool-side account statistics, and recomputes a daily
profitability estimate on every tick. Status records are appended to a
rotating JSONL file, exported as Prometheus metrics, and served over a
local read-only HTTP API.`,
	Version: Version,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "config.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}

func initializeLogger(cfg *config.Config, daemon bool, logFile string) (*zap.Logger, error) {
	var zapCfg zap.Config

	if daemon || logFile != "" {
		zapCfg = zap.NewProductionConfig()
		if logFile != "" {
			zapCfg.OutputPaths = []string{logFile}
			zapCfg.ErrorOutputPaths = []string{logFile}
		}
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	level := cfg.LogLevel
	if verbose {
		level = "debug"
	}
	switch level {
	case "debug":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	}

	return zapCfg.Build()
}
