package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hikarum/hashwatch/internal/app"
	"github.com/hikarum/hashwatch/internal/config"
)

// startCmd represents the start command
var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start supervising the miner",
	Long: `Start the supervision daemon with the specified configuration.

Examples:
  # Start with default config
  hashwatch start

  # Start with a specific config
  hashwatch start --config rig01.yaml

  # Log to a file instead of the console
  hashwatch start --log-file hashwatch.log`,
	RunE: runStart,
}

func init() {
	rootCmd.AddCommand(startCmd)

	startCmd.Flags().String("log-file", "", "log file path")
	startCmd.Flags().String("pid-file", "hashwatch.pid", "PID file path")
}

func runStart(cmd *cobra.Command, args []string) error {
	logFile, _ := cmd.Flags().GetString("log-file")
	pidFile, _ := cmd.Flags().GetString("pid-file")

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := initializeLogger(cfg, false, logFile)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync()

	if err := writePIDFile(pidFile); err != nil {
		logger.Warn("Failed to write PID file", zap.Error(err))
	}
	defer os.Remove(pidFile)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
		cancel()
	}()

	logger.Info("Starting hashwatch",
		zap.String("version", Version),
		zap.String("config", cfgFile),
	)

	application, err := app.NewFromConfig(logger, cfg)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	if logFile == "" {
		printStartupInfo(cfg)
	}

	if err := application.Run(ctx); err != nil {
		if errors.Is(err, app.ErrMinerFailed) {
			logger.Error("Miner failed permanently, exiting")
		}
		return err
	}

	logger.Info("Hashwatch stopped successfully")
	return nil
}

func writePIDFile(path string) error {
	pid := os.Getpid()
	data := []byte(fmt.Sprintf("%d\n", pid))
	return os.WriteFile(path, data, 0644)
}

func printStartupInfo(cfg *config.Config) {
	fmt.Println()
	fmt.Println("  Hashwatch", Version)
	fmt.Println("  ----------------------------------------")
	fmt.Printf("  Coin:       %s (%s)\n", cfg.Mining.Coin, cfg.Mining.Algorithm)
	fmt.Printf("  Pool:       %s\n", cfg.Mining.PoolURL)
	fmt.Printf("  Worker:     %s\n", cfg.Mining.Worker)
	fmt.Printf("  Power cost: $%s/kWh\n", humanize.Commaf(cfg.Power.CostPerKWH))
	fmt.Printf("  Tick:       every %s\n", cfg.Poll.TickInterval)
	if cfg.Monitoring.Enabled {
		fmt.Printf("  Metrics:    http://%s/metrics\n", cfg.Monitoring.ListenAddr)
	}
	if cfg.API.Enabled {
		fmt.Printf("  API:        http://%s/api/v1/status\n", cfg.API.ListenAddr)
	}
	fmt.Println()
}
