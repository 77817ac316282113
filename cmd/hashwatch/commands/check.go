package commands

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hikarum/hashwatch/internal/coins"
	"github.com/hikarum/hashwatch/internal/config"
	"github.com/hikarum/hashwatch/internal/pool"
	"github.com/hikarum/hashwatch/internal/profit"
	"github.com/hikarum/hashwatch/internal/telemetry"
)

// checkCmd represents the check command
var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "One-shot profitability comparison across supported coins",
	Long: `Check fetches live prices and pool statistics once, reads current GPU
power draw if available, and prints a per-coin profitability ranking
without starting any miner.

The configured coin uses its pool-reported hashrate. Other coins need an
explicit hashrate to be comparable:

  hashwatch check --hashrate ETC=60e6 --hashrate ZEC=140`,
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)

	checkCmd.Flags().StringArray("hashrate", nil, "per-coin hashrate override, COIN=hashes_per_second")
}

func runCheck(cmd *cobra.Command, args []string) error {
	overrides, _ := cmd.Flags().GetStringArray("hashrate")
	hashrates, err := parseHashrates(overrides)
	if err != nil {
		return err
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := initializeLogger(cfg, false, "")
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	power := samplePower(ctx, logger, cfg)

	fetcher := pool.NewHTTPFetcher(logger, cfg.Poll.FetchTimeout)
	prices := pool.NewCoinGeckoPriceProvider(logger)

	configured, err := coins.ParseCoin(cfg.Mining.Coin)
	if err != nil {
		return err
	}
	if _, ok := hashrates[configured]; !ok {
		stats, err := fetcher.Fetch(ctx, configured, cfg.Mining.Wallet, cfg.Mining.Worker)
		if err != nil {
			logger.Warn("Pool stats unavailable for configured coin", zap.Error(err))
		} else {
			hashrates[configured] = stats.ReportedHashrate
		}
	}

	var reports []profit.CoinReport
	for _, coin := range coins.Supported() {
		spec, err := coins.Lookup(coin)
		if err != nil {
			return err
		}

		price, err := prices.GetPrice(ctx, string(coin))
		if err != nil {
			logger.Warn("Price unavailable", zap.String("coin", string(coin)), zap.Error(err))
			price = 0
		}

		reports = append(reports, profit.CoinReport{
			Coin: coin,
			Report: profit.Compute(profit.Inputs{
				Coin:            coin,
				Algorithm:       spec.Algorithm,
				HashrateHS:      hashrates[coin],
				PowerWatts:      power,
				PowerCostPerKWH: cfg.Power.CostPerKWH,
				PoolFeeFraction: cfg.Mining.PoolFee,
				PriceUSD:        price,
				NetworkFactor:   spec.NetworkFactor,
				SampleTime:      time.Now().UTC(),
			}),
		})
	}

	printRanking(configured, profit.Rank(reports), power)
	return nil
}

func parseHashrates(overrides []string) (map[coins.Coin]float64, error) {
	hashrates := make(map[coins.Coin]float64)
	for _, override := range overrides {
		parts := strings.SplitN(override, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid hashrate override %q, want COIN=hashes_per_second", override)
		}
		coin, err := coins.ParseCoin(parts[0])
		if err != nil {
			return nil, err
		}
		value, err := strconv.ParseFloat(parts[1], 64)
		if err != nil || value <= 0 {
			return nil, fmt.Errorf("invalid hashrate value %q for %s", parts[1], coin)
		}
		hashrates[coin] = value
	}
	return hashrates, nil
}

// samplePower reads current total GPU power draw, falling back to zero when
// no GPU telemetry is available.
func samplePower(ctx context.Context, logger *zap.Logger, cfg *config.Config) float64 {
	sampler := telemetry.NewNvidiaSampler(logger)
	if !sampler.Available() {
		logger.Info("nvidia-smi not found, power cost assumed zero for this check")
		return 0
	}

	sampleCtx, cancel := context.WithTimeout(ctx, cfg.Poll.TelemetryTimeout)
	defer cancel()

	samples, err := sampler.Sample(sampleCtx)
	if err != nil {
		logger.Warn("GPU telemetry unavailable", zap.Error(err))
		return 0
	}

	var power float64
	for _, sample := range samples {
		power += sample.PowerWatts
	}
	return power
}

func printRanking(configured coins.Coin, ranked []profit.CoinReport, power float64) {
	fmt.Println()
	fmt.Printf("  Profitability check (rig drawing %.0f W)\n", power)
	fmt.Println("  ------------------------------------------------------------")
	fmt.Printf("  %-6s %-12s %-12s %-12s %s\n", "COIN", "REVENUE/DAY", "COST/DAY", "NET/DAY", "NOTES")

	for _, entry := range ranked {
		notes := ""
		if entry.Coin == configured {
			notes = "(configured)"
		}
		if entry.Report.Inputs.HashrateHS <= 0 {
			notes = strings.TrimSpace("no hashrate given " + notes)
		}
		if entry.Report.EstimateUnavailable {
			fmt.Printf("  %-6s %-12s %-12s %-12s %s\n",
				entry.Coin, "-", usd(entry.Report.CostPerDay), "-",
				strings.TrimSpace("unavailable: "+strings.Join(entry.Report.UnavailableReasons, "; ")+" "+notes))
			continue
		}
		fmt.Printf("  %-6s %-12s %-12s %-12s %s\n",
			entry.Coin,
			usd(entry.Report.RevenuePerDay),
			usd(entry.Report.CostPerDay),
			usd(entry.Report.NetProfitPerDay),
			notes,
		)
	}
	fmt.Println()
}

func usd(v float64) string {
	if v < 0 {
		return fmt.Sprintf("-$%s", humanize.CommafWithDigits(-v, 2))
	}
	return fmt.Sprintf("$%s", humanize.CommafWithDigits(v, 2))
}
