package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hikarum/hashwatch/internal/api"
	"github.com/hikarum/hashwatch/internal/coins"
	"github.com/hikarum/hashwatch/internal/config"
	"github.com/hikarum/hashwatch/internal/monitoring"
	"github.com/hikarum/hashwatch/internal/notify"
	"github.com/hikarum/hashwatch/internal/pool"
	"github.com/hikarum/hashwatch/internal/profit"
	"github.com/hikarum/hashwatch/internal/status"
	"github.com/hikarum/hashwatch/internal/supervisor"
	"github.com/hikarum/hashwatch/internal/telemetry"
)

// ErrMinerFailed is returned by Run when the supervised miner exhausts its
// restart budget and the daemon has nothing left to supervise.
var ErrMinerFailed = fmt.Errorf("miner failed permanently")

// Deps are the injectable collaborators of the orchestrator. Production
// wiring comes from NewFromConfig; tests substitute fakes.
type Deps struct {
	Launcher    supervisor.Launcher
	GPUSampler  telemetry.GPUSampler
	HostSampler telemetry.HostSampler
	Fetcher     pool.Fetcher
	Prices      pool.PriceProvider
	Sink        status.Sink
	Store       *status.Store
	Metrics     *monitoring.MetricsExporter
	Events      *notify.Events
}

// App drives the supervision and telemetry tick loop for one mining target.
type App struct {
	logger *zap.Logger
	config *config.Config
	spec   coins.Spec
	deps   Deps

	sup   *supervisor.Supervisor
	runID string

	mu          sync.Mutex
	tick        uint64
	startedAt   time.Time
	lastGPUs    []telemetry.GPUSample
	lastGPUTime time.Time
	lastHost    *telemetry.HostSample
	lastPool    *pool.Stats
	lastPrice   float64
	lastReport  *profit.Report
	failedSeen  bool
	payoutSeen  bool
}

// New creates the orchestrator with explicit dependencies.
func New(logger *zap.Logger, cfg *config.Config, deps Deps) (*App, error) {
	coin, err := coins.ParseCoin(cfg.Mining.Coin)
	if err != nil {
		return nil, err
	}
	spec, err := coins.Lookup(coin)
	if err != nil {
		return nil, err
	}

	binary := cfg.Mining.MinerBinary
	if binary == "" {
		binary = spec.MinerBinary
	}

	target := supervisor.Target{
		Coin:      spec.Coin,
		Algorithm: spec.Algorithm,
		Binary:    binary,
		Args:      spec.Args(cfg.Mining.PoolURL, cfg.Mining.Wallet, cfg.Mining.Worker),
	}

	supConfig := supervisor.Config{
		BackoffInitial:    cfg.Supervisor.BackoffInitial,
		BackoffMax:        cfg.Supervisor.BackoffMax,
		BackoffResetAfter: cfg.Supervisor.BackoffResetAfter,
		FailureCeiling:    cfg.Supervisor.FailureCeiling,
		HealthGrace:       cfg.Supervisor.HealthGrace,
		StopGrace:         cfg.Supervisor.StopGrace,
		ProgressKeywords:  cfg.Supervisor.ProgressKeywords,
	}

	return &App{
		logger: logger,
		config: cfg,
		spec:   spec,
		deps:   deps,
		sup:    supervisor.New(logger, supConfig, target, deps.Launcher),
		runID:  uuid.New().String(),
	}, nil
}

// NewFromConfig creates the orchestrator with production dependencies.
func NewFromConfig(logger *zap.Logger, cfg *config.Config) (*App, error) {
	var notifier notify.Notifier
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		notifier = notify.NewTelegramNotifier(logger, cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID)
	} else {
		logger.Info("No Telegram credentials configured, alerts go to the log only")
		notifier = notify.NewLogNotifier(logger)
	}

	deps := Deps{
		Launcher:    supervisor.NewExecLauncher(logger),
		GPUSampler:  telemetry.NewNvidiaSampler(logger),
		HostSampler: telemetry.NewHostSampler(logger),
		Fetcher:     pool.NewHTTPFetcher(logger, cfg.Poll.FetchTimeout),
		Prices:      pool.NewCoinGeckoPriceProvider(logger),
		Sink:        status.NewJSONLSink(logger, status.Config(cfg.Status)),
		Store:       status.NewStore(),
		Metrics: monitoring.NewMetricsExporter(logger, monitoring.MetricsConfig{
			Enabled:    cfg.Monitoring.Enabled,
			ListenAddr: cfg.Monitoring.ListenAddr,
		}),
		Events: notify.NewEvents(logger, notifier),
	}
	return New(logger, cfg, deps)
}

// RunID identifies this daemon invocation in status records.
func (a *App) RunID() string { return a.runID }

// Run starts the miner and drives the tick loop until the context is
// cancelled or the miner fails permanently. It always stops the miner and
// flushes the status sink before returning.
func (a *App) Run(ctx context.Context) error {
	a.mu.Lock()
	a.startedAt = time.Now().UTC()
	a.mu.Unlock()

	serverCtx, cancelServers := context.WithCancel(context.Background())
	var servers sync.WaitGroup
	defer func() {
		cancelServers()
		servers.Wait()
	}()

	if a.deps.Metrics != nil {
		servers.Add(1)
		go func() {
			defer servers.Done()
			if err := a.deps.Metrics.Start(serverCtx); err != nil {
				a.logger.Error("Metrics exporter stopped with error", zap.Error(err))
			}
		}()
	}
	if a.config.API.Enabled && a.deps.Store != nil {
		apiServer := api.NewServer(a.logger, api.Config(a.config.API), a.deps.Store)
		servers.Add(1)
		go func() {
			defer servers.Done()
			if err := apiServer.Start(serverCtx); err != nil {
				a.logger.Error("Status API stopped with error", zap.Error(err))
			}
		}()
	}

	if err := a.sup.Start(ctx); err != nil {
		a.logger.Warn("Initial miner launch failed, restart policy takes over", zap.Error(err))
	}
	a.deps.Events.Startup(ctx, a.spec.Coin, a.config.Mining.Worker)

	ticker := time.NewTicker(a.config.Poll.TickInterval)
	defer ticker.Stop()

	// Establish a first snapshot immediately rather than a tick later.
	a.doTick(ctx)

	var runErr error
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
			a.doTick(ctx)
			if a.sup.State().Status == supervisor.StatusFailed {
				runErr = ErrMinerFailed
				break loop
			}
		}
	}

	a.shutdown()
	return runErr
}

// shutdown stops the miner with its grace period and flushes the sink.
func (a *App) shutdown() {
	stopCtx, cancel := context.WithTimeout(context.Background(), a.config.Supervisor.StopGrace*2)
	defer cancel()

	if err := a.sup.Stop(stopCtx); err != nil {
		a.logger.Error("Miner stop failed during shutdown", zap.Error(err))
	}
	if err := a.deps.Sink.Close(); err != nil {
		a.logger.Error("Status sink close failed", zap.Error(err))
	}

	a.mu.Lock()
	uptime := time.Since(a.startedAt)
	a.mu.Unlock()
	a.deps.Events.Shutdown(stopCtx, uptime)
	a.logger.Info("Shutdown complete", zap.Duration("uptime", uptime))
}

// doTick executes one tick: health check and restart decisions first, then
// telemetry, then pool data, then the report, then the status record. A
// report never hides a restart decision made in the same tick.
func (a *App) doTick(ctx context.Context) {
	a.mu.Lock()
	a.tick++
	tick := a.tick
	a.mu.Unlock()

	a.sup.Tick(ctx, a.peakGPUUtilization())

	a.sampleTelemetry(ctx)

	if (tick-1)%uint64(a.config.Poll.PoolFetchEvery) == 0 {
		a.fetchPoolData(ctx)
	}

	report := a.computeReport()
	a.emit(ctx, tick, report)
}

// peakGPUUtilization is the busiest GPU's utilization from the last sample,
// used as the secondary liveness signal.
func (a *App) peakGPUUtilization() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	peak := 0.0
	for _, gpu := range a.lastGPUs {
		if gpu.UtilizationPct > peak {
			peak = gpu.UtilizationPct
		}
	}
	return peak
}

func (a *App) sampleTelemetry(ctx context.Context) {
	sampleCtx, cancel := context.WithTimeout(ctx, a.config.Poll.TelemetryTimeout)
	defer cancel()

	gpus, err := a.deps.GPUSampler.Sample(sampleCtx)
	a.mu.Lock()
	if err != nil {
		a.logger.Warn("GPU telemetry unavailable, keeping last sample", zap.Error(err))
	} else {
		a.lastGPUs = gpus
		a.lastGPUTime = time.Now().UTC()
	}
	a.mu.Unlock()

	if a.deps.HostSampler != nil {
		host, err := a.deps.HostSampler.SampleHost(sampleCtx)
		a.mu.Lock()
		if err != nil {
			a.logger.Debug("Host telemetry unavailable", zap.Error(err))
		} else {
			a.lastHost = &host
		}
		a.mu.Unlock()
	}
}

func (a *App) fetchPoolData(ctx context.Context) {
	fetchCtx, cancel := context.WithTimeout(ctx, a.config.Poll.FetchTimeout)
	defer cancel()

	stats, err := a.deps.Fetcher.Fetch(fetchCtx, a.spec.Coin, a.config.Mining.Wallet, a.config.Mining.Worker)
	if err != nil {
		a.logger.Warn("Pool stats fetch failed, keeping last stats", zap.Error(err))
		if a.deps.Metrics != nil {
			a.deps.Metrics.RecordPoolFetchError(string(a.spec.Coin))
		}
	} else {
		a.mu.Lock()
		a.lastPool = &stats
		a.mu.Unlock()
	}

	price, err := a.deps.Prices.GetPrice(fetchCtx, string(a.spec.Coin))
	if err != nil {
		a.logger.Warn("Price fetch failed, keeping last price", zap.Error(err))
	} else {
		a.mu.Lock()
		a.lastPrice = price
		a.mu.Unlock()
	}
}

// computeReport assembles engine inputs from the latest telemetry and pool
// data. Missing inputs stay missing; the engine flags the estimate rather
// than inventing numbers.
func (a *App) computeReport() profit.Report {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := time.Now().UTC()

	var hashrate float64
	poolStale := true
	if a.lastPool != nil {
		hashrate = a.lastPool.ReportedHashrate
		poolStale = now.Sub(a.lastPool.FetchedAt) > a.config.Poll.StalenessThreshold
	}

	// The report is derived from the GPU sample, so that is the timestamp
	// it carries. Pool age is tracked separately through the stale flag.
	var power float64
	var sampleTime time.Time
	for _, gpu := range a.lastGPUs {
		power += gpu.PowerWatts
		if gpu.Timestamp.After(sampleTime) {
			sampleTime = gpu.Timestamp
		}
	}
	if sampleTime.IsZero() {
		sampleTime = a.lastGPUTime
	}
	gpusStale := a.lastGPUTime.IsZero() || now.Sub(a.lastGPUTime) > a.config.Poll.StalenessThreshold

	report := profit.Compute(profit.Inputs{
		Coin:            a.spec.Coin,
		Algorithm:       a.spec.Algorithm,
		HashrateHS:      hashrate,
		PowerWatts:      power,
		PowerCostPerKWH: a.config.Power.CostPerKWH,
		PoolFeeFraction: a.config.Mining.PoolFee,
		PriceUSD:        a.lastPrice,
		NetworkFactor:   a.spec.NetworkFactor,
		SampleTime:      sampleTime,
		SampleStale:     poolStale || gpusStale,
	})
	return report
}

// emit publishes the tick's snapshot to the sink, the in-memory store, the
// metrics exporter, and the alerting layer.
func (a *App) emit(ctx context.Context, tick uint64, report profit.Report) {
	state := a.sup.State()
	now := time.Now().UTC()

	a.mu.Lock()
	prevReport := a.lastReport
	a.lastReport = &report

	snapshot := status.Snapshot{
		Time:   now,
		RunID:  a.runID,
		Tick:   tick,
		Miners: []supervisor.State{state},
		GPUs:   append([]telemetry.GPUSample(nil), a.lastGPUs...),
		Host:   a.lastHost,
		Pool:   a.lastPool,
		Report: &report,
	}
	if a.lastPool != nil {
		snapshot.PoolStale = now.Sub(a.lastPool.FetchedAt) > a.config.Poll.StalenessThreshold
	}
	snapshot.GPUsStale = a.lastGPUTime.IsZero() || now.Sub(a.lastGPUTime) > a.config.Poll.StalenessThreshold

	failedNow := state.Status == supervisor.StatusFailed && !a.failedSeen
	if failedNow {
		a.failedSeen = true
	}

	// Alert once per threshold crossing; a payout drains the pending
	// balance, which rearms the alert.
	payoutNow := false
	var pendingBalance float64
	if threshold := a.config.Mining.PayoutThreshold; threshold > 0 && a.lastPool != nil {
		pendingBalance = a.lastPool.PendingBalance
		if pendingBalance >= threshold {
			payoutNow = !a.payoutSeen
			a.payoutSeen = true
		} else {
			a.payoutSeen = false
		}
	}
	a.mu.Unlock()

	if err := a.deps.Sink.Write(snapshot); err != nil {
		a.logger.Error("Status record write failed", zap.Error(err))
	}
	if a.deps.Store != nil {
		a.deps.Store.Set(snapshot)
	}

	if a.deps.Metrics != nil {
		a.deps.Metrics.UpdateMinerMetrics(state)
		a.deps.Metrics.UpdateGPUMetrics(snapshot.GPUs)
		if snapshot.Host != nil {
			a.deps.Metrics.UpdateHostMetrics(*snapshot.Host)
		}
		if snapshot.Pool != nil {
			a.deps.Metrics.UpdatePoolMetrics(string(snapshot.Pool.Coin), snapshot.Pool.Worker,
				snapshot.Pool.ReportedHashrate, snapshot.Pool.PendingBalance)
		}
		a.deps.Metrics.UpdateProfitMetrics(string(a.spec.Coin), report)
	}

	if prevReport != nil && profit.SignFlipped(*prevReport, report) {
		a.logger.Warn("Net profitability flipped to loss",
			zap.Float64("net_profit_per_day", report.NetProfitPerDay))
		a.deps.Events.ProfitSignFlip(ctx, a.spec.Coin, report)
	}
	if payoutNow {
		a.logger.Info("Pending balance reached payout threshold",
			zap.Float64("pending_balance", pendingBalance),
			zap.Float64("payout_threshold", a.config.Mining.PayoutThreshold))
		a.deps.Events.PayoutReached(ctx, a.spec.Coin, pendingBalance, a.config.Mining.PayoutThreshold)
	}
	if failedNow {
		a.deps.Events.MinerFailed(ctx, a.spec.Coin, state.ConsecutiveFailures)
	}
}

// Tick runs a single tick. Exposed for tests and the one-shot check command.
func (a *App) Tick(ctx context.Context) {
	a.doTick(ctx)
}

// LatestReport returns the most recent profitability report, if any.
func (a *App) LatestReport() (profit.Report, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.lastReport == nil {
		return profit.Report{}, false
	}
	return *a.lastReport, true
}
