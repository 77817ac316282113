package monitoring

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/hikarum/hashwatch/internal/profit"
	"github.com/hikarum/hashwatch/internal/supervisor"
	"github.com/hikarum/hashwatch/internal/telemetry"
)

// MetricsExporter provides Prometheus metrics export functionality
type MetricsExporter struct {
	logger   *zap.Logger
	config   MetricsConfig
	server   *http.Server
	registry *prometheus.Registry

	// Telemetry metrics
	gpuPowerDraw   *prometheus.GaugeVec
	gpuUtilization *prometheus.GaugeVec
	gpuTemperature *prometheus.GaugeVec
	cpuUsage       prometheus.Gauge
	memoryUsage    prometheus.Gauge

	// Pool metrics
	poolHashrate    *prometheus.GaugeVec
	pendingBalance  *prometheus.GaugeVec
	poolFetchErrors *prometheus.CounterVec

	// Profitability metrics
	revenuePerDay *prometheus.GaugeVec
	costPerDay    *prometheus.GaugeVec
	netProfit     *prometheus.GaugeVec

	// Supervision metrics
	minerState    *prometheus.GaugeVec
	minerRestarts *prometheus.CounterVec

	lastRestartCount map[string]int
}

// MetricsConfig defines metrics exporter configuration
type MetricsConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ListenAddr  string `yaml:"listen_addr"`
	MetricsPath string `yaml:"metrics_path"`
	Namespace   string `yaml:"namespace"`
}

// NewMetricsExporter creates a new metrics exporter
func NewMetricsExporter(logger *zap.Logger, config MetricsConfig) *MetricsExporter {
	// Set defaults
	if config.ListenAddr == "" {
		config.ListenAddr = ":9090"
	}
	if config.MetricsPath == "" {
		config.MetricsPath = "/metrics"
	}
	if config.Namespace == "" {
		config.Namespace = "hashwatch"
	}

	me := &MetricsExporter{
		logger:           logger,
		config:           config,
		registry:         prometheus.NewRegistry(),
		lastRestartCount: make(map[string]int),
	}

	me.initializeMetrics()

	return me
}

func (me *MetricsExporter) initializeMetrics() {
	ns := me.config.Namespace

	me.gpuPowerDraw = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: ns,
		Name:      "gpu_power_watts",
		Help:      "GPU power draw in watts",
	}, []string{"device", "name"})

	me.gpuUtilization = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: ns,
		Name:      "gpu_utilization_percent",
		Help:      "GPU utilization percentage",
	}, []string{"device", "name"})

	me.gpuTemperature = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: ns,
		Name:      "gpu_temperature_celsius",
		Help:      "GPU temperature in celsius",
	}, []string{"device", "name"})

	me.cpuUsage = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: ns,
		Name:      "host_cpu_percent",
		Help:      "Host CPU usage percentage",
	})

	me.memoryUsage = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: ns,
		Name:      "host_memory_percent",
		Help:      "Host memory usage percentage",
	})

	me.poolHashrate = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: ns,
		Name:      "pool_reported_hashrate",
		Help:      "Pool-reported hashrate in hashes per second",
	}, []string{"coin", "worker"})

	me.pendingBalance = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: ns,
		Name:      "pool_pending_balance",
		Help:      "Unpaid balance at the pool in coin units",
	}, []string{"coin"})

	me.poolFetchErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns,
		Name:      "pool_fetch_errors_total",
		Help:      "Total failed pool stats fetches",
	}, []string{"coin"})

	me.revenuePerDay = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: ns,
		Name:      "revenue_usd_per_day",
		Help:      "Estimated gross revenue in USD per day",
	}, []string{"coin"})

	me.costPerDay = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: ns,
		Name:      "power_cost_usd_per_day",
		Help:      "Estimated electricity cost in USD per day",
	}, []string{"coin"})

	me.netProfit = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: ns,
		Name:      "net_profit_usd_per_day",
		Help:      "Estimated net profit in USD per day",
	}, []string{"coin"})

	me.minerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: ns,
		Name:      "miner_state",
		Help:      "Miner supervision state (1 for the active state, 0 otherwise)",
	}, []string{"coin", "state"})

	me.minerRestarts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns,
		Name:      "miner_restarts_total",
		Help:      "Total miner process restarts",
	}, []string{"coin"})

	me.registry.MustRegister(
		me.gpuPowerDraw,
		me.gpuUtilization,
		me.gpuTemperature,
		me.cpuUsage,
		me.memoryUsage,
		me.poolHashrate,
		me.pendingBalance,
		me.poolFetchErrors,
		me.revenuePerDay,
		me.costPerDay,
		me.netProfit,
		me.minerState,
		me.minerRestarts,
	)
}

// Start begins metrics export and blocks until the context is cancelled
func (me *MetricsExporter) Start(ctx context.Context) error {
	if !me.config.Enabled {
		me.logger.Info("Metrics exporter disabled")
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(me.config.MetricsPath, promhttp.HandlerFor(me.registry, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
	}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	me.server = &http.Server{
		Addr:    me.config.ListenAddr,
		Handler: mux,
	}

	go func() {
		me.logger.Info("Starting metrics exporter",
			zap.String("address", me.config.ListenAddr),
			zap.String("path", me.config.MetricsPath),
		)

		if err := me.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			me.logger.Error("Metrics server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	return me.Stop()
}

// Stop halts metrics export
func (me *MetricsExporter) Stop() error {
	if me.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := me.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shutdown metrics server: %w", err)
		}
	}

	me.logger.Info("Metrics exporter stopped")
	return nil
}

// UpdateGPUMetrics updates per-GPU telemetry gauges
func (me *MetricsExporter) UpdateGPUMetrics(samples []telemetry.GPUSample) {
	for _, sample := range samples {
		device := fmt.Sprintf("%d", sample.DeviceID)
		me.gpuPowerDraw.WithLabelValues(device, sample.Name).Set(sample.PowerWatts)
		me.gpuUtilization.WithLabelValues(device, sample.Name).Set(sample.UtilizationPct)
		me.gpuTemperature.WithLabelValues(device, sample.Name).Set(sample.TemperatureC)
	}
}

// UpdateHostMetrics updates host resource gauges
func (me *MetricsExporter) UpdateHostMetrics(sample telemetry.HostSample) {
	me.cpuUsage.Set(sample.CPUPercent)
	me.memoryUsage.Set(sample.MemUsedPercent)
}

// UpdatePoolMetrics updates pool-reported gauges
func (me *MetricsExporter) UpdatePoolMetrics(coin, worker string, hashrate, balance float64) {
	me.poolHashrate.WithLabelValues(coin, worker).Set(hashrate)
	me.pendingBalance.WithLabelValues(coin).Set(balance)
}

// RecordPoolFetchError records a failed pool stats fetch
func (me *MetricsExporter) RecordPoolFetchError(coin string) {
	me.poolFetchErrors.WithLabelValues(coin).Inc()
}

// UpdateProfitMetrics updates profitability gauges. Metrics are skipped
// entirely when the estimate is unavailable rather than exporting zeros.
func (me *MetricsExporter) UpdateProfitMetrics(coin string, report profit.Report) {
	if report.EstimateUnavailable {
		return
	}
	me.revenuePerDay.WithLabelValues(coin).Set(report.RevenuePerDay)
	me.costPerDay.WithLabelValues(coin).Set(report.CostPerDay)
	me.netProfit.WithLabelValues(coin).Set(report.NetProfitPerDay)
}

// UpdateMinerMetrics updates supervision state gauges and restart counters
func (me *MetricsExporter) UpdateMinerMetrics(state supervisor.State) {
	coin := string(state.Target.Coin)

	for _, s := range []supervisor.Status{
		supervisor.StatusStopped,
		supervisor.StatusStarting,
		supervisor.StatusRunning,
		supervisor.StatusUnhealthy,
		supervisor.StatusBackoffWait,
		supervisor.StatusFailed,
	} {
		value := 0.0
		if s == state.Status {
			value = 1.0
		}
		me.minerState.WithLabelValues(coin, string(s)).Set(value)
	}

	if prev, ok := me.lastRestartCount[coin]; ok && state.RestartCount > prev {
		me.minerRestarts.WithLabelValues(coin).Add(float64(state.RestartCount - prev))
	}
	me.lastRestartCount[coin] = state.RestartCount
}

// Registry exposes the underlying registry for tests
func (me *MetricsExporter) Registry() *prometheus.Registry {
	return me.registry
}
