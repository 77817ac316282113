package app

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hikarum/hashwatch/internal/coins"
	"github.com/hikarum/hashwatch/internal/config"
	"github.com/hikarum/hashwatch/internal/notify"
	"github.com/hikarum/hashwatch/internal/pool"
	"github.com/hikarum/hashwatch/internal/status"
	"github.com/hikarum/hashwatch/internal/supervisor"
	"github.com/hikarum/hashwatch/internal/telemetry"
)

func testAppConfig() *config.Config {
	return &config.Config{
		LogLevel: "info",
		Mining: config.MiningConfig{
			Wallet:  "R" + strings.Repeat("a", 33),
			Coin:    "RVN",
			Worker:  "worker01",
			PoolURL: "stratum+tcp://rvn.2miners.com:6060",
			PoolFee: 0.01,
		},
		Power: config.PowerConfig{CostPerKWH: 0.10},
		Poll: config.PollConfig{
			TickInterval:       10 * time.Millisecond,
			PoolFetchEvery:     1,
			TelemetryTimeout:   100 * time.Millisecond,
			FetchTimeout:       100 * time.Millisecond,
			StalenessThreshold: time.Minute,
		},
		Supervisor: config.SupervisorConfig{
			BackoffInitial:    5 * time.Millisecond,
			BackoffMax:        20 * time.Millisecond,
			BackoffResetAfter: time.Minute,
			FailureCeiling:    1,
			HealthGrace:       time.Minute,
			StopGrace:         20 * time.Millisecond,
		},
	}
}

type stubProcess struct {
	output chan string
	exited chan struct{}
}

func newStubProcess() *stubProcess {
	return &stubProcess{output: make(chan string), exited: make(chan struct{})}
}

func (p *stubProcess) Output() <-chan string { return p.output }

func (p *stubProcess) Wait() (int, error) {
	<-p.exited
	return 0, nil
}

func (p *stubProcess) Stop(grace time.Duration) error {
	select {
	case <-p.exited:
	default:
		close(p.output)
		close(p.exited)
	}
	return nil
}

type stubLauncher struct {
	fail bool
}

func (l *stubLauncher) Launch(ctx context.Context, target supervisor.Target) (supervisor.Process, error) {
	if l.fail {
		return nil, errors.New("binary not found")
	}
	return newStubProcess(), nil
}

type stubGPUSampler struct {
	samples []telemetry.GPUSample
	err     error
}

func (s *stubGPUSampler) Sample(ctx context.Context) ([]telemetry.GPUSample, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.samples, nil
}

type stubFetcher struct {
	mu    sync.Mutex
	stats pool.Stats
	err   error
	calls int
}

func (f *stubFetcher) Fetch(ctx context.Context, coin coins.Coin, wallet, worker string) (pool.Stats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return pool.Stats{}, f.err
	}
	stats := f.stats
	stats.FetchedAt = time.Now().UTC()
	return stats, nil
}

type memorySink struct {
	mu        sync.Mutex
	snapshots []status.Snapshot
	closed    bool
}

func (s *memorySink) Write(snapshot status.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots = append(s.snapshots, snapshot)
	return nil
}

func (s *memorySink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *memorySink) all() []status.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]status.Snapshot, len(s.snapshots))
	copy(out, s.snapshots)
	return out
}

type memoryNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *memoryNotifier) Notify(ctx context.Context, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, message)
	return nil
}

func (n *memoryNotifier) all() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.messages))
	copy(out, n.messages)
	return out
}

type testHarness struct {
	app      *App
	launcher *stubLauncher
	gpus     *stubGPUSampler
	fetcher  *stubFetcher
	prices   *pool.StaticPriceProvider
	sink     *memorySink
	store    *status.Store
	notifier *memoryNotifier
}

func newHarness(t *testing.T, cfg *config.Config) *testHarness {
	t.Helper()

	h := &testHarness{
		launcher: &stubLauncher{},
		gpus: &stubGPUSampler{samples: []telemetry.GPUSample{
			{DeviceID: 0, Name: "RTX 3080", PowerWatts: 130, UtilizationPct: 99, Timestamp: time.Now().UTC()},
		}},
		fetcher:  &stubFetcher{stats: pool.Stats{Coin: coins.CoinRVN, Worker: "worker01", ReportedHashrate: 21.5e6}},
		prices:   pool.NewStaticPriceProvider(map[string]float64{"RVN": 0.02}),
		sink:     &memorySink{},
		store:    status.NewStore(),
		notifier: &memoryNotifier{},
	}

	a, err := New(zap.NewNop(), cfg, Deps{
		Launcher:   h.launcher,
		GPUSampler: h.gpus,
		Fetcher:    h.fetcher,
		Prices:     h.prices,
		Sink:       h.sink,
		Store:      h.store,
		Events:     notify.NewEvents(zap.NewNop(), h.notifier),
	})
	require.NoError(t, err)
	h.app = a
	return h
}

func TestTickProducesSnapshotWithReport(t *testing.T) {
	h := newHarness(t, testAppConfig())
	ctx := context.Background()

	require.NoError(t, h.app.sup.Start(ctx))
	h.app.Tick(ctx)

	snap, ok := h.store.Latest()
	require.True(t, ok)
	assert.Equal(t, uint64(1), snap.Tick)
	assert.Equal(t, h.app.RunID(), snap.RunID)
	require.Len(t, snap.Miners, 1)
	assert.Equal(t, coins.CoinRVN, snap.Miners[0].Target.Coin)
	require.NotNil(t, snap.Report)
	assert.False(t, snap.Report.EstimateUnavailable)

	// 130 W at $0.10/kWh burns $0.312 a day.
	assert.InDelta(t, 0.312, snap.Report.CostPerDay, 1e-9)
	assert.Greater(t, snap.Report.RevenuePerDay, 0.0)
	assert.False(t, snap.PoolStale)
	assert.False(t, snap.GPUsStale)

	require.Len(t, h.sink.all(), 1)
}

func TestPoolFetchFailureKeepsLastStats(t *testing.T) {
	h := newHarness(t, testAppConfig())
	ctx := context.Background()

	h.app.Tick(ctx)
	first, ok := h.store.Latest()
	require.True(t, ok)
	require.NotNil(t, first.Pool)

	h.fetcher.mu.Lock()
	h.fetcher.err = errors.New("pool API down")
	h.fetcher.mu.Unlock()

	h.app.Tick(ctx)
	second, ok := h.store.Latest()
	require.True(t, ok)
	require.NotNil(t, second.Pool)
	assert.Equal(t, first.Pool.FetchedAt, second.Pool.FetchedAt)
	// Within the staleness threshold the retained stats still count as fresh.
	assert.False(t, second.PoolStale)
}

func TestTelemetryFailureFlagsStaleAndLoopContinues(t *testing.T) {
	cfg := testAppConfig()
	cfg.Poll.StalenessThreshold = time.Nanosecond
	h := newHarness(t, cfg)
	ctx := context.Background()

	h.app.Tick(ctx)

	h.gpus.err = errors.New("nvidia-smi crashed")
	h.app.Tick(ctx)

	snap, ok := h.store.Latest()
	require.True(t, ok)
	assert.Equal(t, uint64(2), snap.Tick)
	// Last good sample is retained but annotated stale.
	require.Len(t, snap.GPUs, 1)
	assert.True(t, snap.GPUsStale)
	require.NotNil(t, snap.Report)
	assert.True(t, snap.Report.SampleStale)
}

func TestReportCarriesGPUSampleTimestamp(t *testing.T) {
	h := newHarness(t, testAppConfig())
	sampledAt := time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)
	h.gpus.samples = []telemetry.GPUSample{
		{DeviceID: 0, Name: "RTX 3080", PowerWatts: 130, UtilizationPct: 99, Timestamp: sampledAt},
	}

	h.app.Tick(context.Background())

	snap, ok := h.store.Latest()
	require.True(t, ok)
	require.NotNil(t, snap.Report)
	// The report is derived from the GPU sample, not from the pool fetch.
	assert.Equal(t, sampledAt, snap.Report.SampleTime)
	require.NotNil(t, snap.Pool)
	assert.NotEqual(t, snap.Pool.FetchedAt, snap.Report.SampleTime)
}

func TestPayoutThresholdAlertsOncePerCrossing(t *testing.T) {
	cfg := testAppConfig()
	cfg.Mining.PayoutThreshold = 100
	h := newHarness(t, cfg)
	ctx := context.Background()

	payoutAlerts := func() []string {
		var out []string
		for _, msg := range h.notifier.all() {
			if strings.Contains(msg, "payout threshold") {
				out = append(out, msg)
			}
		}
		return out
	}
	setBalance := func(v float64) {
		h.fetcher.mu.Lock()
		h.fetcher.stats.PendingBalance = v
		h.fetcher.mu.Unlock()
	}

	setBalance(50)
	h.app.Tick(ctx)
	assert.Empty(t, payoutAlerts())

	setBalance(120.5)
	h.app.Tick(ctx)
	h.app.Tick(ctx)
	require.Len(t, payoutAlerts(), 1)
	assert.Contains(t, payoutAlerts()[0], "120.5")

	// A payout drains the balance, which rearms the alert.
	setBalance(1)
	h.app.Tick(ctx)
	setBalance(130)
	h.app.Tick(ctx)
	assert.Len(t, payoutAlerts(), 2)
}

func TestMissingPriceFlagsEstimateUnavailable(t *testing.T) {
	h := newHarness(t, testAppConfig())
	h.prices = pool.NewStaticPriceProvider(nil)
	h.app.deps.Prices = h.prices

	h.app.Tick(context.Background())

	snap, ok := h.store.Latest()
	require.True(t, ok)
	require.NotNil(t, snap.Report)
	assert.True(t, snap.Report.EstimateUnavailable)
	assert.NotEmpty(t, snap.Report.UnavailableReasons)
	// Power cost is still real even when revenue is unknown.
	assert.InDelta(t, 0.312, snap.Report.CostPerDay, 1e-9)
}

func TestSignFlipTriggersAlert(t *testing.T) {
	h := newHarness(t, testAppConfig())
	ctx := context.Background()

	h.app.Tick(ctx)
	report, ok := h.app.LatestReport()
	require.True(t, ok)
	require.Greater(t, report.NetProfitPerDay, 0.0)

	h.prices.SetPrice("RVN", 0.0001)
	h.app.Tick(ctx)
	report, ok = h.app.LatestReport()
	require.True(t, ok)
	require.Less(t, report.NetProfitPerDay, 0.0)

	messages := h.notifier.all()
	require.NotEmpty(t, messages)
	assert.Contains(t, messages[len(messages)-1], "unprofitable")
}

func TestPoolFetchCadence(t *testing.T) {
	cfg := testAppConfig()
	cfg.Poll.PoolFetchEvery = 3
	h := newHarness(t, cfg)
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		h.app.Tick(ctx)
	}

	h.fetcher.mu.Lock()
	calls := h.fetcher.calls
	h.fetcher.mu.Unlock()
	assert.Equal(t, 2, calls)
}

func TestRunReturnsErrorWhenMinerFails(t *testing.T) {
	cfg := testAppConfig()
	h := newHarness(t, cfg)
	h.launcher.fail = true

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := h.app.Run(ctx)
	require.ErrorIs(t, err, ErrMinerFailed)

	assert.True(t, h.sink.closed)

	var failedAlert bool
	for _, msg := range h.notifier.all() {
		if strings.Contains(msg, "failed permanently") {
			failedAlert = true
		}
	}
	assert.True(t, failedAlert)
}

func TestRunStopsCleanlyOnCancel(t *testing.T) {
	h := newHarness(t, testAppConfig())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.app.Run(ctx) }()

	require.Eventually(t, func() bool {
		_, ok := h.store.Latest()
		return ok
	}, time.Second, time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not exit after cancel")
	}

	assert.True(t, h.sink.closed)
	assert.Equal(t, supervisor.StatusStopped, h.app.sup.State().Status)
}
