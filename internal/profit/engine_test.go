package profit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hikarum/hashwatch/internal/coins"
)

// flatFactor returns the same USD/day-per-hash regardless of market inputs.
func flatFactor(perHashDay float64) coins.NetworkFactorFunc {
	return func(price, difficulty float64) (float64, bool) {
		return perHashDay, true
	}
}

func unavailableFactor(price, difficulty float64) (float64, bool) {
	return 0, false
}

func TestComputeCostPerDay(t *testing.T) {
	// 130 W at $0.10/kWh runs $0.312/day.
	report := Compute(Inputs{
		PowerWatts:      130,
		PowerCostPerKWH: 0.10,
		NetworkFactor:   flatFactor(0),
	})
	assert.InDelta(t, 0.312, report.CostPerDay, 1e-9)
}

func TestComputeNetProfit(t *testing.T) {
	// 26 MH/s with revenue $2.00/day, 1% fee, $0.31/day power.
	hashrate := 26e6
	report := Compute(Inputs{
		HashrateHS:      hashrate,
		PowerWatts:      129.166666666667, // 0.31/day at $0.10/kWh
		PowerCostPerKWH: 0.10,
		PoolFeeFraction: 0.01,
		NetworkFactor:   flatFactor(2.00 / hashrate),
	})

	require.False(t, report.EstimateUnavailable)
	assert.InDelta(t, 2.00, report.RevenuePerDay, 1e-9)
	assert.InDelta(t, 0.31, report.CostPerDay, 1e-9)
	assert.InDelta(t, 0.02, report.PoolFeePerDay, 1e-9)
	assert.InDelta(t, 1.67, report.NetProfitPerDay, 1e-9)
}

func TestComputeZeroHashrateYieldsZeroRevenue(t *testing.T) {
	for _, hashrate := range []float64{0, -5} {
		report := Compute(Inputs{
			HashrateHS:      hashrate,
			PowerWatts:      100,
			PowerCostPerKWH: 0.10,
			NetworkFactor:   flatFactor(1e-6),
		})
		assert.False(t, report.EstimateUnavailable)
		assert.Zero(t, report.RevenuePerDay)
		assert.Negative(t, report.NetProfitPerDay)
	}
}

func TestComputeNonNegativeInvariants(t *testing.T) {
	cases := []Inputs{
		{HashrateHS: 0, PowerWatts: 0, PowerCostPerKWH: 0, NetworkFactor: flatFactor(0)},
		{HashrateHS: 1e6, PowerWatts: 50, PowerCostPerKWH: 0.5, NetworkFactor: flatFactor(1e-7)},
		{HashrateHS: 5e9, PowerWatts: 900, PowerCostPerKWH: 0.02, NetworkFactor: flatFactor(1e-10)},
	}
	for _, in := range cases {
		report := Compute(in)
		assert.GreaterOrEqual(t, report.RevenuePerDay, 0.0)
		assert.GreaterOrEqual(t, report.CostPerDay, 0.0)
	}
}

func TestComputeUnavailableWithoutPrice(t *testing.T) {
	report := Compute(Inputs{
		HashrateHS:      26e6,
		PowerWatts:      130,
		PowerCostPerKWH: 0.10,
		NetworkFactor:   unavailableFactor,
	})

	assert.True(t, report.EstimateUnavailable)
	assert.Contains(t, report.UnavailableReasons, "coin price unavailable")
	// Revenue is never fabricated; cost side stays real.
	assert.Zero(t, report.RevenuePerDay)
	assert.InDelta(t, 0.312, report.CostPerDay, 1e-9)
	assert.InDelta(t, -0.312, report.NetProfitPerDay, 1e-9)
}

func TestComputeUnavailableWithoutFactor(t *testing.T) {
	report := Compute(Inputs{HashrateHS: 1e6, NetworkFactor: nil})
	assert.True(t, report.EstimateUnavailable)
	assert.Contains(t, report.UnavailableReasons, "no network factor for coin")
}

func TestComputeIsDeterministic(t *testing.T) {
	in := Inputs{
		Coin:            coins.CoinETC,
		Algorithm:       coins.AlgoEthash,
		HashrateHS:      55e6,
		PowerWatts:      170,
		PowerCostPerKWH: 0.11,
		PoolFeeFraction: 0.01,
		PriceUSD:        25.0,
		NetworkFactor:   flatFactor(4.2e-8),
		SampleTime:      time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
	}

	first := Compute(in)
	second := Compute(in)
	assert.Equal(t, first, second)
}

func TestReportCarriesSampleTime(t *testing.T) {
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	report := Compute(Inputs{NetworkFactor: flatFactor(0), SampleTime: at, SampleStale: true})
	assert.Equal(t, at, report.SampleTime)
	assert.True(t, report.SampleStale)
}

func TestSignFlipped(t *testing.T) {
	profit := Report{NetProfitPerDay: 1.5}
	loss := Report{NetProfitPerDay: -0.2}
	unavailable := Report{NetProfitPerDay: -0.2, EstimateUnavailable: true}

	assert.True(t, SignFlipped(profit, loss))
	assert.False(t, SignFlipped(loss, profit))
	assert.False(t, SignFlipped(loss, loss))
	assert.False(t, SignFlipped(profit, unavailable))
	assert.False(t, SignFlipped(unavailable, loss))
}

func TestRank(t *testing.T) {
	reports := []CoinReport{
		{Coin: coins.CoinRVN, Report: Report{NetProfitPerDay: 0.4}},
		{Coin: coins.CoinZEC, Report: Report{NetProfitPerDay: 9.9, EstimateUnavailable: true}},
		{Coin: coins.CoinETC, Report: Report{NetProfitPerDay: 1.2}},
	}

	ranked := Rank(reports)
	require.Len(t, ranked, 3)
	assert.Equal(t, coins.CoinETC, ranked[0].Coin)
	assert.Equal(t, coins.CoinRVN, ranked[1].Coin)
	assert.Equal(t, coins.CoinZEC, ranked[2].Coin)

	// Input order is untouched.
	assert.Equal(t, coins.CoinRVN, reports[0].Coin)
}
