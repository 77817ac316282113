package profit

import (
	"sort"
	"time"

	"github.com/hikarum/hashwatch/internal/coins"
)

// Inputs are everything the profitability computation consumes. The engine
// performs no I/O; price, difficulty and telemetry are sourced by the caller.
type Inputs struct {
	Coin            coins.Coin
	Algorithm       coins.Algorithm
	HashrateHS      float64 // H/s (Sol/s for equihash)
	PowerWatts      float64
	PowerCostPerKWH float64
	PoolFeeFraction float64
	PriceUSD        float64 // <= 0 means unknown
	Difficulty      float64 // <= 0 means unknown
	NetworkFactor   coins.NetworkFactorFunc

	SampleTime  time.Time
	SampleStale bool
}

// InputsUsed records the input values a report was derived from.
type InputsUsed struct {
	Coin            coins.Coin      `json:"coin"`
	Algorithm       coins.Algorithm `json:"algorithm"`
	HashrateHS      float64         `json:"hashrate_hs"`
	PowerWatts      float64         `json:"power_watts"`
	PowerCostPerKWH float64         `json:"power_cost_per_kwh"`
	PriceUSD        float64         `json:"price_usd"`
	Difficulty      float64         `json:"difficulty"`
}

// Report is a profitability estimate for one tick. Immutable once computed.
type Report struct {
	RevenuePerDay   float64 `json:"revenue_per_day"`
	CostPerDay      float64 `json:"cost_per_day"`
	PoolFeeFraction float64 `json:"pool_fee_fraction"`
	PoolFeePerDay   float64 `json:"pool_fee_per_day"`
	NetProfitPerDay float64 `json:"net_profit_per_day"`

	// EstimateUnavailable marks a report whose revenue side could not be
	// computed from real inputs. Cost figures remain valid.
	EstimateUnavailable bool     `json:"estimate_unavailable"`
	UnavailableReasons  []string `json:"unavailable_reasons,omitempty"`

	Inputs      InputsUsed `json:"inputs"`
	SampleTime  time.Time  `json:"sample_time"`
	SampleStale bool       `json:"sample_stale"`
}

// Compute derives a profitability report from the given inputs. It is a pure
// function: identical inputs always produce an identical report.
//
//	revenue_per_day = hashrate × network_factor(price, difficulty)
//	cost_per_day    = power_watts × 24 / 1000 × power_cost_per_kwh
//	net_profit      = revenue − cost − revenue × pool_fee
func Compute(in Inputs) Report {
	report := Report{
		PoolFeeFraction: in.PoolFeeFraction,
		SampleTime:      in.SampleTime,
		SampleStale:     in.SampleStale,
		Inputs: InputsUsed{
			Coin:            in.Coin,
			Algorithm:       in.Algorithm,
			HashrateHS:      in.HashrateHS,
			PowerWatts:      in.PowerWatts,
			PowerCostPerKWH: in.PowerCostPerKWH,
			PriceUSD:        in.PriceUSD,
			Difficulty:      in.Difficulty,
		},
	}

	report.CostPerDay = in.PowerWatts * 24 / 1000 * in.PowerCostPerKWH
	if report.CostPerDay < 0 {
		report.CostPerDay = 0
	}

	if in.NetworkFactor == nil {
		report.EstimateUnavailable = true
		report.UnavailableReasons = append(report.UnavailableReasons, "no network factor for coin")
		report.NetProfitPerDay = -report.CostPerDay
		return report
	}

	factor, ok := in.NetworkFactor(in.PriceUSD, in.Difficulty)
	if !ok {
		report.EstimateUnavailable = true
		report.UnavailableReasons = append(report.UnavailableReasons, "coin price unavailable")
		report.NetProfitPerDay = -report.CostPerDay
		return report
	}

	// Zero or negative hashrate is a valid state (miner warming up or
	// down), not an error.
	if in.HashrateHS > 0 {
		report.RevenuePerDay = in.HashrateHS * factor
	}

	report.PoolFeePerDay = report.RevenuePerDay * in.PoolFeeFraction
	report.NetProfitPerDay = report.RevenuePerDay - report.CostPerDay - report.PoolFeePerDay
	return report
}

// SignFlipped reports whether profitability flipped from profit to loss
// between two consecutive reports. Unavailable estimates never flip.
func SignFlipped(prev, next Report) bool {
	if prev.EstimateUnavailable || next.EstimateUnavailable {
		return false
	}
	return prev.NetProfitPerDay > 0 && next.NetProfitPerDay <= 0
}

// CoinReport pairs a coin with its estimate, for ranking.
type CoinReport struct {
	Coin   coins.Coin
	Report Report
}

// Rank orders coin reports by net profit, best first. Unavailable estimates
// sort last regardless of their numbers.
func Rank(reports []CoinReport) []CoinReport {
	ranked := make([]CoinReport, len(reports))
	copy(ranked, reports)
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i].Report, ranked[j].Report
		if a.EstimateUnavailable != b.EstimateUnavailable {
			return !a.EstimateUnavailable
		}
		return a.NetProfitPerDay > b.NetProfitPerDay
	})
	return ranked
}
