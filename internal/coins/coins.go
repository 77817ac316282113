package coins

import (
	"fmt"
	"strings"
)

// Coin identifies a supported mineable coin.
type Coin string

const (
	CoinRVN Coin = "RVN"
	CoinETC Coin = "ETC"
	CoinZEC Coin = "ZEC"
)

// Algorithm identifies a supported proof-of-work algorithm.
type Algorithm string

const (
	AlgoKawpow   Algorithm = "KAWPOW"
	AlgoEthash   Algorithm = "ETHASH"
	AlgoEquihash Algorithm = "EQUIHASH"
)

// NetworkFactorFunc converts market conditions into expected revenue in
// USD per day per H/s. It returns false when the inputs it needs (typically
// the coin price) are unavailable, so callers can flag the estimate instead
// of fabricating one.
type NetworkFactorFunc func(price, difficulty float64) (float64, bool)

// Spec describes how a coin is mined and where its pool statistics live.
type Spec struct {
	Coin          Coin
	Algorithm     Algorithm
	MinerBinary   string
	DefaultPool   string
	NetworkFactor NetworkFactorFunc
	// StatsURL builds the pool account statistics endpoint for a wallet.
	StatsURL func(wallet string) string
	// Args builds the miner command line for a pool URL, wallet and worker.
	Args func(pool, wallet, worker string) []string
}

// registry is the closed set of supported coin specs. Unknown coins and
// algorithms are rejected at configuration time, not discovered at runtime.
var registry = map[Coin]Spec{
	CoinRVN: {
		Coin:          CoinRVN,
		Algorithm:     AlgoKawpow,
		MinerBinary:   "nbminer",
		DefaultPool:   "stratum+tcp://rvn.2miners.com:6060",
		NetworkFactor: perMHFactor(0.05, 0.02),
		StatsURL: func(wallet string) string {
			return "https://rvn.2miners.com/api/accounts/" + wallet
		},
		Args: func(pool, wallet, worker string) []string {
			return []string{"-a", "kawpow", "-o", pool, "-u", wallet + "." + worker}
		},
	},
	CoinETC: {
		Coin:          CoinETC,
		Algorithm:     AlgoEthash,
		MinerBinary:   "lolMiner",
		DefaultPool:   "stratum+tcp://etc.2miners.com:1010",
		NetworkFactor: perMHFactor(0.07, 20.0),
		StatsURL: func(wallet string) string {
			return "https://etc.2miners.com/api/accounts/" + wallet
		},
		Args: func(pool, wallet, worker string) []string {
			return []string{"--algo", "ETHASH", "--pool", pool, "--user", wallet + "." + worker}
		},
	},
	CoinZEC: {
		Coin:          CoinZEC,
		Algorithm:     AlgoEquihash,
		MinerBinary:   "miniZ",
		DefaultPool:   "stratum+tcp://zec.2miners.com:1010",
		NetworkFactor: perSolFactor(0.0009, 30.0),
		StatsURL: func(wallet string) string {
			return "https://zec.2miners.com/api/accounts/" + wallet
		},
		Args: func(pool, wallet, worker string) []string {
			return []string{"--url", pool, "--user", wallet + "." + worker}
		},
	},
}

// perMHFactor builds a factor for MH/s-scale algorithms: usdPerMHDay is the
// expected USD/day for 1 MH/s at the reference coin price refPrice. Revenue
// scales linearly with the live price and inversely with difficulty growth
// when a relative difficulty is supplied.
func perMHFactor(usdPerMHDay, refPrice float64) NetworkFactorFunc {
	return scaledFactor(usdPerMHDay/1e6, refPrice)
}

// perSolFactor is the equihash variant, quoted per Sol/s.
func perSolFactor(usdPerSolDay, refPrice float64) NetworkFactorFunc {
	return scaledFactor(usdPerSolDay, refPrice)
}

func scaledFactor(usdPerHashDay, refPrice float64) NetworkFactorFunc {
	return func(price, difficulty float64) (float64, bool) {
		if price <= 0 {
			return 0, false
		}
		factor := usdPerHashDay * price / refPrice
		if difficulty > 0 {
			factor /= difficulty
		}
		return factor, true
	}
}

// Lookup returns the spec for a coin.
func Lookup(coin Coin) (Spec, error) {
	spec, ok := registry[coin]
	if !ok {
		return Spec{}, fmt.Errorf("unsupported coin: %s", coin)
	}
	return spec, nil
}

// ParseCoin normalizes and validates a coin symbol.
func ParseCoin(s string) (Coin, error) {
	coin := Coin(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := registry[coin]; !ok {
		return "", fmt.Errorf("unsupported coin: %s", s)
	}
	return coin, nil
}

// ParseAlgorithm normalizes and validates an algorithm name.
func ParseAlgorithm(s string) (Algorithm, error) {
	algo := Algorithm(strings.ToUpper(strings.TrimSpace(s)))
	for _, spec := range registry {
		if spec.Algorithm == algo {
			return algo, nil
		}
	}
	return "", fmt.Errorf("unsupported algorithm: %s", s)
}

// Supported returns all registered coins in stable order.
func Supported() []Coin {
	return []Coin{CoinRVN, CoinETC, CoinZEC}
}
