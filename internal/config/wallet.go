package config

import (
	"fmt"
	"regexp"

	"github.com/hikarum/hashwatch/internal/coins"
)

// Coarse per-coin address shapes. Pools reject anything malformed anyway;
// this catches the common copy-paste mistakes before a miner ever launches.
var walletPatterns = map[coins.Coin]*regexp.Regexp{
	coins.CoinRVN: regexp.MustCompile(`^R[1-9A-HJ-NP-Za-km-z]{33}$`),
	coins.CoinETC: regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`),
	coins.CoinZEC: regexp.MustCompile(`^t[13][1-9A-HJ-NP-Za-km-z]{33}$`),
}

func validateWallet(coin coins.Coin, wallet string) error {
	pattern, ok := walletPatterns[coin]
	if !ok {
		return fmt.Errorf("no wallet format known for coin %s", coin)
	}
	if !pattern.MatchString(wallet) {
		return fmt.Errorf("wallet %q is not a valid %s address", wallet, coin)
	}
	return nil
}
