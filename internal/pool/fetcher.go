package pool

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/hikarum/hashwatch/internal/coins"
)

// Stats is a snapshot of pool-reported account statistics.
type Stats struct {
	Coin             coins.Coin `json:"coin"`
	Worker           string     `json:"worker"`
	ReportedHashrate float64    `json:"reported_hashrate"`
	PendingBalance   float64    `json:"pending_balance"`
	LastShareTime    time.Time  `json:"last_share_time"`
	FetchedAt        time.Time  `json:"fetched_at"`
}

// FetchError reports a failed or malformed pool statistics fetch. Soft by
// contract: the caller reuses its last successful Stats, annotated stale.
type FetchError struct {
	Coin   coins.Coin
	Reason string
	Err    error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("pool stats %s: %s: %v", e.Coin, e.Reason, e.Err)
	}
	return fmt.Sprintf("pool stats %s: %s", e.Coin, e.Reason)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Fetcher retrieves account statistics from a pool API.
type Fetcher interface {
	Fetch(ctx context.Context, coin coins.Coin, wallet, worker string) (Stats, error)
}

// accountResponse matches the 2miners-style account statistics schema.
type accountResponse struct {
	CurrentHashrate float64 `json:"currentHashrate"`
	Hashrate        float64 `json:"hashrate"`
	Stats           struct {
		Balance   float64 `json:"balance"`
		LastShare int64   `json:"lastShare"`
	} `json:"stats"`
	WorkersOnline int `json:"workersOnline"`
}

// HTTPFetcher fetches pool statistics over HTTPS with a short timeout.
type HTTPFetcher struct {
	logger *zap.Logger
	client *http.Client
	// baseURL overrides the coin's stats endpoint when non-empty (tests).
	baseURL string
}

// NewHTTPFetcher creates a pool stats fetcher.
func NewHTTPFetcher(logger *zap.Logger, timeout time.Duration) *HTTPFetcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPFetcher{
		logger: logger,
		client: &http.Client{Timeout: timeout},
	}
}

// NewHTTPFetcherWithBase creates a fetcher pinned to one endpoint base URL.
func NewHTTPFetcherWithBase(logger *zap.Logger, timeout time.Duration, baseURL string) *HTTPFetcher {
	f := NewHTTPFetcher(logger, timeout)
	f.baseURL = baseURL
	return f
}

// Fetch retrieves account statistics for a wallet. Timeouts, HTTP errors
// and schema mismatches all come back as *FetchError.
func (f *HTTPFetcher) Fetch(ctx context.Context, coin coins.Coin, wallet, worker string) (Stats, error) {
	url, err := f.statsURL(coin, wallet)
	if err != nil {
		return Stats{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Stats{}, &FetchError{Coin: coin, Reason: "build request", Err: err}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return Stats{}, &FetchError{Coin: coin, Reason: "request failed", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Stats{}, &FetchError{Coin: coin, Reason: fmt.Sprintf("unexpected status %d", resp.StatusCode)}
	}

	var account accountResponse
	if err := json.NewDecoder(resp.Body).Decode(&account); err != nil {
		return Stats{}, &FetchError{Coin: coin, Reason: "malformed response", Err: err}
	}

	hashrate := account.CurrentHashrate
	if hashrate == 0 {
		hashrate = account.Hashrate
	}

	stats := Stats{
		Coin:             coin,
		Worker:           worker,
		ReportedHashrate: hashrate,
		PendingBalance:   account.Stats.Balance,
		FetchedAt:        time.Now().UTC(),
	}
	if account.Stats.LastShare > 0 {
		stats.LastShareTime = time.Unix(account.Stats.LastShare, 0).UTC()
	}

	f.logger.Debug("Fetched pool stats",
		zap.String("coin", string(coin)),
		zap.Float64("reported_hashrate", stats.ReportedHashrate),
		zap.Float64("pending_balance", stats.PendingBalance),
	)

	return stats, nil
}

func (f *HTTPFetcher) statsURL(coin coins.Coin, wallet string) (string, error) {
	if f.baseURL != "" {
		return f.baseURL + "/" + wallet, nil
	}
	spec, err := coins.Lookup(coin)
	if err != nil {
		return "", &FetchError{Coin: coin, Reason: "unknown coin", Err: err}
	}
	return spec.StatsURL(wallet), nil
}
