package pool

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// PriceProvider fetches coin prices in USD.
type PriceProvider interface {
	GetPrice(ctx context.Context, symbol string) (float64, error)
	GetPrices(ctx context.Context, symbols []string) (map[string]float64, error)
}

// CoinGeckoPriceProvider fetches prices from the CoinGecko simple-price API
// with a short-lived in-memory cache to stay inside its rate limits.
type CoinGeckoPriceProvider struct {
	logger      *zap.Logger
	httpClient  *http.Client
	baseURL     string
	cache       map[string]priceCache
	cacheMu     sync.RWMutex
	cacheExpiry time.Duration
}

type priceCache struct {
	price     float64
	timestamp time.Time
}

type coinGeckoResponse map[string]map[string]float64

var coinGeckoIDs = map[string]string{
	"RVN": "ravencoin",
	"ETC": "ethereum-classic",
	"ZEC": "zcash",
	"BTC": "bitcoin",
	"ETH": "ethereum",
}

// NewCoinGeckoPriceProvider creates a CoinGecko price provider.
func NewCoinGeckoPriceProvider(logger *zap.Logger) *CoinGeckoPriceProvider {
	return &CoinGeckoPriceProvider{
		logger:      logger,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		baseURL:     "https://api.coingecko.com/api/v3",
		cache:       make(map[string]priceCache),
		cacheExpiry: 5 * time.Minute,
	}
}

// NewCoinGeckoPriceProviderWithBase pins the provider to a base URL (tests).
func NewCoinGeckoPriceProviderWithBase(logger *zap.Logger, baseURL string) *CoinGeckoPriceProvider {
	p := NewCoinGeckoPriceProvider(logger)
	p.baseURL = baseURL
	return p
}

// GetPrice fetches the USD price for a single symbol.
func (p *CoinGeckoPriceProvider) GetPrice(ctx context.Context, symbol string) (float64, error) {
	prices, err := p.GetPrices(ctx, []string{symbol})
	if err != nil {
		return 0, err
	}
	price, ok := prices[strings.ToUpper(symbol)]
	if !ok {
		return 0, fmt.Errorf("price not found for %s", symbol)
	}
	return price, nil
}

// GetPrices fetches USD prices for multiple symbols, serving from cache
// where fresh.
func (p *CoinGeckoPriceProvider) GetPrices(ctx context.Context, symbols []string) (map[string]float64, error) {
	result := make(map[string]float64)
	toFetch := []string{}

	p.cacheMu.RLock()
	for _, symbol := range symbols {
		symbol = strings.ToUpper(symbol)
		if cached, ok := p.cache[symbol]; ok && time.Since(cached.timestamp) < p.cacheExpiry {
			result[symbol] = cached.price
		} else {
			toFetch = append(toFetch, symbol)
		}
	}
	p.cacheMu.RUnlock()

	if len(toFetch) > 0 {
		fetched, err := p.fetchPrices(ctx, toFetch)
		if err != nil {
			return nil, err
		}
		p.cacheMu.Lock()
		for symbol, price := range fetched {
			p.cache[symbol] = priceCache{price: price, timestamp: time.Now()}
			result[symbol] = price
		}
		p.cacheMu.Unlock()
	}

	return result, nil
}

func (p *CoinGeckoPriceProvider) fetchPrices(ctx context.Context, symbols []string) (map[string]float64, error) {
	ids := make([]string, 0, len(symbols))
	idToSymbol := make(map[string]string, len(symbols))
	for _, symbol := range symbols {
		id, ok := coinGeckoIDs[symbol]
		if !ok {
			p.logger.Warn("Unknown symbol for price lookup", zap.String("symbol", symbol))
			continue
		}
		ids = append(ids, id)
		idToSymbol[id] = symbol
	}
	if len(ids) == 0 {
		return map[string]float64{}, nil
	}

	url := fmt.Sprintf("%s/simple/price?ids=%s&vs_currencies=usd", p.baseURL, strings.Join(ids, ","))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build price request: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch prices: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("price API returned status %d", resp.StatusCode)
	}

	var data coinGeckoResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("failed to parse price response: %w", err)
	}

	result := make(map[string]float64)
	for id, prices := range data {
		symbol, ok := idToSymbol[id]
		if !ok {
			continue
		}
		if usd, ok := prices["usd"]; ok {
			result[symbol] = usd
		}
	}

	p.logger.Debug("Fetched prices",
		zap.Int("requested", len(symbols)),
		zap.Int("received", len(result)),
	)

	return result, nil
}

// StaticPriceProvider serves fixed prices, for tests and offline runs.
type StaticPriceProvider struct {
	mu     sync.RWMutex
	prices map[string]float64
}

// NewStaticPriceProvider creates a provider with the given prices.
func NewStaticPriceProvider(prices map[string]float64) *StaticPriceProvider {
	if prices == nil {
		prices = make(map[string]float64)
	}
	return &StaticPriceProvider{prices: prices}
}

// GetPrice returns the fixed price for a symbol.
func (p *StaticPriceProvider) GetPrice(ctx context.Context, symbol string) (float64, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	price, ok := p.prices[strings.ToUpper(symbol)]
	if !ok {
		return 0, fmt.Errorf("price not found for %s", symbol)
	}
	return price, nil
}

// GetPrices returns the fixed prices for the symbols that have one.
func (p *StaticPriceProvider) GetPrices(ctx context.Context, symbols []string) (map[string]float64, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	result := make(map[string]float64)
	for _, symbol := range symbols {
		if price, ok := p.prices[strings.ToUpper(symbol)]; ok {
			result[strings.ToUpper(symbol)] = price
		}
	}
	return result, nil
}

// SetPrice updates a price.
func (p *StaticPriceProvider) SetPrice(symbol string, price float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prices[strings.ToUpper(symbol)] = price
}
