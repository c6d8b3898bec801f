package services

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/codyseavey/zec-tracker/internal/cache"
	"github.com/codyseavey/zec-tracker/internal/models"
)

const (
	coinID          = "zcash"
	historyCacheTTL = 30 * time.Second
)

// MarketDataService fetches quotes and price history through the market data proxy.
// Every fetch returns nil on failure.
type MarketDataService struct {
	baseURL string
	client  *http.Client
	cache   *cache.Cache
	history *expirable.LRU[string, models.Series]

	mu                sync.RWMutex
	circulatingSupply *float64
}

func NewMarketDataService(baseURL string, c *cache.Cache) *MarketDataService {
	return &MarketDataService{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: defaultFetchTimeout,
		},
		cache:   c,
		history: expirable.NewLRU[string, models.Series](16, nil, historyCacheTTL),
	}
}

// endpointURL addresses an upstream path through the forwarding proxy
func (s *MarketDataService) endpointURL(endpoint string, params url.Values) string {
	q := url.Values{}
	for k, v := range params {
		q[k] = v
	}
	q.Set("endpoint", endpoint)
	return s.baseURL + "?" + q.Encode()
}

type currencyMap map[string]float64

type coinResponse struct {
	MarketData *struct {
		CurrentPrice             currencyMap `json:"current_price"`
		High24h                  currencyMap `json:"high_24h"`
		Low24h                   currencyMap `json:"low_24h"`
		TotalVolume              currencyMap `json:"total_volume"`
		PriceChangePercentage24h float64     `json:"price_change_percentage_24h"`
		CirculatingSupply        float64     `json:"circulating_supply"`
	} `json:"market_data"`
}

func (s *MarketDataService) fetchCoin(ctx context.Context) (*coinResponse, error) {
	reqURL := s.endpointURL("coins/"+coinID, url.Values{
		"localization":   {"false"},
		"tickers":        {"false"},
		"community_data": {"false"},
		"developer_data": {"false"},
	})
	var resp coinResponse
	if err := getJSON(ctx, s.client, "quote", reqURL, &resp); err != nil {
		return nil, err
	}
	if resp.MarketData == nil {
		return nil, fmt.Errorf("response has no market_data")
	}
	return &resp, nil
}

// FetchCurrentQuote returns the current price and 24h stats. Circulating supply from
// the same payload is retained and the stats are written to the cache.
func (s *MarketDataService) FetchCurrentQuote(ctx context.Context, currency string) *models.LiveQuote {
	currency = strings.ToLower(currency)
	resp, err := s.fetchCoin(ctx)
	if err != nil {
		fetchFailed("quote", err)
		return nil
	}
	md := resp.MarketData
	price, ok := md.CurrentPrice[currency]
	if !ok || price <= 0 {
		fetchFailed("quote", fmt.Errorf("no %s price in response", currency))
		return nil
	}

	if md.CirculatingSupply > 0 {
		s.setCirculatingSupply(md.CirculatingSupply)
	}

	q := &models.LiveQuote{
		Currency:          currency,
		Price:             price,
		High24h:           md.High24h[currency],
		Low24h:            md.Low24h[currency],
		Volume24h:         md.TotalVolume[currency],
		Change24h:         md.PriceChangePercentage24h,
		CirculatingSupply: md.CirculatingSupply,
		UpdatedAt:         time.Now(),
	}
	s.cache.SetStats(ctx, q)
	return q
}

type marketChartResponse struct {
	Prices [][2]float64 `json:"prices"`
}

// FetchHistoricalSeries returns the price history for a timeframe. Sample spacing is
// chosen by the upstream from the day range. Results are cached briefly so that
// rapid toggles between timeframes do not refetch.
func (s *MarketDataService) FetchHistoricalSeries(ctx context.Context, tf models.Timeframe, currency string) models.Series {
	currency = strings.ToLower(currency)
	key := string(tf) + ":" + currency
	if series, ok := s.history.Get(key); ok {
		return series.Clone()
	}

	reqURL := s.endpointURL("coins/"+coinID+"/market_chart", url.Values{
		"vs_currency": {currency},
		"days":        {tf.Days()},
	})
	var resp marketChartResponse
	if err := getJSON(ctx, s.client, "history", reqURL, &resp); err != nil {
		fetchFailed("history", err)
		return nil
	}

	series := make(models.Series, 0, len(resp.Prices))
	for _, p := range resp.Prices {
		if p[0] <= 0 || p[1] <= 0 {
			continue
		}
		series = append(series, models.PricePoint{
			Timestamp: time.UnixMilli(int64(p[0])),
			Value:     p[1],
		})
	}
	if len(series) == 0 {
		fetchFailed("history", fmt.Errorf("empty %s series", tf))
		return nil
	}

	s.history.Add(key, series)
	return series.Clone()
}

// FetchCirculatingSupply returns the circulating supply, skipping the request when a
// previous quote already supplied it.
func (s *MarketDataService) FetchCirculatingSupply(ctx context.Context) *float64 {
	if v := s.CirculatingSupply(); v != nil {
		return v
	}
	resp, err := s.fetchCoin(ctx)
	if err != nil {
		fetchFailed("supply", err)
		return nil
	}
	if resp.MarketData.CirculatingSupply <= 0 {
		fetchFailed("supply", fmt.Errorf("no circulating_supply in response"))
		return nil
	}
	s.setCirculatingSupply(resp.MarketData.CirculatingSupply)
	return s.CirculatingSupply()
}

// FetchSimplePrice is the lightweight REST quote used while the stream is down
func (s *MarketDataService) FetchSimplePrice(ctx context.Context, currency string) *float64 {
	currency = strings.ToLower(currency)
	reqURL := s.endpointURL("simple/price", url.Values{
		"ids":           {coinID},
		"vs_currencies": {currency},
	})
	var resp map[string]currencyMap
	if err := getJSON(ctx, s.client, "simple_price", reqURL, &resp); err != nil {
		fetchFailed("simple_price", err)
		return nil
	}
	price, ok := resp[coinID][currency]
	if !ok || price <= 0 {
		fetchFailed("simple_price", fmt.Errorf("no %s price in response", currency))
		return nil
	}
	return &price
}

// CirculatingSupply returns the last known circulating supply, nil when unknown
func (s *MarketDataService) CirculatingSupply() *float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.circulatingSupply == nil {
		return nil
	}
	v := *s.circulatingSupply
	return &v
}

func (s *MarketDataService) setCirculatingSupply(v float64) {
	s.mu.Lock()
	s.circulatingSupply = &v
	s.mu.Unlock()
}
