// Package config reads the service configuration from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port   string
	DBPath string

	// Cache backend: sqlite (default), redis or memory
	CacheBackend  string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Upstream API keys, injected by the forwarding proxies only
	CoinGeckoAPIKey string
	CMCAPIKey       string
	PondAPIKey      string

	// Where the data-fetch module sends requests (normally this service's own proxies)
	MarketDataURL     string
	StreamURL         string
	StreamCurrency    string
	ShieldedDataURL   string
	ShieldedHourlyURL string
	RPCProxyURL       string
	MarketsURL        string
	MarketsKeyword    string

	// RPC proxy
	RPCEndpoints      []string
	RPCAllowedMethods []string

	CORSAllowedOrigins []string

	// Files served by the HTTP layer
	ShieldedDatasetPath string
	FrontendDistPath    string

	// UTC hour from which the daily dataset entry is written; negative disables
	DatasetUpdateHour int

	SupplyPollInterval time.Duration
	PriceRefreshFast   time.Duration
	PriceRefreshSlow   time.Duration
	DefaultCurrency    string
}

// Load reads the environment, falling back to defaults for anything unset or invalid
func Load() Config {
	port := getenv("PORT", "8080")
	self := "http://127.0.0.1:" + port

	return Config{
		Port:   port,
		DBPath: getenv("DB_PATH", "./zec_tracker.db"),

		CacheBackend:  getenv("CACHE_BACKEND", "sqlite"),
		RedisAddr:     getenv("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getenvInt("REDIS_DB", 0),

		CoinGeckoAPIKey: os.Getenv("COINGECKO_API_KEY"),
		CMCAPIKey:       os.Getenv("CMC_API_KEY"),
		PondAPIKey:      os.Getenv("POND_API_KEY"),

		MarketDataURL:     getenv("MARKET_DATA_URL", self+"/proxy/coingecko"),
		StreamURL:         getenv("STREAM_URL", "wss://stream.binance.com:9443/ws/zecusdt@trade"),
		StreamCurrency:    getenv("STREAM_CURRENCY", "usd"),
		ShieldedDataURL:   getenv("SHIELDED_DATA_URL", self+"/data/shielded-pool-data.json"),
		ShieldedHourlyURL: getenv("SHIELDED_HOURLY_URL", self+"/api/shielded/hourly"),
		RPCProxyURL:       getenv("RPC_PROXY_URL", self+"/proxy/rpc"),
		MarketsURL:        getenv("MARKETS_API_URL", self+"/proxy/markets"),
		MarketsKeyword:    getenv("MARKETS_KEYWORD", "zcash"),

		RPCEndpoints:      getenvList("RPC_ENDPOINTS", []string{"https://zec.rocks", "https://zcash.api.nownodes.io"}),
		RPCAllowedMethods: getenvList("RPC_ALLOWED_METHODS", []string{"getblockcount", "getblock", "getblockchaininfo"}),

		CORSAllowedOrigins: getenvList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:5173", "http://localhost:3000"}),

		ShieldedDatasetPath: getenv("SHIELDED_DATASET_PATH", "./data/shielded-pool-data.json"),
		FrontendDistPath:    os.Getenv("FRONTEND_DIST_PATH"),
		DatasetUpdateHour:   getenvInt("DATASET_UPDATE_HOUR", 0),

		// Zcash targets a 75 second block time
		SupplyPollInterval: getenvDuration("SUPPLY_POLL_INTERVAL", 75*time.Second),
		PriceRefreshFast:   getenvDuration("PRICE_REFRESH_FAST", 30*time.Second),
		PriceRefreshSlow:   getenvDuration("PRICE_REFRESH_SLOW", 5*time.Minute),
		DefaultCurrency:    strings.ToLower(getenv("DEFAULT_CURRENCY", "usd")),
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}

func getenvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
