package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/codyseavey/zec-tracker/internal/metrics"
)

const (
	coinGeckoProBase    = "https://pro-api.coingecko.com/api/v3"
	coinGeckoPublicBase = "https://api.coingecko.com/api/v3"
	cmcBase             = "https://pro-api.coinmarketcap.com/v1"
	pondBase            = "https://prediction-markets-api.dflow.net"

	proxyTimeout    = 30 * time.Second
	maxRPCBodyBytes = 1 << 20

	// Without a key the markets upstream tolerates one request per five seconds
	pondKeylessInterval = 5 * time.Second
)

// Forwarder relays GET requests to a keyed market data API. The caller names the
// upstream path in the endpoint query parameter; every other parameter is passed
// through verbatim and the upstream status and body come back unchanged.
type Forwarder struct {
	name         string
	upstream     string // metrics label
	baseURL      string
	apiKey       string
	keyHeader    string
	keyRequired  bool
	allowHeaders string
	allowed      func(endpoint string) bool
	client       *http.Client
}

var coinGeckoEndpoints = []string{
	"simple/price",
	"coins/zcash",
	"coins/zcash/market_chart",
}

var cmcEndpoints = []*regexp.Regexp{
	regexp.MustCompile(`^cryptocurrency/quotes/latest`),
	regexp.MustCompile(`^cryptocurrency/ohlcv/historical`),
	regexp.MustCompile(`^cryptocurrency/info`),
}

// NewCoinGeckoForwarder uses the pro API when a key is configured and falls back to
// the public API otherwise
func NewCoinGeckoForwarder(apiKey string) *Forwarder {
	base := coinGeckoPublicBase
	if apiKey != "" {
		base = coinGeckoProBase
	}
	return &Forwarder{
		name:         "CoinGecko",
		upstream:     "coingecko",
		baseURL:      base,
		apiKey:       apiKey,
		keyHeader:    "x-cg-pro-api-key",
		allowHeaders: "Content-Type, x-cg-pro-api-key",
		allowed: func(endpoint string) bool {
			for _, prefix := range coinGeckoEndpoints {
				if strings.HasPrefix(endpoint, prefix) {
					return true
				}
			}
			return false
		},
		client: &http.Client{Timeout: proxyTimeout},
	}
}

// NewCMCForwarder requires a key; requests fail with 500 until one is configured
func NewCMCForwarder(apiKey string) *Forwarder {
	return &Forwarder{
		name:         "CoinMarketCap",
		upstream:     "cmc",
		baseURL:      cmcBase,
		apiKey:       apiKey,
		keyHeader:    "X-CMC_PRO_API_KEY",
		keyRequired:  true,
		allowHeaders: "Content-Type, X-CMC_PRO_API_KEY",
		allowed: func(endpoint string) bool {
			for _, re := range cmcEndpoints {
				if re.MatchString(endpoint) {
					return true
				}
			}
			return false
		},
		client: &http.Client{Timeout: proxyTimeout},
	}
}

func (f *Forwarder) Handle(c *gin.Context) {
	setProxyCORS(c, "GET, OPTIONS", f.allowHeaders)

	if c.Request.Method == http.MethodOptions {
		c.Status(http.StatusNoContent)
		return
	}
	if c.Request.Method != http.MethodGet {
		c.JSON(http.StatusMethodNotAllowed, gin.H{"error": "Method not allowed"})
		return
	}
	if f.keyRequired && f.apiKey == "" {
		c.JSON(http.StatusInternalServerError, gin.H{"error": f.name + " API key not configured"})
		return
	}

	endpoint := c.Query("endpoint")
	if endpoint == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing endpoint parameter"})
		return
	}
	if !f.allowed(endpoint) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Endpoint not allowed"})
		return
	}

	params := c.Request.URL.Query()
	params.Del("endpoint")
	reqURL := f.baseURL + "/" + endpoint
	if qs := params.Encode(); qs != "" {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		reqURL += sep + qs
	}

	header := http.Header{"Accept": []string{"application/json"}}
	if f.apiKey != "" {
		header.Set(f.keyHeader, f.apiKey)
	}

	status, body, err := forward(c.Request.Context(), f.client, http.MethodGet, reqURL, header, nil)
	if err != nil {
		log.Printf("%s proxy error: %v", f.name, err)
		metrics.ProxyRequestsTotal.WithLabelValues(f.upstream, "error").Inc()
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch from " + f.name})
		return
	}
	metrics.ProxyRequestsTotal.WithLabelValues(f.upstream, strconv.Itoa(status)).Inc()
	c.Data(status, "application/json", body)
}

// MarketsProxy relays prediction market event listings
type MarketsProxy struct {
	baseURL string
	apiKey  string
	limiter *rate.Limiter
	client  *http.Client
}

func NewMarketsProxy(apiKey string) *MarketsProxy {
	return &MarketsProxy{
		baseURL: pondBase,
		apiKey:  apiKey,
		limiter: rate.NewLimiter(rate.Every(pondKeylessInterval), 1),
		client:  &http.Client{Timeout: proxyTimeout},
	}
}

func (p *MarketsProxy) Handle(c *gin.Context) {
	setProxyCORS(c, "GET, OPTIONS", "Content-Type")

	if c.Request.Method == http.MethodOptions {
		c.Status(http.StatusNoContent)
		return
	}
	if c.Request.Method != http.MethodGet {
		c.JSON(http.StatusMethodNotAllowed, gin.H{"error": "Method not allowed"})
		return
	}

	params := c.Request.URL.Query()
	if !params.Has("withNestedMarkets") {
		params.Set("withNestedMarkets", "true")
	}
	if !params.Has("limit") {
		params.Set("limit", "100")
	}
	reqURL := p.baseURL + "/api/v1/events?" + params.Encode()

	header := http.Header{"Accept": []string{"application/json"}}
	if p.apiKey != "" {
		header.Set("x-api-key", p.apiKey)
	} else if !p.limiter.Allow() {
		log.Println("Warning: markets proxy rate limited (no API key)")
		metrics.ProxyRequestsTotal.WithLabelValues("markets", "429").Inc()
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error": fmt.Sprintf("Rate limit exceeded (No API Key). Please wait %d seconds between requests or provide POND_API_KEY.", int(pondKeylessInterval.Seconds())),
		})
		return
	}

	status, body, err := forward(c.Request.Context(), p.client, http.MethodGet, reqURL, header, nil)
	if err != nil {
		log.Printf("Markets proxy error: %v", err)
		metrics.ProxyRequestsTotal.WithLabelValues("markets", "error").Inc()
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch from markets API"})
		return
	}
	if status < 200 || status >= 300 {
		log.Printf("Markets proxy: upstream returned %d: %s", status, truncate(body, 200))
	}
	metrics.ProxyRequestsTotal.WithLabelValues("markets", strconv.Itoa(status)).Inc()
	c.Data(status, "application/json", body)
}

// RPCProxy relays allow-listed JSON-RPC calls to the first node that answers
// without an error
type RPCProxy struct {
	endpoints []string
	allowed   map[string]bool
	client    *http.Client
}

func NewRPCProxy(endpoints, allowedMethods []string) *RPCProxy {
	allowed := make(map[string]bool, len(allowedMethods))
	for _, m := range allowedMethods {
		allowed[m] = true
	}
	return &RPCProxy{
		endpoints: endpoints,
		allowed:   allowed,
		client:    &http.Client{Timeout: proxyTimeout},
	}
}

type rpcEnvelope struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

type rpcReply struct {
	Error json.RawMessage `json:"error"`
}

func (p *RPCProxy) Handle(c *gin.Context) {
	setProxyCORS(c, "POST, OPTIONS", "Content-Type")

	if c.Request.Method == http.MethodOptions {
		c.Status(http.StatusNoContent)
		return
	}
	if c.Request.Method != http.MethodPost {
		c.JSON(http.StatusMethodNotAllowed, gin.H{"error": "Method not allowed"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxRPCBodyBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var env rpcEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON-RPC body: " + err.Error()})
		return
	}
	if !p.allowed[env.Method] {
		c.JSON(http.StatusForbidden, gin.H{"error": fmt.Sprintf("Method '%s' not allowed", env.Method)})
		return
	}

	header := http.Header{"Content-Type": []string{"application/json"}}
	lastErr := "no endpoints configured"
	for _, endpoint := range p.endpoints {
		status, reply, err := forward(c.Request.Context(), p.client, http.MethodPost, endpoint, header, body)
		if err != nil {
			lastErr = fmt.Sprintf("%s: %v", endpoint, err)
			continue
		}
		if status < 200 || status >= 300 {
			lastErr = fmt.Sprintf("%s returned %d", endpoint, status)
			continue
		}
		if msg, failed := rpcError(reply); failed {
			lastErr = fmt.Sprintf("%s: %s", endpoint, msg)
			continue
		}
		metrics.ProxyRequestsTotal.WithLabelValues("rpc", "200").Inc()
		c.Data(http.StatusOK, "application/json", reply)
		return
	}

	log.Printf("RPC proxy: all endpoints failed for %s: %s", env.Method, lastErr)
	metrics.ProxyRequestsTotal.WithLabelValues("rpc", "502").Inc()
	c.JSON(http.StatusBadGateway, gin.H{"error": "All RPC endpoints failed. Last error: " + lastErr})
}

// rpcError reports whether a reply carries a JSON-RPC error, and its message
func rpcError(reply []byte) (string, bool) {
	var r rpcReply
	if err := json.Unmarshal(reply, &r); err != nil {
		return "invalid JSON reply: " + err.Error(), true
	}
	if len(r.Error) == 0 || string(r.Error) == "null" {
		return "", false
	}
	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(r.Error, &obj); err == nil && obj.Message != "" {
		return obj.Message, true
	}
	var s string
	if err := json.Unmarshal(r.Error, &s); err == nil {
		return s, true
	}
	return string(r.Error), true
}

func forward(ctx context.Context, client *http.Client, method, reqURL string, header http.Header, body []byte) (int, []byte, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL, rd)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header = header.Clone()

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read response: %w", err)
	}
	return resp.StatusCode, data, nil
}

func setProxyCORS(c *gin.Context, methods, headers string) {
	c.Header("Access-Control-Allow-Origin", "*")
	c.Header("Access-Control-Allow-Methods", methods)
	c.Header("Access-Control-Allow-Headers", headers)
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
