package api

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func serve(h gin.HandlerFunc, method, target, body string) *httptest.ResponseRecorder {
	router := gin.New()
	router.Any("/proxy", h)

	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rd)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func errorMessage(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("response is not JSON: %q", w.Body.String())
	}
	return body.Error
}

func TestForwarder_Validation(t *testing.T) {
	f := NewCoinGeckoForwarder("")
	f.baseURL = "http://127.0.0.1:1" // never reached

	tests := []struct {
		name    string
		method  string
		target  string
		status  int
		message string
	}{
		{"preflight", http.MethodOptions, "/proxy", http.StatusNoContent, ""},
		{"wrong method", http.MethodPost, "/proxy?endpoint=coins/zcash", http.StatusMethodNotAllowed, "Method not allowed"},
		{"missing endpoint", http.MethodGet, "/proxy", http.StatusBadRequest, "Missing endpoint parameter"},
		{"endpoint not allowed", http.MethodGet, "/proxy?endpoint=coins/bitcoin", http.StatusForbidden, "Endpoint not allowed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(f.Handle, tt.method, tt.target, "")
			if w.Code != tt.status {
				t.Fatalf("status = %d, want %d", w.Code, tt.status)
			}
			if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
				t.Errorf("Access-Control-Allow-Origin = %q", got)
			}
			if tt.message != "" {
				if got := errorMessage(t, w); got != tt.message {
					t.Errorf("error = %q, want %q", got, tt.message)
				}
			}
		})
	}
}

func TestForwarder_ForwardsQueryAndKey(t *testing.T) {
	var gotPath, gotQuery, gotKey string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotKey = r.Header.Get("x-cg-pro-api-key")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"status":{"error_code":429}}`))
	}))
	defer upstream.Close()

	f := NewCoinGeckoForwarder("cg-key")
	f.baseURL = upstream.URL

	w := serve(f.Handle, http.MethodGet, "/proxy?endpoint=coins/zcash/market_chart&vs_currency=usd&days=1", "")

	if w.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want upstream 429 passed through", w.Code)
	}
	if w.Body.String() != `{"status":{"error_code":429}}` {
		t.Errorf("body = %q", w.Body.String())
	}
	if gotPath != "/coins/zcash/market_chart" {
		t.Errorf("upstream path = %q", gotPath)
	}
	if gotQuery != "days=1&vs_currency=usd" {
		t.Errorf("upstream query = %q", gotQuery)
	}
	if gotKey != "cg-key" {
		t.Errorf("key header = %q", gotKey)
	}
}

func TestForwarder_UpstreamDown(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	base := upstream.URL
	upstream.Close()

	f := NewCoinGeckoForwarder("")
	f.baseURL = base

	w := serve(f.Handle, http.MethodGet, "/proxy?endpoint=simple/price&ids=zcash", "")
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	if got := errorMessage(t, w); got != "Failed to fetch from CoinGecko" {
		t.Errorf("error = %q", got)
	}
}

func TestCMCForwarder(t *testing.T) {
	t.Run("missing key", func(t *testing.T) {
		w := serve(NewCMCForwarder("").Handle, http.MethodGet, "/proxy?endpoint=cryptocurrency/info", "")
		if w.Code != http.StatusInternalServerError {
			t.Errorf("status = %d, want 500", w.Code)
		}
	})

	t.Run("regex allow-list", func(t *testing.T) {
		var gotKey string
		upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotKey = r.Header.Get("X-CMC_PRO_API_KEY")
			w.Write([]byte(`{"data":{}}`))
		}))
		defer upstream.Close()

		f := NewCMCForwarder("cmc-key")
		f.baseURL = upstream.URL

		if w := serve(f.Handle, http.MethodGet, "/proxy?endpoint=cryptocurrency/quotes/latest&symbol=ZEC", ""); w.Code != http.StatusOK {
			t.Errorf("allowed endpoint status = %d", w.Code)
		}
		if gotKey != "cmc-key" {
			t.Errorf("key header = %q", gotKey)
		}
		if w := serve(f.Handle, http.MethodGet, "/proxy?endpoint=exchange/info", ""); w.Code != http.StatusForbidden {
			t.Errorf("disallowed endpoint status = %d", w.Code)
		}
	})
}

func TestMarketsProxy(t *testing.T) {
	var gotQuery, gotKey string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		gotKey = r.Header.Get("x-api-key")
		if r.URL.Path != "/api/v1/events" {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.Write([]byte(`{"events":[]}`))
	}))
	defer upstream.Close()

	t.Run("defaults and keyless rate limit", func(t *testing.T) {
		p := NewMarketsProxy("")
		p.baseURL = upstream.URL

		w := serve(p.Handle, http.MethodGet, "/proxy?status=active", "")
		if w.Code != http.StatusOK {
			t.Fatalf("first request status = %d", w.Code)
		}
		if gotQuery != "limit=100&status=active&withNestedMarkets=true" {
			t.Errorf("query = %q", gotQuery)
		}

		w = serve(p.Handle, http.MethodGet, "/proxy", "")
		if w.Code != http.StatusTooManyRequests {
			t.Errorf("second request status = %d, want 429", w.Code)
		}
	})

	t.Run("key bypasses the limit", func(t *testing.T) {
		p := NewMarketsProxy("pond-key")
		p.baseURL = upstream.URL

		for i := 0; i < 3; i++ {
			if w := serve(p.Handle, http.MethodGet, "/proxy?limit=5", ""); w.Code != http.StatusOK {
				t.Fatalf("request %d status = %d", i, w.Code)
			}
		}
		if gotKey != "pond-key" {
			t.Errorf("x-api-key = %q", gotKey)
		}
		if gotQuery != "limit=5&withNestedMarkets=true" {
			t.Errorf("explicit limit should be kept, query = %q", gotQuery)
		}
	})
}

func TestRPCProxy_Validation(t *testing.T) {
	p := NewRPCProxy([]string{"http://127.0.0.1:1"}, []string{"getblockcount"})

	tests := []struct {
		name    string
		method  string
		body    string
		status  int
		message string
	}{
		{"preflight", http.MethodOptions, "", http.StatusNoContent, ""},
		{"wrong method", http.MethodGet, "", http.StatusMethodNotAllowed, "Method not allowed"},
		{"malformed body", http.MethodPost, "{", http.StatusBadRequest, ""},
		{"method not allowed", http.MethodPost, `{"method":"sendrawtransaction","params":[]}`, http.StatusForbidden, "Method 'sendrawtransaction' not allowed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(p.Handle, tt.method, "/proxy", tt.body)
			if w.Code != tt.status {
				t.Fatalf("status = %d, want %d", w.Code, tt.status)
			}
			if tt.message != "" {
				if got := errorMessage(t, w); got != tt.message {
					t.Errorf("error = %q, want %q", got, tt.message)
				}
			}
		})
	}
}

func TestRPCProxy_Failover(t *testing.T) {
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer down.Close()

	erroring := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result":null,"error":{"code":-28,"message":"Loading block index..."},"id":"1"}`))
	}))
	defer erroring.Close()

	var forwarded string
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		forwarded = string(b)
		w.Write([]byte(`{"result":2750000,"error":null,"id":"1"}`))
	}))
	defer healthy.Close()

	body := `{"jsonrpc":"1.0","id":"1","method":"getblockcount","params":[]}`

	t.Run("first healthy endpoint answers", func(t *testing.T) {
		p := NewRPCProxy([]string{down.URL, erroring.URL, healthy.URL}, []string{"getblockcount"})
		w := serve(p.Handle, http.MethodPost, "/proxy", body)
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d: %s", w.Code, w.Body.String())
		}
		if !strings.Contains(w.Body.String(), "2750000") {
			t.Errorf("body = %q", w.Body.String())
		}
		if forwarded != body {
			t.Errorf("forwarded body = %q, want verbatim request", forwarded)
		}
	})

	t.Run("all endpoints fail", func(t *testing.T) {
		p := NewRPCProxy([]string{erroring.URL, down.URL}, []string{"getblockcount"})
		w := serve(p.Handle, http.MethodPost, "/proxy", body)
		if w.Code != http.StatusBadGateway {
			t.Fatalf("status = %d, want 502", w.Code)
		}
		want := "All RPC endpoints failed. Last error: " + down.URL + " returned 503"
		if got := errorMessage(t, w); got != want {
			t.Errorf("error = %q, want %q", got, want)
		}
	})
}

func TestRPCError(t *testing.T) {
	tests := []struct {
		reply  string
		msg    string
		failed bool
	}{
		{`{"result":1,"error":null}`, "", false},
		{`{"result":1}`, "", false},
		{`{"error":{"code":-8,"message":"Block height out of range"}}`, "Block height out of range", true},
		{`{"error":"rate limited"}`, "rate limited", true},
	}
	for _, tt := range tests {
		msg, failed := rpcError([]byte(tt.reply))
		if msg != tt.msg || failed != tt.failed {
			t.Errorf("rpcError(%s) = %q, %v; want %q, %v", tt.reply, msg, failed, tt.msg, tt.failed)
		}
	}
}
