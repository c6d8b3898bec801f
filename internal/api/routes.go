package api

import (
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/codyseavey/zec-tracker/internal/api/handlers"
	"github.com/codyseavey/zec-tracker/internal/config"
	"github.com/codyseavey/zec-tracker/internal/metrics"
)

// Proxies are the upstream relays mounted under /proxy
type Proxies struct {
	CoinGecko *Forwarder
	CMC       *Forwarder
	Markets   *MarketsProxy
	RPC       *RPCProxy
}

// NewProxies builds the relays from configuration
func NewProxies(cfg config.Config) Proxies {
	return Proxies{
		CoinGecko: NewCoinGeckoForwarder(cfg.CoinGeckoAPIKey),
		CMC:       NewCMCForwarder(cfg.CMCAPIKey),
		Markets:   NewMarketsProxy(cfg.PondAPIKey),
		RPC:       NewRPCProxy(cfg.RPCEndpoints, cfg.RPCAllowedMethods),
	}
}

func SetupRouter(cfg config.Config, dashboard handlers.Dashboard, history handlers.SupplyHistory, hub *Hub, proxies Proxies) *gin.Engine {
	router := gin.Default()
	router.Use(requestMetrics())

	serveFrontend := cfg.FrontendDistPath != "" && dirExists(cfg.FrontendDistPath)

	// CORS applies to the dashboard API; the proxies answer preflights themselves
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.CORSAllowedOrigins
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept"}
	corsConfig.AllowCredentials = false

	dashboardHandler := handlers.NewDashboardHandler(dashboard)
	shieldedHandler := handlers.NewShieldedHandler(history)

	api := router.Group("/api")
	api.Use(cors.New(corsConfig))
	{
		api.GET("/state", dashboardHandler.GetState)
		api.POST("/price/timeframe", dashboardHandler.TogglePriceTimeframe)
		api.POST("/supply/timeframe", dashboardHandler.ToggleSupplyTimeframe)
		api.PUT("/currency", dashboardHandler.SetCurrency)
		api.PUT("/mode", dashboardHandler.SetMode)
		api.POST("/stream/reconnect", dashboardHandler.Reconnect)
		api.GET("/shielded/hourly", shieldedHandler.GetHourly)

		gameRoutes := api.Group("/game")
		{
			gameRoutes.GET("", dashboardHandler.GetGame)
			gameRoutes.POST("/bet", dashboardHandler.PlaceBet)
			gameRoutes.POST("/settle", dashboardHandler.SettleRound)
		}
	}

	proxy := router.Group("/proxy")
	{
		proxy.Any("/coingecko", proxies.CoinGecko.Handle)
		proxy.Any("/cmc", proxies.CMC.Handle)
		proxy.Any("/markets", proxies.Markets.Handle)
		proxy.Any("/rpc", proxies.RPC.Handle)
	}

	if hub != nil {
		router.GET("/ws", hub.ServeWS)
	}

	if cfg.ShieldedDatasetPath != "" {
		router.StaticFile("/data/shielded-pool-data.json", cfg.ShieldedDatasetPath)
	}

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	if serveFrontend {
		indexPath := filepath.Join(cfg.FrontendDistPath, "index.html")
		router.Static("/assets", filepath.Join(cfg.FrontendDistPath, "assets"))
		router.GET("/", func(c *gin.Context) {
			c.File(indexPath)
		})

		// SPA fallback for everything that is not an API or proxy route
		router.NoRoute(func(c *gin.Context) {
			path := c.Request.URL.Path
			if strings.HasPrefix(path, "/api") || strings.HasPrefix(path, "/proxy") {
				c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
				return
			}
			c.File(indexPath)
		})
	}

	return router
}

// requestMetrics records request counts and latency by route pattern
func requestMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		metrics.HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}
