package api

import (
	"net/http"

	"unlockd/internal/server/metrics"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// RouterConfig carries the pieces SetupRouter wires around the handler.
type RouterConfig struct {
	Auth    *Authenticator
	Limiter *RateLimiter
	Metrics *metrics.Metrics
}

// SetupRouter creates and configures the echo router with all routes and middleware.
func SetupRouter(handler *Handler, cfg RouterConfig) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(RequestID())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderContentType, echo.HeaderAuthorization, headerAdminToken},
	}))
	if cfg.Metrics != nil {
		e.Use(cfg.Metrics.Middleware())
	}
	e.Use(RequestLogger())
	e.Use(middleware.BodyLimit("1M"))

	wallet := cfg.Auth.RequireWallet()
	walletOrAdmin := cfg.Auth.RequireWalletOrAdmin()
	var limited echo.MiddlewareFunc = func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	if cfg.Limiter != nil {
		limited = cfg.Limiter.Middleware()
	}

	// Health & metrics
	e.GET("/health", handler.HandleHealth)
	if cfg.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(cfg.Metrics.Handler()))
	}

	// Auth
	e.POST("/api/auth/login", handler.HandleLogin, limited)

	// Content registry
	e.GET("/api/contents", handler.HandleListContents)
	e.GET("/api/contents/count", handler.HandleContentCount)
	e.GET("/api/contents/:id", handler.HandleGetContent)
	e.POST("/api/contents", handler.HandleCreateContent, limited, wallet)
	e.POST("/api/contents/:id/purchase", handler.HandlePurchase, limited, wallet)
	e.PUT("/api/contents/:id/price", handler.HandleSetPrice, limited, wallet)
	e.POST("/api/contents/:id/deactivate", handler.HandleDeactivate, limited, walletOrAdmin)

	// Access & creators
	e.GET("/api/access/:address/:id", handler.HandleCheckAccess)
	e.GET("/api/users/:address/purchases", handler.HandleUserPurchases)
	e.GET("/api/creators/:address/stats", handler.HandleCreatorStats)
	e.GET("/api/creators/:address/contents", handler.HandleCreatorContents)
	e.GET("/api/creators/:address/balance", handler.HandleCreatorBalance)
	e.GET("/api/creators/:address/withdrawals", handler.HandleCreatorWithdrawals)

	// Earnings (rate-limited)
	e.POST("/api/earnings/withdraw", handler.HandleWithdraw, limited, wallet)

	// Contract-compatible reads
	e.GET("/rpc/abi", handler.HandleABI)
	e.POST("/rpc/call", handler.HandleRPCCall, limited)

	return e
}
