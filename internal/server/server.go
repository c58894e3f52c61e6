// Package server exposes the webhook and cache inspection endpoints.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"alert-trader/internal/alert"
	"alert-trader/internal/config"
	"alert-trader/internal/market"
	"alert-trader/internal/orderlog"
	"alert-trader/internal/service"
)

// Trader is the part of service.Service the HTTP layer drives.
type Trader interface {
	Execute(ctx context.Context, payload alert.Payload) (service.ExecutionResult, error)
	CacheSummary() market.Summary
	RecentOrders(limit int) []orderlog.Entry
	OrdersRecorded() uint64
	RefreshBalances(ctx context.Context) error
	RefreshFilters(ctx context.Context) error
	RefreshPrices(ctx context.Context) error
	Filters() *market.FilterStore
	Prices() *market.PriceStore
	Balances() *market.BalanceStore
}

var _ Trader = (*service.Service)(nil)

// Options configure routes and the listener.
type Options struct {
	Addr            string
	WebhookPath     string
	WebhookSecret   string
	AllowedIPs      []string
	AdminKey        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	OrderLogLimit   int
}

// OptionsFromConfig maps runtime configuration to server options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Addr:            cfg.Server.Addr,
		WebhookPath:     cfg.Webhook.Path,
		WebhookSecret:   cfg.Webhook.Secret,
		AllowedIPs:      cfg.Webhook.AllowedIPs,
		AdminKey:        cfg.Server.AdminKey,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		OrderLogLimit:   cfg.OrderLog.Capacity,
	}
}

// Server is the HTTP front of the trader.
type Server struct {
	opts    Options
	trader  Trader
	metrics http.Handler
	logger  zerolog.Logger
	handler http.Handler
	allowed map[string]struct{}
}

// New registers every route. metrics may be nil.
func New(opts Options, trader Trader, metrics http.Handler, logger zerolog.Logger) *Server {
	if opts.WebhookPath == "" {
		opts.WebhookPath = "/to-the-moon"
	}
	if opts.OrderLogLimit <= 0 {
		opts.OrderLogLimit = orderlog.DefaultCapacity
	}
	s := &Server{
		opts:    opts,
		trader:  trader,
		metrics: metrics,
		logger:  logger.With().Str("component", "http").Logger(),
		allowed: make(map[string]struct{}, len(opts.AllowedIPs)),
	}
	for _, ip := range opts.AllowedIPs {
		s.allowed[ip] = struct{}{}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST "+opts.WebhookPath, s.handleWebhook)

	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /ping", s.handlePing)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /health-check", s.handleHealth)

	mux.HandleFunc("GET /cache/summary", s.handleSummary)
	mux.HandleFunc("GET /cache/prices", s.handlePrices)
	mux.HandleFunc("GET /cache/prices/count", s.handlePriceCount)
	mux.HandleFunc("GET /cache/prices/{symbol}", s.handlePrice)
	mux.HandleFunc("GET /cache/filters", s.handleFilters)
	mux.HandleFunc("GET /cache/filters/{symbol}", s.handleFilter)
	mux.Handle("GET /cache/balances", s.adminOnly(http.HandlerFunc(s.handleBalances)))
	mux.Handle("POST /cache/update/{store}", s.adminOnly(http.HandlerFunc(s.handleRefresh)))

	mux.HandleFunc("GET /orders/recent", s.handleRecentOrders)
	if metrics != nil {
		mux.Handle("GET /metrics", metrics)
	}

	s.handler = s.recoverer(s.requestLogger(mux))
	return s
}

// Handler returns the fully wrapped handler.
func (s *Server) Handler() http.Handler { return s.handler }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.opts.Addr,
		Handler:      s.handler,
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.opts.Addr).Str("webhook", s.opts.WebhookPath).Msg("http server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	timeout := s.opts.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	s.logger.Info().Msg("http server stopped")
	return nil
}
