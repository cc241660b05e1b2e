// Package server exposes rates, quotes, payments and history over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"fxpay/chainevm"
	"fxpay/history"
	"fxpay/logger"
	"fxpay/payment"
	"fxpay/rates"
	"fxpay/swap"
	"fxpay/wallet"
)

// RateSource is satisfied by *rates.Aggregator.
type RateSource interface {
	Latest() rates.Table
	RefreshAll(ctx context.Context) error
}

// Quoter is satisfied by *swap.Calculator.
type Quoter interface {
	Quote(req swap.Request) (swap.Result, error)
}

// Swapper is satisfied by *swap.Executor.
type Swapper interface {
	Execute(ctx context.Context, req swap.Request) (swap.Execution, error)
}

// Payments is satisfied by *payment.Submitter.
type Payments interface {
	Start(ctx context.Context, req payment.Request) (payment.Attempt, error)
	Current() payment.Attempt
	Abandon() (payment.Attempt, bool)
	Reset() error
}

// History is satisfied by *history.View.
type History interface {
	List(ctx context.Context, account common.Address) history.Page
}

// Chain is satisfied by *chainevm.Chain.
type Chain interface {
	HealthCheck(ctx context.Context) error
	TransactionStatus(ctx context.Context, txHash string) (*chainevm.TransactionStatusResponse, error)
}

// Config captures the dependencies of the HTTP API. Swaps, Chain and
// Gatherer are optional.
type Config struct {
	Rates    RateSource
	Quotes   Quoter
	Swaps    Swapper
	Payments Payments
	History  History
	Wallet   wallet.Wallet
	Chain    Chain
	Gatherer prometheus.Gatherer
	Logger   *logger.Logger

	// BaseContext outlives requests; payment attempts run under it.
	BaseContext context.Context
}

// Server - HTTP API
type Server struct {
	cfg    Config
	log    *logger.Logger
	router http.Handler
}

// New builds the router.
func New(cfg Config) (*Server, error) {
	if cfg.Rates == nil || cfg.Quotes == nil || cfg.Payments == nil || cfg.History == nil || cfg.Wallet == nil {
		return nil, errors.New("server: rates, quotes, payments, history and wallet required")
	}
	if cfg.BaseContext == nil {
		cfg.BaseContext = context.Background()
	}
	s := &Server{cfg: cfg, log: logger.OrNop(cfg.Logger).Named("http")}
	s.router = s.buildRouter()
	return s, nil
}

// Handler exposes the configured router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(s.requestLogger)
	r.Use(chimw.Recoverer)

	r.Get("/health", s.HandleHealth)
	if s.cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(api chi.Router) {
		api.Get("/rates", s.HandleGetRates)
		api.Post("/rates/refresh", s.HandleRefreshRates)
		api.Get("/quote", s.HandleGetQuote)
		if s.cfg.Swaps != nil {
			api.Post("/swaps", s.HandleExecuteSwap)
		}
		api.Route("/payments", func(p chi.Router) {
			p.Post("/", s.HandleStartPayment)
			p.Get("/current", s.HandleCurrentPayment)
			p.Post("/abandon", s.HandleAbandonPayment)
			p.Post("/reset", s.HandleResetPayment)
		})
		api.Get("/history", s.HandleGetHistory)
		if s.cfg.Chain != nil {
			api.Get("/tx/status", s.HandleGetTransactionStatus)
		}
	})
	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", chimw.GetReqID(r.Context())),
		)
	})
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("HTTP server listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
