// Package api defines the HTTP API the lottery dapp reads from.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	v1 "github.com/vrflottery/lottery/api/v1"
	"github.com/vrflottery/lottery/common"
	"github.com/vrflottery/lottery/log"
	"github.com/vrflottery/lottery/metrics"
	"github.com/vrflottery/lottery/storage"
)

const (
	moduleName = "api"
)

// APIHandler is a handler that handles API requests.
type APIHandler interface {
	// RegisterRoutes registers routes for this API Handler
	RegisterRoutes(chi.Router)

	// Name returns the name of this API handler.
	Name() string
}

// LotteryAPI serves the lottery read API.
type LotteryAPI struct {
	router   *chi.Mux
	handlers []APIHandler
	logger   *log.Logger
}

// NewLotteryAPI creates a new lottery API. rounds may be nil.
func NewLotteryAPI(source v1.Source, rounds storage.RoundStore, l *log.Logger) *LotteryAPI {
	logger := l.WithModule(moduleName)
	r := chi.NewRouter()
	r.Use(MetricsMiddleware(metrics.NewAPIMetrics(source.Network().Name()), logger))
	r.Use(middleware.Recoverer)
	r.Use(CorsMiddleware)

	handlers := []APIHandler{
		v1.NewHandler(source, rounds, l),
	}
	for _, handler := range handlers {
		handler.RegisterRoutes(r)
	}

	return &LotteryAPI{
		router:   r,
		handlers: handlers,
		logger:   logger,
	}
}

// Router gets the router for this Handler.
func (a *LotteryAPI) Router() *chi.Mux {
	return a.router
}

// Run serves the API on endpoint until ctx is done.
func (a *LotteryAPI) Run(ctx context.Context, endpoint string) error {
	server := &http.Server{
		Addr:           endpoint,
		Handler:        a.router,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}
	a.logger.Info("starting api service at " + endpoint)
	return common.RunServer(ctx, server, a.logger)
}
