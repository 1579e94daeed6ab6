// Package v1 implements the read API the lottery dapp loads its data from.
package v1

import (
	"context"

	"github.com/go-chi/chi/v5"

	"github.com/vrflottery/lottery/contracts"
	"github.com/vrflottery/lottery/log"
	"github.com/vrflottery/lottery/metrics"
	"github.com/vrflottery/lottery/network"
	"github.com/vrflottery/lottery/storage"
)

const moduleName = "api_v1"

// Source resolves the network and its latest lottery deployment.
type Source interface {
	Network() network.Network
	// Lottery returns the latest deployed lottery, or an error wrapping
	// deploy.ErrNotDeployed.
	Lottery(ctx context.Context) (contracts.Lottery, error)
}

// Handler is the V1 API handler.
type Handler struct {
	source  Source
	rounds  storage.RoundStore
	logger  *log.Logger
	metrics metrics.APIMetrics
}

// NewHandler creates a new V1 API handler. rounds may be nil, in which case
// round history is not served.
func NewHandler(source Source, rounds storage.RoundStore, l *log.Logger) *Handler {
	return &Handler{
		source:  source,
		rounds:  rounds,
		logger:  l.WithModule(moduleName),
		metrics: metrics.NewAPIMetrics(source.Network().Name()),
	}
}

// RegisterRoutes implements the APIHandler interface.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/v1", func(r chi.Router) {
		// Status endpoints.
		r.Get("/", h.GetStatus)

		r.Route("/lottery", func(r chi.Router) {
			r.Get("/", h.GetLottery)
			r.Get("/participants/{address}", h.GetParticipant)
			r.Get("/rounds", h.ListRounds)
		})
	})
}

// Name implements the APIHandler interface.
func (h *Handler) Name() string {
	return "v1"
}
