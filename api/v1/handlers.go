package v1

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"

	apiCommon "github.com/vrflottery/lottery/api/common"
	"github.com/vrflottery/lottery/common"
	"github.com/vrflottery/lottery/contracts"
	"github.com/vrflottery/lottery/deploy"
	"github.com/vrflottery/lottery/metrics"
)

// GetStatus gets the network status and the lottery address.
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	net := h.source.Network()

	chainID, err := net.ChainID(ctx)
	if err != nil {
		h.logAndReply(ctx, "failed to get chain id", w, r, apiCommon.ErrChainError{Err: err})
		return
	}
	head, err := net.BlockNumber(ctx)
	if err != nil {
		h.logAndReply(ctx, "failed to get block number", w, r, apiCommon.ErrChainError{Err: err})
		return
	}
	status := &Status{
		Network:     net.Name(),
		ChainID:     chainID.String(),
		LatestBlock: head,
	}
	switch l, err := h.source.Lottery(ctx); {
	case errors.Is(err, deploy.ErrNotDeployed):
	case err != nil:
		h.logAndReply(ctx, "failed to resolve lottery", w, r, apiCommon.ErrChainError{Err: err})
		return
	default:
		status.Lottery = l.Address().Hex()
	}

	h.reply(ctx, w, r, status)
}

// GetLottery gets the state of the current round.
func (h *Handler) GetLottery(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	l, err := h.lottery(ctx)
	if err != nil {
		h.logAndReply(ctx, "failed to resolve lottery", w, r, err)
		return
	}
	view, err := LotteryView(ctx, h.source.Network(), l)
	if err != nil {
		h.logAndReply(ctx, "failed to get lottery", w, r, err)
		return
	}

	h.reply(ctx, w, r, view)
}

// GetParticipant gets the entries and balance of an account.
func (h *Handler) GetParticipant(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	param := chi.URLParam(r, "address")
	if !ethCommon.IsHexAddress(param) {
		h.logAndReply(ctx, "malformed address", w, r, fmt.Errorf("%w: address '%s'", apiCommon.ErrBadRequest, param))
		return
	}
	l, err := h.lottery(ctx)
	if err != nil {
		h.logAndReply(ctx, "failed to resolve lottery", w, r, err)
		return
	}
	view, err := participantView(ctx, h.source.Network(), l, ethCommon.HexToAddress(param))
	if err != nil {
		h.logAndReply(ctx, "failed to get participant", w, r, err)
		return
	}

	h.reply(ctx, w, r, view)
}

// ListRounds lists the recorded rounds of the current lottery.
func (h *Handler) ListRounds(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	p, err := apiCommon.NewPagination(r)
	if err != nil {
		h.logAndReply(ctx, "malformed pagination", w, r, err)
		return
	}
	if h.rounds == nil {
		h.logAndReply(ctx, "round history disabled", w, r, fmt.Errorf("%w: round history is not recorded", apiCommon.ErrNotFound))
		return
	}
	l, err := h.lottery(ctx)
	if err != nil {
		h.logAndReply(ctx, "failed to resolve lottery", w, r, err)
		return
	}
	rounds, err := h.rounds.ListRounds(ctx, l.Address(), p.Limit, p.Offset)
	if err != nil {
		h.logAndReply(ctx, "failed to list rounds", w, r, apiCommon.ErrStorageError{Err: err})
		return
	}

	h.reply(ctx, w, r, &RoundList{Rounds: rounds})
}

func (h *Handler) lottery(ctx context.Context) (contracts.Lottery, error) {
	l, err := h.source.Lottery(ctx)
	switch {
	case errors.Is(err, deploy.ErrNotDeployed):
		return nil, fmt.Errorf("%w: %s", apiCommon.ErrNotFound, err)
	case err != nil:
		return nil, apiCommon.ErrChainError{Err: err}
	}
	return l, nil
}

func (h *Handler) reply(ctx context.Context, w http.ResponseWriter, r *http.Request, v interface{}) {
	resp, err := json.Marshal(v)
	if err != nil {
		h.logAndReply(ctx, "failed to marshal response", w, r, err)
		h.metrics.Reply(endpoint(r), metrics.OutcomeFailure, "serde_error").Inc()
		return
	}

	w.Header().Set("content-type", "application/json")
	if _, err := w.Write(resp); err != nil {
		h.logger.Error("failed to write response",
			"request_id", ctx.Value(common.RequestIDContextKey),
			"error", err,
		)
		h.metrics.Reply(endpoint(r), metrics.OutcomeFailure, "http_error").Inc()
	} else {
		h.metrics.Reply(endpoint(r), metrics.OutcomeSuccess, "").Inc()
	}
}

func (h *Handler) logAndReply(ctx context.Context, msg string, w http.ResponseWriter, r *http.Request, err error) {
	code := apiCommon.HttpCodeForError(err)
	if code >= http.StatusInternalServerError {
		h.logger.Error(msg,
			"request_id", ctx.Value(common.RequestIDContextKey),
			"error", err,
		)
	} else {
		h.logger.Debug(msg,
			"request_id", ctx.Value(common.RequestIDContextKey),
			"error", err,
		)
	}
	h.metrics.Reply(endpoint(r), metrics.OutcomeFailure, causeForCode(code)).Inc()
	if err = apiCommon.ReplyWithError(w, err); err != nil {
		h.logger.Error("failed to reply with error",
			"request_id", ctx.Value(common.RequestIDContextKey),
			"error", err,
		)
	}
}

// endpoint is the matched route pattern, so that metrics are not
// partitioned by path parameters.
func endpoint(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return r.URL.Path
}

func causeForCode(code int) string {
	switch code {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusBadGateway:
		return "chain_error"
	default:
		return "internal_error"
	}
}
