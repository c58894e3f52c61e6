package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"alert-trader/internal/alert"
	"alert-trader/internal/market"
	"alert-trader/internal/service"
	"alert-trader/internal/sizing"
)

const defaultRecentLimit = 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeFailure maps domain errors to HTTP statuses.
func (s *Server) writeFailure(w http.ResponseWriter, err error) {
	var verr *alert.ValidationError
	if errors.As(err, &verr) {
		body := map[string]any{"error": verr.Error(), "reason": verr.Code()}
		if verr.Field != "" {
			body["field"] = verr.Field
		}
		if len(verr.Fields) > 0 {
			body["fields"] = verr.Fields
		}
		writeJSON(w, http.StatusBadRequest, body)
		return
	}
	var serr *sizing.SizingError
	if errors.As(err, &serr) {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":     serr.Error(),
			"reason":    serr.Code(),
			"retryable": serr.Retryable(),
		})
		return
	}
	if errors.Is(err, service.ErrPlacement) {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	s.logger.Error().Err(err).Msg("unexpected webhook failure")
	writeError(w, http.StatusInternalServerError, "internal server error")
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if ip, ok := s.ipAllowed(r); !ok {
		s.logger.Warn().Str("remote", ip).Msg("blocked webhook from unlisted IP")
		writeError(w, http.StatusForbidden, fmt.Sprintf("IP %s not allowed", ip))
		return
	}

	payload, err := alert.DecodePayload(r.Body)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	if !secretMatches(payload.Secret, s.opts.WebhookSecret) {
		s.logger.Warn().Str("remote", clientIP(r)).Bool("secret_present", payload.Secret != "").Msg("unauthorized webhook")
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	s.logger.Info().Str("action", payload.Action).
		Str("symbol", payload.Symbol).
		Strs("fields", payload.PresentFields()).
		Msg("webhook received")

	// 下单一旦发出便不随客户端断开而取消。
	ctx := context.WithoutCancel(r.Context())
	result, err := s.trader.Execute(ctx, payload)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "rooty"})
}

func (s *Server) handlePing(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "pong"})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleSummary(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.trader.CacheSummary())
}

func (s *Server) handlePrices(w http.ResponseWriter, _ *http.Request) {
	all, _ := s.trader.Prices().All()
	if len(all) == 0 {
		writeJSON(w, http.StatusOK, map[string]string{"message": "No cached prices available"})
		return
	}
	out := make(map[string]string, len(all))
	for symbol, snap := range all {
		out[symbol] = snap.Mid.String()
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handlePriceCount(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int{"count": s.trader.Prices().Len()})
}

func (s *Server) handlePrice(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(r.PathValue("symbol"))
	snap, err := s.trader.Prices().Get(symbol)
	if errors.Is(err, market.ErrNotFound) {
		writeError(w, http.StatusNotFound, "No cached price for "+symbol)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to fetch cached price")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		symbol:       snap.Mid.String(),
		"observedAt": snap.ObservedAt.UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleFilters(w http.ResponseWriter, _ *http.Request) {
	all, _ := s.trader.Filters().All()
	if len(all) == 0 {
		writeJSON(w, http.StatusOK, map[string]string{"message": "No cached filters found"})
		return
	}
	writeJSON(w, http.StatusOK, all)
}

func (s *Server) handleFilter(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(r.PathValue("symbol"))
	f, err := s.trader.Filters().Get(symbol)
	if errors.Is(err, market.ErrNotFound) {
		writeError(w, http.StatusNotFound, "No cached filters for "+symbol)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to fetch symbol filters")
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (s *Server) handleBalances(w http.ResponseWriter, _ *http.Request) {
	store := s.trader.Balances()
	all, observedAt := store.All()
	balances := make(map[string]string, len(all))
	for asset, snap := range all {
		balances[asset] = snap.Free.String()
	}
	body := map[string]any{"exists": store.Exists(), "balances": balances}
	if !observedAt.IsZero() {
		body["observedAt"] = observedAt.UTC().Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var refresh func(context.Context) error
	store := r.PathValue("store")
	switch store {
	case service.StoreBalances:
		refresh = s.trader.RefreshBalances
	case service.StoreFilters:
		refresh = s.trader.RefreshFilters
	case service.StorePrices:
		refresh = s.trader.RefreshPrices
	default:
		writeError(w, http.StatusNotFound, "unknown store "+store)
		return
	}
	if err := refresh(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to update "+store)
		return
	}
	title := strings.ToUpper(store[:1]) + store[1:]
	writeJSON(w, http.StatusOK, map[string]string{"status": title + " updated successfully"})
}

func (s *Server) handleRecentOrders(w http.ResponseWriter, r *http.Request) {
	limit := defaultRecentLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	if limit > s.opts.OrderLogLimit {
		limit = s.opts.OrderLogLimit
	}
	orders := s.trader.RecentOrders(limit)
	writeJSON(w, http.StatusOK, map[string]any{
		"count":    len(orders),
		"recorded": s.trader.OrdersRecorded(),
		"orders":   orders,
	})
}
