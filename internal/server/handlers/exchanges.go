package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apperrors "github.com/exchangelink/exchangelink/internal/errors"
	"github.com/exchangelink/exchangelink/internal/exchange"
	"github.com/exchangelink/exchangelink/internal/observability"
	"github.com/exchangelink/exchangelink/internal/resilience"
)

// ExchangeHandler serves rate limit and clock administration for the
// registered exchange clients.
type ExchangeHandler struct {
	Registry *exchange.Registry
}

// ExchangeSummary is one entry of the exchange listing.
type ExchangeSummary struct {
	Name      string   `json:"name"`
	Resources []string `json:"resources"`
	Policies  []string `json:"policies"`
}

// LimitsResponse is the budget view of one exchange.
type LimitsResponse struct {
	Exchange string                      `json:"exchange"`
	Budgets  []resilience.BudgetSnapshot `json:"budgets"`
}

// ResetResponse reports how many budgets were restored.
type ResetResponse struct {
	Exchange string                      `json:"exchange"`
	Reset    int                         `json:"reset"`
	Budgets  []resilience.BudgetSnapshot `json:"budgets"`
}

// List handles GET /v1/exchanges.
func (h *ExchangeHandler) List(w http.ResponseWriter, r *http.Request) {
	out := []ExchangeSummary{}
	for _, name := range h.Registry.Names() {
		client, ok := h.Registry.Get(name)
		if !ok {
			continue
		}
		settings := client.Settings()
		out = append(out, ExchangeSummary{
			Name:      name,
			Resources: settings.ResourceNames(),
			Policies:  client.Policies().Names(),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// Limits handles GET /v1/exchanges/{name}/limits.
func (h *ExchangeHandler) Limits(w http.ResponseWriter, r *http.Request) {
	client, ok := h.client(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, LimitsResponse{Exchange: client.Name(), Budgets: client.Limits()})
}

// ResetLimits handles POST /v1/exchanges/{name}/limits/reset. Repeated
// ?resource= parameters select budgets; none resets every budget.
func (h *ExchangeHandler) ResetLimits(w http.ResponseWriter, r *http.Request) {
	client, ok := h.client(w, r)
	if !ok {
		return
	}
	var resources []string
	for _, value := range r.URL.Query()["resource"] {
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				resources = append(resources, part)
			}
		}
	}

	n, err := client.ResetLimits(resources...)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	if logger := observability.ServerLogger; logger != nil {
		logger.Info("Rate limit budgets reset",
			zap.String("exchange", client.Name()),
			zap.Strings("resources", resources),
			zap.Int("count", n))
	}
	writeJSON(w, http.StatusOK, ResetResponse{Exchange: client.Name(), Reset: n, Budgets: client.Limits()})
}

// Clock handles GET /v1/exchanges/{name}/clock. With ?probe=true the cached
// delta is refreshed through the exchange first when it has expired.
func (h *ExchangeHandler) Clock(w http.ResponseWriter, r *http.Request) {
	client, ok := h.client(w, r)
	if !ok {
		return
	}
	if probe := r.URL.Query().Get("probe"); probe == "true" || probe == "1" {
		if _, err := client.CurrentDelta(r.Context()); err != nil {
			respondWithError(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, client.ClockState())
}

// InvalidateClock handles POST /v1/exchanges/{name}/clock/invalidate.
func (h *ExchangeHandler) InvalidateClock(w http.ResponseWriter, r *http.Request) {
	client, ok := h.client(w, r)
	if !ok {
		return
	}
	client.InvalidateClock()
	if logger := observability.ServerLogger; logger != nil {
		logger.Info("Clock delta invalidated", zap.String("exchange", client.Name()))
	}
	writeJSON(w, http.StatusOK, client.ClockState())
}

func (h *ExchangeHandler) client(w http.ResponseWriter, r *http.Request) (*exchange.Client, bool) {
	name := chi.URLParam(r, "name")
	client, ok := h.Registry.Get(name)
	if !ok {
		respondWithError(w, r, apperrors.NewNotFoundError(fmt.Sprintf("exchange %q is not configured", name)))
		return nil, false
	}
	return client, true
}
