package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"payrelay/internal/core"
	"payrelay/internal/types"
)

// EventAdmin is the operator view of the event store.
type EventAdmin interface {
	Get(ctx context.Context, eventID string) (*types.ProcessedEvent, error)
	Release(ctx context.Context, eventID string) error
	PurgeExpired(ctx context.Context) (int64, error)
}

// AdminHandler exposes dedup claims for inspection and manual replay.
type AdminHandler struct {
	store  EventAdmin
	logger *slog.Logger
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(store EventAdmin, logger *slog.Logger) *AdminHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AdminHandler{store: store, logger: logger}
}

// RegisterRoutes mounts the admin routes. The caller applies AdminAuth.
func (h *AdminHandler) RegisterRoutes(r chi.Router) {
	r.Get("/events/{eventID}", h.GetEvent)
	r.Delete("/events/{eventID}", h.ReleaseEvent)
	r.Post("/events/purge", h.Purge)
}

// GetEvent returns the claim recorded for an event id.
func (h *AdminHandler) GetEvent(w http.ResponseWriter, r *http.Request) {
	eventID, ok := eventIDParam(w, r)
	if !ok {
		return
	}

	ev, err := h.store.Get(r.Context(), eventID)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, ev)
}

// ReleaseEvent deletes a claim so the provider's next redelivery is
// forwarded again.
func (h *AdminHandler) ReleaseEvent(w http.ResponseWriter, r *http.Request) {
	eventID, ok := eventIDParam(w, r)
	if !ok {
		return
	}

	if err := h.store.Release(r.Context(), eventID); err != nil {
		core.Error(w, r, err)
		return
	}
	h.logger.InfoContext(r.Context(), "event claim released by operator", "event_id", eventID)
	w.WriteHeader(http.StatusNoContent)
}

// Purge deletes expired claims.
func (h *AdminHandler) Purge(w http.ResponseWriter, r *http.Request) {
	n, err := h.store.PurgeExpired(r.Context())
	if err != nil {
		core.Error(w, r, err)
		return
	}
	h.logger.InfoContext(r.Context(), "expired event claims purged", "count", n)
	core.JSON(w, r, http.StatusOK, map[string]int64{"purged": n})
}

func eventIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	eventID := strings.TrimSpace(chi.URLParam(r, "eventID"))
	if eventID == "" {
		core.Error(w, r, types.MissingField("event_id"))
		return "", false
	}
	return eventID, true
}
