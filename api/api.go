// Package api serves the current menu snapshots over HTTP. Handlers only read;
// they never trigger a scrape.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/aluiziolira/go-tap-menu/menu"
	"github.com/aluiziolira/go-tap-menu/models"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MenuReader is the read side of the poller.
type MenuReader interface {
	Lists() []string
	Snapshot(list string) (menu.Snapshot, bool)
	Running() bool
}

// Handler serves snapshots from a MenuReader.
type Handler struct {
	menus    MenuReader
	registry *prometheus.Registry
}

// NewHandler returns a handler; registry may be nil to leave out /metrics.
func NewHandler(menus MenuReader, registry *prometheus.Registry) *Handler {
	return &Handler{menus: menus, registry: registry}
}

// Router builds the route table. /metrics is only mounted when a registry
// was supplied.
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", h.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/lists", h.handleLists).Methods(http.MethodGet)
	r.HandleFunc("/lists/{name}/beers", h.handleBeers).Methods(http.MethodGet)
	if h.registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(h.registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
	return r
}

type listSummary struct {
	Name      string     `json:"name"`
	Beers     int        `json:"beers"`
	UpdatedAt *time.Time `json:"updated_at"`
}

type beersResponse struct {
	List      string        `json:"list"`
	UpdatedAt *time.Time    `json:"updated_at"`
	Beers     []models.Beer `json:"beers"`
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"running": h.menus.Running(),
	})
}

func (h *Handler) handleLists(w http.ResponseWriter, _ *http.Request) {
	names := h.menus.Lists()
	out := make([]listSummary, 0, len(names))
	for _, name := range names {
		snap, ok := h.menus.Snapshot(name)
		summary := listSummary{Name: name, Beers: len(snap.Beers)}
		if ok {
			summary.UpdatedAt = &snap.UpdatedAt
		}
		out = append(out, summary)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleBeers(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if !slices.Contains(h.menus.Lists(), name) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown list " + name})
		return
	}

	snap, ok := h.menus.Snapshot(name)
	resp := beersResponse{List: name, Beers: snap.Beers}
	if ok {
		resp.UpdatedAt = &snap.UpdatedAt
	}
	if resp.Beers == nil {
		resp.Beers = []models.Beer{}
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("write response", slog.Any("error", err))
	}
}
