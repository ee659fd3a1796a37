// Package runapi exposes pipeline runs over HTTP: trigger a run,
// fetch a run by ID, fetch the latest run.
package runapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/clarion/internal/triage"
)

// RunService defines the business operations runapi needs.
type RunService interface {
	Start(ctx context.Context) (string, error)
	Runs() *triage.RunStore
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger log.Logger
	svc    RunService
}

// New creates a new API handler.
func New(logger log.Logger, svc RunService) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if svc == nil {
		panic(xerrors.New("run service is required"))
	}
	return &API{
		logger: logger,
		svc:    svc,
	}
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/runs", a.handleTriggerRun)
		r.Get("/runs/latest", a.handleLatestRun)
		r.Get("/runs/{id}", a.handleGetRun)
	})
}

func (a *API) handleTriggerRun(w http.ResponseWriter, r *http.Request) {
	id, err := a.svc.Start(r.Context())
	if err != nil {
		if errors.Is(err, triage.ErrRunActive) {
			http.Error(w, `{"error":"a run is already active"}`, http.StatusConflict)
			return
		}
		a.logger.Error(r.Context(), err, "failed to start run")
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}

	a.logger.Info(r.Context(), "run triggered", "run_id", id)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]any{"id": id})
}

func (a *API) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("clarion.run.id", id))

	run, ok := a.svc.Runs().Get(id)
	if !ok {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		return
	}

	span.SetAttributes(attribute.String("clarion.run.status", string(run.Status)))

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(run)
}

func (a *API) handleLatestRun(w http.ResponseWriter, r *http.Request) {
	run, ok := a.svc.Runs().Latest()
	if !ok {
		http.Error(w, `{"error":"no runs yet"}`, http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(run)
}
