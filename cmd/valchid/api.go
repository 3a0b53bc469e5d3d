package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"valchi/native/conversion"
	"valchi/native/deal"
	"valchi/native/pool"
	"valchi/native/registry"
	"valchi/observability"
)

type api struct {
	manager    *registry.Manager
	factory    *deal.Factory
	deals      *deal.Engine
	pool       *pool.Engine
	conversion *conversion.Engine
	metrics    *observability.Metrics
}

func newAPI(manager *registry.Manager, factory *deal.Factory, deals *deal.Engine, poolEngine *pool.Engine, conversionEngine *conversion.Engine, metrics *observability.Metrics, metricsHandler http.Handler) http.Handler {
	a := &api{
		manager:    manager,
		factory:    factory,
		deals:      deals,
		pool:       poolEngine,
		conversion: conversionEngine,
		metrics:    metrics,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(a.instrument)

	r.Get("/healthz", a.handleHealth)
	r.Route("/v1", func(r chi.Router) {
		r.Get("/params", a.handleParams)
		r.Get("/deals", a.handleDeals)
		r.Get("/deals/{id}", a.handleDeal)
		r.Get("/pool", a.handlePool)
		r.Get("/cycle", a.handleCycle)
	})
	r.Method(http.MethodGet, "/metrics", metricsHandler)
	return r
}

func (a *api) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = r.URL.Path
		}
		a.metrics.RequestDuration.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}

func (a *api) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *api) handleParams(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.manager.Params())
}

func (a *api) handleDeals(w http.ResponseWriter, _ *http.Request) {
	ids, err := a.factory.ListDeals()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.Hex()
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"deals": out})
}

func (a *api) handleDeal(w http.ResponseWriter, r *http.Request) {
	id, err := deal.ParseDealID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	d, err := a.deals.Deal(id)
	if err != nil {
		if errors.Is(err, deal.ErrDealNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (a *api) handlePool(w http.ResponseWriter, _ *http.Request) {
	p, err := a.pool.Pool()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	a.metrics.PoolDeposits.Set(float64(p.TotalDeposits.Int64()))
	a.metrics.PoolAllocated.Set(float64(p.TotalAllocated.Int64()))
	writeJSON(w, http.StatusOK, p)
}

func (a *api) handleCycle(w http.ResponseWriter, _ *http.Request) {
	current, err := a.conversion.Current()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if current == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"started": false})
		return
	}
	a.metrics.CycleIndex.Set(float64(current.Index))
	writeJSON(w, http.StatusOK, current)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
