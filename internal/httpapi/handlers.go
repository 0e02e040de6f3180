package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"docvault.org/internal/authz"
	"docvault.org/internal/obs"
	"docvault.org/internal/token"
)

// ReadyProbe reports whether backing stores answer.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Config carries the collaborators the HTTP layer serves.
type Config struct {
	Version     string
	Codec       *token.Codec
	Revocations token.RevocationStore
	Pipeline    *authz.Pipeline
	Resources   authz.ResourceStore
	Documents   DocumentStore

	AccessTTL  time.Duration
	RefreshTTL time.Duration
	StepUpTTL  time.Duration
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	cfg        Config
}

func New(rp ReadyProbe, cfg Config) *API {
	a := &API{
		mux:        http.NewServeMux(),
		readyProbe: rp,
		cfg:        cfg,
	}

	// health/ready/info
	a.mux.HandleFunc("GET /healthz", a.Healthz)
	a.mux.HandleFunc("GET /readyz", a.Ready)
	a.mux.HandleFunc("GET /v1/info", a.Info)

	// Prometheus metrics
	a.mux.Handle("GET /metrics", obs.Handler())

	// token lifecycle
	a.mux.HandleFunc("POST /v1/auth/refresh", a.handleRefresh)
	a.mux.HandleFunc("POST /v1/auth/logout", a.handleLogout)
	a.mux.HandleFunc("POST /v1/auth/step-up", a.handleStepUp)

	// guarded document routes
	if cfg.Pipeline != nil {
		a.mux.Handle("GET /v1/documents/{id}", cfg.Pipeline.Authorize("read")(http.HandlerFunc(a.handleGetDocument)))
		a.mux.Handle("GET /v1/documents", cfg.Pipeline.Authorize("search")(http.HandlerFunc(a.handleSearchDocuments)))
		a.mux.Handle("POST /v1/documents/search", cfg.Pipeline.Authorize("search")(http.HandlerFunc(a.handleSearchDocuments)))
		a.mux.Handle("DELETE /v1/documents/{id}",
			cfg.Pipeline.Authorize("delete")(a.RequireStepUp(http.HandlerFunc(a.handleDeleteDocument))))
	}

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the fully wrapped handler for the server.
func (a *API) Handler() http.Handler {
	return obs.Instrument(RequestID(a.mux))
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "docvault-api",
		"version": a.cfg.Version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "docvault-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.cfg.Version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func bearerToken(r *http.Request) (string, bool) {
	return authz.BearerFromRequest(r)
}
