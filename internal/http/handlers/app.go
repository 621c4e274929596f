package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"expander/internal/infra"
	"expander/internal/scheduler"
	"expander/internal/storage"
)

// App bundles the dependencies the HTTP handlers need. BaseCtx outlives any
// single request; expansion runs are bound to it so they survive the request
// that started them.
type App struct {
	SQL     infra.SQLExecutor
	Runner  *scheduler.Runner
	Store   *storage.FileStore
	Fetcher *http.Client
	Logger  zerolog.Logger
	BaseCtx context.Context
}

func (a *App) runCtx() context.Context {
	if a.BaseCtx != nil {
		return a.BaseCtx
	}
	return context.Background()
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, status int, code, message string) {
	a.json(w, status, map[string]string{"error": code, "message": message})
}
