package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/bezaspace/rak4/pkg/gateway/lifecycle"
	"github.com/bezaspace/rak4/pkg/gateway/live/sessions"
)

// HealthHandler reports liveness only.
type HealthHandler struct{}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyHandler fails while the process drains or the database is unreachable.
type ReadyHandler struct {
	Lifecycle    *lifecycle.Lifecycle
	LiveSessions *sessions.Tracker
	// DB is optional; nil means no database is configured.
	DB Pinger
}

func (h ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type readyResp struct {
		OK           bool     `json:"ok"`
		Draining     bool     `json:"draining"`
		LiveSessions int      `json:"live_sessions"`
		LiveUsers    int      `json:"live_users"`
		Database     string   `json:"database"`
		Issues       []string `json:"issues,omitempty"`
	}

	resp := readyResp{Database: "disabled"}
	if h.Lifecycle.IsDraining() {
		resp.Draining = true
		resp.Issues = append(resp.Issues, "draining")
	}
	if h.LiveSessions != nil {
		resp.LiveSessions = h.LiveSessions.Count()
		resp.LiveUsers = h.LiveSessions.Users()
	}
	if h.DB != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		err := h.DB.Ping(ctx)
		cancel()
		if err != nil {
			resp.Database = "unreachable"
			resp.Issues = append(resp.Issues, "database ping failed")
		} else {
			resp.Database = "ok"
		}
	}

	resp.OK = len(resp.Issues) == 0
	status := http.StatusOK
	if !resp.OK {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
