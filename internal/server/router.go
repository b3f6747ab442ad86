package server

import (
	"encoding/json"
	"net/http"
	"strings"
)

// ControlPrefix is the path under which the worker's non-fetch events and
// health report are exposed. Everything else is a fetch event.
const ControlPrefix = "/__sw/"

// WorkerHTTP defines the minimal surface the router needs from the worker
// runtime.
type WorkerHTTP interface {
	http.Handler
	ServeMessage(http.ResponseWriter, *http.Request)
	ServePush(http.ResponseWriter, *http.Request)
	ServeSync(http.ResponseWriter, *http.Request)
	State() string
	Registered() bool
}

type healthReport struct {
	State      string `json:"state"`
	Registered bool   `json:"registered"`
}

// NewWorkerHandler routes control paths to the matching worker entry point,
// /metrics to the metrics handler when one is given and every other request
// to the worker as a fetch event.
func NewWorkerHandler(worker WorkerHTTP, metrics http.Handler) http.Handler {
	if worker == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "worker unavailable", http.StatusServiceUnavailable)
		})
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if metrics != nil && r.URL.Path == "/metrics" {
			metrics.ServeHTTP(w, r)
			return
		}
		route, ok := parseControlRoute(r.URL.Path)
		if !ok {
			worker.ServeHTTP(w, r)
			return
		}

		switch route {
		case "message":
			worker.ServeMessage(w, r)
		case "push":
			worker.ServePush(w, r)
		case "sync":
			worker.ServeSync(w, r)
		case "healthz":
			status := http.StatusOK
			if !worker.Registered() {
				status = http.StatusServiceUnavailable
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			_ = json.NewEncoder(w).Encode(healthReport{State: worker.State(), Registered: worker.Registered()})
		}
	})
}

func parseControlRoute(path string) (string, bool) {
	if !strings.HasPrefix(path, ControlPrefix) {
		return "", false
	}
	route := strings.ToLower(strings.Trim(strings.TrimPrefix(path, ControlPrefix), "/"))
	switch route {
	case "message", "push", "sync":
		return route, true
	case "health", "healthz":
		return "healthz", true
	}
	return "", false
}
