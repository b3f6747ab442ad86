package runtime

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/l0p7/swkit/internal/fetch"
	"github.com/l0p7/swkit/internal/runtime/pipeline"
)

const maxBodyBytes = 10 << 20

// ServeHTTP runs a fetch event for the request. When no handler responds the
// request goes to the network.
func (w *Worker) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	start := time.Now()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		w.writeError(rw, http.StatusBadRequest, "request body unreadable")
		return
	}
	req := fetch.FromHTTP(r, w.origin, body)
	e := pipeline.NewFetchEvent(r.Context(), req)
	if w.preload.Load() && req.IsNavigate() && w.fetcher != nil {
		preloadReq := req.Clone()
		e.SetPreload(func(ctx context.Context) (*fetch.Response, error) {
			return w.fetcher.Fetch(ctx, preloadReq, fetch.Options{
				Header: http.Header{PreloadHeader: []string{"true"}},
			})
		})
	}

	reqLogger := w.logger.With(
		slog.String("event_id", e.ID),
		slog.String("method", req.Method),
		slog.String("url", req.URL),
	)

	outcome := w.Dispatch(r.Context(), e)
	// Respond before settling: responders may still schedule background work.
	resp, err := e.Respond(r.Context())
	source := "worker"
	if err == nil && resp == nil {
		source = "network"
		resp, err = w.network(r.Context(), req)
	}
	w.settle(e)

	if err != nil {
		reqLogger.Warn("fetch failed", slog.String("source", source), slog.Any("error", err))
		w.writeError(rw, http.StatusBadGateway, "upstream unavailable")
		return
	}
	if resp == nil {
		w.writeError(rw, http.StatusGatewayTimeout, "no response")
		return
	}
	if err := resp.Write(rw); err != nil {
		reqLogger.Error("response write failed", slog.Any("error", err))
		return
	}

	reqLogger.Info("fetch completed",
		slog.Int("http_status", resp.Status),
		slog.String("outcome", outcome.String()),
		slog.String("source", source),
		slog.Float64("latency_ms", float64(time.Since(start))/float64(time.Millisecond)),
	)
}

func (w *Worker) network(ctx context.Context, req *fetch.Request) (*fetch.Response, error) {
	if w.fetcher == nil {
		return nil, nil
	}
	return w.fetcher.Fetch(ctx, req.Clone(), fetch.Options{})
}

// DispatchReceipt acknowledges a message, push or sync event.
type DispatchReceipt struct {
	ID      string `json:"id"`
	Event   string `json:"event"`
	Outcome string `json:"outcome"`
}

// ServeMessage dispatches the request body as a message event. The
// X-Client-ID header names the source client.
func (w *Worker) ServeMessage(rw http.ResponseWriter, r *http.Request) {
	w.serveEvent(rw, r, pipeline.EventMessage, func(e *pipeline.Event, body []byte) {
		e.Data = body
		e.Source = strings.TrimSpace(r.Header.Get("X-Client-ID"))
	})
}

// ServePush dispatches the request body as a push event.
func (w *Worker) ServePush(rw http.ResponseWriter, r *http.Request) {
	w.serveEvent(rw, r, pipeline.EventPush, func(e *pipeline.Event, body []byte) {
		e.Data = body
	})
}

// ServeSync dispatches a background sync event. The tag comes from the tag
// query parameter, or the body when the parameter is absent.
func (w *Worker) ServeSync(rw http.ResponseWriter, r *http.Request) {
	w.serveEvent(rw, r, pipeline.EventSync, func(e *pipeline.Event, body []byte) {
		e.Tag = strings.TrimSpace(r.URL.Query().Get("tag"))
		if e.Tag == "" {
			e.Tag = strings.TrimSpace(string(body))
		}
	})
}

func (w *Worker) serveEvent(rw http.ResponseWriter, r *http.Request, typ string, prepare func(*pipeline.Event, []byte)) {
	if r.Method != http.MethodPost {
		rw.Header().Set("Allow", http.MethodPost)
		w.writeError(rw, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		w.writeError(rw, http.StatusBadRequest, "request body unreadable")
		return
	}
	e := pipeline.NewEvent(r.Context(), typ)
	prepare(e, body)
	outcome := w.Dispatch(r.Context(), e)
	w.settle(e)

	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(http.StatusAccepted)
	receipt := DispatchReceipt{ID: e.ID, Event: typ, Outcome: outcome.String()}
	if err := json.NewEncoder(rw).Encode(receipt); err != nil {
		w.logger.Error("receipt encode failed", slog.Any("error", err))
	}
}
