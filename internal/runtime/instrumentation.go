package runtime

import (
	"log/slog"
	"time"

	"github.com/l0p7/swkit/internal/metrics"
	"github.com/l0p7/swkit/internal/runtime/pipeline"
)

type instrumentedHandler struct {
	inner   pipeline.Handler
	event   string
	logger  *slog.Logger
	metrics *metrics.Recorder
}

func (h *instrumentedHandler) Name() string { return h.inner.Name() }

func (h *instrumentedHandler) Handle(e *pipeline.Event, c *pipeline.Context) pipeline.Outcome {
	start := time.Now()
	outcome := h.inner.Handle(e, c)
	duration := time.Since(start)

	attrs := []slog.Attr{
		slog.String("outcome", outcome.String()),
		slog.Float64("latency_ms", float64(duration)/float64(time.Millisecond)),
		slog.String("event_id", e.ID),
	}
	if e.Request != nil {
		attrs = append(attrs, slog.String("url", e.Request.URL))
	}
	if name := c.CacheName(); name != "" {
		attrs = append(attrs, slog.String("cache", name))
	}

	h.logger.LogAttrs(e.Context(), slog.LevelDebug, "handler executed", attrs...)
	h.metrics.ObserveHandler(h.event, h.inner.Name(), outcome.String())
	return outcome
}

func (w *Worker) instrument(eventType string, handlers []pipeline.Handler) []pipeline.Handler {
	if len(handlers) == 0 {
		return nil
	}
	wrapped := make([]pipeline.Handler, 0, len(handlers))
	for _, h := range handlers {
		if h == nil || pipeline.IsNoop(h) {
			continue
		}
		wrapped = append(wrapped, w.instrumentOne(eventType, h))
	}
	return wrapped
}

func (w *Worker) instrumentOne(eventType string, h pipeline.Handler) pipeline.Handler {
	logger := w.logger.With(
		slog.String("component", "runtime"),
		slog.String("agent", h.Name()),
		slog.String("event", eventType),
	)
	return &instrumentedHandler{inner: h, event: eventType, logger: logger, metrics: w.metrics}
}
