package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/agnosticeng/panicsafe"
	"github.com/agnosticeng/tallyctx"
	"github.com/google/uuid"
	"github.com/uber-go/tally/v4"
	slogctx "github.com/veqryn/slog-context"
)

type handlerFunc func(w http.ResponseWriter, r *http.Request) error

type RequestMetrics struct {
	Requests tally.Counter
	Latency  tally.Histogram
}

func NewRequestMetrics(scope tally.Scope, method string, status int) *RequestMetrics {
	scope = scope.Tagged(map[string]string{
		"method": method,
		"status": strconv.Itoa(status),
	})

	return &RequestMetrics{
		Requests: scope.Counter("requests"),
		Latency: scope.Histogram(
			"request_duration",
			tally.MustMakeExponentialDurationBuckets(time.Millisecond, 2, 16),
		),
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	if w.status == 0 {
		w.status = status
	}

	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}

	return w.ResponseWriter.Write(b)
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

func requestID() string {
	id, err := uuid.NewV7()

	if err != nil {
		return uuid.NewString()
	}

	return id.String()
}

// wrap turns h into an http.Handler that tags the request context, writes
// returned errors, recovers panics and records request metrics.
func wrap(method string, h handlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var (
			start = time.Now()
			id    = requestID()
			ctx   = slogctx.With(r.Context(), "module", "api", "method", method, "request_id", id)
			sw    = &statusWriter{ResponseWriter: w}
		)

		r = r.WithContext(ctx)
		sw.Header().Set("X-Request-Id", id)

		var err = panicsafe.Recover(func() error { return h(sw, r) })

		if err != nil {
			if sw.status == 0 {
				writeError(sw, err)
			}

			slogctx.FromCtx(ctx).Debug("request failed", "error", err.Error())
		}

		if sw.status == 0 {
			sw.WriteHeader(http.StatusOK)
		}

		var metrics = NewRequestMetrics(tallyctx.FromContextOrNoop(ctx), method, sw.status)

		metrics.Requests.Inc(1)
		metrics.Latency.RecordDuration(time.Since(start))

		slogctx.FromCtx(ctx).Debug(
			"request handled",
			"status", sw.status,
			"elapsed", time.Since(start),
		)
	})
}
