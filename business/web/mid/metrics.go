package mid

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/ardanlabs/opledger/foundation/web"
	"github.com/dimfeld/httptreemux/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "opledger_requests_total",
		Help: "Total HTTP requests by method, route, and response status.",
	}, []string{"method", "route", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "opledger_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	requestErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "opledger_request_errors_total",
		Help: "Total requests that returned an error.",
	})

	requestPanics = promauto.NewCounter(prometheus.CounterOpts{
		Name: "opledger_request_panics_total",
		Help: "Total requests that panicked.",
	})
)

// Metrics updates program counters.
func Metrics() web.Middleware {

	// This is the actual middleware function to be executed.
	m := func(handler web.Handler) web.Handler {

		// Create the handler that will be attached in the middleware chain.
		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {

			// Call the next handler.
			err := handler(ctx, w, r)

			route := r.URL.Path
			if data := httptreemux.ContextData(ctx); data != nil && data.Route() != "" {
				route = data.Route()
			}

			v, verr := web.GetValues(ctx)
			if verr == nil {
				status := v.StatusCode
				if status == 0 {
					status = http.StatusOK
				}
				requestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
				requestDuration.WithLabelValues(r.Method, route).Observe(time.Since(v.Now).Seconds())
			}

			if err != nil {
				requestErrors.Inc()
			}

			// The handler can only return an error here during a shutdown
			// or after a panic.
			return err
		}

		return h
	}

	return m
}
