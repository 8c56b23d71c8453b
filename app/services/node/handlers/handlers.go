// Package handlers builds the three listeners of a node: the public ledger
// API, the private management API and the debug endpoints.
package handlers

import (
	"context"
	"expvar"
	"net/http"
	"net/http/pprof"
	"os"

	"github.com/ardanlabs/opledger/app/services/node/handlers/debug/checkgrp"
	v1 "github.com/ardanlabs/opledger/app/services/node/handlers/v1"
	"github.com/ardanlabs/opledger/business/web/mid"
	"github.com/ardanlabs/opledger/foundation/blockchain/state"
	"github.com/ardanlabs/opledger/foundation/events"
	"github.com/ardanlabs/opledger/foundation/web"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// MuxConfig contains all the mandatory systems required by handlers.
type MuxConfig struct {
	Shutdown   chan os.Signal
	Log        *zap.SugaredLogger
	State      *state.State
	Evts       *events.Events
	CORSOrigin string
}

// routes returns the configuration of the v1 route groups.
func (cfg MuxConfig) routes() v1.Config {
	return v1.Config{
		Log:   cfg.Log,
		State: cfg.State,
		Evts:  cfg.Evts,
	}
}

// newApp constructs a web.App with the middleware every listener shares.
// The extra middleware runs inside the metrics and outside the panic
// recovery.
func (cfg MuxConfig) newApp(extra ...web.Middleware) *web.App {
	mw := []web.Middleware{
		mid.Logger(cfg.Log),
		mid.Errors(cfg.Log),
		mid.Metrics(),
	}
	mw = append(mw, extra...)
	mw = append(mw, mid.Panics())

	return web.NewApp(cfg.Shutdown, mw...)
}

// =============================================================================

// PublicMux serves the ledger queries, operation submission and the events
// stream under /v1. Browsers may call it from CORSOrigin, any origin when
// it's empty.
func PublicMux(cfg MuxConfig) http.Handler {
	origin := cfg.CORSOrigin
	if origin == "" {
		origin = "*"
	}

	app := cfg.newApp(mid.Cors(origin))

	// Accept CORS 'OPTIONS' preflight requests.
	preflight := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		return nil
	}
	app.Handle(http.MethodOptions, "", "/*", preflight, mid.Cors(origin))

	v1.PublicRoutes(app, cfg.routes())

	return app
}

// PrivateMux serves the management routes under /v1/mgmt. It carries no
// CORS support and must only be bound to a private host.
func PrivateMux(cfg MuxConfig) http.Handler {
	app := cfg.newApp()

	v1.PrivateRoutes(app, cfg.routes())

	return app
}

// =============================================================================

// DebugMux serves the standard library profiling endpoints, the readiness
// and liveness checks backed by the ledger status and the prometheus
// counters. It bypasses the DefaultServeMux so a dependency can't inject a
// handler into the service.
func DebugMux(build string, log *zap.SugaredLogger, st *state.State) http.Handler {
	cgh := checkgrp.Handlers{
		Build: build,
		Log:   log,
		State: st,
	}

	routes := map[string]http.Handler{
		"/debug/pprof/":        http.HandlerFunc(pprof.Index),
		"/debug/pprof/cmdline": http.HandlerFunc(pprof.Cmdline),
		"/debug/pprof/profile": http.HandlerFunc(pprof.Profile),
		"/debug/pprof/symbol":  http.HandlerFunc(pprof.Symbol),
		"/debug/pprof/trace":   http.HandlerFunc(pprof.Trace),
		"/debug/vars":          expvar.Handler(),
		"/debug/readiness":     http.HandlerFunc(cgh.Readiness),
		"/debug/liveness":      http.HandlerFunc(cgh.Liveness),
		"/metrics":             promhttp.Handler(),
	}

	mux := http.NewServeMux()
	for pattern, h := range routes {
		mux.Handle(pattern, h)
	}

	return mux
}
