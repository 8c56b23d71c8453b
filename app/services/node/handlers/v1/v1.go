// Package v1 contains the full set of handler functions and routes
// supported by the v1 web api.
package v1

import (
	"net/http"

	"github.com/ardanlabs/opledger/app/services/node/handlers/v1/private"
	"github.com/ardanlabs/opledger/app/services/node/handlers/v1/public"
	"github.com/ardanlabs/opledger/foundation/blockchain/state"
	"github.com/ardanlabs/opledger/foundation/events"
	"github.com/ardanlabs/opledger/foundation/web"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const version = "v1"

// Config contains all the mandatory systems required by handlers.
type Config struct {
	Log   *zap.SugaredLogger
	State *state.State
	Evts  *events.Events
}

// PublicRoutes binds all the version 1 public routes.
func PublicRoutes(app *web.App, cfg Config) {
	pbl := public.Handlers{
		Log:   cfg.Log,
		State: cfg.State,
		WS:    websocket.Upgrader{},
		Evts:  cfg.Evts,
	}

	app.Handle(http.MethodGet, version, "/events", pbl.Events)
	app.Handle(http.MethodGet, version, "/status", pbl.Status)
	app.Handle(http.MethodGet, version, "/genesis", pbl.Genesis)
	app.Handle(http.MethodPost, version, "/ops/add", pbl.AddOperation)
	app.Handle(http.MethodPost, version, "/ops/validate", pbl.ValidateOperation)
	app.Handle(http.MethodGet, version, "/ops/queue", pbl.Queue)
	app.Handle(http.MethodGet, version, "/ops/by-hash", pbl.OperationByHash)
	app.Handle(http.MethodGet, version, "/objects/:type", pbl.Objects)
	app.Handle(http.MethodGet, version, "/objects/:type/*key", pbl.Object)
	app.Handle(http.MethodGet, version, "/blocks", pbl.Blocks)
	app.Handle(http.MethodGet, version, "/block-by-hash", pbl.BlockByHash)
}

// PrivateRoutes binds all the version 1 management routes.
func PrivateRoutes(app *web.App, cfg Config) {
	prv := private.Handlers{
		Log:   cfg.Log,
		State: cfg.State,
	}

	const mgmt = version + "/mgmt"

	app.Handle(http.MethodPost, mgmt, "/create", prv.CreateBlock)
	app.Handle(http.MethodPost, mgmt, "/queue-clear", prv.ClearQueue)
	app.Handle(http.MethodPost, mgmt, "/revert-1-block", prv.RevertOneBlock)
	app.Handle(http.MethodPost, mgmt, "/revert-superblock", prv.RevertSuperblock)
	app.Handle(http.MethodPost, mgmt, "/compact", prv.Compact)
	app.Handle(http.MethodPost, mgmt, "/toggle-blocks-pause", prv.ToggleBlocksPause)
	app.Handle(http.MethodPost, mgmt, "/toggle-replicate-pause", prv.ToggleReplicatePause)
	app.Handle(http.MethodPost, mgmt, "/toggle-pause", prv.TogglePause)
	app.Handle(http.MethodPost, mgmt, "/replicate", prv.Replicate)
	app.Handle(http.MethodPost, mgmt, "/bootstrap", prv.Bootstrap)
	app.Handle(http.MethodPost, mgmt, "/delete-queue-ops", prv.DeleteQueueOperations)
	app.Handle(http.MethodPost, mgmt, "/delete-orphaned-blocks", prv.DeleteOrphanedBlocks)
	app.Handle(http.MethodGet, mgmt, "/orphaned-blocks", prv.OrphanedBlocks)
}
