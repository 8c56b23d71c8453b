// Package public maintains the group of handlers for public access.
package public

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ardanlabs/opledger/business/sys/validate"
	"github.com/ardanlabs/opledger/business/web/errs"
	"github.com/ardanlabs/opledger/foundation/blockchain/database"
	"github.com/ardanlabs/opledger/foundation/blockchain/state"
	"github.com/ardanlabs/opledger/foundation/events"
	"github.com/ardanlabs/opledger/foundation/web"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Handlers manages the set of public ledger endpoints.
type Handlers struct {
	Log   *zap.SugaredLogger
	State *state.State
	WS    websocket.Upgrader
	Evts  *events.Events
}

// Events handles a web socket to provide events to a client.
func (h Handlers) Events(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v, err := web.GetValues(ctx)
	if err != nil {
		return web.NewShutdownError("web value missing from context")
	}

	h.WS.CheckOrigin = func(r *http.Request) bool { return true }

	c, err := h.WS.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	defer c.Close()

	ch := h.Evts.Acquire(v.TraceID)
	defer h.Evts.Release(v.TraceID)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, wd := <-ch:
			if !wd {
				return nil
			}

			if err := c.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return nil
			}

		case <-ticker.C:
			if err := c.WriteMessage(websocket.PingMessage, []byte("ping")); err != nil {
				return nil
			}
		}
	}
}

// AddOperation validates the operation and adds it to the queue.
func (h Handlers) AddOperation(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v, err := web.GetValues(ctx)
	if err != nil {
		return web.NewShutdownError("web value missing from context")
	}

	var op database.Operation
	if err := web.Decode(r, &op); err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	if err := validate.Check(newOp(op)); err != nil {
		return err
	}

	h.Log.Infow("add operation", "traceid", v.TraceID, "op", op.String(), "type", op.Type, "signed_by", op.SignedBy)
	if err := h.State.AddOperation(&op); err != nil {
		if errors.Is(err, state.ErrNotReady) {
			return errs.NewTrusted(err, http.StatusServiceUnavailable)
		}
		return err
	}

	return web.Respond(ctx, w, ok(fmt.Sprintf("operation %s added to the queue", op.RawHash())), http.StatusOK)
}

// ValidateOperation runs the operation through validation without adding
// it to the queue.
func (h Handlers) ValidateOperation(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	var op database.Operation
	if err := web.Decode(r, &op); err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	if err := validate.Check(newOp(op)); err != nil {
		return err
	}

	if err := h.State.ValidateOperation(&op); err != nil {
		return err
	}

	return web.Respond(ctx, w, ok("operation is valid"), http.StatusOK)
}

// Queue returns the operations waiting to be put into a block.
func (h Handlers) Queue(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	queue := h.State.Queue()

	resp := queueInfo{
		Count: len(queue),
		Ops:   queue,
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// OperationByHash returns the queued or committed operation with the hash.
func (h Handlers) OperationByHash(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	hash := r.URL.Query().Get("hash")
	if hash == "" {
		return errs.NewTrusted(errors.New("hash is required"), http.StatusBadRequest)
	}

	op := h.State.QueryOperation(hash)
	if op == nil {
		return errs.NewTrusted(fmt.Errorf("operation %s not found", hash), http.StatusNotFound)
	}

	return web.Respond(ctx, w, op, http.StatusOK)
}

// Objects returns every object of the type.
func (h Handlers) Objects(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	typ := web.Param(r, "type")

	objs := h.State.QueryObjects(typ)
	if objs == nil {
		objs = []*database.Object{}
	}

	return web.Respond(ctx, w, objectsInfo{Type: typ, Count: len(objs), Objects: objs}, http.StatusOK)
}

// Object returns the current version of the object with the type and key.
// The key is the remaining composite id separated by slashes.
func (h Handlers) Object(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	typ := web.Param(r, "type")
	key := strings.Split(strings.Trim(web.Param(r, "key"), "/"), "/")

	obj := h.State.QueryObject(typ, key...)
	if obj == nil {
		return errs.NewTrusted(fmt.Errorf("object %s %v not found", typ, key), http.StatusNotFound)
	}

	return web.Respond(ctx, w, obj, http.StatusOK)
}

// Blocks returns the block headers starting with the block with the raw hash
// in the from parameter. Downstream nodes replicate from this listing.
func (h Handlers) Blocks(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	q := blocksQuery{
		From: r.URL.Query().Get("from"),
	}

	if limit := r.URL.Query().Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil {
			return errs.NewTrusted(fmt.Errorf("invalid limit %q", limit), http.StatusBadRequest)
		}
		q.Limit = n
	}

	if err := validate.Check(q); err != nil {
		return err
	}

	return web.Respond(ctx, w, h.State.QueryBlocksFrom(q.From, q.Limit), http.StatusOK)
}

// BlockByHash returns the full block with the raw hash. An unknown hash
// answers with a block id of -1.
func (h Handlers) BlockByHash(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	hash := r.URL.Query().Get("hash")

	bd, found := h.State.QueryBlockByHash(hash)
	if !found {
		bd = database.BlockData{BlockHeader: database.BlockHeader{BlockID: -1}}
	}

	return web.Respond(ctx, w, bd, http.StatusOK)
}

// Status returns the management status of the ledger.
func (h Handlers) Status(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	return web.Respond(ctx, w, h.State.Status(), http.StatusOK)
}

// Genesis returns the ledger parameters.
func (h Handlers) Genesis(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	return web.Respond(ctx, w, h.State.Genesis(), http.StatusOK)
}
