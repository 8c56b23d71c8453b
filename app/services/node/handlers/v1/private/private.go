// Package private maintains the group of management handlers. They are only
// served on the private host.
package private

import (
	"context"
	"fmt"
	"net/http"

	"github.com/ardanlabs/opledger/business/sys/validate"
	"github.com/ardanlabs/opledger/business/web/errs"
	"github.com/ardanlabs/opledger/foundation/blockchain/database"
	"github.com/ardanlabs/opledger/foundation/blockchain/state"
	"github.com/ardanlabs/opledger/foundation/web"
	"go.uber.org/zap"
)

// Handlers manages the set of management endpoints.
type Handlers struct {
	Log   *zap.SugaredLogger
	State *state.State
}

// CreateBlock creates a block out of the queue and returns it.
func (h Handlers) CreateBlock(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	b, err := h.State.CreateBlock()
	if err != nil {
		h.log(ctx, "create block", err)
		return web.Respond(ctx, w, failed("Block creation failed: %s", err), http.StatusBadRequest)
	}

	return web.Respond(ctx, w, database.NewBlockData(b), http.StatusOK)
}

// ClearQueue removes every queued operation.
func (h Handlers) ClearQueue(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	n, err := h.State.ClearQueue()
	if err != nil {
		h.log(ctx, "clear queue", err)
		return web.Respond(ctx, w, failed("Clearing the queue failed: %s", err), http.StatusOK)
	}

	return web.Respond(ctx, w, ok("%d operations removed from the queue.", n), http.StatusOK)
}

// RevertOneBlock reverts the last block and puts its operations back into
// the queue.
func (h Handlers) RevertOneBlock(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	b, err := h.State.RevertOneBlock()
	if err != nil {
		h.log(ctx, "revert block", err)
		return web.Respond(ctx, w, failed("Revert block failed: %s", err), http.StatusOK)
	}

	return web.Respond(ctx, w, ok("Block %s is reverted and operations added to the queue.", b), http.StatusOK)
}

// RevertSuperblock reverts the last superblock and puts its operations back
// into the queue.
func (h Handlers) RevertSuperblock(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	if err := h.State.RevertSuperblock(); err != nil {
		h.log(ctx, "revert superblock", err)
		return web.Respond(ctx, w, failed("Revert super block failed: %s", err), http.StatusOK)
	}

	return web.Respond(ctx, w, ok("Blocks are reverted and operations added to the queue."), http.StatusOK)
}

// Compact merges superblocks when there are too many.
func (h Handlers) Compact(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	if err := h.State.Compact(); err != nil {
		h.log(ctx, "compact", err)
		return web.Respond(ctx, w, failed("Compacting blocks failed: %s", err), http.StatusOK)
	}

	return web.Respond(ctx, w, ok("Blocks are compacted."), http.StatusOK)
}

// ToggleBlocksPause switches block creation on or off.
func (h Handlers) ToggleBlocksPause(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	on := !h.State.IsBlockCreationOn()
	if !h.State.SetBlockCreationOn(on) {
		return web.Respond(ctx, w, failed("Block creation can't be switched in mode %s", h.State.Mode()), http.StatusOK)
	}

	return web.Respond(ctx, w, ok("Mode is %s.", h.State.Mode()), http.StatusOK)
}

// ToggleReplicatePause switches replication on or off.
func (h Handlers) ToggleReplicatePause(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	on := !h.State.IsReplicateOn()
	if !h.State.SetReplicateOn(on) {
		return web.Respond(ctx, w, failed("Replication can't be switched in mode %s", h.State.Mode()), http.StatusOK)
	}

	return web.Respond(ctx, w, ok("Mode is %s.", h.State.Mode()), http.StatusOK)
}

// TogglePause locks or unlocks the ledger for changes.
func (h Handlers) TogglePause(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	if h.State.Pause() {
		return web.Respond(ctx, w, ok("Ledger is locked."), http.StatusOK)
	}

	if h.State.Resume() {
		return web.Respond(ctx, w, ok("Ledger is unlocked."), http.StatusOK)
	}

	return web.Respond(ctx, w, failed("Ledger can't be unlocked"), http.StatusOK)
}

// Replicate pulls new blocks from the upstream node now.
func (h Handlers) Replicate(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	n, err := h.State.Replicate(ctx)
	if err != nil {
		h.log(ctx, "replicate", err)
		return web.Respond(ctx, w, failed("Replication failed: %s", err), http.StatusOK)
	}

	return web.Respond(ctx, w, ok("%d blocks replicated.", n), http.StatusOK)
}

// Bootstrap adds the bootstrap operations of the genesis to the queue.
func (h Handlers) Bootstrap(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	n, err := h.State.Bootstrap()
	if err != nil {
		h.log(ctx, "bootstrap", err)
		return web.Respond(ctx, w, failed("Bootstrap failed: %s", err), http.StatusOK)
	}

	return web.Respond(ctx, w, ok("%d operations added to the queue.", n), http.StatusOK)
}

// DeleteQueueOperations removes the queued operations with the hashes along
// with the queued operations that depend on them.
func (h Handlers) DeleteQueueOperations(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	var req hashes
	if err := web.Decode(r, &req); err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	if err := validate.Check(req); err != nil {
		return err
	}

	removed, err := h.State.RemoveQueueOperations(req.Hashes)
	if err != nil {
		h.log(ctx, "delete queue operations", err)
		return web.Respond(ctx, w, failed("Deleting operations failed: %s", err), http.StatusOK)
	}

	return web.Respond(ctx, w, removedInfo{Status: "OK", Removed: removed}, http.StatusOK)
}

// DeleteOrphanedBlocks removes the orphaned blocks with the hashes.
func (h Handlers) DeleteOrphanedBlocks(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	var req hashes
	if err := web.Decode(r, &req); err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	if err := validate.Check(req); err != nil {
		return err
	}

	removed := []string{}
	for _, hash := range req.Hashes {
		if err := h.State.RemoveOrphanedBlock(hash); err != nil {
			h.log(ctx, "delete orphaned block", err)
			continue
		}
		removed = append(removed, hash)
	}

	return web.Respond(ctx, w, removedInfo{Status: "OK", Removed: removed}, http.StatusOK)
}

// OrphanedBlocks lists the stored blocks that don't chain onto the ledger.
func (h Handlers) OrphanedBlocks(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	orphans := h.State.OrphanedBlocks()

	list := make([]database.BlockData, len(orphans))
	for i, b := range orphans {
		list[i] = database.NewBlockHeaderData(b, "")
	}

	return web.Respond(ctx, w, list, http.StatusOK)
}

func (h Handlers) log(ctx context.Context, action string, err error) {
	h.Log.Errorw("mgmt", "traceid", web.GetTraceID(ctx), "action", action, "ERROR", err)
}

// =============================================================================

func ok(format string, args ...any) result {
	return result{Status: "OK", Msg: fmt.Sprintf(format, args...)}
}

func failed(format string, args ...any) result {
	return result{Status: "FAILED", Msg: fmt.Sprintf(format, args...)}
}
