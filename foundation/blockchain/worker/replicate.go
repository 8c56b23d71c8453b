package worker

import (
	"context"
	"time"
)

// replicateOperations pulls blocks from the upstream node on every tick.
func (w *Worker) replicateOperations() {
	w.evHandler("worker: replicateOperations: G started")
	defer w.evHandler("worker: replicateOperations: G completed")

	ticker := time.NewTicker(w.cfg.ReplicateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if !w.isShutdown() {
				w.runReplicateOperation()
			}
		case <-w.shut:
			w.evHandler("worker: replicateOperations: received shut signal")
			return
		}
	}
}

// runReplicateOperation performs one replication that is cancelled when
// the worker is shut down.
func (w *Worker) runReplicateOperation() {
	if !w.state.IsReplicateOn() {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		select {
		case <-w.shut:
			cancel()
		case <-ctx.Done():
		}
	}()

	n, err := w.state.Replicate(ctx)
	if err != nil {
		w.evHandler("worker: runReplicateOperation: ERROR: %s", err)
		return
	}

	if n > 0 {
		w.evHandler("worker: runReplicateOperation: blocks[%d]: replicated", n)
	}
}
