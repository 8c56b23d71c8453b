package worker

import (
	"errors"
	"time"

	"github.com/ardanlabs/opledger/foundation/blockchain/state"
)

// blockOperations creates blocks on every tick and whenever a full block
// is waiting in the queue.
func (w *Worker) blockOperations() {
	w.evHandler("worker: blockOperations: G started")
	defer w.evHandler("worker: blockOperations: G completed")

	ticker := time.NewTicker(w.cfg.BlockInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if !w.isShutdown() {
				w.runBlockOperation()
			}
		case <-w.createBlock:
			if !w.isShutdown() {
				w.runBlockOperation()
			}
		case <-w.shut:
			w.evHandler("worker: blockOperations: received shut signal")
			return
		}
	}
}

// runBlockOperation creates blocks until the queue is empty.
func (w *Worker) runBlockOperation() {
	if !w.state.IsBlockCreationOn() {
		return
	}

	for !w.isShutdown() {
		b, err := w.state.CreateBlock()
		switch {
		case errors.Is(err, state.ErrNoOperations):
			return
		case err != nil:
			w.evHandler("worker: runBlockOperation: ERROR: %s", err)
			return
		}

		w.evHandler("worker: runBlockOperation: blk[%s]: created", b)
	}
}
