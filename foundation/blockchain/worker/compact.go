package worker

import "time"

// compactOperations compacts the superblocks on every tick.
func (w *Worker) compactOperations() {
	w.evHandler("worker: compactOperations: G started")
	defer w.evHandler("worker: compactOperations: G completed")

	ticker := time.NewTicker(w.cfg.CompactInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if !w.isShutdown() {
				if err := w.state.Compact(); err != nil {
					w.evHandler("worker: compactOperations: ERROR: %s", err)
				}
			}
		case <-w.shut:
			w.evHandler("worker: compactOperations: received shut signal")
			return
		}
	}
}
