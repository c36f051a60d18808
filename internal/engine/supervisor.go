package engine

import "time"

// supervise is the liveness loop: while healthy it pings the engine every
// keepalive interval, and after a death it restarts the child with backoff
// until the restart cap. The loop is the only place restarts happen, so a
// handler stuck on a dead stream can never wedge recovery.
func (e *Engine) supervise() {
	ticker := time.NewTicker(e.cfg.KeepaliveInterval)
	defer ticker.Stop()

	restarts := 0
	for {
		select {
		case <-e.done:
			return
		case <-ticker.C:
		}

		if e.alive.Load() {
			if err := e.ping(); err != nil {
				e.log.WithError(err).Warn("keepalive ping failed, marking engine dead")
				e.markDead()
			} else {
				restarts = 0
				continue
			}
		}

		if restarts >= e.cfg.MaxRestarts {
			e.log.WithFields(map[string]interface{}{
				"restarts": restarts,
			}).Warn("engine restart cap reached, supervision continues without restarting")
			continue
		}

		// Waiters registered against the dead incarnation must observe
		// cancellation, never a response from the next one.
		e.pending.drainAll()

		if !e.sleep(e.cfg.RestartBackoff) {
			return
		}

		e.teardown()

		restarts++
		e.stats.RecordRestart()

		if err := e.startProcess(); err != nil {
			e.log.WithError(err).WithField("attempt", restarts).Error("engine restart failed")
			continue
		}
		e.log.WithFields(map[string]interface{}{"attempt": restarts}).Warn("engine restarted")

		// Let the model load before the next tick can ping it.
		if !e.sleep(e.cfg.InitWait) {
			return
		}
	}
}

// ping writes a version query under the reserved keepalive id. The response
// is discarded by the demultiplexer; only the write outcome matters.
func (e *Engine) ping() error {
	return e.sendControl(pingID, "query_version")
}

// sleep waits for d unless the engine is closed first.
func (e *Engine) sleep(d time.Duration) bool {
	select {
	case <-e.done:
		return false
	case <-time.After(d):
		return true
	}
}
