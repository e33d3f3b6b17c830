package workers

import (
	"context"
	"time"

	sessionsvc "casino/internal/services/gamesession"
)

// SessionCleanupWorker runs the two reconciliation passes of the session
// core: expiring Active sessions that went quiet (refunding their stake)
// and purging terminal records past the grace window. Both passes funnel
// into the engine's idempotent termination path, so racing a manual end
// or a per-session timer is safe.
type SessionCleanupWorker struct {
	*BaseWorker
	sessions *sessionsvc.Service
}

// NewSessionCleanupWorker creates the cleanup worker
func NewSessionCleanupWorker(sessions *sessionsvc.Service, interval time.Duration) *SessionCleanupWorker {
	return &SessionCleanupWorker{
		BaseWorker: NewBaseWorker("session_cleanup", interval, true),
		sessions:   sessions,
	}
}

// Run executes one cleanup iteration
func (w *SessionCleanupWorker) Run(ctx context.Context) error {
	swept, err := w.sessions.SweepStale(ctx)
	if err != nil {
		w.RecordError(err)
		return err
	}

	purged := w.sessions.PurgeEnded(ctx)

	if swept > 0 || purged > 0 {
		w.Log().Infow("Session cleanup pass finished",
			"swept", swept,
			"purged", purged,
		)
	}

	w.RecordRun()
	return nil
}
