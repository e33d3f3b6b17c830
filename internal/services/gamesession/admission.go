package gamesession

import (
	"sync"
	"time"

	"casino/internal/domain/gamesession"
	"casino/internal/metrics"
	"casino/pkg/logger"
)

// Decision is the outcome of an admission attempt
type Decision int

const (
	Admitted Decision = iota
	RateLimited
	Locked
	SessionExists
)

// String returns the decision name for logging
func (d Decision) String() string {
	switch d {
	case Admitted:
		return "admitted"
	case RateLimited:
		return "rate_limited"
	case Locked:
		return "locked"
	default:
		return "session_exists"
	}
}

// AdmissionResult carries the decision plus the existing session when the
// rejection is SessionExists, so callers can resume it instead of retrying
type AdmissionResult struct {
	Decision Decision
	Existing *gamesession.Session
}

// Admission validates whether a new session may be created before any
// mutation happens. It owns two pieces of per-user state: the rate-limit
// timestamp and the provisional creation lock. Lock plus the
// single-active-session check give a total order to admission, creation
// and termination for any one user, even under concurrent handlers.
type Admission struct {
	store *gamesession.Store
	log   *logger.Logger

	mu          sync.Mutex
	lastAttempt map[string]time.Time
	locks       map[string]time.Time

	rateWindow    time.Duration
	lockStaleness time.Duration
	maxPerUser    int

	now func() time.Time
}

// NewAdmission creates an admission controller over the given store
func NewAdmission(store *gamesession.Store, rateWindow, lockStaleness time.Duration, maxPerUser int, log *logger.Logger) *Admission {
	if maxPerUser <= 0 {
		maxPerUser = 1
	}
	return &Admission{
		store:         store,
		log:           log.With("component", "admission"),
		lastAttempt:   make(map[string]time.Time),
		locks:         make(map[string]time.Time),
		rateWindow:    rateWindow,
		lockStaleness: lockStaleness,
		maxPerUser:    maxPerUser,
		now:           time.Now,
	}
}

// TryAdmit decides whether userID may create a session right now. On
// Admitted the provisional lock is held and the caller must release it
// unconditionally once creation succeeds or fails. The rate-limit stamp
// is updated on every attempt, including rejections, so retry storms
// cannot slip through the window.
func (a *Admission) TryAdmit(userID, guildID string, kind gamesession.Kind) AdmissionResult {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	last, attempted := a.lastAttempt[userID]
	a.lastAttempt[userID] = now

	if attempted && now.Sub(last) < a.rateWindow {
		a.log.Debugw("Admission rejected: rate limited",
			"user_id", userID,
			"since_last", now.Sub(last),
		)
		metrics.AdmissionRejections.WithLabelValues("rate_limited").Inc()
		return AdmissionResult{Decision: RateLimited}
	}

	if acquired, ok := a.locks[userID]; ok {
		age := now.Sub(acquired)
		if age < a.lockStaleness {
			a.log.Debugw("Admission rejected: lock held",
				"user_id", userID,
				"lock_age", age,
			)
			metrics.AdmissionRejections.WithLabelValues("locked").Inc()
			return AdmissionResult{Decision: Locked}
		}
		// A lock older than the staleness threshold belongs to a caller
		// that crashed mid-creation; clear it rather than honor it so a
		// leaked lock cannot block the user for longer than the threshold.
		a.log.Warnw("Clearing stale admission lock",
			"user_id", userID,
			"lock_age", age,
		)
		metrics.StaleLocksCleared.Inc()
		delete(a.locks, userID)
	}

	// Single store snapshot: terminations run without the admission mutex,
	// so a count read followed by a separate session read could observe the
	// session disappearing in between.
	if active := a.store.UserSessions(userID); len(active) >= a.maxPerUser {
		existing := active[0]
		a.log.Debugw("Admission rejected: active session exists",
			"user_id", userID,
			"existing_session_id", existing.ID,
			"existing_game", existing.Kind,
		)
		metrics.AdmissionRejections.WithLabelValues("session_exists").Inc()
		return AdmissionResult{Decision: SessionExists, Existing: existing}
	}

	a.locks[userID] = now
	a.log.Debugw("Admission granted",
		"user_id", userID,
		"guild_id", guildID,
		"game", kind,
	)
	return AdmissionResult{Decision: Admitted}
}

// Release drops the provisional lock for userID. Safe to call when no
// lock is held.
func (a *Admission) Release(userID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.locks, userID)
}

// ReleaseIfStale drops the user's lock only when it has outlived the
// staleness threshold. Recovery paths use this instead of Release so they
// cannot yank the lock out from under a creation that is still in flight.
func (a *Admission) ReleaseIfStale(userID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	acquired, ok := a.locks[userID]
	if !ok || a.now().Sub(acquired) < a.lockStaleness {
		return false
	}
	delete(a.locks, userID)
	return true
}

// LockHeld reports whether a provisional lock currently exists for userID
func (a *Admission) LockHeld(userID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.locks[userID]
	return ok
}

// SetClock overrides the time source; tests use this to drive the rate
// window and lock staleness deterministically
func (a *Admission) SetClock(now func() time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.now = now
}
