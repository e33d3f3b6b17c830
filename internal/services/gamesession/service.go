package gamesession

import (
	"context"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"casino/internal/domain/gamesession"
	"casino/internal/domain/ledger"
	"casino/internal/events"
	"casino/internal/metrics"
	"casino/pkg/errors"
	"casino/pkg/logger"
)

// NoTimeout disables the per-session inactivity timer; the periodic
// sweep still bounds the session's lifetime.
const NoTimeout = time.Duration(-1)

// Config holds the tunable knobs of the lifecycle engine. The values are
// heuristics for liveness and UX, not correctness; tests shrink them.
type Config struct {
	RateLimitWindow   time.Duration
	LockStaleness     time.Duration
	InactivityTimeout time.Duration
	GraceWindow       time.Duration
	DefaultTimeout    time.Duration
	MaxPerUser        int
	RefundRatePerSec  int
}

// DefaultConfig returns production defaults
func DefaultConfig() Config {
	return Config{
		RateLimitWindow:   time.Second,
		LockStaleness:     5 * time.Second,
		InactivityTimeout: 10 * time.Minute,
		GraceWindow:       60 * time.Second,
		DefaultTimeout:    5 * time.Minute,
		MaxPerUser:        1,
		RefundRatePerSec:  20,
	}
}

// CreateParams describes a session creation request.
// Timeout zero means the configured default; use NoTimeout to disable
// the per-session timer.
type CreateParams struct {
	UserID    string
	GuildID   string
	ChannelID string
	Kind      gamesession.Kind
	Stake     decimal.Decimal
	Timeout   time.Duration
	Metadata  map[string]any
}

// Outcome describes how a session terminates
type Outcome struct {
	Payout decimal.Decimal
	Reason gamesession.EndReason
}

// EndSummary reports the result of a termination request. AlreadyEnded is
// true when a racing caller (or the timeout path) won the transition
// first; that is success, not failure.
type EndSummary struct {
	Session      *gamesession.Session
	State        gamesession.State
	Payout       decimal.Decimal
	AlreadyEnded bool
}

// Service is the session lifecycle engine. It is the sole writer of the
// session store and the sole authority for the ledger debits and credits
// attached to session stakes: a debit never survives without either a
// live Active session or a matching compensating credit.
type Service struct {
	store     *gamesession.Store
	admission *Admission
	ledger    ledger.Client
	sink      events.Sink
	cfg       Config
	log       *logger.Logger

	timersMu    sync.Mutex
	timers      map[string]*time.Timer
	purgeTimers map[string]*time.Timer

	// refundLimiter paces bulk ledger credits issued by the sweep and
	// force-cleanup paths so a mass expiry cannot storm the ledger
	refundLimiter *rate.Limiter

	now func() time.Time
}

// NewService creates the lifecycle engine
func NewService(store *gamesession.Store, ledgerClient ledger.Client, sink events.Sink, cfg Config, log *logger.Logger) *Service {
	if sink == nil {
		sink = events.NopSink{}
	}
	refundRate := cfg.RefundRatePerSec
	if refundRate <= 0 {
		refundRate = 20
	}
	return &Service{
		store:         store,
		admission:     NewAdmission(store, cfg.RateLimitWindow, cfg.LockStaleness, cfg.MaxPerUser, log),
		ledger:        ledgerClient,
		sink:          sink,
		cfg:           cfg,
		log:           log.With("service", "gamesession"),
		timers:        make(map[string]*time.Timer),
		purgeTimers:   make(map[string]*time.Timer),
		refundLimiter: rate.NewLimiter(rate.Limit(refundRate), refundRate),
		now:           time.Now,
	}
}

// Admission exposes the admission controller, mainly for tests
func (s *Service) Admission() *Admission {
	return s.admission
}

// CreateSession admits, reserves the stake, and registers a new Active
// session. On any failure after a successful debit the stake is credited
// back before the error surfaces. The admission lock is released
// unconditionally, success or failure.
func (s *Service) CreateSession(ctx context.Context, params CreateParams) (sess *gamesession.Session, err error) {
	if err := s.validate(params); err != nil {
		return nil, err
	}

	result := s.admission.TryAdmit(params.UserID, params.GuildID, params.Kind)
	switch result.Decision {
	case RateLimited:
		return nil, errors.NewDomainError(errors.CodeRateLimited,
			"You're doing that too fast. Wait a moment and try again.",
			errors.ErrRateLimited)
	case Locked:
		return nil, errors.NewDomainError(errors.CodeLocked,
			"A game is already being set up for you. Try again in a few seconds.",
			errors.ErrSessionLocked)
	case SessionExists:
		if result.Existing == nil {
			return nil, errors.NewDomainError(errors.CodeSessionExists,
				"You already have an active game. Finish it first.",
				errors.ErrSessionExists)
		}
		return result.Existing, errors.NewDomainError(errors.CodeSessionExists,
			"You already have an active "+string(result.Existing.Kind)+" game. Finish it first.",
			errors.ErrSessionExists)
	}
	defer s.admission.Release(params.UserID)

	debited := false
	if params.Stake.IsPositive() {
		if err := s.reserveStake(ctx, params); err != nil {
			return nil, err
		}
		debited = true
	}

	// Anything that goes wrong past this point must undo the debit; a
	// reserved stake without a live session is a lost refund.
	defer func() {
		if r := recover(); r != nil {
			if debited && sess == nil {
				s.compensate(ctx, params)
			}
			s.log.Errorw("Panic during session creation",
				"user_id", params.UserID,
				"panic", r,
			)
			err = errors.NewDomainError(errors.CodeInternal,
				"Something went wrong. Please try again.",
				errors.ErrInternal)
		}
	}()

	timeout := params.Timeout
	if timeout == 0 {
		timeout = s.cfg.DefaultTimeout
	} else if timeout < 0 {
		timeout = 0
	}

	created := gamesession.NewSession(
		params.UserID, params.GuildID, params.ChannelID,
		params.Kind, params.Stake, timeout, params.Metadata, s.now(),
	)

	if err := s.store.Insert(created); err != nil {
		if debited {
			s.compensate(ctx, params)
		}
		s.log.Errorw("Failed to insert session",
			"session_id", created.ID,
			"user_id", params.UserID,
			"error", err,
		)
		return nil, errors.NewDomainError(errors.CodeInternal,
			"Something went wrong. Please try again.", err)
	}

	// From here the debit is matched by a live session; a late panic must
	// not trigger compensation on top of it
	sess = created.Clone()

	if timeout > 0 {
		s.armTimer(created.ID, timeout)
	}

	metrics.SessionCreations.WithLabelValues(string(created.Kind)).Inc()
	metrics.SessionsActive.Inc()

	s.log.Infow("Session created",
		"session_id", created.ID,
		"user_id", params.UserID,
		"guild_id", params.GuildID,
		"game", created.Kind,
		"stake", params.Stake,
		"timeout", timeout,
	)

	s.sink.SessionCreated(ctx, events.SessionCreated{
		Session:   created.Clone(),
		Timestamp: s.now(),
	})

	return sess, nil
}

// EndSession terminates a session. Idempotent: ending a session that is
// already terminal, or gone, reports success describing what happened,
// and never mutates the ledger a second time.
func (s *Service) EndSession(ctx context.Context, sessionID string, outcome Outcome) (*EndSummary, error) {
	if outcome.Reason == "" {
		outcome.Reason = gamesession.ReasonCompleted
	}

	ended, won, err := s.store.MarkEnded(sessionID, outcome.Reason, s.now())
	if err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			// Purged or never existed; double-termination from racing
			// callers is not a failure
			return &EndSummary{AlreadyEnded: true}, nil
		}
		return nil, err
	}
	if !won {
		return &EndSummary{
			Session:      ended,
			State:        ended.State,
			Payout:       decimal.Zero,
			AlreadyEnded: true,
		}, nil
	}

	s.cancelTimer(sessionID)

	// Only the transition winner credits, so a payout is issued at most
	// once no matter how many terminators race.
	if outcome.Payout.IsPositive() {
		err := s.ledger.AdjustBalance(ctx, ended.UserID, ended.GuildID, outcome.Payout, false)
		metrics.RecordLedgerOperation("credit", err)
		if err != nil {
			// A stuck Active session is worse than a money discrepancy;
			// log for out-of-band reconciliation and keep going.
			s.store.RecordError(sessionID)
			s.log.Errorw("Payout credit failed, needs reconciliation",
				"session_id", sessionID,
				"user_id", ended.UserID,
				"payout", outcome.Payout,
				"error", err,
			)
		}
	}

	metrics.SessionTerminations.WithLabelValues(string(ended.Kind), string(ended.State)).Inc()
	metrics.SessionsActive.Dec()
	if ended.EndedAt != nil {
		metrics.SessionDuration.WithLabelValues(string(ended.Kind)).
			Observe(ended.EndedAt.Sub(ended.CreatedAt).Seconds())
	}

	s.schedulePurge(sessionID)

	s.log.Infow("Session ended",
		"session_id", sessionID,
		"user_id", ended.UserID,
		"game", ended.Kind,
		"state", ended.State,
		"reason", outcome.Reason,
		"payout", outcome.Payout,
	)

	s.sink.SessionEnded(ctx, events.SessionEnded{
		Session:   ended,
		State:     ended.State,
		Payout:    outcome.Payout,
		Timestamp: s.now(),
	})

	return &EndSummary{
		Session: ended,
		State:   ended.State,
		Payout:  outcome.Payout,
	}, nil
}

// CancelSession ends a session with the stake refunded (or forfeited
// when refund is false)
func (s *Service) CancelSession(ctx context.Context, sessionID, reason string, refund bool) (*EndSummary, error) {
	payout := decimal.Zero
	if refund {
		if sess := s.store.Get(sessionID); sess != nil {
			payout = sess.Stake
		}
	}

	s.log.Infow("Cancelling session",
		"session_id", sessionID,
		"reason", reason,
		"refund", refund,
	)

	return s.EndSession(ctx, sessionID, Outcome{
		Payout: payout,
		Reason: gamesession.ReasonCancelled,
	})
}

// UpdateActivity extends the session's liveness. The only mutation a
// caller may perform on a live session besides ending it; a no-op on
// anything not Active.
func (s *Service) UpdateActivity(sessionID string) bool {
	if !s.store.Touch(sessionID, s.now()) {
		return false
	}

	// Re-arm the inactivity timer from now
	s.timersMu.Lock()
	if t, ok := s.timers[sessionID]; ok {
		if sess := s.store.Get(sessionID); sess != nil && sess.Timeout > 0 {
			t.Reset(sess.Timeout)
		}
	}
	s.timersMu.Unlock()
	return true
}

// GetSession returns the session by id while it remains retained,
// terminal records included
func (s *Service) GetSession(sessionID string) *gamesession.Session {
	return s.store.Get(sessionID)
}

// GetUserActiveSession returns the user's Active session, if any
func (s *Service) GetUserActiveSession(userID string) *gamesession.Session {
	return s.store.UserActiveSession(userID)
}

// ListChannelSessions returns the Active sessions in a channel
func (s *Service) ListChannelSessions(channelID string) []*gamesession.Session {
	return s.store.ChannelSessions(channelID)
}

// ForceCleanupUser cancels-with-refund every session the user owns.
// Administrative override for recovery from stuck states.
func (s *Service) ForceCleanupUser(ctx context.Context, userID, guildID, reason string) (int, error) {
	sessions := s.store.UserSessions(userID)

	// Only an abandoned lock is cleared; a fresh one belongs to a creation
	// still in flight and releasing it would let a second create slip past
	// admission while the first is mid-debit.
	if s.admission.ReleaseIfStale(userID) {
		s.log.Warnw("Cleared stale admission lock during cleanup", "user_id", userID)
	}

	cleaned := 0
	for _, sess := range sessions {
		if err := s.refundLimiter.Wait(ctx); err != nil {
			return cleaned, err
		}
		summary, err := s.CancelSession(ctx, sess.ID, reason, true)
		if err != nil {
			s.log.Errorw("Force cleanup failed for session",
				"session_id", sess.ID,
				"user_id", userID,
				"error", err,
			)
			continue
		}
		if !summary.AlreadyEnded {
			cleaned++
		}
	}

	s.log.Infow("Force cleanup finished",
		"user_id", userID,
		"guild_id", guildID,
		"reason", reason,
		"cleaned", cleaned,
	)
	return cleaned, nil
}

// SweepStale expires every Active session whose inactivity exceeds the
// configured bound, refunding the full stake. Safety net for per-session
// timers that failed to fire and for sessions created without one.
func (s *Service) SweepStale(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.cfg.InactivityTimeout)

	swept := 0
	for _, sess := range s.store.ActiveSessions() {
		if sess.LastActivityAt.After(cutoff) {
			continue
		}
		if err := s.refundLimiter.Wait(ctx); err != nil {
			return swept, err
		}

		s.log.Warnw("Expiring stale session",
			"session_id", sess.ID,
			"user_id", sess.UserID,
			"game", sess.Kind,
			"last_activity", sess.LastActivityAt,
		)

		summary, err := s.EndSession(ctx, sess.ID, Outcome{
			Payout: sess.Stake,
			Reason: gamesession.ReasonTimeout,
		})
		if err != nil {
			s.log.Errorw("Failed to expire stale session",
				"session_id", sess.ID,
				"error", err,
			)
			continue
		}
		if !summary.AlreadyEnded {
			swept++
			metrics.SessionsSwept.Inc()
		}
	}
	return swept, nil
}

// PurgeEnded deletes terminal records older than the grace window.
// Safety net behind the per-session purge timers.
func (s *Service) PurgeEnded(ctx context.Context) int {
	purged := s.store.PurgeEndedBefore(s.now().Add(-s.cfg.GraceWindow))
	if purged > 0 {
		metrics.SessionsPurged.Add(float64(purged))
		s.log.Debugw("Purged ended sessions", "count", purged)
	}
	return purged
}

// Close cancels all outstanding timers. Sessions themselves are
// ephemeral; money already resides in the ledger.
func (s *Service) Close() {
	s.timersMu.Lock()
	defer s.timersMu.Unlock()

	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
	for id, t := range s.purgeTimers {
		t.Stop()
		delete(s.purgeTimers, id)
	}
}

// SetClock overrides the time source for the engine and its admission
// controller; used by tests
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
	s.admission.SetClock(now)
}

func (s *Service) validate(params CreateParams) error {
	switch {
	case params.UserID == "":
		return errors.NewDomainError(errors.CodeInvalidParams,
			"Missing user id.", errors.ErrInvalidInput)
	case params.GuildID == "":
		return errors.NewDomainError(errors.CodeInvalidParams,
			"Missing guild id.", errors.ErrInvalidInput)
	case !params.Kind.Valid():
		return errors.NewDomainError(errors.CodeInvalidParams,
			"Unknown game type.", errors.ErrInvalidInput)
	case params.Stake.IsNegative():
		return errors.NewDomainError(errors.CodeInvalidParams,
			"Stake cannot be negative.", errors.ErrInvalidInput)
	}
	return nil
}

// reserveStake checks funds and debits the stake atomically. The check is
// advisory (gives a friendly message); the debit itself re-validates
// server-side.
func (s *Service) reserveStake(ctx context.Context, params CreateParams) error {
	balance, err := s.ledger.GetBalance(ctx, params.UserID, params.GuildID)
	if err != nil {
		s.log.Errorw("Balance read failed",
			"user_id", params.UserID,
			"error", err,
		)
		metrics.AdmissionRejections.WithLabelValues("ledger_error").Inc()
		return errors.NewDomainError(errors.CodeLedgerError,
			"The bank is unavailable right now. Try again shortly.", err)
	}

	if balance.Available.LessThan(params.Stake) {
		metrics.AdmissionRejections.WithLabelValues("insufficient_funds").Inc()
		return errors.NewDomainError(errors.CodeInsufficientFunds,
			"Insufficient funds: you need "+formatMoney(params.Stake)+
				" but only have "+formatMoney(balance.Available)+".",
			errors.ErrInsufficientBalance)
	}

	err = s.ledger.AdjustBalance(ctx, params.UserID, params.GuildID, params.Stake.Neg(), true)
	metrics.RecordLedgerOperation("debit", err)
	if err != nil {
		if errors.Is(err, errors.ErrInsufficientBalance) {
			// Balance moved between read and debit; same outcome
			metrics.AdmissionRejections.WithLabelValues("insufficient_funds").Inc()
			return errors.NewDomainError(errors.CodeInsufficientFunds,
				"Insufficient funds: you need "+formatMoney(params.Stake)+".",
				err)
		}
		s.log.Errorw("Stake debit failed",
			"user_id", params.UserID,
			"stake", params.Stake,
			"error", err,
		)
		return errors.NewDomainError(errors.CodeLedgerError,
			"The bank is unavailable right now. Try again shortly.", err)
	}

	return nil
}

// compensate credits back a debit whose session never materialized
func (s *Service) compensate(ctx context.Context, params CreateParams) {
	err := s.ledger.AdjustBalance(ctx, params.UserID, params.GuildID, params.Stake, false)
	metrics.RecordLedgerOperation("compensating_credit", err)
	if err != nil {
		s.log.Errorw("Compensating credit failed, needs reconciliation",
			"user_id", params.UserID,
			"guild_id", params.GuildID,
			"stake", params.Stake,
			"error", err,
		)
		return
	}
	s.log.Warnw("Compensating credit issued",
		"user_id", params.UserID,
		"stake", params.Stake,
	)
}

func (s *Service) armTimer(sessionID string, timeout time.Duration) {
	s.timersMu.Lock()
	defer s.timersMu.Unlock()

	s.timers[sessionID] = time.AfterFunc(timeout, func() {
		s.expire(sessionID)
	})
}

func (s *Service) cancelTimer(sessionID string) {
	s.timersMu.Lock()
	defer s.timersMu.Unlock()

	if t, ok := s.timers[sessionID]; ok {
		t.Stop()
		delete(s.timers, sessionID)
	}
}

// expire is the per-session timer path; it funnels into the same
// idempotent EndSession as manual callers and the sweep
func (s *Service) expire(sessionID string) {
	sess := s.store.Get(sessionID)
	if sess == nil || !sess.Active() {
		return
	}

	s.log.Infow("Session timed out",
		"session_id", sessionID,
		"user_id", sess.UserID,
		"game", sess.Kind,
	)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// An abandoned session must never cost the user their stake
	if _, err := s.EndSession(ctx, sessionID, Outcome{
		Payout: sess.Stake,
		Reason: gamesession.ReasonTimeout,
	}); err != nil {
		s.log.Errorw("Timeout termination failed",
			"session_id", sessionID,
			"error", err,
		)
	}
}

func (s *Service) schedulePurge(sessionID string) {
	s.timersMu.Lock()
	defer s.timersMu.Unlock()

	s.purgeTimers[sessionID] = time.AfterFunc(s.cfg.GraceWindow, func() {
		s.store.Purge(sessionID)
		s.timersMu.Lock()
		delete(s.purgeTimers, sessionID)
		s.timersMu.Unlock()
	})
}

func formatMoney(d decimal.Decimal) string {
	return "$" + humanize.CommafWithDigits(d.InexactFloat64(), 2)
}
