package gamesession

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// State represents the lifecycle state of a game session
type State string

const (
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateCancelled State = "cancelled"
	StateErrored   State = "errored"
	StateTimedOut  State = "timed_out"
	// StatePaused is declared for API completeness; the minimal state
	// machine never transitions into it.
	StatePaused State = "paused"
)

// Terminal reports whether the state admits no further transitions
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateCancelled, StateErrored, StateTimedOut:
		return true
	}
	return false
}

// EndReason describes why a session was terminated
type EndReason string

const (
	ReasonCompleted EndReason = "completed"
	ReasonCancelled EndReason = "cancelled"
	ReasonError     EndReason = "error"
	ReasonTimeout   EndReason = "timeout"
)

// StateFor maps an end reason to its terminal state
func (r EndReason) StateFor() State {
	switch r {
	case ReasonCompleted:
		return StateCompleted
	case ReasonError:
		return StateErrored
	case ReasonTimeout:
		return StateTimedOut
	default:
		return StateCancelled
	}
}

// Kind identifies a supported game type
type Kind string

const (
	KindBlackjack Kind = "blackjack"
	KindSlots     Kind = "slots"
	KindRoulette  Kind = "roulette"
	KindCoinflip  Kind = "coinflip"
	KindCrash     Kind = "crash"
	KindDuel      Kind = "duel"
)

var supportedKinds = map[Kind]struct{}{
	KindBlackjack: {},
	KindSlots:     {},
	KindRoulette:  {},
	KindCoinflip:  {},
	KindCrash:     {},
	KindDuel:      {},
}

// Valid reports whether the kind belongs to the supported set
func (k Kind) Valid() bool {
	_, ok := supportedKinds[k]
	return ok
}

// Stats holds per-session observability counters
type Stats struct {
	ActionCount int64 `json:"action_count"`
	ErrorCount  int64 `json:"error_count"`
}

// Session is a bounded unit of user engagement with optional reserved funds.
// The stake is debited from the user's balance at creation and is resolved
// exactly once at termination (payout, refund, or forfeit).
type Session struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	GuildID   string `json:"guild_id"`
	ChannelID string `json:"channel_id,omitempty"`
	Kind      Kind   `json:"kind"`

	Stake decimal.Decimal `json:"stake"`

	State     State     `json:"state"`
	EndReason EndReason `json:"end_reason,omitempty"`

	CreatedAt      time.Time  `json:"created_at"`
	LastActivityAt time.Time  `json:"last_activity_at"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`

	// Timeout is the inactivity budget for the per-session timer; zero
	// disables auto-expiry (the periodic sweep still applies).
	Timeout time.Duration `json:"timeout"`

	// Metadata is an opaque caller-supplied bag the core never inspects
	Metadata map[string]any `json:"metadata,omitempty"`

	Stats Stats `json:"stats"`
}

// NewSession builds an Active session with a fresh collision-resistant id
func NewSession(userID, guildID, channelID string, kind Kind, stake decimal.Decimal, timeout time.Duration, metadata map[string]any, now time.Time) *Session {
	return &Session{
		ID:             uuid.NewString(),
		UserID:         userID,
		GuildID:        guildID,
		ChannelID:      channelID,
		Kind:           kind,
		Stake:          stake,
		State:          StateActive,
		CreatedAt:      now,
		LastActivityAt: now,
		Timeout:        timeout,
		Metadata:       metadata,
	}
}

// Active reports whether the session accepts activity updates
func (s *Session) Active() bool {
	return s.State == StateActive
}

// Clone returns a copy safe to hand to callers while the engine keeps
// mutating the original under the store lock
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	if s.EndedAt != nil {
		t := *s.EndedAt
		c.EndedAt = &t
	}
	if s.Metadata != nil {
		c.Metadata = make(map[string]any, len(s.Metadata))
		for k, v := range s.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}
