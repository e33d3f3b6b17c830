package gamesession

import (
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"casino/internal/domain/gamesession"
	"casino/pkg/logger"
)

// fakeClock drives admission timing deterministically
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.t = c.t.Add(d)
}

func newTestAdmission(t *testing.T) (*Admission, *gamesession.Store, *fakeClock) {
	t.Helper()
	store := gamesession.NewStore()
	adm := NewAdmission(store, time.Second, 5*time.Second, 1, logger.Get())
	clock := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	adm.SetClock(clock.Now)
	return adm, store, clock
}

func TestAdmission_FirstAttemptAdmitted(t *testing.T) {
	adm, _, _ := newTestAdmission(t)

	result := adm.TryAdmit("user-1", "guild-1", gamesession.KindBlackjack)
	assert.Equal(t, Admitted, result.Decision)
	assert.True(t, adm.LockHeld("user-1"))
}

func TestAdmission_RapidRetryRateLimited(t *testing.T) {
	adm, _, clock := newTestAdmission(t)

	first := adm.TryAdmit("user-1", "guild-1", gamesession.KindBlackjack)
	require.Equal(t, Admitted, first.Decision)
	adm.Release("user-1")

	clock.Advance(200 * time.Millisecond)
	second := adm.TryAdmit("user-1", "guild-1", gamesession.KindBlackjack)
	assert.Equal(t, RateLimited, second.Decision)
}

func TestAdmission_RejectionRefreshesRateWindow(t *testing.T) {
	adm, _, clock := newTestAdmission(t)

	adm.TryAdmit("user-1", "guild-1", gamesession.KindSlots)
	adm.Release("user-1")

	// Each rapid retry is rejected AND re-stamps the window, so a retry
	// storm never slips through by outwaiting only the first attempt
	for i := 0; i < 5; i++ {
		clock.Advance(900 * time.Millisecond)
		result := adm.TryAdmit("user-1", "guild-1", gamesession.KindSlots)
		assert.Equal(t, RateLimited, result.Decision, "attempt %d", i)
	}

	clock.Advance(1100 * time.Millisecond)
	result := adm.TryAdmit("user-1", "guild-1", gamesession.KindSlots)
	assert.Equal(t, Admitted, result.Decision)
}

func TestAdmission_LockBlocksSecondCaller(t *testing.T) {
	adm, _, clock := newTestAdmission(t)

	first := adm.TryAdmit("user-1", "guild-1", gamesession.KindRoulette)
	require.Equal(t, Admitted, first.Decision)

	clock.Advance(2 * time.Second)
	second := adm.TryAdmit("user-1", "guild-1", gamesession.KindRoulette)
	assert.Equal(t, Locked, second.Decision)
}

func TestAdmission_StaleLockCleared(t *testing.T) {
	adm, _, clock := newTestAdmission(t)

	first := adm.TryAdmit("user-1", "guild-1", gamesession.KindRoulette)
	require.Equal(t, Admitted, first.Decision)
	// The holder crashed; no Release happens

	clock.Advance(6 * time.Second)
	second := adm.TryAdmit("user-1", "guild-1", gamesession.KindRoulette)
	assert.Equal(t, Admitted, second.Decision, "abandoned lock past staleness must not block admission")
}

func TestAdmission_ActiveSessionRejected(t *testing.T) {
	adm, store, clock := newTestAdmission(t)

	sess := gamesession.NewSession("user-1", "guild-1", "", gamesession.KindBlackjack,
		decimal.NewFromInt(50), 0, nil, clock.Now())
	require.NoError(t, store.Insert(sess))

	clock.Advance(5 * time.Second)
	result := adm.TryAdmit("user-1", "guild-1", gamesession.KindSlots)
	assert.Equal(t, SessionExists, result.Decision)
	require.NotNil(t, result.Existing)
	assert.Equal(t, sess.ID, result.Existing.ID)
	assert.False(t, adm.LockHeld("user-1"), "rejection must not leak a lock")
}

func TestAdmission_RacingTerminationNeverPanics(t *testing.T) {
	store := gamesession.NewStore()
	adm := NewAdmission(store, 0, 5*time.Second, 1, logger.Get())

	// Terminations run without the admission mutex, so the user's active
	// session can vanish between any two store reads TryAdmit makes.
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
			}
			sess := gamesession.NewSession("user-1", "guild-1", "", gamesession.KindBlackjack,
				decimal.Zero, 0, nil, time.Now())
			if store.Insert(sess) != nil {
				continue
			}
			store.MarkEnded(sess.ID, gamesession.ReasonCompleted, time.Now())
			store.Purge(sess.ID)
		}
	}()

	deadline := time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(deadline) {
		result := adm.TryAdmit("user-1", "guild-1", gamesession.KindSlots)
		if result.Decision == SessionExists {
			require.NotNil(t, result.Existing, "session-exists rejection must carry the session")
		}
		adm.Release("user-1")
	}

	close(done)
	wg.Wait()
}

func TestAdmission_ReleaseIfStale(t *testing.T) {
	adm, _, clock := newTestAdmission(t)

	require.Equal(t, Admitted, adm.TryAdmit("user-1", "guild-1", gamesession.KindCrash).Decision)

	clock.Advance(2 * time.Second)
	assert.False(t, adm.ReleaseIfStale("user-1"), "fresh lock belongs to an in-flight creation")
	assert.True(t, adm.LockHeld("user-1"))

	clock.Advance(4 * time.Second)
	assert.True(t, adm.ReleaseIfStale("user-1"))
	assert.False(t, adm.LockHeld("user-1"))
}

func TestAdmission_DistinctUsersIndependent(t *testing.T) {
	adm, _, _ := newTestAdmission(t)

	a := adm.TryAdmit("user-1", "guild-1", gamesession.KindDuel)
	b := adm.TryAdmit("user-2", "guild-1", gamesession.KindDuel)
	assert.Equal(t, Admitted, a.Decision)
	assert.Equal(t, Admitted, b.Decision)
}

func TestAdmission_ReleaseAllowsReacquire(t *testing.T) {
	adm, _, clock := newTestAdmission(t)

	require.Equal(t, Admitted, adm.TryAdmit("user-1", "guild-1", gamesession.KindCrash).Decision)
	adm.Release("user-1")
	assert.False(t, adm.LockHeld("user-1"))

	clock.Advance(2 * time.Second)
	assert.Equal(t, Admitted, adm.TryAdmit("user-1", "guild-1", gamesession.KindCrash).Decision)
}
