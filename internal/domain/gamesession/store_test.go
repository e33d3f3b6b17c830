package gamesession

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSession(userID, channelID string, kind Kind) *Session {
	return NewSession(userID, "guild-1", channelID, kind, decimal.NewFromInt(100), time.Minute, nil, time.Now())
}

func TestStore_InsertIndexesSession(t *testing.T) {
	store := NewStore()
	sess := newTestSession("user-1", "chan-1", KindBlackjack)

	require.NoError(t, store.Insert(sess))

	got := store.Get(sess.ID)
	require.NotNil(t, got)
	assert.Equal(t, sess.ID, got.ID)

	active := store.UserActiveSession("user-1")
	require.NotNil(t, active)
	assert.Equal(t, sess.ID, active.ID)

	assert.Len(t, store.ChannelSessions("chan-1"), 1)
	assert.Len(t, store.KindSessions(KindBlackjack), 1)
}

func TestStore_InsertDuplicateFails(t *testing.T) {
	store := NewStore()
	sess := newTestSession("user-1", "", KindSlots)

	require.NoError(t, store.Insert(sess))
	assert.Error(t, store.Insert(sess))
}

func TestStore_NoChannelIndexWhenChannelEmpty(t *testing.T) {
	store := NewStore()
	sess := newTestSession("user-1", "", KindSlots)

	require.NoError(t, store.Insert(sess))
	assert.Empty(t, store.ChannelSessions(""))
}

func TestStore_MarkEndedRemovesIndicesKeepsRecord(t *testing.T) {
	store := NewStore()
	sess := newTestSession("user-1", "chan-1", KindRoulette)
	require.NoError(t, store.Insert(sess))

	ended, won, err := store.MarkEnded(sess.ID, ReasonCompleted, time.Now())
	require.NoError(t, err)
	assert.True(t, won)
	assert.Equal(t, StateCompleted, ended.State)
	require.NotNil(t, ended.EndedAt)

	// Indices no longer treat it as active
	assert.Nil(t, store.UserActiveSession("user-1"))
	assert.Empty(t, store.ChannelSessions("chan-1"))
	assert.Empty(t, store.KindSessions(KindRoulette))

	// Record survives for late duplicate lookups
	got := store.Get(sess.ID)
	require.NotNil(t, got)
	assert.Equal(t, StateCompleted, got.State)
}

func TestStore_MarkEndedIdempotent(t *testing.T) {
	store := NewStore()
	sess := newTestSession("user-1", "", KindCoinflip)
	require.NoError(t, store.Insert(sess))

	_, won, err := store.MarkEnded(sess.ID, ReasonCompleted, time.Now())
	require.NoError(t, err)
	assert.True(t, won)

	// A racing terminator loses the transition but still sees success
	again, won, err := store.MarkEnded(sess.ID, ReasonTimeout, time.Now())
	require.NoError(t, err)
	assert.False(t, won)
	assert.Equal(t, StateCompleted, again.State, "losing terminator must not change the state")
}

func TestStore_MarkEndedMissing(t *testing.T) {
	store := NewStore()

	_, _, err := store.MarkEnded("nope", ReasonCompleted, time.Now())
	assert.Error(t, err)
}

func TestStore_TouchOnlyActive(t *testing.T) {
	store := NewStore()
	sess := newTestSession("user-1", "", KindCrash)
	require.NoError(t, store.Insert(sess))

	now := time.Now().Add(time.Minute)
	assert.True(t, store.Touch(sess.ID, now))

	got := store.Get(sess.ID)
	assert.Equal(t, int64(1), got.Stats.ActionCount)
	assert.True(t, got.LastActivityAt.Equal(now))

	store.MarkEnded(sess.ID, ReasonCancelled, time.Now())
	assert.False(t, store.Touch(sess.ID, time.Now()), "terminal session must not accept activity")
}

func TestStore_PurgeOnlyTerminal(t *testing.T) {
	store := NewStore()
	sess := newTestSession("user-1", "", KindDuel)
	require.NoError(t, store.Insert(sess))

	assert.False(t, store.Purge(sess.ID), "active session must never be deleted")
	require.NotNil(t, store.Get(sess.ID))

	store.MarkEnded(sess.ID, ReasonCompleted, time.Now())
	assert.True(t, store.Purge(sess.ID))
	assert.Nil(t, store.Get(sess.ID))
}

func TestStore_PurgeEndedBefore(t *testing.T) {
	store := NewStore()

	old := newTestSession("user-1", "", KindSlots)
	recent := newTestSession("user-2", "", KindSlots)
	live := newTestSession("user-3", "", KindSlots)
	require.NoError(t, store.Insert(old))
	require.NoError(t, store.Insert(recent))
	require.NoError(t, store.Insert(live))

	now := time.Now()
	store.MarkEnded(old.ID, ReasonCompleted, now.Add(-2*time.Minute))
	store.MarkEnded(recent.ID, ReasonCompleted, now)

	purged := store.PurgeEndedBefore(now.Add(-time.Minute))
	assert.Equal(t, 1, purged)
	assert.Nil(t, store.Get(old.ID))
	assert.NotNil(t, store.Get(recent.ID))
	assert.NotNil(t, store.Get(live.ID))
}

func TestStore_UserActiveSessionFiltersTerminal(t *testing.T) {
	store := NewStore()
	sess := newTestSession("user-1", "", KindBlackjack)
	require.NoError(t, store.Insert(sess))

	store.MarkEnded(sess.ID, ReasonError, time.Now())

	// Even while the record sits in the retention window the user has no
	// discoverable active session
	assert.Nil(t, store.UserActiveSession("user-1"))
	assert.Empty(t, store.UserSessions("user-1"))
}

func TestStore_GetReturnsCopy(t *testing.T) {
	store := NewStore()
	sess := newTestSession("user-1", "", KindBlackjack)
	sess.Metadata = map[string]any{"bet": "red"}
	require.NoError(t, store.Insert(sess))

	got := store.Get(sess.ID)
	got.State = StateCancelled
	got.Metadata["bet"] = "black"

	fresh := store.Get(sess.ID)
	assert.Equal(t, StateActive, fresh.State)
	assert.Equal(t, "red", fresh.Metadata["bet"])
}

func TestState_Terminal(t *testing.T) {
	assert.False(t, StateActive.Terminal())
	assert.False(t, StatePaused.Terminal())
	for _, s := range []State{StateCompleted, StateCancelled, StateErrored, StateTimedOut} {
		assert.True(t, s.Terminal(), string(s))
	}
}

func TestKind_Valid(t *testing.T) {
	assert.True(t, KindBlackjack.Valid())
	assert.False(t, Kind("ponzi").Valid())
}
