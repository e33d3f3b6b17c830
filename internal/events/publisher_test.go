package events

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"casino/internal/domain/gamesession"
)

func sampleSession(id string) *gamesession.Session {
	return &gamesession.Session{
		ID:      id,
		UserID:  "user-1",
		GuildID: "guild-1",
		Kind:    gamesession.KindBlackjack,
		Stake:   decimal.NewFromInt(100),
		State:   gamesession.StateActive,
	}
}

func TestChannelSink_Delivery(t *testing.T) {
	sink := NewChannelSink(4)
	ctx := context.Background()

	sink.SessionCreated(ctx, SessionCreated{
		Session:   sampleSession("s1"),
		Timestamp: time.Now(),
	})
	sink.SessionEnded(ctx, SessionEnded{
		Session:   sampleSession("s1"),
		State:     gamesession.StateCompleted,
		Payout:    decimal.NewFromInt(200),
		Timestamp: time.Now(),
	})

	created := <-sink.Events()
	require.NotNil(t, created.Created)
	assert.Nil(t, created.Ended)
	assert.Equal(t, "s1", created.Created.Session.ID)

	ended := <-sink.Events()
	require.NotNil(t, ended.Ended)
	assert.Equal(t, gamesession.StateCompleted, ended.Ended.State)
	assert.Equal(t, "200", ended.Ended.Payout.String())
}

func TestChannelSink_DropsWhenFull(t *testing.T) {
	sink := NewChannelSink(1)
	ctx := context.Background()

	// Second emit must not block the caller
	done := make(chan struct{})
	go func() {
		defer close(done)
		sink.SessionCreated(ctx, SessionCreated{Session: sampleSession("s1")})
		sink.SessionCreated(ctx, SessionCreated{Session: sampleSession("s2")})
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sink blocked on full buffer")
	}

	first := <-sink.Events()
	assert.Equal(t, "s1", first.Created.Session.ID)

	select {
	case extra := <-sink.Events():
		t.Fatalf("expected overflow event to be dropped, got %+v", extra)
	default:
	}
}

func TestNopSink(t *testing.T) {
	var sink NopSink
	// Must accept events without side effects
	sink.SessionCreated(context.Background(), SessionCreated{Session: sampleSession("s1")})
	sink.SessionEnded(context.Background(), SessionEnded{Session: sampleSession("s1")})
}
