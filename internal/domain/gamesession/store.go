package gamesession

import (
	"sync"
	"time"

	"casino/pkg/errors"
)

// Store is the authoritative in-memory map of sessions plus secondary
// indices for fast lookup and bulk invalidation. Only the lifecycle
// engine writes to it; all mutations are serialized by the store mutex.
type Store struct {
	mu        sync.RWMutex
	sessions  map[string]*Session
	byUser    map[string]map[string]struct{}
	byChannel map[string]map[string]struct{}
	byKind    map[Kind]map[string]struct{}
}

// NewStore creates an empty session store
func NewStore() *Store {
	return &Store{
		sessions:  make(map[string]*Session),
		byUser:    make(map[string]map[string]struct{}),
		byChannel: make(map[string]map[string]struct{}),
		byKind:    make(map[Kind]map[string]struct{}),
	}
}

// Insert adds an Active session to the primary map and every index
func (s *Store) Insert(sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sess.ID]; ok {
		return errors.Wrapf(errors.ErrAlreadyExists, "session %s", sess.ID)
	}

	s.sessions[sess.ID] = sess
	addIndex(s.byUser, sess.UserID, sess.ID)
	if sess.ChannelID != "" {
		addIndex(s.byChannel, sess.ChannelID, sess.ID)
	}
	addIndex(s.byKind, sess.Kind, sess.ID)
	return nil
}

// MarkEnded atomically applies the terminal transition and removes the
// session from all indices. The record itself is retained for the grace
// window so late duplicate lookups can still be answered.
//
// Returns the ended session and whether this call won the transition;
// a session that is already terminal is returned with won=false so racing
// terminators (manual end vs. timeout) stay idempotent.
func (s *Store) MarkEnded(id string, reason EndReason, now time.Time) (*Session, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, false, errors.Wrapf(errors.ErrNotFound, "session %s", id)
	}
	if sess.State.Terminal() {
		return sess.Clone(), false, nil
	}

	sess.State = reason.StateFor()
	sess.EndReason = reason
	ended := now
	sess.EndedAt = &ended

	s.removeFromIndices(sess)
	return sess.Clone(), true, nil
}

// Touch bumps the activity timestamp and action counter of an Active
// session; a non-active session is left untouched
func (s *Store) Touch(id string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok || !sess.Active() {
		return false
	}
	sess.LastActivityAt = now
	sess.Stats.ActionCount++
	return true
}

// RecordError increments the error counter of a session if it still exists
func (s *Store) RecordError(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[id]; ok {
		sess.Stats.ErrorCount++
	}
}

// Purge permanently deletes a session record. Only terminal sessions may
// be purged; a session whose stake has not been resolved is never removed.
func (s *Store) Purge(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok || !sess.State.Terminal() {
		return false
	}
	delete(s.sessions, id)
	return true
}

// PurgeEndedBefore deletes every terminal record whose EndedAt is older
// than the cutoff, bounding memory growth. Returns the number purged.
func (s *Store) PurgeEndedBefore(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	purged := 0
	for id, sess := range s.sessions {
		if sess.State.Terminal() && sess.EndedAt != nil && sess.EndedAt.Before(cutoff) {
			delete(s.sessions, id)
			purged++
		}
	}
	return purged
}

// Get returns a copy of the session, terminal or not, while it remains
// in the retention window
func (s *Store) Get(id string) *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessions[id].Clone()
}

// UserActiveSession returns the user's Active session, if any. The user
// index may still reference terminal-but-not-yet-purged ids, so the state
// filter here is load-bearing.
func (s *Store) UserActiveSession(userID string) *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for id := range s.byUser[userID] {
		if sess := s.sessions[id]; sess != nil && sess.Active() {
			return sess.Clone()
		}
	}
	return nil
}

// UserSessions returns copies of every Active session owned by the user
func (s *Store) UserSessions(userID string) []*Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(s.byUser[userID])
}

// ChannelSessions returns copies of every Active session in the channel
func (s *Store) ChannelSessions(channelID string) []*Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(s.byChannel[channelID])
}

// KindSessions returns copies of every Active session of the given kind
func (s *Store) KindSessions(kind Kind) []*Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(s.byKind[kind])
}

// ActiveSessions returns copies of all Active sessions
func (s *Store) ActiveSessions() []*Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		if sess.Active() {
			out = append(out, sess.Clone())
		}
	}
	return out
}

// Len returns the total number of retained records, including terminal
// ones awaiting purge
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func (s *Store) collect(ids map[string]struct{}) []*Session {
	out := make([]*Session, 0, len(ids))
	for id := range ids {
		if sess := s.sessions[id]; sess != nil && sess.Active() {
			out = append(out, sess.Clone())
		}
	}
	return out
}

// removeFromIndices must be called with the write lock held
func (s *Store) removeFromIndices(sess *Session) {
	dropIndex(s.byUser, sess.UserID, sess.ID)
	if sess.ChannelID != "" {
		dropIndex(s.byChannel, sess.ChannelID, sess.ID)
	}
	dropIndex(s.byKind, sess.Kind, sess.ID)
}

func addIndex[K comparable](idx map[K]map[string]struct{}, key K, id string) {
	set, ok := idx[key]
	if !ok {
		set = make(map[string]struct{})
		idx[key] = set
	}
	set[id] = struct{}{}
}

func dropIndex[K comparable](idx map[K]map[string]struct{}, key K, id string) {
	set, ok := idx[key]
	if !ok {
		return
	}
	delete(set, id)
	if len(set) == 0 {
		delete(idx, key)
	}
}
