// Package chatsession holds per-conversation transcripts, evicting the
// least-recently-used session once the session count exceeds a cap. See
// spec.md §4.7.
package chatsession

import (
	"container/list"
	"sync"
	"time"
)

// DefaultTurnCap bounds the trailing entries kept per session.
const DefaultTurnCap = 20

// DefaultSessionCap bounds the number of distinct sessions held at once.
const DefaultSessionCap = 10000

// Entry is one transcript turn.
type Entry struct {
	Role      string
	Content   string
	Timestamp time.Time
}

type session struct {
	id      string
	entries []Entry
}

// Sessions is a keyed map of session id to bounded transcript, safe for
// concurrent use. Sessions are created lazily on first Append and evicted
// least-recently-used once the session count exceeds its cap.
type Sessions struct {
	mu         sync.Mutex
	turnCap    int
	sessionCap int
	lru        *list.List
	index      map[string]*list.Element
	now        func() time.Time
}

// New constructs a Sessions store. turnCap<=0 uses DefaultTurnCap;
// sessionCap<=0 uses DefaultSessionCap.
func New(turnCap, sessionCap int) *Sessions {
	if turnCap <= 0 {
		turnCap = DefaultTurnCap
	}
	if sessionCap <= 0 {
		sessionCap = DefaultSessionCap
	}
	return &Sessions{
		turnCap:    turnCap,
		sessionCap: sessionCap,
		lru:        list.New(),
		index:      make(map[string]*list.Element),
		now:        time.Now,
	}
}

// Append adds a turn to sessionID's transcript, creating the session
// lazily, truncating to the trailing turnCap entries, and evicting the
// least-recently-used session if the store is now over its session cap.
func (s *Sessions) Append(sessionID, role, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := Entry{Role: role, Content: content, Timestamp: s.now().UTC()}

	elem, ok := s.index[sessionID]
	if ok {
		s.lru.MoveToFront(elem)
		sess := elem.Value.(*session)
		sess.entries = append(sess.entries, entry)
		if len(sess.entries) > s.turnCap {
			sess.entries = sess.entries[len(sess.entries)-s.turnCap:]
		}
		return
	}

	sess := &session{id: sessionID, entries: []Entry{entry}}
	elem = s.lru.PushFront(sess)
	s.index[sessionID] = elem

	for len(s.index) > s.sessionCap {
		s.evictOldest()
	}
}

// History returns a snapshot of sessionID's transcript, oldest first. A
// session with no recorded turns returns an empty slice. History does not
// refresh recency (only Append does), matching a read path that shouldn't
// keep idle-but-frequently-polled sessions alive forever.
func (s *Sessions) History(sessionID string) []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	elem, ok := s.index[sessionID]
	if !ok {
		return nil
	}
	sess := elem.Value.(*session)
	out := make([]Entry, len(sess.entries))
	copy(out, sess.entries)
	return out
}

// Count reports the number of currently tracked sessions.
func (s *Sessions) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.index)
}

func (s *Sessions) evictOldest() {
	back := s.lru.Back()
	if back == nil {
		return
	}
	sess := back.Value.(*session)
	delete(s.index, sess.id)
	s.lru.Remove(back)
}
