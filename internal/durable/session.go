package durable

import (
	"sync"

	"github.com/google/uuid"

	"ddscore/internal/avltree"
	"ddscore/internal/entityid"
)

// Session is one open per-server delivery session: the set of reader GUIDs
// a BEGIN declared intent to deliver to, plus a running count of samples
// delivered within it so ordering and completeness can be checked.
type Session struct {
	ServerID     uuid.UUID
	DeliveryID   uint64
	Partition    string
	Topic        string
	Readers      map[entityid.GUID]bool
	NextSeqIndex uint64 // count of DATA samples delivered so far in this session
}

func cmpUUID(a, b uuid.UUID) int {
	for i := range a {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

// Sessions tracks at most one open delivery session per server, keyed by
// server id in an AVL tree per the coordinator's session-table layout.
type Sessions struct {
	mu   sync.Mutex
	tree *avltree.Tree[uuid.UUID, *Session]

	// onAbort, if set, is invoked (with the lock dropped) whenever a BEGIN
	// implicitly closes a still-open prior session for the same server.
	onAbort func(old *Session)
}

// NewSessions creates an empty session table.
func NewSessions(onAbort func(old *Session)) *Sessions {
	return &Sessions{tree: avltree.New[uuid.UUID, *Session](cmpUUID), onAbort: onAbort}
}

// Begin opens a new session for set.ServerID/set.DeliveryID, implicitly
// aborting any still-open prior session for that server.
func (s *Sessions) Begin(serverID uuid.UUID, set SetFields) *Session {
	s.mu.Lock()
	var aborted *Session
	if n, ok := s.tree.Lookup(serverID); ok {
		aborted = n.Value
		s.tree.Delete(n)
	}
	readers := make(map[entityid.GUID]bool, len(set.GUIDs))
	for _, g := range set.GUIDs {
		readers[g] = true
	}
	sess := &Session{
		ServerID:   serverID,
		DeliveryID: set.DeliveryID,
		Partition:  set.Partition,
		Topic:      set.Topic,
		Readers:    readers,
	}
	s.tree.Insert(serverID, sess)
	s.mu.Unlock()

	if aborted != nil && s.onAbort != nil {
		s.onAbort(aborted)
	}
	return sess
}

// End closes the open session for serverID, if any.
func (s *Sessions) End(serverID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n, ok := s.tree.Lookup(serverID); ok {
		s.tree.Delete(n)
	}
}

// Open returns the currently open session for serverID, if any. DATA
// frames arriving for a server with no open session must be discarded by
// the caller.
func (s *Sessions) Open(serverID uuid.UUID) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.tree.Lookup(serverID)
	if !ok {
		return nil, false
	}
	return n.Value, true
}

// Count returns the number of currently open sessions.
func (s *Sessions) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tree.Size()
}
