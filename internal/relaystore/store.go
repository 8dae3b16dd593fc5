// Package relaystore holds the relay's only mutable state: sessions,
// connections, and per-session queues of envelopes destined for a
// momentarily absent operator. Sessions and queued envelopes are
// TTL-bounded; connections live until they are deleted. Every mutation
// is atomic.
package relaystore

import (
	"sync"
	"time"

	"github.com/doomcode/doomcode/internal/wire"
)

// SessionTTL is the absolute lifetime of a session from creation.
const SessionTTL = 24 * time.Hour

// QueueTTL is the absolute lifetime of a queued envelope from enqueue.
const QueueTTL = 24 * time.Hour

// Slot is a session's per-role binding to a live connection and a
// public key. A zero-value Slot (empty ConnectionID) means EMPTY.
type Slot struct {
	ConnectionID string
	PublicKey    string
}

func (s Slot) Filled() bool { return s.ConnectionID != "" }

// Session is identified by an opaque 128-bit id.
type Session struct {
	ID        string
	CreatedAt time.Time
	ExpiresAt time.Time
	Slots     map[wire.Role]Slot

	// LastOperatorKey is the most recently bound operator public key.
	// Unlike Slots[RoleOperator], ClearSessionSlot never touches it, so
	// a rejoin after the operator disconnects can still be compared
	// against the key that was on file before the slot was cleared.
	LastOperatorKey string
}

func (s *Session) expired(now time.Time) bool { return now.After(s.ExpiresAt) }

// Connection belongs to at most one session and one role.
type Connection struct {
	ID          string
	SessionID   string
	Role        wire.Role
	PublicKey   string
	ConnectedAt time.Time
}

// QueuedEnvelope is an envelope held for later delivery to the absent
// operator.
type QueuedEnvelope struct {
	Envelope wire.Envelope
	QueuedAt time.Time
}

func (q QueuedEnvelope) expired(now time.Time) bool {
	return now.After(q.QueuedAt.Add(QueueTTL))
}

// ErrSessionNotFound and friends distinguish store-layer failure modes
// from decode/protocol failures higher up.
type notFoundError string

func (e notFoundError) Error() string { return string(e) }

const ErrSessionNotFound = notFoundError("relaystore: session not found")
const ErrConnectionNotFound = notFoundError("relaystore: connection not found")

// Store is the relay's state boundary. A single implementation
// (in-memory, below) is all the relay needs: it is explicitly stateless
// and TTL-bounded, so no durable backend is required, but the interface
// keeps that boundary visible and swappable.
type Store interface {
	CreateSession(id string, now time.Time) (*Session, error)
	GetSession(id string, now time.Time) (*Session, error)

	PutConnection(c Connection) error
	GetConnection(connectionID string) (*Connection, error)
	DeleteConnection(connectionID string) error

	SetSessionSlot(sessionID string, role wire.Role, connectionID, publicKey string, now time.Time) (previous Slot, hadPeerKeyChange bool, err error)
	ClearSessionSlot(sessionID string, role wire.Role) error

	Enqueue(sessionID string, e wire.Envelope, now time.Time) error
	ListQueue(sessionID string, now time.Time) ([]QueuedEnvelope, error)
	DeleteQueuedUpTo(sessionID, messageID string) error
	PurgeQueue(sessionID string) error
}

// InMemoryStore is the relay's only store implementation. All
// operations serialize behind one store-wide mutex, so concurrent
// joins for the same role cannot both succeed.
type InMemoryStore struct {
	mu          sync.Mutex
	sessions    map[string]*Session
	connections map[string]*Connection
	queues      map[string][]QueuedEnvelope
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		sessions:    make(map[string]*Session),
		connections: make(map[string]*Connection),
		queues:      make(map[string][]QueuedEnvelope),
	}
}

func (s *InMemoryStore) CreateSession(id string, now time.Time) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := &Session{
		ID:        id,
		CreatedAt: now,
		ExpiresAt: now.Add(SessionTTL),
		Slots:     make(map[wire.Role]Slot),
	}
	s.sessions[id] = sess
	return sess, nil
}

func (s *InMemoryStore) GetSession(id string, now time.Time) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getSessionLocked(id, now)
}

// getSessionLocked returns the session, evicting it (and its queue) if
// its TTL has passed. Must be called with s.mu held.
func (s *InMemoryStore) getSessionLocked(id string, now time.Time) (*Session, error) {
	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if sess.expired(now) {
		delete(s.sessions, id)
		delete(s.queues, id)
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

func (s *InMemoryStore) PutConnection(c Connection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connections[c.ID] = &c
	return nil
}

func (s *InMemoryStore) GetConnection(connectionID string) (*Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.connections[connectionID]
	if !ok {
		return nil, ErrConnectionNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *InMemoryStore) DeleteConnection(connectionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.connections, connectionID)
	return nil
}

// SetSessionSlot atomically binds a role's slot to a connection and
// public key. It reports the slot's previous occupant (empty if none)
// so callers can detect a public-key rotation for the purge invariant.
// The rotation check compares against LastOperatorKey rather than the
// current slot occupant, since the slot itself is always empty by the
// time a rejoin gets here (the incumbent's slot was cleared on
// disconnect or eviction before the new join was ever bound).
func (s *InMemoryStore) SetSessionSlot(sessionID string, role wire.Role, connectionID, publicKey string, now time.Time) (Slot, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.getSessionLocked(sessionID, now)
	if err != nil {
		return Slot{}, false, err
	}

	previous := sess.Slots[role]

	var keyChanged bool
	if role == wire.RoleOperator {
		keyChanged = sess.LastOperatorKey != "" && sess.LastOperatorKey != publicKey
		sess.LastOperatorKey = publicKey
	}

	sess.Slots[role] = Slot{ConnectionID: connectionID, PublicKey: publicKey}
	return previous, keyChanged, nil
}

// ClearSessionSlot vacates a role's slot on disconnect or eviction. It
// deliberately leaves LastOperatorKey untouched so a later rejoin can
// still detect a key rotation against the vacated slot's occupant.
func (s *InMemoryStore) ClearSessionSlot(sessionID string, role wire.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil // already gone; clearing is idempotent
	}
	delete(sess.Slots, role)
	return nil
}

func (s *InMemoryStore) Enqueue(sessionID string, e wire.Envelope, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queues[sessionID] = append(s.queues[sessionID], QueuedEnvelope{Envelope: e, QueuedAt: now})
	return nil
}

// ListQueue returns non-expired queued envelopes in ascending queuedAt
// order, dropping any that have aged out. TTL is authoritative: an
// expired envelope is never returned even if it hadn't been swept yet.
func (s *InMemoryStore) ListQueue(sessionID string, now time.Time) ([]QueuedEnvelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	live := s.queues[sessionID][:0:0]
	for _, q := range s.queues[sessionID] {
		if !q.expired(now) {
			live = append(live, q)
		}
	}
	s.queues[sessionID] = live

	out := make([]QueuedEnvelope, len(live))
	copy(out, live)
	return out, nil
}

// DeleteQueuedUpTo deletes all envelopes in queue order up to and
// including messageID. If messageID is absent from the queue, this is
// a no-op rather than an error, so a reordered or duplicate ack never
// fails the connection.
func (s *InMemoryStore) DeleteQueuedUpTo(sessionID, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := s.queues[sessionID]
	idx := -1
	for i, item := range q {
		if item.Envelope.MessageID == messageID {
			idx = i
			break
		}
	}
	if idx == -1 {
		return nil
	}
	s.queues[sessionID] = append([]QueuedEnvelope{}, q[idx+1:]...)
	return nil
}

func (s *InMemoryStore) PurgeQueue(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.queues, sessionID)
	return nil
}

// Sweep removes expired sessions and queues. Intended to be called
// periodically by the server; not part of the Store interface since it
// is a maintenance concern, not a per-request operation.
func (s *InMemoryStore) Sweep(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, sess := range s.sessions {
		if sess.expired(now) {
			delete(s.sessions, id)
			delete(s.queues, id)
		}
	}
	for id, q := range s.queues {
		live := q[:0:0]
		for _, item := range q {
			if !item.expired(now) {
				live = append(live, item)
			}
		}
		if len(live) == 0 {
			delete(s.queues, id)
		} else {
			s.queues[id] = live
		}
	}
}
