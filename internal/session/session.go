// Package session implements the per-connection state machine (spec
// component C5): identity, role, state enum, and framed I/O lifecycle.
// The writer-goroutine-plus-bounded-outbox shape is grounded on the
// teacher's WebSocketClient/readPump/writePump pair in
// internal/api/websocket.go, adapted from a websocket.Conn to a plain
// net.Conn with the project's own line framer.
package session

import (
	"log"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tactoed/tactoed/internal/protocol"
)

// State is where a connection sits in the login -> chatting -> playing
// lifecycle (spec §4.4).
type State int

const (
	Login State = iota
	Chatting
	Playing
)

func (s State) String() string {
	switch s {
	case Login:
		return "login"
	case Chatting:
		return "chatting"
	case Playing:
		return "playing"
	default:
		return "unknown"
	}
}

// outboxSize is the bounded send queue depth per spec §5: a slow
// receiver's queue fills up and further sends are quarantined rather
// than blocking the sender.
const outboxSize = 64

// closeDrainTimeout bounds how long Close waits for RunWriter to drain
// the outbox before it closes the connection out from under a peer that
// has stopped reading.
const closeDrainTimeout = 2 * time.Second

// Session is one connection's state for its lifetime.
type Session struct {
	ID     uuid.UUID
	conn   net.Conn
	framer *protocol.Framer
	logger *log.Logger

	mu          sync.Mutex
	username    string
	state       State
	playerSlot  int // 0, 1, or 2
	isModerator bool

	outbox       chan string
	writerDone   chan struct{}
	closeOnce    sync.Once
	disconnected bool
	done         chan struct{}

	// quarantined is set by Send when the outbox is full and reported by
	// Quarantined. Reaping the session is up to the caller that saw Send
	// return false.
	quarantined bool
}

// New wraps conn in a Session in the initial Login state.
func New(conn net.Conn, logger *log.Logger) *Session {
	s := &Session{
		ID:         uuid.New(),
		conn:       conn,
		framer:     protocol.New(conn),
		logger:     logger,
		state:      Login,
		outbox:     make(chan string, outboxSize),
		writerDone: make(chan struct{}),
		done:       make(chan struct{}),
	}
	return s
}

// RemoteAddr returns the connection's remote address string.
func (s *Session) RemoteAddr() string {
	return s.conn.RemoteAddr().String()
}

// ReadLine blocks for the next frame from the client.
func (s *Session) ReadLine() (string, error) {
	return s.framer.ReadLine()
}

// RunWriter drains the outbox to the connection, delivering every line
// enqueued before Close was called, then returns. Close closes the
// outbox once no further Send can reach it and waits up to
// closeDrainTimeout for this drain to finish before it tears down the
// connection, so a line handed to Send is written before the session
// goes away unless the peer stops reading. It must run in its own
// goroutine for the session's lifetime.
func (s *Session) RunWriter() {
	defer close(s.writerDone)
	for line := range s.outbox {
		if err := s.framer.WriteLine(line); err != nil {
			s.logger.Printf("session %s: write error: %v", s.ID, err)
			s.conn.Close()
			return
		}
	}
}

// Send enqueues line for delivery without blocking. If the outbox is
// full the session is marked quarantined and the send is dropped,
// matching spec §4.6/§5's "any send that fails is enqueued for reap".
// Send is a no-op once Close has begun, so it never races the outbox
// close in Close.
func (s *Session) Send(line string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disconnected {
		return false
	}
	select {
	case s.outbox <- line:
		return true
	default:
		s.quarantined = true
		return false
	}
}

// Quarantined reports whether a send to this session has ever failed.
func (s *Session) Quarantined() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.quarantined
}

// Close tears the session down idempotently. It marks the session
// disconnected (so Send stops accepting new lines), closes the outbox,
// and waits up to closeDrainTimeout for RunWriter to drain whatever was
// already queued before closing the underlying connection; if the peer
// is not reading, the connection is closed when the timeout expires,
// which fails RunWriter's blocked write. Safe to call concurrently and
// more than once, and safe to call from RunWriter's own goroutine's
// write-error path without deadlocking, since that path closes the
// connection directly rather than going through Close.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.disconnected = true
		close(s.outbox)
		s.mu.Unlock()

		select {
		case <-s.writerDone:
			err = s.conn.Close()
		case <-time.After(closeDrainTimeout):
			err = s.conn.Close()
			<-s.writerDone
		}
		close(s.done)
	})
	return err
}

// Disconnected reports whether Close has been called, even if it is
// still draining the outbox.
func (s *Session) Disconnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disconnected
}

// Done returns a channel closed when the session is torn down.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Username returns the session's authenticated display name, or "" if
// still in Login state.
func (s *Session) Username() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.username
}

// SetUsername records the authenticated display name.
func (s *Session) SetUsername(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.username = name
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetState transitions the session to state.
func (s *Session) SetState(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

// PlayerSlot returns 0 (not playing), 1, or 2.
func (s *Session) PlayerSlot() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playerSlot
}

// SetPlayerSlot records which match slot this session occupies.
func (s *Session) SetPlayerSlot(slot int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.playerSlot = slot
}

// IsModerator reports the session's moderator flag. The dispatcher sets
// it from the persisted seed when the session authenticates, and the
// host console's !mod toggles it; the session never writes it back.
func (s *Session) IsModerator() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isModerator
}

// SetModerator sets the session's moderator flag.
func (s *Session) SetModerator(mod bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.isModerator = mod
}
