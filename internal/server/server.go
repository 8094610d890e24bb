// Package server implements the server front door (spec component
// C10): binding, accepting, spawning sessions, and coordinating
// graceful shutdown, grounded on the teacher's ServerManager
// Start/Stop shutdown shape (a done channel plus a sync.WaitGroup)
// applied to a TCP accept loop instead of a poll loop.
package server

import (
	"errors"
	"fmt"
	"log"
	"net"
	"sync"

	"github.com/tactoed/tactoed/internal/board"
	"github.com/tactoed/tactoed/internal/bus"
	"github.com/tactoed/tactoed/internal/chat"
	"github.com/tactoed/tactoed/internal/config"
	"github.com/tactoed/tactoed/internal/dispatch"
	"github.com/tactoed/tactoed/internal/game"
	"github.com/tactoed/tactoed/internal/host"
	"github.com/tactoed/tactoed/internal/logging"
	"github.com/tactoed/tactoed/internal/protocol"
	"github.com/tactoed/tactoed/internal/session"
	"github.com/tactoed/tactoed/internal/storage"
)

// Server owns every shared component and the TCP listener.
type Server struct {
	cfg    *config.Config
	store  *storage.Store
	bus    *bus.Bus
	logger *log.Logger

	registry   *chat.Registry
	router     *chat.Router
	coord      *game.Coordinator
	dispatcher *dispatch.Dispatcher
	console    *host.Console

	listener net.Listener
	done     chan struct{}
	wg       sync.WaitGroup

	mu       sync.Mutex
	sessions map[*session.Session]struct{}
}

// New wires every component together from cfg and an already-opened
// store. It does not bind the listener yet; call Serve for that.
func New(cfg *config.Config, store *storage.Store, b *bus.Bus, logger *log.Logger) *Server {
	registry := chat.NewRegistry()
	router := &chat.Router{
		Registry: registry,
		Store:    store,
		Bus:      b,
		Logger:   logging.New("chat"),
	}
	coord := game.New(board.New(), store, router, b, logging.New("game"))

	s := &Server{
		cfg:      cfg,
		store:    store,
		bus:      b,
		logger:   logger,
		registry: registry,
		router:   router,
		coord:    coord,
		done:     make(chan struct{}),
		sessions: make(map[*session.Session]struct{}),
	}

	router.Reap = s.reap
	s.dispatcher = &dispatch.Dispatcher{
		Registry:   registry,
		Router:     router,
		Game:       coord,
		Store:      store,
		Logger:     logging.New("dispatch"),
		BcryptCost: cfg.Auth.BcryptCost,
		Reap:       s.reap,
	}
	return s
}

// Console attaches a host console to the server, wired to the same
// registry, store, and bus.
func (s *Server) Console(c *host.Console) {
	s.console = c
}

// Registry returns the connected-user set, for wiring an external host
// console before Serve runs.
func (s *Server) Registry() *chat.Registry {
	return s.registry
}

// Serve binds the listen address from cfg and runs the accept loop
// until Shutdown is called. It blocks until the listener closes.
func (s *Server) Serve() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.ListenAddr, s.cfg.Server.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("binding %s: %w", addr, err)
	}
	s.listener = ln
	s.logger.Printf("listening on %s", addr)

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.done:
				return nil
			default:
				return fmt.Errorf("accept: %w", err)
			}
		}

		sess := session.New(conn, logging.New("session"))
		s.trackSession(sess)

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			go sess.RunWriter()
			s.serveSession(sess)
		}()
	}
}

func (s *Server) trackSession(sess *session.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess] = struct{}{}
}

func (s *Server) untrackSession(sess *session.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sess)
}

// serveSession runs the read loop for one connection until the
// transport fails or the session is torn down by dispatch (!exit,
// host !kick, moderator !kick). A malformed or oversize line
// (protocol.ErrProtocolViolation) gets a one-line explanation and the
// connection stays open; only PeerClosed/TransportError ends the loop.
func (s *Server) serveSession(sess *session.Session) {
	defer s.untrackSession(sess)
	defer s.teardown(sess)

	for {
		line, err := sess.ReadLine()
		if err != nil {
			if errors.Is(err, protocol.ErrProtocolViolation) {
				sess.Send("[Server]: Line too long or malformed. Try again.")
				continue
			}
			return
		}
		s.dispatcher.Handle(sess, line)
		if sess.Disconnected() {
			return
		}
	}
}

// reap is the shared close path used by the chat router (quarantine
// after a failed send) and the dispatcher (!exit, moderator !kick). The
// host console's !kick closes the session directly instead.
func (s *Server) reap(sess *session.Session) {
	if sess == nil {
		return
	}
	sess.Close()
}

// teardown runs once per session when its read loop exits for any
// reason: it removes the session from the registry, runs game dropout
// recovery if it was mid-match, and closes the transport.
func (s *Server) teardown(sess *session.Session) {
	wasPlaying := sess.State() == session.Playing
	s.registry.Remove(sess)
	if wasPlaying {
		s.coord.HandleDropout(sess)
	}
	sess.Close()
}

// Shutdown stops accepting new connections, closes every live session,
// and waits for their goroutines to finish.
func (s *Server) Shutdown() {
	close(s.done)
	if s.listener != nil {
		s.listener.Close()
	}

	s.mu.Lock()
	for sess := range s.sessions {
		sess.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
}
