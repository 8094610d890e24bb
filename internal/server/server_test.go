package server

import (
	"bufio"
	"bytes"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/tactoed/tactoed/internal/config"
	"github.com/tactoed/tactoed/internal/logging"
	"github.com/tactoed/tactoed/internal/protocol"
	"github.com/tactoed/tactoed/internal/session"
	"github.com/tactoed/tactoed/internal/storage"
)

func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	store, err := storage.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	cfg := config.Default()
	cfg.Server.ListenAddr = "127.0.0.1"
	cfg.Server.Port = 0 // overridden below via manual listener swap

	srv := New(cfg, store, nil, logging.New("test"))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}
	srv.listener = ln

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			srv.handleAcceptedForTest(conn)
		}
	}()
	t.Cleanup(srv.Shutdown)

	return srv, ln.Addr().String()
}

// handleAcceptedForTest duplicates Serve's per-connection setup without
// re-binding a listener, so tests can drive the server over a real loopback
// socket.
func (s *Server) handleAcceptedForTest(conn net.Conn) {
	sess := session.New(conn, logging.New("session"))
	s.trackSession(sess)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		go sess.RunWriter()
		s.serveSession(sess)
	}()
}

func dial(t *testing.T, addr string) net.Conn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendLine(t *testing.T, conn net.Conn, line string) {
	t.Helper()
	if _, err := conn.Write([]byte(line + "\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func readLine(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	line, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return line
}

func TestRegisterThenChatEndToEnd(t *testing.T) {
	_, addr := newTestServer(t)

	connA := dial(t, addr)
	connB := dial(t, addr)
	readerA := bufio.NewReader(connA)
	readerB := bufio.NewReader(connB)

	sendLine(t, connA, "!register Alice pw1")
	if got := readLine(t, readerA); got != "Registration successful! Welcome Alice\n" {
		t.Fatalf("A got %q", got)
	}

	sendLine(t, connB, "!register bob pw2")
	if got := readLine(t, readerB); got != "Registration successful! Welcome bob\n" {
		t.Fatalf("B got %q", got)
	}

	sendLine(t, connA, "hello")
	if got := readLine(t, readerB); got != "[Alice]: hello\n" {
		t.Fatalf("B got %q; want [Alice]: hello", got)
	}
}

func TestOversizeLineSurvivesAndResyncs(t *testing.T) {
	_, addr := newTestServer(t)

	conn := dial(t, addr)
	reader := bufio.NewReader(conn)

	oversize := bytes.Repeat([]byte("x"), protocol.MaxLineLength+1)
	oversize = append(oversize, '\n')
	if _, err := conn.Write(oversize); err != nil {
		t.Fatalf("write oversize line: %v", err)
	}
	if got := readLine(t, reader); got != "[Server]: Line too long or malformed. Try again.\n" {
		t.Fatalf("got %q; want protocol violation reply", got)
	}

	sendLine(t, conn, "!register Alice pw1")
	if got := readLine(t, reader); got != "Registration successful! Welcome Alice\n" {
		t.Fatalf("A got %q after resync; want registration success", got)
	}
}

func TestDuplicateRegistrationEndToEnd(t *testing.T) {
	_, addr := newTestServer(t)

	connA := dial(t, addr)
	readerA := bufio.NewReader(connA)
	sendLine(t, connA, "!register Alice pw1")
	readLine(t, readerA)

	connC := dial(t, addr)
	readerC := bufio.NewReader(connC)
	sendLine(t, connC, "!register alice pw3")
	if got := readLine(t, readerC); got != "[Server]: Username already exists.\n" {
		t.Fatalf("C got %q", got)
	}
}
