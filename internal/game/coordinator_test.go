package game

import (
	"bufio"
	"context"
	"net"
	"path/filepath"
	"strconv"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/tactoed/tactoed/internal/board"
	"github.com/tactoed/tactoed/internal/chat"
	"github.com/tactoed/tactoed/internal/logging"
	"github.com/tactoed/tactoed/internal/session"
	"github.com/tactoed/tactoed/internal/storage"
)

type harness struct {
	coord *Coordinator
	reg   *chat.Registry
	store *storage.Store
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store, err := storage.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	reg := chat.NewRegistry()
	router := &chat.Router{Registry: reg, Store: store, Logger: logging.New("test")}
	coord := New(board.New(), store, router, nil, logging.New("test"))
	return &harness{coord: coord, reg: reg, store: store}
}

func newPlayer(t *testing.T, h *harness, username string) (*session.Session, net.Conn) {
	t.Helper()
	server, client := net.Pipe()
	t.Cleanup(func() { server.Close(); client.Close() })
	s := session.New(server, logging.New("test"))
	s.SetUsername(username)
	s.SetState(session.Chatting)
	go s.RunWriter()

	ctx := context.Background()
	if err := h.store.TryRegister(ctx, username, "pw", bcrypt.MinCost); err != nil {
		t.Fatalf("TryRegister(%s): %v", username, err)
	}
	h.reg.Add(s)
	return s, client
}

func drainLine(t *testing.T, conn net.Conn) string {
	t.Helper()
	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		t.Fatalf("reading line: %v", err)
	}
	return line
}

func TestJoinAssignsSlotsInOrder(t *testing.T) {
	h := newHarness(t)
	alice, aliceConn := newPlayer(t, h, "Alice")
	bob, bobConn := newPlayer(t, h, "Bob")

	if reply := h.coord.Join(alice); reply != "" {
		t.Fatalf("Join(alice) = %q", reply)
	}
	if drainLine(t, aliceConn) != "!player1\n" {
		t.Fatalf("alice did not receive !player1")
	}
	if alice.PlayerSlot() != 1 || alice.State() != session.Playing {
		t.Fatalf("alice slot/state = %d/%v", alice.PlayerSlot(), alice.State())
	}

	if reply := h.coord.Join(bob); reply != "" {
		t.Fatalf("Join(bob) = %q", reply)
	}
	if drainLine(t, bobConn) != "!player2\n" {
		t.Fatalf("bob did not receive !player2")
	}

	carol, _ := newPlayer(t, h, "Carol")
	if reply := h.coord.Join(carol); reply != "[Server]: The game is full." {
		t.Fatalf("Join(carol) = %q; want game full", reply)
	}
}

func TestStartRequiresPlayer1AndBothSlots(t *testing.T) {
	h := newHarness(t)
	alice, aliceConn := newPlayer(t, h, "Alice")
	bob, bobConn := newPlayer(t, h, "Bob")
	h.coord.Join(alice)
	drainLine(t, aliceConn)

	if reply := h.coord.Start(alice); reply != "[Server]: Waiting for a second player." {
		t.Fatalf("Start before second player = %q", reply)
	}

	h.coord.Join(bob)
	drainLine(t, bobConn)

	if reply := h.coord.Start(bob); reply != "[Server]: Only player 1 may start the game." {
		t.Fatalf("Start by player2 = %q", reply)
	}

	if reply := h.coord.Start(alice); reply != "" {
		t.Fatalf("Start by player1 = %q", reply)
	}
	if drainLine(t, aliceConn) != "!yourturn\n" {
		t.Fatalf("alice did not receive !yourturn")
	}
	if drainLine(t, bobConn) != "!waitturn\n" {
		t.Fatalf("bob did not receive !waitturn")
	}
}

// joinAndStart sets up a two-player match with Alice=P1=X, Bob=P2=O and
// drains the setup lines (!player1, !player2, !yourturn, !waitturn, and
// the "[Server]: Game has started." broadcast) so callers can assert
// purely on move traffic.
func joinAndStart(t *testing.T, h *harness) (alice, bob *session.Session, aliceConn, bobConn net.Conn) {
	t.Helper()
	alice, aliceConn = newPlayer(t, h, "Alice")
	bob, bobConn = newPlayer(t, h, "Bob")
	h.coord.Join(alice)
	drainLine(t, aliceConn)
	h.coord.Join(bob)
	drainLine(t, bobConn)
	h.coord.Start(alice)
	drainLine(t, aliceConn) // !yourturn
	drainLine(t, bobConn)   // !waitturn
	drainLine(t, aliceConn) // [Server]: Game has started.
	drainLine(t, bobConn)   // [Server]: Game has started.
	return alice, bob, aliceConn, bobConn
}

func TestFullGameCrossWinsDiagonal(t *testing.T) {
	h := newHarness(t)
	alice, bob, aliceConn, bobConn := joinAndStart(t, h)

	moves := []struct {
		mover      *session.Session
		idx        int
		wantSettle string
	}{
		{alice, 0, "!settile 0 X\n"},
		{bob, 1, "!settile 1 O\n"},
		{alice, 4, "!settile 4 X\n"},
		{bob, 2, "!settile 2 O\n"},
		{alice, 8, "!settile 8 X\n"},
	}

	for i, m := range moves {
		if reply := h.coord.Move(m.mover, strconv.Itoa(m.idx)); reply != "" {
			t.Fatalf("move %d: Move() = %q", i, reply)
		}
		if got := drainLine(t, aliceConn); got != m.wantSettle {
			t.Fatalf("move %d: alice saw %q; want %q", i, got, m.wantSettle)
		}
		if got := drainLine(t, bobConn); got != m.wantSettle {
			t.Fatalf("move %d: bob saw %q; want %q", i, got, m.wantSettle)
		}
		if i < len(moves)-1 {
			drainTurnTokens(t, aliceConn, bobConn)
		}
	}

	if got := drainLine(t, aliceConn); got != "[Game Over]: X wins!\n" {
		t.Fatalf("alice saw %q", got)
	}
	if got := drainLine(t, bobConn); got != "[Game Over]: X wins!\n" {
		t.Fatalf("bob saw %q", got)
	}
	if got := drainLine(t, aliceConn); got != "!resetboard\n" {
		t.Fatalf("alice saw %q; want !resetboard", got)
	}
	if got := drainLine(t, bobConn); got != "!resetboard\n" {
		t.Fatalf("bob saw %q; want !resetboard", got)
	}

	w, l, d, err := h.store.GetStats(context.Background(), "Alice")
	if err != nil || w != 1 || l != 0 || d != 0 {
		t.Fatalf("alice stats = %d/%d/%d err=%v; want 1/0/0", w, l, d, err)
	}
	w, l, d, err = h.store.GetStats(context.Background(), "Bob")
	if err != nil || w != 0 || l != 1 || d != 0 {
		t.Fatalf("bob stats = %d/%d/%d err=%v; want 0/1/0", w, l, d, err)
	}
}

func drainTurnTokens(t *testing.T, aliceConn, bobConn net.Conn) {
	t.Helper()
	// After a non-terminal move both players receive exactly one of
	// !yourturn/!waitturn; which connection gets which alternates.
	drainLine(t, aliceConn)
	drainLine(t, bobConn)
}

func TestDraw(t *testing.T) {
	h := newHarness(t)
	alice, bob, aliceConn, bobConn := joinAndStart(t, h)

	order := []struct {
		mover *session.Session
		idx   int
	}{
		{alice, 0}, {bob, 1}, {alice, 2}, {bob, 4},
		{alice, 3}, {bob, 5}, {alice, 7}, {bob, 6}, {alice, 8},
	}

	for i, m := range order {
		if reply := h.coord.Move(m.mover, strconv.Itoa(m.idx)); reply != "" {
			t.Fatalf("move %d: %q", i, reply)
		}
		drainLine(t, aliceConn)
		drainLine(t, bobConn)
		if i < len(order)-1 {
			drainTurnTokens(t, aliceConn, bobConn)
		}
	}

	if got := drainLine(t, aliceConn); got != "[Game Over]: It's a draw!\n" {
		t.Fatalf("alice saw %q", got)
	}

	w, l, d, err := h.store.GetStats(context.Background(), "Alice")
	if err != nil || d != 1 {
		t.Fatalf("alice draws = %d err=%v; want 1", d, err)
		_ = w
		_ = l
	}
}

func TestNotYourTurn(t *testing.T) {
	h := newHarness(t)
	alice, _, aliceConn, bobConn := joinAndStart(t, h)

	if reply := h.coord.Move(alice, "0"); reply != "" {
		t.Fatalf("first move: %q", reply)
	}
	drainLine(t, aliceConn)
	drainLine(t, bobConn)

	reply := h.coord.Move(alice, "4")
	if reply != "[Server]: Not your turn." {
		t.Fatalf("second alice move = %q; want Not your turn.", reply)
	}
	if h.coord.Board.Cell(4) != board.Blank {
		t.Fatalf("cell 4 should remain blank")
	}
}

func TestDropoutMidGame(t *testing.T) {
	h := newHarness(t)
	alice, bob, aliceConn, _ := joinAndStart(t, h)

	h.coord.HandleDropout(bob)

	if got := drainLine(t, aliceConn); got != "[Server]: Bob left the Tic-Tac-Toe game.\n" {
		t.Fatalf("alice saw %q", got)
	}
	if got := drainLine(t, aliceConn); got != "!resetboard\n" {
		t.Fatalf("alice saw %q; want !resetboard", got)
	}
	if got := drainLine(t, aliceConn); got != "!leavegame\n" {
		t.Fatalf("alice saw %q; want !leavegame", got)
	}
	if alice.State() != session.Chatting {
		t.Fatalf("alice state = %v; want Chatting", alice.State())
	}

	state, err := h.store.GetMatchState(context.Background())
	if err != nil {
		t.Fatalf("GetMatchState: %v", err)
	}
	if state.Player1 != nil || state.Player2 != nil || state.CurrentTurn != nil {
		t.Fatalf("match state = %+v; want all nil", state)
	}

	w, l, d, err := h.store.GetStats(context.Background(), "Bob")
	if err != nil || (w != 0 || l != 0 || d != 0) {
		t.Fatalf("bob stats changed on dropout: %d/%d/%d err=%v", w, l, d, err)
	}
}
