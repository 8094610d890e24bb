// Package game implements the authoritative Tic-Tac-Toe session (spec
// component C8): slot allocation, turn ordering, move validation,
// result recording, and dropout recovery. It drives internal/board for
// rules and internal/chat.Router for fan-out, grounded on the
// teacher's match-lifecycle handling in internal/api/handlers.go
// (single shared resource, guarded state transitions, result recording
// on terminal outcomes).
package game

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"

	"github.com/tactoed/tactoed/internal/board"
	"github.com/tactoed/tactoed/internal/bus"
	"github.com/tactoed/tactoed/internal/chat"
	"github.com/tactoed/tactoed/internal/session"
	"github.com/tactoed/tactoed/internal/storage"
)

// Coordinator owns the single, server-wide match (spec §3's Match
// singleton): the in-memory board, which sessions occupy which slot,
// and whose turn it is. All public methods are safe for concurrent use.
type Coordinator struct {
	Board    *board.Board
	Store    *storage.Store
	Router   *chat.Router
	Bus      *bus.Bus
	Logger   *log.Logger

	mu      sync.Mutex
	player1 *session.Session
	player2 *session.Session
	turn    int // 0 (no game), 1, or 2
}

// New wires a coordinator around a shared board, store, and chat
// router. bus may be nil in tests that don't care about the audit tee.
func New(b *board.Board, store *storage.Store, router *chat.Router, bus *bus.Bus, logger *log.Logger) *Coordinator {
	return &Coordinator{Board: b, Store: store, Router: router, Bus: bus, Logger: logger}
}

func slotMark(slot int) board.Mark {
	if slot == 1 {
		return board.Cross
	}
	return board.Naught
}

func (c *Coordinator) publishEvent(msg string) {
	if c.Bus != nil {
		c.Bus.Publish("game.events", []byte(msg))
	}
}

// Join assigns sess the first open slot. Refuses if already joined or
// both slots are taken.
func (c *Coordinator) Join(sess *session.Session) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if sess.PlayerSlot() != 0 {
		return "[Server]: You have already joined the game."
	}

	var slot int
	switch {
	case c.player1 == nil:
		slot = 1
		c.player1 = sess
	case c.player2 == nil:
		slot = 2
		c.player2 = sess
	default:
		return "[Server]: The game is full."
	}

	sess.SetPlayerSlot(slot)
	sess.SetState(session.Playing)

	ctx := context.Background()
	name := sess.Username()
	if slot == 1 {
		c.Store.SetPlayer1(ctx, &name)
		sess.Send("!player1")
	} else {
		c.Store.SetPlayer2(ctx, &name)
		sess.Send("!player2")
	}

	c.publishEvent(fmt.Sprintf("%s joined as player %d", name, slot))
	return ""
}

// Start begins the match. Only the player1 session may start, and both
// slots must be filled.
func (c *Coordinator) Start(sess *session.Session) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.player1 != sess {
		return "[Server]: Only player 1 may start the game."
	}
	if c.player1 == nil || c.player2 == nil {
		return "[Server]: Waiting for a second player."
	}

	c.turn = 1
	ctx := context.Background()
	name := c.player1.Username()
	c.Store.SetCurrentTurn(ctx, &name)

	c.player1.Send("!yourturn")
	c.player2.Send("!waitturn")
	c.Router.SendToAll("[Server]: Game has started.", nil, "game.events")
	c.publishEvent("game started")
	return ""
}

// Move applies `!move <idx>` from sess. Validation order is
// is-it-my-turn, then parse/range, then cell-blank, per spec §4.7.
func (c *Coordinator) Move(sess *session.Session, idxArg string) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	mover := c.moverLocked()
	if mover == nil || sess != mover {
		return "[Server]: Not your turn."
	}

	idx, err := strconv.Atoi(strings.TrimSpace(idxArg))
	if err != nil || idx < 0 || idx > 8 {
		return "[Server]: Invalid move."
	}

	slot := sess.PlayerSlot()
	mark := slotMark(slot)
	placed, err := c.Board.SetTile(idx, mark)
	if !placed {
		if err == board.ErrOccupied {
			return "[Server]: That cell is already taken."
		}
		return "[Server]: Invalid move."
	}

	c.Router.SendToAll(fmt.Sprintf("!settile %d %s", idx, mark.String()), nil, "game.events")
	c.publishEvent(fmt.Sprintf("%s moved %d", sess.Username(), idx))

	ctx := context.Background()
	switch c.Board.GameState() {
	case board.Playing:
		c.turn = otherSlot(slot)
		newMover := c.moverLocked()
		other := c.opponentLocked(newMover)
		newMover.Send("!yourturn")
		if other != nil {
			other.Send("!waitturn")
		}
		name := newMover.Username()
		c.Store.SetCurrentTurn(ctx, &name)
	case board.CrossWins:
		c.finishDecisiveLocked(ctx, c.player1, c.player2, "X wins!")
	case board.NaughtWins:
		c.finishDecisiveLocked(ctx, c.player2, c.player1, "O wins!")
	case board.Draw:
		c.finishDrawLocked(ctx)
	}
	return ""
}

func otherSlot(slot int) int {
	if slot == 1 {
		return 2
	}
	return 1
}

func (c *Coordinator) moverLocked() *session.Session {
	switch c.turn {
	case 1:
		return c.player1
	case 2:
		return c.player2
	default:
		return nil
	}
}

func (c *Coordinator) opponentLocked(sess *session.Session) *session.Session {
	if sess == c.player1 {
		return c.player2
	}
	if sess == c.player2 {
		return c.player1
	}
	return nil
}

// finishDecisiveLocked records a win/loss and runs the shared
// end-of-game fanout, called with c.mu held.
func (c *Coordinator) finishDecisiveLocked(ctx context.Context, winner, loser *session.Session, msg string) {
	c.Store.IncrementWins(ctx, winner.Username())
	c.Store.IncrementLosses(ctx, loser.Username())
	c.endOfGameFanoutLocked(ctx, msg, winner, loser)
}

// finishDrawLocked records a draw for both players and runs the shared
// end-of-game fanout, called with c.mu held.
func (c *Coordinator) finishDrawLocked(ctx context.Context) {
	c.Store.IncrementDraws(ctx, c.player1.Username())
	c.Store.IncrementDraws(ctx, c.player2.Username())
	c.endOfGameFanoutLocked(ctx, "It's a draw!", c.player1, c.player2)
}

// endOfGameFanoutLocked implements spec §5's exact ordering:
// [Game Over] -> !resetboard -> [Result] (private, per player) ->
// !leavegame (private, per player), then ResetGame.
func (c *Coordinator) endOfGameFanoutLocked(ctx context.Context, msg string, a, b *session.Session) {
	c.Router.SendToAll(fmt.Sprintf("[Game Over]: %s", msg), nil, "game.events")
	c.Router.SendToAll("!resetboard", nil, "game.events")

	c.sendResult(ctx, a)
	c.sendResult(ctx, b)

	c.leaveGame(a)
	c.leaveGame(b)

	c.resetMatchLocked(ctx)
}

func (c *Coordinator) sendResult(ctx context.Context, sess *session.Session) {
	w, l, d, err := c.Store.GetStats(ctx, sess.Username())
	if err != nil {
		return
	}
	sess.Send(fmt.Sprintf("[Result] W:%d L:%d D:%d", w, l, d))
}

func (c *Coordinator) leaveGame(sess *session.Session) {
	sess.SetState(session.Chatting)
	sess.SetPlayerSlot(0)
	sess.Send("!leavegame")
}

// resetMatchLocked clears the board, both slots, and the turn. Called
// with c.mu held.
func (c *Coordinator) resetMatchLocked(ctx context.Context) {
	c.Board.Reset()
	c.player1 = nil
	c.player2 = nil
	c.turn = 0
	c.Store.ResetMatchState(ctx)
}

// HandleDropout runs dropout recovery (spec §4.7) for a session whose
// transport just closed. It is a no-op if sess did not occupy a slot.
func (c *Coordinator) HandleDropout(sess *session.Session) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var remaining *session.Session
	switch {
	case c.player1 == sess:
		remaining = c.player2
	case c.player2 == sess:
		remaining = c.player1
	default:
		return
	}

	username := sess.Username()
	ctx := context.Background()
	c.resetMatchLocked(ctx)

	c.Router.SendToAll(fmt.Sprintf("[Server]: %s left the Tic-Tac-Toe game.", username), nil, "game.events")
	c.Router.SendToAll("!resetboard", nil, "game.events")

	if remaining != nil {
		c.leaveGame(remaining)
	}
	c.publishEvent(fmt.Sprintf("%s dropped out", username))
}
