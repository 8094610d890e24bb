// Package dispatch implements the command dispatcher (spec component
// C6): it splits a wire line into (verb, args) and routes it according
// to the session's current state, grounded on the teacher's
// router.go/handlers.go pattern of one function per verb behind a
// lookup keyed on request shape.
package dispatch

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/tactoed/tactoed/internal/chat"
	"github.com/tactoed/tactoed/internal/game"
	"github.com/tactoed/tactoed/internal/session"
	"github.com/tactoed/tactoed/internal/storage"
)

const aboutText = "tactoed server - text chat with an embedded Tic-Tac-Toe match."

const commandsText = "Commands: !user !who !commands !about !whisper !roll !kick !join !scores !exit " +
	"(while playing: !startgame !move)"

// Dispatcher wires the chat router, game coordinator, and credential
// store together behind the state-guarded verb table from spec §4.5.
type Dispatcher struct {
	Registry *chat.Registry
	Router   *chat.Router
	Game     *game.Coordinator
	Store    *storage.Store
	Logger   *log.Logger

	BcryptCost int

	// Reap is called to tear a session down after a fatal dispatch
	// outcome (e.g. !exit, moderator !kick) once the reply, if any, has
	// been enqueued.
	Reap func(sess *session.Session)
}

// Handle parses line and dispatches it for sess. It returns nothing:
// every handler delivers its own replies through Send.
func (d *Dispatcher) Handle(sess *session.Session, line string) {
	if strings.TrimSpace(line) == "" {
		sess.Send("Empty command ignored.")
		return
	}

	verb, args := splitVerb(line)

	if !strings.HasPrefix(verb, "!") {
		d.handleChatLine(sess, line)
		return
	}

	verb = strings.ToLower(verb)

	switch sess.State() {
	case session.Login:
		d.dispatchLogin(sess, verb, args)
	case session.Chatting:
		d.dispatchChatting(sess, verb, args)
	case session.Playing:
		d.dispatchPlaying(sess, verb, args)
	}
}

func splitVerb(line string) (verb, args string) {
	line = strings.TrimSpace(line)
	parts := strings.SplitN(line, " ", 2)
	verb = parts[0]
	if len(parts) == 2 {
		args = strings.TrimSpace(parts[1])
	}
	return verb, args
}

func (d *Dispatcher) handleChatLine(sess *session.Session, line string) {
	switch sess.State() {
	case session.Login:
		sess.Send("Please login or register first...")
	case session.Chatting, session.Playing:
		d.Router.SendToAll(fmt.Sprintf("[%s]: %s", sess.Username(), line), sess, "chat.broadcast")
	}
}

func (d *Dispatcher) dispatchLogin(sess *session.Session, verb, args string) {
	switch verb {
	case "!login":
		d.handleLogin(sess, args)
	case "!register":
		d.handleRegister(sess, args)
	default:
		sess.Send("Please login or register first...")
	}
}

func (d *Dispatcher) handleLogin(sess *session.Session, args string) {
	user, pass, ok := splitTwo(args)
	if !ok {
		sess.Send("[Server]: Usage: !login <user> <pass>")
		return
	}

	ctx := context.Background()
	display, err := d.Store.TryLogin(ctx, user, pass)
	switch err {
	case nil:
		d.completeLogin(sess, display)
	case storage.ErrUserNotFound, storage.ErrWrongPassword:
		sess.Send("[Server]: Invalid username or password.")
	default:
		sess.Send("[Server]: " + err.Error())
	}
}

func (d *Dispatcher) handleRegister(sess *session.Session, args string) {
	user, pass, ok := splitTwo(args)
	if !ok {
		sess.Send("[Server]: Usage: !register <user> <pass>")
		return
	}

	ctx := context.Background()
	if err := d.Store.TryRegister(ctx, user, pass, d.BcryptCost); err != nil {
		switch err {
		case storage.ErrUsernameTaken:
			sess.Send("[Server]: Username already exists.")
		case storage.ErrInvalidUsername:
			if ok, reason := storage.ValidateUsername(user); !ok {
				sess.Send("[Server]: " + reason)
			}
		default:
			sess.Send("[Server]: " + err.Error())
		}
		return
	}

	sess.Send(fmt.Sprintf("Registration successful! Welcome %s", user))
	d.completeLogin(sess, user)
}

func (d *Dispatcher) completeLogin(sess *session.Session, display string) {
	if d.Registry.Exists(display) {
		sess.Send("[Server]: That account is already logged in.")
		return
	}

	sess.SetUsername(display)
	ctx := context.Background()
	if mod, err := d.Store.IsModerator(ctx, display); err == nil {
		sess.SetModerator(mod)
	}
	d.Registry.Add(sess)
	sess.SetState(session.Chatting)
}

func splitTwo(args string) (first, second string, ok bool) {
	parts := strings.SplitN(strings.TrimSpace(args), " ", 2)
	if len(parts) != 2 || parts[0] == "" || strings.TrimSpace(parts[1]) == "" {
		return "", "", false
	}
	return parts[0], strings.TrimSpace(parts[1]), true
}

func (d *Dispatcher) dispatchChatting(sess *session.Session, verb, args string) {
	switch verb {
	case "!user":
		d.handleRename(sess, args)
	case "!who":
		d.handleWho(sess)
	case "!commands":
		sess.Send(commandsText)
	case "!about":
		sess.Send(aboutText)
	case "!whisper":
		sess.Send(d.Router.Whisper(sess, args))
	case "!roll":
		if reply, ok := d.Router.Roll(sess, args); !ok {
			sess.Send(reply)
		}
	case "!kick":
		d.handleKick(sess, args)
	case "!join":
		if reply := d.Game.Join(sess); reply != "" {
			sess.Send(reply)
		}
	case "!scores":
		d.handleScores(sess)
	case "!exit":
		d.handleExit(sess)
	default:
		sess.Send("[Server]: Unknown command in this state.")
	}
}

func (d *Dispatcher) dispatchPlaying(sess *session.Session, verb, args string) {
	switch verb {
	case "!whisper":
		sess.Send(d.Router.Whisper(sess, args))
	case "!exit":
		d.handleExit(sess)
	case "!startgame":
		if reply := d.Game.Start(sess); reply != "" {
			sess.Send(reply)
		}
	case "!move":
		if reply := d.Game.Move(sess, args); reply != "" {
			sess.Send(reply)
		}
	default:
		sess.Send("[Server]: That command isn't available mid-game.")
	}
}

func (d *Dispatcher) handleRename(sess *session.Session, args string) {
	if strings.TrimSpace(args) == "" {
		sess.Send("[Server]: Usage: !user <newName>")
		return
	}
	if reply := d.Router.Rename(context.Background(), sess, strings.TrimSpace(args)); reply != "" {
		sess.Send(reply)
	}
}

func (d *Dispatcher) handleWho(sess *session.Session) {
	snapshot := d.Registry.Snapshot()
	names := make([]string, 0, len(snapshot))
	for _, s := range snapshot {
		names = append(names, s.Username())
	}
	sort.Strings(names)
	sess.Send("[Server]: Connected users: " + strings.Join(names, ", "))
}

func (d *Dispatcher) handleKick(sess *session.Session, args string) {
	if !sess.IsModerator() {
		sess.Send("[Server]: You do not have permission to do that.")
		return
	}
	target := strings.TrimSpace(args)
	if target == "" {
		sess.Send("[Server]: Usage: !kick <name>")
		return
	}

	reply, targetSess := d.Router.Kick(sess, target)
	if reply != "" {
		sess.Send(reply)
		return
	}
	if d.Reap != nil {
		d.Reap(targetSess)
	}
}

func (d *Dispatcher) handleScores(sess *session.Session) {
	ctx := context.Background()
	entries, err := d.Store.GetAllScores(ctx)
	if err != nil {
		sess.Send("[Server]: Unable to read the leaderboard right now.")
		return
	}
	if len(entries) == 0 {
		sess.Send("[Server]: No scores recorded yet.")
		return
	}
	for _, e := range entries {
		sess.Send(fmt.Sprintf("%s W:%d L:%d D:%d", e.Username, e.Wins, e.Losses, e.Draws))
	}
}

func (d *Dispatcher) handleExit(sess *session.Session) {
	sess.Send("Goodbye.")
	if d.Reap != nil {
		d.Reap(sess)
	}
}
