package chat

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"strconv"
	"strings"

	"github.com/tactoed/tactoed/internal/bus"
	"github.com/tactoed/tactoed/internal/session"
	"github.com/tactoed/tactoed/internal/storage"
)

// Router implements the chat router (spec C7): broadcast, whisper,
// roll, rename, and moderation. It is also the owner of quarantining
// peers a broadcast couldn't reach.
type Router struct {
	Registry *Registry
	Store    *storage.Store
	Bus      *bus.Bus
	Logger   *log.Logger

	// Reap is called once per session a send failed to reach, after the
	// broadcast loop finishes, per spec §4.6. The server front door wires
	// this to its session-teardown-and-dropout-recovery path.
	Reap func(sess *session.Session)
}

// SendToAll delivers text to every connected session except exclude (if
// non-nil). Any recipient whose outbox is already full is quarantined
// via Reap after the snapshot has been walked. A copy is also published
// on the bus under subject for audit/transcript purposes only (spec
// SPEC_FULL.md §4.13); a full audit subscriber never affects delivery.
func (r *Router) SendToAll(text string, exclude *session.Session, subject string) {
	snapshot := r.Registry.Snapshot()

	var failed []*session.Session
	for _, sess := range snapshot {
		if sess == exclude {
			continue
		}
		if !sess.Send(text) {
			failed = append(failed, sess)
		}
	}

	if r.Bus != nil {
		r.Bus.Publish(subject, []byte(text))
	}

	for _, sess := range failed {
		if r.Reap != nil {
			r.Reap(sess)
		}
	}
}

// Whisper parses and delivers `!whisper "Long Name" msg…` or
// `!whisper name msg…`. It returns the one-line reply the sender should
// see (success confirmation or an error), mirrored to both parties per
// spec §4.6.
func (r *Router) Whisper(from *session.Session, argsLine string) string {
	target, msg, err := parseWhisperArgs(argsLine)
	if err != nil {
		return "[Server]: " + err.Error()
	}

	targetSess, ok := r.Registry.Get(target)
	if !ok {
		return "[Server]: No such user: " + target
	}

	if !targetSess.Send(fmt.Sprintf("[Whisper from %s]: %s", from.Username(), msg)) {
		if r.Reap != nil {
			r.Reap(targetSess)
		}
	}

	if r.Bus != nil {
		r.Bus.Publish("chat.whisper.audit", []byte(fmt.Sprintf("%s -> %s: %s", from.Username(), targetSess.Username(), msg)))
	}

	return fmt.Sprintf("[You whispered to %s]: %s", targetSess.Username(), msg)
}

// parseWhisperArgs splits `"Long Name" rest of message` or
// `name rest of message` into (target, message, error).
func parseWhisperArgs(argsLine string) (string, string, error) {
	argsLine = strings.TrimSpace(argsLine)
	if argsLine == "" {
		return "", "", fmt.Errorf("usage: !whisper <name> <message>")
	}

	var target, rest string
	if strings.HasPrefix(argsLine, `"`) {
		end := strings.Index(argsLine[1:], `"`)
		if end < 0 {
			return "", "", fmt.Errorf("missing closing quote")
		}
		target = argsLine[1 : end+1]
		rest = strings.TrimSpace(argsLine[end+2:])
	} else {
		parts := strings.SplitN(argsLine, " ", 2)
		target = parts[0]
		if len(parts) == 2 {
			rest = strings.TrimSpace(parts[1])
		}
	}

	if rest == "" {
		return "", "", fmt.Errorf("cannot whisper an empty message")
	}
	return target, rest, nil
}

// Roll handles `!roll [N]`, announcing the result to everyone.
func (r *Router) Roll(from *session.Session, argsLine string) (reply string, ok bool) {
	max := 6
	argsLine = strings.TrimSpace(argsLine)
	if argsLine != "" {
		n, err := strconv.Atoi(argsLine)
		if err != nil || n < 1 {
			return "[Server]: !roll requires a positive integer.", false
		}
		max = n
	}

	result := rand.Intn(max) + 1
	r.SendToAll(fmt.Sprintf("[Roll] %s rolled a %d (1 – %d)", from.Username(), result, max), nil, "chat.broadcast")
	return "", true
}

// Rename handles `!user newName`: validates format, checks uniqueness
// against both the credential store and the live registry, and updates
// both on success.
func (r *Router) Rename(ctx context.Context, sess *session.Session, newName string) string {
	if ok, reason := storage.ValidateUsername(newName); !ok {
		return "[Server]: " + reason
	}
	if r.Registry.Exists(newName) {
		return "[Server]: Username already in use."
	}

	oldName := sess.Username()
	if err := r.Store.TryUpdateUsername(ctx, oldName, newName); err != nil {
		switch err {
		case storage.ErrUsernameTaken:
			return "[Server]: Username already exists."
		case storage.ErrUserNotFound:
			return "[Server]: User record not found."
		default:
			return "[Server]: " + err.Error()
		}
	}

	sess.SetUsername(newName)
	r.Registry.RenameKey(sess, oldName)
	r.SendToAll(fmt.Sprintf("[%s] is now known as [%s]", oldName, newName), nil, "chat.broadcast")
	return ""
}

// Kick disconnects target on behalf of actor (already verified to be a
// moderator by the caller). It refuses self-kick and mod-on-mod.
func (r *Router) Kick(actor *session.Session, targetName string) (reply string, targetSess *session.Session) {
	if strings.EqualFold(actor.Username(), targetName) {
		return "[Server]: You cannot kick yourself.", nil
	}

	target, ok := r.Registry.Get(targetName)
	if !ok {
		return "[Server]: No such user: " + targetName, nil
	}
	if target.IsModerator() {
		return "[Server]: You cannot kick another moderator.", nil
	}

	target.Send(fmt.Sprintf("You were kicked by %s.", actor.Username()))
	return "", target
}
