// Package host implements the host console (spec component C9):
// privileged, local-only operator commands distinct from the wire
// protocol, grounded on the teacher's host/admin-console pattern of
// reading an stdin loop and tying it to the same stores the network
// handlers use.
package host

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/tactoed/tactoed/internal/bus"
	"github.com/tactoed/tactoed/internal/chat"
	"github.com/tactoed/tactoed/internal/logging"
	"github.com/tactoed/tactoed/internal/storage"
)

// Console reads operator commands from in and writes responses plus a
// mirrored transcript to out/the transcript file.
type Console struct {
	Registry   *Registry
	Store      *storage.Store
	Bus        *bus.Bus
	Logger     *log.Logger
	Transcript *logging.Transcript

	out io.Writer
}

// Registry is an alias for chat.Registry, so this package depends on
// the concrete type directly; the console uses only its Get and
// Snapshot methods.
type Registry = chat.Registry

// New builds a console writing human output to out (typically os.Stdout).
func New(reg *Registry, store *storage.Store, b *bus.Bus, logger *log.Logger, transcript *logging.Transcript, out io.Writer) *Console {
	return &Console{Registry: reg, Store: store, Bus: b, Logger: logger, Transcript: transcript, out: out}
}

// Run reads commands from in until it returns EOF or an error. It
// subscribes to the bus's audit subjects for the duration, mirroring
// every chat/game event into the transcript alongside the operator's
// own command output.
func (c *Console) Run(in io.Reader) error {
	if c.Bus != nil {
		c.Bus.Subscribe("chat.broadcast", c.mirror("chat"))
		c.Bus.Subscribe("chat.whisper.audit", c.mirror("whisper"))
		c.Bus.Subscribe("game.events", c.mirror("game"))
	}

	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		c.handle(scanner.Text())
	}
	return scanner.Err()
}

func (c *Console) mirror(kind string) func(data []byte) {
	return func(data []byte) {
		c.record(fmt.Sprintf("[%s] %s", kind, string(data)))
	}
}

func (c *Console) record(line string) {
	fmt.Fprintln(c.out, line)
	if c.Transcript != nil {
		c.Transcript.Write(line)
	}
}

func (c *Console) handle(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	parts := strings.SplitN(line, " ", 2)
	verb := parts[0]
	var args string
	if len(parts) == 2 {
		args = strings.TrimSpace(parts[1])
	}

	switch verb {
	case "!mod":
		c.handleMod(args)
	case "!mods":
		c.handleMods()
	case "!kick":
		c.handleKick(args)
	case "!dbtest":
		c.handleDBTest()
	case "!scores":
		c.Scores(context.Background())
	default:
		c.record(fmt.Sprintf("[host]: unknown command %q", verb))
	}
}

func (c *Console) handleMod(target string) {
	if target == "" {
		c.record("[host]: usage: !mod <name>")
		return
	}
	sess, ok := c.Registry.Get(target)
	if !ok {
		c.record(fmt.Sprintf("[host]: no such connected user: %s", target))
		return
	}
	newVal := !sess.IsModerator()
	sess.SetModerator(newVal)
	sess.Send(fmt.Sprintf("[Server]: You are %s a moderator.", moderatorPhrase(newVal)))
	c.record(fmt.Sprintf("[host]: %s moderator status set to %v", sess.Username(), newVal))
}

func moderatorPhrase(on bool) string {
	if on {
		return "now"
	}
	return "no longer"
}

func (c *Console) handleMods() {
	var mods []string
	for _, sess := range c.Registry.Snapshot() {
		if sess.IsModerator() {
			mods = append(mods, sess.Username())
		}
	}
	if len(mods) == 0 {
		c.record("[host]: no moderators currently connected")
		return
	}
	c.record("[host]: moderators: " + strings.Join(mods, ", "))
}

func (c *Console) handleKick(target string) {
	if target == "" {
		c.record("[host]: usage: !kick <name>")
		return
	}
	sess, ok := c.Registry.Get(target)
	if !ok {
		c.record(fmt.Sprintf("[host]: no such connected user: %s", target))
		return
	}
	sess.Send("You were kicked by the host.")
	sess.Close()
	c.record(fmt.Sprintf("[host]: force-closed session for %s", sess.Username()))
}

func (c *Console) handleDBTest() {
	if c.Store.TestConnection() {
		c.record("[host]: database connection OK")
		return
	}
	c.record("[host]: database connection FAILED")
}

// Scores prints the leaderboard to the console output, invoked by the
// operator's own `!scores` command.
func (c *Console) Scores(ctx context.Context) {
	entries, err := c.Store.GetAllScores(ctx)
	if err != nil {
		c.record("[host]: unable to read leaderboard")
		return
	}
	for _, e := range entries {
		c.record(fmt.Sprintf("%s W:%d L:%d D:%d", e.Username, e.Wins, e.Losses, e.Draws))
	}
}
