// Package bus embeds a NATS server in-process and exposes a thin
// client used as the audit tee alongside the chat router and game
// coordinator (SPEC_FULL.md §4.13); their delivery to sessions does not
// go through the bus. There is no external
// NATS port: the bus never leaves this process, so it carries none of
// the cross-server federation the spec explicitly rules out (§1).
package bus

import (
	"fmt"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
)

// Bus wraps an in-process NATS server and client connection.
type Bus struct {
	srv  *server.Server
	conn *nats.Conn

	pendingMsgLimit  int
	pendingByteLimit int
}

// Start boots an in-process NATS server (no listening socket) and
// dials it over the in-process transport.
func Start(pendingMsgLimit, pendingByteLimit int) (*Bus, error) {
	ns, err := server.NewServer(&server.Options{
		DontListen: true,
	})
	if err != nil {
		return nil, fmt.Errorf("creating in-process nats server: %w", err)
	}

	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		return nil, fmt.Errorf("in-process nats server did not become ready")
	}

	conn, err := nats.Connect("", nats.InProcessServer(ns))
	if err != nil {
		ns.Shutdown()
		return nil, fmt.Errorf("connecting to in-process nats server: %w", err)
	}

	return &Bus{
		srv:              ns,
		conn:             conn,
		pendingMsgLimit:  pendingMsgLimit,
		pendingByteLimit: pendingByteLimit,
	}, nil
}

// Publish sends data to subject. NATS core pub/sub is at-most-once per
// subscriber, matching the at-most-once delivery spec §4.6 requires.
func (b *Bus) Publish(subject string, data []byte) error {
	return b.conn.Publish(subject, data)
}

// Subscribe registers handler for subject with a bounded pending-message
// and pending-byte limit, so a slow subscriber gets ErrSlowConsumer
// instead of unbounded memory growth. This only protects the audit tee
// (the host console's mirrored log); chat and game delivery never go
// through here, so a stalled subscriber can never stall a session.
func (b *Bus) Subscribe(subject string, handler func(data []byte)) (*nats.Subscription, error) {
	sub, err := b.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribing to %s: %w", subject, err)
	}
	if err := sub.SetPendingLimits(b.pendingMsgLimit, b.pendingByteLimit); err != nil {
		sub.Unsubscribe()
		return nil, fmt.Errorf("setting pending limits for %s: %w", subject, err)
	}
	return sub, nil
}

// Close closes the client connection without draining it, then shuts
// down the embedded server.
func (b *Bus) Close() {
	if b.conn != nil {
		b.conn.Close()
	}
	if b.srv != nil {
		b.srv.Shutdown()
		b.srv.WaitForShutdown()
	}
}
