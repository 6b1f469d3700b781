package client

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net"
	"os"
	"strings"
	"time"

	"github.com/beyondparity/parity/internal/wire"
)

// bootstrapTimeout bounds the wait for the NEW/JOIN reply; the regular
// loop's receives use the poll interval instead.
const bootstrapTimeout = 30 * time.Second

// Link is the connected UDP socket to the session server.
type Link struct {
	conn        *net.UDPConn
	log         *slog.Logger
	testLatency bool
}

// DialLink resolves the server and connects the socket.
func DialLink(host string, port int, log *slog.Logger, testLatency bool) (*Link, error) {
	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return nil, fmt.Errorf("resolving server %s:%d: %w", host, port, err)
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("connecting to server: %w", err)
	}
	return &Link{conn: conn, log: log, testLatency: testLatency}, nil
}

// Close releases the socket.
func (l *Link) Close() error {
	return l.conn.Close()
}

// Send frames and transmits one message.
func (l *Link) Send(msg string) error {
	frame, err := wire.Encode(msg)
	if err != nil {
		return err
	}
	l.jitter()
	if _, err := l.conn.Write(frame); err != nil {
		return fmt.Errorf("sending to server: %w", err)
	}
	return nil
}

// Recv waits up to timeout for one directive. A timeout surfaces as
// os.ErrDeadlineExceeded; the caller treats it as "no directive this tick".
func (l *Link) Recv(timeout time.Duration) (string, error) {
	if err := l.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return "", fmt.Errorf("setting receive deadline: %w", err)
	}
	buf := make([]byte, wire.MaxFrameSize+1)
	n, err := l.conn.Read(buf)
	if err != nil {
		return "", err
	}
	msg, err := wire.Decode(buf[:n])
	if err != nil {
		return "", err
	}
	l.jitter()
	return msg, nil
}

// IsTimeout reports whether a Recv error was just the deadline expiring.
func IsTimeout(err error) bool {
	return errors.Is(err, os.ErrDeadlineExceeded)
}

// Bootstrap registers this member with the server, creating or joining the
// named session, and waits for the verdict.
func (l *Link) Bootstrap(session string, series int64, create bool) error {
	verb := wire.VerbJoin
	if create {
		verb = wire.VerbNew
	}
	if err := l.Send(fmt.Sprintf("%s %s %d", verb, session, series)); err != nil {
		return err
	}
	reply, err := l.Recv(bootstrapTimeout)
	if err != nil {
		return fmt.Errorf("no reply to %s: %w", verb, err)
	}
	if strings.HasPrefix(reply, wire.VerbError) {
		return fmt.Errorf("server rejected %s: %s", verb, reply)
	}
	return nil
}

// jitter injects 0–6 seconds of artificial delay when latency testing is
// enabled.
func (l *Link) jitter() {
	if !l.testLatency {
		return
	}
	time.Sleep(time.Duration(rand.Float64() * 6 * float64(time.Second)))
}
