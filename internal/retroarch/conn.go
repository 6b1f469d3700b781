// Package retroarch speaks the RetroArch network command interface: a
// line-oriented ASCII protocol over a localhost UDP socket, used here to
// read and write emulated RAM and to pause the core around writes.
package retroarch

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// maxWriteChunk is the largest payload one WRITE_CORE_RAM command may
// carry; longer writes silently truncate on some builds.
const maxWriteChunk = 4

// recvBufferSize comfortably holds the hex dump of the largest region read
// (the 1,280-byte battle inventory).
const recvBufferSize = 8192

var (
	// ErrUnresponsive reports a read that timed out.
	ErrUnresponsive = errors.New("retroarch not responding")
	// ErrReadMalformed reports a reply with the wrong byte count or
	// unparsable hex.
	ErrReadMalformed = errors.New("retroarch ram read error")
)

// Conn is a connection to the RetroArch command port.
type Conn struct {
	conn        *net.UDPConn
	readTimeout time.Duration
	pauseDelay  time.Duration
	buf         []byte
}

// Dial connects to the command port on localhost. The read timeout is one
// fifth of the main poll interval; pauseDelay zero disables the pause
// bracket entirely.
func Dial(port int, pollInterval, pauseDelay time.Duration) (*Conn, error) {
	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("localhost:%d", port))
	if err != nil {
		return nil, fmt.Errorf("resolving retroarch address: %w", err)
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("connecting to retroarch: %w", err)
	}
	return &Conn{
		conn:        conn,
		readTimeout: pollInterval / 5,
		pauseDelay:  pauseDelay,
		buf:         make([]byte, recvBufferSize),
	}, nil
}

// Close releases the socket.
func (c *Conn) Close() error {
	return c.conn.Close()
}

// PauseDelay returns the configured pause settle time.
func (c *Conn) PauseDelay() time.Duration {
	return c.pauseDelay
}

// ReadRAM reads n bytes of core RAM starting at addr.
func (c *Conn) ReadRAM(addr uint32, n int) ([]byte, error) {
	cmd := fmt.Sprintf("READ_CORE_RAM %06x %d", addr, n)
	if _, err := c.conn.Write([]byte(cmd)); err != nil {
		return nil, fmt.Errorf("sending read command: %w", err)
	}

	if err := c.conn.SetReadDeadline(time.Now().Add(c.readTimeout)); err != nil {
		return nil, fmt.Errorf("setting read deadline: %w", err)
	}
	length, err := c.conn.Read(c.buf)
	if err != nil {
		var nerr net.Error
		if errors.As(err, &nerr) && nerr.Timeout() {
			return nil, fmt.Errorf("%w: read of %d bytes at %06x timed out", ErrUnresponsive, n, addr)
		}
		return nil, fmt.Errorf("receiving read reply: %w", err)
	}

	fields := strings.Fields(strings.TrimSpace(string(c.buf[:length])))
	if len(fields) < 2 {
		return nil, fmt.Errorf("%w: truncated reply %q", ErrReadMalformed, string(c.buf[:length]))
	}
	data := make([]byte, 0, n)
	for _, f := range fields[2:] {
		v, err := strconv.ParseUint(f, 16, 8)
		if err != nil {
			return nil, fmt.Errorf("%w: bad hex byte %q", ErrReadMalformed, f)
		}
		data = append(data, byte(v))
	}
	if len(data) != n {
		return nil, fmt.Errorf("%w: got %d bytes at %06x, want %d", ErrReadMalformed, len(data), addr, n)
	}
	return data, nil
}

// WriteRAM writes data to core RAM starting at addr, fragmented into
// chunks the command port is known to accept. Fire and forget; the port
// sends no reply for writes.
func (c *Conn) WriteRAM(addr uint32, data []byte) error {
	for len(data) > 0 {
		chunk := data
		if len(chunk) > maxWriteChunk {
			chunk = chunk[:maxWriteChunk]
		}

		var sb strings.Builder
		fmt.Fprintf(&sb, "WRITE_CORE_RAM %06x", addr)
		for _, b := range chunk {
			fmt.Fprintf(&sb, " %02X", b)
		}
		if _, err := c.conn.Write([]byte(sb.String())); err != nil {
			return fmt.Errorf("sending write command at %06x: %w", addr, err)
		}

		data = data[len(chunk):]
		addr += uint32(len(chunk))
	}
	return nil
}

// Pause halts the core on its next frame. A no-op when the pause bracket
// is disabled.
func (c *Conn) Pause() error {
	if c.pauseDelay <= 0 {
		return nil
	}
	if _, err := c.conn.Write([]byte("FRAMEADVANCE")); err != nil {
		return fmt.Errorf("sending frameadvance: %w", err)
	}
	return nil
}

// Resume unpauses the core. A no-op when the pause bracket is disabled.
func (c *Conn) Resume() error {
	if c.pauseDelay <= 0 {
		return nil
	}
	if _, err := c.conn.Write([]byte("PAUSE_TOGGLE")); err != nil {
		return fmt.Errorf("sending pause_toggle: %w", err)
	}
	return nil
}
