// Package testutil provides in-process fakes for tests.
package testutil

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
)

// FakeRetroArch is an in-process stand-in for the RetroArch network
// command port: a UDP responder backed by a flat RAM image.
type FakeRetroArch struct {
	t    testing.TB
	conn *net.UDPConn

	mu       sync.Mutex
	ram      []byte
	commands []string
	mute     bool
	paused   bool
}

// NewFakeRetroArch starts the responder on a random port with a zeroed
// RAM image of the given size. It stops with the test.
func NewFakeRetroArch(t testing.TB, ramSize int) *FakeRetroArch {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{})
	if err != nil {
		t.Fatalf("starting fake retroarch: %v", err)
	}
	// The client fragments RAM writes into 4-byte datagrams, so one commit
	// can burst hundreds of packets; the default socket buffer holds only
	// ~256 of them and the kernel drops the rest.
	if err := conn.SetReadBuffer(1 << 20); err != nil {
		t.Fatalf("growing fake retroarch socket buffer: %v", err)
	}
	f := &FakeRetroArch{t: t, conn: conn, ram: make([]byte, ramSize)}
	t.Cleanup(func() { conn.Close() })
	go f.serve()
	return f
}

// Port returns the UDP port the fake listens on.
func (f *FakeRetroArch) Port() int {
	return f.conn.LocalAddr().(*net.UDPAddr).Port
}

// Poke writes bytes directly into the RAM image.
func (f *FakeRetroArch) Poke(addr int, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	copy(f.ram[addr:], data)
}

// Peek reads bytes directly from the RAM image.
func (f *FakeRetroArch) Peek(addr, n int) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]byte, n)
	copy(out, f.ram[addr:addr+n])
	return out
}

// SetMute makes the fake swallow read commands, simulating an
// unresponsive emulator.
func (f *FakeRetroArch) SetMute(mute bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mute = mute
}

// Paused reports the current pause state.
func (f *FakeRetroArch) Paused() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.paused
}

// Commands returns every command line received so far.
func (f *FakeRetroArch) Commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.commands))
	copy(out, f.commands)
	return out
}

func (f *FakeRetroArch) serve() {
	buf := make([]byte, 65536)
	for {
		n, sender, err := f.conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		if reply := f.handle(string(buf[:n])); reply != "" {
			f.conn.WriteToUDP([]byte(reply), sender)
		}
	}
}

func (f *FakeRetroArch) handle(cmd string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, cmd)

	fields := strings.Fields(cmd)
	if len(fields) == 0 {
		return ""
	}
	switch fields[0] {
	case "READ_CORE_RAM":
		if f.mute || len(fields) != 3 {
			return ""
		}
		addr, err1 := strconv.ParseUint(fields[1], 16, 32)
		count, err2 := strconv.Atoi(fields[2])
		if err1 != nil || err2 != nil || int(addr)+count > len(f.ram) {
			return ""
		}
		var sb strings.Builder
		fmt.Fprintf(&sb, "READ_CORE_RAM %s", fields[1])
		for _, b := range f.ram[addr : int(addr)+count] {
			fmt.Fprintf(&sb, " %02X", b)
		}
		return sb.String()
	case "WRITE_CORE_RAM":
		if len(fields) < 3 {
			return ""
		}
		addr, err := strconv.ParseUint(fields[1], 16, 32)
		if err != nil {
			return ""
		}
		for i, h := range fields[2:] {
			v, err := strconv.ParseUint(h, 16, 8)
			if err != nil || int(addr)+i >= len(f.ram) {
				return ""
			}
			f.ram[int(addr)+i] = byte(v)
		}
		return ""
	case "FRAMEADVANCE":
		f.paused = true
		return ""
	case "PAUSE_TOGGLE":
		f.paused = !f.paused
		return ""
	}
	return ""
}
