package client

import (
	"context"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/beyondparity/parity/internal/config"
	"github.com/beyondparity/parity/internal/ram"
	"github.com/beyondparity/parity/internal/retroarch"
	"github.com/beyondparity/parity/internal/testutil"
	"github.com/beyondparity/parity/internal/wire"
)

const (
	loopPlayedTimeAddr = 0x000
	loopFieldAddr      = 0x100
	loopBattleAddr     = 0x400
	loopPresenceAddr   = 0x900
	loopStatus1Addr    = 0x910
	loopStatus2Addr    = 0x920
	loopChestAddr      = 0x940
	loopGPAddr         = 0x990
	loopButtonAddr     = 0x9A0
)

// scriptedServer is a bare loopback socket standing in for the session
// server: tests read the client's requests and inject directives.
type scriptedServer struct {
	t      *testing.T
	conn   *net.UDPConn
	client *net.UDPAddr
}

func newScriptedServer(t *testing.T) *scriptedServer {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("starting scripted server: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return &scriptedServer{t: t, conn: conn}
}

func (s *scriptedServer) port() int {
	return s.conn.LocalAddr().(*net.UDPAddr).Port
}

func (s *scriptedServer) recv(timeout time.Duration) (string, bool) {
	s.t.Helper()
	if err := s.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		s.t.Fatalf("setting deadline: %v", err)
	}
	buf := make([]byte, wire.MaxFrameSize+1)
	n, sender, err := s.conn.ReadFromUDP(buf)
	if err != nil {
		return "", false
	}
	s.client = sender
	msg, err := wire.Decode(buf[:n])
	if err != nil {
		s.t.Fatalf("decoding client request: %v", err)
	}
	return msg, true
}

func (s *scriptedServer) send(msg string) {
	s.t.Helper()
	if s.client == nil {
		s.t.Fatal("no client address learned yet")
	}
	frame, err := wire.Encode(msg)
	if err != nil {
		s.t.Fatalf("encoding directive: %v", err)
	}
	if _, err := s.conn.WriteToUDP(frame, s.client); err != nil {
		s.t.Fatalf("sending directive: %v", err)
	}
}

func newLoopClient(t *testing.T, fake *testutil.FakeRetroArch, srv *scriptedServer) *Client {
	t.Helper()
	cfg := config.Client{
		SyncInventory:       true,
		SyncChests:          true,
		SyncStatus:          true,
		PollInterval:        50 * time.Millisecond,
		SyncInterval:        time.Second,
		MinSaneInventory:    3,
		SimilarityThreshold: 0.95,
		PlayedTimeAddr:      loopPlayedTimeAddr,
		FieldItemAddr:       loopFieldAddr,
		BattleItemAddr:      loopBattleAddr,
		BattleCharAddr:      loopPresenceAddr,
		Status1Addr:         loopStatus1Addr,
		Status2Addr:         loopStatus2Addr,
		ChestAddr:           loopChestAddr,
		GPAddr:              loopGPAddr,
		ButtonMapAddr:       loopButtonAddr,
		RetroArchPort:       fake.Port(),
		ServerHostname:      "127.0.0.1",
		ServerPort:          srv.port(),
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	emu, err := retroarch.Dial(cfg.RetroArchPort, cfg.PollInterval, cfg.PauseDelay)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	link, err := DialLink(cfg.ServerHostname, cfg.ServerPort, log, false)
	if err != nil {
		t.Fatalf("DialLink() error = %v", err)
	}
	c := &Client{
		cfg:    cfg,
		emu:    emu,
		link:   link,
		log:    log,
		series: 100,
		st: state{
			prevPlayedTime: ram.PlayedTimePoison,
			backoff:        cfg.SyncInterval,
		},
	}
	t.Cleanup(func() { c.Close() })
	return c
}

// seedFieldRAM populates the regions a tick samples: five minutes on the
// clock and a one-item field inventory. The battle region stays zeroed,
// which shares no slot IDs with the field layout, so the tick stays in
// the field view.
func seedFieldRAM(fake *testutil.FakeRetroArch) (ram.Order, ram.Inventory) {
	fake.Poke(loopPlayedTimeAddr, []byte{0, 5, 0, 1})

	var order ram.Order
	var inv ram.Inventory
	for i := range order {
		order[i] = ram.EmptyItem
	}
	order[0], inv[1] = 1, 5
	fake.Poke(loopFieldAddr, ram.FieldImage(order, inv))
	return order, inv
}

func TestTickEagerBattleCopy(t *testing.T) {
	fake := testutil.NewFakeRetroArch(t, 0x1000)
	srv := newScriptedServer(t)
	c := newLoopClient(t, fake, srv)
	order, _ := seedFieldRAM(fake)

	// Battle mirrors the field slot IDs but one amount moved: combat is
	// detected and the battle counts must flow into the field region.
	battle := make([]byte, ram.BattleItemBytes)
	for i := 0; i < ram.SlotCount; i++ {
		battle[i*ram.BattleRecordBytes] = order[i]
	}
	battle[3] = 7
	fake.Poke(loopBattleAddr, battle)

	if err := c.tick(time.Now()); err != nil {
		t.Fatalf("tick() error = %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for fake.Peek(loopFieldAddr+ram.SlotCount, 1)[0] != 7 {
		if time.Now().After(deadline) {
			t.Fatalf("field count = %d, want 7 copied from battle",
				fake.Peek(loopFieldAddr+ram.SlotCount, 1)[0])
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got := fake.Peek(loopFieldAddr, 1)[0]; got != 1 {
		t.Errorf("field slot 0 item = %d, want 1", got)
	}
}

func TestTickBackoff(t *testing.T) {
	fake := testutil.NewFakeRetroArch(t, 0x1000)
	srv := newScriptedServer(t)
	c := newLoopClient(t, fake, srv)
	seedFieldRAM(fake)

	// Each silent tick grows the backoff by half, up to ten intervals.
	want := c.cfg.SyncInterval
	for i := 0; i < 8; i++ {
		if err := c.tick(time.Now()); err != nil {
			t.Fatalf("tick() error = %v", err)
		}
		want = min(time.Duration(float64(want)*1.5), backoffCap*c.cfg.SyncInterval)
		if c.st.backoff != want {
			t.Fatalf("after %d silent ticks backoff = %v, want %v", i+1, c.st.backoff, want)
		}
	}
	if c.st.backoff != backoffCap*c.cfg.SyncInterval {
		t.Fatalf("backoff = %v, never reached the cap", c.st.backoff)
	}

	// The first tick sent a sync request; learn the client's address.
	msg, ok := srv.recv(time.Second)
	if !ok {
		t.Fatal("no sync request received")
	}
	if msg != "SYNC 100 !" {
		t.Errorf("initial request = %q, want forced while poisoned", msg)
	}

	// Any directive resets the backoff to the base interval.
	srv.send("LOG []")
	if err := c.tick(time.Now()); err != nil {
		t.Fatalf("tick() error = %v", err)
	}
	if c.st.backoff != c.cfg.SyncInterval {
		t.Errorf("backoff after directive = %v, want %v", c.st.backoff, c.cfg.SyncInterval)
	}
}

func TestRunRaisesForceResyncOnEmulatorFault(t *testing.T) {
	fake := testutil.NewFakeRetroArch(t, 0x1000)
	srv := newScriptedServer(t)
	c := newLoopClient(t, fake, srv)
	seedFieldRAM(fake)
	c.st.prevPlayedTime = 300

	fake.SetMute(true)
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	if err := c.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !c.st.forceSync {
		t.Fatal("emulator fault did not raise force-resync")
	}

	// The next request carries the bang and clears the flag.
	c.sendSyncRequest()
	msg, ok := srv.recv(time.Second)
	if !ok {
		t.Fatal("no sync request received")
	}
	if msg != "SYNC 100 !" {
		t.Errorf("request = %q, want the forced form", msg)
	}
	if c.st.forceSync {
		t.Error("force-resync not cleared after the forced request")
	}
}

func TestSyncRequestPlainWhenHealthy(t *testing.T) {
	fake := testutil.NewFakeRetroArch(t, 0x1000)
	srv := newScriptedServer(t)
	c := newLoopClient(t, fake, srv)
	seedFieldRAM(fake)

	// Learn the client address with a forced request first.
	c.sendSyncRequest()
	if msg, ok := srv.recv(time.Second); !ok || msg != "SYNC 100 !" {
		t.Fatalf("poisoned request = %q (ok=%v), want forced", msg, ok)
	}

	c.st.prevPlayedTime = 300
	c.st.forceSync = false
	c.sendSyncRequest()
	msg, ok := srv.recv(time.Second)
	if !ok {
		t.Fatal("no sync request received")
	}
	if msg != "SYNC 100" {
		t.Errorf("healthy request = %q, want no bang", msg)
	}
}
