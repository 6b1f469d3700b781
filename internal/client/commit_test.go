package client

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/beyondparity/parity/internal/config"
	"github.com/beyondparity/parity/internal/ram"
	"github.com/beyondparity/parity/internal/retroarch"
	"github.com/beyondparity/parity/internal/testutil"
)

const (
	testFieldAddr  = 0x1000
	testBattleAddr = 0x1800
)

func newTestClient(t *testing.T, fake *testutil.FakeRetroArch) *Client {
	t.Helper()
	emu, err := retroarch.Dial(fake.Port(), time.Second, 0)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { emu.Close() })
	return &Client{
		cfg: config.Client{
			FieldItemAddr:  testFieldAddr,
			BattleItemAddr: testBattleAddr,
		},
		emu: emu,
		log: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// fieldInventory decodes the field region the fake currently holds.
func fieldInventory(t *testing.T, fake *testutil.FakeRetroArch) ram.Inventory {
	t.Helper()
	slots, err := ram.ParseFieldItems(fake.Peek(testFieldAddr, ram.FieldItemBytes))
	if err != nil {
		t.Fatalf("ParseFieldItems() error = %v", err)
	}
	_, inv := ram.ItemsToInventory(slots)
	return inv
}

func waitForInventory(t *testing.T, fake *testutil.FakeRetroArch, want ram.Inventory) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for {
		if got := fieldInventory(t, fake); got == want {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("field inventory = %v, want %v", fieldInventory(t, fake).NonZero(), want.NonZero())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestCommitInventory(t *testing.T) {
	fake := testutil.NewFakeRetroArch(t, 0x2000)
	c := newTestClient(t, fake)

	var order ram.Order
	var inv ram.Inventory
	for i := range order {
		order[i] = ram.EmptyItem
	}
	order[0], inv[1] = 1, 5
	order[1], inv[2] = 2, 3
	fieldRaw := ram.FieldImage(order, inv)
	fake.Poke(testFieldAddr, fieldRaw)

	v := &view{order: order, inventory: inv, raw: fieldRaw}

	target := inv
	target[1] = 7   // picked up two more
	target[2] = 0   // consumed
	target[9] = 150 // over the cap, must clamp to 99

	if err := c.commitInventory(v, target); err != nil {
		t.Fatalf("commitInventory() error = %v", err)
	}

	want := target.Clamped()
	waitForInventory(t, fake, want)
}

func TestCommitInventoryRace(t *testing.T) {
	fake := testutil.NewFakeRetroArch(t, 0x2000)
	c := newTestClient(t, fake)

	var order ram.Order
	var inv ram.Inventory
	for i := range order {
		order[i] = ram.EmptyItem
	}
	order[0], inv[1] = 1, 5
	fieldRaw := ram.FieldImage(order, inv)
	fake.Poke(testFieldAddr, fieldRaw)

	v := &view{order: order, inventory: inv, raw: fieldRaw}

	// The game moves between the sample and the commit.
	fake.Poke(testFieldAddr+ram.SlotCount, []byte{4})

	target := inv
	target[1] = 9
	err := c.commitInventory(v, target)
	if !errors.Is(err, ErrRaceCondition) {
		t.Fatalf("commitInventory() error = %v, want ErrRaceCondition", err)
	}

	// Nothing may have been written.
	for _, cmd := range fake.Commands() {
		if strings.HasPrefix(cmd, "WRITE_CORE_RAM ") {
			t.Fatalf("write issued after race detection: %s", cmd)
		}
	}
	if got := fake.Peek(testFieldAddr+ram.SlotCount, 1)[0]; got != 4 {
		t.Errorf("field count byte = %d, want 4 untouched", got)
	}
}

func TestCommitInventoryBattle(t *testing.T) {
	fake := testutil.NewFakeRetroArch(t, 0x2000)
	c := newTestClient(t, fake)

	var order ram.Order
	var inv ram.Inventory
	for i := range order {
		order[i] = ram.EmptyItem
	}
	order[0], inv[3] = 3, 12

	battleRaw := make([]byte, ram.BattleItemBytes)
	for i := 0; i < ram.SlotCount; i++ {
		rec := battleRaw[i*ram.BattleRecordBytes:]
		rec[0] = order[i]
		rec[1], rec[2], rec[4] = 0xA1, 0xB2, 0xC3
	}
	battleRaw[3] = 12
	fake.Poke(testBattleAddr, battleRaw)
	fake.Poke(testFieldAddr, ram.FieldImage(order, inv))

	v := &view{inBattle: true, order: order, inventory: inv, raw: battleRaw}

	target := inv
	target[3] = 20

	if err := c.commitInventory(v, target); err != nil {
		t.Fatalf("commitInventory() error = %v", err)
	}
	waitForInventory(t, fake, target)

	deadline := time.Now().Add(time.Second)
	for fake.Peek(testBattleAddr+3, 1)[0] != 20 {
		if time.Now().After(deadline) {
			t.Fatal("battle record amount not updated")
		}
		time.Sleep(5 * time.Millisecond)
	}
	// Opaque battle record bytes survive the splice.
	if got := fake.Peek(testBattleAddr, ram.BattleRecordBytes); !bytes.Equal(got[1:3], []byte{0xA1, 0xB2}) || got[4] != 0xC3 {
		t.Errorf("battle record 0 = % 02X, opaque bytes changed", got)
	}
}
