package ram

import (
	"testing"
)

// slotsWith builds a slot list holding the given items in the first
// positions and empty slots elsewhere.
func slotsWith(items map[int]byte) []Slot {
	slots := make([]Slot, SlotCount)
	for i := range slots {
		slots[i] = Slot{Item: EmptyItem}
	}
	pos := 0
	for item := 0; item < SlotCount; item++ {
		if count, ok := items[item]; ok {
			slots[pos] = Slot{Item: byte(item), Amount: count}
			pos++
		}
	}
	return slots
}

func TestItemsToInventory(t *testing.T) {
	slots := slotsWith(map[int]byte{1: 5, 2: 3, 40: 99})
	order, inv := ItemsToInventory(slots)

	if order[0] != 1 || order[1] != 2 || order[2] != 40 {
		t.Errorf("order head = %v", order[:3])
	}
	if inv[1] != 5 || inv[2] != 3 || inv[40] != 99 {
		t.Errorf("inventory = {1:%d, 2:%d, 40:%d}", inv[1], inv[2], inv[40])
	}
	if inv[EmptyItem] != 0 {
		t.Errorf("inventory[0xFF] = %d, want 0", inv[EmptyItem])
	}
	if got := inv.Distinct(); got != 3 {
		t.Errorf("Distinct() = %d, want 3", got)
	}
}

func TestItemsToInventoryDuplicates(t *testing.T) {
	slots := slotsWith(nil)
	slots[0] = Slot{Item: 7, Amount: 2}
	slots[1] = Slot{Item: 7, Amount: 9}

	order, inv := ItemsToInventory(slots)

	if order[0] != 7 {
		t.Errorf("order[0] = %d, want 7", order[0])
	}
	if order[1] != EmptyItem {
		t.Errorf("order[1] = %d, want empty: duplicates keep the first slot", order[1])
	}
	if inv[7] != 9 {
		t.Errorf("inv[7] = %d, want the max of the duplicate counts", inv[7])
	}

	count := 0
	for _, item := range order {
		if item == 7 {
			count++
		}
	}
	if count != 1 {
		t.Errorf("item 7 appears %d times in order, want 1", count)
	}
}

func TestSimilarity(t *testing.T) {
	field := slotsWith(map[int]byte{1: 5})
	battle := slotsWith(map[int]byte{1: 7})

	// Every slot matches on ID; only slot 0 differs in amount.
	got := Similarity(field, battle)
	want := 511.0 / 512.0
	if got != want {
		t.Errorf("Similarity() = %v, want %v", got, want)
	}

	if got := Similarity(field, field); got != 1.0 {
		t.Errorf("Similarity(identical) = %v, want 1.0", got)
	}

	other := slotsWith(map[int]byte{9: 1, 10: 1, 11: 1})
	if got := Similarity(field, other); got > 0.995 {
		t.Errorf("Similarity(different) = %v, expected below battle threshold", got)
	}
}

func TestRebuildOrder(t *testing.T) {
	order, inv := ItemsToInventory(slotsWith(map[int]byte{1: 5, 2: 3}))

	// Item 2 drops to zero, item 9 appears.
	inv[2] = 0
	inv[9] = 4

	rebuilt, err := RebuildOrder(order, inv)
	if err != nil {
		t.Fatalf("RebuildOrder() error = %v", err)
	}
	if rebuilt[0] != 1 {
		t.Errorf("rebuilt[0] = %d, want 1 kept in place", rebuilt[0])
	}
	if rebuilt[1] != 9 {
		t.Errorf("rebuilt[1] = %d, want 9 in the freed slot", rebuilt[1])
	}

	var seen [SlotCount]bool
	for i, item := range rebuilt {
		if item == EmptyItem {
			if inv[rebuilt[i]] != 0 {
				t.Errorf("slot %d empty but has count", i)
			}
			continue
		}
		if seen[item] {
			t.Fatalf("item %d duplicated in rebuilt order", item)
		}
		seen[item] = true
		if inv[item] <= 0 {
			t.Errorf("slot %d holds item %d with count %d", i, item, inv[item])
		}
	}
}

func TestRebuildOrderFull(t *testing.T) {
	var order Order
	var inv Inventory
	for i := 0; i < SlotCount; i++ {
		order[i] = byte(i)
	}
	for i := 0; i < SlotCount-1; i++ {
		inv[i] = 1
	}
	order[255] = 254 // corrupt order: 254 now appears twice
	if _, err := RebuildOrder(order, inv); err == nil {
		t.Error("RebuildOrder() with duplicated item expected error")
	}
}

func TestFieldImageRoundTrip(t *testing.T) {
	order, inv := ItemsToInventory(slotsWith(map[int]byte{1: 5, 2: 3, 200: 77}))

	image := FieldImage(order, inv)
	if len(image) != FieldItemBytes {
		t.Fatalf("FieldImage length = %d", len(image))
	}

	slots, err := ParseFieldItems(image)
	if err != nil {
		t.Fatalf("ParseFieldItems() error = %v", err)
	}
	backOrder, backInv := ItemsToInventory(slots)
	if backOrder != order {
		t.Error("order did not round trip")
	}
	if backInv != inv {
		t.Error("inventory did not round trip")
	}
}

func TestSpliceBattlePreservesOpaqueBytes(t *testing.T) {
	raw := make([]byte, BattleItemBytes)
	for i := range raw {
		raw[i] = byte(i % 251)
	}

	order, inv := ItemsToInventory(slotsWith(map[int]byte{3: 12}))
	out, err := SpliceBattle(raw, order, inv)
	if err != nil {
		t.Fatalf("SpliceBattle() error = %v", err)
	}

	for i := 0; i < SlotCount; i++ {
		rec := out[i*BattleRecordBytes:]
		if rec[0] != order[i] {
			t.Fatalf("record %d id = %d, want %d", i, rec[0], order[i])
		}
		for _, off := range []int{1, 2, 4} {
			if rec[off] != raw[i*BattleRecordBytes+off] {
				t.Fatalf("record %d opaque byte %d changed", i, off)
			}
		}
	}
	if out[0*BattleRecordBytes+3] != 12 {
		t.Errorf("record 0 amount = %d, want 12", out[3])
	}
}

func TestClamped(t *testing.T) {
	var inv Inventory
	inv[1] = 150
	inv[2] = -4
	inv[3] = 99
	inv[EmptyItem] = 42

	got := inv.Clamped()
	if got[1] != MaxCount {
		t.Errorf("clamped[1] = %d, want %d", got[1], MaxCount)
	}
	if got[2] != 0 {
		t.Errorf("clamped[2] = %d, want 0", got[2])
	}
	if got[3] != 99 {
		t.Errorf("clamped[3] = %d, want 99", got[3])
	}
	if got[EmptyItem] != 0 {
		t.Errorf("clamped sentinel = %d, want 0", got[EmptyItem])
	}
}

func TestNonZeroAndFromItemMap(t *testing.T) {
	var inv Inventory
	inv[5] = 2
	inv[6] = 0
	inv[7] = 1

	nz := inv.NonZero()
	if len(nz) != 2 || nz[5] != 2 || nz[7] != 1 {
		t.Errorf("NonZero() = %v", nz)
	}

	back := FromItemMap(nz)
	if back != inv {
		t.Error("FromItemMap(NonZero()) did not round trip")
	}
}
