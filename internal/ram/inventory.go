// Package ram decodes and encodes the game's RAM regions: the two parallel
// inventory layouts, the played-time counter, character status words, the
// treasure chest bitmask and the GP counter. Everything here is pure byte
// and array math; reading and writing the bytes is the emulator channel's
// job.
package ram

import (
	"fmt"
)

const (
	// SlotCount is the number of inventory slots.
	SlotCount = 256
	// EmptyItem is the sentinel item ID filling unused order slots.
	EmptyItem = 0xFF
	// MaxCount is the largest count the game can display for one item.
	MaxCount = 99

	// FieldItemBytes is the size of the field inventory region: 256 item
	// IDs followed by 256 counts.
	FieldItemBytes = 512
	// BattleRecordBytes is the stride of one battle inventory record.
	// Byte 0 holds the ID, byte 3 the count; bytes 1, 2 and 4 are opaque.
	BattleRecordBytes = 5
	// BattleItemBytes is the size of the battle inventory region.
	BattleItemBytes = SlotCount * BattleRecordBytes
)

// Slot is one inventory slot as it appears in RAM.
type Slot struct {
	Item   byte
	Amount byte
}

// Order is the slot-position permutation of item IDs. Every non-empty item
// appears at most once; EmptyItem fills unused slots.
type Order [SlotCount]byte

// Inventory is the dense item ID → count mapping. Index EmptyItem is
// always zero. Counts may exceed MaxCount or go negative transiently while
// merging; they are clamped before any write to RAM.
type Inventory [SlotCount]int

// ParseFieldItems splits the raw field region into slots.
func ParseFieldItems(raw []byte) ([]Slot, error) {
	if len(raw) != FieldItemBytes {
		return nil, fmt.Errorf("field region is %d bytes, want %d", len(raw), FieldItemBytes)
	}
	slots := make([]Slot, SlotCount)
	for i := range slots {
		slots[i] = Slot{Item: raw[i], Amount: raw[SlotCount+i]}
	}
	return slots, nil
}

// ParseBattleItems extracts slots from the raw battle region.
func ParseBattleItems(raw []byte) ([]Slot, error) {
	if len(raw) != BattleItemBytes {
		return nil, fmt.Errorf("battle region is %d bytes, want %d", len(raw), BattleItemBytes)
	}
	slots := make([]Slot, SlotCount)
	for i := range slots {
		rec := raw[i*BattleRecordBytes:]
		slots[i] = Slot{Item: rec[0], Amount: rec[3]}
	}
	return slots, nil
}

// ItemsToInventory reduces a slot list to an order array and a dense
// inventory. A duplicated item ID keeps its first slot; later occurrences
// become empty slots. Duplicate counts merge by maximum.
func ItemsToInventory(slots []Slot) (Order, Inventory) {
	var order Order
	var inv Inventory
	var seen [SlotCount]bool

	for i, s := range slots {
		if seen[s.Item] {
			order[i] = EmptyItem
		} else {
			order[i] = s.Item
			seen[s.Item] = true
		}

		if s.Item == EmptyItem {
			continue
		}
		if int(s.Amount) > inv[s.Item] {
			inv[s.Item] = int(s.Amount)
		}
	}
	return order, inv
}

// Similarity scores how closely two slot lists agree: one point per slot
// for a matching ID, one more for a matching amount when the IDs match,
// over a denominator of two points per slot.
func Similarity(a, b []Slot) float64 {
	numer := 0
	for i := range a {
		if a[i].Item == b[i].Item {
			numer++
			if a[i].Amount == b[i].Amount {
				numer++
			}
		}
	}
	return float64(numer) / float64(2*SlotCount)
}

// Distinct counts the items held in displayable quantities. Used as the
// sanity measure against syncing a mid-reset empty inventory.
func (inv Inventory) Distinct() int {
	n := 0
	for item, amount := range inv {
		if item == EmptyItem {
			continue
		}
		if amount >= 1 && amount <= MaxCount {
			n++
		}
	}
	return n
}

// NonZero returns the positive entries as a map, the shape the wire
// payloads use.
func (inv Inventory) NonZero() map[int]int {
	out := make(map[int]int)
	for item, amount := range inv {
		if amount > 0 && item != EmptyItem {
			out[item] = amount
		}
	}
	return out
}

// FromItemMap builds a dense inventory from a wire payload, defaulting
// absent items to zero.
func FromItemMap(items map[int]int) Inventory {
	var inv Inventory
	for item, amount := range items {
		if item >= 0 && item < SlotCount {
			inv[item] = amount
		}
	}
	inv[EmptyItem] = 0
	return inv
}

// Clamped bounds every count to [0, MaxCount] and zeroes the sentinel.
func (inv Inventory) Clamped() Inventory {
	for item, amount := range inv {
		if amount < 0 {
			inv[item] = 0
		} else if amount > MaxCount {
			inv[item] = MaxCount
		}
	}
	inv[EmptyItem] = 0
	return inv
}

// RebuildOrder updates an order array for a new target inventory: slots
// whose item dropped to zero are emptied, then items absent from the order
// are placed into the first empty slots. The result holds the order
// invariant: each non-empty item exactly once.
func RebuildOrder(order Order, inv Inventory) (Order, error) {
	var present [SlotCount]bool
	for _, item := range order {
		present[item] = true
	}

	for i, item := range order {
		if item != EmptyItem && inv[item] <= 0 {
			order[i] = EmptyItem
			present[item] = false
		}
	}

	next := 0
	for item := 0; item < EmptyItem; item++ {
		if inv[item] <= 0 || present[item] {
			continue
		}
		for next < SlotCount && order[next] != EmptyItem {
			next++
		}
		if next == SlotCount {
			return order, fmt.Errorf("no free slot for item %d", item)
		}
		order[next] = byte(item)
		present[item] = true
	}

	var seen [SlotCount]bool
	for _, item := range order {
		if item == EmptyItem {
			continue
		}
		if seen[item] {
			return order, fmt.Errorf("item %d appears twice in order", item)
		}
		seen[item] = true
	}
	return order, nil
}

// FieldImage renders the 512-byte field region: the order array followed
// by the per-slot amounts.
func FieldImage(order Order, inv Inventory) []byte {
	out := make([]byte, FieldItemBytes)
	copy(out, order[:])
	for i, item := range order {
		if item == EmptyItem {
			continue
		}
		out[SlotCount+i] = byte(inv[item])
	}
	return out
}

// SpliceBattle writes the order IDs and amounts into a copy of the raw
// battle region, preserving the opaque bytes of each record.
func SpliceBattle(raw []byte, order Order, inv Inventory) ([]byte, error) {
	if len(raw) != BattleItemBytes {
		return nil, fmt.Errorf("battle region is %d bytes, want %d", len(raw), BattleItemBytes)
	}
	out := make([]byte, BattleItemBytes)
	copy(out, raw)
	for i, item := range order {
		out[i*BattleRecordBytes] = item
		if item == EmptyItem {
			out[i*BattleRecordBytes+3] = 0
		} else {
			out[i*BattleRecordBytes+3] = byte(inv[item])
		}
	}
	return out, nil
}
