package client

import (
	"slices"

	"github.com/beyondparity/parity/internal/ram"
	"github.com/beyondparity/parity/internal/wire"
)

// view is the authoritative inventory picture for one tick: the battle
// layout while combat is active, the field layout otherwise.
type view struct {
	inBattle   bool
	similarity float64
	order      ram.Order
	inventory  ram.Inventory
	raw        []byte
}

// deriveView scores field against battle and picks the authoritative side.
func deriveView(s *sample, threshold float64) (*view, error) {
	fieldSlots, err := ram.ParseFieldItems(s.fieldRaw)
	if err != nil {
		return nil, err
	}
	battleSlots, err := ram.ParseBattleItems(s.battleRaw)
	if err != nil {
		return nil, err
	}

	v := &view{similarity: ram.Similarity(fieldSlots, battleSlots)}
	if v.similarity > threshold {
		v.inBattle = true
		v.order, v.inventory = ram.ItemsToInventory(battleSlots)
		v.raw = s.battleRaw
	} else {
		v.order, v.inventory = ram.ItemsToInventory(fieldSlots)
		v.raw = s.fieldRaw
	}
	return v, nil
}

// noteSaveReload poisons the played-time anchor when the inventory looks
// like a reset in progress: the previous tick held a sane number of items
// and the current holds none. Delta emission stays suppressed until the
// next SYNC re-anchors.
func (st *state) noteSaveReload(cur ram.Inventory, minSane int) {
	if st.havePrev && st.prevInventory.Distinct() >= minSane && cur.Distinct() == 0 {
		st.prevPlayedTime = ram.PlayedTimePoison
	}
}

// emitInventoryDeltas appends one change per item whose count moved since
// the previous committed inventory. Emission requires the save to have
// aged past the anchor; a poisoned anchor suppresses everything.
func (st *state) emitInventoryDeltas(cur ram.Inventory, playedTime uint32) {
	if !st.havePrev || playedTime <= st.prevPlayedTime || cur == st.prevInventory {
		return
	}
	for item := 0; item < ram.SlotCount; item++ {
		if cur[item] != st.prevInventory[item] {
			st.msgIndex++
			st.queue = append(st.queue, wire.Change{
				Index: st.msgIndex,
				Item:  item,
				Delta: cur[item] - st.prevInventory[item],
			})
		}
	}
}

// advancePlayedTime moves the anchor forward, or poisons it when the
// counter went backwards (a save was reloaded).
func (st *state) advancePlayedTime(playedTime uint32) {
	if st.prevPlayedTime <= playedTime {
		st.prevPlayedTime = playedTime
	} else {
		st.prevPlayedTime = ram.PlayedTimePoison
	}
}

// diffStatus compares two party status snapshots and returns the bits that
// turned on and off per character. Characters absent on either side are
// skipped.
func diffStatus(prev, cur ram.PartyStatus) (on, off [ram.PartySize]uint32) {
	for i := 0; i < ram.PartySize; i++ {
		if !prev[i].Present || !cur[i].Present {
			continue
		}
		changed := prev[i].Bits ^ cur[i].Bits
		on[i] = cur[i].Bits & changed
		off[i] = ^cur[i].Bits & changed
	}
	return on, off
}

// emitStatusDeltas queues STATUS_ON/STATUS_OFF entries for the changed
// bits. Status entries carry no index; they live for exactly one send.
func (st *state) emitStatusDeltas(on, off [ram.PartySize]uint32) {
	for i := 0; i < ram.PartySize; i++ {
		if on[i] > 0 {
			st.queue = append(st.queue, wire.Change{
				Tag: wire.VerbStatusOn, Item: i, Hex: hexUpper(on[i]),
			})
		}
		if off[i] > 0 {
			st.queue = append(st.queue, wire.Change{
				Tag: wire.VerbStatusOff, Item: i, Hex: hexUpper(off[i]),
			})
		}
	}
}

// mergeSync builds the commit target from a SYNC payload: the server's
// ledger defaulted to zero, with every still-unacknowledged local delta
// replayed on top. Status entries never participate.
func (st *state) mergeSync(items map[int]int) ram.Inventory {
	merged := ram.FromItemMap(items)
	for _, c := range st.queue {
		if c.IsStatus() {
			continue
		}
		if c.Item >= 0 && c.Item < ram.SlotCount {
			merged[c.Item] += c.Delta
		}
	}
	return merged
}

// trimQueue drops the entries the server acknowledged.
func (st *state) trimQueue(acks []int) {
	st.queue = slices.DeleteFunc(st.queue, func(c wire.Change) bool {
		return !c.IsStatus() && slices.Contains(acks, c.Index)
	})
}

// purgeStatusEntries removes status changes after their single
// transmission.
func (st *state) purgeStatusEntries() {
	st.queue = slices.DeleteFunc(st.queue, wire.Change.IsStatus)
}

// applyStatusDirective sets or clears the directive's bits on the target
// character. Reports whether anything changed.
func applyStatusDirective(cur ram.PartyStatus, verb string, char int, bits uint32) (ram.PartyStatus, bool) {
	if char < 0 || char >= ram.PartySize || !cur[char].Present {
		return cur, false
	}
	next := cur
	switch verb {
	case wire.VerbStatusOn:
		next[char].Bits |= bits
	case wire.VerbStatusOff:
		next[char].Bits &^= bits
	}
	return next, next[char].Bits != cur[char].Bits
}

func hexUpper(v uint32) string {
	const digits = "0123456789ABCDEF"
	if v == 0 {
		return "0"
	}
	var buf [8]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = digits[v&0xF]
		v >>= 4
	}
	return string(buf[i:])
}
