package ram

import (
	"fmt"
	"math"
)

const (
	// PartySize is the number of battle character slots.
	PartySize = 4
	// StatusRegionBytes is the size of each of the two status regions:
	// one 16-bit half-word per character.
	StatusRegionBytes = 8
	// PresenceBytes is the size of the battle character presence region.
	PresenceBytes = 8
	// ChestBytes is the size of the treasure chest bitmask.
	ChestBytes = 64
	// PlayedTimeBytes is the size of the played-time counter.
	PlayedTimeBytes = 4
	// GPBytes is the size of the GP counter.
	GPBytes = 3

	// PlayedTimePoison disables delta emission until the next
	// authoritative SYNC: no real played time can reach it.
	PlayedTimePoison = math.MaxUint32
)

// ParsePlayedTime assembles hours/minutes/seconds/frames into total frames.
// The stored frame counter runs one ahead of the displayed value.
func ParsePlayedTime(raw []byte) (uint32, error) {
	if len(raw) != PlayedTimeBytes {
		return 0, fmt.Errorf("played time is %d bytes, want %d", len(raw), PlayedTimeBytes)
	}
	hours, minutes, seconds := uint32(raw[0]), uint32(raw[1]), uint32(raw[2])
	frames := int(raw[3]) - 1
	if frames < 0 || frames > 59 {
		return 0, fmt.Errorf("frame counter out of range: %d", raw[3])
	}
	return uint32(frames) + seconds*60 + minutes*60*60 + hours*60*60*60, nil
}

// ParsePresence reads the battle character slots: a slot holding FF FF is
// an absent (dead or fled) combatant.
func ParsePresence(raw []byte) ([PartySize]bool, error) {
	var present [PartySize]bool
	if len(raw) != PresenceBytes {
		return present, fmt.Errorf("presence region is %d bytes, want %d", len(raw), PresenceBytes)
	}
	for i := 0; i < PartySize; i++ {
		present[i] = raw[i*2] != 0xFF || raw[i*2+1] != 0xFF
	}
	return present, nil
}

// CharStatus is one character's 32-bit status word. Bits is undefined when
// the character is absent.
type CharStatus struct {
	Present bool
	Bits    uint32
}

// PartyStatus is the status of all four battle slots.
type PartyStatus [PartySize]CharStatus

// ParseStatus combines the two status regions into per-character words:
// the low region carries the little-endian low 16 bits, the high region
// the high 16 bits.
func ParseStatus(low, high []byte, present [PartySize]bool) (PartyStatus, error) {
	var st PartyStatus
	if len(low) != StatusRegionBytes || len(high) != StatusRegionBytes {
		return st, fmt.Errorf("status regions are %d+%d bytes, want %d each",
			len(low), len(high), StatusRegionBytes)
	}
	for i := 0; i < PartySize; i++ {
		if !present[i] {
			continue
		}
		lo := uint32(low[i*2]) | uint32(low[i*2+1])<<8
		hi := uint32(high[i*2]) | uint32(high[i*2+1])<<8
		st[i] = CharStatus{Present: true, Bits: lo | hi<<16}
	}
	return st, nil
}

// StatusImages renders both status regions for a write. Absent characters
// keep their current raw bytes untouched; their status is undefined and
// must not be written.
func StatusImages(st PartyStatus, curLow, curHigh []byte) (low, high []byte) {
	low = make([]byte, StatusRegionBytes)
	high = make([]byte, StatusRegionBytes)
	copy(low, curLow)
	copy(high, curHigh)
	for i, cs := range st {
		if !cs.Present {
			continue
		}
		low[i*2] = byte(cs.Bits)
		low[i*2+1] = byte(cs.Bits >> 8)
		high[i*2] = byte(cs.Bits >> 16)
		high[i*2+1] = byte(cs.Bits >> 24)
	}
	return low, high
}

// MergeChests ORs two chest masks; a chest opened anywhere stays open.
func MergeChests(old, incoming []byte) ([]byte, error) {
	if len(old) != ChestBytes || len(incoming) != ChestBytes {
		return nil, fmt.Errorf("chest masks are %d+%d bytes, want %d each",
			len(old), len(incoming), ChestBytes)
	}
	out := make([]byte, ChestBytes)
	for i := range out {
		out[i] = old[i] | incoming[i]
	}
	return out, nil
}

// ParseGP reads the 24-bit little-endian GP counter.
func ParseGP(raw []byte) (int, error) {
	if len(raw) != GPBytes {
		return 0, fmt.Errorf("gp region is %d bytes, want %d", len(raw), GPBytes)
	}
	return int(raw[0]) | int(raw[1])<<8 | int(raw[2])<<16, nil
}
