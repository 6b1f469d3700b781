// Package wire implements the ASCII datagram protocol spoken between the
// parity client and server: '!'-prefixed gzip framing, space-delimited
// directives, and JSON payloads whose integer-valued string keys are
// reparsed to integers at the boundary.
package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Directive verbs.
const (
	VerbNew       = "NEW"
	VerbJoin      = "JOIN"
	VerbReport    = "REPORT"
	VerbLog       = "LOG"
	VerbSync      = "SYNC"
	VerbChests    = "CHESTS"
	VerbStatusOn  = "STATUS_ON"
	VerbStatusOff = "STATUS_OFF"
	VerbError     = "ERROR"
	VerbSuccess   = "Success"
)

// ErrBadDirective reports a message that cannot be decoded.
var ErrBadDirective = errors.New("bad directive")

// Split separates a message into its verb and the remainder. The remainder
// is empty for single-token messages.
func Split(msg string) (verb, rest string) {
	verb, rest, _ = strings.Cut(msg, " ")
	return verb, strings.TrimSpace(rest)
}

// Change is one change-log entry. Inventory entries carry a client-monotone
// Index, an item ID and a signed count delta; status entries carry a
// STATUS_ON/STATUS_OFF Tag, a character index and the changed bits as
// uppercase hex.
type Change struct {
	Index int
	Item  int
	Delta int

	Tag string
	Hex string
}

// IsStatus reports whether the entry is a status change rather than an
// inventory change.
func (c Change) IsStatus() bool {
	return c.Tag != ""
}

// MarshalJSON encodes the entry as the wire triple: [index, item, delta]
// for inventory, [tag, character, hex] for status.
func (c Change) MarshalJSON() ([]byte, error) {
	if c.IsStatus() {
		return json.Marshal([3]any{c.Tag, c.Item, c.Hex})
	}
	return json.Marshal([3]any{c.Index, c.Item, c.Delta})
}

// UnmarshalJSON decodes either triple form.
func (c *Change) UnmarshalJSON(data []byte) error {
	var raw []any
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: %v", ErrBadDirective, err)
	}
	if len(raw) != 3 {
		return fmt.Errorf("%w: change entry has %d elements", ErrBadDirective, len(raw))
	}

	switch first := raw[0].(type) {
	case float64:
		item, ok1 := raw[1].(float64)
		delta, ok2 := raw[2].(float64)
		if !ok1 || !ok2 {
			return fmt.Errorf("%w: non-numeric inventory change", ErrBadDirective)
		}
		*c = Change{Index: int(first), Item: int(item), Delta: int(delta)}
	case string:
		if first != VerbStatusOn && first != VerbStatusOff {
			return fmt.Errorf("%w: unknown change tag %q", ErrBadDirective, first)
		}
		char, ok1 := raw[1].(float64)
		hex, ok2 := raw[2].(string)
		if !ok1 || !ok2 {
			return fmt.Errorf("%w: malformed status change", ErrBadDirective)
		}
		*c = Change{Tag: first, Item: int(char), Hex: hex}
	default:
		return fmt.Errorf("%w: change index is %T", ErrBadDirective, raw[0])
	}
	return nil
}

// DecodeChanges parses a LOG payload.
func DecodeChanges(body string) ([]Change, error) {
	var changes []Change
	if err := json.Unmarshal([]byte(body), &changes); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadDirective, err)
	}
	return changes, nil
}

// EncodeChanges renders a change queue as a LOG payload.
func EncodeChanges(changes []Change) (string, error) {
	data, err := json.Marshal(changes)
	if err != nil {
		return "", fmt.Errorf("encoding change queue: %w", err)
	}
	return string(data), nil
}

// DecodeItemMap parses a JSON object payload (SYNC, REPORT) into an
// integer-keyed map.
func DecodeItemMap(body string) (map[int]int, error) {
	var raw map[string]int
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadDirective, err)
	}
	items := make(map[int]int, len(raw))
	for k, v := range raw {
		id, err := strconv.Atoi(k)
		if err != nil {
			return nil, fmt.Errorf("%w: non-integer item key %q", ErrBadDirective, k)
		}
		items[id] = v
	}
	return items, nil
}

// EncodeItemMap renders an integer-keyed map as a JSON object with string
// keys, exactly the entries given.
func EncodeItemMap(items map[int]int) (string, error) {
	raw := make(map[string]int, len(items))
	for k, v := range items {
		raw[strconv.Itoa(k)] = v
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return "", fmt.Errorf("encoding item map: %w", err)
	}
	return string(data), nil
}

// DecodeIntList parses a JSON array of integers (LOG acks).
func DecodeIntList(body string) ([]int, error) {
	var list []int
	if err := json.Unmarshal([]byte(body), &list); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadDirective, err)
	}
	return list, nil
}

// EncodeIntList renders a JSON array of integers.
func EncodeIntList(list []int) (string, error) {
	data, err := json.Marshal(list)
	if err != nil {
		return "", fmt.Errorf("encoding int list: %w", err)
	}
	return string(data), nil
}

// DecodeByteList parses a JSON array of byte values (CHESTS payloads),
// enforcing the expected length.
func DecodeByteList(body string, want int) ([]byte, error) {
	var list []int
	if err := json.Unmarshal([]byte(body), &list); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadDirective, err)
	}
	if len(list) != want {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrBadDirective, want, len(list))
	}
	out := make([]byte, len(list))
	for i, v := range list {
		if v < 0 || v > 0xFF {
			return nil, fmt.Errorf("%w: byte value %d out of range", ErrBadDirective, v)
		}
		out[i] = byte(v)
	}
	return out, nil
}

// EncodeByteList renders bytes as a JSON array of integers.
func EncodeByteList(data []byte) (string, error) {
	list := make([]int, len(data))
	for i, b := range data {
		list[i] = int(b)
	}
	out, err := json.Marshal(list)
	if err != nil {
		return "", fmt.Errorf("encoding byte list: %w", err)
	}
	return string(out), nil
}

// DecodeStatusParams parses a STATUS_ON/STATUS_OFF payload: a JSON pair of
// character index and hex bit string.
func DecodeStatusParams(body string) (char int, bits uint32, err error) {
	var raw []any
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrBadDirective, err)
	}
	if len(raw) != 2 {
		return 0, 0, fmt.Errorf("%w: status params have %d elements", ErrBadDirective, len(raw))
	}
	charF, ok := raw[0].(float64)
	if !ok {
		return 0, 0, fmt.Errorf("%w: non-numeric character index", ErrBadDirective)
	}
	hex, ok := raw[1].(string)
	if !ok {
		return 0, 0, fmt.Errorf("%w: non-string status bits", ErrBadDirective)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: bad status hex %q", ErrBadDirective, hex)
	}
	return int(charF), uint32(v), nil
}

// EncodeStatusParams renders the pair form used by STATUS directives.
func EncodeStatusParams(char int, bits uint32) (string, error) {
	data, err := json.Marshal([2]any{char, fmt.Sprintf("%X", bits)})
	if err != nil {
		return "", fmt.Errorf("encoding status params: %w", err)
	}
	return string(data), nil
}
