package retroarch

import (
	"fmt"
	"slices"
	"time"
)

// The game's controller mapping bytes, used as a scratch region for the
// startup round-trip test because writing them is harmless.
var (
	defaultButtonMap = []byte{0x12, 0x34, 0x56, 0x06}
	revisedButtonMap = []byte{0x12, 0x34, 0x56, 0xF6}
)

// selfTestSettle matches the pause settle used by the write leg of the
// test, independent of the configured pause delay.
const selfTestSettle = 50 * time.Millisecond

// FixButtonMapping restores the canonical controller mapping.
func (c *Conn) FixButtonMapping(addr uint32) error {
	return c.WriteRAM(addr, defaultButtonMap)
}

// SelfTest verifies that RAM reads and writes round-trip through the
// command port: read the button map, perturb it under a pause bracket,
// read it back, then restore it.
func (c *Conn) SelfTest(addr uint32) error {
	data, err := c.ReadRAM(addr, len(defaultButtonMap))
	if err != nil {
		return fmt.Errorf("self test read: %w", err)
	}
	if !slices.Equal(data, defaultButtonMap) {
		return fmt.Errorf("self test read: button map is % 02X, want % 02X", data, defaultButtonMap)
	}

	if err := c.Pause(); err != nil {
		return fmt.Errorf("self test pause: %w", err)
	}
	if err := c.WriteRAM(addr, revisedButtonMap); err != nil {
		return fmt.Errorf("self test write: %w", err)
	}
	time.Sleep(selfTestSettle)
	if err := c.Resume(); err != nil {
		return fmt.Errorf("self test resume: %w", err)
	}

	data, err = c.ReadRAM(addr, len(revisedButtonMap))
	if err != nil {
		return fmt.Errorf("self test verify read: %w", err)
	}
	if !slices.Equal(data, revisedButtonMap) {
		return fmt.Errorf("self test write did not take: button map is % 02X", data)
	}

	if err := c.FixButtonMapping(addr); err != nil {
		return fmt.Errorf("self test restore: %w", err)
	}
	return nil
}
