package client

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/beyondparity/parity/internal/ram"
)

// ErrRaceCondition reports that the inventory region changed between the
// sample and the guarded write, so nothing was written.
var ErrRaceCondition = errors.New("ram changed under the writer")

// commitInventory writes the merged target inventory into live RAM behind
// the two-read race guard and the pause bracket.
func (c *Client) commitInventory(v *view, target ram.Inventory) error {
	target = target.Clamped()
	order, err := ram.RebuildOrder(v.order, target)
	if err != nil {
		return err
	}

	// Pausing is advisory; verify the region is still what the target was
	// computed from before touching anything.
	fresh, err := c.readInventoryRegion(v.inBattle)
	if err != nil {
		return err
	}
	if !bytes.Equal(fresh, v.raw) {
		return fmt.Errorf("%w (before pause)", ErrRaceCondition)
	}

	if err := c.emu.Pause(); err != nil {
		return err
	}
	time.Sleep(c.emu.PauseDelay())

	fresh, err = c.readInventoryRegion(v.inBattle)
	if err != nil || !bytes.Equal(fresh, v.raw) {
		c.emu.Resume()
		if err != nil {
			return err
		}
		return fmt.Errorf("%w (under pause)", ErrRaceCondition)
	}

	if v.inBattle {
		battleImage, err := ram.SpliceBattle(fresh, order, target)
		if err != nil {
			c.emu.Resume()
			return err
		}
		if err := c.emu.WriteRAM(c.cfg.BattleItemAddr, battleImage); err != nil {
			c.emu.Resume()
			return err
		}
		c.log.Debug("wrote battle inventory")
	}
	if err := c.emu.WriteRAM(c.cfg.FieldItemAddr, ram.FieldImage(order, target)); err != nil {
		c.emu.Resume()
		return err
	}
	c.log.Debug("wrote field inventory")

	var verifyErr error
	if c.cfg.Debug {
		verifyErr = c.verifyFieldWrite(target)
	}
	if err := c.emu.Resume(); err != nil {
		return err
	}
	return verifyErr
}

// verifyFieldWrite re-reads the field region and compares the decoded
// inventory against the intended target. Debug builds only.
func (c *Client) verifyFieldWrite(target ram.Inventory) error {
	raw, err := c.emu.ReadRAM(c.cfg.FieldItemAddr, ram.FieldItemBytes)
	if err != nil {
		return fmt.Errorf("verify read: %w", err)
	}
	slots, err := ram.ParseFieldItems(raw)
	if err != nil {
		return fmt.Errorf("verify parse: %w", err)
	}
	_, got := ram.ItemsToInventory(slots)
	if got == target {
		c.log.Debug("inventory write verified")
		return nil
	}
	for item := 0; item < ram.SlotCount; item++ {
		if got[item] != target[item] {
			c.log.Debug("inventory write mismatch",
				"item", item, "want", target[item], "got", got[item])
		}
	}
	return fmt.Errorf("inventory write did not take")
}

// readInventoryRegion re-reads whichever region the tick's view came from.
func (c *Client) readInventoryRegion(inBattle bool) ([]byte, error) {
	if inBattle {
		return c.emu.ReadRAM(c.cfg.BattleItemAddr, ram.BattleItemBytes)
	}
	return c.emu.ReadRAM(c.cfg.FieldItemAddr, ram.FieldItemBytes)
}
