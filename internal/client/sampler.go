package client

import (
	"github.com/beyondparity/parity/internal/ram"
)

// sample is one tick's consistent view of the RAM regions. All reads
// complete before any derived computation; a failed read aborts the tick.
type sample struct {
	playedTime uint32
	fieldRaw   []byte
	battleRaw  []byte
	presence   [ram.PartySize]bool
	statusLow  []byte
	statusHigh []byte
	chests     []byte
	gp         int
}

// readSample performs the fixed read sequence: played time, field items,
// battle items, battle character presence, status low, status high, chest
// mask, GP.
func (c *Client) readSample() (*sample, error) {
	var s sample

	raw, err := c.emu.ReadRAM(c.cfg.PlayedTimeAddr, ram.PlayedTimeBytes)
	if err != nil {
		return nil, err
	}
	if s.playedTime, err = ram.ParsePlayedTime(raw); err != nil {
		return nil, err
	}

	if s.fieldRaw, err = c.emu.ReadRAM(c.cfg.FieldItemAddr, ram.FieldItemBytes); err != nil {
		return nil, err
	}
	if s.battleRaw, err = c.emu.ReadRAM(c.cfg.BattleItemAddr, ram.BattleItemBytes); err != nil {
		return nil, err
	}

	raw, err = c.emu.ReadRAM(c.cfg.BattleCharAddr, ram.PresenceBytes)
	if err != nil {
		return nil, err
	}
	if s.presence, err = ram.ParsePresence(raw); err != nil {
		return nil, err
	}

	if s.statusLow, err = c.emu.ReadRAM(c.cfg.Status1Addr, ram.StatusRegionBytes); err != nil {
		return nil, err
	}
	if s.statusHigh, err = c.emu.ReadRAM(c.cfg.Status2Addr, ram.StatusRegionBytes); err != nil {
		return nil, err
	}

	if s.chests, err = c.emu.ReadRAM(c.cfg.ChestAddr, ram.ChestBytes); err != nil {
		return nil, err
	}

	raw, err = c.emu.ReadRAM(c.cfg.GPAddr, ram.GPBytes)
	if err != nil {
		return nil, err
	}
	if s.gp, err = ram.ParseGP(raw); err != nil {
		return nil, err
	}

	return &s, nil
}
