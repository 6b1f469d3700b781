package client

import (
	"bytes"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/beyondparity/parity/internal/ram"
	"github.com/beyondparity/parity/internal/wire"
)

// backoffCap bounds the sync backoff at this multiple of SYNC_INTERVAL.
const backoffCap = 10

// tick runs one full cycle: receive, sample, detect combat, reconcile,
// transmit, commit.
func (c *Client) tick(now time.Time) error {
	verb, body := c.receiveDirective()

	s, err := c.readSample()
	if err != nil {
		return err
	}
	if s.playedTime < c.cfg.MinimumPlayedTime {
		c.st.prevPlayedTime = ram.PlayedTimePoison
	}

	if verb != "" {
		c.st.backoff = c.cfg.SyncInterval
	} else {
		c.st.backoff = min(
			time.Duration(float64(c.st.backoff)*1.5),
			backoffCap*c.cfg.SyncInterval,
		)
	}
	if now.Sub(c.st.lastSyncReq) > c.st.backoff {
		c.sendSyncRequest()
		c.st.lastSyncReq = now
	}

	chestsOpened := false
	if c.st.prevChests == nil {
		c.st.prevChests = s.chests
	} else if !bytes.Equal(c.st.prevChests, s.chests) {
		chestsOpened = true
	}

	if !c.st.haveGP {
		c.st.prevGP = s.gp
		c.st.haveGP = true
	} else if s.gp != c.st.prevGP {
		if c.cfg.SyncGP {
			c.log.Info("gp changed", "from", c.st.prevGP, "to", s.gp)
		}
		c.st.prevGP = s.gp
	}

	v, err := deriveView(s, c.cfg.SimilarityThreshold)
	if err != nil {
		return err
	}

	var curStatus ram.PartyStatus
	var statusOn, statusOff [ram.PartySize]uint32
	if v.inBattle {
		curStatus, err = ram.ParseStatus(s.statusLow, s.statusHigh, s.presence)
		if err != nil {
			return err
		}
		statusOn, statusOff = diffStatus(c.st.prevStatus, curStatus)
		c.st.prevStatus = curStatus
	}

	c.st.noteSaveReload(v.inventory, c.cfg.MinSaneInventory)

	// While in combat the battle view is authoritative; copy it into the
	// field region so a battle-end transition cannot lose items. The game
	// engine does not read the field region during combat, so this write
	// needs no pause bracket.
	if v.inBattle && v.similarity < 1.0 {
		if err := c.emu.WriteRAM(c.cfg.FieldItemAddr, ram.FieldImage(v.order, v.inventory)); err != nil {
			return err
		}
	}

	if c.cfg.SyncInventory {
		c.st.emitInventoryDeltas(v.inventory, s.playedTime)
	}
	if v.inBattle && c.cfg.SyncStatus {
		c.st.emitStatusDeltas(statusOn, statusOff)
	}

	c.st.prevInventory = v.inventory
	c.st.havePrev = true
	c.st.advancePlayedTime(s.playedTime)

	var synced *ram.Inventory
	var statusTarget *ram.PartyStatus
	if verb != "" {
		synced, statusTarget = c.applyDirective(verb, body, s, v, curStatus)
	}

	if len(c.st.queue) > 0 {
		c.sendChangeQueue()
		c.st.purgeStatusEntries()
	}

	if c.cfg.SyncChests && chestsOpened {
		if err := c.sendChests(s.chests); err != nil {
			c.log.Warn("unable to reach server", "err", err)
		} else {
			c.st.prevChests = s.chests
		}
	}

	if c.cfg.SyncInventory && synced != nil {
		if err := c.applySyncedInventory(v, s, *synced); err != nil {
			return err
		}
	}

	if statusTarget != nil {
		low, high := ram.StatusImages(*statusTarget, s.statusLow, s.statusHigh)
		if err := c.emu.WriteRAM(c.cfg.Status1Addr, low); err != nil {
			return err
		}
		if err := c.emu.WriteRAM(c.cfg.Status2Addr, high); err != nil {
			return err
		}
		c.st.prevStatus = *statusTarget
	}
	return nil
}

// receiveDirective attempts one receive bounded by the poll interval.
// Undecodable directives are logged and discarded.
func (c *Client) receiveDirective() (verb, body string) {
	msg, err := c.link.Recv(c.cfg.PollInterval)
	if err != nil {
		if !IsTimeout(err) {
			c.log.Warn("server receive failed", "err", err)
		}
		return "", ""
	}
	verb, body = wire.Split(msg)
	if c.cfg.Debug {
		c.log.Debug("received directive", "msg", msg)
	} else {
		c.log.Info("received directive", "verb", verb)
	}
	return verb, body
}

// applyDirective interprets the tick's directive. It returns the merged
// inventory to commit after a SYNC and the status words to write after a
// STATUS directive, either nil when not applicable.
func (c *Client) applyDirective(verb, body string, s *sample, v *view, curStatus ram.PartyStatus) (*ram.Inventory, *ram.PartyStatus) {
	switch verb {
	case wire.VerbSync:
		items, err := wire.DecodeItemMap(body)
		if err != nil {
			c.log.Warn("bad SYNC directive", "err", err)
			return nil, nil
		}
		merged := c.st.mergeSync(items)
		return &merged, nil

	case wire.VerbReport:
		payload, err := wire.EncodeItemMap(v.inventory.NonZero())
		if err != nil {
			c.log.Error("encoding report", "err", err)
			return nil, nil
		}
		if err := c.link.Send(fmt.Sprintf("REPORT %d %s", c.series, payload)); err != nil {
			c.log.Warn("unable to reach server", "err", err)
		}
		return nil, nil

	case wire.VerbLog:
		acks, err := wire.DecodeIntList(body)
		if err != nil {
			c.log.Warn("bad LOG ack", "err", err)
			return nil, nil
		}
		c.st.trimQueue(acks)
		return nil, nil

	case wire.VerbChests:
		if !c.cfg.SyncChests {
			return nil, nil
		}
		incoming, err := wire.DecodeByteList(body, ram.ChestBytes)
		if err != nil {
			c.log.Warn("bad CHESTS directive", "err", err)
			return nil, nil
		}
		merged, err := ram.MergeChests(s.chests, incoming)
		if err != nil {
			c.log.Warn("bad CHESTS directive", "err", err)
			return nil, nil
		}
		if err := c.emu.WriteRAM(c.cfg.ChestAddr, merged); err != nil {
			c.log.Warn("chest write failed", "err", err)
		}
		return nil, nil

	case wire.VerbStatusOn, wire.VerbStatusOff:
		if !v.inBattle || !c.cfg.SyncStatus {
			return nil, nil
		}
		char, bits, err := wire.DecodeStatusParams(body)
		if err != nil {
			c.log.Warn("bad status directive", "err", err)
			return nil, nil
		}
		if next, changed := applyStatusDirective(curStatus, verb, char, bits); changed {
			return nil, &next
		}
		return nil, nil

	case wire.VerbSuccess:
		return nil, nil // stray bootstrap acknowledgement

	default:
		c.log.Warn("unknown directive", "verb", verb)
		return nil, nil
	}
}

// applySyncedInventory commits the merged target, or records it as already
// current. A race abort raises force-resync so the next request carries
// the bang.
func (c *Client) applySyncedInventory(v *view, s *sample, target ram.Inventory) error {
	if maps.Equal(target.NonZero(), v.inventory.NonZero()) {
		c.log.Debug("synced inventory already current")
		c.st.prevInventory = v.inventory
		c.st.havePrev = true
		if c.st.prevPlayedTime > s.playedTime {
			c.st.prevPlayedTime = s.playedTime
		}
		return nil
	}

	if err := c.commitInventory(v, target); err != nil {
		if errors.Is(err, ErrRaceCondition) {
			c.log.Debug("inventory write skipped", "err", err)
			c.st.forceSync = true
			return nil
		}
		return err
	}
	c.st.prevInventory = target.Clamped()
	c.st.havePrev = true
	if c.st.prevPlayedTime > s.playedTime {
		c.st.prevPlayedTime = s.playedTime
	}
	return nil
}

// sendSyncRequest asks for the session ledger. The bang suffix demands an
// immediate reply after a reload, an emulator fault or an aborted write.
func (c *Client) sendSyncRequest() {
	forced := c.st.prevPlayedTime == ram.PlayedTimePoison || c.st.forceSync
	msg := fmt.Sprintf("SYNC %d", c.series)
	if forced {
		msg += " !"
	}
	if err := c.link.Send(msg); err != nil {
		c.log.Warn("unable to reach server", "err", err)
		return
	}
	if forced {
		c.st.forceSync = false
	}
}

// sendChangeQueue retransmits the whole queue, halving the batch until the
// plain message fits one frame. The server's dedup makes retransmission
// idempotent.
func (c *Client) sendChangeQueue() {
	batch := c.st.queue
	for len(batch) > 0 {
		body, err := wire.EncodeChanges(batch)
		if err != nil {
			c.log.Error("encoding change queue", "err", err)
			return
		}
		msg := fmt.Sprintf("LOG %d %s", c.series, body)
		if len(msg) > wire.MaxFrameSize {
			batch = batch[:len(batch)/2]
			continue
		}
		if err := c.link.Send(msg); err != nil {
			c.log.Warn("unable to reach server", "err", err)
		}
		return
	}
}

// sendChests reports the freshly opened chest mask.
func (c *Client) sendChests(mask []byte) error {
	body, err := wire.EncodeByteList(mask)
	if err != nil {
		return err
	}
	return c.link.Send(fmt.Sprintf("CHESTS %d %s", c.series, body))
}
