// Package client implements the player-side loop: sample emulator RAM,
// reconcile against the session server's ledger, and commit merged state
// back into live RAM under a brief pause.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/beyondparity/parity/internal/config"
	"github.com/beyondparity/parity/internal/ram"
	"github.com/beyondparity/parity/internal/retroarch"
	"github.com/beyondparity/parity/internal/wire"
)

// state is everything carried between ticks. One value, threaded through
// the loop; nothing here is shared.
type state struct {
	prevInventory  ram.Inventory
	havePrev       bool
	prevPlayedTime uint32
	prevStatus     ram.PartyStatus
	prevChests     []byte
	prevGP         int
	haveGP         bool

	queue    []wire.Change
	msgIndex int

	backoff     time.Duration
	lastSyncReq time.Time
	forceSync   bool
}

// Client drives one player's sync loop.
type Client struct {
	cfg    config.Client
	emu    *retroarch.Conn
	link   *Link
	log    *slog.Logger
	series int64
	st     state
}

// New dials the emulator command port and the session server. The series
// number is the startup wall-clock second, making this process a distinct
// member even when reconnecting from the same address.
func New(cfg config.Client, log *slog.Logger) (*Client, error) {
	emu, err := retroarch.Dial(cfg.RetroArchPort, cfg.PollInterval, cfg.PauseDelay)
	if err != nil {
		return nil, err
	}
	link, err := DialLink(cfg.ServerHostname, cfg.ServerPort, log, cfg.TestLatency)
	if err != nil {
		emu.Close()
		return nil, err
	}
	return &Client{
		cfg:    cfg,
		emu:    emu,
		link:   link,
		log:    log,
		series: time.Now().Unix(),
		st: state{
			prevPlayedTime: ram.PlayedTimePoison,
			backoff:        cfg.SyncInterval,
		},
	}, nil
}

// Close releases both sockets.
func (c *Client) Close() error {
	err := c.emu.Close()
	if lerr := c.link.Close(); err == nil {
		err = lerr
	}
	return err
}

// Series returns this process's series number.
func (c *Client) Series() int64 {
	return c.series
}

// Start runs the emulator round-trip self test and registers with the
// session server. A failing self test is diagnostic, not fatal; the
// emulator may simply not have a core loaded yet.
func (c *Client) Start(session string, create bool) error {
	if err := c.emu.SelfTest(c.cfg.ButtonMapAddr); err != nil {
		c.log.Error("retroarch self test failed", "err", err)
	} else {
		c.log.Info("retroarch self test passed")
	}
	if err := c.emu.FixButtonMapping(c.cfg.ButtonMapAddr); err != nil {
		return fmt.Errorf("restoring button mapping: %w", err)
	}

	c.log.Info("feature toggles",
		"inventory", c.cfg.SyncInventory,
		"chests", c.cfg.SyncChests,
		"status", c.cfg.SyncStatus,
		"gp", c.cfg.SyncGP)

	if err := c.link.Bootstrap(session, c.series, create); err != nil {
		return err
	}
	if create {
		c.log.Info("session created", "session", session, "series", c.series)
	} else {
		c.log.Info("session joined", "session", session, "series", c.series)
	}
	return nil
}

// Run executes the tick loop until the context is cancelled. Every error
// inside a tick is caught here; emulator and commit failures force a full
// resync on the next request.
func (c *Client) Run(ctx context.Context) error {
	var lastTick time.Time
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		if wait := c.cfg.PollInterval - time.Since(lastTick); wait > 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(wait):
			}
		}
		lastTick = time.Now()

		if err := c.tick(lastTick); err != nil {
			if errors.Is(err, retroarch.ErrUnresponsive) || errors.Is(err, retroarch.ErrReadMalformed) {
				c.log.Warn("emulator read failed", "err", err)
			} else {
				c.log.Error("tick failed", "err", err)
			}
			c.st.forceSync = true
		}
	}
}
