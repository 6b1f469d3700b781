// Package config loads the INI configuration both binaries consume. The
// file format (a single Settings section, yes/no toggles, bare-hex RAM
// addresses) is fixed by the config files players already have.
package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/ini.v1"
)

const settingsSection = "Settings"

// ErrInvalid reports a missing or unusable configuration value.
var ErrInvalid = errors.New("invalid configuration")

// Client holds all client-side settings.
type Client struct {
	// Feature toggles
	SyncInventory bool
	SyncChests    bool
	SyncStatus    bool
	SyncGP        bool
	Debug         bool
	TestLatency   bool

	// Timings
	PollInterval      time.Duration
	SyncInterval      time.Duration
	PauseDelay        time.Duration
	MinimumPlayedTime uint32 // frames
	MinSaneInventory  int

	// Tuning
	SimilarityThreshold float64

	// RAM offsets
	FieldItemAddr  uint32
	BattleItemAddr uint32
	PlayedTimeAddr uint32
	BattleCharAddr uint32
	Status1Addr    uint32
	Status2Addr    uint32
	ChestAddr      uint32
	GPAddr         uint32
	ButtonMapAddr  uint32

	// Network
	RetroArchPort   int
	ServerHostname  string
	ServerPort      int
	JoinSessionName string
}

// DefaultClient returns client settings with every tunable at its default.
// RAM offsets and network endpoints have no defaults; they must come from
// the file.
func DefaultClient() Client {
	return Client{
		SyncInventory:       true,
		SyncChests:          true,
		SyncStatus:          true,
		SyncGP:              true,
		PollInterval:        time.Second,
		SyncInterval:        10 * time.Second,
		PauseDelay:          50 * time.Millisecond,
		MinimumPlayedTime:   60,
		MinSaneInventory:    3,
		SimilarityThreshold: 0.95,
	}
}

// LoadClient reads client settings from an INI file. A missing or
// unparsable file is fatal for the client.
func LoadClient(path string) (Client, error) {
	cfg := DefaultClient()

	file, err := ini.Load(path)
	if err != nil {
		return cfg, fmt.Errorf("%w: reading %s: %v", ErrInvalid, path, err)
	}
	sec := file.Section(settingsSection)

	cfg.SyncInventory = toggleOn(sec, "SYNC_INVENTORY")
	cfg.SyncChests = toggleOn(sec, "SYNC_CHESTS")
	cfg.SyncStatus = toggleOn(sec, "SYNC_STATUS")
	cfg.SyncGP = toggleOn(sec, "SYNC_GP")
	cfg.Debug = toggleYes(sec, "DEBUG")
	cfg.TestLatency = toggleYes(sec, "TEST_LATENCY")

	if err := overlaySeconds(sec, "POLL_INTERVAL", &cfg.PollInterval); err != nil {
		return cfg, err
	}
	if err := overlaySeconds(sec, "SYNC_INTERVAL", &cfg.SyncInterval); err != nil {
		return cfg, err
	}
	if err := overlaySeconds(sec, "PAUSE_DELAY_INTERVAL", &cfg.PauseDelay); err != nil {
		return cfg, err
	}
	if sec.HasKey("MINIMUM_PLAYED_TIME") {
		v, err := sec.Key("MINIMUM_PLAYED_TIME").Uint()
		if err != nil {
			return cfg, fmt.Errorf("%w: MINIMUM_PLAYED_TIME: %v", ErrInvalid, err)
		}
		cfg.MinimumPlayedTime = uint32(v)
	}
	if sec.HasKey("MIN_SANE_INVENTORY") {
		v, err := sec.Key("MIN_SANE_INVENTORY").Int()
		if err != nil {
			return cfg, fmt.Errorf("%w: MIN_SANE_INVENTORY: %v", ErrInvalid, err)
		}
		cfg.MinSaneInventory = v
	}
	if sec.HasKey("SIMILARITY_THRESHOLD") {
		v, err := sec.Key("SIMILARITY_THRESHOLD").Float64()
		if err != nil {
			return cfg, fmt.Errorf("%w: SIMILARITY_THRESHOLD: %v", ErrInvalid, err)
		}
		cfg.SimilarityThreshold = v
	}

	addrs := []struct {
		key string
		dst *uint32
	}{
		{"FIELD_ITEM_ADDRESS", &cfg.FieldItemAddr},
		{"BATTLE_ITEM_ADDRESS", &cfg.BattleItemAddr},
		{"PLAYED_TIME_ADDRESS", &cfg.PlayedTimeAddr},
		{"BATTLE_CHAR_ADDRESS", &cfg.BattleCharAddr},
		{"STATUS_1_ADDRESS", &cfg.Status1Addr},
		{"STATUS_2_ADDRESS", &cfg.Status2Addr},
		{"CHEST_ADDRESS", &cfg.ChestAddr},
		{"GP_ADDRESS", &cfg.GPAddr},
		{"BUTTON_MAP_ADDRESS", &cfg.ButtonMapAddr},
	}
	for _, a := range addrs {
		v, err := hexAddr(sec, a.key)
		if err != nil {
			return cfg, err
		}
		*a.dst = v
	}

	if !sec.HasKey("RETROARCH_PORT") {
		return cfg, fmt.Errorf("%w: RETROARCH_PORT is required", ErrInvalid)
	}
	cfg.RetroArchPort, err = sec.Key("RETROARCH_PORT").Int()
	if err != nil {
		return cfg, fmt.Errorf("%w: RETROARCH_PORT: %v", ErrInvalid, err)
	}
	cfg.ServerHostname = strings.TrimSpace(sec.Key("SERVER_HOSTNAME").String())
	if sec.HasKey("SERVER_PORT") {
		cfg.ServerPort, err = sec.Key("SERVER_PORT").Int()
		if err != nil {
			return cfg, fmt.Errorf("%w: SERVER_PORT: %v", ErrInvalid, err)
		}
	}
	cfg.JoinSessionName = strings.TrimSpace(sec.Key("JOIN_SESSION_NAME").String())

	return cfg, cfg.Validate()
}

// Validate checks ranges that would otherwise surface as confusing runtime
// behavior.
func (c Client) Validate() error {
	if c.PollInterval <= 0 {
		return fmt.Errorf("%w: POLL_INTERVAL must be positive", ErrInvalid)
	}
	if c.SyncInterval <= 0 {
		return fmt.Errorf("%w: SYNC_INTERVAL must be positive", ErrInvalid)
	}
	if c.PauseDelay < 0 {
		return fmt.Errorf("%w: PAUSE_DELAY_INTERVAL must not be negative", ErrInvalid)
	}
	if c.SimilarityThreshold < 0 || c.SimilarityThreshold > 1 {
		return fmt.Errorf("%w: SIMILARITY_THRESHOLD must be in [0,1]", ErrInvalid)
	}
	if c.ServerHostname == "" {
		return fmt.Errorf("%w: SERVER_HOSTNAME is required", ErrInvalid)
	}
	if c.ServerPort <= 0 || c.ServerPort > 0xFFFF {
		return fmt.Errorf("%w: SERVER_PORT out of range", ErrInvalid)
	}
	if c.RetroArchPort <= 0 || c.RetroArchPort > 0xFFFF {
		return fmt.Errorf("%w: RETROARCH_PORT out of range", ErrInvalid)
	}
	return nil
}

// toggleOn implements the "anything but no means yes" toggles.
func toggleOn(sec *ini.Section, key string) bool {
	return strings.ToLower(sec.Key(key).String()) != "no"
}

// toggleYes implements the opt-in toggles that default to off.
func toggleYes(sec *ini.Section, key string) bool {
	return strings.ToLower(sec.Key(key).String()) == "yes"
}

// overlaySeconds replaces *dst when the key is present, interpreting the
// value as fractional seconds.
func overlaySeconds(sec *ini.Section, key string, dst *time.Duration) error {
	if !sec.HasKey(key) {
		return nil
	}
	v, err := sec.Key(key).Float64()
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalid, key, err)
	}
	*dst = time.Duration(v * float64(time.Second))
	return nil
}

// hexAddr parses a required bare-hex RAM offset (an optional 0x prefix is
// tolerated).
func hexAddr(sec *ini.Section, key string) (uint32, error) {
	if !sec.HasKey(key) {
		return 0, fmt.Errorf("%w: %s is required", ErrInvalid, key)
	}
	raw := strings.TrimPrefix(strings.ToLower(sec.Key(key).String()), "0x")
	v, err := strconv.ParseUint(raw, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrInvalid, key, err)
	}
	return uint32(v), nil
}
