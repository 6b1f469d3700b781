package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/natefinch/atomic"
)

const (
	snapshotPrefix = "parity_backup_"
	snapshotSuffix = ".json"
)

// writeSnapshot serializes (members, ledgers, processed logs) as one JSON
// array, the format older deployments already produce, and replaces the
// file atomically.
func (s *Server) writeSnapshot(now time.Time) error {
	ledgers := make(map[string]map[string]int, len(s.ledgers))
	for session, ledger := range s.ledgers {
		if ledger == nil {
			ledgers[session] = nil
			continue
		}
		enc := make(map[string]int, len(ledger))
		for item, count := range ledger {
			enc[strconv.Itoa(item)] = count
		}
		ledgers[session] = enc
	}

	data, err := json.Marshal([]any{s.members, ledgers, s.processed})
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}

	name := snapshotPrefix + now.Format("20060102-1504") + snapshotSuffix
	path := filepath.Join(s.cfg.SnapshotDir, name)
	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("writing snapshot %s: %w", path, err)
	}
	s.log.Info("snapshot written", "path", path, "sessions", len(s.ledgers))
	return nil
}

// loadSnapshot rehydrates the lexicographically greatest snapshot file, if
// any, and marks every known member pending so each peer gets a fresh SYNC.
func (s *Server) loadSnapshot() error {
	entries, err := os.ReadDir(s.cfg.SnapshotDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("scanning snapshot dir: %w", err)
	}

	var names []string
	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() && len(name) > len(snapshotPrefix)+len(snapshotSuffix) &&
			name[:len(snapshotPrefix)] == snapshotPrefix &&
			name[len(name)-len(snapshotSuffix):] == snapshotSuffix {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return nil
	}
	sort.Strings(names)
	path := filepath.Join(s.cfg.SnapshotDir, names[len(names)-1])

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading snapshot %s: %w", path, err)
	}

	var parts [3]json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return fmt.Errorf("decoding snapshot %s: %w", path, err)
	}
	var ledgers map[string]map[string]int
	if err := json.Unmarshal(parts[0], &s.members); err != nil {
		return fmt.Errorf("decoding snapshot members: %w", err)
	}
	if err := json.Unmarshal(parts[1], &ledgers); err != nil {
		return fmt.Errorf("decoding snapshot ledgers: %w", err)
	}
	if err := json.Unmarshal(parts[2], &s.processed); err != nil {
		return fmt.Errorf("decoding snapshot logs: %w", err)
	}

	for session, ledger := range ledgers {
		if ledger == nil {
			s.ledgers[session] = nil
			continue
		}
		dec := make(map[int]int, len(ledger))
		for key, count := range ledger {
			item, err := strconv.Atoi(key)
			if err != nil {
				return fmt.Errorf("snapshot ledger key %q: %w", key, err)
			}
			dec[item] = count
		}
		s.ledgers[session] = dec
	}

	for member, session := range s.members {
		if s.pending[session] == nil {
			s.pending[session] = make(map[string]bool)
		}
		s.pending[session][member] = true
	}
	s.log.Info("snapshot loaded", "path", path,
		"members", len(s.members), "sessions", len(s.ledgers))
	return nil
}
