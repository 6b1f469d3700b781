// Package server implements the session coordinator: a single-threaded UDP
// responder holding one item ledger per session, deduplicating client
// change logs, and fanning merged state back out to the session members.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/beyondparity/parity/internal/config"
	"github.com/beyondparity/parity/internal/ram"
	"github.com/beyondparity/parity/internal/wire"
)

// Server holds all session state. Only the Run loop touches it; there is
// no parallelism inside the process.
type Server struct {
	cfg  config.Server
	conn *net.UDPConn
	log  *slog.Logger
	met  *Metrics

	// member ("<ip>-<series>") → session name
	members map[string]string
	// member → last address the member contacted us from
	addrs map[string]*net.UDPAddr
	// session → ledger; nil until the first REPORT seeds it
	ledgers map[string]map[int]int
	// session → merged chest mask
	chests map[string][]byte
	// "<member>-<index>" → unix seconds the entry was applied
	processed map[string]int64
	// session → members owed the next SYNC payload
	pending map[string]map[string]bool

	lastBackup time.Time
}

type outbound struct {
	to  *net.UDPAddr
	msg string
}

// New binds the responder socket and rehydrates the newest snapshot if one
// exists.
func New(cfg config.Server, log *slog.Logger) (*Server, error) {
	addr := &net.UDPAddr{IP: net.ParseIP(cfg.BindAddress), Port: cfg.Port}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("binding %s:%d: %w", cfg.BindAddress, cfg.Port, err)
	}

	s := &Server{
		cfg:       cfg,
		conn:      conn,
		log:       log,
		met:       NewMetrics(),
		members:   make(map[string]string),
		addrs:     make(map[string]*net.UDPAddr),
		ledgers:   make(map[string]map[int]int),
		chests:    make(map[string][]byte),
		processed: make(map[string]int64),
		pending:   make(map[string]map[string]bool),
	}
	if err := s.loadSnapshot(); err != nil {
		conn.Close()
		return nil, err
	}
	s.met.Sessions.Set(float64(len(s.ledgers)))
	return s, nil
}

// Close releases the socket.
func (s *Server) Close() error {
	return s.conn.Close()
}

// Addr returns the bound address.
func (s *Server) Addr() net.Addr {
	return s.conn.LocalAddr()
}

// MetricsHandler serves the Prometheus registry.
func (s *Server) MetricsHandler() http.Handler {
	return s.met.Handler()
}

// Run processes datagrams until the context is cancelled. Idle periods
// garbage-collect the dedup set; snapshots are written on the backup
// interval.
func (s *Server) Run(ctx context.Context) error {
	poll := time.Duration(s.cfg.PollInterval * float64(time.Second))
	buf := make([]byte, wire.MaxFrameSize+1)
	s.lastBackup = time.Now()

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		now := time.Now()

		if now.Sub(s.lastBackup) >= time.Duration(s.cfg.BackupInterval*float64(time.Second)) {
			if err := s.writeSnapshot(now); err != nil {
				s.log.Error("snapshot failed", "err", err)
			}
			s.lastBackup = now
		}

		if err := s.conn.SetReadDeadline(now.Add(poll)); err != nil {
			return fmt.Errorf("setting read deadline: %w", err)
		}
		n, sender, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if nerr, ok := err.(net.Error); ok && nerr.Timeout() {
				s.collectProcessed(now)
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			s.log.Error("receive failed", "err", err)
			continue
		}

		s.met.DatagramsIn.Inc()
		msg, err := wire.Decode(buf[:n])
		if err != nil {
			s.log.Warn("undecodable datagram", "from", sender, "err", err)
			continue
		}
		s.log.Debug("received", "msg", msg, "from", sender)

		for _, out := range s.process(msg, sender, now) {
			s.send(out)
		}
	}
}

func (s *Server) send(out outbound) {
	frame, err := wire.Encode(out.msg)
	if err != nil {
		s.log.Error("unsendable reply", "err", err)
		return
	}
	if _, err := s.conn.WriteToUDP(frame, out.to); err != nil {
		s.log.Warn("send failed", "to", out.to, "err", err)
		return
	}
	s.met.DatagramsOut.Inc()
}

// process dispatches one decoded message and returns the datagrams to
// send. Malformed messages are logged and discarded.
func (s *Server) process(msg string, sender *net.UDPAddr, now time.Time) []outbound {
	verb, rest := wire.Split(msg)
	switch verb {
	case wire.VerbNew:
		return s.handleNew(rest, sender)
	case wire.VerbJoin:
		return s.handleJoin(rest, sender)
	case wire.VerbReport:
		return s.handleReport(rest, sender)
	case wire.VerbLog:
		return s.handleLog(rest, sender, now)
	case wire.VerbSync:
		return s.handleSync(rest, sender)
	case wire.VerbChests:
		return s.handleChests(rest, sender)
	default:
		s.log.Warn("unknown directive", "msg", msg, "from", sender)
		return nil
	}
}

func (s *Server) handleNew(rest string, sender *net.UDPAddr) []outbound {
	fields := strings.Fields(rest)
	if len(fields) != 2 {
		s.log.Warn("malformed NEW", "rest", rest)
		return nil
	}
	session, series := fields[0], fields[1]
	if _, exists := s.ledgers[session]; exists {
		return []outbound{{sender, fmt.Sprintf("ERROR: Session %q already exists.", session)}}
	}

	member := s.register(session, series, sender)
	s.ledgers[session] = nil
	s.met.Sessions.Set(float64(len(s.ledgers)))
	s.log.Info("session created", "session", session, "member", member)
	return []outbound{
		{sender, wire.VerbSuccess},
		{sender, "REPORT {}"},
	}
}

func (s *Server) handleJoin(rest string, sender *net.UDPAddr) []outbound {
	fields := strings.Fields(rest)
	if len(fields) != 2 {
		s.log.Warn("malformed JOIN", "rest", rest)
		return nil
	}
	session, series := fields[0], fields[1]
	if _, exists := s.ledgers[session]; !exists {
		return []outbound{{sender, fmt.Sprintf("ERROR: Session %q does not exist.", session)}}
	}

	member := s.register(session, series, sender)
	s.log.Info("member joined", "session", session, "member", member)

	out := []outbound{{sender, wire.VerbSuccess}}
	// Late joiners get the session's chest mask straight away.
	if mask := s.chests[session]; mask != nil {
		if body, err := wire.EncodeByteList(mask); err == nil {
			out = append(out, outbound{sender, wire.VerbChests + " " + body})
		}
	}
	return out
}

func (s *Server) handleReport(rest string, sender *net.UDPAddr) []outbound {
	series, body, ok := strings.Cut(rest, " ")
	if !ok {
		s.log.Warn("malformed REPORT", "rest", rest)
		return nil
	}
	member, session, ok := s.lookup(series, sender)
	if !ok {
		return nil
	}

	ledger, exists := s.ledgers[session]
	if !exists || ledger != nil {
		return nil // only the first report seeds the ledger
	}
	items, err := wire.DecodeItemMap(body)
	if err != nil {
		s.log.Warn("bad REPORT payload", "member", member, "err", err)
		return nil
	}

	seeded := make(map[int]int, ram.SlotCount)
	for i := 0; i < ram.SlotCount; i++ {
		seeded[i] = items[i]
	}
	s.ledgers[session] = seeded
	s.markPending(session, "")
	s.log.Info("ledger seeded", "session", session, "member", member, "items", len(items))
	return nil
}

func (s *Server) handleLog(rest string, sender *net.UDPAddr, now time.Time) []outbound {
	series, body, ok := strings.Cut(rest, " ")
	if !ok {
		s.log.Warn("malformed LOG", "rest", rest)
		return nil
	}
	member, session, ok := s.lookup(series, sender)
	if !ok {
		return nil
	}
	changes, err := wire.DecodeChanges(body)
	if err != nil {
		s.log.Warn("bad LOG payload", "member", member, "err", err)
		return nil
	}

	ledger := s.ledgers[session]
	var out []outbound
	acks := []int{}
	for _, c := range changes {
		if c.IsStatus() {
			out = append(out, s.relayStatus(session, member, c)...)
			continue
		}
		if ledger == nil {
			// Nothing to apply against yet; nudge the sender to seed.
			return append(out, outbound{sender, "REPORT {}"})
		}

		if c.Item < 0 || c.Item >= ram.SlotCount {
			// Not acked: an unapplied entry must not be trimmed client-side.
			s.log.Warn("log entry for impossible item",
				"member", member, "item", c.Item, "index", c.Index)
			continue
		}
		acks = append(acks, c.Index)
		logID := member + "-" + strconv.Itoa(c.Index)
		if _, seen := s.processed[logID]; seen {
			s.met.LogDeduped.Inc()
			continue
		}
		s.processed[logID] = now.Unix()
		ledger[c.Item] += c.Delta
		s.met.LogApplied.Inc()
	}
	s.markPending(session, member)

	ackBody, err := wire.EncodeIntList(acks)
	if err != nil {
		s.log.Error("encoding LOG ack", "err", err)
		return out
	}
	return append(out, outbound{sender, wire.VerbLog + " " + ackBody})
}

// relayStatus forwards a status change to every other session member at
// its last known address. Status never touches the item ledger.
func (s *Server) relayStatus(session, from string, c wire.Change) []outbound {
	body, err := wire.EncodeStatusParams(c.Item, hexBits(c.Hex))
	if err != nil {
		s.log.Error("encoding status relay", "err", err)
		return nil
	}
	var out []outbound
	for member, sess := range s.members {
		if sess != session || member == from {
			continue
		}
		if addr := s.addrs[member]; addr != nil {
			out = append(out, outbound{addr, c.Tag + " " + body})
		}
	}
	return out
}

func (s *Server) handleSync(rest string, sender *net.UDPAddr) []outbound {
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		s.log.Warn("malformed SYNC", "rest", rest)
		return nil
	}
	series := fields[0]
	forced := len(fields) > 1 && fields[1] == "!"

	member, session, ok := s.lookup(series, sender)
	if !ok {
		return nil
	}
	ledger := s.ledgers[session]
	if ledger == nil {
		return []outbound{{sender, "REPORT {}"}}
	}
	if !forced && !s.pending[session][member] {
		return nil
	}

	nonzero := make(map[int]int)
	for item, count := range ledger {
		if count > 0 {
			nonzero[item] = count
		}
	}
	body, err := wire.EncodeItemMap(nonzero)
	if err != nil {
		s.log.Error("encoding SYNC payload", "err", err)
		return nil
	}
	delete(s.pending[session], member)
	return []outbound{{sender, wire.VerbSync + " " + body}}
}

func (s *Server) handleChests(rest string, sender *net.UDPAddr) []outbound {
	series, body, ok := strings.Cut(rest, " ")
	if !ok {
		s.log.Warn("malformed CHESTS", "rest", rest)
		return nil
	}
	member, session, ok := s.lookup(series, sender)
	if !ok {
		return nil
	}
	mask, err := wire.DecodeByteList(body, ram.ChestBytes)
	if err != nil {
		s.log.Warn("bad CHESTS payload", "member", member, "err", err)
		return nil
	}

	if old := s.chests[session]; old != nil {
		mask, err = ram.MergeChests(old, mask)
		if err != nil {
			s.log.Error("merging chest mask", "err", err)
			return nil
		}
	}
	s.chests[session] = mask

	out, err := wire.EncodeByteList(mask)
	if err != nil {
		s.log.Error("encoding chest mask", "err", err)
		return nil
	}
	var sends []outbound
	for m, sess := range s.members {
		if sess != session || m == member {
			continue
		}
		if addr := s.addrs[m]; addr != nil {
			sends = append(sends, outbound{addr, wire.VerbChests + " " + out})
		}
	}
	return sends
}

// register records a member's session and address.
func (s *Server) register(session, series string, sender *net.UDPAddr) string {
	member := memberName(sender, series)
	s.members[member] = session
	s.addrs[member] = sender
	if s.pending[session] == nil {
		s.pending[session] = make(map[string]bool)
	}
	s.pending[session][member] = true
	return member
}

// lookup resolves the sender to a registered member and its session,
// refreshing the member's address.
func (s *Server) lookup(series string, sender *net.UDPAddr) (member, session string, ok bool) {
	member = memberName(sender, series)
	session, ok = s.members[member]
	if !ok {
		s.log.Warn("message from unregistered member", "member", member)
		return "", "", false
	}
	s.addrs[member] = sender
	return member, session, true
}

// markPending marks every session member except skip as owed a SYNC.
func (s *Server) markPending(session, skip string) {
	if s.pending[session] == nil {
		s.pending[session] = make(map[string]bool)
	}
	for member, sess := range s.members {
		if sess == session && member != skip {
			s.pending[session][member] = true
		}
	}
}

// collectProcessed drops dedup entries older than the retention window.
// Runs only on idle ticks, like the rest of the housekeeping.
func (s *Server) collectProcessed(now time.Time) {
	cutoff := now.Unix() - int64(s.cfg.LogRetention)
	for id, stamp := range s.processed {
		if stamp < cutoff {
			delete(s.processed, id)
		}
	}
}

func memberName(sender *net.UDPAddr, series string) string {
	return sender.IP.String() + "-" + series
}

func hexBits(hex string) uint32 {
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return 0
	}
	return uint32(v)
}
