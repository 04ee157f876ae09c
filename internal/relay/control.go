package relay

import (
	"net/netip"
	"strings"
	"time"

	"github.com/r2northstar/cncnet-relay/internal/frame"
	"github.com/r2northstar/cncnet-relay/internal/peertable"
)

func formatAddrs(ips []netip.Addr) string {
	parts := make([]string, len(ips))
	for i, ip := range ips {
		parts[i] = ip.String()
	}
	return strings.Join(parts, ",")
}

// handleControl dispatches a CMD_CONTROL datagram to its ctl handler. r is
// positioned immediately after the command byte.
func (s *Server) handleControl(addr netip.AddrPort, r *frame.Reader, now int64) {
	if r.Remaining() < 1 {
		return
	}
	ctl := r.Uint8()
	switch ctl {
	case CtlPing:
		s.handlePing(addr)
	case CtlQuery:
		s.handleQuery(addr)
	case CtlReset:
		s.handleReset(addr, r)
	case CtlDisconnect:
		s.handleDisconnect(addr)
	case CtlProxy:
		s.handleProxy(addr, r, now)
	case CtlProxyDisconnect:
		s.handleProxyDisconnect(addr, r)
	default:
		s.log.Debug().Uint8("ctl", ctl).Str("from", addr.String()).Msg("unknown control selector")
	}
}

// handlePing replies with an empty PING response. No table mutation.
func (s *Server) handlePing(addr netip.AddrPort) {
	s.outw.Reset()
	s.outw.Uint8(CmdControl)
	s.outw.Uint8(CtlPing)
	s.send(addr)
}

// handleQuery replies with the server's info as a sequence of NUL-terminated
// (key, value) pairs, in the fixed order the protocol defines.
func (s *Server) handleQuery(addr netip.AddrPort) {
	counts := s.peers.GameCounts()

	s.outw.Reset()
	s.outw.Uint8(CmdControl)
	s.outw.Uint8(CtlQuery)
	s.outw.CString("hostname")
	s.outw.CString(s.cfg.Hostname)
	s.outw.KV("password", boolToInt(s.cfg.Password != ""))
	s.outw.KV("clients", int64(s.peers.Count()))
	s.outw.KV("maxclients", int64(s.cfg.MaxClients))
	s.outw.CString("version")
	s.outw.CString(s.cfg.Version)
	s.outw.KV("uptime", int64(time.Since(s.booted).Seconds()))
	for _, g := range gameOrder {
		s.outw.KV(g.QueryKey(), int64(counts[g.QueryKey()]))
	}
	s.send(addr)
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

// handleReset validates the supplied password and, on success, installs the
// new whitelist and clears every peer. It fails closed: no password
// configured, or a mismatch, leaves both the whitelist and the peer table
// untouched and reports failure.
func (s *Server) handleReset(addr netip.AddrPort, r *frame.Reader) {
	password := r.CString(0)

	ok := s.cfg.Password != "" && password == s.cfg.Password
	if ok {
		var ips []netip.Addr
		for r.Remaining() >= 4 {
			b := r.Block(4)
			ips = append(ips, netip.AddrFrom4([4]byte{b[0], b[1], b[2], b[3]}))
		}
		s.installWhitelist(ips)
		s.peers.Reset()
		s.metrics.resetTotal.success.Inc()
		s.log.Info().Str("from", addr.String()).Str("whitelist", formatAddrs(ips)).Msg("reset: whitelist installed, peers cleared")
	} else {
		s.metrics.resetTotal.badAuth.Inc()
		s.log.Info().Str("from", addr.String()).Msg("reset: rejected, bad password")
	}

	s.outw.Reset()
	s.outw.Uint8(CmdControl)
	s.outw.Uint8(CtlReset)
	if ok {
		s.outw.Uint8(1)
	} else {
		s.outw.Uint8(0)
	}
	s.send(addr)
}

// handleDisconnect removes the sender's slot, if known, regardless of
// whether a password is configured, and notifies a configured sibling.
func (s *Server) handleDisconnect(addr netip.AddrPort) {
	id := s.peers.Find(addr)
	if id == peertable.None {
		return
	}
	s.peers.Remove(id)
	if s.hasSibling() {
		s.sendProxyDisconnect(id)
	}
}

// handleProxy admits or locates the tunneled peer's local slot and
// re-enters the forward path with the tunneled inner command, suppressing
// re-tunneling back to the sibling. Only accepted from the configured
// sibling endpoint.
func (s *Server) handleProxy(addr netip.AddrPort, r *frame.Reader, now int64) {
	if !s.isSibling(addr.Addr()) {
		s.log.Debug().Str("from", addr.String()).Msg("proxy: rejected, not the configured sibling")
		return
	}
	if r.Remaining() < 2 {
		return
	}
	linkID := r.Uint8()
	innerCmd := r.Uint8()
	payload := r.Rest()

	senderID := s.peers.FindByLinkID(linkID)
	if senderID == peertable.None {
		if s.peers.Count() >= s.cfg.MaxClients || !s.admissible(addr.Addr()) {
			s.metrics.proxyRejects.Inc()
			s.log.Info().Uint8("link_id", linkID).Msg("server full, proxy client rejected")
			return
		}
		senderID = s.peers.Add(addr, now)
		if senderID == peertable.None {
			s.metrics.proxyRejects.Inc()
			s.log.Info().Uint8("link_id", linkID).Msg("server full, proxy client rejected")
			return
		}
		s.peers.Data(senderID).LinkID = linkID
	} else {
		s.peers.Touch(senderID, now)
	}

	s.processForward(innerCmd, senderID, payload, true)
}

// handleProxyDisconnect removes the local slot tunneling the sibling's
// departed peer. A PROXY_DISCONNECT from anywhere but the configured
// sibling is logged and dropped.
func (s *Server) handleProxyDisconnect(addr netip.AddrPort, r *frame.Reader) {
	if !s.isSibling(addr.Addr()) {
		s.log.Debug().Str("from", addr.String()).Msg("proxy_disconnect: rejected, not the configured sibling")
		return
	}
	if r.Remaining() < 1 {
		return
	}
	linkID := r.Uint8()
	if id := s.peers.FindByLinkID(linkID); id != peertable.None {
		s.peers.Remove(id)
	}
}
