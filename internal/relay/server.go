// Package relay implements the relay engine: the single-socket datagram
// event loop, the control protocol state machine, and the statistics used
// to report server status.
package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/netip"
	"os"
	"strconv"
	"time"

	"github.com/r2northstar/cncnet-relay/internal/frame"
	"github.com/r2northstar/cncnet-relay/internal/netutil"
	"github.com/r2northstar/cncnet-relay/internal/peertable"
	"github.com/rs/zerolog"
)

// gameOrder is the fixed QUERY counter order from the control protocol.
var gameOrder = [...]peertable.GameTag{
	peertable.GameUnknown,
	peertable.GameCNC95,
	peertable.GameRA95,
	peertable.GameTS,
	peertable.GameTSDTA,
	peertable.GameRA2,
}

// Config is the relay's immutable startup configuration. Every field here
// is assumed already clamped/validated by the caller (the CLI layer).
type Config struct {
	BindIP     string
	BindPort   int
	Hostname   string
	Password   string
	Timeout    int // seconds, [1, 3600]
	MaxClients int // [2, peertable.MaxPeers]
	LinkTo     netip.AddrPort // zero value means no sibling configured
	Version    string
}

// Server is the relay engine: one UDP socket, one peer table, one
// whitelist, and the framing buffers reused every iteration of Run. It is
// not safe for concurrent use; a single goroutine calls Run.
type Server struct {
	cfg Config
	log zerolog.Logger

	conn  *net.UDPConn
	peers *peertable.Table

	whitelist  [peertable.MaxPeers]netip.Addr
	whitelistN int

	booted  time.Time
	metrics *serverMetrics
	status  *statusLine

	inbuf []byte
	outw  *frame.Writer

	totalPackets uint64
	totalBytes   uint64
}

// NewServer constructs a Server from cfg. The socket is not bound until Run
// is called.
func NewServer(cfg Config, log zerolog.Logger) *Server {
	s := &Server{
		cfg:    cfg,
		log:    log,
		peers:  peertable.New(log),
		booted: time.Now(),
		inbuf:  make([]byte, NetBufSize),
		outw:   frame.NewWriter(make([]byte, NetBufSize)),
		status: newStatusLine(os.Stdout),
	}
	s.metrics = newServerMetrics(s)
	return s
}

// WritePrometheus writes the server's current metrics in Prometheus text
// format, for wiring into a debug HTTP mux.
func (s *Server) WritePrometheus(w io.Writer) {
	s.metrics.WritePrometheus(w)
}

// Run binds the relay's UDP socket and runs the event loop until ctx is
// canceled, a shutdown signal arrives via ctx, or the socket fails
// unrecoverably.
func (s *Server) Run(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.BindIP, strconv.Itoa(s.cfg.BindPort))
	conn, err := netutil.ListenUDP("udp4", addr)
	if err != nil {
		return fmt.Errorf("bind socket: %w", err)
	}
	s.conn = conn
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	ev := s.log.Info().
		Str("addr", conn.LocalAddr().String()).
		Str("hostname", s.cfg.Hostname).
		Int("maxclients", s.cfg.MaxClients).
		Int("timeout", s.cfg.Timeout).
		Bool("password", s.cfg.Password != "")
	if s.hasSibling() {
		ev = ev.Str("linkto", s.cfg.LinkTo.String())
	}
	ev.Msg("relay starting")

	return s.loop(ctx)
}

func (s *Server) loop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		s.conn.SetReadDeadline(time.Now().Add(time.Second))
		n, addr, err := s.conn.ReadFromUDPAddrPort(s.inbuf)
		now := time.Now().Unix()

		switch {
		case err == nil && n > 0:
			s.metrics.packetsTotal.Inc()
			s.metrics.bytesTotal.Add(n)
			s.totalPackets++
			s.totalBytes += uint64(n)
			s.handleDatagram(addr, s.inbuf[:n], now)
		case err != nil && errors.Is(err, os.ErrDeadlineExceeded):
			// 1-second tick; fall through to the sweep below.
		case err != nil && errors.Is(err, net.ErrClosed):
			return nil
		case err != nil:
			s.log.Debug().Err(err).Msg("recv error")
		}

		s.peers.Sweep(now, int64(s.cfg.Timeout))

		s.discard()
		s.status.Tick(now, s.cfg.Hostname, s.peers.Count(), s.cfg.MaxClients, s.totalPackets, s.totalBytes)
	}
}

// handleDatagram dispatches one received datagram to the control handler or
// the forward path, per the one-byte command header.
func (s *Server) handleDatagram(addr netip.AddrPort, buf []byte, now int64) {
	r := frame.NewReader(buf)
	if r.Remaining() < 1 {
		return
	}
	cmd := r.Uint8()
	if cmd == CmdControl {
		s.handleControl(addr, r, now)
		return
	}
	s.admitAndForward(cmd, addr, r, now)
}

// admitAndForward implements forward-path admission (§4.4 step 4, first
// bullet) for a datagram received directly on the socket (never for a
// tunneled PROXY datagram, which is already admitted by handleProxy).
func (s *Server) admitAndForward(cmd uint8, addr netip.AddrPort, r *frame.Reader, now int64) {
	senderID := s.peers.Find(addr)
	if senderID == peertable.None {
		if s.peers.Count() >= s.cfg.MaxClients {
			s.metrics.forwardDrops.full.Inc()
			return
		}
		if !s.admissible(addr.Addr()) {
			return
		}
		senderID = s.peers.Add(addr, now)
		if senderID == peertable.None {
			return
		}
	} else {
		s.peers.Touch(senderID, now)
	}

	s.processForward(cmd, senderID, r.Rest(), false)
}

// processForward implements §4.4 step 4's forwarding logic (unicast,
// broadcast, and sibling tunneling), given an already-admitted sender. It is
// invoked both from the normal receive path and, with fromProxy set, from
// handleProxy after rewriting cmd to the tunneled inner command — replacing
// the reference implementation's goto-based re-entry with an explicit call.
func (s *Server) processForward(cmd uint8, senderID uint8, payload []byte, fromProxy bool) {
	if cmd == CmdBroadcast {
		s.forwardBroadcast(senderID, payload, fromProxy)
		return
	}

	if cmd == senderID {
		s.metrics.forwardDrops.selfAddressed.Inc()
		return
	}

	if target := s.peers.Data(cmd); target != nil && target.LinkID != peertable.None {
		s.sendProxy(senderID, target.LinkID, payload)
		return
	}

	targetAddr, ok := s.peers.Get(cmd)
	if !ok {
		s.metrics.forwardDrops.unknownTarget.Inc()
		return
	}

	s.outw.Reset()
	s.outw.Uint8(senderID)
	s.outw.Block(payload)
	s.send(targetAddr)
}

func (s *Server) forwardBroadcast(senderID uint8, payload []byte, fromProxy bool) {
	if data := s.peers.Data(senderID); data != nil {
		data.GameTag = classify(payload)
	}

	s.outw.Reset()
	s.outw.Uint8(senderID)
	s.outw.Block(payload)

	s.peers.Range(func(id uint8) {
		if id == senderID {
			return
		}
		if data := s.peers.Data(id); data == nil || data.LinkID != peertable.None {
			return
		}
		if addr, ok := s.peers.Get(id); ok {
			s.sendNoFlush(addr)
		}
	})
	s.discard()

	if !fromProxy && s.hasSibling() {
		s.sendProxy(senderID, CmdBroadcast, payload)
	}
}

// admissible reports whether ip may be admitted to a new slot: always true
// with no password configured, otherwise only if ip is on the whitelist.
func (s *Server) admissible(ip netip.Addr) bool {
	if s.cfg.Password == "" {
		return true
	}
	for i := 0; i < s.whitelistN; i++ {
		if s.whitelist[i] == ip {
			return true
		}
	}
	return false
}

func (s *Server) hasSibling() bool {
	return s.cfg.LinkTo.IsValid()
}

// isSibling reports whether ip is the configured sibling's address. Only
// the address is compared, not the port, matching the reference
// implementation's peer-vs-link_addr comparison.
func (s *Server) isSibling(ip netip.Addr) bool {
	return s.hasSibling() && s.cfg.LinkTo.Addr() == ip
}

func (s *Server) installWhitelist(ips []netip.Addr) {
	s.whitelist = [peertable.MaxPeers]netip.Addr{}
	n := len(ips)
	if n > peertable.MaxPeers {
		n = peertable.MaxPeers
	}
	copy(s.whitelist[:], ips[:n])
	s.whitelistN = n
}

// send transmits the currently staged output to dst and then discards the
// writer.
func (s *Server) send(dst netip.AddrPort) {
	s.sendNoFlush(dst)
	s.discard()
}

// sendNoFlush transmits the currently staged output to dst without
// resetting the writer, so the same payload can be sent to multiple
// destinations (broadcast fan-out) before a single discard.
func (s *Server) sendNoFlush(dst netip.AddrPort) {
	if s.outw.Len() == 0 {
		return
	}
	if _, err := s.conn.WriteToUDPAddrPort(s.outw.Bytes(), dst); err != nil {
		// Send errors are ignored: UDP delivery was never guaranteed.
		s.log.Debug().Err(err).Str("dst", dst.String()).Msg("send error")
	}
}

func (s *Server) discard() {
	s.outw.Reset()
}

// sendProxy encapsulates payload as a CTL_PROXY message to the sibling
// server, carrying linkID (this peer's id on this server, used by the
// sibling to find or create its own slot for the same remote peer) and
// innerCmd (either CmdBroadcast, or the target's id on the sibling's own
// table).
func (s *Server) sendProxy(linkID, innerCmd uint8, payload []byte) {
	if !s.hasSibling() {
		return
	}
	s.outw.Reset()
	s.outw.Uint8(CmdControl)
	s.outw.Uint8(CtlProxy)
	s.outw.Uint8(linkID)
	s.outw.Uint8(innerCmd)
	s.outw.Block(payload)
	s.send(s.cfg.LinkTo)
}

func (s *Server) sendProxyDisconnect(linkID uint8) {
	if !s.hasSibling() {
		return
	}
	s.outw.Reset()
	s.outw.Uint8(CmdControl)
	s.outw.Uint8(CtlProxyDisconnect)
	s.outw.Uint8(linkID)
	s.send(s.cfg.LinkTo)
}
