package relay

import (
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/r2northstar/cncnet-relay/internal/frame"
	"github.com/r2northstar/cncnet-relay/internal/peertable"
	"github.com/rs/zerolog"
)

// listenLoopback opens a UDP socket on 127.0.0.1 for use as either the
// server's own socket or a stand-in remote peer in a test.
func listenLoopback(t *testing.T) *net.UDPConn {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func recvWithTimeout(t *testing.T, conn *net.UDPConn) []byte {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, NetBufSize)
	n, _, err := conn.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	return buf[:n]
}

func testServer(cfg Config) *Server {
	if cfg.MaxClients == 0 {
		cfg.MaxClients = 8
	}
	if cfg.Hostname == "" {
		cfg.Hostname = "test server"
	}
	if cfg.Version == "" {
		cfg.Version = "v0.0.0"
	}
	return NewServer(cfg, zerolog.Nop())
}

func mustAddr(s string) netip.AddrPort {
	return netip.MustParseAddrPort(s)
}

// snapshot copies the output currently staged in s.outw into a fresh slice,
// for assertions, without depending on a live socket.
func snapshot(s *Server) []byte {
	out := make([]byte, s.outw.Len())
	copy(out, s.outw.Bytes())
	return out
}

func TestAdmitAndForwardUnicast(t *testing.T) {
	s := testServer(Config{})
	s.conn = listenLoopback(t)
	connB := listenLoopback(t)

	a := mustAddr("1.2.3.4:1000")
	b := connB.LocalAddr().(*net.UDPAddr).AddrPort()

	// A addresses slot 0, admitting itself as slot 0.
	r := frame.NewReader([]byte{0xAA})
	s.admitAndForward(0, a, r, 1)
	if id := s.peers.Find(a); id != 0 {
		t.Fatalf("A should be slot 0, got %d", id)
	}

	// B addresses slot 0 too, admitting itself as slot 1.
	r = frame.NewReader([]byte{0xBB})
	s.admitAndForward(0, b, r, 1)
	if id := s.peers.Find(b); id != 1 {
		t.Fatalf("B should be slot 1, got %d", id)
	}

	// A sends to slot 1 (B); server should send {0x00, 0xAA, 0xBB} to B.
	r = frame.NewReader([]byte{0xAA, 0xBB})
	s.admitAndForward(1, a, r, 2)

	got := recvWithTimeout(t, connB)
	want := []byte{0x00, 0xAA, 0xBB}
	if string(got) != string(want) {
		t.Fatalf("got %x, want %x", got, want)
	}
}

func TestBroadcastFanOut(t *testing.T) {
	s := testServer(Config{})
	s.conn = listenLoopback(t)

	connB := listenLoopback(t)
	connC := listenLoopback(t)

	a := mustAddr("9.9.9.9:1") // A never needs to receive, so a bogus endpoint is fine.
	b := connB.LocalAddr().(*net.UDPAddr).AddrPort()
	c := connC.LocalAddr().(*net.UDPAddr).AddrPort()

	idA := s.peers.Add(a, 0)
	s.peers.Add(b, 0)
	s.peers.Add(c, 0)

	payload := []byte{0x34, 0x12, 0x99}
	s.forwardBroadcast(idA, payload, false)

	want := append([]byte{idA}, payload...)
	if got := recvWithTimeout(t, connB); string(got) != string(want) {
		t.Fatalf("B got %x, want %x", got, want)
	}
	if got := recvWithTimeout(t, connC); string(got) != string(want) {
		t.Fatalf("C got %x, want %x", got, want)
	}

	if s.peers.Data(idA).GameTag != peertable.GameCNC95 {
		t.Fatalf("A's game tag should have been classified as CNC95")
	}
}

func TestProxyLoopSuppression(t *testing.T) {
	s := testServer(Config{LinkTo: mustAddr("10.0.0.1:9000")})
	s.conn = listenLoopback(t)
	sibling := listenLoopback(t)
	s.cfg.LinkTo = sibling.LocalAddr().(*net.UDPAddr).AddrPort()

	a := mustAddr("1.1.1.1:1")
	idA := s.peers.Add(a, 0)

	// A broadcast arriving via proxy must not be re-tunneled to the sibling.
	s.forwardBroadcast(idA, []byte{1, 2, 3}, true)

	sibling.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	buf := make([]byte, NetBufSize)
	if _, _, err := sibling.ReadFromUDP(buf); err == nil {
		t.Fatalf("sibling should not have received a re-tunneled broadcast")
	}
}

func TestSelfAddressedDrop(t *testing.T) {
	s := testServer(Config{})
	a := mustAddr("1.1.1.1:1")
	id := s.peers.Add(a, 0)

	s.processForward(id, id, []byte{1, 2, 3}, false)
	if got := snapshot(s); len(got) != 0 {
		t.Fatalf("self-addressed forward should not stage output, got %x", got)
	}
	if s.metrics.forwardDrops.selfAddressed.Get() != 1 {
		t.Fatalf("expected selfAddressed counter to increment")
	}
}

func TestUnicastUnknownTargetDrop(t *testing.T) {
	s := testServer(Config{})
	a := mustAddr("1.1.1.1:1")
	id := s.peers.Add(a, 0)

	s.processForward(5, id, []byte{1}, false)
	if got := snapshot(s); len(got) != 0 {
		t.Fatalf("unknown target forward should not stage output, got %x", got)
	}
}

func TestAdmissionRespectsCapacity(t *testing.T) {
	s := testServer(Config{MaxClients: 2})
	s.conn = listenLoopback(t)
	a := mustAddr("1.1.1.1:1")
	b := mustAddr("2.2.2.2:2")
	c := mustAddr("3.3.3.3:3")

	s.admitAndForward(0, a, frame.NewReader(nil), 0)
	s.admitAndForward(0, b, frame.NewReader(nil), 0)
	s.admitAndForward(0, c, frame.NewReader(nil), 0)

	if s.peers.Count() != 2 {
		t.Fatalf("count = %d, want 2 (capacity enforced)", s.peers.Count())
	}
	if id := s.peers.Find(c); id != peertable.None {
		t.Fatalf("C should have been rejected, got slot %d", id)
	}
}

func TestAdmissionWhitelist(t *testing.T) {
	s := testServer(Config{Password: "pw"})
	allowed := mustAddr("1.1.1.1:1")
	denied := mustAddr("2.2.2.2:2")

	s.installWhitelist([]netip.Addr{allowed.Addr()})

	s.admitAndForward(0, allowed, frame.NewReader(nil), 0)
	if id := s.peers.Find(allowed); id == peertable.None {
		t.Fatalf("whitelisted peer should be admitted")
	}

	s.admitAndForward(0, denied, frame.NewReader(nil), 0)
	if id := s.peers.Find(denied); id != peertable.None {
		t.Fatalf("non-whitelisted peer should be rejected when password set")
	}
}

func TestIdleEvictionThenReadmit(t *testing.T) {
	s := testServer(Config{Timeout: 2})
	a := mustAddr("1.1.1.1:1")
	s.peers.Add(a, 0)

	s.peers.Sweep(3, 2)
	if s.peers.Count() != 0 {
		t.Fatalf("expected eviction at t=3 with timeout=2, count = %d", s.peers.Count())
	}

	id := s.peers.Add(a, 3)
	if id == peertable.None {
		t.Fatalf("peer should be re-admittable after eviction")
	}
}

func TestSiblingAddressCompareIgnoresPort(t *testing.T) {
	s := testServer(Config{LinkTo: mustAddr("9.9.9.9:9000")})
	if !s.isSibling(netip.MustParseAddr("9.9.9.9")) {
		t.Fatalf("sibling address compare should ignore port")
	}
	if s.isSibling(netip.MustParseAddr("9.9.9.8")) {
		t.Fatalf("different address should not match sibling")
	}
}
