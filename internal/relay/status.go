package relay

import (
	"fmt"
	"io"
)

// statusLine renders a single, continuously-overwritten status line to an
// external writer (normally the controlling terminal), recomputed at most
// once per wall-clock second. It is a collaborator external to the event
// loop: it is the only thing in the relay permitted to emit a bare '\r'.
type statusLine struct {
	w io.Writer

	haveBaseline bool
	baseSec      int64
	basePackets  uint64
	baseBytes    uint64

	lastRenderedSec int64
	pps             float64
	bps             float64
}

func newStatusLine(w io.Writer) *statusLine {
	return &statusLine{w: w}
}

// Tick recomputes and redraws the status line if at least one second has
// elapsed since the last redraw. The first call only establishes the
// counter baseline and draws nothing, so the initial pps/bps reading is
// never computed against an unstarted baseline.
func (s *statusLine) Tick(now int64, hostname string, clients, maxClients int, totalPackets, totalBytes uint64) {
	if !s.haveBaseline {
		s.haveBaseline = true
		s.baseSec = now
		s.basePackets = totalPackets
		s.baseBytes = totalBytes
		s.lastRenderedSec = now
		return
	}

	if now <= s.lastRenderedSec {
		return
	}

	elapsed := now - s.baseSec
	if elapsed > 0 {
		s.pps = float64(totalPackets-s.basePackets) / float64(elapsed)
		s.bps = float64(totalBytes-s.baseBytes) / float64(elapsed)
	}
	s.baseSec = now
	s.basePackets = totalPackets
	s.baseBytes = totalBytes
	s.lastRenderedSec = now

	fmt.Fprintf(s.w, "\r%s: %d/%d clients, %.1f pkt/s, %.1f B/s    ", hostname, clients, maxClients, s.pps, s.bps)
}
