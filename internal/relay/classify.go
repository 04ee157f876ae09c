package relay

import "github.com/r2northstar/cncnet-relay/internal/peertable"

// classify tags a broadcast payload with the game family it appears to
// belong to, by matching fixed byte prefixes used by each game's own LAN
// discovery packets. Tests run in order; the first match wins, and a
// payload too short for a given test falls through to the next one.
func classify(buf []byte) peertable.GameTag {
	if len(buf) >= 2 && buf[0] == 0x34 && buf[1] == 0x12 {
		return peertable.GameCNC95
	}
	if len(buf) >= 2 && buf[0] == 0x35 && buf[1] == 0x12 {
		return peertable.GameRA95
	}
	if len(buf) >= 6 && buf[4] == 0x35 && buf[5] == 0x12 {
		return peertable.GameTS
	}
	if len(buf) >= 6 && buf[4] == 0x35 && buf[5] == 0x13 {
		return peertable.GameTSDTA
	}
	if len(buf) >= 6 && buf[4] == 0x36 && buf[5] == 0x12 {
		return peertable.GameRA2
	}
	return peertable.GameUnknown
}
