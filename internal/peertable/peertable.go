// Package peertable implements the fixed-capacity slot table that maps a
// one-byte peer id to its endpoint and per-slot game/link data. The table
// is not safe for concurrent use; the relay engine owns it from a single
// goroutine, as there is nothing else to synchronize against.
package peertable

import (
	"net/netip"

	"github.com/rs/zerolog"
)

const (
	// MaxPeers is the size of the id domain. The last id, None, is reserved
	// as the sentinel and is never allocated.
	MaxPeers = 32

	// None is the sentinel peer id meaning "no peer".
	None uint8 = 0xFF
)

// GameTag classifies a peer by the game it appears to be playing, inferred
// from broadcast payloads. See package classify.
type GameTag uint8

const (
	GameUnknown GameTag = iota
	GameCNC95
	GameRA95
	GameTS
	GameTSDTA
	GameRA2

	gameTagCount
)

// QueryKey is the QUERY counter key for g, in the fixed order used by the
// control protocol.
func (g GameTag) QueryKey() string {
	switch g {
	case GameCNC95:
		return "cnc95"
	case GameRA95:
		return "ra95"
	case GameTS:
		return "ts"
	case GameTSDTA:
		return "tsdta"
	case GameRA2:
		return "ra2"
	default:
		return "unk"
	}
}

// SlotData is the per-slot opaque data attached to an occupied slot.
type SlotData struct {
	GameTag GameTag
	// LinkID is None for an ordinary local peer, or the peer id on the
	// paired sibling server if this slot was admitted via CTL_PROXY.
	LinkID uint8
}

type slot struct {
	addr netip.AddrPort
	last int64 // unix seconds; 0 when unoccupied
	data SlotData
}

func (s *slot) occupied() bool {
	return s.addr.IsValid()
}

// Table is the fixed-capacity peer slot table.
type Table struct {
	slots [MaxPeers]slot
	log   zerolog.Logger
}

// New returns an empty table that logs connect/disconnect events to log.
func New(log zerolog.Logger) *Table {
	t := &Table{log: log}
	t.clear()
	return t
}

func (t *Table) clear() {
	for i := range t.slots {
		t.slots[i] = slot{data: SlotData{LinkID: None}}
	}
}

// Reset removes every peer, as if each had disconnected simultaneously. No
// per-slot disconnect log lines are emitted; callers that need the §4.5
// RESET log semantics emit their own single summary line.
func (t *Table) Reset() {
	t.clear()
}

// Find returns the id of the slot with the given endpoint, or None.
func (t *Table) Find(addr netip.AddrPort) uint8 {
	for i := 0; i < MaxPeers-1; i++ {
		if t.slots[i].occupied() && t.slots[i].addr == addr {
			return uint8(i)
		}
	}
	return None
}

// Add admits addr into the lowest free slot, stamping its last-packet time
// to now, and returns its id, or None if the table has no free slot.
func (t *Table) Add(addr netip.AddrPort, now int64) uint8 {
	for i := 0; i < MaxPeers-1; i++ {
		if !t.slots[i].occupied() {
			t.slots[i].addr = addr
			t.slots[i].last = now
			t.slots[i].data = SlotData{LinkID: None}
			t.log.Info().Str("addr", addr.String()).Uint8("slot", uint8(i)).Msg("peer connected")
			return uint8(i)
		}
	}
	return None
}

// Get returns the endpoint of id, and whether it is occupied.
func (t *Table) Get(id uint8) (netip.AddrPort, bool) {
	if id >= MaxPeers || !t.slots[id].occupied() {
		return netip.AddrPort{}, false
	}
	return t.slots[id].addr, true
}

// Data returns a pointer to id's per-slot data, or nil if id is out of range.
// The pointer is valid only while the slot remains occupied; callers must
// not retain it across a Remove or Reset.
func (t *Table) Data(id uint8) *SlotData {
	if id >= MaxPeers {
		return nil
	}
	return &t.slots[id].data
}

// LastPacket returns the unix timestamp of id's last received packet, or 0
// if id is unoccupied or out of range.
func (t *Table) LastPacket(id uint8) int64 {
	if id >= MaxPeers {
		return 0
	}
	return t.slots[id].last
}

// Touch stamps id's last-packet time to now. id must be occupied.
func (t *Table) Touch(id uint8, now int64) {
	if id < MaxPeers {
		t.slots[id].last = now
	}
}

// Remove vacates id, clearing its endpoint, timestamp, and per-slot data.
func (t *Table) Remove(id uint8) {
	if id >= MaxPeers || !t.slots[id].occupied() {
		return
	}
	addr := t.slots[id].addr
	t.log.Info().Str("addr", addr.String()).Uint8("slot", id).Msg("peer disconnected")
	t.slots[id] = slot{data: SlotData{LinkID: None}}
}

// RemoveByAddr vacates the slot with the given endpoint, if any.
func (t *Table) RemoveByAddr(addr netip.AddrPort) {
	if id := t.Find(addr); id != None {
		t.Remove(id)
	}
}

// Count returns the number of occupied slots.
func (t *Table) Count() int {
	n := 0
	for i := 0; i < MaxPeers-1; i++ {
		if t.slots[i].occupied() {
			n++
		}
	}
	return n
}

// GameCounts returns the number of occupied slots tagged with each game,
// keyed by QueryKey (unk, cnc95, ra95, ts, tsdta, ra2).
func (t *Table) GameCounts() map[string]int {
	counts := map[string]int{
		GameUnknown.QueryKey(): 0,
		GameCNC95.QueryKey():   0,
		GameRA95.QueryKey():    0,
		GameTS.QueryKey():      0,
		GameTSDTA.QueryKey():   0,
		GameRA2.QueryKey():     0,
	}
	for i := 0; i < MaxPeers-1; i++ {
		if t.slots[i].occupied() {
			counts[t.slots[i].data.GameTag.QueryKey()]++
		}
	}
	return counts
}

// FindByLinkID returns the id of the local slot whose per-slot LinkID
// equals linkID, or None.
func (t *Table) FindByLinkID(linkID uint8) uint8 {
	for i := 0; i < MaxPeers-1; i++ {
		if t.slots[i].occupied() && t.slots[i].data.LinkID == linkID {
			return uint8(i)
		}
	}
	return None
}

// Sweep evicts every occupied slot whose last-packet time is more than
// timeoutSeconds in the past, relative to now, and returns their former ids.
// A slot whose last-packet time is 0 is never evicted.
func (t *Table) Sweep(now, timeoutSeconds int64) []uint8 {
	var evicted []uint8
	for i := 0; i < MaxPeers-1; i++ {
		if t.slots[i].occupied() && t.slots[i].last+timeoutSeconds < now {
			evicted = append(evicted, uint8(i))
			t.Remove(uint8(i))
		}
	}
	return evicted
}

// Range calls fn for every occupied slot id, in ascending id order.
func (t *Table) Range(fn func(id uint8)) {
	for i := 0; i < MaxPeers-1; i++ {
		if t.slots[i].occupied() {
			fn(uint8(i))
		}
	}
}
