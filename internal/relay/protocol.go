package relay

// Wire command bytes for the one-byte datagram header.
const (
	// CmdControl marks a datagram as carrying a control sub-protocol
	// message rather than game traffic.
	CmdControl uint8 = 0xFF
	// CmdBroadcast marks a datagram to be fanned out to every other local
	// peer instead of a single addressee.
	CmdBroadcast uint8 = 0xFE
)

// Control selectors, following CmdControl.
const (
	CtlPing            uint8 = 0
	CtlQuery           uint8 = 1
	CtlReset           uint8 = 2
	CtlDisconnect      uint8 = 3
	CtlProxy           uint8 = 4
	CtlProxyDisconnect uint8 = 5
)

// NetBufSize bounds the size of a single datagram, incoming or outgoing.
const NetBufSize = 2048
