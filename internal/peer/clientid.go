package peer

import "crypto/rand"

// clientIDPrefix identifies this implementation in the Azureus-style
// peer ID convention: a dash, two letters, four digits, a dash, then
// random bytes filling out the remaining 12.
var clientIDPrefix = [8]byte{'-', 'L', 'C', '0', '0', '0', '1', '-'}

// NewClientID returns a fresh 20-byte peer ID to present in handshakes
// and tracker announces.
func NewClientID() [20]byte {
	var id [20]byte
	copy(id[:8], clientIDPrefix[:])
	rand.Read(id[8:])
	return id
}
