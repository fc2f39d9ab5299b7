// Package harbor implements the cross-node router: a TCP link per
// remote node, length-prefixed framing, and a small control-command
// protocol (N/S/A/D/Q) for name resolution and connection bring-up,
// ported from service_harbor.c.
package harbor

import (
	"encoding/binary"
	"fmt"
)

// headerLength is sizeof(struct remote_message_header): three
// big-endian uint32s (source, destination-with-type, session).
const headerLength = 12

// maxFrameLength is the 16MiB cap service_harbor.c enforces by
// requiring the length prefix's high byte to be zero (a 24-bit
// length field, 4 bytes total with the top byte pinned at 0).
const maxFrameLength = 1 << 24

// Header is the wire representation of remote_message_header.
// Destination packs the message TypeTag into its high 8 bits exactly
// like the C source; callers use SplitDestination/JoinDestination
// instead of shifting by hand.
type Header struct {
	Source      uint32
	Destination uint32
	Session     uint32
}

// JoinDestination packs a type tag into the high byte of a 24-bit
// local handle, the encoding remote_send_handle writes into
// header.destination before an identity is known on the wire (the
// real node id is filled in by the receiving side, not carried here).
func JoinDestination(msgType uint8, localHandle uint32) uint32 {
	return uint32(msgType)<<24 | (localHandle & 0xffffff)
}

// SplitDestination reverses JoinDestination.
func SplitDestination(destination uint32) (msgType uint8, localHandle uint32) {
	return uint8(destination >> 24), destination & 0xffffff
}

// EncodeFrame produces the full wire frame for payload and header:
// [4-byte big-endian length][payload][12-byte header], matching
// send_remote exactly. It returns an error if the combined payload +
// header length would not fit in the 24-bit length field.
func EncodeFrame(payload []byte, h Header) ([]byte, error) {
	bodyLen := len(payload) + headerLength
	if bodyLen >= maxFrameLength {
		return nil, fmt.Errorf("harbor: frame body %d bytes must be under %d bytes", bodyLen, maxFrameLength)
	}
	buf := make([]byte, 4+bodyLen)
	binary.BigEndian.PutUint32(buf[0:4], uint32(bodyLen))
	copy(buf[4:], payload)
	trailer := buf[4+len(payload):]
	binary.BigEndian.PutUint32(trailer[0:4], h.Source)
	binary.BigEndian.PutUint32(trailer[4:8], h.Destination)
	binary.BigEndian.PutUint32(trailer[8:12], h.Session)
	return buf, nil
}

// DecodeLength parses the 4-byte big-endian length prefix, rejecting
// any value whose high byte is nonzero (the same bound service_harbor.c
// enforces with `if (s->size[0] != 0)`).
func DecodeLength(prefix [4]byte) (int, error) {
	if prefix[0] != 0 {
		return 0, fmt.Errorf("harbor: frame length prefix high byte %#x is nonzero", prefix[0])
	}
	n := int(prefix[1])<<16 | int(prefix[2])<<8 | int(prefix[3])
	return n, nil
}

// DecodeBody splits a received frame body (payload+header, the bytes
// that followed the length prefix) back into its payload and Header,
// mirroring message_to_header reading the last 12 bytes as a cookie.
func DecodeBody(body []byte) ([]byte, Header, error) {
	if len(body) < headerLength {
		return nil, Header{}, fmt.Errorf("harbor: frame body too short (%d bytes)", len(body))
	}
	split := len(body) - headerLength
	trailer := body[split:]
	h := Header{
		Source:      binary.BigEndian.Uint32(trailer[0:4]),
		Destination: binary.BigEndian.Uint32(trailer[4:8]),
		Session:     binary.BigEndian.Uint32(trailer[8:12]),
	}
	return body[:split], h, nil
}
