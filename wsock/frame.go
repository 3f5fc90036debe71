package wsock

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
)

// Frame opcodes used by this client. Only text frames are sent; close frames
// are recognized on receive.
const (
	opText   byte = 0x1
	opBinary byte = 0x2
	opClose  byte = 0x8
)

// ProtocolError reports a violation of the framing rules by the peer, such
// as a masked server-to-client frame.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("wsock: protocol error: %s", e.Reason)
}

// encodeFrame builds a single client-to-server frame: fin=1, the given
// opcode, and the payload masked with a fresh random 4-byte key. Every
// client frame must be masked; reusing a fixed key across frames is a
// protocol defect.
func encodeFrame(op byte, payload []byte) ([]byte, error) {
	var key [4]byte
	if _, err := rand.Read(key[:]); err != nil {
		return nil, fmt.Errorf("wsock: failed to generate mask key: %w", err)
	}

	n := len(payload)
	var header []byte
	switch {
	case n <= 125:
		header = []byte{0x80 | op, 0x80 | byte(n)}
	case n <= 65535:
		header = []byte{0x80 | op, 0x80 | 126, 0, 0}
		binary.BigEndian.PutUint16(header[2:], uint16(n))
	default:
		header = []byte{0x80 | op, 0x80 | 127, 0, 0, 0, 0, 0, 0, 0, 0}
		binary.BigEndian.PutUint64(header[2:], uint64(n))
	}

	frame := make([]byte, 0, len(header)+4+n)
	frame = append(frame, header...)
	frame = append(frame, key[:]...)
	for i := 0; i < n; i++ {
		frame = append(frame, payload[i]^key[i%4])
	}
	return frame, nil
}

// decodeFrame extracts the first complete frame from buf. It returns the
// unmasked payload, the opcode, and the number of bytes consumed. A consumed
// count of zero means buf holds only a partial frame and more bytes are
// needed; the caller must retain buf as-is. Any trailing bytes beyond the
// consumed count belong to subsequent frames and must also be retained.
func decodeFrame(buf []byte) (payload []byte, op byte, consumed int, err error) {
	if len(buf) < 2 {
		return nil, 0, 0, nil
	}

	op = buf[0] & 0x0f
	if buf[1]&0x80 != 0 {
		return nil, 0, 0, &ProtocolError{Reason: "received masked frame from server"}
	}

	length := uint64(buf[1] & 0x7f)
	offset := 2
	switch length {
	case 126:
		if len(buf) < 4 {
			return nil, 0, 0, nil
		}
		length = uint64(binary.BigEndian.Uint16(buf[2:4]))
		offset = 4
	case 127:
		if len(buf) < 10 {
			return nil, 0, 0, nil
		}
		length = binary.BigEndian.Uint64(buf[2:10])
		offset = 10
	}

	total := uint64(offset) + length
	if uint64(len(buf)) < total {
		return nil, 0, 0, nil
	}

	payload = make([]byte, length)
	copy(payload, buf[offset:total])
	return payload, op, int(total), nil
}
