package beacon

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"

	"github.com/baderanaas/GoPass/pkg/profile"
)

var (
	// ErrMalformed is wrapped by every decode failure.
	ErrMalformed = errors.New("malformed frame")
	// ErrPayloadTooLarge is returned when a frame would exceed MaxFrameSize.
	ErrPayloadTooLarge = errors.New("payload too large")
)

// Frame is the envelope shared by every message on the transport.
type Frame struct {
	Type    Type
	Sender  profile.PeerID
	Seq     uint32
	Payload []byte
}

// EncodeFrame serializes f. Oversized payloads are rejected rather than
// truncated.
func EncodeFrame(f Frame) ([]byte, error) {
	if len(f.Payload) > MaxPayloadSize {
		return nil, fmt.Errorf("%w: %d bytes, max %d", ErrPayloadTooLarge, len(f.Payload), MaxPayloadSize)
	}

	total := HeaderSize + len(f.Payload) + CRCSize
	data := make([]byte, total)
	copy(data[0:2], magic[:])
	data[2] = Version
	data[3] = byte(f.Type)
	copy(data[4:12], f.Sender[:])
	binary.LittleEndian.PutUint32(data[12:16], f.Seq)
	binary.LittleEndian.PutUint16(data[16:18], uint16(len(f.Payload)))
	copy(data[HeaderSize:], f.Payload)

	crcPos := HeaderSize + len(f.Payload)
	binary.LittleEndian.PutUint32(data[crcPos:], crc32.ChecksumIEEE(data[:crcPos]))
	return data, nil
}

// DecodeFrame validates the envelope and returns its contents. The payload
// is copied, so data may be reused by the caller.
func DecodeFrame(data []byte) (Frame, error) {
	if len(data) < HeaderSize+CRCSize {
		return Frame{}, malformed("short frame: %d bytes", len(data))
	}
	if len(data) > MaxFrameSize {
		return Frame{}, malformed("oversized frame: %d bytes", len(data))
	}
	if data[0] != magic[0] || data[1] != magic[1] {
		return Frame{}, malformed("bad magic %#x%02x", data[0], data[1])
	}
	if data[2] != Version {
		return Frame{}, malformed("unsupported version %d", data[2])
	}

	payloadLen := int(binary.LittleEndian.Uint16(data[16:18]))
	if HeaderSize+payloadLen+CRCSize != len(data) {
		return Frame{}, malformed("length mismatch: header says %d payload bytes, frame is %d bytes", payloadLen, len(data))
	}

	crcPos := HeaderSize + payloadLen
	if got, want := binary.LittleEndian.Uint32(data[crcPos:]), crc32.ChecksumIEEE(data[:crcPos]); got != want {
		return Frame{}, malformed("bad checksum %08x, want %08x", got, want)
	}

	f := Frame{
		Type:    Type(data[3]),
		Seq:     binary.LittleEndian.Uint32(data[12:16]),
		Payload: make([]byte, payloadLen),
	}
	copy(f.Sender[:], data[4:12])
	copy(f.Payload, data[HeaderSize:crcPos])
	return f, nil
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformed, fmt.Sprintf(format, args...))
}
