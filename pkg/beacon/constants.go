package beacon

// Frame layout, little-endian:
//
//	Magic "SP" (2) | Version (1) | Type (1) | Sender (8) | Seq (4) | PayloadLen (2) | Payload | CRC32 (4)
//
// The CRC32 (IEEE) covers every byte before it.
const (
	MagicSize      = 2
	VersionSize    = 1
	TypeSize       = 1
	SenderSize     = 8
	SeqSize        = 4
	PayloadLenSize = 2
	CRCSize        = 4

	HeaderSize = MagicSize + VersionSize + TypeSize + SenderSize + SeqSize + PayloadLenSize // 18 bytes

	// MaxFrameSize bounds a frame on the air.
	MaxFrameSize = 1024

	MaxPayloadSize = MaxFrameSize - HeaderSize - CRCSize

	Version = 1
)

var magic = [MagicSize]byte{'S', 'P'}

// Type identifies what a frame carries.
type Type byte

const (
	TypeBeacon          Type = 0x01
	TypeProfileRequest  Type = 0x02
	TypeProfileResponse Type = 0x03
)

func (t Type) String() string {
	switch t {
	case TypeBeacon:
		return "beacon"
	case TypeProfileRequest:
		return "profile-request"
	case TypeProfileResponse:
		return "profile-response"
	default:
		return "unknown"
	}
}

// Flags advertise sender capabilities in a beacon.
type Flags byte

const (
	// FlagExchange means the sender answers profile requests.
	FlagExchange Flags = 1 << iota
	// FlagGameData means the sender's profile carries game data.
	FlagGameData
)

func (f Flags) Has(flag Flags) bool { return f&flag != 0 }

const (
	// MaxSummaryName bounds the name summary carried in every beacon.
	MaxSummaryName = 16

	beaconFixedSize   = 1 + 8 + 1 // flags, digest, name length
	sessionIDSize     = 16
	addressedSize     = SenderSize + sessionIDSize
	minResponseLength = addressedSize
)
