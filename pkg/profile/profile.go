package profile

import (
	"encoding/hex"
	"errors"
	"fmt"
	"unicode/utf8"
)

const (
	// PeerIDSize is the width of a PeerID on the wire.
	PeerIDSize = 8

	MaxUsernameLen  = 32
	MaxStatusLen    = 64
	MaxGameDataSize = 256

	// DefaultUsername is shown for devices whose owner never set a name.
	DefaultUsername = "Unknown"
)

var (
	ErrFieldTooLong  = errors.New("profile field too long")
	ErrInvalidText   = errors.New("profile field is not valid UTF-8")
	ErrInvalidPeerID = errors.New("invalid peer id")
)

// PeerID is a self-asserted device identifier. It is chosen once per device
// and never verified by the protocol.
type PeerID [PeerIDSize]byte

func (id PeerID) String() string {
	return hex.EncodeToString(id[:])
}

// Short returns the first 8 hex characters, for display.
func (id PeerID) Short() string {
	return id.String()[:8]
}

func (id PeerID) IsZero() bool {
	return id == PeerID{}
}

// MarshalText lets PeerID act as a JSON/YAML map key and string value.
func (id PeerID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *PeerID) UnmarshalText(text []byte) error {
	parsed, err := ParsePeerID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// ParsePeerID parses the 16 hex character form produced by String.
func ParsePeerID(s string) (PeerID, error) {
	var id PeerID
	if hex.DecodedLen(len(s)) != PeerIDSize {
		return id, fmt.Errorf("%w: %q has length %d", ErrInvalidPeerID, s, len(s))
	}
	if _, err := hex.Decode(id[:], []byte(s)); err != nil {
		return id, fmt.Errorf("%w: %v", ErrInvalidPeerID, err)
	}
	return id, nil
}

// GameData is an opaque application payload attached to a profile.
// A nil GameData means none.
type GameData []byte

// Clone returns an independent copy, preserving nil.
func (g GameData) Clone() GameData {
	if g == nil {
		return nil
	}
	out := make(GameData, len(g))
	copy(out, g)
	return out
}

// Profile is the identity a device shows to the peers it meets.
type Profile struct {
	PeerID   PeerID
	Username string
	Avatar   uint16
	Status   string
}

// DisplayName returns the username or DefaultUsername when it is empty.
func (p Profile) DisplayName() string {
	if p.Username == "" {
		return DefaultUsername
	}
	return p.Username
}

// Validate checks the field bounds shared by the local store and the
// exchange decoder.
func (p Profile) Validate() error {
	if err := checkText("username", p.Username, MaxUsernameLen); err != nil {
		return err
	}
	return checkText("status", p.Status, MaxStatusLen)
}

// ValidateGameData checks the game data bound.
func ValidateGameData(g GameData) error {
	if len(g) > MaxGameDataSize {
		return fmt.Errorf("%w: game data is %d bytes, max %d", ErrFieldTooLong, len(g), MaxGameDataSize)
	}
	return nil
}

func checkText(field, value string, max int) error {
	if len(value) > max {
		return fmt.Errorf("%w: %s is %d bytes, max %d", ErrFieldTooLong, field, len(value), max)
	}
	if !utf8.ValidString(value) {
		return fmt.Errorf("%w: %s", ErrInvalidText, field)
	}
	return nil
}
