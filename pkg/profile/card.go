package profile

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/zeebo/blake3"
)

// DigestSize is the number of digest bytes carried in a beacon.
const DigestSize = 8

// Digest is a short fingerprint of a profile and its game data.
type Digest [DigestSize]byte

// card is the serialized form of a profile exchanged with peers. Integer
// keys keep it small enough for a single frame.
type card struct {
	Username string `cbor:"1,keyasint,omitempty"`
	Avatar   uint16 `cbor:"2,keyasint,omitempty"`
	Status   string `cbor:"3,keyasint,omitempty"`
	GameData []byte `cbor:"4,keyasint,omitempty"`
	HasGame  bool   `cbor:"5,keyasint,omitempty"`
}

var (
	cardEnc cbor.EncMode
	cardDec cbor.DecMode
)

func init() {
	var err error
	cardEnc, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("profile: CBOR encoder initialization failed: " + err.Error())
	}
	cardDec, err = cbor.DecOptions{
		MaxArrayElements: 16,
		MaxMapPairs:      16,
		MaxNestedLevels:  4,
	}.DecMode()
	if err != nil {
		panic("profile: CBOR decoder initialization failed: " + err.Error())
	}
}

// EncodeCard serializes p (without its PeerID, which travels in the frame
// header) and g using deterministic CBOR.
func EncodeCard(p Profile, g GameData) ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if err := ValidateGameData(g); err != nil {
		return nil, err
	}
	c := card{
		Username: p.Username,
		Avatar:   p.Avatar,
		Status:   p.Status,
		GameData: g,
		HasGame:  g != nil,
	}
	return cardEnc.Marshal(c)
}

// DecodeCard parses a card produced by EncodeCard and attributes it to id.
// The result is validated against the same bounds as the local profile.
func DecodeCard(id PeerID, data []byte) (Profile, GameData, error) {
	var c card
	if err := cardDec.Unmarshal(data, &c); err != nil {
		return Profile{}, nil, fmt.Errorf("decode profile card: %w", err)
	}
	p := Profile{
		PeerID:   id,
		Username: c.Username,
		Avatar:   c.Avatar,
		Status:   c.Status,
	}
	if err := p.Validate(); err != nil {
		return Profile{}, nil, err
	}
	var g GameData
	if c.HasGame {
		g = GameData(c.GameData)
		if g == nil {
			g = GameData{}
		}
	}
	if err := ValidateGameData(g); err != nil {
		return Profile{}, nil, err
	}
	return p, g, nil
}

// DigestOf fingerprints a profile and its game data.
func DigestOf(p Profile, g GameData) Digest {
	var d Digest
	data, err := EncodeCard(p, g)
	if err != nil {
		return d
	}
	sum := blake3.Sum256(data)
	copy(d[:], sum[:DigestSize])
	return d
}
