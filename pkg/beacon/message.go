package beacon

import (
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/baderanaas/GoPass/pkg/profile"
)

// Message is a decoded frame.
type Message interface {
	Kind() Type
	From() profile.PeerID
	Sequence() uint32
}

// Header carries the envelope fields common to every message.
type Header struct {
	Sender profile.PeerID
	Seq    uint32
}

func (h Header) From() profile.PeerID { return h.Sender }
func (h Header) Sequence() uint32     { return h.Seq }

// Beacon is the periodic presence announcement. It carries a summary of the
// sender's profile, not the profile itself.
type Beacon struct {
	Header
	Flags  Flags
	Digest profile.Digest
	Name   string
}

func (Beacon) Kind() Type { return TypeBeacon }

// ProfileRequest asks Target for its full profile.
type ProfileRequest struct {
	Header
	Target  profile.PeerID
	Session uuid.UUID
}

func (ProfileRequest) Kind() Type { return TypeProfileRequest }

// ProfileResponse answers a ProfileRequest with the sender's full profile.
type ProfileResponse struct {
	Header
	Target   profile.PeerID
	Session  uuid.UUID
	Profile  profile.Profile
	GameData profile.GameData
}

func (ProfileResponse) Kind() Type { return TypeProfileResponse }

// NewBeacon builds the beacon announcing p.
func NewBeacon(seq uint32, p profile.Profile, g profile.GameData, digest profile.Digest) Beacon {
	flags := FlagExchange
	if g != nil {
		flags |= FlagGameData
	}
	return Beacon{
		Header: Header{Sender: p.PeerID, Seq: seq},
		Flags:  flags,
		Digest: digest,
		Name:   Summarize(p.DisplayName()),
	}
}

// Summarize cuts name to at most MaxSummaryName bytes on a rune boundary.
func Summarize(name string) string {
	if len(name) <= MaxSummaryName {
		return name
	}
	cut := MaxSummaryName
	for cut > 0 && !utf8.RuneStart(name[cut]) {
		cut--
	}
	return name[:cut]
}

// Encode serializes m into a complete frame.
func Encode(m Message) ([]byte, error) {
	var payload []byte
	switch msg := m.(type) {
	case Beacon:
		name := Summarize(msg.Name)
		payload = make([]byte, 0, beaconFixedSize+len(name))
		payload = append(payload, byte(msg.Flags))
		payload = append(payload, msg.Digest[:]...)
		payload = append(payload, byte(len(name)))
		payload = append(payload, name...)
	case ProfileRequest:
		payload = appendAddress(nil, msg.Target, msg.Session)
	case ProfileResponse:
		body, err := profile.EncodeCard(msg.Profile, msg.GameData)
		if err != nil {
			return nil, err
		}
		payload = appendAddress(make([]byte, 0, addressedSize+len(body)), msg.Target, msg.Session)
		payload = append(payload, body...)
	default:
		return nil, malformed("cannot encode %T", m)
	}
	return EncodeFrame(Frame{Type: m.Kind(), Sender: m.From(), Seq: m.Sequence(), Payload: payload})
}

// Decode validates data and returns the message it carries. Any structural
// problem yields an error wrapping ErrMalformed; Decode never panics.
func Decode(data []byte) (Message, error) {
	f, err := DecodeFrame(data)
	if err != nil {
		return nil, err
	}
	h := Header{Sender: f.Sender, Seq: f.Seq}
	p := f.Payload

	switch f.Type {
	case TypeBeacon:
		if len(p) < beaconFixedSize {
			return nil, malformed("beacon payload is %d bytes", len(p))
		}
		nameLen := int(p[9])
		if nameLen > MaxSummaryName || len(p) != beaconFixedSize+nameLen {
			return nil, malformed("beacon name length %d does not fit payload of %d bytes", nameLen, len(p))
		}
		name := string(p[beaconFixedSize:])
		if !utf8.ValidString(name) {
			return nil, malformed("beacon name is not UTF-8")
		}
		b := Beacon{Header: h, Flags: Flags(p[0]), Name: name}
		copy(b.Digest[:], p[1:9])
		return b, nil

	case TypeProfileRequest:
		if len(p) != addressedSize {
			return nil, malformed("profile request payload is %d bytes", len(p))
		}
		target, session := readAddress(p)
		return ProfileRequest{Header: h, Target: target, Session: session}, nil

	case TypeProfileResponse:
		if len(p) < minResponseLength {
			return nil, malformed("profile response payload is %d bytes", len(p))
		}
		target, session := readAddress(p)
		prof, gd, err := profile.DecodeCard(f.Sender, p[addressedSize:])
		if err != nil {
			return nil, malformed("profile response body: %v", err)
		}
		return ProfileResponse{Header: h, Target: target, Session: session, Profile: prof, GameData: gd}, nil

	default:
		return nil, malformed("unknown frame type %#x", byte(f.Type))
	}
}

func appendAddress(dst []byte, target profile.PeerID, session uuid.UUID) []byte {
	dst = append(dst, target[:]...)
	return append(dst, session[:]...)
}

func readAddress(p []byte) (profile.PeerID, uuid.UUID) {
	var target profile.PeerID
	var session uuid.UUID
	copy(target[:], p[:SenderSize])
	copy(session[:], p[SenderSize:addressedSize])
	return target, session
}
