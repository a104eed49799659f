package profile

import (
	"sync"
)

// Store owns this device's profile. It is passed explicitly to whatever
// needs to read it; there is no process-wide instance.
//
// Readers take a Snapshot so a beacon or exchange response is built from one
// consistent view even if the owner edits the profile concurrently.
type Store struct {
	mu       sync.RWMutex
	profile  Profile
	gameData GameData
	digest   Digest
}

// NewStore validates p and g and returns a store holding them.
func NewStore(p Profile, g GameData) (*Store, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if err := ValidateGameData(g); err != nil {
		return nil, err
	}
	s := &Store{profile: p, gameData: g.Clone()}
	s.digest = DigestOf(s.profile, s.gameData)
	return s, nil
}

// ID returns the local PeerID.
func (s *Store) ID() PeerID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.profile.PeerID
}

// Snapshot returns copies of the profile, game data and their digest.
func (s *Store) Snapshot() (Profile, GameData, Digest) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.profile, s.gameData.Clone(), s.digest
}

func (s *Store) SetUsername(name string) error {
	return s.update(func(p *Profile, _ *GameData) { p.Username = name })
}

func (s *Store) SetStatus(status string) error {
	return s.update(func(p *Profile, _ *GameData) { p.Status = status })
}

func (s *Store) SetAvatar(avatar uint16) error {
	return s.update(func(p *Profile, _ *GameData) { p.Avatar = avatar })
}

// SetGameData replaces the game data; nil clears it.
func (s *Store) SetGameData(g GameData) error {
	return s.update(func(_ *Profile, gd *GameData) { *gd = g.Clone() })
}

// update applies fn to a copy and commits it only if the result is valid.
func (s *Store) update(fn func(*Profile, *GameData)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, g := s.profile, s.gameData
	fn(&p, &g)
	if err := p.Validate(); err != nil {
		return err
	}
	if err := ValidateGameData(g); err != nil {
		return err
	}
	p.PeerID = s.profile.PeerID
	s.profile, s.gameData = p, g
	s.digest = DigestOf(p, g)
	return nil
}
