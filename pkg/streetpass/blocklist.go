package streetpass

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/baderanaas/GoPass/pkg/profile"
)

// BlockedPeer is one blocklist entry.
type BlockedPeer struct {
	PeerID profile.PeerID `json:"peerId"`
	Name   string         `json:"name,omitempty"`
	Since  time.Time      `json:"since"`
}

// Blocklist holds the peers whose frames are ignored. With an empty file
// path it lives in memory only.
type Blocklist struct {
	entries  map[profile.PeerID]BlockedPeer
	lock     sync.RWMutex
	filePath string
}

// NewBlocklist creates a Blocklist backed by filePath and loads it.
func NewBlocklist(filePath string) (*Blocklist, error) {
	bl := &Blocklist{
		filePath: filePath,
		entries:  make(map[profile.PeerID]BlockedPeer),
	}
	if err := bl.Load(); err != nil {
		return nil, err
	}
	return bl, nil
}

// Load replaces the in-memory entries with the file's contents.
func (bl *Blocklist) Load() error {
	if bl.filePath == "" {
		return nil
	}

	bl.lock.Lock()
	defer bl.lock.Unlock()

	file, err := os.ReadFile(bl.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			bl.entries = make(map[profile.PeerID]BlockedPeer)
			return nil
		}
		return err
	}

	var list []BlockedPeer
	if err := json.Unmarshal(file, &list); err != nil {
		return err
	}
	bl.entries = make(map[profile.PeerID]BlockedPeer, len(list))
	for _, e := range list {
		bl.entries[e.PeerID] = e
	}
	return nil
}

// Save writes the blocklist to its file.
func (bl *Blocklist) Save() error {
	if bl.filePath == "" {
		return nil
	}

	file, err := json.MarshalIndent(bl.List(), "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(bl.filePath), 0700); err != nil {
		return err
	}
	return os.WriteFile(bl.filePath, file, 0600)
}

// Add blocks a peer. It returns false if the peer was already blocked.
func (bl *Blocklist) Add(entry BlockedPeer) bool {
	bl.lock.Lock()
	defer bl.lock.Unlock()

	if _, exists := bl.entries[entry.PeerID]; exists {
		return false
	}
	bl.entries[entry.PeerID] = entry
	return true
}

// Remove unblocks a peer. It returns false if the peer was not blocked.
func (bl *Blocklist) Remove(id profile.PeerID) bool {
	bl.lock.Lock()
	defer bl.lock.Unlock()

	if _, exists := bl.entries[id]; !exists {
		return false
	}
	delete(bl.entries, id)
	return true
}

func (bl *Blocklist) Contains(id profile.PeerID) bool {
	bl.lock.RLock()
	defer bl.lock.RUnlock()
	_, exists := bl.entries[id]
	return exists
}

// List returns every entry, oldest block first.
func (bl *Blocklist) List() []BlockedPeer {
	bl.lock.RLock()
	list := make([]BlockedPeer, 0, len(bl.entries))
	for _, e := range bl.entries {
		list = append(list, e)
	}
	bl.lock.RUnlock()

	sort.Slice(list, func(i, j int) bool {
		if !list[i].Since.Equal(list[j].Since) {
			return list[i].Since.Before(list[j].Since)
		}
		return list[i].PeerID.String() < list[j].PeerID.String()
	})
	return list
}
