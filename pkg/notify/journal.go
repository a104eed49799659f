package notify

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
)

// Journal appends every event as one JSON line to a file.
type Journal struct {
	path   string
	logger *zap.Logger
	mu     sync.Mutex
}

// NewJournal returns a journal writing to path, creating its directory.
func NewJournal(path string, logger *zap.Logger) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Journal{path: path, logger: logger}, nil
}

func (j *Journal) Path() string { return j.path }

// Notify implements Sink. Write failures are logged, never returned: a full
// disk must not stop discovery.
func (j *Journal) Notify(e Event) {
	if err := j.Append(e); err != nil {
		j.logger.Warn("Failed to journal event", zap.Stringer("event", e), zap.Error(err))
	}
}

// Append writes e to the end of the journal.
func (j *Journal) Append(e Event) error {
	line, err := json.Marshal(e)
	if err != nil {
		return err
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	f, err := os.OpenFile(j.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// LoadRecent returns the last count events, oldest first. A missing journal
// is not an error. Lines that fail to parse are skipped.
func (j *Journal) LoadRecent(count int) ([]Event, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	file, err := os.Open(j.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil // No history yet
		}
		return nil, err
	}
	defer file.Close()

	var events []Event
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var e Event
		if err := json.Unmarshal(scanner.Bytes(), &e); err == nil {
			events = append(events, e)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	if count >= 0 && len(events) > count {
		return events[len(events)-count:], nil
	}
	return events, nil
}
