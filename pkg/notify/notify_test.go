package notify

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/baderanaas/GoPass/pkg/profile"
)

// newTestDir creates a temporary directory for testing and returns its path.
func newTestDir(t *testing.T) string {
	dir, err := os.MkdirTemp("", "gopass-notify-")
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, os.RemoveAll(dir)) })
	return dir
}

var (
	p1 = profile.PeerID{1, 1, 1, 1, 1, 1, 1, 1}
	p2 = profile.PeerID{2, 2, 2, 2, 2, 2, 2, 2}
	t0 = time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
)

func TestJournalAppendAndLoad(t *testing.T) {
	dir := newTestDir(t)
	j, err := NewJournal(filepath.Join(dir, "logs", "encounters.jsonl"), zap.NewNop())
	require.NoError(t, err)

	// 1. Loading a journal that does not exist yet
	events, err := j.LoadRecent(10)
	require.NoError(t, err)
	require.Empty(t, events)

	// 2. Append a few events
	j.Notify(Event{Kind: NewEncounter, PeerID: p1, At: t0})
	j.Notify(Event{Kind: ExchangeComplete, PeerID: p1, At: t0.Add(time.Second)})
	j.Notify(Event{Kind: Forgotten, PeerID: p1, Reason: ReasonTTL, At: t0.Add(time.Hour)})

	// 3. Load them back
	events, err = j.LoadRecent(10)
	require.NoError(t, err)
	require.Len(t, events, 3)
	require.Equal(t, Event{Kind: NewEncounter, PeerID: p1, At: t0}, events[0])
	require.Equal(t, ReasonTTL, events[2].Reason)

	// 4. Only the most recent N
	events, err = j.LoadRecent(2)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, ExchangeComplete, events[0].Kind)
	require.Equal(t, Forgotten, events[1].Kind)
}

func TestJournalSkipsCorruptLines(t *testing.T) {
	dir := newTestDir(t)
	path := filepath.Join(dir, "encounters.jsonl")
	j, err := NewJournal(path, nil)
	require.NoError(t, err)

	require.NoError(t, j.Append(Event{Kind: NewEncounter, PeerID: p1, At: t0}))
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0600)
	require.NoError(t, err)
	_, err = f.WriteString("{not json\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())
	require.NoError(t, j.Append(Event{Kind: NewEncounter, PeerID: p2, At: t0}))

	events, err := j.LoadRecent(-1)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, p2, events[1].PeerID)
}

func TestMultiAndRecorder(t *testing.T) {
	var a, b Recorder
	m := Multi{&a, nil, &b}
	m.Notify(Event{Kind: NewEncounter, PeerID: p1})
	m.Notify(Event{Kind: NewEncounter, PeerID: p1})
	m.Notify(Event{Kind: Forgotten, PeerID: p2, Reason: ReasonEvicted})

	require.Len(t, a.Events(), 3)
	require.Len(t, b.Events(), 3)
	require.Equal(t, 2, a.Count(NewEncounter, p1))
	require.Equal(t, 1, b.Count(Forgotten, p2))
	require.Equal(t, 0, b.Count(ExchangeComplete, p1))
}

func TestIndicatorSink(t *testing.T) {
	var blinks []Pattern
	ind := IndicatorFunc(func(p Pattern) { blinks = append(blinks, p) })

	s := IndicatorSink{Indicator: ind}
	s.Notify(Event{Kind: NewEncounter, PeerID: p1})
	s.Notify(Event{Kind: ExchangeComplete, PeerID: p1})
	s.Notify(Event{Kind: Forgotten, PeerID: p1, Reason: ReasonTTL})
	require.Equal(t, []Pattern{PatternEncounter, PatternExchange}, blinks)

	s.Forget = true
	s.Notify(Event{Kind: Forgotten, PeerID: p1, Reason: ReasonTTL})
	require.Equal(t, PatternForget, blinks[len(blinks)-1])
}

func TestLogSink(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	s := LogSink{Logger: zap.New(core)}

	s.Notify(Event{Kind: NewEncounter, PeerID: p1})
	s.Notify(Event{Kind: Forgotten, PeerID: p2, Reason: ReasonEvicted})

	entries := logs.All()
	require.Len(t, entries, 2)
	require.Equal(t, "New encounter", entries[0].Message)
	require.Equal(t, p2.String(), entries[1].ContextMap()["peer"])
	require.Equal(t, "evicted", entries[1].ContextMap()["reason"])
}

func TestEventString(t *testing.T) {
	require.Equal(t, "new_encounter(01010101)", Event{Kind: NewEncounter, PeerID: p1}.String())
	require.Equal(t, "forgotten(02020202, evicted)", Event{Kind: Forgotten, PeerID: p2, Reason: ReasonEvicted}.String())
}
