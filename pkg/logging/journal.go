package logging

import (
	"fmt"
	"sync"
	"time"
)

const defaultJournalSize = 500

// JournalEntry is one line of the operator diagnostic log
type JournalEntry struct {
	Time      time.Time `json:"time"`
	Level     string    `json:"level"`
	Component string    `json:"component"`
	Message   string    `json:"message"`
}

// String renders the entry the way the operator sees it
func (e JournalEntry) String() string {
	return fmt.Sprintf("[%s] %s", e.Time.Format("15:04:05"), e.Message)
}

// Journal is a bounded ring of recent log entries with live subscribers
type Journal struct {
	mu      sync.RWMutex
	entries []JournalEntry
	next    int
	full    bool

	subscribers map[chan JournalEntry]struct{}
}

// NewJournal creates a journal holding at most size entries
func NewJournal(size int) *Journal {
	if size <= 0 {
		size = defaultJournalSize
	}
	return &Journal{
		entries:     make([]JournalEntry, size),
		subscribers: make(map[chan JournalEntry]struct{}),
	}
}

// Add appends an entry, evicting the oldest when full
func (j *Journal) Add(level LogLevel, component, message string) {
	entry := JournalEntry{
		Time:      time.Now(),
		Level:     level.String(),
		Component: component,
		Message:   message,
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	j.entries[j.next] = entry
	j.next = (j.next + 1) % len(j.entries)
	if j.next == 0 {
		j.full = true
	}

	for ch := range j.subscribers {
		// Slow subscribers miss entries rather than stall the logger
		select {
		case ch <- entry:
		default:
		}
	}
}

// Len returns the number of retained entries
func (j *Journal) Len() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.full {
		return len(j.entries)
	}
	return j.next
}

// Recent returns up to n of the newest entries, oldest first.
// n <= 0 returns everything retained.
func (j *Journal) Recent(n int) []JournalEntry {
	j.mu.RLock()
	defer j.mu.RUnlock()

	count := j.next
	if j.full {
		count = len(j.entries)
	}
	if n <= 0 || n > count {
		n = count
	}

	out := make([]JournalEntry, 0, n)
	start := j.next - n
	if start < 0 {
		start += len(j.entries)
	}
	for i := 0; i < n; i++ {
		out = append(out, j.entries[(start+i)%len(j.entries)])
	}
	return out
}

// Clear drops every retained entry
func (j *Journal) Clear() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = make([]JournalEntry, len(j.entries))
	j.next = 0
	j.full = false
}

// Subscribe returns a channel receiving new entries and a cancel func
func (j *Journal) Subscribe(buffer int) (<-chan JournalEntry, func()) {
	ch := make(chan JournalEntry, buffer)

	j.mu.Lock()
	j.subscribers[ch] = struct{}{}
	j.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			j.mu.Lock()
			delete(j.subscribers, ch)
			j.mu.Unlock()
			close(ch)
		})
	}
}
