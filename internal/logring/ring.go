// Package logring keeps the most recent service log lines in memory and fans
// new lines out to subscribers such as the log page and the web panel.
package logring

import (
	"bytes"
	"sync"
)

// DefaultCapacity is the number of lines kept when none is given.
const DefaultCapacity = 1000

// Ring is a bounded line buffer. It implements io.Writer so it can sit behind
// a logger; partial writes are held until the line is complete.
type Ring struct {
	mu      sync.RWMutex
	lines   []string
	start   int
	count   int
	pending []byte

	subs   map[int]chan string
	nextID int

	dropped int64
}

// New creates a ring holding up to capacity lines.
func New(capacity int) *Ring {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Ring{
		lines: make([]string, capacity),
		subs:  make(map[int]chan string),
	}
}

// Write appends every complete line in p.
func (r *Ring) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.pending = append(r.pending, p...)
	for {
		i := bytes.IndexByte(r.pending, '\n')
		if i < 0 {
			break
		}
		line := string(bytes.TrimRight(r.pending[:i], "\r"))
		r.pending = r.pending[i+1:]
		r.appendLocked(line)
	}
	if len(r.pending) == 0 {
		r.pending = nil
	}
	return len(p), nil
}

// Append adds a single line.
func (r *Ring) Append(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.appendLocked(line)
}

func (r *Ring) appendLocked(line string) {
	capacity := len(r.lines)
	idx := (r.start + r.count) % capacity
	r.lines[idx] = line
	if r.count < capacity {
		r.count++
	} else {
		r.start = (r.start + 1) % capacity
	}

	for _, ch := range r.subs {
		select {
		case ch <- line:
		default:
			// Slow subscriber; it can resync from Lines.
			r.dropped++
		}
	}
}

// Lines returns the buffered lines, oldest first.
func (r *Ring) Lines() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, r.count)
	for i := 0; i < r.count; i++ {
		out[i] = r.lines[(r.start+i)%len(r.lines)]
	}
	return out
}

// Len returns the number of buffered lines.
func (r *Ring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}

// Clear drops all buffered lines. Subscribers stay attached.
func (r *Ring) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.lines {
		r.lines[i] = ""
	}
	r.start, r.count = 0, 0
	r.pending = nil
}

// Subscribe returns a channel receiving every line appended from now on and a
// cancel func that detaches and closes it.
func (r *Ring) Subscribe(buffer int) (<-chan string, func()) {
	if buffer <= 0 {
		buffer = 64
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.nextID
	r.nextID++
	ch := make(chan string, buffer)
	r.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			delete(r.subs, id)
			close(ch)
		})
	}
	return ch, cancel
}

// Subscribers returns the number of attached subscribers.
func (r *Ring) Subscribers() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

// Dropped returns how many deliveries were skipped for slow subscribers.
func (r *Ring) Dropped() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.dropped
}
