package client

import "sync"

const defaultSeenCapacity = 4096

// seenTracker remembers the most recent message IDs handed to the
// application. Once full, the oldest ID is forgotten first.
type seenTracker struct {
	mu       sync.Mutex
	capacity int
	seen     map[string]struct{}
	order    []string
}

// newSeenTracker returns nil when capacity is not positive, which disables
// tracking.
func newSeenTracker(capacity int) *seenTracker {
	if capacity <= 0 {
		return nil
	}
	return &seenTracker{
		capacity: capacity,
		seen:     make(map[string]struct{}, capacity),
	}
}

// seenBefore reports whether messageID was already recorded and records it
// if not.
func (tracker *seenTracker) seenBefore(messageID string) bool {
	if tracker == nil {
		return false
	}

	tracker.mu.Lock()
	defer tracker.mu.Unlock()

	var _, exists = tracker.seen[messageID]
	if exists {
		return true
	}

	tracker.seen[messageID] = struct{}{}
	tracker.order = append(tracker.order, messageID)

	if len(tracker.order) > tracker.capacity {
		var evicted = tracker.order[0]
		tracker.order = tracker.order[1:]
		delete(tracker.seen, evicted)
	}

	return false
}

func (tracker *seenTracker) size() int {
	if tracker == nil {
		return 0
	}
	tracker.mu.Lock()
	defer tracker.mu.Unlock()
	return len(tracker.order)
}
