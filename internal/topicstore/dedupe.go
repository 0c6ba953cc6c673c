package topicstore

// ---------------------------------------------------------------------------
// dedupeSet: global set of accepted message IDs.
//
// One set is shared by every topic and lives as long as the process. Nothing
// is ever evicted, so memory grows with the number of distinct IDs accepted.
// The set carries no lock of its own: every call happens inside the store's
// critical section, which makes check-and-insert atomic with the log append.
// ---------------------------------------------------------------------------

type dedupeSet struct {
	seen map[string]struct{}
}

func newDedupeSet() *dedupeSet {
	return &dedupeSet{seen: make(map[string]struct{})}
}

// seenBefore reports whether messageID was already accepted and records it
// when it was not. The empty string is an ordinary ID.
func (set *dedupeSet) seenBefore(messageID string) bool {
	var _, exists = set.seen[messageID]
	if exists {
		return true
	}

	set.seen[messageID] = struct{}{}
	return false
}

func (set *dedupeSet) contains(messageID string) bool {
	var _, exists = set.seen[messageID]
	return exists
}

func (set *dedupeSet) size() int {
	return len(set.seen)
}
