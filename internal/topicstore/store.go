// Package topicstore holds the broker's topic state: subscriber lists,
// per-topic message logs, per-connection read cursors and the global set of
// accepted message IDs.
//
// The store performs no I/O. Every exported method is a single critical
// section, so a request's mutations are never observed half-applied. Push
// delivery is left to the caller: Publish returns the subscribers to notify,
// captured under the same lock as the append.
package topicstore

import (
	"sort"
	"sync"
)

// ConnID identifies one client connection for its lifetime. IDs are handed
// out by the broker from a counter and never reused.
type ConnID uint64

// Entry is one published message in a topic log.
type Entry struct {
	Content   string
	MessageID string
}

type topic struct {
	name string

	// nil when the topic has no subscriber list entry.
	subscribers []ConnID

	log []Entry

	// Only connections that have pulled at least once appear here.
	cursors map[ConnID]int
}

func newTopic(name string) *topic {
	return &topic{
		name:    name,
		cursors: make(map[ConnID]int),
	}
}

func (t *topic) subscriberIndex(conn ConnID) int {
	for index, id := range t.subscribers {
		if id == conn {
			return index
		}
	}
	return -1
}

func (t *topic) removeSubscriber(conn ConnID) bool {
	var index = t.subscriberIndex(conn)
	if index < 0 {
		return false
	}

	t.subscribers = append(t.subscribers[:index], t.subscribers[index+1:]...)
	if len(t.subscribers) == 0 {
		t.subscribers = nil
	}
	return true
}

// Store is the single owner of all subscription, log, cursor and dedupe state.
type Store struct {
	mu     sync.Mutex
	topics map[string]*topic
	dedupe *dedupeSet

	truncations uint64
}

// New returns an empty store.
func New() *Store {
	return &Store{
		topics: make(map[string]*topic),
		dedupe: newDedupeSet(),
	}
}

func (s *Store) getOrCreateTopic(name string) *topic {
	var t = s.topics[name]
	if t == nil {
		t = newTopic(name)
		s.topics[name] = t
	}
	return t
}

// ---------------------------------------------------------------------------
// Subscriptions
// ---------------------------------------------------------------------------

// Subscribe adds conn to the topic's subscriber list. It is idempotent and
// reports whether conn was newly added.
func (s *Store) Subscribe(conn ConnID, name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	var t = s.getOrCreateTopic(name)
	if t.subscriberIndex(conn) >= 0 {
		return false
	}
	t.subscribers = append(t.subscribers, conn)
	return true
}

// Unsubscribe removes conn from the topic's subscriber list. The list entry
// is dropped once empty; the topic log is never touched. Unsubscribing a
// connection that is not subscribed is a no-op.
func (s *Store) Unsubscribe(conn ConnID, name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	var t = s.topics[name]
	if t == nil {
		return false
	}
	return t.removeSubscriber(conn)
}

// ---------------------------------------------------------------------------
// Publish / pull
// ---------------------------------------------------------------------------

// PublishResult describes the outcome of Publish.
type PublishResult struct {
	// Accepted is false when the message ID was already seen. Nothing was
	// stored and nobody should be notified in that case.
	Accepted bool
	Entry    Entry
	// Subscribers to push the entry to, in subscription order.
	Subscribers []ConnID
}

// Publish appends a message to the topic log unless its ID was accepted
// before, on any topic.
func (s *Store) Publish(name, content, messageID string) PublishResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	var entry = Entry{Content: content, MessageID: messageID}
	if s.dedupe.seenBefore(messageID) {
		return PublishResult{Entry: entry}
	}

	var t = s.getOrCreateTopic(name)
	t.log = append(t.log, entry)

	var subscribers []ConnID
	if len(t.subscribers) > 0 {
		subscribers = make([]ConnID, len(t.subscribers))
		copy(subscribers, t.subscribers)
	}

	return PublishResult{
		Accepted:    true,
		Entry:       entry,
		Subscribers: subscribers,
	}
}

// PullResult describes the outcome of GetMessages.
type PullResult struct {
	// Entries not yet pulled by the caller, in log order.
	Entries []Entry
	// Truncated is true when the pull let retention clear a non-empty log.
	Truncated bool
}

// GetMessages returns the entries the connection has not pulled yet and
// advances its cursor to the end of the log. Pulling does not require a
// subscription. Afterwards the retention check runs for the topic.
func (s *Store) GetMessages(conn ConnID, name string) PullResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	var t = s.getOrCreateTopic(name)
	var length = len(t.log)
	var cursor = t.cursors[conn]

	var result PullResult
	if cursor < length {
		result.Entries = make([]Entry, length-cursor)
		copy(result.Entries, t.log[cursor:length])
	}
	t.cursors[conn] = length

	if t.retain() {
		result.Truncated = true
		s.truncations++
	}
	return result
}

// ---------------------------------------------------------------------------
// Client lifecycle
// ---------------------------------------------------------------------------

// DisconnectResult reports what Disconnect removed.
type DisconnectResult struct {
	Subscriptions int
	Cursors       int
}

// Disconnect forgets every subscription and cursor held by conn. Logs, the
// dedupe set and other connections' cursors are left as they are.
func (s *Store) Disconnect(conn ConnID) DisconnectResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result DisconnectResult
	for _, t := range s.topics {
		if t.removeSubscriber(conn) {
			result.Subscriptions++
		}
		if _, ok := t.cursors[conn]; ok {
			delete(t.cursors, conn)
			result.Cursors++
		}
	}
	return result
}

// ---------------------------------------------------------------------------
// Inspection
// ---------------------------------------------------------------------------

// TopicInfo is a point-in-time copy of one topic's state.
type TopicInfo struct {
	Name        string
	Subscribers []ConnID
	LogLength   int
	Cursors     map[ConnID]int
}

func (t *topic) info() TopicInfo {
	var info = TopicInfo{
		Name:      t.name,
		LogLength: len(t.log),
		Cursors:   make(map[ConnID]int, len(t.cursors)),
	}
	if len(t.subscribers) > 0 {
		info.Subscribers = make([]ConnID, len(t.subscribers))
		copy(info.Subscribers, t.subscribers)
	}
	for conn, cursor := range t.cursors {
		info.Cursors[conn] = cursor
	}
	return info
}

// Topic returns a copy of the named topic's state.
func (s *Store) Topic(name string) (TopicInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var t = s.topics[name]
	if t == nil {
		return TopicInfo{}, false
	}
	return t.info(), true
}

// Topics returns a copy of every topic's state sorted by name.
func (s *Store) Topics() []TopicInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	var infos = make([]TopicInfo, 0, len(s.topics))
	for _, t := range s.topics {
		infos = append(infos, t.info())
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Name < infos[j].Name
	})
	return infos
}

// Subscribers returns the topic's subscriber list in subscription order.
func (s *Store) Subscribers(name string) []ConnID {
	s.mu.Lock()
	defer s.mu.Unlock()

	var t = s.topics[name]
	if t == nil || len(t.subscribers) == 0 {
		return nil
	}
	var out = make([]ConnID, len(t.subscribers))
	copy(out, t.subscribers)
	return out
}

// LogLength returns the number of entries currently held for the topic.
func (s *Store) LogLength(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	var t = s.topics[name]
	if t == nil {
		return 0
	}
	return len(t.log)
}

// Cursor returns conn's read position in the topic, if it has one.
func (s *Store) Cursor(conn ConnID, name string) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var t = s.topics[name]
	if t == nil {
		return 0, false
	}
	var cursor, ok = t.cursors[conn]
	return cursor, ok
}

// HasMessageID reports whether messageID was ever accepted.
func (s *Store) HasMessageID(messageID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dedupe.contains(messageID)
}

// Stats summarises the store.
type Stats struct {
	Topics        int
	Subscriptions int
	Entries       int
	Cursors       int
	DedupeIDs     int
	Truncations   uint64
}

// Stats counts topics, subscriptions, retained entries, cursors and
// remembered message IDs.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stats = Stats{
		Topics:      len(s.topics),
		DedupeIDs:   s.dedupe.size(),
		Truncations: s.truncations,
	}
	for _, t := range s.topics {
		stats.Subscriptions += len(t.subscribers)
		stats.Entries += len(t.log)
		stats.Cursors += len(t.cursors)
	}
	return stats
}
