package topicstore

// ---------------------------------------------------------------------------
// Retention.
//
// A topic log is cleared once every connection with a cursor on the topic has
// read all of it. Connections that never pulled from the topic have no
// cursor and take no part in the decision: they cannot hold the log back,
// and a later first pull only sees what was appended after the truncation.
// Pushed deliveries do not count as reads.
// ---------------------------------------------------------------------------

// retain truncates the log and rewinds every cursor to zero when all
// recorded cursors sit at the end of the log. It reports whether entries
// were dropped.
func (t *topic) retain() bool {
	var length = len(t.log)
	for _, cursor := range t.cursors {
		if cursor != length {
			return false
		}
	}

	t.log = nil
	for conn := range t.cursors {
		t.cursors[conn] = 0
	}
	return length > 0
}
