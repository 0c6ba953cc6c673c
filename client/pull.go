package client

import "github.com/Thejuampi/minibroker/internal/protocol"

// splitPull separates the MESSAGE lines read for the pulled topic during one
// GetMessages call into the pull's entries and pushes that arrived around
// the reply.
//
// The broker writes a pull reply as one contiguous run of lines in log
// order, and pushes queued ahead of it are for entries the reply also holds.
// Those pushes show up as a leading run of IDs that recur later; the reply
// ends where the last of them recurs, and anything after it was pushed for
// a newer entry. Without a subscription nothing can be a push, and an empty
// reply makes every line a push.
func splitPull(lines []protocol.Response, subscribed, emptyReply bool) (entries, pushes []protocol.Response) {
	if emptyReply {
		return nil, lines
	}
	if !subscribed {
		return uniqueByID(lines), nil
	}

	lead := 0
	for lead < len(lines) && recurrence(lines, lead) >= 0 {
		lead++
	}
	if lead == 0 {
		return uniqueByID(lines), nil
	}

	end := recurrence(lines, lead-1)
	pushes = append(pushes, lines[:lead]...)
	pushes = append(pushes, lines[end+1:]...)
	return uniqueByID(lines[lead : end+1]), pushes
}

// recurrence is the index of the next line carrying the same message ID as
// lines[i], or -1.
func recurrence(lines []protocol.Response, i int) int {
	for j := i + 1; j < len(lines); j++ {
		if lines[j].MessageID == lines[i].MessageID {
			return j
		}
	}
	return -1
}

// uniqueByID keeps the first line for each message ID. The broker never
// logs an ID twice.
func uniqueByID(lines []protocol.Response) []protocol.Response {
	seen := make(map[string]struct{}, len(lines))
	out := make([]protocol.Response, 0, len(lines))
	for _, line := range lines {
		if _, ok := seen[line.MessageID]; ok {
			continue
		}
		seen[line.MessageID] = struct{}{}
		out = append(out, line)
	}
	return out
}
