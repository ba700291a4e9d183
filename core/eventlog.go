package core

import "time"

// EventFilter selects a window of a session's event log. Zero values mean
// "no constraint". When both are set the recency window is computed over
// the time-filtered subsequence.
type EventFilter struct {
	// NumRecentEvents keeps only the last N events (0 keeps all).
	NumRecentEvents int
	// After keeps only events with a timestamp strictly after it.
	After time.Time
}

// Validate rejects negative recency counts.
func (f EventFilter) Validate() error {
	if f.NumRecentEvents < 0 {
		return InvalidArgumentf("num_recent_events must not be negative, got %d", f.NumRecentEvents)
	}
	return nil
}

// EventLog is the append-only, chronologically ordered event sequence of a
// session. Events are never removed or modified once appended.
type EventLog []Event

// Append inserts ev at the logical end of the log.
func (l *EventLog) Append(ev Event) {
	*l = append(*l, ev)
}

// Len returns the number of events.
func (l EventLog) Len() int { return len(l) }

// Contains reports whether an event with id is present.
func (l EventLog) Contains(id string) bool {
	for i := range l {
		if l[i].ID == id {
			return true
		}
	}
	return false
}

// Recent returns copies of the last n events, oldest first. n <= 0 or n
// larger than the log returns the whole log.
func (l EventLog) Recent(n int) EventLog {
	if n <= 0 || n >= len(l) {
		return l.clone()
	}
	return l[len(l)-n:].clone()
}

// After returns copies of every event with a timestamp strictly after t,
// in chronological order.
func (l EventLog) After(t time.Time) EventLog {
	out := make(EventLog, 0, len(l))
	for i := range l {
		if l[i].Timestamp.After(t) {
			out = append(out, l[i].Clone())
		}
	}
	return out
}

// Select applies f: the time filter first, then the recency window.
func (l EventLog) Select(f EventFilter) EventLog {
	sel := l
	if !f.After.IsZero() {
		sel = sel.After(f.After)
	}
	return sel.Recent(f.NumRecentEvents)
}

// ConversationHistory projects the content of every event in order,
// skipping events without content. The agent runtime uses it to rebuild
// the prior turns before calling a model.
func (l EventLog) ConversationHistory() []Content {
	out := make([]Content, 0, len(l))
	for i := range l {
		if l[i].Content == nil {
			continue
		}
		out = append(out, l[i].Content.Clone())
	}
	return out
}

func (l EventLog) clone() EventLog {
	out := make(EventLog, len(l))
	for i := range l {
		out[i] = l[i].Clone()
	}
	return out
}
