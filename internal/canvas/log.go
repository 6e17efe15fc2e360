package canvas

// Log is the ordered record of drawing actions. Insertion order is render
// order: later actions draw over earlier ones. The log itself is not
// goroutine-safe; the session serializes every mutation.
type Log struct {
	actions []Action
}

func NewLog() *Log {
	return &Log{actions: make([]Action, 0)}
}

func (l *Log) Append(a Action) {
	l.actions = append(l.actions, a)
}

func (l *Log) Len() int {
	return len(l.actions)
}

// Snapshot returns an independent copy of the full history.
func (l *Log) Snapshot() []Action {
	return CloneAll(l.actions)
}

// Replace swaps the whole history for a copy of the given one.
func (l *Log) Replace(history []Action) {
	l.actions = CloneAll(history)
}

func (l *Log) Clear() {
	l.actions = l.actions[:0]
}

// LastStrokeOf scans from the end for the most recent stroke id recorded
// by owner. The second return is false when the owner has nothing left in
// the log.
func (l *Log) LastStrokeOf(owner string) (int64, bool) {
	for i := len(l.actions) - 1; i >= 0; i-- {
		if l.actions[i].Owner == owner {
			return l.actions[i].StrokeID, true
		}
	}
	return 0, false
}

// RemoveGroup removes every action of the (owner, strokeID) stroke group,
// preserving the relative order of what remains, and returns the removed
// actions in their original order.
func (l *Log) RemoveGroup(owner string, strokeID int64) []Action {
	var removed []Action
	kept := l.actions[:0]
	for _, a := range l.actions {
		if a.Owner == owner && a.StrokeID == strokeID {
			removed = append(removed, a)
			continue
		}
		kept = append(kept, a)
	}
	l.actions = kept
	return removed
}
