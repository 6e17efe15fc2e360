package canvas

// RedoLedger holds, per user, the stroke groups removed by undo, most
// recent on top. Stacks are created lazily on first push and dropped
// whenever the user draws something new or the board is cleared or
// reloaded. Like Log, it relies on the session for serialization.
type RedoLedger struct {
	stacks map[string][][]Action
}

func NewRedoLedger() *RedoLedger {
	return &RedoLedger{stacks: make(map[string][][]Action)}
}

// Push records an undone stroke group for owner.
func (r *RedoLedger) Push(owner string, group []Action) {
	r.stacks[owner] = append(r.stacks[owner], group)
}

// Pop returns the most recently undone group for owner, or nil when there
// is nothing to redo.
func (r *RedoLedger) Pop(owner string) []Action {
	stack := r.stacks[owner]
	if len(stack) == 0 {
		return nil
	}
	group := stack[len(stack)-1]
	r.stacks[owner] = stack[:len(stack)-1]
	return group
}

// Drop invalidates owner's forward history. Called when the owner records
// a new action after an undo.
func (r *RedoLedger) Drop(owner string) {
	delete(r.stacks, owner)
}

// Reset clears every user's stack. Called on board clear and reload.
func (r *RedoLedger) Reset() {
	r.stacks = make(map[string][][]Action)
}

func (r *RedoLedger) Depth(owner string) int {
	return len(r.stacks[owner])
}
