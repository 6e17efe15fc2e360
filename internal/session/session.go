package session

import (
	"log"
	"sync"
	"time"

	"github.com/sketchwall/backend/internal/canvas"
)

// Observer is the server-to-client callback surface. One implementation
// exists per connected client. Every method may fail; the session treats a
// failure as that recipient's problem and never lets it abort a broadcast.
type Observer interface {
	ReceiveAction(a canvas.Action) error
	ReceiveFullHistory(history []canvas.Action) error
	ReceiveChat(sender, text string) error
	UpdateUserList(names []string) error
	NotifyJoinRequest(candidate string) error
	NotifyJoinDecision(approved bool) error
	NotifyBoardClosed() error
	ReceiveKick() error
}

// Delay between notifying observers of a close and terminating the
// session, so in-flight deliveries can drain.
const closeGrace = 200 * time.Millisecond

// Session is the authoritative coordinator for one shared board. It owns
// the action log, the per-user redo ledger, and the membership registry,
// and serializes every state-changing operation under a single mutex:
// undo scans and full-history broadcasts are not safe to interleave with
// concurrent appends.
type Session struct {
	mu sync.Mutex

	admin   string
	active  map[string]Observer
	order   []string // active usernames in registration order
	pending map[string]Observer

	history *canvas.Log
	redo    *canvas.RedoLedger

	closed bool
	done   chan struct{}
}

func New() *Session {
	return &Session{
		active:  make(map[string]Observer),
		pending: make(map[string]Observer),
		history: canvas.NewLog(),
		redo:    canvas.NewRedoLedger(),
		done:    make(chan struct{}),
	}
}

// Done is closed shortly after CloseBoard succeeds. The process owner
// treats it like a termination signal.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Register admits a user directly. The first registrant becomes the admin
// for the life of the session. Returns an independent snapshot of the
// current history plus the active-user list, so the new client can render
// the board immediately.
func (s *Session) Register(name string, obs Observer) ([]canvas.Action, []string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, nil, ErrClosed
	}
	if _, taken := s.active[name]; taken {
		return nil, nil, ErrNameUnavailable
	}
	if _, waiting := s.pending[name]; waiting {
		return nil, nil, ErrNameUnavailable
	}

	if s.admin == "" {
		s.admin = name
		log.Printf("User %q registered as session admin", name)
	} else {
		log.Printf("User %q registered", name)
	}
	s.active[name] = obs
	s.order = append(s.order, name)

	s.broadcastUserList()
	return s.history.Snapshot(), s.userList(), nil
}

// RequestJoin queues a join request for admin approval and reports
// whether it was queued. A name collision is answered with an immediate
// rejection to the requester, without involving the admin; this is a side
// effect, not an error, so flooding a taken name stays cheap.
func (s *Session) RequestJoin(name string, obs Observer) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	_, taken := s.active[name]
	if !taken {
		_, taken = s.pending[name]
	}
	if taken {
		s.deliver(name, func() error { return obs.NotifyJoinDecision(false) })
		return false
	}
	if s.admin == "" {
		log.Printf("Join request from %q ignored: no admin registered", name)
		return false
	}

	s.pending[name] = obs
	admin := s.active[s.admin]
	if admin != nil {
		s.deliver(s.admin, func() error { return admin.NotifyJoinRequest(name) })
	}
	return true
}

// AbandonJoin drops a pending request whose requester went away before a
// decision was made, freeing the name. No notice is sent; there is nobody
// left to receive it. No-op if the name is not pending.
func (s *Session) AbandonJoin(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.pending[name]; !ok {
		return
	}
	delete(s.pending, name)
	log.Printf("Join request from %q abandoned", name)
}

// ApproveJoin moves a pending user into the active set, sends them the
// full history and an approval notice, and broadcasts the new user list.
// No-op if the name is not pending.
func (s *Session) ApproveJoin(caller, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if caller != s.admin {
		return ErrNotAdmin
	}
	obs, ok := s.pending[name]
	if !ok {
		return nil
	}
	delete(s.pending, name)
	s.active[name] = obs
	s.order = append(s.order, name)
	log.Printf("Admin approved join of %q", name)

	s.broadcastUserList()
	snapshot := s.history.Snapshot()
	s.deliver(name, func() error { return obs.ReceiveFullHistory(snapshot) })
	s.deliver(name, func() error { return obs.NotifyJoinDecision(true) })
	return nil
}

// RejectJoin removes a pending user with a rejection notice. No-op if the
// name is not pending.
func (s *Session) RejectJoin(caller, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if caller != s.admin {
		return ErrNotAdmin
	}
	obs, ok := s.pending[name]
	if !ok {
		return nil
	}
	delete(s.pending, name)
	log.Printf("Admin rejected join of %q", name)
	s.deliver(name, func() error { return obs.NotifyJoinDecision(false) })
	return nil
}

// BroadcastAction appends one drawing action to the shared log and fans it
// out to every active client, the sender included. Clients already applied
// their own action locally and treat the echo as an idempotent append. A
// new action invalidates the owner's redo history. Actions from a name
// that is not an active member are dropped: pending joiners and kicked
// users hold no write access.
func (s *Session) BroadcastAction(a canvas.Action) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.active[a.Owner]; !ok {
		log.Printf("⚠️ Dropping action from non-member %q", a.Owner)
		return
	}
	s.history.Append(a.Clone())
	s.redo.Drop(a.Owner)
	for name, obs := range s.active {
		obs := obs
		s.deliver(name, func() error { return obs.ReceiveAction(a) })
	}
}

// SendChat fans a chat line out to every active client. Chat is not
// persisted and has no history. Non-members cannot speak.
func (s *Session) SendChat(sender, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.active[sender]; !ok {
		return
	}
	for name, obs := range s.active {
		obs := obs
		s.deliver(name, func() error { return obs.ReceiveChat(sender, text) })
	}
}

// Undo removes the user's most recent stroke group from the log and parks
// it on their redo stack. Because removal is a non-local edit, every
// client receives the entire resulting history rather than a diff. No-op
// when the user has nothing left in the log or is not an active member.
func (s *Session) Undo(user string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, active := s.active[user]; !active {
		return
	}
	strokeID, ok := s.history.LastStrokeOf(user)
	if !ok {
		return
	}
	removed := s.history.RemoveGroup(user, strokeID)
	s.redo.Push(user, removed)
	s.broadcastFullHistory()
}

// Redo re-appends the user's most recently undone stroke group at the end
// of the log and broadcasts just those actions. The group now renders
// after everything drawn since its removal; that z-order change is the
// documented behavior. No-op when the redo stack is empty or the user is
// not an active member.
func (s *Session) Redo(user string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, active := s.active[user]; !active {
		return
	}
	group := s.redo.Pop(user)
	if group == nil {
		return
	}
	for _, a := range group {
		s.history.Append(a)
	}
	for name, obs := range s.active {
		obs := obs
		for _, a := range group {
			a := a
			s.deliver(name, func() error { return obs.ReceiveAction(a) })
		}
	}
}

// LoadHistory replaces the whole board with a previously saved history.
// All undo/redo state becomes meaningless and is dropped.
func (s *Session) LoadHistory(history []canvas.Action) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.history.Replace(history)
	s.redo.Reset()
	s.broadcastFullHistory()
}

// ClearBoard wipes the log and every user's ledger, then broadcasts the
// empty history.
func (s *Session) ClearBoard() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.history.Clear()
	s.redo.Reset()
	s.broadcastFullHistory()
}

// Unregister removes a user and broadcasts the updated list. Safe to call
// for names that were never registered; disconnect races make that normal.
func (s *Session) Unregister(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unregisterLocked(name)
}

func (s *Session) unregisterLocked(name string) {
	if _, ok := s.active[name]; !ok {
		return
	}
	delete(s.active, name)
	for i, n := range s.order {
		if n == name {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	log.Printf("User %q disconnected", name)
	s.broadcastUserList()
}

// Kick notifies a user of their removal and unregisters them. No-op for
// names that are not active.
func (s *Session) Kick(caller, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if caller != s.admin {
		return ErrNotAdmin
	}
	obs, ok := s.active[name]
	if !ok {
		return nil
	}
	log.Printf("Admin kicked %q", name)
	s.deliver(name, func() error { return obs.ReceiveKick() })
	s.unregisterLocked(name)
	return nil
}

// CloseBoard ends the session permanently: every active client is told the
// board is closing, and Done() is closed after a short grace period so the
// notices can flush. There is no reopen.
func (s *Session) CloseBoard(caller string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if caller != s.admin {
		return ErrNotAdmin
	}
	if s.closed {
		return nil
	}
	s.closed = true
	log.Printf("Admin closed the board, shutting down in %v", closeGrace)

	for name, obs := range s.active {
		obs := obs
		s.deliver(name, func() error { return obs.NotifyBoardClosed() })
	}
	time.AfterFunc(closeGrace, func() { close(s.done) })
	return nil
}

// ActiveUsers returns the active usernames in registration order, as an
// independent copy read at a consistent point in time.
func (s *Session) ActiveUsers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userList()
}

// Admin returns the admin's username, or "" before the first registration.
func (s *Session) Admin() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.admin
}

// History returns an independent snapshot of the current action log, for
// persistence and export.
func (s *Session) History() []canvas.Action {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.Snapshot()
}

// ActionCount returns the current log length.
func (s *Session) ActionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.Len()
}

// deliver runs one callback attempt and swallows the failure: a slow or
// dead client must never abort the operation that triggered the fan-out.
func (s *Session) deliver(recipient string, send func() error) {
	if err := send(); err != nil {
		log.Printf("Delivery to %q failed: %v", recipient, err)
	}
}

func (s *Session) userList() []string {
	names := make([]string, len(s.order))
	copy(names, s.order)
	return names
}

func (s *Session) broadcastUserList() {
	names := s.userList()
	for name, obs := range s.active {
		obs := obs
		s.deliver(name, func() error { return obs.UpdateUserList(names) })
	}
}

func (s *Session) broadcastFullHistory() {
	snapshot := s.history.Snapshot()
	for name, obs := range s.active {
		obs := obs
		s.deliver(name, func() error { return obs.ReceiveFullHistory(snapshot) })
	}
}
