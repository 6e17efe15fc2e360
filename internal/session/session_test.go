package session

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sketchwall/backend/internal/canvas"
)

// fakeObserver records every callback it receives. view is the canvas a
// real client would show: incremental actions append to it, full histories
// replace it.
type fakeObserver struct {
	mu           sync.Mutex
	view         []canvas.Action
	actions      []canvas.Action
	histories    [][]canvas.Action
	chats        []string
	userLists    [][]string
	joinRequests []string
	decisions    []bool
	boardClosed  int
	kicked       int
	fail         bool // when set, every callback reports an error
}

func (f *fakeObserver) ReceiveAction(a canvas.Action) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("unreachable")
	}
	f.actions = append(f.actions, a)
	f.view = append(f.view, a)
	return nil
}

func (f *fakeObserver) ReceiveFullHistory(h []canvas.Action) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("unreachable")
	}
	f.histories = append(f.histories, h)
	f.view = canvas.CloneAll(h)
	return nil
}

func (f *fakeObserver) ReceiveChat(sender, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("unreachable")
	}
	f.chats = append(f.chats, sender+": "+text)
	return nil
}

func (f *fakeObserver) UpdateUserList(names []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("unreachable")
	}
	f.userLists = append(f.userLists, names)
	return nil
}

func (f *fakeObserver) NotifyJoinRequest(candidate string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joinRequests = append(f.joinRequests, candidate)
	return nil
}

func (f *fakeObserver) NotifyJoinDecision(approved bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.decisions = append(f.decisions, approved)
	return nil
}

func (f *fakeObserver) NotifyBoardClosed() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.boardClosed++
	return nil
}

func (f *fakeObserver) ReceiveKick() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.kicked++
	return nil
}

func (f *fakeObserver) lastUserList() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.userLists) == 0 {
		return nil
	}
	return f.userLists[len(f.userLists)-1]
}

func (f *fakeObserver) lastHistory() []canvas.Action {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.histories) == 0 {
		return nil
	}
	return f.histories[len(f.histories)-1]
}

func action(owner string, strokeID int64, typ canvas.ActionType) canvas.Action {
	return canvas.Action{
		StrokeID:    strokeID,
		Owner:       owner,
		Type:        typ,
		X2:          5,
		Y2:          5,
		Color:       "#112233ff",
		StrokeWidth: 2,
	}
}

func mustRegister(t *testing.T, s *Session, name string) *fakeObserver {
	t.Helper()
	obs := &fakeObserver{}
	if _, _, err := s.Register(name, obs); err != nil {
		t.Fatalf("Register(%q) failed: %v", name, err)
	}
	return obs
}

func TestFirstRegistrantBecomesAdmin(t *testing.T) {
	s := New()
	mustRegister(t, s, "alice")
	mustRegister(t, s, "bob")

	if s.Admin() != "alice" {
		t.Errorf("Expected admin 'alice', got %q", s.Admin())
	}
}

func TestRegisterReturnsSnapshotAndUsers(t *testing.T) {
	s := New()
	mustRegister(t, s, "alice")
	s.BroadcastAction(action("alice", 1, canvas.ActionLine))

	obs := &fakeObserver{}
	history, users, err := s.Register("bob", obs)
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if len(history) != 1 {
		t.Errorf("Expected 1 action in snapshot, got %d", len(history))
	}
	if len(users) != 2 || users[0] != "alice" || users[1] != "bob" {
		t.Errorf("Expected users [alice bob], got %v", users)
	}
}

func TestRegisterNameCollision(t *testing.T) {
	s := New()
	mustRegister(t, s, "alice")

	if _, _, err := s.Register("alice", &fakeObserver{}); !errors.Is(err, ErrNameUnavailable) {
		t.Errorf("Expected ErrNameUnavailable, got %v", err)
	}
	if got := s.ActiveUsers(); len(got) != 1 {
		t.Errorf("Collision must not create a duplicate entry, users=%v", got)
	}

	// A pending name is just as unavailable.
	s.RequestJoin("carol", &fakeObserver{})
	if _, _, err := s.Register("carol", &fakeObserver{}); !errors.Is(err, ErrNameUnavailable) {
		t.Errorf("Expected ErrNameUnavailable for pending name, got %v", err)
	}
}

func TestJoinApprovalFlow(t *testing.T) {
	s := New()
	admin := mustRegister(t, s, "alice")

	joiner := &fakeObserver{}
	s.RequestJoin("bob", joiner)

	admin.mu.Lock()
	requests := append([]string(nil), admin.joinRequests...)
	admin.mu.Unlock()
	if len(requests) != 1 || requests[0] != "bob" {
		t.Fatalf("Admin should see join request for bob, got %v", requests)
	}

	if err := s.ApproveJoin("alice", "bob"); err != nil {
		t.Fatalf("ApproveJoin failed: %v", err)
	}

	if got := joiner.lastHistory(); got == nil || len(got) != 0 {
		t.Errorf("Approved joiner should receive the (empty) full history, got %v", got)
	}
	joiner.mu.Lock()
	decisions := append([]bool(nil), joiner.decisions...)
	joiner.mu.Unlock()
	if len(decisions) != 1 || !decisions[0] {
		t.Errorf("Expected a positive join decision, got %v", decisions)
	}

	want := []string{"alice", "bob"}
	for name, obs := range map[string]*fakeObserver{"alice": admin, "bob": joiner} {
		got := obs.lastUserList()
		if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
			t.Errorf("%s: expected user list %v, got %v", name, want, got)
		}
	}
}

func TestJoinCollisionRejectedWithoutAdmin(t *testing.T) {
	s := New()
	admin := mustRegister(t, s, "alice")

	dup := &fakeObserver{}
	s.RequestJoin("alice", dup)

	dup.mu.Lock()
	decisions := append([]bool(nil), dup.decisions...)
	dup.mu.Unlock()
	if len(decisions) != 1 || decisions[0] {
		t.Errorf("Colliding join should be rejected immediately, got %v", decisions)
	}

	admin.mu.Lock()
	requests := len(admin.joinRequests)
	admin.mu.Unlock()
	if requests != 0 {
		t.Error("Admin must not be involved in a collision rejection")
	}
}

func TestRejectJoin(t *testing.T) {
	s := New()
	mustRegister(t, s, "alice")

	joiner := &fakeObserver{}
	s.RequestJoin("bob", joiner)
	if err := s.RejectJoin("alice", "bob"); err != nil {
		t.Fatalf("RejectJoin failed: %v", err)
	}

	joiner.mu.Lock()
	decisions := append([]bool(nil), joiner.decisions...)
	joiner.mu.Unlock()
	if len(decisions) != 1 || decisions[0] {
		t.Errorf("Expected a rejection, got %v", decisions)
	}

	// Rejected name is free again.
	if _, _, err := s.Register("bob", &fakeObserver{}); err != nil {
		t.Errorf("Rejected name should be registrable, got %v", err)
	}
}

func TestAdminOnlyOperations(t *testing.T) {
	s := New()
	mustRegister(t, s, "alice")
	mustRegister(t, s, "bob")
	s.RequestJoin("carol", &fakeObserver{})

	if err := s.ApproveJoin("bob", "carol"); !errors.Is(err, ErrNotAdmin) {
		t.Errorf("ApproveJoin by non-admin: expected ErrNotAdmin, got %v", err)
	}
	if err := s.RejectJoin("bob", "carol"); !errors.Is(err, ErrNotAdmin) {
		t.Errorf("RejectJoin by non-admin: expected ErrNotAdmin, got %v", err)
	}
	if err := s.Kick("bob", "alice"); !errors.Is(err, ErrNotAdmin) {
		t.Errorf("Kick by non-admin: expected ErrNotAdmin, got %v", err)
	}
	if err := s.CloseBoard("bob"); !errors.Is(err, ErrNotAdmin) {
		t.Errorf("CloseBoard by non-admin: expected ErrNotAdmin, got %v", err)
	}
}

func TestBroadcastActionEchoesToSender(t *testing.T) {
	s := New()
	alice := mustRegister(t, s, "alice")
	bob := mustRegister(t, s, "bob")

	s.BroadcastAction(action("alice", 1, canvas.ActionRectangle))

	for name, obs := range map[string]*fakeObserver{"alice": alice, "bob": bob} {
		obs.mu.Lock()
		n := len(obs.actions)
		obs.mu.Unlock()
		if n != 1 {
			t.Errorf("%s: expected 1 delivered action (sender echo included), got %d", name, n)
		}
	}
}

func TestNonMembersCannotMutate(t *testing.T) {
	s := New()
	alice := mustRegister(t, s, "alice")
	s.BroadcastAction(action("alice", 1, canvas.ActionLine))

	// A name that was never admitted gets no write access, even with a
	// well-formed action.
	s.BroadcastAction(action("mallory", 1, canvas.ActionLine))
	s.SendChat("mallory", "let me in")
	s.Undo("mallory")
	s.Redo("mallory")

	if got := s.ActionCount(); got != 1 {
		t.Errorf("Non-member action must be dropped, log has %d actions", got)
	}
	alice.mu.Lock()
	chats, histories := len(alice.chats), len(alice.histories)
	alice.mu.Unlock()
	if chats != 0 {
		t.Errorf("Non-member chat must not fan out, got %d chats", chats)
	}
	if histories != 0 {
		t.Errorf("Non-member undo must not rebroadcast, got %d histories", histories)
	}

	// A pending joiner is still a non-member.
	s.RequestJoin("bob", &fakeObserver{})
	s.BroadcastAction(action("bob", 1, canvas.ActionOval))
	if got := s.ActionCount(); got != 1 {
		t.Errorf("Pending joiner action must be dropped, log has %d actions", got)
	}
}

func TestDeliveryFailureDoesNotAbortBroadcast(t *testing.T) {
	s := New()
	dead := &fakeObserver{fail: true}
	if _, _, err := s.Register("dead", dead); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	live := mustRegister(t, s, "live")

	s.BroadcastAction(action("live", 1, canvas.ActionLine))
	s.SendChat("live", "hello")

	live.mu.Lock()
	gotActions, gotChats := len(live.actions), len(live.chats)
	live.mu.Unlock()
	if gotActions != 1 {
		t.Errorf("Live client should still get the action, got %d", gotActions)
	}
	if gotChats != 1 {
		t.Errorf("Live client should still get the chat, got %d", gotChats)
	}
}

func TestUndoStrokeGroups(t *testing.T) {
	s := New()
	alice := mustRegister(t, s, "alice")

	// A three-segment free-draw gesture, then a rectangle.
	for i := 0; i < 3; i++ {
		a := action("alice", 1, canvas.ActionFreeDraw)
		a.Points = []canvas.Point{{X: float32(i), Y: float32(i)}}
		s.BroadcastAction(a)
	}
	s.BroadcastAction(action("alice", 2, canvas.ActionRectangle))

	s.Undo("alice")
	if got := s.History(); len(got) != 3 {
		t.Fatalf("First undo should remove only the rectangle, %d actions left", len(got))
	}
	if h := alice.lastHistory(); len(h) != 3 {
		t.Errorf("Undo should broadcast the full remaining history, got %d actions", len(h))
	}

	s.Undo("alice")
	if got := s.History(); len(got) != 0 {
		t.Fatalf("Second undo should remove all 3 segments, %d actions left", len(got))
	}
}

func TestUndoOnlyTouchesOwnStrokes(t *testing.T) {
	s := New()
	mustRegister(t, s, "alice")
	mustRegister(t, s, "bob")

	s.BroadcastAction(action("alice", 1, canvas.ActionLine))
	s.BroadcastAction(action("bob", 1, canvas.ActionOval))

	s.Undo("alice")
	history := s.History()
	if len(history) != 1 || history[0].Owner != "bob" {
		t.Errorf("Undo(alice) must leave bob's action, history=%v", history)
	}

	// A user with nothing in the log is a silent no-op.
	s.Undo("carol")
	if len(s.History()) != 1 {
		t.Error("Undo for unknown user should be a no-op")
	}
}

func TestRedoAppendsAtEnd(t *testing.T) {
	s := New()
	bob := mustRegister(t, s, "bob")
	mustRegister(t, s, "alice")

	s.BroadcastAction(action("alice", 1, canvas.ActionLine))
	s.Undo("alice")
	s.BroadcastAction(action("bob", 1, canvas.ActionOval))

	bob.mu.Lock()
	before := len(bob.actions)
	bob.mu.Unlock()

	s.Redo("alice")
	history := s.History()
	if len(history) != 2 {
		t.Fatalf("Expected 2 actions after redo, got %d", len(history))
	}
	// The restored stroke draws after bob's interleaved action.
	if history[1].Owner != "alice" {
		t.Errorf("Redone stroke must land at the end of the log, got %v", history)
	}

	// Redo is incremental: only the restored actions are delivered.
	bob.mu.Lock()
	delivered := len(bob.actions) - before
	bob.mu.Unlock()
	if delivered != 1 {
		t.Errorf("Expected 1 incremental action from redo, got %d", delivered)
	}
}

func TestRedoInvalidatedByNewAction(t *testing.T) {
	s := New()
	mustRegister(t, s, "alice")

	s.BroadcastAction(action("alice", 1, canvas.ActionLine))
	s.Undo("alice")
	s.BroadcastAction(action("alice", 2, canvas.ActionOval))

	s.Redo("alice")
	history := s.History()
	if len(history) != 1 || history[0].StrokeID != 2 {
		t.Errorf("Redo after a new action must be a no-op, history=%v", history)
	}
}

func TestRedoEmptyStackIsNoop(t *testing.T) {
	s := New()
	mustRegister(t, s, "alice")
	s.Redo("alice")
	if len(s.History()) != 0 {
		t.Error("Redo with empty stack should change nothing")
	}
}

func TestClearBoardWipesLedgers(t *testing.T) {
	s := New()
	alice := mustRegister(t, s, "alice")
	mustRegister(t, s, "bob")

	for i := int64(1); i <= 5; i++ {
		s.BroadcastAction(action("alice", i, canvas.ActionLine))
		s.BroadcastAction(action("bob", i, canvas.ActionLine))
	}
	s.Undo("alice")
	s.Undo("bob")

	s.ClearBoard()
	if len(s.History()) != 0 {
		t.Error("ClearBoard should empty the log")
	}
	if h := alice.lastHistory(); h == nil || len(h) != 0 {
		t.Errorf("Observers should receive an empty full history, got %v", h)
	}

	// Ledgers are gone: redo restores nothing.
	s.Redo("alice")
	s.Redo("bob")
	if len(s.History()) != 0 {
		t.Error("Redo after clear must be a no-op")
	}
}

func TestLoadHistoryReplacesAndResets(t *testing.T) {
	s := New()
	alice := mustRegister(t, s, "alice")

	s.BroadcastAction(action("alice", 1, canvas.ActionLine))
	s.Undo("alice")

	saved := []canvas.Action{
		action("carol", 1, canvas.ActionLine),
		action("carol", 2, canvas.ActionText),
	}
	s.LoadHistory(saved)

	history := s.History()
	if len(history) != 2 || history[0].Owner != "carol" {
		t.Errorf("LoadHistory should replace the log, got %v", history)
	}
	if h := alice.lastHistory(); len(h) != 2 {
		t.Errorf("LoadHistory should broadcast the new full history, got %d actions", len(h))
	}

	s.Redo("alice")
	if len(s.History()) != 2 {
		t.Error("Redo after load must be a no-op")
	}
}

func TestUnregisterIsIdempotent(t *testing.T) {
	s := New()
	mustRegister(t, s, "alice")
	mustRegister(t, s, "bob")

	s.Unregister("bob")
	first := s.ActiveUsers()
	s.Unregister("bob")
	second := s.ActiveUsers()

	if len(first) != 1 || len(second) != 1 || first[0] != "alice" || second[0] != "alice" {
		t.Errorf("Double unregister changed the user set: %v then %v", first, second)
	}

	s.Unregister("never-registered")
	if got := s.ActiveUsers(); len(got) != 1 {
		t.Errorf("Unregister of unknown name should be a no-op, users=%v", got)
	}
}

func TestKick(t *testing.T) {
	s := New()
	mustRegister(t, s, "alice")
	bob := mustRegister(t, s, "bob")

	if err := s.Kick("alice", "bob"); err != nil {
		t.Fatalf("Kick failed: %v", err)
	}
	bob.mu.Lock()
	kicked := bob.kicked
	bob.mu.Unlock()
	if kicked != 1 {
		t.Errorf("Kicked user should receive exactly one kick notice, got %d", kicked)
	}
	if got := s.ActiveUsers(); len(got) != 1 || got[0] != "alice" {
		t.Errorf("Expected only alice left, got %v", got)
	}

	// Kicking an absent name is a silent no-op.
	if err := s.Kick("alice", "bob"); err != nil {
		t.Errorf("Kick of absent user should be nil, got %v", err)
	}
}

func TestCloseBoard(t *testing.T) {
	s := New()
	alice := mustRegister(t, s, "alice")
	bob := mustRegister(t, s, "bob")

	if err := s.CloseBoard("alice"); err != nil {
		t.Fatalf("CloseBoard failed: %v", err)
	}

	for name, obs := range map[string]*fakeObserver{"alice": alice, "bob": bob} {
		obs.mu.Lock()
		n := obs.boardClosed
		obs.mu.Unlock()
		if n != 1 {
			t.Errorf("%s: expected 1 board-closed notice, got %d", name, n)
		}
	}

	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("Done() should close shortly after CloseBoard")
	}

	// The board never reopens.
	if _, _, err := s.Register("carol", &fakeObserver{}); !errors.Is(err, ErrClosed) {
		t.Errorf("Register after close: expected ErrClosed, got %v", err)
	}
}

// Convergence: concurrent drawers plus undo/redo traffic must leave every
// observer able to reconstruct the server's final log from its deliveries.
func TestConvergenceUnderConcurrency(t *testing.T) {
	s := New()
	observers := map[string]*fakeObserver{
		"alice": mustRegister(t, s, "alice"),
		"bob":   mustRegister(t, s, "bob"),
	}

	var wg sync.WaitGroup
	for _, user := range []string{"alice", "bob"} {
		user := user
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := int64(1); i <= 20; i++ {
				s.BroadcastAction(action(user, i, canvas.ActionLine))
				if i%5 == 0 {
					s.Undo(user)
				}
				if i%7 == 0 {
					s.Redo(user)
				}
			}
		}()
	}
	wg.Wait()

	authoritative := s.History()
	for name, obs := range observers {
		got := replay(obs)
		if len(got) != len(authoritative) {
			t.Fatalf("%s: replayed %d actions, server has %d", name, len(got), len(authoritative))
		}
		for i := range got {
			if got[i].Owner != authoritative[i].Owner || got[i].StrokeID != authoritative[i].StrokeID {
				t.Fatalf("%s: replay diverged at index %d", name, i)
			}
		}
	}
}

func replay(obs *fakeObserver) []canvas.Action {
	obs.mu.Lock()
	defer obs.mu.Unlock()
	return canvas.CloneAll(obs.view)
}
