package pairing

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	apperrors "github.com/liaizen/coparent/internal/platform/errors"
	"github.com/liaizen/coparent/internal/services/connections/identity"
	"github.com/liaizen/coparent/internal/services/connections/request"
	"github.com/liaizen/coparent/internal/services/connections/rooms"
	"github.com/liaizen/coparent/internal/services/connections/storage/sqlstore"
)

var testStart = time.Date(2026, time.March, 1, 9, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// countingRooms wraps the real room service, counting calls and failing the
// first failures creations.
type countingRooms struct {
	inner *rooms.Service

	mu       sync.Mutex
	failures int
	creates  int
	created  map[string]bool
	welcomes []string
}

func (r *countingRooms) CreateSharedRoom(ctx context.Context, accountA, accountB, nameA, nameB string) (string, error) {
	r.mu.Lock()
	r.creates++
	if r.failures > 0 {
		r.failures--
		r.mu.Unlock()
		return "", errors.New("room backend unavailable")
	}
	r.mu.Unlock()
	roomID, err := r.inner.CreateSharedRoom(ctx, accountA, accountB, nameA, nameB)
	if err == nil {
		r.mu.Lock()
		r.created[roomID] = true
		r.mu.Unlock()
	}
	return roomID, err
}

func (r *countingRooms) PostWelcome(ctx context.Context, roomID, body string) error {
	r.mu.Lock()
	r.welcomes = append(r.welcomes, roomID)
	r.mu.Unlock()
	return r.inner.PostWelcome(ctx, roomID, body)
}

func (r *countingRooms) distinctRooms() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.created)
}

func (r *countingRooms) setFailures(n int) {
	r.mu.Lock()
	r.failures = n
	r.mu.Unlock()
}

type recordingNotifier struct {
	mu       sync.Mutex
	invites  []string
	accepted []string
	declined []string
}

func (n *recordingNotifier) SendInvite(_ context.Context, targetEmail, _ string, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.invites = append(n.invites, targetEmail)
	return nil
}

func (n *recordingNotifier) NotifyAccepted(_ context.Context, initiatorID, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.accepted = append(n.accepted, initiatorID)
	return nil
}

func (n *recordingNotifier) NotifyDeclined(_ context.Context, initiatorID string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.declined = append(n.declined, initiatorID)
	return nil
}

type harness struct {
	svc      *Service
	store    *sqlstore.Store
	clock    *fakeClock
	rooms    *countingRooms
	notifier *recordingNotifier
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWith(t, nil)
}

// newHarnessWith builds a harness whose service talks to wrap(store) instead
// of the store itself.
func newHarnessWith(t *testing.T, wrap func(*sqlstore.Store) Store) *harness {
	t.Helper()
	store, err := sqlstore.OpenSQLite(filepath.Join(t.TempDir(), "connections.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("close store: %v", err)
		}
	})
	clock := &fakeClock{now: testStart}
	roomSvc := &countingRooms{inner: rooms.NewService(store), created: map[string]bool{}}
	notifier := &recordingNotifier{}
	var svcStore Store = store
	if wrap != nil {
		svcStore = wrap(store)
	}
	svc, err := New(Config{
		Store:         svcStore,
		Contacts:      store,
		Rooms:         roomSvc,
		Notifier:      notifier,
		Identities:    identity.NewResolver(store),
		InviteBaseURL: "https://app.example.com/accept",
		RoomRetry:     RetryPolicy{MaxTries: 3, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond},
		Clock:         clock.Now,
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return &harness{svc: svc, store: store, clock: clock, rooms: roomSvc, notifier: notifier}
}

func account(name string) identity.Identity {
	return identity.Identity{AccountID: "acct-" + name, Email: name + "@example.com", DisplayName: name}
}

func (h *harness) create(t *testing.T, initiator identity.Identity, channel request.Channel, target string) CreateResult {
	t.Helper()
	result, err := h.svc.Create(context.Background(), CreateInput{Initiator: initiator, Channel: channel, TargetEmail: target})
	if err != nil {
		t.Fatalf("create %s invite: %v", channel, err)
	}
	return result
}

func (h *harness) requestByID(t *testing.T, requestID string) request.ConnectionRequest {
	t.Helper()
	req, err := h.store.GetRequest(context.Background(), requestID)
	if err != nil {
		t.Fatalf("get request %s: %v", requestID, err)
	}
	return req
}

func (h *harness) auditActions(t *testing.T, requestID string) []request.Action {
	t.Helper()
	entries, err := h.store.ListAudit(context.Background(), requestID)
	if err != nil {
		t.Fatalf("list audit: %v", err)
	}
	actions := make([]request.Action, 0, len(entries))
	for _, entry := range entries {
		actions = append(actions, entry.Action)
	}
	return actions
}

func requireCode(t *testing.T, err error, want apperrors.Code) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", want)
	}
	if got := apperrors.CodeOf(err); got != want {
		t.Fatalf("error code = %s, want %s (%v)", got, want, err)
	}
}

func containsAction(actions []request.Action, want request.Action) bool {
	for _, action := range actions {
		if action == want {
			return true
		}
	}
	return false
}

func asDomainError(err error, target **apperrors.Error) bool {
	return errors.As(err, target)
}
