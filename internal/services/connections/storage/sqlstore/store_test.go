package sqlstore

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/liaizen/coparent/internal/services/connections/identity"
	"github.com/liaizen/coparent/internal/services/connections/request"
	"github.com/liaizen/coparent/internal/services/connections/rooms"
	"github.com/liaizen/coparent/internal/services/connections/storage"
)

var testNow = time.Date(2026, time.February, 22, 12, 0, 0, 0, time.UTC)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := OpenSQLite(filepath.Join(t.TempDir(), "connections.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close store: %v", err)
		}
	})
	return store
}

func pendingRequest(id, initiator string, channel request.Channel, tokenHash, code string) request.ConnectionRequest {
	return request.ConnectionRequest{
		ID:             id,
		InitiatorID:    initiator,
		InitiatorEmail: initiator + "@example.com",
		InitiatorName:  initiator,
		Channel:        channel,
		TokenHash:      tokenHash,
		ShortCode:      code,
		Status:         request.StatusPending,
		CreatedAt:      testNow,
		ExpiresAt:      testNow.Add(7 * 24 * time.Hour),
	}
}

func insert(t *testing.T, store *Store, req request.ConnectionRequest, supersede request.Channel) []string {
	t.Helper()
	ids, err := store.InsertRequest(context.Background(), storage.InsertParams{
		Request:          req,
		Audit:            request.AuditEntry{Action: request.ActionCreated, ActorID: req.InitiatorID, CreatedAt: req.CreatedAt},
		SupersedeChannel: supersede,
	})
	if err != nil {
		t.Fatalf("insert %s: %v", req.ID, err)
	}
	return ids
}

func accept(store *Store, requestID, accepter string, at time.Time) (request.ConnectionRequest, error) {
	return store.CASUpdateStatus(context.Background(), storage.Transition{
		RequestID:      requestID,
		To:             request.StatusAccepted,
		CounterpartyID: accepter,
		At:             at,
		RequireLive:    true,
		Audit:          request.AuditEntry{Action: request.ActionAccepted, ActorID: accepter, CreatedAt: at},
	})
}

func TestContactRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if err := store.PutContact(ctx, storage.Contact{
		OwnerUserID:   "user-1",
		ContactUserID: "user-2",
		Relationship:  storage.RelationshipCoParent,
		CreatedAt:     testNow,
		UpdatedAt:     testNow,
	}); err != nil {
		t.Fatalf("put contact: %v", err)
	}
	later := testNow.Add(time.Hour)
	if err := store.PutContact(ctx, storage.Contact{
		OwnerUserID:   "user-1",
		ContactUserID: "user-2",
		Relationship:  storage.RelationshipCoParent,
		CreatedAt:     later,
		UpdatedAt:     later,
	}); err != nil {
		t.Fatalf("re-put contact: %v", err)
	}

	got, err := store.GetContact(ctx, "user-1", "user-2")
	if err != nil {
		t.Fatalf("get contact: %v", err)
	}
	if got.Relationship != storage.RelationshipCoParent {
		t.Fatalf("relationship = %q", got.Relationship)
	}
	if !got.CreatedAt.Equal(testNow) || !got.UpdatedAt.Equal(later) {
		t.Fatalf("timestamps = %v/%v", got.CreatedAt, got.UpdatedAt)
	}
	if _, err := store.GetContact(ctx, "user-2", "user-1"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("reverse contact err = %v, want not found", err)
	}
	if err := store.PutContact(ctx, storage.Contact{OwnerUserID: "a", ContactUserID: "a"}); err == nil {
		t.Fatal("expected self-contact error")
	}
}

func TestInsertRequestRejectsDuplicatePendingSecrets(t *testing.T) {
	store := openTestStore(t)
	insert(t, store, pendingRequest("r1", "alice", request.ChannelLink, "hash-1", "LZ-AAAAAA"), "")

	_, err := store.InsertRequest(context.Background(), storage.InsertParams{
		Request: pendingRequest("r2", "bob", request.ChannelLink, "hash-2", "LZ-AAAAAA"),
		Audit:   request.AuditEntry{Action: request.ActionCreated, ActorID: "bob", CreatedAt: testNow},
	})
	if !errors.Is(err, storage.ErrDuplicate) {
		t.Fatalf("duplicate code err = %v, want ErrDuplicate", err)
	}
	_, err = store.InsertRequest(context.Background(), storage.InsertParams{
		Request: pendingRequest("r3", "bob", request.ChannelLink, "hash-1", "LZ-BBBBBB"),
		Audit:   request.AuditEntry{Action: request.ActionCreated, ActorID: "bob", CreatedAt: testNow},
	})
	if !errors.Is(err, storage.ErrDuplicate) {
		t.Fatalf("duplicate token err = %v, want ErrDuplicate", err)
	}
	if _, err := store.GetRequest(context.Background(), "r3"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("rolled back insert should be absent, got %v", err)
	}
}

func TestInsertRequestSupersedesPendingCodes(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	insert(t, store, pendingRequest("c1", "alice", request.ChannelCode, "", "LZ-AAAAAA"), request.ChannelCode)

	second := pendingRequest("c2", "alice", request.ChannelCode, "", "LZ-BBBBBB")
	second.CreatedAt = testNow.Add(time.Minute)
	superseded := insert(t, store, second, request.ChannelCode)
	if len(superseded) != 1 || superseded[0] != "c1" {
		t.Fatalf("superseded = %v, want [c1]", superseded)
	}

	first, err := store.GetRequest(ctx, "c1")
	if err != nil {
		t.Fatalf("get c1: %v", err)
	}
	if first.Status != request.StatusExpired {
		t.Fatalf("c1 status = %s, want expired", first.Status)
	}
	pending, err := store.ListPendingByInitiator(ctx, "alice", testNow)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != "c2" {
		t.Fatalf("pending = %+v, want only c2", pending)
	}

	audit, err := store.ListAudit(ctx, "c1")
	if err != nil {
		t.Fatalf("list audit: %v", err)
	}
	if len(audit) != 2 || audit[1].Action != request.ActionSuperseded {
		t.Fatalf("audit = %+v, want created then superseded", audit)
	}
	if audit[1].Metadata[request.MetaReason] == "" {
		t.Fatal("expected supersede reason metadata")
	}
}

func TestPendingCodeIndexBacksSingleLiveCode(t *testing.T) {
	store := openTestStore(t)
	insert(t, store, pendingRequest("c1", "alice", request.ChannelCode, "", "LZ-AAAAAA"), "")
	_, err := store.InsertRequest(context.Background(), storage.InsertParams{
		Request: pendingRequest("c2", "alice", request.ChannelCode, "", "LZ-BBBBBB"),
		Audit:   request.AuditEntry{Action: request.ActionCreated, ActorID: "alice", CreatedAt: testNow},
	})
	if !errors.Is(err, storage.ErrDuplicate) {
		t.Fatalf("second live code err = %v, want ErrDuplicate", err)
	}
}

func TestInsertRequestKeepsOnePendingPerChannel(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	insert(t, store, pendingRequest("l1", "alice", request.ChannelLink, "hash-1", ""), "")
	insert(t, store, pendingRequest("e1", "alice", request.ChannelEmail, "hash-2", ""), "")

	_, err := store.InsertRequest(ctx, storage.InsertParams{
		Request: pendingRequest("l2", "alice", request.ChannelLink, "hash-3", ""),
		Audit:   request.AuditEntry{Action: request.ActionCreated, ActorID: "alice", CreatedAt: testNow},
	})
	var pending *storage.PendingExistsError
	if !errors.As(err, &pending) {
		t.Fatalf("second live link err = %v, want PendingExistsError", err)
	}
	if pending.RequestID != "l1" {
		t.Fatalf("pending request id = %q, want l1", pending.RequestID)
	}
	if !errors.Is(err, storage.ErrPendingExists) || errors.Is(err, storage.ErrDuplicate) {
		t.Fatalf("err = %v should match ErrPendingExists only", err)
	}
	if _, err := store.GetRequest(ctx, "l2"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("rejected insert should be absent, got %v", err)
	}
}

func TestPendingChannelIndexRejectsSecondLiveRow(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	insert(t, store, pendingRequest("l1", "alice", request.ChannelLink, "hash-1", ""), "")

	// Writes that skip the in-transaction lookup still hit the index.
	_, err := store.sqlDB.ExecContext(ctx, store.q(`INSERT INTO connection_requests (`+requestColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		"l2", "alice", "alice@example.com", "alice", "link", nil, "hash-2", nil,
		"pending", toMillis(testNow), toMillis(testNow.Add(time.Hour)), nil, nil, nil,
	)
	if err == nil || !store.dialect.IsUniqueViolation(err) {
		t.Fatalf("raw second pending link err = %v, want unique violation", err)
	}

	err = store.classifyPendingViolation(ctx, pendingRequest("l2", "alice", request.ChannelLink, "hash-2", ""))
	var pending *storage.PendingExistsError
	if !errors.As(err, &pending) || pending.RequestID != "l1" {
		t.Fatalf("classify with live row = %v, want PendingExistsError{l1}", err)
	}
	err = store.classifyPendingViolation(ctx, pendingRequest("b1", "bob", request.ChannelLink, "hash-1", ""))
	if !errors.Is(err, storage.ErrDuplicate) {
		t.Fatalf("classify secret collision = %v, want ErrDuplicate", err)
	}
}

func TestInsertRequestExpiresStalePendingOnChannel(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	stale := pendingRequest("l1", "alice", request.ChannelLink, "hash-1", "")
	stale.CreatedAt = testNow.Add(-8 * 24 * time.Hour)
	stale.ExpiresAt = testNow.Add(-24 * time.Hour)
	insert(t, store, stale, "")

	superseded := insert(t, store, pendingRequest("l2", "alice", request.ChannelLink, "hash-2", ""), "")
	if len(superseded) != 0 {
		t.Fatalf("superseded = %v, want none for a stale expiry", superseded)
	}
	old, err := store.GetRequest(ctx, "l1")
	if err != nil {
		t.Fatalf("get l1: %v", err)
	}
	if old.Status != request.StatusExpired {
		t.Fatalf("l1 status = %s, want expired", old.Status)
	}
	entries, err := store.ListAudit(ctx, "l1")
	if err != nil {
		t.Fatalf("list audit: %v", err)
	}
	last := entries[len(entries)-1]
	if last.Action != request.ActionExpired || last.ActorID != request.ActorSystem {
		t.Fatalf("last audit = %s by %s, want expired by system", last.Action, last.ActorID)
	}
}

func TestHistoricalCodeMayBeReissued(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	insert(t, store, pendingRequest("c1", "alice", request.ChannelCode, "", "LZ-AAAAAA"), "")
	if _, err := store.ExpireStalePending(ctx, testNow.Add(8*24*time.Hour), request.ActorSystem); err != nil {
		t.Fatalf("expire: %v", err)
	}
	later := pendingRequest("c2", "bob", request.ChannelCode, "", "LZ-AAAAAA")
	later.CreatedAt = testNow.Add(9 * 24 * time.Hour)
	later.ExpiresAt = later.CreatedAt.Add(15 * time.Minute)
	insert(t, store, later, "")

	got, err := store.FindPendingByCode(ctx, "LZ-AAAAAA")
	if err != nil {
		t.Fatalf("find pending: %v", err)
	}
	if got.ID != "c2" {
		t.Fatalf("pending code owner = %s, want c2", got.ID)
	}
	history, err := store.FindByCode(ctx, "LZ-AAAAAA", 5)
	if err != nil {
		t.Fatalf("find by code: %v", err)
	}
	if len(history) != 2 || history[0].ID != "c2" {
		t.Fatalf("history = %+v, want newest first", history)
	}
}

func TestCASUpdateStatusSingleWinner(t *testing.T) {
	store := openTestStore(t)
	insert(t, store, pendingRequest("r1", "alice", request.ChannelLink, "hash-1", ""), "")

	accepted, err := accept(store, "r1", "bob", testNow.Add(time.Hour))
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if accepted.Status != request.StatusAccepted || accepted.CounterpartyID != "bob" {
		t.Fatalf("accepted = %+v", accepted)
	}
	if accepted.ResolvedAt.IsZero() {
		t.Fatal("expected resolved_at")
	}
	if _, err := accept(store, "r1", "carol", testNow.Add(2*time.Hour)); !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("second accept err = %v, want ErrConflict", err)
	}

	pair, err := store.GetPair(context.Background(), "bob", "alice")
	if err != nil {
		t.Fatalf("get pair: %v", err)
	}
	if pair.RequestID != "r1" || pair.Other("alice") != "bob" {
		t.Fatalf("pair = %+v", pair)
	}
}

func TestCASUpdateStatusConcurrentAccepts(t *testing.T) {
	store := openTestStore(t)
	insert(t, store, pendingRequest("r1", "alice", request.ChannelLink, "hash-1", ""), "")

	accepters := []string{"bob", "carol", "dave", "erin", "frank", "gina"}
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		winners   int
		conflicts int
	)
	for _, accepter := range accepters {
		wg.Add(1)
		go func(accepter string) {
			defer wg.Done()
			_, err := accept(store, "r1", accepter, testNow.Add(time.Hour))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				winners++
			case errors.Is(err, storage.ErrConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(accepter)
	}
	wg.Wait()
	if winners != 1 || conflicts != len(accepters)-1 {
		t.Fatalf("winners=%d conflicts=%d", winners, conflicts)
	}
}

func TestCASUpdateStatusRequireLiveRejectsExpired(t *testing.T) {
	store := openTestStore(t)
	insert(t, store, pendingRequest("r1", "alice", request.ChannelLink, "hash-1", ""), "")
	if _, err := accept(store, "r1", "bob", testNow.Add(8*24*time.Hour)); !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("accept past expiry err = %v, want ErrConflict", err)
	}
	got, err := store.GetRequest(context.Background(), "r1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != request.StatusPending {
		t.Fatalf("status = %s, want pending", got.Status)
	}
}

func TestCASUpdateStatusPairConflictRollsBack(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	insert(t, store, pendingRequest("r1", "alice", request.ChannelEmail, "hash-1", ""), "")
	insert(t, store, pendingRequest("r2", "bob", request.ChannelEmail, "hash-2", ""), "")

	if _, err := accept(store, "r1", "bob", testNow.Add(time.Hour)); err != nil {
		t.Fatalf("accept r1: %v", err)
	}
	if _, err := accept(store, "r2", "alice", testNow.Add(time.Hour)); !errors.Is(err, storage.ErrPairExists) {
		t.Fatalf("accept reciprocal err = %v, want ErrPairExists", err)
	}
	r2, err := store.GetRequest(ctx, "r2")
	if err != nil {
		t.Fatalf("get r2: %v", err)
	}
	if r2.Status != request.StatusPending || r2.CounterpartyID != "" {
		t.Fatalf("r2 should be untouched, got %+v", r2)
	}
	audit, err := store.ListAudit(ctx, "r2")
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	if len(audit) != 1 {
		t.Fatalf("r2 audit entries = %d, want 1", len(audit))
	}

	insert(t, store, pendingRequest("r3", "carol", request.ChannelLink, "hash-3", ""), "")
	if _, err := accept(store, "r3", "alice", testNow.Add(time.Hour)); !errors.Is(err, storage.ErrPairExists) {
		t.Fatalf("second pairing for alice err = %v, want ErrPairExists", err)
	}
}

func TestCASUpdateStatusInitiatorGuard(t *testing.T) {
	store := openTestStore(t)
	insert(t, store, pendingRequest("r1", "alice", request.ChannelLink, "hash-1", ""), "")
	cancel := storage.Transition{
		RequestID:   "r1",
		To:          request.StatusCanceled,
		At:          testNow,
		InitiatorID: "bob",
		Audit:       request.AuditEntry{Action: request.ActionCanceled, ActorID: "bob", CreatedAt: testNow},
	}
	if _, err := store.CASUpdateStatus(context.Background(), cancel); !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("cancel by non-initiator err = %v, want ErrConflict", err)
	}
	cancel.InitiatorID = "alice"
	cancel.Audit.ActorID = "alice"
	got, err := store.CASUpdateStatus(context.Background(), cancel)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got.Status != request.StatusCanceled || got.CounterpartyID != "" {
		t.Fatalf("canceled = %+v", got)
	}
}

func TestAttachRoomOnce(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	insert(t, store, pendingRequest("r1", "alice", request.ChannelLink, "hash-1", ""), "")

	audit := request.AuditEntry{Action: request.ActionRoomAttached, ActorID: "bob", CreatedAt: testNow}
	if err := store.AttachRoom(ctx, "r1", "room-1", audit); !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("attach before accept err = %v, want ErrConflict", err)
	}
	if _, err := accept(store, "r1", "bob", testNow.Add(time.Minute)); err != nil {
		t.Fatalf("accept: %v", err)
	}

	roomless, err := store.ListAcceptedWithoutRoom(ctx, 10)
	if err != nil {
		t.Fatalf("list roomless: %v", err)
	}
	if len(roomless) != 1 {
		t.Fatalf("roomless = %d, want 1", len(roomless))
	}

	if err := store.AttachRoom(ctx, "r1", "room-1", audit); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if err := store.AttachRoom(ctx, "r1", "room-2", audit); !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("second attach err = %v, want ErrConflict", err)
	}
	got, err := store.GetRequest(ctx, "r1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.RoomID != "room-1" {
		t.Fatalf("room id = %q, want room-1", got.RoomID)
	}
	pair, err := store.GetPairForAccount(ctx, "alice")
	if err != nil {
		t.Fatalf("pair: %v", err)
	}
	if pair.RoomID != "room-1" {
		t.Fatalf("pair room = %q", pair.RoomID)
	}
	if roomless, _ := store.ListAcceptedWithoutRoom(ctx, 10); len(roomless) != 0 {
		t.Fatalf("roomless after attach = %d", len(roomless))
	}
}

func TestExpireStalePendingIsIdempotent(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	stale := pendingRequest("old", "alice", request.ChannelLink, "hash-1", "")
	stale.CreatedAt = testNow.Add(-8 * 24 * time.Hour)
	stale.ExpiresAt = testNow.Add(-24 * time.Hour)
	insert(t, store, stale, "")
	insert(t, store, pendingRequest("fresh", "bob", request.ChannelLink, "hash-2", ""), "")

	expired, err := store.ExpireStalePending(ctx, testNow, request.ActorSystem)
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if len(expired) != 1 || expired[0] != "old" {
		t.Fatalf("expired = %v, want [old]", expired)
	}
	again, err := store.ExpireStalePending(ctx, testNow, request.ActorSystem)
	if err != nil {
		t.Fatalf("expire again: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("second sweep expired %v", again)
	}

	audit, err := store.ListAudit(ctx, "old")
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	if len(audit) != 2 || audit[1].Action != request.ActionExpired || audit[1].ActorID != request.ActorSystem {
		t.Fatalf("audit = %+v", audit)
	}
	fresh, err := store.GetRequest(ctx, "fresh")
	if err != nil {
		t.Fatalf("get fresh: %v", err)
	}
	if fresh.Status != request.StatusPending {
		t.Fatalf("fresh status = %s", fresh.Status)
	}
}

func TestReissueReplacesSecrets(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	insert(t, store, pendingRequest("r1", "alice", request.ChannelEmail, "hash-1", "LZ-AAAAAA"), "")

	newExpiry := testNow.Add(10 * 24 * time.Hour)
	params := storage.ReissueParams{
		RequestID:   "r1",
		InitiatorID: "alice",
		TokenHash:   "hash-9",
		ExpiresAt:   newExpiry,
		Audit:       request.AuditEntry{Action: request.ActionResent, ActorID: "alice", CreatedAt: testNow},
	}
	got, err := store.Reissue(ctx, params)
	if err != nil {
		t.Fatalf("reissue: %v", err)
	}
	if got.TokenHash != "hash-9" || got.ShortCode != "LZ-AAAAAA" || !got.ExpiresAt.Equal(newExpiry) {
		t.Fatalf("reissued = %+v", got)
	}
	if _, err := store.FindPendingByTokenHash(ctx, "hash-1"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("old token lookup err = %v, want not found", err)
	}

	params.InitiatorID = "mallory"
	if _, err := store.Reissue(ctx, params); !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("reissue by other err = %v, want ErrConflict", err)
	}
}

func TestFindPendingByInitiatorAndTargetEmail(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	req := pendingRequest("r1", "bob", request.ChannelEmail, "hash-1", "")
	req.TargetEmail = "alice@example.com"
	insert(t, store, req, "")

	got, err := store.FindPendingByInitiatorAndTargetEmail(ctx, "bob@example.com", "alice@example.com", testNow)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got.ID != "r1" {
		t.Fatalf("found %s", got.ID)
	}
	if _, err := store.FindPendingByInitiatorAndTargetEmail(ctx, "bob@example.com", "alice@example.com", req.ExpiresAt); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expired reciprocal err = %v, want not found", err)
	}
	received, err := store.ListPendingByTargetEmail(ctx, "alice@example.com", testNow)
	if err != nil {
		t.Fatalf("list received: %v", err)
	}
	if len(received) != 1 {
		t.Fatalf("received = %d, want 1", len(received))
	}
}

func TestAuditMetadataRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	insert(t, store, pendingRequest("r1", "alice", request.ChannelLink, "hash-1", ""), "")
	if err := store.AppendAudit(ctx, request.AuditEntry{
		RequestID: "r1",
		Action:    request.ActionRoomPending,
		CreatedAt: testNow.Add(time.Second),
		Metadata:  map[string]string{request.MetaAttempts: "4"},
	}); err != nil {
		t.Fatalf("append: %v", err)
	}
	entries, err := store.ListAudit(ctx, "r1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	last := entries[len(entries)-1]
	if last.ActorID != request.ActorSystem || last.Metadata[request.MetaAttempts] != "4" {
		t.Fatalf("entry = %+v", last)
	}
}

func TestIdentityProjection(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	if _, err := store.GetIdentity(ctx, "alice"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("missing identity err = %v", err)
	}
	for _, name := range []string{"Alice", "Alice B."} {
		if err := store.PutIdentity(ctx, identity.Identity{AccountID: "alice", Email: "alice@example.com", DisplayName: name, UpdatedAt: testNow}); err != nil {
			t.Fatalf("put identity: %v", err)
		}
	}
	got, err := store.GetIdentity(ctx, "alice")
	if err != nil {
		t.Fatalf("get identity: %v", err)
	}
	if got.DisplayName != "Alice B." {
		t.Fatalf("display name = %q", got.DisplayName)
	}
}

func TestRoomsAreUniquePerPair(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	first, err := store.EnsureRoom(ctx, rooms.Room{ID: "room-1", UserLow: "alice", UserHigh: "bob", Name: "A & B", CreatedAt: testNow})
	if err != nil {
		t.Fatalf("ensure room: %v", err)
	}
	second, err := store.EnsureRoom(ctx, rooms.Room{ID: "room-2", UserLow: "alice", UserHigh: "bob", Name: "A & B", CreatedAt: testNow})
	if err != nil {
		t.Fatalf("ensure room again: %v", err)
	}
	if first.ID != "room-1" || second.ID != "room-1" {
		t.Fatalf("rooms = %s/%s, want room-1 twice", first.ID, second.ID)
	}

	wrote, err := store.PutMessageOnce(ctx, rooms.Message{ID: "m1", RoomID: "room-1", Kind: rooms.KindWelcome, Body: "hi", CreatedAt: testNow})
	if err != nil || !wrote {
		t.Fatalf("first welcome wrote=%v err=%v", wrote, err)
	}
	wrote, err = store.PutMessageOnce(ctx, rooms.Message{ID: "m2", RoomID: "room-1", Kind: rooms.KindWelcome, Body: "hi", CreatedAt: testNow})
	if err != nil || wrote {
		t.Fatalf("second welcome wrote=%v err=%v", wrote, err)
	}
}
