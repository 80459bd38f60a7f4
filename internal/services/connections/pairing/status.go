package pairing

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	apperrors "github.com/liaizen/coparent/internal/platform/errors"
	"github.com/liaizen/coparent/internal/services/connections/identity"
	"github.com/liaizen/coparent/internal/services/connections/request"
	"github.com/liaizen/coparent/internal/services/connections/storage"
)

// State summarizes where an account stands in the protocol.
type State string

const (
	StatePaired          State = "paired"
	StatePendingSent     State = "pending_sent"
	StatePendingReceived State = "pending_received"
	StateUnpaired        State = "unpaired"
)

// StatusView is the caller's connection status.
type StatusView struct {
	State State
	// PartnerID and RoomID are set when paired; RoomID may be empty while
	// room creation is pending.
	PartnerID string
	RoomID    string
	RequestID string
	Sent      []*Details
	Received  []*Details
}

// Status reports the caller's pairing or open invitations. Sent requests
// take precedence over received ones when both exist.
func (s *Service) Status(ctx context.Context, caller identity.Identity) (StatusView, error) {
	if caller.AccountID == "" {
		return StatusView{}, apperrors.New(apperrors.CodeActorRequired, "account is required")
	}
	pair, err := s.store.GetPairForAccount(ctx, caller.AccountID)
	if err == nil {
		return StatusView{
			State:     StatePaired,
			PartnerID: pair.Other(caller.AccountID),
			RoomID:    pair.RoomID,
			RequestID: pair.RequestID,
		}, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return StatusView{}, storageFault("get pairing", err)
	}

	now := s.now()
	view := StatusView{State: StateUnpaired}
	sent, err := s.store.ListPendingByInitiator(ctx, caller.AccountID, now)
	if err != nil {
		return StatusView{}, storageFault("list sent requests", err)
	}
	for _, req := range sent {
		view.Sent = append(view.Sent, detailsOf(req))
	}
	if email := request.NormalizeEmail(caller.Email); email != "" {
		received, err := s.store.ListPendingByTargetEmail(ctx, email, now)
		if err != nil {
			return StatusView{}, storageFault("list received requests", err)
		}
		for _, req := range received {
			if req.InitiatorID == caller.AccountID {
				continue
			}
			view.Received = append(view.Received, detailsOf(req))
		}
	}
	switch {
	case len(view.Sent) > 0:
		view.State = StatePendingSent
	case len(view.Received) > 0:
		view.State = StatePendingReceived
	}
	return view, nil
}

// History lists the audit trail of a request to one of its participants.
func (s *Service) History(ctx context.Context, requestID string, actorID string) ([]request.AuditEntry, error) {
	requestID = strings.TrimSpace(requestID)
	actorID = strings.TrimSpace(actorID)
	if requestID == "" {
		return nil, apperrors.New(apperrors.CodeRequestIDRequired, "request id is required")
	}
	if actorID == "" {
		return nil, apperrors.New(apperrors.CodeActorRequired, "account is required")
	}
	req, err := s.store.GetRequest(ctx, requestID)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && !req.Participant(actorID)) {
		return nil, apperrors.New(apperrors.CodeRequestNotFound, "request not found")
	}
	if err != nil {
		return nil, storageFault("get request", err)
	}
	entries, err := s.store.ListAudit(ctx, req.ID)
	if err != nil {
		return nil, storageFault("list audit", err)
	}
	return entries, nil
}

// RepairReport summarizes one repair pass.
type RepairReport struct {
	Checked  int
	Attached int
	Failed   int
}

// RepairRooms attaches rooms to accepted requests whose room creation was
// exhausted. Each request gets a single attempt per pass.
func (s *Service) RepairRooms(ctx context.Context, limit int) (RepairReport, error) {
	if limit <= 0 {
		limit = 100
	}
	pending, err := s.store.ListAcceptedWithoutRoom(ctx, limit)
	if err != nil {
		return RepairReport{}, storageFault("list roomless pairings", err)
	}
	var report RepairReport
	for _, req := range pending {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Checked++
		counterpartyName := s.resolveName(ctx, req.CounterpartyID)
		roomID, err := s.materializeRoom(ctx, req, counterpartyName, 1)
		if err != nil {
			report.Failed++
			continue
		}
		report.Attached++
		s.postWelcome(ctx, roomID, req.InitiatorName, counterpartyName)
		s.logger.Info("room repaired", zap.String("request_id", req.ID), zap.String("room_id", roomID))
	}
	return report, nil
}
