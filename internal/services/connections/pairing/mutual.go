package pairing

import (
	"context"
	"errors"

	"go.uber.org/zap"

	apperrors "github.com/liaizen/coparent/internal/platform/errors"
	"github.com/liaizen/coparent/internal/services/connections/identity"
	"github.com/liaizen/coparent/internal/services/connections/request"
	"github.com/liaizen/coparent/internal/services/connections/storage"
)

// resolveReciprocal accepts the target's pending invitation to the caller
// instead of issuing a second one. handled is false when there is nothing
// to merge and creation should proceed.
func (s *Service) resolveReciprocal(ctx context.Context, caller identity.Identity, target string) (CreateResult, bool, error) {
	reciprocal, err := s.store.FindPendingByInitiatorAndTargetEmail(ctx, target, caller.Email, s.now())
	if errors.Is(err, storage.ErrNotFound) {
		return CreateResult{}, false, nil
	}
	if err != nil {
		return CreateResult{}, true, storageFault("find reciprocal request", err)
	}
	if reciprocal.InitiatorID == caller.AccountID {
		return CreateResult{}, false, nil
	}

	acceptance, err := s.commitAcceptance(ctx, reciprocal, caller, true)
	switch {
	case err == nil:
		return mutualResult(acceptance), true, nil
	case errors.Is(err, storage.ErrConflict), errors.Is(err, storage.ErrPairExists):
		if existing, ok := s.existingPairing(ctx, caller.AccountID, reciprocal.InitiatorID); ok {
			return mutualResult(existing), true, nil
		}
		if errors.Is(err, storage.ErrPairExists) {
			return CreateResult{}, true, apperrors.New(apperrors.CodeAlreadyConnected, "one of the accounts is already paired")
		}
		// The reciprocal request was resolved some other way.
		return CreateResult{}, false, nil
	default:
		return CreateResult{}, true, err
	}
}

// recheckReciprocal closes the window where both accounts invite each other
// at once: each inserted its own row before seeing the other's. Both sides
// then try to accept the other's row and the pair constraint lets exactly
// one commit. The winner retires its own fresh row; the loser reports the
// winner's pairing.
func (s *Service) recheckReciprocal(ctx context.Context, caller identity.Identity, target string, own request.ConnectionRequest) (CreateResult, bool, error) {
	reciprocal, err := s.store.FindPendingByInitiatorAndTargetEmail(ctx, target, caller.Email, s.now())
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.logger.Warn("recheck reciprocal", zap.String("request_id", own.ID), zap.Error(err))
		}
		return s.ownRowOutcome(ctx, own)
	}
	if reciprocal.InitiatorID == caller.AccountID {
		return CreateResult{}, false, nil
	}

	acceptance, err := s.commitAcceptance(ctx, reciprocal, caller, true)
	if err == nil {
		s.retireOwn(ctx, own, caller.AccountID, reciprocal.ID)
		return mutualResult(acceptance), true, nil
	}
	if !errors.Is(err, storage.ErrConflict) && !errors.Is(err, storage.ErrPairExists) {
		return CreateResult{}, true, err
	}
	if existing, ok := s.existingPairing(ctx, caller.AccountID, reciprocal.InitiatorID); ok {
		return mutualResult(existing), true, nil
	}
	return s.ownRowOutcome(ctx, own)
}

// ownRowOutcome reports a mutual result if the caller's fresh row was
// accepted by the other side in the meantime.
func (s *Service) ownRowOutcome(ctx context.Context, own request.ConnectionRequest) (CreateResult, bool, error) {
	current, err := s.store.GetRequest(ctx, own.ID)
	if err != nil || current.Status != request.StatusAccepted {
		return CreateResult{}, false, nil
	}
	return mutualResult(AcceptResult{Request: current, RoomID: current.RoomID, RoomPending: current.RoomID == "", Mutual: true}), true, nil
}

func (s *Service) retireOwn(ctx context.Context, own request.ConnectionRequest, actorID, mergedInto string) {
	now := s.now()
	_, err := s.store.CASUpdateStatus(ctx, storage.Transition{
		RequestID:   own.ID,
		To:          request.StatusCanceled,
		At:          now,
		InitiatorID: own.InitiatorID,
		Audit: request.AuditEntry{
			Action:    request.ActionSuperseded,
			ActorID:   actorID,
			CreatedAt: now,
			Metadata: map[string]string{
				request.MetaMutual: "true",
				request.MetaReason: "merged into " + mergedInto,
			},
		},
	})
	if err != nil && !errors.Is(err, storage.ErrConflict) {
		s.logger.Warn("retire merged request", zap.String("request_id", own.ID), zap.Error(err))
	}
}

// existingPairing loads the committed pairing between two accounts.
func (s *Service) existingPairing(ctx context.Context, accountA, accountB string) (AcceptResult, bool) {
	pair, err := s.store.GetPair(ctx, accountA, accountB)
	if err != nil {
		return AcceptResult{}, false
	}
	req, err := s.store.GetRequest(ctx, pair.RequestID)
	if err != nil {
		return AcceptResult{}, false
	}
	roomID := req.RoomID
	if roomID == "" {
		roomID = pair.RoomID
	}
	return AcceptResult{Request: req, RoomID: roomID, RoomPending: roomID == "", Mutual: true}, true
}

func mutualResult(acceptance AcceptResult) CreateResult {
	acceptance.Mutual = true
	return CreateResult{
		Request:    acceptance.Request,
		Mutual:     true,
		Acceptance: &acceptance,
	}
}
