package pairing

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/liaizen/coparent/internal/services/connections/identity"
	"github.com/liaizen/coparent/internal/services/connections/request"
	"github.com/liaizen/coparent/internal/services/connections/storage"
)

// materializeRoom creates the pair's room with bounded retries and attaches
// it to the accepted request. On exhaustion it records room_pending and
// returns the last error; acceptance stays committed.
func (s *Service) materializeRoom(ctx context.Context, req request.ConnectionRequest, counterpartyName string, tries uint) (string, error) {
	if tries == 0 {
		tries = 1
	}
	attempts := 0
	operation := func() (string, error) {
		attempts++
		roomID, err := s.rooms.CreateSharedRoom(ctx, req.InitiatorID, req.CounterpartyID, req.InitiatorName, counterpartyName)
		if err != nil {
			return "", err
		}
		if roomID == "" {
			return "", errors.New("room creator returned an empty room id")
		}
		return roomID, nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = s.retry.InitialInterval
	policy.MaxInterval = s.retry.MaxInterval
	roomID, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(tries),
		backoff.WithNotify(func(err error, next time.Duration) {
			s.logger.Warn("room creation failed, retrying",
				zap.String("request_id", req.ID),
				zap.Duration("next", next),
				zap.Error(err),
			)
		}),
	)
	if err != nil {
		s.logger.Error("room creation exhausted",
			zap.String("request_id", req.ID),
			zap.Int("attempts", attempts),
			zap.Error(err),
		)
		if auditErr := s.store.AppendAudit(ctx, request.AuditEntry{
			RequestID: req.ID,
			Action:    request.ActionRoomPending,
			ActorID:   request.ActorSystem,
			CreatedAt: s.now(),
			Metadata: map[string]string{
				request.MetaAttempts: strconv.Itoa(attempts),
				request.MetaReason:   err.Error(),
			},
		}); auditErr != nil {
			s.logger.Warn("record room_pending", zap.String("request_id", req.ID), zap.Error(auditErr))
		}
		return "", fmt.Errorf("create room: %w", err)
	}

	err = s.store.AttachRoom(ctx, req.ID, roomID, request.AuditEntry{
		Action:    request.ActionRoomAttached,
		ActorID:   request.ActorSystem,
		CreatedAt: s.now(),
		Metadata:  map[string]string{request.MetaRoomID: roomID},
	})
	switch {
	case err == nil:
		return roomID, nil
	case errors.Is(err, storage.ErrConflict):
		// Another caller attached first; the room is the same for the pair.
		current, getErr := s.store.GetRequest(ctx, req.ID)
		if getErr != nil || current.RoomID == "" {
			return roomID, nil
		}
		return current.RoomID, nil
	default:
		s.logger.Error("attach room", zap.String("request_id", req.ID), zap.String("room_id", roomID), zap.Error(err))
		return "", fmt.Errorf("attach room: %w", err)
	}
}

// bootstrap runs the once-per-pairing side effects. Each step is
// best-effort and never undoes the acceptance.
func (s *Service) bootstrap(ctx context.Context, req request.ConnectionRequest, accepter identity.Identity) {
	now := s.now()
	for _, contact := range []storage.Contact{
		{OwnerUserID: req.InitiatorID, ContactUserID: req.CounterpartyID},
		{OwnerUserID: req.CounterpartyID, ContactUserID: req.InitiatorID},
	} {
		contact.Relationship = storage.RelationshipCoParent
		contact.CreatedAt = now
		contact.UpdatedAt = now
		if err := s.contacts.PutContact(ctx, contact); err != nil {
			s.logger.Warn("bootstrap contact",
				zap.String("request_id", req.ID),
				zap.String("owner_user_id", contact.OwnerUserID),
				zap.Error(err),
			)
		}
	}

	if req.RoomID != "" {
		s.postWelcome(ctx, req.RoomID, req.InitiatorName, accepter.Name())
	}

	s.retireOpenRequests(ctx, req, accepter.AccountID)

	if s.notifier != nil {
		if err := s.notifier.NotifyAccepted(ctx, req.InitiatorID, accepter.Name()); err != nil {
			s.logger.Warn("notify accepted", zap.String("request_id", req.ID), zap.Error(err))
		}
	}
}

func (s *Service) postWelcome(ctx context.Context, roomID, nameA, nameB string) {
	if err := s.rooms.PostWelcome(ctx, roomID, welcomeMessage(nameA, nameB)); err != nil {
		s.logger.Warn("post welcome", zap.String("room_id", roomID), zap.Error(err))
	}
}

func welcomeMessage(nameA, nameB string) string {
	return fmt.Sprintf("Welcome, %s and %s! This is your shared space for co-parenting conversations.", nameA, nameB)
}

// retireOpenRequests cancels every other pending request either member
// issued, since an account holds at most one pairing.
func (s *Service) retireOpenRequests(ctx context.Context, accepted request.ConnectionRequest, actorID string) {
	now := s.now()
	for _, accountID := range []string{accepted.InitiatorID, accepted.CounterpartyID} {
		pending, err := s.store.ListPendingByInitiator(ctx, accountID, now)
		if err != nil {
			s.logger.Warn("list open requests", zap.String("account_id", accountID), zap.Error(err))
			continue
		}
		for _, open := range pending {
			if open.ID == accepted.ID {
				continue
			}
			_, err := s.store.CASUpdateStatus(ctx, storage.Transition{
				RequestID:   open.ID,
				To:          request.StatusCanceled,
				At:          now,
				InitiatorID: accountID,
				Audit: request.AuditEntry{
					Action:    request.ActionSuperseded,
					ActorID:   actorID,
					CreatedAt: now,
					Metadata:  map[string]string{request.MetaReason: "paired via " + accepted.ID},
				},
			})
			if err != nil && !errors.Is(err, storage.ErrConflict) {
				s.logger.Warn("retire open request", zap.String("request_id", open.ID), zap.Error(err))
			}
		}
	}
}
