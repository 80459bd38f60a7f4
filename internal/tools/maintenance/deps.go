package maintenance

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	server "github.com/liaizen/coparent/internal/services/connections/app"
	"github.com/liaizen/coparent/internal/services/connections/identity"
	"github.com/liaizen/coparent/internal/services/connections/pairing"
	"github.com/liaizen/coparent/internal/services/connections/request"
	"github.com/liaizen/coparent/internal/services/connections/rooms"
	"github.com/liaizen/coparent/internal/services/connections/sweeper"
)

// passes runs the sweeper passes once each.
type passes interface {
	SweepOnce(ctx context.Context) ([]string, error)
	RepairOnce(ctx context.Context) (pairing.RepairReport, error)
}

// roomlessLister lists accepted pairings that still lack a room.
type roomlessLister interface {
	ListAcceptedWithoutRoom(ctx context.Context, limit int) ([]request.ConnectionRequest, error)
}

type deps struct {
	passes   passes
	roomless roomlessLister
	close    func() error
}

func openDeps(ctx context.Context, cfg Config, logger *zap.Logger) (deps, error) {
	store, err := server.OpenStore(ctx, cfg.DB)
	if err != nil {
		return deps{}, err
	}
	service, err := pairing.New(pairing.Config{
		Store:      store,
		Contacts:   store,
		Rooms:      rooms.NewService(store),
		Identities: identity.NewResolver(store),
		Logger:     logger,
	})
	if err != nil {
		return deps{}, errors.Join(err, store.Close())
	}
	sw, err := sweeper.New(sweeper.Config{
		Store:       store,
		Repairer:    service,
		RepairBatch: cfg.RepairLimit,
		Logger:      logger,
	})
	if err != nil {
		return deps{}, errors.Join(err, store.Close())
	}
	return deps{
		passes:   sw,
		roomless: store,
		close: func() error {
			if err := store.Close(); err != nil {
				return fmt.Errorf("close store: %w", err)
			}
			return nil
		},
	}, nil
}
