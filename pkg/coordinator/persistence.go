package coordinator

import (
	"context"
	"time"

	"stakesession/pkg/session"
)

// Persistence is the slice of the Persistence Gateway a Coordinator needs.
// pkg/store.Store satisfies it; accepting the interface here keeps the
// Coordinator's tick/handler logic testable without a live database.
type Persistence interface {
	SaveCheckpoint(ctx context.Context, id string, logs session.Logs, state session.SessionState, startedAt *time.Time)
	UpsertPlayerInfo(ctx context.Context, sessionID string, userID session.UserID, info session.PlayerInfo) error
	EndPlayerSession(ctx context.Context, sessionID string, userID session.UserID, at time.Time) error
	SetSessionEnded(ctx context.Context, id string, at time.Time) error
	PlayerSessionsFor(ctx context.Context, sessionID string) ([]session.PlayerSession, error)
	LoadPool(ctx context.Context, id string) (session.PoolRef, error)
}
