// Package resolver implements the Global Resolver: the single process-wide
// actor that settles a terminated session's outcome against the external
// staking contract once the owning Coordinator has checkpointed it. It runs
// every settlement asynchronously, the same way the original offloads RPC
// calls to a spawned future from inside a synchronous actor handler.
package resolver

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"stakesession/pkg/contract"
	"stakesession/pkg/coordinator"
	"stakesession/pkg/session"
)

// Contract is the subset of the Contract Gateway the resolver drives.
type Contract interface {
	GetPools(ctx context.Context, poolID string) (results []contract.PoolResult, resolved bool, err error)
	AssertPoolResult(ctx context.Context, poolID string, winner *string) error
	DistributeStakes(ctx context.Context, poolID string) error
	GiveXP(ctx context.Context, accountID string, xp uint64) error
	KillCharacter(ctx context.Context, accountID string) error
}

// Store is the subset of the Persistence Gateway the resolver drives.
type Store interface {
	LookupAccountOwner(ctx context.Context, accountID string) (session.UserID, error)
	ResolvePlayerSession(ctx context.Context, sessionID string, userID session.UserID, at time.Time) error
	MarkPoolResolved(ctx context.Context, id string, at time.Time) error
	UnresolvedSessions(ctx context.Context) ([]string, error)
}

// Resolver implements coordinator.Resolver.
type Resolver struct {
	contract Contract
	store    Store
	logger   *logrus.Entry
}

// New builds a Resolver over the given Contract Gateway and Persistence
// Gateway.
func New(c Contract, s Store) *Resolver {
	return &Resolver{
		contract: c,
		store:    s,
		logger:   logrus.WithFields(logrus.Fields{"package": "resolver"}),
	}
}

// Rehydrate returns the ids of sessions whose termination settlement was
// left incomplete by a prior process (crash, restart). The caller is
// responsible for reattaching a Coordinator to each and re-sending it a
// SessionEnd, exactly as a fresh restart would replay an interrupted
// termination.
func (r *Resolver) Rehydrate(ctx context.Context) []string {
	ids, err := r.store.UnresolvedSessions(ctx)
	if err != nil {
		r.logger.WithError(err).Warn("failed to query unresolved sessions at startup")
		return nil
	}
	return ids
}

// ResolvePlayerSession settles one player's accrued XP, or their death if
// xp is nil, against the contract, then marks the player_session resolved.
// Runs asynchronously; failures are logged and left for the Coordinator's
// own retry cadence to resubmit.
func (r *Resolver) ResolvePlayerSession(sessionID, accountID string, xp *uint64) {
	go r.resolvePlayerSession(context.Background(), sessionID, accountID, xp)
}

func (r *Resolver) resolvePlayerSession(ctx context.Context, sessionID, accountID string, xp *uint64) {
	logger := r.logger.WithFields(logrus.Fields{"session_id": sessionID, "account_id": accountID})

	var err error
	if xp != nil {
		err = r.contract.GiveXP(ctx, accountID, *xp)
	} else {
		err = r.contract.KillCharacter(ctx, accountID)
	}
	if err != nil {
		logger.WithError(err).Warn("contract rpc failed during player session resolve")
		return
	}

	// The player_session row is keyed by (session_id, user_id), so the
	// account is mapped to its owning user and that user's row is marked
	// resolved. When one user holds several accounts in the same session,
	// settling any one of them marks the row resolved for all of them.
	userID, err := r.store.LookupAccountOwner(ctx, accountID)
	if err != nil {
		logger.WithError(err).Warn("failed to resolve account owner")
		return
	}

	if err := r.store.ResolvePlayerSession(ctx, sessionID, userID, time.Now()); err != nil {
		logger.WithError(err).Warn("failed to mark player session resolved")
	}
}

// ResolvePool settles the pool attached to a terminated session: it asks
// the contract which stakes are registered, picks the winner among the
// session's surviving participants, asserts the result, and triggers
// payout.
func (r *Resolver) ResolvePool(sessionID, poolID string, results []coordinator.PlayerSessionEnd) {
	go r.resolvePool(context.Background(), sessionID, poolID, results)
}

func (r *Resolver) resolvePool(ctx context.Context, sessionID, poolID string, results []coordinator.PlayerSessionEnd) {
	logger := r.logger.WithFields(logrus.Fields{"session_id": sessionID, "pool_id": poolID})

	registered, resolved, err := r.contract.GetPools(ctx, poolID)
	if err != nil {
		logger.WithError(err).Warn("contract rpc failed fetching pool")
		return
	}
	if resolved {
		logger.Debug("pool already resolved, skipping")
		return
	}

	winner := pickWinner(results, registered)

	if err := r.contract.AssertPoolResult(ctx, poolID, winner); err != nil {
		logger.WithError(err).Warn("failed to assert pool result")
		return
	}
	if err := r.contract.DistributeStakes(ctx, poolID); err != nil {
		logger.WithError(err).Warn("failed to distribute stakes")
		return
	}

	if err := r.store.MarkPoolResolved(ctx, poolID, time.Now()); err != nil {
		logger.WithError(err).Warn("failed to persist pool resolution")
	}
}

// pickWinner scans the session's end-time-sorted results against the pool's
// registered stakes. For each result, the first registered entry that either
// is that account or lists it in its stakes supplies the winner (the
// registered entry's own account id). Later entries in results can
// overwrite an earlier match — the outer scan never stops early — so the
// result favors the participant latest in the (descending-by-end-time)
// ordering passed in, matching this gateway's original staking semantics.
func pickWinner(results []coordinator.PlayerSessionEnd, registered []contract.PoolResult) *string {
	var winner string
	var found bool

	for _, r := range results {
		for _, pr := range registered {
			if r.AccountID == pr.AccountID {
				winner = pr.AccountID
				found = true
				break
			}
			if _, staked := pr.Stakes[r.AccountID]; staked {
				winner = pr.AccountID
				found = true
				break
			}
		}
	}

	if !found {
		return nil
	}
	return &winner
}
