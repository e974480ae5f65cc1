package resolver

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stakesession/pkg/contract"
	"stakesession/pkg/coordinator"
)

type fakeContract struct {
	mu             sync.Mutex
	pools          []contract.PoolResult
	poolsResolved  bool
	assertedWinner *string
	distributed    bool
	givenXP        map[string]uint64
	killed         map[string]bool
}

func (f *fakeContract) GetPools(ctx context.Context, poolID string) ([]contract.PoolResult, bool, error) {
	return f.pools, f.poolsResolved, nil
}

func (f *fakeContract) AssertPoolResult(ctx context.Context, poolID string, winner *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.assertedWinner = winner
	return nil
}

func (f *fakeContract) DistributeStakes(ctx context.Context, poolID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.distributed = true
	return nil
}

func (f *fakeContract) GiveXP(ctx context.Context, accountID string, xp uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.givenXP == nil {
		f.givenXP = map[string]uint64{}
	}
	f.givenXP[accountID] = xp
	return nil
}

func (f *fakeContract) KillCharacter(ctx context.Context, accountID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.killed == nil {
		f.killed = map[string]bool{}
	}
	f.killed[accountID] = true
	return nil
}

type fakeStore struct {
	mu            sync.Mutex
	owners        map[string]string
	resolvedUsers map[string]string
	poolResolved  bool
}

func (f *fakeStore) LookupAccountOwner(ctx context.Context, accountID string) (string, error) {
	return f.owners[accountID], nil
}

func (f *fakeStore) ResolvePlayerSession(ctx context.Context, sessionID string, userID string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.resolvedUsers == nil {
		f.resolvedUsers = map[string]string{}
	}
	f.resolvedUsers[sessionID] = userID
	return nil
}

func (f *fakeStore) MarkPoolResolved(ctx context.Context, id string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.poolResolved = true
	return nil
}

func (f *fakeStore) UnresolvedSessions(ctx context.Context) ([]string, error) {
	return nil, nil
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition never became true")
}

func TestResolvePlayerSessionGivesXPAndMarksResolved(t *testing.T) {
	fc := &fakeContract{}
	fs := &fakeStore{owners: map[string]string{"acct-1": "alice"}}
	r := New(fc, fs)

	xp := uint64(100)
	r.ResolvePlayerSession("sess-1", "acct-1", &xp)

	waitFor(t, func() bool {
		fs.mu.Lock()
		defer fs.mu.Unlock()
		return fs.resolvedUsers["sess-1"] == "alice"
	})
	assert.Equal(t, uint64(100), fc.givenXP["acct-1"])
}

func TestResolvePlayerSessionKillsCharacterOnNilXP(t *testing.T) {
	fc := &fakeContract{}
	fs := &fakeStore{owners: map[string]string{"acct-1": "alice"}}
	r := New(fc, fs)

	r.ResolvePlayerSession("sess-1", "acct-1", nil)

	waitFor(t, func() bool {
		fc.mu.Lock()
		defer fc.mu.Unlock()
		return fc.killed["acct-1"]
	})
}

func TestResolvePoolAssertsDirectMatchAndDistributes(t *testing.T) {
	fc := &fakeContract{pools: []contract.PoolResult{{AccountID: "acct-winner"}}}
	fs := &fakeStore{}
	r := New(fc, fs)

	results := []coordinator.PlayerSessionEnd{{AccountID: "acct-winner", EndedAt: time.Now()}}
	r.ResolvePool("sess-1", "pool-1", results)

	waitFor(t, func() bool {
		fs.mu.Lock()
		defer fs.mu.Unlock()
		return fs.poolResolved
	})
	require.NotNil(t, fc.assertedWinner)
	assert.Equal(t, "acct-winner", *fc.assertedWinner)
	assert.True(t, fc.distributed)
}

func TestResolvePoolSkipsWhenAlreadyResolved(t *testing.T) {
	fc := &fakeContract{poolsResolved: true}
	fs := &fakeStore{}
	r := New(fc, fs)

	r.resolvePool(context.Background(), "sess-1", "pool-1", nil)

	assert.Nil(t, fc.assertedWinner)
	assert.False(t, fs.poolResolved)
}

func TestPickWinnerPrefersLaterOuterMatch(t *testing.T) {
	registered := []contract.PoolResult{
		{AccountID: "pool-a"},
		{AccountID: "pool-b"},
	}
	results := []coordinator.PlayerSessionEnd{
		{AccountID: "pool-a", EndedAt: time.Now()},
		{AccountID: "pool-b", EndedAt: time.Now()},
	}

	winner := pickWinner(results, registered)
	require.NotNil(t, winner)
	assert.Equal(t, "pool-b", *winner, "later entries in the scan must be able to overwrite an earlier match")
}

func TestPickWinnerReturnsNilWhenNoneMatch(t *testing.T) {
	winner := pickWinner(
		[]coordinator.PlayerSessionEnd{{AccountID: "someone-else"}},
		[]contract.PoolResult{{AccountID: "pool-a"}},
	)
	assert.Nil(t, winner)
}
