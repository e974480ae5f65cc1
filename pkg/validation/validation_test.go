package validation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stakesession/pkg/coordinator"
	"stakesession/pkg/session"
)

func TestNewUpdateValidatorRegistersAllKinds(t *testing.T) {
	v := NewUpdateValidator(1024)
	require.NotNil(t, v)

	for _, kind := range []string{
		coordinator.UpdateAffect, coordinator.UpdateEntities, coordinator.UpdateChangeSpawn,
		coordinator.UpdateStats, coordinator.UpdateStatus, coordinator.UpdatePause,
		coordinator.UpdateResume, coordinator.UpdateEnd,
	} {
		_, exists := v.validators[kind]
		assert.True(t, exists, "kind %s should be registered", kind)
	}
}

func TestValidateUpdateEnforcesRequestSize(t *testing.T) {
	v := NewUpdateValidator(10)
	err := v.ValidateUpdate(coordinator.Update{Kind: coordinator.UpdateEnd}, 100)
	assert.ErrorContains(t, err, "exceeds maximum allowed size")
}

func TestValidateUpdateRejectsUnknownKind(t *testing.T) {
	v := NewUpdateValidator(1024)
	err := v.ValidateUpdate(coordinator.Update{Kind: "bogus"}, 10)
	assert.ErrorContains(t, err, "unknown update kind")
}

func TestValidateAffectRequiresAffectorAndAffected(t *testing.T) {
	v := NewUpdateValidator(1024)

	err := v.ValidateUpdate(coordinator.Update{Kind: coordinator.UpdateAffect}, 10)
	assert.ErrorContains(t, err, "affector")

	err = v.ValidateUpdate(coordinator.Update{
		Kind:     coordinator.UpdateAffect,
		Affector: "e1",
	}, 10)
	assert.ErrorContains(t, err, "affected")

	err = v.ValidateUpdate(coordinator.Update{
		Kind:     coordinator.UpdateAffect,
		Affector: "e1",
		Affected: map[session.EntityID]struct{}{"e2": {}},
	}, 10)
	assert.NoError(t, err)
}

func TestValidateEntitiesBoundsBatchSize(t *testing.T) {
	v := NewUpdateValidator(1024)

	active := make(map[session.EntityID]session.Entity, maxEntityBatch+1)
	for i := 0; i < maxEntityBatch+1; i++ {
		active[session.EntityID(string(rune(i)))] = session.Entity{Type: "prop"}
	}

	err := v.ValidateUpdate(coordinator.Update{Kind: coordinator.UpdateEntities, Active: active}, 10)
	assert.ErrorContains(t, err, "exceeds maximum")
}

func TestValidateEntitiesRejectsMissingType(t *testing.T) {
	v := NewUpdateValidator(1024)

	err := v.ValidateUpdate(coordinator.Update{
		Kind:   coordinator.UpdateEntities,
		Active: map[session.EntityID]session.Entity{"e1": {}},
	}, 10)
	assert.ErrorContains(t, err, "requires a type")
}

func TestValidateChangeSpawnRequiresScene(t *testing.T) {
	v := NewUpdateValidator(1024)

	err := v.ValidateUpdate(coordinator.Update{Kind: coordinator.UpdateChangeSpawn}, 10)
	assert.ErrorContains(t, err, "requires a spawn")

	err = v.ValidateUpdate(coordinator.Update{
		Kind:  coordinator.UpdateChangeSpawn,
		Spawn: &session.Spawn{},
	}, 10)
	assert.ErrorContains(t, err, "cannot be empty")

	err = v.ValidateUpdate(coordinator.Update{
		Kind:  coordinator.UpdateChangeSpawn,
		Spawn: &session.Spawn{Scene: "Arena"},
	}, 10)
	assert.NoError(t, err)
}

func TestValidateStatsRejectsNegativeKills(t *testing.T) {
	v := NewUpdateValidator(1024)

	err := v.ValidateUpdate(coordinator.Update{
		Kind:  coordinator.UpdateStats,
		Stats: &session.PlayerStats{Kills: -1},
	}, 10)
	assert.ErrorContains(t, err, "negative")
}

func TestValidateStatusRejectsUnknownKind(t *testing.T) {
	v := NewUpdateValidator(1024)

	err := v.ValidateUpdate(coordinator.Update{
		Kind:         coordinator.UpdateStatus,
		ClientStatus: &session.ClientStatus{Kind: "bogus"},
	}, 10)
	assert.ErrorContains(t, err, "invalid client status kind")

	err = v.ValidateUpdate(coordinator.Update{
		Kind:         coordinator.UpdateStatus,
		ClientStatus: &session.ClientStatus{Kind: session.ClientReady},
	}, 10)
	assert.NoError(t, err)
}

func TestValidatePauseRejectsNegativeDuration(t *testing.T) {
	v := NewUpdateValidator(1024)

	negative := -time.Second
	err := v.ValidateUpdate(coordinator.Update{
		Kind:        coordinator.UpdatePause,
		ForDuration: &negative,
	}, 10)
	assert.ErrorContains(t, err, "negative")
}

func TestValidateNotificationBoundsKeyCount(t *testing.T) {
	c := session.NewContent()
	for i := 0; i < maxNotificationKeys+1; i++ {
		c[string(rune(i))] = "x"
	}
	err := ValidateNotification(c)
	assert.ErrorContains(t, err, "exceeds maximum")
}
