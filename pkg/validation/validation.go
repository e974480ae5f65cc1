// Package validation provides input validation for inbound session update
// payloads. It ensures client-submitted updates are properly bounded before
// a Coordinator ever applies them, preventing oversized or malformed
// payloads from reaching session state.
package validation

import (
	"fmt"
	"unicode/utf8"

	"stakesession/pkg/coordinator"
	"stakesession/pkg/session"
)

const (
	maxContentKeys     = 256
	maxEntityBatch     = 512
	maxDisplayEntries  = 64
	maxAttributeBytes  = 16 * 1024
	maxNotificationKeys = 64
)

// UpdateValidator validates client-submitted Update payloads by kind and
// enforces a maximum wire-message size, mirroring the teacher's per-method
// validator registry generalized to this wire's tagged-union Update kind.
type UpdateValidator struct {
	maxRequestSize int64
	validators     map[string]func(coordinator.Update) error
}

// NewUpdateValidator creates a new UpdateValidator with the specified
// maximum request size, the bound enforced before any per-kind check runs.
func NewUpdateValidator(maxRequestSize int64) *UpdateValidator {
	v := &UpdateValidator{
		maxRequestSize: maxRequestSize,
		validators:     make(map[string]func(coordinator.Update) error),
	}
	v.validators[coordinator.UpdateAffect] = v.validateAffect
	v.validators[coordinator.UpdateEntities] = v.validateEntities
	v.validators[coordinator.UpdateChangeSpawn] = v.validateChangeSpawn
	v.validators[coordinator.UpdateStats] = v.validateStats
	v.validators[coordinator.UpdateStatus] = v.validateStatus
	v.validators[coordinator.UpdatePause] = v.validatePause
	v.validators[coordinator.UpdateResume] = v.validateNoop
	v.validators[coordinator.UpdateEnd] = v.validateNoop
	return v
}

// ValidateUpdate validates u given its wire size in bytes, checking the
// request size limit and then running the kind-specific rule.
func (v *UpdateValidator) ValidateUpdate(u coordinator.Update, requestSize int64) error {
	if requestSize > v.maxRequestSize {
		return fmt.Errorf("update payload size %d exceeds maximum allowed size %d", requestSize, v.maxRequestSize)
	}

	validator, exists := v.validators[u.Kind]
	if !exists {
		return fmt.Errorf("unknown update kind: %s", u.Kind)
	}
	return validator(u)
}

func (v *UpdateValidator) validateNoop(u coordinator.Update) error {
	return nil
}

func (v *UpdateValidator) validateAffect(u coordinator.Update) error {
	if u.Affector == "" {
		return fmt.Errorf("affect requires an affector entity id")
	}
	if len(u.Affected) == 0 {
		return fmt.Errorf("affect requires at least one affected entity")
	}
	return validateContent(u.Affectors)
}

func (v *UpdateValidator) validateEntities(u coordinator.Update) error {
	total := len(u.Active) + len(u.KillList) + len(u.Spawns)
	if total > maxEntityBatch {
		return fmt.Errorf("entities update carries %d entities, exceeds maximum of %d", total, maxEntityBatch)
	}
	for id, e := range u.Active {
		if err := validateEntity(id, e); err != nil {
			return err
		}
	}
	for id, e := range u.Spawns {
		if err := validateEntity(id, e); err != nil {
			return err
		}
	}
	return nil
}

func (v *UpdateValidator) validateChangeSpawn(u coordinator.Update) error {
	if u.Spawn == nil {
		return fmt.Errorf("change_spawn requires a spawn")
	}
	if u.Spawn.Scene == "" {
		return fmt.Errorf("spawn scene cannot be empty")
	}
	if !utf8.ValidString(u.Spawn.Scene) {
		return fmt.Errorf("spawn scene contains invalid UTF-8")
	}
	return nil
}

func (v *UpdateValidator) validateStats(u coordinator.Update) error {
	if u.Stats == nil {
		return fmt.Errorf("stats update requires stats")
	}
	if u.Stats.Kills < 0 {
		return fmt.Errorf("kills cannot be negative")
	}
	return nil
}

func (v *UpdateValidator) validateStatus(u coordinator.Update) error {
	if u.ClientStatus == nil {
		return fmt.Errorf("status update requires a client status")
	}
	switch u.ClientStatus.Kind {
	case session.ClientLoading, session.ClientLostConnection, session.ClientInProgress, session.ClientReady, session.ClientEnded:
		return nil
	default:
		return fmt.Errorf("invalid client status kind: %s", u.ClientStatus.Kind)
	}
}

func (v *UpdateValidator) validatePause(u coordinator.Update) error {
	if u.ForDuration != nil && *u.ForDuration < 0 {
		return fmt.Errorf("pause duration cannot be negative")
	}
	return nil
}

func validateEntity(id session.EntityID, e session.Entity) error {
	if id == "" {
		return fmt.Errorf("entity id cannot be empty")
	}
	if e.Type == "" {
		return fmt.Errorf("entity %s requires a type", id)
	}
	if len(e.Display) > maxDisplayEntries {
		return fmt.Errorf("entity %s display carries %d keys, exceeds maximum of %d", id, len(e.Display), maxDisplayEntries)
	}
	if err := validateContent(e.Attributes); err != nil {
		return fmt.Errorf("entity %s: %w", id, err)
	}
	return nil
}

func validateContent(c session.Content) error {
	if len(c) > maxContentKeys {
		return fmt.Errorf("content carries %d keys, exceeds maximum of %d", len(c), maxContentKeys)
	}
	size := 0
	for k, v := range c {
		size += len(k)
		if s, ok := v.(string); ok {
			size += len(s)
		}
	}
	if size > maxAttributeBytes {
		return fmt.Errorf("content size %d bytes exceeds maximum of %d", size, maxAttributeBytes)
	}
	return nil
}

// ValidateNotification bounds a Content payload pushed out-of-band via a
// notification message.
func ValidateNotification(c session.Content) error {
	if len(c) > maxNotificationKeys {
		return fmt.Errorf("notification carries %d keys, exceeds maximum of %d", len(c), maxNotificationKeys)
	}
	return validateContent(c)
}
