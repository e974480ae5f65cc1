// Package validation provides input validation for session update payloads
// before a Coordinator applies them.
//
// # Creating a Validator
//
// Create an UpdateValidator with a maximum request size limit:
//
//	validator := validation.NewUpdateValidator(64 * 1024) // 64KB limit
//
// # Validating Updates
//
// Validate an inbound Update before dispatching it to a Coordinator:
//
//	err := validator.ValidateUpdate(update, requestSize)
//	if err != nil {
//	    return fmt.Errorf("invalid update: %w", err)
//	}
//
// # Supported Update Kinds
//
//   - affect: requires an affector and at least one affected entity
//   - entities: bounds the combined active/kill/spawn batch size
//   - change_spawn: requires a non-empty scene name
//   - stats: rejects negative kill counts
//   - status: requires a recognized client status kind
//   - pause: rejects a negative pause duration
//   - resume, end: no payload to validate
package validation
