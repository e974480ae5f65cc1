package coordinator

import (
	"time"

	"stakesession/pkg/session"
)

// Status tags are the lifecycle states a Coordinator cycles through:
// Starting (countdown not yet committed, then committed), InProgress,
// Standby (paused, optionally for a fixed duration or until explicitly
// resumed), and PostSession (duration elapsed, awaiting termination).
const (
	StatusStarting    = "starting"
	StatusInProgress  = "in_progress"
	StatusStandby     = "standby"
	StatusPostSession = "post_session"
)

// SessionStatus is the Coordinator's own lifecycle state, broadcast on
// every Tick. It is runtime-only: nothing here is persisted directly, only
// derived from the session row's started_at/ended_at and its own interval
// loop.
type SessionStatus struct {
	Kind string `json:"kind"`

	// Elapsed is populated for Starting (once a countdown has been
	// committed) and InProgress.
	Elapsed *time.Duration `json:"elapsed,omitempty"`

	// PausedAt, ForDuration, and By are populated for Standby.
	PausedAt    *time.Time        `json:"paused_at,omitempty"`
	ForDuration *time.Duration    `json:"for_duration,omitempty"`
	By          *session.UserID   `json:"by,omitempty"`
}

// StartingStatus returns the Starting variant, with or without a committed
// countdown elapsed-hint.
func StartingStatus(elapsed *time.Duration) SessionStatus {
	return SessionStatus{Kind: StatusStarting, Elapsed: elapsed}
}

// InProgressStatus returns the InProgress variant.
func InProgressStatus(elapsed time.Duration) SessionStatus {
	return SessionStatus{Kind: StatusInProgress, Elapsed: &elapsed}
}

// StandbyStatus returns the Standby variant.
func StandbyStatus(pausedAt time.Time, forDuration *time.Duration, by *session.UserID) SessionStatus {
	return SessionStatus{Kind: StatusStandby, PausedAt: &pausedAt, ForDuration: forDuration, By: by}
}

// PostSessionStatus returns the PostSession variant.
func PostSessionStatus() SessionStatus {
	return SessionStatus{Kind: StatusPostSession}
}
