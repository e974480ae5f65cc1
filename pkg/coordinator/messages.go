package coordinator

import (
	"time"

	"stakesession/pkg/session"
)

// ClientHandle is what a Coordinator needs from a connected client to push
// messages to it: an outbound send and its owning user id. pkg/clientsession
// implements this; the dependency runs that direction to avoid an import
// cycle between the two packages.
type ClientHandle interface {
	UserID() session.UserID
	Send(ServerMessage)
}

// ServerMessage is the tagged union of everything a Coordinator (or a
// resolver acting on its behalf) pushes down to a connected client.
type ServerMessage struct {
	Kind string `json:"kind"`

	// Tick fields.
	Players map[session.UserID]session.PlayerInfo `json:"players,omitempty"`
	State   *session.SessionState                 `json:"state,omitempty"`
	TickMS  int64                                 `json:"tick_ms,omitempty"`
	Status  *SessionStatus                        `json:"status,omitempty"`

	// Notification field.
	Notification session.Content `json:"notification,omitempty"`

	// Update field (Affect broadcast back out to other managers).
	Update *Update `json:"update,omitempty"`

	// Left fields.
	LeftUserID         session.UserID                    `json:"left_user_id,omitempty"`
	LeftManagedEntities map[session.EntityID]struct{}    `json:"left_managed_entities,omitempty"`
}

func tickMessage(players map[session.UserID]session.PlayerInfo, state session.SessionState, tickMS int64, status SessionStatus) ServerMessage {
	return ServerMessage{Kind: "tick", Players: players, State: &state, TickMS: tickMS, Status: &status}
}

func notificationMessage(c session.Content) ServerMessage {
	return ServerMessage{Kind: "notification", Notification: c}
}

func updateMessage(u Update) ServerMessage {
	return ServerMessage{Kind: "update", Update: &u}
}

func leftMessage(userID session.UserID, managed map[session.EntityID]struct{}) ServerMessage {
	return ServerMessage{Kind: "left", LeftUserID: userID, LeftManagedEntities: managed}
}

// Update is the tagged union of mutations a client may push into a session.
// Exactly one of the per-kind fields is meaningful, selected by Kind.
type Update struct {
	Kind string `json:"kind"`

	// Affect.
	Affector  session.EntityID            `json:"affector,omitempty"`
	Affected  map[session.EntityID]struct{} `json:"affected,omitempty"`
	Affectors session.Content             `json:"affectors,omitempty"`

	// Entities.
	Active   map[session.EntityID]session.Entity `json:"active,omitempty"`
	KillList []session.EntityID                  `json:"kill_list,omitempty"`
	Spawns   map[session.EntityID]session.Entity `json:"spawns,omitempty"`

	// ChangeSpawn.
	Spawn *session.Spawn `json:"spawn,omitempty"`

	// Stats.
	Stats *session.PlayerStats `json:"stats,omitempty"`

	// Status.
	ClientStatus *session.ClientStatus `json:"client_status,omitempty"`

	// Pause.
	ForDuration *time.Duration `json:"for_duration,omitempty"`
}

const (
	UpdateAffect      = "affect"
	UpdateEntities    = "entities"
	UpdateChangeSpawn = "change_spawn"
	UpdateStats       = "stats"
	UpdateStatus      = "status"
	UpdatePause       = "pause"
	UpdateResume      = "resume"
	UpdateEnd         = "end"
)

// Join is sent once a client's registry entry exists (see pkg/clientsession)
// and it is ready to attach to a session.
type Join struct {
	UserID     session.UserID
	PlayerInfo session.PlayerInfo
	AccountID  *string
	Handle     ClientHandle
	Reply      chan JoinResult
}

// JoinResult is what a Join handler returns: the session's current state
// and every connected player's info, or an error if the session could not
// accept the join.
type JoinResult struct {
	State   session.SessionState
	Players map[session.UserID]session.PlayerInfo
	Err     error
}

// Leave removes a client from a session, reassigning any entities it
// managed to an arbitrary remaining client (promoting to host if it held
// that role), or stopping the Coordinator if it was the last client.
type Leave struct {
	UserID session.UserID
	Reply  chan LeaveResult
}

// LeaveResult echoes the leaving player's final info, or ok=false if it was
// not a member of the session.
type LeaveResult struct {
	SessionID string
	Info      session.PlayerInfo
	OK        bool
}

// SessionMessage broadcasts msg to every client except those in Exclude,
// and appends it to the session's log.
type SessionMessage struct {
	Msg     ServerMessage
	Exclude map[session.UserID]struct{}
}

// SessionUpdate applies a client-submitted Update, subject to manager/host
// authority checks.
type SessionUpdate struct {
	Updater session.UserID
	Update  Update
}

// SessionEnd runs the termination sequence: freezing client statuses,
// checkpointing, and handing settlement off to the resolver.
type SessionEnd struct{}

// Resolver is what a Coordinator hands termination settlement off to once
// its own bookkeeping is durable. pkg/resolver implements it.
type Resolver interface {
	// ResolvePlayerSession settles one player's accrued XP (or, if xp is
	// nil, their death) against the external contract. Called for every
	// ended, unresolved player_session regardless of whether a pool is
	// attached.
	ResolvePlayerSession(sessionID, accountID string, xp *uint64)

	// ResolvePool settles the attached pool's winner once every surviving
	// player's end-time is known. Called only when the session carries a
	// pool id.
	ResolvePool(sessionID, poolID string, results []PlayerSessionEnd)
}

// PlayerSessionEnd is one (account, end-time) pair a Coordinator reports to
// the resolver as a winner candidate when a session with an attached pool
// terminates. Players who died are excluded from this list.
type PlayerSessionEnd struct {
	AccountID string
	EndedAt   time.Time
}
