// Package session defines the authoritative data model shared by the
// persistence gateway, the session coordinator, and the global resolver:
// sessions, their serialized state, entities, player bookkeeping, and the
// small value types (Lvl, Content, Logs, Position, Spawn) that make up the
// JSON-valued columns of the persisted schema.
package session

import (
	"encoding/json"
	"math"
	"time"

	"github.com/google/uuid"
)

// UserID identifies an authenticated player. GameID identifies a game
// template row.
type UserID = string
type GameID = string

// EntityID identifies a session-scoped world entity.
type EntityID = string

// Content is an opaque JSON object bag attached to entities, notifications,
// and accounts. It round-trips through encoding/json without a fixed schema.
type Content map[string]interface{}

// NewContent returns an empty Content map.
func NewContent() Content {
	return Content{}
}

// Insert sets a key to the JSON value of v and returns the receiver for
// chaining, matching the fluent style used when building notifications.
func (c Content) Insert(key string, v interface{}) Content {
	c[key] = v
	return c
}

// Logs is a timestamped bag of JSON-serializable events, persisted as the
// sessions.logs column.
type Logs map[time.Time]json.RawMessage

// NewLogs returns an empty Logs map.
func NewLogs() Logs {
	return Logs{}
}

// Log records v under the current time. Marshal failures are dropped rather
// than propagated, mirroring the fire-and-forget logging call sites that use
// this method.
func (l Logs) Log(v interface{}) {
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	l[time.Now()] = raw
}

// Lvl is a character level, derived from accumulated XP on a logarithmic
// curve: xp = e^level, level = floor(ln(xp) + 1).
type Lvl int

// DefaultLvl is the level assigned to a fresh player.
const DefaultLvl Lvl = 1

// ToXP returns the XP threshold for the level.
func (l Lvl) ToXP() uint64 {
	return uint64(math.Exp(float64(l)))
}

// LvlFromXP derives a level from an accumulated XP total.
func LvlFromXP(xp uint64) Lvl {
	if xp == 0 {
		return 0
	}
	return Lvl(math.Floor(math.Log(float64(xp)) + 1.0))
}

// Position is a 2D coordinate within a session's spawn zone.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Spawn names a scene and the rectangular zone random spawns are drawn from.
type Spawn struct {
	Scene string      `json:"scene"`
	Zone  [2]Position `json:"zone"`
}

// DefaultSpawn matches the original's "BaseScene" default with a
// zero-area zone at the origin.
func DefaultSpawn() Spawn {
	return Spawn{Scene: "BaseScene", Zone: [2]Position{{}, {}}}
}

// Entity is a single piece of session-owned world state: a manager-owned,
// freely-extensible JSON record with a position and a declared type.
type Entity struct {
	Display    Content                `json:"display"`
	Attributes Content                `json:"attributes,omitempty"`
	Manager    UserID                 `json:"manager"`
	Position   Position               `json:"position"`
	Type       string                 `json:"type"`
	Extra      map[string]interface{} `json:"-"`
}

// MarshalJSON flattens Extra alongside the named fields, mirroring the
// original's #[serde(flatten)] on its extension field.
func (e Entity) MarshalJSON() ([]byte, error) {
	out := map[string]interface{}{}
	for k, v := range e.Extra {
		out[k] = v
	}
	out["display"] = e.Display
	if e.Attributes != nil {
		out["attributes"] = e.Attributes
	}
	out["manager"] = e.Manager
	out["position"] = e.Position
	out["type"] = e.Type
	return json.Marshal(out)
}

// UnmarshalJSON extracts the named fields and keeps everything else in Extra.
func (e *Entity) UnmarshalJSON(data []byte) error {
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	type alias Entity
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*e = Entity(a)

	e.Extra = map[string]interface{}{}
	for _, known := range []string{"display", "attributes", "manager", "position", "type"} {
		delete(raw, known)
	}
	e.Extra = raw
	return nil
}

// PlayerStats is the per-player running tally maintained inside
// SessionState, settled against the staking contract on session end.
type PlayerStats struct {
	Kills     int32      `json:"kills"`
	XPAccrual uint64     `json:"xp_accrual"`
	Death     *time.Time `json:"death,omitempty"`
}

// ClientStatus mirrors the wire-visible lifecycle of a connected client.
type ClientStatus struct {
	Kind string `json:"kind"` // loading | lost_connection | in_progress | ready | ended

	// At is populated for loading/lost_connection/ended.
	At *time.Time `json:"at,omitempty"`
	// Elapsed is populated for in_progress.
	Elapsed time.Duration `json:"elapsed,omitempty"`
}

const (
	ClientLoading        = "loading"
	ClientLostConnection = "lost_connection"
	ClientInProgress      = "in_progress"
	ClientReady           = "ready"
	ClientEnded           = "ended"
)

// NewLoadingStatus returns the status a freshly joined client starts in.
func NewLoadingStatus() ClientStatus {
	now := time.Now()
	return ClientStatus{Kind: ClientLoading, At: &now}
}

// PlayerInfo is the per-player snapshot stored alongside a player_session
// row and broadcast inside Tick.
type PlayerInfo struct {
	ManagedEntities map[EntityID]struct{} `json:"managed_entities"`
	Stats           PlayerStats           `json:"stats"`
	Status          ClientStatus          `json:"status"`
}

// GameConfig is the persisted per-game template: player caps, level gate,
// attempt limits, and session duration (minutes).
type GameConfig struct {
	PlayerLimit     int32  `json:"player_limit"`
	Teams           int32  `json:"teams"`
	LvlRequired     Lvl    `json:"lvl_required"`
	SessionAttempts *int64 `json:"session_attempts,omitempty"`
	PlayerAttempts  *int64 `json:"player_attempts,omitempty"`
	DurationMinutes float64 `json:"duration"`
}

// DefaultGameConfig matches the original's defaults (1 player, 1 team,
// level 1 gate, 30 minute sessions).
func DefaultGameConfig() GameConfig {
	return GameConfig{
		PlayerLimit:     1,
		Teams:           1,
		LvlRequired:     DefaultLvl,
		DurationMinutes: 30.0,
	}
}

// Duration converts DurationMinutes into a time.Duration.
func (g GameConfig) Duration() time.Duration {
	return time.Duration(g.DurationMinutes * float64(time.Minute))
}

// SessionState is the authoritative, JSON-persisted inner state of a
// session: spawn configuration, the entity registry's snapshot, pending
// spawn-id reassignments, destroyed entities, per-player stats, elapsed
// seconds, and an opaque data bag.
type SessionState struct {
	Spawn             Spawn                    `json:"spawn"`
	Entities          map[EntityID]Entity      `json:"entities"`
	PendingSpawns     map[EntityID]EntityID    `json:"pending_spawns"`
	DestroyedEntities map[EntityID]Entity      `json:"destroyed_entities"`
	Stats             map[UserID]PlayerStats   `json:"stats"`
	Elapsed           float32                  `json:"elapsed"`
	Data              Content                  `json:"data"`
}

// DefaultSessionState returns the zero-value session state a new session
// starts with.
func DefaultSessionState() SessionState {
	return SessionState{
		Spawn:             DefaultSpawn(),
		Entities:          map[EntityID]Entity{},
		PendingSpawns:     map[EntityID]EntityID{},
		DestroyedEntities: map[EntityID]Entity{},
		Stats:             map[UserID]PlayerStats{},
		Data:              NewContent(),
	}
}

// PlayerInfo derives the wire-visible snapshot for a single player from the
// current state and its live client status.
func (s SessionState) PlayerInfo(id UserID, status ClientStatus) PlayerInfo {
	managed := map[EntityID]struct{}{}
	for eid, e := range s.Entities {
		if e.Manager == id {
			managed[eid] = struct{}{}
		}
	}
	stats := s.Stats[id]
	return PlayerInfo{ManagedEntities: managed, Stats: stats, Status: status}
}

// DecodeSessionState unmarshals a persisted state column, falling back to
// the default state on malformed JSON so the session keeps running rather
// than failing to load.
func DecodeSessionState(raw []byte) SessionState {
	var s SessionState
	if err := json.Unmarshal(raw, &s); err != nil {
		return DefaultSessionState()
	}
	return s
}

// DecodeGameConfig is the GameConfig analogue of DecodeSessionState.
func DecodeGameConfig(raw []byte) GameConfig {
	var c GameConfig
	if err := json.Unmarshal(raw, &c); err != nil {
		return DefaultGameConfig()
	}
	return c
}

// DecodePlayerInfo is the PlayerInfo analogue of DecodeSessionState.
func DecodePlayerInfo(raw []byte) PlayerInfo {
	var p PlayerInfo
	if err := json.Unmarshal(raw, &p); err != nil {
		return PlayerInfo{ManagedEntities: map[EntityID]struct{}{}}
	}
	return p
}

// DecodeLogs is the Logs analogue of DecodeSessionState.
func DecodeLogs(raw []byte) Logs {
	var l Logs
	if err := json.Unmarshal(raw, &l); err != nil {
		return NewLogs()
	}
	return l
}

// Session is the persisted row backing a live or terminated game session.
type Session struct {
	ID         uuid.UUID
	GameID     GameID
	PoolID     *string
	Creator    UserID
	Password   *string
	Private    bool
	CreatedAt  time.Time
	StartedAt  *time.Time
	EndedAt    *time.Time
	LastUpdate *time.Time
	Logs       Logs
	State      SessionState
}

// PoolRef anchors a session to an external stake pool.
type PoolRef struct {
	ID           string
	Result       *Content
	RegisteredAt time.Time
	ResolvedAt   *time.Time
}

// PlayerSession tracks one user's participation in one session.
type PlayerSession struct {
	SessionID  uuid.UUID
	UserID     UserID
	AccountID  *string
	CreatedAt  time.Time
	EndedAt    *time.Time
	ResolvedAt *time.Time
	Info       *PlayerInfo
}

// UserSession maps a bearer token to an authenticated user for the
// lifetime of a login.
type UserSession struct {
	AuthToken string
	UserID    UserID
	StartedAt time.Time
	EndedAt   *time.Time
}

// Whitelist gates a private session to an explicit set of users.
type Whitelist struct {
	SessionID uuid.UUID
	UserID    UserID
}

// Game is the persisted template a session is created from.
type Game struct {
	ID        GameID
	Creator   UserID
	Config    GameConfig
	CreatedAt time.Time
	EndedAt   *time.Time
	Expiry    *time.Time
}

// Account is an external staking identity owned by a user.
type Account struct {
	AccountID  string
	UserID     UserID
	LastActive *time.Time
	Rewards    Logs
}
