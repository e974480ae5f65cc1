// Package store is the Persistence Gateway: typed reads and writes of
// sessions, player_sessions, pools, games, user_sessions, whitelist, and
// accounts against a relational store with JSON-valued columns. The users
// and roles tables are not read or written here. It follows the logging idiom of this codebase's ambient stack,
// adapted to a connection-pooled SQL backend.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"stakesession/pkg/session"
)

// Store wraps a connection pool to the relational backend. All methods are
// safe for concurrent use; the underlying *sql.DB manages its own pool.
type Store struct {
	db *sql.DB
}

// Config controls connection pool sizing, mirroring the tuning knobs a
// game-server-scale Postgres deployment needs.
type Config struct {
	DatabaseURL     string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DefaultConfig returns sizing defaults suitable for a single coordinator
// process.
func DefaultConfig(databaseURL string) Config {
	return Config{
		DatabaseURL:     databaseURL,
		MaxOpenConns:    25,
		MaxIdleConns:    10,
		ConnMaxLifetime: 30 * time.Minute,
	}
}

// Open establishes the connection pool and verifies connectivity.
func Open(cfg Config) (*Store, error) {
	logger := logrus.WithFields(logrus.Fields{"function": "Open", "package": "store"})
	logger.Debug("entering Open")

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	logger.Info("persistence gateway connected")
	return &Store{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the connection pool can still reach the backend.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CreateSession inserts a new session row with default state and returns
// its assigned id.
func (s *Store) CreateSession(ctx context.Context, gameID session.GameID, poolID *string, creator session.UserID, password *string, private bool) (string, error) {
	logger := logrus.WithFields(logrus.Fields{"function": "CreateSession", "package": "store"})
	logger.Debug("entering CreateSession")

	state, err := marshalJSON(session.DefaultSessionState())
	if err != nil {
		return "", fmt.Errorf("marshal default session state: %w", err)
	}

	var id string
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO sessions (game_id, pool_id, creator, password, private, created_at, logs, state)
		VALUES ($1, $2, $3, $4, $5, now(), $6, $7)
		RETURNING id
	`, gameID, poolID, creator, password, private, []byte("{}"), state).Scan(&id)
	if err != nil {
		logger.WithError(err).Error("failed to insert session")
		return "", fmt.Errorf("insert session: %w", err)
	}

	return id, nil
}

// LoadSession reads a single session row by id.
func (s *Store) LoadSession(ctx context.Context, id string) (session.Session, error) {
	logger := logrus.WithFields(logrus.Fields{"function": "LoadSession", "package": "store"})
	logger.Debug("entering LoadSession")

	var (
		sess        session.Session
		rawID       string
		stateBytes  []byte
		logsBytes   []byte
		poolID      sql.NullString
		password    sql.NullString
		startedAt   sql.NullTime
		endedAt     sql.NullTime
		lastUpdate  sql.NullTime
	)

	err := s.db.QueryRowContext(ctx, `
		SELECT id, game_id, pool_id, creator, password, private, created_at,
		       started_at, ended_at, last_update, logs, state
		FROM sessions WHERE id = $1
	`, id).Scan(&rawID, &sess.GameID, &poolID, &sess.Creator, &password, &sess.Private,
		&sess.CreatedAt, &startedAt, &endedAt, &lastUpdate, &logsBytes, &stateBytes)
	if err != nil {
		return session.Session{}, fmt.Errorf("load session %s: %w", id, err)
	}

	sess.ID = parseUUID(rawID)
	sess.PoolID = nullStringPtr(poolID)
	sess.Password = nullStringPtr(password)
	sess.StartedAt = nullTimePtr(startedAt)
	sess.EndedAt = nullTimePtr(endedAt)
	sess.LastUpdate = nullTimePtr(lastUpdate)
	sess.Logs = session.DecodeLogs(logsBytes)
	sess.State = session.DecodeSessionState(stateBytes)

	return sess, nil
}

// SaveCheckpoint persists the log loop's periodic write: logs, state,
// last_update, and started_at (idempotent once set). Failures are logged
// and swallowed per the error-handling design: the next periodic log
// retries rather than failing the coordinator.
func (s *Store) SaveCheckpoint(ctx context.Context, id string, logs session.Logs, state session.SessionState, startedAt *time.Time) {
	logger := logrus.WithFields(logrus.Fields{"function": "SaveCheckpoint", "package": "store", "session_id": id})

	logBytes, err := marshalJSON(logs)
	if err != nil {
		logger.WithError(err).Warn("failed to marshal logs, skipping checkpoint")
		return
	}
	stateBytes, err := marshalJSON(state)
	if err != nil {
		logger.WithError(err).Warn("failed to marshal state, skipping checkpoint")
		return
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE sessions SET logs = $1, state = $2, last_update = now(), started_at = $3
		WHERE id = $4
	`, logBytes, stateBytes, startedAt, id)
	if err != nil {
		logger.WithError(err).Warn("checkpoint write failed, will retry on next log interval")
	}
}

// SetSessionEnded idempotently sets sessions.ended_at.
func (s *Store) SetSessionEnded(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET ended_at = $1 WHERE id = $2 AND ended_at IS NULL
	`, at, id)
	if err != nil {
		return fmt.Errorf("set session %s ended: %w", id, err)
	}
	return nil
}

// UpsertPlayerInfo writes a player_session's PlayerInfo snapshot while it
// remains active (ended_at IS NULL).
func (s *Store) UpsertPlayerInfo(ctx context.Context, sessionID string, userID session.UserID, info session.PlayerInfo) error {
	raw, err := marshalJSON(info)
	if err != nil {
		return fmt.Errorf("marshal player info: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE player_sessions SET info = $1
		WHERE session_id = $2 AND user_id = $3 AND ended_at IS NULL
	`, raw, sessionID, userID)
	if err != nil {
		return fmt.Errorf("upsert player info: %w", err)
	}
	return nil
}

// EndPlayerSession sets a player_session's ended_at.
func (s *Store) EndPlayerSession(ctx context.Context, sessionID string, userID session.UserID, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE player_sessions SET ended_at = $1
		WHERE session_id = $2 AND user_id = $3 AND ended_at IS NULL
	`, at, sessionID, userID)
	if err != nil {
		return fmt.Errorf("end player session: %w", err)
	}
	return nil
}

// PlayerSessionsFor returns every player_session row for a session.
func (s *Store) PlayerSessionsFor(ctx context.Context, sessionID string) ([]session.PlayerSession, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, user_id, account_id, created_at, ended_at, resolved_at, info
		FROM player_sessions WHERE session_id = $1
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query player_sessions: %w", err)
	}
	defer rows.Close()

	var out []session.PlayerSession
	for rows.Next() {
		var (
			ps         session.PlayerSession
			rawID      string
			accountID  sql.NullString
			endedAt    sql.NullTime
			resolvedAt sql.NullTime
			infoBytes  []byte
		)
		if err := rows.Scan(&rawID, &ps.UserID, &accountID, &ps.CreatedAt, &endedAt, &resolvedAt, &infoBytes); err != nil {
			return nil, fmt.Errorf("scan player_session: %w", err)
		}
		ps.SessionID = parseUUID(rawID)
		ps.AccountID = nullStringPtr(accountID)
		ps.EndedAt = nullTimePtr(endedAt)
		ps.ResolvedAt = nullTimePtr(resolvedAt)
		if infoBytes != nil {
			info := session.DecodePlayerInfo(infoBytes)
			ps.Info = &info
		}
		out = append(out, ps)
	}
	return out, rows.Err()
}

// ResolvePlayerSession marks a (session_id, user_id) player_session
// resolved.
func (s *Store) ResolvePlayerSession(ctx context.Context, sessionID string, userID session.UserID, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE player_sessions SET resolved_at = $1
		WHERE session_id = $2 AND user_id = $3
	`, at, sessionID, userID)
	if err != nil {
		return fmt.Errorf("resolve player session: %w", err)
	}
	return nil
}

// LoadPool reads a pool row by id.
func (s *Store) LoadPool(ctx context.Context, id string) (session.PoolRef, error) {
	var (
		pool         session.PoolRef
		resultBytes  []byte
		resolvedAt   sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, result, registered_at, resolved_at FROM pools WHERE id = $1
	`, id).Scan(&pool.ID, &resultBytes, &pool.RegisteredAt, &resolvedAt)
	if err != nil {
		return session.PoolRef{}, fmt.Errorf("load pool %s: %w", id, err)
	}
	pool.ResolvedAt = nullTimePtr(resolvedAt)
	if resultBytes != nil {
		var c session.Content
		if unmarshalJSON(resultBytes, &c) == nil {
			pool.Result = &c
		}
	}
	return pool, nil
}

// MarkPoolResolved sets a pool's resolved_at.
func (s *Store) MarkPoolResolved(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE pools SET resolved_at = $1 WHERE id = $2
	`, at, id)
	if err != nil {
		return fmt.Errorf("mark pool %s resolved: %w", id, err)
	}
	return nil
}

// LoadGame reads a game template row by id.
func (s *Store) LoadGame(ctx context.Context, id session.GameID) (session.Game, error) {
	var (
		game         session.Game
		configBytes  []byte
		endedAt      sql.NullTime
		expiry       sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, creator, config, created_at, ended_at, expiry FROM games WHERE id = $1
	`, id).Scan(&game.ID, &game.Creator, &configBytes, &game.CreatedAt, &endedAt, &expiry)
	if err != nil {
		return session.Game{}, fmt.Errorf("load game %s: %w", id, err)
	}
	game.EndedAt = nullTimePtr(endedAt)
	game.Expiry = nullTimePtr(expiry)
	game.Config = session.DecodeGameConfig(configBytes)
	return game, nil
}

// LookupUserSession resolves a bearer token to its user id, if the session
// is still active (ended_at IS NULL).
func (s *Store) LookupUserSession(ctx context.Context, authToken string) (session.UserID, error) {
	var userID session.UserID
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id FROM user_sessions WHERE auth_token = $1 AND ended_at IS NULL
	`, authToken).Scan(&userID)
	if err != nil {
		return "", fmt.Errorf("lookup user session: %w", err)
	}
	return userID, nil
}

// LookupAccountOwner resolves an external account id to its owning user,
// used by the Global Resolver to translate an account-level resolution
// into a (session_id, user_id) player_session update.
func (s *Store) LookupAccountOwner(ctx context.Context, accountID string) (session.UserID, error) {
	var userID session.UserID
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id FROM accounts WHERE account_id = $1
	`, accountID).Scan(&userID)
	if err != nil {
		return "", fmt.Errorf("lookup account owner: %w", err)
	}
	return userID, nil
}

// UnresolvedSessions returns ids of sessions whose termination settlement
// is incomplete: ended but the attached pool (if any) or some
// player_session remains unresolved. Consumed once, at Global Resolver
// startup, to replay unfinished SessionEnd sequences after a crash.
func (s *Store) UnresolvedSessions(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT s.id
		FROM sessions s
		LEFT JOIN pools p ON s.pool_id = p.id
		JOIN player_sessions ps ON ps.session_id = s.id
		WHERE s.ended_at IS NOT NULL
		  AND ((p.id IS NOT NULL AND p.resolved_at IS NULL) OR ps.resolved_at IS NULL)
	`)
	if err != nil {
		// Treated as empty per the error-handling design: a query failure
		// during startup rehydration should not prevent the process from
		// serving new sessions.
		return nil, nil
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// IsWhitelisted reports whether userID may join a private session.
func (s *Store) IsWhitelisted(ctx context.Context, sessionID string, userID session.UserID) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM whitelist WHERE session_id = $1 AND user_id = $2)
	`, sessionID, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check whitelist: %w", err)
	}
	return exists, nil
}

// CreateUserSession records a freshly issued bearer token for userID.
func (s *Store) CreateUserSession(ctx context.Context, authToken string, userID session.UserID) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_sessions (auth_token, user_id, started_at) VALUES ($1, $2, now())
	`, authToken, userID)
	if err != nil {
		return fmt.Errorf("create user session: %w", err)
	}
	return nil
}
