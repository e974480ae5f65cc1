// Package coordinator implements the Session Coordinator: the per-session
// actor that owns a game session's live state, ticks its lifecycle FSM,
// checkpoints it to the Persistence Gateway, and hands termination off to a
// Resolver for settlement against the external staking contract.
//
// Each Coordinator is a goroutine that owns a buffered mailbox channel and
// two interval tickers, selected together in one loop — the same
// single-writer shape an actix actor gives its handlers, expressed with
// Go's native concurrency primitives instead of a framework.
package coordinator

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"stakesession/pkg/session"
)

// TickInterval matches the original's 60Hz simulation tick.
const TickInterval = time.Second / 60

// LogInterval matches the original's 10 second checkpoint cadence.
const LogInterval = 10 * time.Second

// resolveRetryCadence is how long a termination sequence waits on an
// unresolved pool/player_session set before re-running.
const resolveRetryCadence = 30 * time.Second

// countdownDuration is how long clients have, once every client reports
// Ready, before the session is committed to starting.
const countdownDuration = 15 * time.Second

// clientInfo is a Coordinator's bookkeeping for one connected client.
type clientInfo struct {
	startedAt  time.Time
	lastUpdate time.Time
	handle     ClientHandle
	accountID  *string
	status     session.ClientStatus
}

// Coordinator is the live, in-memory actor for one game session.
type Coordinator struct {
	id      string
	gameID  session.GameID
	host    session.UserID
	creator session.UserID
	poolID  *string

	resolving *time.Time
	state     session.SessionState
	status    SessionStatus

	startedAt *time.Time
	duration  time.Duration
	pauseTime time.Duration
	pausedAt  *time.Time
	endedAt   *time.Time

	logs session.Logs
	tick time.Time

	clients map[session.UserID]*clientInfo

	mailbox chan interface{}
	done    chan struct{}

	store    Persistence
	resolver Resolver

	logger *logrus.Entry
}

// New builds a Coordinator from a persisted session row and its owning
// game's config. host is the initial session host — normally the
// session's creator.
func New(sess session.Session, game session.Game, host session.UserID, st Persistence, resolver Resolver) *Coordinator {
	var status SessionStatus
	if sess.StartedAt != nil {
		now := time.Now()
		status = StandbyStatus(now, nil, nil)
	} else {
		status = StartingStatus(nil)
	}

	return &Coordinator{
		id:        sess.ID.String(),
		gameID:    sess.GameID,
		host:      host,
		creator:   sess.Creator,
		poolID:    sess.PoolID,
		state:     sess.State,
		status:    status,
		startedAt: sess.StartedAt,
		duration:  game.Config.Duration(),
		logs:      sess.Logs,
		tick:      time.Now(),
		clients:   map[session.UserID]*clientInfo{},
		mailbox:   make(chan interface{}, 64),
		done:      make(chan struct{}),
		store:     st,
		resolver:  resolver,
		logger: logrus.WithFields(logrus.Fields{
			"package":    "coordinator",
			"session_id": sess.ID.String(),
		}),
	}
}

// ID returns the session id this Coordinator owns.
func (c *Coordinator) ID() string { return c.id }

// Send enqueues a message for processing by the Coordinator's own
// goroutine. Safe to call from any goroutine.
func (c *Coordinator) Send(msg interface{}) {
	select {
	case c.mailbox <- msg:
	case <-c.done:
	}
}

// Run drives the Coordinator's tick and log loops, and drains its mailbox,
// until ctx is cancelled or the session stops itself (pool/player_session
// settlement complete, or the last client left). Run blocks; callers start
// it in its own goroutine.
func (c *Coordinator) Run(ctx context.Context) {
	defer close(c.done)

	tickTicker := time.NewTicker(TickInterval)
	defer tickTicker.Stop()
	logTicker := time.NewTicker(LogInterval)
	defer logTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case msg := <-c.mailbox:
			if !c.dispatch(ctx, msg) {
				return
			}

		case <-tickTicker.C:
			c.advance(ctx)
			c.sendTick()

		case <-logTicker.C:
			c.checkpoint(ctx)
		}
	}
}

// dispatch routes one mailbox message to its handler. Returns false if the
// Coordinator should stop.
func (c *Coordinator) dispatch(ctx context.Context, msg interface{}) bool {
	switch m := msg.(type) {
	case Join:
		c.handleJoin(m)
	case Leave:
		return c.handleLeave(m)
	case SessionMessage:
		c.handleSessionMessage(m)
	case SessionUpdate:
		c.handleSessionUpdate(m)
	case SessionEnd:
		return c.handleSessionEnd(ctx)
	}
	return true
}

// toggleTimer pauses or resumes the elapsed-time accumulator.
func (c *Coordinator) toggleTimer() {
	if c.pausedAt != nil {
		c.pauseTime += time.Since(*c.pausedAt)
		c.pausedAt = nil
		return
	}
	now := time.Now()
	c.pausedAt = &now
}

// elapsed returns wall-clock time since the session started, net of any
// accumulated pause time.
func (c *Coordinator) elapsed() time.Duration {
	if c.startedAt == nil {
		return 0
	}
	e := time.Since(*c.startedAt) - c.pauseTime
	if e < 0 {
		return 0
	}
	return e
}

// advance runs one tick of the lifecycle FSM.
func (c *Coordinator) advance(ctx context.Context) {
	switch c.status.Kind {
	case StatusStarting:
		if c.status.Elapsed == nil {
			c.advanceStartingUncommitted()
		} else {
			c.advanceStartingCommitted()
		}

	case StatusInProgress:
		if c.elapsed() >= c.duration {
			c.status = PostSessionStatus()
		} else {
			e := c.elapsed()
			c.status = InProgressStatus(e)
		}

	case StatusPostSession:
		c.advancePostSession(ctx)

	case StatusStandby:
		c.advanceStandby()
	}
}

func (c *Coordinator) advanceStartingUncommitted() {
	allReady := len(c.clients) > 0
	for _, ci := range c.clients {
		if ci.status.Kind != session.ClientReady && ci.status.Kind != session.ClientEnded {
			allReady = false
			break
		}
	}

	if allReady {
		start := time.Now().Add(countdownDuration)
		c.startedAt = &start
		remaining := time.Until(start)
		c.status = StartingStatus(&remaining)

		for _, ci := range c.clients {
			ci.status = session.ClientStatus{Kind: session.ClientInProgress, Elapsed: time.Since(ci.startedAt)}
		}
		return
	}

	for userID, ci := range c.clients {
		switch ci.status.Kind {
		case session.ClientInProgress:
			ci.status = session.ClientStatus{Kind: session.ClientReady}
		case session.ClientLoading, session.ClientLostConnection:
			if ci.status.At != nil && time.Since(*ci.status.At) > time.Minute {
				c.Send(Leave{UserID: userID, Reply: nil})
			}
		}
	}
}

func (c *Coordinator) advanceStartingCommitted() {
	if c.startedAt == nil {
		return
	}
	if time.Now().After(*c.startedAt) {
		c.toggleTimer()
		c.status = InProgressStatus(c.elapsed())
		return
	}
	remaining := time.Until(*c.startedAt)
	c.status = StartingStatus(&remaining)
}

func (c *Coordinator) advancePostSession(ctx context.Context) {
	if c.resolving == nil {
		c.Send(SessionEnd{})
		return
	}
	if time.Since(*c.resolving) > resolveRetryCadence {
		c.Send(SessionEnd{})
	}
}

func (c *Coordinator) advanceStandby() {
	if c.status.ForDuration == nil || c.status.PausedAt == nil {
		return
	}
	if time.Now().After(c.status.PausedAt.Add(*c.status.ForDuration)) {
		c.toggleTimer()
		c.status = InProgressStatus(c.elapsed())
	}
}

// sendTick pushes a Tick broadcast to every connected client.
func (c *Coordinator) sendTick() {
	players := map[session.UserID]session.PlayerInfo{}
	for userID, ci := range c.clients {
		players[userID] = c.state.PlayerInfo(userID, ci.status)
	}

	tickMS := time.Since(c.tick).Milliseconds()
	msg := tickMessage(players, c.state, tickMS, c.status)

	for _, ci := range c.clients {
		ci.handle.Send(msg)
	}

	c.tick = time.Now()
}

// checkpoint persists logs, state, last_update, and started_at, plus each
// active client's player info, matching the original's periodic log().
func (c *Coordinator) checkpoint(ctx context.Context) {
	c.store.SaveCheckpoint(ctx, c.id, c.logs, c.state, c.startedAt)

	for userID, ci := range c.clients {
		switch ci.status.Kind {
		case session.ClientInProgress:
			info := c.state.PlayerInfo(userID, ci.status)
			if err := c.store.UpsertPlayerInfo(ctx, c.id, userID, info); err != nil {
				c.logger.WithError(err).Warn("failed to checkpoint player info")
			}
		case session.ClientEnded:
			if ci.status.At != nil {
				if err := c.store.EndPlayerSession(ctx, c.id, userID, *ci.status.At); err != nil {
					c.logger.WithError(err).Warn("failed to checkpoint player end time")
				}
			}
		}
	}
}
