package coordinator

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"stakesession/pkg/session"
)

func freshEntityID() string {
	return uuid.NewString()
}

func (c *Coordinator) handleJoin(m Join) {
	ci := &clientInfo{
		startedAt: time.Now(),
		handle:    m.Handle,
		accountID: m.AccountID,
		status:    session.NewLoadingStatus(),
	}
	c.clients[m.UserID] = ci

	notif := session.NewContent().
		Insert("message", fmt.Sprintf("%s joined.", m.UserID)).
		Insert("id", m.UserID)
	c.logs.Log(notif)

	c.broadcast(notificationMessage(notif), nil)

	managed := map[session.EntityID]struct{}{}
	for id := range m.PlayerInfo.ManagedEntities {
		managed[id] = struct{}{}
	}
	for id, e := range c.state.Entities {
		if _, ok := managed[id]; ok {
			e.Manager = m.UserID
			c.state.Entities[id] = e
		}
	}

	players := map[session.UserID]session.PlayerInfo{}
	for userID, info := range c.clients {
		players[userID] = c.state.PlayerInfo(userID, info.status)
	}

	if m.Reply != nil {
		m.Reply <- JoinResult{State: c.state, Players: players}
	}
}

func (c *Coordinator) handleLeave(m Leave) bool {
	ci, ok := c.clients[m.UserID]
	if !ok {
		if m.Reply != nil {
			m.Reply <- LeaveResult{OK: false}
		}
		return true
	}
	delete(c.clients, m.UserID)

	managed := map[session.EntityID]struct{}{}
	for id, e := range c.state.Entities {
		if e.Manager == m.UserID {
			managed[id] = struct{}{}
		}
	}

	c.broadcast(leftMessage(m.UserID, managed), map[session.UserID]struct{}{m.UserID: {}})

	stop := false
	if len(c.clients) > 0 {
		var newManager session.UserID
		for id := range c.clients {
			newManager = id
			break
		}
		for id := range managed {
			if e, ok := c.state.Entities[id]; ok {
				e.Manager = newManager
				c.state.Entities[id] = e
			}
		}
		if m.UserID == c.host {
			c.host = newManager
		}
	} else {
		stop = true
	}

	if m.Reply != nil {
		m.Reply <- LeaveResult{
			SessionID: c.id,
			Info:      c.state.PlayerInfo(m.UserID, ci.status),
			OK:        true,
		}
	}

	return !stop
}

func (c *Coordinator) handleSessionMessage(m SessionMessage) {
	c.broadcast(m.Msg, m.Exclude)
	c.logs.Log(m.Msg)
}

func (c *Coordinator) broadcast(msg ServerMessage, exclude map[session.UserID]struct{}) {
	for userID, ci := range c.clients {
		if _, skip := exclude[userID]; skip {
			continue
		}
		ci.handle.Send(msg)
	}
}

func (c *Coordinator) handleSessionUpdate(m SessionUpdate) {
	switch m.Update.Kind {
	case UpdateAffect:
		c.applyAffect(m.Updater, m.Update)

	case UpdateEntities:
		c.applyEntities(m.Updater, m.Update)

	case UpdateChangeSpawn:
		if m.Updater == c.host && m.Update.Spawn != nil {
			c.state.Spawn = *m.Update.Spawn
		}

	case UpdateStats:
		if m.Update.Stats != nil {
			c.state.Stats[m.Updater] = *m.Update.Stats
		}

	case UpdateStatus:
		if ci, ok := c.clients[m.Updater]; ok && m.Update.ClientStatus != nil {
			ci.status = *m.Update.ClientStatus
		}

	case UpdatePause:
		c.applyPause(m.Updater, m.Update)

	case UpdateResume:
		c.applyResume(m.Updater)

	case UpdateEnd:
		if m.Updater == c.host && c.status.Kind == StatusInProgress {
			c.status = PostSessionStatus()
		}
	}

	if ci, ok := c.clients[m.Updater]; ok {
		ci.lastUpdate = time.Now()
	}
}

func (c *Coordinator) managedBy(userID session.UserID) map[session.EntityID]struct{} {
	out := map[session.EntityID]struct{}{}
	for id, e := range c.state.Entities {
		if e.Manager == userID {
			out[id] = struct{}{}
		}
	}
	return out
}

func (c *Coordinator) applyAffect(updater session.UserID, u Update) {
	updaterManaged := c.managedBy(updater)
	if _, ok := updaterManaged[u.Affector]; !ok {
		return
	}

	for userID, ci := range c.clients {
		if userID == updater {
			continue
		}
		theirManaged := c.managedBy(userID)
		affected := map[session.EntityID]struct{}{}
		for id := range u.Affected {
			if _, ok := theirManaged[id]; ok {
				affected[id] = struct{}{}
			}
		}
		ci.handle.Send(updateMessage(Update{
			Kind:      UpdateAffect,
			Affector:  u.Affector,
			Affectors: u.Affectors,
			Affected:  affected,
		}))
	}
}

func (c *Coordinator) applyEntities(updater session.UserID, u Update) {
	updaterManaged := c.managedBy(updater)

	for id, entity := range u.Active {
		if _, ok := updaterManaged[id]; ok {
			c.state.Entities[id] = entity
			delete(c.state.PendingSpawns, id)
		}
	}

	for _, id := range u.KillList {
		if _, ok := updaterManaged[id]; ok {
			if entity, ok := c.state.Entities[id]; ok {
				delete(c.state.Entities, id)
				c.state.DestroyedEntities[id] = entity
			}
		}
	}

	for id, entity := range u.Spawns {
		if _, pending := c.state.PendingSpawns[id]; pending {
			continue
		}
		newID := c.insertEntity(id, entity)
		c.state.PendingSpawns[id] = newID
	}
}

// insertEntity places entity at proposedID if vacant, retrying with a fresh
// id on collision so a spawn request never overwrites another entity.
func (c *Coordinator) insertEntity(proposedID session.EntityID, entity session.Entity) session.EntityID {
	id := proposedID
	for {
		if _, occupied := c.state.Entities[id]; !occupied {
			c.state.Entities[id] = entity
			return id
		}
		id = session.EntityID(freshEntityID())
	}
}

func (c *Coordinator) applyPause(updater session.UserID, u Update) {
	if c.status.Kind != StatusInProgress {
		return
	}
	if u.ForDuration == nil {
		if updater != c.host {
			return
		}
	}

	c.toggleTimer()
	by := updater
	c.status = StandbyStatus(time.Now(), u.ForDuration, &by)
}

func (c *Coordinator) applyResume(updater session.UserID) {
	if c.status.Kind != StatusStandby {
		return
	}
	if updater != c.host && (c.status.By == nil || *c.status.By != updater) {
		return
	}
	c.toggleTimer()
	c.status = InProgressStatus(c.elapsed())
}

// handleSessionEnd runs the termination sequence: freeze client statuses,
// checkpoint, persist ended_at, then classify each ended player_session as
// a death or an xp-accrual candidate and hand settlement to the resolver.
// Returns false once every player_session (and pool, if attached) is
// resolved, signalling the Coordinator to stop.
func (c *Coordinator) handleSessionEnd(ctx context.Context) bool {
	c.toggleTimer()

	if c.endedAt == nil {
		now := time.Now()
		c.endedAt = &now
	}
	end := *c.endedAt

	for _, ci := range c.clients {
		if ci.status.Kind != session.ClientEnded {
			ci.status = session.ClientStatus{Kind: session.ClientEnded, At: &end}
		}
	}

	c.checkpoint(ctx)

	if err := c.store.SetSessionEnded(ctx, c.id, end); err != nil {
		c.logger.WithError(err).Error("failed to persist session end")
		return true
	}

	now := time.Now()
	c.resolving = &now

	playerSessions, err := c.store.PlayerSessionsFor(ctx, c.id)
	if err != nil {
		c.logger.WithError(err).Error("failed to load player sessions during termination")
		return true
	}

	winners := map[string]time.Time{}
	allResolved := true

	for _, ps := range playerSessions {
		if ps.ResolvedAt == nil {
			allResolved = false
		}

		if ps.EndedAt == nil || ps.AccountID == nil {
			continue
		}

		// A pool winner is built from every ended, non-death player session
		// regardless of whether it's already resolved, so a re-driven
		// SessionEnd still carries already-settled players into the pool's
		// winner list. Only the ResolvePlayerSession call below is gated on
		// resolved_at, to avoid re-settling a player who's already resolved.
		stats := c.state.Stats[ps.UserID]

		var xp *uint64
		if stats.Death == nil {
			v := stats.XPAccrual
			xp = &v
			winners[*ps.AccountID] = *ps.EndedAt
		}

		if ps.ResolvedAt != nil {
			continue
		}

		c.resolver.ResolvePlayerSession(c.id, *ps.AccountID, xp)
	}

	if c.poolID == nil {
		return !allResolved
	}

	pool, err := c.store.LoadPool(ctx, *c.poolID)
	if err != nil {
		c.logger.WithError(err).Error("unregistered pool during session resolve")
		return true
	}
	if pool.ResolvedAt != nil {
		return !allPlayerSessionsResolved(playerSessions)
	}

	results := make([]PlayerSessionEnd, 0, len(winners))
	for accountID, endedAt := range winners {
		results = append(results, PlayerSessionEnd{AccountID: accountID, EndedAt: endedAt})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].EndedAt.After(results[j].EndedAt) })

	c.resolver.ResolvePool(c.id, *c.poolID, results)

	return true
}

func allPlayerSessionsResolved(playerSessions []session.PlayerSession) bool {
	for _, ps := range playerSessions {
		if ps.ResolvedAt == nil {
			return false
		}
	}
	return true
}
