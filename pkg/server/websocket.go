package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"stakesession/pkg/clientsession"
	"stakesession/pkg/coordinator"
	"stakesession/pkg/session"
)

// joinRequest is the first frame a client must send after the upgrade
// completes: which session to attach to, and under what bearer token.
type joinRequest struct {
	SessionID string `json:"session_id"`
	AuthToken string `json:"auth_token"`
}

// inboundFrame is a client-submitted Update decoded from one text frame. The
// frame's byte length is passed to the validator separately, not stored here.
type inboundFrame struct {
	coordinator.Update
}

// handleWebSocket upgrades the connection, authenticates and authorizes the
// join, attaches the client to its target session's running Coordinator,
// and pumps messages in both directions until the connection drops.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	logger := getLoggerFromContext(r.Context())

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.WithError(err).Warn("websocket upgrade failed")
		return
	}
	defer conn.Close()

	conn.SetReadLimit(s.config.MaxRequestSize)

	var req joinRequest
	if err := conn.ReadJSON(&req); err != nil {
		logger.WithError(err).Debug("failed to read join request")
		return
	}

	ctx := r.Context()

	userID, err := s.auth.Authenticate(ctx, req.AuthToken)
	if err != nil {
		s.metrics.RecordCoordinatorEvent("join_rejected")
		conn.WriteJSON(map[string]string{"error": err.Error()})
		return
	}

	sess, err := s.store.LoadSession(ctx, req.SessionID)
	if err != nil {
		logger.WithError(err).WithField("session_id", req.SessionID).Warn("join against unknown session")
		conn.WriteJSON(map[string]string{"error": "session not found"})
		return
	}

	if err := s.auth.AuthorizeJoin(ctx, req.SessionID, userID, sess.Private); err != nil {
		s.metrics.RecordCoordinatorEvent("join_rejected")
		conn.WriteJSON(map[string]string{"error": err.Error()})
		return
	}

	handle, err := s.ensureCoordinator(ctx, sess)
	if err != nil {
		logger.WithError(err).WithField("session_id", req.SessionID).Warn("failed to materialize coordinator for join")
		conn.WriteJSON(map[string]string{"error": err.Error()})
		return
	}

	client := clientsession.New(userID, accountIDFor(req.AuthToken))

	loadedAt := time.Now()
	reply := make(chan coordinator.JoinResult, 1)
	handle.Send(coordinator.Join{
		UserID:     userID,
		PlayerInfo: session.PlayerInfo{Status: session.ClientStatus{Kind: session.ClientLoading, At: &loadedAt}},
		AccountID:  client.AccountID(),
		Handle:     client,
		Reply:      reply,
	})

	result := <-reply
	if result.Err != nil {
		logger.WithError(result.Err).WithField("user_id", userID).Warn("coordinator rejected join")
		conn.WriteJSON(map[string]string{"error": result.Err.Error()})
		return
	}

	s.clients.Put(client)
	s.metrics.RecordCoordinatorEvent("join")
	defer func() {
		s.clients.Remove(userID)
		leaveReply := make(chan coordinator.LeaveResult, 1)
		handle.Send(coordinator.Leave{UserID: userID, Reply: leaveReply})
		<-leaveReply
		s.metrics.RecordCoordinatorEvent("leave")
		client.Close()
	}()

	done := make(chan struct{})
	go s.writePump(conn, client, done)
	s.readPump(conn, client, handle, userID, logger)
	close(done)
}

// writePump drains client's outbound channel to the wire until the
// connection closes or the client is closed from the read side.
func (s *Server) writePump(conn wsConn, client *clientsession.Session, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case raw, ok := <-client.Outbound():
			if !ok {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				client.Close()
				return
			}
		}
	}
}

// readPump validates and forwards every inbound frame to the Coordinator as
// a SessionUpdate, until the client disconnects. Malformed or rejected
// frames are counted in metrics and skipped; they do not end the loop.
func (s *Server) readPump(conn wsConn, client *clientsession.Session, handle coordinatorHandle, userID session.UserID, logger *logrus.Entry) {
	for {
		messageType, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var frame inboundFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			s.metrics.RecordSessionUpdate("unknown", "malformed")
			continue
		}

		if err := s.validator.ValidateUpdate(frame.Update, int64(len(raw))); err != nil {
			s.metrics.RecordSessionUpdate(frame.Kind, "rejected")
			logger.WithError(err).WithField("kind", frame.Kind).Debug("rejected inbound update")
			continue
		}

		client.Touch()
		handle.Send(coordinator.SessionUpdate{Updater: userID, Update: frame.Update})
		s.metrics.RecordSessionUpdate(frame.Kind, "accepted")
	}
}

// wsConn is the subset of *websocket.Conn the pumps use, kept narrow so
// tests can substitute a fake.
type wsConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
}

// accountIDFor derives the external staking account tied to a connection's
// bearer token. The Auth Validator resolves only the user id; resolving a
// token to a staking account requires a Persistence Gateway lookup this
// gateway does not yet expose, so sessions join with no staking account
// attached until that lookup is wired.
func accountIDFor(authToken string) *string {
	return nil
}
