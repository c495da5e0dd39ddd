package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"tabletop/internal/engine"
	"tabletop/internal/game"
	"tabletop/internal/session"
)

// WSMessage is the JSON envelope for WebSocket messages.
type WSMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Message types.
const (
	msgJoin    = "join"
	msgStart   = "start"
	msgCommand = "command"
	msgState   = "state"
	msgError   = "error"
	msgRematch = "rematch"
)

// Error codes sent outside of engine rejections.
const (
	codeBadMessage = "bad_message"
	codeJoin       = "join_failed"
	codeNotStarted = "not_started"
	codeNotHost    = "not_host"
	codeStart      = "start_failed"
	codeFailed     = "command_failed"
)

type joinPayload struct {
	PlayerID string `json:"playerId"`
}

// commandPayload is a command as sent by a client. The player is always the
// connection's own.
type commandPayload struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type statePayload struct {
	State         any                     `json:"state"`
	LegalCommands []engine.Command        `json:"legalCommands"`
	Interactions  engine.InteractionStack `json:"interactions"`
	Events        []engine.Event          `json:"events,omitempty"`
	SessionInfo   session.Info            `json:"sessionInfo"`
	Results       []game.PlayerResult     `json:"results,omitempty"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type rematchPayload struct {
	Code string `json:"code"`
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	sess, ok := s.manager.Get(code)
	if !ok {
		http.Error(w, session.ErrNotFound.Error(), http.StatusNotFound)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // allow any origin for dev
	})
	if err != nil {
		s.logger.Warn("websocket accept", zap.Error(err))
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// First message must be a join
	_, data, err := conn.Read(ctx)
	if err != nil {
		return
	}
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil || msg.Type != msgJoin {
		sendWSError(ctx, conn, codeBadMessage, "first message must be a join")
		return
	}
	var join joinPayload
	if err := json.Unmarshal(msg.Payload, &join); err != nil || join.PlayerID == "" {
		sendWSError(ctx, conn, codeBadMessage, "invalid join payload")
		return
	}

	playerID := join.PlayerID
	send := make(chan []byte, 64)
	if err := s.manager.Join(sess, playerID, send); err != nil {
		sendWSError(ctx, conn, codeJoin, err.Error())
		return
	}
	log := s.logger.With(zap.String("session", code), zap.String("player", playerID))
	log.Info("player connected")
	s.metrics.Connections.Inc()
	defer s.metrics.Connections.Dec()

	// Notify all players about the roster change
	s.broadcastState(sess, nil)

	// Writer goroutine: send messages from the channel to the websocket
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-send:
				if !ok {
					return
				}
				if err := conn.Write(ctx, websocket.MessageText, msg); err != nil {
					return
				}
			}
		}
	}()

	// Reader loop: handle incoming messages
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			break
		}
		var msg WSMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			sendWSMsg(send, msgError, errorPayload{Code: codeBadMessage, Message: "invalid message"})
			continue
		}
		s.handleMessage(sess, playerID, send, msg)
	}

	// Player disconnected, don't remove, allow reconnect
	log.Info("player disconnected")
}

func (s *Server) handleMessage(sess *session.Session, playerID string, send chan []byte, msg WSMessage) {
	switch msg.Type {
	case msgCommand:
		var cp commandPayload
		if err := json.Unmarshal(msg.Payload, &cp); err != nil || cp.Type == "" {
			sendWSMsg(send, msgError, errorPayload{Code: codeBadMessage, Message: "invalid command payload"})
			return
		}
		res, err := s.manager.Apply(sess, playerID, engine.Command{Type: cp.Type, Payload: cp.Payload})
		switch {
		case errors.Is(err, session.ErrNotStarted):
			sendWSMsg(send, msgError, errorPayload{Code: codeNotStarted, Message: err.Error()})
			return
		case err != nil:
			sendWSMsg(send, msgError, errorPayload{Code: codeFailed, Message: "command failed"})
			return
		case !res.Accepted:
			sendWSMsg(send, msgError, errorPayload{Code: string(res.Error), Message: "command rejected"})
			return
		}
		s.broadcastState(sess, res.Events)
		if res.RematchCode != "" {
			p, _ := json.Marshal(rematchPayload{Code: res.RematchCode})
			msg, _ := json.Marshal(WSMessage{Type: msgRematch, Payload: p})
			sess.Broadcast(msg)
		}

	case msgStart:
		if err := s.manager.Start(sess, playerID); err != nil {
			code := codeStart
			if errors.Is(err, session.ErrNotHost) {
				code = codeNotHost
			}
			sendWSMsg(send, msgError, errorPayload{Code: code, Message: err.Error()})
			return
		}
		s.broadcastState(sess, nil)

	default:
		sendWSMsg(send, msgError, errorPayload{Code: codeBadMessage, Message: "unknown message type: " + msg.Type})
	}
}

func (s *Server) broadcastState(sess *session.Session, events []engine.Event) {
	sess.RLock()
	info := sess.InfoLocked()
	match := sess.Match
	sess.RUnlock()

	for _, pid := range info.Players {
		p := sess.GetPlayer(pid)
		if p == nil {
			continue
		}
		sp := statePayload{SessionInfo: info}
		if match != nil && info.Status != session.StatusWaiting {
			if events != nil {
				sp.Events = match.EventsFor(pid, events)
			}
			sp.State = match.State(pid)
			sp.LegalCommands = match.LegalCommands(pid)
			sp.Interactions = match.Interactions(pid)
			if match.IsOver() {
				sp.Results = match.Results()
			}
		}
		sendWSMsg(p.Send, msgState, sp)
	}
}

func sendWSMsg(send chan []byte, msgType string, payload any) {
	p, _ := json.Marshal(payload)
	msg, _ := json.Marshal(WSMessage{Type: msgType, Payload: p})
	select {
	case send <- msg:
	default:
	}
}

func sendWSError(ctx context.Context, conn *websocket.Conn, code, message string) {
	p, _ := json.Marshal(errorPayload{Code: code, Message: message})
	msg, _ := json.Marshal(WSMessage{Type: msgError, Payload: p})
	conn.Write(ctx, websocket.MessageText, msg)
}
