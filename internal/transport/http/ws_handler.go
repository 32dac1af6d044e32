package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"trivia-live-service/internal/app"
	"trivia-live-service/internal/domain"
)

// Client-to-server events.
const (
	EventCreateSession      = "create-session"
	EventStartSession       = "start-session"
	EventRejoinHost         = "rejoin-host"
	EventJoinSession        = "join-session"
	EventSubmitAnswer       = "submit-answer"
	EventLeaveSession       = "leave-session"
	EventGetCurrentQuestion = "get-current-question"
	EventEndSession         = "end-session"

	eventAck = "ack"
)

const (
	writeWait      = 10 * time.Second
	requestTimeout = 10 * time.Second
)

// Engine is the part of app.SessionEngine the gateway drives.
type Engine interface {
	CreateSession(ctx context.Context, req app.CreateSessionRequest) (*domain.Session, error)
	StartSession(ctx context.Context, joinCode string) error
	RejoinHost(ctx context.Context, joinCode string) (app.HostView, error)
	JoinSession(ctx context.Context, req app.JoinRequest) (app.JoinResult, error)
	SubmitAnswer(ctx context.Context, req app.SubmitAnswerRequest) (app.SubmitAnswerResult, error)
	LeaveSession(ctx context.Context, joinCode, playerID string) error
	CurrentQuestion(ctx context.Context, joinCode, playerID string) (app.CurrentQuestionView, error)
	FinishSession(ctx context.Context, joinCode string) ([]domain.FinalResult, error)
}

type WSHandler struct {
	engine   Engine
	hub      *Hub
	upgrader websocket.Upgrader
}

// NewWSHandler builds the gateway. An empty origin list, or one containing
// "*", accepts any origin.
func NewWSHandler(engine Engine, hub *Hub, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		engine: engine,
		hub:    hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(r *http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		if origin == "*" {
			return func(r *http.Request) bool { return true }
		}
		set[strings.TrimRight(origin, "/")] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[strings.TrimRight(origin, "/")]
		return ok
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Ref     string          `json:"ref,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

type ackMessage struct {
	Type    string `json:"type"`
	Ref     string `json:"ref,omitempty"`
	Payload any    `json:"payload"`
}

type errorAck struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    string `json:"code"`
}

type successAck struct {
	Success bool `json:"success"`
}

type createSessionPayload struct {
	TimeLimitSeconds int      `json:"timeLimitSeconds"`
	QuestionIDs      []string `json:"questionIds"`
}

type joinCodePayload struct {
	JoinCode string `json:"joinCode"`
}

type joinSessionPayload struct {
	JoinCode string         `json:"joinCode"`
	Username string         `json:"username"`
	Avatar   *domain.Avatar `json:"avatar,omitempty"`
}

type submitAnswerPayload struct {
	JoinCode            string               `json:"joinCode"`
	QuestionID          string               `json:"questionId"`
	Answer              domain.AnswerContent `json:"answer"`
	ResponseTimeSeconds float64              `json:"responseTimeSeconds"`
	IsAutoSubmit        bool                 `json:"isAutoSubmit"`
}

// ServeWS upgrades HTTP requests to websockets and routes client events into the engine.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("ws upgrade failed")
		return
	}
	defer conn.Close()

	c := newClient(uuid.NewString())
	log.Debug().Str("conn_id", c.id).Str("remote", r.RemoteAddr).Msg("client connected")

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case data := <-c.send:
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
					log.Debug().Err(err).Str("conn_id", c.id).Msg("ws write error")
					return
				}
			case <-c.done:
				return
			}
		}
	}()

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		h.dispatch(r.Context(), c, inbound)
	}

	close(c.done)
	<-writerDone
	h.disconnect(c)
}

// disconnect drops the connection from every room and removes it from the
// sessions it joined as a player.
func (h *WSHandler) disconnect(c *client) {
	for joinCode, asPlayer := range c.joinedRooms() {
		h.hub.unsubscribe(joinCode, c.id)
		if !asPlayer {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		if err := h.engine.LeaveSession(ctx, joinCode, c.id); err != nil {
			log.Warn().Err(err).Str("join_code", joinCode).Str("conn_id", c.id).Msg("leave on disconnect")
		}
		cancel()
	}
	log.Debug().Str("conn_id", c.id).Msg("client disconnected")
}

func (h *WSHandler) dispatch(parent context.Context, c *client, msg inboundMessage) {
	ctx, cancel := context.WithTimeout(parent, requestTimeout)
	defer cancel()

	switch msg.Type {
	case EventCreateSession:
		var p createSessionPayload
		if !h.decode(c, msg, &p) {
			return
		}
		session, err := h.engine.CreateSession(ctx, app.CreateSessionRequest{
			TimeLimitSeconds: p.TimeLimitSeconds,
			QuestionIDs:      p.QuestionIDs,
		})
		if err != nil {
			h.fail(c, msg, err)
			return
		}
		h.watch(c, session.JoinCode)
		h.reply(c, msg.Ref, struct {
			Success  bool   `json:"success"`
			JoinCode string `json:"joinCode"`
		}{true, session.JoinCode})

	case EventStartSession:
		var p joinCodePayload
		if !h.decode(c, msg, &p) {
			return
		}
		h.watch(c, p.JoinCode)
		if err := h.engine.StartSession(ctx, p.JoinCode); err != nil {
			h.fail(c, msg, err)
			return
		}
		h.reply(c, msg.Ref, successAck{Success: true})

	case EventRejoinHost:
		var p joinCodePayload
		if !h.decode(c, msg, &p) {
			return
		}
		view, err := h.engine.RejoinHost(ctx, p.JoinCode)
		if err != nil {
			h.fail(c, msg, err)
			return
		}
		h.watch(c, p.JoinCode)
		h.reply(c, msg.Ref, struct {
			Success bool `json:"success"`
			app.HostView
		}{true, view})

	case EventJoinSession:
		var p joinSessionPayload
		if !h.decode(c, msg, &p) {
			return
		}
		// Subscribe first so a late joiner receives its private round-started.
		_, known := c.joinedRooms()[p.JoinCode]
		h.hub.subscribe(p.JoinCode, c)
		result, err := h.engine.JoinSession(ctx, app.JoinRequest{
			JoinCode: p.JoinCode,
			PlayerID: c.id,
			Username: p.Username,
			Avatar:   p.Avatar,
		})
		if err != nil {
			if !known {
				h.hub.unsubscribe(p.JoinCode, c.id)
			}
			h.fail(c, msg, err)
			return
		}
		c.track(p.JoinCode, true)
		h.reply(c, msg.Ref, struct {
			Success bool `json:"success"`
			app.JoinResult
		}{true, result})

	case EventSubmitAnswer:
		var p submitAnswerPayload
		if !h.decode(c, msg, &p) {
			return
		}
		result, err := h.engine.SubmitAnswer(ctx, app.SubmitAnswerRequest{
			JoinCode:            p.JoinCode,
			PlayerID:            c.id,
			QuestionID:          p.QuestionID,
			Answer:              p.Answer,
			ResponseTimeSeconds: p.ResponseTimeSeconds,
			IsAutoSubmit:        p.IsAutoSubmit,
		})
		if err != nil {
			h.fail(c, msg, err)
			return
		}
		h.reply(c, msg.Ref, struct {
			Success bool `json:"success"`
			app.SubmitAnswerResult
		}{true, result})

	case EventLeaveSession:
		var p joinCodePayload
		if !h.decode(c, msg, &p) {
			return
		}
		if err := h.engine.LeaveSession(ctx, p.JoinCode, c.id); err != nil {
			log.Warn().Err(err).Str("join_code", p.JoinCode).Str("conn_id", c.id).Msg("leave session")
		}
		c.untrack(p.JoinCode)
		h.hub.unsubscribe(p.JoinCode, c.id)

	case EventGetCurrentQuestion:
		var p joinCodePayload
		if !h.decode(c, msg, &p) {
			return
		}
		view, err := h.engine.CurrentQuestion(ctx, p.JoinCode, c.id)
		if err != nil {
			h.fail(c, msg, err)
			return
		}
		h.reply(c, msg.Ref, struct {
			Success bool `json:"success"`
			app.CurrentQuestionView
		}{true, view})

	case EventEndSession:
		var p joinCodePayload
		if !h.decode(c, msg, &p) {
			return
		}
		results, err := h.engine.FinishSession(ctx, p.JoinCode)
		if err != nil {
			h.fail(c, msg, err)
			return
		}
		h.reply(c, msg.Ref, struct {
			Success bool                 `json:"success"`
			Results []domain.FinalResult `json:"results"`
		}{true, results})

	default:
		h.fail(c, msg, domain.Validationf("unsupported message type %q", msg.Type))
	}
}

// watch subscribes a host connection to a session's broadcasts.
func (h *WSHandler) watch(c *client, joinCode string) {
	h.hub.subscribe(joinCode, c)
	c.track(joinCode, false)
}

func (h *WSHandler) decode(c *client, msg inboundMessage, dst any) bool {
	if len(msg.Payload) == 0 {
		h.fail(c, msg, domain.Validationf("%s: missing payload", msg.Type))
		return false
	}
	if err := json.Unmarshal(msg.Payload, dst); err != nil {
		h.fail(c, msg, domain.Validationf("%s: invalid payload", msg.Type))
		return false
	}
	return true
}

func (h *WSHandler) fail(c *client, msg inboundMessage, err error) {
	code := domain.ErrorCode(err)
	text := err.Error()
	if code == domain.CodeInternal {
		log.Error().Err(err).Str("event", msg.Type).Str("conn_id", c.id).Msg("request failed")
		text = "internal error"
	} else {
		log.Debug().Err(err).Str("event", msg.Type).Str("conn_id", c.id).Msg("request rejected")
	}
	h.reply(c, msg.Ref, errorAck{Success: false, Error: text, Code: code})
}

// reply queues an acknowledgement. Unlike pushes it waits for buffer space.
func (h *WSHandler) reply(c *client, ref string, payload any) {
	data, err := json.Marshal(ackMessage{Type: eventAck, Ref: ref, Payload: payload})
	if err != nil {
		log.Error().Err(err).Msg("marshal ack")
		return
	}
	select {
	case c.send <- data:
	case <-c.done:
	}
}
