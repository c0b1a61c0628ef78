package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"coderoom-service/internal/app"
	"coderoom-service/internal/auth"
	"coderoom-service/internal/domain"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// WSOptions tunes per-connection behaviour.
type WSOptions struct {
	LeaveOnDisconnect bool
	RateLimit         rate.Limit
	RateBurst         int
	PingInterval      time.Duration
	WriteTimeout      time.Duration
}

type WSHandler struct {
	service  *app.RoomService
	verifier auth.Verifier
	opts     WSOptions
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

func NewWSHandler(service *app.RoomService, verifier auth.Verifier, opts WSOptions, log zerolog.Logger) *WSHandler {
	if opts.RateLimit <= 0 {
		opts.RateLimit = 10
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = 20
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	return &WSHandler{
		service:  service,
		verifier: verifier,
		opts:     opts,
		log:      log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type submitPayload struct {
	Source string `json:"source"`
}

type outboundMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func errorMessage(err error) outboundMessage {
	return outboundMessage{Type: "error", Payload: errorPayload{Code: domain.ErrorCode(err), Message: err.Error()}}
}

// closeFrame tells the writer to send a close frame and stop.
var closeFrame = outboundMessage{}

// ServeWS upgrades HTTP requests to websockets and streams room snapshots.
// Members may also drive the room over the same connection.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]
	userID, err := h.verifier.Verify(bearerToken(r))
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Unauthorized", "invalid or missing token")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("ws upgrade failed")
		return
	}
	defer conn.Close()

	log := h.log.With().Str("conn", uuid.NewString()).Str("room", code).Str("user", userID).Logger()

	updates, cancel, err := h.service.Subscribe(r.Context(), code)
	if err != nil {
		_ = conn.SetWriteDeadline(time.Now().Add(h.opts.WriteTimeout))
		_ = conn.WriteJSON(errorMessage(err))
		return
	}
	defer cancel()
	if h.opts.LeaveOnDisconnect {
		defer h.service.Disconnect(context.Background(), code, userID)
	}
	log.Debug().Msg("ws connected")

	send := make(chan outboundMessage, 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	updatesDone := make(chan struct{})

	push := func(msg outboundMessage) {
		select {
		case send <- msg:
		case <-writerDone:
		}
	}

	go func() {
		defer close(writerDone)
		var ping <-chan time.Time
		if h.opts.PingInterval > 0 {
			ticker := time.NewTicker(h.opts.PingInterval)
			defer ticker.Stop()
			ping = ticker.C
		}
		for {
			select {
			case msg, ok := <-send:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(h.opts.WriteTimeout))
				if msg.Type == "" {
					_ = conn.WriteMessage(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, "room closed"))
					return
				}
				if err := conn.WriteJSON(msg); err != nil {
					log.Debug().Err(err).Msg("ws write error")
					return
				}
			case <-ping:
				deadline := time.Now().Add(h.opts.WriteTimeout)
				if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
					return
				}
			}
		}
	}()

	go func() {
		defer close(updatesDone)
		for {
			select {
			case update, ok := <-updates:
				if !ok {
					// The room closed: flush and hang up.
					select {
					case send <- closeFrame:
					case <-closeSignals:
					case <-writerDone:
					}
					return
				}
				select {
				case send <- outboundMessage{Type: "room", Payload: update}:
				case <-closeSignals:
					return
				case <-writerDone:
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	limiter := rate.NewLimiter(h.opts.RateLimit, h.opts.RateBurst)
	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		if !limiter.Allow() {
			push(outboundMessage{Type: "error", Payload: errorPayload{Code: "RateLimited", Message: "too many messages"}})
			continue
		}
		if reply, ok := h.handle(r.Context(), code, userID, inbound); ok {
			push(reply)
		}
	}

	close(closeSignals)
	<-updatesDone
	close(send)
	<-writerDone
	log.Debug().Msg("ws disconnected")
}

// handle runs one inbound command and returns the direct reply, if any.
// Room changes reach the client through the subscription.
func (h *WSHandler) handle(ctx context.Context, code, userID string, msg inboundMessage) (outboundMessage, bool) {
	var err error
	switch msg.Type {
	case "sync":
		snap, err := h.service.Snapshot(code)
		if err != nil {
			return errorMessage(err), true
		}
		return outboundMessage{Type: "room", Payload: snap}, true
	case "ping":
		return outboundMessage{Type: "pong"}, true
	case "start":
		err = h.service.StartRoom(ctx, code, userID)
	case "cancel":
		err = h.service.CancelRoom(ctx, code, userID)
	case "leave":
		err = h.service.LeaveRoom(ctx, code, userID)
	case "submit":
		var payload submitPayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil || payload.Source == "" {
			return outboundMessage{Type: "error", Payload: errorPayload{Code: "BadRequest", Message: "invalid submit payload"}}, true
		}
		verdict, err := h.service.SubmitCode(ctx, code, userID, payload.Source)
		if err != nil {
			return errorMessage(err), true
		}
		return outboundMessage{Type: "verdict", Payload: verdict}, true
	case "run":
		var payload submitPayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil || payload.Source == "" {
			return outboundMessage{Type: "error", Payload: errorPayload{Code: "BadRequest", Message: "invalid run payload"}}, true
		}
		snap, err := h.service.Snapshot(code)
		if err != nil {
			return errorMessage(err), true
		}
		verdict, err := h.service.RunCode(ctx, snap.ProblemID, userID, payload.Source)
		if err != nil {
			return errorMessage(err), true
		}
		return outboundMessage{Type: "runResult", Payload: verdict}, true
	default:
		return outboundMessage{Type: "error", Payload: errorPayload{Code: "BadRequest", Message: "unsupported message type"}}, true
	}
	if err != nil {
		return errorMessage(err), true
	}
	return outboundMessage{}, false
}
