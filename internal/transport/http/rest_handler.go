package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"coderoom-service/internal/app"
	"coderoom-service/internal/auth"
	"coderoom-service/internal/domain"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
)

type ctxKey int

const userKey ctxKey = iota

type createRoomRequest struct {
	ProblemID string `json:"problemId" validate:"required,max=128"`
	Name      string `json:"name" validate:"required,max=64"`
}

type joinRoomRequest struct {
	Name string `json:"name" validate:"required,max=64"`
}

type submitRequest struct {
	Source string `json:"source" validate:"required,max=65536"`
}

// RESTHandler exposes the room use cases over JSON/HTTP.
type RESTHandler struct {
	service  *app.RoomService
	verifier auth.Verifier
	validate *validator.Validate
}

func NewRESTHandler(service *app.RoomService, verifier auth.Verifier) *RESTHandler {
	return &RESTHandler{service: service, verifier: verifier, validate: validator.New()}
}

// NewRouter mounts the REST API, the websocket endpoint and the health check.
func NewRouter(rest *RESTHandler, ws *WSHandler, log zerolog.Logger) http.Handler {
	r := mux.NewRouter()
	r.Use(hlog.NewHandler(log))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, d time.Duration) {
		hlog.FromRequest(r).Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Dur("took", d).
			Msg("request")
	}))

	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	}).Methods(http.MethodGet)
	r.HandleFunc("/ws/rooms/{code}", ws.ServeWS).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(rest.authenticate)
	api.HandleFunc("/problems", rest.listProblems).Methods(http.MethodGet)
	api.HandleFunc("/problems/title/{title}", rest.problemByTitle).Methods(http.MethodGet)
	api.HandleFunc("/problems/{id}", rest.getProblem).Methods(http.MethodGet)
	api.HandleFunc("/problems/{id}/run", rest.runCode).Methods(http.MethodPost)
	api.HandleFunc("/rooms", rest.createRoom).Methods(http.MethodPost)
	api.HandleFunc("/rooms/{code}", rest.getRoom).Methods(http.MethodGet)
	api.HandleFunc("/rooms/{code}/leaderboard", rest.leaderboard).Methods(http.MethodGet)
	api.HandleFunc("/rooms/{code}/join", rest.joinRoom).Methods(http.MethodPost)
	api.HandleFunc("/rooms/{code}/leave", rest.command(rest.service.LeaveRoom)).Methods(http.MethodPost)
	api.HandleFunc("/rooms/{code}/start", rest.command(rest.service.StartRoom)).Methods(http.MethodPost)
	api.HandleFunc("/rooms/{code}/cancel", rest.command(rest.service.CancelRoom)).Methods(http.MethodPost)
	api.HandleFunc("/rooms/{code}/submit", rest.submit).Methods(http.MethodPost)
	api.HandleFunc("/me/room", rest.myRoom).Methods(http.MethodGet)
	return r
}

func (h *RESTHandler) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := h.verifier.Verify(bearerToken(r))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Unauthorized", "invalid or missing token")
			return
		}
		ctx := context.WithValue(r.Context(), userKey, userID)
		hlog.FromRequest(r).UpdateContext(func(c zerolog.Context) zerolog.Context {
			return c.Str("user", userID)
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *RESTHandler) createRoom(w http.ResponseWriter, r *http.Request) {
	var req createRoomRequest
	if !h.decode(w, r, &req) {
		return
	}
	room, err := h.service.CreateRoom(r.Context(), currentUser(r), req.Name, req.ProblemID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, room)
}

func (h *RESTHandler) joinRoom(w http.ResponseWriter, r *http.Request) {
	var req joinRoomRequest
	if !h.decode(w, r, &req) {
		return
	}
	room, err := h.service.JoinRoom(r.Context(), mux.Vars(r)["code"], currentUser(r), req.Name)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, room)
}

// command adapts the (ctx, code, user) use cases that only report an error.
func (h *RESTHandler) command(fn func(ctx context.Context, code, userID string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := fn(r.Context(), mux.Vars(r)["code"], currentUser(r)); err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	}
}

func (h *RESTHandler) submit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if !h.decode(w, r, &req) {
		return
	}
	verdict, err := h.service.SubmitCode(r.Context(), mux.Vars(r)["code"], currentUser(r), req.Source)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, verdict)
}

func (h *RESTHandler) getRoom(w http.ResponseWriter, r *http.Request) {
	room, err := h.service.Snapshot(mux.Vars(r)["code"])
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, room)
}

func (h *RESTHandler) leaderboard(w http.ResponseWriter, r *http.Request) {
	board, err := h.service.Leaderboard(mux.Vars(r)["code"])
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, board)
}

func (h *RESTHandler) myRoom(w http.ResponseWriter, r *http.Request) {
	room, err := h.service.RoomForUser(currentUser(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, room)
}

func (h *RESTHandler) listProblems(w http.ResponseWriter, r *http.Request) {
	problems, err := h.service.ListProblems(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, problems)
}

func (h *RESTHandler) getProblem(w http.ResponseWriter, r *http.Request) {
	problem, err := h.service.GetProblem(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, problem)
}

func (h *RESTHandler) problemByTitle(w http.ResponseWriter, r *http.Request) {
	problem, err := h.service.ProblemByTitle(r.Context(), mux.Vars(r)["title"])
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, problem)
}

// runCode is a practice run on the sample cases; it needs no room.
func (h *RESTHandler) runCode(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if !h.decode(w, r, &req) {
		return
	}
	verdict, err := h.service.RunCode(r.Context(), mux.Vars(r)["id"], currentUser(r), req.Source)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, verdict)
}

func (h *RESTHandler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "BadRequest", "invalid JSON body")
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, "BadRequest", err.Error())
		return false
	}
	return true
}

func currentUser(r *http.Request) string {
	userID, _ := r.Context().Value(userKey).(string)
	return userID
}

// bearerToken reads the Authorization header, falling back to ?token= for
// websocket clients that cannot set headers.
func bearerToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrRoomNotFound), errors.Is(err, domain.ErrProblemNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrRoomAlreadyStarted),
		errors.Is(err, domain.ErrAlreadyStarted),
		errors.Is(err, domain.ErrRoomNotStarted),
		errors.Is(err, domain.ErrRoomClosed),
		errors.Is(err, domain.ErrAlreadyInRoom):
		return http.StatusConflict
	case errors.Is(err, domain.ErrNotHost), errors.Is(err, domain.ErrNotAMember):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrJudgeUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeDomainError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	writeError(w, status, domain.ErrorCode(err), msg)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorPayload{Code: code, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
