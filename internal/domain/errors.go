package domain

import "errors"

var (
	// ErrRoomNotFound is returned when no room is retained under a code.
	ErrRoomNotFound = errors.New("room not found")
	// ErrRoomAlreadyStarted is returned when joining a room that is in progress.
	ErrRoomAlreadyStarted = errors.New("room already started")
	// ErrRoomNotStarted is returned when submitting before the host started the room.
	ErrRoomNotStarted = errors.New("room not started")
	// ErrRoomClosed is returned for any command against a cancelled or finished room.
	ErrRoomClosed = errors.New("room closed")
	// ErrAlreadyInRoom is returned when a user is already a member of an active room.
	ErrAlreadyInRoom = errors.New("user already in a room")
	// ErrNotAMember is returned when a user acts on a room they did not join.
	ErrNotAMember = errors.New("user is not a member of the room")
	// ErrNotHost is returned when a non-host tries to start or cancel.
	ErrNotHost = errors.New("only the host can do this")
	// ErrAlreadyStarted is returned when starting a room twice.
	ErrAlreadyStarted = errors.New("room already started by host")
	// ErrJudgeUnavailable wraps failures of the code execution service.
	ErrJudgeUnavailable = errors.New("judge unavailable")
	// ErrProblemNotFound indicates the problem could not be loaded.
	ErrProblemNotFound = errors.New("problem not found")
)

var errorCodes = []struct {
	err  error
	code string
}{
	{ErrRoomNotFound, "RoomNotFound"},
	{ErrRoomAlreadyStarted, "RoomAlreadyStarted"},
	{ErrRoomNotStarted, "RoomNotStarted"},
	{ErrRoomClosed, "RoomClosed"},
	{ErrAlreadyInRoom, "AlreadyInRoom"},
	{ErrNotAMember, "NotAMember"},
	{ErrNotHost, "NotHost"},
	{ErrAlreadyStarted, "AlreadyStarted"},
	{ErrJudgeUnavailable, "JudgeUnavailable"},
	{ErrProblemNotFound, "ProblemNotFound"},
}

// ErrorCode maps an error to its stable wire code. Unknown errors map to "Internal".
func ErrorCode(err error) string {
	for _, c := range errorCodes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "Internal"
}
