package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"coderoom-service/internal/domain"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

const maxCodeAttempts = 16

// RoomService contains the room lifecycle use cases.
type RoomService struct {
	rooms    RoomRepository
	problems ProblemRepository
	judge    Judge
	events   *Broadcaster
	results  ResultArchive
	members  *membership

	log             zerolog.Logger
	now             func() time.Time
	newCode         func() string
	completionGrace time.Duration
	retention       time.Duration
}

// Option customises a RoomService.
type Option func(*RoomService)

func WithLogger(log zerolog.Logger) Option {
	return func(s *RoomService) { s.log = log }
}

// WithClock is used by tests for deterministic completion timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *RoomService) { s.now = now }
}

func WithCodeGenerator(gen func() string) Option {
	return func(s *RoomService) { s.newCode = gen }
}

// WithCompletionGrace sets how long a completed room stays active before it
// closes. Zero or negative keeps completed rooms open until players leave.
func WithCompletionGrace(d time.Duration) Option {
	return func(s *RoomService) { s.completionGrace = d }
}

// WithRetention sets how long closed rooms are kept before Sweep drops them.
func WithRetention(d time.Duration) Option {
	return func(s *RoomService) { s.retention = d }
}

func WithResultArchive(archive ResultArchive) Option {
	return func(s *RoomService) { s.results = archive }
}

func NewRoomService(rooms RoomRepository, problems ProblemRepository, judge Judge, events *Broadcaster, opts ...Option) *RoomService {
	s := &RoomService{
		rooms:           rooms,
		problems:        problems,
		judge:           judge,
		events:          events,
		members:         newMembership(),
		log:             zerolog.Nop(),
		now:             time.Now,
		newCode:         newRoomCode,
		completionGrace: 10 * time.Second,
		retention:       10 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateRoom opens a new room for problemID with userID as host and first player.
func (s *RoomService) CreateRoom(ctx context.Context, userID, name, problemID string) (domain.Room, error) {
	// Rooms can only race on problems the catalog knows about.
	if _, err := s.problems.GetProblem(ctx, problemID); err != nil {
		return domain.Room{}, err
	}

	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code := s.newCode()
		if err := s.members.claim(userID, code); err != nil {
			return domain.Room{}, err
		}
		live := NewLiveRoom(domain.Room{
			Code:      code,
			HostID:    userID,
			ProblemID: problemID,
			Players:   []domain.Player{{ID: userID, Name: name}},
			Active:    true,
			CreatedAt: s.now(),
		})
		if !s.rooms.Insert(live) {
			s.members.release(userID, code)
			continue
		}

		live.mu.Lock()
		snap := s.commitLocked(ctx, live)
		live.mu.Unlock()

		s.log.Info().Str("room", code).Str("user", userID).Str("problem", problemID).Msg("room created")
		return snap, nil
	}
	return domain.Room{}, fmt.Errorf("create room: no free code after %d attempts", maxCodeAttempts)
}

// JoinRoom appends userID to an open room, preserving join order.
func (s *RoomService) JoinRoom(ctx context.Context, code, userID, name string) (domain.Room, error) {
	snap, _, err := s.mutate(ctx, code, func(room *domain.Room) (bool, error) {
		switch {
		case !room.Active:
			return false, domain.ErrRoomClosed
		case room.HasPlayer(userID):
			return false, domain.ErrAlreadyInRoom
		case room.Started:
			return false, domain.ErrRoomAlreadyStarted
		}
		if err := s.members.claim(userID, room.Code); err != nil {
			return false, err
		}
		room.Players = append(room.Players, domain.Player{ID: userID, Name: name})
		return true, nil
	})
	if err != nil {
		s.log.Debug().Err(err).Str("room", code).Str("user", userID).Msg("join rejected")
		return domain.Room{}, err
	}
	s.log.Info().Str("room", code).Str("user", userID).Int("players", len(snap.Players)).Msg("player joined")
	return snap, nil
}

// LeaveRoom removes userID from the room. The host leaving, or the last
// player leaving, closes the room.
func (s *RoomService) LeaveRoom(ctx context.Context, code, userID string) error {
	justCompleted := false
	snap, _, err := s.mutate(ctx, code, func(room *domain.Room) (bool, error) {
		if !room.Active {
			return false, domain.ErrRoomClosed
		}
		idx := room.PlayerIndex(userID)
		if idx < 0 {
			return false, domain.ErrNotAMember
		}
		room.Players = append(room.Players[:idx:idx], room.Players[idx+1:]...)
		s.members.release(userID, room.Code)

		if userID == room.HostID || len(room.Players) == 0 {
			s.closeLocked(room)
			return true, nil
		}
		// The remaining players may now all be done.
		justCompleted = trackCompletion(room)
		return true, nil
	})
	if err != nil {
		s.log.Debug().Err(err).Str("room", code).Str("user", userID).Msg("leave rejected")
		return err
	}
	s.log.Info().Str("room", code).Str("user", userID).Bool("active", snap.Active).Msg("player left")
	if justCompleted {
		s.recordResults(ctx, snap)
	}
	return nil
}

// StartRoom moves an open room into progress. Only the host may start it.
func (s *RoomService) StartRoom(ctx context.Context, code, userID string) error {
	_, _, err := s.mutate(ctx, code, func(room *domain.Room) (bool, error) {
		switch {
		case !room.Active:
			return false, domain.ErrRoomClosed
		case room.HostID != userID:
			return false, domain.ErrNotHost
		case room.Started:
			return false, domain.ErrAlreadyStarted
		case len(room.Players) == 0:
			return false, domain.ErrRoomClosed
		}
		room.Started = true
		return true, nil
	})
	if err != nil {
		s.log.Debug().Err(err).Str("room", code).Str("user", userID).Msg("start rejected")
		return err
	}
	s.log.Info().Str("room", code).Msg("room started")
	return nil
}

// CancelRoom closes the room on behalf of its host and evicts every member.
func (s *RoomService) CancelRoom(ctx context.Context, code, userID string) error {
	_, _, err := s.mutate(ctx, code, func(room *domain.Room) (bool, error) {
		switch {
		case !room.Active:
			return false, domain.ErrRoomClosed
		case room.HostID != userID:
			return false, domain.ErrNotHost
		}
		s.closeLocked(room)
		return true, nil
	})
	if err != nil {
		s.log.Debug().Err(err).Str("room", code).Str("user", userID).Msg("cancel rejected")
		return err
	}
	s.log.Info().Str("room", code).Msg("room cancelled")
	return nil
}

// SubmitResult records a judge verdict for userID. Failing verdicts and
// repeated passing submissions leave the room untouched and emit nothing.
func (s *RoomService) SubmitResult(ctx context.Context, code, userID string, verdict domain.Verdict) error {
	justCompleted := false
	snap, changed, err := s.mutate(ctx, code, func(room *domain.Room) (bool, error) {
		if err := submittable(*room, userID); err != nil {
			return false, err
		}
		if !verdict.AllPassed {
			return false, nil
		}
		if !markCompleted(room, room.PlayerIndex(userID), s.now()) {
			return false, nil
		}
		justCompleted = trackCompletion(room)
		return true, nil
	})
	if err != nil {
		s.log.Debug().Err(err).Str("room", code).Str("user", userID).Msg("submission rejected")
		return err
	}
	if changed {
		s.log.Info().Str("room", code).Str("user", userID).Msg("player completed")
	}
	if justCompleted {
		s.log.Info().Str("room", code).Msg("game completed")
		s.recordResults(ctx, snap)
	}
	return nil
}

// SubmitCode runs source through the judge and records the verdict.
func (s *RoomService) SubmitCode(ctx context.Context, code, userID, source string) (domain.Verdict, error) {
	snap, err := s.Snapshot(code)
	if err != nil {
		return domain.Verdict{}, err
	}
	if err := submittable(snap, userID); err != nil {
		return domain.Verdict{}, err
	}

	verdict, err := s.judge.Evaluate(ctx, snap.ProblemID, userID, source)
	if err != nil {
		if !errors.Is(err, domain.ErrJudgeUnavailable) {
			err = fmt.Errorf("%w: %v", domain.ErrJudgeUnavailable, err)
		}
		s.log.Warn().Err(err).Str("room", code).Str("user", userID).Msg("judge failed")
		return domain.Verdict{}, err
	}
	if err := s.SubmitResult(ctx, code, userID, verdict); err != nil {
		return verdict, err
	}
	return verdict, nil
}

// RunCode is a practice run: source is judged against the problem's sample
// cases and no room is touched, so it also works outside a room.
func (s *RoomService) RunCode(ctx context.Context, problemID, userID, source string) (domain.Verdict, error) {
	verdict, err := s.judge.Run(ctx, problemID, userID, source)
	if err != nil {
		if errors.Is(err, domain.ErrProblemNotFound) {
			return domain.Verdict{}, err
		}
		if !errors.Is(err, domain.ErrJudgeUnavailable) {
			err = fmt.Errorf("%w: %v", domain.ErrJudgeUnavailable, err)
		}
		s.log.Warn().Err(err).Str("problem", problemID).Str("user", userID).Msg("practice run failed")
		return domain.Verdict{}, err
	}
	return verdict, nil
}

// Disconnect is leave-on-disconnect: it never fails, it only logs.
func (s *RoomService) Disconnect(ctx context.Context, code, userID string) {
	err := s.LeaveRoom(ctx, code, userID)
	switch {
	case err == nil,
		errors.Is(err, domain.ErrNotAMember),
		errors.Is(err, domain.ErrRoomClosed),
		errors.Is(err, domain.ErrRoomNotFound):
	default:
		s.log.Warn().Err(err).Str("room", code).Str("user", userID).Msg("leave on disconnect failed")
	}
}

// Snapshot returns the point-in-time state of a retained room.
func (s *RoomService) Snapshot(code string) (domain.Room, error) {
	live, ok := s.rooms.Get(code)
	if !ok {
		return domain.Room{}, domain.ErrRoomNotFound
	}
	return live.Snapshot(), nil
}

// RoomForUser returns the active room userID currently belongs to.
func (s *RoomService) RoomForUser(userID string) (domain.Room, error) {
	code, ok := s.members.lookup(userID)
	if !ok {
		return domain.Room{}, domain.ErrRoomNotFound
	}
	return s.Snapshot(code)
}

// Leaderboard returns the ranked players of a retained room.
func (s *RoomService) Leaderboard(code string) ([]domain.LeaderboardEntry, error) {
	snap, err := s.Snapshot(code)
	if err != nil {
		return nil, err
	}
	return domain.Leaderboard(snap), nil
}

// Subscribe returns a channel of snapshots for code, primed with the current
// state. The caller must invoke the returned cancel function to avoid leaks.
func (s *RoomService) Subscribe(_ context.Context, code string) (<-chan domain.Room, func(), error) {
	live, ok := s.rooms.Get(code)
	if !ok {
		return nil, nil, domain.ErrRoomNotFound
	}
	live.mu.Lock()
	defer live.mu.Unlock()
	if !live.state.Active {
		return nil, nil, domain.ErrRoomClosed
	}
	initial := live.state.Clone()
	ch, cancel := s.events.subscribe(code, &initial)
	return ch, cancel, nil
}

// ListProblems returns the problem catalog.
func (s *RoomService) ListProblems(ctx context.Context) ([]domain.ProblemSummary, error) {
	return s.problems.ListProblems(ctx)
}

// GetProblem returns a single problem of the catalog.
func (s *RoomService) GetProblem(ctx context.Context, problemID string) (domain.Problem, error) {
	return s.problems.GetProblem(ctx, problemID)
}

// ProblemByTitle looks a problem up by its exact title.
func (s *RoomService) ProblemByTitle(ctx context.Context, title string) (domain.Problem, error) {
	summaries, err := s.problems.ListProblems(ctx)
	if err != nil {
		return domain.Problem{}, err
	}
	summary, ok := lo.Find(summaries, func(p domain.ProblemSummary) bool { return p.Title == title })
	if !ok {
		return domain.Problem{}, domain.ErrProblemNotFound
	}
	return s.problems.GetProblem(ctx, summary.ID)
}

// Subscribers reports how many live subscriptions code has.
func (s *RoomService) Subscribers(code string) int {
	return s.events.Subscribers(code)
}

// Sweep drops rooms that have been closed for longer than the retention window.
func (s *RoomService) Sweep(now time.Time) int {
	dropped := 0
	for _, live := range s.rooms.All() {
		closedAt, closed := live.closedSince()
		if closed && now.Sub(closedAt) >= s.retention {
			s.rooms.Delete(live.Code())
			dropped++
		}
	}
	if dropped > 0 {
		s.log.Debug().Int("rooms", dropped).Msg("swept closed rooms")
	}
	return dropped
}

// RunJanitor sweeps closed rooms every interval until ctx is done.
func (s *RoomService) RunJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(s.now())
		}
	}
}

// mutate runs fn inside the room's critical section. fn must validate before
// it changes anything; when it reports a change the new snapshot is persisted
// and published before the lock is released.
func (s *RoomService) mutate(ctx context.Context, code string, fn func(room *domain.Room) (bool, error)) (domain.Room, bool, error) {
	live, ok := s.rooms.Get(code)
	if !ok {
		return domain.Room{}, false, domain.ErrRoomNotFound
	}

	live.mu.Lock()
	defer live.mu.Unlock()

	changed, err := fn(&live.state)
	if err != nil {
		return domain.Room{}, false, err
	}
	if !changed {
		return live.state.Clone(), false, nil
	}
	if live.state.GameCompleted && live.state.Active && live.grace == nil && s.completionGrace > 0 {
		live.grace = time.AfterFunc(s.completionGrace, func() { s.expire(code) })
	}
	return s.commitLocked(ctx, live), true, nil
}

// commitLocked emits the canonical snapshot of live. Closing snapshots also
// drop every subscriber of the room.
func (s *RoomService) commitLocked(ctx context.Context, live *LiveRoom) domain.Room {
	snap := live.state.Clone()
	s.rooms.Save(ctx, snap)
	s.events.Publish(snap)
	if !snap.Active {
		live.closedAt = s.now()
		if live.grace != nil {
			live.grace.Stop()
		}
		s.events.Close(snap.Code)
	}
	return snap
}

// closeLocked deactivates room and releases its members.
func (s *RoomService) closeLocked(room *domain.Room) {
	room.Active = false
	for _, p := range room.Players {
		s.members.release(p.ID, room.Code)
	}
}

// expire closes a completed room once its grace period has elapsed.
func (s *RoomService) expire(code string) {
	_, changed, err := s.mutate(context.Background(), code, func(room *domain.Room) (bool, error) {
		if !room.Active {
			return false, nil
		}
		s.closeLocked(room)
		return true, nil
	})
	if err != nil {
		s.log.Debug().Err(err).Str("room", code).Msg("completion close skipped")
		return
	}
	if changed {
		s.log.Info().Str("room", code).Msg("completed room closed")
	}
}

func (s *RoomService) recordResults(ctx context.Context, snap domain.Room) {
	if s.results == nil {
		return
	}
	if err := s.results.Record(ctx, snap, domain.Leaderboard(snap)); err != nil {
		s.log.Error().Err(err).Str("room", snap.Code).Msg("archive results failed")
	}
}

// submittable checks the preconditions shared by every submission path.
func submittable(room domain.Room, userID string) error {
	switch {
	case !room.Active:
		return domain.ErrRoomClosed
	case !room.Started:
		return domain.ErrRoomNotStarted
	case !room.HasPlayer(userID):
		return domain.ErrNotAMember
	}
	return nil
}
