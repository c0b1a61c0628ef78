package app_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"coderoom-service/internal/app"
	"coderoom-service/internal/domain"
	"coderoom-service/internal/infra/memory"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestCreateJoinStartScenario(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	service, _ := newTestService(t)

	room, err := service.CreateRoom(ctx, "host", "Alice", "two-sum")
	req.NoError(err)
	req.Len(room.Players, 1)
	req.Equal("host", room.HostID)
	req.Equal(domain.RoomOpen, room.State())
	req.Len(room.Code, 6)

	updates, cancel, err := service.Subscribe(ctx, room.Code)
	req.NoError(err)
	defer cancel()
	req.Len(next(t, updates).Players, 1)

	// Scenario 1: a second player joins.
	joined, err := service.JoinRoom(ctx, room.Code, "userB", "Bob")
	req.NoError(err)
	req.Len(joined.Players, 2)
	req.False(joined.Started)
	pushed := next(t, updates)
	req.Equal([]string{"host", "userB"}, playerIDs(pushed))

	// Scenario 2: only the host may start.
	req.ErrorIs(service.StartRoom(ctx, room.Code, "userB"), domain.ErrNotHost)
	expectNone(t, updates)

	// Scenario 3: start once, reject the second start.
	req.NoError(service.StartRoom(ctx, room.Code, "host"))
	req.True(next(t, updates).Started)
	req.ErrorIs(service.StartRoom(ctx, room.Code, "host"), domain.ErrAlreadyStarted)
	expectNone(t, updates)

	snap, err := service.Snapshot(room.Code)
	req.NoError(err)
	req.True(snap.Started)

	// Late joiners are turned away.
	_, err = service.JoinRoom(ctx, room.Code, "userC", "Cid")
	req.ErrorIs(err, domain.ErrRoomAlreadyStarted)
}

func TestCompletionLatchFiresOnce(t *testing.T) {
	for _, order := range [][]string{{"host", "userB"}, {"userB", "host"}} {
		t.Run(fmt.Sprintf("%s first", order[0]), func(t *testing.T) {
			req := require.New(t)
			ctx := context.Background()
			service, _ := newTestService(t)
			code := startedRoom(t, service, "host", "userB")

			updates, cancel, err := service.Subscribe(ctx, code)
			req.NoError(err)
			defer cancel()
			next(t, updates)

			req.NoError(service.SubmitResult(ctx, code, order[0], passing()))
			first := next(t, updates)
			req.False(first.GameCompleted)

			req.NoError(service.SubmitResult(ctx, code, order[1], passing()))
			second := next(t, updates)
			req.True(second.GameCompleted)
			req.True(second.Active)
			req.True(domain.AllCompleted(second))

			// Scenario 4: a redundant submit emits nothing.
			req.NoError(service.SubmitResult(ctx, code, order[0], passing()))
			expectNone(t, updates)
		})
	}
}

func TestFailingVerdictIsNoop(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	service, _ := newTestService(t)
	code := startedRoom(t, service, "host", "userB")

	updates, cancel, err := service.Subscribe(ctx, code)
	req.NoError(err)
	defer cancel()
	next(t, updates)

	req.NoError(service.SubmitResult(ctx, code, "userB", domain.Verdict{PassedCount: 1, TotalCount: 3}))
	expectNone(t, updates)

	snap, err := service.Snapshot(code)
	req.NoError(err)
	req.False(snap.Players[1].Completed)
}

func TestSubmitPreconditions(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	service, _ := newTestService(t)

	req.ErrorIs(service.SubmitResult(ctx, "NOPE00", "host", passing()), domain.ErrRoomNotFound)

	room, err := service.CreateRoom(ctx, "host", "Alice", "two-sum")
	req.NoError(err)
	req.ErrorIs(service.SubmitResult(ctx, room.Code, "host", passing()), domain.ErrRoomNotStarted)

	req.NoError(service.StartRoom(ctx, room.Code, "host"))
	req.ErrorIs(service.SubmitResult(ctx, room.Code, "stranger", passing()), domain.ErrNotAMember)
}

func TestCancelWinsOverSubmit(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	service, _ := newTestService(t)
	code := startedRoom(t, service, "host", "userB")

	updates, cancel, err := service.Subscribe(ctx, code)
	req.NoError(err)
	defer cancel()
	next(t, updates)

	// Scenario 5.
	req.NoError(service.CancelRoom(ctx, code, "host"))
	closing := next(t, updates)
	req.False(closing.Active)
	_, open := <-updates
	req.False(open, "subscriber should be closed after cancellation")
	req.Zero(service.Subscribers(code))

	req.ErrorIs(service.SubmitResult(ctx, code, "userB", passing()), domain.ErrRoomClosed)
	req.ErrorIs(service.CancelRoom(ctx, code, "host"), domain.ErrRoomClosed)
	_, err = service.JoinRoom(ctx, code, "userC", "Cid")
	req.ErrorIs(err, domain.ErrRoomClosed)

	// Members are released and may host a new room.
	_, err = service.CreateRoom(ctx, "userB", "Bob", "two-sum")
	req.NoError(err)
}

func TestCancelRequiresHost(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	service, _ := newTestService(t)
	room, err := service.CreateRoom(ctx, "host", "Alice", "two-sum")
	req.NoError(err)
	_, err = service.JoinRoom(ctx, room.Code, "userB", "Bob")
	req.NoError(err)

	req.ErrorIs(service.CancelRoom(ctx, room.Code, "userB"), domain.ErrNotHost)
	snap, err := service.Snapshot(room.Code)
	req.NoError(err)
	req.True(snap.Active)
}

func TestLeaveRules(t *testing.T) {
	t.Run("last player leaving closes the room", func(t *testing.T) {
		req := require.New(t)
		ctx := context.Background()
		service, _ := newTestService(t)
		room, err := service.CreateRoom(ctx, "host", "Alice", "two-sum")
		req.NoError(err)

		// Scenario 6.
		req.NoError(service.LeaveRoom(ctx, room.Code, "host"))
		snap, err := service.Snapshot(room.Code)
		req.NoError(err)
		req.False(snap.Active)
		req.Empty(snap.Players)
	})

	t.Run("host leaving cancels the room", func(t *testing.T) {
		req := require.New(t)
		ctx := context.Background()
		service, _ := newTestService(t)
		room, err := service.CreateRoom(ctx, "host", "Alice", "two-sum")
		req.NoError(err)
		_, err = service.JoinRoom(ctx, room.Code, "userB", "Bob")
		req.NoError(err)
		_, cancel, err := service.Subscribe(ctx, room.Code)
		req.NoError(err)
		defer cancel()

		req.NoError(service.LeaveRoom(ctx, room.Code, "host"))
		snap, err := service.Snapshot(room.Code)
		req.NoError(err)
		req.False(snap.Active)
		req.Zero(service.Subscribers(room.Code))

		_, err = service.RoomForUser("userB")
		req.ErrorIs(err, domain.ErrRoomNotFound)
	})

	t.Run("non-member", func(t *testing.T) {
		req := require.New(t)
		ctx := context.Background()
		service, _ := newTestService(t)
		room, err := service.CreateRoom(ctx, "host", "Alice", "two-sum")
		req.NoError(err)
		req.ErrorIs(service.LeaveRoom(ctx, room.Code, "stranger"), domain.ErrNotAMember)
	})

	t.Run("leaving a started room can complete it", func(t *testing.T) {
		req := require.New(t)
		ctx := context.Background()
		service, archive := newTestService(t)
		code := startedRoom(t, service, "host", "userB", "userC")

		req.NoError(service.SubmitResult(ctx, code, "host", passing()))
		req.NoError(service.SubmitResult(ctx, code, "userB", passing()))
		req.NoError(service.LeaveRoom(ctx, code, "userC"))

		snap, err := service.Snapshot(code)
		req.NoError(err)
		req.True(snap.GameCompleted)
		req.Equal(1, archive.count(code))
	})
}

func TestJoinOrderWithoutDuplicates(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	service, _ := newTestService(t)
	room, err := service.CreateRoom(ctx, "host", "Alice", "two-sum")
	req.NoError(err)

	for _, id := range []string{"b", "c", "d", "e"} {
		_, err := service.JoinRoom(ctx, room.Code, id, id)
		req.NoError(err)
	}
	_, err = service.JoinRoom(ctx, room.Code, "c", "c")
	req.ErrorIs(err, domain.ErrAlreadyInRoom)

	req.NoError(service.LeaveRoom(ctx, room.Code, "c"))
	_, err = service.JoinRoom(ctx, room.Code, "c", "c")
	req.NoError(err)
	req.NoError(service.LeaveRoom(ctx, room.Code, "b"))

	snap, err := service.Snapshot(room.Code)
	req.NoError(err)
	req.Equal([]string{"host", "d", "e", "c"}, playerIDs(snap))
}

func TestConcurrentJoinsSeeEveryPlayer(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	service, _ := newTestService(t)
	room, err := service.CreateRoom(ctx, "host", "Alice", "two-sum")
	req.NoError(err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("u%d", i)
			_, _ = service.JoinRoom(ctx, room.Code, id, id)
		}(i)
	}
	wg.Wait()

	snap, err := service.Snapshot(room.Code)
	req.NoError(err)
	req.Len(snap.Players, 51)
	seen := map[string]bool{}
	for _, p := range snap.Players {
		req.False(seen[p.ID], "duplicate player %s", p.ID)
		seen[p.ID] = true
	}
}

func TestUserInOneActiveRoom(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	service, _ := newTestService(t)

	first, err := service.CreateRoom(ctx, "host", "Alice", "two-sum")
	req.NoError(err)
	_, err = service.CreateRoom(ctx, "host", "Alice", "two-sum")
	req.ErrorIs(err, domain.ErrAlreadyInRoom)

	second, err := service.CreateRoom(ctx, "other", "Olga", "two-sum")
	req.NoError(err)
	_, err = service.JoinRoom(ctx, second.Code, "host", "Alice")
	req.ErrorIs(err, domain.ErrAlreadyInRoom)

	current, err := service.RoomForUser("host")
	req.NoError(err)
	req.Equal(first.Code, current.Code)
}

func TestCreateRoomUnknownProblem(t *testing.T) {
	service, _ := newTestService(t)
	_, err := service.CreateRoom(context.Background(), "host", "Alice", "missing")
	require.ErrorIs(t, err, domain.ErrProblemNotFound)

	_, err = service.RoomForUser("host")
	require.ErrorIs(t, err, domain.ErrRoomNotFound)
}

func TestCreateRoomRetriesTakenCode(t *testing.T) {
	req := require.New(t)
	codes := []string{"AAAAAA", "AAAAAA", "BBBBBB"}
	var mu sync.Mutex
	gen := func() string {
		mu.Lock()
		defer mu.Unlock()
		code := codes[0]
		codes = codes[1:]
		return code
	}
	service, _ := newTestService(t, app.WithCodeGenerator(gen))

	first, err := service.CreateRoom(context.Background(), "a", "A", "two-sum")
	req.NoError(err)
	second, err := service.CreateRoom(context.Background(), "b", "B", "two-sum")
	req.NoError(err)
	req.Equal("AAAAAA", first.Code)
	req.Equal("BBBBBB", second.Code)
}

func TestCompletedRoomClosesAfterGrace(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	service, archive := newTestService(t, app.WithCompletionGrace(20*time.Millisecond))
	code := startedRoom(t, service, "host")

	updates, cancel, err := service.Subscribe(ctx, code)
	req.NoError(err)
	defer cancel()
	next(t, updates)

	req.NoError(service.SubmitResult(ctx, code, "host", passing()))
	req.True(next(t, updates).GameCompleted)
	req.Equal(1, archive.count(code))

	closing := next(t, updates)
	req.False(closing.Active)
	req.True(closing.GameCompleted)

	_, err = service.RoomForUser("host")
	req.ErrorIs(err, domain.ErrRoomNotFound)
}

func TestSweepDropsClosedRooms(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	service, _ := newTestService(t, app.WithClock(clock), app.WithRetention(time.Minute))

	open, err := service.CreateRoom(ctx, "a", "A", "two-sum")
	req.NoError(err)
	closed, err := service.CreateRoom(ctx, "b", "B", "two-sum")
	req.NoError(err)
	req.NoError(service.CancelRoom(ctx, closed.Code, "b"))

	req.Zero(service.Sweep(now.Add(30 * time.Second)))
	req.Equal(1, service.Sweep(now.Add(2*time.Minute)))

	_, err = service.Snapshot(closed.Code)
	req.ErrorIs(err, domain.ErrRoomNotFound)
	_, err = service.Snapshot(open.Code)
	req.NoError(err)
}

func TestSubmitCodeUsesJudge(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	judge := &mockJudge{}
	service, _ := newTestServiceWithJudge(t, judge)
	code := startedRoom(t, service, "host", "userB")

	judge.On("Evaluate", mock.Anything, "two-sum", "userB", "def twoSum(): pass").
		Return(domain.Verdict{AllPassed: true, PassedCount: 2, TotalCount: 2}, nil).Once()
	judge.On("Evaluate", mock.Anything, "two-sum", "host", "boom").
		Return(domain.Verdict{}, errors.New("connection refused")).Once()

	verdict, err := service.SubmitCode(ctx, code, "userB", "def twoSum(): pass")
	req.NoError(err)
	req.True(verdict.AllPassed)

	_, err = service.SubmitCode(ctx, code, "host", "boom")
	req.ErrorIs(err, domain.ErrJudgeUnavailable)

	_, err = service.SubmitCode(ctx, code, "stranger", "x")
	req.ErrorIs(err, domain.ErrNotAMember)

	snap, err := service.Snapshot(code)
	req.NoError(err)
	req.True(snap.Players[1].Completed)
	req.False(snap.Players[0].Completed)
	judge.AssertExpectations(t)
}

func TestRunCodeLeavesRoomUntouched(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	judge := &mockJudge{}
	service, _ := newTestServiceWithJudge(t, judge)
	code := startedRoom(t, service, "host", "userB")
	updates, cancel, err := service.Subscribe(ctx, code)
	req.NoError(err)
	defer cancel()
	next(t, updates)

	judge.On("Run", mock.Anything, "two-sum", "userB", "print(1)").
		Return(domain.Verdict{AllPassed: true, PassedCount: 3, TotalCount: 3}, nil).Once()
	judge.On("Run", mock.Anything, "two-sum", "loner", "print(1)").
		Return(domain.Verdict{AllPassed: true, PassedCount: 3, TotalCount: 3}, nil).Once()
	judge.On("Run", mock.Anything, "missing", "loner", "x").
		Return(domain.Verdict{}, domain.ErrProblemNotFound).Once()

	verdict, err := service.RunCode(ctx, "two-sum", "userB", "print(1)")
	req.NoError(err)
	req.True(verdict.AllPassed)

	_, err = service.RunCode(ctx, "two-sum", "loner", "print(1)")
	req.NoError(err)
	_, err = service.RunCode(ctx, "missing", "loner", "x")
	req.ErrorIs(err, domain.ErrProblemNotFound)

	snap, err := service.Snapshot(code)
	req.NoError(err)
	req.False(snap.Players[1].Completed)
	expectNone(t, updates)
	judge.AssertExpectations(t)
}

func TestProblemByTitle(t *testing.T) {
	ctx := context.Background()
	service, _ := newTestService(t)

	problem, err := service.ProblemByTitle(ctx, "Two Sum")
	require.NoError(t, err)
	require.Equal(t, "two-sum", problem.ID)

	_, err = service.ProblemByTitle(ctx, "two sum")
	require.ErrorIs(t, err, domain.ErrProblemNotFound)
}

func TestLeaderboardRanksFinishers(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		now = now.Add(time.Second)
		return now
	}
	service, _ := newTestService(t, app.WithClock(clock))
	code := startedRoom(t, service, "host", "userB", "userC")

	req.NoError(service.SubmitResult(ctx, code, "userC", passing()))
	req.NoError(service.SubmitResult(ctx, code, "host", passing()))

	board, err := service.Leaderboard(code)
	req.NoError(err)
	req.Equal("userC", board[0].UserID)
	req.Equal("host", board[1].UserID)
	req.Equal("userB", board[2].UserID)
	req.False(board[2].Completed)
}

func TestDisconnectIsQuiet(t *testing.T) {
	ctx := context.Background()
	service, _ := newTestService(t)
	room, err := service.CreateRoom(ctx, "host", "Alice", "two-sum")
	require.NoError(t, err)

	service.Disconnect(ctx, room.Code, "stranger")
	service.Disconnect(ctx, "NOPE00", "host")
	service.Disconnect(ctx, room.Code, "host")

	snap, err := service.Snapshot(room.Code)
	require.NoError(t, err)
	require.False(t, snap.Active)
}

type mockJudge struct {
	mock.Mock
}

func (m *mockJudge) Evaluate(ctx context.Context, problemID, userID, source string) (domain.Verdict, error) {
	args := m.Called(ctx, problemID, userID, source)
	return args.Get(0).(domain.Verdict), args.Error(1)
}

func (m *mockJudge) Run(ctx context.Context, problemID, userID, source string) (domain.Verdict, error) {
	args := m.Called(ctx, problemID, userID, source)
	return args.Get(0).(domain.Verdict), args.Error(1)
}

type recordingArchive struct {
	mu    sync.Mutex
	rooms map[string]int
}

func (a *recordingArchive) Record(_ context.Context, room domain.Room, board []domain.LeaderboardEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.rooms == nil {
		a.rooms = map[string]int{}
	}
	a.rooms[room.Code]++
	return nil
}

func (a *recordingArchive) count(code string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.rooms[code]
}

func newTestService(t *testing.T, opts ...app.Option) (*app.RoomService, *recordingArchive) {
	return newTestServiceWithJudge(t, &mockJudge{}, opts...)
}

func newTestServiceWithJudge(t *testing.T, judge app.Judge, opts ...app.Option) (*app.RoomService, *recordingArchive) {
	t.Helper()
	problems := memory.NewProblemRepository(memory.NewStaticProblemLoader(map[string]domain.Problem{
		"two-sum": {ID: "two-sum", Title: "Two Sum", Difficulty: "Easy"},
	}), 5*time.Minute)
	archive := &recordingArchive{}
	base := []app.Option{
		app.WithResultArchive(archive),
		app.WithCompletionGrace(0),
		app.WithLogger(zerolog.Nop()),
	}
	events := app.NewBroadcaster(8, zerolog.Nop())
	return app.NewRoomService(memory.NewRoomStore(), problems, judge, events, append(base, opts...)...), archive
}

func startedRoom(t *testing.T, service *app.RoomService, host string, others ...string) string {
	t.Helper()
	ctx := context.Background()
	room, err := service.CreateRoom(ctx, host, host, "two-sum")
	require.NoError(t, err)
	for _, id := range others {
		_, err := service.JoinRoom(ctx, room.Code, id, id)
		require.NoError(t, err)
	}
	require.NoError(t, service.StartRoom(ctx, room.Code, host))
	return room.Code
}

func passing() domain.Verdict {
	return domain.Verdict{AllPassed: true, PassedCount: 3, TotalCount: 3}
}

func next(t *testing.T, ch <-chan domain.Room) domain.Room {
	t.Helper()
	select {
	case snap, ok := <-ch:
		require.True(t, ok, "subscription closed")
		return snap
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for snapshot")
	}
	return domain.Room{}
}

func expectNone(t *testing.T, ch <-chan domain.Room) {
	t.Helper()
	select {
	case snap, ok := <-ch:
		if ok {
			t.Fatalf("unexpected snapshot %+v", snap)
		}
	default:
	}
}

func playerIDs(room domain.Room) []string {
	ids := make([]string, 0, len(room.Players))
	for _, p := range room.Players {
		ids = append(ids, p.ID)
	}
	return ids
}
