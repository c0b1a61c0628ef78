package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"coderoom-service/internal/domain"
)

func TestProblemRepositoryCaches(t *testing.T) {
	loader := &countingLoader{
		ProblemLoader: NewStaticProblemLoader(map[string]domain.Problem{
			"two-sum": sampleProblem(),
		}),
	}
	repo := NewProblemRepository(loader, time.Minute)

	if _, err := repo.GetProblem(context.Background(), "two-sum"); err != nil {
		t.Fatalf("get problem: %v", err)
	}
	if loader.loads() != 1 {
		t.Fatalf("expected loader once, got %d", loader.loads())
	}

	if _, err := repo.GetProblem(context.Background(), "two-sum"); err != nil {
		t.Fatalf("get problem 2: %v", err)
	}
	if loader.loads() != 1 {
		t.Fatalf("expected cache hit, loader calls %d", loader.loads())
	}
}

func TestProblemRepositoryExpires(t *testing.T) {
	loader := &countingLoader{
		ProblemLoader: NewStaticProblemLoader(map[string]domain.Problem{"two-sum": sampleProblem()}),
	}
	repo := NewProblemRepository(loader, time.Minute)
	now := time.Now()
	repo.clock = func() time.Time { return now }

	_, _ = repo.GetProblem(context.Background(), "two-sum")
	now = now.Add(2 * time.Minute)
	_, _ = repo.GetProblem(context.Background(), "two-sum")

	if loader.loads() != 2 {
		t.Fatalf("expected reload after ttl, loader calls %d", loader.loads())
	}
}

func TestProblemRepositoryUnknownProblem(t *testing.T) {
	repo := NewProblemRepository(NewStaticProblemLoader(nil), time.Minute)
	_, err := repo.GetProblem(context.Background(), "missing")
	if !errors.Is(err, domain.ErrProblemNotFound) {
		t.Fatalf("expected problem not found, got %v", err)
	}
}

func TestProblemRepositoryListsCatalog(t *testing.T) {
	loader := NewStaticProblemLoader(map[string]domain.Problem{
		"two-sum":  sampleProblem(),
		"climbing": {ID: "climbing", Title: "Climbing Stairs", Difficulty: "Easy"},
	})
	repo := NewProblemRepository(loader, time.Minute)

	summaries, err := repo.ListProblems(context.Background())
	if err != nil {
		t.Fatalf("list problems: %v", err)
	}
	if len(summaries) != 2 || summaries[0].Title != "Climbing Stairs" {
		t.Fatalf("unexpected catalog %+v", summaries)
	}
}

type countingLoader struct {
	ProblemLoader
	mu    sync.Mutex
	calls int
}

func (l *countingLoader) LoadProblem(ctx context.Context, problemID string) (domain.Problem, error) {
	l.mu.Lock()
	l.calls++
	l.mu.Unlock()
	return l.ProblemLoader.LoadProblem(ctx, problemID)
}

func (l *countingLoader) loads() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

func sampleProblem() domain.Problem {
	return domain.Problem{
		ID:          "two-sum",
		Title:       "Two Sum",
		Description: "Return indices of the two numbers that add up to target.",
		Difficulty:  "Easy",
		TestCases: []domain.TestCase{
			{Input: `{"nums":[2,7,11,15],"target":9}`, Expected: `[0,1]`},
		},
	}
}
