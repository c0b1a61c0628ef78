package memory

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"time"

	"coderoom-service/internal/domain"
	"golang.org/x/sync/singleflight"
)

// ProblemLoader fetches problem content from a backing store (e.g., Postgres).
type ProblemLoader interface {
	LoadProblem(ctx context.Context, problemID string) (domain.Problem, error)
	ListProblems(ctx context.Context) ([]domain.ProblemSummary, error)
}

const catalogKey = "catalog"

// ProblemRepository keeps problems and the catalog in process for a TTL.
// Concurrent misses on the same key share one loader call.
type ProblemRepository struct {
	loader ProblemLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group
	rnd    *rand.Rand
	rndMu  sync.Mutex

	mu      sync.RWMutex
	entries map[string]entry
}

type entry struct {
	value     interface{}
	expiresAt time.Time
}

func NewProblemRepository(loader ProblemLoader, ttl time.Duration) *ProblemRepository {
	return &ProblemRepository{
		loader:  loader,
		ttl:     ttl,
		clock:   time.Now,
		rnd:     rand.New(rand.NewSource(time.Now().UnixNano())),
		entries: make(map[string]entry),
	}
}

func (r *ProblemRepository) GetProblem(ctx context.Context, problemID string) (domain.Problem, error) {
	return cached(r, "problem:"+problemID, func() (domain.Problem, error) {
		return r.loader.LoadProblem(ctx, problemID)
	})
}

func (r *ProblemRepository) ListProblems(ctx context.Context) ([]domain.ProblemSummary, error) {
	return cached(r, catalogKey, func() ([]domain.ProblemSummary, error) {
		return r.loader.ListProblems(ctx)
	})
}

// cached returns the fresh entry under key or fills it from fetch. Errors are
// not cached.
func cached[T any](r *ProblemRepository, key string, fetch func() (T, error)) (T, error) {
	if v, ok := r.fresh(key); ok {
		return v.(T), nil
	}
	v, err, _ := r.sf.Do(key, func() (interface{}, error) {
		if v, ok := r.fresh(key); ok {
			return v, nil
		}
		loaded, err := fetch()
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.entries[key] = entry{value: loaded, expiresAt: r.clock().Add(r.ttlWithJitter())}
		r.mu.Unlock()
		return loaded, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}

func (r *ProblemRepository) fresh(key string) (interface{}, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[key]
	if !ok || !e.expiresAt.After(r.clock()) {
		return nil, false
	}
	return e.value, true
}

// StaticProblemLoader is a simple loader backed by an in-memory map (useful for tests/demos).
type StaticProblemLoader struct {
	problems map[string]domain.Problem
}

func NewStaticProblemLoader(problems map[string]domain.Problem) *StaticProblemLoader {
	return &StaticProblemLoader{problems: problems}
}

func (l *StaticProblemLoader) LoadProblem(_ context.Context, problemID string) (domain.Problem, error) {
	if problem, ok := l.problems[problemID]; ok {
		return problem, nil
	}
	return domain.Problem{}, domain.ErrProblemNotFound
}

func (l *StaticProblemLoader) ListProblems(_ context.Context) ([]domain.ProblemSummary, error) {
	summaries := make([]domain.ProblemSummary, 0, len(l.problems))
	for _, p := range l.problems {
		summaries = append(summaries, p.Summary())
	}
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].Title < summaries[j].Title })
	return summaries, nil
}

func (r *ProblemRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(r.ttl) / 10
	r.rndMu.Lock()
	defer r.rndMu.Unlock()
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}
