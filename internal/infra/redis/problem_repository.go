package redis

import (
	"context"
	"encoding/json"
	"math/rand"
	"sync"
	"time"

	"coderoom-service/internal/domain"
	"coderoom-service/internal/infra/memory"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const catalogKey = "problems:catalog"

// ProblemRepository caches problems in Redis and falls back to a loader on cache miss.
// Problems are stored as: SET problem:{problemID} <problem json>
// The catalog is stored as: SET problems:catalog <summaries json>
type ProblemRepository struct {
	client *redis.Client
	loader memory.ProblemLoader
	ttl    time.Duration
	sf     singleflight.Group
	rndMu  sync.Mutex
	rnd    *rand.Rand
}

func NewProblemRepository(client *redis.Client, loader memory.ProblemLoader, ttl time.Duration) *ProblemRepository {
	return &ProblemRepository{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (r *ProblemRepository) GetProblem(ctx context.Context, problemID string) (domain.Problem, error) {
	key := problemKey(problemID)
	var problem domain.Problem
	if r.readCached(ctx, key, &problem) {
		return problem, nil
	}

	result, err, _ := r.sf.Do(key, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		var cached domain.Problem
		if r.readCached(ctx, key, &cached) {
			return cached, nil
		}
		loaded, err := r.loader.LoadProblem(ctx, problemID)
		if err != nil {
			return domain.Problem{}, err
		}
		r.writeCached(ctx, key, loaded)
		return loaded, nil
	})
	if err != nil {
		return domain.Problem{}, err
	}
	return result.(domain.Problem), nil
}

func (r *ProblemRepository) ListProblems(ctx context.Context) ([]domain.ProblemSummary, error) {
	var summaries []domain.ProblemSummary
	if r.readCached(ctx, catalogKey, &summaries) {
		return summaries, nil
	}

	result, err, _ := r.sf.Do(catalogKey, func() (interface{}, error) {
		loaded, err := r.loader.ListProblems(ctx)
		if err != nil {
			return nil, err
		}
		r.writeCached(ctx, catalogKey, loaded)
		return loaded, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.ProblemSummary), nil
}

func (r *ProblemRepository) readCached(ctx context.Context, key string, dst interface{}) bool {
	raw, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(raw, dst) == nil
}

// writeCached is best-effort; a failed write only costs another load.
func (r *ProblemRepository) writeCached(ctx context.Context, key string, value interface{}) {
	payload, err := json.Marshal(value)
	if err != nil {
		return
	}
	_ = r.client.Set(ctx, key, payload, r.ttlWithJitter()).Err()
}

func problemKey(problemID string) string {
	return "problem:" + problemID
}

func (r *ProblemRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	jitterMax := int64(r.ttl) / 10
	r.rndMu.Lock()
	defer r.rndMu.Unlock()
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}
