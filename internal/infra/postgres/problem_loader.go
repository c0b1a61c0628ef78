package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"coderoom-service/internal/domain"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// ProblemLoader loads problem JSONB from Postgres.
type ProblemLoader struct {
	pool *pgxpool.Pool
}

func NewProblemLoader(pool *pgxpool.Pool) *ProblemLoader {
	return &ProblemLoader{pool: pool}
}

func (l *ProblemLoader) LoadProblem(ctx context.Context, problemID string) (domain.Problem, error) {
	var raw []byte
	err := l.pool.QueryRow(ctx, `SELECT data FROM problems WHERE id=$1`, problemID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Problem{}, domain.ErrProblemNotFound
	}
	if err != nil {
		return domain.Problem{}, fmt.Errorf("load problem: %w", err)
	}
	var problem domain.Problem
	if err := json.Unmarshal(raw, &problem); err != nil {
		return domain.Problem{}, fmt.Errorf("unmarshal problem: %w", err)
	}
	problem.ID = problemID
	return problem, nil
}

func (l *ProblemLoader) ListProblems(ctx context.Context) ([]domain.ProblemSummary, error) {
	rows, err := l.pool.Query(ctx, `
		SELECT id, COALESCE(data->>'title', ''), COALESCE(data->>'difficulty', '')
		FROM problems
		ORDER BY data->>'title', id`)
	if err != nil {
		return nil, fmt.Errorf("list problems: %w", err)
	}
	defer rows.Close()

	var summaries []domain.ProblemSummary
	for rows.Next() {
		var s domain.ProblemSummary
		if err := rows.Scan(&s.ID, &s.Title, &s.Difficulty); err != nil {
			return nil, fmt.Errorf("scan problem: %w", err)
		}
		summaries = append(summaries, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list problems: %w", err)
	}
	return summaries, nil
}
