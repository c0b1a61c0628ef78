package judge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"coderoom-service/internal/app"
	"coderoom-service/internal/domain"
)

// Client evaluates submissions on a remote runner service.
// It posts the problem's test cases with the source to {baseURL}/evaluate
// and expects a domain.Verdict back.
type Client struct {
	baseURL  string
	problems app.ProblemRepository
	http     *http.Client
}

type evaluateRequest struct {
	ProblemID string            `json:"problemId"`
	UserID    string            `json:"userId"`
	Source    string            `json:"source"`
	TestCases []domain.TestCase `json:"testCases"`
}

func NewClient(baseURL string, problems app.ProblemRepository, timeout time.Duration) *Client {
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		problems: problems,
		http:     &http.Client{Timeout: timeout},
	}
}

// Evaluate judges source against every test case of the problem.
func (c *Client) Evaluate(ctx context.Context, problemID, userID, source string) (domain.Verdict, error) {
	problem, err := c.problems.GetProblem(ctx, problemID)
	if err != nil {
		return domain.Verdict{}, err
	}
	return c.post(ctx, problemID, userID, source, problem.TestCases)
}

// Run judges source against the problem's sample cases only.
func (c *Client) Run(ctx context.Context, problemID, userID, source string) (domain.Verdict, error) {
	problem, err := c.problems.GetProblem(ctx, problemID)
	if err != nil {
		return domain.Verdict{}, err
	}
	return c.post(ctx, problemID, userID, source, domain.SampleCases(problem))
}

func (c *Client) post(ctx context.Context, problemID, userID, source string, cases []domain.TestCase) (domain.Verdict, error) {
	body, err := json.Marshal(evaluateRequest{
		ProblemID: problemID,
		UserID:    userID,
		Source:    source,
		TestCases: cases,
	})
	if err != nil {
		return domain.Verdict{}, fmt.Errorf("encode submission: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/evaluate", bytes.NewReader(body))
	if err != nil {
		return domain.Verdict{}, fmt.Errorf("%w: %v", domain.ErrJudgeUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.Verdict{}, fmt.Errorf("%w: %v", domain.ErrJudgeUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return domain.Verdict{}, fmt.Errorf("%w: status %d: %s", domain.ErrJudgeUnavailable, resp.StatusCode, bytes.TrimSpace(msg))
	}
	var verdict domain.Verdict
	if err := json.NewDecoder(resp.Body).Decode(&verdict); err != nil {
		return domain.Verdict{}, fmt.Errorf("%w: decode verdict: %v", domain.ErrJudgeUnavailable, err)
	}
	// A verdict only passes when every case passed.
	verdict.AllPassed = verdict.AllPassed && verdict.PassedCount == verdict.TotalCount
	return verdict, nil
}

// Disabled is used when no runner is configured.
type Disabled struct{}

func (Disabled) Evaluate(context.Context, string, string, string) (domain.Verdict, error) {
	return domain.Verdict{}, fmt.Errorf("%w: no runner configured", domain.ErrJudgeUnavailable)
}

func (Disabled) Run(context.Context, string, string, string) (domain.Verdict, error) {
	return domain.Verdict{}, fmt.Errorf("%w: no runner configured", domain.ErrJudgeUnavailable)
}
