// Package llmclient is the chat-completion adapter used by the review
// orchestrator: reviewSingle/reviewBatched over a bounded-retry call-and-parse
// pipeline, grounded on the teacher's internal/client (openai-go
// construction) and internal/pipeline/stage_review.go (JSON response-format
// mode, markdown-fence stripping).
package llmclient

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/forgehook/reviewbot/internal/config"
	"github.com/forgehook/reviewbot/internal/domain"
	"github.com/forgehook/reviewbot/internal/types"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

const maxAttempts = 3

// RawCompleter is the minimal chat-completion surface the Client retries
// against. Kept separate from Client so tests can inject a fake without
// pulling in openai-go's wire types.
type RawCompleter interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// OpenAICompleter implements RawCompleter over github.com/openai/openai-go.
type OpenAICompleter struct {
	cli   openai.Client
	model string
}

// NewOpenAICompleter builds a completer from the LLM section of Config.
func NewOpenAICompleter(cfg *config.Config) *OpenAICompleter {
	cli := openai.NewClient(
		option.WithAPIKey(cfg.LLM.APIKey),
		option.WithBaseURL(cfg.LLM.Endpoint),
	)
	model := cfg.LLM.Model
	if cfg.LLM.Deployment != "" {
		model = cfg.LLM.Deployment
	}
	return &OpenAICompleter{cli: cli, model: model}
}

func (o *OpenAICompleter) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	jsonFormat := shared.NewResponseFormatJSONObjectParam()
	params := openai.ChatCompletionNewParams{
		Model: o.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(userPrompt),
		},
		MaxCompletionTokens: openai.Int(40000),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &jsonFormat,
		},
	}

	resp, err := o.cli.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}

// Client is the LLM Client's interface surface: isEnabled(), reviewSingle,
// reviewBatched.
type Client interface {
	IsEnabled() bool
	ReviewSingle(ctx context.Context, chunk domain.DiffChunk) (domain.ReviewResult, error)
	ReviewBatched(ctx context.Context, chunks []domain.DiffChunk) (domain.ReviewResult, error)
}

type client struct {
	completer RawCompleter
	enabled   bool
}

// New builds a Client from Config. When credentials are not configured the
// returned Client is disabled: both review operations return an empty
// result immediately and the orchestrator marks the Review SKIPPED.
func New(cfg *config.Config) Client {
	if !cfg.IsLLMEnabled() {
		return &client{enabled: false}
	}
	return &client{completer: NewOpenAICompleter(cfg), enabled: true}
}

// NewWithCompleter builds a Client over a caller-supplied RawCompleter,
// useful for tests that want retry/parse behavior without a live provider.
func NewWithCompleter(completer RawCompleter) Client {
	return &client{completer: completer, enabled: true}
}

func (c *client) IsEnabled() bool { return c.enabled }

func (c *client) ReviewSingle(ctx context.Context, chunk domain.DiffChunk) (domain.ReviewResult, error) {
	if !c.enabled {
		return domain.ReviewResult{}, nil
	}
	systemPrompt := buildSystemPrompt(false)
	userPrompt := buildSingleUserPrompt(chunk)
	return c.callAndParse(ctx, systemPrompt, userPrompt)
}

func (c *client) ReviewBatched(ctx context.Context, chunks []domain.DiffChunk) (domain.ReviewResult, error) {
	if !c.enabled {
		return domain.ReviewResult{}, nil
	}
	systemPrompt := buildSystemPrompt(true)
	userPrompt := buildBatchedUserPrompt(chunks)
	return c.callAndParse(ctx, systemPrompt, userPrompt)
}

// callAndParse wraps one "call + parse" attempt as a unit: a malformed
// response triggers a retry, not just a network error. On exhaustion it
// returns an empty review with a synthetic summary rather than an error,
// per spec's "don't fail the job on parse trouble" rule.
func (c *client) callAndParse(ctx context.Context, systemPrompt, userPrompt string) (domain.ReviewResult, error) {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		text, err := c.completer.Complete(ctx, systemPrompt, userPrompt)
		if err != nil {
			lastErr = types.NewLLMTransientError(err)
			continue
		}
		if strings.TrimSpace(text) == "" {
			lastErr = &types.LLMEmptyResponse{}
			continue
		}
		result, perr := parseReviewResult(text)
		if perr != nil {
			lastErr = &types.LLMInvalidJSON{Err: perr}
			continue
		}
		return result, nil
	}

	slog.Error("llm call exhausted retry budget", "error", lastErr, "attempts", maxAttempts)
	return domain.ReviewResult{Summary: fmt.Sprintf("review unavailable: %v", lastErr)}, nil
}

type rawIssue struct {
	File       string `json:"file"`
	Line       int    `json:"line"`
	Severity   string `json:"severity"`
	Type       string `json:"type"`
	Message    string `json:"message"`
	Suggestion string `json:"suggestion"`
}

type rawResult struct {
	Summary string     `json:"summary"`
	Issues  []rawIssue `json:"issues"`
}

func parseReviewResult(text string) (domain.ReviewResult, error) {
	cleaned := types.CleanJSONFromMarkdown(text)

	var raw rawResult
	if err := json.Unmarshal([]byte(cleaned), &raw); err != nil {
		return domain.ReviewResult{}, err
	}

	issues := make([]domain.Issue, 0, len(raw.Issues))
	for _, ri := range raw.Issues {
		issue := domain.Issue{
			File:       ri.File,
			Line:       ri.Line,
			Severity:   domain.Severity(ri.Severity),
			Type:       domain.IssueType(ri.Type),
			Message:    ri.Message,
			Suggestion: ri.Suggestion,
		}
		if issue.Severity == "" {
			issue.Severity = domain.SeverityLow
		}
		if issue.Type == "" {
			issue.Type = domain.IssueStyle
		}
		if issue.Message == "" {
			issue.Message = "No description"
		}
		if issue.Suggestion == "" {
			issue.Suggestion = "No suggestion"
		}
		issues = append(issues, issue)
	}

	return domain.ReviewResult{Summary: raw.Summary, Issues: issues}, nil
}
