package llmclient

import (
	"context"
	"errors"
	"testing"

	"github.com/forgehook/reviewbot/internal/domain"
	"github.com/stretchr/testify/require"
)

// scriptedCompleter returns one scripted (text, error) pair per call, in
// order, for exercising callAndParse's retry loop without a live provider.
type scriptedCompleter struct {
	responses []completion
	calls     int
}

type completion struct {
	text string
	err  error
}

func (s *scriptedCompleter) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	i := s.calls
	s.calls++
	if i >= len(s.responses) {
		return s.responses[len(s.responses)-1].text, s.responses[len(s.responses)-1].err
	}
	return s.responses[i].text, s.responses[i].err
}

func TestReviewSingleParsesWellFormedJSON(t *testing.T) {
	completer := &scriptedCompleter{responses: []completion{
		{text: `{"summary":"looks fine","issues":[{"file":"a.go","line":3,"severity":"high","type":"logic","message":"bug","suggestion":"fix"}]}`},
	}}
	c := NewWithCompleter(completer)

	result, err := c.ReviewSingle(context.Background(), domain.DiffChunk{Filename: "a.go"})

	require.NoError(t, err)
	require.Equal(t, "looks fine", result.Summary)
	require.Len(t, result.Issues, 1)
	require.Equal(t, domain.SeverityHigh, result.Issues[0].Severity)
	require.Equal(t, 1, completer.calls)
}

func TestReviewResultDefaultsMissingFields(t *testing.T) {
	completer := &scriptedCompleter{responses: []completion{
		{text: `{"summary":"","issues":[{"file":"a.go","line":1}]}`},
	}}
	c := NewWithCompleter(completer)

	result, err := c.ReviewSingle(context.Background(), domain.DiffChunk{})

	require.NoError(t, err)
	require.Len(t, result.Issues, 1)
	issue := result.Issues[0]
	require.Equal(t, domain.SeverityLow, issue.Severity)
	require.Equal(t, domain.IssueStyle, issue.Type)
	require.Equal(t, "No description", issue.Message)
	require.Equal(t, "No suggestion", issue.Suggestion)
}

func TestCallAndParseStripsMarkdownFence(t *testing.T) {
	completer := &scriptedCompleter{responses: []completion{
		{text: "```json\n{\"summary\":\"ok\",\"issues\":[]}\n```"},
	}}
	c := NewWithCompleter(completer)

	result, err := c.ReviewSingle(context.Background(), domain.DiffChunk{})

	require.NoError(t, err)
	require.Equal(t, "ok", result.Summary)
}

func TestCallAndParseRetriesOnTransientError(t *testing.T) {
	completer := &scriptedCompleter{responses: []completion{
		{err: errors.New("connection reset")},
		{text: `{"summary":"recovered","issues":[]}`},
	}}
	c := NewWithCompleter(completer)

	result, err := c.ReviewSingle(context.Background(), domain.DiffChunk{})

	require.NoError(t, err)
	require.Equal(t, "recovered", result.Summary)
	require.Equal(t, 2, completer.calls)
}

func TestCallAndParseRetriesOnEmptyResponse(t *testing.T) {
	completer := &scriptedCompleter{responses: []completion{
		{text: ""},
		{text: "   "},
		{text: `{"summary":"third time","issues":[]}`},
	}}
	c := NewWithCompleter(completer)

	result, err := c.ReviewSingle(context.Background(), domain.DiffChunk{})

	require.NoError(t, err)
	require.Equal(t, "third time", result.Summary)
	require.Equal(t, 3, completer.calls)
}

func TestCallAndParseRetriesOnInvalidJSON(t *testing.T) {
	completer := &scriptedCompleter{responses: []completion{
		{text: "not json at all"},
		{text: `{"summary":"valid now","issues":[]}`},
	}}
	c := NewWithCompleter(completer)

	result, err := c.ReviewSingle(context.Background(), domain.DiffChunk{})

	require.NoError(t, err)
	require.Equal(t, "valid now", result.Summary)
}

func TestCallAndParseExhaustsRetriesWithSyntheticSummary(t *testing.T) {
	completer := &scriptedCompleter{responses: []completion{
		{err: errors.New("down")},
		{err: errors.New("down")},
		{err: errors.New("down")},
	}}
	c := NewWithCompleter(completer)

	result, err := c.ReviewSingle(context.Background(), domain.DiffChunk{})

	require.NoError(t, err, "exhaustion degrades to an empty result rather than failing the job")
	require.Empty(t, result.Issues)
	require.Contains(t, result.Summary, "review unavailable")
	require.Equal(t, maxAttempts, completer.calls)
}

func TestReviewBatchedUsesBatchedPrompt(t *testing.T) {
	completer := &scriptedCompleter{responses: []completion{
		{text: `{"summary":"batched","issues":[]}`},
	}}
	c := NewWithCompleter(completer)

	result, err := c.ReviewBatched(context.Background(), []domain.DiffChunk{{Filename: "a.go"}, {Filename: "b.go"}})

	require.NoError(t, err)
	require.Equal(t, "batched", result.Summary)
}

func TestDisabledClientSkipsCompleterEntirely(t *testing.T) {
	completer := &scriptedCompleter{}
	c := &client{completer: completer, enabled: false}

	single, err := c.ReviewSingle(context.Background(), domain.DiffChunk{})
	require.NoError(t, err)
	require.Empty(t, single.Issues)

	batched, err := c.ReviewBatched(context.Background(), nil)
	require.NoError(t, err)
	require.Empty(t, batched.Issues)

	require.Equal(t, 0, completer.calls)
	require.False(t, c.IsEnabled())
}
