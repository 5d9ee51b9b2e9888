package extract

import (
	"context"
	"testing"
	"time"

	"github.com/athapong/finkg/pkg/schema"
	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCandidates(t *testing.T) {
	reply := `Here are the extracted triplets:
[
  {"head": "Apple", "head_type": "Company", "relation": "ACQUIRED", "tail": "DarwinAI", "tail_type": "Company", "amount": "", "date": "January 2024", "confidence": 0.95},
  {"head": "", "relation": "ACQUIRED", "tail": "DarwinAI"},
  {"head": "Tesla", "head_type": "Company", "relation": "LAUNCHED", "tail": "Model Y", "tail_type": "Product"}
]
Let me know if you need anything else.`

	candidates := ParseCandidates(reply, Span{ID: "s1", Text: "the span text"})
	require.Len(t, candidates, 2)

	assert.Equal(t, "Apple", candidates[0].Head)
	assert.Equal(t, "ACQUIRED", candidates[0].Relation)
	assert.Equal(t, "January 2024", candidates[0].Date)
	assert.Equal(t, 0.95, candidates[0].Confidence)
	assert.Equal(t, "the span text", candidates[0].Excerpt)

	// Missing confidence falls back to the default.
	assert.Equal(t, "Tesla", candidates[1].Head)
	assert.Equal(t, defaultCandidateConfidence, candidates[1].Confidence)
}

func TestParseCandidatesNoArray(t *testing.T) {
	assert.Nil(t, ParseCandidates("I could not find any triplets.", Span{}))
	assert.Nil(t, ParseCandidates("", Span{}))
}

func TestParseCandidatesBogusConfidence(t *testing.T) {
	reply := `[{"head": "A", "relation": "ACQUIRED", "tail": "B", "confidence": 7.5}]`
	candidates := ParseCandidates(reply, Span{})
	require.Len(t, candidates, 1)
	assert.Equal(t, defaultCandidateConfidence, candidates[0].Confidence)
}

// scriptedClient fails a fixed number of times before answering.
type scriptedClient struct {
	failures int
	err      error
	calls    int
	content  string
}

func (c *scriptedClient) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	c.calls++
	if c.calls <= c.failures {
		return openai.ChatCompletionResponse{}, c.err
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: c.content}},
		},
	}, nil
}

func fastRetry() RetryConfig {
	return RetryConfig{MaxRetries: 2, InitialWait: time.Millisecond, MaxWait: time.Millisecond, Multiplier: 1}
}

func TestExtractRetriesTransientFailures(t *testing.T) {
	client := &scriptedClient{
		failures: 2,
		err:      &openai.APIError{HTTPStatusCode: 429},
		content:  `[{"head": "Apple", "relation": "ACQUIRED", "tail": "DarwinAI"}]`,
	}
	extractor := NewLLMExtractor(client, "test-model", schema.NewDefaultRegistry())
	extractor.SetRetryConfig(fastRetry())

	candidates, err := extractor.Extract(context.Background(), Span{ID: "s1", Text: "t"})
	require.NoError(t, err)
	assert.Equal(t, 3, client.calls)
	require.Len(t, candidates, 1)
	assert.Equal(t, "Apple", candidates[0].Head)
}

func TestExtractPermanentFailureDoesNotRetry(t *testing.T) {
	client := &scriptedClient{
		failures: 10,
		err:      &openai.APIError{HTTPStatusCode: 400},
	}
	extractor := NewLLMExtractor(client, "test-model", schema.NewDefaultRegistry())
	extractor.SetRetryConfig(fastRetry())

	_, err := extractor.Extract(context.Background(), Span{ID: "s1", Text: "t"})
	require.Error(t, err)
	assert.Equal(t, 1, client.calls)

	var cerr *CapabilityError
	require.ErrorAs(t, err, &cerr)
	assert.False(t, cerr.Transient)
}

func TestExtractExhaustionIsTransient(t *testing.T) {
	client := &scriptedClient{
		failures: 10,
		err:      &openai.APIError{HTTPStatusCode: 503},
	}
	extractor := NewLLMExtractor(client, "test-model", schema.NewDefaultRegistry())
	extractor.SetRetryConfig(fastRetry())

	_, err := extractor.Extract(context.Background(), Span{ID: "s1", Text: "t"})
	require.Error(t, err)
	assert.Equal(t, 3, client.calls)

	var cerr *CapabilityError
	require.ErrorAs(t, err, &cerr)
	assert.True(t, cerr.Transient)
}
