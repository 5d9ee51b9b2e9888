package extract

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/athapong/finkg/pkg/schema"
	openai "github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

const extractionSystemPrompt = "You are a financial knowledge graph extraction assistant."

const extractionPromptTemplate = `Extract all entities and relationships from the given text.

ENTITY TYPES:
%s

RELATIONSHIP TYPES:
%s

INSTRUCTIONS:
1. Identify all entities mentioned in the text
2. Identify all relationships between entities
3. Format output as a JSON list of triplets
4. Each triplet: {"head": entity1, "head_type": type, "relation": relationship, "tail": entity2, "tail_type": type, "amount": "$X million or empty", "date": "date expression or empty", "confidence": 0.0-1.0}

EXAMPLE OUTPUT:
[
  {"head": "Apple", "head_type": "Company", "relation": "ACQUIRED", "tail": "DarwinAI", "tail_type": "Company", "amount": "", "date": "January 2024", "confidence": 0.95},
  {"head": "Tesla", "head_type": "Company", "relation": "LAUNCHED", "tail": "Model Y", "tail_type": "Product", "amount": "", "date": "", "confidence": 0.88}
]

TEXT TO EXTRACT FROM:
%s

EXTRACTION:
`

// defaultCandidateConfidence mirrors the score assigned when the model omits
// one.
const defaultCandidateConfidence = 0.8

var jsonArrayPattern = regexp.MustCompile(`(?s)\[.*\]`)

// ChatCompleter is the slice of the OpenAI client the extractor needs.
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// LLMExtractor implements Extractor over a chat-completion model. The model
// is an untrusted, non-idempotent oracle; its output is parsed defensively
// and every downstream guarantee is enforced by the normalizer and the
// upsert engine.
type LLMExtractor struct {
	client   ChatCompleter
	model    string
	registry *schema.Registry
	retry    RetryConfig
	logger   *logrus.Logger
}

// NewLLMExtractor creates an extractor using the given client and model.
func NewLLMExtractor(client ChatCompleter, model string, registry *schema.Registry) *LLMExtractor {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	return &LLMExtractor{
		client:   client,
		model:    model,
		registry: registry,
		retry:    DefaultRetryConfig,
		logger:   logger,
	}
}

// SetRetryConfig overrides the default backoff policy.
func (e *LLMExtractor) SetRetryConfig(rc RetryConfig) { e.retry = rc }

// Extract implements Extractor.
func (e *LLMExtractor) Extract(ctx context.Context, span Span) ([]CandidateTriplet, error) {
	prompt := fmt.Sprintf(extractionPromptTemplate,
		strings.Join(e.registry.EntityTypeNames(), ", "),
		strings.Join(e.registry.RelationNames(), ", "),
		span.Text)

	response, err := retryDo(ctx, e.retry, e.logger, "llm.extract", func() (openai.ChatCompletionResponse, error) {
		return e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:       e.model,
			Temperature: 0.1,
			MaxTokens:   500,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: extractionSystemPrompt},
				{Role: openai.ChatMessageRoleUser, Content: prompt},
			},
		})
	})
	if err != nil {
		return nil, err
	}
	if len(response.Choices) == 0 {
		e.logger.WithField("span_id", span.ID).Warn("Model returned no choices")
		return nil, nil
	}

	candidates := ParseCandidates(response.Choices[0].Message.Content, span)
	e.logger.WithFields(logrus.Fields{
		"span_id":    span.ID,
		"candidates": len(candidates),
	}).Info("Extraction completed")
	return candidates, nil
}

// ParseCandidates scrapes the first JSON array out of a model reply and keeps
// every object that carries head, relation and tail. Anything else in the
// reply is ignored; a reply with no array yields no candidates.
func ParseCandidates(reply string, span Span) []CandidateTriplet {
	match := jsonArrayPattern.FindString(reply)
	if match == "" {
		return nil
	}
	parsed := gjson.Parse(match)
	if !parsed.IsArray() {
		return nil
	}

	candidates := make([]CandidateTriplet, 0)
	for _, item := range parsed.Array() {
		head := strings.TrimSpace(item.Get("head").String())
		relation := strings.TrimSpace(item.Get("relation").String())
		tail := strings.TrimSpace(item.Get("tail").String())
		if head == "" || relation == "" || tail == "" {
			continue
		}
		confidence := item.Get("confidence").Float()
		if confidence <= 0 || confidence > 1 {
			confidence = defaultCandidateConfidence
		}
		candidates = append(candidates, CandidateTriplet{
			Head:       head,
			HeadType:   item.Get("head_type").String(),
			Relation:   relation,
			Tail:       tail,
			TailType:   item.Get("tail_type").String(),
			Amount:     item.Get("amount").String(),
			Date:       item.Get("date").String(),
			Confidence: confidence,
			Excerpt:    strings.TrimSpace(span.Text),
		})
	}
	return candidates
}
