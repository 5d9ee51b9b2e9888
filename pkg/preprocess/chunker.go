package preprocess

import (
	"regexp"
	"strings"
	"time"

	"github.com/athapong/finkg/pkg/extract"
	"github.com/google/uuid"
	"github.com/jdkato/prose/v2"
	"github.com/pkg/errors"
	"github.com/pkoukk/tiktoken-go"
	"github.com/sirupsen/logrus"
)

// Config bounds how raw text is cleaned and grouped into spans.
type Config struct {
	// MinSentenceChars drops fragments shorter than this after cleaning.
	MinSentenceChars int
	// MaxSentences caps how many sentences one document contributes.
	MaxSentences int
	// SpanTokenBudget groups consecutive sentences into spans under this
	// token count.
	SpanTokenBudget int
}

// DefaultConfig mirrors the limits the pipeline was tuned with.
var DefaultConfig = Config{
	MinSentenceChars: 20,
	MaxSentences:     100,
	SpanTokenBudget:  256,
}

var (
	urlPattern       = regexp.MustCompile(`https?://\S+`)
	bracketedPattern = regexp.MustCompile(`\[[^\]]*\]`)
	whitespaceRuns   = regexp.MustCompile(`\s+`)
)

// Chunker turns raw article text into ordered spans ready for extraction.
type Chunker struct {
	config  Config
	encoder *tiktoken.Tiktoken
	logger  *logrus.Logger
}

// NewChunker creates a chunker. Token counting uses the cl100k_base encoding
// when available and falls back to a rune-length estimate offline.
func NewChunker(config Config) *Chunker {
	if config.MinSentenceChars <= 0 {
		config.MinSentenceChars = DefaultConfig.MinSentenceChars
	}
	if config.MaxSentences <= 0 {
		config.MaxSentences = DefaultConfig.MaxSentences
	}
	if config.SpanTokenBudget <= 0 {
		config.SpanTokenBudget = DefaultConfig.SpanTokenBudget
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	encoder, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		logger.WithError(err).Warn("Token encoder unavailable, falling back to length estimate")
		encoder = nil
	}
	return &Chunker{config: config, encoder: encoder, logger: logger}
}

// Chunk cleans the text, splits it into sentences and groups consecutive
// sentences into spans under the token budget. The publication date, when
// known, is attached to every span to anchor relative-date parsing.
func (c *Chunker) Chunk(raw string, publicationDate *time.Time) ([]extract.Span, error) {
	cleaned := c.clean(raw)
	if cleaned == "" {
		return nil, nil
	}

	doc, err := prose.NewDocument(cleaned, prose.WithExtraction(false), prose.WithTagging(false))
	if err != nil {
		return nil, errors.Wrap(err, "sentence segmentation failed")
	}

	sentences := make([]string, 0)
	for _, sentence := range doc.Sentences() {
		text := strings.TrimSpace(sentence.Text)
		if len(text) < c.config.MinSentenceChars {
			continue
		}
		sentences = append(sentences, text)
		if len(sentences) >= c.config.MaxSentences {
			break
		}
	}

	spans := make([]extract.Span, 0)
	current := make([]string, 0)
	currentTokens := 0
	flush := func() {
		if len(current) == 0 {
			return
		}
		spans = append(spans, extract.Span{
			ID:              uuid.New().String(),
			Text:            strings.Join(current, " "),
			PublicationDate: publicationDate,
		})
		current = current[:0]
		currentTokens = 0
	}

	for _, sentence := range sentences {
		tokens := c.countTokens(sentence)
		if currentTokens > 0 && currentTokens+tokens > c.config.SpanTokenBudget {
			flush()
		}
		current = append(current, sentence)
		currentTokens += tokens
	}
	flush()

	c.logger.WithFields(logrus.Fields{
		"sentences": len(sentences),
		"spans":     len(spans),
	}).Info("Chunked document")
	return spans, nil
}

func (c *Chunker) clean(raw string) string {
	text := urlPattern.ReplaceAllString(raw, " ")
	text = bracketedPattern.ReplaceAllString(text, " ")
	text = whitespaceRuns.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

func (c *Chunker) countTokens(text string) int {
	if c.encoder != nil {
		return len(c.encoder.Encode(text, nil, nil))
	}
	// Rough heuristic when the encoding tables are unreachable.
	return len([]rune(text))/4 + 1
}
