package query

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/athapong/finkg/pkg/graph"
	"github.com/athapong/finkg/pkg/normalize"
	"github.com/athapong/finkg/pkg/schema"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"
)

var questionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "query_questions_total",
		Help: "Natural-language questions by terminal state",
	},
	[]string{"state"},
)

// State tracks a question through the translator.
type State string

const (
	StateReceived   State = "Received"
	StateClassified State = "Classified"
	StateSlotted    State = "Slotted"
	StateExecuted   State = "Executed"
	StateAnswered   State = "Answered"
	StateFailed     State = "Failed"
)

// Answer is the terminal result of a question: Answered with rows (possibly
// empty) or Failed with a structured reason. An empty row set is a valid
// answer, not a failure.
type Answer struct {
	State      State       `json:"state"`
	FailReason string      `json:"fail_reason,omitempty"`
	Rows       []graph.Row `json:"rows"`
}

// EntityResolver is the read-only slice of the resolver the translator needs;
// a miss on the query side never creates an entity.
type EntityResolver interface {
	Resolve(ctx context.Context, name string, hint schema.EntityType, attrs map[string]string) (string, error)
}

// Translator maps natural-language questions onto structured graph queries
// and executes them. It is agnostic to the query language the underlying
// graph engine speaks.
type Translator struct {
	store    graph.Store
	registry *schema.Registry
	resolver EntityResolver
	limit    int
	logger   *logrus.Logger
}

// New creates a translator. The resolver must be configured read-only.
func New(store graph.Store, registry *schema.Registry, resolver EntityResolver) *Translator {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	return &Translator{
		store:    store,
		registry: registry,
		resolver: resolver,
		limit:    10,
		logger:   logger,
	}
}

// questionPattern classifies one question shape. Patterns are tried in
// order; the first match wins (query templates in the original pipeline
// worked the same way).
type questionPattern struct {
	re       *regexp.Regexp
	intent   graph.Intent
	relation string // empty when taken from the verb group
}

var verbRelations = map[string]string{
	"acquire": "ACQUIRED", "buy": "ACQUIRED", "purchase": "ACQUIRED",
	"invest": "INVESTED_IN", "fund": "INVESTED_IN", "back": "INVESTED_IN",
	"launch": "LAUNCHED", "release": "LAUNCHED", "unveil": "LAUNCHED", "introduce": "LAUNCHED",
	"found": "FOUNDED", "establish": "FOUNDED", "create": "FOUNDED",
	"partner": "PARTNERED_WITH",
}

var questionPatterns = []questionPattern{
	{re: regexp.MustCompile(`(?i)^how many \w+ (?:did|has|have) (?P<anchor>.+?) (?P<verb>\w+)\s*\??$`), intent: graph.IntentCount},
	{re: regexp.MustCompile(`(?i)^(?:what|which) .*?(?:did|does|has) (?P<anchor>.+?) (?P<verb>\w+)\s*\??$`), intent: graph.IntentOutgoing},
	{re: regexp.MustCompile(`(?i)^who (?:is|was) the (?:ceo|chief executive(?: officer)?) of (?P<anchor>.+?)\s*\??$`), intent: graph.IntentIncoming, relation: "CEO_OF"},
	{re: regexp.MustCompile(`(?i)^who invested in (?P<anchor>.+?)\s*\??$`), intent: graph.IntentIncoming, relation: "INVESTED_IN"},
	{re: regexp.MustCompile(`(?i)^who (?:acquired|bought) (?P<anchor>.+?)\s*\??$`), intent: graph.IntentIncoming, relation: "ACQUIRED"},
	{re: regexp.MustCompile(`(?i)^who founded (?P<anchor>.+?)\s*\??$`), intent: graph.IntentIncoming, relation: "FOUNDED"},
	{re: regexp.MustCompile(`(?i)^(?:what|which) compan(?:y|ies) partnered with (?P<anchor>.+?)\s*\??$`), intent: graph.IntentIncoming, relation: "PARTNERED_WITH"},
	{re: regexp.MustCompile(`(?i)^(?:what|which|list) (?P<noun>acquisitions?|investments?|purchases?|launches?|partnerships?) (?:were |are )?(?:worth |valued at |valued )?(?:more than|over|above) (?P<threshold>.+?)\s*\??$`), intent: graph.IntentRange},
}

// verbRelation maps a question verb onto the relation vocabulary. The verb is
// captured whole; inflections are stripped here so bare stems such as "found"
// or "fund" are never cut short.
func verbRelation(raw string) string {
	verb := strings.ToLower(raw)
	for _, form := range []string{verb, strings.TrimSuffix(verb, "ed"), strings.TrimSuffix(verb, "d"), strings.TrimSuffix(verb, "s")} {
		if relation, ok := verbRelations[form]; ok {
			return relation
		}
	}
	return normalize.CanonicalRelation(raw)
}

var nounRelations = map[string]string{
	"acquisition": "ACQUIRED",
	"purchase":    "ACQUIRED",
	"investment":  "INVESTED_IN",
	"launch":      "LAUNCHED",
	"partnership": "PARTNERED_WITH",
}

var (
	sinceYearPattern   = regexp.MustCompile(`(?i)\bsince (\d{4})\b`)
	inYearPattern      = regexp.MustCompile(`(?i)\bin (\d{4})\b`)
	beforeYearPattern  = regexp.MustCompile(`(?i)\bbefore (\d{4})\b`)
	trailingYearFilter = regexp.MustCompile(`(?i)\s*(?:\bsince \d{4}|\bin \d{4}|\bbefore \d{4})\s*\??$`)
)

// Ask runs a question through the Received -> Classified -> Slotted ->
// Executed -> Answered state machine. Failures are structured, never a crash.
func (t *Translator) Ask(ctx context.Context, question string) *Answer {
	t.logger.WithField("question", question).Info("Processing question")

	answer := t.ask(ctx, question)
	questionsTotal.WithLabelValues(string(answer.State)).Inc()
	return answer
}

func (t *Translator) ask(ctx context.Context, question string) *Answer {
	structured, failReason := t.classify(strings.TrimSpace(question))
	if failReason != "" {
		return failed(failReason)
	}

	if structured.anchorName != "" {
		name, _ := normalize.CleanEntityName(structured.anchorName)
		id, err := t.resolver.Resolve(ctx, name, schema.EntityOther, nil)
		if err != nil {
			t.logger.WithField("anchor", name).Info("Anchor entity not found in graph")
			return failed(graph.QueryReasonUnresolvableEntity)
		}
		structured.query.AnchorID = id
	}

	rows, err := t.store.Select(ctx, structured.query)
	if err != nil {
		t.logger.WithError(err).Error("Graph query execution failed")
		return failed(graph.QueryReasonQueryEngineError)
	}
	if rows == nil {
		rows = []graph.Row{}
	}
	return &Answer{State: StateAnswered, Rows: rows}
}

type classified struct {
	query      *graph.StructuredQuery
	anchorName string
}

// classify maps the question onto an intent and fills relation, threshold
// and date-range slots. An empty fail reason means success.
func (t *Translator) classify(question string) (*classified, string) {
	stripped := strings.TrimSpace(trailingYearFilter.ReplaceAllString(question, ""))
	if !strings.HasSuffix(stripped, "?") && strings.HasSuffix(question, "?") {
		stripped += "?"
	}

	for _, pattern := range questionPatterns {
		match := pattern.re.FindStringSubmatch(stripped)
		if match == nil {
			continue
		}
		groups := groupMap(pattern.re, match)

		relation := pattern.relation
		if relation == "" && groups["noun"] != "" {
			relation = nounRelations[singular(strings.ToLower(groups["noun"]))]
		}
		if relation == "" && groups["verb"] != "" {
			relation = verbRelation(groups["verb"])
		}
		if _, known := t.registry.Relation(relation); !known {
			return nil, graph.QueryReasonUnsupportedIntent
		}

		query := &graph.StructuredQuery{
			Intent:   pattern.intent,
			Relation: relation,
			Limit:    t.limit,
		}
		t.fillDateRange(question, query)

		if threshold := groups["threshold"]; threshold != "" {
			amount, err := normalize.ParseAmount(threshold)
			if err != nil {
				return nil, graph.QueryReasonUnsupportedIntent
			}
			query.MinAmount = amount
		}
		return &classified{query: query, anchorName: groups["anchor"]}, ""
	}
	return nil, graph.QueryReasonUnsupportedIntent
}

// fillDateRange extracts year-level filters from the full question text.
func (t *Translator) fillDateRange(question string, query *graph.StructuredQuery) {
	if m := sinceYearPattern.FindStringSubmatch(question); m != nil {
		if from, err := yearStart(m[1]); err == nil {
			query.DateFrom = from
		}
		return
	}
	if m := inYearPattern.FindStringSubmatch(question); m != nil {
		from, errFrom := yearStart(m[1])
		to, errTo := yearEnd(m[1])
		if errFrom == nil && errTo == nil {
			query.DateFrom = from
			query.DateTo = to
		}
		return
	}
	if m := beforeYearPattern.FindStringSubmatch(question); m != nil {
		if to, err := yearStart(m[1]); err == nil {
			query.DateTo = to
		}
	}
}

func yearStart(year string) (*time.Time, error) {
	y, err := strconv.Atoi(year)
	if err != nil {
		return nil, errors.Wrap(err, "bad year")
	}
	t := time.Date(y, time.January, 1, 0, 0, 0, 0, time.UTC)
	return &t, nil
}

func yearEnd(year string) (*time.Time, error) {
	y, err := strconv.Atoi(year)
	if err != nil {
		return nil, errors.Wrap(err, "bad year")
	}
	t := time.Date(y, time.December, 31, 0, 0, 0, 0, time.UTC)
	return &t, nil
}

func groupMap(re *regexp.Regexp, match []string) map[string]string {
	groups := make(map[string]string)
	for i, name := range re.SubexpNames() {
		if name != "" && i < len(match) {
			groups[name] = strings.TrimSpace(match[i])
		}
	}
	return groups
}

func singular(noun string) string {
	if _, ok := nounRelations[noun]; ok {
		return noun
	}
	if trimmed := strings.TrimSuffix(noun, "es"); trimmed != noun {
		if _, ok := nounRelations[trimmed]; ok {
			return trimmed
		}
	}
	return strings.TrimSuffix(noun, "s")
}

func failed(reason string) *Answer {
	return &Answer{State: StateFailed, FailReason: reason, Rows: []graph.Row{}}
}
