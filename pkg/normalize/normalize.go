package normalize

import (
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/athapong/finkg/pkg/extract"
	"github.com/athapong/finkg/pkg/graph"
	"github.com/athapong/finkg/pkg/schema"
	"github.com/sirupsen/logrus"
)

// Discard reasons produced by normalization itself; schema rejection reasons
// pass through unchanged.
const (
	ReasonEmptyEntity  = "EmptyEntity"
	ReasonSelfRelation = "SelfRelation"
)

// relationSynonyms maps surface relation labels to canonical relation types.
var relationSynonyms = map[string]string{
	"acquired":                   "ACQUIRED",
	"acquisition":                "ACQUIRED",
	"acquires":                   "ACQUIRED",
	"bought":                     "ACQUIRED",
	"purchased":                  "ACQUIRED",
	"takes over":                 "ACQUIRED",
	"invested in":                "INVESTED_IN",
	"investment in":              "INVESTED_IN",
	"invests in":                 "INVESTED_IN",
	"funded":                     "INVESTED_IN",
	"backed":                     "INVESTED_IN",
	"launched":                   "LAUNCHED",
	"launches":                   "LAUNCHED",
	"released":                   "LAUNCHED",
	"introduced":                 "LAUNCHED",
	"unveiled":                   "LAUNCHED",
	"partnered with":             "PARTNERED_WITH",
	"partners with":              "PARTNERED_WITH",
	"collaborated with":          "PARTNERED_WITH",
	"teamed up with":             "PARTNERED_WITH",
	"ceo of":                     "CEO_OF",
	"chief executive officer of": "CEO_OF",
	"leads":                      "CEO_OF",
	"founded":                    "FOUNDED",
	"established":                "FOUNDED",
	"created":                    "FOUNDED",
	"co-founded":                 "FOUNDED",
	"reported revenue":           "REPORTED_REVENUE",
	"posted revenue":             "REPORTED_REVENUE",
	"revenue of":                 "REPORTED_REVENUE",
}

var (
	whitespacePattern  = regexp.MustCompile(`\s+`)
	legalSuffixPattern = regexp.MustCompile(
		`(?i)[,.\s]+(incorporated|inc|corporation|corp|limited|ltd|llc|plc|gmbh|ag|co|company|group|holdings)\.?$`)
)

// Normalizer converts candidate triplets into canonical form and validates
// them against the schema registry.
type Normalizer struct {
	registry *schema.Registry
	logger   *logrus.Logger
}

// New creates a normalizer bound to a registry.
func New(registry *schema.Registry) *Normalizer {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	return &Normalizer{registry: registry, logger: logger}
}

// Normalize implements graph.Normalizer. Attribute parse failures degrade to
// omission; only structural problems and schema rejection discard the
// candidate, returning a *graph.ValidationError.
func (n *Normalizer) Normalize(candidate extract.CandidateTriplet, span extract.Span) (*graph.NormalizedTriplet, error) {
	headName, headLegal := CleanEntityName(candidate.Head)
	tailName, tailLegal := CleanEntityName(candidate.Tail)

	if headName == "" || tailName == "" {
		return nil, &graph.ValidationError{Reason: ReasonEmptyEntity}
	}
	if strings.EqualFold(headName, tailName) {
		return nil, &graph.ValidationError{Reason: ReasonSelfRelation}
	}

	relation := CanonicalRelation(candidate.Relation)

	excerpt := strings.TrimSpace(candidate.Excerpt)
	if excerpt == "" {
		excerpt = strings.TrimSpace(span.Text)
	}

	parsed := 0
	amount, ok := n.parseAmount(candidate, excerpt)
	if ok {
		parsed++
	}
	date, ok := n.parseDate(candidate, excerpt, span)
	if ok {
		parsed++
	}

	result := n.registry.Validate(schema.Candidate{
		Relation:  relation,
		HeadType:  schema.ParseEntityType(candidate.HeadType),
		TailType:  schema.ParseEntityType(candidate.TailType),
		HasAmount: amount != nil,
		HasDate:   date != nil,
	})
	if !result.Accepted {
		n.logger.WithFields(logrus.Fields{
			"relation": candidate.Relation,
			"reason":   result.Reason,
		}).Debug("Candidate discarded")
		return nil, &graph.ValidationError{Reason: result.Reason}
	}

	confidence := candidate.Confidence
	if confidence <= 0 {
		confidence = defaultConfidence(parsed)
	}

	normalized := &graph.NormalizedTriplet{
		HeadName:      headName,
		HeadType:      schema.ParseEntityType(candidate.HeadType),
		TailName:      tailName,
		TailType:      schema.ParseEntityType(candidate.TailType),
		Relation:      result.Relation,
		Date:          date,
		Amount:        amount,
		Confidence:    confidence,
		SourceExcerpt: excerpt,
	}
	if headLegal != "" {
		normalized.HeadAttrs = map[string]string{"legal_form": headLegal}
	}
	if tailLegal != "" {
		normalized.TailAttrs = map[string]string{"legal_form": tailLegal}
	}
	return normalized, nil
}

func (n *Normalizer) parseAmount(candidate extract.CandidateTriplet, excerpt string) (*graph.Amount, bool) {
	if candidate.Amount != "" {
		amount, err := ParseAmount(candidate.Amount)
		if err == nil {
			return amount, true
		}
		n.logger.WithField("amount", candidate.Amount).Debug("Unparsable amount attribute, omitting")
	}
	if amount, err := ParseAmount(excerpt); err == nil {
		return amount, true
	}
	return nil, false
}

func (n *Normalizer) parseDate(candidate extract.CandidateTriplet, excerpt string, span extract.Span) (*time.Time, bool) {
	if candidate.Date != "" {
		date, err := ParseDate(candidate.Date, span.PublicationDate)
		if err == nil {
			return date, true
		}
		n.logger.WithField("date", candidate.Date).Debug("Unparsable date attribute, omitting")
	}
	if date := FindDate(excerpt, span.PublicationDate); date != nil {
		return date, true
	}
	return nil, false
}

// defaultConfidence derives a deterministic confidence from extraction
// completeness when the extractor supplied no score.
func defaultConfidence(parsedAttrs int) float64 {
	confidence := 0.5 + 0.15*float64(parsedAttrs)
	if confidence > 0.8 {
		confidence = 0.8
	}
	return confidence
}

// CanonicalRelation maps a free-text relation label onto the canonical
// vocabulary: direct synonym hit first, then substring containment, falling
// back to an upper-snake rendering for the registry to judge.
func CanonicalRelation(label string) string {
	folded := strings.ToLower(strings.TrimSpace(label))
	if folded == "" {
		return ""
	}
	if canonical, ok := relationSynonyms[folded]; ok {
		return canonical
	}
	for synonym, canonical := range relationSynonyms {
		if strings.Contains(folded, synonym) {
			return canonical
		}
	}
	return strings.ToUpper(whitespacePattern.ReplaceAllString(folded, "_"))
}

// CleanEntityName normalizes an entity surface string: whitespace collapse,
// quote stripping, legal suffix removal (returned separately, not kept in the
// name) and case repair for shouted or lowercased names.
func CleanEntityName(raw string) (name, legalForm string) {
	name = whitespacePattern.ReplaceAllString(strings.TrimSpace(raw), " ")
	name = strings.Trim(name, `"'`)

	if match := legalSuffixPattern.FindStringSubmatch(name); match != nil {
		legalForm = titleCase(match[1])
		name = strings.TrimSpace(legalSuffixPattern.ReplaceAllString(name, ""))
	}

	if name != "" && isAllLower(name) {
		name = titleCase(name)
	} else if name != "" && isAllUpper(name) {
		name = repairShouted(name)
	}
	return name, legalForm
}

// repairShouted title-cases shouted words. All-cap words of four letters or
// fewer are kept as written since they are usually acronyms or tickers.
func repairShouted(s string) string {
	words := strings.Fields(s)
	for i, word := range words {
		if len([]rune(word)) > 4 {
			words[i] = titleCase(word)
		}
	}
	return strings.Join(words, " ")
}

func isAllUpper(s string) bool {
	hasLetter := false
	for _, r := range s {
		if unicode.IsLetter(r) {
			hasLetter = true
			if !unicode.IsUpper(r) {
				return false
			}
		}
	}
	return hasLetter
}

func isAllLower(s string) bool {
	hasLetter := false
	for _, r := range s {
		if unicode.IsLetter(r) {
			hasLetter = true
			if !unicode.IsLower(r) {
				return false
			}
		}
	}
	return hasLetter
}

func titleCase(s string) string {
	words := strings.Fields(strings.ToLower(s))
	for i, word := range words {
		runes := []rune(word)
		runes[0] = unicode.ToUpper(runes[0])
		words[i] = string(runes)
	}
	return strings.Join(words, " ")
}
