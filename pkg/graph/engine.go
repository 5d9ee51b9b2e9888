package graph

import (
	"context"
	"errors"
	"time"

	"github.com/athapong/finkg/pkg/graph/metrics"
	"github.com/athapong/finkg/pkg/schema"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"
)

var upsertTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "graph_fact_upserts_total",
		Help: "Total fact upserts by outcome",
	},
	[]string{"outcome"},
)

// defaultUpsertRetries bounds the conditional-write loop when concurrent
// writers race on the same natural key.
const defaultUpsertRetries = 5

// UpsertEngine applies canonical facts to the store with at-most-once
// semantics per fact. Re-applying an identical fact is a no-op; conflicting
// observations on the same natural key are reconciled deterministically.
type UpsertEngine struct {
	store      Store
	registry   *schema.Registry
	maxRetries int
	logger     *logrus.Logger
}

// NewUpsertEngine creates an engine over a store and registry.
func NewUpsertEngine(store Store, registry *schema.Registry) *UpsertEngine {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	return &UpsertEngine{
		store:      store,
		registry:   registry,
		maxRetries: defaultUpsertRetries,
		logger:     logger,
	}
}

// Upsert implements FactUpserter. The read-modify-write of an existing fact
// is a conditional write against the version read; a losing writer redoes its
// conflict resolution against the post-write state.
func (e *UpsertEngine) Upsert(ctx context.Context, fact *Fact) (UpsertResult, error) {
	// Resolution can fold two surface names onto one identity; a self
	// relation is semantically invalid for every current relation type.
	if fact.Head == fact.Tail {
		upsertTotal.WithLabelValues(string(OutcomeRejected)).Inc()
		return UpsertResult{Outcome: OutcomeRejected, Reason: "SelfRelation"},
			&ValidationError{Reason: "SelfRelation"}
	}

	head, err := e.store.GetEntity(ctx, fact.Head)
	if err != nil {
		upsertTotal.WithLabelValues(string(OutcomeRejected)).Inc()
		return UpsertResult{Outcome: OutcomeRejected, Reason: "unresolved head entity"},
			&ResolutionError{Name: fact.Head, Err: err}
	}
	tail, err := e.store.GetEntity(ctx, fact.Tail)
	if err != nil {
		upsertTotal.WithLabelValues(string(OutcomeRejected)).Inc()
		return UpsertResult{Outcome: OutcomeRejected, Reason: "unresolved tail entity"},
			&ResolutionError{Name: fact.Tail, Err: err}
	}

	// Write-time validation defends against stale candidates outliving a
	// registry reload.
	validation := e.registry.Validate(schema.Candidate{
		Relation:  fact.Relation,
		HeadType:  head.Type,
		TailType:  tail.Type,
		HasAmount: fact.Amount != nil,
		HasDate:   fact.Date != nil,
	})
	if !validation.Accepted {
		upsertTotal.WithLabelValues(string(OutcomeRejected)).Inc()
		return UpsertResult{Outcome: OutcomeRejected, Reason: validation.Reason},
			&ValidationError{Reason: validation.Reason}
	}

	// Work on a copy; the caller's fact stays untouched.
	incoming := *fact
	if incoming.ExtractedAt.IsZero() {
		incoming.ExtractedAt = time.Now().UTC()
	}

	for attempt := 0; attempt < e.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return UpsertResult{}, err
		}

		existing, version, err := e.store.GetFact(ctx, incoming.Key())
		if err != nil {
			return UpsertResult{}, err
		}

		if existing == nil {
			created := incoming
			err = e.store.PutFact(ctx, &created, 0)
			if err == nil {
				upsertTotal.WithLabelValues(string(OutcomeCreated)).Inc()
				metrics.GraphFactCount.WithLabelValues(incoming.Relation).Inc()
				return UpsertResult{Outcome: OutcomeCreated}, nil
			}
			if errors.Is(err, ErrVersionConflict) {
				continue
			}
			return UpsertResult{}, err
		}

		merged, changed := reconcile(existing, &incoming)
		if !changed {
			upsertTotal.WithLabelValues(string(OutcomeMerged)).Inc()
			return UpsertResult{Outcome: OutcomeMerged, Reason: "no-op"}, nil
		}
		err = e.store.PutFact(ctx, merged, version)
		if err == nil {
			upsertTotal.WithLabelValues(string(OutcomeMerged)).Inc()
			return UpsertResult{Outcome: OutcomeMerged}, nil
		}
		if errors.Is(err, ErrVersionConflict) {
			e.logger.WithField("key", incoming.Key().String()).Debug("Version conflict, retrying upsert")
			continue
		}
		return UpsertResult{}, err
	}

	return UpsertResult{}, &ConflictError{Key: incoming.Key(), Attempts: e.maxRetries}
}

// reconcile folds an incoming observation into the stored fact. Rules:
// union of one-sided attributes; for conflicting scalars the strictly higher
// confidence observation wins, a tie keeps the existing value; provenance is
// append-only and deduplicated; stored confidence never decreases. The
// returned flag is false when the stored fact would be byte-identical, so
// re-applying an identical fact leaves provenance length unchanged.
func reconcile(existing, incoming *Fact) (*Fact, bool) {
	merged := *existing
	merged.Provenance = append([]string(nil), existing.Provenance...)
	changed := false

	incomingWins := incoming.Confidence > existing.Confidence

	if incoming.Amount != nil {
		if merged.Amount == nil {
			merged.Amount = incoming.Amount
			changed = true
		} else if !merged.Amount.Equal(incoming.Amount) && incomingWins {
			merged.Amount = incoming.Amount
			changed = true
		}
	}
	if incoming.Date != nil {
		if merged.Date == nil {
			merged.Date = incoming.Date
			changed = true
		} else if !merged.Date.Equal(*incoming.Date) && incomingWins {
			merged.Date = incoming.Date
			changed = true
		}
	}
	if incoming.Confidence > merged.Confidence {
		merged.Confidence = incoming.Confidence
		changed = true
	}
	for _, excerpt := range incoming.Provenance {
		if excerpt == "" {
			continue
		}
		if !provenanceContains(merged.Provenance, excerpt) {
			merged.Provenance = append(merged.Provenance, excerpt)
			changed = true
		}
	}
	return &merged, changed
}

func provenanceContains(provenance []string, excerpt string) bool {
	for _, p := range provenance {
		if p == excerpt {
			return true
		}
	}
	return false
}
