package graph

import (
	"context"
	"sync"

	"github.com/athapong/finkg/pkg/extract"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var (
	spanProcessingDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "pipeline_span_processing_duration_seconds",
			Help: "Time spent extracting and upserting one text span",
		},
		[]string{"status"},
	)

	candidatesProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_candidates_processed_total",
			Help: "Total number of candidate triplets processed",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(spanProcessingDuration)
	prometheus.MustRegister(candidatesProcessedTotal)
}

// Pipeline drives extraction, normalization, resolution and upsert for
// batches of text spans. One candidate's rejection never aborts the rest of
// the batch.
type Pipeline struct {
	extractor   extract.Extractor
	normalizer  Normalizer
	resolver    EntityResolver
	upserter    FactUpserter
	concurrency int
	logger      *logrus.Logger
}

// NewPipeline wires the pipeline stages together.
func NewPipeline(extractor extract.Extractor, normalizer Normalizer, resolver EntityResolver, upserter FactUpserter) *Pipeline {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	return &Pipeline{
		extractor:   extractor,
		normalizer:  normalizer,
		resolver:    resolver,
		upserter:    upserter,
		concurrency: 4,
		logger:      logger,
	}
}

// SetConcurrency bounds how many candidates are processed in parallel.
func (p *Pipeline) SetConcurrency(n int) {
	if n > 0 {
		p.concurrency = n
	}
}

// Run processes the spans and returns a per-candidate outcome tally.
// Extraction-capability exhaustion for a span is recorded as a batch-level
// error without losing facts already committed from other spans. The only
// hard failure is caller cancellation.
func (p *Pipeline) Run(ctx context.Context, spans []extract.Span) (*PipelineReport, error) {
	report := &PipelineReport{Spans: len(spans)}
	var mu sync.Mutex

	p.logger.WithField("span_count", len(spans)).Info("Starting pipeline batch")

	for _, span := range spans {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		timer := prometheus.NewTimer(spanProcessingDuration.WithLabelValues("extract"))
		candidates, err := p.extractor.Extract(ctx, span)
		timer.ObserveDuration()

		if err != nil {
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			p.logger.WithError(err).WithField("span_id", span.ID).Error("Extraction failed for span")
			mu.Lock()
			report.Errors = append(report.Errors, "span "+span.ID+": "+err.Error())
			mu.Unlock()
			continue
		}

		group, groupCtx := errgroup.WithContext(ctx)
		group.SetLimit(p.concurrency)

		for _, candidate := range candidates {
			candidate := candidate
			mu.Lock()
			report.Candidates++
			mu.Unlock()

			group.Go(func() error {
				outcome, errMsg := p.processCandidate(groupCtx, candidate, span)
				candidatesProcessedTotal.WithLabelValues(string(outcome)).Inc()

				mu.Lock()
				defer mu.Unlock()
				switch outcome {
				case OutcomeCreated:
					report.Created++
				case OutcomeMerged:
					report.Merged++
				case OutcomeRejected:
					report.Rejected++
				}
				if errMsg != "" {
					report.Errors = append(report.Errors, errMsg)
				}
				return nil
			})
		}
		if err := group.Wait(); err != nil {
			return report, err
		}
	}

	p.logger.WithFields(logrus.Fields{
		"candidates": report.Candidates,
		"created":    report.Created,
		"merged":     report.Merged,
		"rejected":   report.Rejected,
		"errors":     len(report.Errors),
	}).Info("Pipeline batch completed")

	return report, nil
}

// processCandidate runs one candidate through normalize, resolve and upsert.
// The returned message is non-empty only for errors worth surfacing in the
// report; plain rejections are tallied silently.
func (p *Pipeline) processCandidate(ctx context.Context, candidate extract.CandidateTriplet, span extract.Span) (UpsertOutcome, string) {
	normalized, err := p.normalizer.Normalize(candidate, span)
	if err != nil {
		p.logger.WithError(err).WithFields(logrus.Fields{
			"head": candidate.Head,
			"tail": candidate.Tail,
		}).Debug("Candidate discarded during normalization")
		return OutcomeRejected, ""
	}

	headID, err := p.resolver.Resolve(ctx, normalized.HeadName, normalized.HeadType, normalized.HeadAttrs)
	if err != nil {
		p.logger.WithError(err).WithField("name", normalized.HeadName).Warn("Head resolution failed")
		return OutcomeRejected, ""
	}
	tailID, err := p.resolver.Resolve(ctx, normalized.TailName, normalized.TailType, normalized.TailAttrs)
	if err != nil {
		p.logger.WithError(err).WithField("name", normalized.TailName).Warn("Tail resolution failed")
		return OutcomeRejected, ""
	}

	fact := &Fact{
		Head:       headID,
		Relation:   normalized.Relation,
		Tail:       tailID,
		Date:       normalized.Date,
		Amount:     normalized.Amount,
		Confidence: normalized.Confidence,
	}
	if normalized.SourceExcerpt != "" {
		fact.Provenance = []string{normalized.SourceExcerpt}
	}

	result, err := p.upserter.Upsert(ctx, fact)
	if err != nil {
		if result.Outcome == OutcomeRejected {
			return OutcomeRejected, ""
		}
		return OutcomeRejected, "upsert " + fact.Key().String() + ": " + err.Error()
	}
	return result.Outcome, ""
}
