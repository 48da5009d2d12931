// Package incrementalload runs the reconciliation pass: it groups unmapped
// codes by (organization, resource type) and, for each group, extends the
// source terminology and publishes new value set and concept map versions.
//
// Each batch walks the states Resolving, Validating, SingleTerminologyCheck,
// LoadingConcepts, VersioningValueSet, VersioningConceptMap, Publishing and
// Done, or stops in Failed. Nothing is retried across states and nothing is
// rolled back: a failure after LoadingConcepts leaves concepts in the
// terminology and is reported with PartialState set.
package incrementalload

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/The-Ronin-Project/infx-condition-incremental-load/internal/domain/conceptmap"
	"github.com/The-Ronin-Project/infx-condition-incremental-load/internal/domain/normalization"
	"github.com/The-Ronin-Project/infx-condition-incremental-load/internal/domain/registry"
	"github.com/The-Ronin-Project/infx-condition-incremental-load/internal/domain/terminology"
	"github.com/The-Ronin-Project/infx-condition-incremental-load/internal/domain/valueset"
	"github.com/The-Ronin-Project/infx-condition-incremental-load/internal/platform/terminologyapi"
)

const (
	DefaultValueSetVersionDescription   = "new version created by the condition incremental load system"
	DefaultConceptMapVersionDescription = "new version created by the condition incremental load system"
)

// Options tunes a run.
type Options struct {
	// Concurrency bounds how many batches run at once. Values below 1 mean 1.
	Concurrency                  int
	ValueSetVersionDescription   string
	ConceptMapVersionDescription string
}

// BatchObserver is notified once per finished batch.
type BatchObserver interface {
	ObserveBatch(outcome, kind string, conceptsLoaded int, duration time.Duration)
}

// Services bundles the remote resource services a run needs.
type Services struct {
	Resolver      *registry.Resolver
	ValueSets     *valueset.Service
	ConceptMaps   *conceptmap.Service
	Terminologies *terminology.Service
}

// NewServices wires every service to one terminology API client.
func NewServices(client *terminologyapi.Client, logger zerolog.Logger) Services {
	valueSets := valueset.NewService(client)
	conceptMaps := conceptmap.NewService(client, valueSets)
	return Services{
		Resolver:      registry.NewResolver(client, conceptMaps, logger),
		ValueSets:     valueSets,
		ConceptMaps:   conceptMaps,
		Terminologies: terminology.NewService(client, logger),
	}
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithBatchObserver registers a hook that sees every batch result.
func WithBatchObserver(o BatchObserver) OrchestratorOption {
	return func(orc *Orchestrator) { orc.observer = o }
}

// WithClock overrides the time source used for durations and report stamps.
func WithClock(now func() time.Time) OrchestratorOption {
	return func(orc *Orchestrator) { orc.now = now }
}

// Orchestrator drives reconciliation runs.
type Orchestrator struct {
	source   normalization.Source
	svc      Services
	opts     Options
	observer BatchObserver
	logger   zerolog.Logger
	now      func() time.Time
}

// NewOrchestrator creates an Orchestrator reading error records from source.
func NewOrchestrator(source normalization.Source, svc Services, opts Options, logger zerolog.Logger, options ...OrchestratorOption) *Orchestrator {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.ValueSetVersionDescription == "" {
		opts.ValueSetVersionDescription = DefaultValueSetVersionDescription
	}
	if opts.ConceptMapVersionDescription == "" {
		opts.ConceptMapVersionDescription = DefaultConceptMapVersionDescription
	}
	o := &Orchestrator{
		source: source,
		svc:    svc,
		opts:   opts,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range options {
		opt(o)
	}
	return o
}

// Run performs one reconciliation pass. The returned error is non-nil only
// when error records could not be read or extracted; batch failures are
// reported in the Report. Batches run independently on a bounded pool and
// results keep extraction order.
func (o *Orchestrator) Run(ctx context.Context) (*Report, error) {
	report := &Report{RunID: uuid.New(), StartedAt: o.now()}
	log := o.logger.With().Str("run_id", report.RunID.String()).Logger()

	records, err := o.source.Records(ctx)
	if err != nil {
		return nil, fmt.Errorf("read error records: %w", err)
	}
	batches, err := normalization.Extract(records)
	if err != nil {
		return nil, err
	}
	log.Info().Int("records", len(records)).Int("batches", len(batches)).Msg("run started")

	results := make([]BatchResult, len(batches))
	var g errgroup.Group
	g.SetLimit(o.opts.Concurrency)
	for i, b := range batches {
		g.Go(func() error {
			results[i] = o.processBatch(ctx, b, log)
			return nil
		})
	}
	_ = g.Wait()

	report.Batches = results
	report.FinishedAt = o.now()
	log.Info().
		Int("succeeded", report.Succeeded()).
		Int("failed", report.Failed()).
		Dur("elapsed", report.FinishedAt.Sub(report.StartedAt)).
		Msg("run finished")
	return report, nil
}

// ProcessBatch runs the protocol for a single batch.
func (o *Orchestrator) ProcessBatch(ctx context.Context, b normalization.Batch) BatchResult {
	return o.processBatch(ctx, b, o.logger)
}

func (o *Orchestrator) processBatch(ctx context.Context, b normalization.Batch, parent zerolog.Logger) BatchResult {
	start := o.now()
	log := parent.With().
		Str("organization", b.Key.Organization.ID).
		Str("resource_type", string(b.Key.ResourceType)).
		Str("batch", b.Key.String()).
		Logger()

	res := BatchResult{
		Organization:      b.Key.Organization.ID,
		ResourceType:      string(b.Key.ResourceType),
		ConceptsRequested: len(b.Concepts),
	}

	state, err := o.advance(ctx, b, &res, log)
	res.Duration = o.now().Sub(start)

	if err != nil {
		res.State = StateFailed
		res.FailedAt = state
		res.Kind = Classify(err)
		res.Detail = err.Error()
		res.Err = err
		res.PartialState = state.mutates() && len(res.ConceptsLoaded) > 0

		ev := log.Error().Err(err).
			Str("state", string(state)).
			Str("error_kind", string(res.Kind)).
			Int("concepts_loaded", len(res.ConceptsLoaded))
		if res.PartialState {
			ev = ev.Bool("partial_state", true)
		}
		ev.Msg("batch failed")
	} else {
		res.State = StateDone
		if ackErr := o.source.Ack(ctx, b.RecordIDs); ackErr != nil {
			res.AckError = ackErr.Error()
			log.Warn().Err(ackErr).Int("records", len(b.RecordIDs)).Msg("acknowledge error records")
		}
		log.Info().
			Int("concepts_loaded", len(res.ConceptsLoaded)).
			Str("value_set_version", res.NewValueSetVersionUUID.String()).
			Str("concept_map_version", res.NewConceptMapVersionUUID.String()).
			Dur("elapsed", res.Duration).
			Msg("batch done")
	}

	if o.observer != nil {
		outcome := "done"
		if res.State == StateFailed {
			outcome = "failed"
		}
		o.observer.ObserveBatch(outcome, string(res.Kind), len(res.ConceptsLoaded), res.Duration)
	}
	return res
}

// advance walks the protocol and returns the state it stopped in.
func (o *Orchestrator) advance(ctx context.Context, b normalization.Batch, res *BatchResult, log zerolog.Logger) (State, error) {
	if err := ctx.Err(); err != nil {
		return StateResolving, err
	}

	log.Debug().Str("state", string(StateResolving)).Send()
	cm, ref, err := o.svc.Resolver.Resolve(ctx, b.Key.ResourceType, b.Key.Organization)
	if err != nil {
		return StateResolving, err
	}
	res.ConceptMapUUID = ref.ConceptMapUUID
	res.ConceptMapVersion = ref.Version

	log.Debug().Str("state", string(StateValidating)).Send()
	if err := o.validate(ctx, cm); err != nil {
		return StateValidating, err
	}

	log.Debug().Str("state", string(StateSingleTerminologyCheck)).Send()
	terms := cm.SourceValueSetVersion.LookupTerminologies()
	if len(terms) != 1 {
		return StateSingleTerminologyCheck, fmt.Errorf("%w: source value set version %s references %d terminologies",
			ErrAmbiguousSourceTerminology, cm.SourceValueSetVersionUUID, len(terms))
	}
	source, err := o.svc.Terminologies.Resolve(ctx, terms[0])
	if err != nil {
		return StateSingleTerminologyCheck, err
	}
	res.TerminologyUUID = source.UUID

	log.Debug().Str("state", string(StateLoadingConcepts)).Str("terminology", source.String()).Send()
	// Creating a new terminology version when the current one cannot take
	// more codes is not supported yet; concepts land on the existing version.
	var newTerminologyVersion *terminology.Terminology
	err = o.svc.Terminologies.LoadAdditionalConcepts(ctx, source, b.Concepts)
	res.ConceptsLoaded = append(res.ConceptsLoaded[:0], source.Codes...)
	if err != nil {
		return StateLoadingConcepts, err
	}

	log.Debug().Str("state", string(StateVersioningValueSet)).Send()
	newValueSet, err := o.svc.ValueSets.NewVersion(ctx, cm.SourceValueSetVersion, o.opts.ValueSetVersionDescription)
	if err != nil {
		return StateVersioningValueSet, err
	}
	res.NewValueSetVersionUUID = newValueSet.UUID
	if newTerminologyVersion != nil {
		if err := o.svc.ValueSets.UpdateRulesForNewTerminologyVersion(ctx, newValueSet, source.UUID, newTerminologyVersion.UUID); err != nil {
			return StateVersioningValueSet, err
		}
	}

	log.Debug().Str("state", string(StateVersioningConceptMap)).Send()
	newConceptMap, err := o.svc.ConceptMaps.NewVersion(ctx, cm, conceptmap.NewVersionParams{
		Description:               o.opts.ConceptMapVersionDescription,
		VersionNum:                ref.Version + 1,
		SourceValueSetVersionUUID: newValueSet.UUID,
		TargetValueSetVersionUUID: cm.TargetValueSetVersionUUID,
	})
	if err != nil {
		return StateVersioningConceptMap, err
	}
	res.NewConceptMapVersionUUID = newConceptMap.UUID
	res.NewConceptMapVersion = newConceptMap.Version

	// The concept map references the value set version, so the value set
	// must be live first.
	log.Debug().Str("state", string(StatePublishing)).Send()
	if err := o.svc.ValueSets.Publish(ctx, newValueSet); err != nil {
		return StatePublishing, err
	}
	if err := o.svc.ConceptMaps.Publish(ctx, newConceptMap); err != nil {
		return StatePublishing, err
	}
	return StateDone, nil
}

// validate fails when either value set the concept map points at has moved
// on to a newer active version.
func (o *Orchestrator) validate(ctx context.Context, cm *conceptmap.ConceptMapVersion) error {
	checks := []struct {
		role     string
		vs       *valueset.ValueSetVersion
		embedded uuid.UUID
	}{
		{"source", cm.SourceValueSetVersion, cm.SourceValueSetVersionUUID},
		{"target", cm.TargetValueSetVersion, cm.TargetValueSetVersionUUID},
	}
	for _, c := range checks {
		latest, err := o.svc.ValueSets.MostRecentActiveVersion(ctx, c.vs.ValueSetUUID)
		if err != nil {
			return err
		}
		if latest != c.embedded {
			return fmt.Errorf("%w: concept map %s v%d references %s value set version %s, most recent active is %s",
				ErrStaleConceptMapVersion, cm.ConceptMapUUID, cm.Version, c.role, c.embedded, latest)
		}
	}
	return nil
}
