package risk

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/MohanthTulimilli/skill-palaver-medibot/internal/platform/db"
	"github.com/MohanthTulimilli/skill-palaver-medibot/internal/platform/events"
	"github.com/MohanthTulimilli/skill-palaver-medibot/internal/platform/inference"
	"github.com/MohanthTulimilli/skill-palaver-medibot/internal/platform/telemetry"
)

// Predictor is the inference service as seen by the scorer.
// *inference.Client satisfies it.
type Predictor interface {
	Predict(ctx context.Context, capability inference.Capability, payload map[string]any) inference.Outcome
	PredictWithInsights(ctx context.Context, domain string, payload map[string]any) (map[string]any, bool)
	Stats(ctx context.Context, kind string) (map[string]any, bool)
}

type Service struct {
	snapshots SnapshotRepository
	predictor Predictor
	publisher events.Publisher
	metrics   *telemetry.Metrics
	logger    zerolog.Logger
}

// NewService wires the scorer. snapshots may be nil for callers that never
// persist, such as offline scoring; publisher and metrics may be nil too.
func NewService(snapshots SnapshotRepository, predictor Predictor, publisher events.Publisher, metrics *telemetry.Metrics, logger zerolog.Logger) *Service {
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	return &Service{
		snapshots: snapshots,
		predictor: predictor,
		publisher: publisher,
		metrics:   metrics,
		logger:    logger.With().Str("component", "risk").Logger(),
	}
}

// Predict normalizes bag, asks the inference service and applies the
// domain's fallback policy. The returned prediction is always well formed.
func (s *Service) Predict(ctx context.Context, d Domain, bag map[string]any) (Prediction, error) {
	p, _, err := s.predict(ctx, d, bag)
	return p, err
}

func (s *Service) predict(ctx context.Context, d Domain, bag map[string]any) (Prediction, map[string]any, error) {
	if Schema(d) == nil {
		return Prediction{}, nil, ErrUnknownDomain
	}
	payload := Normalize(d, bag)

	var claim ClaimInputs
	if d == DomainClaim {
		var err error
		if claim, err = ClaimInputsFromPayload(payload); err != nil {
			return Prediction{}, nil, err
		}
	}

	outcome := s.predictor.Predict(ctx, d.Capability(), payload)

	var p Prediction
	switch {
	case d == DomainClaim && needsClaimFallback(outcome):
		p = DenialRisk(claim)
	case !outcome.Available:
		p = Prediction{Label: 0, Probability: 0, Source: SourceUnavailable}
	default:
		p = Prediction{Label: outcome.Prediction, Probability: outcome.Probability, Source: SourceModel}
	}

	s.metrics.ObservePrediction(string(d), string(p.Source))
	return p, payload, nil
}

// Score predicts for one record and upserts its feature snapshot. A
// risk.scored event follows every successful upsert; publish failures are
// only logged.
func (s *Service) Score(ctx context.Context, d Domain, parentID uuid.UUID, bag map[string]any) (*Snapshot, error) {
	p, payload, err := s.predict(ctx, d, bag)
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{
		Domain:        d,
		ParentID:      parentID,
		Scores:        EngineeredScores(d, payload, p),
		MLPrediction:  p.Label,
		MLProbability: round4(p.Probability),
		Source:        p.Source,
	}
	err = s.snapshots.Upsert(ctx, snap)
	s.metrics.ObserveSnapshotUpsert(string(d), err)
	if err != nil {
		return nil, fmt.Errorf("score %s %s: %w", d, parentID, err)
	}

	s.logger.Debug().
		Str("domain", string(d)).
		Str("parent_id", parentID.String()).
		Str("source", string(p.Source)).
		Int("prediction", p.Label).
		Float64("probability", p.Probability).
		Msg("risk scored")

	s.publish(ctx, snap)
	return snap, nil
}

func (s *Service) publish(ctx context.Context, snap *Snapshot) {
	evt := events.NewRiskScored(db.TenantFromContext(ctx), string(snap.Domain), snap.ParentID.String(),
		snap.MLPrediction, snap.MLProbability, string(snap.Source))
	if err := s.publisher.Publish(ctx, evt); err != nil {
		s.metrics.ObserveEventPublish(err)
		s.logger.Warn().Err(err).
			Str("event_id", evt.ID).
			Str("parent_id", evt.ParentID).
			Msg("publish risk.scored failed")
	}
}

// PredictWithInsights returns the inference service's insights report, or a
// locally built one when the service is unusable.
func (s *Service) PredictWithInsights(ctx context.Context, d Domain, bag map[string]any) (map[string]any, error) {
	if Schema(d) == nil {
		return nil, ErrUnknownDomain
	}
	payload := Normalize(d, bag)

	var claim ClaimInputs
	if d == DomainClaim {
		var err error
		if claim, err = ClaimInputsFromPayload(payload); err != nil {
			return nil, err
		}
		for _, key := range []string{"patientName", "patient_name"} {
			if v, ok := bag[key]; ok && v != nil {
				payload["patient_name"] = v
				break
			}
		}
	}

	if report, ok := s.predictor.PredictWithInsights(ctx, string(d), payload); ok {
		return report, nil
	}

	if d == DomainClaim {
		s.metrics.ObservePrediction(string(d), string(SourceHeuristic))
		return claimInsightsReport(claim, PatientDisplayName(bag), insurerName(payload)), nil
	}
	s.metrics.ObservePrediction(string(d), string(SourceUnavailable))
	return staticInsightsReport(), nil
}

var statsFallbacks = map[Domain]map[string]any{
	DomainClaim:       {"acceptance_rate": 0.75, "denial_rate": 0.25, "total_claims": 400},
	DomainInvoice:     {"on_time_rate": 0.7, "delay_rate": 0.3, "total_invoices": 350},
	DomainAppointment: {"attendance_rate": 0.72, "no_show_rate": 0.28, "total_appointments": 250},
}

// Stats passes the inference service's aggregate statistics through, or
// returns the static per-domain figures tagged "source": "fallback".
func (s *Service) Stats(ctx context.Context, d Domain) (map[string]any, error) {
	fallback, ok := statsFallbacks[d]
	if !ok {
		return nil, ErrUnknownDomain
	}
	if stats, ok := s.predictor.Stats(ctx, d.Plural()); ok {
		return stats, nil
	}

	out := make(map[string]any, len(fallback)+1)
	for k, v := range fallback {
		out[k] = v
	}
	out["source"] = "fallback"
	return out, nil
}

func (s *Service) GetSnapshot(ctx context.Context, d Domain, parentID uuid.UUID) (*Snapshot, error) {
	return s.snapshots.GetByParent(ctx, d, parentID)
}

func (s *Service) ListSnapshots(ctx context.Context, d Domain, limit, offset int) ([]*Snapshot, int, error) {
	return s.snapshots.ListByDomain(ctx, d, limit, offset)
}
