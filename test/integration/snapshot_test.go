//go:build integration

package integration

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/MohanthTulimilli/skill-palaver-medibot/internal/domain/risk"
	"github.com/MohanthTulimilli/skill-palaver-medibot/internal/platform/inference"
)

// unreachablePredictor stands in for an inference service that is down.
type unreachablePredictor struct{}

func (unreachablePredictor) Predict(context.Context, inference.Capability, map[string]any) inference.Outcome {
	return inference.Unavailable()
}

func (unreachablePredictor) PredictWithInsights(context.Context, string, map[string]any) (map[string]any, bool) {
	return nil, false
}

func (unreachablePredictor) Stats(context.Context, string) (map[string]any, bool) {
	return nil, false
}

func TestSnapshotRepo_UpsertIsIdempotent(t *testing.T) {
	ctx := context.Background()
	tenant := uniqueTenantID("snap")
	createTenantSchema(t, ctx, tenant)

	repo := risk.NewSnapshotRepoPG(globalPool)
	parent := uuid.New()

	err := withTenantConn(ctx, tenant, func(ctx context.Context) error {
		first := &risk.Snapshot{
			Domain:        risk.DomainClaim,
			ParentID:      parent,
			Scores:        map[string]float64{"risk_score_normalized": 0.42},
			MLPrediction:  0,
			MLProbability: 0.42,
			Source:        risk.SourceHeuristic,
		}
		if err := repo.Upsert(ctx, first); err != nil {
			return err
		}

		second := &risk.Snapshot{
			Domain:        risk.DomainClaim,
			ParentID:      parent,
			Scores:        map[string]float64{"risk_score_normalized": 0.95},
			MLPrediction:  1,
			MLProbability: 0.95,
			Source:        risk.SourceHeuristic,
		}
		if err := repo.Upsert(ctx, second); err != nil {
			return err
		}
		if second.ID != first.ID {
			t.Errorf("expected upsert to keep id %s, got %s", first.ID, second.ID)
		}
		if !second.CreatedAt.Equal(first.CreatedAt) {
			t.Errorf("expected created_at to survive the update")
		}

		got, err := repo.GetByParent(ctx, risk.DomainClaim, parent)
		if err != nil {
			return err
		}
		if got.MLPrediction != 1 || got.MLProbability != 0.95 {
			t.Errorf("expected latest prediction (1, 0.95), got (%d, %v)", got.MLPrediction, got.MLProbability)
		}
		if got.Scores["risk_score_normalized"] != 0.95 {
			t.Errorf("expected latest scores, got %v", got.Scores)
		}

		_, total, err := repo.ListByDomain(ctx, risk.DomainClaim, 10, 0)
		if err != nil {
			return err
		}
		if total != 1 {
			t.Errorf("expected exactly one snapshot, got %d", total)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("snapshot upsert: %v", err)
	}
}

func TestSnapshotRepo_NotFound(t *testing.T) {
	ctx := context.Background()
	tenant := uniqueTenantID("snap")
	createTenantSchema(t, ctx, tenant)

	repo := risk.NewSnapshotRepoPG(globalPool)
	err := withTenantConn(ctx, tenant, func(ctx context.Context) error {
		_, err := repo.GetByParent(ctx, risk.DomainInvoice, uuid.New())
		return err
	})
	if !errors.Is(err, risk.ErrSnapshotNotFound) {
		t.Errorf("expected ErrSnapshotNotFound, got %v", err)
	}
}

func TestScore_ClaimFallbackPersisted(t *testing.T) {
	ctx := context.Background()
	tenant := uniqueTenantID("score")
	createTenantSchema(t, ctx, tenant)

	svc := risk.NewService(risk.NewSnapshotRepoPG(globalPool), unreachablePredictor{}, nil, nil, zerolog.Nop())
	parent := uuid.New()

	err := withTenantConn(ctx, tenant, func(ctx context.Context) error {
		_, err := svc.Score(ctx, risk.DomainClaim, parent, map[string]any{
			"amount":                    250000.0,
			"documentation_complete":    false,
			"preauthorization_required": true,
			"preauthorization_obtained": false,
		})
		if err != nil {
			return err
		}

		got, err := svc.GetSnapshot(ctx, risk.DomainClaim, parent)
		if err != nil {
			return err
		}
		if got.MLPrediction != 1 || got.MLProbability != 0.95 || got.Source != risk.SourceHeuristic {
			t.Errorf("unexpected stored snapshot: %+v", got)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("score claim: %v", err)
	}
}

func TestSnapshots_TenantIsolation(t *testing.T) {
	ctx := context.Background()
	tenantA := uniqueTenantID("tenantA")
	tenantB := uniqueTenantID("tenantB")
	createTenantSchema(t, ctx, tenantA)
	createTenantSchema(t, ctx, tenantB)

	svc := risk.NewService(risk.NewSnapshotRepoPG(globalPool), unreachablePredictor{}, nil, nil, zerolog.Nop())
	parent := uuid.New()

	err := withTenantConn(ctx, tenantA, func(ctx context.Context) error {
		_, err := svc.Score(ctx, risk.DomainAppointment, parent, nil)
		return err
	})
	if err != nil {
		t.Fatalf("score in tenant A: %v", err)
	}

	err = withTenantConn(ctx, tenantB, func(ctx context.Context) error {
		_, err := svc.GetSnapshot(ctx, risk.DomainAppointment, parent)
		return err
	})
	if !errors.Is(err, risk.ErrSnapshotNotFound) {
		t.Errorf("tenant B should not see tenant A's snapshot, got %v", err)
	}
}
