package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridianlabs/fundbot/internal/domain"
)

func samplePlan(id string, status domain.PlanStatus, createdAt time.Time) domain.RebalancePlan {
	return domain.RebalancePlan{
		PlanID:        id,
		Status:        status,
		TriggerReason: "manual",
		Steps: []domain.PlanStep{
			{StepID: 1, Action: domain.ActionWithdraw, FromTier: domain.TierL2, ToTier: domain.TierL1, Amount: decimal.NewFromInt(5000), Priority: 1},
		},
		TotalAmount: decimal.NewFromInt(5000),
		CreatedAt:   createdAt,
	}
}

func TestPlanStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewPlanStore()

	plan := samplePlan("plan_1", domain.PlanStatusDraft, time.Now().UTC())
	if err := s.Create(ctx, plan); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.Create(ctx, plan); !errors.Is(err, domain.ErrAlreadyExists) {
		t.Fatalf("duplicate Create err = %v, want ErrAlreadyExists", err)
	}

	got, err := s.GetByID(ctx, "plan_1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Status != domain.PlanStatusDraft || !got.TotalAmount.Equal(plan.TotalAmount) {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if len(got.Steps) != 1 || got.Steps[0].FromTier != domain.TierL2 {
		t.Errorf("steps did not survive round trip: %+v", got.Steps)
	}

	got.Status = domain.PlanStatusApproved
	if err := s.Update(ctx, got); err != nil {
		t.Fatalf("Update: %v", err)
	}
	got, _ = s.GetByID(ctx, "plan_1")
	if got.Status != domain.PlanStatusApproved {
		t.Errorf("status after update = %s, want approved", got.Status)
	}

	if _, err := s.GetByID(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("GetByID missing err = %v, want ErrNotFound", err)
	}
	if err := s.Update(ctx, samplePlan("missing", domain.PlanStatusDraft, time.Now())); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Update missing err = %v, want ErrNotFound", err)
	}
}

func TestPlanStoreListByStatusNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := NewPlanStore()

	base := time.Now().UTC()
	for i, st := range []domain.PlanStatus{
		domain.PlanStatusDraft,
		domain.PlanStatusApproved,
		domain.PlanStatusApproved,
		domain.PlanStatusCompleted,
	} {
		p := samplePlan(string(rune('a'+i)), st, base.Add(time.Duration(i)*time.Minute))
		if err := s.Create(ctx, p); err != nil {
			t.Fatalf("Create %d: %v", i, err)
		}
	}

	approved, err := s.ListByStatus(ctx, domain.PlanStatusApproved, domain.ListOpts{})
	if err != nil {
		t.Fatalf("ListByStatus: %v", err)
	}
	if len(approved) != 2 {
		t.Fatalf("got %d approved plans, want 2", len(approved))
	}
	if approved[0].CreatedAt.Before(approved[1].CreatedAt) {
		t.Errorf("plans not newest first: %v then %v", approved[0].CreatedAt, approved[1].CreatedAt)
	}

	limited, _ := s.ListByStatus(ctx, domain.PlanStatusApproved, domain.ListOpts{Limit: 1})
	if len(limited) != 1 {
		t.Errorf("limit ignored, got %d plans", len(limited))
	}
}
