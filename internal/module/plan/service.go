package plan

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Service implements plan operations.
type Service struct {
	repo   Repository
	logger *zap.Logger
}

// NewService creates a new plan service.
func NewService(repo Repository, logger *zap.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

// ListActivePlans returns all active plans with resolved feature values.
func (s *Service) ListActivePlans(ctx context.Context) ([]*ResolvedPlan, error) {
	plans, err := s.repo.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	return s.resolveAll(ctx, plans)
}

// ListAllPlans returns every plan, including inactive ones, for the admin
// console.
func (s *Service) ListAllPlans(ctx context.Context) ([]*ResolvedPlan, error) {
	plans, err := s.repo.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	return s.resolveAll(ctx, plans)
}

// GetPlan returns a single plan with resolved feature values.
func (s *Service) GetPlan(ctx context.Context, id uuid.UUID) (*ResolvedPlan, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	features, err := s.ResolveFeatures(ctx, p)
	if err != nil {
		return nil, err
	}
	return &ResolvedPlan{Plan: p, Features: features}, nil
}

// CreatePlan creates a new plan.
func (s *Service) CreatePlan(ctx context.Context, p *Plan) (*Plan, error) {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.InheritsFromID != nil {
		if _, err := s.repo.GetByID(ctx, *p.InheritsFromID); err != nil {
			return nil, err
		}
	}
	if err := s.repo.Create(ctx, p); err != nil {
		return nil, err
	}
	s.logger.Info("plan created", zap.String("plan_id", p.ID.String()), zap.String("name", p.Name))
	return p, nil
}

// UpdatePlan applies the given mutation to an existing plan. The inheritance
// chain is re-validated so an update cannot introduce a cycle.
func (s *Service) UpdatePlan(ctx context.Context, id uuid.UUID, mutate func(*Plan)) (*Plan, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	mutate(p)

	if _, err := s.ResolveFeatures(ctx, p); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// DeactivatePlan hides a plan from public listing. Existing subscriptions
// on the plan keep working, so plans are never hard-deleted.
func (s *Service) DeactivatePlan(ctx context.Context, id uuid.UUID) error {
	_, err := s.UpdatePlan(ctx, id, func(p *Plan) { p.Active = false })
	return err
}

// CreateFeature adds a feature to the catalog.
func (s *Service) CreateFeature(ctx context.Context, f *Feature) (*Feature, error) {
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	if err := s.repo.CreateFeature(ctx, f); err != nil {
		return nil, err
	}
	return f, nil
}

// ListFeatures returns the full feature catalog.
func (s *Service) ListFeatures(ctx context.Context) ([]*Feature, error) {
	return s.repo.ListFeatures(ctx)
}

// SetPlanFeature assigns a feature value to a plan.
func (s *Service) SetPlanFeature(ctx context.Context, planID uuid.UUID, featureKey, value string) error {
	if _, err := s.repo.GetByID(ctx, planID); err != nil {
		return err
	}
	f, err := s.repo.GetFeatureByKey(ctx, featureKey)
	if err != nil {
		return err
	}
	return s.repo.SetPlanFeature(ctx, &PlanFeature{
		PlanID:    planID,
		FeatureID: f.ID,
		Value:     value,
	})
}

// RemovePlanFeature removes a plan's explicit feature value so the plan
// falls back to its parent's value.
func (s *Service) RemovePlanFeature(ctx context.Context, planID uuid.UUID, featureKey string) error {
	f, err := s.repo.GetFeatureByKey(ctx, featureKey)
	if err != nil {
		return err
	}
	return s.repo.RemovePlanFeature(ctx, planID, f.ID)
}

// ResolveFeatures returns the effective feature values for a plan. Values
// set on the plan itself win; missing ones are inherited from the parent
// chain, nearest ancestor first.
func (s *Service) ResolveFeatures(ctx context.Context, p *Plan) (map[string]string, error) {
	resolved := make(map[string]string)
	visited := map[uuid.UUID]bool{}

	current := p
	for {
		if visited[current.ID] {
			return nil, ErrInheritanceCycle
		}
		visited[current.ID] = true

		for _, pf := range current.Features {
			key := pf.Feature.Key
			if key == "" {
				continue
			}
			if _, ok := resolved[key]; !ok {
				resolved[key] = pf.Value
			}
		}

		if current.InheritsFromID == nil {
			return resolved, nil
		}
		parent, err := s.repo.GetByID(ctx, *current.InheritsFromID)
		if err != nil {
			return nil, fmt.Errorf("resolve parent plan: %w", err)
		}
		current = parent
	}
}

// FeatureLimit returns a plan's resolved feature value as an integer limit.
// Missing or non-numeric values resolve to zero.
func (s *Service) FeatureLimit(ctx context.Context, planID uuid.UUID, featureKey string) (int64, error) {
	p, err := s.repo.GetByID(ctx, planID)
	if err != nil {
		return 0, err
	}
	features, err := s.ResolveFeatures(ctx, p)
	if err != nil {
		return 0, err
	}
	raw, ok := features[featureKey]
	if !ok {
		return 0, nil
	}
	limit, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, nil
	}
	return limit, nil
}

func (s *Service) resolveAll(ctx context.Context, plans []*Plan) ([]*ResolvedPlan, error) {
	out := make([]*ResolvedPlan, 0, len(plans))
	for _, p := range plans {
		features, err := s.ResolveFeatures(ctx, p)
		if err != nil {
			return nil, err
		}
		out = append(out, &ResolvedPlan{Plan: p, Features: features})
	}
	return out, nil
}

// ResolvedPlan pairs a plan with its effective feature values.
type ResolvedPlan struct {
	Plan     *Plan
	Features map[string]string
}
