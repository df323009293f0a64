package automation

import (
	"context"
	"fmt"
	"strings"
)

// Service is the tenant-facing administration surface for rules.
type Service struct {
	store Store
}

// NewService creates a rule administration service.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// Get returns one rule within the tenant.
func (s *Service) Get(ctx context.Context, tenantID, ruleID string) (Rule, error) {
	return s.store.Get(ctx, tenantID, ruleID)
}

// List returns the tenant's rules.
func (s *Service) List(ctx context.Context, tenantID string) ([]Rule, error) {
	return s.store.List(ctx, tenantID)
}

// Create validates and inserts a rule.
func (s *Service) Create(ctx context.Context, r Rule) (Rule, error) {
	r, err := normalizeRule(r)
	if err != nil {
		return Rule{}, err
	}
	return s.store.Create(ctx, r)
}

// Update validates and rewrites a rule's definition.
func (s *Service) Update(ctx context.Context, r Rule) (Rule, error) {
	if strings.TrimSpace(r.ID) == "" {
		return Rule{}, fmt.Errorf("rule id is required")
	}
	normalized, err := normalizeRule(r)
	if err != nil {
		return Rule{}, err
	}
	normalized.ID = r.ID
	return s.store.Update(ctx, normalized)
}

// Delete removes a rule and its run logs.
func (s *Service) Delete(ctx context.Context, tenantID, ruleID string) error {
	return s.store.Delete(ctx, tenantID, ruleID)
}

// SetActive toggles a rule without touching its definition.
func (s *Service) SetActive(ctx context.Context, tenantID, ruleID string, active bool) (Rule, error) {
	return s.store.SetActive(ctx, tenantID, ruleID, active)
}

// RunLogs returns the newest run logs for one rule.
func (s *Service) RunLogs(ctx context.Context, tenantID, ruleID string, limit int) ([]RunLog, error) {
	if _, err := s.store.Get(ctx, tenantID, ruleID); err != nil {
		return nil, err
	}
	return s.store.ListRunLogs(ctx, tenantID, ruleID, limit)
}

func normalizeRule(r Rule) (Rule, error) {
	if strings.TrimSpace(r.TenantID) == "" {
		return Rule{}, fmt.Errorf("tenant id is required")
	}
	r.Name = strings.TrimSpace(r.Name)
	if r.Name == "" {
		return Rule{}, fmt.Errorf("rule name is required")
	}
	if !validTrigger(r.Trigger) {
		return Rule{}, fmt.Errorf("unknown trigger %q", r.Trigger)
	}
	r.ConditionsOperator = strings.ToUpper(strings.TrimSpace(r.ConditionsOperator))
	if r.ConditionsOperator == "" {
		r.ConditionsOperator = CombineAnd
	}
	if r.ConditionsOperator != CombineAnd && r.ConditionsOperator != CombineOr {
		return Rule{}, fmt.Errorf("unknown conditions operator %q", r.ConditionsOperator)
	}
	for i, cond := range r.Conditions {
		if strings.TrimSpace(cond.Field) == "" {
			return Rule{}, fmt.Errorf("condition %d: field is required", i)
		}
		if !validOperator(cond.Operator) {
			return Rule{}, fmt.Errorf("condition %d: unknown operator %q", i, cond.Operator)
		}
	}
	if len(r.Actions) == 0 {
		return Rule{}, fmt.Errorf("at least one action is required")
	}
	for i, action := range r.Actions {
		if !validActionType(action.Type) {
			return Rule{}, fmt.Errorf("action %d: unknown type %q", i, action.Type)
		}
		if action.DelaySeconds < 0 {
			return Rule{}, fmt.Errorf("action %d: delay must not be negative", i)
		}
	}
	return r, nil
}
