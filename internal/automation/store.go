package automation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chatlinehq/chatline/internal/db"
)

// ErrRuleNotFound is returned when a rule does not exist within the tenant.
var ErrRuleNotFound = errors.New("automation rule not found")

// Store is the persistence surface for rules and run logs. It covers both
// the engine's read path and the service's administration path.
type Store interface {
	EngineStore
	Get(ctx context.Context, tenantID, ruleID string) (Rule, error)
	List(ctx context.Context, tenantID string) ([]Rule, error)
	Create(ctx context.Context, r Rule) (Rule, error)
	Update(ctx context.Context, r Rule) (Rule, error)
	Delete(ctx context.Context, tenantID, ruleID string) error
	SetActive(ctx context.Context, tenantID, ruleID string, active bool) (Rule, error)
	ListRunLogs(ctx context.Context, tenantID, ruleID string, limit int) ([]RunLog, error)
}

// PGStore is the Postgres-backed automation store.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore creates an automation store on the given pool.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

const ruleSelect = `SELECT id, tenant_id, name, trigger, conditions, conditions_operator, actions, is_active, run_count, last_run_at, created_at, updated_at FROM automation_rules`

// ListActiveByTrigger returns the tenant's active rules for one trigger,
// oldest first so rule execution order is stable.
func (s *PGStore) ListActiveByTrigger(ctx context.Context, tenantID, trigger string) ([]Rule, error) {
	tid, err := db.ParseUUID(tenantID)
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx,
		ruleSelect+` WHERE tenant_id = $1 AND trigger = $2 AND is_active ORDER BY created_at`,
		tid, trigger)
	if err != nil {
		return nil, fmt.Errorf("query rules: %w", err)
	}
	defer rows.Close()
	return collectRules(rows)
}

// Get returns one rule within the tenant.
func (s *PGStore) Get(ctx context.Context, tenantID, ruleID string) (Rule, error) {
	tid, err := db.ParseUUID(tenantID)
	if err != nil {
		return Rule{}, err
	}
	rid, err := db.ParseUUID(ruleID)
	if err != nil {
		return Rule{}, err
	}
	return scanRule(s.pool.QueryRow(ctx,
		ruleSelect+` WHERE id = $1 AND tenant_id = $2`, rid, tid))
}

// List returns all of the tenant's rules, newest first.
func (s *PGStore) List(ctx context.Context, tenantID string) ([]Rule, error) {
	tid, err := db.ParseUUID(tenantID)
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx,
		ruleSelect+` WHERE tenant_id = $1 ORDER BY created_at DESC`, tid)
	if err != nil {
		return nil, fmt.Errorf("query rules: %w", err)
	}
	defer rows.Close()
	return collectRules(rows)
}

// Create inserts a new rule.
func (s *PGStore) Create(ctx context.Context, r Rule) (Rule, error) {
	tid, err := db.ParseUUID(r.TenantID)
	if err != nil {
		return Rule{}, err
	}
	conditions, actions, err := marshalRuleJSON(r)
	if err != nil {
		return Rule{}, err
	}
	return scanRule(s.pool.QueryRow(ctx,
		`INSERT INTO automation_rules (tenant_id, name, trigger, conditions, conditions_operator, actions, is_active)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id, tenant_id, name, trigger, conditions, conditions_operator, actions, is_active, run_count, last_run_at, created_at, updated_at`,
		tid, r.Name, r.Trigger, conditions, r.ConditionsOperator, actions, r.IsActive))
}

// Update rewrites a rule's definition. Run bookkeeping fields are untouched.
func (s *PGStore) Update(ctx context.Context, r Rule) (Rule, error) {
	tid, err := db.ParseUUID(r.TenantID)
	if err != nil {
		return Rule{}, err
	}
	rid, err := db.ParseUUID(r.ID)
	if err != nil {
		return Rule{}, err
	}
	conditions, actions, err := marshalRuleJSON(r)
	if err != nil {
		return Rule{}, err
	}
	return scanRule(s.pool.QueryRow(ctx,
		`UPDATE automation_rules
		 SET name = $3, trigger = $4, conditions = $5, conditions_operator = $6, actions = $7, is_active = $8, updated_at = now()
		 WHERE id = $1 AND tenant_id = $2
		 RETURNING id, tenant_id, name, trigger, conditions, conditions_operator, actions, is_active, run_count, last_run_at, created_at, updated_at`,
		rid, tid, r.Name, r.Trigger, conditions, r.ConditionsOperator, actions, r.IsActive))
}

// Delete removes a rule and its run logs.
func (s *PGStore) Delete(ctx context.Context, tenantID, ruleID string) error {
	tid, err := db.ParseUUID(tenantID)
	if err != nil {
		return err
	}
	rid, err := db.ParseUUID(ruleID)
	if err != nil {
		return err
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin delete rule: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`DELETE FROM automation_run_logs WHERE rule_id = $1 AND tenant_id = $2`, rid, tid); err != nil {
		return fmt.Errorf("delete run logs: %w", err)
	}
	tag, err := tx.Exec(ctx,
		`DELETE FROM automation_rules WHERE id = $1 AND tenant_id = $2`, rid, tid)
	if err != nil {
		return fmt.Errorf("delete rule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRuleNotFound
	}
	return tx.Commit(ctx)
}

// SetActive toggles a rule.
func (s *PGStore) SetActive(ctx context.Context, tenantID, ruleID string, active bool) (Rule, error) {
	tid, err := db.ParseUUID(tenantID)
	if err != nil {
		return Rule{}, err
	}
	rid, err := db.ParseUUID(ruleID)
	if err != nil {
		return Rule{}, err
	}
	return scanRule(s.pool.QueryRow(ctx,
		`UPDATE automation_rules SET is_active = $3, updated_at = now()
		 WHERE id = $1 AND tenant_id = $2
		 RETURNING id, tenant_id, name, trigger, conditions, conditions_operator, actions, is_active, run_count, last_run_at, created_at, updated_at`,
		rid, tid, active))
}

// RecordRun bumps the rule's run bookkeeping and appends one log row in a
// single transaction.
func (s *PGStore) RecordRun(ctx context.Context, ruleID, tenantID, outcome string, actions []Action, errMsg string) error {
	rid, err := db.ParseUUID(ruleID)
	if err != nil {
		return err
	}
	tid, err := db.ParseUUID(tenantID)
	if err != nil {
		return err
	}
	actionsJSON, err := json.Marshal(nonNilActions(actions))
	if err != nil {
		return fmt.Errorf("marshal run actions: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin record run: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`UPDATE automation_rules SET run_count = run_count + 1, last_run_at = now()
		 WHERE id = $1 AND tenant_id = $2`, rid, tid); err != nil {
		return fmt.Errorf("bump run count: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO automation_run_logs (rule_id, tenant_id, outcome, actions, error)
		 VALUES ($1, $2, $3, $4, $5)`,
		rid, tid, outcome, actionsJSON, errMsg); err != nil {
		return fmt.Errorf("insert run log: %w", err)
	}
	return tx.Commit(ctx)
}

// ListRunLogs returns the newest run logs for one rule.
func (s *PGStore) ListRunLogs(ctx context.Context, tenantID, ruleID string, limit int) ([]RunLog, error) {
	tid, err := db.ParseUUID(tenantID)
	if err != nil {
		return nil, err
	}
	rid, err := db.ParseUUID(ruleID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, rule_id, tenant_id, outcome, actions, error, created_at
		 FROM automation_run_logs
		 WHERE rule_id = $1 AND tenant_id = $2
		 ORDER BY created_at DESC
		 LIMIT $3`, rid, tid, limit)
	if err != nil {
		return nil, fmt.Errorf("query run logs: %w", err)
	}
	defer rows.Close()

	var logs []RunLog
	for rows.Next() {
		var (
			l            RunLog
			pgID, pgRule pgtype.UUID
			pgTenant     pgtype.UUID
			actions      []byte
			createdAt    pgtype.Timestamptz
		)
		if err := rows.Scan(&pgID, &pgRule, &pgTenant, &l.Outcome, &actions, &l.Error, &createdAt); err != nil {
			return nil, fmt.Errorf("scan run log: %w", err)
		}
		l.ID = db.UUIDString(pgID)
		l.RuleID = db.UUIDString(pgRule)
		l.TenantID = db.UUIDString(pgTenant)
		l.CreatedAt = db.TimeValue(createdAt)
		if len(actions) > 0 {
			_ = json.Unmarshal(actions, &l.Actions)
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

func collectRules(rows pgx.Rows) ([]Rule, error) {
	var rules []Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

func scanRule(row pgx.Row) (Rule, error) {
	var (
		r              Rule
		pgID, pgTenant pgtype.UUID
		conditions     []byte
		actions        []byte
		lastRunAt      pgtype.Timestamptz
		createdAt      pgtype.Timestamptz
		updatedAt      pgtype.Timestamptz
	)
	err := row.Scan(&pgID, &pgTenant, &r.Name, &r.Trigger, &conditions, &r.ConditionsOperator,
		&actions, &r.IsActive, &r.RunCount, &lastRunAt, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Rule{}, ErrRuleNotFound
		}
		return Rule{}, fmt.Errorf("scan rule: %w", err)
	}
	r.ID = db.UUIDString(pgID)
	r.TenantID = db.UUIDString(pgTenant)
	r.LastRunAt = db.TimePtr(lastRunAt)
	r.CreatedAt = db.TimeValue(createdAt)
	r.UpdatedAt = db.TimeValue(updatedAt)
	if len(conditions) > 0 {
		_ = json.Unmarshal(conditions, &r.Conditions)
	}
	if len(actions) > 0 {
		_ = json.Unmarshal(actions, &r.Actions)
	}
	return r, nil
}

func marshalRuleJSON(r Rule) (conditions, actions []byte, err error) {
	conditions, err = json.Marshal(nonNilConditions(r.Conditions))
	if err != nil {
		return nil, nil, fmt.Errorf("marshal conditions: %w", err)
	}
	actions, err = json.Marshal(nonNilActions(r.Actions))
	if err != nil {
		return nil, nil, fmt.Errorf("marshal actions: %w", err)
	}
	return conditions, actions, nil
}

func nonNilConditions(c []Condition) []Condition {
	if c == nil {
		return []Condition{}
	}
	return c
}

func nonNilActions(a []Action) []Action {
	if a == nil {
		return []Action{}
	}
	return a
}
