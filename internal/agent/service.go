// Package agent provides staff account lookup and credential verification.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"

	"github.com/chatlinehq/chatline/internal/db"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

// Agent is a staff member of one tenant.
type Agent struct {
	ID          string     `json:"id"`
	TenantID    string     `json:"tenant_id"`
	Email       string     `json:"email"`
	DisplayName string     `json:"display_name"`
	LastSeenAt  *time.Time `json:"last_seen_at,omitempty"`
}

// Service verifies agent credentials and maintains last-seen bookkeeping.
type Service struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewService creates an agent service.
func NewService(log *slog.Logger, pool *pgxpool.Pool) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{pool: pool, logger: log.With(slog.String("service", "agent"))}
}

// Authenticate checks an email/password pair and returns the agent on success.
// Emails are globally unique (agents_email_idx), so the lookup needs no tenant
// scope. Unknown email and wrong password are indistinguishable to the caller.
func (s *Service) Authenticate(ctx context.Context, email, password string) (Agent, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return Agent{}, ErrInvalidCredentials
	}
	row := s.pool.QueryRow(ctx,
		`SELECT id, tenant_id, email, display_name, last_seen_at, password_hash
		 FROM agents WHERE lower(email) = $1`, email)
	var (
		a              Agent
		pgID, pgTenant pgtype.UUID
		lastSeen       pgtype.Timestamptz
		hash           string
	)
	if err := row.Scan(&pgID, &pgTenant, &a.Email, &a.DisplayName, &lastSeen, &hash); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Agent{}, ErrInvalidCredentials
		}
		return Agent{}, fmt.Errorf("lookup agent: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return Agent{}, ErrInvalidCredentials
	}
	a.ID = db.UUIDString(pgID)
	a.TenantID = db.UUIDString(pgTenant)
	a.LastSeenAt = db.TimePtr(lastSeen)
	return a, nil
}

// Touch refreshes the agent's last-seen timestamp. Best effort; failures are
// logged, not returned, because callers invoke it off the request path.
func (s *Service) Touch(ctx context.Context, tenantID, agentID string) {
	tid, err := db.ParseUUID(tenantID)
	if err != nil {
		return
	}
	aid, err := db.ParseUUID(agentID)
	if err != nil {
		return
	}
	if _, err := s.pool.Exec(ctx,
		`UPDATE agents SET last_seen_at = now() WHERE id = $1 AND tenant_id = $2`, aid, tid); err != nil {
		s.logger.Warn("touch agent failed", slog.String("agent_id", agentID), slog.Any("error", err))
	}
}
