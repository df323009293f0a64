package conversation

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chatlinehq/chatline/internal/db"
)

// PGStore is the Postgres-backed conversation store.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore creates a conversation store on the given pool.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

const conversationSelect = `SELECT id, tenant_id, contact_id, session_key, channel, status,
	assigned_agent_id, priority, unread_count, is_read, last_message_at,
	last_message_preview, tags, sla_due_at, csat_score, created_at, updated_at
	FROM conversations`

// Get returns one conversation scoped to a tenant.
func (s *PGStore) Get(ctx context.Context, tenantID, conversationID string) (Conversation, error) {
	tid, err := db.ParseUUID(tenantID)
	if err != nil {
		return Conversation{}, err
	}
	cid, err := db.ParseUUID(conversationID)
	if err != nil {
		return Conversation{}, err
	}
	return scanConversation(s.pool.QueryRow(ctx,
		conversationSelect+` WHERE id = $1 AND tenant_id = $2`, cid, tid))
}

// FindOpenBySession returns the open conversation for a contact session key.
func (s *PGStore) FindOpenBySession(ctx context.Context, tenantID, contactID, sessionKey string) (Conversation, error) {
	tid, err := db.ParseUUID(tenantID)
	if err != nil {
		return Conversation{}, err
	}
	cid, err := db.ParseUUID(contactID)
	if err != nil {
		return Conversation{}, err
	}
	return scanConversation(s.pool.QueryRow(ctx,
		conversationSelect+` WHERE tenant_id = $1 AND contact_id = $2 AND session_key = $3 AND status = 'open'`,
		tid, cid, sessionKey))
}

// Create inserts a conversation. A conflict with the open-conversation
// partial unique index maps to ErrDuplicateOpen so the resolver can retry.
func (s *PGStore) Create(ctx context.Context, c Conversation) (Conversation, error) {
	tid, err := db.ParseUUID(c.TenantID)
	if err != nil {
		return Conversation{}, err
	}
	contactID, err := db.ParseUUID(c.ContactID)
	if err != nil {
		return Conversation{}, err
	}
	created, err := scanConversation(s.pool.QueryRow(ctx,
		`INSERT INTO conversations (tenant_id, contact_id, session_key, channel, status, priority, is_read)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id, tenant_id, contact_id, session_key, channel, status,
			assigned_agent_id, priority, unread_count, is_read, last_message_at,
			last_message_preview, tags, sla_due_at, csat_score, created_at, updated_at`,
		tid, contactID, c.SessionKey, c.Channel, c.Status, c.Priority, c.IsRead))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Conversation{}, ErrDuplicateOpen
		}
		return Conversation{}, err
	}
	return created, nil
}

// SetAssignee updates the assigned agent.
func (s *PGStore) SetAssignee(ctx context.Context, tenantID, conversationID, agentID string) (Conversation, error) {
	tid, err := db.ParseUUID(tenantID)
	if err != nil {
		return Conversation{}, err
	}
	cid, err := db.ParseUUID(conversationID)
	if err != nil {
		return Conversation{}, err
	}
	aid, err := db.ParseUUID(agentID)
	if err != nil {
		return Conversation{}, err
	}
	return scanConversation(s.pool.QueryRow(ctx,
		`UPDATE conversations SET assigned_agent_id = $3, updated_at = now()
		 WHERE id = $1 AND tenant_id = $2
		 RETURNING `+conversationColumns, cid, tid, aid))
}

// SetStatus updates the status, optionally clearing the assignee.
func (s *PGStore) SetStatus(ctx context.Context, tenantID, conversationID, status string, clearAssignee bool) (Conversation, error) {
	tid, err := db.ParseUUID(tenantID)
	if err != nil {
		return Conversation{}, err
	}
	cid, err := db.ParseUUID(conversationID)
	if err != nil {
		return Conversation{}, err
	}
	if clearAssignee {
		return scanConversation(s.pool.QueryRow(ctx,
			`UPDATE conversations SET status = $3, assigned_agent_id = NULL, updated_at = now()
			 WHERE id = $1 AND tenant_id = $2
			 RETURNING `+conversationColumns, cid, tid, status))
	}
	return scanConversation(s.pool.QueryRow(ctx,
		`UPDATE conversations SET status = $3, updated_at = now()
		 WHERE id = $1 AND tenant_id = $2
		 RETURNING `+conversationColumns, cid, tid, status))
}

// SetPriority updates the priority field.
func (s *PGStore) SetPriority(ctx context.Context, tenantID, conversationID, priority string) (Conversation, error) {
	tid, err := db.ParseUUID(tenantID)
	if err != nil {
		return Conversation{}, err
	}
	cid, err := db.ParseUUID(conversationID)
	if err != nil {
		return Conversation{}, err
	}
	return scanConversation(s.pool.QueryRow(ctx,
		`UPDATE conversations SET priority = $3, updated_at = now()
		 WHERE id = $1 AND tenant_id = $2
		 RETURNING `+conversationColumns, cid, tid, priority))
}

// SetTags replaces the tag set.
func (s *PGStore) SetTags(ctx context.Context, tenantID, conversationID string, tags []string) (Conversation, error) {
	tid, err := db.ParseUUID(tenantID)
	if err != nil {
		return Conversation{}, err
	}
	cid, err := db.ParseUUID(conversationID)
	if err != nil {
		return Conversation{}, err
	}
	if tags == nil {
		tags = []string{}
	}
	return scanConversation(s.pool.QueryRow(ctx,
		`UPDATE conversations SET tags = $3, updated_at = now()
		 WHERE id = $1 AND tenant_id = $2
		 RETURNING `+conversationColumns, cid, tid, tags))
}

// listFilterClause builds the status clause for one named filter. "all"
// spans every status so resolved conversations stay reachable; the working
// filters (unread, unassigned, mine) pin open conversations.
func listFilterClause(q ListQuery, args []any) (string, []any, error) {
	switch q.Filter {
	case FilterAll, "":
		return "", args, nil
	case FilterUnread:
		return ` AND status = 'open' AND is_read = FALSE`, args, nil
	case FilterUnassigned:
		return ` AND status = 'open' AND assigned_agent_id IS NULL`, args, nil
	case FilterMine:
		aid, err := db.ParseUUID(q.AgentID)
		if err != nil {
			return "", nil, err
		}
		args = append(args, aid)
		return fmt.Sprintf(` AND status = 'open' AND assigned_agent_id = $%d`, len(args)), args, nil
	case FilterResolved:
		return ` AND status = 'resolved'`, args, nil
	default:
		return "", nil, fmt.Errorf("unknown filter %q", q.Filter)
	}
}

// List returns a filtered page ordered by last_message_at descending.
func (s *PGStore) List(ctx context.Context, tenantID string, q ListQuery) ([]Conversation, error) {
	tid, err := db.ParseUUID(tenantID)
	if err != nil {
		return nil, err
	}
	query := conversationSelect + ` WHERE tenant_id = $1`
	args := []any{tid}

	clause, args, err := listFilterClause(q, args)
	if err != nil {
		return nil, err
	}
	query += clause

	if q.Before != nil {
		args = append(args, *q.Before)
		query += fmt.Sprintf(` AND last_message_at < $%d`, len(args))
	}
	args = append(args, q.Limit)
	query += fmt.Sprintf(` ORDER BY last_message_at DESC NULLS LAST LIMIT $%d`, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()
	var out []Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

const conversationColumns = `id, tenant_id, contact_id, session_key, channel, status,
	assigned_agent_id, priority, unread_count, is_read, last_message_at,
	last_message_preview, tags, sla_due_at, csat_score, created_at, updated_at`

func scanConversation(row pgx.Row) (Conversation, error) {
	var (
		c                         Conversation
		pgID, pgTenant, pgContact pgtype.UUID
		assignee                  pgtype.UUID
		lastMessageAt, slaDueAt   pgtype.Timestamptz
		csat                      pgtype.Int4
		createdAt, updatedAt      pgtype.Timestamptz
	)
	err := row.Scan(&pgID, &pgTenant, &pgContact, &c.SessionKey, &c.Channel, &c.Status,
		&assignee, &c.Priority, &c.UnreadCount, &c.IsRead, &lastMessageAt,
		&c.LastMessagePreview, &c.Tags, &slaDueAt, &csat, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Conversation{}, ErrConversationNotFound
		}
		return Conversation{}, fmt.Errorf("scan conversation: %w", err)
	}
	c.ID = db.UUIDString(pgID)
	c.TenantID = db.UUIDString(pgTenant)
	c.ContactID = db.UUIDString(pgContact)
	c.AssignedAgentID = db.UUIDString(assignee)
	c.LastMessageAt = db.TimePtr(lastMessageAt)
	c.SLADueAt = db.TimePtr(slaDueAt)
	if csat.Valid {
		v := int(csat.Int32)
		c.CSATScore = &v
	}
	c.CreatedAt = db.TimeValue(createdAt)
	c.UpdatedAt = db.TimeValue(updatedAt)
	if c.Tags == nil {
		c.Tags = []string{}
	}
	return c, nil
}
